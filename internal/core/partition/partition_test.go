package partition

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForIsDeterministic(t *testing.T) {
	require.Equal(t, For("person:alice@example.com"), For("person:alice@example.com"))
	require.Equal(t, For(""), For(""))
}

func TestForStaysInRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		p := For(fmt.Sprintf("actor-%d", i))
		require.GreaterOrEqual(t, p, 0)
		require.Less(t, p, Count)
	}
}

func TestForSpreadsActors(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		seen[For(fmt.Sprintf("actor-%d", i))] = true
	}
	// 1000 actors over 256 partitions should touch most of them.
	require.Greater(t, len(seen), Count/2)
}
