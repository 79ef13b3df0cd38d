package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level application config for the funnel query runner.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Engine   EngineConfig   `koanf:"engine"`
	Queries  QueriesConfig  `koanf:"queries"`
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type EngineConfig struct {
	// WorkerCount is the number of goroutines resolving actor sequences in
	// parallel. Actors are independent; rows within one actor stay on one
	// worker.
	WorkerCount int `koanf:"worker_count"`

	// DiscoveryLimit caps breakdown value discovery when the query itself
	// carries no limit.
	DiscoveryLimit int `koanf:"discovery_limit"`

	// StepActorSample caps the per-step actor id sample in reports.
	// 0 keeps every id.
	StepActorSample int `koanf:"step_actor_sample"`
}

type QueriesConfig struct {
	// Dir holds the saved funnel query definition YAML files.
	Dir string `koanf:"dir"`

	// Require makes startup fail when Dir has no valid definitions.
	Require bool `koanf:"require"`
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if c.Engine.WorkerCount <= 0 {
		return fmt.Errorf("engine.worker_count must be > 0")
	}
	if c.Engine.DiscoveryLimit <= 0 {
		return fmt.Errorf("engine.discovery_limit must be > 0")
	}
	if c.Engine.StepActorSample < 0 {
		return fmt.Errorf("engine.step_actor_sample must be >= 0")
	}

	if strings.TrimSpace(c.Queries.Dir) == "" {
		return fmt.Errorf("queries.dir is required")
	}

	return nil
}

// Load parses config from file + env and validates it.
// Environment variables use the CONVERGE_ prefix with __ as the nesting
// separator, e.g. CONVERGE_DATABASE__DSN.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"database.type":            "postgres",
		"database.dsn":             "",
		"database.max_open_conns":  25,
		"database.max_idle_conns":  25,
		"database.auto_migrate":    true,
		"engine.worker_count":      10,
		"engine.discovery_limit":   25,
		"engine.step_actor_sample": 100,
		"queries.dir":              "./config/queries",
		"queries.require":          true,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("CONVERGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CONVERGE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
