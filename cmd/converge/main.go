package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	corecfg "github.com/converge-lab/project-converge/internal/core/config"
	"github.com/converge-lab/project-converge/internal/core/storage/postgres"
	"github.com/converge-lab/project-converge/internal/funnel"
	"github.com/converge-lab/project-converge/internal/migrations"
	"github.com/converge-lab/project-converge/internal/queryspec"
)

func main() {
	configPath := flag.String("config", "converge.yaml", "Path to configuration file")
	queryName := flag.String("query", "", "Name of the saved funnel query to run")
	listQueries := flag.Bool("list", false, "List available query definitions and exit")
	drillStep := flag.Int("actors-step", -1, "Drill down: print actors that reached this step instead of the report")
	drillValue := flag.String("actors-breakdown", "", "Drill down: breakdown value to scope the actor list to")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 2. Load Query Definitions
	queries, err := queryspec.NewFileSystemRepository(cfg.Queries.Dir)
	if err != nil {
		slog.Error("Failed to load query definitions", "error", err)
		os.Exit(1)
	}
	if cfg.Queries.Require && len(queries.List()) == 0 {
		slog.Error("No query definitions found", "dir", cfg.Queries.Dir)
		os.Exit(1)
	}

	if *listQueries {
		for _, def := range queries.List() {
			fmt.Printf("%s\t%s\t%d steps\n", def.Name, def.Spec.Mode, len(def.Spec.Steps))
		}
		return
	}

	if *queryName == "" {
		slog.Error("No query selected, use -query or -list")
		os.Exit(1)
	}

	def, err := queries.Get(*queryName)
	if err != nil {
		slog.Error("Unknown query", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Storage (PostgreSQL)
	adapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer adapter.Close()

	// 3.1. Run Database Migrations
	if err := migrations.RunMigrations(adapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 4. Execute
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := funnel.New(adapter, funnel.Options{
		WorkerCount:     cfg.Engine.WorkerCount,
		DiscoveryLimit:  cfg.Engine.DiscoveryLimit,
		StepActorSample: cfg.Engine.StepActorSample,
	})

	var output interface{}
	if *drillStep >= 0 {
		actors, err := engine.Actors(ctx, &def.Spec, *drillStep, *drillValue)
		if err != nil {
			slog.Error("Drilldown failed", "query", def.Name, "error", err)
			os.Exit(1)
		}
		output = map[string]interface{}{
			"query":     def.Name,
			"step":      *drillStep,
			"breakdown": *drillValue,
			"actors":    actors,
		}
	} else {
		report, err := engine.Run(ctx, &def.Spec)
		if err != nil {
			slog.Error("Funnel run failed", "query", def.Name, "error", err)
			os.Exit(1)
		}
		output = report
	}

	encoded, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		slog.Error("Failed to encode report", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(encoded))
}
