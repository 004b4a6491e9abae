package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ecoworks/retrofit/pkg/config"
	"github.com/ecoworks/retrofit/pkg/observability"
	"github.com/ecoworks/retrofit/pkg/store"
	"github.com/ecoworks/retrofit/pkg/store/postgres"
	"github.com/ecoworks/retrofit/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (overrides RETROFIT_CONFIG_FILE)")
	runOnce := flag.Bool("run-once", false, "Run one sweep, print the report as JSON and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	ctx := context.Background()

	var st store.Store
	if cfg.Database.Type == "postgres" {
		pg, err := postgres.Open(cfg.Database)
		if err != nil {
			log.WithError(err).Fatal("connect to store")
		}
		defer pg.Close()
		st = pg
	} else {
		// A memory store sweep is only useful for smoke testing the
		// binary itself.
		st = store.NewMemoryStore()
	}

	janitor := worker.NewJanitor(st, nil, log)

	if *runOnce {
		report, err := janitor.Sweep(ctx)
		if err != nil {
			log.WithError(err).Fatal("sweep failed")
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.WithError(err).Fatal("encode report")
		}
		fmt.Println(string(out))
		if len(report.Findings) > 0 {
			os.Exit(2)
		}
		return
	}

	if err := janitor.Start(cfg.Janitor.Schedule); err != nil {
		log.WithError(err).Fatal("start janitor")
	}
	log.WithField("schedule", cfg.Janitor.Schedule).Info("janitor scheduled")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	janitor.Stop()
	log.Info("janitor stopped")
}
