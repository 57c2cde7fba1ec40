package main

import (
	"log"
	"os"

	"github.com/dstauffer/kiln/internal/api"
	"github.com/dstauffer/kiln/internal/config"
	"github.com/dstauffer/kiln/internal/engine"
	"github.com/dstauffer/kiln/internal/model"
	"github.com/dstauffer/kiln/internal/store"
	"github.com/dstauffer/kiln/internal/trainer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("kiln: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"max_workers", cfg.MaxWorkers,
		"queue_depth", cfg.QueueDepth,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := trainer.NewRegistry()
	for _, kind := range model.ModelKinds {
		reg.Register(kind, trainer.NewSimulatorFactory(kind, cfg.EpochDelay))
	}

	eng := engine.NewEngine(db, reg, logger, cfg.MaxWorkers, cfg.QueueDepth)
	defer eng.Shutdown()

	srv := api.NewServer(cfg.ListenAddr, db, eng, reg, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
