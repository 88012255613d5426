package main

import (
	"context"
	"log"
	"os"

	"ingestd/internal/config"
	"ingestd/internal/coordinator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := coordinator.BuildLogger(cfg)
	c, err := coordinator.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("ingestd initialization failed", "error", err)
		os.Exit(1)
	}

	if err := c.Run(context.Background()); err != nil {
		logger.Error("ingestd runtime failed", "error", err)
		os.Exit(1)
	}
}
