package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/storefront-orders/internal/config"
	"github.com/ariefcatur/storefront-orders/internal/logger"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|redo|reset|up-to|down-to")
	target := flag.String("version", "", "target version for up-to / down-to")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})
	ctx := log.WithField(context.Background(), "cmd", *cmd)

	var args []string
	switch *cmd {
	case "up-to", "down-to":
		if *target == "" {
			fmt.Fprintf(os.Stderr, "missing -version for %s\n", *cmd)
			os.Exit(2)
		}
		args = append(args, *target)
	}

	pool, err := postgres.Connect(ctx, cfg.PostgresDSN, 2)
	if err != nil {
		log.Error(ctx, "db connect", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool, *cmd, args...); err != nil {
		log.Error(ctx, "migration failed", err)
		pool.Close()
		os.Exit(1)
	}
	log.Info(ctx, "migration complete")
}
