package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeumn/etsy-gen-sub000/internal/config"
	"github.com/joeumn/etsy-gen-sub000/internal/db"
	"github.com/joeumn/etsy-gen-sub000/internal/migrate"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	log.Println("connected to database")

	if err := migrate.Run(ctx, pool); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	log.Println("migrations complete")
}
