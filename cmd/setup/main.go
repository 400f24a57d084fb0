// Command setup prepares the Postgres schema for the attempt audit log.
// Safe to run repeatedly.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/yifany-github/intellispark-chat/internal/config"
	pg "github.com/yifany-github/intellispark-chat/internal/infra/db/postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS generation_attempts (
    id         TEXT PRIMARY KEY,
    chat_id    TEXT NOT NULL,
    outcome    TEXT NOT NULL,
    error_code TEXT NOT NULL DEFAULT '',
    latency_ms BIGINT NOT NULL DEFAULT 0,
    started_at TIMESTAMPTZ NOT NULL,
    settled_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS generation_attempts_chat_settled_idx
    ON generation_attempts (chat_id, settled_at DESC)`,
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "relaxed config validation")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url is not configured; nothing to set up")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			log.Fatalf("apply schema: %v", err)
		}
	}
	fmt.Println("generation_attempts schema is in place.")
}
