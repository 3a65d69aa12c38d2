package main

import (
	"context"
	"flag"
	"log"
	"os"

	"commercetools-storefront/internal/config"
	"commercetools-storefront/internal/db"
	"commercetools-storefront/internal/migrate"
)

func main() {
	var (
		down       int
		statusOnly bool
	)
	flag.IntVar(&down, "down", 0, "Roll back this many kv_entries migrations instead of migrating up")
	flag.BoolVar(&statusOnly, "status", false, "Print the kv_entries schema version and exit")
	flag.Parse()

	logger := log.New(os.Stdout, "[migrate] ", log.LstdFlags|log.LUTC|log.Lshortfile)

	ctx := context.Background()
	pool, err := db.Connect(ctx, config.DatabaseDSN())
	if err != nil {
		logger.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	switch {
	case statusOnly:
		st, err := migrate.CurrentStatus(ctx, pool)
		if err != nil {
			logger.Fatalf("read status: %v", err)
		}
		logger.Println(st)
	case down > 0:
		if err := migrate.Rollback(ctx, pool, down, logger); err != nil {
			logger.Fatalf("roll back migrations: %v", err)
		}
	default:
		if err := migrate.Apply(ctx, pool, logger); err != nil {
			logger.Fatalf("apply migrations: %v", err)
		}
		st, err := migrate.CurrentStatus(ctx, pool)
		if err != nil {
			logger.Fatalf("read status: %v", err)
		}
		logger.Println(st)
	}
}
