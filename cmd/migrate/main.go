package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"beacon.org/internal/migrate"
	"beacon.org/internal/store/sqlstore"
)

func main() {
	log.SetFlags(0)
	var (
		driver    = flag.String("driver", envOr("BEACON_DB_DRIVER", "pgx"), "database driver: pgx or sqlite")
		dsn       = flag.String("dsn", os.Getenv("BEACON_DB_DSN"), "database DSN")
		seedsPath = flag.String("seeds", "", "optional directory of SQL seed files")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or BEACON_DB_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := sqlstore.Open(*driver, *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	var opts []migrate.Option
	if *seedsPath != "" {
		opts = append(opts, migrate.WithSeeds(os.DirFS(*seedsPath)))
	}
	mgr := store.Migrator(opts...)

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println("rolled back", name)
		}
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history, pending []string
		history, err = mgr.Status(ctx)
		if err == nil {
			pending, err = mgr.Pending(ctx)
		}
		for _, item := range history {
			fmt.Println("applied ", item)
		}
		for _, item := range pending {
			fmt.Println("pending ", item)
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
