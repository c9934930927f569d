// Command reset recomputes the full queue ordering from sort keys alone.
// It is meant to run from cron when accumulated manual reordering has
// drifted too far from the tier-priority policy.
package main

import (
	"context"
	"flag"
	"log"

	"cleaning-queue/internal/archive"
	"cleaning-queue/internal/config"
	"cleaning-queue/internal/queue"
	"cleaning-queue/internal/store"
)

func main() {
	force := flag.Bool("force", false, "confirm discarding all manual ordering")
	flag.Parse()

	cfg := config.Load()
	ctx := context.Background()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	snapshotter, err := archive.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init snapshotter: %v", err)
	}

	engine := queue.New(st, queue.Options{
		Archiver:        snapshotter,
		ExcludedShipTos: cfg.ExcludedShipTos,
	})

	res, err := engine.Reset(ctx, *force)
	if err != nil {
		log.Fatalf("reset: %v", err)
	}
	log.Printf("reset done: cleared=%d reinitialized=%d snapshot=%s", res.Cleared, res.Reinitialized, res.SnapshotRef)
}
