// Command sweeper runs the job reaper out of process: it times out
// abandoned jobs and prunes terminal records past the retention window.
// Deploy it as a cron or sidecar next to the Lambda-hosted API, which has
// no long-lived process to host the periodic reaper.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"pricewatch/internal/aws"
	"pricewatch/internal/config"
	"pricewatch/internal/jobs"
	"pricewatch/internal/metrics"
	"pricewatch/internal/reaper"
)

func buildJobStore(ctx context.Context, cfg *config.Config) (jobs.Store, error) {
	if cfg.Storage.Backend == config.BackendPostgres {
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		store := jobs.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}

	clients, err := aws.NewClients(ctx)
	if err != nil {
		return nil, err
	}
	return jobs.NewDynamoStore(clients.DynamoDB, cfg.Storage.JobsTable), nil
}

func sweep(ctx context.Context, r *reaper.Reaper, store jobs.Store, retention time.Duration) {
	reaped, err := r.ReapOnce(ctx)
	if err != nil {
		log.Printf("[sweeper] reap failed: %v", err)
		return
	}
	pruned, err := store.PruneTerminal(ctx, time.Now().Add(-retention))
	if err != nil {
		log.Printf("[sweeper] prune failed: %v", err)
		return
	}
	log.Printf("[sweeper] swept: timed_out=%d pruned=%d", reaped, pruned)
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	once := flag.Bool("once", false, "run a single sweep and exit")
	interval := flag.Duration("interval", cfg.Jobs.ReapInterval, "sweep cadence when running continuously")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildJobStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	r := reaper.New(store, cfg.Jobs.Timeout, *interval, metrics.Nop{})

	sweep(ctx, r, store, cfg.Jobs.Retention)
	if *once {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[sweeper] shutting down")
			return
		case <-ticker.C:
			sweep(ctx, r, store, cfg.Jobs.Retention)
		}
	}
}
