/*
Copyright 2026 The Lumekeep Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// The lumekeepd daemon runs the photo library's background pipeline:
// the sync job runners, the embedding workers, and the cron scheduler.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"lumekeep.org/internal/env"
	"lumekeep.org/pkg/drive"
	"lumekeep.org/pkg/drivesync"
	"lumekeep.org/pkg/embed"
	"lumekeep.org/pkg/embedworker"
	"lumekeep.org/pkg/ingest"
	"lumekeep.org/pkg/memories"
	"lumekeep.org/pkg/objstore"
	"lumekeep.org/pkg/people"
	"lumekeep.org/pkg/photostore"
	"lumekeep.org/pkg/queue"
	"lumekeep.org/pkg/schedule"
)

var (
	flagSyncWorkers  = flag.Int("sync_workers", 2, "concurrent sync job runners")
	flagEmbedWorkers = flag.Int("embed_workers", 2, "concurrent embedding workers")
)

func main() {
	flag.Parse()
	log.SetPrefix("lumekeepd: ")

	cfg, err := env.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := photostore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer store.Close()

	blobs, err := objstore.New(cfg.ObjStore)
	if err != nil {
		log.Fatalf("object store: %v", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	} else {
		log.Printf("REDIS_URL not set, queues are no-ops")
	}
	embedJobs := queue.NewWithClient(queue.EmbeddingJobs, rdb)
	syncJobs := queue.NewWithClient(queue.DriveSyncJobs, rdb)

	embedder := embed.NewClient(cfg.EmbedderURL)

	ingestor := ingest.New(store, blobs, embedJobs)
	ingestor.SetMaxFileBytes(cfg.MaxFileBytes)

	clusterer := people.New(store)
	clusterer.SetThreshold(cfg.ClusterThreshold)
	clusterer.SetCandidateLimit(cfg.ClusterCandidates)

	worker := embedworker.New(store, blobs, embedder, clusterer, embedJobs)

	oauth := drive.OAuthConfig(cfg.DriveClientID, cfg.DriveClientSecret)
	connect := func(ctx context.Context, owner uuid.UUID) (drive.Service, error) {
		token, err := store.DriveRefreshToken(ctx, owner)
		if err != nil {
			return nil, err
		}
		return drive.NewClient(ctx, oauth, token)
	}
	tracker := drivesync.NewTracker()
	runner := drivesync.NewRunner(store, ingestor, syncJobs, connect, tracker)
	runner.SetDriveMaxBytes(cfg.DriveMaxBytes)

	sched, err := schedule.New(store, syncJobs, memories.New(store), cfg.BatchSize, cfg.MaxAttempts)
	if err != nil {
		log.Fatalf("schedule: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < *flagSyncWorkers; i++ {
		g.Go(func() error { return runner.Run(ctx) })
	}
	for i := 0; i < *flagEmbedWorkers; i++ {
		g.Go(func() error { return worker.Run(ctx) })
	}
	log.Printf("running with %d sync and %d embedding workers", *flagSyncWorkers, *flagEmbedWorkers)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("worker: %v", err)
	}
	log.Printf("shutting down")
}
