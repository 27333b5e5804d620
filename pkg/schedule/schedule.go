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

// Package schedule drives the periodic work: fanning sync jobs out to
// every sync-enabled user, and the daily memory build.
package schedule

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"lumekeep.org/pkg/types"
)

const (
	syncSpec     = "*/30 * * * *"
	memoriesSpec = "0 8 * * *"
)

// Store is the repository slice the scheduler needs.
type Store interface {
	ListSyncTargets(ctx context.Context) ([]types.SyncTarget, error)
	HasActiveSyncJob(ctx context.Context, owner uuid.UUID, folderID string) (bool, error)
	CreateSyncJob(ctx context.Context, owner uuid.UUID, folderID string, batchSize, maxAttempts int) (*types.SyncJob, error)
}

// SyncQueue receives sync job IDs.
type SyncQueue interface {
	Push(ctx context.Context, payload string)
}

// MemoryGenerator builds the day's memories.
type MemoryGenerator interface {
	Generate(ctx context.Context, now time.Time) (int, error)
}

// Scheduler owns the cron table.
type Scheduler struct {
	cron        *cron.Cron
	store       Store
	queue       SyncQueue
	memories    MemoryGenerator
	batchSize   int
	maxAttempts int
	logf        func(format string, args ...any)
}

// New registers the sync fan-out every 30 minutes and the memory build
// at 08:00. Nothing runs until Start.
func New(store Store, queue SyncQueue, memories MemoryGenerator, batchSize, maxAttempts int) (*Scheduler, error) {
	s := &Scheduler{
		cron:        cron.New(),
		store:       store,
		queue:       queue,
		memories:    memories,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		logf:        log.New(os.Stderr, "schedule: ", log.LstdFlags).Printf,
	}
	if _, err := s.cron.AddFunc(syncSpec, func() {
		if n, err := s.SyncAllUsers(context.Background()); err != nil {
			s.logf("sync fan-out: %v", err)
		} else if n > 0 {
			s.logf("enqueued %d sync jobs", n)
		}
	}); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(memoriesSpec, func() {
		if _, err := s.memories.Generate(context.Background(), time.Now()); err != nil {
			s.logf("daily memories: %v", err)
		}
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins firing jobs on schedule.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// SyncAllUsers enqueues one sync job per sync-enabled user, skipping
// users whose folder already has a queued or running job, and returns
// how many it enqueued.
func (s *Scheduler) SyncAllUsers(ctx context.Context) (int, error) {
	targets, err := s.store.ListSyncTargets(ctx)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, tgt := range targets {
		active, err := s.store.HasActiveSyncJob(ctx, tgt.Owner, tgt.FolderID)
		if err != nil {
			return enqueued, err
		}
		if active {
			continue
		}
		job, err := s.store.CreateSyncJob(ctx, tgt.Owner, tgt.FolderID, s.batchSize, s.maxAttempts)
		if err != nil {
			return enqueued, err
		}
		s.queue.Push(ctx, job.ID.String())
		enqueued++
	}
	return enqueued, nil
}
