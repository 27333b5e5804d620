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

// Package embedworker consumes the embedding job queue: fetch the
// photo's bytes, call the embedder, write the vector, then hand the
// photo to the people clusterer. Delivery is at-least-once, so the
// worker is idempotent: the vector write is a compare-and-set on
// "embedding is null" and repeated deliveries drop out early.
package embedworker

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"lumekeep.org/pkg/lkerr"
	"lumekeep.org/pkg/types"
)

// retrySleep is how long the worker backs off after a transient
// failure before the next pop.
const retrySleep = 60 * time.Second

const popTimeout = time.Second

// Store is the repository slice the worker reads and writes.
type Store interface {
	GetPhotoByID(ctx context.Context, id uuid.UUID) (*types.Photo, error)
	SetEmbedding(ctx context.Context, id uuid.UUID, vec []float32) (bool, error)
}

// Blobs fetches photo originals.
type Blobs interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Embedder turns image bytes into a vector.
type Embedder interface {
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
}

// Clusterer assigns a person tag once a photo has its embedding.
type Clusterer interface {
	Assign(ctx context.Context, p *types.Photo) error
}

// Jobs is the embedding job channel.
type Jobs interface {
	Pop(ctx context.Context, timeout time.Duration) string
	Push(ctx context.Context, payload string)
}

// Worker is the long-running embedding consumer. Multiple workers may
// run concurrently against the same queue.
type Worker struct {
	store     Store
	blobs     Blobs
	embedder  Embedder
	clusterer Clusterer
	jobs      Jobs
	sleep     time.Duration
	logf      func(format string, args ...any)
}

// New wires a worker. clusterer may be nil when people clustering is
// turned off.
func New(store Store, blobs Blobs, embedder Embedder, clusterer Clusterer, jobs Jobs) *Worker {
	return &Worker{
		store:     store,
		blobs:     blobs,
		embedder:  embedder,
		clusterer: clusterer,
		jobs:      jobs,
		sleep:     retrySleep,
		logf:      log.New(os.Stderr, "embedworker: ", log.LstdFlags).Printf,
	}
}

// SetRetrySleep overrides the transient-failure backoff, for tests.
func (w *Worker) SetRetrySleep(d time.Duration) { w.sleep = d }

// Run consumes jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		payload := w.jobs.Pop(ctx, popTimeout)
		if payload == "" {
			continue
		}
		id, err := uuid.Parse(payload)
		if err != nil {
			w.logf("dropping malformed payload %q", payload)
			continue
		}
		if err := w.Process(ctx, id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Transient trouble: the photo keeps its place in line and
			// the worker backs off so a struggling embedder can
			// recover.
			w.logf("photo %s: %v, requeueing", id, err)
			w.jobs.Push(ctx, payload)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.sleep):
			}
		}
	}
}

// Process embeds one photo. A nil return means the job is consumed,
// whether or not it did anything; an error means the job should be
// redelivered.
func (w *Worker) Process(ctx context.Context, id uuid.UUID) error {
	p, err := w.store.GetPhotoByID(ctx, id)
	if errors.Is(err, lkerr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.Embedded() || p.IsDeleted {
		return nil
	}
	data, err := w.blobs.Get(ctx, p.StorageKey)
	if errors.Is(err, lkerr.ErrStorageNotFound) {
		w.logf("photo %s: original %s is gone, dropping", p.ID, p.StorageKey)
		return nil
	}
	if err != nil {
		return err
	}
	vec, err := w.embedder.EmbedImage(ctx, data)
	if err != nil {
		return err
	}
	won, err := w.store.SetEmbedding(ctx, p.ID, vec)
	if err != nil {
		return err
	}
	if !won {
		// Another worker finished first and ran the clusterer.
		return nil
	}
	if w.clusterer != nil {
		p.Embedding = vec
		if err := w.clusterer.Assign(ctx, p); err != nil {
			// Clustering is recoverable via reindex; do not redo the
			// whole embedding for it.
			w.logf("photo %s: cluster assignment failed: %v", p.ID, err)
		}
	}
	return nil
}
