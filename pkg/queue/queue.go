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

// Package queue provides the durable FIFO job channels over a Redis
// compatible list backend. Delivery is at-least-once: consumers must
// be idempotent, which the embedding worker and sync runner are.
//
// When no backend is configured every operation degrades to a no-op,
// so uploads still succeed while embeddings lag.
package queue

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// The two logical channels.
const (
	EmbeddingJobs = "embedding_jobs"
	DriveSyncJobs = "drive_sync_jobs"
)

// A Queue is one named FIFO channel.
type Queue struct {
	name string
	rdb  *redis.Client // nil means unconfigured; all ops no-op
}

// New returns the queue for the named channel. redisURL may be empty,
// in which case the queue silently drops pushes and pops nothing.
func New(name, redisURL string) (*Queue, error) {
	if redisURL == "" {
		return &Queue{name: name}, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Queue{name: name, rdb: redis.NewClient(opt)}, nil
}

// NewWithClient returns a queue over an existing client, shared across
// channels. client may be nil for the degraded no-op mode.
func NewWithClient(name string, client *redis.Client) *Queue {
	return &Queue{name: name, rdb: client}
}

// Push appends payload to the tail of the queue. Backend errors are
// logged and swallowed; the caller's write has already committed and
// must not fail because the queue is down.
func (q *Queue) Push(ctx context.Context, payload string) {
	if q.rdb == nil {
		return
	}
	if err := q.rdb.RPush(ctx, q.name, payload).Err(); err != nil {
		log.Printf("queue: push to %s failed: %v", q.name, err)
	}
}

// PriorityPush prepends payload, so it is popped before older jobs.
func (q *Queue) PriorityPush(ctx context.Context, payload string) {
	if q.rdb == nil {
		return
	}
	if err := q.rdb.LPush(ctx, q.name, payload).Err(); err != nil {
		log.Printf("queue: priority push to %s failed: %v", q.name, err)
	}
}

// Pop blocks up to timeout for the next payload. It returns the empty
// string when the queue is empty, unconfigured, or the backend errs.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) string {
	if q.rdb == nil {
		// Nothing will ever arrive; pace the caller's loop the way a
		// blocking pop on an empty list would.
		select {
		case <-ctx.Done():
		case <-time.After(timeout):
		}
		return ""
	}
	res, err := q.rdb.BLPop(ctx, timeout, q.name).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) {
			log.Printf("queue: pop from %s failed: %v", q.name, err)
		}
		return ""
	}
	if len(res) != 2 {
		return ""
	}
	return res[1]
}

// Len returns the queue depth, or 0 when unconfigured or unreachable.
func (q *Queue) Len(ctx context.Context) int64 {
	if q.rdb == nil {
		return 0
	}
	n, err := q.rdb.LLen(ctx, q.name).Result()
	if err != nil {
		return 0
	}
	return n
}
