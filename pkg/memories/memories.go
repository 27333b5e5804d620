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

// Package memories builds the daily "N years ago" collections out of
// photos taken on today's month and day in earlier years.
package memories

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"lumekeep.org/pkg/types"
)

// keepPerUser is how many photos one memory holds.
const keepPerUser = 10

// Store is the repository slice the generator needs.
type Store interface {
	MemoryCandidates(ctx context.Context, now time.Time) ([]types.MemoryCandidate, error)
	ReplaceMemories(ctx context.Context, date time.Time, memories []types.Memory) error
}

// Generator computes and stores the day's memories.
type Generator struct {
	store Store
	logf  func(format string, args ...any)
}

// New returns a generator over the store.
func New(store Store) *Generator {
	return &Generator{
		store: store,
		logf:  log.New(os.Stderr, "memories: ", log.LstdFlags).Printf,
	}
}

// Generate rebuilds every user's memory for now's month and day,
// replacing whatever was stored for that date. Rerunning within the
// same day is idempotent. It returns how many memories were written.
func (g *Generator) Generate(ctx context.Context, now time.Time) (int, error) {
	cands, err := g.store.MemoryCandidates(ctx, now)
	if err != nil {
		return 0, err
	}
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	// Candidates arrive grouped by user, newest first within a user.
	var out []types.Memory
	var cur *types.Memory
	minYear := 0
	flush := func() {
		if cur == nil {
			return
		}
		years := now.Year() - minYear
		if years < 1 {
			years = 1
		}
		cur.Label = fmt.Sprintf("%d years ago", years)
		out = append(out, *cur)
		cur = nil
	}
	for _, c := range cands {
		if cur == nil || cur.Owner != c.Owner {
			flush()
			cur = &types.Memory{Owner: c.Owner, MemoryDate: date}
			minYear = c.TakenAt.Year()
		}
		// The oldest year counts for the label even when the photo
		// itself falls outside the kept window.
		if y := c.TakenAt.Year(); y < minYear {
			minYear = y
		}
		if len(cur.PhotoIDs) < keepPerUser {
			cur.PhotoIDs = append(cur.PhotoIDs, c.PhotoID)
		}
	}
	flush()

	if err := g.store.ReplaceMemories(ctx, date, out); err != nil {
		return 0, err
	}
	g.logf("generated %d memories for %s", len(out), date.Format("2006-01-02"))
	return len(out), nil
}
