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

// Package search plans semantic photo queries: embed the text, then
// rank the owner's photos by cosine similarity in the repository.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"lumekeep.org/pkg/lkerr"
	"lumekeep.org/pkg/types"
)

const (
	// MaxLimit caps one page of results.
	MaxLimit = 100

	// DefaultProbes widens the approximate index scan per query.
	DefaultProbes = 100
)

// Store is the repository's vector search surface.
type Store interface {
	Search(ctx context.Context, owner uuid.UUID, vec []float32, limit, offset, probes int) ([]types.SearchResult, error)
}

// Embedder turns query text into a vector.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Result is one page of ranked photos.
type Result struct {
	Items      []types.SearchResult
	HasMore    bool
	NextOffset int
}

// Planner executes search queries.
type Planner struct {
	store    Store
	embedder Embedder
	probes   int
}

// New returns a planner with the default recall setting.
func New(store Store, embedder Embedder) *Planner {
	return &Planner{store: store, embedder: embedder, probes: DefaultProbes}
}

// SetProbes overrides how many index lists each query scans.
func (pl *Planner) SetProbes(n int) { pl.probes = n }

// Query ranks the owner's embedded photos against the text. The query
// is trimmed and must be non-empty; limit is clamped to MaxLimit. An
// embedder outage surfaces as lkerr.ErrSearchUnavailable with nothing
// consumed.
func (pl *Planner) Query(ctx context.Context, owner uuid.UUID, text string, limit, offset int) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty query", lkerr.ErrInvalidInput)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", lkerr.ErrInvalidInput)
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", lkerr.ErrInvalidInput)
	}
	vec, err := pl.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	// One extra row answers has_more without a count query.
	rows, err := pl.store.Search(ctx, owner, vec, limit+1, offset, pl.probes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lkerr.ErrSearchUnavailable, err)
	}
	res := &Result{Items: rows}
	if len(rows) > limit {
		res.Items = rows[:limit]
		res.HasMore = true
		res.NextOffset = offset + limit
	}
	return res, nil
}
