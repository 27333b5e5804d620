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

package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"lumekeep.org/pkg/lkerr"
	"lumekeep.org/pkg/types"
)

type fakeStore struct {
	results    []types.SearchResult
	lastLimit  int
	lastOffset int
	lastProbes int
	err        error
}

func (f *fakeStore) Search(_ context.Context, _ uuid.UUID, _ []float32, limit, offset, probes int) ([]types.SearchResult, error) {
	f.lastLimit, f.lastOffset, f.lastProbes = limit, offset, probes
	if f.err != nil {
		return nil, f.err
	}
	if offset >= len(f.results) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.results) {
		end = len(f.results)
	}
	return f.results[offset:end], nil
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, types.EmbedDim), nil
}

func nResults(n int) []types.SearchResult {
	out := make([]types.SearchResult, n)
	for i := range out {
		out[i] = types.SearchResult{
			Photo: types.Photo{ID: uuid.New()},
			Score: 1 - float64(i)/100,
		}
	}
	return out
}

func TestQueryPagination(t *testing.T) {
	store := &fakeStore{results: nResults(25)}
	pl := New(store, &fakeEmbedder{})

	res, err := pl.Query(context.Background(), uuid.New(), "sunset at the beach", 10, 0)
	require.NoError(t, err)
	require.Len(t, res.Items, 10)
	require.True(t, res.HasMore)
	require.Equal(t, 10, res.NextOffset)
	require.Equal(t, 11, store.lastLimit) // limit+1 probe row
	require.Equal(t, DefaultProbes, store.lastProbes)

	res, err = pl.Query(context.Background(), uuid.New(), "sunset at the beach", 10, 20)
	require.NoError(t, err)
	require.Len(t, res.Items, 5)
	require.False(t, res.HasMore)
	require.Zero(t, res.NextOffset)
}

func TestQueryClampsLimit(t *testing.T) {
	store := &fakeStore{results: nResults(5)}
	pl := New(store, &fakeEmbedder{})

	_, err := pl.Query(context.Background(), uuid.New(), "dogs", 1000, 0)
	require.NoError(t, err)
	require.Equal(t, MaxLimit+1, store.lastLimit)
}

func TestQueryRejectsBadInput(t *testing.T) {
	pl := New(&fakeStore{}, &fakeEmbedder{})

	_, err := pl.Query(context.Background(), uuid.New(), "   ", 10, 0)
	require.ErrorIs(t, err, lkerr.ErrInvalidInput)

	_, err = pl.Query(context.Background(), uuid.New(), "dogs", 0, 0)
	require.ErrorIs(t, err, lkerr.ErrInvalidInput)

	_, err = pl.Query(context.Background(), uuid.New(), "dogs", 10, -1)
	require.ErrorIs(t, err, lkerr.ErrInvalidInput)
}

func TestQueryEmbedderOutage(t *testing.T) {
	store := &fakeStore{results: nResults(5)}
	emb := &fakeEmbedder{err: fmt.Errorf("%w: 500 from embedder", lkerr.ErrSearchUnavailable)}
	pl := New(store, emb)

	_, err := pl.Query(context.Background(), uuid.New(), "dogs", 10, 0)
	require.ErrorIs(t, err, lkerr.ErrSearchUnavailable)
	// The repository was never consulted.
	require.Zero(t, store.lastLimit)
}
