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

// Package dups finds photos sharing a perceptual hash and reclaims the
// space: each group keeps its newest photo and the rest are hard
// deleted, rows and stored objects both.
package dups

import (
	"context"
	"log"
	"os"

	"github.com/google/uuid"

	"lumekeep.org/pkg/types"
)

// Store is the repository slice the finder needs.
type Store interface {
	DuplicateGroups(ctx context.Context, owner uuid.UUID) ([][]types.Photo, error)
	HardDelete(ctx context.Context, owner, id uuid.UUID) error
}

// Blobs deletes stored originals and thumbnails.
type Blobs interface {
	Delete(ctx context.Context, key string) error
}

// Finder lists and collapses duplicate groups.
type Finder struct {
	store Store
	blobs Blobs
	logf  func(format string, args ...any)
}

// New returns a finder.
func New(store Store, blobs Blobs) *Finder {
	return &Finder{
		store: store,
		blobs: blobs,
		logf:  log.New(os.Stderr, "dups: ", log.LstdFlags).Printf,
	}
}

// ListGroups returns the owner's duplicate groups, largest group
// first, newest photo first within a group.
func (f *Finder) ListGroups(ctx context.Context, owner uuid.UUID) ([][]types.Photo, error) {
	return f.store.DuplicateGroups(ctx, owner)
}

// DeleteAll keeps the newest photo of every duplicate group and hard
// deletes the rest. Storage cleanup failures are logged and swallowed
// so the database keeps converging; orphaned objects cost space, not
// correctness. It returns how many photos were deleted.
func (f *Finder) DeleteAll(ctx context.Context, owner uuid.UUID) (int, error) {
	groups, err := f.store.DuplicateGroups(ctx, owner)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, group := range groups {
		for _, p := range group[1:] {
			if err := f.store.HardDelete(ctx, owner, p.ID); err != nil {
				return deleted, err
			}
			deleted++
			for _, key := range []string{p.StorageKey, p.ThumbnailKey} {
				if key == "" {
					continue
				}
				if err := f.blobs.Delete(ctx, key); err != nil {
					f.logf("removing %s: %v", key, err)
				}
			}
		}
	}
	return deleted, nil
}
