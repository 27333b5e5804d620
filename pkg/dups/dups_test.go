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

package dups

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"lumekeep.org/pkg/lkerr"
	"lumekeep.org/pkg/types"
)

type fakeStore struct {
	groups  [][]types.Photo
	deleted []uuid.UUID
}

func (f *fakeStore) DuplicateGroups(context.Context, uuid.UUID) ([][]types.Photo, error) {
	return f.groups, nil
}

func (f *fakeStore) HardDelete(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeBlobs struct {
	removed []string
	down    bool
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	if f.down {
		return fmt.Errorf("%w: bucket unreachable", lkerr.ErrStorageUnavailable)
	}
	f.removed = append(f.removed, key)
	return nil
}

func dupPhoto(phash string, age time.Duration) types.Photo {
	id := uuid.New()
	return types.Photo{
		ID:             id,
		PerceptualHash: phash,
		StorageKey:     "users/u/photos/" + id.String() + ".jpg",
		ThumbnailKey:   "users/u/thumbnails/" + id.String() + ".webp",
		UploadedAt:     time.Now().Add(-age),
	}
}

func TestDeleteAllKeepsNewestPerGroup(t *testing.T) {
	// Groups arrive newest first.
	g1 := []types.Photo{dupPhoto("aa", 0), dupPhoto("aa", time.Hour), dupPhoto("aa", 2*time.Hour)}
	g2 := []types.Photo{dupPhoto("bb", 0), dupPhoto("bb", time.Hour)}
	store := &fakeStore{groups: [][]types.Photo{g1, g2}}
	blobs := &fakeBlobs{}

	n, err := New(store, blobs).DeleteAll(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []uuid.UUID{g1[1].ID, g1[2].ID, g2[1].ID}, store.deleted)
	require.NotContains(t, store.deleted, g1[0].ID)
	require.NotContains(t, store.deleted, g2[0].ID)
	// Original plus thumbnail for each deleted photo.
	require.Len(t, blobs.removed, 6)
}

func TestDeleteAllSwallowsStorageErrors(t *testing.T) {
	g := []types.Photo{dupPhoto("cc", 0), dupPhoto("cc", time.Hour)}
	store := &fakeStore{groups: [][]types.Photo{g}}
	blobs := &fakeBlobs{down: true}

	n, err := New(store, blobs).DeleteAll(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []uuid.UUID{g[1].ID}, store.deleted)
}

func TestDeleteAllNothingToDo(t *testing.T) {
	store := &fakeStore{}
	n, err := New(store, &fakeBlobs{}).DeleteAll(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Zero(t, n)
}
