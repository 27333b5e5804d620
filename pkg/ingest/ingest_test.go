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

package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"lumekeep.org/pkg/lkerr"
	"lumekeep.org/pkg/types"
)

func testJPEG(t *testing.T, seed int) []byte {
	t.Helper()
	im := image.NewRGBA(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			im.Set(x, y, color.RGBA{
				R: uint8((x + seed*31) % 256),
				G: uint8((y + seed*17) % 256),
				B: uint8(seed % 256),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, im, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func testZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fakeStore struct {
	mu      sync.Mutex
	photos  []*types.Photo
	sources map[string]bool
	hashes  map[string]bool

	// hideSources makes SourceExists report false even for known
	// sources, simulating the race where two attempts pass the lookup
	// and one loses the insert.
	hideSources bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{sources: map[string]bool{}, hashes: map[string]bool{}}
}

func (f *fakeStore) InsertPhoto(_ context.Context, p *types.Photo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s/%s/%s", p.Owner, p.Source, p.SourceID)
	if p.SourceID != "" && f.sources[key] {
		return lkerr.ErrDuplicateSource
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	f.sources[key] = true
	f.hashes[p.Owner.String()+"/"+p.PerceptualHash] = true
	cp := *p
	f.photos = append(f.photos, &cp)
	return nil
}

func (f *fakeStore) SourceExists(_ context.Context, owner uuid.UUID, source, sourceID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hideSources {
		return false, nil
	}
	return f.sources[fmt.Sprintf("%s/%s/%s", owner, source, sourceID)], nil
}

func (f *fakeStore) HashExists(_ context.Context, owner uuid.UUID, phash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[owner.String()+"/"+phash], nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	down    bool
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{objects: map[string][]byte{}} }

func (f *fakeBlobs) PutBytes(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return fmt.Errorf("%w: connection refused", lkerr.ErrStorageUnavailable)
	}
	f.objects[key] = data
	return nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []string
}

func (f *fakeQueue) Push(_ context.Context, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
}

func TestIngestFilesAndZip(t *testing.T) {
	store, blobs, jobs := newFakeStore(), newFakeBlobs(), &fakeQueue{}
	ing := New(store, blobs, jobs)
	owner := uuid.New()

	items := []Item{
		{Filename: "a.jpg", ClaimedType: "image/jpeg", Data: testJPEG(t, 1)},
		{Filename: "b.zip", ClaimedType: "application/zip", Data: testZip(t, map[string][]byte{
			"c.jpg": testJPEG(t, 2),
			"d.txt": []byte("not an image"),
		})},
	}
	res, err := ing.Ingest(context.Background(), owner, items)
	require.NoError(t, err)
	require.Equal(t, 2, res.Uploaded)
	require.Equal(t, 0, res.Skipped)
	require.Equal(t, 0, res.Failed)
	require.Len(t, res.PhotoIDs, 2)
	require.Len(t, jobs.payloads, 2)
	// Two originals and two thumbnails.
	require.Len(t, blobs.objects, 4)

	for _, p := range store.photos {
		require.Equal(t, types.SourceManual, p.Source)
		require.Equal(t, "image/jpeg", p.MIME)
		require.Equal(t, 160, p.Width)
		require.Equal(t, 120, p.Height)
		require.NotEmpty(t, p.PerceptualHash)
		require.NotEmpty(t, p.ThumbnailKey)
	}
}

func TestIngestDedupsSecondUpload(t *testing.T) {
	store, blobs, jobs := newFakeStore(), newFakeBlobs(), &fakeQueue{}
	ing := New(store, blobs, jobs)
	owner := uuid.New()
	data := testJPEG(t, 3)

	res, err := ing.Ingest(context.Background(), owner, []Item{{Filename: "a.jpg", Data: data}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Uploaded)

	res, err = ing.Ingest(context.Background(), owner, []Item{{Filename: "a.jpg", Data: data}})
	require.NoError(t, err)
	require.Equal(t, 0, res.Uploaded)
	require.Equal(t, 1, res.Skipped)
	require.Len(t, store.photos, 1)
	require.Len(t, jobs.payloads, 1)

	// A different owner uploading the same bytes is not a duplicate.
	res, err = ing.Ingest(context.Background(), uuid.New(), []Item{{Filename: "a.jpg", Data: data}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Uploaded)
}

func TestIngestBytesDedupsIdenticalDriveFiles(t *testing.T) {
	store, blobs, jobs := newFakeStore(), newFakeBlobs(), &fakeQueue{}
	ing := New(store, blobs, jobs)
	owner := uuid.New()
	data := testJPEG(t, 11)

	// Two distinct source files carrying identical bytes: the source
	// IDs differ, so only the hash lookup can catch the second one.
	id, err := ing.IngestBytes(context.Background(), owner, "a.jpg", data, types.SourceDrive, "file-1")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	_, err = ing.IngestBytes(context.Background(), owner, "copy of a.jpg", data, types.SourceDrive, "file-2")
	require.True(t, IsSkip(err))
	require.Len(t, store.photos, 1)
	require.Len(t, jobs.payloads, 1)
}

func TestIngestRejectsMagicMismatch(t *testing.T) {
	store, blobs, jobs := newFakeStore(), newFakeBlobs(), &fakeQueue{}
	ing := New(store, blobs, jobs)

	res, err := ing.Ingest(context.Background(), uuid.New(), []Item{
		{Filename: "evil.jpg", ClaimedType: "image/jpeg", Data: []byte("#!/bin/sh\nrm -rf /\n")},
		{Filename: "fine.jpg", Data: testJPEG(t, 4)},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Uploaded)
	require.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	require.Equal(t, "evil.jpg", res.Failures[0].Item)
	require.Len(t, jobs.payloads, 1)
}

func TestIngestRejectsOversizedEntry(t *testing.T) {
	store, blobs, jobs := newFakeStore(), newFakeBlobs(), &fakeQueue{}
	ing := New(store, blobs, jobs)
	ing.SetMaxFileBytes(1024)

	big := testJPEG(t, 5) // well over 1 KiB
	res, err := ing.Ingest(context.Background(), uuid.New(), []Item{{Filename: "big.jpg", Data: big}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	require.Empty(t, store.photos)
	require.Empty(t, blobs.objects)
}

func TestIngestStorageOutageAbortsBatch(t *testing.T) {
	store, blobs, jobs := newFakeStore(), newFakeBlobs(), &fakeQueue{}
	blobs.down = true
	ing := New(store, blobs, jobs)

	_, err := ing.Ingest(context.Background(), uuid.New(), []Item{
		{Filename: "a.jpg", Data: testJPEG(t, 6)},
		{Filename: "b.jpg", Data: testJPEG(t, 7)},
	})
	require.ErrorIs(t, err, lkerr.ErrStorageUnavailable)
	require.Empty(t, store.photos)
	require.Empty(t, jobs.payloads)
}

func TestIngestDuplicateSourceRace(t *testing.T) {
	store, blobs, jobs := newFakeStore(), newFakeBlobs(), &fakeQueue{}
	ing := New(store, blobs, jobs)
	owner := uuid.New()

	// Pre-claim the source key, as a concurrent attempt would, but
	// hide it from the dedup lookup so the insert is what collides.
	store.sources[fmt.Sprintf("%s/%s/%s", owner, types.SourceDrive, "f1")] = true
	store.hideSources = true

	_, err := ing.IngestBytes(context.Background(), owner, "a.jpg", testJPEG(t, 8), types.SourceDrive, "f1")
	require.True(t, IsSkip(err))
	// The losing insert must not leave orphan objects behind.
	require.Empty(t, blobs.objects)
}

func TestPreviewWritesNothing(t *testing.T) {
	store, blobs, jobs := newFakeStore(), newFakeBlobs(), &fakeQueue{}
	ing := New(store, blobs, jobs)
	owner := uuid.New()

	res, err := ing.Preview(context.Background(), owner, []Item{
		{Filename: "a.jpg", Data: testJPEG(t, 9)},
		{Filename: "junk.png", Data: []byte("junk")},
		{Filename: "b.zip", Data: testZip(t, map[string][]byte{"c.jpg": testJPEG(t, 10)})},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Uploaded)
	require.Equal(t, 1, res.Failed)
	require.Empty(t, store.photos)
	require.Empty(t, blobs.objects)
	require.Empty(t, jobs.payloads)
}
