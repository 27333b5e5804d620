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

// Package ingest is the per-file ingestion pipeline shared by manual
// uploads and the sync runner: validate, dedup, thumbnail, EXIF,
// object-store upload, photo row insert, embedding enqueue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"

	"lumekeep.org/pkg/images"
	"lumekeep.org/pkg/lkerr"
	"lumekeep.org/pkg/magic"
	"lumekeep.org/pkg/objstore"
	"lumekeep.org/pkg/types"
	"lumekeep.org/pkg/zips"
)

// DefaultMaxFileBytes is the per-entry size cap.
const DefaultMaxFileBytes = 50 << 20 // 50 MiB

// Store is the slice of the photo repository the ingestor writes to.
type Store interface {
	InsertPhoto(ctx context.Context, p *types.Photo) error
	SourceExists(ctx context.Context, owner uuid.UUID, source, sourceID string) (bool, error)
	HashExists(ctx context.Context, owner uuid.UUID, phash string) (bool, error)
}

// BlobStore stores originals and thumbnails.
type BlobStore interface {
	PutBytes(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// EmbedQueue receives photo IDs for the embedding worker.
type EmbedQueue interface {
	Push(ctx context.Context, payload string)
}

// Item is one uploaded file.
type Item struct {
	Filename    string
	ClaimedType string
	Data        []byte
}

// Ingestor runs the pipeline. Safe for concurrent use.
type Ingestor struct {
	store        Store
	blobs        BlobStore
	jobs         EmbedQueue
	maxFileBytes int64
	logf         func(format string, args ...any)
}

// New returns an Ingestor with the default size cap.
func New(store Store, blobs BlobStore, jobs EmbedQueue) *Ingestor {
	return &Ingestor{
		store:        store,
		blobs:        blobs,
		jobs:         jobs,
		maxFileBytes: DefaultMaxFileBytes,
		logf:         log.New(os.Stderr, "ingest: ", log.LstdFlags).Printf,
	}
}

// SetMaxFileBytes overrides the per-entry size cap.
func (ing *Ingestor) SetMaxFileBytes(n int64) { ing.maxFileBytes = n }

// MaxFileBytes returns the per-entry size cap.
func (ing *Ingestor) MaxFileBytes() int64 { return ing.maxFileBytes }

// ErrSkip marks an entry the owner already has. Callers classify it
// with IsSkip rather than matching directly.
var ErrSkip = errors.New("duplicate")

// Ingest processes a batch of manual uploads. ZIPs are expanded into
// their image entries. Per-entry errors are counted and logged, never
// fatal; an unreachable object store aborts the batch with
// lkerr.ErrStorageUnavailable, since every further entry would fail
// the same way.
func (ing *Ingestor) Ingest(ctx context.Context, owner uuid.UUID, items []Item) (*types.IngestResult, error) {
	res := &types.IngestResult{}
	dir, err := os.MkdirTemp("", "lumekeep-ingest-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	for _, it := range items {
		if magic.IsZip(it.Filename, it.ClaimedType, header(it.Data)) {
			if err := ing.ingestZip(ctx, owner, it, dir, res); err != nil {
				return nil, err
			}
			continue
		}
		if err := ing.account(ctx, owner, it.Filename, it.Data, types.SourceManual, "", res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Preview performs validation, size checks, and dedup lookups for a
// batch without writing anything, and reports what Ingest would do.
func (ing *Ingestor) Preview(ctx context.Context, owner uuid.UUID, items []Item) (*types.IngestResult, error) {
	res := &types.IngestResult{}
	dir, err := os.MkdirTemp("", "lumekeep-preview-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	preview := func(filename string, data []byte) {
		_, err := ing.classify(ctx, owner, filename, data, types.SourceManual, "")
		switch {
		case err == nil:
			res.Uploaded++
		case errors.Is(err, ErrSkip):
			res.Skipped++
		default:
			res.Failed++
			res.Failures = append(res.Failures, types.IngestFailure{Item: filename, Reason: err.Error()})
		}
	}
	for _, it := range items {
		if !magic.IsZip(it.Filename, it.ClaimedType, header(it.Data)) {
			preview(it.Filename, it.Data)
			continue
		}
		path, err := spill(it.Data, dir)
		if err != nil {
			res.Failed++
			res.Failures = append(res.Failures, types.IngestFailure{Item: it.Filename, Reason: err.Error()})
			continue
		}
		err = zips.ForeachImage(path, ing.maxFileBytes, dir, func(e zips.Entry) error {
			data, err := os.ReadFile(e.Path)
			os.Remove(e.Path)
			if err != nil {
				return nil
			}
			preview(it.Filename+"::"+e.Name, data)
			return nil
		})
		os.Remove(path)
		if err != nil {
			res.Failed++
			res.Failures = append(res.Failures, types.IngestFailure{Item: it.Filename, Reason: err.Error()})
		}
	}
	return res, nil
}

// IngestBytes runs the pipeline for a single file on behalf of the
// sync runner, with the given source identity. It returns the new
// photo ID on upload, ErrSkip-wrapped Skip for entries the
// owner already has, and lkerr.ErrStorageUnavailable when the object
// store is down.
func (ing *Ingestor) IngestBytes(ctx context.Context, owner uuid.UUID, filename string, data []byte, source, sourceID string) (uuid.UUID, error) {
	return ing.ingestOne(ctx, owner, filename, data, source, sourceID)
}

// IsSkip reports whether an IngestBytes error means "already have it".
func IsSkip(err error) bool { return errors.Is(err, ErrSkip) }

func (ing *Ingestor) ingestZip(ctx context.Context, owner uuid.UUID, it Item, dir string, res *types.IngestResult) error {
	path, err := spill(it.Data, dir)
	if err != nil {
		res.Failed++
		res.Failures = append(res.Failures, types.IngestFailure{Item: it.Filename, Reason: err.Error()})
		return nil
	}
	defer os.Remove(path)

	err = zips.ForeachImage(path, ing.maxFileBytes, dir, func(e zips.Entry) error {
		data, err := os.ReadFile(e.Path)
		os.Remove(e.Path)
		if err != nil {
			res.Failed++
			res.Failures = append(res.Failures, types.IngestFailure{Item: e.Name, Reason: err.Error()})
			return nil
		}
		return ing.account(ctx, owner, it.Filename+"::"+e.Name, data, types.SourceManual, "", res)
	})
	if errors.Is(err, lkerr.ErrArchiveInvalid) {
		res.Failed++
		res.Failures = append(res.Failures, types.IngestFailure{Item: it.Filename, Reason: err.Error()})
		return nil
	}
	return err
}

// account runs one entry and folds the outcome into res. Only storage
// unavailability propagates.
func (ing *Ingestor) account(ctx context.Context, owner uuid.UUID, name string, data []byte, source, sourceID string, res *types.IngestResult) error {
	id, err := ing.ingestOne(ctx, owner, name, data, source, sourceID)
	switch {
	case err == nil:
		res.Uploaded++
		res.PhotoIDs = append(res.PhotoIDs, id)
	case errors.Is(err, ErrSkip):
		res.Skipped++
	case errors.Is(err, lkerr.ErrStorageUnavailable):
		return err
	default:
		ing.logf("entry %q failed: %v", name, err)
		res.Failed++
		res.Failures = append(res.Failures, types.IngestFailure{Item: name, Reason: err.Error()})
	}
	return nil
}

// classified is the outcome of the read-only pipeline steps.
type classified struct {
	mime  string
	phash string
}

// classify performs validation, size check, hashing, and dedup lookup.
func (ing *Ingestor) classify(ctx context.Context, owner uuid.UUID, filename string, data []byte, source, sourceID string) (*classified, error) {
	if int64(len(data)) > ing.maxFileBytes {
		return nil, fmt.Errorf("file is %d bytes, over the %d byte limit", len(data), ing.maxFileBytes)
	}
	// Full bytes are in hand here, so the header must sniff as an
	// image; the extension fallback is only for remote listings.
	mime := magic.MIMEType(header(data))
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%w: %q does not look like a supported image", lkerr.ErrMagicMismatch, filename)
	}
	if sourceID != "" {
		have, err := ing.store.SourceExists(ctx, owner, source, sourceID)
		if err != nil {
			return nil, err
		}
		if have {
			return nil, ErrSkip
		}
	}
	phash, err := images.PerceptualHash(data)
	if err != nil {
		if !undecodable(mime) {
			return nil, err
		}
		// HEIC stills cannot be decoded here; ingest without a hash
		// or thumbnail and let the embedder handle the raw bytes.
		phash = ""
	}
	// The owner keeps at most one live photo per hash, whatever the
	// source; two distinct source files with identical bytes dedup here.
	if phash != "" {
		have, err := ing.store.HashExists(ctx, owner, phash)
		if err != nil {
			return nil, err
		}
		if have {
			return nil, ErrSkip
		}
	}
	return &classified{mime: mime, phash: phash}, nil
}

func undecodable(mime string) bool {
	return mime == "image/heic" || mime == "image/heif"
}

func (ing *Ingestor) ingestOne(ctx context.Context, owner uuid.UUID, filename string, data []byte, source, sourceID string) (uuid.UUID, error) {
	cl, err := ing.classify(ctx, owner, filename, data, source, sourceID)
	if err != nil {
		return uuid.Nil, err
	}

	ex := images.ExtractEXIF(data)
	width, height := ex.Width, ex.Height
	var thumbData []byte
	if thumb, err := images.Thumbnail(data); err == nil {
		thumbData = thumb.WebP
		width, height = thumb.SourceWidth, thumb.SourceHeight
	} else if !undecodable(cl.mime) {
		return uuid.Nil, err
	}

	storageKey := objstore.PhotoKey(owner, cl.mime)
	if err := ing.blobs.PutBytes(ctx, storageKey, data, cl.mime); err != nil {
		return uuid.Nil, err
	}
	thumbKey := ""
	if thumbData != nil {
		thumbKey = objstore.ThumbKey(owner)
		if err := ing.blobs.PutBytes(ctx, thumbKey, thumbData, "image/webp"); err != nil {
			ing.cleanup(ctx, storageKey)
			return uuid.Nil, err
		}
	}

	p := &types.Photo{
		Owner:            owner,
		StorageKey:       storageKey,
		ThumbnailKey:     thumbKey,
		OriginalFilename: baseName(filename),
		SizeBytes:        int64(len(data)),
		MIME:             cl.mime,
		Width:            width,
		Height:           height,
		TakenAt:          ex.TakenAt,
		Source:           source,
		SourceID:         sourceID,
		PerceptualHash:   cl.phash,
		GPSLat:           ex.GPSLat,
		GPSLng:           ex.GPSLng,
		CameraMake:       ex.CameraMake,
	}
	if err := ing.store.InsertPhoto(ctx, p); err != nil {
		ing.cleanup(ctx, storageKey, thumbKey)
		if errors.Is(err, lkerr.ErrDuplicateSource) {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrSkip, err)
		}
		return uuid.Nil, err
	}
	ing.jobs.Push(ctx, p.ID.String())
	return p.ID, nil
}

func (ing *Ingestor) cleanup(ctx context.Context, keys ...string) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err := ing.blobs.Delete(ctx, k); err != nil {
			ing.logf("orphan cleanup of %s failed: %v", k, err)
		}
	}
}

func spill(data []byte, dir string) (string, error) {
	f, err := os.CreateTemp(dir, "upload-*.zip")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func header(data []byte) []byte {
	if len(data) > 1024 {
		return data[:1024]
	}
	return data
}

func baseName(name string) string {
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		return name[i+1:]
	}
	return name
}
