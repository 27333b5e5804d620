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

package photostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"lumekeep.org/pkg/lkerr"
	"lumekeep.org/pkg/types"
)

const photoColumns = `id, user_id, storage_key,
	COALESCE(thumbnail_key, ''), COALESCE(original_filename, ''),
	file_size_bytes, COALESCE(mime_type, ''), width, height,
	taken_at, uploaded_at, source, COALESCE(source_id, ''),
	COALESCE(phash, ''), embedding, embedding_generated_at,
	gps_lat, gps_lng, COALESCE(camera_make, ''), COALESCE(caption, ''),
	is_deleted`

func scanPhoto(row pgx.Row) (*types.Photo, error) {
	var p types.Photo
	var emb *pgvector.Vector
	err := row.Scan(&p.ID, &p.Owner, &p.StorageKey,
		&p.ThumbnailKey, &p.OriginalFilename,
		&p.SizeBytes, &p.MIME, &p.Width, &p.Height,
		&p.TakenAt, &p.UploadedAt, &p.Source, &p.SourceID,
		&p.PerceptualHash, &emb, &p.EmbeddingAt,
		&p.GPSLat, &p.GPSLng, &p.CameraMake, &p.Caption,
		&p.IsDeleted)
	if err != nil {
		return nil, err
	}
	if emb != nil {
		p.Embedding = emb.Slice()
	}
	return &p, nil
}

// InsertPhoto stores a new photo row. A zero ID and UploadedAt are
// filled in. Re-importing a source file the user already has fails
// with lkerr.ErrDuplicateSource.
func (s *Store) InsertPhoto(ctx context.Context, p *types.Photo) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.UploadedAt.IsZero() {
		p.UploadedAt = time.Now().UTC()
	}
	var emb *pgvector.Vector
	if len(p.Embedding) > 0 {
		v := pgvector.NewVector(p.Embedding)
		emb = &v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO photos (id, user_id, storage_key, thumbnail_key,
			original_filename, file_size_bytes, mime_type, width, height,
			taken_at, uploaded_at, source, source_id, phash,
			embedding, embedding_generated_at, gps_lat, gps_lng,
			camera_make, caption, is_deleted)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6,
			NULLIF($7, ''), $8, $9, $10, $11, $12, NULLIF($13, ''),
			NULLIF($14, ''), $15, $16, $17, $18, NULLIF($19, ''),
			NULLIF($20, ''), $21)`,
		p.ID, p.Owner, p.StorageKey, p.ThumbnailKey,
		p.OriginalFilename, p.SizeBytes, p.MIME, p.Width, p.Height,
		p.TakenAt, p.UploadedAt, p.Source, p.SourceID, p.PerceptualHash,
		emb, p.EmbeddingAt, p.GPSLat, p.GPSLng,
		p.CameraMake, p.Caption, p.IsDeleted)
	if isUniqueViolation(err) {
		return fmt.Errorf("photo %s/%s: %w", p.Source, p.SourceID, lkerr.ErrDuplicateSource)
	}
	return err
}

// SourceExists reports whether the user already imported the given
// source file, regardless of soft-deletion.
func (s *Store) SourceExists(ctx context.Context, owner uuid.UUID, source, sourceID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM photos
			WHERE user_id = $1 AND source = $2 AND source_id = $3)`,
		owner, source, sourceID).Scan(&exists)
	return exists, err
}

// HashExists reports whether the user has a live photo with the given
// perceptual hash.
func (s *Store) HashExists(ctx context.Context, owner uuid.UUID, phash string) (bool, error) {
	if phash == "" {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM photos
			WHERE user_id = $1 AND phash = $2 AND is_deleted = false)`,
		owner, phash).Scan(&exists)
	return exists, err
}

// GetPhoto returns one of the user's photos.
func (s *Store) GetPhoto(ctx context.Context, owner, id uuid.UUID) (*types.Photo, error) {
	p, err := scanPhoto(s.pool.QueryRow(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE id = $1 AND user_id = $2`,
		id, owner))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("photo %s: %w", id, lkerr.ErrNotFound)
	}
	return p, err
}

// GetPhotoByID returns a photo without an owner check, for workers
// operating on queued photo IDs.
func (s *Store) GetPhotoByID(ctx context.Context, id uuid.UUID) (*types.Photo, error) {
	p, err := scanPhoto(s.pool.QueryRow(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("photo %s: %w", id, lkerr.ErrNotFound)
	}
	return p, err
}

// SetEmbedding stores the embedding for a photo that does not have one
// yet. It reports false when another worker got there first, which the
// caller treats as success.
func (s *Store) SetEmbedding(ctx context.Context, id uuid.UUID, vec []float32) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE photos
		SET embedding = $2, embedding_generated_at = now()
		WHERE id = $1 AND embedding IS NULL`,
		id, pgvector.NewVector(vec))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Search runs approximate nearest-neighbour search over the user's
// embedded photos and returns them with cosine scores, best first.
// probes widens the IVFFlat scan for the duration of the query.
func (s *Store) Search(ctx context.Context, owner uuid.UUID, vec []float32, limit, offset, probes int) ([]types.SearchResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// SET LOCAL does not take bind parameters.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", probes)); err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT `+photoColumns+`, embedding <=> $2 AS distance
		FROM photos
		WHERE user_id = $1 AND is_deleted = false AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3 OFFSET $4`,
		owner, pgvector.NewVector(vec), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SearchResult
	for rows.Next() {
		var p types.Photo
		var emb *pgvector.Vector
		var distance float64
		err := rows.Scan(&p.ID, &p.Owner, &p.StorageKey,
			&p.ThumbnailKey, &p.OriginalFilename,
			&p.SizeBytes, &p.MIME, &p.Width, &p.Height,
			&p.TakenAt, &p.UploadedAt, &p.Source, &p.SourceID,
			&p.PerceptualHash, &emb, &p.EmbeddingAt,
			&p.GPSLat, &p.GPSLng, &p.CameraMake, &p.Caption,
			&p.IsDeleted, &distance)
		if err != nil {
			return nil, err
		}
		if emb != nil {
			p.Embedding = emb.Slice()
		}
		out = append(out, types.SearchResult{Photo: p, Score: 1 - distance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

// PaginatePhotos returns up to limit live photos newest first, starting
// strictly after the cursor. The returned cursor is nil when the page
// was not full.
func (s *Store) PaginatePhotos(ctx context.Context, owner uuid.UUID, cursor *types.Cursor, limit int) ([]types.Photo, *types.Cursor, error) {
	q := `SELECT ` + photoColumns + `
		FROM photos
		WHERE user_id = $1 AND is_deleted = false`
	args := []any{owner}
	if cursor != nil {
		q += ` AND (uploaded_at, id) < ($2, $3)`
		args = append(args, cursor.UploadedAt, cursor.ID)
	}
	q += fmt.Sprintf(` ORDER BY uploaded_at DESC, id DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var photos []types.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, nil, err
		}
		photos = append(photos, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	var next *types.Cursor
	if len(photos) == limit {
		last := photos[len(photos)-1]
		next = &types.Cursor{UploadedAt: last.UploadedAt, ID: last.ID}
	}
	return photos, next, nil
}

// ListMapPhotos returns the geotagged live photos for map display.
func (s *Store) ListMapPhotos(ctx context.Context, owner uuid.UUID) ([]types.MapPhoto, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, gps_lat, gps_lng, COALESCE(thumbnail_key, '')
		FROM photos
		WHERE user_id = $1 AND is_deleted = false
			AND gps_lat IS NOT NULL AND gps_lng IS NOT NULL
		ORDER BY uploaded_at DESC`,
		owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.MapPhoto
	for rows.Next() {
		var m types.MapPhoto
		if err := rows.Scan(&m.ID, &m.GPSLat, &m.GPSLng, &m.ThumbnailKey); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DuplicateGroups returns the user's live photos that share a
// perceptual hash with at least one other, grouped by hash. Groups are
// ordered largest first, photos within a group newest first.
func (s *Store) DuplicateGroups(ctx context.Context, owner uuid.UUID) ([][]types.Photo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+photoColumns+`
		FROM photos
		WHERE user_id = $1 AND is_deleted = false AND phash IN (
			SELECT phash FROM photos
			WHERE user_id = $1 AND is_deleted = false AND phash IS NOT NULL
			GROUP BY phash HAVING count(*) > 1)
		ORDER BY phash, uploaded_at DESC, id DESC`,
		owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups [][]types.Photo
	var cur []types.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		if len(cur) > 0 && cur[0].PerceptualHash != p.PerceptualHash {
			groups = append(groups, cur)
			cur = nil
		}
		cur = append(cur, *p)
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortGroupsBySize(groups)
	return groups, nil
}

func sortGroupsBySize(groups [][]types.Photo) {
	// Insertion sort; duplicate group counts are small.
	for i := 1; i < len(groups); i++ {
		for j := i; j > 0 && len(groups[j]) > len(groups[j-1]); j-- {
			groups[j], groups[j-1] = groups[j-1], groups[j]
		}
	}
}

// SoftDelete hides a photo from all listings without touching storage.
func (s *Store) SoftDelete(ctx context.Context, owner, id uuid.UUID) error {
	return s.setDeleted(ctx, owner, id, true)
}

// Restore undoes a soft delete.
func (s *Store) Restore(ctx context.Context, owner, id uuid.UUID) error {
	return s.setDeleted(ctx, owner, id, false)
}

func (s *Store) setDeleted(ctx context.Context, owner, id uuid.UUID, deleted bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE photos SET is_deleted = $3 WHERE id = $1 AND user_id = $2`,
		id, owner, deleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("photo %s: %w", id, lkerr.ErrNotFound)
	}
	return nil
}

// HardDelete removes the photo row. Object storage cleanup is the
// caller's responsibility.
func (s *Store) HardDelete(ctx context.Context, owner, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM photos WHERE id = $1 AND user_id = $2`,
		id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("photo %s: %w", id, lkerr.ErrNotFound)
	}
	return nil
}

// ListUnembeddedIDs returns live photos still waiting for an embedding,
// oldest upload first, for requeueing after restarts.
func (s *Store) ListUnembeddedIDs(ctx context.Context, owner uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM photos
		WHERE user_id = $1 AND is_deleted = false AND embedding IS NULL
		ORDER BY uploaded_at ASC`,
		owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListEmbeddedIDs returns the user's live embedded photos, oldest
// first, for full people reindexing.
func (s *Store) ListEmbeddedIDs(ctx context.Context, owner uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM photos
		WHERE user_id = $1 AND is_deleted = false AND embedding IS NOT NULL
		ORDER BY uploaded_at ASC`,
		owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
