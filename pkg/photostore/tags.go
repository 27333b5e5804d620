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

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"lumekeep.org/pkg/types"
)

// Person tag name prefixes. "person:" tags are user-confirmed names,
// "person_cluster:" tags are automatic clusters awaiting a name.
const (
	PersonPrefix        = "person:"
	PersonClusterPrefix = "person_cluster:"
)

// EnsureTag returns the tag with the given name, creating it if needed.
func (s *Store) EnsureTag(ctx context.Context, name string) (types.Tag, error) {
	t := types.Tag{Name: name}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tags (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		uuid.New(), name).Scan(&t.ID)
	return t, err
}

// AddPhotoTag attaches a tag to a photo, updating source and confidence
// when the pair already exists.
func (s *Store) AddPhotoTag(ctx context.Context, photoID, tagID uuid.UUID, source string, confidence float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO photo_tags (photo_id, tag_id, source, confidence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (photo_id, tag_id)
		DO UPDATE SET source = EXCLUDED.source, confidence = EXCLUDED.confidence`,
		photoID, tagID, source, confidence)
	return err
}

// ClearPersonTags detaches all person and cluster tags from one photo.
func (s *Store) ClearPersonTags(ctx context.Context, photoID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM photo_tags
		WHERE photo_id = $1 AND tag_id IN (
			SELECT id FROM tags
			WHERE name LIKE $2 || '%' OR name LIKE $3 || '%')`,
		photoID, PersonPrefix, PersonClusterPrefix)
	return err
}

// ClearAutoPersonTags detaches every automatically assigned person tag
// across the user's photos, ahead of a full reindex. Manually confirmed
// assignments survive.
func (s *Store) ClearAutoPersonTags(ctx context.Context, owner uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM photo_tags pt
		USING photos p
		WHERE pt.photo_id = p.id AND p.user_id = $1
			AND pt.source = $2
			AND pt.tag_id IN (
				SELECT id FROM tags
				WHERE name LIKE $3 || '%' OR name LIKE $4 || '%')`,
		owner, types.TagSourceAutoPeople, PersonPrefix, PersonClusterPrefix)
	return err
}

// ListPersonGroups returns the user's person and cluster tags with
// photo counts and a cover photo, largest group first.
func (s *Store) ListPersonGroups(ctx context.Context, owner uuid.UUID) ([]types.PersonGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.name, count(*) AS n,
			(array_agg(p.id ORDER BY p.uploaded_at DESC))[1]
		FROM photo_tags pt
		JOIN tags t ON t.id = pt.tag_id
		JOIN photos p ON p.id = pt.photo_id
		WHERE p.user_id = $1 AND p.is_deleted = false
			AND (t.name LIKE $2 || '%' OR t.name LIKE $3 || '%')
		GROUP BY t.name
		ORDER BY n DESC, t.name ASC`,
		owner, PersonPrefix, PersonClusterPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.PersonGroup
	for rows.Next() {
		var g types.PersonGroup
		if err := rows.Scan(&g.TagName, &g.PhotoCount, &g.CoverPhoto); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// PersonTagCandidates returns the user's most recent embedded photos
// that already carry a person or cluster tag, excluding the photo being
// classified. The clusterer compares the new photo against these.
func (s *Store) PersonTagCandidates(ctx context.Context, owner, excludePhoto uuid.UUID, limit int) ([]types.PersonCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, t.name, p.embedding
		FROM photo_tags pt
		JOIN tags t ON t.id = pt.tag_id
		JOIN photos p ON p.id = pt.photo_id
		WHERE p.user_id = $1 AND p.id <> $2 AND p.is_deleted = false
			AND p.embedding IS NOT NULL
			AND (t.name LIKE $3 || '%' OR t.name LIKE $4 || '%')
		ORDER BY p.uploaded_at DESC
		LIMIT $5`,
		owner, excludePhoto, PersonPrefix, PersonClusterPrefix, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.PersonCandidate
	for rows.Next() {
		var c types.PersonCandidate
		var emb pgvector.Vector
		if err := rows.Scan(&c.PhotoID, &c.TagName, &emb); err != nil {
			return nil, err
		}
		c.Embedding = emb.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountPersonClusters returns how many distinct automatic cluster tags
// the user's photos carry.
func (s *Store) CountPersonClusters(ctx context.Context, owner uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(DISTINCT t.id)
		FROM photo_tags pt
		JOIN tags t ON t.id = pt.tag_id
		JOIN photos p ON p.id = pt.photo_id
		WHERE p.user_id = $1 AND t.name LIKE $2 || '%'`,
		owner, PersonClusterPrefix).Scan(&n)
	return n, err
}
