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
	"time"

	"github.com/google/uuid"

	"lumekeep.org/pkg/types"
)

// MemoryCandidates returns every live photo across all users taken on
// today's month and day in a prior year, grouped by user and newest
// first within a user.
func (s *Store) MemoryCandidates(ctx context.Context, now time.Time) ([]types.MemoryCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, id, taken_at
		FROM photos
		WHERE is_deleted = false AND taken_at IS NOT NULL
			AND EXTRACT(MONTH FROM taken_at) = $1
			AND EXTRACT(DAY FROM taken_at) = $2
			AND EXTRACT(YEAR FROM taken_at) < $3
		ORDER BY user_id, taken_at DESC`,
		int(now.Month()), now.Day(), now.Year())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.MemoryCandidate
	for rows.Next() {
		var c types.MemoryCandidate
		if err := rows.Scan(&c.Owner, &c.PhotoID, &c.TakenAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceMemories atomically swaps the stored memories for one date.
// Rerunning generation for the same day is idempotent.
func (s *Store) ReplaceMemories(ctx context.Context, date time.Time, memories []types.Memory) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM memories WHERE memory_date = $1`, date); err != nil {
		return err
	}
	for _, m := range memories {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO memories (id, user_id, memory_date, label, photo_ids)
			VALUES ($1, $2, $3, $4, $5)`,
			m.ID, m.Owner, date, m.Label, m.PhotoIDs)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListMemories returns the user's memories for one date, most distant
// year first.
func (s *Store) ListMemories(ctx context.Context, owner uuid.UUID, date time.Time) ([]types.Memory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, memory_date, label, photo_ids
		FROM memories
		WHERE user_id = $1 AND memory_date = $2
		ORDER BY label DESC`,
		owner, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Memory
	for rows.Next() {
		var m types.Memory
		if err := rows.Scan(&m.ID, &m.Owner, &m.MemoryDate, &m.Label, &m.PhotoIDs); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
