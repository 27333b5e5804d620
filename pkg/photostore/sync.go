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

	"lumekeep.org/pkg/lkerr"
	"lumekeep.org/pkg/types"
)

// DriveRefreshToken returns the user's stored refresh token for the
// Drive provider. Missing or cleared tokens fail with
// lkerr.ErrSourceAuthRevoked.
func (s *Store) DriveRefreshToken(ctx context.Context, owner uuid.UUID) (string, error) {
	var tok string
	err := s.pool.QueryRow(ctx, `
		SELECT refresh_token FROM oauth_accounts
		WHERE user_id = $1 AND provider = 'google'`,
		owner).Scan(&tok)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && tok == "") {
		return "", fmt.Errorf("user %s: %w", owner, lkerr.ErrSourceAuthRevoked)
	}
	return tok, err
}

// GetSyncState returns the user's sync configuration, or a disabled
// zero state when none was ever configured.
func (s *Store) GetSyncState(ctx context.Context, owner uuid.UUID) (*types.SyncState, error) {
	st := &types.SyncState{Owner: owner}
	err := s.pool.QueryRow(ctx, `
		SELECT folder_id, folder_name, sync_enabled, last_sync_at, last_error
		FROM drive_sync_state WHERE user_id = $1`,
		owner).Scan(&st.FolderID, &st.FolderName, &st.Enabled, &st.LastSyncAt, &st.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	return st, err
}

// SetSyncFolder configures which folder to sync and enables sync.
func (s *Store) SetSyncFolder(ctx context.Context, owner uuid.UUID, folderID, folderName string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO drive_sync_state (user_id, folder_id, folder_name, sync_enabled, updated_at)
		VALUES ($1, $2, $3, true, now())
		ON CONFLICT (user_id) DO UPDATE SET
			folder_id = EXCLUDED.folder_id,
			folder_name = EXCLUDED.folder_name,
			sync_enabled = true,
			last_error = '',
			updated_at = now()`,
		owner, folderID, folderName)
	return err
}

// DisableSync turns the user's scheduled sync off, recording why.
func (s *Store) DisableSync(ctx context.Context, owner uuid.UUID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE drive_sync_state
		SET sync_enabled = false, last_error = $2, updated_at = now()
		WHERE user_id = $1`,
		owner, reason)
	return err
}

// SetLastSyncAt records a successful sync completion time.
func (s *Store) SetLastSyncAt(ctx context.Context, owner uuid.UUID, t time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE drive_sync_state
		SET last_sync_at = $2, last_error = '', updated_at = now()
		WHERE user_id = $1`,
		owner, t)
	return err
}

// ListSyncTargets returns every user with sync enabled and a folder
// configured, for the scheduler's fan-out.
func (s *Store) ListSyncTargets(ctx context.Context) ([]types.SyncTarget, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, folder_id FROM drive_sync_state
		WHERE sync_enabled = true AND folder_id <> ''
		ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SyncTarget
	for rows.Next() {
		var t types.SyncTarget
		if err := rows.Scan(&t.Owner, &t.FolderID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const syncJobColumns = `id, user_id, folder_id, status, attempts,
	max_attempts, batch_size, last_error, total_discovered, processed,
	uploaded, skipped, failed, started_at, finished_at, created_at`

func scanSyncJob(row pgx.Row) (*types.SyncJob, error) {
	var j types.SyncJob
	err := row.Scan(&j.ID, &j.Owner, &j.FolderID, &j.Status, &j.Attempts,
		&j.MaxAttempts, &j.BatchSize, &j.LastError,
		&j.Counters.TotalDiscovered, &j.Counters.Processed,
		&j.Counters.Uploaded, &j.Counters.Skipped, &j.Counters.Failed,
		&j.StartedAt, &j.FinishedAt, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateSyncJob inserts a new queued job row.
func (s *Store) CreateSyncJob(ctx context.Context, owner uuid.UUID, folderID string, batchSize, maxAttempts int) (*types.SyncJob, error) {
	j := &types.SyncJob{
		ID:          uuid.New(),
		Owner:       owner,
		FolderID:    folderID,
		Status:      types.SyncStatusQueued,
		MaxAttempts: maxAttempts,
		BatchSize:   batchSize,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO drive_sync_jobs (id, user_id, folder_id, status,
			max_attempts, batch_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		j.ID, j.Owner, j.FolderID, j.Status, j.MaxAttempts, j.BatchSize, j.CreatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// GetSyncJob returns one job row.
func (s *Store) GetSyncJob(ctx context.Context, id uuid.UUID) (*types.SyncJob, error) {
	j, err := scanSyncJob(s.pool.QueryRow(ctx,
		`SELECT `+syncJobColumns+` FROM drive_sync_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sync job %s: %w", id, lkerr.ErrNotFound)
	}
	return j, err
}

// HasActiveSyncJob reports whether a queued or running job already
// covers the user's folder, so the scheduler does not pile on.
func (s *Store) HasActiveSyncJob(ctx context.Context, owner uuid.UUID, folderID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM drive_sync_jobs
			WHERE user_id = $1 AND folder_id = $2
				AND status IN ($3, $4))`,
		owner, folderID, types.SyncStatusQueued, types.SyncStatusRunning).Scan(&exists)
	return exists, err
}

// StartSyncJobAttempt marks the job running and bumps its attempt
// counter, returning the refreshed row. Jobs in a terminal state are
// returned unchanged so the caller can drop them.
func (s *Store) StartSyncJobAttempt(ctx context.Context, id uuid.UUID) (*types.SyncJob, error) {
	j, err := scanSyncJob(s.pool.QueryRow(ctx, `
		UPDATE drive_sync_jobs
		SET status = $2, attempts = attempts + 1, started_at = now(), last_error = ''
		WHERE id = $1 AND status IN ($3, $4, $2)
			AND attempts < max_attempts
		RETURNING `+syncJobColumns,
		id, types.SyncStatusRunning, types.SyncStatusQueued, types.SyncStatusFailed))
	if errors.Is(err, pgx.ErrNoRows) {
		return s.GetSyncJob(ctx, id)
	}
	return j, err
}

// FinishSyncJob records a terminal or retryable outcome.
func (s *Store) FinishSyncJob(ctx context.Context, id uuid.UUID, status, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE drive_sync_jobs
		SET status = $2, last_error = $3,
			finished_at = CASE WHEN $2 IN ($4, $5) THEN now() ELSE finished_at END
		WHERE id = $1`,
		id, status, lastError, types.SyncStatusCompleted, types.SyncStatusCancelled)
	return err
}

// AddSyncJobCounters accumulates batch totals onto the job row.
func (s *Store) AddSyncJobCounters(ctx context.Context, id uuid.UUID, c types.SyncCounters) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE drive_sync_jobs
		SET processed = processed + $2,
			uploaded = uploaded + $3,
			skipped = skipped + $4,
			failed = failed + $5
		WHERE id = $1`,
		id, c.Processed, c.Uploaded, c.Skipped, c.Failed)
	return err
}

// SetSyncJobTotal records the discovered file count once listing is
// done.
func (s *Store) SetSyncJobTotal(ctx context.Context, id uuid.UUID, total int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE drive_sync_jobs SET total_discovered = $2 WHERE id = $1`,
		id, total)
	return err
}

// CancelSiblingJobs cancels every other non-terminal job for the same
// user and folder after one completes, and returns how many it hit.
func (s *Store) CancelSiblingJobs(ctx context.Context, owner uuid.UUID, folderID string, winner uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE drive_sync_jobs
		SET status = $4, last_error = 'superseded by a newer completed sync',
			finished_at = now()
		WHERE user_id = $1 AND folder_id = $2 AND id <> $3
			AND status IN ($5, $6, $7)`,
		owner, folderID, winner, types.SyncStatusCancelled,
		types.SyncStatusQueued, types.SyncStatusRunning, types.SyncStatusFailed)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpsertSyncFile records an entry the runner is about to process and
// returns the state it was already in, "" for a brand-new row. The
// unique key (user, file, entry) survives across jobs; rows from prior
// attempts are adopted into the current job.
func (s *Store) UpsertSyncFile(ctx context.Context, f *types.SyncFile) (string, error) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	var prior string
	var existed bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO drive_sync_files (id, job_id, user_id, source_file_id,
			source_entry_id, filename, mime_type, file_size_bytes, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, source_file_id, source_entry_id)
		DO UPDATE SET job_id = EXCLUDED.job_id
		RETURNING state, (xmax <> 0)`,
		f.ID, f.JobID, f.Owner, f.SourceFileID, f.SourceEntry,
		f.Filename, f.MIME, f.SizeBytes, types.SyncFilePending).Scan(&prior, &existed)
	if err != nil {
		return "", err
	}
	if !existed {
		return "", nil
	}
	return prior, nil
}

// MarkSyncFile sets the entry's final state for this batch.
func (s *Store) MarkSyncFile(ctx context.Context, owner uuid.UUID, sourceFileID, sourceEntry, state string, batchNo int, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE drive_sync_files
		SET state = $4, batch_no = $5, error_message = $6, processed_at = now()
		WHERE user_id = $1 AND source_file_id = $2 AND source_entry_id = $3`,
		owner, sourceFileID, sourceEntry, state, batchNo, errMsg)
	return err
}

// ZipCompleted reports whether a completion marker exists for the
// container, meaning every entry was consumed by an earlier attempt.
func (s *Store) ZipCompleted(ctx context.Context, owner uuid.UUID, sourceFileID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM drive_sync_files
			WHERE user_id = $1 AND source_file_id = $2
				AND source_entry_id = $3 AND state = $4)`,
		owner, sourceFileID, types.ZipCompleteMarker, types.SyncFileCompleted).Scan(&exists)
	return exists, err
}

// WriteZipMarker records that every entry of the container has been
// processed, so later attempts skip the download entirely.
func (s *Store) WriteZipMarker(ctx context.Context, jobID, owner uuid.UUID, sourceFileID, filename string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO drive_sync_files (id, job_id, user_id, source_file_id,
			source_entry_id, filename, state, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (user_id, source_file_id, source_entry_id)
		DO UPDATE SET state = $7, job_id = EXCLUDED.job_id, processed_at = now()`,
		uuid.New(), jobID, owner, sourceFileID, types.ZipCompleteMarker,
		filename, types.SyncFileCompleted)
	return err
}

// UpsertCheckpoint advances the job's committed-batch checkpoint.
func (s *Store) UpsertCheckpoint(ctx context.Context, jobID uuid.UUID, batchNo int, lastKey string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO drive_sync_checkpoints (job_id, last_batch_no, last_success_key, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (job_id) DO UPDATE SET
			last_batch_no = EXCLUDED.last_batch_no,
			last_success_key = EXCLUDED.last_success_key,
			updated_at = now()`,
		jobID, batchNo, lastKey)
	return err
}

// GetCheckpoint returns the job's checkpoint, or nil when the job has
// not committed a batch yet.
func (s *Store) GetCheckpoint(ctx context.Context, jobID uuid.UUID) (*types.SyncCheckpoint, error) {
	cp := &types.SyncCheckpoint{JobID: jobID}
	err := s.pool.QueryRow(ctx, `
		SELECT last_batch_no, last_success_key, updated_at
		FROM drive_sync_checkpoints WHERE job_id = $1`,
		jobID).Scan(&cp.LastBatchNo, &cp.LastSuccessKey, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}
