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

package types

import (
	"time"

	"github.com/google/uuid"
)

// Sync job statuses.
const (
	SyncStatusQueued    = "queued"
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
	SyncStatusCancelled = "cancelled"
)

// Per-entry states in DriveSyncFile.
const (
	SyncFilePending   = "pending"
	SyncFileCompleted = "completed"
	SyncFileFailed    = "failed"
	SyncFileSkipped   = "skipped"
)

// ZipCompleteMarker is the distinguished source_entry_id recorded once
// every entry of a ZIP container has been consumed. The NUL prefix
// keeps it out of the namespace of real archive entry names.
const ZipCompleteMarker = "\x00zip-complete"

// SyncState is the per-user Drive sync configuration and rollup.
type SyncState struct {
	Owner      uuid.UUID
	FolderID   string
	FolderName string
	LastSyncAt *time.Time
	Enabled    bool
	LastError  string
	Status     string
	Pending    int
	Processed  int
	Imported   int
	Skipped    int
	Failed     int
}

// SyncTarget is one user due for a scheduled sync.
type SyncTarget struct {
	Owner    uuid.UUID
	FolderID string
}

// SyncJob is a durable multi-attempt sync run over one folder.
type SyncJob struct {
	ID          uuid.UUID
	Owner       uuid.UUID
	FolderID    string
	Status      string
	Attempts    int
	MaxAttempts int
	BatchSize   int
	LastError   string
	Counters    SyncCounters
	StartedAt   *time.Time
	FinishedAt  *time.Time
	CreatedAt   time.Time
}

// Terminal reports whether the job can no longer run.
func (j *SyncJob) Terminal() bool {
	switch j.Status {
	case SyncStatusCompleted, SyncStatusCancelled:
		return true
	case SyncStatusFailed:
		return j.Attempts >= j.MaxAttempts
	}
	return false
}

// SyncCounters accumulates per-job progress totals.
type SyncCounters struct {
	TotalDiscovered int
	Processed       int
	Uploaded        int
	Skipped         int
	Failed          int
}

// Add accumulates d into c.
func (c *SyncCounters) Add(d SyncCounters) {
	c.TotalDiscovered += d.TotalDiscovered
	c.Processed += d.Processed
	c.Uploaded += d.Uploaded
	c.Skipped += d.Skipped
	c.Failed += d.Failed
}

// SyncFile is the durable per-entry record keyed by
// (owner, source_file_id, source_entry_id).
type SyncFile struct {
	ID           uuid.UUID
	JobID        uuid.UUID
	Owner        uuid.UUID
	SourceFileID string
	SourceEntry  string // "" for plain files, ZipCompleteMarker for container markers
	Filename     string
	MIME         string
	SizeBytes    int64
	State        string
	BatchNo      int
	ErrorMessage string
	ProcessedAt  *time.Time
}

// SyncCheckpoint records the last committed batch for a job.
type SyncCheckpoint struct {
	JobID          uuid.UUID
	LastBatchNo    int
	LastSuccessKey string
	UpdatedAt      time.Time
}

// Sync phases reported in progress snapshots.
const (
	PhaseQueued         = "queued"
	PhaseAuth           = "auth"
	PhaseListing        = "listing"
	PhaseDownloadingZip = "downloading_zip"
	PhaseExtracting     = "extracting"
	PhaseImporting      = "importing"
	PhaseCompleted      = "completed"
	PhaseIdle           = "idle"
)

// SyncProgress is the process-local snapshot served by the sync status
// endpoint. It is advisory only; the authoritative counters live on
// the job row.
type SyncProgress struct {
	Status              string        `json:"status"` // queued|running|done|error|idle
	Phase               string        `json:"phase"`
	JobID               string        `json:"job_id,omitempty"`
	BatchSize           int           `json:"batch_size"`
	CurrentBatch        int           `json:"current_batch"`
	ProgressPercent     int           `json:"progress_percent"`
	TotalFiles          int           `json:"total_files"`
	ProcessedFiles      int           `json:"processed_files"`
	Uploaded            int           `json:"uploaded"`
	Skipped             int           `json:"skipped"`
	Failed              int           `json:"failed"`
	ZipFilesTotal       int           `json:"zip_files_total"`
	ZipFilesProcessed   int           `json:"zip_files_processed"`
	ZipEntriesTotal     int           `json:"zip_entries_total"`
	ZipEntriesProcessed int           `json:"zip_entries_processed"`
	DownloadPercent     int           `json:"download_percent"`
	DownloadedMB        int           `json:"downloaded_mb"`
	DownloadTotalMB     int           `json:"download_total_mb"`
	CurrentItem         string        `json:"current_item,omitempty"`
	Message             string        `json:"message,omitempty"`
	RecentFailures      []SyncFailure `json:"recent_failures,omitempty"`
}

// SyncFailure is one entry of the recent-failure ring buffer.
type SyncFailure struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}
