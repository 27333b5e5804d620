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

// Package drivesync runs durable multi-attempt sync jobs over a user's
// source folder: walk, stream ZIP containers to disk, unpack, and feed
// the ingestion pipeline in checkpointed batches. Restarted attempts
// skip entries whose DriveSyncFile row is already completed, and whole
// containers with a completion-marker row, so retries converge instead
// of duplicating work.
package drivesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"lumekeep.org/pkg/drive"
	"lumekeep.org/pkg/ingest"
	"lumekeep.org/pkg/lkerr"
	"lumekeep.org/pkg/magic"
	"lumekeep.org/pkg/types"
	"lumekeep.org/pkg/zips"
)

// DefaultDriveMaxBytes caps a single direct download held in memory.
const DefaultDriveMaxBytes = 512 << 20 // 512 MiB

// sourceIDSep joins the container file ID and the archive entry name
// into one source_id.
const sourceIDSep = "::"

// downloadProgressStep is how much has to arrive before the tracker is
// updated again during a container download.
const downloadProgressStep = 64 << 20 // 64 MiB

// errSuperseded aborts a job that was cancelled by a newer completed
// sibling between batches.
var errSuperseded = errors.New("job superseded")

// Store is the slice of the photo repository the runner needs.
type Store interface {
	DriveRefreshToken(ctx context.Context, owner uuid.UUID) (string, error)
	DisableSync(ctx context.Context, owner uuid.UUID, reason string) error
	SetLastSyncAt(ctx context.Context, owner uuid.UUID, t time.Time) error

	GetSyncJob(ctx context.Context, id uuid.UUID) (*types.SyncJob, error)
	StartSyncJobAttempt(ctx context.Context, id uuid.UUID) (*types.SyncJob, error)
	FinishSyncJob(ctx context.Context, id uuid.UUID, status, lastError string) error
	AddSyncJobCounters(ctx context.Context, id uuid.UUID, c types.SyncCounters) error
	SetSyncJobTotal(ctx context.Context, id uuid.UUID, total int) error
	CancelSiblingJobs(ctx context.Context, owner uuid.UUID, folderID string, winner uuid.UUID) (int64, error)

	UpsertSyncFile(ctx context.Context, f *types.SyncFile) (string, error)
	MarkSyncFile(ctx context.Context, owner uuid.UUID, sourceFileID, sourceEntry, state string, batchNo int, errMsg string) error
	ZipCompleted(ctx context.Context, owner uuid.UUID, sourceFileID string) (bool, error)
	WriteZipMarker(ctx context.Context, jobID, owner uuid.UUID, sourceFileID, filename string) error
	UpsertCheckpoint(ctx context.Context, jobID uuid.UUID, batchNo int, lastKey string) error
}

// Importer is the single-file side of the ingestion pipeline.
type Importer interface {
	IngestBytes(ctx context.Context, owner uuid.UUID, filename string, data []byte, source, sourceID string) (uuid.UUID, error)
	MaxFileBytes() int64
}

// JobQueue re-enqueues failed jobs for another attempt.
type JobQueue interface {
	Push(ctx context.Context, payload string)
	Pop(ctx context.Context, timeout time.Duration) string
}

// ConnectFunc authenticates a user against the source and returns a
// listing/download service. It fails with lkerr.ErrSourceAuthRevoked
// when the stored grant is gone.
type ConnectFunc func(ctx context.Context, owner uuid.UUID) (drive.Service, error)

// Runner consumes the sync job queue.
type Runner struct {
	store    Store
	imp      Importer
	jobs     JobQueue
	connect  ConnectFunc
	tracker  *Tracker
	driveMax int64
	logf     func(format string, args ...any)
}

// NewRunner wires a runner. tracker may be shared with the status
// surface.
func NewRunner(store Store, imp Importer, jobs JobQueue, connect ConnectFunc, tracker *Tracker) *Runner {
	return &Runner{
		store:    store,
		imp:      imp,
		jobs:     jobs,
		connect:  connect,
		tracker:  tracker,
		driveMax: DefaultDriveMaxBytes,
		logf:     log.New(os.Stderr, "drivesync: ", log.LstdFlags).Printf,
	}
}

// SetDriveMaxBytes overrides the direct-download cap.
func (r *Runner) SetDriveMaxBytes(n int64) { r.driveMax = n }

// Run pops job IDs until ctx is done. Malformed payloads are dropped.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		payload := r.jobs.Pop(ctx, time.Second)
		if payload == "" {
			continue
		}
		id, err := uuid.Parse(payload)
		if err != nil {
			r.logf("dropping malformed job payload %q", payload)
			continue
		}
		if err := r.ProcessJob(ctx, id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logf("job %s: %v", id, err)
		}
	}
}

// ProcessJob runs one attempt of one job. Errors that are the job's
// own outcome (auth revoked, source errors) are absorbed into the job
// row; the returned error is for infrastructure trouble only.
func (r *Runner) ProcessJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := r.store.StartSyncJobAttempt(ctx, jobID)
	if err != nil {
		return fmt.Errorf("acquiring job: %w", err)
	}
	if job.Terminal() || job.Status != types.SyncStatusRunning {
		r.logf("job %s is %s after %d attempts, dropping", job.ID, job.Status, job.Attempts)
		return nil
	}
	r.tracker.Start(job)

	svc, err := r.connect(ctx, job.Owner)
	if err != nil {
		if errors.Is(err, lkerr.ErrSourceAuthRevoked) {
			r.logf("job %s: source auth revoked for %s, disabling sync", job.ID, job.Owner)
			r.tracker.Error(job.Owner, err.Error())
			if ferr := r.store.FinishSyncJob(ctx, job.ID, types.SyncStatusFailed, err.Error()); ferr != nil {
				return ferr
			}
			return r.store.DisableSync(ctx, job.Owner, err.Error())
		}
		return r.fail(ctx, job, err)
	}

	if err := r.runAttempt(ctx, job, svc); err != nil {
		if errors.Is(err, errSuperseded) {
			r.logf("job %s superseded, stopping", job.ID)
			r.tracker.Done(job.Owner)
			return nil
		}
		return r.fail(ctx, job, err)
	}

	if err := r.store.SetLastSyncAt(ctx, job.Owner, time.Now().UTC()); err != nil {
		return err
	}
	if err := r.store.FinishSyncJob(ctx, job.ID, types.SyncStatusCompleted, ""); err != nil {
		return err
	}
	if n, err := r.store.CancelSiblingJobs(ctx, job.Owner, job.FolderID, job.ID); err != nil {
		return err
	} else if n > 0 {
		r.logf("job %s superseded %d older jobs", job.ID, n)
	}
	r.tracker.Done(job.Owner)
	return nil
}

// fail records the attempt's error and re-enqueues the job while
// attempts remain.
func (r *Runner) fail(ctx context.Context, job *types.SyncJob, cause error) error {
	r.logf("job %s attempt %d/%d failed: %v", job.ID, job.Attempts, job.MaxAttempts, cause)
	r.tracker.Error(job.Owner, cause.Error())
	if err := r.store.FinishSyncJob(ctx, job.ID, types.SyncStatusFailed, cause.Error()); err != nil {
		return err
	}
	if job.Attempts < job.MaxAttempts {
		r.jobs.Push(ctx, job.ID.String())
	}
	return nil
}

// pendingItem is one descriptor waiting in the current batch. Exactly
// one of data and path is set; path-backed items are temp files owned
// by the batch.
type pendingItem struct {
	sourceFileID string
	sourceEntry  string // "" for plain files
	filename     string
	mime         string
	size         int64
	data         []byte
	path         string
}

func (it *pendingItem) sourceID() string {
	if it.sourceEntry == "" {
		return it.sourceFileID
	}
	return it.sourceFileID + sourceIDSep + it.sourceEntry
}

func (it *pendingItem) bytes() ([]byte, error) {
	if it.path == "" {
		return it.data, nil
	}
	return os.ReadFile(it.path)
}

func (it *pendingItem) discard() {
	if it.path != "" {
		os.Remove(it.path)
	}
}

// runAttempt executes the listing and ingestion phases.
func (r *Runner) runAttempt(ctx context.Context, job *types.SyncJob, svc drive.Service) error {
	dir, err := os.MkdirTemp("", "lumekeep-sync-*")
	if err != nil {
		return fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	r.tracker.Update(job.Owner, func(p *types.SyncProgress) { p.Phase = types.PhaseListing })
	files, err := drive.Walk(ctx, svc, job.FolderID)
	if err != nil {
		return fmt.Errorf("listing folder: %w", err)
	}
	zipTotal := 0
	for _, f := range files {
		if r.isZip(f) {
			zipTotal++
		}
	}
	if err := r.store.SetSyncJobTotal(ctx, job.ID, len(files)); err != nil {
		return err
	}
	r.tracker.Update(job.Owner, func(p *types.SyncProgress) {
		p.TotalFiles = len(files)
		p.ZipFilesTotal = zipTotal
	})

	st := &attemptState{job: job, dir: dir}
	for _, f := range files {
		r.tracker.Update(job.Owner, func(p *types.SyncProgress) { p.CurrentItem = f.Name })
		if r.isZip(f) {
			if err := r.syncContainer(ctx, st, svc, f); err != nil {
				return err
			}
			continue
		}
		if err := r.syncImage(ctx, st, svc, f); err != nil {
			return err
		}
	}
	return r.commitBatch(ctx, st)
}

// attemptState carries the pending batch across the enumeration.
type attemptState struct {
	job     *types.SyncJob
	dir     string
	pending []pendingItem
	batchNo int
}

func (r *Runner) isZip(f drive.File) bool {
	return magic.IsZip(f.Name, f.MIMEType, nil)
}

// syncImage downloads a plain image into memory and appends it to the
// pending batch.
func (r *Runner) syncImage(ctx context.Context, st *attemptState, svc drive.Service, f drive.File) error {
	job := st.job
	if f.Size > r.driveMax {
		r.logf("job %s: %q is %d bytes, over the %d byte download cap", job.ID, f.Name, f.Size, r.driveMax)
		if err := r.recordSkip(ctx, st, f, "file exceeds download size limit"); err != nil {
			return err
		}
		return nil
	}
	rc, _, err := svc.Download(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("downloading %q: %w", f.Name, err)
	}
	data, err := io.ReadAll(io.LimitReader(rc, r.driveMax+1))
	rc.Close()
	if err != nil {
		return fmt.Errorf("downloading %q: %w", f.Name, err)
	}
	if int64(len(data)) > r.driveMax {
		return r.recordSkip(ctx, st, f, "file exceeds download size limit")
	}
	st.pending = append(st.pending, pendingItem{
		sourceFileID: f.ID,
		filename:     f.Name,
		mime:         f.MIMEType,
		size:         int64(len(data)),
		data:         data,
	})
	if len(st.pending) >= job.BatchSize {
		return r.commitBatch(ctx, st)
	}
	return nil
}

// recordSkip writes a skipped DriveSyncFile row outside any batch.
func (r *Runner) recordSkip(ctx context.Context, st *attemptState, f drive.File, reason string) error {
	prior, err := r.store.UpsertSyncFile(ctx, &types.SyncFile{
		JobID:        st.job.ID,
		Owner:        st.job.Owner,
		SourceFileID: f.ID,
		Filename:     f.Name,
		MIME:         f.MIMEType,
		SizeBytes:    f.Size,
	})
	if err != nil {
		return err
	}
	if prior != types.SyncFileCompleted {
		if err := r.store.MarkSyncFile(ctx, st.job.Owner, f.ID, "", types.SyncFileSkipped, st.batchNo, reason); err != nil {
			return err
		}
	}
	c := types.SyncCounters{Processed: 1, Skipped: 1}
	if err := r.store.AddSyncJobCounters(ctx, st.job.ID, c); err != nil {
		return err
	}
	r.trackCounters(st.job.Owner, c)
	return nil
}

// syncContainer streams a ZIP to disk, unpacks it, and feeds its image
// entries through the pending batch. On success a completion marker is
// written so later attempts skip the whole container.
func (r *Runner) syncContainer(ctx context.Context, st *attemptState, svc drive.Service, f drive.File) error {
	job := st.job
	done, err := r.store.ZipCompleted(ctx, job.Owner, f.ID)
	if err != nil {
		return err
	}
	if done {
		r.logf("job %s: container %q already completed, skipping", job.ID, f.Name)
		c := types.SyncCounters{Processed: 1, Skipped: 1}
		if err := r.store.AddSyncJobCounters(ctx, job.ID, c); err != nil {
			return err
		}
		r.trackCounters(job.Owner, c)
		r.tracker.Update(job.Owner, func(p *types.SyncProgress) { p.ZipFilesProcessed++ })
		return nil
	}

	// Bound how long extracted batches outlive their container.
	if err := r.commitBatch(ctx, st); err != nil {
		return err
	}

	r.tracker.Update(job.Owner, func(p *types.SyncProgress) {
		p.Phase = types.PhaseDownloadingZip
		p.DownloadPercent = 0
		p.DownloadedMB = 0
		p.DownloadTotalMB = int(f.Size >> 20)
	})
	path, err := r.downloadToFile(ctx, svc, job.Owner, f, st.dir)
	if err != nil {
		return fmt.Errorf("downloading container %q: %w", f.Name, err)
	}
	defer os.Remove(path)

	r.tracker.Update(job.Owner, func(p *types.SyncProgress) { p.Phase = types.PhaseExtracting })
	entries := 0
	err = zips.ForeachImage(path, r.imp.MaxFileBytes(), st.dir, func(e zips.Entry) error {
		entries++
		r.tracker.Update(job.Owner, func(p *types.SyncProgress) { p.ZipEntriesTotal++ })
		st.pending = append(st.pending, pendingItem{
			sourceFileID: f.ID,
			sourceEntry:  e.Name,
			filename:     e.Name,
			mime:         e.MIME,
			size:         e.Size,
			path:         e.Path,
		})
		if len(st.pending) >= job.BatchSize {
			return r.commitBatch(ctx, st)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, lkerr.ErrArchiveInvalid) {
			r.logf("job %s: container %q invalid: %v", job.ID, f.Name, err)
			r.tracker.Failure(job.Owner, f.Name, err.Error())
			c := types.SyncCounters{Processed: 1, Failed: 1}
			if cerr := r.store.AddSyncJobCounters(ctx, job.ID, c); cerr != nil {
				return cerr
			}
			r.trackCounters(job.Owner, c)
			return nil
		}
		return err
	}
	if err := r.commitBatch(ctx, st); err != nil {
		return err
	}
	if entries == 0 {
		// An archive that yielded nothing still gets its marker so
		// restarts do not re-download it, but it counts as a failure.
		r.tracker.Failure(job.Owner, f.Name, "no image entries in archive")
		c := types.SyncCounters{Processed: 1, Failed: 1}
		if err := r.store.AddSyncJobCounters(ctx, job.ID, c); err != nil {
			return err
		}
		r.trackCounters(job.Owner, c)
	}
	if err := r.store.WriteZipMarker(ctx, job.ID, job.Owner, f.ID, f.Name); err != nil {
		return err
	}
	r.logf("job %s: container %q done, %d entries", job.ID, f.Name, entries)
	r.tracker.Update(job.Owner, func(p *types.SyncProgress) { p.ZipFilesProcessed++ })
	return nil
}

// downloadToFile streams the container to a temp file, reporting
// progress at 64 MiB steps.
func (r *Runner) downloadToFile(ctx context.Context, svc drive.Service, owner uuid.UUID, f drive.File, dir string) (string, error) {
	rc, size, err := svc.Download(ctx, f.ID)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	out, err := os.CreateTemp(dir, "container-*.zip")
	if err != nil {
		return "", err
	}
	if size <= 0 {
		size = f.Size
	}
	var written, lastReport int64
	buf := make([]byte, 1<<20)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(out.Name())
				return "", werr
			}
			written += int64(n)
			if written-lastReport >= downloadProgressStep {
				lastReport = written
				r.reportDownload(owner, written, size)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			os.Remove(out.Name())
			return "", rerr
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	r.reportDownload(owner, written, written)
	return out.Name(), nil
}

func (r *Runner) reportDownload(owner uuid.UUID, done, total int64) {
	r.tracker.Update(owner, func(p *types.SyncProgress) {
		p.DownloadedMB = int(done >> 20)
		p.DownloadTotalMB = int(total >> 20)
		if total > 0 {
			p.DownloadPercent = int(100 * done / total)
		}
	})
}

// commitBatch writes the pending batch through the ingestion pipeline
// and checkpoints it. Temp files are released as entries are consumed.
func (r *Runner) commitBatch(ctx context.Context, st *attemptState) error {
	if len(st.pending) == 0 {
		return nil
	}
	job := st.job

	// A newer completed sibling cancels this job between batches.
	cur, err := r.store.GetSyncJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if cur.Status == types.SyncStatusCancelled {
		r.discardPending(st)
		return errSuperseded
	}

	st.batchNo++
	r.tracker.Update(job.Owner, func(p *types.SyncProgress) {
		p.Phase = types.PhaseImporting
		p.CurrentBatch = st.batchNo
	})

	var c types.SyncCounters
	lastKey := ""
	for i := range st.pending {
		it := &st.pending[i]
		prior, err := r.store.UpsertSyncFile(ctx, &types.SyncFile{
			JobID:        job.ID,
			Owner:        job.Owner,
			SourceFileID: it.sourceFileID,
			SourceEntry:  it.sourceEntry,
			Filename:     it.filename,
			MIME:         it.mime,
			SizeBytes:    it.size,
		})
		if err != nil {
			r.discardPending(st)
			return err
		}
		c.Processed++
		if it.sourceEntry != "" {
			r.tracker.Update(job.Owner, func(p *types.SyncProgress) { p.ZipEntriesProcessed++ })
		}
		if prior == types.SyncFileCompleted {
			c.Skipped++
			it.discard()
			continue
		}
		data, err := it.bytes()
		if err != nil {
			c.Failed++
			r.tracker.Failure(job.Owner, it.filename, err.Error())
			if merr := r.store.MarkSyncFile(ctx, job.Owner, it.sourceFileID, it.sourceEntry, types.SyncFileFailed, st.batchNo, err.Error()); merr != nil {
				r.discardPending(st)
				return merr
			}
			it.discard()
			continue
		}
		_, err = r.imp.IngestBytes(ctx, job.Owner, it.filename, data, types.SourceDrive, it.sourceID())
		it.discard()
		switch {
		case err == nil:
			c.Uploaded++
			lastKey = it.sourceID()
			if merr := r.store.MarkSyncFile(ctx, job.Owner, it.sourceFileID, it.sourceEntry, types.SyncFileCompleted, st.batchNo, ""); merr != nil {
				r.discardPending(st)
				return merr
			}
		case ingest.IsSkip(err):
			c.Skipped++
			if merr := r.store.MarkSyncFile(ctx, job.Owner, it.sourceFileID, it.sourceEntry, types.SyncFileCompleted, st.batchNo, ""); merr != nil {
				r.discardPending(st)
				return merr
			}
		case errors.Is(err, lkerr.ErrStorageUnavailable):
			r.discardPending(st)
			return err
		default:
			c.Failed++
			r.tracker.Failure(job.Owner, it.filename, err.Error())
			if merr := r.store.MarkSyncFile(ctx, job.Owner, it.sourceFileID, it.sourceEntry, types.SyncFileFailed, st.batchNo, err.Error()); merr != nil {
				r.discardPending(st)
				return merr
			}
		}
	}
	st.pending = st.pending[:0]

	if err := r.store.AddSyncJobCounters(ctx, job.ID, c); err != nil {
		return err
	}
	if err := r.store.UpsertCheckpoint(ctx, job.ID, st.batchNo, lastKey); err != nil {
		return err
	}
	r.trackCounters(job.Owner, c)
	return nil
}

func (r *Runner) discardPending(st *attemptState) {
	for i := range st.pending {
		st.pending[i].discard()
	}
	st.pending = st.pending[:0]
}

func (r *Runner) trackCounters(owner uuid.UUID, c types.SyncCounters) {
	r.tracker.Update(owner, func(p *types.SyncProgress) {
		p.ProcessedFiles += c.Processed
		p.Uploaded += c.Uploaded
		p.Skipped += c.Skipped
		p.Failed += c.Failed
	})
}
