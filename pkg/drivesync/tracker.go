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

package drivesync

import (
	"sync"

	"github.com/google/uuid"

	"lumekeep.org/pkg/types"
)

// recentFailureCap bounds the per-user failure ring buffer.
const recentFailureCap = 10

// Tracker keeps process-local progress snapshots per user for the sync
// status endpoint. It is advisory; the job row holds the authoritative
// counters. Snapshots do not survive restarts.
type Tracker struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*types.SyncProgress // keyed by owner
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{byID: map[uuid.UUID]*types.SyncProgress{}}
}

// Start resets the user's snapshot for a fresh job attempt.
func (t *Tracker) Start(job *types.SyncJob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[job.Owner] = &types.SyncProgress{
		Status:    "running",
		Phase:     types.PhaseAuth,
		JobID:     job.ID.String(),
		BatchSize: job.BatchSize,
	}
}

// Update applies fn to the user's snapshot under the lock. Unknown
// users are ignored.
func (t *Tracker) Update(owner uuid.UUID, fn func(*types.SyncProgress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byID[owner]
	if !ok {
		return
	}
	fn(p)
	if p.TotalFiles > 0 {
		// ProcessedFiles counts every committed item, ZIP entries
		// included, while TotalFiles counts listing entries only, so
		// the raw ratio can pass 100.
		pct := 100 * p.ProcessedFiles / p.TotalFiles
		if pct > 100 {
			pct = 100
		}
		p.ProgressPercent = pct
	}
}

// Failure appends to the user's recent-failure ring buffer.
func (t *Tracker) Failure(owner uuid.UUID, item, reason string) {
	t.Update(owner, func(p *types.SyncProgress) {
		p.RecentFailures = append(p.RecentFailures, types.SyncFailure{Item: item, Reason: reason})
		if len(p.RecentFailures) > recentFailureCap {
			p.RecentFailures = p.RecentFailures[len(p.RecentFailures)-recentFailureCap:]
		}
	})
}

// Done marks the user's sync finished.
func (t *Tracker) Done(owner uuid.UUID) {
	t.Update(owner, func(p *types.SyncProgress) {
		p.Status = "done"
		p.Phase = types.PhaseCompleted
		p.ProgressPercent = 100
		p.CurrentItem = ""
	})
}

// Error records a failed attempt with its message.
func (t *Tracker) Error(owner uuid.UUID, msg string) {
	t.Update(owner, func(p *types.SyncProgress) {
		p.Status = "error"
		p.Message = msg
	})
}

// Snapshot returns a copy of the user's progress, or an idle record
// when the user has no tracked sync.
func (t *Tracker) Snapshot(owner uuid.UUID) types.SyncProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byID[owner]
	if !ok {
		return types.SyncProgress{Status: "idle", Phase: types.PhaseIdle}
	}
	cp := *p
	cp.RecentFailures = append([]types.SyncFailure(nil), p.RecentFailures...)
	return cp
}
