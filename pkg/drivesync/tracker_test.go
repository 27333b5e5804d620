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
	"testing"

	"github.com/stretchr/testify/require"

	"lumekeep.org/pkg/types"
)

func TestTrackerClampsProgressPercent(t *testing.T) {
	job := newTestJob(50)
	tr := NewTracker()
	tr.Start(job)

	// One listed container that expands to many committed entries.
	tr.Update(job.Owner, func(p *types.SyncProgress) { p.TotalFiles = 1 })
	tr.Update(job.Owner, func(p *types.SyncProgress) { p.ProcessedFiles += 200 })

	snap := tr.Snapshot(job.Owner)
	require.Equal(t, 200, snap.ProcessedFiles)
	require.Equal(t, 100, snap.ProgressPercent)

	// A partial plain listing still reports a true ratio.
	tr.Start(job)
	tr.Update(job.Owner, func(p *types.SyncProgress) { p.TotalFiles = 4 })
	tr.Update(job.Owner, func(p *types.SyncProgress) { p.ProcessedFiles++ })
	require.Equal(t, 25, tr.Snapshot(job.Owner).ProgressPercent)
}

func TestTrackerUntrackedOwnerIsIdle(t *testing.T) {
	tr := NewTracker()
	snap := tr.Snapshot(newTestJob(50).Owner)
	require.Equal(t, "idle", snap.Status)
	require.Equal(t, types.PhaseIdle, snap.Phase)
}
