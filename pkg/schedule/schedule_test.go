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

package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"lumekeep.org/pkg/types"
)

type fakeStore struct {
	targets []types.SyncTarget
	active  map[uuid.UUID]bool
	created []types.SyncJob
}

func (f *fakeStore) ListSyncTargets(context.Context) ([]types.SyncTarget, error) {
	return f.targets, nil
}

func (f *fakeStore) HasActiveSyncJob(_ context.Context, owner uuid.UUID, _ string) (bool, error) {
	return f.active[owner], nil
}

func (f *fakeStore) CreateSyncJob(_ context.Context, owner uuid.UUID, folderID string, batchSize, maxAttempts int) (*types.SyncJob, error) {
	job := types.SyncJob{
		ID:          uuid.New(),
		Owner:       owner,
		FolderID:    folderID,
		Status:      types.SyncStatusQueued,
		BatchSize:   batchSize,
		MaxAttempts: maxAttempts,
	}
	f.created = append(f.created, job)
	return &job, nil
}

type pushRecorder struct{ payloads []string }

func (p *pushRecorder) Push(_ context.Context, payload string) {
	p.payloads = append(p.payloads, payload)
}

type fakeGenerator struct{ ran int }

func (f *fakeGenerator) Generate(context.Context, time.Time) (int, error) {
	f.ran++
	return 0, nil
}

func TestSyncAllUsersSkipsActiveJobs(t *testing.T) {
	busy, idle := uuid.New(), uuid.New()
	store := &fakeStore{
		targets: []types.SyncTarget{
			{Owner: busy, FolderID: "folder-busy"},
			{Owner: idle, FolderID: "folder-idle"},
		},
		active: map[uuid.UUID]bool{busy: true},
	}
	queue := &pushRecorder{}
	s, err := New(store, queue, &fakeGenerator{}, 50, 5)
	require.NoError(t, err)

	n, err := s.SyncAllUsers(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, store.created, 1)
	require.Equal(t, idle, store.created[0].Owner)
	require.Equal(t, "folder-idle", store.created[0].FolderID)
	require.Equal(t, 50, store.created[0].BatchSize)
	require.Equal(t, 5, store.created[0].MaxAttempts)
	require.Equal(t, []string{store.created[0].ID.String()}, queue.payloads)
}

func TestSyncAllUsersNoTargets(t *testing.T) {
	queue := &pushRecorder{}
	s, err := New(&fakeStore{}, queue, &fakeGenerator{}, 50, 5)
	require.NoError(t, err)

	n, err := s.SyncAllUsers(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, queue.payloads)
}

func TestNewRegistersBothJobs(t *testing.T) {
	s, err := New(&fakeStore{}, &pushRecorder{}, &fakeGenerator{}, 50, 5)
	require.NoError(t, err)
	require.Len(t, s.cron.Entries(), 2)
}
