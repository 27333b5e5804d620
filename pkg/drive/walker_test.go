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

package drive

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeService serves a canned tree with paged listings.
type fakeService struct {
	// children maps folderID -> pages of files.
	children map[string][][]File
	listed   []string
}

func (f *fakeService) ListChildren(_ context.Context, folderID, pageToken string) ([]File, string, error) {
	f.listed = append(f.listed, folderID)
	pages := f.children[folderID]
	idx := 0
	if pageToken != "" {
		idx = int(pageToken[0] - '0')
	}
	if idx >= len(pages) {
		return nil, "", nil
	}
	next := ""
	if idx+1 < len(pages) {
		next = string(rune('0' + idx + 1))
	}
	return pages[idx], next, nil
}

func (f *fakeService) Download(context.Context, string) (io.ReadCloser, int64, error) {
	panic("walker must never download")
}

func TestWalkBreadthFirstWithPaging(t *testing.T) {
	svc := &fakeService{children: map[string][][]File{
		"root": {
			{
				{ID: "sub", Name: "holiday", MIMEType: FolderMIMEType},
				{ID: "a", Name: "a.jpg", MIMEType: "image/jpeg", Size: 100},
			},
			{
				{ID: "z", Name: "bundle.zip", MIMEType: "application/zip", Size: 2048},
				{ID: "skip", Name: "notes.txt", MIMEType: "text/plain"},
			},
		},
		"sub": {
			{
				{ID: "b", Name: "b.HEIC", MIMEType: "application/octet-stream", Size: 50},
			},
		},
	}}

	files, err := Walk(context.Background(), svc, "root")
	require.NoError(t, err)

	var ids []string
	for _, f := range files {
		ids = append(ids, f.ID)
	}
	// Root pages come first (discovery order), then the subfolder.
	require.Equal(t, []string{"a", "z", "b"}, ids)
	// Both root pages were fetched before descending.
	require.Equal(t, []string{"root", "root", "sub"}, svc.listed)
}

func TestWalkEmptyFolder(t *testing.T) {
	svc := &fakeService{children: map[string][][]File{}}
	files, err := Walk(context.Background(), svc, "root")
	require.NoError(t, err)
	require.Empty(t, files)
}
