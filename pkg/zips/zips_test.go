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

package zips

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"lumekeep.org/pkg/lkerr"
)

func encodeJPEG(t *testing.T) []byte {
	t.Helper()
	im := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			im.Set(x, y, color.RGBA{uint8(x * 8), uint8(y * 8), 0, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, im, nil))
	return buf.Bytes()
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	im := image.NewRGBA(image.Rect(0, 0, 16, 16))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, im))
	return buf.Bytes()
}

type zipEntry struct {
	name string
	data []byte
}

func buildZip(t *testing.T, dir, name string, entries []zipEntry) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func collect(t *testing.T, archive string, maxEntry int64) []Entry {
	t.Helper()
	var got []Entry
	err := ForeachImage(archive, maxEntry, t.TempDir(), func(e Entry) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestForeachImageFlatArchive(t *testing.T) {
	dir := t.TempDir()
	jpg := encodeJPEG(t)
	archive := buildZip(t, dir, "a.zip", []zipEntry{
		{"photos/", nil}, // directory entry
		{"photos/c.png", encodePNG(t)},
		{"d.txt", []byte("not an image")},
		{"e.jpg", jpg},
	})

	got := collect(t, archive, 1<<20)
	require.Len(t, got, 2)
	require.Equal(t, "photos/c.png", got[0].Name)
	require.Equal(t, "image/png", got[0].MIME)
	require.Equal(t, "e.jpg", got[1].Name)
	require.Equal(t, "image/jpeg", got[1].MIME)

	for _, e := range got {
		data, err := os.ReadFile(e.Path)
		require.NoError(t, err)
		require.Equal(t, e.Size, int64(len(data)))
	}
}

func TestForeachImageSkipsOversizedEntries(t *testing.T) {
	dir := t.TempDir()
	small := encodeJPEG(t)
	big := make([]byte, len(small)+512)
	copy(big, small) // valid jpeg header, padded past the limit
	archive := buildZip(t, dir, "a.zip", []zipEntry{
		{"small.jpg", small},
		{"big.jpg", big},
	})

	got := collect(t, archive, int64(len(small)))
	require.Len(t, got, 1)
	require.Equal(t, "small.jpg", got[0].Name)
}

func TestForeachImageNestedArchives(t *testing.T) {
	dir := t.TempDir()
	inner := buildZip(t, dir, "inner.zip", []zipEntry{
		{"deep.jpg", encodeJPEG(t)},
	})
	innerBytes, err := os.ReadFile(inner)
	require.NoError(t, err)
	outer := buildZip(t, dir, "outer.zip", []zipEntry{
		{"top.jpg", encodeJPEG(t)},
		{"inner.zip", innerBytes},
	})

	got := collect(t, outer, 1<<20)
	require.Len(t, got, 2)
	require.Equal(t, "top.jpg", got[0].Name)
	require.Equal(t, "inner.zip::deep.jpg", got[1].Name)
}

func TestForeachImageDepthLimit(t *testing.T) {
	dir := t.TempDir()
	level3 := buildZip(t, dir, "l3.zip", []zipEntry{{"deepest.jpg", encodeJPEG(t)}})
	l3, err := os.ReadFile(level3)
	require.NoError(t, err)
	level2 := buildZip(t, dir, "l2.zip", []zipEntry{{"l3.zip", l3}})
	l2, err := os.ReadFile(level2)
	require.NoError(t, err)
	level1 := buildZip(t, dir, "l1.zip", []zipEntry{{"l2.zip", l2}, {"shallow.jpg", encodeJPEG(t)}})

	// Depth 3 reaches l3.zip's entries; nothing deeper exists, so all
	// three levels are visible.
	got := collect(t, level1, 1<<20)
	require.Len(t, got, 2)
	require.Equal(t, "l2.zip::l3.zip::deepest.jpg", got[0].Name)
	require.Equal(t, "shallow.jpg", got[1].Name)

	// One more wrapper pushes the image past the depth limit.
	l1, err := os.ReadFile(level1)
	require.NoError(t, err)
	level0 := buildZip(t, dir, "l0.zip", []zipEntry{{"l1.zip", l1}})
	got = collect(t, level0, 1<<20)
	require.Len(t, got, 1)
	require.Equal(t, "l1.zip::shallow.jpg", got[0].Name)
}

func TestForeachImageMalformedArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04 this is not a real zip"), 0600))
	err := ForeachImage(path, 1<<20, t.TempDir(), func(Entry) error { return nil })
	require.ErrorIs(t, err, lkerr.ErrArchiveInvalid)
}

func TestForeachImageMissingArchive(t *testing.T) {
	err := ForeachImage(filepath.Join(t.TempDir(), "gone.zip"), 1<<20, t.TempDir(), func(Entry) error { return nil })
	require.ErrorIs(t, err, lkerr.ErrArchiveInvalid)
}

func TestForeachImageCallbackErrorStops(t *testing.T) {
	dir := t.TempDir()
	archive := buildZip(t, dir, "a.zip", []zipEntry{
		{"a.jpg", encodeJPEG(t)},
		{"b.jpg", encodeJPEG(t)},
	})
	calls := 0
	err := ForeachImage(archive, 1<<20, t.TempDir(), func(Entry) error {
		calls++
		return os.ErrClosed
	})
	require.ErrorIs(t, err, os.ErrClosed)
	require.Equal(t, 1, calls)
}
