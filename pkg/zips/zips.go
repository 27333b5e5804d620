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

// Package zips extracts image entries out of (possibly nested) ZIP
// containers. Entries are materialized one at a time under a caller
// supplied directory, so a whole archive is never held in memory and
// the ingestion batch commit can release files as it goes.
package zips

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"lumekeep.org/pkg/lkerr"
	"lumekeep.org/pkg/magic"
)

// MaxContainerBytes is the largest container (outer or nested) the
// unpacker will open.
const MaxContainerBytes = 5 << 30 // 5 GiB

// maxNestedDepth bounds recursion into zips-inside-zips. The outer
// container is depth 1.
const maxNestedDepth = 3

// nameSep joins nested archive names into one logical entry name.
const nameSep = "::"

// An Entry is one image found in a container, materialized on disk.
// The caller owns the file at Path and removes it when done.
type Entry struct {
	Name string // logical name; "inner.zip::photo.jpg" for nested entries
	MIME string
	Path string
	Size int64
}

// ForeachImage walks the ZIP at archivePath and calls fn once per
// image entry, in archive order. Directory entries are skipped;
// entries whose uncompressed size exceeds maxEntryBytes are skipped
// before (and again while) reading; non-image entries are ignored.
// Nested zips are descended up to three levels deep.
//
// Malformed or oversized containers fail with lkerr.ErrArchiveInvalid.
// If fn returns an error, iteration stops with that error.
func ForeachImage(archivePath string, maxEntryBytes int64, dir string, fn func(Entry) error) error {
	return foreachImage(archivePath, "", 1, maxEntryBytes, dir, fn)
}

func foreachImage(archivePath, namePrefix string, depth int, maxEntryBytes int64, dir string, fn func(Entry) error) error {
	fi, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", lkerr.ErrArchiveInvalid, err)
	}
	if fi.Size() > MaxContainerBytes {
		return fmt.Errorf("%w: container is %d bytes, over the %d byte limit", lkerr.ErrArchiveInvalid, fi.Size(), int64(MaxContainerBytes))
	}
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", lkerr.ErrArchiveInvalid, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		logical := f.Name
		if namePrefix != "" {
			logical = namePrefix + nameSep + f.Name
		}
		if isNestedZip(f) {
			if depth >= maxNestedDepth {
				continue
			}
			nested, err := materialize(f, dir, MaxContainerBytes)
			if err != nil {
				// A nested container we cannot materialize is
				// treated like any other unreadable entry.
				continue
			}
			err = foreachImage(nested, logical, depth+1, maxEntryBytes, dir, fn)
			os.Remove(nested)
			if err != nil && !isArchiveInvalid(err) {
				return err
			}
			continue
		}
		if f.UncompressedSize64 > uint64(maxEntryBytes) {
			continue
		}
		mime := entryImageType(f)
		if mime == "" {
			continue
		}
		path, err := materialize(f, dir, maxEntryBytes)
		if err != nil {
			continue
		}
		fi, statErr := os.Stat(path)
		if statErr != nil {
			os.Remove(path)
			continue
		}
		if err := fn(Entry{Name: logical, MIME: mime, Path: path, Size: fi.Size()}); err != nil {
			os.Remove(path)
			return err
		}
	}
	return nil
}

// entryImageType sniffs the first KB of the entry and classifies it,
// falling back to the entry name's extension.
func entryImageType(f *zip.File) string {
	rc, err := f.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()
	hdr := make([]byte, 1024)
	n, _ := io.ReadFull(rc, hdr)
	return magic.ImageType(f.Name, hdr[:n])
}

func isNestedZip(f *zip.File) bool {
	if strings.EqualFold(filepath.Ext(f.Name), ".zip") {
		return true
	}
	rc, err := f.Open()
	if err != nil {
		return false
	}
	defer rc.Close()
	hdr := make([]byte, 16)
	n, _ := io.ReadFull(rc, hdr)
	return magic.MIMEType(hdr[:n]) == "application/zip"
}

// materialize copies the entry to a fresh temp file under dir, reading
// at most limit+1 bytes. An entry whose decompressed stream exceeds
// limit is dropped; zip headers lie sometimes.
func materialize(f *zip.File, dir string, limit int64) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	out, err := os.CreateTemp(dir, "zipentry-*")
	if err != nil {
		return "", err
	}
	n, err := io.Copy(out, io.LimitReader(rc, limit+1))
	closeErr := out.Close()
	if err != nil || closeErr != nil || n > limit {
		os.Remove(out.Name())
		if err == nil && closeErr == nil {
			err = fmt.Errorf("entry %q exceeds %d bytes", f.Name, limit)
		} else if err == nil {
			err = closeErr
		}
		return "", err
	}
	return out.Name(), nil
}

func isArchiveInvalid(err error) bool {
	return errors.Is(err, lkerr.ErrArchiveInvalid)
}
