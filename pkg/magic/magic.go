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

// Package magic sniffs the content types the photo library cares
// about, based on the well-known "magic" number prefixes in the file.
// Magic bytes win over the filename extension; the extension is only a
// fallback for formats whose header we do not recognize.
package magic

import (
	"bytes"
	"path/filepath"
	"strings"
)

// A matchEntry matches a byte prefix (typically the first 1KB) and, on
// a match, yields the resulting MIME type. A matcher is either a
// function or an (offset+prefix).
type matchEntry struct {
	// fn specifies a matching function. If set, offset & prefix
	// are not used.
	fn func(prefix []byte) bool

	// offset is how many bytes of the input to ignore before
	// matching the prefix.
	offset int

	// prefix is the prefix to look for at offset.
	prefix []byte

	// mtype is the resulting MIME type, on a match.
	mtype string
}

// matchTable is the list of matchers. The first matching one wins.
//
// usable source: http://www.garykessler.net/library/file_sigs.html
var matchTable = []matchEntry{
	{prefix: []byte("GIF87a"), mtype: "image/gif"},
	{prefix: []byte("GIF89a"), mtype: "image/gif"},
	{prefix: []byte("\xff\xd8\xff"), mtype: "image/jpeg"},
	{prefix: []byte{137, 'P', 'N', 'G', '\r', '\n', 26, 10}, mtype: "image/png"},
	{offset: 8, prefix: []byte("WEBP"), mtype: "image/webp"},
	{fn: isHEIF, mtype: "image/heic"},
	{prefix: []byte("BM"), mtype: "image/bmp"},
	{prefix: []byte("II*\x00"), mtype: "image/tiff"},
	{prefix: []byte("MM\x00*"), mtype: "image/tiff"},
	{prefix: []byte{'P', 'K', 3, 4}, mtype: "application/zip"},
	{prefix: []byte{'P', 'K', 5, 6}, mtype: "application/zip"}, // empty archive
}

// isHEIF reports whether the prefix looks like a BMFF container for a
// HEIC/HEIF still image: an "ftyp" box whose major brand (or one we
// accept as equivalent) is a HEIF image brand.
func isHEIF(prefix []byte) bool {
	if len(prefix) < 12 {
		return false
	}
	if string(prefix[4:8]) != "ftyp" {
		return false
	}
	switch string(prefix[8:12]) {
	case "heic", "heix", "heim", "heis", "hevc", "hevx", "mif1", "msf1":
		return true
	}
	return false
}

// MIMEType returns the MIME type sniffed from the provided header
// bytes, or the empty string if it is none of the types the library
// handles.
func MIMEType(hdr []byte) string {
	for _, m := range matchTable {
		if m.fn != nil {
			if m.fn(hdr) {
				return m.mtype
			}
			continue
		}
		if len(hdr) >= m.offset+len(m.prefix) && bytes.Equal(hdr[m.offset:m.offset+len(m.prefix)], m.prefix) {
			return m.mtype
		}
	}
	return ""
}

// imageExts maps filename extensions to the canonical image MIME type,
// for files whose header we cannot sniff (e.g. partially listed remote
// entries).
var imageExts = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"heic": "image/heic",
	"heif": "image/heif",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
}

// ImageType returns the canonical image MIME type of the named file:
// magic bytes first, then the filename extension. It returns the empty
// string if the file is not a supported image.
func ImageType(filename string, hdr []byte) string {
	if mt := MIMEType(hdr); mt != "" {
		if strings.HasPrefix(mt, "image/") {
			return mt
		}
		return ""
	}
	return imageExts[lowerExt(filename)]
}

// IsZip reports whether the file is a ZIP container, judged by magic
// bytes, the claimed content type, or the extension.
func IsZip(filename, claimedType string, hdr []byte) bool {
	if MIMEType(hdr) == "application/zip" {
		return true
	}
	switch strings.ToLower(claimedType) {
	case "application/zip", "application/x-zip-compressed", "multipart/x-zip":
		return true
	}
	return lowerExt(filename) == "zip"
}

// IsImageName reports whether the filename or claimed type looks like
// an image, without any bytes to sniff. Used by the source walker,
// which never downloads content.
func IsImageName(filename, claimedType string) bool {
	if strings.HasPrefix(strings.ToLower(claimedType), "image/") {
		return true
	}
	_, ok := imageExts[lowerExt(filename)]
	return ok
}

func lowerExt(filename string) string {
	e := filepath.Ext(filename)
	if !strings.HasPrefix(e, ".") {
		return ""
	}
	return strings.ToLower(e[1:])
}
