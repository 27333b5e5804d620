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

package magic

import "testing"

var jpegHeader = []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10, 'J', 'F', 'I', 'F', 0, 1, 1, 0, 0, 1}
var pngHeader = []byte{137, 'P', 'N', 'G', '\r', '\n', 26, 10, 0, 0, 0, 13, 'I', 'H', 'D', 'R'}
var webpHeader = []byte("RIFF\x24\x00\x00\x00WEBPVP8 ")
var heicHeader = []byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00mif1heic")
var zipHeader = []byte{'P', 'K', 3, 4, 0x14, 0, 0, 0, 8, 0, 0, 0, 0, 0, 0, 0}

func TestMatcherTableValid(t *testing.T) {
	for i, mte := range matchTable {
		if mte.fn != nil && (mte.offset != 0 || mte.prefix != nil) {
			t.Errorf("entry %d has both function and offset/prefix set: %+v", i, mte)
		}
		if mte.fn == nil && len(mte.prefix) == 0 {
			t.Errorf("entry %d has neither function nor prefix set: %+v", i, mte)
		}
	}
}

func TestMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", jpegHeader, "image/jpeg"},
		{"png", pngHeader, "image/png"},
		{"webp", webpHeader, "image/webp"},
		{"heic", heicHeader, "image/heic"},
		{"zip", zipHeader, "application/zip"},
		{"bmp", []byte("BM\x8a\x00\x00\x00"), "image/bmp"},
		{"tiff-le", []byte("II*\x00\x08\x00\x00\x00"), "image/tiff"},
		{"tiff-be", []byte("MM\x00*\x00\x00\x00\x08"), "image/tiff"},
		{"junk", []byte("\xff"), ""},
		{"text", []byte("hello, world"), ""},
	}
	for _, tt := range tests {
		if got := MIMEType(tt.data); got != tt.want {
			t.Errorf("MIMEType(%s) = %q; want %q", tt.name, got, tt.want)
		}
	}
}

func TestImageType(t *testing.T) {
	tests := []struct {
		filename string
		data     []byte
		want     string
	}{
		{"a.jpg", jpegHeader, "image/jpeg"},
		{"misnamed.png", jpegHeader, "image/jpeg"}, // magic wins over extension
		{"listed-only.JPG", nil, "image/jpeg"},     // extension fallback, case-insensitive
		{"listed-only.heic", nil, "image/heic"},
		{"archive.zip", zipHeader, ""}, // a zip is not an image
		{"notes.txt", []byte("plain text"), ""},
		{"noext", nil, ""},
	}
	for _, tt := range tests {
		if got := ImageType(tt.filename, tt.data); got != tt.want {
			t.Errorf("ImageType(%q) = %q; want %q", tt.filename, got, tt.want)
		}
	}
}

func TestIsZip(t *testing.T) {
	if !IsZip("photos.zip", "", nil) {
		t.Error("IsZip should accept .zip extension")
	}
	if !IsZip("blob", "application/x-zip-compressed", nil) {
		t.Error("IsZip should accept claimed zip content types")
	}
	if !IsZip("blob", "", zipHeader) {
		t.Error("IsZip should accept PK magic")
	}
	if IsZip("a.jpg", "image/jpeg", jpegHeader) {
		t.Error("IsZip should reject a jpeg")
	}
}

func TestIsImageName(t *testing.T) {
	if !IsImageName("x.jpeg", "") {
		t.Error("IsImageName should accept .jpeg")
	}
	if !IsImageName("x", "image/png") {
		t.Error("IsImageName should accept image/* claimed type")
	}
	if IsImageName("x.zip", "application/zip") {
		t.Error("IsImageName should reject zips")
	}
}
