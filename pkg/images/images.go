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

// Package images implements the CPU-bound image steps of the ingestion
// pipeline: perceptual hashing, EXIF extraction, and thumbnailing.
package images

import (
	"bytes"
	"fmt"
	"image"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/rwcarlsen/goexif/exif"
)

// Thumbnails fit within this bounding box, preserving aspect ratio.
const thumbMaxDim = 400

const thumbWebpQuality = 80

// PerceptualHash returns the DCT-based pHash of the image as a
// 16-character hex string: a 32x32 grayscale downsample, 8x8 of DCT
// low-frequency coefficients thresholded against their median.
// Identical bytes always produce identical strings; visually identical
// images usually do too, which is what dedup wants.
func PerceptualHash(data []byte) (string, error) {
	im, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decoding image for phash: %w", err)
	}
	h, err := goimagehash.PerceptionHash(im)
	if err != nil {
		return "", fmt.Errorf("computing phash: %w", err)
	}
	return fmt.Sprintf("%016x", h.GetHash()), nil
}

// EXIF is the metadata record extracted from an image. Fields the file
// does not carry are left at their zero values.
type EXIF struct {
	TakenAt     *time.Time // local wall clock, no offset
	GPSLat      *float64
	GPSLng      *float64
	CameraMake  string
	CameraModel string
	Width       int
	Height      int
}

// ExtractEXIF decodes the EXIF block of an image. It never fails: any
// decode error yields an empty record, since metadata is best-effort.
func ExtractEXIF(data []byte) EXIF {
	var out EXIF
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return out
	}
	if t, err := x.DateTime(); err == nil {
		out.TakenAt = &t
	}
	if lat, lng, err := x.LatLong(); err == nil {
		out.GPSLat = &lat
		out.GPSLng = &lng
	}
	if tag, err := x.Get(exif.Make); err == nil {
		if s, err := tag.StringVal(); err == nil {
			out.CameraMake = s
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if s, err := tag.StringVal(); err == nil {
			out.CameraModel = s
		}
	}
	out.Width = intTag(x, exif.PixelXDimension, exif.ImageWidth)
	out.Height = intTag(x, exif.PixelYDimension, exif.ImageLength)
	return out
}

func intTag(x *exif.Exif, names ...exif.FieldName) int {
	for _, name := range names {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		if v, err := tag.Int(0); err == nil {
			return v
		}
	}
	return 0
}

// Thumb is an encoded thumbnail plus the source image's pixel bounds,
// which callers use when EXIF lacks dimensions.
type Thumb struct {
	WebP         []byte
	SourceWidth  int
	SourceHeight int
}

// Thumbnail decodes the image, fits it within a 400x400 bounding box
// preserving aspect ratio, and encodes it as lossy WebP.
func Thumbnail(data []byte) (*Thumb, error) {
	im, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image for thumbnail: %w", err)
	}
	b := im.Bounds()
	// Fit also converts to NRGBA, which the webp encoder wants.
	small := imaging.Fit(im, thumbMaxDim, thumbMaxDim, imaging.Lanczos)
	opts, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, thumbWebpQuality)
	if err != nil {
		return nil, fmt.Errorf("webp encoder options: %w", err)
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, small, opts); err != nil {
		return nil, fmt.Errorf("encoding webp thumbnail: %w", err)
	}
	return &Thumb{
		WebP:         buf.Bytes(),
		SourceWidth:  b.Dx(),
		SourceHeight: b.Dy(),
	}, nil
}
