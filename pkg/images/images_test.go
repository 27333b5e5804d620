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

package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"
)

// testJPEG encodes a deterministic gradient image so hashes are stable
// across runs.
func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	im := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			im.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, im, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestPerceptualHashDeterministic(t *testing.T) {
	data := testJPEG(t, 320, 240)
	h1, err := PerceptualHash(data)
	require.NoError(t, err)
	h2, err := PerceptualHash(data)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 16)
}

func TestPerceptualHashDiffersForDifferentContent(t *testing.T) {
	a, err := PerceptualHash(testJPEG(t, 320, 240))
	require.NoError(t, err)

	im := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			if (x/16+y/16)%2 == 0 {
				im.Set(x, y, color.White)
			} else {
				im.Set(x, y, color.Black)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, im))
	b, err := PerceptualHash(buf.Bytes())
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestPerceptualHashRejectsGarbage(t *testing.T) {
	_, err := PerceptualHash([]byte("not an image"))
	require.Error(t, err)
}

func TestThumbnailFitsBoundingBox(t *testing.T) {
	thumb, err := Thumbnail(testJPEG(t, 800, 600))
	require.NoError(t, err)
	require.Equal(t, 800, thumb.SourceWidth)
	require.Equal(t, 600, thumb.SourceHeight)

	im, err := webp.Decode(bytes.NewReader(thumb.WebP))
	require.NoError(t, err)
	b := im.Bounds()
	require.LessOrEqual(t, b.Dx(), thumbMaxDim)
	require.LessOrEqual(t, b.Dy(), thumbMaxDim)
	// Aspect ratio preserved: 800x600 fits to 400x300.
	require.Equal(t, 400, b.Dx())
	require.Equal(t, 300, b.Dy())
}

func TestThumbnailUpholdsSmallImages(t *testing.T) {
	thumb, err := Thumbnail(testJPEG(t, 100, 80))
	require.NoError(t, err)
	im, err := webp.Decode(bytes.NewReader(thumb.WebP))
	require.NoError(t, err)
	require.LessOrEqual(t, im.Bounds().Dx(), 100)
}

func TestExtractEXIFNeverFails(t *testing.T) {
	// A plain encoded JPEG carries no EXIF block.
	rec := ExtractEXIF(testJPEG(t, 64, 64))
	require.Nil(t, rec.TakenAt)
	require.Nil(t, rec.GPSLat)
	require.Empty(t, rec.CameraMake)

	// Garbage input is also fine.
	rec = ExtractEXIF([]byte("garbage"))
	require.Equal(t, EXIF{}, rec)
}
