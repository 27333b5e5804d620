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

// Package embed talks to the external CLIP embedding service, which
// exposes POST /embed/text and POST /embed/image and returns a dense
// float vector of fixed dimension.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"lumekeep.org/pkg/lkerr"
	"lumekeep.org/pkg/types"
)

const defaultTimeout = 30 * time.Second

// Client calls the embedder service.
type Client struct {
	baseURL string
	hc      *http.Client
	dim     int
}

// NewClient returns a client for the embedder at baseURL. An empty
// baseURL yields a client whose calls always fail with the embed/search
// unavailable kinds, mirroring the unconfigured-queue degrade.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultTimeout},
		dim:     types.EmbedDim,
	}
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedText embeds a search query. Failures are
// lkerr.ErrSearchUnavailable.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: embedder not configured", lkerr.ErrSearchUnavailable)
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lkerr.ErrSearchUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed/text", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lkerr.ErrSearchUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	vec, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lkerr.ErrSearchUnavailable, err)
	}
	return vec, nil
}

// EmbedImage embeds photo bytes. Failures, including vectors of the
// wrong length, are lkerr.ErrEmbedFailed so the caller re-enqueues.
func (c *Client) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: embedder not configured", lkerr.ErrEmbedFailed)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lkerr.ErrEmbedFailed, err)
	}
	if _, err := fw.Write(image); err != nil {
		return nil, fmt.Errorf("%w: %v", lkerr.ErrEmbedFailed, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", lkerr.ErrEmbedFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed/image", &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lkerr.ErrEmbedFailed, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	vec, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lkerr.ErrEmbedFailed, err)
	}
	return vec, nil
}

func (c *Client) do(req *http.Request) ([]float32, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("embedder returned status %d", resp.StatusCode)
	}
	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decoding embedder response: %v", err)
	}
	if len(er.Embedding) != c.dim {
		return nil, fmt.Errorf("embedder returned vector of length %d, want %d", len(er.Embedding), c.dim)
	}
	return er.Embedding, nil
}
