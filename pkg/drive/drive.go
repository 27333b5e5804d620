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

// Package drive is the client for the external Drive-like file source:
// OAuth2 refresh-token auth, paged folder listing, and streaming
// download. It never interprets file contents; classification beyond
// names and claimed MIME types happens downstream.
package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"lumekeep.org/pkg/lkerr"
)

// FolderMIMEType marks folder entries in listings.
const FolderMIMEType = "application/vnd.google-apps.folder"

const (
	// maximum number of results returned per response page
	pageSize = 1000

	// defaultRateLimit matches the source API's default of
	// 1000 queries/100 seconds/user.
	defaultRateLimit = rate.Limit(10)

	refreshTimeout = 15 * time.Second
)

// A File is one entry of a folder listing. Size is 0 when the source
// does not report it (e.g. for folders).
type File struct {
	ID       string
	Name     string
	MIMEType string
	Size     int64
}

// IsFolder reports whether the entry is a folder to descend into.
func (f File) IsFolder() bool { return f.MIMEType == FolderMIMEType }

// Service is the part of the source the walker and sync runner use.
type Service interface {
	// ListChildren returns one page of folder children plus the next
	// page token, empty when the listing is complete.
	ListChildren(ctx context.Context, folderID, pageToken string) ([]File, string, error)

	// Download streams the file's bytes. The returned size is the
	// content length when the source reports one, else -1.
	Download(ctx context.Context, fileID string) (io.ReadCloser, int64, error)
}

// OAuthConfig returns the OAuth2 client configuration for the source.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gdrive.DriveReadonlyScope},
	}
}

// Client implements Service against the real source API.
type Client struct {
	srv  *gdrive.Service
	rate *rate.Limiter
}

// NewClient exchanges the stored refresh token for an access token and
// returns an authenticated client. A rejected refresh token fails with
// lkerr.ErrSourceAuthRevoked; the caller disables sync for the user.
func NewClient(ctx context.Context, conf *oauth2.Config, refreshToken string) (*Client, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token on file", lkerr.ErrSourceAuthRevoked)
	}
	tctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	ts := conf.TokenSource(tctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lkerr.ErrSourceAuthRevoked, err)
	}
	srv, err := gdrive.NewService(ctx,
		option.WithTokenSource(oauth2.ReuseTokenSource(tok, conf.TokenSource(ctx, tok))))
	if err != nil {
		return nil, fmt.Errorf("creating source service: %w", err)
	}
	return &Client{srv: srv, rate: rate.NewLimiter(defaultRateLimit, 1)}, nil
}

// ListChildren implements Service.
func (c *Client) ListChildren(ctx context.Context, folderID, pageToken string) ([]File, string, error) {
	var r *gdrive.FileList
	err := c.rateLimit(ctx, func() error {
		var err error
		r, err = c.srv.Files.List().
			Context(ctx).
			Q(fmt.Sprintf("'%s' in parents and trashed=false", folderID)).
			Fields("nextPageToken, files(id,name,mimeType,size)").
			PageSize(pageSize).
			PageToken(pageToken).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Do()
		return err
	})
	if err != nil {
		return nil, "", err
	}
	files := make([]File, 0, len(r.Files))
	for _, f := range r.Files {
		if f == nil {
			continue
		}
		files = append(files, File{ID: f.Id, Name: f.Name, MIMEType: f.MimeType, Size: f.Size})
	}
	return files, r.NextPageToken, nil
}

// Download implements Service.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, int64, error) {
	var resp *http.Response
	err := c.rateLimit(ctx, func() error {
		var err error
		resp, err = c.srv.Files.Get(fileID).Context(ctx).Download()
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}

// rateLimit calls f obeying the client-side limit. On "rate limit
// exceeded" responses it sleeps and retries, for at most a minute.
func (c *Client) rateLimit(ctx context.Context, f func() error) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	for {
		if err := c.rate.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", lkerr.ErrRateLimited, err)
		}
		err := f()
		if err == nil {
			return nil
		}
		ge, ok := err.(*googleapi.Error)
		if !ok || ge.Code != http.StatusForbidden {
			return err
		}
		if !rateLimited(ge) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", lkerr.ErrRateLimited, err)
		case <-time.After(5 * time.Second):
		}
	}
}

func rateLimited(ge *googleapi.Error) bool {
	for _, e := range ge.Errors {
		if e.Reason == "userRateLimitExceeded" || e.Reason == "rateLimitExceeded" {
			return true
		}
	}
	return strings.Contains(ge.Message, "Rate Limit Exceeded")
}
