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

// Package objstore stores photo originals and thumbnails in an
// S3-compatible bucket. Keys follow
// users/<user_id>/photos/<uuid>.<ext> and
// users/<user_id>/thumbnails/<uuid>.webp.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"

	"lumekeep.org/pkg/lkerr"
)

// Config holds the bucket credentials. Endpoint is set for non-AWS
// S3-compatible stores and left empty for AWS itself.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

func (c Config) complete() bool {
	return c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

// Store is the object store adapter. It does no caching.
type Store struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
}

// New builds a Store from config. Missing configuration fails with
// lkerr.ErrStorageUnavailable so callers surface a 503-class error
// instead of panicking mid-upload.
func New(cfg Config) (*Store, error) {
	if !cfg.complete() {
		return nil, fmt.Errorf("%w: object store credentials or bucket not configured", lkerr.ErrStorageUnavailable)
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	awsCfg := aws.NewConfig().
		WithRegion(region).
		WithCredentials(credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")).
		WithS3ForcePathStyle(true)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lkerr.ErrStorageUnavailable, err)
	}
	client := s3.New(sess)
	return &Store{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   cfg.Bucket,
	}, nil
}

// Put stores body under key with the given content type.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      &s.bucket,
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return mapErr(err)
	}
	return nil
}

// Get returns the full object bytes for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapErr(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mapErr(err)
	}
	return data, nil
}

// Delete removes the object at key. Deleting a missing key is not an
// error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		return mapErr(err)
	}
	return nil
}

// PresignGet returns a time-limited read URL for key.
func (s *Store) PresignGet(key string, ttl time.Duration) (string, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(key),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", mapErr(err)
	}
	return url, nil
}

func mapErr(err error) error {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return fmt.Errorf("%w: %v", lkerr.ErrStorageNotFound, err)
		}
	}
	return fmt.Errorf("%w: %v", lkerr.ErrStorageUnavailable, err)
}

// PhotoKey mints a fresh original key for owner. ext is taken from the
// content type when known, else "bin".
func PhotoKey(owner uuid.UUID, contentType string) string {
	return fmt.Sprintf("users/%s/photos/%s.%s", owner, uuid.New(), extFor(contentType))
}

// ThumbKey mints a fresh thumbnail key for owner. Thumbnails are
// always webp.
func ThumbKey(owner uuid.UUID) string {
	return fmt.Sprintf("users/%s/thumbnails/%s.webp", owner, uuid.New())
}

func extFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/heic", "image/heif":
		return "heic"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "bin"
}

// PutBytes is a convenience wrapper for small payloads such as
// thumbnails.
func (s *Store) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	return s.Put(ctx, key, bytes.NewReader(data), contentType)
}
