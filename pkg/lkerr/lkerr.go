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

// Package lkerr defines the error kinds shared across the photo
// library. Callers classify failures with errors.Is against these
// sentinels; wrapping with fmt.Errorf("...: %w", err) preserves the
// kind across layers.
package lkerr

import "errors"

var (
	// ErrInvalidInput is returned for malformed ids, cursors, names
	// and out-of-range parameters.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuthRequired is returned when no authenticated user is
	// associated with the request.
	ErrAuthRequired = errors.New("authentication required")

	// ErrForbidden is returned when the caller does not own the
	// entity it is operating on.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when an entity does not exist or is
	// not visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrMagicMismatch is returned when a file's magic bytes do not
	// match its claimed content type.
	ErrMagicMismatch = errors.New("magic bytes do not match claimed type")

	// ErrArchiveInvalid is returned for malformed or oversized ZIP
	// containers.
	ErrArchiveInvalid = errors.New("invalid archive")

	// ErrDuplicateSource is returned when inserting a photo whose
	// (owner, source, source_id) already exists. Callers map it to
	// "skipped", never to "failed".
	ErrDuplicateSource = errors.New("duplicate source")

	// ErrStorageUnavailable is returned when the object store is
	// unconfigured, denies access, or is unreachable.
	ErrStorageUnavailable = errors.New("object storage unavailable")

	// ErrStorageNotFound is returned when a key does not exist in
	// the object store.
	ErrStorageNotFound = errors.New("object not found in storage")

	// ErrEmbedFailed is returned when the embedder rejects an image
	// or returns a vector of the wrong dimension.
	ErrEmbedFailed = errors.New("embedding failed")

	// ErrSearchUnavailable is returned when the embedder cannot
	// produce a query vector.
	ErrSearchUnavailable = errors.New("search unavailable")

	// ErrSourceAuthRevoked is returned when the external source's
	// OAuth grant is gone; it disables the user's sync flag.
	ErrSourceAuthRevoked = errors.New("source authorization revoked")

	// ErrRateLimited is returned when the external source throttles
	// us beyond what the client-side limiter absorbs.
	ErrRateLimited = errors.New("rate limited")
)
