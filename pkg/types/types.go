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

// Package types defines the entity records shared by the ingestion
// pipeline, the workers, and the photo repository.
package types

import (
	"time"

	"github.com/google/uuid"
)

// EmbedDim is the fixed dimension of photo embeddings.
const EmbedDim = 512

// Photo sources.
const (
	SourceManual = "manual"
	SourceDrive  = "drive"
)

// PhotoTag sources.
const (
	TagSourceAutoCLIP     = "auto_clip"
	TagSourceAutoPeople   = "auto_people"
	TagSourceManualPerson = "manual_person"
	TagSourceManual       = "manual"
)

// Photo is one image owned by a user. The embedding is nil until the
// embedding worker has computed it.
type Photo struct {
	ID               uuid.UUID
	Owner            uuid.UUID
	StorageKey       string
	ThumbnailKey     string
	OriginalFilename string
	SizeBytes        int64
	MIME             string
	Width            int
	Height           int
	TakenAt          *time.Time
	UploadedAt       time.Time
	Source           string
	SourceID         string // composite "fileId::entryPath" for ZIP entries; empty for manual uploads
	PerceptualHash   string
	Embedding        []float32
	EmbeddingAt      *time.Time
	GPSLat           *float64
	GPSLng           *float64
	CameraMake       string
	Caption          string
	IsDeleted        bool
}

// Embedded reports whether the photo's embedding has been computed.
func (p *Photo) Embedded() bool { return len(p.Embedding) > 0 }

// SearchResult pairs a photo with its cosine score (1 - distance).
type SearchResult struct {
	Photo Photo
	Score float64
}

// Cursor is the keyset pagination cursor over (uploaded_at, id),
// strictly descending.
type Cursor struct {
	UploadedAt time.Time
	ID         uuid.UUID
}

// MapPhoto is the projection served to map surfaces.
type MapPhoto struct {
	ID           uuid.UUID
	GPSLat       float64
	GPSLng       float64
	ThumbnailKey string
}

// Tag is a globally shared label. Person tags use the "person:"
// prefix; automatic clusters use "person_cluster:".
type Tag struct {
	ID   uuid.UUID
	Name string
}

// PersonGroup is one person or cluster tag with its photo count.
type PersonGroup struct {
	TagName    string
	PhotoCount int
	CoverPhoto uuid.UUID
}

// PersonCandidate is a neighbour considered by the people clusterer.
type PersonCandidate struct {
	PhotoID   uuid.UUID
	TagName   string
	Embedding []float32
}

// Memory is a generated "N years ago" collection for one day.
type Memory struct {
	ID         uuid.UUID
	Owner      uuid.UUID
	MemoryDate time.Time // date only
	Label      string
	PhotoIDs   []uuid.UUID
}

// MemoryCandidate is one photo eligible for today's memories.
type MemoryCandidate struct {
	Owner   uuid.UUID
	PhotoID uuid.UUID
	TakenAt time.Time
}

// IngestResult summarizes a batch of ingested files.
type IngestResult struct {
	Uploaded int             `json:"uploaded"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
	Failures []IngestFailure `json:"failures,omitempty"`
	PhotoIDs []uuid.UUID     `json:"-"`
}

// IngestFailure names one entry that failed and why.
type IngestFailure struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}
