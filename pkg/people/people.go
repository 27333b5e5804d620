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

// Package people groups photos by who is in them. Each newly embedded
// photo is compared against the owner's recently tagged photos by
// cosine similarity; a close enough match joins that person's group,
// anything else starts a fresh anonymous cluster the user can name
// later.
package people

import (
	"context"
	"log"
	"math"
	"os"

	"github.com/google/uuid"

	"lumekeep.org/pkg/photostore"
	"lumekeep.org/pkg/types"
)

// Threshold is the cosine similarity above which two photos are
// assumed to show the same person.
const Threshold = 0.86

// CandidateLimit bounds how many recent tagged photos are compared.
const CandidateLimit = 600

// reindexLogEvery paces progress logging during a full reindex.
const reindexLogEvery = 100

// Store is the repository slice the clusterer needs.
type Store interface {
	PersonTagCandidates(ctx context.Context, owner, excludePhoto uuid.UUID, limit int) ([]types.PersonCandidate, error)
	EnsureTag(ctx context.Context, name string) (types.Tag, error)
	AddPhotoTag(ctx context.Context, photoID, tagID uuid.UUID, source string, confidence float64) error
	ClearPersonTags(ctx context.Context, photoID uuid.UUID) error
	ClearAutoPersonTags(ctx context.Context, owner uuid.UUID) error
	ListEmbeddedIDs(ctx context.Context, owner uuid.UUID) ([]uuid.UUID, error)
	GetPhotoByID(ctx context.Context, id uuid.UUID) (*types.Photo, error)
	CountPersonClusters(ctx context.Context, owner uuid.UUID) (int, error)
}

// Clusterer assigns person tags to embedded photos.
type Clusterer struct {
	store      Store
	threshold  float64
	candidates int
	logf       func(format string, args ...any)
}

// New returns a clusterer with the default threshold and candidate
// window.
func New(store Store) *Clusterer {
	return &Clusterer{
		store:      store,
		threshold:  Threshold,
		candidates: CandidateLimit,
		logf:       log.New(os.Stderr, "people: ", log.LstdFlags).Printf,
	}
}

// SetThreshold overrides the similarity threshold.
func (c *Clusterer) SetThreshold(v float64) { c.threshold = v }

// SetCandidateLimit overrides the candidate window size.
func (c *Clusterer) SetCandidateLimit(n int) { c.candidates = n }

// Assign picks or mints a person tag for the photo and replaces any
// prior person tags on it. Photos without an embedding are left alone.
func (c *Clusterer) Assign(ctx context.Context, p *types.Photo) error {
	if !p.Embedded() {
		return nil
	}
	cands, err := c.store.PersonTagCandidates(ctx, p.Owner, p.ID, c.candidates)
	if err != nil {
		return err
	}
	best := 0.0
	bestName := ""
	for _, cand := range cands {
		if s := cosine(p.Embedding, cand.Embedding); s > best {
			best = s
			bestName = cand.TagName
		}
	}
	name := bestName
	if best < c.threshold {
		name = photostore.PersonClusterPrefix + newClusterToken()
	}
	// A first photo has nothing to score against; tag it with full
	// confidence rather than zero.
	confidence := best
	if confidence == 0 {
		confidence = 1.0
	}

	if err := c.store.ClearPersonTags(ctx, p.ID); err != nil {
		return err
	}
	tag, err := c.store.EnsureTag(ctx, name)
	if err != nil {
		return err
	}
	return c.store.AddPhotoTag(ctx, p.ID, tag.ID, types.TagSourceAutoPeople, confidence)
}

// Reindex reruns assignment over the owner's embedded photos in upload
// order and returns how many were processed. With fullReset, all
// automatic person tags are cleared first so clusters rebuild from
// scratch.
func (c *Clusterer) Reindex(ctx context.Context, owner uuid.UUID, fullReset bool) (int, error) {
	if fullReset {
		if err := c.store.ClearAutoPersonTags(ctx, owner); err != nil {
			return 0, err
		}
	}
	ids, err := c.store.ListEmbeddedIDs(ctx, owner)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		p, err := c.store.GetPhotoByID(ctx, id)
		if err != nil {
			return i, err
		}
		if err := c.Assign(ctx, p); err != nil {
			return i, err
		}
		if (i+1)%reindexLogEvery == 0 {
			c.logf("reindex for %s: %d/%d", owner, i+1, len(ids))
		}
	}
	clusters, err := c.store.CountPersonClusters(ctx, owner)
	if err != nil {
		return len(ids), err
	}
	c.logf("reindex for %s: %d photos in %d clusters", owner, len(ids), clusters)
	return len(ids), nil
}

func newClusterToken() string {
	return uuid.NewString()[:8]
}

// cosine returns the cosine similarity of two vectors, 0 when either
// has no magnitude or the lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
