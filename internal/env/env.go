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

// Package env loads daemon configuration from the process environment,
// optionally seeded from a .env file.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"lumekeep.org/pkg/objstore"
	"lumekeep.org/pkg/types"
)

// Config is everything lumekeepd needs to run.
type Config struct {
	DatabaseURL string
	EmbedderURL string

	// RedisURL may be empty; queues then degrade to no-ops.
	RedisURL string

	ObjStore objstore.Config

	DriveClientID     string
	DriveClientSecret string

	MaxFileBytes      int64
	DriveMaxBytes     int64
	BatchSize         int
	MaxAttempts       int
	SearchProbes      int
	ClusterThreshold  float64
	ClusterCandidates int
}

const (
	defaultMaxFileBytes  = 50 << 20
	defaultDriveMaxBytes = 512 << 20
	defaultBatchSize     = 50
	maxBatchSize         = 100
	defaultMaxAttempts   = 5
	defaultSearchProbes  = 100
	defaultThreshold     = 0.86
	defaultCandidates    = 600
)

// Load reads the configuration. A .env file in the working directory is
// merged in first when present; real environment variables win.
func Load() (*Config, error) {
	// godotenv never overrides variables already set.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		EmbedderURL: os.Getenv("EMBEDDER_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		ObjStore: objstore.Config{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			Region:    os.Getenv("S3_REGION"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Bucket:    os.Getenv("S3_BUCKET"),
		},
		DriveClientID:     os.Getenv("DRIVE_CLIENT_ID"),
		DriveClientSecret: os.Getenv("DRIVE_CLIENT_SECRET"),
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}
	if cfg.EmbedderURL == "" {
		return nil, fmt.Errorf("EMBEDDER_URL not set")
	}

	var err error
	if cfg.MaxFileBytes, err = bytesVar("MAX_FILE_SIZE", defaultMaxFileBytes); err != nil {
		return nil, err
	}
	if cfg.DriveMaxBytes, err = bytesVar("DRIVE_MAX", defaultDriveMaxBytes); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = intVar("BATCH_SIZE", defaultBatchSize); err != nil {
		return nil, err
	}
	if cfg.BatchSize < 1 || cfg.BatchSize > maxBatchSize {
		return nil, fmt.Errorf("BATCH_SIZE must be between 1 and %d", maxBatchSize)
	}
	if cfg.MaxAttempts, err = intVar("MAX_ATTEMPTS", defaultMaxAttempts); err != nil {
		return nil, err
	}
	if cfg.SearchProbes, err = intVar("SEARCH_PROBES", defaultSearchProbes); err != nil {
		return nil, err
	}
	if cfg.ClusterThreshold, err = floatVar("CLUSTER_THRESHOLD", defaultThreshold); err != nil {
		return nil, err
	}
	if cfg.ClusterCandidates, err = intVar("CLUSTER_CANDIDATES", defaultCandidates); err != nil {
		return nil, err
	}
	// The embedding dimension is baked into the database schema; a
	// mismatched override is a deployment mistake worth failing on.
	if dim, err := intVar("EMBED_DIM", types.EmbedDim); err != nil {
		return nil, err
	} else if dim != types.EmbedDim {
		return nil, fmt.Errorf("EMBED_DIM is %d, schema uses vector(%d)", dim, types.EmbedDim)
	}
	return cfg, nil
}

func intVar(name string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", name, err)
	}
	return n, nil
}

func floatVar(name string, def float64) (float64, error) {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", name, err)
	}
	return v, nil
}

// bytesVar parses a byte count, accepting a bare number or a K/M/G
// suffix ("512M", "5G").
func bytesVar(name string, def int64) (int64, error) {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return def, nil
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "k"):
		mult, s = 1<<10, s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		mult, s = 1<<20, s[:len(s)-1]
	case strings.HasSuffix(s, "G"), strings.HasSuffix(s, "g"):
		mult, s = 1<<30, s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", name, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return n * mult, nil
}
