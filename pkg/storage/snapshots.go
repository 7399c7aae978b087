package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clinsight-ai/platform/pkg/common/logger"
	"github.com/clinsight-ai/platform/pkg/common/models"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrSnapshotNotReady covers a snapshot that exists but is not yet fully
	// written. Pollers treat it the same as absent.
	ErrSnapshotNotReady = errors.New("snapshot not ready")
)

// SnapshotStore persists evolution outputs as immutable JSON snapshots under
// `<root>/<namespace>/generated/<identifier>_patient_evolution.json`,
// overwrite-on-success, with an optional Redis hot cache in front of the
// filesystem.
type SnapshotStore struct {
	root      string
	namespace string
	cache     *redis.Client
	cacheTTL  time.Duration
}

func NewSnapshotStore(root, namespace string, cache *redis.Client, cacheTTL time.Duration) *SnapshotStore {
	return &SnapshotStore{
		root:      root,
		namespace: namespace,
		cache:     cache,
		cacheTTL:  cacheTTL,
	}
}

// Path returns the absolute filesystem path for an identifier's snapshot.
func (s *SnapshotStore) Path(identifier string) string {
	return filepath.Join(s.root, s.namespace, "generated", identifier+"_patient_evolution.json")
}

// RelativePath returns the path convention clients poll, relative to the
// storage root.
func (s *SnapshotStore) RelativePath(identifier string) string {
	return fmt.Sprintf("%s/generated/%s_patient_evolution.json", s.namespace, identifier)
}

func (s *SnapshotStore) cacheKey(identifier string) string {
	return fmt.Sprintf("snapshot:%s:%s", s.namespace, identifier)
}

// Save writes the snapshot atomically (temp file + rename) so a concurrent
// reader never observes a partial document, then refreshes the hot cache.
func (s *SnapshotStore) Save(ctx context.Context, identifier string, output *models.PatientEvolutionOutput) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	path := s.Path(identifier)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publishing snapshot: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, s.cacheKey(identifier), data, s.cacheTTL).Err(); err != nil {
			logger.Log.WithError(err).Warn("failed to cache snapshot")
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"identifier": identifier,
		"bytes":      len(data),
	}).Info("snapshot persisted")
	return nil
}

// Load reads an identifier's latest snapshot, preferring the hot cache.
func (s *SnapshotStore) Load(ctx context.Context, identifier string) (*models.PatientEvolutionOutput, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, s.cacheKey(identifier)).Bytes(); err == nil {
			var output models.PatientEvolutionOutput
			if err := json.Unmarshal(data, &output); err == nil {
				return &output, nil
			}
		}
	}

	data, err := s.LoadRaw(identifier)
	if err != nil {
		return nil, err
	}
	var output models.PatientEvolutionOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotNotReady, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, s.cacheKey(identifier), data, s.cacheTTL).Err(); err != nil {
			logger.Log.WithError(err).Warn("failed to cache snapshot")
		}
	}
	return &output, nil
}

// LoadRaw returns the snapshot bytes without decoding, for handlers that
// serve the file as-is.
func (s *SnapshotStore) LoadRaw(identifier string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(identifier))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return data, nil
}
