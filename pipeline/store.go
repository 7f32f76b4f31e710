package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DefaultStorePath is where the snapshot lives unless configured otherwise.
const DefaultStorePath = "/sqaaas/sqaaas.json"

// SnapshotStore is a process-local durable Store backed by a single
// snapshot file. Every write serializes the whole mapping to a temporary
// file and renames it into place, so a crash leaves either the old or the
// new complete state, never a partial one.
//
// One writer at a time: the write-temp+rename sequence runs under a
// process-wide mutex. The in-memory mapping is only swapped after the
// rename succeeded, so a failed write never leaves a partial in-memory
// update behind.
type SnapshotStore struct {
	path string
	log  Logger

	mu      sync.RWMutex
	records map[string]*Pipeline
}

// Ensure SnapshotStore implements Store.
var _ Store = (*SnapshotStore)(nil)

// NewSnapshotStore opens the snapshot at path. A missing file yields an
// empty store. A file that cannot be decoded is a fatal error wrapping
// ErrStoreCorrupt; the store is never silently reset.
func NewSnapshotStore(path string, log Logger) (*SnapshotStore, error) {
	if path == "" {
		path = DefaultStorePath
	}
	if log == nil {
		log = NopLogger()
	}

	store := &SnapshotStore{
		path:    path,
		log:     log,
		records: make(map[string]*Pipeline),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First start: nothing persisted yet.
	case err != nil:
		return nil, fmt.Errorf("read store snapshot %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &store.records); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrStoreCorrupt, path, err)
		}
	}

	log.Info(context.Background(), "Opened pipeline store", map[string]interface{}{
		"path":      path,
		"pipelines": len(store.records),
	})
	return store, nil
}

// Put upserts a pipeline record.
func (s *SnapshotStore) Put(ctx context.Context, p *Pipeline) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: pipeline record without identifier", ErrInternal)
	}
	clone, err := clonePipeline(p)
	if err != nil {
		return err
	}
	return s.mutate(func(records map[string]*Pipeline) error {
		records[p.ID] = clone
		return nil
	})
}

// Get retrieves a pipeline by its identifier.
func (s *SnapshotStore) Get(ctx context.Context, id string) (*Pipeline, error) {
	s.mu.RLock()
	record, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return clonePipeline(record)
}

// List returns all pipeline records.
func (s *SnapshotStore) List(ctx context.Context) ([]*Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Pipeline, 0, len(s.records))
	for _, record := range s.records {
		clone, err := clonePipeline(record)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

// Delete removes a pipeline record. Unknown identifiers are an error.
func (s *SnapshotStore) Delete(ctx context.Context, id string) error {
	return s.mutate(func(records map[string]*Pipeline) error {
		if _, ok := records[id]; !ok {
			return ErrNotFound
		}
		delete(records, id)
		return nil
	})
}

// SetCIState replaces the CI state of an existing pipeline.
func (s *SnapshotStore) SetCIState(ctx context.Context, id string, state *CIState) error {
	return s.patch(id, func(p *Pipeline) {
		p.CIState = state
	})
}

// SetBadge attaches an issued badge to an existing pipeline.
func (s *SnapshotStore) SetBadge(ctx context.Context, id string, badge *Badge) error {
	return s.patch(id, func(p *Pipeline) {
		p.Badge = badge
	})
}

// SetAssessment attaches the assessment blob to an existing pipeline.
func (s *SnapshotStore) SetAssessment(ctx context.Context, id string, assessment json.RawMessage) error {
	return s.patch(id, func(p *Pipeline) {
		p.Assessment = assessment
	})
}

// SetSynthesized replaces the synthesized artifacts of an existing
// pipeline.
func (s *SnapshotStore) SetSynthesized(ctx context.Context, id string, artifacts *SynthesizedArtifacts) error {
	return s.patch(id, func(p *Pipeline) {
		p.Synthesized = artifacts
	})
}

// Close releases resources. The snapshot is already durable after every
// write, so Close has nothing to flush.
func (s *SnapshotStore) Close() error {
	return nil
}

// patch applies fn to a copy of the record and persists the result.
func (s *SnapshotStore) patch(id string, fn func(*Pipeline)) error {
	return s.mutate(func(records map[string]*Pipeline) error {
		record, ok := records[id]
		if !ok {
			return ErrNotFound
		}
		clone, err := clonePipeline(record)
		if err != nil {
			return err
		}
		fn(clone)
		records[id] = clone
		return nil
	})
}

// mutate runs fn against a copy of the record map, persists the copy and
// swaps it in only after the rename succeeded.
func (s *SnapshotStore) mutate(fn func(map[string]*Pipeline) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*Pipeline, len(s.records)+1)
	for id, record := range s.records {
		next[id] = record
	}
	if err := fn(next); err != nil {
		return err
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

// persist writes the whole mapping to a temporary file next to the
// snapshot and renames it into place. Temp and snapshot share a directory
// so the rename is atomic on the same filesystem.
func (s *SnapshotStore) persist(records map[string]*Pipeline) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode store snapshot: %v", ErrInternal, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create store temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write store temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close store temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace store snapshot: %w", err)
	}
	return nil
}

// clonePipeline deep-copies a record so callers never alias stored state.
func clonePipeline(p *Pipeline) (*Pipeline, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: encode pipeline %s: %v", ErrInternal, p.ID, err)
	}
	var clone Pipeline
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("%w: decode pipeline %s: %v", ErrInternal, p.ID, err)
	}
	return &clone, nil
}
