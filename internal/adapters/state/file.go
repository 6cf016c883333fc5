package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/fsutil"
)

const fileStoreVersion = 1

// fileEnvelope wraps the stored sessions with integrity metadata.
type fileEnvelope struct {
	Version   int                     `json:"version"`
	Checksum  string                  `json:"checksum"`
	UpdatedAt time.Time               `json:"updated_at"`
	Sessions  []*core.AnalysisSession `json:"sessions"`
}

// FileStore is a MemoryStore that rewrites a JSON file atomically after every
// mutation. It suits the single-process CLI; use SQLStore for the server.
type FileStore struct {
	*MemoryStore
	path string
	// writeMu orders file writes so a stale snapshot never overwrites a newer one.
	writeMu sync.Mutex
}

// NewFileStore opens (or creates) a JSON session file at path.
func NewFileStore(path string, opts ...MemoryStoreOption) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	f := &FileStore{MemoryStore: NewMemoryStore(opts...), path: path}

	data, err := fsutil.ReadFileLimited(path, 0)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	if env.Version != fileStoreVersion {
		return nil, fmt.Errorf("unsupported session file version %d", env.Version)
	}
	sum, err := checksum(env.Sessions)
	if err != nil {
		return nil, err
	}
	if sum != env.Checksum {
		return nil, fmt.Errorf("session file checksum mismatch")
	}
	f.load(env.Sessions)
	return f, nil
}

// CreateSession stores a new session and flushes the file.
func (f *FileStore) CreateSession(ctx context.Context, s *core.AnalysisSession) error {
	if err := f.MemoryStore.CreateSession(ctx, s); err != nil {
		return err
	}
	return f.flush()
}

// AppendResult records one provider result and flushes the file.
func (f *FileStore) AppendResult(ctx context.Context, id core.SessionID, r *core.ProviderResult) error {
	if err := f.MemoryStore.AppendResult(ctx, id, r); err != nil {
		return err
	}
	return f.flush()
}

// SaveAggregate records one target's merged result and flushes the file.
func (f *FileStore) SaveAggregate(ctx context.Context, id core.SessionID, a *core.AggregatedResult) error {
	if err := f.MemoryStore.SaveAggregate(ctx, id, a); err != nil {
		return err
	}
	return f.flush()
}

// FinalizeSession writes the terminal status and flushes the file.
func (f *FileStore) FinalizeSession(ctx context.Context, s *core.AnalysisSession) error {
	if err := f.MemoryStore.FinalizeSession(ctx, s); err != nil {
		return err
	}
	return f.flush()
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) flush() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	sessions := f.snapshot()
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})

	sum, err := checksum(sessions)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(fileEnvelope{
		Version:   fileStoreVersion,
		Checksum:  sum,
		UpdatedAt: time.Now().UTC(),
		Sessions:  sessions,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sessions: %w", err)
	}
	if err := fsutil.WriteFileAtomic(f.path, data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}

func checksum(sessions []*core.AnalysisSession) (string, error) {
	data, err := json.Marshal(sessions)
	if err != nil {
		return "", fmt.Errorf("marshaling for checksum: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
