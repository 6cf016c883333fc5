package state

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// Backend names accepted by NewSessionStore.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
)

// StoreOptions configures session store creation.
type StoreOptions struct {
	// Backend is one of memory, file, sqlite, postgres, mysql. Empty means memory.
	Backend string
	// DSN is a file path for file and sqlite, a connection string otherwise.
	DSN string
	// Retention evicts finished sessions from the memory and file backends.
	Retention time.Duration
}

// NewSessionStore creates the session store selected by opts.
func NewSessionStore(opts StoreOptions) (core.SessionStore, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(WithRetention(opts.Retention)), nil
	case BackendFile:
		if opts.DSN == "" {
			return nil, fmt.Errorf("file store requires a path")
		}
		return NewFileStore(opts.DSN, WithRetention(opts.Retention))
	case BackendSQLite, BackendPostgres, BackendMySQL:
		if opts.DSN == "" {
			return nil, fmt.Errorf("%s store requires a dsn", backend)
		}
		return OpenSQLStore(Dialect(backend), opts.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// Lister is implemented by stores that can enumerate their sessions.
type Lister interface {
	ListSessions(ctx context.Context) ([]core.SessionSummary, error)
}

var (
	_ Lister = (*MemoryStore)(nil)
	_ Lister = (*SQLStore)(nil)
)

func sortSummaries(s []core.SessionSummary) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.After(s[j].CreatedAt)
		}
		return s[i].ID < s[j].ID
	})
}
