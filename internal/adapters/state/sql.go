package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// schemaVersion is the newest migration the store knows how to apply.
const schemaVersion = 1

// SQLStore implements core.SessionStore over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLStore opens the database for dialect and applies pending migrations.
// For sqlite, dsn is a file path.
func OpenSQLStore(dialect Dialect, dsn string) (*SQLStore, error) {
	var driverDSN string
	switch dialect {
	case DialectSQLite:
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("creating state directory: %w", err)
			}
		}
		// WAL mode for concurrent readers; a busy timeout because results of
		// one session arrive from several goroutines.
		driverDSN = dsn + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	case DialectPostgres, DialectMySQL:
		driverDSN = dsn
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := sql.Open(string(dialect), driverDSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(context.Background()); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Dialect returns the backend dialect.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet.
		version = 0
	}
	if version >= schemaVersion {
		return nil
	}

	script, err := migrationsFS.ReadFile(fmt.Sprintf("migrations/%03d_sessions.%s.sql", schemaVersion, s.dialect))
	if err != nil {
		return fmt.Errorf("reading migration: %w", err)
	}
	for _, stmt := range splitStatements(string(script)) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying migration v%d: %w", schemaVersion, err)
		}
	}
	_, err = s.db.ExecContext(ctx, s.rebind("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"),
		schemaVersion, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return nil
}

// CreateSession inserts a new session row.
func (s *SQLStore) CreateSession(ctx context.Context, sess *core.AnalysisSession) error {
	targets, err := json.Marshal(sess.Targets)
	if err != nil {
		return fmt.Errorf("marshaling targets: %w", err)
	}
	providers, err := json.Marshal(sess.SelectedProviders)
	if err != nil {
		return fmt.Errorf("marshaling providers: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM sessions WHERE id = ?"), string(sess.ID)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	if exists > 0 {
		return core.ErrConflict(core.CodeSessionExists, "session already exists: "+string(sess.ID))
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO sessions (id, status, failure_reason, targets, selected_providers,
			cost_total, idempotency_key, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(sess.ID),
		string(sess.Status),
		sess.FailureReason,
		string(targets),
		string(providers),
		sess.CostTotal,
		sess.IdempotencyKey,
		sess.CreatedAt.UnixNano(),
		sess.UpdatedAt.UnixNano(),
		nullableNanos(sess.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return tx.Commit()
}

// AppendResult inserts one provider result.
func (s *SQLStore) AppendResult(ctx context.Context, id core.SessionID, r *core.ProviderResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.touch(ctx, tx, id); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.rebind(
		"INSERT INTO provider_results (session_id, provider, target, payload) VALUES (?, ?, ?, ?)"),
		string(id), r.Provider, r.Target, string(payload))
	if err != nil {
		return fmt.Errorf("inserting result: %w", err)
	}
	return tx.Commit()
}

// SaveAggregate stores (or replaces) the merged result of one target.
func (s *SQLStore) SaveAggregate(ctx context.Context, id core.SessionID, a *core.AggregatedResult) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling aggregate: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.touch(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		"DELETE FROM target_aggregates WHERE session_id = ? AND target = ?"), string(id), a.Target); err != nil {
		return fmt.Errorf("replacing aggregate: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		"INSERT INTO target_aggregates (session_id, target, payload) VALUES (?, ?, ?)"),
		string(id), a.Target, string(payload)); err != nil {
		return fmt.Errorf("inserting aggregate: %w", err)
	}
	return tx.Commit()
}

// FinalizeSession writes the terminal status, reason, cost and completion time.
func (s *SQLStore) FinalizeSession(ctx context.Context, sess *core.AnalysisSession) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, s.rebind("SELECT status FROM sessions WHERE id = ?"), string(sess.ID)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound("session", string(sess.ID))
	}
	if err != nil {
		return fmt.Errorf("loading session status: %w", err)
	}
	if cur := core.SessionStatus(status); cur.IsTerminal() {
		return core.ErrInvalidTransition(cur, sess.Status)
	}

	breakdown, err := json.Marshal(sess.CostByProvider)
	if err != nil {
		return fmt.Errorf("marshaling cost breakdown: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE sessions SET status = ?, failure_reason = ?, cost_total = ?, cost_by_provider = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ?`),
		string(sess.Status),
		sess.FailureReason,
		sess.CostTotal,
		string(breakdown),
		sess.UpdatedAt.UnixNano(),
		nullableNanos(sess.CompletedAt),
		string(sess.ID),
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return tx.Commit()
}

// GetSession loads a session with its results and aggregates.
func (s *SQLStore) GetSession(ctx context.Context, id core.SessionID) (*core.AnalysisSession, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectSession+" WHERE id = ?"), string(id))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("session", string(id))
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// FindByIdempotencyKey returns the newest session with key created at or after since.
func (s *SQLStore) FindByIdempotencyKey(ctx context.Context, key string, since time.Time) (*core.AnalysisSession, error) {
	if key == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, s.rebind(selectSession+
		" WHERE idempotency_key = ? AND created_at >= ? ORDER BY created_at DESC LIMIT 1"),
		key, since.UnixNano())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ListSessions returns session summaries, newest first.
func (s *SQLStore) ListSessions(ctx context.Context) ([]core.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, selectSession+" ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	var sessions []*core.AnalysisSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]core.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		var resolved int
		err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM target_aggregates WHERE session_id = ?"),
			string(sess.ID)).Scan(&resolved)
		if err != nil {
			return nil, fmt.Errorf("counting aggregates: %w", err)
		}
		summary := sess.Summary()
		summary.TargetsResolved = resolved
		out = append(out, summary)
	}
	return out, nil
}

const selectSession = `SELECT id, status, failure_reason, targets, selected_providers,
	cost_total, cost_by_provider, idempotency_key, created_at, updated_at, completed_at FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*core.AnalysisSession, error) {
	var (
		id, status, reason, targets, providers, key string
		cost                                        float64
		created, updated                            int64
		completed                                   sql.NullInt64
		breakdown                                   sql.NullString
	)
	if err := row.Scan(&id, &status, &reason, &targets, &providers, &cost, &breakdown, &key, &created, &updated, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess := &core.AnalysisSession{
		ID:               core.SessionID(id),
		Status:           core.SessionStatus(status),
		FailureReason:    reason,
		CostTotal:        cost,
		IdempotencyKey:   key,
		CreatedAt:        time.Unix(0, created).UTC(),
		UpdatedAt:        time.Unix(0, updated).UTC(),
		PerTargetResults: make(map[string]*core.AggregatedResult),
	}
	if completed.Valid {
		t := time.Unix(0, completed.Int64).UTC()
		sess.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(targets), &sess.Targets); err != nil {
		return nil, fmt.Errorf("decoding targets: %w", err)
	}
	if err := json.Unmarshal([]byte(providers), &sess.SelectedProviders); err != nil {
		return nil, fmt.Errorf("decoding providers: %w", err)
	}
	if breakdown.Valid && breakdown.String != "" {
		if err := json.Unmarshal([]byte(breakdown.String), &sess.CostByProvider); err != nil {
			return nil, fmt.Errorf("decoding cost breakdown: %w", err)
		}
	}
	return sess, nil
}

func (s *SQLStore) loadChildren(ctx context.Context, sess *core.AnalysisSession) error {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT payload FROM provider_results WHERE session_id = ? ORDER BY id"), string(sess.ID))
	if err != nil {
		return fmt.Errorf("loading results: %w", err)
	}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			return fmt.Errorf("scanning result: %w", err)
		}
		var r core.ProviderResult
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			rows.Close()
			return fmt.Errorf("decoding result: %w", err)
		}
		sess.ProviderResults = append(sess.ProviderResults, &r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, s.rebind(
		"SELECT payload FROM target_aggregates WHERE session_id = ?"), string(sess.ID))
	if err != nil {
		return fmt.Errorf("loading aggregates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scanning aggregate: %w", err)
		}
		var a core.AggregatedResult
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return fmt.Errorf("decoding aggregate: %w", err)
		}
		sess.PerTargetResults[a.Target] = &a
	}
	return rows.Err()
}

// touch bumps updated_at and fails with not_found when the session is missing.
func (s *SQLStore) touch(ctx context.Context, tx *sql.Tx, id core.SessionID) error {
	res, err := tx.ExecContext(ctx, s.rebind("UPDATE sessions SET updated_at = ? WHERE id = ?"),
		time.Now().UnixNano(), string(id))
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound("session", string(id))
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
