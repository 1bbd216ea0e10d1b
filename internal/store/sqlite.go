package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pkbops/vaultsync/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewULID generates a new ULID string, used for record and cycle ids.
func NewULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordSync inserts one repository result for a cycle.
func (s *SQLiteStore) RecordSync(ctx context.Context, rec *models.SyncRecord) error {
	if rec.ID == "" {
		rec.ID = NewULID()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_history (id, cycle_id, repository, mode, outcome, phase, commit_hash, message, error, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CycleID, rec.Repository, string(rec.Mode), string(rec.Outcome), string(rec.Phase),
		rec.CommitHash, rec.Message, rec.Error, rec.Duration.Milliseconds(), rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("record sync: %w", err)
	}
	return nil
}

const historyColumns = `id, cycle_id, repository, mode, outcome, phase, commit_hash, message, error, duration_ms, started_at`

func scanRecord(row interface{ Scan(...any) error }) (*models.SyncRecord, error) {
	rec := &models.SyncRecord{}
	var mode, outcome, phase string
	var durationMS int64
	err := row.Scan(&rec.ID, &rec.CycleID, &rec.Repository, &mode, &outcome, &phase,
		&rec.CommitHash, &rec.Message, &rec.Error, &durationMS, &rec.StartedAt)
	if err != nil {
		return nil, err
	}
	rec.Mode = models.Mode(mode)
	rec.Outcome = models.Outcome(outcome)
	rec.Phase = models.Phase(phase)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return rec, nil
}

// ListHistory returns sync records newest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, filter HistoryFilter) ([]*models.SyncRecord, error) {
	query := `SELECT ` + historyColumns + ` FROM sync_history`
	var conds []string
	var args []any
	if filter.Repository != "" {
		conds = append(conds, "repository = ?")
		args = append(args, filter.Repository)
	}
	if filter.FailedOnly {
		conds = append(conds, "outcome = ?")
		args = append(args, string(models.OutcomeFailed))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var recs []*models.SyncRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// LastOutcome returns the most recent record for a repository, or nil if
// it has never been synced.
func (s *SQLiteStore) LastOutcome(ctx context.Context, repository string) (*models.SyncRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM sync_history WHERE repository = ? ORDER BY started_at DESC, id DESC LIMIT 1`,
		repository)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last outcome: %w", err)
	}
	return rec, nil
}
