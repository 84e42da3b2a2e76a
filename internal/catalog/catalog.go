// Package catalog keeps an optional PostgreSQL record of stored outputs.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/outputstore/internal/logging"
	"github.com/fruitsalade/outputstore/internal/metrics"
	"github.com/fruitsalade/outputstore/internal/storage"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// Entry is one stored output.
type Entry struct {
	ID        string         `json:"id"`
	Result    storage.Result `json:"result"`
	Source    string         `json:"source"`
	Size      int64          `json:"size"`
	CreatedAt time.Time      `json:"created_at"`
}

// Recorder persists entries.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}

// Store is a PostgreSQL catalog.
type Store struct {
	db *sql.DB
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate runs the embedded SQL migrations in name order.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		logging.Info("running migration", zap.String("file", f))
		content, err := migrations.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}
	return nil
}

// Record inserts e, assigning ID and CreatedAt when unset.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("record_output", time.Since(start)) }()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stored_outputs (id, kind, locator, url, source, size, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Result.Kind.String(), e.Result.Locator, e.Result.URL, e.Source, e.Size, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert output %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("recent_outputs", time.Since(start)) }()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, locator, url, source, size, created_at
		 FROM stored_outputs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outputs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.ID, &kind, &e.Result.Locator, &e.Result.URL, &e.Source, &e.Size, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		if e.Result.Kind, err = storage.ParseKind(kind); err != nil {
			return nil, fmt.Errorf("output %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type recording struct {
	next storage.Backend
	rec  Recorder
}

// Recording wraps b so every successful store is recorded. A failed record is
// logged; the stored result is still returned. Null results are not recorded.
func Recording(b storage.Backend, rec Recorder) storage.Backend {
	return &recording{next: b, rec: rec}
}

func (r *recording) Kind() storage.Kind { return r.next.Kind() }

func (r *recording) Store(ctx context.Context, a storage.Artifact) (storage.Result, error) {
	res, err := r.next.Store(ctx, a)
	if err != nil || res.Kind == storage.KindNull {
		return res, err
	}

	e := &Entry{Result: res, Source: a.File()}
	if info, serr := os.Stat(a.File()); serr == nil {
		e.Size = info.Size()
	}
	if rerr := r.rec.Record(ctx, e); rerr != nil {
		logging.WithContext(ctx).Error("catalog record failed",
			zap.String("url", res.URL), zap.Error(rerr))
	}
	return res, nil
}
