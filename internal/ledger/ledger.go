// Package ledger keeps a bounded history of captures in a local SQLite
// database.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/savelaz/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultMaxEntries bounds the history when no limit is configured.
const DefaultMaxEntries = 100

// Entry is one recorded capture.
type Entry struct {
	ID              string
	Filename        string
	PointCount      int
	DecimationStep  int
	CaptureDuration time.Duration
	WriteDuration   time.Duration
	FileSize        int64
	IMUCount        int
	IMURateHz       float64
	Serials         []string
	CreatedAt       time.Time
}

// Ledger is the capture history database.
type Ledger struct {
	db         *sql.DB
	maxEntries int
	now        func() time.Time
}

// Open opens or creates the ledger at path and applies pending migrations.
// At most maxEntries captures are kept; values below 1 use
// DefaultMaxEntries.
func Open(path string, maxEntries int) (*Ledger, error) {
	if maxEntries < 1 {
		maxEntries = DefaultMaxEntries
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db, maxEntries: maxEntries, now: time.Now}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load ledger migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	// m is not closed: closing it closes db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ledger migration failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+strings.TrimSuffix(format, "\n"), v...)
}

func (migrateLogger) Verbose() bool { return false }

// Record inserts e and trims the history to the configured size. A zero ID
// is filled with a time-ordered UUID and a zero CreatedAt with the current
// time. The stored entry is returned.
func (l *Ledger) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Entry{}, fmt.Errorf("failed to generate capture id: %w", err)
		}
		e.ID = id.String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO captures (
			capture_id, filename, point_count, decimation_step,
			capture_duration, write_duration, file_size,
			imu_count, imu_rate_hz, serials, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Filename, e.PointCount, e.DecimationStep,
		e.CaptureDuration.Seconds(), e.WriteDuration.Seconds(), e.FileSize,
		e.IMUCount, e.IMURateHz, strings.Join(e.Serials, ","), e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to insert capture: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM captures WHERE capture_id NOT IN (
			SELECT capture_id FROM captures
			ORDER BY created_at DESC, capture_id DESC
			LIMIT ?
		)`, l.maxEntries)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to trim ledger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("failed to commit capture: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		monitoring.Logf("Ledger trimmed %d old captures", n)
	}
	return e, nil
}

// Recent returns up to limit captures, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT capture_id, filename, point_count, decimation_step,
			capture_duration, write_duration, file_size,
			imu_count, imu_rate_hz, serials, created_at
		FROM captures
		ORDER BY created_at DESC, capture_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query captures: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			capture, write    float64
			serials           string
			createdAtUnixNano int64
		)
		if err := rows.Scan(&e.ID, &e.Filename, &e.PointCount, &e.DecimationStep,
			&capture, &write, &e.FileSize,
			&e.IMUCount, &e.IMURateHz, &serials, &createdAtUnixNano); err != nil {
			return nil, fmt.Errorf("failed to scan capture: %w", err)
		}
		e.CaptureDuration = time.Duration(capture * float64(time.Second))
		e.WriteDuration = time.Duration(write * float64(time.Second))
		if serials != "" {
			e.Serials = strings.Split(serials, ",")
		}
		e.CreatedAt = time.Unix(0, createdAtUnixNano)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
