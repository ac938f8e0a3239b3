package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/w1xm/rotoscope/slots"
)

const schemaSlotMeta = `
CREATE TABLE IF NOT EXISTS slot_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	total_slots INTEGER NOT NULL CHECK (total_slots >= 0),
	saved_at INTEGER NOT NULL
);`

const schemaSlots = `
CREATE TABLE IF NOT EXISTS slots (
	slot INTEGER PRIMARY KEY CHECK (slot >= 0),
	position INTEGER,
	media TEXT
);`

// SQLite keeps the snapshot in a small database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// is accepted for tests.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create db dir")
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	for _, stmt := range []string{schemaSlotMeta, schemaSlots} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "create schema")
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Load() (slots.Snapshot, error) {
	snap := slots.DefaultSnapshot()
	var total int
	var savedAt int64
	err := s.db.QueryRow(`SELECT total_slots, saved_at FROM slot_meta WHERE id = 1`).Scan(&total, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return snap, errors.Wrap(err, "read slot_meta")
	}
	snap.TotalSlots = total
	if savedAt != 0 {
		snap.SavedAt = time.Unix(0, savedAt).UTC()
	}

	rows, err := s.db.Query(`SELECT slot, position, media FROM slots ORDER BY slot`)
	if err != nil {
		return snap, errors.Wrap(err, "read slots")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			slot     int
			position sql.NullInt64
			media    sql.NullString
		)
		if err := rows.Scan(&slot, &position, &media); err != nil {
			return snap, errors.Wrap(err, "scan slot")
		}
		if position.Valid {
			snap.Positions[slot] = int(position.Int64)
		}
		if media.Valid && media.String != "" {
			snap.Media[slot] = media.String
		}
	}
	if err := rows.Err(); err != nil {
		return snap, errors.Wrap(err, "read slots")
	}
	return snap, nil
}

// Save rewrites the stored snapshot in one transaction.
func (s *SQLite) Save(snap slots.Snapshot) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM slots`); err != nil {
		return errors.Wrap(err, "clear slots")
	}
	stmt, err := tx.Prepare(`INSERT INTO slots (slot, position, media) VALUES (?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	seen := map[int]bool{}
	for _, i := range append(slots.Indices(snap.Positions), slots.Indices(snap.Media)...) {
		if seen[i] {
			continue
		}
		seen[i] = true
		var position sql.NullInt64
		if pos, ok := snap.Positions[i]; ok {
			position = sql.NullInt64{Int64: int64(pos), Valid: true}
		}
		var media sql.NullString
		if ref, ok := snap.Media[i]; ok {
			media = sql.NullString{String: ref, Valid: true}
		}
		if _, err = stmt.Exec(i, position, media); err != nil {
			return errors.Wrapf(err, "insert slot %d", i)
		}
	}

	if _, err = tx.Exec(`
		INSERT INTO slot_meta (id, total_slots, saved_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_slots=excluded.total_slots,
			saved_at=excluded.saved_at
	`, snap.TotalSlots, unixNano(snap.SavedAt)); err != nil {
		return errors.Wrap(err, "write slot_meta")
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
