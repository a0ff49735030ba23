// Package archive keeps an append-only SQLite record of every AMS
// snapshot. The JSON history file is capped; the archive is not, and
// serves as the long-term source for anyone who wants to analyse
// filament use later.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/amswatch/internal/snapshot"
)

// Store is an append-only SQLite store for snapshots. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore opens or creates an archive at the given database path.
// The schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id             TEXT PRIMARY KEY,
		taken_at       TEXT NOT NULL,
		printer_serial TEXT NOT NULL,
		recorded_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at);

	CREATE TABLE IF NOT EXISTS tray_readings (
		snapshot_id     TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		position        INTEGER NOT NULL,
		tray_id         TEXT NOT NULL,
		tray_id_name    TEXT NOT NULL,
		tray_type       TEXT NOT NULL,
		tray_sub_brands TEXT NOT NULL,
		tray_color      TEXT NOT NULL,
		remain          REAL NOT NULL,
		tray_weight     TEXT NOT NULL,
		tag_uid         TEXT NOT NULL,
		tray_uuid       TEXT NOT NULL,
		PRIMARY KEY (snapshot_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_tray_readings_uuid ON tray_readings(tray_uuid);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a snapshot and its trays in one transaction and
// returns the generated snapshot ID (a UUIDv7, so IDs sort by
// insertion time).
func (s *Store) Record(ctx context.Context, snap snapshot.Status) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate snapshot ID: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, taken_at, printer_serial, recorded_at)
		 VALUES (?, ?, ?, ?)`,
		id.String(),
		snap.LastUpdated,
		snap.PrinterSerial,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tray_readings
			(snapshot_id, position, tray_id, tray_id_name, tray_type, tray_sub_brands,
			 tray_color, remain, tray_weight, tag_uid, tray_uuid)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare tray insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range snap.Trays {
		if _, err := stmt.ExecContext(ctx,
			id.String(), i,
			t.TrayID, t.TrayIDName, t.TrayType, t.TraySubBrands,
			t.TrayColor, t.Remain, t.TrayWeight, t.TagUID, t.TrayUUID,
		); err != nil {
			return "", fmt.Errorf("insert tray %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit archive transaction: %w", err)
	}
	return id.String(), nil
}
