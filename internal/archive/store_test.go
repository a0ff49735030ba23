package archive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nugget/amswatch/internal/ams"
	"github.com/nugget/amswatch/internal/snapshot"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "archive_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSnapshot() snapshot.Status {
	return snapshot.Status{
		LastUpdated:   "2026-10-17T12:00:00.000000+00:00",
		PrinterSerial: "01P00A123456789",
		Trays: []ams.Tray{
			{TrayID: "0", TrayType: "PLA", TraySubBrands: "PLA Basic", TrayColor: "FF0000FF", Remain: 80, TrayUUID: "A1"},
			{TrayID: "1", TrayType: "PETG", TraySubBrands: "PETG HF", TrayColor: "000000FF", Remain: 12.5, TrayUUID: "B2"},
		},
	}
}

func TestRecord(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.Record(ctx, testSnapshot())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id == "" {
		t.Fatal("Record returned empty ID")
	}

	var serial, takenAt string
	if err := s.db.QueryRow(
		`SELECT printer_serial, taken_at FROM snapshots WHERE id = ?`, id,
	).Scan(&serial, &takenAt); err != nil {
		t.Fatalf("query snapshot: %v", err)
	}
	if serial != "01P00A123456789" {
		t.Errorf("printer_serial = %q", serial)
	}
	if takenAt != "2026-10-17T12:00:00.000000+00:00" {
		t.Errorf("taken_at = %q", takenAt)
	}

	rows, err := s.db.Query(
		`SELECT tray_id, tray_type, remain FROM tray_readings WHERE snapshot_id = ? ORDER BY position`, id)
	if err != nil {
		t.Fatalf("query trays: %v", err)
	}
	defer rows.Close()

	type reading struct {
		trayID, trayType string
		remain           float64
	}
	var got []reading
	for rows.Next() {
		var r reading
		if err := rows.Scan(&r.trayID, &r.trayType, &r.remain); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, r)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}

	want := []reading{{"0", "PLA", 80}, {"1", "PETG", 12.5}}
	if len(got) != len(want) {
		t.Fatalf("got %d readings, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reading %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRecord_AppendOnly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.Record(ctx, testSnapshot())
	if err != nil {
		t.Fatalf("Record 1: %v", err)
	}
	second, err := s.Record(ctx, testSnapshot())
	if err != nil {
		t.Fatalf("Record 2: %v", err)
	}
	if first == second {
		t.Errorf("snapshot IDs collide: %q", first)
	}
	if second < first {
		t.Errorf("UUIDv7 IDs should sort by insertion: %q < %q", second, first)
	}

	var snapshots, readings int
	s.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&snapshots)
	s.db.QueryRow(`SELECT COUNT(*) FROM tray_readings`).Scan(&readings)
	if snapshots != 2 || readings != 4 {
		t.Errorf("snapshots=%d readings=%d, want 2 and 4", snapshots, readings)
	}
}

func TestRecord_EmptyTrays(t *testing.T) {
	s := testStore(t)

	snap := testSnapshot()
	snap.Trays = nil
	if _, err := s.Record(context.Background(), snap); err != nil {
		t.Fatalf("Record with no trays: %v", err)
	}
}

func TestNewStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "archive.db")

	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := s.Record(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s.Close()

	s, err = NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen NewStore: %v", err)
	}
	defer s.Close()

	var n int
	s.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n)
	if n != 1 {
		t.Errorf("snapshots after reopen = %d, want 1", n)
	}
}
