// Package snapshot persists AMS tray snapshots to the data directory:
// the current status file, overwritten on every successful poll, and a
// capped history file that grows by one entry per poll.
//
// Both files are written whole with no locking or atomic rename. A
// single poller is assumed to own the data directory.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/amswatch/internal/ams"
)

// File names within the data directory.
const (
	StatusFile  = "ams_status.json"
	HistoryFile = "usage_history.json"
)

// TimestampLayout renders UTC times as ISO-8601 with microseconds and
// an explicit +00:00 offset, the format existing history files use.
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

// FormatTimestamp renders t in [TimestampLayout] after converting to UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Status is the content of the current status file.
type Status struct {
	LastUpdated   string     `json:"last_updated"`
	PrinterSerial string     `json:"printer_serial"`
	Trays         []ams.Tray `json:"trays"`
}

// Entry is one history record.
type Entry struct {
	Timestamp string     `json:"timestamp"`
	Trays     []ams.Tray `json:"trays"`
}

// History is the content of the history file. Updates are kept as raw
// JSON so entries written by older versions survive a rewrite with
// their fields intact. Top-level keys other than "updates" are carried
// through a load and rewrite unchanged.
type History struct {
	Updates []json.RawMessage

	extra map[string]json.RawMessage
}

// UnmarshalJSON implements [json.Unmarshaler].
func (h *History) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	h.Updates = nil
	if raw, ok := fields["updates"]; ok {
		if err := json.Unmarshal(raw, &h.Updates); err != nil {
			return fmt.Errorf("updates: %w", err)
		}
		delete(fields, "updates")
	}
	h.extra = fields
	return nil
}

// MarshalJSON implements [json.Marshaler].
func (h History) MarshalJSON() ([]byte, error) {
	updates := h.Updates
	if updates == nil {
		updates = []json.RawMessage{}
	}
	raw, err := marshal(updates)
	if err != nil {
		return nil, err
	}

	out := make(map[string]json.RawMessage, len(h.extra)+1)
	maps.Copy(out, h.extra)
	out["updates"] = raw
	return marshal(out)
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	return len(h.Updates)
}

// Append adds e to the end of the history and then drops the oldest
// entries so at most limit remain. A limit of zero or less disables
// trimming.
func (h *History) Append(e Entry, limit int) error {
	raw, err := marshal(e)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	h.Updates = append(h.Updates, raw)
	if limit > 0 && len(h.Updates) > limit {
		h.Updates = append([]json.RawMessage(nil), h.Updates[len(h.Updates)-limit:]...)
	}
	return nil
}

// Files reads and writes the snapshot files under a data directory.
type Files struct {
	dir string
}

// NewFiles returns a Files rooted at dir. The directory is created on
// first write.
func NewFiles(dir string) *Files {
	return &Files{dir: dir}
}

// StatusPath returns the path of the current status file.
func (f *Files) StatusPath() string {
	return filepath.Join(f.dir, StatusFile)
}

// HistoryPath returns the path of the history file.
func (f *Files) HistoryPath() string {
	return filepath.Join(f.dir, HistoryFile)
}

// LoadHistory reads the history file. A missing file yields an empty
// history; a malformed one is an error.
func (f *Files) LoadHistory() (*History, error) {
	path := f.HistoryPath()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &History{Updates: []json.RawMessage{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", path, err)
	}

	h := &History{}
	if err := json.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", path, err)
	}
	if h.Updates == nil {
		h.Updates = []json.RawMessage{}
	}
	return h, nil
}

// WriteStatus overwrites the current status file.
func (f *Files) WriteStatus(s Status) error {
	if s.Trays == nil {
		s.Trays = []ams.Tray{}
	}
	return f.write(f.StatusPath(), s)
}

// WriteHistory overwrites the history file with the full history.
func (f *Files) WriteHistory(h *History) error {
	return f.write(f.HistoryPath(), h)
}

func (f *Files) write(path string, v any) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", f.dir, err)
	}

	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// encode renders v as 2-space indented JSON without HTML escaping, so
// sub-brand names like "PLA & PETG" stay readable.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// marshal is [json.Marshal] without HTML escaping.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
