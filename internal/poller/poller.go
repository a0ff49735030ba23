// Package poller runs one AMS status update: fetch a report from the
// printer, write the status and history files, feed the optional
// archive and metrics sinks, and print a per-tray summary.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nugget/amswatch/internal/ams"
	"github.com/nugget/amswatch/internal/bambu"
	"github.com/nugget/amswatch/internal/metrics"
	"github.com/nugget/amswatch/internal/report"
	"github.com/nugget/amswatch/internal/snapshot"
)

// Fetcher retrieves one AMS status from a printer. [bambu.Session]
// satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context) (*ams.Status, error)
}

// Archiver records snapshots for long-term storage. [archive.Store]
// satisfies it.
type Archiver interface {
	Record(ctx context.Context, snap snapshot.Status) (string, error)
}

// Config holds the settings for a Poller.
type Config struct {
	// Serial identifies the printer in the status file and progress
	// output.
	Serial string

	// HistoryLimit caps the history file. Zero or less keeps every
	// entry.
	HistoryLimit int

	// Archive, when non-nil, receives every snapshot.
	Archive Archiver

	// MetricsTextfile, when non-empty, is rewritten with Prometheus
	// gauges after every snapshot.
	MetricsTextfile string
}

// Poller performs a single update run.
type Poller struct {
	cfg     Config
	fetcher Fetcher
	files   *snapshot.Files
	out     io.Writer
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Poller that prints progress to out.
func New(cfg Config, fetcher Fetcher, files *snapshot.Files, out io.Writer, logger *slog.Logger) *Poller {
	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		files:   files,
		out:     out,
		logger:  logger,
		now:     time.Now,
	}
}

// Run fetches one snapshot and persists it. Nothing is written unless
// a report with AMS data arrives. The returned error wraps
// [bambu.ErrNoData] when the printer stayed silent.
func (p *Poller) Run(ctx context.Context) error {
	// Load first so a corrupt history fails before connecting.
	history, err := p.files.LoadHistory()
	if err != nil {
		return err
	}

	fmt.Fprintf(p.out, "Connecting to printer %s via cloud MQTT...\n", p.cfg.Serial)

	status, err := p.fetcher.Fetch(ctx)
	if err != nil {
		if errors.Is(err, bambu.ErrNoData) {
			fmt.Fprintln(p.out, "No AMS data received. Printer may be offline.")
		}
		return fmt.Errorf("fetch AMS status: %w", err)
	}

	trays := ams.Transform(status)
	stamp := snapshot.FormatTimestamp(p.now())

	snap := snapshot.Status{
		LastUpdated:   stamp,
		PrinterSerial: p.cfg.Serial,
		Trays:         trays,
	}
	if err := p.files.WriteStatus(snap); err != nil {
		return err
	}
	fmt.Fprintf(p.out, "AMS status saved: %d trays found\n", len(trays))

	if err := history.Append(snapshot.Entry{Timestamp: stamp, Trays: trays}, p.cfg.HistoryLimit); err != nil {
		return err
	}
	if err := p.files.WriteHistory(history); err != nil {
		return err
	}
	fmt.Fprintf(p.out, "History updated: %d entries\n", history.Len())

	p.archive(ctx, snap)
	p.writeMetrics(snap)

	report.Trays(p.out, trays)

	p.logger.Info("ams snapshot recorded",
		"serial", p.cfg.Serial,
		"trays", len(trays),
		"history_entries", history.Len(),
	)
	return nil
}

func (p *Poller) archive(ctx context.Context, snap snapshot.Status) {
	if p.cfg.Archive == nil {
		return
	}
	id, err := p.cfg.Archive.Record(ctx, snap)
	if err != nil {
		p.logger.Warn("failed to archive snapshot", "error", err)
		return
	}
	p.logger.Debug("snapshot archived", "snapshot_id", id)
}

func (p *Poller) writeMetrics(snap snapshot.Status) {
	if p.cfg.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(p.cfg.MetricsTextfile, snap); err != nil {
		p.logger.Warn("failed to write metrics textfile", "error", err)
		return
	}
	p.logger.Debug("metrics textfile written", "path", p.cfg.MetricsTextfile)
}
