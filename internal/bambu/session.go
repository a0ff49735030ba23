package bambu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/amswatch/internal/ams"
	"github.com/nugget/amswatch/internal/config"
)

// ErrNoData is returned by [Session.Fetch] when no report with AMS data
// arrived within the wait budget.
var ErrNoData = errors.New("no AMS data received")

// DefaultWait is the total time to wait for an AMS report: the same
// budget as 40 polls at 0.5s.
const DefaultWait = 20 * time.Second

// teardownTimeout bounds the best-effort disconnect after a fetch.
const teardownTimeout = 2 * time.Second

// Session fetches one AMS status from a printer over a [Transport].
type Session struct {
	transport Transport
	serial    string
	wait      time.Duration
	logger    *slog.Logger
}

// NewSession creates a Session. A non-positive wait means [DefaultWait].
func NewSession(transport Transport, serial string, wait time.Duration, logger *slog.Logger) *Session {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Session{
		transport: transport,
		serial:    serial,
		wait:      wait,
		logger:    logger,
	}
}

// Fetch connects, waits for the first report carrying AMS data, and
// always disconnects before returning. It returns [ErrNoData] when the
// wait budget runs out and ctx's error if ctx ends first.
func (s *Session) Fetch(ctx context.Context) (*ams.Status, error) {
	found := make(chan *ams.Status, 1)

	handler := func(deviceID string, payload []byte) {
		if deviceID != "" && deviceID != s.serial {
			s.logger.Debug("ignoring report for other device", "device", deviceID)
			return
		}
		if s.logger.Enabled(context.Background(), config.LevelTrace) {
			s.logger.Log(context.Background(), config.LevelTrace, "mqtt report received",
				"device", deviceID, "payload", string(payload))
		}

		status, err := ams.DecodeReport(payload)
		if err != nil {
			s.logger.Debug("ignoring undecodable report", "device", deviceID, "error", err)
			return
		}
		if status == nil {
			return
		}

		select {
		case found <- status:
		default:
			// A status is already waiting; keep the first.
		}
	}

	defer s.teardown(ctx)

	if err := s.transport.Connect(ctx, handler); err != nil {
		return nil, fmt.Errorf("connect to printer %s: %w", s.serial, err)
	}

	timer := time.NewTimer(s.wait)
	defer timer.Stop()

	select {
	case status := <-found:
		for _, unit := range status.Units {
			s.logger.Debug("ams unit reported",
				"ams_id", string(unit.ID),
				"humidity", string(unit.Humidity),
				"temp", string(unit.Temperature),
				"trays", len(unit.Trays),
			)
		}
		return status, nil
	case <-timer.C:
		return nil, ErrNoData
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// teardown disconnects with its own short deadline so a cancelled run
// context still gets a clean close. Failure never fails the fetch.
func (s *Session) teardown(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	if err := s.transport.Disconnect(dctx); err != nil {
		s.logger.Debug("mqtt disconnect failed", "error", err)
		return
	}
	s.logger.Debug("mqtt disconnected")
}
