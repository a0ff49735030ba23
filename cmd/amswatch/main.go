// Amswatch records the filament status of a Bambu Lab printer's AMS.
//
// Each run connects to the Bambu cloud MQTT broker, waits for one
// status report carrying AMS data, writes the current tray snapshot to
// <data_dir>/ams_status.json, appends it to a capped
// <data_dir>/usage_history.json, and prints one line per tray. It is
// meant to be run from cron or a systemd timer.
//
// Usage:
//
//	amswatch [update]          Fetch and record the current AMS status
//	amswatch version           Print version and build information
//	amswatch -o json version   Output version information as JSON
//
// Credentials come from BAMBU_TOKEN, BAMBU_UID and BAMBU_SERIAL, read
// from the environment or a .env file in the working directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nugget/amswatch/internal/archive"
	"github.com/nugget/amswatch/internal/bambu"
	"github.com/nugget/amswatch/internal/buildinfo"
	"github.com/nugget/amswatch/internal/config"
	"github.com/nugget/amswatch/internal/poller"
	"github.com/nugget/amswatch/internal/snapshot"
)

// dotEnvFile is read from the working directory when present.
const dotEnvFile = ".env"

// errReported marks errors whose message has already been printed to
// stdout, so main does not repeat it on stderr.
var errReported = errors.New("already reported")

// main wires OS state into [run] and owns the exit code.
func main() {
	if err := run(context.Background(), os.Getenv, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		os.Exit(1)
	}
}

// run is the real entry point. getenv stands in for os.Getenv so tests
// can supply credentials without touching the process environment.
// Arguments are parsed by hand to keep flag state out of package
// globals.
func run(ctx context.Context, getenv func(string) string, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				return fmt.Errorf("unexpected argument: %s", args[i])
			}
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "", "update":
		return runUpdate(ctx, getenv, stdout, stderr, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version"} {
		fmt.Fprintf(w, "  %-12s %s\n", k+":", info[k])
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "amswatch - Bambu Lab AMS filament tracker")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: amswatch [flags] [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  update       Fetch and record the current AMS status (default)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  BAMBU_TOKEN, BAMBU_UID, BAMBU_SERIAL (required; also read from ./.env)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runUpdate performs one poll: load configuration, fetch a report over
// MQTT, and hand it to the poller for persistence and reporting.
func runUpdate(ctx context.Context, getenv func(string) string, stdout, stderr io.Writer, configPath string) error {
	dotenv, err := config.ReadDotEnv(dotEnvFile)
	if err != nil {
		return err
	}
	getenv = config.LayerEnv(getenv, dotenv)

	cfg, cfgPath, err := loadConfig(configPath, getenv)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(getenv)

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingCredentials) {
			fmt.Fprintf(stdout, "Error: %s\n", err)
			return fmt.Errorf("%w: %w", errReported, err)
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	// Validate has already accepted the level.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(stderr, level, cfg.LogFormat)
	logger.Debug("starting amswatch",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"config", cfgPath,
		"protocol", cfg.Bambu.Protocol,
		"broker", cfg.Bambu.BrokerURL(),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transport, err := bambu.NewTransport(cfg.Bambu.Protocol, bambu.NewTransportConfig(cfg.Bambu), logger)
	if err != nil {
		return err
	}
	session := bambu.NewSession(transport, cfg.Bambu.Serial, cfg.Bambu.WaitTimeout(), logger)

	pcfg := poller.Config{
		Serial:       cfg.Bambu.Serial,
		HistoryLimit: cfg.HistoryLimit,
	}
	if cfg.Metrics.Configured() {
		pcfg.MetricsTextfile = cfg.Metrics.Textfile
	}
	if cfg.Archive.Configured() {
		if store := openArchive(cfg.Archive.Path, logger); store != nil {
			defer store.Close()
			pcfg.Archive = store
		}
	}

	p := poller.New(pcfg, session, snapshot.NewFiles(cfg.DataDir), stdout, logger)
	if err := p.Run(ctx); err != nil {
		if errors.Is(err, bambu.ErrNoData) {
			return fmt.Errorf("%w: %w", errReported, err)
		}
		return err
	}
	return nil
}

// openArchive opens the snapshot archive. The archive is an optional
// sink, so failure is logged and the run continues without it.
func openArchive(path string, logger *slog.Logger) *archive.Store {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Warn("failed to create archive directory", "path", path, "error", err)
		return nil
	}
	store, err := archive.NewStore(path)
	if err != nil {
		logger.Warn("failed to open archive", "path", path, "error", err)
		return nil
	}
	return store
}

// loadConfig returns the YAML configuration when one is found, or the
// defaults when none is. An explicit path must exist.
func loadConfig(explicit string, getenv func(string) string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	if cfgPath == "" {
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath, getenv)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
