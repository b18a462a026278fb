// Command scapegoat runs the scapegoat-mechanism network simulation.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/scapegoat/internal/config"
	"github.com/talgya/scapegoat/internal/engine"
	"github.com/talgya/scapegoat/internal/export"
	"github.com/talgya/scapegoat/internal/logging"
	"github.com/talgya/scapegoat/internal/persistence"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scapegoat",
		Short: "Scapegoat mechanism on a social network",
		Long: `scapegoat simulates tension, accusation and ritual expulsion among
agents on a small-world network, and records events, per-tick aggregates
and node/link snapshots as CSV and SQLite.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file (.yaml or .toml)")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newServeCmd(),
		newSnapshotCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scapegoat version %s\n", version)
		},
	}
}

// loadConfig reads the config named by --config and sets up the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	return cfg, nil
}

// sink writes drained simulation output to the configured CSV directory and
// database. Either target may be absent.
type sink struct {
	csv    *export.Writer
	db     *persistence.DB
	params engine.Params
}

func openSink(cfg *config.Config) (*sink, error) {
	s := &sink{params: cfg.Params()}
	if cfg.Export.Dir != "" {
		dialect, err := export.ParseDialect(cfg.Export.Dialect)
		if err != nil {
			return nil, err
		}
		if s.csv, err = export.NewWriter(cfg.Export.Dir, dialect); err != nil {
			return nil, fmt.Errorf("creating export writer: %w", err)
		}
		slog.Info("CSV export enabled", "dir", cfg.Export.Dir, "dialect", dialect)
	}
	if cfg.Database.Path != "" {
		db, err := persistence.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		s.db = db
		slog.Info("database opened", "path", cfg.Database.Path)
	}
	return s, nil
}

func (s *sink) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("closing database", "error", err)
		}
	}
}

// flush writes every batch drained from sim. Write errors are logged and do
// not stop the simulation.
func (s *sink) flush(sim *engine.Simulation) {
	for _, b := range sim.Drain() {
		if s.csv != nil {
			if err := s.csv.WriteBatch(b); err != nil {
				slog.Error("CSV append failed", "run_id", b.RunID, "error", err)
			}
		}
		if s.db != nil {
			if err := s.db.SaveBatch(b, s.params); err != nil {
				slog.Error("database save failed", "run_id", b.RunID, "error", err)
			}
		}
	}
}

// snapshot writes the current node and link tables.
func (s *sink) snapshot(sim *engine.Simulation) {
	snap := sim.Snapshot()
	if snap == nil {
		return
	}
	if s.csv != nil {
		if err := s.csv.WriteSnapshot(snap); err != nil {
			slog.Error("snapshot export failed", "run_id", snap.RunID, "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.BeginRun(snap.RunID, snap.Run, snap.Seed, s.params); err != nil {
			slog.Error("snapshot save failed", "run_id", snap.RunID, "error", err)
			return
		}
		if err := s.db.SaveSnapshot(snap); err != nil {
			slog.Error("snapshot save failed", "run_id", snap.RunID, "error", err)
		}
	}
}

// newEngine wires sim into a tick loop that flushes output on the configured cadence.
func newEngine(cfg *config.Config, sim *engine.Simulation, out *sink, withSeries bool) *engine.Engine {
	eng := engine.NewEngine()
	eng.Interval = cfg.Engine.Interval
	eng.SetSpeed(cfg.Engine.Speed)
	eng.ReportEvery = uint64(cfg.Engine.ReportEvery)

	flushEvery := uint64(cfg.Export.FlushEvery)
	snapEvery := uint64(cfg.Export.SnapshotEvery)
	eng.OnTick = func(tick uint64) error {
		if err := sim.Step(); err != nil {
			return err
		}
		if flushEvery > 0 && tick%flushEvery == 0 {
			if withSeries {
				out.flush(sim)
			} else {
				sim.Drain()
			}
		}
		if snapEvery > 0 && tick%snapEvery == 0 {
			out.snapshot(sim)
		}
		return nil
	}
	eng.OnReport = func(uint64) { engine.Report(sim) }
	return eng
}
