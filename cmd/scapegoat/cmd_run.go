package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talgya/scapegoat/internal/api"
	"github.com/talgya/scapegoat/internal/config"
	"github.com/talgya/scapegoat/internal/engine"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch of ticks and write events, timeseries and a final snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ticks") {
				cfg.Engine.Ticks, _ = cmd.Flags().GetInt("ticks")
			}
			if cmd.Flags().Changed("seed") {
				cfg.Simulation.Seed, _ = cmd.Flags().GetInt64("seed")
			}
			return runBatch(cfg, true)
		},
	}
	cmd.Flags().Int("ticks", 0, "Number of ticks (overrides engine.ticks)")
	cmd.Flags().Int64("seed", 0, "Random seed (0 = random)")
	return cmd
}

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Run a batch of ticks and write only the final node and link tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ticks") {
				cfg.Engine.Ticks, _ = cmd.Flags().GetInt("ticks")
			}
			if cmd.Flags().Changed("seed") {
				cfg.Simulation.Seed, _ = cmd.Flags().GetInt64("seed")
			}
			return runBatch(cfg, false)
		},
	}
	cmd.Flags().Int("ticks", 0, "Number of ticks (overrides engine.ticks)")
	cmd.Flags().Int64("seed", 0, "Random seed (0 = random)")
	return cmd
}

// runBatch advances a fresh simulation by cfg.Engine.Ticks ticks as fast as
// possible. withSeries controls whether events and timeseries are written.
func runBatch(cfg *config.Config, withSeries bool) error {
	if cfg.Engine.Ticks <= 0 {
		return fmt.Errorf("ticks must be positive, got %d", cfg.Engine.Ticks)
	}
	out, err := openSink(cfg)
	if err != nil {
		return err
	}
	defer out.Close()

	sim, err := engine.NewSimulation(cfg.Params())
	if err != nil {
		return err
	}
	slog.Info("batch run", "ticks", cfg.Engine.Ticks, "seed", sim.Seed(), "run_id", sim.RunID)

	eng := newEngine(cfg, sim, out, withSeries)
	runErr := eng.RunTicks(cfg.Engine.Ticks)
	if withSeries {
		out.flush(sim)
	}
	out.snapshot(sim)
	engine.Report(sim)
	if runErr != nil {
		return fmt.Errorf("simulation stopped: %w", runErr)
	}
	return nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation in real time behind the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.API.Port, _ = cmd.Flags().GetInt("port")
			}
			return serve(cfg)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP port (overrides api.port)")
	return cmd
}

func serve(cfg *config.Config) error {
	out, err := openSink(cfg)
	if err != nil {
		return err
	}
	defer out.Close()

	sim, err := engine.NewSimulation(cfg.Params())
	if err != nil {
		return err
	}
	eng := newEngine(cfg, sim, out, true)

	apiServer := &api.Server{
		Sim:         sim,
		Eng:         eng,
		DB:          out.db,
		Export:      out.csv,
		Port:        cfg.API.Port,
		AdminKey:    cfg.API.AdminKey,
		ExportLimit: cfg.API.ExportLimit,
	}
	srv := apiServer.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		eng.Stop()
	}()

	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	eng.Run()

	slog.Info("final flush...")
	out.flush(sim)
	out.snapshot(sim)
	if err := srv.Close(); err != nil {
		slog.Warn("closing HTTP server", "error", err)
	}
	if err := eng.Err(); err != nil {
		return fmt.Errorf("simulation stopped: %w", err)
	}
	return nil
}
