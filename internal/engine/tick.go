// Package engine provides the scapegoat simulation and the tick loop that
// drives it.
package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultReportEvery is the default number of ticks between report callbacks.
const DefaultReportEvery = 100

// Engine drives a simulation forward in real time or in batches.
type Engine struct {
	Tick        uint64        // Ticks driven by this engine (monotonic, never resets)
	Interval    time.Duration // Base tick interval at speed 1
	ReportEvery uint64        // OnReport cadence in ticks, 0 disables

	// Callbacks, populated during setup.
	OnTick   func(tick uint64) error // Every tick; an error stops the loop
	OnReport func(tick uint64)       // Every ReportEvery ticks

	speed   atomic.Uint64 // math.Float64bits of the multiplier
	running atomic.Bool
	mu      sync.Mutex // held while a tick runs
	err     error
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	e := &Engine{
		Interval:    time.Second,
		ReportEvery: DefaultReportEvery,
	}
	e.SetSpeed(1.0)
	return e
}

// Speed returns the tick rate multiplier: 1.0 = one tick per Interval, 0 = paused.
func (e *Engine) Speed() float64 { return math.Float64frombits(e.speed.Load()) }

// SetSpeed changes the multiplier. Negative values pause.
func (e *Engine) SetSpeed(v float64) {
	if v < 0 {
		v = 0
	}
	e.speed.Store(math.Float64bits(v))
}

// Running reports whether Run is looping.
func (e *Engine) Running() bool { return e.running.Load() }

// Err returns the error that stopped the last Run, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Run starts the simulation loop. Blocks until Stop() is called or a tick fails.
func (e *Engine) Run() {
	e.running.Store(true)
	slog.Info("simulation engine started", "tick", e.Tick, "speed", e.Speed())

	for e.running.Load() {
		speed := e.Speed()
		if speed <= 0 {
			// Paused: sleep briefly and check again.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()

		if err := e.step(); err != nil {
			slog.Error("tick failed, stopping engine", "tick", e.Tick, "error", err)
			e.running.Store(false)
			break
		}

		// Sleep for the remainder of the tick interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target {
			time.Sleep(target - elapsed)
		}
	}

	slog.Info("simulation engine stopped", "tick", e.Tick)
}

// Stop halts the simulation loop after the current tick.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// RunTicks advances k ticks back to back, ignoring Speed and Interval.
func (e *Engine) RunTicks(k int) error {
	for i := 0; i < k; i++ {
		if err := e.step(); err != nil {
			return err
		}
	}
	return nil
}

// Do runs fn between ticks, so it never observes a half-applied tick.
func (e *Engine) Do(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

// step advances the simulation by one tick.
func (e *Engine) step() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Tick++
	if e.OnTick != nil {
		if err := e.OnTick(e.Tick); err != nil {
			e.err = fmt.Errorf("tick %d: %w", e.Tick, err)
			return e.err
		}
	}
	if e.ReportEvery > 0 && e.Tick%e.ReportEvery == 0 && e.OnReport != nil {
		e.OnReport(e.Tick)
	}
	return nil
}

// Report logs one summary line of the simulation's current snapshot.
func Report(sim *Simulation) {
	snap := sim.Snapshot()
	if snap == nil {
		return
	}
	st := snap.Stats
	slog.Info("simulation report",
		"run", snap.Run,
		"tick", snap.Tick,
		"alive", st.Alive,
		"leaders", st.Leaders,
		"victims", st.Victims,
		"edges", st.Edges,
		"pollution", st.Pollution,
		"rituals", st.Rituals,
		"accusations", st.Accusations,
		"deaths", st.Deaths.Total(),
	)
}
