// Package config provides unified configuration loading for the scapegoat
// simulator. It supports YAML and TOML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/talgya/scapegoat/internal/engine"
)

// Config contains all settings.
type Config struct {
	// Simulation holds the model parameters consumed at setup.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation" toml:"simulation"`

	// Rates holds the stochastic rule probabilities and magnitudes.
	Rates RatesConfig `json:"rates" yaml:"rates" toml:"rates"`

	// Engine controls the tick loop.
	Engine EngineConfig `json:"engine" yaml:"engine" toml:"engine"`

	Export   ExportConfig   `json:"export" yaml:"export" toml:"export"`
	Database DatabaseConfig `json:"database" yaml:"database" toml:"database"`
	API      APIConfig      `json:"api" yaml:"api" toml:"api"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging" toml:"logging"`
}

// SimulationConfig mirrors engine.Params.
type SimulationConfig struct {
	Population        int     `json:"population" yaml:"population" toml:"population"`
	Seed              int64   `json:"seed" yaml:"seed" toml:"seed"` // 0 = random, logged at startup
	RingDegree        int     `json:"ring_degree" yaml:"ring_degree" toml:"ring_degree"`
	RewireProbability float64 `json:"rewire_probability" yaml:"rewire_probability" toml:"rewire_probability"`
	Friendliness      float64 `json:"friendliness" yaml:"friendliness" toml:"friendliness"`
	Skepticism        float64 `json:"skepticism" yaml:"skepticism" toml:"skepticism"`
	ScapegoatEnabled  bool    `json:"scapegoat_enabled" yaml:"scapegoat_enabled" toml:"scapegoat_enabled"`
	TickBudget        int     `json:"tick_budget" yaml:"tick_budget" toml:"tick_budget"`
	VictimThreshold   float64 `json:"victim_threshold" yaml:"victim_threshold" toml:"victim_threshold"`
	LowDegree         int     `json:"low_degree" yaml:"low_degree" toml:"low_degree"`
	WindowMin         int     `json:"window_min" yaml:"window_min" toml:"window_min"`
	WindowMax         int     `json:"window_max" yaml:"window_max" toml:"window_max"`
	RepairDegree      int     `json:"repair_degree" yaml:"repair_degree" toml:"repair_degree"`
	RevivalDegree     int     `json:"revival_degree" yaml:"revival_degree" toml:"revival_degree"`
	CheckInvariants   bool    `json:"check_invariants" yaml:"check_invariants" toml:"check_invariants"`
}

// RatesConfig mirrors engine.Rates.
type RatesConfig struct {
	EdgeDrop               float64 `json:"edge_drop" yaml:"edge_drop" toml:"edge_drop"`
	EdgeAdd                float64 `json:"edge_add" yaml:"edge_add" toml:"edge_add"`
	Revival                float64 `json:"revival" yaml:"revival" toml:"revival"`
	SpontaneousTension     float64 `json:"spontaneous_tension" yaml:"spontaneous_tension" toml:"spontaneous_tension"`
	Propagation            float64 `json:"propagation" yaml:"propagation" toml:"propagation"`
	PollutionStep          float64 `json:"pollution_step" yaml:"pollution_step" toml:"pollution_step"`
	PollutionRelief        float64 `json:"pollution_relief" yaml:"pollution_relief" toml:"pollution_relief"`
	PollutionDrift         float64 `json:"pollution_drift" yaml:"pollution_drift" toml:"pollution_drift"`
	HealthRegen            float64 `json:"health_regen" yaml:"health_regen" toml:"health_regen"`
	Attrition              float64 `json:"attrition" yaml:"attrition" toml:"attrition"`
	AttritionDamage        float64 `json:"attrition_damage" yaml:"attrition_damage" toml:"attrition_damage"`
	AccusationDamage       float64 `json:"accusation_damage" yaml:"accusation_damage" toml:"accusation_damage"`
	FailedAccusationDamage float64 `json:"failed_accusation_damage" yaml:"failed_accusation_damage" toml:"failed_accusation_damage"`
	UnconditionalAccept    float64 `json:"unconditional_accept" yaml:"unconditional_accept" toml:"unconditional_accept"`
	Prune                  float64 `json:"prune" yaml:"prune" toml:"prune"`
}

// EngineConfig configures the tick loop.
type EngineConfig struct {
	// Interval is the real-time tick interval at speed 1 (serve mode).
	Interval time.Duration `json:"interval" yaml:"interval" toml:"interval"`

	// Speed is the initial tick rate multiplier; 0 starts paused.
	Speed float64 `json:"speed" yaml:"speed" toml:"speed"`

	// Ticks is the number of ticks a batch run performs.
	Ticks int `json:"ticks" yaml:"ticks" toml:"ticks"`

	// ReportEvery is the number of ticks between summary log lines.
	ReportEvery int `json:"report_every" yaml:"report_every" toml:"report_every"`
}

// ExportConfig configures CSV output.
type ExportConfig struct {
	// Dir is the output root; each run writes into Dir/<run id>. Empty disables CSV export.
	Dir string `json:"dir" yaml:"dir" toml:"dir"`

	// Dialect selects the column names: "netlogo" (default) or "canonical".
	Dialect string `json:"dialect" yaml:"dialect" toml:"dialect"`

	// FlushEvery is the number of ticks between appends of events and timeseries.
	FlushEvery int `json:"flush_every" yaml:"flush_every" toml:"flush_every"`

	// SnapshotEvery is the number of ticks between node/link snapshots. 0 writes only at the end.
	SnapshotEvery int `json:"snapshot_every" yaml:"snapshot_every" toml:"snapshot_every"`
}

// DatabaseConfig configures the SQLite run store.
type DatabaseConfig struct {
	// Path of the SQLite file. Empty disables persistence.
	Path string `json:"path" yaml:"path" toml:"path"`
}

// APIConfig configures the HTTP observation surface.
type APIConfig struct {
	Port int `json:"port" yaml:"port" toml:"port"`

	// AdminKey is the bearer token for POST endpoints. Empty disables them.
	// Supports ${VAR} syntax for env vars.
	AdminKey string `json:"admin_key,omitempty" yaml:"admin_key,omitempty" toml:"admin_key"`

	// ExportLimit is the number of export requests allowed per hour per IP.
	ExportLimit int `json:"export_limit" yaml:"export_limit" toml:"export_limit"`
}

// LoggingConfig configures the default logger.
type LoggingConfig struct {
	// Level sets the log verbosity: "debug", "info" (default), "warn" or "error".
	Level string `json:"level" yaml:"level" toml:"level"`

	// Format is "text" (default) or "json".
	Format string `json:"format" yaml:"format" toml:"format"`
}

// String implements fmt.Stringer to prevent accidental admin key logging.
func (c APIConfig) String() string {
	key := ""
	if c.AdminKey != "" {
		key = "(set)"
	}
	return fmt.Sprintf("APIConfig{Port:%d, AdminKey:%s, ExportLimit:%d}", c.Port, key, c.ExportLimit)
}

// Default returns a Config with the reference model parameters.
func Default() *Config {
	p := engine.DefaultParams()
	r := p.Rates
	return &Config{
		Simulation: SimulationConfig{
			Population:        p.Population,
			Seed:              p.Seed,
			RingDegree:        p.RingDegree,
			RewireProbability: p.RewireProbability,
			Friendliness:      p.Friendliness,
			Skepticism:        p.Skepticism,
			ScapegoatEnabled:  p.ScapegoatEnabled,
			TickBudget:        p.TickBudget,
			VictimThreshold:   p.VictimThreshold,
			LowDegree:         p.LowDegree,
			WindowMin:         p.WindowMin,
			WindowMax:         p.WindowMax,
			RepairDegree:      p.RepairDegree,
			RevivalDegree:     p.RevivalDegree,
			CheckInvariants:   p.CheckInvariants,
		},
		Rates: RatesConfig{
			EdgeDrop:               r.EdgeDrop,
			EdgeAdd:                r.EdgeAdd,
			Revival:                r.Revival,
			SpontaneousTension:     r.SpontaneousTension,
			Propagation:            r.Propagation,
			PollutionStep:          r.PollutionStep,
			PollutionRelief:        r.PollutionRelief,
			PollutionDrift:         r.PollutionDrift,
			HealthRegen:            r.HealthRegen,
			Attrition:              r.Attrition,
			AttritionDamage:        r.AttritionDamage,
			AccusationDamage:       r.AccusationDamage,
			FailedAccusationDamage: r.FailedAccusationDamage,
			UnconditionalAccept:    r.UnconditionalAccept,
			Prune:                  r.Prune,
		},
		Engine: EngineConfig{
			Interval:    time.Second,
			Speed:       1.0,
			Ticks:       p.TickBudget,
			ReportEvery: engine.DefaultReportEvery,
		},
		Export: ExportConfig{
			Dir:        "output",
			Dialect:    "netlogo",
			FlushEvery: 100,
		},
		Database: DatabaseConfig{
			Path: "data/scapegoat.db",
		},
		API: APIConfig{
			Port:        8080,
			ExportLimit: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the file at path (if not
// empty) and environment variables, in that order.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// LoadFromFile loads configuration from a YAML file, or a TOML file when the
// extension is .toml. Unset keys keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), config); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	config.API.AdminKey = expandEnvVars(config.API.AdminKey)

	return config, nil
}

// Params maps the configuration onto engine parameters.
func (c *Config) Params() engine.Params {
	s, r := c.Simulation, c.Rates
	return engine.Params{
		Population:        s.Population,
		Seed:              s.Seed,
		RingDegree:        s.RingDegree,
		RewireProbability: s.RewireProbability,
		Friendliness:      s.Friendliness,
		Skepticism:        s.Skepticism,
		ScapegoatEnabled:  s.ScapegoatEnabled,
		TickBudget:        s.TickBudget,
		VictimThreshold:   s.VictimThreshold,
		LowDegree:         s.LowDegree,
		WindowMin:         s.WindowMin,
		WindowMax:         s.WindowMax,
		RepairDegree:      s.RepairDegree,
		RevivalDegree:     s.RevivalDegree,
		CheckInvariants:   s.CheckInvariants,
		Rates: engine.Rates{
			EdgeDrop:               r.EdgeDrop,
			EdgeAdd:                r.EdgeAdd,
			Revival:                r.Revival,
			SpontaneousTension:     r.SpontaneousTension,
			Propagation:            r.Propagation,
			PollutionStep:          r.PollutionStep,
			PollutionRelief:        r.PollutionRelief,
			PollutionDrift:         r.PollutionDrift,
			HealthRegen:            r.HealthRegen,
			Attrition:              r.Attrition,
			AttritionDamage:        r.AttritionDamage,
			AccusationDamage:       r.AccusationDamage,
			FailedAccusationDamage: r.FailedAccusationDamage,
			UnconditionalAccept:    r.UnconditionalAccept,
			Prune:                  r.Prune,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}

	if c.Engine.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Engine.Interval)
	}
	if c.Engine.Speed < 0 {
		return fmt.Errorf("speed must be non-negative, got %v", c.Engine.Speed)
	}
	if c.Engine.Ticks < 0 || c.Engine.ReportEvery < 0 {
		return fmt.Errorf("ticks and report_every must be non-negative")
	}

	validDialects := map[string]bool{"": true, "netlogo": true, "canonical": true}
	if !validDialects[c.Export.Dialect] {
		return fmt.Errorf("invalid export dialect: %s (valid: netlogo, canonical)", c.Export.Dialect)
	}
	if c.Export.FlushEvery < 0 || c.Export.SnapshotEvery < 0 {
		return fmt.Errorf("flush_every and snapshot_every must be non-negative")
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", c.API.Port)
	}
	if c.API.ExportLimit < 0 {
		return fmt.Errorf("export_limit must be non-negative, got %d", c.API.ExportLimit)
	}

	validLevels := map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"": true, "text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.Logging.Format)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SCAPEGOAT_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Simulation.Seed = n
		}
	}
	if v := os.Getenv("SCAPEGOAT_POPULATION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Population = n
		}
	}
	if v := os.Getenv("SCAPEGOAT_FRIENDLINESS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Simulation.Friendliness = f
		}
	}
	if v := os.Getenv("SCAPEGOAT_SKEPTICISM"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Simulation.Skepticism = f
		}
	}
	if v := os.Getenv("SCAPEGOAT_ENABLED"); v != "" {
		config.Simulation.ScapegoatEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SCAPEGOAT_TICK_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.TickBudget = n
		}
	}

	if v := os.Getenv("SCAPEGOAT_DB_PATH"); v != "" {
		config.Database.Path = v
	}
	if v := os.Getenv("SCAPEGOAT_EXPORT_DIR"); v != "" {
		config.Export.Dir = v
	}
	if v := os.Getenv("SCAPEGOAT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.API.Port = n
		}
	}
	if v := os.Getenv("SCAPEGOAT_ADMIN_KEY"); v != "" {
		config.API.AdminKey = v
	}
	if v := os.Getenv("SCAPEGOAT_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
