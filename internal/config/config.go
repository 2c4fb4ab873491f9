// Package config provides unified configuration loading for tumorsim.
// It supports loading from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/tumorevo/internal/blob"
	"github.com/nvandessel/tumorevo/internal/cell"
	"github.com/nvandessel/tumorevo/internal/constants"
	"github.com/nvandessel/tumorevo/internal/logging"
	"github.com/nvandessel/tumorevo/internal/modes"
	"github.com/nvandessel/tumorevo/internal/selection"
	"github.com/nvandessel/tumorevo/internal/tumor"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TUMORSIM_"

// SimConfig contains all tumorsim configuration settings.
type SimConfig struct {
	// Mode is "nonspatial", "invasion", "fission", "boundary" or its number.
	Mode  string `json:"mode" yaml:"mode"`
	Steps int    `json:"steps" yaml:"steps"`
	Seed  uint64 `json:"seed" yaml:"seed"`
	// RecordEvery splits the run into chunks; a snapshot is stored and
	// exported after each one. Zero records only at the end.
	RecordEvery int `json:"record_every" yaml:"record_every"`

	Cell      CellConfig      `json:"cell" yaml:"cell"`
	Selection SelectionConfig `json:"selection" yaml:"selection"`
	Deme      DemeConfig      `json:"deme" yaml:"deme"`
	Spatial   SpatialConfig   `json:"spatial" yaml:"spatial"`
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Treatment TreatmentConfig `json:"treatment" yaml:"treatment"`

	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Export  ExportConfig  `json:"export" yaml:"export"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// CellConfig holds the genome shape and per-type cell parameters.
type CellConfig struct {
	Segments    int         `json:"segments" yaml:"segments"`
	SegmentSize int         `json:"segment_size" yaml:"segment_size"`
	Cancer      cell.Params `json:"cancer" yaml:"cancer"`
	Epithelial  cell.Params `json:"epithelial" yaml:"epithelial"`
	Stromal     cell.Params `json:"stromal" yaml:"stromal"`
	Immune      cell.Params `json:"immune" yaml:"immune"`
}

// SelectionConfig configures gene annotations and viability thresholds.
type SelectionConfig struct {
	PropDriver        float64 `json:"prop_driver" yaml:"prop_driver"`
	PropResistance    float64 `json:"prop_resistance" yaml:"prop_resistance"`
	DriverEffects     float64 `json:"driver_effects" yaml:"driver_effects"`
	ResistantEffects  float64 `json:"resistant_effects" yaml:"resistant_effects"`
	MaxRate           float64 `json:"max_rate" yaml:"max_rate"`
	MaxPloidy         float64 `json:"max_ploidy" yaml:"max_ploidy"`
	MaxCopyNumber     int     `json:"max_copy_number" yaml:"max_copy_number"`
	MaxNullisomies    int     `json:"max_nullisomies" yaml:"max_nullisomies"`
	MaxMutatedDrivers int     `json:"max_mutated_drivers" yaml:"max_mutated_drivers"`
}

// DemeConfig configures crowding.
type DemeConfig struct {
	CarryingCapacity int     `json:"carrying_capacity" yaml:"carrying_capacity"`
	InitialDeathRate float64 `json:"initial_death_rate" yaml:"initial_death_rate"`
	MaxDeathRate     float64 `json:"max_death_rate" yaml:"max_death_rate"`
	// Overflow is "displace" (default) or "grow".
	Overflow string `json:"overflow" yaml:"overflow"`
}

// SpatialConfig describes the grid and its initial tissue.
type SpatialConfig struct {
	GridSize        int `json:"grid_size" yaml:"grid_size"`
	Structures      int `json:"structures" yaml:"structures"`
	StructureRadius int `json:"structure_radius" yaml:"structure_radius"`
	Founders        int `json:"founders" yaml:"founders"`
	ImmunePerDeme   int `json:"immune_per_deme" yaml:"immune_per_deme"`
}

// EngineConfig tunes how much work one update does.
type EngineConfig struct {
	CellsPerDemeUpdate int `json:"cells_per_deme_update" yaml:"cells_per_deme_update"`
	DemesPerStep       int `json:"demes_per_step" yaml:"demes_per_step"`
}

// TreatmentConfig configures the single treatment window of invasion mode.
type TreatmentConfig struct {
	// Iteration is the trace count at which treatment starts, counting the
	// initial trace, so 1 treats the first step. -1 disables it; 0 is invalid.
	Iteration int `json:"iteration" yaml:"iteration"`
	Duration  int `json:"duration" yaml:"duration"`
}

// LoggingConfig configures tumorsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables event logging to <dir>/events.jsonl.
	// "trace" additionally logs every new genotype.
	Level string `json:"level" yaml:"level"`
	// Dir receives events.jsonl. Empty uses the export root.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// StoreConfig selects the trace store.
type StoreConfig struct {
	// Driver is "sqlite", "postgres" or "" to disable persistence.
	Driver string `json:"driver" yaml:"driver"`
	// Path is the sqlite database file.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// DSN is the postgres connection string. Supports ${VAR} syntax.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// ExportConfig selects where CSV tables are written.
type ExportConfig struct {
	// Driver is "fs", "memory", "s3" or "" to disable export.
	Driver string `json:"driver" yaml:"driver"`
	// Root is the directory of the fs driver.
	Root   string `json:"root,omitempty" yaml:"root,omitempty"`
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	// Expression adds per-cell expression tables to the final record.
	Expression bool `json:"expression" yaml:"expression"`

	Bucket    string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Region    string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	PathStyle bool   `json:"path_style,omitempty" yaml:"path_style,omitempty"`
	// AccessKeyID and SecretAccessKey support ${VAR} syntax; empty falls
	// back to the default AWS credential chain.
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
}

// RedactedSecret returns "(set)" when a secret key is configured.
func (c ExportConfig) RedactedSecret() string {
	if c.SecretAccessKey == "" {
		return ""
	}
	return "(set)"
}

// String implements fmt.Stringer to keep credentials out of logs.
func (c ExportConfig) String() string {
	return fmt.Sprintf("ExportConfig{Driver:%s, Root:%s, Bucket:%s, Prefix:%s, Secret:%s}",
		c.Driver, c.Root, c.Bucket, c.Prefix, c.RedactedSecret())
}

// MetricsConfig configures Prometheus exposure.
type MetricsConfig struct {
	// Addr serves /metrics when non-empty, e.g. ":9090".
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns a SimConfig with sensible defaults.
func Default() *SimConfig {
	return &SimConfig{
		Mode:        modes.Invasion.String(),
		Steps:       constants.DefaultSteps,
		Seed:        constants.DefaultSeed,
		RecordEvery: constants.DefaultRecordEvery,
		Cell: CellConfig{
			Segments:    constants.DefaultNumSegments,
			SegmentSize: constants.DefaultSegmentSize,
			Cancer:      cell.DefaultParams(),
			Epithelial:  cell.DefaultParams(),
			Stromal:     cell.DefaultParams(),
			Immune:      cell.DefaultParams(),
		},
		Selection: SelectionConfig{
			PropDriver:        constants.DefaultPropDriver,
			PropResistance:    constants.DefaultPropResistance,
			DriverEffects:     constants.DefaultDriverEffects,
			ResistantEffects:  constants.DefaultResistantEffects,
			MaxRate:           constants.DefaultMaxRate,
			MaxPloidy:         constants.DefaultMaxPloidy,
			MaxCopyNumber:     constants.DefaultMaxCopyNumber,
			MaxNullisomies:    constants.DefaultMaxNullisomies,
			MaxMutatedDrivers: constants.DefaultMaxMutatedDrivers,
		},
		Deme: DemeConfig{
			CarryingCapacity: constants.DefaultCarryingCapacity,
			InitialDeathRate: constants.DefaultDeathRate,
			MaxDeathRate:     constants.DefaultMaxDeathRate,
			Overflow:         constants.OverflowDisplace,
		},
		Spatial: SpatialConfig{
			GridSize:   constants.DefaultGridSize,
			Structures: 1,
			Founders:   1,
		},
		Engine: EngineConfig{
			CellsPerDemeUpdate: constants.CellsPerDemeUpdate,
			DemesPerStep:       constants.DemesPerStep,
		},
		Treatment: TreatmentConfig{
			Iteration: -1,
			Duration:  constants.DefaultTreatmentDuration,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   constants.DefaultStorePath,
		},
		Export: ExportConfig{
			Driver: "fs",
			Root:   constants.DefaultExportRoot,
		},
	}
}

// Load loads configuration from path (if non-empty) and environment variables.
// Order: defaults -> config file -> environment variables
func Load(path string) (*SimConfig, error) {
	config := Default()

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Fields absent
// from the file keep their defaults.
func LoadFromFile(path string) (*SimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Store.DSN = expandEnvVars(config.Store.DSN)
	config.Export.AccessKeyID = expandEnvVars(config.Export.AccessKeyID)
	config.Export.SecretAccessKey = expandEnvVars(config.Export.SecretAccessKey)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *SimConfig) Validate() error {
	mode, err := modes.ParseMode(c.Mode)
	if err != nil {
		return err
	}
	if !mode.Implemented() {
		return fmt.Errorf("mode %s: %w", mode, modes.ErrNotImplemented)
	}
	if c.Steps < 0 {
		return fmt.Errorf("steps must be non-negative, got %d", c.Steps)
	}
	if c.RecordEvery < 0 {
		return fmt.Errorf("record_every must be non-negative, got %d", c.RecordEvery)
	}
	// The initial trace exists before the first step, so the earliest
	// reachable trace count is 1.
	if c.Treatment.Iteration < -1 || c.Treatment.Iteration == 0 {
		return fmt.Errorf("treatment iteration must be -1 (disabled) or >= 1, got %d", c.Treatment.Iteration)
	}
	if c.Treatment.Duration < 0 {
		return fmt.Errorf("treatment duration must be non-negative, got %d", c.Treatment.Duration)
	}

	if err := c.SelectionParams().Validate(); err != nil {
		return err
	}
	cells := []struct {
		name string
		p    cell.Params
	}{
		{"cancer", c.Cell.Cancer},
		{"epithelial", c.Cell.Epithelial},
		{"stromal", c.Cell.Stromal},
		{"immune", c.Cell.Immune},
	}
	for _, cp := range cells {
		if err := cp.p.Validate(); err != nil {
			return fmt.Errorf("cell.%s: %w", cp.name, err)
		}
	}
	if err := c.TumorConfig().Validate(); err != nil {
		return err
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	switch c.Store.Driver {
	case "":
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid store driver: %s (valid: sqlite, postgres, or empty)", c.Store.Driver)
	}

	switch c.Export.Driver {
	case "", "memory":
	case "fs":
		if c.Export.Root == "" {
			return errors.New("export.root is required for the fs driver")
		}
	case "s3":
		if c.Export.Bucket == "" {
			return errors.New("export.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("invalid export driver: %s (valid: fs, memory, s3, or empty)", c.Export.Driver)
	}
	return nil
}

// ModeValue parses the configured mode.
func (c *SimConfig) ModeValue() (modes.Mode, error) {
	return modes.ParseMode(c.Mode)
}

// SelectionParams converts the configuration to selection parameters.
func (c *SimConfig) SelectionParams() selection.Params {
	return selection.Params{
		NumSegments:       c.Cell.Segments,
		SegmentSize:       c.Cell.SegmentSize,
		PropDriver:        c.Selection.PropDriver,
		PropResistance:    c.Selection.PropResistance,
		DriverEffects:     c.Selection.DriverEffects,
		ResistantEffects:  c.Selection.ResistantEffects,
		MaxRate:           c.Selection.MaxRate,
		MaxPloidy:         c.Selection.MaxPloidy,
		MaxCopyNumber:     c.Selection.MaxCopyNumber,
		MaxNullisomies:    c.Selection.MaxNullisomies,
		MaxMutatedDrivers: c.Selection.MaxMutatedDrivers,
	}
}

// TumorConfig converts the configuration to a tumor layout.
func (c *SimConfig) TumorConfig() tumor.Config {
	return tumor.Config{
		GridSize:        c.Spatial.GridSize,
		Structures:      c.Spatial.Structures,
		StructureRadius: c.Spatial.StructureRadius,
		Founders:        c.Spatial.Founders,
		ImmunePerDeme:   c.Spatial.ImmunePerDeme,
		DemesPerStep:    c.Engine.DemesPerStep,
		Deme: tumor.DemeParams{
			CarryingCapacity: c.Deme.CarryingCapacity,
			InitialDeathRate: c.Deme.InitialDeathRate,
			MaxDeathRate:     c.Deme.MaxDeathRate,
			Overflow:         c.Deme.Overflow,
			CellsPerUpdate:   c.Engine.CellsPerDemeUpdate,
		},
		Epithelial: c.Cell.Epithelial,
		Stromal:    c.Cell.Stromal,
		Immune:     c.Cell.Immune,
	}
}

// SimulatorOptions converts the configuration to simulator options. The
// caller adds observers and loggers.
func (c *SimConfig) SimulatorOptions() modes.Options {
	return modes.Options{
		Seed:               c.Seed,
		TreatmentIteration: c.Treatment.Iteration,
		TreatmentDuration:  c.Treatment.Duration,
	}
}

// BlobConfig converts the export section to blob store settings.
func (c *SimConfig) BlobConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Export.Driver),
		Root:   c.Export.Root,
		S3: blob.S3Config{
			Bucket:          c.Export.Bucket,
			Region:          c.Export.Region,
			Endpoint:        c.Export.Endpoint,
			AccessKeyID:     c.Export.AccessKeyID,
			SecretAccessKey: c.Export.SecretAccessKey,
			PathStyle:       c.Export.PathStyle,
		},
	}
}

// EventDir returns the directory that receives events.jsonl.
func (c *SimConfig) EventDir() string {
	if c.Logging.Dir != "" {
		return c.Logging.Dir
	}
	if c.Export.Root != "" {
		return c.Export.Root
	}
	return "."
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *SimConfig) error {
	strs := map[string]*string{
		"MODE":              &config.Mode,
		"LOG_LEVEL":         &config.Logging.Level,
		"LOG_DIR":           &config.Logging.Dir,
		"DEME_OVERFLOW":     &config.Deme.Overflow,
		"STORE_DRIVER":      &config.Store.Driver,
		"STORE_PATH":        &config.Store.Path,
		"STORE_DSN":         &config.Store.DSN,
		"EXPORT_DRIVER":     &config.Export.Driver,
		"EXPORT_ROOT":       &config.Export.Root,
		"EXPORT_PREFIX":     &config.Export.Prefix,
		"EXPORT_BUCKET":     &config.Export.Bucket,
		"EXPORT_REGION":     &config.Export.Region,
		"EXPORT_ENDPOINT":   &config.Export.Endpoint,
		"EXPORT_ACCESS_KEY": &config.Export.AccessKeyID,
		"EXPORT_SECRET_KEY": &config.Export.SecretAccessKey,
		"METRICS_ADDR":      &config.Metrics.Addr,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"STEPS":               &config.Steps,
		"RECORD_EVERY":        &config.RecordEvery,
		"GRID_SIZE":           &config.Spatial.GridSize,
		"CARRYING_CAPACITY":   &config.Deme.CarryingCapacity,
		"TREATMENT_ITERATION": &config.Treatment.Iteration,
		"TREATMENT_DURATION":  &config.Treatment.Duration,
	}
	for name, dst := range ints {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv(EnvPrefix + "SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sSEED: %w", EnvPrefix, err)
		}
		config.Seed = n
	}
	if v := os.Getenv(EnvPrefix + "EXPORT_EXPRESSION"); v != "" {
		config.Export.Expression = v == "true" || v == "1"
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}

// EventLogger opens the event log for a run at the configured level.
func (c *SimConfig) EventLogger(runID string) *logging.EventLogger {
	return logging.NewEventLogger(c.EventDir(), c.Logging.Level, runID)
}
