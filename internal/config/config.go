// =============================================================================
// BOQ Rate Filler - Configuration Module
// =============================================================================
//
// This module loads the application configuration. Every threshold used by
// column identification, matching and vector scoring lives here as a named,
// overridable setting.
//
// CONFIGURATION SOURCES (lowest to highest precedence):
//   1. Built-in defaults (Default)
//   2. The YAML file passed with --config (optional)
//   3. RATEFILL_* environment variables and command-line flags, applied by
//      the cmd package through ApplyOverrides
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// CONFIGURATION STRUCTURE
// =============================================================================

// Config holds the complete application configuration.
type Config struct {
	Matching MatchingConfig `yaml:"matching"`
	Writer   WriterConfig   `yaml:"writer"`
	Batch    BatchConfig    `yaml:"batch"`
	Output   OutputConfig   `yaml:"output"`
	Log      LogConfig      `yaml:"log"`
}

// MatchingConfig controls column identification and reconciliation.
type MatchingConfig struct {
	// Mode selects the tiers the engine runs:
	//   indexed    - exact, item and description tiers
	//   fallback   - the indexed tiers, then the vector tier for misses
	//   best-match - the vector tier only
	// Default: "indexed"
	Mode string `yaml:"mode" validate:"oneof=indexed fallback best-match"`

	// HeaderScanRows is how many leading rows are searched for the header.
	// Default: 30
	HeaderScanRows int `yaml:"header_scan_rows" validate:"min=1,max=1000"`

	// ColumnSimilarity is the minimum Levenshtein similarity for the rate and
	// amount header synonyms.
	// Default: 0.70
	ColumnSimilarity float64 `yaml:"column_similarity" validate:"gt=0,lte=1"`

	// Vector holds the scoring parameters of the vector tier.
	Vector VectorConfig `yaml:"vector"`
}

// VectorConfig holds the weights and acceptance bands of the vector tier.
type VectorConfig struct {
	Weights VectorWeights `yaml:"weights"`

	Strong Band `yaml:"strong"`
	Medium Band `yaml:"medium"`
	Weak   Band `yaml:"weak"`

	// QtyDiffThreshold is the relative quantity difference above which the
	// quantity penalty is amplified.
	// Default: 0.20
	QtyDiffThreshold float64 `yaml:"qty_diff_threshold" validate:"gte=0"`

	// QtyPenaltyFactor multiplies the relative difference above the threshold.
	// Default: 2.0
	QtyPenaltyFactor float64 `yaml:"qty_penalty_factor" validate:"gte=1"`

	// QtyPenaltyCap bounds the amplified quantity penalty.
	// Default: 2.0
	QtyPenaltyCap float64 `yaml:"qty_penalty_cap" validate:"gt=0"`

	// QtyScale is the quantity mapped to 1.0 in the feature vector.
	// Default: 1000
	QtyScale float64 `yaml:"qty_scale" validate:"gt=0"`
}

// VectorWeights are the weights of the four score components.
type VectorWeights struct {
	Item        float64 `yaml:"item" validate:"gte=0"`
	Description float64 `yaml:"description" validate:"gte=0"`
	Unit        float64 `yaml:"unit" validate:"gte=0"`
	Qty         float64 `yaml:"qty" validate:"gte=0"`
}

// Band is one acceptance level of the vector tier.
type Band struct {
	MinSimilarity float64 `yaml:"min_similarity" validate:"gte=0,lte=1"`
	MaxScore      float64 `yaml:"max_score" validate:"gt=0"`
}

// WriterConfig controls how matches are written back.
type WriterConfig struct {
	// ClearStyle removes the style attribute from cells the writer fills so
	// highlight fills in the target do not carry over.
	// Default: true
	ClearStyle bool `yaml:"clear_style"`

	// AutoWidth widens the rate and amount columns to fit written values.
	// Default: true
	AutoWidth bool `yaml:"auto_width"`

	// ForceRecalc sets the workbook to recalculate formulas on open.
	// Default: true
	ForceRecalc bool `yaml:"force_recalc"`

	// VerifyOutput re-opens the written workbook and checks the written cells.
	// Default: true
	VerifyOutput bool `yaml:"verify_output"`
}

// BatchConfig controls multi-file runs.
type BatchConfig struct {
	// MaxConcurrency is the maximum number of targets processed at once.
	// Default: 3
	MaxConcurrency int `yaml:"max_concurrency" validate:"min=1,max=64"`

	// ProgressInterval throttles progress output.
	// Default: 500ms
	ProgressInterval time.Duration `yaml:"progress_interval" validate:"gte=0"`

	// ContinueOnError keeps processing other targets when one fails. Failed
	// targets are copied through untouched.
	// Default: true
	ContinueOnError bool `yaml:"continue_on_error"`
}

// OutputConfig controls where results go.
type OutputConfig struct {
	// Dir is the directory written by the batch command.
	// Default: "./output"
	Dir string `yaml:"dir" validate:"required"`

	// NameFormat defines output file names.
	// Placeholders:
	//   {original}  - the target file name without extension
	//   {uuid}      - a random UUID
	//   {timestamp} - current timestamp (YYYYMMDD_HHMMSS)
	//   {date}      - current date (YYYYMMDD)
	// Default: "{original}_filled_{date}.xlsx"
	NameFormat string `yaml:"name_format" validate:"required"`

	// Report also writes a CSV match report next to each output.
	// Default: false
	Report bool `yaml:"report"`
}

// LogConfig controls the zerolog logger.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level" validate:"oneof=trace debug info warn error"`

	// Format is console or json.
	// Default: "console"
	Format string `yaml:"format" validate:"oneof=console json"`

	// Output is stderr, stdout, discard or a file path.
	// Default: "stderr"
	Output string `yaml:"output" validate:"required"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Matching: MatchingConfig{
			Mode:             "indexed",
			HeaderScanRows:   30,
			ColumnSimilarity: 0.70,
			Vector: VectorConfig{
				Weights:          VectorWeights{Item: 0.40, Description: 0.35, Unit: 0.10, Qty: 0.15},
				Strong:           Band{MinSimilarity: 0.90, MaxScore: 0.30},
				Medium:           Band{MinSimilarity: 0.80, MaxScore: 0.45},
				Weak:             Band{MinSimilarity: 0.70, MaxScore: 0.60},
				QtyDiffThreshold: 0.20,
				QtyPenaltyFactor: 2.0,
				QtyPenaltyCap:    2.0,
				QtyScale:         1000,
			},
		},
		Writer: WriterConfig{
			ClearStyle:   true,
			AutoWidth:    true,
			ForceRecalc:  true,
			VerifyOutput: true,
		},
		Batch: BatchConfig{
			MaxConcurrency:   3,
			ProgressInterval: 500 * time.Millisecond,
			ContinueOnError:  true,
		},
		Output: OutputConfig{
			Dir:        "./output",
			NameFormat: "{original}_filled_{date}.xlsx",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration file at path.
//
// PARAMETERS:
//   - path: The YAML file. An empty path or a missing file yields the defaults.
//
// RETURNS:
//   - The merged, validated configuration.
//   - An error if the file cannot be parsed or a value is out of range.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Fields absent from the file keep their default values.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyDefaults restores defaults for values explicitly zeroed in the file.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Matching.Mode == "" {
		cfg.Matching.Mode = def.Matching.Mode
	}
	if cfg.Matching.HeaderScanRows == 0 {
		cfg.Matching.HeaderScanRows = def.Matching.HeaderScanRows
	}
	if cfg.Matching.ColumnSimilarity == 0 {
		cfg.Matching.ColumnSimilarity = def.Matching.ColumnSimilarity
	}
	if cfg.Matching.Vector.QtyScale == 0 {
		cfg.Matching.Vector.QtyScale = def.Matching.Vector.QtyScale
	}
	if cfg.Batch.MaxConcurrency == 0 {
		cfg.Batch.MaxConcurrency = def.Batch.MaxConcurrency
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = def.Output.Dir
	}
	if cfg.Output.NameFormat == "" {
		cfg.Output.NameFormat = def.Output.NameFormat
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = def.Log.Output
	}
	cfg.Matching.Mode = strings.ToLower(cfg.Matching.Mode)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
}

// Validate checks every field against its validation tags and the rules
// that span more than one field.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	w := c.Matching.Vector.Weights
	if w.Item+w.Description+w.Unit+w.Qty == 0 {
		return errors.New("matching.vector.weights: at least one weight must be positive")
	}

	vc := c.Matching.Vector
	if !(vc.Strong.MinSimilarity >= vc.Medium.MinSimilarity && vc.Medium.MinSimilarity >= vc.Weak.MinSimilarity) {
		return errors.New("matching.vector: band similarities must not increase from strong to weak")
	}
	return nil
}

// =============================================================================
// OVERRIDES
// =============================================================================

// Overrides carries values set through flags or the environment. Nil fields
// leave the loaded configuration unchanged.
type Overrides struct {
	Mode           *string
	MaxConcurrency *int
	OutputDir      *string
	LogLevel       *string
	LogFormat      *string
	Report         *bool
}

// ApplyOverrides merges o into c and re-validates.
func (c *Config) ApplyOverrides(o Overrides) error {
	if o.Mode != nil {
		c.Matching.Mode = strings.ToLower(*o.Mode)
	}
	if o.MaxConcurrency != nil {
		c.Batch.MaxConcurrency = *o.MaxConcurrency
	}
	if o.OutputDir != nil {
		c.Output.Dir = *o.OutputDir
	}
	if o.LogLevel != nil {
		c.Log.Level = strings.ToLower(*o.LogLevel)
	}
	if o.LogFormat != nil {
		c.Log.Format = strings.ToLower(*o.LogFormat)
	}
	if o.Report != nil {
		c.Output.Report = *o.Report
	}
	return c.Validate()
}
