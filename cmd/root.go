// =============================================================================
// BOQ Rate Filler - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. All other commands
// are attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (ratefill)
//   ├── fillCmd    (ratefill fill)
//   ├── batchCmd   (ratefill batch)
//   ├── inspectCmd (ratefill inspect)
//   └── versionCmd (ratefill version)
//
// CONFIGURATION:
//   Settings are resolved in this order, later sources winning:
//   1. Built-in defaults
//   2. The YAML file named by --config (missing file is fine)
//   3. RATEFILL_* environment variables
//   4. Command-line flags
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ginjaninja78/boq-rate-filler/internal/config"
	"github.com/ginjaninja78/boq-rate-filler/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g. RATEFILL_MODE.
const envPrefix = "RATEFILL"

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the configuration file.
var cfgFile string

// verbose forces debug logging.
var verbose bool

// appConfig and logger are set by setup before any command runs.
var (
	appConfig = config.Default()
	logger    = zerolog.Nop()
)

// overrideKeys are the flag names that may also come from the environment.
var overrideKeys = []string{"config", "mode", "concurrency", "output-dir", "report", "log-level", "log-format"}

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ratefill",
	Short: "BOQ Rate Filler - copy rates from a priced draft into an unpriced bill",
	Long: `BOQ Rate Filler reconciles two bill-of-quantities workbooks. It reads
the rates of a priced draft, finds the matching rows of an unpriced target, and
writes the rates, amount formulas and section totals into the target while
leaving every other byte of the workbook untouched.

Example Usage:
  ratefill fill --draft priced.xlsx --target tender.xlsx
  ratefill fill --draft priced.xlsx --target tender.xlsx --mode fallback
  ratefill batch --draft priced.xlsx --input-dir ./tenders --output-dir ./filled
  ratefill inspect tender.xlsx`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command with a context canceled on SIGINT/SIGTERM.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, styles.fail.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "ratefill.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (console, json)")
}

// setup loads the configuration, applies environment and flag overrides,
// and builds the logger.
func setup(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	for _, key := range overrideKeys {
		if f := cmd.Flags().Lookup(key); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", key, err)
			}
		}
	}

	path := cfgFile
	if v.IsSet("config") {
		path = v.GetString("config")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	var o config.Overrides
	if v.IsSet("mode") {
		s := v.GetString("mode")
		o.Mode = &s
	}
	if v.IsSet("concurrency") {
		n := v.GetInt("concurrency")
		o.MaxConcurrency = &n
	}
	if v.IsSet("output-dir") {
		s := v.GetString("output-dir")
		o.OutputDir = &s
	}
	if v.IsSet("report") {
		b := v.GetBool("report")
		o.Report = &b
	}
	if v.IsSet("log-level") {
		s := v.GetString("log-level")
		o.LogLevel = &s
	}
	if v.IsSet("log-format") {
		s := v.GetString("log-format")
		o.LogFormat = &s
	}
	if verbose {
		s := "debug"
		o.LogLevel = &s
	}
	if err := cfg.ApplyOverrides(o); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	appConfig = cfg
	logger = logging.New(&logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		NoColor: os.Getenv("NO_COLOR") != "",
	})
	logger.Debug().Str("config", path).Str("mode", cfg.Matching.Mode).Msg("configuration loaded")
	return nil
}
