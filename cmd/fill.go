// =============================================================================
// BOQ Rate Filler - Fill Command
// =============================================================================
//
// This file defines the 'fill' command, which reconciles one target workbook
// against one priced draft.
//
// COMMAND USAGE:
//   ratefill fill --draft D --target T [flags]
//
// FLAGS:
//   --draft        : The priced draft workbook (required)
//   --target       : The unpriced target workbook (required)
//   --output       : Output path (default: output.dir + output.name_format)
//   --sheet        : Target worksheet name (default: first sheet)
//   --draft-sheet  : Draft worksheet name (default: first sheet)
//   --mode         : Matching mode: indexed, fallback or best-match
//   --report       : Also write a CSV match report
//   --dry-run      : Match and print the summary without writing files
//
// =============================================================================

package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ginjaninja78/boq-rate-filler/internal/pipeline"
	"github.com/ginjaninja78/boq-rate-filler/internal/report"
	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
	"github.com/ginjaninja78/boq-rate-filler/pkg/utils"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var fillFlags struct {
	draft      string
	target     string
	output     string
	sheet      string
	draftSheet string
	dryRun     bool
}

// =============================================================================
// FILL COMMAND DEFINITION
// =============================================================================

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Fill the rates of one target workbook from a priced draft",
	Long: `The fill command reads the priced draft, identifies the header and columns
of both workbooks, matches every unpriced target row to a draft row and writes
the rate, an amount formula and any section totals into the target.

Only the changed worksheet and, when recalculation is forced, the workbook part
are replaced. Rows that do not match are left untouched, and a target with no
matches at all is written back byte for byte.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFill(cmd)
	},
}

func init() {
	rootCmd.AddCommand(fillCmd)

	fillCmd.Flags().StringVar(&fillFlags.draft, "draft", "", "Priced draft workbook")
	fillCmd.Flags().StringVar(&fillFlags.target, "target", "", "Unpriced target workbook")
	fillCmd.Flags().StringVarP(&fillFlags.output, "output", "o", "", "Output workbook path")
	fillCmd.Flags().StringVar(&fillFlags.sheet, "sheet", "", "Target worksheet name")
	fillCmd.Flags().StringVar(&fillFlags.draftSheet, "draft-sheet", "", "Draft worksheet name")
	fillCmd.Flags().String("mode", "", "Matching mode (indexed, fallback, best-match)")
	fillCmd.Flags().Bool("report", false, "Also write a CSV match report")
	fillCmd.Flags().BoolVar(&fillFlags.dryRun, "dry-run", false, "Match without writing any file")

	fillCmd.MarkFlagRequired("draft")
	fillCmd.MarkFlagRequired("target")
}

// =============================================================================
// MAIN FILL FUNCTION
// =============================================================================

func runFill(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	// =========================================================================
	// STEP 1: READ INPUTS
	// =========================================================================

	draft, err := utils.ReadInput(fillFlags.draft)
	if err != nil {
		return err
	}
	target, err := utils.ReadInput(fillFlags.target)
	if err != nil {
		return err
	}

	outputPath := fillFlags.output
	if outputPath == "" {
		fm := utils.NewFileManager(filepath.Dir(fillFlags.target), appConfig.Output.Dir)
		outputPath = fm.OutputPath(fillFlags.target, appConfig.Output.NameFormat)
	}
	if samePath(outputPath, fillFlags.target) {
		return fmt.Errorf("output %s would overwrite the target", outputPath)
	}

	// =========================================================================
	// STEP 2: RECONCILE
	// =========================================================================

	res := pipeline.New(appConfig, logger).Run(cmd.Context(), pipeline.Job{
		DraftName:   filepath.Base(fillFlags.draft),
		Draft:       draft,
		TargetName:  filepath.Base(fillFlags.target),
		Target:      target,
		DraftSheet:  fillFlags.draftSheet,
		TargetSheet: fillFlags.sheet,
	})
	printResult(out, res, verbose)

	if pkgerrors.IsFatal(res.Err) {
		if !fillFlags.dryRun {
			if err := keepOriginal(out, outputPath, res); err != nil {
				logger.Error().Err(err).Str("output", outputPath).Msg("could not copy the target through")
			}
		}
		return res.Err
	}

	// =========================================================================
	// STEP 3: WRITE OUTPUTS
	// =========================================================================

	if fillFlags.dryRun {
		fmt.Fprintln(out, styles.muted.Render("dry run: no files written"))
		return nil
	}

	if err := utils.WriteOutput(outputPath, res.Output); err != nil {
		return err
	}
	field(out, "Output", outputPath)

	if appConfig.Output.Report {
		reportPath := reportPathFor(outputPath)
		if err := report.WriteFile(reportPath, res.Outcomes); err != nil {
			return err
		}
		field(out, "Report", reportPath)
	}
	return nil
}

// keepOriginal writes the untouched target the pipeline hands back when
// writing into it failed. Other failures produce no output.
func keepOriginal(w io.Writer, outputPath string, res *pipeline.Result) error {
	if !pkgerrors.IsWrite(res.Err) || res.Output == nil {
		return nil
	}
	if err := utils.WriteOutput(outputPath, res.Output); err != nil {
		return err
	}
	field(w, "Output", outputPath+" (unchanged copy)")
	return nil
}

// reportPathFor names the CSV report written next to an output workbook.
func reportPathFor(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + "_report.csv"
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	if absA == absB {
		return true
	}
	ia, errA := os.Stat(absA)
	ib, errB := os.Stat(absB)
	return errA == nil && errB == nil && os.SameFile(ia, ib)
}
