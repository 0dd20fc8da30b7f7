// =============================================================================
// BOQ Rate Filler - Batch Command
// =============================================================================
//
// This file defines the 'batch' command, which fills every target workbook
// of a directory from one priced draft.
//
// COMMAND USAGE:
//   ratefill batch --draft D --input-dir I [flags]
//
// FLAGS:
//   --draft        : The priced draft workbook (required)
//   --input-dir    : Directory of target workbooks (required)
//   --output-dir   : Output directory (default: output.dir)
//   --concurrency  : Maximum targets processed at once (default: 3)
//   --pattern      : Glob for target files (default: *.xlsx)
//   --sheet        : Target worksheet name (default: first sheet)
//   --draft-sheet  : Draft worksheet name (default: first sheet)
//   --mode         : Matching mode: indexed, fallback or best-match
//   --report       : Also write a CSV match report per target
//
// PROCESSING PIPELINE:
//   1. Read the draft once
//   2. Discover target workbooks in the input directory
//   3. For each target (bounded concurrency):
//      a. Reconcile it against the draft
//      b. Write the filled workbook, or copy the target through on failure
//   4. Write a summary log and print the totals
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ginjaninja78/boq-rate-filler/internal/batch"
	"github.com/ginjaninja78/boq-rate-filler/internal/pipeline"
	"github.com/ginjaninja78/boq-rate-filler/internal/report"
	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
	"github.com/ginjaninja78/boq-rate-filler/pkg/utils"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var batchFlags struct {
	draft      string
	inputDir   string
	pattern    string
	sheet      string
	draftSheet string
}

// =============================================================================
// BATCH COMMAND DEFINITION
// =============================================================================

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Fill every target workbook in a directory from one priced draft",
	Long: `The batch command reconciles every workbook in the input directory against
the same priced draft. Targets are processed concurrently, and a failure in one
target does not affect the others.

On success:
  - The filled workbook is placed in the output directory

On error:
  - The target is copied to the output directory unchanged
  - The error is recorded in the summary log
  - Processing continues for other files`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd)
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringVar(&batchFlags.draft, "draft", "", "Priced draft workbook")
	batchCmd.Flags().StringVar(&batchFlags.inputDir, "input-dir", "", "Directory of target workbooks")
	batchCmd.Flags().String("output-dir", "", "Output directory")
	batchCmd.Flags().Int("concurrency", 0, "Maximum targets processed at once")
	batchCmd.Flags().StringVar(&batchFlags.pattern, "pattern", "*.xlsx", "Glob for target files")
	batchCmd.Flags().StringVar(&batchFlags.sheet, "sheet", "", "Target worksheet name")
	batchCmd.Flags().StringVar(&batchFlags.draftSheet, "draft-sheet", "", "Draft worksheet name")
	batchCmd.Flags().String("mode", "", "Matching mode (indexed, fallback, best-match)")
	batchCmd.Flags().Bool("report", false, "Also write a CSV match report per target")

	batchCmd.MarkFlagRequired("draft")
	batchCmd.MarkFlagRequired("input-dir")
}

// filled is the result of one successful target.
type filled struct {
	input  string
	output string
	res    *pipeline.Result
}

// copiedThrough is the error of a failed target, with where its copy went.
type copiedThrough struct {
	copiedTo string
	err      error
}

func (e *copiedThrough) Error() string { return e.err.Error() }
func (e *copiedThrough) Unwrap() error { return e.err }

// =============================================================================
// MAIN BATCH FUNCTION
// =============================================================================

func runBatch(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	startTime := time.Now()

	// =========================================================================
	// STEP 1: READ THE DRAFT
	// =========================================================================

	fmt.Fprintln(out, styles.title.Render("=== BOQ Rate Filler: batch ==="))

	draft, err := utils.ReadInput(batchFlags.draft)
	if err != nil {
		return err
	}

	// =========================================================================
	// STEP 2: DISCOVER TARGETS
	// =========================================================================

	fm := utils.NewFileManager(batchFlags.inputDir, appConfig.Output.Dir)
	targets, err := fm.DiscoverWorkbooks(batchFlags.pattern)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(out, "No workbooks found in the input directory.")
		return nil
	}
	if err := fm.EnsureOutputDir(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Found %d workbook(s) to fill\n", len(targets))

	// =========================================================================
	// STEP 3: PROCESS TARGETS CONCURRENTLY
	// =========================================================================

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	reconciler := pipeline.New(appConfig, logger)
	draftName := filepath.Base(batchFlags.draft)

	worker := func(ctx context.Context, input string) (filled, error) {
		output := fm.OutputPath(input, appConfig.Output.NameFormat)
		f, err := fillOne(ctx, reconciler, draftName, draft, input, output)
		if err != nil && !appConfig.Batch.ContinueOnError {
			cancel()
		}
		return f, err
	}

	progress := batch.Throttle(appConfig.Batch.ProgressInterval, func(completed, total int, item string) {
		fmt.Fprintln(out, styles.muted.Render(fmt.Sprintf("  [%d/%d] %s", completed, total, filepath.Base(item))))
	})

	results, stats := batch.Run(ctx, targets, worker, batch.Options[string]{
		MaxConcurrency: appConfig.Batch.MaxConcurrency,
		OnProgress:     progress,
		Name:           filepath.Base,
		Logger:         &logger,
	})

	// =========================================================================
	// STEP 4: COLLECT RESULTS AND WRITE SUMMARY
	// =========================================================================

	summary := utils.ProcessingSummary{
		StartTime:       startTime,
		DraftFile:       batchFlags.draft,
		TotalFiles:      stats.Total,
		SuccessfulFiles: stats.Succeeded,
		FailedFiles:     stats.Failed,
		SkippedFiles:    stats.Skipped,
	}
	for _, f := range results {
		summary.TotalRows += f.res.Summary.TotalCount
		summary.MatchedRows += f.res.Summary.MatchedCount
		summary.ProcessedFiles = append(summary.ProcessedFiles, utils.ProcessedFileInfo{
			InputFile:   f.input,
			OutputFile:  f.output,
			RunID:       f.res.RunID,
			Matched:     f.res.Summary.MatchedCount,
			Total:       f.res.Summary.TotalCount,
			Message:     f.res.Summary.Message,
			ProcessTime: f.res.Duration,
		})
		fmt.Fprintf(out, "  %s %s -> %s (%s)\n", styles.ok.Render("✓"),
			filepath.Base(f.input), filepath.Base(f.output), f.res.Summary.Message)
	}
	for _, failure := range stats.Failures {
		info := utils.FailedFileInfo{InputFile: targets[failure.Index], ErrorMessage: failure.Err.Error()}
		var ct *copiedThrough
		if errors.As(failure.Err, &ct) {
			info.CopiedTo = ct.copiedTo
		}
		summary.FailedFilesList = append(summary.FailedFilesList, info)
		fmt.Fprintf(out, "  %s %s: %v\n", styles.fail.Render("✗"), failure.Name, failure.Err)
	}
	summary.EndTime = time.Now()

	summaryPath, err := utils.WriteSummaryLog(summary, fm.OutputDir)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to write summary log")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.title.Render("=== Batch Complete ==="))
	field(out, "Total files", stats.Total)
	field(out, "Successful", styles.ok.Render(fmt.Sprint(stats.Succeeded)))
	if stats.Failed > 0 {
		field(out, "Failed", styles.fail.Render(fmt.Sprint(stats.Failed)))
	} else {
		field(out, "Failed", 0)
	}
	if stats.Skipped > 0 {
		field(out, "Skipped", styles.warn.Render(fmt.Sprint(stats.Skipped)))
	}
	field(out, "Rows matched", fmt.Sprintf("%d of %d", summary.MatchedRows, summary.TotalRows))
	field(out, "Time elapsed", stats.Duration)
	if summaryPath != "" {
		field(out, "Summary", summaryPath)
	}

	return stats.Err()
}

// fillOne reconciles one target and writes its output. A failed target is
// copied through so the output directory mirrors the input.
func fillOne(ctx context.Context, r *pipeline.Reconciler, draftName string, draft []byte, input, output string) (filled, error) {
	target, err := utils.ReadInput(input)
	if err != nil {
		return filled{}, err
	}

	res := r.Run(ctx, pipeline.Job{
		DraftName:   draftName,
		Draft:       draft,
		TargetName:  filepath.Base(input),
		Target:      target,
		DraftSheet:  batchFlags.draftSheet,
		TargetSheet: batchFlags.sheet,
	})

	if pkgerrors.IsFatal(res.Err) {
		if err := utils.WriteOutput(output, target); err != nil {
			return filled{}, fmt.Errorf("%w; copy-through also failed: %v", res.Err, err)
		}
		return filled{}, &copiedThrough{copiedTo: output, err: res.Err}
	}

	if err := utils.WriteOutput(output, res.Output); err != nil {
		return filled{}, err
	}
	if appConfig.Output.Report {
		if err := report.WriteFile(reportPathFor(output), res.Outcomes); err != nil {
			return filled{}, err
		}
	}
	return filled{input: input, output: output, res: res}, nil
}
