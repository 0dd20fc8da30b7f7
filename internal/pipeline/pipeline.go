// =============================================================================
// BOQ Rate Filler - Reconciliation Pipeline
// =============================================================================
//
// This module runs the whole reconciliation for one target workbook, from
// raw bytes in to raw bytes out.
//
// PIPELINE:
//   1. Open the draft, identify its columns and index its priced rows
//   2. Open the target, identify its columns and scan the lines to fill
//   3. Stop early when no line needs a rate or amount
//   4. Match every line against the draft index
//   5. Write the matched values into the target sheet
//   6. Repack the target archive
//   7. Re-open the output and verify the written cells (optional)
//   8. Build the summary
//
// ERROR POLICY:
//   - Archive, structure and column errors stop the run (Result.Err is set)
//   - A row without a match is logged and counted, never an error
//   - A write failure returns the original bytes and the pre-write outcomes
//   - The context is checked between stages
//
// CONCURRENCY:
//   A Reconciler holds only configuration and may run many jobs at once.
//   Every run builds its own draft index.
//
// =============================================================================

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ginjaninja78/boq-rate-filler/internal/columns"
	"github.com/ginjaninja78/boq-rate-filler/internal/config"
	"github.com/ginjaninja78/boq-rate-filler/internal/logging"
	"github.com/ginjaninja78/boq-rate-filler/internal/matcher"
	"github.com/ginjaninja78/boq-rate-filler/internal/rowscan"
	"github.com/ginjaninja78/boq-rate-filler/internal/types"
	"github.com/ginjaninja78/boq-rate-filler/internal/validation"
	"github.com/ginjaninja78/boq-rate-filler/internal/vector"
	"github.com/ginjaninja78/boq-rate-filler/internal/xlsxparser"
	"github.com/ginjaninja78/boq-rate-filler/internal/xmlwriter"
	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// =============================================================================
// JOB AND RESULT
// =============================================================================

// Job is one draft/target pair. Names are used for logs only.
type Job struct {
	DraftName string
	Draft     []byte

	TargetName string
	Target     []byte

	// DraftSheet and TargetSheet select a worksheet by name; empty means the
	// first sheet.
	DraftSheet  string
	TargetSheet string
}

// Result is the outcome of one run.
type Result struct {
	Summary types.Summary

	// RunID tags every log line of the run.
	RunID string

	Outcomes []types.MatchOutcome

	// Output is the filled workbook, or the unmodified target when nothing
	// was written or the write failed. It is nil when the run stopped before
	// the target was read.
	Output []byte

	// Err is the error that stopped the run. ErrNoWorkToDo is reported here
	// with Summary.Success still true.
	Err error

	Duration time.Duration

	// TargetSheet and Columns describe what was written, for reports.
	TargetSheet string
	Columns     types.ColumnMap

	// Verification is set when output verification ran.
	Verification *validation.ValidationResult
}

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler runs jobs with one configuration.
type Reconciler struct {
	columns columns.Options
	policy  matcher.Policy
	writer  xmlwriter.Options
	verify  bool
	logger  zerolog.Logger
}

// New creates a Reconciler from the application configuration.
func New(cfg *config.Config, logger zerolog.Logger) *Reconciler {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Reconciler{
		columns: columns.Options{
			ScanRows:      cfg.Matching.HeaderScanRows,
			MinSimilarity: cfg.Matching.ColumnSimilarity,
		},
		policy: PolicyFromConfig(cfg.Matching),
		writer: xmlwriter.Options{
			ClearStyle:  cfg.Writer.ClearStyle,
			AutoWidth:   cfg.Writer.AutoWidth,
			ForceRecalc: cfg.Writer.ForceRecalc,
		},
		verify: cfg.Writer.VerifyOutput,
		logger: logger,
	}
}

// PolicyFromConfig maps the matching settings onto an engine policy. An
// unknown mode falls back to indexed; Validate rejects it earlier.
func PolicyFromConfig(m config.MatchingConfig) matcher.Policy {
	mode, err := matcher.ParseMode(m.Mode)
	if err != nil {
		mode = matcher.ModeIndexed
	}
	v := m.Vector
	return matcher.Policy{
		Mode: mode,
		Vector: vector.Params{
			ItemWeight:        v.Weights.Item,
			DescriptionWeight: v.Weights.Description,
			UnitWeight:        v.Weights.Unit,
			QtyWeight:         v.Weights.Qty,
			QtyDiffThreshold:  v.QtyDiffThreshold,
			QtyPenaltyFactor:  v.QtyPenaltyFactor,
			QtyPenaltyCap:     v.QtyPenaltyCap,
			QtyScale:          v.QtyScale,
			Strong:            vector.Band{MinSimilarity: v.Strong.MinSimilarity, MaxScore: v.Strong.MaxScore},
			Medium:            vector.Band{MinSimilarity: v.Medium.MinSimilarity, MaxScore: v.Medium.MaxScore},
			Weak:              vector.Band{MinSimilarity: v.Weak.MinSimilarity, MaxScore: v.Weak.MaxScore},
		},
	}
}

// loaded is an opened workbook with its chosen sheet and column layout.
type loaded struct {
	container *xlsxparser.Container
	ref       xlsxparser.SheetRef
	sheet     *xlsxparser.Sheet
	columns   columns.Result
}

// =============================================================================
// MAIN ENTRY POINT
// =============================================================================

// Run reconciles one job. It never panics on bad input and always returns
// a Result; failures are reported through Result.Err and the summary.
func (r *Reconciler) Run(ctx context.Context, job Job) *Result {
	startTime := time.Now()
	res := &Result{RunID: uuid.NewString(), Columns: types.NewColumnMap()}

	logger := r.logger.With().Str("run_id", res.RunID).Str("target", job.TargetName).Logger()
	trace := logging.NewTrace(logger)

	defer func() {
		res.Duration = time.Since(startTime)
		res.Summary.Logs = trace.Lines()
		var event *zerolog.Event
		if pkgerrors.IsFatal(res.Err) {
			event = logger.Error().Err(res.Err)
		} else {
			event = logger.Info()
		}
		event.Int("matched", res.Summary.MatchedCount).
			Int("total", res.Summary.TotalCount).
			Dur("duration", res.Duration).
			Msg(res.Summary.Message)
	}()

	fail := func(stage string, err error) *Result {
		res.Err = err
		res.Summary.Success = false
		res.Summary.Message = fmt.Sprintf("%s failed: %v", stage, err)
		trace.Warnf("%s failed: %v", stage, err)
		return res
	}

	// =========================================================================
	// STEP 1: LOAD DRAFT
	// =========================================================================

	if err := canceled(ctx); err != nil {
		return fail("draft", err)
	}
	draft, err := r.load(job.Draft, job.DraftSheet)
	if err != nil {
		return fail("draft", err)
	}
	trace.Addf("draft %s: sheet %q (%s), header row %d, columns %s",
		job.DraftName, draft.ref.Name, draft.ref.Part, draft.columns.HeaderRow, describeColumns(draft.columns.Columns))

	draftSet := rowscan.ScanDraft(draft.sheet, draft.columns.Columns, draft.columns.HeaderRow)
	trace.Addf("draft: %d distinct rows indexed", draftSet.Len())

	// =========================================================================
	// STEP 2: LOAD TARGET
	// =========================================================================

	if err := canceled(ctx); err != nil {
		return fail("target", err)
	}
	target, err := r.load(job.Target, job.TargetSheet)
	if err != nil {
		return fail("target", err)
	}
	res.TargetSheet = target.ref.Name
	res.Columns = target.columns.Columns
	trace.Addf("target %s: sheet %q (%s), header row %d, columns %s",
		job.TargetName, target.ref.Name, target.ref.Part, target.columns.HeaderRow, describeColumns(target.columns.Columns))

	scan := rowscan.ScanTarget(target.sheet, target.columns.Columns, target.columns.HeaderRow)
	for _, sr := range scan.Rows {
		if sr.Skipped {
			trace.Addf("row %d: skipped", sr.Number)
		}
	}

	// =========================================================================
	// STEP 3: CHECK FOR WORK
	// =========================================================================

	if len(scan.Lines) == 0 {
		res.Err = pkgerrors.ErrNoWorkToDo
		res.Output = job.Target
		res.Summary.Success = true
		res.Summary.Message = "no rows need filling"
		trace.Addf("target: no rows need a rate or amount")
		return res
	}
	trace.Addf("target: %d rows need filling", len(scan.Lines))

	// =========================================================================
	// STEP 4: MATCH
	// =========================================================================

	if err := canceled(ctx); err != nil {
		return fail("match", err)
	}
	engine := matcher.NewEngine(draftSet, r.policy, logger)
	outcomes := engine.Match(scan.Lines)
	res.Outcomes = outcomes
	res.Summary.TotalCount = len(outcomes)
	for _, o := range outcomes {
		if o.Matched {
			res.Summary.MatchedCount++
			trace.Addf("row %d (%s): %s match with draft row %d", o.Target.RowNumber, o.Target.Item, o.Kind, o.Source.RowNumber)
			continue
		}
		trace.Addf("row %d (%s): %v", o.Target.RowNumber, o.Target.Item, pkgerrors.ErrRowMatchMiss)
	}

	// =========================================================================
	// STEP 5: WRITE
	// =========================================================================
	// A write failure keeps the pre-write outcomes and the original bytes.

	if err := canceled(ctx); err != nil {
		return fail("write", err)
	}
	written, err := xmlwriter.Apply(target.container, target.ref, xmlwriter.Input{
		Sheet:    target.sheet,
		Scan:     scan,
		Outcomes: outcomes,
		Columns:  target.columns.Columns,
	}, r.writer)
	if err != nil {
		res.Output = job.Target
		return fail("write", err)
	}
	res.Outcomes = written.Outcomes

	// =========================================================================
	// STEP 6: REPACK
	// =========================================================================

	output, err := target.container.Repack(written.Parts)
	if err != nil {
		res.Output = job.Target
		res.Outcomes = outcomes
		return fail("repack", err)
	}
	res.Output = output

	wrote := 0
	for _, o := range res.Outcomes {
		if o.Wrote() {
			wrote++
		}
	}
	trace.Addf("write: %d rows changed, %d parts replaced", wrote, len(written.Parts))

	// =========================================================================
	// STEP 7: VERIFY
	// =========================================================================
	// Findings are diagnostics only.

	if r.verify && len(written.Parts) > 0 {
		v := validation.Verify(output, target.ref.Name, res.Outcomes, target.columns.Columns)
		res.Verification = v
		for _, e := range v.Errors {
			trace.Warnf("verify: %s", e.Error())
		}
	}

	// =========================================================================
	// COMPLETE
	// =========================================================================

	res.Summary.Success = true
	res.Summary.Message = fmt.Sprintf("matched %d of %d rows", res.Summary.MatchedCount, res.Summary.TotalCount)
	return res
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// load opens a workbook and identifies the columns of the chosen sheet.
func (r *Reconciler) load(data []byte, sheetName string) (*loaded, error) {
	c, err := xlsxparser.Open(data)
	if err != nil {
		return nil, err
	}
	ref, err := c.ResolveSheet(sheetName)
	if err != nil {
		return nil, err
	}
	sst, err := c.SharedStrings()
	if err != nil {
		return nil, err
	}
	raw, err := c.SheetData(ref)
	if err != nil {
		return nil, err
	}
	sheet, err := xlsxparser.ParseSheet(raw, sst)
	if err != nil {
		return nil, err
	}

	scanRows := r.columns.ScanRows
	if scanRows <= 0 {
		scanRows = columns.DefaultOptions().ScanRows
	}
	cols, err := columns.Identify(rowscan.HeaderCandidates(sheet, scanRows), r.columns)
	if err != nil {
		var cie *pkgerrors.ColumnIdentificationError
		if errors.As(err, &cie) {
			cie.Sheet = ref.Name
		}
		return nil, err
	}
	return &loaded{container: c, ref: ref, sheet: sheet, columns: cols}, nil
}

func canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrCanceled, err)
	}
	return nil
}

func describeColumns(cm types.ColumnMap) string {
	name := func(col int) string {
		if col < 0 {
			return "-"
		}
		n, err := xlsxparser.ColumnName(col)
		if err != nil {
			return "?"
		}
		return n
	}
	return fmt.Sprintf("item=%s description=%s unit=%s qty=%s rate=%s amount=%s",
		name(cm.Item), name(cm.Description), name(cm.Unit), name(cm.Qty), name(cm.Rate), name(cm.Amount))
}
