// =============================================================================
// BOQ Rate Filler - Output Verification
// =============================================================================
//
// This module re-opens a written workbook with an independent reader and
// confirms that every value the writer reported is actually there.
//
// CHECKS (per outcome):
//   - Written Item/Description text reads back unchanged
//   - Written Qty/Rate/Amount numbers read back within Tolerance
//   - Amount and Total formulas read back as the same expression
//
// ERROR HANDLING:
//   - Findings are collected, never returned as a Go error
//   - A workbook that cannot be re-opened is a single "error" finding
//   - The pipeline logs findings as warnings; they never fail a run
//
// =============================================================================

package validation

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/ginjaninja78/boq-rate-filler/internal/types"
	"github.com/ginjaninja78/boq-rate-filler/internal/xlsxparser"
	"github.com/xuri/excelize/v2"
)

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// ValidationError is one cell that did not read back as written.
type ValidationError struct {
	// Severity is "error" for a wrong value and "warning" for a value that
	// could not be checked.
	Severity string

	// Cell is the A1 reference, empty for workbook-level findings.
	Cell string

	Expected string
	Actual   string
	Message  string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Cell == "" {
		return fmt.Sprintf("[%s] %s", strings.ToUpper(e.Severity), e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s (expected %q, got %q)",
		strings.ToUpper(e.Severity), e.Cell, e.Message, e.Expected, e.Actual)
}

// ValidationResult holds every finding of one verification.
type ValidationResult struct {
	// IsValid is true when there are no "error" findings.
	IsValid bool

	Errors       []*ValidationError
	ErrorCount   int
	WarningCount int

	// CellsChecked counts every cell compared.
	CellsChecked int
}

func (r *ValidationResult) add(e *ValidationError) {
	r.Errors = append(r.Errors, e)
	if e.Severity == SeverityError {
		r.ErrorCount++
		r.IsValid = false
	} else {
		r.WarningCount++
	}
}

// =============================================================================
// VERIFIER
// =============================================================================

// Options tunes the comparison.
type Options struct {
	// Tolerance is the absolute difference allowed between numbers.
	// Default: 1e-6
	Tolerance float64
}

// DefaultOptions returns the standard comparison settings.
func DefaultOptions() Options {
	return Options{Tolerance: 1e-6}
}

// Verifier checks written workbooks.
type Verifier struct {
	options Options
}

// NewVerifier creates a verifier.
func NewVerifier(options Options) *Verifier {
	if options.Tolerance <= 0 {
		options.Tolerance = DefaultOptions().Tolerance
	}
	return &Verifier{options: options}
}

// Verify checks output with default options.
func Verify(output []byte, sheet string, outcomes []types.MatchOutcome, cm types.ColumnMap) *ValidationResult {
	return NewVerifier(DefaultOptions()).Verify(output, sheet, outcomes, cm)
}

// Verify re-opens output and compares every written cell of sheet.
//
// PARAMETERS:
//   - output: the repacked workbook bytes
//   - sheet: the worksheet name the writer targeted
//   - outcomes: the writer's enriched outcomes
//   - cm: the column map used for the write
//
// RETURNS:
//   - A result; IsValid is false when any written value is missing or wrong
func (v *Verifier) Verify(output []byte, sheet string, outcomes []types.MatchOutcome, cm types.ColumnMap) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	f, err := excelize.OpenReader(bytes.NewReader(output))
	if err != nil {
		result.add(&ValidationError{Severity: SeverityError, Message: "cannot re-open output: " + err.Error()})
		return result
	}
	defer f.Close()

	for _, o := range outcomes {
		row := o.Target.RowNumber
		if o.WrittenItem != "" {
			v.checkText(f, result, sheet, cm.Item, row, o.WrittenItem)
		}
		if o.WrittenDesc != "" {
			v.checkText(f, result, sheet, cm.Description, row, o.WrittenDesc)
		}
		if o.WrittenQty != nil {
			v.checkNumber(f, result, sheet, cm.Qty, row, *o.WrittenQty)
		}
		if o.WrittenRate != nil {
			v.checkNumber(f, result, sheet, o.Target.RateColumn, row, *o.WrittenRate)
		}
		switch {
		case o.AmountFormula != "":
			v.checkFormula(f, result, sheet, o.Target.AmountColumn, row, o.AmountFormula)
		case o.WrittenAmount != nil:
			v.checkNumber(f, result, sheet, o.Target.AmountColumn, row, *o.WrittenAmount)
		}
		if o.TotalFormula != "" {
			v.checkFormula(f, result, sheet, o.Target.AmountColumn, row, o.TotalFormula)
		}
	}
	return result
}

// =============================================================================
// CELL CHECKS
// =============================================================================

func (v *Verifier) read(f *excelize.File, result *ValidationResult, sheet string, col, row int) (string, string, bool) {
	ref, err := xlsxparser.CellName(col, row)
	if err != nil {
		result.add(&ValidationError{Severity: SeverityWarning, Message: fmt.Sprintf("bad cell position %d/%d", col, row)})
		return "", "", false
	}
	result.CellsChecked++
	value, err := f.GetCellValue(sheet, ref, excelize.Options{RawCellValue: true})
	if err != nil {
		result.add(&ValidationError{Severity: SeverityWarning, Cell: ref, Message: "cannot read cell: " + err.Error()})
		return ref, "", false
	}
	return ref, value, true
}

func (v *Verifier) checkText(f *excelize.File, result *ValidationResult, sheet string, col, row int, want string) {
	ref, got, ok := v.read(f, result, sheet, col, row)
	if ok && got != want {
		result.add(&ValidationError{Severity: SeverityError, Cell: ref, Expected: want, Actual: got, Message: "text mismatch"})
	}
}

func (v *Verifier) checkNumber(f *excelize.File, result *ValidationResult, sheet string, col, row int, want float64) {
	ref, got, ok := v.read(f, result, sheet, col, row)
	if !ok {
		return
	}
	expected := fmt.Sprintf("%g", want)
	n, parsed := types.ParseNumber(got)
	if !parsed || math.Abs(n-want) > v.options.Tolerance {
		result.add(&ValidationError{Severity: SeverityError, Cell: ref, Expected: expected, Actual: got, Message: "number mismatch"})
	}
}

func (v *Verifier) checkFormula(f *excelize.File, result *ValidationResult, sheet string, col, row int, want string) {
	ref, err := xlsxparser.CellName(col, row)
	if err != nil {
		return
	}
	result.CellsChecked++
	got, err := f.GetCellFormula(sheet, ref)
	if err != nil {
		result.add(&ValidationError{Severity: SeverityWarning, Cell: ref, Message: "cannot read formula: " + err.Error()})
		return
	}
	want = strings.TrimPrefix(want, "=")
	if strings.TrimPrefix(got, "=") != want {
		result.add(&ValidationError{Severity: SeverityError, Cell: ref, Expected: want, Actual: got, Message: "formula mismatch"})
	}
}

// =============================================================================
// REPORTING
// =============================================================================

// FormatErrors formats findings for display or logging.
func FormatErrors(errors []*ValidationError) string {
	if len(errors) == 0 {
		return "No validation errors."
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Verification completed with %d finding(s):\n\n", len(errors)))
	for i, err := range errors {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

// WriteErrorLog writes findings to filePath with a timestamped header.
func WriteErrorLog(errors []*ValidationError, filePath string) error {
	var b strings.Builder
	b.WriteString("Verification log - " + time.Now().Format(time.RFC3339) + "\n\n")
	b.WriteString(FormatErrors(errors))
	return os.WriteFile(filePath, []byte(b.String()), 0o644)
}
