package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/ginjaninja78/boq-rate-filler/internal/pipeline"
	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
)

// styles holds the terminal styles of command summaries.
var styles = struct {
	title lipgloss.Style
	label lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	fail  lipgloss.Style
	muted lipgloss.Style
}{
	title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
	label: lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Width(16),
	ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("40")),
	warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	fail:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	muted: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
}

func field(w io.Writer, name string, value any) {
	fmt.Fprintf(w, "%s %v\n", styles.label.Render(name+":"), value)
}

// printResult writes the summary of one pipeline run.
func printResult(w io.Writer, res *pipeline.Result, showLogs bool) {
	fmt.Fprintln(w, styles.title.Render("=== BOQ Rate Filler ==="))
	field(w, "Run ID", res.RunID)

	switch {
	case pkgerrors.IsNoWorkToDo(res.Err):
		field(w, "Result", styles.warn.Render(res.Summary.Message))
	case res.Summary.Success:
		field(w, "Result", styles.ok.Render(res.Summary.Message))
	default:
		field(w, "Result", styles.fail.Render(res.Summary.Message))
	}
	if res.TargetSheet != "" {
		field(w, "Sheet", res.TargetSheet)
		field(w, "Columns", pipeline.DescribeColumns(res.Columns))
	}
	field(w, "Matched", fmt.Sprintf("%d of %d", res.Summary.MatchedCount, res.Summary.TotalCount))
	field(w, "Time elapsed", res.Duration)

	if v := res.Verification; v != nil {
		if v.IsValid {
			field(w, "Verification", styles.ok.Render(fmt.Sprintf("%d cells read back", v.CellsChecked)))
		} else {
			field(w, "Verification", styles.warn.Render(fmt.Sprintf("%d finding(s)", len(v.Errors))))
		}
	}

	if showLogs && len(res.Summary.Logs) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, styles.muted.Render(strings.Join(res.Summary.Logs, "\n")))
	}
}
