package cmd

import (
	"fmt"

	"github.com/ginjaninja78/boq-rate-filler/internal/pipeline"
	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
	"github.com/ginjaninja78/boq-rate-filler/pkg/utils"
	"github.com/spf13/cobra"
)

var inspectSheet string

// inspectCmd shows how a workbook will be read, without changing it.
var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Show the sheets, header row and column map of a workbook",
	Long: `The inspect command opens a workbook the same way fill does and prints its
worksheets, the part each one is stored in, the detected header row and the
column of every field. Use it to check why a workbook fails column
identification or which sheet will be used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVar(&inspectSheet, "sheet", "", "Worksheet name (default: first sheet)")
}

func runInspect(cmd *cobra.Command, path string) error {
	out := cmd.OutOrStdout()

	data, err := utils.ReadInput(path)
	if err != nil {
		return err
	}

	ins, err := pipeline.New(appConfig, logger).Inspect(data, inspectSheet)
	if ins == nil {
		return err
	}

	fmt.Fprintln(out, styles.title.Render("=== "+path+" ==="))
	for _, s := range ins.Sheets {
		marker := " "
		if s.Name == ins.Sheet.Name {
			marker = styles.ok.Render("*")
		}
		state := ""
		if s.State != "" && s.State != "visible" {
			state = styles.muted.Render(" (" + s.State + ")")
		}
		fmt.Fprintf(out, " %s %s -> %s %s%s\n", marker, s.Name, s.Part, styles.muted.Render("["+s.Strategy+"]"), state)
	}
	fmt.Fprintln(out)

	if err != nil {
		if pkgerrors.IsColumnIdentification(err) {
			field(out, "Columns", styles.fail.Render(err.Error()))
			return nil
		}
		return err
	}

	field(out, "Header row", ins.HeaderRow)
	field(out, "Columns", pipeline.DescribeColumns(ins.Columns))
	field(out, "Priced rows", ins.DraftRows)
	field(out, "Open rows", ins.OpenLines)
	field(out, "Total rows", ins.TotalRows)
	return nil
}
