// =============================================================================
// BOQ Rate Filler - Main Entry Point
// =============================================================================
//
// This is the main entry point for the ratefill CLI. It delegates command
// execution to the cmd package.
//
// USAGE:
//   ratefill fill      - Fill one target workbook from a priced draft
//   ratefill batch     - Fill every workbook in a directory
//   ratefill inspect   - Show how a workbook will be read
//   ratefill version   - Display the application version
//
// ARCHITECTURE:
//   - cmd/           : CLI command definitions (Cobra)
//   - internal/      : Reconciliation logic (not for external import)
//   - pkg/           : Error taxonomy and file utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/boq-rate-filler/cmd"
)

func main() {
	cmd.Execute()
}
