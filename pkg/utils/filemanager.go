// =============================================================================
// BOQ Rate Filler - File Manager Utility
// =============================================================================
//
// This module provides the file plumbing around the reconciliation pipeline:
//   - Workbook discovery for batch runs
//   - Whole-file reads of draft and target workbooks
//   - Safe output writes (temp file + rename)
//   - Output file naming
//   - Batch summary logs
//
// The pipeline itself never touches the filesystem; everything here works on
// paths and byte slices handed to or taken from it.
//
// ERROR HANDLING:
//   - Every filesystem failure is returned as an IOError whose Guidance
//     tells the user what to do, e.g. close the workbook in Excel
//
// =============================================================================

package utils

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
	"github.com/google/uuid"
)

// LockFilePrefix marks the owner files Excel leaves next to open workbooks.
const LockFilePrefix = "~$"

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for the fill and batch commands.
type FileManager struct {
	// InputDir is the directory scanned for target workbooks.
	InputDir string

	// OutputDir is the directory where filled workbooks are placed.
	OutputDir string
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(inputDir, outputDir string) *FileManager {
	return &FileManager{InputDir: inputDir, OutputDir: outputDir}
}

// EnsureOutputDir creates the output directory if it doesn't exist.
func (fm *FileManager) EnsureOutputDir() error {
	if err := os.MkdirAll(fm.OutputDir, 0o755); err != nil {
		return pkgerrors.NewIOError("create directory", fm.OutputDir, err)
	}
	return nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// DiscoverWorkbooks lists the workbooks in InputDir that match pattern.
//
// PARAMETERS:
//   - pattern: A glob pattern (e.g., "*.xlsx"). If empty, defaults to "*.xlsx".
//
// RETURNS:
//   - Sorted file paths, excluding directories and Excel lock files
//   - An error if the pattern is malformed
func (fm *FileManager) DiscoverWorkbooks(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*.xlsx"
	}

	files, err := filepath.Glob(filepath.Join(fm.InputDir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to scan input directory: %w", err)
	}

	var result []string
	for _, file := range files {
		if strings.HasPrefix(filepath.Base(file), LockFilePrefix) {
			continue
		}
		info, err := os.Stat(file)
		if err != nil || info.IsDir() {
			continue
		}
		result = append(result, file)
	}
	sort.Strings(result)
	return result, nil
}

// =============================================================================
// READING AND WRITING
// =============================================================================

// ReadInput reads a whole workbook into memory.
func ReadInput(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.NewIOError("read", path, err)
	}
	return data, nil
}

// WriteOutput writes data to path through a temporary file in the same
// directory, so a failed write never leaves a truncated workbook behind.
//
// RETURNS:
//   - An IOError carrying guidance when the destination is locked or
//     not writable
func WriteOutput(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pkgerrors.NewIOError("create directory", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".ratefill-*.tmp")
	if err != nil {
		return pkgerrors.NewIOError("create temp file", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return pkgerrors.NewIOError("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return pkgerrors.NewIOError("write", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return pkgerrors.NewIOError("replace", path, err)
	}
	return nil
}

// CopyThrough copies src to dst unchanged. Batch runs use it for targets
// that failed, so every input has a counterpart in the output directory.
func CopyThrough(src, dst string) error {
	data, err := ReadInput(src)
	if err != nil {
		return err
	}
	return WriteOutput(dst, data)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// =============================================================================
// FILE NAMING
// =============================================================================

// GenerateOutputFileName generates an output file name from a format string.
//
// PARAMETERS:
//   - format: The format string for the file name.
//     Placeholders:
//     {original}  - Original file name (without extension)
//     {uuid}      - A random UUID
//     {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
//     {date}      - Current date (YYYYMMDD)
//     {time}      - Current time (HHMMSS)
//   - params: Extra placeholder values, keyed without braces.
//
// RETURNS:
//   - The generated file name, always ending in ".xlsx".
//
// EXAMPLE:
//
//	format: "{original}_filled_{date}.xlsx"
//	params: {"original": "tender_boq"}
//	output: "tender_boq_filled_20240115.xlsx"
func GenerateOutputFileName(format string, params map[string]string) string {
	now := time.Now()

	replacements := map[string]string{
		"{uuid}":      uuid.New().String(),
		"{timestamp}": now.Format("20060102_150405"),
		"{date}":      now.Format("20060102"),
		"{time}":      now.Format("150405"),
	}
	for key, value := range params {
		replacements["{"+key+"}"] = value
	}

	placeholders := make([]string, 0, len(replacements))
	for p := range replacements {
		placeholders = append(placeholders, p)
	}
	sort.Strings(placeholders)

	pairs := make([]string, 0, 2*len(placeholders))
	for _, p := range placeholders {
		pairs = append(pairs, p, replacements[p])
	}
	result := strings.NewReplacer(pairs...).Replace(format)

	if !strings.HasSuffix(strings.ToLower(result), ".xlsx") {
		result = strings.TrimSuffix(result, filepath.Ext(result)) + ".xlsx"
	}
	return result
}

// OutputPath names the output for input inside OutputDir.
func (fm *FileManager) OutputPath(input, format string) string {
	original := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(fm.OutputDir, GenerateOutputFileName(format, map[string]string{"original": original}))
}

// =============================================================================
// PROCESSING SUMMARY
// =============================================================================

// ProcessingSummary contains summary information about a batch run.
type ProcessingSummary struct {
	StartTime       time.Time
	EndTime         time.Time
	DraftFile       string
	TotalFiles      int
	SuccessfulFiles int
	FailedFiles     int
	SkippedFiles    int
	TotalRows       int
	MatchedRows     int
	ProcessedFiles  []ProcessedFileInfo
	FailedFilesList []FailedFileInfo
}

// ProcessedFileInfo describes a target that was reconciled.
type ProcessedFileInfo struct {
	InputFile   string
	OutputFile  string
	RunID       string
	Matched     int
	Total       int
	Message     string
	ProcessTime time.Duration
}

// FailedFileInfo describes a target that failed.
type FailedFileInfo struct {
	InputFile    string
	CopiedTo     string
	ErrorMessage string
}

// WriteSummaryLog writes a processing summary to a log file in outputDir.
//
// RETURNS:
//   - The path to the summary file.
//   - An error if writing fails.
func WriteSummaryLog(summary ProcessingSummary, outputDir string) (string, error) {
	timestamp := time.Now().Format("20060102_150405")
	summaryPath := filepath.Join(outputDir, fmt.Sprintf("ratefill_summary_%s.txt", timestamp))

	file, err := os.Create(summaryPath)
	if err != nil {
		return "", pkgerrors.NewIOError("create summary", summaryPath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	duration := summary.EndTime.Sub(summary.StartTime)
	fmt.Fprintf(writer, "BOQ Rate Filler - Batch Summary\n"+
		"================================================================================\n\n"+
		"Run Information:\n"+
		"  Draft:          %s\n"+
		"  Start Time:     %s\n"+
		"  End Time:       %s\n"+
		"  Duration:       %s\n\n"+
		"Statistics:\n"+
		"  Total Files:    %d\n"+
		"  Successful:     %d\n"+
		"  Failed:         %d\n"+
		"  Skipped:        %d\n"+
		"  Rows Matched:   %d of %d\n\n",
		summary.DraftFile,
		summary.StartTime.Format("2006-01-02 15:04:05"),
		summary.EndTime.Format("2006-01-02 15:04:05"),
		duration.String(),
		summary.TotalFiles,
		summary.SuccessfulFiles,
		summary.FailedFiles,
		summary.SkippedFiles,
		summary.MatchedRows,
		summary.TotalRows)

	if len(summary.ProcessedFiles) > 0 {
		writer.WriteString("Successful Files:\n")
		writer.WriteString("--------------------------------------------------------------------------------\n")
		for _, pf := range summary.ProcessedFiles {
			fmt.Fprintf(writer, "  Input:        %s\n", pf.InputFile)
			fmt.Fprintf(writer, "  Output:       %s\n", pf.OutputFile)
			fmt.Fprintf(writer, "  Run ID:       %s\n", pf.RunID)
			fmt.Fprintf(writer, "  Matched:      %d of %d\n", pf.Matched, pf.Total)
			fmt.Fprintf(writer, "  Result:       %s\n", pf.Message)
			fmt.Fprintf(writer, "  Process Time: %s\n\n", pf.ProcessTime.String())
		}
	}

	if len(summary.FailedFilesList) > 0 {
		writer.WriteString("Failed Files:\n")
		writer.WriteString("--------------------------------------------------------------------------------\n")
		for _, ff := range summary.FailedFilesList {
			fmt.Fprintf(writer, "  File:   %s\n", ff.InputFile)
			if ff.CopiedTo != "" {
				fmt.Fprintf(writer, "  Copied: %s\n", ff.CopiedTo)
			}
			fmt.Fprintf(writer, "  Error:  %s\n\n", ff.ErrorMessage)
		}
	}

	writer.WriteString("================================================================================\n" +
		"End of Summary\n")

	if err := writer.Flush(); err != nil {
		return "", pkgerrors.NewIOError("write summary", summaryPath, err)
	}
	return summaryPath, nil
}
