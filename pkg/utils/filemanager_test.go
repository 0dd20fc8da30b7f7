package utils

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestDiscoverWorkbooks(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.xlsx"))
	touch(t, filepath.Join(dir, "a.xlsx"))
	touch(t, filepath.Join(dir, "~$a.xlsx"))
	touch(t, filepath.Join(dir, "notes.txt"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.xlsx"), 0o755))

	fm := NewFileManager(dir, t.TempDir())
	files, err := fm.DiscoverWorkbooks("")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.xlsx"), filepath.Join(dir, "b.xlsx")}, files)

	_, err = fm.DiscoverWorkbooks("[")
	assert.Error(t, err)
}

func TestWriteOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "filled.xlsx")
	require.NoError(t, WriteOutput(path, []byte("first")))
	require.NoError(t, WriteOutput(path, []byte("second")))

	data, err := ReadInput(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCopyThrough(t *testing.T) {
	src := filepath.Join(t.TempDir(), "target.xlsx")
	require.NoError(t, os.WriteFile(src, []byte("original bytes"), 0o644))
	dst := filepath.Join(t.TempDir(), "target_filled.xlsx")

	require.NoError(t, CopyThrough(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "original bytes", string(data))
	assert.True(t, FileExists(dst))
}

func TestReadInputMissing(t *testing.T) {
	_, err := ReadInput(filepath.Join(t.TempDir(), "missing.xlsx"))
	require.True(t, pkgerrors.IsIO(err))

	var ioErr *pkgerrors.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)
	assert.NotEmpty(t, ioErr.Guidance)
}

func TestGenerateOutputFileName(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		params  map[string]string
		pattern string
	}{
		{"original and date", "{original}_filled_{date}.xlsx", map[string]string{"original": "tender"}, `^tender_filled_\d{8}\.xlsx$`},
		{"timestamp", "{timestamp}", nil, `^\d{8}_\d{6}\.xlsx$`},
		{"uuid", "{uuid}.xlsx", nil, `^[0-9a-f-]{36}\.xlsx$`},
		{"extension replaced", "{original}.xlsm", map[string]string{"original": "boq"}, `^boq\.xlsx$`},
		{"upper-case extension kept", "BOQ.XLSX", nil, `^BOQ\.XLSX$`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Regexp(t, regexp.MustCompile(tt.pattern), GenerateOutputFileName(tt.format, tt.params))
		})
	}
}

func TestOutputPath(t *testing.T) {
	fm := NewFileManager("in", "out")
	assert.Equal(t, filepath.Join("out", "site_a_priced.xlsx"), fm.OutputPath(filepath.Join("in", "site_a.xlsx"), "{original}_priced"))
}

func TestWriteSummaryLog(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	path, err := WriteSummaryLog(ProcessingSummary{
		StartTime:       start,
		EndTime:         start.Add(3 * time.Second),
		DraftFile:       "draft.xlsx",
		TotalFiles:      2,
		SuccessfulFiles: 1,
		FailedFiles:     1,
		TotalRows:       10,
		MatchedRows:     7,
		ProcessedFiles:  []ProcessedFileInfo{{InputFile: "a.xlsx", OutputFile: "a_filled.xlsx", Matched: 7, Total: 10}},
		FailedFilesList: []FailedFileInfo{{InputFile: "b.xlsx", CopiedTo: "b_filled.xlsx", ErrorMessage: "not a workbook"}},
	}, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "Duration:       3s")
	assert.Contains(t, text, "Rows Matched:   7 of 10")
	assert.Contains(t, text, "Matched:      7 of 10")
	assert.Contains(t, text, "Copied: b_filled.xlsx")
	assert.Contains(t, text, "Error:  not a workbook")
}
