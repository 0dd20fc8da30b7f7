// Package errors provides the error taxonomy of the rate filler.
// Every failure that crosses a package boundary is one of the typed errors
// below, so callers can branch with errors.Is / errors.As instead of
// matching message text.
package errors

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
)

// New returns an error that formats as the given text.
var New = errors.New

// Sentinel errors. Typed errors report Is(sentinel) == true for their kind.
var (
	// ErrArchive indicates the input bytes are not a readable ZIP container.
	ErrArchive = errors.New("invalid workbook archive")

	// ErrStructure indicates a required OOXML part or element is missing.
	ErrStructure = errors.New("invalid workbook structure")

	// ErrColumnIdentification indicates required header columns could not be found.
	ErrColumnIdentification = errors.New("column identification failed")

	// ErrNoWorkToDo indicates the target has no rows needing a rate or amount.
	ErrNoWorkToDo = errors.New("no rows need filling")

	// ErrRowMatchMiss indicates a single target line found no draft row.
	ErrRowMatchMiss = errors.New("no matching draft row")

	// ErrWrite indicates the spreadsheet writer could not produce output.
	ErrWrite = errors.New("spreadsheet write failed")

	// ErrIO indicates reading or writing a file on disk failed.
	ErrIO = errors.New("file access failed")

	// ErrCanceled indicates the run was canceled before completing.
	ErrCanceled = errors.New("operation canceled")
)

// ArchiveError reports bytes that cannot be opened as a ZIP archive.
type ArchiveError struct {
	Path   string
	Reason string
	Err    error
}

// Error implements the error interface
func (e *ArchiveError) Error() string {
	where := ""
	if e.Path != "" {
		where = " " + e.Path
	}
	if e.Err != nil {
		return fmt.Sprintf("cannot open archive%s: %s: %v", where, e.Reason, e.Err)
	}
	return fmt.Sprintf("cannot open archive%s: %s", where, e.Reason)
}

// Unwrap implements errors.Unwrap
func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *ArchiveError) Is(target error) bool {
	return target == ErrArchive
}

// NewArchiveError creates a new ArchiveError
func NewArchiveError(reason string, err error) *ArchiveError {
	return &ArchiveError{Reason: reason, Err: err}
}

// StructureError reports a missing or malformed part inside a valid archive.
type StructureError struct {
	Part   string
	Reason string
}

// Error implements the error interface
func (e *StructureError) Error() string {
	if e.Part != "" {
		return fmt.Sprintf("workbook structure: %s: %s", e.Part, e.Reason)
	}
	return fmt.Sprintf("workbook structure: %s", e.Reason)
}

// Is implements errors.Is support
func (e *StructureError) Is(target error) bool {
	return target == ErrStructure
}

// NewStructureError creates a new StructureError
func NewStructureError(part, reason string) *StructureError {
	return &StructureError{Part: part, Reason: reason}
}

// ColumnIdentificationError reports which required header fields were not found.
type ColumnIdentificationError struct {
	Sheet   string
	Window  int
	Missing []string
}

// Error implements the error interface
func (e *ColumnIdentificationError) Error() string {
	msg := fmt.Sprintf("could not identify columns %s within the first %d rows",
		strings.Join(e.Missing, ", "), e.Window)
	if e.Sheet != "" {
		msg = fmt.Sprintf("sheet %q: %s", e.Sheet, msg)
	}
	return msg
}

// Is implements errors.Is support
func (e *ColumnIdentificationError) Is(target error) bool {
	return target == ErrColumnIdentification
}

// NewColumnIdentificationError creates a new ColumnIdentificationError
func NewColumnIdentificationError(window int, missing ...string) *ColumnIdentificationError {
	return &ColumnIdentificationError{Window: window, Missing: missing}
}

// WriteError wraps any failure while rewriting workbook parts.
type WriteError struct {
	Part string
	Err  error
}

// Error implements the error interface
func (e *WriteError) Error() string {
	if e.Part != "" {
		return fmt.Sprintf("write %s: %v", e.Part, e.Err)
	}
	return fmt.Sprintf("write workbook: %v", e.Err)
}

// Unwrap implements errors.Unwrap
func (e *WriteError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *WriteError) Is(target error) bool {
	return target == ErrWrite
}

// NewWriteError creates a new WriteError
func NewWriteError(part string, err error) *WriteError {
	return &WriteError{Part: part, Err: err}
}

// IOError wraps a filesystem failure with user-facing guidance.
type IOError struct {
	Path     string
	Op       string
	Err      error
	Guidance string
}

// Error implements the error interface
func (e *IOError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	if e.Guidance != "" {
		msg += " (" + e.Guidance + ")"
	}
	return msg
}

// Unwrap implements errors.Unwrap
func (e *IOError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

// NewIOError creates a new IOError and derives guidance from the cause.
func NewIOError(op, path string, err error) *IOError {
	return &IOError{Path: path, Op: op, Err: err, Guidance: guidanceFor(err)}
}

// guidanceFor maps common OS failures to an actionable hint.
func guidanceFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, os.ErrPermission), isSharingViolation(err):
		return "the file may be open in another program such as Excel; close it and retry"
	case errors.Is(err, os.ErrNotExist):
		return "check that the path exists"
	case errors.Is(err, syscall.ENOSPC):
		return "the disk is full"
	}
	return ""
}

// isSharingViolation recognizes the Windows lock error by its text, since
// the errno is not exported on other platforms.
func isSharingViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "being used by another process") ||
		strings.Contains(msg, "sharing violation")
}

// IsArchive reports whether err is an ArchiveError.
func IsArchive(err error) bool { return errors.Is(err, ErrArchive) }

// IsStructure reports whether err is a StructureError.
func IsStructure(err error) bool { return errors.Is(err, ErrStructure) }

// IsColumnIdentification reports whether err is a ColumnIdentificationError.
func IsColumnIdentification(err error) bool { return errors.Is(err, ErrColumnIdentification) }

// IsNoWorkToDo reports whether err signals an empty work list.
func IsNoWorkToDo(err error) bool { return errors.Is(err, ErrNoWorkToDo) }

// IsWrite reports whether err is a WriteError.
func IsWrite(err error) bool { return errors.Is(err, ErrWrite) }

// IsIO reports whether err is an IOError.
func IsIO(err error) bool { return errors.Is(err, ErrIO) }

// IsFatal reports whether err stops the per-file pipeline. NoWorkToDo and
// row misses are informational; everything else aborts the file.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !IsNoWorkToDo(err) && !errors.Is(err, ErrRowMatchMiss)
}
