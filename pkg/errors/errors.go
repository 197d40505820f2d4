// Package errors defines the error taxonomy of the coverage pipeline.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for the coverage pipeline.
const (
	CodeUnknown            = "UNKNOWN_ERROR"
	CodeMalformedUnit      = "MALFORMED_UNIT"
	CodeIncompatibleFormat = "INCOMPATIBLE_FORMAT"
	CodeProbeCountMismatch = "PROBE_COUNT_MISMATCH"
	CodeMissingAnalysis    = "MISSING_ANALYSIS"
	CodeDuplicateUnit      = "DUPLICATE_UNIT"
	CodeWriterClosed       = "WRITER_CLOSED"
	CodeInvalidState       = "INVALID_STATE"
	CodeParseError         = "PARSE_ERROR"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeStorageError       = "STORAGE_ERROR"
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeConfigError        = "CONFIG_ERROR"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances, used as errors.Is targets.
var (
	ErrMalformedUnit      = New(CodeMalformedUnit, "malformed compiled unit")
	ErrIncompatibleFormat = New(CodeIncompatibleFormat, "incompatible execution data format")
	ErrProbeCountMismatch = New(CodeProbeCountMismatch, "probe count mismatch")
	ErrMissingAnalysis    = New(CodeMissingAnalysis, "missing structural analysis")
	ErrDuplicateUnit      = New(CodeDuplicateUnit, "duplicate unit conflict")
	ErrWriterClosed       = New(CodeWriterClosed, "report writer closed")
	ErrInvalidState       = New(CodeInvalidState, "invalid writer state")
	ErrParseError         = New(CodeParseError, "parse error")
	ErrInvalidInput       = New(CodeInvalidInput, "invalid input")
	ErrStorageError       = New(CodeStorageError, "storage error")
	ErrDatabaseError      = New(CodeDatabaseError, "database error")
	ErrConfigError        = New(CodeConfigError, "configuration error")
)

// MalformedUnit reports a corrupt or unsupported compiled unit at origin.
func MalformedUnit(origin string, err error) *AppError {
	return Wrap(CodeMalformedUnit, fmt.Sprintf("cannot analyze %s", origin), err)
}

// IncompatibleFormat reports execution data versions that cannot be merged.
func IncompatibleFormat(detail string, sources ...string) *AppError {
	msg := detail
	if len(sources) > 0 {
		msg = fmt.Sprintf("%s (sources: %s)", detail, strings.Join(sources, ", "))
	}
	return New(CodeIncompatibleFormat, msg)
}

// ProbeCountMismatch reports a hit vector shorter than the analyzed probe count.
func ProbeCountMismatch(unit string, expected, actual int) *AppError {
	return New(CodeProbeCountMismatch,
		fmt.Sprintf("unit %s: expected at least %d probes, execution data has %d", unit, expected, actual))
}

// IncompatibleProbes reports two hit vectors of one unit with different lengths.
func IncompatibleProbes(unit string, have, got int) *AppError {
	return New(CodeProbeCountMismatch,
		fmt.Sprintf("incompatible execution data for unit %s: %d probes merged into %d", unit, got, have))
}

// DuplicateUnit reports a logical unit name observed with differing content.
func DuplicateUnit(name string, known, seen uint64) *AppError {
	return New(CodeDuplicateUnit,
		fmt.Sprintf("unit %s loaded with different content (id %016x, already known as %016x)", name, seen, known))
}

// IsMalformedUnit checks if the error is a malformed unit error.
func IsMalformedUnit(err error) bool {
	return errors.Is(err, ErrMalformedUnit)
}

// IsIncompatibleFormat checks if the error is an incompatible format error.
func IsIncompatibleFormat(err error) bool {
	return errors.Is(err, ErrIncompatibleFormat)
}

// IsProbeCountMismatch checks if the error is a probe count mismatch.
func IsProbeCountMismatch(err error) bool {
	return errors.Is(err, ErrProbeCountMismatch)
}

// IsDuplicateUnit checks if the error is a duplicate unit conflict.
func IsDuplicateUnit(err error) bool {
	return errors.Is(err, ErrDuplicateUnit)
}

// IsWriterClosed checks if the error is a writer closed error.
func IsWriterClosed(err error) bool {
	return errors.Is(err, ErrWriterClosed)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
