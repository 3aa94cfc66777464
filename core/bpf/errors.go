package bpf

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/bilan/core"
)

var (
	ErrInvalidTenant  = errors.New("invalid tenant")
	ErrInvalidPeriod  = errors.New("invalid period")
	ErrInvalidPage    = errors.New("invalid page")
	ErrInvalidMetric  = errors.New("unknown drill-down metric")
	ErrInvalidFilter  = errors.New("invalid filter")
	ErrInvalidShape   = errors.New("unknown export format")
	ErrTenantNotFound = errors.New("tenant not found")
	ErrCriticalIssues = errors.New("critical issues must be fixed before the report can be finalized")
	ErrFailedChecks   = errors.New("some inconsistency checks could not run, the report cannot be finalized")
)

// SourceError is returned when the record source cannot be reached. The request may be retried.
type SourceError struct {
	Op  string
	Err error
}

func NewSourceError(op string, err error) error {
	return &SourceError{Op: op, Err: err}
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("record source unavailable: %s: %v", e.Op, e.Err)
}

func (e *SourceError) Retryable() bool { return true }

func IsSourceUnavailable(err error) bool {
	_, ok := errors.Cause(err).(*SourceError)
	return ok
}

// CheckError is raised by an inconsistency check that could not run.
type CheckError struct {
	Check string
	Err   error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("check %s failed: %v", e.Check, e.Err)
}

// ExportError is returned when an artifact could not be rendered. The underlying data is fine.
type ExportError struct {
	Shape Shape
	Err   error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export generation failed (%s): %v", e.Shape, e.Err)
}

func IsExportFailure(err error) bool {
	_, ok := errors.Cause(err).(*ExportError)
	return ok
}

func invalidTenant(msg string) error {
	return core.NewValidationError(ErrInvalidTenant, core.FieldError{Field: "tenant_id", Error: msg})
}

func invalidPeriod(msg string) error {
	return core.NewValidationError(ErrInvalidPeriod, core.FieldError{Field: "year", Error: msg})
}
