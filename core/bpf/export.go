package bpf

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/bilan/core"
)

// Shape is the output format of an ExportArtifact.
type Shape string

const (
	ShapeCSV Shape = "csv"
	ShapePDF Shape = "pdf"
)

var Shapes = []Shape{ShapeCSV, ShapePDF}

func (s Shape) Valid() bool {
	return s == ShapeCSV || s == ShapePDF
}

func (s Shape) ContentType() string {
	switch s {
	case ShapePDF:
		return "application/pdf"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Report gathers the figures of a scope. Every export shape renders the same Report.
type Report struct {
	Aggregate       AggregateResult  `json:"aggregate"`
	Activity        ActivityStats    `json:"activity"`
	Students        StudentBreakdown `json:"students"`
	Inconsistencies Inconsistencies  `json:"inconsistencies"`
}

func (r Report) HasCriticalIssues() bool { return r.Inconsistencies.HasCritical() }
func (r Report) HasWarnings() bool       { return r.Inconsistencies.HasWarnings() }
func (r Report) HasFailedChecks() bool   { return r.Inconsistencies.HasFailedChecks() }

// Report statuses, from the most to the least severe.
const (
	StatusCriticalIssues = "critical_issues"
	StatusFailedChecks   = "failed_checks"
	StatusWarnings       = "warnings"
	StatusOK             = "ok"
)

// Status sums up the inconsistencies. A report whose checks did not all run is never "ok".
func (r Report) Status() string {
	switch {
	case r.HasCriticalIssues():
		return StatusCriticalIssues
	case r.HasFailedChecks():
		return StatusFailedChecks
	case r.HasWarnings():
		return StatusWarnings
	default:
		return StatusOK
	}
}

// Metadata identifies an export. GeneratedAt is part of the input: the same Metadata yields the same bytes.
type Metadata struct {
	TenantID     string       `json:"tenant_id"`
	Organization Organization `json:"organization"`
	Period       Period       `json:"period"`
	GeneratedAt  time.Time    `json:"generated_at"`
}

var (
	artifactNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/trezcool/bilan/artifacts"))
	unsafeFilename    = regexp.MustCompile(`[^\w-]+`)
)

// ExportArtifact is an immutable rendered export.
type ExportArtifact struct {
	id       uuid.UUID
	shape    Shape
	meta     Metadata
	report   Report
	content  []byte
	checksum string
}

func (a ExportArtifact) ID() string              { return a.id.String() }
func (a ExportArtifact) Shape() Shape            { return a.shape }
func (a ExportArtifact) Metadata() Metadata      { return a.meta }
func (a ExportArtifact) Report() Report          { return a.report }
func (a ExportArtifact) ContentType() string     { return a.shape.ContentType() }
func (a ExportArtifact) Checksum() string        { return a.checksum }
func (a ExportArtifact) HasCriticalIssues() bool { return a.report.HasCriticalIssues() }
func (a ExportArtifact) HasWarnings() bool       { return a.report.HasWarnings() }
func (a ExportArtifact) HasFailedChecks() bool   { return a.report.HasFailedChecks() }
func (a ExportArtifact) Status() string          { return a.report.Status() }
func (a ExportArtifact) CriticalIssues() int     { return a.report.Inconsistencies.Count(SeverityCritical) }
func (a ExportArtifact) WarningIssues() int      { return a.report.Inconsistencies.Count(SeverityWarning) }

// Content returns a copy of the rendered bytes.
func (a ExportArtifact) Content() []byte {
	b := make([]byte, len(a.content))
	copy(b, a.content)
	return b
}

func (a ExportArtifact) Filename() string {
	tenant := unsafeFilename.ReplaceAllString(a.meta.TenantID, "_")
	if a.shape == ShapePDF {
		return fmt.Sprintf("cerfa_10443_%d_%s.pdf", a.meta.Period.Year, tenant)
	}
	return fmt.Sprintf("bpf_%d_%s.csv", a.meta.Period.Year, tenant)
}

// Format renders report in the requested shape.
// Rendering failures are returned as *ExportError, leaving source errors to the callers fetching the data.
func Format(report Report, meta Metadata, shape Shape) (ExportArtifact, error) {
	if !shape.Valid() {
		return ExportArtifact{}, core.NewValidationError(ErrInvalidShape, core.FieldError{Field: "format", Error: ErrInvalidShape.Error()})
	}
	meta.GeneratedAt = meta.GeneratedAt.UTC()
	report.Inconsistencies = append(Inconsistencies(nil), report.Inconsistencies...)
	report.Inconsistencies.Sort()

	content, err := render(report, meta, shape)
	if err != nil {
		return ExportArtifact{}, &ExportError{Shape: shape, Err: err}
	}

	sum := sha256.Sum256(content)
	return ExportArtifact{
		id:       uuid.NewSHA1(artifactNamespace, sum[:]),
		shape:    shape,
		meta:     meta,
		report:   report,
		content:  content,
		checksum: hex.EncodeToString(sum[:]),
	}, nil
}

func render(report Report, meta Metadata, shape Shape) (content []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			content = nil
			err = errors.Errorf("renderer panic: %v", r)
		}
	}()
	switch shape {
	case ShapePDF:
		return renderCerfa(report, meta)
	default:
		return renderSummaryCSV(report, meta)
	}
}
