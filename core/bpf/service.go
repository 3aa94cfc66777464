package bpf

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/bilan/core"
)

type (
	ServiceInterface interface {
		Organization(ctx context.Context, tenantID string) (Organization, error)
		Aggregate(ctx context.Context, tenantID string, year int) (AggregateResult, error)
		Detect(ctx context.Context, tenantID string, year int) (Inconsistencies, error)
		Report(ctx context.Context, tenantID string, year int) (Report, error)
		DrillDown(ctx context.Context, q DrillDownQuery) (DrillDownPage, error)
		ExportDrillDown(ctx context.Context, q DrillDownQuery) (content []byte, filename string, err error)
		Export(ctx context.Context, tenantID string, year int, shape Shape, final bool) (ExportArtifact, error)
	}

	Service struct {
		src       RecordSource
		conf      core.BPFConfig
		logger    core.Logger
		detector  *Detector
		drillDown *DrillDownProvider
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(src RecordSource, conf *core.Config, logger core.Logger) *Service {
	bpfConf := conf.BPF
	if bpfConf.MinYear <= 0 {
		bpfConf.MinYear = DefaultMinYear
	}
	return &Service{
		src:    src,
		conf:   bpfConf,
		logger: logger,
		detector: NewDetector(src, DetectorConfig{
			MinYear:         bpfConf.MinYear,
			AttendanceFloor: bpfConf.AttendanceFloor,
		}, logger),
		drillDown: NewDrillDownProvider(src, DrillDownConfig{
			MinYear:         bpfConf.MinYear,
			DefaultPageSize: bpfConf.DefaultPageSize,
			MaxPageSize:     bpfConf.MaxPageSize,
		}),
	}
}

func (svc *Service) scope(tenantID string, year int) (Scope, error) {
	return NewScope(tenantID, year, svc.conf.MinYear)
}

func (svc *Service) Organization(ctx context.Context, tenantID string) (Organization, error) {
	tenantID, err := cleanTenantID(tenantID)
	if err != nil {
		return Organization{}, err
	}
	return svc.src.Organization(ctx, tenantID)
}

// Aggregate fetches the revenue lines of the scope and sums them per category.
// It fails with a *SourceError rather than returning a partial result when the source is unreachable.
func (svc *Service) Aggregate(ctx context.Context, tenantID string, year int) (AggregateResult, error) {
	scope, err := svc.scope(tenantID, year)
	if err != nil {
		return AggregateResult{}, err
	}
	enrollments, err := svc.src.Enrollments(ctx, scope)
	if err != nil {
		return AggregateResult{}, errors.Wrap(err, "fetching enrollments")
	}
	return Aggregate(scope, enrollments)
}

func (svc *Service) Detect(ctx context.Context, tenantID string, year int) (Inconsistencies, error) {
	return svc.detector.Detect(ctx, tenantID, year)
}

// Report computes every figure of the Cerfa along with the inconsistencies. Records are fetched concurrently.
func (svc *Service) Report(ctx context.Context, tenantID string, year int) (Report, error) {
	scope, err := svc.scope(tenantID, year)
	if err != nil {
		return Report{}, err
	}
	return svc.report(ctx, scope)
}

func (svc *Service) report(ctx context.Context, scope Scope) (Report, error) {
	var (
		enrollments []Enrollment
		slots       []AttendanceSlot
		sessions    []Session
		students    []Student
		incs        Inconsistencies
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		enrollments, err = svc.src.Enrollments(gctx, scope)
		return errors.Wrap(err, "fetching enrollments")
	})
	g.Go(func() (err error) {
		slots, err = svc.src.AttendanceSlots(gctx, scope)
		return errors.Wrap(err, "fetching attendance slots")
	})
	g.Go(func() (err error) {
		sessions, err = svc.src.Sessions(gctx, scope)
		return errors.Wrap(err, "fetching sessions")
	})
	g.Go(func() (err error) {
		students, err = svc.src.Students(gctx, scope)
		return errors.Wrap(err, "fetching students")
	})
	g.Go(func() (err error) {
		incs, err = svc.detector.detect(gctx, scope)
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	agg, err := Aggregate(scope, enrollments)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Aggregate:       agg,
		Activity:        SummarizeActivity(slots, sessions),
		Students:        SummarizeStudents(students, scope.Period),
		Inconsistencies: incs,
	}, nil
}

func (svc *Service) DrillDown(ctx context.Context, q DrillDownQuery) (DrillDownPage, error) {
	return svc.drillDown.GetPage(ctx, q)
}

// ExportDrillDown renders every record of the filtered set, ignoring pagination.
func (svc *Service) ExportDrillDown(ctx context.Context, q DrillDownQuery) ([]byte, string, error) {
	metric, items, err := svc.drillDown.All(ctx, q)
	if err != nil {
		return nil, "", err
	}
	content, err := RenderDrillDownCSV(metric, items)
	if err != nil {
		return nil, "", err
	}
	return content, DrillDownFilename(metric, q.Year), nil
}

// Export renders the report of the scope. With final set, a report with critical issues is refused with
// ErrCriticalIssues and a report whose checks did not all run with ErrFailedChecks; otherwise the issues are
// printed on the artifact.
func (svc *Service) Export(ctx context.Context, tenantID string, year int, shape Shape, final bool) (ExportArtifact, error) {
	scope, err := svc.scope(tenantID, year)
	if err != nil {
		return ExportArtifact{}, err
	}
	if !shape.Valid() {
		return ExportArtifact{}, core.NewValidationError(ErrInvalidShape, core.FieldError{Field: "format", Error: ErrInvalidShape.Error()})
	}

	org, err := svc.src.Organization(ctx, scope.TenantID)
	if err != nil {
		return ExportArtifact{}, errors.Wrap(err, "fetching organization")
	}
	report, err := svc.report(ctx, scope)
	if err != nil {
		return ExportArtifact{}, err
	}
	if final {
		switch {
		case report.HasCriticalIssues():
			return ExportArtifact{}, ErrCriticalIssues
		case report.HasFailedChecks():
			return ExportArtifact{}, ErrFailedChecks
		}
	}

	artifact, err := Format(report, Metadata{
		TenantID:     scope.TenantID,
		Organization: org,
		Period:       scope.Period,
		GeneratedAt:  NowFunc().UTC().Truncate(time.Second),
	}, shape)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("rendering %s export", shape), err, org)
		return ExportArtifact{}, err
	}

	svc.logger.Info(fmt.Sprintf("exported %s", artifact.Filename()), map[string]interface{}{
		"artifact_id":     artifact.ID(),
		"checksum":        artifact.Checksum(),
		"critical_issues": artifact.CriticalIssues(),
		"warnings":        artifact.WarningIssues(),
	}, org)
	return artifact, nil
}
