package echoapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/bilan/core/bpf"
)

// Export response headers
const (
	HeaderCriticalIssues = "X-Critical-Issues"
	HeaderWarnings       = "X-Warnings"
	HeaderChecksum       = "X-Checksum"
	HeaderArtifactID     = "X-Artifact-Id"
)

type bpfApi struct {
	svc      bpf.ServiceInterface
	validate *validator.Validate
	metrics  *Metrics
}

func registerBPFAPI(g *echo.Group, svc bpf.ServiceInterface, validate *validator.Validate, metrics *Metrics) {
	api := bpfApi{
		svc:      svc,
		validate: validate,
		metrics:  metrics,
	}

	tg := g.Group("/tenants/:tenant", tenantMiddleware(svc))
	rg := tg.Group("/bpf/:year")
	rg.GET("", api.report)
	rg.GET("/aggregate", api.aggregate)
	rg.GET("/inconsistencies", api.inconsistencies)
	rg.GET("/drilldown/:metric", api.drillDown)
	rg.GET("/drilldown/:metric/csv", api.drillDownCSV)
	rg.GET("/export", api.export)
}

type (
	ReportResponse struct {
		Organization      bpf.Organization `json:"organization"`
		Year              int              `json:"year"`
		HasCriticalIssues bool             `json:"has_critical_issues"`
		HasWarnings       bool             `json:"has_warnings"`
		HasFailedChecks   bool             `json:"has_failed_checks"`
		bpf.Report
	}

	InconsistenciesResponse struct {
		Inconsistencies   bpf.Inconsistencies `json:"inconsistencies"`
		HasCriticalIssues bool                `json:"has_critical_issues"`
		HasWarnings       bool                `json:"has_warnings"`
		HasFailedChecks   bool                `json:"has_failed_checks"`
	}
)

// Handlers

func (api *bpfApi) bindReportQuery(ctx echo.Context) (bpf.ReportQuery, error) {
	var q bpf.ReportQuery
	if err := ctx.Bind(&q); err != nil {
		return q, errors.Wrap(err, "binding to ReportQuery")
	}
	if err := q.Validate(api.validate); err != nil {
		return q, err
	}
	return q, nil
}

func (api *bpfApi) report(ctx echo.Context) error {
	q, err := api.bindReportQuery(ctx)
	if err != nil {
		return err
	}

	report, err := api.svc.Report(ctx.Request().Context(), q.TenantID, q.Year)
	if err != nil {
		return errors.Wrap(err, "computing report")
	}
	api.metrics.observeInconsistencies(report.Inconsistencies)

	org, _ := contextOrganization(ctx)
	return ctx.JSON(http.StatusOK, ReportResponse{
		Organization:      org,
		Year:              q.Year,
		HasCriticalIssues: report.HasCriticalIssues(),
		HasWarnings:       report.HasWarnings(),
		HasFailedChecks:   report.HasFailedChecks(),
		Report:            report,
	})
}

func (api *bpfApi) aggregate(ctx echo.Context) error {
	q, err := api.bindReportQuery(ctx)
	if err != nil {
		return err
	}

	res, err := api.svc.Aggregate(ctx.Request().Context(), q.TenantID, q.Year)
	if err != nil {
		return errors.Wrap(err, "aggregating revenue")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *bpfApi) inconsistencies(ctx echo.Context) error {
	q, err := api.bindReportQuery(ctx)
	if err != nil {
		return err
	}

	incs, err := api.svc.Detect(ctx.Request().Context(), q.TenantID, q.Year)
	if err != nil {
		return errors.Wrap(err, "detecting inconsistencies")
	}
	api.metrics.observeInconsistencies(incs)

	return ctx.JSON(http.StatusOK, InconsistenciesResponse{
		Inconsistencies:   incs,
		HasCriticalIssues: incs.HasCritical(),
		HasWarnings:       incs.HasWarnings(),
		HasFailedChecks:   incs.HasFailedChecks(),
	})
}

func (api *bpfApi) bindDrillDownQuery(ctx echo.Context) (bpf.DrillDownQuery, error) {
	var q bpf.DrillDownQuery
	if err := ctx.Bind(&q); err != nil {
		return q, errors.Wrap(err, "binding to DrillDownQuery")
	}
	if err := q.Validate(api.validate); err != nil {
		return q, err
	}
	return q, nil
}

func (api *bpfApi) drillDown(ctx echo.Context) error {
	q, err := api.bindDrillDownQuery(ctx)
	if err != nil {
		return err
	}

	page, err := api.svc.DrillDown(ctx.Request().Context(), q)
	if err != nil {
		return errors.Wrap(err, "getting drill-down page")
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api *bpfApi) drillDownCSV(ctx echo.Context) error {
	q, err := api.bindDrillDownQuery(ctx)
	if err != nil {
		return err
	}

	content, filename, err := api.svc.ExportDrillDown(ctx.Request().Context(), q)
	if err != nil {
		return errors.Wrap(err, "exporting drill-down")
	}
	setAttachment(ctx, filename)
	return ctx.Blob(http.StatusOK, bpf.ShapeCSV.ContentType(), content)
}

func (api *bpfApi) export(ctx echo.Context) error {
	var q bpf.ExportQuery
	if err := ctx.Bind(&q); err != nil {
		return errors.Wrap(err, "binding to ExportQuery")
	}
	if err := q.Validate(api.validate); err != nil {
		return err
	}

	shape := bpf.Shape(q.Format)
	artifact, err := api.svc.Export(ctx.Request().Context(), q.TenantID, q.Year, shape, q.Final)
	if err != nil {
		if cause := errors.Cause(err); cause == bpf.ErrCriticalIssues || cause == bpf.ErrFailedChecks {
			api.metrics.observeRefusedExport(shape)
		}
		return errors.Wrap(err, "exporting report")
	}
	api.metrics.observeExport(artifact)

	h := ctx.Response().Header()
	h.Set(HeaderCriticalIssues, strconv.Itoa(artifact.CriticalIssues()))
	h.Set(HeaderWarnings, strconv.Itoa(artifact.WarningIssues()))
	h.Set(HeaderChecksum, artifact.Checksum())
	h.Set(HeaderArtifactID, artifact.ID())
	setAttachment(ctx, artifact.Filename())
	return ctx.Blob(http.StatusOK, artifact.ContentType(), artifact.Content())
}

func setAttachment(ctx echo.Context, filename string) {
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
}
