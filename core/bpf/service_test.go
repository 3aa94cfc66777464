package bpf_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/bilan/core"
	"github.com/trezcool/bilan/core/bpf"
	dummydb "github.com/trezcool/bilan/storage/database/dummy"
	"github.com/trezcool/bilan/tests"
)

func newService(t *testing.T) (*bpf.Service, *dummydb.DB, *testutil.Logger) {
	t.Helper()
	now := bpf.NowFunc
	bpf.NowFunc = func() time.Time { return generatedAt }
	t.Cleanup(func() { bpf.NowFunc = now })

	db, src := testutil.NewMemorySource(
		testutil.ReferenceDataset(tenantID, year),
		testutil.CleanDataset("clean", year),
	)
	logger := testutil.NewLogger()
	return bpf.NewService(src, core.NewTestConfig(), logger), db, logger
}

func TestService_Organization(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	org, err := svc.Organization(ctx, " acme ")
	require.NoError(t, err)
	assert.Equal(t, "Formations acme", org.Name)

	_, err = svc.Organization(ctx, "nobody")
	assert.Equal(t, bpf.ErrTenantNotFound, errors.Cause(err))

	_, err = svc.Organization(ctx, "../etc")
	assert.True(t, core.IsValidationError(err, bpf.ErrInvalidTenant))
}

func TestService_Report(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()

	report, err := svc.Report(ctx, tenantID, year)
	require.NoError(t, err)
	assert.Equal(t, bpf.Money(175000), report.Aggregate.Total())
	assert.Equal(t, 3, report.Aggregate.Records())
	assert.Len(t, report.Inconsistencies, 5)
	assert.True(t, report.HasCriticalIssues())

	clean, err := svc.Report(ctx, "clean", year)
	require.NoError(t, err)
	assert.Equal(t, bpf.Money(150000), clean.Aggregate.Total())
	assert.Empty(t, clean.Inconsistencies)

	t.Run("invalid period", func(t *testing.T) {
		_, err := svc.Report(ctx, tenantID, 2025)
		assert.True(t, core.IsValidationError(err, bpf.ErrInvalidPeriod))
		_, err = svc.Report(ctx, tenantID, 1999)
		assert.True(t, core.IsValidationError(err, bpf.ErrInvalidPeriod))
	})

	t.Run("source unavailable", func(t *testing.T) {
		db.Fail(dummydb.OpAttendanceSlots, errors.New("connection refused"))
		defer db.Fail(dummydb.OpAttendanceSlots, nil)

		_, err := svc.Report(ctx, tenantID, year)
		assert.True(t, bpf.IsSourceUnavailable(err))
	})
}

func TestService_Aggregate_sourceUnavailable(t *testing.T) {
	svc, db, _ := newService(t)
	db.Fail(dummydb.OpEnrollments, errors.New("connection refused"))

	_, err := svc.Aggregate(context.Background(), tenantID, year)
	require.Error(t, err)
	assert.True(t, bpf.IsSourceUnavailable(err))
}

func TestService_Export(t *testing.T) {
	svc, _, logger := newService(t)
	ctx := context.Background()

	t.Run("draft with critical issues", func(t *testing.T) {
		artifact, err := svc.Export(ctx, tenantID, year, bpf.ShapeCSV, false)
		require.NoError(t, err)
		assert.True(t, artifact.HasCriticalIssues())
		assert.Equal(t, generatedAt, artifact.Metadata().GeneratedAt)
		assert.Equal(t, "Formations acme", artifact.Metadata().Organization.Name)
		assert.NotEmpty(t, logger.Entries("info"))
	})

	t.Run("final refused", func(t *testing.T) {
		_, err := svc.Export(ctx, tenantID, year, bpf.ShapePDF, true)
		assert.Equal(t, bpf.ErrCriticalIssues, errors.Cause(err))
	})

	t.Run("final clean", func(t *testing.T) {
		artifact, err := svc.Export(ctx, "clean", year, bpf.ShapePDF, true)
		require.NoError(t, err)
		assert.False(t, artifact.HasCriticalIssues())
		assert.Equal(t, "cerfa_10443_2023_clean.pdf", artifact.Filename())
	})

	t.Run("same inputs, same artifact", func(t *testing.T) {
		first, err := svc.Export(ctx, "clean", year, bpf.ShapeCSV, false)
		require.NoError(t, err)
		second, err := svc.Export(ctx, "clean", year, bpf.ShapeCSV, false)
		require.NoError(t, err)
		assert.Equal(t, first.Checksum(), second.Checksum())
		assert.Equal(t, first.ID(), second.ID())
	})

	t.Run("invalid shape", func(t *testing.T) {
		_, err := svc.Export(ctx, tenantID, year, "docx", false)
		assert.True(t, core.IsValidationError(err, bpf.ErrInvalidShape))
	})

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := svc.Export(ctx, "nobody", year, bpf.ShapeCSV, false)
		assert.Equal(t, bpf.ErrTenantNotFound, errors.Cause(err))
	})
}

func TestService_ExportDrillDown(t *testing.T) {
	svc, _, _ := newService(t)

	content, filename, err := svc.ExportDrillDown(context.Background(), bpf.DrillDownQuery{
		TenantID: tenantID,
		Year:     year,
		Metric:   bpf.MetricRevenue,
		Page:     2,
		PageSize: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "bpf_revenue_2023.csv", filename)
	// pagination is ignored: header plus every record
	assert.Equal(t, 4, countLines(content))
}

func countLines(b []byte) int {
	var n int
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

func TestService_Export_failedChecks(t *testing.T) {
	now := bpf.NowFunc
	bpf.NowFunc = func() time.Time { return generatedAt }
	defer func() { bpf.NowFunc = now }()

	ds := testutil.CleanDataset(tenantID, year)
	ds.Payments = append(ds.Payments, bpf.Payment{
		ID: "pay-ghost", EnrollmentID: "ghost", PayerName: "Unknown payer", Amount: 5000, PaidAt: testutil.Date(year, time.June, 1),
	})
	db, src := testutil.NewMemorySource(ds)
	svc := bpf.NewService(src, core.NewTestConfig(), testutil.NewLogger())
	ctx := context.Background()

	_, err := svc.Export(ctx, tenantID, year, bpf.ShapeCSV, true)
	assert.Equal(t, bpf.ErrCriticalIssues, errors.Cause(err))

	db.Fail(dummydb.OpPayments, errors.New("connection reset"))

	t.Run("final refused", func(t *testing.T) {
		for _, shape := range bpf.Shapes {
			_, err := svc.Export(ctx, tenantID, year, shape, true)
			assert.Equal(t, bpf.ErrFailedChecks, errors.Cause(err), "shape %s", shape)
		}
	})

	t.Run("draft flags the report", func(t *testing.T) {
		artifact, err := svc.Export(ctx, tenantID, year, bpf.ShapeCSV, false)
		require.NoError(t, err)
		assert.False(t, artifact.HasCriticalIssues())
		assert.True(t, artifact.HasFailedChecks())
		assert.Equal(t, bpf.StatusFailedChecks, artifact.Status())
		assert.Contains(t, string(artifact.Content()), ";failed_checks;0;0\n")
		assert.Contains(t, string(artifact.Content()), "info;check_failed;0;")
	})
}
