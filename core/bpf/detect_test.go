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

var detectorConf = bpf.DetectorConfig{MinYear: 2000, AttendanceFloor: 0.5}

type detected struct {
	typ      string
	severity bpf.Severity
	affected int
}

func summarize(incs bpf.Inconsistencies) []detected {
	got := make([]detected, 0, len(incs))
	for _, inc := range incs {
		got = append(got, detected{typ: inc.Type, severity: inc.Severity, affected: inc.AffectedCount})
	}
	return got
}

func TestDetector_Detect(t *testing.T) {
	_, src := testutil.NewMemorySource(
		testutil.ReferenceDataset(tenantID, year),
		testutil.CleanDataset("clean", year),
	)
	d := bpf.NewDetector(src, detectorConf, testutil.NewLogger())

	t.Run("one finding per check, critical first", func(t *testing.T) {
		incs, err := d.Detect(context.Background(), tenantID, year)
		require.NoError(t, err)
		assert.Equal(t, []detected{
			{typ: bpf.TypeMissingCategory, severity: bpf.SeverityCritical, affected: 1},
			{typ: bpf.TypeOrphanPayments, severity: bpf.SeverityCritical, affected: 1},
			{typ: bpf.TypeIncompleteStudentData, severity: bpf.SeverityWarning, affected: 1},
			{typ: bpf.TypeMissingAttendance, severity: bpf.SeverityWarning, affected: 1},
			{typ: bpf.TypeLowAttendanceRate, severity: bpf.SeverityWarning, affected: 1},
		}, summarize(incs))
		assert.True(t, incs.HasCritical())
		assert.True(t, incs.HasWarnings())
		assert.Equal(t, 2, incs.Count(bpf.SeverityCritical))

		assert.Equal(t, []bpf.RecordRef{{Kind: bpf.KindEnrollment, ID: "enr-3", Label: "Chloé Durand"}}, incs[0].Records)
		assert.Equal(t, "pay-2", incs[1].Records[0].ID)
		assert.Equal(t, "stu-2", incs[2].Records[0].ID)
		assert.Equal(t, "slot-3", incs[3].Records[0].ID)
		assert.Equal(t, "ses-2", incs[4].Records[0].ID)
	})

	t.Run("clean tenant", func(t *testing.T) {
		incs, err := d.Detect(context.Background(), "clean", year)
		require.NoError(t, err)
		assert.Empty(t, incs)
		assert.NotNil(t, incs)
		assert.False(t, incs.HasCritical())
		assert.False(t, incs.HasWarnings())
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		incs, err := d.Detect(context.Background(), "unknown", year)
		require.NoError(t, err)
		assert.Empty(t, incs)
	})
}

func TestDetector_Detect_invalidInput(t *testing.T) {
	_, src := testutil.NewMemorySource()
	d := bpf.NewDetector(src, detectorConf, testutil.NewLogger())

	tests := []struct {
		name     string
		tenantID string
		year     int
		target   error
	}{
		{name: "empty tenant", tenantID: " ", year: year, target: bpf.ErrInvalidTenant},
		{name: "malformed tenant", tenantID: "acme; drop", year: year, target: bpf.ErrInvalidTenant},
		{name: "year too old", tenantID: tenantID, year: 1999, target: bpf.ErrInvalidPeriod},
		{name: "future year", tenantID: tenantID, year: time.Now().Year() + 1, target: bpf.ErrInvalidPeriod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incs, err := d.Detect(context.Background(), tt.tenantID, tt.year)
			assert.Nil(t, incs)
			assert.True(t, core.IsValidationError(err, tt.target), "got %v", err)
		})
	}
}

func TestDetector_Detect_partialFailure(t *testing.T) {
	db, src := testutil.NewMemorySource(testutil.ReferenceDataset(tenantID, year))
	db.Fail(dummydb.OpPayments, errors.New("connection reset"))
	logger := testutil.NewLogger()
	d := bpf.NewDetector(src, detectorConf, logger)

	incs, err := d.Detect(context.Background(), tenantID, year)
	require.NoError(t, err)
	assert.Equal(t, []detected{
		{typ: bpf.TypeMissingCategory, severity: bpf.SeverityCritical, affected: 1},
		{typ: bpf.TypeIncompleteStudentData, severity: bpf.SeverityWarning, affected: 1},
		{typ: bpf.TypeMissingAttendance, severity: bpf.SeverityWarning, affected: 1},
		{typ: bpf.TypeLowAttendanceRate, severity: bpf.SeverityWarning, affected: 1},
		{typ: bpf.TypeCheckFailed, severity: bpf.SeverityInfo, affected: 0},
	}, summarize(incs))
	assert.Contains(t, incs[4].Description, bpf.TypeOrphanPayments)
	assert.True(t, incs.HasFailedChecks())
	assert.Len(t, logger.Entries("warn"), 1)
}

func TestDetector_Detect_sourceDown(t *testing.T) {
	db, src := testutil.NewMemorySource(testutil.ReferenceDataset(tenantID, year))
	db.Fail(dummydb.OpAll, errors.New("connection refused"))
	logger := testutil.NewLogger()
	d := bpf.NewDetector(src, detectorConf, logger)

	incs, err := d.Detect(context.Background(), tenantID, year)
	assert.Nil(t, incs)
	assert.True(t, bpf.IsSourceUnavailable(err), "got %v", err)
	assert.Empty(t, logger.Entries("warn"))
}

func TestDetector_Detect_cancelled(t *testing.T) {
	_, src := testutil.NewMemorySource(testutil.ReferenceDataset(tenantID, year))
	logger := testutil.NewLogger()
	d := bpf.NewDetector(src, detectorConf, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	incs, err := d.Detect(ctx, tenantID, year)
	assert.Nil(t, incs)
	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.Empty(t, logger.Entries("warn"))
}

func TestDetector_Detect_panickingCheck(t *testing.T) {
	_, src := testutil.NewMemorySource(testutil.CleanDataset(tenantID, year))
	boom := bpf.Check{
		Name: "boom",
		Run: func(ctx context.Context, scope bpf.Scope, src bpf.RecordSource) ([]bpf.Inconsistency, error) {
			var m map[string]int
			m["boom"]++ // nil map write
			return nil, nil
		},
	}
	d := bpf.NewDetector(src, detectorConf, testutil.NewLogger(), boom)

	incs, err := d.Detect(context.Background(), tenantID, year)
	require.NoError(t, err)
	require.Len(t, incs, 1)
	assert.Equal(t, bpf.TypeCheckFailed, incs[0].Type)
	assert.Equal(t, bpf.SeverityInfo, incs[0].Severity)
	assert.Contains(t, incs[0].Description, "panic")
}

func TestDetector_Detect_orphanPaymentOfPreviousYear(t *testing.T) {
	ds := testutil.CleanDataset(tenantID, year)
	ds.Enrollments = append(ds.Enrollments, bpf.Enrollment{
		ID: "enr-old", StudentID: "stu-1", SessionID: "ses-1", FundingCode: "cpf", Amount: 1000,
		EnrolledAt: testutil.Date(year-1, time.December, 1),
	})
	ds.Payments = append(ds.Payments, bpf.Payment{
		ID: "pay-old", EnrollmentID: "enr-old", Amount: 1000, PaidAt: testutil.Date(year, time.January, 10),
	})
	_, src := testutil.NewMemorySource(ds)
	d := bpf.NewDetector(src, detectorConf, testutil.NewLogger())

	incs, err := d.Detect(context.Background(), tenantID, year)
	require.NoError(t, err)
	assert.Empty(t, incs)
}

func TestInconsistencies_Sort(t *testing.T) {
	incs := bpf.Inconsistencies{
		{Type: "a", Severity: bpf.SeverityInfo, AffectedCount: 9},
		{Type: "b", Severity: bpf.SeverityWarning, AffectedCount: 1},
		{Type: "c", Severity: bpf.SeverityCritical, AffectedCount: 2},
		{Type: "d", Severity: bpf.SeverityWarning, AffectedCount: 5},
		{Type: "e", Severity: bpf.SeverityCritical, AffectedCount: 2},
	}
	incs.Sort()

	types := make([]string, 0, len(incs))
	for _, inc := range incs {
		types = append(types, inc.Type)
	}
	assert.Equal(t, []string{"c", "e", "d", "b", "a"}, types)
}
