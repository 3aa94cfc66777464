package tests

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/bilan/apps/api/echo"
	"github.com/trezcool/bilan/core/bpf"
	dummydb "github.com/trezcool/bilan/storage/database/dummy"
	"github.com/trezcool/bilan/tests"
)

func bpfPath(tenant string, year int, suffix string) string {
	return fmt.Sprintf("/v1/tenants/%s/bpf/%d%s", tenant, year, suffix)
}

func Test_home(t *testing.T) {
	server, _, _ := setup(t)
	req, rec := newRequest(http.MethodGet, "/")
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Bilan API!", rec.Body.String())
}

func Test_bpfApi_aggregate(t *testing.T) {
	server, _, _ := setup(t)

	ds := testutil.ReferenceDataset("acme", year)
	want, err := bpf.Aggregate(bpf.Scope{TenantID: "acme", Period: bpf.Period{Year: year}}, ds.Enrollments)
	require.NoError(t, err)

	tests := []httpTest{
		{
			name:     "reference",
			path:     bpfPath("acme", year, "/aggregate"),
			wantCode: http.StatusOK,
			wantData: marshallObj(t, want),
		},
		{
			name:     "trailing slash",
			path:     bpfPath("acme", year, "/aggregate/"),
			wantCode: http.StatusOK,
			wantData: marshallObj(t, want),
		},
		{
			name:     "unknown tenant",
			path:     bpfPath("nobody", year, "/aggregate"),
			wantCode: http.StatusNotFound,
			wantData: marshallObj(t, httpErr{Error: "tenant not found"}),
		},
		{
			name:     "malformed tenant",
			path:     bpfPath("acme.corp", year, "/aggregate"),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"tenant_id": "only alphanumeric characters, dashes and underscores are allowed"}),
		},
		{
			name:     "year too old",
			path:     bpfPath("acme", 1990, "/aggregate"),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"year": "year must be a past or current year"}),
		},
		{
			name:     "year not a number",
			path:     "/v1/tenants/acme/bpf/last/aggregate",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown route",
			path:     bpfPath("acme", year, "/nope"),
			wantCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodGet, tt.path)
			server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_bpfApi_report(t *testing.T) {
	server, _, _ := setup(t)

	req, rec := newRequest(http.MethodGet, bpfPath("acme", year, ""))
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Organization      bpf.Organization `json:"organization"`
		Year              int              `json:"year"`
		HasCriticalIssues bool             `json:"has_critical_issues"`
		HasWarnings       bool             `json:"has_warnings"`
		Aggregate         struct {
			Records int `json:"records"`
		} `json:"aggregate"`
		Inconsistencies []bpf.Inconsistency `json:"inconsistencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Formations acme", resp.Organization.Name)
	assert.Equal(t, year, resp.Year)
	assert.True(t, resp.HasCriticalIssues)
	assert.True(t, resp.HasWarnings)
	assert.Equal(t, 3, resp.Aggregate.Records)
	assert.Len(t, resp.Inconsistencies, 5)
	assert.Equal(t, bpf.SeverityCritical, resp.Inconsistencies[0].Severity)
}

func Test_bpfApi_inconsistencies(t *testing.T) {
	server, _, _ := setup(t)

	for _, tc := range []struct {
		tenant       string
		wantCritical bool
		wantCount    int
	}{
		{tenant: "acme", wantCritical: true, wantCount: 5},
		{tenant: "clean", wantCritical: false, wantCount: 0},
	} {
		t.Run(tc.tenant, func(t *testing.T) {
			req, rec := newRequest(http.MethodGet, bpfPath(tc.tenant, year, "/inconsistencies"))
			server.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp InconsistenciesResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantCritical, resp.HasCriticalIssues)
			assert.Len(t, resp.Inconsistencies, tc.wantCount)
			assert.NotNil(t, resp.Inconsistencies)
		})
	}
}

func Test_bpfApi_sourceUnavailable(t *testing.T) {
	server, db, logger := setup(t)
	db.Fail(dummydb.OpEnrollments, errors.New("connection refused"))

	tt := httpTest{
		path:     bpfPath("acme", year, "/aggregate"),
		wantCode: http.StatusServiceUnavailable,
		wantData: marshallObj(t, httpErr{Error: "record source unavailable, please retry later"}),
	}
	req, rec := newRequest(http.MethodGet, tt.path)
	server.ServeHTTP(rec, req)
	checkCodeAndData(t, tt, rec)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Len(t, logger.Entries("warn"), 1)
}

func Test_bpfApi_drillDown(t *testing.T) {
	server, _, _ := setup(t)

	t.Run("page", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, bpfPath("acme", year, "/drilldown/revenue?page=2&page_size=2"))
		server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var page struct {
			Metric     string                   `json:"metric"`
			Items      []map[string]interface{} `json:"items"`
			TotalCount int                      `json:"total_count"`
			Page       int                      `json:"page"`
			TotalPages int                      `json:"total_pages"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Equal(t, "revenue", page.Metric)
		assert.Equal(t, 3, page.TotalCount)
		assert.Equal(t, 2, page.Page)
		assert.Equal(t, 2, page.TotalPages)
		require.Len(t, page.Items, 1)
	})

	t.Run("category filter", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, bpfPath("acme", year, "/drilldown/revenue?category=other"))
		server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var page struct {
			Items []struct {
				ID string `json:"id"`
			} `json:"items"`
			TotalCount int `json:"total_count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Equal(t, 1, page.TotalCount)
		assert.Equal(t, "enr-3", page.Items[0].ID)
	})

	tests := []httpTest{
		{
			name:     "unknown metric",
			path:     bpfPath("acme", year, "/drilldown/profit"),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"metric": "metric must be one of revenue, trainee_hours, students, sessions"}),
		},
		{
			name:     "unknown category",
			path:     bpfPath("acme", year, "/drilldown/revenue?category=lottery"),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"category": "unknown BPF category"}),
		},
		{
			name:     "invalid page",
			path:     bpfPath("acme", year, "/drilldown/revenue?page=-1"),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"page": "page is too small"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodGet, tt.path)
			server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_bpfApi_drillDownCSV(t *testing.T) {
	server, _, _ := setup(t)

	req, rec := newRequest(http.MethodGet, bpfPath("acme", year, "/drilldown/students/csv?page_size=1"))
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, `attachment; filename="bpf_students_2023.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 4) // header + every student, pagination ignored
}

func Test_bpfApi_export(t *testing.T) {
	server, _, _ := setup(t)

	t.Run("draft csv", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, bpfPath("acme", year, "/export"))
		server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		h := rec.Header()
		assert.Equal(t, "2", h.Get(HeaderCriticalIssues))
		assert.Equal(t, "3", h.Get(HeaderWarnings))
		assert.NotEmpty(t, h.Get(HeaderArtifactID))
		sum := sha256.Sum256(rec.Body.Bytes())
		assert.Equal(t, hex.EncodeToString(sum[:]), h.Get(HeaderChecksum))
		assert.Equal(t, `attachment; filename="bpf_2023_acme.csv"`, h.Get("Content-Disposition"))
		assert.Contains(t, rec.Body.String(), "2023;TOTAL;total;Total;3;1750.00;100.00")
	})

	t.Run("final pdf", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, bpfPath("clean", year, "/export?format=PDF&final=true"))
		server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
		assert.Equal(t, "0", rec.Header().Get(HeaderCriticalIssues))
		assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))
	})

	tests := []httpTest{
		{
			name:     "final with critical issues",
			path:     bpfPath("acme", year, "/export?format=pdf&final=true"),
			wantCode: http.StatusConflict,
			wantData: marshallObj(t, httpErr{Error: bpf.ErrCriticalIssues.Error()}),
		},
		{
			name:     "unknown format",
			path:     bpfPath("acme", year, "/export?format=xlsx"),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"format": "format must be one of csv, pdf"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodGet, tt.path)
			server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_bpfApi_failedChecks(t *testing.T) {
	server, db, _ := setup(t)
	db.Fail(dummydb.OpPayments, errors.New("connection reset"))

	t.Run("inconsistencies", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, bpfPath("clean", year, "/inconsistencies"))
		server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp InconsistenciesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.HasCriticalIssues)
		assert.True(t, resp.HasFailedChecks)
		require.Len(t, resp.Inconsistencies, 1)
		assert.Equal(t, bpf.TypeCheckFailed, resp.Inconsistencies[0].Type)
	})

	t.Run("final export refused", func(t *testing.T) {
		tt := httpTest{
			path:     bpfPath("clean", year, "/export?format=pdf&final=true"),
			wantCode: http.StatusConflict,
			wantData: marshallObj(t, httpErr{Error: bpf.ErrFailedChecks.Error()}),
		}
		req, rec := newRequest(http.MethodGet, tt.path)
		server.ServeHTTP(rec, req)
		checkCodeAndData(t, tt, rec)
	})
}

func Test_bpfApi_sourceDown(t *testing.T) {
	server, db, logger := setup(t)
	db.Fail(dummydb.OpEnrollments, errors.New("connection refused"))
	db.Fail(dummydb.OpPayments, errors.New("connection refused"))
	db.Fail(dummydb.OpStudents, errors.New("connection refused"))
	db.Fail(dummydb.OpAttendanceSlots, errors.New("connection refused"))

	tt := httpTest{
		path:     bpfPath("acme", year, "/inconsistencies"),
		wantCode: http.StatusServiceUnavailable,
		wantData: marshallObj(t, httpErr{Error: "record source unavailable, please retry later"}),
	}
	req, rec := newRequest(http.MethodGet, tt.path)
	server.ServeHTTP(rec, req)
	checkCodeAndData(t, tt, rec)
	assert.Len(t, logger.Entries("warn"), 1)
}

func Test_metrics(t *testing.T) {
	server, _, _ := setup(t)

	for _, path := range []string{
		bpfPath("acme", year, "/inconsistencies"),
		bpfPath("acme", year, "/export?format=csv&final=true"),
		bpfPath("acme", year, "/export?format=csv"),
	} {
		req, rec := newRequest(http.MethodGet, path)
		server.ServeHTTP(rec, req)
	}

	req, rec := newRequest(http.MethodGet, "/metrics")
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `bilan_http_requests_total{code="200",method="GET",route="/v1/tenants/:tenant/bpf/:year/inconsistencies"} 1`)
	assert.Contains(t, body, `bilan_http_requests_total{code="409",method="GET",route="/v1/tenants/:tenant/bpf/:year/export"} 1`)
	assert.Contains(t, body, `bilan_exports_total{format="csv",status="refused"} 1`)
	assert.Contains(t, body, `bilan_exports_total{format="csv",status="critical_issues"} 1`)
	assert.Contains(t, body, `bilan_inconsistencies_detected_total{severity="critical",type="missing_category"} 1`)
}
