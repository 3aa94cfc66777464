package bpf

import (
	"context"
	"regexp"

	"github.com/trezcool/bilan/core"
)

// RecordSource gives read-only access to a tenant's raw records for a period.
// Implementations return a *SourceError when the storage cannot be reached and
// ErrTenantNotFound from Organization when the tenant does not exist.
type RecordSource interface {
	Organization(ctx context.Context, tenantID string) (Organization, error)
	// Enrollments returns the revenue lines enrolled within the period.
	Enrollments(ctx context.Context, scope Scope) ([]Enrollment, error)
	// Payments returns the payments received within the period.
	Payments(ctx context.Context, scope Scope) ([]Payment, error)
	// AttendanceSlots returns the slots taking place within the period.
	AttendanceSlots(ctx context.Context, scope Scope) ([]AttendanceSlot, error)
	// Students returns the students having at least one enrollment within the period.
	Students(ctx context.Context, scope Scope) ([]Student, error)
	// Sessions returns the sessions overlapping the period.
	Sessions(ctx context.Context, scope Scope) ([]Session, error)
}

// NewScope validates the tenant & year and returns the matching Scope.
// Invalid input is rejected with a *core.ValidationError wrapping ErrInvalidTenant or ErrInvalidPeriod.
func NewScope(tenantID string, year, minYear int) (Scope, error) {
	tenantID, err := cleanTenantID(tenantID)
	if err != nil {
		return Scope{}, err
	}
	if minYear <= 0 {
		minYear = DefaultMinYear
	}
	if year < minYear {
		return Scope{}, invalidPeriod("year is too far in the past")
	}
	if year > NowFunc().UTC().Year() {
		return Scope{}, invalidPeriod("year has not started yet")
	}
	return Scope{TenantID: tenantID, Period: Period{Year: year}}, nil
}

const (
	DefaultMinYear = 2000
	maxTenantIDLen = 64
)

var tenantIDRegex = regexp.MustCompile(`^[\w-]+$`)

func cleanTenantID(tenantID string) (string, error) {
	tenantID = core.CleanString(tenantID)
	switch {
	case tenantID == "":
		return "", invalidTenant("this field is required")
	case len(tenantID) > maxTenantIDLen:
		return "", invalidTenant("tenant_id is too long")
	case !tenantIDRegex.MatchString(tenantID):
		return "", invalidTenant("only alphanumeric characters, dashes and underscores are allowed")
	}
	return tenantID, nil
}
