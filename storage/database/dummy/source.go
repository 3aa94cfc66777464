package dummydb

import (
	"context"

	"github.com/trezcool/bilan/core/bpf"
)

type recordSource struct {
	db *DB
}

var _ bpf.RecordSource = (*recordSource)(nil) // interface compliance check

func NewRecordSource(db *DB) bpf.RecordSource {
	return &recordSource{db: db}
}

func (src *recordSource) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return src.db.fault(op)
}

func (src *recordSource) Organization(ctx context.Context, tenantID string) (bpf.Organization, error) {
	if err := src.check(ctx, OpOrganization); err != nil {
		return bpf.Organization{}, err
	}
	src.db.org.RLock()
	defer src.db.org.RUnlock()

	if org, ok := src.db.org.table[tenantID]; ok {
		return org, nil
	}
	return bpf.Organization{}, bpf.ErrTenantNotFound
}

func (src *recordSource) Enrollments(ctx context.Context, scope bpf.Scope) ([]bpf.Enrollment, error) {
	if err := src.check(ctx, OpEnrollments); err != nil {
		return nil, err
	}
	return src.db.enrollment.query(scope.TenantID, func(e bpf.Enrollment) bool {
		return scope.Period.Contains(e.EnrolledAt)
	}), nil
}

func (src *recordSource) Payments(ctx context.Context, scope bpf.Scope) ([]bpf.Payment, error) {
	if err := src.check(ctx, OpPayments); err != nil {
		return nil, err
	}
	return src.db.payment.query(scope.TenantID, func(p bpf.Payment) bool {
		return scope.Period.Contains(p.PaidAt)
	}), nil
}

func (src *recordSource) AttendanceSlots(ctx context.Context, scope bpf.Scope) ([]bpf.AttendanceSlot, error) {
	if err := src.check(ctx, OpAttendanceSlots); err != nil {
		return nil, err
	}
	return src.db.slot.query(scope.TenantID, func(s bpf.AttendanceSlot) bool {
		return scope.Period.Contains(s.Date)
	}), nil
}

func (src *recordSource) Students(ctx context.Context, scope bpf.Scope) ([]bpf.Student, error) {
	if err := src.check(ctx, OpStudents); err != nil {
		return nil, err
	}
	enrolled := make(map[string]struct{})
	for _, e := range src.db.enrollment.query(scope.TenantID, func(e bpf.Enrollment) bool {
		return scope.Period.Contains(e.EnrolledAt)
	}) {
		enrolled[e.StudentID] = struct{}{}
	}
	return src.db.student.query(scope.TenantID, func(s bpf.Student) bool {
		_, ok := enrolled[s.ID]
		return ok
	}), nil
}

func (src *recordSource) Sessions(ctx context.Context, scope bpf.Scope) ([]bpf.Session, error) {
	if err := src.check(ctx, OpSessions); err != nil {
		return nil, err
	}
	start, end := scope.Period.Start(), scope.Period.End()
	return src.db.session.query(scope.TenantID, func(s bpf.Session) bool {
		return s.StartDate.Before(end) && (s.EndDate.IsZero() || !s.EndDate.Before(start))
	}), nil
}
