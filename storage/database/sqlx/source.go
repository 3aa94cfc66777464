package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/bilan/core"
	"github.com/trezcool/bilan/core/bpf"
)

type recordSource struct {
	db core.DBExecutor
}

var _ bpf.RecordSource = (*recordSource)(nil) // interface compliance check

// NewRecordSource reads the raw records through db. Queries use "?" placeholders rebound to the driver's bindvars,
// so the same source serves postgres & sqlite3.
func NewRecordSource(db core.DBExecutor) bpf.RecordSource {
	return &recordSource{db: db}
}

func (src *recordSource) selectScoped(ctx context.Context, op string, dest interface{}, query string, scope bpf.Scope) error {
	err := src.db.SelectContext(ctx, dest, src.db.Rebind(query), scope.TenantID, scope.Period.Start(), scope.Period.End())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return bpf.NewSourceError(op, err)
	}
	return nil
}

type organizationRow struct {
	ID         string      `db:"id"`
	Name       string      `db:"name"`
	SIRET      null.String `db:"siret"`
	Address    null.String `db:"address"`
	City       null.String `db:"city"`
	PostalCode null.String `db:"postal_code"`
	NDANumber  null.String `db:"nda_number"`
}

const organizationQuery = `
SELECT id, name, siret, address, city, postal_code, nda_number
FROM organization
WHERE id = ?`

func (src *recordSource) Organization(ctx context.Context, tenantID string) (bpf.Organization, error) {
	var row organizationRow
	if err := src.db.GetContext(ctx, &row, src.db.Rebind(organizationQuery), tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return bpf.Organization{}, bpf.ErrTenantNotFound
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return bpf.Organization{}, ctxErr
		}
		return bpf.Organization{}, bpf.NewSourceError("organization", err)
	}
	return bpf.Organization{
		ID:         row.ID,
		Name:       row.Name,
		SIRET:      row.SIRET.String,
		Address:    row.Address.String,
		City:       row.City.String,
		PostalCode: row.PostalCode.String,
		NDANumber:  row.NDANumber.String,
	}, nil
}

type enrollmentRow struct {
	ID          string      `db:"id"`
	StudentID   string      `db:"student_id"`
	FirstName   null.String `db:"first_name"`
	LastName    null.String `db:"last_name"`
	SessionID   string      `db:"session_id"`
	SessionName null.String `db:"session_name"`
	FundingCode null.String `db:"funding_code"`
	FundingName null.String `db:"funding_name"`
	Amount      string      `db:"amount"`
	EnrolledAt  time.Time   `db:"enrolled_at"`
}

const enrollmentsQuery = `
SELECT e.id, e.student_id, st.first_name, st.last_name, e.session_id, ts.name AS session_name,
       e.funding_code, e.funding_name, e.amount, e.enrolled_at
FROM enrollment e
LEFT JOIN student st ON st.tenant_id = e.tenant_id AND st.id = e.student_id
LEFT JOIN training_session ts ON ts.tenant_id = e.tenant_id AND ts.id = e.session_id
WHERE e.tenant_id = ? AND e.enrolled_at >= ? AND e.enrolled_at < ?
ORDER BY e.enrolled_at, e.id`

func (src *recordSource) Enrollments(ctx context.Context, scope bpf.Scope) ([]bpf.Enrollment, error) {
	var rows []enrollmentRow
	if err := src.selectScoped(ctx, "enrollments", &rows, enrollmentsQuery, scope); err != nil {
		return nil, err
	}

	enrollments := make([]bpf.Enrollment, 0, len(rows))
	for _, row := range rows {
		amount, err := bpf.ParseMoney(row.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "enrollment %s", row.ID)
		}
		student := bpf.Student{FirstName: row.FirstName.String, LastName: row.LastName.String}
		enrollments = append(enrollments, bpf.Enrollment{
			ID:          row.ID,
			StudentID:   row.StudentID,
			StudentName: student.FullName(),
			SessionID:   row.SessionID,
			SessionName: row.SessionName.String,
			FundingCode: row.FundingCode.String,
			FundingName: row.FundingName.String,
			Amount:      amount,
			EnrolledAt:  row.EnrolledAt.UTC(),
		})
	}
	return enrollments, nil
}

type paymentRow struct {
	ID           string      `db:"id"`
	EnrollmentID null.String `db:"enrollment_id"`
	PayerName    null.String `db:"payer_name"`
	Amount       string      `db:"amount"`
	PaidAt       time.Time   `db:"paid_at"`
}

const paymentsQuery = `
SELECT id, enrollment_id, payer_name, amount, paid_at
FROM payment
WHERE tenant_id = ? AND paid_at >= ? AND paid_at < ?
ORDER BY paid_at, id`

func (src *recordSource) Payments(ctx context.Context, scope bpf.Scope) ([]bpf.Payment, error) {
	var rows []paymentRow
	if err := src.selectScoped(ctx, "payments", &rows, paymentsQuery, scope); err != nil {
		return nil, err
	}

	payments := make([]bpf.Payment, 0, len(rows))
	for _, row := range rows {
		amount, err := bpf.ParseMoney(row.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "payment %s", row.ID)
		}
		payments = append(payments, bpf.Payment{
			ID:           row.ID,
			EnrollmentID: row.EnrollmentID.String,
			PayerName:    row.PayerName.String,
			Amount:       amount,
			PaidAt:       row.PaidAt.UTC(),
		})
	}
	return payments, nil
}

type slotRow struct {
	ID              string      `db:"id"`
	SessionID       string      `db:"session_id"`
	SessionName     null.String `db:"session_name"`
	Date            time.Time   `db:"slot_date"`
	DurationMinutes int64       `db:"duration_minutes"`
	ExpectedCount   int         `db:"expected_count"`
	PresentCount    null.Int    `db:"present_count"` // NULL until attendance is taken
}

const slotsQuery = `
SELECT a.id, a.session_id, ts.name AS session_name, a.slot_date, a.duration_minutes, a.expected_count, a.present_count
FROM attendance_slot a
LEFT JOIN training_session ts ON ts.tenant_id = a.tenant_id AND ts.id = a.session_id
WHERE a.tenant_id = ? AND a.slot_date >= ? AND a.slot_date < ?
ORDER BY a.slot_date, a.id`

func (src *recordSource) AttendanceSlots(ctx context.Context, scope bpf.Scope) ([]bpf.AttendanceSlot, error) {
	var rows []slotRow
	if err := src.selectScoped(ctx, "attendance_slots", &rows, slotsQuery, scope); err != nil {
		return nil, err
	}

	slots := make([]bpf.AttendanceSlot, 0, len(rows))
	for _, row := range rows {
		slots = append(slots, bpf.AttendanceSlot{
			ID:              row.ID,
			SessionID:       row.SessionID,
			SessionName:     row.SessionName.String,
			Date:            row.Date.UTC(),
			DurationMinutes: row.DurationMinutes,
			ExpectedCount:   row.ExpectedCount,
			PresentCount:    row.PresentCount.Int,
			Recorded:        row.PresentCount.Valid,
		})
	}
	return slots, nil
}

type studentRow struct {
	ID        string      `db:"id"`
	FirstName null.String `db:"first_name"`
	LastName  null.String `db:"last_name"`
	Email     null.String `db:"email"`
	Gender    null.String `db:"gender"`
	BirthDate null.Time   `db:"birth_date"`
	Disabled  bool        `db:"disabled"`
}

const studentsQuery = `
SELECT st.id, st.first_name, st.last_name, st.email, st.gender, st.birth_date, st.disabled
FROM student st
WHERE st.tenant_id = ? AND EXISTS (
    SELECT 1 FROM enrollment e
    WHERE e.tenant_id = st.tenant_id AND e.student_id = st.id AND e.enrolled_at >= ? AND e.enrolled_at < ?
)
ORDER BY st.id`

func (src *recordSource) Students(ctx context.Context, scope bpf.Scope) ([]bpf.Student, error) {
	var rows []studentRow
	if err := src.selectScoped(ctx, "students", &rows, studentsQuery, scope); err != nil {
		return nil, err
	}

	students := make([]bpf.Student, 0, len(rows))
	for _, row := range rows {
		var birth time.Time
		if row.BirthDate.Valid {
			birth = row.BirthDate.Time.UTC()
		}
		students = append(students, bpf.Student{
			ID:        row.ID,
			FirstName: row.FirstName.String,
			LastName:  row.LastName.String,
			Email:     row.Email.String,
			Gender:    row.Gender.String,
			BirthDate: birth,
			Disabled:  row.Disabled,
		})
	}
	return students, nil
}

type sessionRow struct {
	ID          string      `db:"id"`
	Name        string      `db:"name"`
	ProgramID   null.String `db:"program_id"`
	ProgramName null.String `db:"program_name"`
	StartDate   time.Time   `db:"start_date"`
	EndDate     null.Time   `db:"end_date"`
}

// sessions overlap the period: they start before its end and are either open-ended or end after its start.
const sessionsQuery = `
SELECT id, name, program_id, program_name, start_date, end_date
FROM training_session
WHERE tenant_id = ? AND (end_date IS NULL OR end_date >= ?) AND start_date < ?
ORDER BY start_date, id`

func (src *recordSource) Sessions(ctx context.Context, scope bpf.Scope) ([]bpf.Session, error) {
	var rows []sessionRow
	if err := src.selectScoped(ctx, "sessions", &rows, sessionsQuery, scope); err != nil {
		return nil, err
	}

	sessions := make([]bpf.Session, 0, len(rows))
	for _, row := range rows {
		var end time.Time
		if row.EndDate.Valid {
			end = row.EndDate.Time.UTC()
		}
		sessions = append(sessions, bpf.Session{
			ID:          row.ID,
			Name:        row.Name,
			ProgramID:   row.ProgramID.String,
			ProgramName: row.ProgramName.String,
			StartDate:   row.StartDate.UTC(),
			EndDate:     end,
		})
	}
	return sessions, nil
}
