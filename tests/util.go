package testutil

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/bilan/core"
	"github.com/trezcool/bilan/core/bpf"
	"github.com/trezcool/bilan/storage/database"
	dummydb "github.com/trezcool/bilan/storage/database/dummy"
)

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Dataset is the full set of raw records of one tenant.
type Dataset struct {
	Organization bpf.Organization
	Students     []bpf.Student
	Sessions     []bpf.Session
	Enrollments  []bpf.Enrollment
	Payments     []bpf.Payment
	Slots        []bpf.AttendanceSlot
}

func NewOrganization(tenantID string) bpf.Organization {
	return bpf.Organization{
		ID:         tenantID,
		Name:       "Formations " + tenantID,
		SIRET:      "12345678900011",
		Address:    "12 rue des Lilas",
		City:       "Lyon",
		PostalCode: "69003",
		NDANumber:  "84691234569",
	}
}

// CleanDataset returns records of year without any inconsistency:
// 1000.00 cpf + 500.00 opco, 2 students, 2 sessions fully attended.
func CleanDataset(tenantID string, year int) Dataset {
	return Dataset{
		Organization: NewOrganization(tenantID),
		Students: []bpf.Student{
			{ID: "stu-1", FirstName: "Alice", LastName: "Martin", Email: "alice@example.com", Gender: "F", BirthDate: Date(1990, time.May, 10)},
			{ID: "stu-2", FirstName: "Bruno", LastName: "Petit", Email: "bruno@example.com", Gender: "M", BirthDate: Date(year-20, time.February, 1)},
		},
		Sessions: []bpf.Session{
			{ID: "ses-1", Name: "Excel avancé", ProgramID: "prg-1", ProgramName: "Bureautique", StartDate: Date(year, time.March, 1), EndDate: Date(year, time.March, 31)},
			{ID: "ses-2", Name: "Anglais B2", ProgramID: "prg-2", ProgramName: "Langues", StartDate: Date(year, time.September, 1), EndDate: Date(year, time.December, 15)},
		},
		Enrollments: []bpf.Enrollment{
			{ID: "enr-1", StudentID: "stu-1", StudentName: "Alice Martin", SessionID: "ses-1", SessionName: "Excel avancé", FundingCode: "cpf", FundingName: "Mon Compte Formation", Amount: 100000, EnrolledAt: Date(year, time.February, 15)},
			{ID: "enr-2", StudentID: "stu-2", StudentName: "Bruno Petit", SessionID: "ses-2", SessionName: "Anglais B2", FundingCode: "opco", FundingName: "OPCO Atlas", Amount: 50000, EnrolledAt: Date(year, time.August, 20)},
		},
		Payments: []bpf.Payment{
			{ID: "pay-1", EnrollmentID: "enr-1", PayerName: "Caisse des Dépôts", Amount: 100000, PaidAt: Date(year, time.March, 5)},
		},
		Slots: []bpf.AttendanceSlot{
			{ID: "slot-1", SessionID: "ses-1", SessionName: "Excel avancé", Date: Date(year, time.March, 2), DurationMinutes: 420, ExpectedCount: 1, PresentCount: 1, Recorded: true},
			{ID: "slot-2", SessionID: "ses-2", SessionName: "Anglais B2", Date: Date(year, time.September, 5), DurationMinutes: 180, ExpectedCount: 1, PresentCount: 1, Recorded: true},
		},
	}
}

// ReferenceDataset returns records of year raising one inconsistency of each kind:
//   - missing_category: enr-3 is funded by an unknown source (250.00)
//   - orphan_payments: pay-2 is not attached to an enrollment
//   - incomplete_student_data: stu-2 has no email
//   - missing_attendance: slot-3 was never recorded
//   - low_attendance_rate: nobody attended ses-2
func ReferenceDataset(tenantID string, year int) Dataset {
	ds := CleanDataset(tenantID, year)
	ds.Students[1].Email = ""
	ds.Students = append(ds.Students, bpf.Student{
		ID: "stu-3", FirstName: "Chloé", LastName: "Durand", Email: "chloe@example.com", Gender: "femme",
		BirthDate: Date(1970, time.January, 1), Disabled: true,
	})
	ds.Enrollments = append(ds.Enrollments, bpf.Enrollment{
		ID: "enr-3", StudentID: "stu-3", StudentName: "Chloé Durand", SessionID: "ses-2", SessionName: "Anglais B2",
		FundingCode: "mystery", FundingName: "Mystery fund", Amount: 25000, EnrolledAt: Date(year, time.August, 21),
	})
	ds.Payments = append(ds.Payments, bpf.Payment{
		ID: "pay-2", PayerName: "Unknown payer", Amount: 8000, PaidAt: Date(year, time.April, 1),
	})
	ds.Slots[1] = bpf.AttendanceSlot{
		ID: "slot-2", SessionID: "ses-2", SessionName: "Anglais B2", Date: Date(year, time.September, 5),
		DurationMinutes: 180, ExpectedCount: 2, PresentCount: 0, Recorded: true,
	}
	ds.Slots = append(ds.Slots, bpf.AttendanceSlot{
		ID: "slot-3", SessionID: "ses-2", SessionName: "Anglais B2", Date: Date(year, time.September, 12),
		DurationMinutes: 180, ExpectedCount: 2,
	})
	return ds
}

// GenerateEnrollments returns n cpf enrollments of year, 10.00 each, with ids enr-001...
func GenerateEnrollments(year, n int) []bpf.Enrollment {
	enrollments := make([]bpf.Enrollment, 0, n)
	for i := 1; i <= n; i++ {
		enrollments = append(enrollments, bpf.Enrollment{
			ID:          fmt.Sprintf("enr-%03d", i),
			StudentID:   fmt.Sprintf("stu-%03d", i),
			StudentName: fmt.Sprintf("Student %03d", i),
			SessionID:   "ses-1",
			SessionName: "Excel avancé",
			FundingCode: "cpf",
			FundingName: "Mon Compte Formation",
			Amount:      1000,
			EnrolledAt:  Date(year, time.January, 1).AddDate(0, 0, i%300),
		})
	}
	return enrollments
}

func (ds Dataset) LoadMemory(db *dummydb.DB) {
	tenantID := ds.Organization.ID
	db.AddOrganization(ds.Organization)
	db.AddStudents(tenantID, ds.Students...)
	db.AddSessions(tenantID, ds.Sessions...)
	db.AddEnrollments(tenantID, ds.Enrollments...)
	db.AddPayments(tenantID, ds.Payments...)
	db.AddAttendanceSlots(tenantID, ds.Slots...)
}

// NewMemorySource returns an in-memory source holding the datasets.
func NewMemorySource(datasets ...Dataset) (*dummydb.DB, bpf.RecordSource) {
	db, _ := dummydb.Open()
	for _, ds := range datasets {
		ds.LoadMemory(db)
	}
	return db, dummydb.NewRecordSource(db)
}

func nullTime(t time.Time) null.Time {
	if t.IsZero() {
		return null.Time{}
	}
	return null.TimeFrom(t)
}

func (ds Dataset) LoadSQL(t *testing.T, db *sqlx.DB) {
	t.Helper()
	tenantID := ds.Organization.ID
	exec := func(query string, args ...interface{}) {
		if _, err := db.Exec(db.Rebind(query), args...); err != nil {
			t.Fatalf("LoadSQL() failed: %v", err)
		}
	}

	org := ds.Organization
	exec(`INSERT INTO organization (id, name, siret, address, city, postal_code, nda_number) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.SIRET, org.Address, org.City, org.PostalCode, org.NDANumber)
	for _, s := range ds.Students {
		exec(`INSERT INTO student (id, tenant_id, first_name, last_name, email, gender, birth_date, disabled) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, tenantID, s.FirstName, s.LastName, null.NewString(s.Email, s.Email != ""), s.Gender, nullTime(s.BirthDate), s.Disabled)
	}
	for _, s := range ds.Sessions {
		exec(`INSERT INTO training_session (id, tenant_id, name, program_id, program_name, start_date, end_date) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.ID, tenantID, s.Name, s.ProgramID, s.ProgramName, s.StartDate, nullTime(s.EndDate))
	}
	for _, e := range ds.Enrollments {
		exec(`INSERT INTO enrollment (id, tenant_id, student_id, session_id, funding_code, funding_name, amount, enrolled_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, tenantID, e.StudentID, e.SessionID, e.FundingCode, e.FundingName, e.Amount.String(), e.EnrolledAt)
	}
	for _, p := range ds.Payments {
		exec(`INSERT INTO payment (id, tenant_id, enrollment_id, payer_name, amount, paid_at) VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, tenantID, null.NewString(p.EnrollmentID, p.EnrollmentID != ""), p.PayerName, p.Amount.String(), p.PaidAt)
	}
	for _, s := range ds.Slots {
		exec(`INSERT INTO attendance_slot (id, tenant_id, session_id, slot_date, duration_minutes, expected_count, present_count) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.ID, tenantID, s.SessionID, s.Date, s.DurationMinutes, s.ExpectedCount, null.NewInt(s.PresentCount, s.Recorded))
	}
}

// PrepareDB returns a migrated SQLite database living in the test's temp dir.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conf := core.NewTestConfig()
	conf.Database.Engine = database.EngineSQLite
	conf.Database.Path = filepath.Join(t.TempDir(), "bilan_test.db")

	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("database.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("database.Migrate() failed: %v", err)
	}
	return db
}

// LogEntry is a message recorded by Logger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger is a core.Logger recording its entries.
type Logger struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ core.Logger = (*Logger)(nil)

func NewLogger() *Logger {
	return &Logger{}
}

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("fatal", msg, args) }

// Entries returns the recorded entries of level, or all of them when level is empty.
func (l *Logger) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var entries []LogEntry
	for _, e := range l.entries {
		if level == "" || e.Level == level {
			entries = append(entries, e)
		}
	}
	return entries
}
