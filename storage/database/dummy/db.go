package dummydb

import (
	"sync"

	"github.com/trezcool/bilan/core/bpf"
)

type (
	DB struct {
		org        *orgTable
		enrollment *table[bpf.Enrollment]
		payment    *table[bpf.Payment]
		slot       *table[bpf.AttendanceSlot]
		student    *table[bpf.Student]
		session    *table[bpf.Session]
		faults     *faultTable
	}

	orgTable struct {
		sync.RWMutex
		table map[string]bpf.Organization
	}

	tenantRow[T any] struct {
		tenantID string
		rec      T
	}

	table[T any] struct {
		sync.RWMutex
		rows []tenantRow[T]
	}

	faultTable struct {
		sync.RWMutex
		table map[string]error // {operation: error}
	}
)

func Open() (*DB, error) {
	db := &DB{}
	db.Reset()
	return db, nil
}

// Reset drops every row and fault.
func (db *DB) Reset() {
	db.org = &orgTable{table: make(map[string]bpf.Organization)}
	db.enrollment = &table[bpf.Enrollment]{}
	db.payment = &table[bpf.Payment]{}
	db.slot = &table[bpf.AttendanceSlot]{}
	db.student = &table[bpf.Student]{}
	db.session = &table[bpf.Session]{}
	db.faults = &faultTable{table: make(map[string]error)}
}

func (t *table[T]) insert(tenantID string, recs ...T) {
	t.Lock()
	defer t.Unlock()
	for _, r := range recs {
		t.rows = append(t.rows, tenantRow[T]{tenantID: tenantID, rec: r})
	}
}

// query returns a copy of the tenant's rows accepted by keep, in insertion order.
func (t *table[T]) query(tenantID string, keep func(T) bool) []T {
	t.RLock()
	defer t.RUnlock()
	recs := make([]T, 0)
	for _, r := range t.rows {
		if r.tenantID == tenantID && (keep == nil || keep(r.rec)) {
			recs = append(recs, r.rec)
		}
	}
	return recs
}

func (db *DB) AddOrganization(org bpf.Organization) {
	db.org.Lock()
	defer db.org.Unlock()
	db.org.table[org.ID] = org
}

func (db *DB) AddEnrollments(tenantID string, recs ...bpf.Enrollment) {
	db.enrollment.insert(tenantID, recs...)
}

func (db *DB) AddPayments(tenantID string, recs ...bpf.Payment) {
	db.payment.insert(tenantID, recs...)
}

func (db *DB) AddAttendanceSlots(tenantID string, recs ...bpf.AttendanceSlot) {
	db.slot.insert(tenantID, recs...)
}

func (db *DB) AddStudents(tenantID string, recs ...bpf.Student) {
	db.student.insert(tenantID, recs...)
}

func (db *DB) AddSessions(tenantID string, recs ...bpf.Session) {
	db.session.insert(tenantID, recs...)
}

// Operations accepted by Fail.
const (
	OpAll             = "*"
	OpOrganization    = "organization"
	OpEnrollments     = "enrollments"
	OpPayments        = "payments"
	OpAttendanceSlots = "attendance_slots"
	OpStudents        = "students"
	OpSessions        = "sessions"
)

// Fail makes every subsequent call to op return err, wrapped in a *bpf.SourceError. A nil err clears the fault.
func (db *DB) Fail(op string, err error) {
	db.faults.Lock()
	defer db.faults.Unlock()
	if err == nil {
		delete(db.faults.table, op)
		return
	}
	db.faults.table[op] = err
}

func (db *DB) fault(op string) error {
	db.faults.RLock()
	defer db.faults.RUnlock()
	if err, ok := db.faults.table[op]; ok {
		return bpf.NewSourceError(op, err)
	}
	if err, ok := db.faults.table[OpAll]; ok {
		return bpf.NewSourceError(op, err)
	}
	return nil
}
