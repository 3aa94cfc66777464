package bpf

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/bilan/core"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Inconsistency types
const (
	TypeMissingCategory       = "missing_category"
	TypeOrphanPayments        = "orphan_payments"
	TypeIncompleteStudentData = "incomplete_student_data"
	TypeMissingAttendance     = "missing_attendance"
	TypeLowAttendanceRate     = "low_attendance_rate"
	TypeCheckFailed           = "check_failed"
)

// Inconsistency is a data-quality issue that could affect the correctness of the report.
type Inconsistency struct {
	Type          string      `json:"type"`
	Severity      Severity    `json:"severity"`
	AffectedCount int         `json:"affected_count"`
	Description   string      `json:"description"`
	Records       []RecordRef `json:"records"`
}

// Inconsistencies is a sortable list of Inconsistency.
type Inconsistencies []Inconsistency

// Sort orders by severity (critical first), then by affected count, keeping the detection order on ties.
func (incs Inconsistencies) Sort() {
	sort.SliceStable(incs, func(i, j int) bool {
		ri, rj := incs[i].Severity.rank(), incs[j].Severity.rank()
		if ri != rj {
			return ri < rj
		}
		return incs[i].AffectedCount > incs[j].AffectedCount
	})
}

func (incs Inconsistencies) HasCritical() bool { return incs.has(SeverityCritical) }
func (incs Inconsistencies) HasWarnings() bool { return incs.has(SeverityWarning) }

// HasFailedChecks reports whether some checks could not run, leaving the records partly unverified.
func (incs Inconsistencies) HasFailedChecks() bool {
	for _, inc := range incs {
		if inc.Type == TypeCheckFailed {
			return true
		}
	}
	return false
}

// Count returns the number of entries with the given severity.
func (incs Inconsistencies) Count(sev Severity) int {
	var n int
	for _, inc := range incs {
		if inc.Severity == sev {
			n++
		}
	}
	return n
}

func (incs Inconsistencies) has(sev Severity) bool {
	return incs.Count(sev) > 0
}

// CheckFunc inspects the records of a scope. It must not modify them.
type CheckFunc func(ctx context.Context, scope Scope, src RecordSource) ([]Inconsistency, error)

// Check is a named CheckFunc.
type Check struct {
	Name string
	Run  CheckFunc
}

type DetectorConfig struct {
	MinYear int
	// AttendanceFloor is the attendance rate (0-1) under which a session is reported.
	AttendanceFloor float64
}

// Detector runs a battery of independent checks against a RecordSource.
type Detector struct {
	src    RecordSource
	conf   DetectorConfig
	logger core.Logger
	checks []Check
}

// NewDetector returns a Detector running the default checks followed by the extra ones.
func NewDetector(src RecordSource, conf DetectorConfig, logger core.Logger, extra ...Check) *Detector {
	d := &Detector{src: src, conf: conf, logger: logger}
	d.checks = append([]Check{
		{Name: TypeMissingCategory, Run: checkMissingCategory},
		{Name: TypeOrphanPayments, Run: checkOrphanPayments},
		{Name: TypeIncompleteStudentData, Run: checkIncompleteStudents},
		{Name: TypeMissingAttendance, Run: checkMissingAttendance},
		{Name: TypeLowAttendanceRate, Run: lowAttendanceCheck(conf.AttendanceFloor)},
	}, extra...)
	return d
}

// Detect runs every check and returns their findings, sorted.
// A failing check does not fail the run: it is reported as an info entry. The run fails on invalid input,
// on a cancelled context, or when the source is unreachable for every check.
func (d *Detector) Detect(ctx context.Context, tenantID string, year int) (Inconsistencies, error) {
	scope, err := NewScope(tenantID, year, d.conf.MinYear)
	if err != nil {
		return nil, err
	}
	return d.detect(ctx, scope)
}

func (d *Detector) detect(ctx context.Context, scope Scope) (Inconsistencies, error) {
	incs := make(Inconsistencies, 0, len(d.checks))
	var failed []*CheckError
	for _, chk := range d.checks {
		found, cErr := d.run(ctx, scope, chk)
		if cErr != nil {
			failed = append(failed, cErr)
			continue
		}
		incs = append(incs, found...)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "detecting inconsistencies")
	}
	if len(failed) > 0 && len(failed) == len(d.checks) && allSourceUnavailable(failed) {
		return nil, errors.Wrap(failed[0].Err, "detecting inconsistencies")
	}

	for _, cErr := range failed {
		d.logger.Warn(cErr.Error(), cErr, map[string]interface{}{
			"tenant_id": scope.TenantID,
			"year":      scope.Period.Year,
		})
		incs = append(incs, Inconsistency{
			Type:        TypeCheckFailed,
			Severity:    SeverityInfo,
			Description: fmt.Sprintf("The %q check could not run: %v", cErr.Check, cErr.Err),
			Records:     []RecordRef{},
		})
	}
	incs.Sort()
	return incs, nil
}

func allSourceUnavailable(failed []*CheckError) bool {
	for _, cErr := range failed {
		if !IsSourceUnavailable(cErr.Err) {
			return false
		}
	}
	return true
}

func (d *Detector) run(ctx context.Context, scope Scope, chk Check) (found []Inconsistency, cErr *CheckError) {
	defer func() {
		if r := recover(); r != nil {
			found = nil
			cErr = &CheckError{Check: chk.Name, Err: errors.Errorf("panic: %v", r)}
		}
	}()
	found, err := chk.Run(ctx, scope, d.src)
	if err != nil {
		return nil, &CheckError{Check: chk.Name, Err: err}
	}
	return found, nil
}

// Checks

func checkMissingCategory(ctx context.Context, scope Scope, src RecordSource) ([]Inconsistency, error) {
	enrollments, err := src.Enrollments(ctx, scope)
	if err != nil {
		return nil, errors.Wrap(err, "fetching enrollments")
	}
	var refs []RecordRef
	for _, e := range enrollments {
		if _, ok := Classify(e.FundingCode); !ok {
			refs = append(refs, RecordRef{Kind: KindEnrollment, ID: e.ID, Label: e.StudentName})
		}
	}
	return single(TypeMissingCategory, SeverityCritical, refs,
		"%d enrollment(s) have a funding source without BPF category; their revenue is reported under %s (%s).",
		len(refs), CategoryOther.Line(), CategoryOther.Label(),
	), nil
}

func checkOrphanPayments(ctx context.Context, scope Scope, src RecordSource) ([]Inconsistency, error) {
	payments, err := src.Payments(ctx, scope)
	if err != nil {
		return nil, errors.Wrap(err, "fetching payments")
	}
	if len(payments) == 0 {
		return nil, nil
	}
	// a payment may settle an enrollment of a previous period
	enrollments, err := src.Enrollments(ctx, Scope{TenantID: scope.TenantID, Period: Period{Year: scope.Period.Year - 1}})
	if err != nil {
		return nil, errors.Wrap(err, "fetching previous enrollments")
	}
	current, err := src.Enrollments(ctx, scope)
	if err != nil {
		return nil, errors.Wrap(err, "fetching enrollments")
	}
	known := make(map[string]struct{}, len(enrollments)+len(current))
	for _, e := range append(enrollments, current...) {
		known[e.ID] = struct{}{}
	}

	var refs []RecordRef
	for _, p := range payments {
		if _, ok := known[p.EnrollmentID]; p.EnrollmentID == "" || !ok {
			refs = append(refs, RecordRef{Kind: KindPayment, ID: p.ID, Label: p.PayerName})
		}
	}
	return single(TypeOrphanPayments, SeverityCritical, refs,
		"%d payment(s) are not attached to any enrollment and cannot be assigned a funding category.", len(refs),
	), nil
}

func checkIncompleteStudents(ctx context.Context, scope Scope, src RecordSource) ([]Inconsistency, error) {
	students, err := src.Students(ctx, scope)
	if err != nil {
		return nil, errors.Wrap(err, "fetching students")
	}
	var refs []RecordRef
	for _, s := range students {
		if missing := missingStudentFields(s); len(missing) > 0 {
			refs = append(refs, RecordRef{Kind: KindStudent, ID: s.ID, Label: s.FullName() + ": " + strings.Join(missing, ", ")})
		}
	}
	return single(TypeIncompleteStudentData, SeverityWarning, refs,
		"%d student(s) miss data required by the cadre G breakdown (gender, birth date or email).", len(refs),
	), nil
}

func missingStudentFields(s Student) []string {
	var missing []string
	if NormalizeGender(s.Gender) == GenderUnknown {
		missing = append(missing, "gender")
	}
	if s.BirthDate.IsZero() {
		missing = append(missing, "birth_date")
	}
	if core.CleanString(s.Email) == "" {
		missing = append(missing, "email")
	}
	return missing
}

func checkMissingAttendance(ctx context.Context, scope Scope, src RecordSource) ([]Inconsistency, error) {
	slots, err := src.AttendanceSlots(ctx, scope)
	if err != nil {
		return nil, errors.Wrap(err, "fetching attendance slots")
	}
	now := NowFunc().UTC()
	var refs []RecordRef
	for _, s := range slots {
		if !s.Recorded && s.Date.Before(now) {
			refs = append(refs, RecordRef{Kind: KindSlot, ID: s.ID, Label: s.SessionName + " " + s.Date.Format("2006-01-02")})
		}
	}
	return single(TypeMissingAttendance, SeverityWarning, refs,
		"%d past slot(s) have no attendance recorded; their hours are excluded from cadre H.", len(refs),
	), nil
}

func lowAttendanceCheck(floor float64) CheckFunc {
	return func(ctx context.Context, scope Scope, src RecordSource) ([]Inconsistency, error) {
		if floor <= 0 {
			return nil, nil
		}
		slots, err := src.AttendanceSlots(ctx, scope)
		if err != nil {
			return nil, errors.Wrap(err, "fetching attendance slots")
		}

		type tally struct {
			name              string
			expected, present int
		}
		bySession := make(map[string]*tally)
		order := make([]string, 0)
		for _, s := range slots {
			if !s.Recorded {
				continue
			}
			t, ok := bySession[s.SessionID]
			if !ok {
				t = &tally{name: s.SessionName}
				bySession[s.SessionID] = t
				order = append(order, s.SessionID)
			}
			t.expected += s.ExpectedCount
			t.present += s.PresentCount
		}
		sort.Strings(order)

		var refs []RecordRef
		for _, id := range order {
			t := bySession[id]
			if t.expected == 0 {
				continue
			}
			if float64(t.present) < floor*float64(t.expected) {
				refs = append(refs, RecordRef{
					Kind:  KindSession,
					ID:    id,
					Label: fmt.Sprintf("%s (%s%%)", t.name, Share(int64(t.present), int64(t.expected))),
				})
			}
		}
		return single(TypeLowAttendanceRate, SeverityWarning, refs,
			"%d session(s) have an attendance rate below %s%%.", len(refs), Share(int64(floor*10000), 10000),
		), nil
	}
}

// single returns one Inconsistency covering refs, or nothing when refs is empty.
func single(typ string, sev Severity, refs []RecordRef, format string, args ...interface{}) []Inconsistency {
	if len(refs) == 0 {
		return nil
	}
	return []Inconsistency{{
		Type:          typ,
		Severity:      sev,
		AffectedCount: len(refs),
		Description:   fmt.Sprintf(format, args...),
		Records:       refs,
	}}
}
