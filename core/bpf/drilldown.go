package bpf

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/bilan/core"
)

// Metric is a drill-down target: the aggregate number whose records are listed.
type Metric string

const (
	MetricRevenue      Metric = "revenue"
	MetricTraineeHours Metric = "trainee_hours"
	MetricStudents     Metric = "students"
	MetricSessions     Metric = "sessions"
)

var Metrics = []Metric{MetricRevenue, MetricTraineeHours, MetricStudents, MetricSessions}

func (m Metric) Valid() bool {
	_, ok := metricDefs[m]
	return ok
}

// Columns returns the fixed column set of the metric.
func (m Metric) Columns() []Column {
	return metricDefs[m].columns
}

type Column struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// DrillDownItem is the projection of one raw record. The set of implementations is closed.
type DrillDownItem interface {
	ItemID() string
	// Row returns the values in the order of the metric's Columns.
	Row() []string
	sortKey() []string
}

type (
	RevenueItem struct {
		ID          string   `json:"id"`
		StudentName string   `json:"student_name"`
		SessionName string   `json:"session_name"`
		FundingName string   `json:"funding_name"`
		Category    Category `json:"bpf_category"`
		Amount      Money    `json:"amount"`
	}

	TraineeHoursItem struct {
		ID           string    `json:"id"`
		SlotDate     time.Time `json:"slot_date"`
		SessionName  string    `json:"session_name"`
		SlotHours    string    `json:"slot_hours"`
		PresentCount int       `json:"present_count"`
		TraineeHours string    `json:"trainee_hours"`
	}

	StudentItem struct {
		ID            string `json:"id"`
		StudentName   string `json:"student_name"`
		Email         string `json:"email"`
		Gender        string `json:"gender"`
		SessionsCount int    `json:"sessions_count"`
		TotalSpent    Money  `json:"total_spent"`
	}

	SessionItem struct {
		ID            string    `json:"id"`
		SessionName   string    `json:"session_name"`
		ProgramName   string    `json:"program_name"`
		StartDate     time.Time `json:"start_date"`
		EnrolledCount int       `json:"enrolled_count"`
		TotalRevenue  Money     `json:"total_revenue"`
	}
)

const dateLayout = "2006-01-02"

func (it RevenueItem) ItemID() string { return it.ID }
func (it RevenueItem) Row() []string {
	return []string{it.StudentName, it.SessionName, it.FundingName, string(it.Category), it.Amount.String()}
}
func (it RevenueItem) sortKey() []string {
	return []string{lower(it.StudentName), lower(it.SessionName)}
}

func (it TraineeHoursItem) ItemID() string { return it.ID }
func (it TraineeHoursItem) Row() []string {
	return []string{it.SlotDate.Format(dateLayout), it.SessionName, it.SlotHours, strconv.Itoa(it.PresentCount), it.TraineeHours}
}
func (it TraineeHoursItem) sortKey() []string {
	return []string{it.SlotDate.UTC().Format(time.RFC3339), lower(it.SessionName)}
}

func (it StudentItem) ItemID() string { return it.ID }
func (it StudentItem) Row() []string {
	return []string{it.StudentName, it.Email, it.Gender, strconv.Itoa(it.SessionsCount), it.TotalSpent.String()}
}
func (it StudentItem) sortKey() []string {
	return []string{lower(it.StudentName)}
}

func (it SessionItem) ItemID() string { return it.ID }
func (it SessionItem) Row() []string {
	return []string{it.SessionName, it.ProgramName, it.StartDate.Format(dateLayout), strconv.Itoa(it.EnrolledCount), it.TotalRevenue.String()}
}
func (it SessionItem) sortKey() []string {
	return []string{it.StartDate.UTC().Format(time.RFC3339), lower(it.SessionName)}
}

func lower(s string) string { return strings.ToLower(s) }

// DrillDownPage is one page of the records behind a metric.
type DrillDownPage struct {
	Metric     Metric          `json:"metric"`
	Columns    []Column        `json:"columns"`
	Items      []DrillDownItem `json:"items"`
	TotalCount int             `json:"total_count"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

// DrillDownQuery selects a page of records. Page is 1-based; zero values take the defaults.
type DrillDownQuery struct {
	TenantID string `param:"tenant" json:"tenant_id" validate:"required,max=64,identifier"`
	Year     int    `param:"year" json:"year" validate:"bpfyear"`
	Metric   Metric `param:"metric" json:"metric" validate:"bpfmetric"`
	Page     int    `query:"page" json:"page" validate:"omitempty,min=1"`
	PageSize int    `query:"page_size" json:"page_size" validate:"omitempty,min=1"`
	// Search is a case-insensitive match on any column, applied to the full record set.
	Search string `query:"search" json:"search"`
	// Category only applies to MetricRevenue.
	Category string `query:"category" json:"category" validate:"omitempty,bpfcategory"`
}

type DrillDownConfig struct {
	MinYear         int
	DefaultPageSize int
	MaxPageSize     int
}

// DrillDownProvider lists the records behind a metric in a deterministic order.
type DrillDownProvider struct {
	src  RecordSource
	conf DrillDownConfig
}

func NewDrillDownProvider(src RecordSource, conf DrillDownConfig) *DrillDownProvider {
	if conf.DefaultPageSize <= 0 {
		conf.DefaultPageSize = 20
	}
	if conf.MaxPageSize < conf.DefaultPageSize {
		conf.MaxPageSize = conf.DefaultPageSize
	}
	return &DrillDownProvider{src: src, conf: conf}
}

// clean validates q and fills in the defaults.
func (p *DrillDownProvider) clean(q DrillDownQuery) (Scope, DrillDownQuery, error) {
	scope, err := NewScope(q.TenantID, q.Year, p.conf.MinYear)
	if err != nil {
		return Scope{}, q, err
	}
	q.Metric = Metric(core.CleanString(string(q.Metric), true /* lower */))
	if !q.Metric.Valid() {
		return Scope{}, q, core.NewValidationError(ErrInvalidMetric, core.FieldError{Field: "metric", Error: ErrInvalidMetric.Error()})
	}

	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = p.conf.DefaultPageSize
	}
	switch {
	case q.Page < 0:
		return Scope{}, q, core.NewValidationError(ErrInvalidPage, core.FieldError{Field: "page", Error: "page must be positive"})
	case q.PageSize < 0:
		return Scope{}, q, core.NewValidationError(ErrInvalidPage, core.FieldError{Field: "page_size", Error: "page_size must be positive"})
	case q.PageSize > p.conf.MaxPageSize:
		return Scope{}, q, core.NewValidationError(ErrInvalidPage, core.FieldError{
			Field: "page_size",
			Error: "page_size cannot exceed " + strconv.Itoa(p.conf.MaxPageSize),
		})
	}

	q.Search = core.CleanString(q.Search, true /* lower */)
	q.Category = core.CleanString(q.Category, true /* lower */)
	if q.Category != "" {
		if q.Metric != MetricRevenue {
			return Scope{}, q, core.NewValidationError(ErrInvalidFilter, core.FieldError{
				Field: "category",
				Error: "category filter only applies to the revenue metric",
			})
		}
		if !Category(q.Category).Valid() {
			return Scope{}, q, core.NewValidationError(ErrInvalidFilter, core.FieldError{Field: "category", Error: "unknown category"})
		}
	}
	return scope, q, nil
}

// GetPage returns the requested page. A page past the end has no items but still carries the total count.
func (p *DrillDownProvider) GetPage(ctx context.Context, q DrillDownQuery) (DrillDownPage, error) {
	scope, q, err := p.clean(q)
	if err != nil {
		return DrillDownPage{}, err
	}
	items, err := p.load(ctx, scope, q)
	if err != nil {
		return DrillDownPage{}, err
	}

	total := len(items)
	page := DrillDownPage{
		Metric:     q.Metric,
		Columns:    q.Metric.Columns(),
		Items:      make([]DrillDownItem, 0, q.PageSize),
		TotalCount: total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: (total + q.PageSize - 1) / q.PageSize,
	}
	if q.Page > page.TotalPages {
		return page, nil
	}
	start := (q.Page - 1) * q.PageSize
	end := start + q.PageSize
	if end > total {
		end = total
	}
	page.Items = append(page.Items, items[start:end]...)
	return page, nil
}

// All returns every record of the filtered set, in page order.
func (p *DrillDownProvider) All(ctx context.Context, q DrillDownQuery) (Metric, []DrillDownItem, error) {
	scope, q, err := p.clean(q)
	if err != nil {
		return "", nil, err
	}
	items, err := p.load(ctx, scope, q)
	return q.Metric, items, err
}

// load fetches, filters and sorts the full record set of the metric.
func (p *DrillDownProvider) load(ctx context.Context, scope Scope, q DrillDownQuery) ([]DrillDownItem, error) {
	items, err := metricDefs[q.Metric].load(ctx, p.src, scope)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s records", q.Metric)
	}

	filtered := items[:0]
	for _, it := range items {
		if q.Category != "" {
			if rev, ok := it.(RevenueItem); !ok || string(rev.Category) != q.Category {
				continue
			}
		}
		if q.Search != "" && !matches(it, q.Search) {
			continue
		}
		filtered = append(filtered, it)
	}

	sort.Slice(filtered, func(i, j int) bool {
		ki, kj := filtered[i].sortKey(), filtered[j].sortKey()
		for n := range ki {
			if ki[n] != kj[n] {
				return ki[n] < kj[n]
			}
		}
		return filtered[i].ItemID() < filtered[j].ItemID()
	})
	return filtered, nil
}

func matches(it DrillDownItem, term string) bool {
	for _, v := range it.Row() {
		if strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return false
}

type metricDef struct {
	columns []Column
	load    func(ctx context.Context, src RecordSource, scope Scope) ([]DrillDownItem, error)
}

var metricDefs = map[Metric]metricDef{
	MetricRevenue: {
		columns: []Column{
			{Key: "student_name", Label: "Stagiaire"},
			{Key: "session_name", Label: "Session"},
			{Key: "funding_name", Label: "Financement"},
			{Key: "bpf_category", Label: "Catégorie BPF"},
			{Key: "amount", Label: "Montant"},
		},
		load: loadRevenue,
	},
	MetricTraineeHours: {
		columns: []Column{
			{Key: "slot_date", Label: "Date"},
			{Key: "session_name", Label: "Session"},
			{Key: "slot_hours", Label: "Heures"},
			{Key: "present_count", Label: "Présents"},
			{Key: "trainee_hours", Label: "Heures stagiaires"},
		},
		load: loadTraineeHours,
	},
	MetricStudents: {
		columns: []Column{
			{Key: "student_name", Label: "Stagiaire"},
			{Key: "email", Label: "Email"},
			{Key: "gender", Label: "Genre"},
			{Key: "sessions_count", Label: "Sessions"},
			{Key: "total_spent", Label: "Montant total"},
		},
		load: loadStudents,
	},
	MetricSessions: {
		columns: []Column{
			{Key: "session_name", Label: "Session"},
			{Key: "program_name", Label: "Formation"},
			{Key: "start_date", Label: "Début"},
			{Key: "enrolled_count", Label: "Inscrits"},
			{Key: "total_revenue", Label: "Chiffre d'affaires"},
		},
		load: loadSessions,
	},
}

func loadRevenue(ctx context.Context, src RecordSource, scope Scope) ([]DrillDownItem, error) {
	enrollments, err := src.Enrollments(ctx, scope)
	if err != nil {
		return nil, err
	}
	items := make([]DrillDownItem, 0, len(enrollments))
	for _, e := range enrollments {
		cat, _ := Classify(e.FundingCode)
		items = append(items, RevenueItem{
			ID:          e.ID,
			StudentName: e.StudentName,
			SessionName: e.SessionName,
			FundingName: e.FundingName,
			Category:    cat,
			Amount:      e.Amount,
		})
	}
	return items, nil
}

// loadTraineeHours lists the recorded slots, the ones counted by SummarizeActivity.
func loadTraineeHours(ctx context.Context, src RecordSource, scope Scope) ([]DrillDownItem, error) {
	slots, err := src.AttendanceSlots(ctx, scope)
	if err != nil {
		return nil, err
	}
	items := make([]DrillDownItem, 0, len(slots))
	for _, s := range slots {
		if !s.Recorded {
			continue
		}
		items = append(items, TraineeHoursItem{
			ID:           s.ID,
			SlotDate:     s.Date,
			SessionName:  s.SessionName,
			SlotHours:    Hours(s.DurationMinutes),
			PresentCount: s.PresentCount,
			TraineeHours: Hours(s.DurationMinutes * int64(s.PresentCount)),
		})
	}
	return items, nil
}

type enrollmentTally struct {
	count  int
	amount Money
	seen   map[string]struct{}
}

// tallyEnrollments sums the amounts per key and counts the distinct values of other per key.
// A student funded by several lines in one session is counted once.
func tallyEnrollments(enrollments []Enrollment, key, other func(Enrollment) string) map[string]*enrollmentTally {
	tallies := make(map[string]*enrollmentTally)
	for _, e := range enrollments {
		t, ok := tallies[key(e)]
		if !ok {
			t = &enrollmentTally{seen: make(map[string]struct{})}
			tallies[key(e)] = t
		}
		t.amount += e.Amount
		if _, dup := t.seen[other(e)]; !dup {
			t.seen[other(e)] = struct{}{}
			t.count++
		}
	}
	return tallies
}

func (t *enrollmentTally) totals() (int, Money) {
	if t == nil {
		return 0, 0
	}
	return t.count, t.amount
}

func loadStudents(ctx context.Context, src RecordSource, scope Scope) ([]DrillDownItem, error) {
	students, err := src.Students(ctx, scope)
	if err != nil {
		return nil, err
	}
	enrollments, err := src.Enrollments(ctx, scope)
	if err != nil {
		return nil, err
	}
	tallies := tallyEnrollments(enrollments,
		func(e Enrollment) string { return e.StudentID },
		func(e Enrollment) string { return e.SessionID },
	)

	items := make([]DrillDownItem, 0, len(students))
	for _, s := range students {
		sessions, spent := tallies[s.ID].totals()
		items = append(items, StudentItem{
			ID:            s.ID,
			StudentName:   s.FullName(),
			Email:         s.Email,
			Gender:        NormalizeGender(s.Gender),
			SessionsCount: sessions,
			TotalSpent:    spent,
		})
	}
	return items, nil
}

func loadSessions(ctx context.Context, src RecordSource, scope Scope) ([]DrillDownItem, error) {
	sessions, err := src.Sessions(ctx, scope)
	if err != nil {
		return nil, err
	}
	enrollments, err := src.Enrollments(ctx, scope)
	if err != nil {
		return nil, err
	}
	tallies := tallyEnrollments(enrollments,
		func(e Enrollment) string { return e.SessionID },
		func(e Enrollment) string { return e.StudentID },
	)

	items := make([]DrillDownItem, 0, len(sessions))
	for _, s := range sessions {
		enrolled, revenue := tallies[s.ID].totals()
		items = append(items, SessionItem{
			ID:            s.ID,
			SessionName:   s.Name,
			ProgramName:   s.ProgramName,
			StartDate:     s.StartDate,
			EnrolledCount: enrolled,
			TotalRevenue:  revenue,
		})
	}
	return items, nil
}
