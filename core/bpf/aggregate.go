package bpf

import (
	"encoding/json"
	"time"
)

// AggregateResult is the revenue of a scope broken down by Category.
// The grand total is only updated together with a category total, so sum(categories) == total always holds.
type AggregateResult struct {
	scope        Scope
	totals       map[Category]Money
	counts       map[Category]int
	total        Money
	unclassified []RecordRef
}

// CategoryLine is a presentation row of an AggregateResult.
type CategoryLine struct {
	Category Category `json:"category"`
	Line     string   `json:"line"`
	Label    string   `json:"label"`
	Records  int      `json:"records"`
	Amount   Money    `json:"amount"`
	Share    string   `json:"share"` // percentage of the total, 2 decimals
}

func newAggregateResult(scope Scope) AggregateResult {
	return AggregateResult{
		scope:  scope,
		totals: make(map[Category]Money, len(Categories)),
		counts: make(map[Category]int, len(Categories)),
	}
}

func (r *AggregateResult) add(cat Category, amount Money) {
	r.totals[cat] += amount
	r.counts[cat]++
	r.total += amount
}

func (r AggregateResult) Scope() Scope              { return r.scope }
func (r AggregateResult) Total() Money              { return r.total }
func (r AggregateResult) Amount(cat Category) Money { return r.totals[cat] }
func (r AggregateResult) Count(cat Category) int    { return r.counts[cat] }

// Records is the number of aggregated records.
func (r AggregateResult) Records() int {
	var n int
	for _, c := range r.counts {
		n += c
	}
	return n
}

// Unclassified returns the records routed to CategoryOther because their funding code is unknown.
func (r AggregateResult) Unclassified() []RecordRef {
	refs := make([]RecordRef, len(r.unclassified))
	copy(refs, r.unclassified)
	return refs
}

// Lines returns one row per Category, in Cerfa order, including empty categories.
func (r AggregateResult) Lines() []CategoryLine {
	lines := make([]CategoryLine, 0, len(Categories))
	for _, cat := range Categories {
		lines = append(lines, CategoryLine{
			Category: cat,
			Line:     cat.Line(),
			Label:    cat.Label(),
			Records:  r.counts[cat],
			Amount:   r.totals[cat],
			Share:    Share(int64(r.totals[cat]), int64(r.total)),
		})
	}
	return lines
}

func (r AggregateResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TenantID     string         `json:"tenant_id"`
		Year         int            `json:"year"`
		Categories   []CategoryLine `json:"categories"`
		Total        Money          `json:"total"`
		Records      int            `json:"records"`
		Unclassified []RecordRef    `json:"unclassified"`
	}{
		TenantID:     r.scope.TenantID,
		Year:         r.scope.Period.Year,
		Categories:   r.Lines(),
		Total:        r.total,
		Records:      r.Records(),
		Unclassified: r.Unclassified(),
	})
}

// Aggregate sums the revenue lines per Category in a single pass.
// Lines whose funding code cannot be classified land in CategoryOther and are listed by Unclassified.
func Aggregate(scope Scope, enrollments []Enrollment) (AggregateResult, error) {
	if _, err := NewScope(scope.TenantID, scope.Period.Year, 1); err != nil {
		return AggregateResult{}, err
	}

	res := newAggregateResult(scope)
	for _, e := range enrollments {
		cat, ok := Classify(e.FundingCode)
		if !ok {
			res.unclassified = append(res.unclassified, RecordRef{Kind: KindEnrollment, ID: e.ID, Label: e.FundingCode})
		}
		res.add(cat, e.Amount)
	}
	return res, nil
}

// ActivityStats feeds the Cerfa cadre H.
type ActivityStats struct {
	TotalMinutes   int64  `json:"total_minutes"`   // hours delivered, all sessions
	TraineeMinutes int64  `json:"trainee_minutes"` // hours delivered x present trainees
	TotalHours     string `json:"total_hours"`
	TraineeHours   string `json:"trainee_hours"`
	Sessions       int    `json:"sessions"`
	Programs       int    `json:"programs"`
	Expected       int    `json:"expected"`
	Present        int    `json:"present"`
	AttendanceRate string `json:"attendance_rate"`
}

// SummarizeActivity totals the delivered hours of the recorded slots.
func SummarizeActivity(slots []AttendanceSlot, sessions []Session) ActivityStats {
	var stats ActivityStats
	for _, s := range slots {
		if !s.Recorded {
			continue
		}
		stats.TotalMinutes += s.DurationMinutes
		stats.TraineeMinutes += s.DurationMinutes * int64(s.PresentCount)
		stats.Expected += s.ExpectedCount
		stats.Present += s.PresentCount
	}

	programs := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		if s.ProgramID != "" {
			programs[s.ProgramID] = struct{}{}
		}
	}
	stats.Sessions = len(sessions)
	stats.Programs = len(programs)
	stats.TotalHours = Hours(stats.TotalMinutes)
	stats.TraineeHours = Hours(stats.TraineeMinutes)
	stats.AttendanceRate = Share(int64(stats.Present), int64(stats.Expected))
	return stats
}

// StudentBreakdown feeds the Cerfa cadre G.
type StudentBreakdown struct {
	Total         int `json:"total"`
	Men           int `json:"men"`
	Women         int `json:"women"`
	UnknownGender int `json:"unknown_gender"`
	Under26       int `json:"under_26"`
	From26To45    int `json:"from_26_to_45"`
	Over45        int `json:"over_45"`
	UnknownAge    int `json:"unknown_age"`
	Disabled      int `json:"disabled"`
}

// SummarizeStudents counts students by gender and by age at the end of the period.
func SummarizeStudents(students []Student, period Period) StudentBreakdown {
	var b StudentBreakdown
	ref := period.End().AddDate(0, 0, -1)
	for _, s := range students {
		b.Total++
		switch NormalizeGender(s.Gender) {
		case GenderMale:
			b.Men++
		case GenderFemale:
			b.Women++
		default:
			b.UnknownGender++
		}

		switch age := ageAt(s.BirthDate, ref); {
		case age < 0:
			b.UnknownAge++
		case age < 26:
			b.Under26++
		case age <= 45:
			b.From26To45++
		default:
			b.Over45++
		}

		if s.Disabled {
			b.Disabled++
		}
	}
	return b
}

// ageAt returns -1 when birth is unknown.
func ageAt(birth, ref time.Time) int {
	if birth.IsZero() || birth.After(ref) {
		return -1
	}
	age := ref.Year() - birth.Year()
	if ref.Month() < birth.Month() || (ref.Month() == birth.Month() && ref.Day() < birth.Day()) {
		age--
	}
	return age
}
