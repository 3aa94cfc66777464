package bpf

import (
	"strconv"
	"strings"
	"time"

	"github.com/trezcool/bilan/core"
)

// NowFunc returns the current time.
var NowFunc = time.Now // mockable

// Period is a reporting year.
type Period struct {
	Year int `json:"year"`
}

func (p Period) Start() time.Time {
	return time.Date(p.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// End is exclusive: January 1st of the following year.
func (p Period) End() time.Time {
	return p.Start().AddDate(1, 0, 0)
}

func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start()) && t.Before(p.End())
}

func (p Period) String() string { return strconv.Itoa(p.Year) }

// Scope restricts every read to one tenant and one period.
type Scope struct {
	TenantID string `json:"tenant_id"`
	Period   Period `json:"period"`
}

// Organization holds the tenant's identity as printed on the Cerfa header.
type Organization struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SIRET      string `json:"siret"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	NDANumber  string `json:"nda_number"`
}

var _ core.Identity = Organization{}

func (o Organization) LogIdentity() (id, name, email string) {
	return o.ID, o.Name, ""
}

// Raw record kinds

type (
	// Enrollment is a revenue line: a student registered to a session under a funding source.
	Enrollment struct {
		ID          string    `json:"id"`
		StudentID   string    `json:"student_id"`
		StudentName string    `json:"student_name"`
		SessionID   string    `json:"session_id"`
		SessionName string    `json:"session_name"`
		FundingCode string    `json:"funding_code"`
		FundingName string    `json:"funding_name"`
		Amount      Money     `json:"amount"`
		EnrolledAt  time.Time `json:"enrolled_at"`
	}

	Payment struct {
		ID           string    `json:"id"`
		EnrollmentID string    `json:"enrollment_id"` // empty when the payment is not attached
		PayerName    string    `json:"payer_name"`
		Amount       Money     `json:"amount"`
		PaidAt       time.Time `json:"paid_at"`
	}

	AttendanceSlot struct {
		ID              string    `json:"id"`
		SessionID       string    `json:"session_id"`
		SessionName     string    `json:"session_name"`
		Date            time.Time `json:"date"`
		DurationMinutes int64     `json:"duration_minutes"`
		ExpectedCount   int       `json:"expected_count"`
		PresentCount    int       `json:"present_count"`
		Recorded        bool      `json:"recorded"` // attendance was taken
	}

	Student struct {
		ID        string    `json:"id"`
		FirstName string    `json:"first_name"`
		LastName  string    `json:"last_name"`
		Email     string    `json:"email"`
		Gender    string    `json:"gender"`
		BirthDate time.Time `json:"birth_date"` // zero when unknown
		Disabled  bool      `json:"disabled"`
	}

	Session struct {
		ID          string    `json:"id"`
		Name        string    `json:"name"`
		ProgramID   string    `json:"program_id"`
		ProgramName string    `json:"program_name"`
		StartDate   time.Time `json:"start_date"`
		EndDate     time.Time `json:"end_date"`
	}
)

func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Gender values
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderUnknown = ""
)

// NormalizeGender maps the free-form gender column to GenderMale, GenderFemale or GenderUnknown.
func NormalizeGender(g string) string {
	switch core.CleanString(g, true /* lower */) {
	case "male", "m", "man", "homme", "h":
		return GenderMale
	case "female", "f", "woman", "femme":
		return GenderFemale
	default:
		return GenderUnknown
	}
}

// RecordRef points at an offending raw record.
type RecordRef struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// Record kinds
const (
	KindEnrollment = "enrollment"
	KindPayment    = "payment"
	KindSlot       = "attendance_slot"
	KindStudent    = "student"
	KindSession    = "session"
)
