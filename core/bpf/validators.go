package bpf

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/bilan/core"
)

var (
	yearTag  = "bpfyear"
	yearText = "year must be a past or current year"

	metricTag  = "bpfmetric"
	metricText = "metric must be one of revenue, trainee_hours, students, sessions"

	categoryTag  = "bpfcategory"
	categoryText = "unknown BPF category"

	shapeTag  = "bpfshape"
	shapeText = "format must be one of csv, pdf"
)

// InitValidators registers the BPF validation tags. Years before minYear are rejected.
func InitValidators(validate *validator.Validate, translator ut.Translator, minYear int) {
	_ = validate.RegisterValidation(yearTag, yearValidation(minYear))
	core.RegisterCustomTranslation(validate, translator, yearTag, yearText)

	_ = validate.RegisterValidation(metricTag, metricValidation)
	core.RegisterCustomTranslation(validate, translator, metricTag, metricText)

	_ = validate.RegisterValidation(categoryTag, categoryValidation)
	core.RegisterCustomTranslation(validate, translator, categoryTag, categoryText)

	_ = validate.RegisterValidation(shapeTag, shapeValidation)
	core.RegisterCustomTranslation(validate, translator, shapeTag, shapeText)
}

func yearValidation(minYear int) validator.Func {
	if minYear <= 0 {
		minYear = DefaultMinYear
	}
	return func(fl validator.FieldLevel) bool {
		year := int(fl.Field().Int())
		return year >= minYear && year <= NowFunc().UTC().Year()
	}
}

func metricValidation(fl validator.FieldLevel) bool {
	return Metric(core.CleanString(fl.Field().String(), true /* lower */)).Valid()
}

func categoryValidation(fl validator.FieldLevel) bool {
	return Category(core.CleanString(fl.Field().String(), true /* lower */)).Valid()
}

func shapeValidation(fl validator.FieldLevel) bool {
	return Shape(core.CleanString(fl.Field().String(), true /* lower */)).Valid()
}

// ReportQuery selects the report of a tenant for a year.
type ReportQuery struct {
	TenantID string `param:"tenant" json:"tenant_id" validate:"required,max=64,identifier"`
	Year     int    `param:"year" json:"year" validate:"bpfyear"`
}

func (q *ReportQuery) Validate(validate *validator.Validate) error {
	q.TenantID = core.CleanString(q.TenantID)
	return validate.Struct(q)
}

// ExportQuery selects an export of the report.
type ExportQuery struct {
	ReportQuery
	Format string `query:"format" json:"format" validate:"omitempty,bpfshape"`
	// Final refuses the export when critical issues remain.
	Final bool `query:"final" json:"final"`
}

func (q *ExportQuery) Validate(validate *validator.Validate) error {
	q.TenantID = core.CleanString(q.TenantID)
	q.Format = core.CleanString(q.Format, true /* lower */)
	if q.Format == "" {
		q.Format = string(ShapeCSV)
	}
	return validate.Struct(q)
}

func (q *DrillDownQuery) Validate(validate *validator.Validate) error {
	q.TenantID = core.CleanString(q.TenantID)
	q.Metric = Metric(core.CleanString(string(q.Metric), true /* lower */))
	q.Category = core.CleanString(q.Category, true /* lower */)
	return validate.Struct(q)
}
