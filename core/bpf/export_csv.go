package bpf

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const (
	csvSeparator = ';'
	utf8BOM      = "\ufeff"
)

func newCSVWriter(buf *bytes.Buffer) *csv.Writer {
	buf.WriteString(utf8BOM)
	w := csv.NewWriter(buf)
	w.Comma = csvSeparator
	return w
}

// renderSummaryCSV writes a status block, one row per category & period with a total row, then the inconsistencies.
func renderSummaryCSV(report Report, meta Metadata) ([]byte, error) {
	var buf bytes.Buffer
	w := newCSVWriter(&buf)
	year := strconv.Itoa(meta.Period.Year)
	incs := report.Inconsistencies

	records := [][]string{
		{"tenant_id", "organization", "year", "generated_at", "status", "critical_issues", "warnings"},
		{
			meta.TenantID,
			meta.Organization.Name,
			year,
			meta.GeneratedAt.Format(time.RFC3339),
			report.Status(),
			strconv.Itoa(incs.Count(SeverityCritical)),
			strconv.Itoa(incs.Count(SeverityWarning)),
		},
		{},
		{"year", "line", "category", "label", "records", "amount", "share"},
	}
	for _, l := range report.Aggregate.Lines() {
		records = append(records, []string{
			year, l.Line, string(l.Category), l.Label, strconv.Itoa(l.Records), l.Amount.String(), l.Share,
		})
	}
	records = append(records, []string{
		year, "TOTAL", "total", "Total", strconv.Itoa(report.Aggregate.Records()), report.Aggregate.Total().String(),
		Share(int64(report.Aggregate.Total()), int64(report.Aggregate.Total())),
	})

	if len(incs) > 0 {
		records = append(records, []string{}, []string{"severity", "type", "affected_count", "description"})
		for _, inc := range incs {
			records = append(records, []string{string(inc.Severity), inc.Type, strconv.Itoa(inc.AffectedCount), inc.Description})
		}
	}

	if err := w.WriteAll(records); err != nil {
		return nil, errors.Wrap(err, "writing csv")
	}
	return buf.Bytes(), nil
}

// RenderDrillDownCSV writes one row per record with the metric's columns.
func RenderDrillDownCSV(metric Metric, items []DrillDownItem) ([]byte, error) {
	if !metric.Valid() {
		return nil, &ExportError{Shape: ShapeCSV, Err: ErrInvalidMetric}
	}
	var buf bytes.Buffer
	w := newCSVWriter(&buf)

	cols := metric.Columns()
	header := make([]string, 0, len(cols))
	for _, c := range cols {
		header = append(header, c.Key)
	}
	records := make([][]string, 0, len(items)+1)
	records = append(records, header)
	for _, it := range items {
		records = append(records, it.Row())
	}

	if err := w.WriteAll(records); err != nil {
		return nil, &ExportError{Shape: ShapeCSV, Err: errors.Wrap(err, "writing csv")}
	}
	return buf.Bytes(), nil
}

// DrillDownFilename is the name under which the records of metric are downloaded.
func DrillDownFilename(metric Metric, year int) string {
	return "bpf_" + string(metric) + "_" + strconv.Itoa(year) + ".csv"
}
