package bpf

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/go-pdf/fpdf"
	"github.com/pkg/errors"
)

const (
	cerfaNumber = "10443"
	pageWidth   = 190.0 // A4 minus margins, mm
	rowHeight   = 7.0
)

type rgb struct{ r, g, b int }

var (
	colorCritical = rgb{198, 40, 40}
	colorWarning  = rgb{239, 160, 0}
	colorHeader   = rgb{230, 230, 230}
	colorText     = rgb{0, 0, 0}
	colorWhite    = rgb{255, 255, 255}
)

type cerfaDoc struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (d cerfaDoc) fill(c rgb) { d.pdf.SetFillColor(c.r, c.g, c.b) }
func (d cerfaDoc) text(c rgb) { d.pdf.SetTextColor(c.r, c.g, c.b) }

func (d cerfaDoc) title(txt string) {
	d.pdf.Ln(3)
	d.pdf.SetFont("Helvetica", "B", 11)
	d.fill(colorHeader)
	d.pdf.CellFormat(pageWidth, rowHeight, d.tr(txt), "1", 1, "L", true, 0, "")
	d.pdf.SetFont("Helvetica", "", 9)
}

// row writes label/value pairs using the given column widths.
func (d cerfaDoc) row(widths []float64, aligns []string, values ...string) {
	for i, v := range values {
		d.pdf.CellFormat(widths[i], rowHeight, d.tr(v), "1", 0, aligns[i], false, 0, "")
	}
	d.pdf.Ln(-1)
}

func (d cerfaDoc) field(label, value string) {
	d.row([]float64{70, pageWidth - 70}, []string{"L", "L"}, label, value)
}

func (d cerfaDoc) banner(c rgb, txt string) {
	d.pdf.Ln(2)
	d.fill(c)
	d.text(colorWhite)
	d.pdf.SetFont("Helvetica", "B", 10)
	d.pdf.MultiCell(pageWidth, rowHeight, d.tr(txt), "1", "C", true)
	d.text(colorText)
	d.pdf.SetFont("Helvetica", "", 9)
}

// renderCerfa lays the report out like the Cerfa 10443 form (cadres F, G and H).
// Dates embedded in the document come from meta so the output only depends on the inputs.
func renderCerfa(report Report, meta Metadata) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(meta.GeneratedAt)
	pdf.SetModificationDate(meta.GeneratedAt)
	pdf.SetCatalogSort(true)
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")

	d := cerfaDoc{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	pdf.SetTitle(d.tr(fmt.Sprintf("Bilan pédagogique et financier %d", meta.Period.Year)), false)
	pdf.SetAuthor(d.tr(meta.Organization.Name), false)
	pdf.SetCreator("bilan", false)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 7)
		pdf.CellFormat(0, 5, d.tr(fmt.Sprintf(
			"Cerfa n°%s - généré le %s - page %d/{nb}",
			cerfaNumber, meta.GeneratedAt.Format("02/01/2006 15:04 MST"), pdf.PageNo(),
		)), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	// header
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(pageWidth, 8, d.tr("BILAN PÉDAGOGIQUE ET FINANCIER"), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(pageWidth, 6, d.tr(fmt.Sprintf("Cerfa n°%s - Exercice comptable %d", cerfaNumber, meta.Period.Year)), "", 1, "C", false, 0, "")

	incs := report.Inconsistencies
	if report.HasCriticalIssues() {
		d.banner(colorCritical, fmt.Sprintf(
			"ATTENTION : %d incohérence(s) critique(s) détectée(s). Ce bilan ne peut pas être déposé en l'état.",
			incs.Count(SeverityCritical),
		))
	}
	if report.HasFailedChecks() {
		d.banner(colorCritical, fmt.Sprintf(
			"ATTENTION : %d contrôle(s) n'ont pas pu être exécutés. Les données de ce bilan ne sont pas entièrement vérifiées.",
			incs.Count(SeverityInfo),
		))
	}
	if !report.HasCriticalIssues() && !report.HasFailedChecks() && report.HasWarnings() {
		d.banner(colorWarning, fmt.Sprintf("%d avertissement(s) à vérifier avant le dépôt.", incs.Count(SeverityWarning)))
	}

	// cadre A
	org := meta.Organization
	d.title("A. Identification de l'organisme de formation")
	d.field("Raison sociale", org.Name)
	d.field("N° SIRET", org.SIRET)
	d.field("N° de déclaration d'activité", org.NDANumber)
	d.field("Adresse", fmt.Sprintf("%s %s %s", org.Address, org.PostalCode, org.City))

	// cadre F
	d.title("F. Origine des produits de l'organisme")
	fWidths := []float64{15, 95, 20, 40, 20}
	fAligns := []string{"C", "L", "R", "R", "R"}
	pdf.SetFont("Helvetica", "B", 9)
	d.row(fWidths, fAligns, "Ligne", "Origine", "Dossiers", "Montant", "%")
	pdf.SetFont("Helvetica", "", 9)
	for _, l := range report.Aggregate.Lines() {
		d.row(fWidths, fAligns, l.Line, l.Label, strconv.Itoa(l.Records), l.Amount.Display(), l.Share)
	}
	total := report.Aggregate.Total()
	pdf.SetFont("Helvetica", "B", 9)
	d.row(fWidths, fAligns, "", "Total des produits", strconv.Itoa(report.Aggregate.Records()), total.Display(),
		Share(int64(total), int64(total)))
	pdf.SetFont("Helvetica", "", 9)

	// cadre G
	st := report.Students
	d.title("G. Bilan pédagogique : stagiaires")
	d.field("Nombre total de stagiaires", strconv.Itoa(st.Total))
	d.field("Hommes", strconv.Itoa(st.Men))
	d.field("Femmes", strconv.Itoa(st.Women))
	d.field("Moins de 26 ans", strconv.Itoa(st.Under26))
	d.field("De 26 à 45 ans", strconv.Itoa(st.From26To45))
	d.field("Plus de 45 ans", strconv.Itoa(st.Over45))
	d.field("Personnes en situation de handicap", strconv.Itoa(st.Disabled))

	// cadre H
	act := report.Activity
	d.title("H. Bilan pédagogique : activité")
	d.field("Heures de formation dispensées", act.TotalHours)
	d.field("Heures stagiaires", act.TraineeHours)
	d.field("Sessions", strconv.Itoa(act.Sessions))
	d.field("Formations", strconv.Itoa(act.Programs))
	d.field("Taux d'assiduité (%)", act.AttendanceRate)

	if len(incs) > 0 {
		d.title("Incohérences détectées")
		iWidths := []float64{30, 130, 30}
		iAligns := []string{"L", "L", "R"}
		for _, inc := range incs {
			switch inc.Severity {
			case SeverityCritical:
				d.text(colorCritical)
			case SeverityWarning:
				d.text(colorWarning)
			}
			d.row(iWidths, iAligns, string(inc.Severity), inc.Type, strconv.Itoa(inc.AffectedCount))
			d.text(colorText)
			pdf.MultiCell(pageWidth, 5, d.tr(inc.Description), "LRB", "L", false)
		}
	}

	if err := pdf.Error(); err != nil {
		return nil, errors.Wrap(err, "laying out cerfa")
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.Wrap(err, "writing pdf")
	}
	return buf.Bytes(), nil
}
