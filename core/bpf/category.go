package bpf

import (
	"github.com/trezcool/bilan/core"
)

// Category is a bucket of the BPF funding taxonomy (Cerfa 10443, cadre F).
type Category string

const (
	CategoryCPF         Category = "cpf"
	CategoryOPCO        Category = "opco"
	CategoryCompanies   Category = "companies"
	CategoryIndividuals Category = "individuals"
	CategoryPoleEmploi  Category = "pole_emploi"
	CategoryRegions     Category = "regions"
	CategoryState       Category = "state"
	CategoryOther       Category = "other"
)

type categoryInfo struct {
	line  string
	label string
}

var (
	// Categories lists the taxonomy in Cerfa order.
	Categories = []Category{
		CategoryCPF,
		CategoryOPCO,
		CategoryCompanies,
		CategoryIndividuals,
		CategoryPoleEmploi,
		CategoryRegions,
		CategoryState,
		CategoryOther,
	}

	categoryInfos = map[Category]categoryInfo{
		CategoryCPF:         {line: "F1", label: "Mon Compte Formation (CPF)"},
		CategoryOPCO:        {line: "F2", label: "OPCO"},
		CategoryCompanies:   {line: "F3", label: "Entreprises"},
		CategoryIndividuals: {line: "F4", label: "Particuliers"},
		CategoryPoleEmploi:  {line: "F5", label: "Pôle Emploi / France Travail"},
		CategoryRegions:     {line: "F6", label: "Conseils régionaux"},
		CategoryState:       {line: "F7", label: "État"},
		CategoryOther:       {line: "F8", label: "Autres financements"},
	}

	categoryAliases = map[string]Category{
		"france_travail": CategoryPoleEmploi,
		"pole-emploi":    CategoryPoleEmploi,
		"entreprise":     CategoryCompanies,
		"entreprises":    CategoryCompanies,
		"employer":       CategoryCompanies,
		"particulier":    CategoryIndividuals,
		"particuliers":   CategoryIndividuals,
		"self":           CategoryIndividuals,
		"etat":           CategoryState,
		"region":         CategoryRegions,
		"autre":          CategoryOther,
	}
)

// Line returns the Cerfa line of the category (F1..F8).
func (c Category) Line() string { return categoryInfos[c].line }

// Label returns the Cerfa label of the category.
func (c Category) Label() string { return categoryInfos[c].label }

func (c Category) Valid() bool {
	_, ok := categoryInfos[c]
	return ok
}

// Classify maps a funding-source code to its Category.
// ok is false when the code is not part of the taxonomy; the record then belongs to CategoryOther
// and must be reported as unclassified.
func Classify(code string) (cat Category, ok bool) {
	code = core.CleanString(code, true /* lower */)
	if c := Category(code); c.Valid() {
		return c, true
	}
	if c, found := categoryAliases[code]; found {
		return c, true
	}
	return CategoryOther, false
}
