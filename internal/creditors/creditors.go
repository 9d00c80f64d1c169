// Package creditors holds the fixed catalog of creditors a debt can be
// placed with, and resolves free-text placer names from CSV files to it.
package creditors

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Bank names as printed on payment instructions.
const (
	BankBBVA       = "BANCO FRANCES - BBVA"
	BankIndustrial = "BANCO INDUSTRIAL S.A."
	BankSantander  = "SANTANDER"
	BankPatagonia  = "PATAGONIA"
)

// CUIT is a creditor tax code. Older stored records carry it as a JSON
// number, newer ones as a string.
type CUIT string

func (c *CUIT) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = CUIT(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = CUIT(n.String())
	return nil
}

// Creditor is embedded by value in every debtor record.
type Creditor struct {
	ID          string `json:"id"`
	Name        string `json:"nombre"`
	LegalName   string `json:"nombreEmpresa"`
	Bank        string `json:"banco"`
	BankShort   string `json:"nombreCortoBanco"`
	CUIT        CUIT   `json:"cuit"`
	Account     string `json:"numeroCuenta"`
	Alias       string `json:"alias"`
	CBU         string `json:"CBU"`
	Holder      string `json:"titular,omitempty"`
	AccountType string `json:"tipoCuenta,omitempty"`
}

var catalog = []Creditor{
	{
		ID:        "ceferino",
		Name:      "CEFERINO",
		LegalName: "CREDIPLAT S.A.",
		Bank:      BankBBVA,
		BankShort: "BBVA",
		CUIT:      "30-71151720-7",
		Account:   "2000003038200",
		Alias:     "FRANCESCREDIPLAT",
		CBU:       "0170356420000030382008",
	},
	{
		ID:          "sanjorge",
		Name:        "SAN JORGE",
		LegalName:   "ADELANTOS PAY S.A.",
		Bank:        BankIndustrial,
		BankShort:   "INDUSTRIAL",
		CUIT:        "30718438906",
		Account:     "1-5020320/1",
		Alias:       "ADELANTOSPAY",
		CBU:         "3220001805050203200010",
		Holder:      "ADELANTOS PAY S.A.",
		AccountType: "CUENTA CORRIENTE",
	},
	{
		ID:        "ixpay",
		Name:      "IXPAY",
		LegalName: "EDICIONES TALAR",
		Bank:      BankSantander,
		BankShort: "SANTANDER",
		CUIT:      "30-70912863-5",
		Account:   "429-016358/3",
		Alias:     "TRAPO.CLARIN.BATA",
		CBU:       "0720429020000001635836",
	},
	{
		ID:        "11dejulio",
		Name:      "ONCE DE JULIO",
		LegalName: "EDUCAX S.A.",
		Bank:      BankPatagonia,
		BankShort: "PATAGONIA",
		CUIT:      "30-71810511-7",
		Account:   "010-100766315-000",
		Alias:     "CALCULAR.SUMAN.ABACO",
		CBU:       "0340010400100766315009",
	},
}

// All returns a copy of the catalog in its fixed order.
func All() []Creditor {
	out := make([]Creditor, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a creditor by id.
func Lookup(id string) (Creditor, bool) {
	for _, c := range catalog {
		if c.ID == id {
			return c, true
		}
	}
	return Creditor{}, false
}

// Match says how a placer name was resolved.
type Match int

const (
	MatchExact Match = iota
	MatchFuzzy
	MatchDefault
)

func (m Match) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchFuzzy:
		return "fuzzy"
	default:
		return "default"
	}
}

// fuzzyRatio is the maximum edit distance, relative to the longer string,
// for a fuzzy match.
const fuzzyRatio = 0.4

// Resolve maps a free-text placer name to a catalog creditor. A name that
// contains a creditor id, or is contained in one, matches exactly. Otherwise
// the closest id or name by edit distance wins if it is close enough, and
// failing that the first catalog entry is used.
func Resolve(placer string) (Creditor, Match) {
	norm := strings.ToUpper(strings.TrimSpace(placer))
	if norm == "" {
		return catalog[0], MatchDefault
	}
	squashed := strings.ReplaceAll(norm, " ", "")
	for _, c := range catalog {
		id := strings.ToUpper(c.ID)
		if strings.Contains(id, squashed) || strings.Contains(squashed, id) {
			return c, MatchExact
		}
	}

	best, bestRatio := -1, 1.0
	for i, c := range catalog {
		for _, cand := range []string{strings.ToUpper(c.ID), c.Name} {
			if r := distanceRatio(squashed, strings.ReplaceAll(cand, " ", "")); r < bestRatio {
				best, bestRatio = i, r
			}
		}
	}
	if best >= 0 && bestRatio < fuzzyRatio {
		return catalog[best], MatchFuzzy
	}
	return catalog[0], MatchDefault
}

func distanceRatio(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
}
