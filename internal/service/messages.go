package service

import (
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jask/debtdesk/internal/database/repository"
)

// Template placeholders.
const (
	VarDebtorName     = "[DEUDOR_NOMBRE]"
	VarDebtorTaxID    = "[DEUDOR_CUIL]"
	VarCreditNumber   = "[NUMERO_CREDITO]"
	VarCurrentDebt    = "[DEUDA_ACTUAL]"
	VarSettlementDebt = "[DEUDA_CANCELATORIA]"
	VarDueDate        = "[PLAZO_VENCIMIENTO]"
	VarBank           = "[ACREEDOR_BANCO]"
	VarLegalName      = "[ACREEDOR_NOMBRE_EMPRESA]"
	VarCUIT           = "[ACREEDOR_CUIT]"
	VarAccount        = "[ACREEDOR_CUENTA]"
	VarCBU            = "[ACREEDOR_CBU]"
	VarAlias          = "[ACREEDOR_ALIAS]"
	VarAccountType    = "[ACREEDOR_TIPO_CUENTA]"
)

var templateVars = []string{
	VarDebtorName, VarDebtorTaxID, VarCreditNumber, VarCurrentDebt, VarSettlementDebt, VarDueDate,
	VarBank, VarLegalName, VarCUIT, VarAccount, VarCBU, VarAlias, VarAccountType,
}

// RenderedMessage is a template filled in for one debtor.
type RenderedMessage struct {
	Subject string
	Body    string
	Bcc     []string
}

// RenderTemplate fills every placeholder of tpl's subject and body with the
// data of d. The due date is the day after now.
func RenderTemplate(tpl repository.Template, d repository.Debtor, now time.Time) RenderedMessage {
	accountType := "<br>"
	if d.Creditor.AccountType != "" {
		accountType = "TIPO DE CUENTA: " + d.Creditor.AccountType + "<br><br>"
	}
	r := strings.NewReplacer(
		VarDebtorName, d.Name,
		VarDebtorTaxID, FormatTaxID(d.TaxID),
		VarCreditNumber, d.CreditNumber,
		VarCurrentDebt, FormatARS(d.CurrentDebt),
		VarSettlementDebt, FormatARS(d.SettlementDebt),
		VarDueDate, now.AddDate(0, 0, 1).Format("02/01/2006"),
		VarBank, d.Creditor.Bank,
		VarLegalName, d.Creditor.LegalName,
		VarCUIT, string(d.Creditor.CUIT),
		VarAccount, d.Creditor.Account,
		VarCBU, d.Creditor.CBU,
		VarAlias, d.Creditor.Alias,
		VarAccountType, accountType,
	)
	return RenderedMessage{
		Subject: r.Replace(tpl.Subject),
		Body:    r.Replace(tpl.Body),
		Bcc:     tpl.Bcc,
	}
}

// FormatARS renders an amount the es-AR way: "$ 1.234,56".
func FormatARS(v float64) string {
	s := decimal.NewFromFloat(v).StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString("$ ")
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	b.WriteByte(',')
	b.WriteString(frac)
	return b.String()
}

// VariableReport lists the placeholders found in a template body.
type VariableReport struct {
	Valid   []string
	Invalid []string
	// Total counts every occurrence, repeats included.
	Total int
}

var variableRe = regexp.MustCompile(`\[([A-Z_]+)\]`)

func ValidateTemplateVariables(body string) VariableReport {
	var rep VariableReport
	seen := map[string]bool{}
	for _, v := range variableRe.FindAllString(body, -1) {
		rep.Total++
		if seen[v] {
			continue
		}
		seen[v] = true
		if slices.Contains(templateVars, v) {
			rep.Valid = append(rep.Valid, v)
		} else {
			rep.Invalid = append(rep.Invalid, v)
		}
	}
	return rep
}

var slugSep = regexp.MustCompile(`[^a-z0-9]+`)

// TemplateSlug turns a template name into a lowercase ASCII slug, folding
// accents: "Notificación 123!" becomes "notificacion-123".
func TemplateSlug(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	return strings.Trim(slugSep.ReplaceAllString(strings.ToLower(folded), "-"), "-")
}
