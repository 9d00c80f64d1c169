package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Field labels used in row errors.
const (
	FieldTaxID          = "CUIL"
	FieldName           = "TITULAR"
	FieldEmail          = "MAIL"
	FieldPhone          = "TELEFONO"
	FieldPlacer         = "COLOCADOR"
	FieldCurrentDebt    = "DEUDA ACTUAL"
	FieldSettlementDebt = "DEUDA CANCELATORIA"
	FieldCreditNumber   = "N° DE CRÉDITO"
	FieldGeneral        = "GENERAL"
)

// csvColumns maps column position to field. Files carry no header row.
var csvColumns = [...]string{
	FieldTaxID,
	FieldName,
	FieldEmail,
	FieldPhone,
	FieldPlacer,
	FieldCurrentDebt,
	FieldSettlementDebt,
	FieldCreditNumber,
}

// fieldCheck validates a non-empty trimmed value and returns a message, or ""
// when the value is fine.
type fieldCheck func(v string) string

var requiredFields = map[string]fieldCheck{
	FieldTaxID: func(v string) string {
		if !ValidateTaxID(v) {
			return "CUIL debe tener 11 dígitos"
		}
		return ""
	},
	FieldName: noCheck,
	FieldEmail: func(v string) string {
		if !ValidateEmail(v) {
			return "Email no tiene formato válido"
		}
		return ""
	},
	FieldPhone: func(v string) string {
		if !ValidatePhone(v) {
			return "Teléfono debe tener al menos 8 dígitos"
		}
		return ""
	},
	FieldPlacer: noCheck,
	FieldCurrentDebt: func(v string) string {
		if ParseAmount(v) <= 0 {
			return "Deuda actual debe ser un número positivo"
		}
		return ""
	},
	FieldSettlementDebt: func(v string) string {
		if ParseAmount(v) <= 0 {
			return "Deuda cancelatoria debe ser un número positivo"
		}
		return ""
	},
	FieldCreditNumber: func(v string) string {
		if onlyDigits(v) == "" {
			return "Número de crédito debe contener dígitos"
		}
		return ""
	},
}

func noCheck(string) string { return "" }

// checkColumns verifies the column table and the validator agree on the
// required fields.
func checkColumns() error {
	if len(csvColumns) != len(requiredFields) {
		return fmt.Errorf("csv: %d columns but %d required fields", len(csvColumns), len(requiredFields))
	}
	for i, f := range csvColumns {
		if _, ok := requiredFields[f]; !ok {
			return fmt.Errorf("csv: column %d (%s) has no validator", i, f)
		}
	}
	return nil
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidateTaxID reports whether s has exactly 11 digits once everything else
// is stripped.
func ValidateTaxID(s string) bool {
	return len(onlyDigits(s)) == 11
}

func ValidateEmail(s string) bool {
	return emailRe.MatchString(s)
}

// ValidatePhone reports whether s carries at least 8 digits.
func ValidatePhone(s string) bool {
	return len(onlyDigits(s)) >= 8
}

// FormatTaxID renders an 11-digit CUIL as XX-XXXXXXXX-X. Anything else is
// returned unchanged.
func FormatTaxID(s string) string {
	d := onlyDigits(s)
	if len(d) != 11 {
		return s
	}
	return d[:2] + "-" + d[2:10] + "-" + d[10:]
}

// ParseAmount reads a locale-formatted currency string such as "$ 1.234,56",
// "1,234.56" or "1234.56". Symbols and spaces are dropped. When both ',' and
// '.' appear the last one is the decimal mark. A single separator kind is a
// thousands mark when it repeats or is followed by exactly three digits after
// a non-zero integer part. Unparseable input yields 0.
func ParseAmount(s string) float64 {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		return 0
	}

	lastComma := strings.LastIndexByte(clean, ',')
	lastDot := strings.LastIndexByte(clean, '.')
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case lastComma >= 0:
		clean = normalizeSeparator(clean, ",")
	case lastDot >= 0:
		clean = normalizeSeparator(clean, ".")
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// normalizeSeparator rewrites s, which contains only sep as separator, into
// plain decimal notation.
func normalizeSeparator(s, sep string) string {
	parts := strings.Split(s, sep)
	if len(parts) > 2 {
		return strings.Join(parts, "")
	}
	intPart, frac := parts[0], parts[1]
	digits := strings.TrimLeft(intPart, "-")
	if len(frac) == 3 && digits != "" && !strings.HasPrefix(digits, "0") {
		return intPart + frac
	}
	return intPart + "." + frac
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
