package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/debtdesk/internal/creditors"
	"github.com/jask/debtdesk/internal/database/repository"
)

func TestRenderTemplate(t *testing.T) {
	t.Parallel()
	sj, _ := creditors.Lookup("sanjorge")
	d := repository.Debtor{
		TaxID:          "20123456789",
		Name:           "ANA PEREZ",
		Creditor:       sj,
		CreditNumber:   "555",
		CurrentDebt:    15000.5,
		SettlementDebt: 1234567.891,
	}
	tpl := repository.Template{
		Subject: "Préstamo N° [NUMERO_CREDITO]",
		Body:    "[DEUDOR_NOMBRE] ([DEUDOR_CUIL]) debe [DEUDA_ACTUAL], cancela con [DEUDA_CANCELATORIA] hasta [PLAZO_VENCIMIENTO]. [ACREEDOR_BANCO] / [ACREEDOR_CBU] / [ACREEDOR_CUIT]<br>[ACREEDOR_TIPO_CUENTA][DESCONOCIDA]",
		Bcc:     []string{"copia@example.com"},
	}
	now := time.Date(2025, 12, 31, 10, 0, 0, 0, time.UTC)
	msg := RenderTemplate(tpl, d, now)
	require.Equal(t, "Préstamo N° 555", msg.Subject)
	require.Equal(t, "ANA PEREZ (20-12345678-9) debe $ 15.000,50, cancela con $ 1.234.567,89 hasta 01/01/2026. "+
		"BANCO INDUSTRIAL S.A. / 3220001805050203200010 / 30718438906<br>TIPO DE CUENTA: CUENTA CORRIENTE<br><br>[DESCONOCIDA]", msg.Body)
	require.Equal(t, []string{"copia@example.com"}, msg.Bcc)

	ix, _ := creditors.Lookup("ixpay")
	d.Creditor = ix
	msg = RenderTemplate(repository.Template{Body: "[ACREEDOR_TIPO_CUENTA]"}, d, now)
	require.Equal(t, "<br>", msg.Body)
}

func TestFormatARS(t *testing.T) {
	t.Parallel()
	require.Equal(t, "$ 0,00", FormatARS(0))
	require.Equal(t, "$ 999,99", FormatARS(999.99))
	require.Equal(t, "$ 1.000,00", FormatARS(1000))
	require.Equal(t, "$ 123.456,79", FormatARS(123456.789))
	require.Equal(t, "-$ 1.500,00", FormatARS(-1500))
}

func TestValidateTemplateVariables(t *testing.T) {
	t.Parallel()
	rep := ValidateTemplateVariables("Hola [DEUDOR_NOMBRE], [DEUDOR_NOMBRE] [FOO] [ACREEDOR_CBU] [minusculas]")
	require.Equal(t, []string{"[DEUDOR_NOMBRE]", "[ACREEDOR_CBU]"}, rep.Valid)
	require.Equal(t, []string{"[FOO]"}, rep.Invalid)
	require.Equal(t, 4, rep.Total)
	require.Len(t, templateVars, 13)
}

func TestTemplateSlug(t *testing.T) {
	t.Parallel()
	require.Equal(t, "mi-plantilla-de-pago", TemplateSlug("Mi Plantilla de Pago"))
	require.Equal(t, "notificacion-123", TemplateSlug("Notificación 123!"))
	require.Equal(t, "ano-nuevo", TemplateSlug("  Año Nuevo  "))
}

func TestDefaultTemplateUsesKnownVariables(t *testing.T) {
	t.Parallel()
	rep := ValidateTemplateVariables(repository.DefaultTemplateBody)
	require.Empty(t, rep.Invalid)
	require.NotEmpty(t, rep.Valid)
}
