package repository

import (
	"context"
)

// DefaultTemplateName names the collection notice seeded into new databases.
const DefaultTemplateName = "Aviso de deuda"

// DefaultTemplateBody is the stock collection notice.
const DefaultTemplateBody = `Buen Día, <strong>[DEUDOR_NOMBRE], CUIL: [DEUDOR_CUIL]</strong>.<br><br>

Nos comunicamos desde <em>Estudio Jurídico Barrena</em>. Informamos que la empresa <strong>ADELANTOS.COM</strong> reclama saldos vencidos por su préstamo N° <strong>[NUMERO_CREDITO]</strong>.<br><br>

Usted tiene cuotas pendientes de pago por un total de <strong>[DEUDA_ACTUAL]</strong>.<br><br>

Si desea cancelar debe abonar un total de <strong>[DEUDA_CANCELATORIA]</strong>.<br><br>

Plazo para registrar el pago <strong>[PLAZO_VENCIMIENTO]</strong>.<br><br>

<em><strong>Le recomendamos regularizar a la brevedad para evitar que siga sumando intereses por atraso de pago.</strong></em><br><br>

Puede registrar el pago del saldo de sus cuotas vencidas ingresando a su cuenta en nuestra página web: <strong><a href="www.adelantos.com.ar">www.adelantos.com.ar</a></strong><br><br>

También puede registrar el pago a través de depósito o transferencia bancaria a la cuenta de la empresa.<br><br>

<u><strong>DATOS BANCARIOS:</strong></u><br>
BANCO: [ACREEDOR_BANCO]<br>
EMPRESA: [ACREEDOR_NOMBRE_EMPRESA]<br>
CUIT: [ACREEDOR_CUIT]<br>
N° CUENTA: [ACREEDOR_CUENTA]<br>
<strong>CBU: [ACREEDOR_CBU]</strong><br>
ALIAS: [ACREEDOR_ALIAS]<br>
[ACREEDOR_TIPO_CUENTA]

*Una vez que tenga el comprobante nos lo envía por este medio o al siguiente chat de WhatsApp: <strong><a href="https://wa.me/+5491173561406">https://wa.me/+5491173561406</a></strong><br><br>

Esperamos su respuesta.<br><br>

Muchas Gracias.<br><br>
Saludos.`

// SeedDefaults inserts the stock notice when no template exists yet.
// It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, templates *TemplateRepo) error {
	n, err := templates.Count(ctx)
	if err != nil || n > 0 {
		return err
	}
	_, err = templates.Create(ctx, Template{
		Name:    DefaultTemplateName,
		Subject: "Préstamo N° [NUMERO_CREDITO] - saldo vencido",
		Body:    DefaultTemplateBody,
	})
	return err
}
