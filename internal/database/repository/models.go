package repository

import (
	"time"

	"github.com/jask/debtdesk/internal/creditors"
)

// Status is the collection-management state of a credit.
type Status string

const (
	StatusPending   Status = "pendiente"
	StatusManaged   Status = "gestionado"
	StatusContacted Status = "contactado"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusManaged, StatusContacted:
		return true
	}
	return false
}

// MaxNotesLen bounds the free-text notes stored on a record.
const MaxNotesLen = 1000

// Collection is a named, ordered group of debtor records, usually one CSV load.
type Collection struct {
	ID           string
	Name         string
	Color        *string
	FileName     *string
	LoadDate     *time.Time
	TotalRecords int
	CreatedAt    time.Time
	Order        int
}

// Debtor is one credit owed by a person. Status, StatusAt and Notes come
// from the remote status service and are empty until enriched.
type Debtor struct {
	TaxID          string             `json:"cuil"`
	Name           string             `json:"nombre"`
	Email          string             `json:"email"`
	Phone          string             `json:"telefono"`
	Creditor       creditors.Creditor `json:"acreedor"`
	CreditNumber   string             `json:"numeroCredito"`
	CurrentDebt    float64            `json:"deudaActual"`
	SettlementDebt float64            `json:"deudaCancelatoria"`
	Status         Status             `json:"estado,omitempty"`
	StatusAt       *time.Time         `json:"estadoTimestamp,omitempty"`
	Notes          string             `json:"notas,omitempty"`
}

// RecordUpdate is a partial update of one stored record. Nil fields are left
// untouched.
type RecordUpdate struct {
	Name           *string
	Email          *string
	Phone          *string
	CurrentDebt    *float64
	SettlementDebt *float64
	Status         *Status
	StatusAt       *time.Time
	Notes          *string
}

// StatusUpdate is the remote state overlaid on every record of a credit.
type StatusUpdate struct {
	Status   Status
	StatusAt *time.Time
	Notes    string
}

// Template is a reusable collection-notice message.
type Template struct {
	ID        string
	Name      string
	Subject   string
	Body      string
	Bcc       []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
