// Package gestiones is the client for the remote collection-activity API,
// which stores one "gestion" per contact made about a credit and answers
// batch queries for the latest state of many credits at once.
package gestiones

import "time"

// Estado is the state of a gestion.
type Estado string

const (
	EstadoPendiente  Estado = "pendiente"
	EstadoGestionado Estado = "gestionado"
	EstadoContactado Estado = "contactado"
)

// MaxBatchCredits is the largest batch-status request the API accepts.
const MaxBatchCredits = 10000

// Gestion is a stored collection activity.
type Gestion struct {
	ID                string     `json:"id"`
	Cuil              string     `json:"cuil"`
	NroCredito        string     `json:"nroCredito"`
	Estado            Estado     `json:"estado"`
	Timestamp         time.Time  `json:"timestamp"`
	Notas             string     `json:"notas,omitempty"`
	SnapshotMonto     *float64   `json:"snapshotMonto,omitempty"`
	SnapshotColocador string     `json:"snapshotColocador,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	DeletedAt         *time.Time `json:"deletedAt"`
}

type CreateGestionDto struct {
	Cuil       string   `json:"cuil"`
	NroCredito string   `json:"nroCredito"`
	Estado     Estado   `json:"estado"`
	Notas      string   `json:"notas,omitempty"`
	Monto      *float64 `json:"monto,omitempty"`
	Colocador  string   `json:"colocador,omitempty"`
}

type UpdateGestionDto struct {
	Estado *Estado `json:"estado,omitempty"`
	Notas  *string `json:"notas,omitempty"`
}

type BatchStatusRequest struct {
	NrosCredito []string `json:"nrosCredito"`
}

// EstadoCredito is the latest state of one credit.
type EstadoCredito struct {
	Estado    Estado    `json:"estado"`
	Timestamp time.Time `json:"timestamp"`
	Notas     string    `json:"notas,omitempty"`
}

// BatchStatusResponse maps credit numbers to their latest state; credits
// without any gestion map to nil.
type BatchStatusResponse struct {
	Estados map[string]*EstadoCredito `json:"estados"`
}
