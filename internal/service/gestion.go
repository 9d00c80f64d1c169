package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jask/debtdesk/internal/database/repository"
	"github.com/jask/debtdesk/internal/gestiones"
)

// GestionCreator stores a gestion remotely.
type GestionCreator interface {
	Create(ctx context.Context, dto gestiones.CreateGestionDto) (gestiones.Gestion, error)
}

// GestionService records collection activity on the remote API and mirrors
// it onto the local debtor record.
type GestionService struct {
	Remote  GestionCreator
	Debtors *repository.DebtorRepo
	Logger  *zap.Logger
}

// Record creates a gestion for the debtor carrying creditNumber in cid. The
// local record is only touched once the remote call succeeded.
func (s *GestionService) Record(ctx context.Context, cid, creditNumber string, estado repository.Status, notes string) (gestiones.Gestion, repository.Debtor, error) {
	if !estado.Valid() {
		return gestiones.Gestion{}, repository.Debtor{}, &repository.ValidationError{
			Errors: []repository.FieldError{{Field: "estado", Message: fmt.Sprintf("unknown state %q", estado)}},
		}
	}
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) > repository.MaxNotesLen {
		return gestiones.Gestion{}, repository.Debtor{}, &repository.ValidationError{
			Errors: []repository.FieldError{{Field: "notas", Message: fmt.Sprintf("longer than %d characters", repository.MaxNotesLen)}},
		}
	}
	d, err := s.Debtors.FindByCredit(ctx, cid, creditNumber)
	if err != nil {
		return gestiones.Gestion{}, repository.Debtor{}, err
	}

	monto := d.CurrentDebt
	g, err := s.Remote.Create(ctx, gestiones.CreateGestionDto{
		Cuil:       d.TaxID,
		NroCredito: d.CreditNumber,
		Estado:     gestiones.Estado(estado),
		Notas:      notes,
		Monto:      &monto,
		Colocador:  d.Creditor.Name,
	})
	if err != nil {
		return gestiones.Gestion{}, repository.Debtor{}, err
	}

	at := g.Timestamp
	updated, err := s.Debtors.UpdateRecord(ctx, cid, creditNumber, repository.RecordUpdate{
		Status:   &estado,
		StatusAt: &at,
		Notes:    &notes,
	})
	if err != nil {
		return g, repository.Debtor{}, fmt.Errorf("mirror gestion %s locally: %w", g.ID, err)
	}
	if s.Logger != nil {
		s.Logger.Info("gestion recorded", zap.String("cid", cid), zap.String("credit", creditNumber), zap.String("gestion", g.ID))
	}
	return g, updated, nil
}
