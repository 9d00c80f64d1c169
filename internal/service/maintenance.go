package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jask/debtdesk/internal/database"
)

// MaintenanceService houses destructive actions surfaced through the CLI.
type MaintenanceService struct {
	Store *database.Store
}

// Reset wipes every collection, record and template. The schema and the
// migration log stay so the store keeps working.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.Store == nil {
		return fmt.Errorf("maintenance: store not configured")
	}
	spaces := []database.Space{database.SpaceDebtorRecords, database.SpaceCollections, database.SpaceTemplates}
	if err := s.Store.RunTransaction(ctx, spaces, database.ReadWrite, func(ctx context.Context, tx *database.Tx) error {
		for _, sp := range spaces {
			def, ok := database.Describe(sp)
			if !ok {
				return fmt.Errorf("reset %s: %w", sp, database.ErrUnknownSpace)
			}
			if _, err := tx.Exec(ctx, sp, "DELETE FROM "+def.Table); err != nil {
				return fmt.Errorf("reset %s: %w", sp, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	log := s.Store.Logger()
	log.Warn("store reset", zap.Int("spaces", len(spaces)))
	if err := s.Store.Compact(ctx); err != nil {
		log.Warn("vacuum after reset failed", zap.Error(err))
	}
	return nil
}
