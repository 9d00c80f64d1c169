package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/jask/debtdesk/internal/database/repository"
)

// ImportService turns a debtor CSV into a stored collection.
type ImportService struct {
	Collections *repository.CollectionRepo
	Debtors     *repository.DebtorRepo
	// Reconciler enables enrichment; nil skips it even when requested.
	Reconciler *Reconciler
	Parser     ParserOptions
	Logger     *zap.Logger
}

type ImportRequest struct {
	Reader   io.Reader
	Size     int64
	FileName string
	// CollectionID replaces the records of an existing collection. When
	// empty a new collection named CollectionName (or after the file) is
	// created.
	CollectionID   string
	CollectionName string
	Color          *string
	Enrich         bool
	OnProgress     ProgressFunc
	// Parser lets the caller keep a handle for Cancel.
	Parser *Parser
}

type ImportResult struct {
	Collection *repository.Collection
	Stats      ParseStats
	Saved      int
}

// Import parses, optionally enriches, and stores the valid rows. The
// statistics are returned whenever parsing finishes, including when no row is
// valid; in that case nothing is written.
func (s *ImportService) Import(ctx context.Context, req ImportRequest) (ImportResult, error) {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("import")

	p := req.Parser
	if p == nil {
		var err error
		if p, err = NewParser(s.Parser); err != nil {
			return ImportResult{}, err
		}
	}

	var enrich enrichFunc
	if req.Enrich && s.Reconciler != nil {
		enrich = s.enrich
	}
	parsed, err := p.run(ctx, req.Reader, req.Size, req.OnProgress, enrich)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Stats: parsed.Stats}
	if len(parsed.Records) == 0 {
		log.Warn("no valid rows, nothing stored", zap.String("file", req.FileName), zap.Int("rows", parsed.Stats.TotalRows))
		return res, nil
	}

	stored, err := s.store(ctx, req, parsed.Records)
	if err != nil {
		return res, err
	}
	res.Collection = &stored
	res.Saved = len(parsed.Records)
	log.Info("import stored",
		zap.String("cid", stored.ID),
		zap.String("file", req.FileName),
		zap.Int("valid", parsed.Stats.ValidRows),
		zap.Int("invalid", parsed.Stats.InvalidRows))
	return res, nil
}

// store replaces the records of req.CollectionID, or creates the new
// collection together with its records.
func (s *ImportService) store(ctx context.Context, req ImportRequest, records []repository.Debtor) (repository.Collection, error) {
	if req.CollectionID != "" {
		if err := s.Debtors.SaveRecords(ctx, req.CollectionID, records, req.FileName); err != nil {
			return repository.Collection{}, fmt.Errorf("save records: %w", err)
		}
		return s.Collections.Get(ctx, req.CollectionID)
	}
	c, err := s.Debtors.CreateWithRecords(ctx, collectionName(req), req.Color, records, req.FileName)
	if err != nil {
		return repository.Collection{}, fmt.Errorf("save records: %w", err)
	}
	return c, nil
}

func collectionName(req ImportRequest) string {
	name := strings.TrimSpace(req.CollectionName)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(req.FileName), filepath.Ext(req.FileName))
	}
	if name == "" || name == "." {
		name = "Importación"
	}
	return name
}

func (s *ImportService) enrich(ctx context.Context, records []repository.Debtor, stats ParseStats, onProgress ProgressFunc) []repository.Debtor {
	return s.Reconciler.Enrich(ctx, records, func(pr ReconcileProgress) {
		if onProgress == nil {
			return
		}
		snap := stats.snapshot()
		snap.IsComplete = false
		snap.Progress = pr.Percentage
		snap.SyncMessage = SyncMessage(pr)
		onProgress(snap)
	})
}

// SyncMessage describes reconciliation progress for display.
func SyncMessage(pr ReconcileProgress) string {
	if pr.TotalBatches > 1 {
		return fmt.Sprintf("Sincronizando batch %d de %d", pr.CurrentBatch, pr.TotalBatches)
	}
	return "Sincronizando estados con el servidor"
}
