package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/jask/debtdesk/internal/database/repository"
	"github.com/jask/debtdesk/internal/gestiones"
	"github.com/jask/debtdesk/internal/observability"
	"github.com/jask/debtdesk/internal/resilience"
)

const (
	DefaultBatchSize = gestiones.MaxBatchCredits
	// DefaultMaxAttemptsPerBatch keeps reconciliation at one call per batch.
	DefaultMaxAttemptsPerBatch = 1
)

// StatusSource answers batch queries for the latest state of credits.
type StatusSource interface {
	BatchStatus(ctx context.Context, creditNumbers []string) (map[string]*gestiones.EstadoCredito, error)
}

type ReconcileConfig struct {
	BatchSize           int
	MaxAttemptsPerBatch int
	InitialBackoff      time.Duration
}

// ReconcileProgress is reported after every batch, failed or not.
type ReconcileProgress struct {
	ProcessedCount int
	TotalCount     int
	CurrentBatch   int
	TotalBatches   int
	Percentage     int
	FailedBatches  int
}

// Reconciler overlays remote gestion states onto local debtor records.
// Batches run one after another; a batch that fails is logged and skipped.
type Reconciler struct {
	Source  StatusSource
	Debtors *repository.DebtorRepo
	Config  ReconcileConfig
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

func (r *Reconciler) config() ReconcileConfig {
	cfg := r.Config
	if cfg.BatchSize <= 0 || cfg.BatchSize > gestiones.MaxBatchCredits {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxAttemptsPerBatch <= 0 {
		cfg.MaxAttemptsPerBatch = DefaultMaxAttemptsPerBatch
	}
	return cfg
}

func (r *Reconciler) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger.Named("reconcile")
}

// Enrich returns a copy of records with status, status time and notes taken
// from the remote source wherever it knows the credit. records itself is not
// modified. A cancelled ctx stops before the next batch and returns what was
// collected so far.
func (r *Reconciler) Enrich(ctx context.Context, records []repository.Debtor, onProgress func(ReconcileProgress)) []repository.Debtor {
	if len(records) == 0 {
		return records
	}
	statuses, _ := r.collect(ctx, distinctCredits(records), onProgress)

	out := make([]repository.Debtor, len(records))
	copy(out, records)
	for i := range out {
		st, ok := statuses[out[i].CreditNumber]
		if !ok {
			continue
		}
		out[i].Status = st.Status
		out[i].StatusAt = st.StatusAt
		out[i].Notes = st.Notes
	}
	return out
}

// ResyncResult summarizes a Resync.
type ResyncResult struct {
	Credits       int
	Matched       int
	Updated       int
	FailedBatches int
}

// Resync refreshes the stored records of collection cid from the remote
// source and persists the states it finds.
func (r *Reconciler) Resync(ctx context.Context, cid string, onProgress func(ReconcileProgress)) (ResyncResult, error) {
	records, err := r.Debtors.ListByCollection(ctx, cid)
	if err != nil {
		return ResyncResult{}, err
	}
	credits := distinctCredits(records)
	statuses, failed := r.collect(ctx, credits, onProgress)
	if err := ctx.Err(); err != nil {
		return ResyncResult{}, err
	}
	res := ResyncResult{Credits: len(credits), Matched: len(statuses), FailedBatches: failed}
	if len(statuses) == 0 {
		return res, nil
	}
	res.Updated, err = r.Debtors.ApplyStatuses(ctx, cid, statuses)
	if err != nil {
		return res, err
	}
	r.logger().Info("collection resynced",
		zap.String("cid", cid),
		zap.Int("credits", res.Credits),
		zap.Int("matched", res.Matched),
		zap.Int("updated", res.Updated),
		zap.Int("failed_batches", failed))
	return res, nil
}

// collect queries the source batch by batch and returns the known states
// keyed by credit number, plus the number of failed batches.
func (r *Reconciler) collect(ctx context.Context, credits []string, onProgress func(ReconcileProgress)) (map[string]repository.StatusUpdate, int) {
	cfg := r.config()
	log := r.logger()
	batches := chunk(credits, cfg.BatchSize)
	out := make(map[string]repository.StatusUpdate)
	failed := 0
	processed := 0
	log.Debug("reconciling", zap.Int("credits", len(credits)), zap.Int("batches", len(batches)))

	for i, batch := range batches {
		if ctx.Err() != nil {
			break
		}
		var resp map[string]*gestiones.EstadoCredito
		err := resilience.RetryWithBackoff(ctx, resilience.Config{
			MaxAttempts:    cfg.MaxAttemptsPerBatch,
			InitialBackoff: cfg.InitialBackoff,
		}, func() error {
			var err error
			resp, err = r.Source.BatchStatus(ctx, batch)
			return err
		})
		if err != nil {
			failed++
			r.Metrics.IncrBatch("failed")
			log.Warn("batch failed, continuing without it",
				zap.Int("batch", i+1),
				zap.Int("of", len(batches)),
				zap.Int("credits", len(batch)),
				zap.Error(err))
		} else {
			r.Metrics.IncrBatch("ok")
			for credit, st := range resp {
				if st == nil {
					continue
				}
				status := repository.Status(st.Estado)
				if !status.Valid() {
					log.Warn("unknown remote state", zap.String("credit", credit), zap.String("estado", string(st.Estado)))
					continue
				}
				at := st.Timestamp
				out[credit] = repository.StatusUpdate{Status: status, StatusAt: &at, Notes: repository.TruncateNotes(st.Notas)}
			}
		}

		processed += len(batch)
		if onProgress != nil {
			onProgress(ReconcileProgress{
				ProcessedCount: processed,
				TotalCount:     len(credits),
				CurrentBatch:   i + 1,
				TotalBatches:   len(batches),
				Percentage:     int(math.Round(float64(i+1) / float64(len(batches)) * 100)),
				FailedBatches:  failed,
			})
		}
	}
	return out, failed
}

func distinctCredits(records []repository.Debtor) []string {
	seen := make(map[string]struct{}, len(records))
	var out []string
	for _, d := range records {
		if _, ok := seen[d.CreditNumber]; ok {
			continue
		}
		seen[d.CreditNumber] = struct{}{}
		out = append(out, d.CreditNumber)
	}
	return out
}

func chunk(s []string, size int) [][]string {
	var out [][]string
	for len(s) > size {
		out = append(out, s[:size:size])
		s = s[size:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}
