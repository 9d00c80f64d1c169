package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/jask/debtdesk/internal/database"
	"github.com/jask/debtdesk/internal/database/repository"
	"github.com/jask/debtdesk/internal/gestiones"
	"github.com/jask/debtdesk/internal/observability"
	"github.com/jask/debtdesk/internal/testdata"
)

var remoteTS = time.Date(2025, 6, 1, 15, 4, 5, 0, time.UTC)

// fakeSource knows a state for every credit and fails the calls listed in
// failOn (1-based call numbers). notes overrides the remote notes per credit.
type fakeSource struct {
	mu      sync.Mutex
	calls   int
	sizes   []int
	failOn  map[int]bool
	unknown map[string]bool
	notes   map[string]string
}

func (f *fakeSource) BatchStatus(_ context.Context, credits []string) (map[string]*gestiones.EstadoCredito, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sizes = append(f.sizes, len(credits))
	if f.failOn[f.calls] {
		return nil, errors.New("remote down")
	}
	out := make(map[string]*gestiones.EstadoCredito, len(credits))
	for _, c := range credits {
		if f.unknown[c] {
			out[c] = nil
			continue
		}
		notas := "nota " + c
		if n, ok := f.notes[c]; ok {
			notas = n
		}
		out[c] = &gestiones.EstadoCredito{Estado: gestiones.EstadoContactado, Timestamp: remoteTS, Notas: notas}
	}
	return out, nil
}

func creditRecords(n int) []repository.Debtor {
	out := make([]repository.Debtor, n)
	for i := range out {
		out[i] = repository.Debtor{CreditNumber: fmt.Sprintf("%d", i)}
	}
	return out
}

func TestEnrichBatchesSequentially(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	r := &Reconciler{Source: src}

	var progress []ReconcileProgress
	out := r.Enrich(context.Background(), creditRecords(25000), func(p ReconcileProgress) {
		progress = append(progress, p)
	})
	require.Len(t, out, 25000)
	require.Equal(t, []int{10000, 10000, 5000}, src.sizes)
	require.Equal(t, []ReconcileProgress{
		{ProcessedCount: 10000, TotalCount: 25000, CurrentBatch: 1, TotalBatches: 3, Percentage: 33},
		{ProcessedCount: 20000, TotalCount: 25000, CurrentBatch: 2, TotalBatches: 3, Percentage: 67},
		{ProcessedCount: 25000, TotalCount: 25000, CurrentBatch: 3, TotalBatches: 3, Percentage: 100},
	}, progress)
}

func TestEnrichFailsOpen(t *testing.T) {
	t.Parallel()
	src := &fakeSource{failOn: map[int]bool{2: true}}
	m := observability.NewMetrics()
	r := &Reconciler{Source: src, Config: ReconcileConfig{BatchSize: 10}, Metrics: m}

	in := creditRecords(30)
	orig := creditRecords(30)
	var last ReconcileProgress
	out := r.Enrich(context.Background(), in, func(p ReconcileProgress) { last = p })

	require.Empty(t, cmp.Diff(orig, in), "input must not change")
	for i, d := range out {
		if i >= 10 && i < 20 {
			require.Equal(t, in[i], d, "record %d passes through", i)
			continue
		}
		require.Equal(t, repository.StatusContacted, d.Status)
		require.True(t, remoteTS.Equal(*d.StatusAt))
		require.Equal(t, "nota "+d.CreditNumber, d.Notes)
	}
	require.Equal(t, 1, last.FailedBatches)
	require.Equal(t, 3, last.CurrentBatch)
	require.Equal(t, 3, src.calls)
	require.Equal(t, 2.0, m.Batches("ok"))
	require.Equal(t, 1.0, m.Batches("failed"))
}

func TestEnrichRetriesWhenConfigured(t *testing.T) {
	t.Parallel()
	src := &fakeSource{failOn: map[int]bool{1: true}}
	r := &Reconciler{Source: src, Config: ReconcileConfig{MaxAttemptsPerBatch: 2, InitialBackoff: time.Millisecond}}
	out := r.Enrich(context.Background(), creditRecords(3), nil)
	require.Equal(t, 2, src.calls)
	require.Equal(t, repository.StatusContacted, out[0].Status)
}

func TestEnrichSharesCreditNumbers(t *testing.T) {
	t.Parallel()
	src := &fakeSource{unknown: map[string]bool{"2": true}}
	r := &Reconciler{Source: src}
	in := []repository.Debtor{{CreditNumber: "1"}, {CreditNumber: "1"}, {CreditNumber: "2"}}
	out := r.Enrich(context.Background(), in, nil)
	require.Equal(t, []int{2}, src.sizes)
	require.Equal(t, repository.StatusContacted, out[0].Status)
	require.Equal(t, repository.StatusContacted, out[1].Status)
	require.Empty(t, out[2].Status)
	require.Nil(t, r.Enrich(context.Background(), nil, nil))
}

func newStore(t *testing.T) *database.Store {
	t.Helper()
	s, err := database.Open(context.Background(), database.Options{
		Path:        filepath.Join(t.TempDir(), "service.db"),
		BusyTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestResyncPersistsStates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	debtors := repository.NewDebtorRepo(store)
	c, err := testdata.Seed(ctx, testdata.Repos{
		Collections: repository.NewCollectionRepo(store),
		Debtors:     debtors,
		Templates:   repository.NewTemplateRepo(store),
	}, 40, 3)
	require.NoError(t, err)

	src := &fakeSource{failOn: map[int]bool{2: true}}
	r := &Reconciler{Source: src, Debtors: debtors, Config: ReconcileConfig{BatchSize: 15}}
	res, err := r.Resync(ctx, c.ID, nil)
	require.NoError(t, err)
	require.Equal(t, ResyncResult{Credits: 40, Matched: 25, Updated: 25, FailedBatches: 1}, res)

	stored, err := debtors.ListByCollection(ctx, c.ID)
	require.NoError(t, err)
	updated := 0
	for _, d := range stored {
		if d.Status == repository.StatusContacted {
			updated++
			require.Equal(t, "nota "+d.CreditNumber, d.Notes)
		}
	}
	require.Equal(t, 25, updated)

	_, err = r.Resync(ctx, "missing", nil)
	require.ErrorIs(t, err, repository.ErrNotFound)
}
