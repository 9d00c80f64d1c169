package gestiones

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	gestiones map[string]Gestion
	estados   map[string]*EstadoCredito
	lastAuth  atomic.Value
	batches   atomic.Int32
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{gestiones: map[string]Gestion{}, estados: map[string]*EstadoCredito{}}
	r := chi.NewRouter()
	r.Route("/gestiones", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			api.lastAuth.Store(req.Header.Get("Authorization"))
			var dto CreateGestionDto
			if err := json.NewDecoder(req.Body).Decode(&dto); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
			g := Gestion{ID: "g-1", Cuil: dto.Cuil, NroCredito: dto.NroCredito, Estado: dto.Estado, Notas: dto.Notas,
				Timestamp: now, CreatedAt: now, UpdatedAt: now, SnapshotMonto: dto.Monto, SnapshotColocador: dto.Colocador}
			api.gestiones[g.ID] = g
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(g)
		})
		r.Post("/batch-status", func(w http.ResponseWriter, req *http.Request) {
			api.batches.Add(1)
			api.lastAuth.Store(req.Header.Get("Authorization"))
			var body BatchStatusRequest
			_ = json.NewDecoder(req.Body).Decode(&body)
			out := BatchStatusResponse{Estados: map[string]*EstadoCredito{}}
			for _, n := range body.NrosCredito {
				out.Estados[n] = api.estados[n]
			}
			_ = json.NewEncoder(w).Encode(out)
		})
		r.Get("/credito/{nro}", func(w http.ResponseWriter, req *http.Request) {
			var out []Gestion
			for _, g := range api.gestiones {
				if g.NroCredito == chi.URLParam(req, "nro") {
					out = append(out, g)
				}
			}
			_ = json.NewEncoder(w).Encode(out)
		})
		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			g, ok := api.gestiones[chi.URLParam(req, "id")]
			if !ok {
				http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(g)
		})
		r.Patch("/{id}", func(w http.ResponseWriter, req *http.Request) {
			g, ok := api.gestiones[chi.URLParam(req, "id")]
			if !ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			var dto UpdateGestionDto
			_ = json.NewDecoder(req.Body).Decode(&dto)
			if dto.Estado != nil {
				g.Estado = *dto.Estado
			}
			if dto.Notas != nil {
				g.Notas = *dto.Notas
			}
			api.gestiones[g.ID] = g
			_ = json.NewEncoder(w).Encode(g)
		})
		r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
			delete(api.gestiones, chi.URLParam(req, "id"))
			w.WriteHeader(http.StatusNoContent)
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return api, srv
}

func TestClientLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	api, srv := newFakeAPI(t)
	c, err := New(Options{BaseURL: srv.URL, Token: "secret"})
	require.NoError(t, err)

	monto := 1500.5
	g, err := c.Create(ctx, CreateGestionDto{Cuil: "20123456789", NroCredito: "555", Estado: EstadoContactado, Notas: "llamado", Monto: &monto})
	require.NoError(t, err)
	require.Equal(t, "g-1", g.ID)
	require.Equal(t, "Bearer secret", api.lastAuth.Load())
	require.Equal(t, 1500.5, *g.SnapshotMonto)

	hist, err := c.HistoryByCredit(ctx, "555")
	require.NoError(t, err)
	require.Len(t, hist, 1)

	estado := EstadoGestionado
	g, err = c.Update(ctx, "g-1", UpdateGestionDto{Estado: &estado})
	require.NoError(t, err)
	require.Equal(t, EstadoGestionado, g.Estado)
	require.Equal(t, "llamado", g.Notas)

	got, err := c.Get(ctx, "g-1")
	require.NoError(t, err)
	require.Equal(t, EstadoGestionado, got.Estado)

	require.NoError(t, c.Delete(ctx, "g-1"))
	_, err = c.Get(ctx, "g-1")
	require.ErrorIs(t, err, ErrNotFound)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	require.Equal(t, http.StatusNotFound, te.StatusCode)
	require.Contains(t, te.Body, "not found")
}

func TestBatchStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	api, srv := newFakeAPI(t)
	ts := time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)
	api.estados["1"] = &EstadoCredito{Estado: EstadoContactado, Timestamp: ts, Notas: "x"}
	c, err := New(Options{BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	got, err := c.BatchStatus(ctx, []string{"1", "2"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, EstadoContactado, got["1"].Estado)
	require.True(t, ts.Equal(got["1"].Timestamp))
	require.Nil(t, got["2"])
	require.Equal(t, "", api.lastAuthOrEmpty())

	_, err = c.BatchStatus(ctx, nil)
	require.ErrorIs(t, err, ErrInvalidBatch)
	_, err = c.BatchStatus(ctx, make([]string, MaxBatchCredits+1))
	require.ErrorIs(t, err, ErrInvalidBatch)
	require.EqualValues(t, 1, api.batches.Load())
}

func (a *fakeAPI) lastAuthOrEmpty() string {
	v, _ := a.lastAuth.Load().(string)
	return v
}

func TestServerErrorsAndBreaker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = c.BatchStatus(ctx, []string{"1"})
		var te *TransportError
		require.True(t, errors.As(err, &te))
		require.Equal(t, http.StatusInternalServerError, te.StatusCode)
		require.NotErrorIs(t, err, ErrNotFound)
	}

	_, err = c.BatchStatus(ctx, []string{"1"})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.EqualValues(t, 5, hits.Load())
}

func TestNewRejectsBadURL(t *testing.T) {
	t.Parallel()
	_, err := New(Options{})
	require.Error(t, err)
	_, err = New(Options{BaseURL: "ftp://example.com"})
	require.Error(t, err)
}
