package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/debtdesk/internal/database/repository"
	"github.com/jask/debtdesk/internal/gestiones"
	"github.com/jask/debtdesk/internal/testdata"
)

// testEnv points config, secrets and the database at a fresh temp dir.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("DEBTDESK_CONFIG", "")
	t.Setenv("DEBTDESK_DATABASE_PATH", filepath.Join(dir, "data", "debtdesk.db"))
	t.Setenv("DEBTDESK_LOG_LEVEL", "error")
	t.Setenv("DEBTDESK_API_TOKEN", "")
	t.Setenv("DEBTDESK_API_BASE_URL", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	defer a.teardown()
	root := newRootCmd(a)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	require.NoError(t, err, "debtdesk %s", strings.Join(args, " "))
	return out
}

func writeCSV(t *testing.T, dir string, n int) string {
	t.Helper()
	path := filepath.Join(dir, "marzo.csv")
	require.NoError(t, os.WriteFile(path, []byte(testdata.CSV(testdata.Debtors(n, 7), ',')), 0o600))
	return path
}

func listRecords(t *testing.T, cid string) []repository.Debtor {
	t.Helper()
	var recs []repository.Debtor
	require.NoError(t, json.Unmarshal([]byte(mustExecute(t, "records", "list", cid, "--json")), &recs))
	return recs
}

func TestCollectionsAndImport(t *testing.T) {
	dir := testEnv(t)

	cid := strings.TrimSpace(mustExecute(t, "collections", "create", "Marzo", "--color", "#ff0000"))
	require.NotEmpty(t, cid)

	out := mustExecute(t, "import", writeCSV(t, dir, 30), "--collection", cid, "--plain")
	require.Contains(t, out, "30 records stored")
	require.Contains(t, out, "rows 30, valid 30, invalid 0")

	out = mustExecute(t, "collections", "list")
	require.Contains(t, out, "Marzo")
	require.Contains(t, out, "marzo.csv")

	recs := listRecords(t, cid)
	require.Len(t, recs, 30)
	require.Equal(t, "100000", recs[0].CreditNumber)

	mustExecute(t, "collections", "rename", cid, "Abril")
	require.Contains(t, mustExecute(t, "collections", "list"), "Abril")

	mustExecute(t, "records", "update", cid, "100003", "--notes", "llamar el lunes")
	recs = listRecords(t, cid)
	require.Equal(t, "llamar el lunes", recs[3].Notes)

	mustExecute(t, "collections", "delete", cid)
	_, err := execute(t, "records", "list", cid)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestImportCreatesCollectionFromFileName(t *testing.T) {
	dir := testEnv(t)
	out := mustExecute(t, "import", writeCSV(t, dir, 5), "--plain")
	require.Contains(t, out, "marzo (")
	require.Contains(t, out, "5 records stored")
}

func TestTemplatesRender(t *testing.T) {
	dir := testEnv(t)
	cid := strings.TrimSpace(mustExecute(t, "collections", "create", "Marzo"))
	mustExecute(t, "import", writeCSV(t, dir, 3), "--collection", cid, "--plain")

	id := strings.TrimSpace(mustExecute(t, "templates", "create",
		"--name", "Aviso corto",
		"--subject", "Crédito [NUMERO_CREDITO]",
		"--body", "Hola [DEUDOR_NOMBRE], [OTRA]"))
	require.NotEmpty(t, id)

	out := mustExecute(t, "templates", "check", id)
	require.Contains(t, out, "[NUMERO_CREDITO]")
	require.Contains(t, out, "[OTRA]")

	out = mustExecute(t, "templates", "render", id, cid, "100001")
	require.Contains(t, out, "Subject: Crédito 100001")

	require.Contains(t, mustExecute(t, "templates", "list", "--search", "corto"), "aviso-corto")

	_, err := execute(t, "templates", "create", "--name", "aviso CORTO", "--body", "x")
	require.ErrorIs(t, err, repository.ErrConflict)
}

func TestGestionCreateMirrorsRecord(t *testing.T) {
	dir := testEnv(t)

	created := make(chan gestiones.CreateGestionDto, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/gestiones" || r.Header.Get("Authorization") != "Bearer s3cret" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		var got gestiones.CreateGestionDto
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		created <- got
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(gestiones.Gestion{
			ID:         "g-1",
			Cuil:       got.Cuil,
			NroCredito: got.NroCredito,
			Estado:     got.Estado,
			Timestamp:  time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
			Notas:      got.Notas,
		})
	}))
	t.Cleanup(srv.Close)
	t.Setenv("DEBTDESK_API_BASE_URL", srv.URL)

	mustExecute(t, "token", "set", "s3cret")
	_, err := os.Stat(filepath.Join(dir, "data", "debtdesk.db"))
	require.True(t, os.IsNotExist(err), "token commands must not open the database")

	cid := strings.TrimSpace(mustExecute(t, "collections", "create", "Marzo"))
	mustExecute(t, "import", writeCSV(t, dir, 3), "--collection", cid, "--plain")

	out := mustExecute(t, "gestion", "create", cid, "100002", "contactado", "--notes", "atendió")
	require.Contains(t, out, "gestion g-1")
	got := <-created
	require.Equal(t, "100002", got.NroCredito)
	require.Equal(t, gestiones.EstadoContactado, got.Estado)

	recs := listRecords(t, cid)
	require.Equal(t, repository.StatusContacted, recs[2].Status)
	require.Equal(t, "atendió", recs[2].Notes)
	require.Empty(t, recs[0].Status)

	mustExecute(t, "token", "clear")
	_, err = execute(t, "gestion", "create", cid, "100002", "contactado")
	require.Error(t, err)
}

func TestGestionNeedsBaseURL(t *testing.T) {
	testEnv(t)
	_, err := execute(t, "gestion", "get", "g-1")
	require.ErrorContains(t, err, "api.base_url")
}

func TestResetAndMigrationsLog(t *testing.T) {
	dir := testEnv(t)
	mustExecute(t, "import", writeCSV(t, dir, 4), "--plain")

	require.Contains(t, mustExecute(t, "migrations", "log"), "created")

	_, err := execute(t, "reset")
	require.ErrorContains(t, err, "--yes")
	require.Contains(t, mustExecute(t, "collections", "list"), "marzo")

	mustExecute(t, "reset", "--yes")
	require.Contains(t, mustExecute(t, "collections", "list"), "(none)")
}

func TestSeed(t *testing.T) {
	testEnv(t)
	out := mustExecute(t, "seed", "--rows", "12")
	require.Contains(t, out, "Muestra")
	require.Contains(t, out, "12 records")
}
