package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jask/debtdesk/internal/creditors"
)

// legacyBlobV1 is a generation-1 record: a whole CSV load stored as one
// document under a fixed key.
type legacyBlobV1 struct {
	ID           string            `json:"id"`
	Deudores     []json.RawMessage `json:"deudores"`
	LoadDate     string            `json:"loadDate"`
	TotalRecords int               `json:"totalRecords"`
	FileName     string            `json:"fileName"`
}

// legacyDebtorV1 is one debtor inside a generation-1 blob.
type legacyDebtorV1 struct {
	Cuil              string              `json:"cuil"`
	Nombre            string              `json:"nombre"`
	Email             string              `json:"email"`
	Telefono          string              `json:"telefono"`
	Acreedor          *creditors.Creditor `json:"acreedor"`
	NumeroCredito     string              `json:"numeroCredito"`
	DeudaActual       float64             `json:"deudaActual"`
	DeudaCancelatoria float64             `json:"deudaCancelatoria"`
}

// foldedCollection is the generation-3 shape of one legacy blob.
type foldedCollection struct {
	ID       string
	Name     string
	FileName string
	LoadDate *time.Time
	Records  []foldedRecord
}

type foldedRecord struct {
	Cuil, Nombre, Email, Telefono string
	Acreedor                      []byte
	NroCredito                    string
	DeudaActual                   float64
	DeudaCancelatoria             float64
}

// tombstone marks a legacy value that could not be carried forward.
type tombstone struct {
	Key    string
	Index  int // -1 for the whole blob
	Reason string
}

// upgradeBlob is the total mapping from a generation-1 blob to generation 3.
// Every input yields either a collection or a tombstone, and every debtor
// inside a decodable blob yields either a record or a tombstone.
func upgradeBlob(key, payload string) (*foldedCollection, []tombstone) {
	var blob legacyBlobV1
	if err := json.Unmarshal([]byte(payload), &blob); err != nil {
		return nil, []tombstone{{Key: key, Index: -1, Reason: "undecodable blob: " + err.Error()}}
	}

	col := &foldedCollection{
		ID:       uuid.NewSHA1(uuid.NameSpaceOID, []byte("legacy-blob:"+key)).String(),
		Name:     legacyName(key, blob.FileName),
		FileName: blob.FileName,
	}
	if ts, err := time.Parse(time.RFC3339Nano, blob.LoadDate); err == nil {
		ts = ts.UTC()
		col.LoadDate = &ts
	}

	var stones []tombstone
	for i, raw := range blob.Deudores {
		var d legacyDebtorV1
		if err := json.Unmarshal(raw, &d); err != nil {
			stones = append(stones, tombstone{Key: key, Index: i, Reason: "undecodable record"})
			continue
		}
		if reason := invalidLegacyDebtor(d); reason != "" {
			stones = append(stones, tombstone{Key: key, Index: i, Reason: reason})
			continue
		}
		acreedor, _ := json.Marshal(d.Acreedor)
		col.Records = append(col.Records, foldedRecord{
			Cuil:              d.Cuil,
			Nombre:            d.Nombre,
			Email:             d.Email,
			Telefono:          d.Telefono,
			Acreedor:          acreedor,
			NroCredito:        d.NumeroCredito,
			DeudaActual:       d.DeudaActual,
			DeudaCancelatoria: d.DeudaCancelatoria,
		})
	}
	return col, stones
}

func invalidLegacyDebtor(d legacyDebtorV1) string {
	switch {
	case strings.TrimSpace(d.Cuil) == "":
		return "missing cuil"
	case strings.TrimSpace(d.NumeroCredito) == "":
		return "missing credit number"
	case d.Acreedor == nil || d.Acreedor.ID == "":
		return "missing creditor"
	case d.DeudaActual < 0 || d.DeudaCancelatoria < 0:
		return "negative debt"
	}
	return ""
}

func legacyName(key, fileName string) string {
	if fileName != "" {
		return strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}
	return key
}

// foldLegacy moves every generation-1 blob into collections and debtor
// records and drops the blob space, all in one unit. It runs on every open
// so an interrupted upgrade finishes on the next one.
func foldLegacy(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'deudores'`).Scan(&n); err != nil {
		return classify("inspect legacy space", err)
	}
	if n == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify("fold legacy", err)
	}
	if err := foldLegacyTx(ctx, tx, log); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: fold legacy blobs: %v", ErrStorageUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return classify("fold legacy commit", err)
	}
	return nil
}

func foldLegacyTx(ctx context.Context, tx *sql.Tx, log *zap.Logger) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, payload FROM deudores ORDER BY id`)
	if err != nil {
		return err
	}
	type blobRow struct{ key, payload string }
	var blobs []blobRow
	for rows.Next() {
		var b blobRow
		if err := rows.Scan(&b.key, &b.payload); err != nil {
			rows.Close()
			return err
		}
		blobs = append(blobs, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sort_order) + 1, 0) FROM collections`).Scan(&next); err != nil {
		return err
	}

	now := Now()
	transformed := 0
	var stones []tombstone
	for _, b := range blobs {
		col, ts := upgradeBlob(b.key, b.payload)
		stones = append(stones, ts...)
		if col == nil {
			continue
		}
		var loadDate any
		if col.LoadDate != nil {
			loadDate = col.LoadDate.Format(time.RFC3339Nano)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO collections (id, name, file_name, load_date, total_records, created_at, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			col.ID, col.Name, nullString(col.FileName), loadDate, len(col.Records), now.Format(time.RFC3339Nano), next); err != nil {
			return err
		}
		next++
		for _, r := range col.Records {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO debtor_records (cid, cuil, nombre, email, telefono, acreedor, nro_credito, deuda_actual, deuda_cancelatoria)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				col.ID, r.Cuil, r.Nombre, r.Email, r.Telefono, string(r.Acreedor), r.NroCredito, r.DeudaActual, r.DeudaCancelatoria); err != nil {
				return err
			}
		}
		transformed += len(col.Records)
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE deudores`); err != nil {
		return err
	}

	entries := []MigrationEntry{
		{Space: string(SpaceDebtorRecords), Action: ActionTransformed, Count: transformed, Detail: "legacy blobs folded into collections"},
		{Space: "deudores", Action: ActionDropped, Count: len(blobs)},
	}
	if len(stones) > 0 {
		entries = append(entries, MigrationEntry{Space: "deudores", Action: ActionTombstoned, Count: len(stones), Detail: describeTombstones(stones)})
	}
	for _, e := range entries {
		e.FromVersion, e.ToVersion = 2, 3
		if err := insertLog(ctx, tx, e); err != nil {
			return err
		}
	}

	log.Warn("legacy space dropped",
		zap.String("space", "deudores"), zap.Int("blobs", len(blobs)), zap.Int("records", transformed))
	for _, s := range stones {
		log.Warn("legacy value tombstoned",
			zap.String("key", s.Key), zap.Int("index", s.Index), zap.String("reason", s.Reason))
	}
	return nil
}

func describeTombstones(stones []tombstone) string {
	parts := make([]string, 0, len(stones))
	for _, s := range stones {
		if s.Index < 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", s.Key, s.Reason))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s[%d]: %s", s.Key, s.Index, s.Reason))
	}
	return strings.Join(parts, "; ")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
