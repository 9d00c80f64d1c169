package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// FoldName is the comparison key of a template name: trimmed, NFC and
// Unicode case-folded, so "NOTIFICACIÓN" and "notificación" collide.
func FoldName(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// backfillNameFold fills name_fold for templates written before generation 5.
func backfillNameFold(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	rows, err := db.QueryContext(ctx, `SELECT id, name FROM templates WHERE name_fold = ''`)
	if err != nil {
		return classify("inspect template names", err)
	}
	pending := map[string]string{}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			_ = rows.Close()
			return err
		}
		pending[id] = FoldName(name)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify("fold template names", err)
	}
	for id, fold := range pending {
		if _, err := tx.ExecContext(ctx, `UPDATE templates SET name_fold = ? WHERE id = ?`, fold, id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: fold template names: %v", ErrStorageUnavailable, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classify("fold template names commit", err)
	}
	log.Info("template names folded", zap.Int("templates", len(pending)))
	return nil
}
