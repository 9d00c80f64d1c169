package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// SchemaVersion is the generation this build reads and writes.
const SchemaVersion = 5

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration log actions.
const (
	ActionCreated     = "created"
	ActionDropped     = "dropped"
	ActionTransformed = "transformed"
	ActionTombstoned  = "tombstoned"
)

// MigrationEntry is one row of the structured migration log.
type MigrationEntry struct {
	ID          int64
	FromVersion int
	ToVersion   int
	Space       string
	Action      string
	Count       int
	Detail      string
	At          time.Time
}

// steps lists what each generation does to the record spaces, in the order
// it is written to the log.
var steps = map[int][]MigrationEntry{
	1: {
		{Space: "deudores", Action: ActionCreated, Detail: "legacy blob space"},
		{Space: "migration_log", Action: ActionCreated},
	},
	2: {
		{Space: string(SpaceTemplates), Action: ActionCreated, Detail: "indexes: name, createdAt"},
	},
	3: {
		{Space: string(SpaceCollections), Action: ActionCreated, Detail: "index: order"},
		{Space: string(SpaceDebtorRecords), Action: ActionCreated, Detail: "index: cid"},
	},
	4: {
		{Space: string(SpaceTemplates), Action: ActionTransformed, Detail: "added subject, bcc"},
		{Space: string(SpaceDebtorRecords), Action: ActionTransformed, Detail: "index: cid_credit"},
	},
	5: {
		{Space: string(SpaceTemplates), Action: ActionTransformed, Detail: "added name_fold, index: name on name_fold"},
	},
}

func newMigrator(path string, busy time.Duration) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("sqlite3://%s?_busy_timeout=%d&_foreign_keys=on", path, busy.Milliseconds())
	return migrate.NewWithSourceInstance("iofs", src, url)
}

// Migrate brings the database at path to generation `to`, one generation at
// a time, and returns the version it started from. db is used for the
// record-shape transforms and log writes; golang-migrate runs the DDL on its
// own connection.
func Migrate(ctx context.Context, db *sql.DB, path string, busy time.Duration, to int, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if to < 1 || to > SchemaVersion {
		return 0, fmt.Errorf("migrate: target %d outside 1..%d", to, SchemaVersion)
	}
	m, err := newMigrator(path, busy)
	if err != nil {
		return 0, classify("migrate init", err)
	}
	defer m.Close()

	cur, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		cur = 0
	case err != nil:
		return 0, classify("migrate version", err)
	}
	from := int(cur)
	if dirty {
		return from, fmt.Errorf("%w: schema %d is dirty", ErrStorageUnavailable, from)
	}
	if from > SchemaVersion {
		return from, fmt.Errorf("%w: schema %d is newer than %d", ErrStorageUnavailable, from, SchemaVersion)
	}

	for v := from + 1; v <= to; v++ {
		start := time.Now()
		if err := m.Migrate(uint(v)); err != nil {
			err = classify(fmt.Sprintf("migrate %d->%d", v-1, v), err)
			if errors.Is(err, ErrStorageBlocked) {
				return from, err
			}
			return from, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if err := writeStepLog(ctx, db, v, log); err != nil {
			return from, err
		}
		log.Info("schema migrated",
			zap.Int("from", v-1), zap.Int("to", v), zap.Duration("took", time.Since(start)))
	}
	if to >= 3 {
		if err := foldLegacy(ctx, db, log); err != nil {
			return from, err
		}
	}
	if to >= 5 {
		if err := backfillNameFold(ctx, db, log); err != nil {
			return from, err
		}
	}
	return from, nil
}

func migrateDB(ctx context.Context, db *sql.DB, path string, busy time.Duration, log *zap.Logger) (int, error) {
	if _, err := Migrate(ctx, db, path, busy, SchemaVersion, log); err != nil {
		return 0, err
	}
	return SchemaVersion, nil
}

func writeStepLog(ctx context.Context, db *sql.DB, version int, log *zap.Logger) error {
	entries := steps[version]
	if len(entries) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify("migration log", err)
	}
	for _, e := range entries {
		e.FromVersion, e.ToVersion = version-1, version
		if err := insertLog(ctx, tx, e); err != nil {
			_ = tx.Rollback()
			return err
		}
		log.Debug("migration step", zap.Int("to", version), zap.String("space", e.Space), zap.String("action", e.Action))
	}
	return tx.Commit()
}

func insertLog(ctx context.Context, tx *sql.Tx, e MigrationEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO migration_log (from_version, to_version, space, action, count, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.FromVersion, e.ToVersion, e.Space, e.Action, e.Count, e.Detail, Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write migration log: %w", err)
	}
	return nil
}

// MigrationLog returns every structured migration entry, oldest first.
func (s *Store) MigrationLog(ctx context.Context) ([]MigrationEntry, error) {
	db, err := s.Open(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, from_version, to_version, space, action, count, detail, at
		FROM migration_log ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MigrationEntry
	for rows.Next() {
		var e MigrationEntry
		var at string
		if err := rows.Scan(&e.ID, &e.FromVersion, &e.ToVersion, &e.Space, &e.Action, &e.Count, &e.Detail, &at); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}
