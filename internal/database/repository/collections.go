package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jask/debtdesk/internal/database"
)

const collectionColumns = `id, name, color, file_name, load_date, total_records, created_at, sort_order`

// CollectionRepo handles collections.
type CollectionRepo struct {
	store *database.Store
	log   *zap.Logger
}

func NewCollectionRepo(store *database.Store) *CollectionRepo {
	return &CollectionRepo{store: store, log: store.Logger().Named("collections")}
}

// Create appends a new, empty collection after the last one. The next order
// is read and the row inserted in one write transaction, so concurrent
// creates cannot hand out the same order.
func (r *CollectionRepo) Create(ctx context.Context, name string, color *string) (Collection, error) {
	c, err := newCollection(name, color)
	if err != nil {
		return Collection{}, err
	}
	err = r.store.RunStoreOperation(ctx, database.SpaceCollections, database.ReadWrite, func(ctx context.Context, tx *database.Tx) error {
		return insertCollection(ctx, tx, &c)
	})
	if err != nil {
		return Collection{}, err
	}
	return c, nil
}

func newCollection(name string, color *string) (Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Collection{}, &ValidationError{Errors: []FieldError{{Field: "name", Message: "required"}}}
	}
	return Collection{
		ID:        uuid.NewString(),
		Name:      name,
		Color:     color,
		CreatedAt: database.Now(),
	}, nil
}

// insertCollection assigns c the next order and stores it.
func insertCollection(ctx context.Context, tx *database.Tx, c *Collection) error {
	if err := tx.QueryRow(ctx, database.SpaceCollections,
		`SELECT COALESCE(MAX(sort_order) + 1, 0) FROM collections`).Scan(&c.Order); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, database.SpaceCollections, `
	INSERT INTO collections (id, name, color, total_records, created_at, sort_order)
	VALUES (?, ?, ?, 0, ?, ?)`, c.ID, c.Name, c.Color, formatTime(c.CreatedAt), c.Order)
	return err
}

// List returns every collection by order.
func (r *CollectionRepo) List(ctx context.Context) ([]Collection, error) {
	var out []Collection
	err := r.store.RunStoreOperation(ctx, database.SpaceCollections, database.ReadOnly, func(ctx context.Context, tx *database.Tx) error {
		rows, err := tx.Query(ctx, database.SpaceCollections,
			`SELECT `+collectionColumns+` FROM collections ORDER BY sort_order, created_at`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanCollection(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

func (r *CollectionRepo) Get(ctx context.Context, id string) (Collection, error) {
	var c Collection
	err := r.store.RunStoreOperation(ctx, database.SpaceCollections, database.ReadOnly, func(ctx context.Context, tx *database.Tx) error {
		var err error
		c, err = getCollection(ctx, tx, id)
		return err
	})
	return c, err
}

func (r *CollectionRepo) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Errors: []FieldError{{Field: "name", Message: "required"}}}
	}
	return r.updateOne(ctx, id, `UPDATE collections SET name = ? WHERE id = ?`, name, id)
}

// Recolor sets the display color; nil clears it.
func (r *CollectionRepo) Recolor(ctx context.Context, id string, color *string) error {
	return r.updateOne(ctx, id, `UPDATE collections SET color = ? WHERE id = ?`, color, id)
}

func (r *CollectionRepo) updateOne(ctx context.Context, id, query string, args ...any) error {
	return r.store.RunStoreOperation(ctx, database.SpaceCollections, database.ReadWrite, func(ctx context.Context, tx *database.Tx) error {
		res, err := tx.Exec(ctx, database.SpaceCollections, query, args...)
		if err != nil {
			return err
		}
		return expectOne(res, "collection", id)
	})
}

// Reorder assigns order 0..n-1 to ids in the given sequence. An unknown id
// aborts the whole reorder.
func (r *CollectionRepo) Reorder(ctx context.Context, ids []string) error {
	return r.store.RunStoreOperation(ctx, database.SpaceCollections, database.ReadWrite, func(ctx context.Context, tx *database.Tx) error {
		stmt, err := tx.Prepare(ctx, database.SpaceCollections, `UPDATE collections SET sort_order = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, id := range ids {
			res, err := stmt.ExecContext(ctx, i, id)
			if err != nil {
				return err
			}
			if err := expectOne(res, "collection", id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a collection and every record in it as one unit.
func (r *CollectionRepo) Delete(ctx context.Context, id string) error {
	spaces := []database.Space{database.SpaceCollections, database.SpaceDebtorRecords}
	var removed int64
	err := r.store.RunTransaction(ctx, spaces, database.ReadWrite, func(ctx context.Context, tx *database.Tx) error {
		res, err := tx.Exec(ctx, database.SpaceDebtorRecords, `DELETE FROM debtor_records WHERE cid = ?`, id)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		res, err = tx.Exec(ctx, database.SpaceCollections, `DELETE FROM collections WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return expectOne(res, "collection", id)
	})
	if err != nil {
		return err
	}
	r.log.Info("collection deleted", zap.String("cid", id), zap.Int64("records", removed))
	return nil
}

func getCollection(ctx context.Context, tx *database.Tx, id string) (Collection, error) {
	row := tx.QueryRow(ctx, database.SpaceCollections, `SELECT `+collectionColumns+` FROM collections WHERE id = ?`, id)
	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, fmt.Errorf("collection %s: %w", id, ErrNotFound)
	}
	return c, err
}

func scanCollection(row scanner) (Collection, error) {
	var c Collection
	var color, fileName, loadDate sql.NullString
	var createdAt string
	if err := row.Scan(&c.ID, &c.Name, &color, &fileName, &loadDate, &c.TotalRecords, &createdAt, &c.Order); err != nil {
		return Collection{}, err
	}
	if color.Valid {
		c.Color = &color.String
	}
	if fileName.Valid {
		c.FileName = &fileName.String
	}
	if loadDate.Valid {
		t := parseTime(loadDate.String)
		c.LoadDate = &t
	}
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
