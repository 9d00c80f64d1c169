package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/jask/debtdesk/internal/database"
)

// MaxTemplateNameLen bounds template names.
const MaxTemplateNameLen = 100

var templateColumns = []string{"id", "name", "subject", "body", "bcc", "created_at", "updated_at"}

// TemplateRepo handles message templates. Names are unique ignoring case,
// compared by their database.FoldName key.
type TemplateRepo struct {
	store *database.Store
}

func NewTemplateRepo(store *database.Store) *TemplateRepo {
	return &TemplateRepo{store: store}
}

func (r *TemplateRepo) Create(ctx context.Context, t Template) (Template, error) {
	t.Name = strings.TrimSpace(t.Name)
	if err := validateTemplate(t); err != nil {
		return Template{}, err
	}
	t.ID = uuid.NewString()
	t.CreatedAt = database.Now()
	t.UpdatedAt = t.CreatedAt
	err := r.store.RunStoreOperation(ctx, database.SpaceTemplates, database.ReadWrite, func(ctx context.Context, tx *database.Tx) error {
		if err := ensureNameFree(ctx, tx, t.Name, ""); err != nil {
			return err
		}
		bcc, err := encodeBcc(t.Bcc)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, database.SpaceTemplates, `
		INSERT INTO templates (id, name, name_fold, subject, body, bcc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Name, database.FoldName(t.Name), t.Subject, t.Body, bcc, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
		return err
	})
	if err != nil {
		return Template{}, err
	}
	return t, nil
}

func (r *TemplateRepo) Get(ctx context.Context, id string) (Template, error) {
	var t Template
	err := r.store.RunStoreOperation(ctx, database.SpaceTemplates, database.ReadOnly, func(ctx context.Context, tx *database.Tx) error {
		var err error
		t, err = getTemplate(ctx, tx, id)
		return err
	})
	return t, err
}

// List returns every template, newest first.
func (r *TemplateRepo) List(ctx context.Context) ([]Template, error) {
	return r.query(ctx, sq.Select(templateColumns...).From("templates").OrderBy("created_at DESC", "name"))
}

// Search matches q against name, subject and body, ignoring case the same
// way names are compared. An empty query lists everything.
func (r *TemplateRepo) Search(ctx context.Context, q string) ([]Template, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	key := database.FoldName(q)
	if key == "" {
		return all, nil
	}
	var out []Template
	for _, t := range all {
		if strings.Contains(database.FoldName(t.Name), key) ||
			strings.Contains(database.FoldName(t.Subject), key) ||
			strings.Contains(database.FoldName(t.Body), key) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *TemplateRepo) query(ctx context.Context, b sq.SelectBuilder) ([]Template, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var out []Template
	err = r.store.RunStoreOperation(ctx, database.SpaceTemplates, database.ReadOnly, func(ctx context.Context, tx *database.Tx) error {
		rows, err := tx.Query(ctx, database.SpaceTemplates, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTemplate(rows)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// Update replaces name, subject, body and bcc of template id.
func (r *TemplateRepo) Update(ctx context.Context, id string, t Template) (Template, error) {
	t.Name = strings.TrimSpace(t.Name)
	if err := validateTemplate(t); err != nil {
		return Template{}, err
	}
	var out Template
	err := r.store.RunStoreOperation(ctx, database.SpaceTemplates, database.ReadWrite, func(ctx context.Context, tx *database.Tx) error {
		cur, err := getTemplate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := ensureNameFree(ctx, tx, t.Name, id); err != nil {
			return err
		}
		bcc, err := encodeBcc(t.Bcc)
		if err != nil {
			return err
		}
		cur.Name, cur.Subject, cur.Body, cur.Bcc = t.Name, t.Subject, t.Body, t.Bcc
		cur.UpdatedAt = database.Now()
		query, args, err := sq.Update("templates").SetMap(map[string]any{
			"name":       cur.Name,
			"name_fold":  database.FoldName(cur.Name),
			"subject":    cur.Subject,
			"body":       cur.Body,
			"bcc":        bcc,
			"updated_at": formatTime(cur.UpdatedAt),
		}).Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, database.SpaceTemplates, query, args...); err != nil {
			return err
		}
		out = cur
		return nil
	})
	return out, err
}

func (r *TemplateRepo) Delete(ctx context.Context, id string) error {
	return r.store.RunStoreOperation(ctx, database.SpaceTemplates, database.ReadWrite, func(ctx context.Context, tx *database.Tx) error {
		res, err := tx.Exec(ctx, database.SpaceTemplates, `DELETE FROM templates WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return expectOne(res, "template", id)
	})
}

// NameExists reports whether another template (not excludeID) already uses
// name, ignoring case.
func (r *TemplateRepo) NameExists(ctx context.Context, name, excludeID string) (bool, error) {
	var exists bool
	err := r.store.RunStoreOperation(ctx, database.SpaceTemplates, database.ReadOnly, func(ctx context.Context, tx *database.Tx) error {
		var err error
		exists, err = nameTaken(ctx, tx, strings.TrimSpace(name), excludeID)
		return err
	})
	return exists, err
}

// Count returns the number of stored templates.
func (r *TemplateRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.store.RunStoreOperation(ctx, database.SpaceTemplates, database.ReadOnly, func(ctx context.Context, tx *database.Tx) error {
		return tx.QueryRow(ctx, database.SpaceTemplates, `SELECT COUNT(*) FROM templates`).Scan(&n)
	})
	return n, err
}

func nameTaken(ctx context.Context, tx *database.Tx, name, excludeID string) (bool, error) {
	var n int
	err := tx.QueryRow(ctx, database.SpaceTemplates,
		`SELECT COUNT(*) FROM templates WHERE name_fold = ? AND id != ?`, database.FoldName(name), excludeID).Scan(&n)
	return n > 0, err
}

func ensureNameFree(ctx context.Context, tx *database.Tx, name, excludeID string) error {
	taken, err := nameTaken(ctx, tx, name, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("template name %q: %w", name, ErrConflict)
	}
	return nil
}

func validateTemplate(t Template) error {
	ve := &ValidationError{}
	switch {
	case t.Name == "":
		ve.add("name", "required")
	case len([]rune(t.Name)) > MaxTemplateNameLen:
		ve.add("name", fmt.Sprintf("longer than %d characters", MaxTemplateNameLen))
	}
	if strings.TrimSpace(t.Body) == "" {
		ve.add("body", "required")
	}
	for i, addr := range t.Bcc {
		if !strings.Contains(addr, "@") {
			ve.add(fmt.Sprintf("bcc[%d]", i), "not an email address")
		}
	}
	return ve.orNil()
}

func getTemplate(ctx context.Context, tx *database.Tx, id string) (Template, error) {
	row := tx.QueryRow(ctx, database.SpaceTemplates,
		`SELECT `+strings.Join(templateColumns, ", ")+` FROM templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return t, err
}

func scanTemplate(row scanner) (Template, error) {
	var t Template
	var bcc, createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &bcc, &createdAt, &updatedAt); err != nil {
		return Template{}, err
	}
	if bcc != "" {
		if err := json.Unmarshal([]byte(bcc), &t.Bcc); err != nil {
			return Template{}, fmt.Errorf("template %s bcc: %w", t.ID, err)
		}
		if len(t.Bcc) == 0 {
			t.Bcc = nil
		}
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return t, nil
}

func encodeBcc(bcc []string) (string, error) {
	if len(bcc) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(bcc)
	return string(b), err
}
