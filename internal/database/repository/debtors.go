package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/jask/debtdesk/internal/database"
)

var debtorColumns = []string{
	"id", "cuil", "nombre", "email", "telefono", "acreedor", "nro_credito",
	"deuda_actual", "deuda_cancelatoria", "estado", "estado_ts", "notas",
}

// DebtorRepo handles the debtor records of every collection.
type DebtorRepo struct {
	store *database.Store
	log   *zap.Logger
}

func NewDebtorRepo(store *database.Store) *DebtorRepo {
	return &DebtorRepo{store: store, log: store.Logger().Named("debtors")}
}

var bothSpaces = []database.Space{database.SpaceCollections, database.SpaceDebtorRecords}

// SaveRecords replaces every record of collection cid with records and
// refreshes the collection's file name, load date and total, as one unit.
// Either all of it is visible afterwards or none of it.
func (r *DebtorRepo) SaveRecords(ctx context.Context, cid string, records []Debtor, fileName string) error {
	if err := validateRecords(records); err != nil {
		return err
	}
	err := r.store.RunTransaction(ctx, bothSpaces, database.ReadWrite, func(ctx context.Context, tx *database.Tx) error {
		if _, err := getCollection(ctx, tx, cid); err != nil {
			return err
		}
		return replaceRecords(ctx, tx, cid, records, fileName)
	})
	if err != nil {
		return err
	}
	r.log.Info("records saved", zap.String("cid", cid), zap.Int("records", len(records)), zap.String("file", fileName))
	return nil
}

// CreateWithRecords creates a collection holding records in one unit, so a
// rejected save leaves no empty collection behind.
func (r *DebtorRepo) CreateWithRecords(ctx context.Context, name string, color *string, records []Debtor, fileName string) (Collection, error) {
	c, err := newCollection(name, color)
	if err != nil {
		return Collection{}, err
	}
	if err := validateRecords(records); err != nil {
		return Collection{}, err
	}
	err = r.store.RunTransaction(ctx, bothSpaces, database.ReadWrite, func(ctx context.Context, tx *database.Tx) error {
		if err := insertCollection(ctx, tx, &c); err != nil {
			return err
		}
		if err := replaceRecords(ctx, tx, c.ID, records, fileName); err != nil {
			return err
		}
		c, err = getCollection(ctx, tx, c.ID)
		return err
	})
	if err != nil {
		return Collection{}, err
	}
	r.log.Info("collection created with records", zap.String("cid", c.ID), zap.Int("records", len(records)), zap.String("file", fileName))
	return c, nil
}

func replaceRecords(ctx context.Context, tx *database.Tx, cid string, records []Debtor, fileName string) error {
	if _, err := tx.Exec(ctx, database.SpaceDebtorRecords, `DELETE FROM debtor_records WHERE cid = ?`, cid); err != nil {
		return err
	}
	stmt, err := tx.Prepare(ctx, database.SpaceDebtorRecords, `
	INSERT INTO debtor_records (cid, cuil, nombre, email, telefono, acreedor, nro_credito,
		deuda_actual, deuda_cancelatoria, estado, estado_ts, notas)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, d := range records {
		acreedor, err := json.Marshal(d.Creditor)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, cid, d.TaxID, d.Name, d.Email, d.Phone, string(acreedor), d.CreditNumber,
			d.CurrentDebt, d.SettlementDebt, nullStatus(d.Status), optionalTime(d.StatusAt), nullIfEmpty(d.Notes)); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	_, err = tx.Exec(ctx, database.SpaceCollections, `
	UPDATE collections SET total_records = ?, file_name = ?, load_date = ? WHERE id = ?`,
		len(records), nullIfEmpty(fileName), formatTime(database.Now()), cid)
	return err
}

// ListByCollection returns the records of cid in insertion order. An empty
// collection gives an empty, non-nil slice.
func (r *DebtorRepo) ListByCollection(ctx context.Context, cid string) ([]Debtor, error) {
	out := []Debtor{}
	err := r.store.RunTransaction(ctx, bothSpaces, database.ReadOnly, func(ctx context.Context, tx *database.Tx) error {
		if _, err := getCollection(ctx, tx, cid); err != nil {
			return err
		}
		rows, err := tx.IndexQuery(ctx, database.SpaceDebtorRecords, "cid", []any{cid}, debtorColumns...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			_, d, err := scanDebtor(rows)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

// UpdateRecord applies upd to the first record of cid carrying creditNumber
// and returns the stored result.
func (r *DebtorRepo) UpdateRecord(ctx context.Context, cid, creditNumber string, upd RecordUpdate) (Debtor, error) {
	if err := validateUpdate(upd); err != nil {
		return Debtor{}, err
	}
	var out Debtor
	err := r.store.RunStoreOperation(ctx, database.SpaceDebtorRecords, database.ReadWrite, func(ctx context.Context, tx *database.Tx) error {
		id, d, err := firstByCredit(ctx, tx, cid, creditNumber)
		if err != nil {
			return err
		}
		set := updateMap(upd)
		if len(set) == 0 {
			out = d
			return nil
		}
		query, args, err := sq.Update("debtor_records").SetMap(set).Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, database.SpaceDebtorRecords, query, args...); err != nil {
			return err
		}
		_, out, err = scanDebtor(tx.QueryRow(ctx, database.SpaceDebtorRecords,
			`SELECT `+strings.Join(debtorColumns, ", ")+` FROM debtor_records WHERE id = ?`, id))
		return err
	})
	return out, err
}

// ApplyStatuses overlays remote states onto every record of cid whose credit
// number is a key of statuses. It returns how many records changed.
func (r *DebtorRepo) ApplyStatuses(ctx context.Context, cid string, statuses map[string]StatusUpdate) (int, error) {
	var changed int64
	err := r.store.RunTransaction(ctx, bothSpaces, database.ReadWrite, func(ctx context.Context, tx *database.Tx) error {
		if _, err := getCollection(ctx, tx, cid); err != nil {
			return err
		}
		stmt, err := tx.Prepare(ctx, database.SpaceDebtorRecords, `
		UPDATE debtor_records SET estado = ?, estado_ts = ?, notas = ? WHERE cid = ? AND nro_credito = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for credit, st := range statuses {
			if !st.Status.Valid() {
				return &ValidationError{Errors: []FieldError{{Field: "estado", Message: fmt.Sprintf("unknown state %q for credit %s", st.Status, credit)}}}
			}
			res, err := stmt.ExecContext(ctx, string(st.Status), optionalTime(st.StatusAt), nullIfEmpty(TruncateNotes(st.Notes)), cid, credit)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			changed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.log.Debug("statuses applied", zap.String("cid", cid), zap.Int("credits", len(statuses)), zap.Int64("records", changed))
	return int(changed), nil
}

// FindByCredit returns the first record of cid carrying creditNumber.
func (r *DebtorRepo) FindByCredit(ctx context.Context, cid, creditNumber string) (Debtor, error) {
	var out Debtor
	err := r.store.RunStoreOperation(ctx, database.SpaceDebtorRecords, database.ReadOnly, func(ctx context.Context, tx *database.Tx) error {
		var err error
		_, out, err = firstByCredit(ctx, tx, cid, creditNumber)
		return err
	})
	return out, err
}

// Count returns the number of stored records of cid.
func (r *DebtorRepo) Count(ctx context.Context, cid string) (int, error) {
	var n int
	err := r.store.RunStoreOperation(ctx, database.SpaceDebtorRecords, database.ReadOnly, func(ctx context.Context, tx *database.Tx) error {
		return tx.QueryRow(ctx, database.SpaceDebtorRecords, `SELECT COUNT(*) FROM debtor_records WHERE cid = ?`, cid).Scan(&n)
	})
	return n, err
}

func firstByCredit(ctx context.Context, tx *database.Tx, cid, creditNumber string) (int64, Debtor, error) {
	rows, err := tx.IndexQuery(ctx, database.SpaceDebtorRecords, "cid_credit", []any{cid, creditNumber}, debtorColumns...)
	if err != nil {
		return 0, Debtor{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, Debtor{}, err
		}
		return 0, Debtor{}, fmt.Errorf("credit %s in collection %s: %w", creditNumber, cid, ErrNotFound)
	}
	return scanDebtor(rows)
}

func updateMap(u RecordUpdate) map[string]any {
	set := map[string]any{}
	if u.Name != nil {
		set["nombre"] = *u.Name
	}
	if u.Email != nil {
		set["email"] = *u.Email
	}
	if u.Phone != nil {
		set["telefono"] = *u.Phone
	}
	if u.CurrentDebt != nil {
		set["deuda_actual"] = *u.CurrentDebt
	}
	if u.SettlementDebt != nil {
		set["deuda_cancelatoria"] = *u.SettlementDebt
	}
	if u.Status != nil {
		set["estado"] = nullStatus(*u.Status)
	}
	if u.StatusAt != nil {
		set["estado_ts"] = formatTime(*u.StatusAt)
	}
	if u.Notes != nil {
		set["notas"] = nullIfEmpty(*u.Notes)
	}
	return set
}

func validateRecords(records []Debtor) error {
	ve := &ValidationError{}
	for i, d := range records {
		if d.Status != "" && !d.Status.Valid() {
			ve.add(fmt.Sprintf("records[%d].estado", i), fmt.Sprintf("unknown state %q", d.Status))
		}
		if utf8.RuneCountInString(d.Notes) > MaxNotesLen {
			ve.add(fmt.Sprintf("records[%d].notas", i), fmt.Sprintf("longer than %d characters", MaxNotesLen))
		}
	}
	return ve.orNil()
}

func validateUpdate(u RecordUpdate) error {
	ve := &ValidationError{}
	if u.Status != nil && *u.Status != "" && !u.Status.Valid() {
		ve.add("estado", fmt.Sprintf("unknown state %q", *u.Status))
	}
	if u.Notes != nil && utf8.RuneCountInString(*u.Notes) > MaxNotesLen {
		ve.add("notas", fmt.Sprintf("longer than %d characters", MaxNotesLen))
	}
	if u.CurrentDebt != nil && *u.CurrentDebt < 0 {
		ve.add("deudaActual", "must not be negative")
	}
	if u.SettlementDebt != nil && *u.SettlementDebt < 0 {
		ve.add("deudaCancelatoria", "must not be negative")
	}
	return ve.orNil()
}

func scanDebtor(row scanner) (int64, Debtor, error) {
	var id int64
	var d Debtor
	var acreedor string
	var estado, estadoTS, notas sql.NullString
	if err := row.Scan(&id, &d.TaxID, &d.Name, &d.Email, &d.Phone, &acreedor, &d.CreditNumber,
		&d.CurrentDebt, &d.SettlementDebt, &estado, &estadoTS, &notas); err != nil {
		return 0, Debtor{}, err
	}
	if err := json.Unmarshal([]byte(acreedor), &d.Creditor); err != nil {
		return 0, Debtor{}, fmt.Errorf("record %d creditor: %w", id, err)
	}
	if estado.Valid {
		d.Status = Status(estado.String)
	}
	if estadoTS.Valid {
		t := parseTime(estadoTS.String)
		d.StatusAt = &t
	}
	d.Notes = notas.String
	return id, d, nil
}

// TruncateNotes cuts s to MaxNotesLen characters.
func TruncateNotes(s string) string {
	if utf8.RuneCountInString(s) <= MaxNotesLen {
		return s
	}
	return string([]rune(s)[:MaxNotesLen])
}

func nullStatus(s Status) any {
	if s == "" {
		return nil
	}
	return string(s)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
