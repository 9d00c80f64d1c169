package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Options configures a Store.
type Options struct {
	Path        string
	BusyTimeout time.Duration
	Logger      *zap.Logger
}

// VersionChangeFunc is called after a handle was invalidated because another
// session moved the on-disk schema from -> to.
type VersionChangeFunc func(from, to int)

// Store owns the sqlite handles, its schema version and the set of record
// spaces. It is safe for concurrent use; create one per database file and
// pass it to the repositories.
//
// ReadWrite units run on a single connection that takes the write lock at
// BEGIN. ReadOnly units run on a separate query-only pool with deferred
// locking, so readers in different sessions share the file.
type Store struct {
	opts Options
	log  *zap.Logger

	mu        sync.Mutex
	db        *sql.DB
	ro        *sql.DB
	version   int
	listeners []VersionChangeFunc
}

// New returns an unopened Store. The first operation opens it.
func New(opts Options) *Store {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{opts: opts, log: log.Named("store")}
}

// Open is New followed by an eager open, so storage problems surface at startup.
func Open(ctx context.Context, opts Options) (*Store, error) {
	s := New(opts)
	if _, err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Open returns the live handle, opening and migrating it on first use.
func (s *Store) Open(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	db, err := openSQLite(s.opts.Path, s.opts.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classify("ping", err)
	}
	ver, err := migrateDB(ctx, db, s.opts.Path, s.opts.BusyTimeout, s.log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	ro, err := openReader(s.opts.Path, s.opts.BusyTimeout)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s.db = db
	s.ro = ro
	s.version = ver
	s.log.Debug("store opened", zap.String("path", s.opts.Path), zap.Int("version", ver))
	return db, nil
}

// OnVersionChange registers fn to run when the handle is invalidated.
func (s *Store) OnVersionChange(fn VersionChangeFunc) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Version returns the schema version the open handle was migrated to.
func (s *Store) Version(ctx context.Context) (int, error) {
	if _, err := s.Open(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, nil
}

// Logger returns the store's logger, for repositories built on it.
func (s *Store) Logger() *zap.Logger { return s.log }

// Compact rebuilds the database file so pages freed by deletes go back to
// the filesystem.
func (s *Store) Compact(ctx context.Context) error {
	db, err := s.Open(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return classify("vacuum", err)
	}
	return nil
}

// Close closes the handles. A later operation reopens them.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Store) closeLocked() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.ro != nil {
		if rerr := s.ro.Close(); err == nil {
			err = rerr
		}
	}
	s.db, s.ro = nil, nil
	return err
}

func openSQLite(path string, busy time.Duration) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=%d&_txlock=immediate", path, busy.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)
	return db, nil
}

func openReader(path string, busy time.Duration) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=%d&_query_only=true", path, busy.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(0)
	return db, nil
}

func classify(op string, err error) error {
	switch {
	case isBusy(err):
		return fmt.Errorf("%s: %w: %v", op, ErrStorageBlocked, err)
	case isCantOpen(err):
		return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// RunTransaction runs body against spaces as one all-or-nothing unit. It
// returns only after the engine confirmed the commit.
func (s *Store) RunTransaction(ctx context.Context, spaces []Space, mode Mode, body func(ctx context.Context, tx *Tx) error) error {
	scope := make(map[Space]SpaceDef, len(spaces))
	for _, sp := range spaces {
		def, ok := catalog[sp]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSpace, sp)
		}
		scope[sp] = def
	}

	db, err := s.handle(ctx, mode)
	if err != nil {
		return err
	}
	var opts *sql.TxOptions
	if mode == ReadOnly {
		opts = &sql.TxOptions{ReadOnly: true}
	}
	sqlTx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return classify("begin", err)
	}
	if err := s.checkVersion(ctx, db, sqlTx); err != nil {
		return err
	}

	tx := &Tx{tx: sqlTx, mode: mode, scope: scope}
	if err := body(ctx, tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (s *Store) handle(ctx context.Context, mode Mode) (*sql.DB, error) {
	db, err := s.Open(ctx)
	if err != nil || mode != ReadOnly {
		return db, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ro == nil {
		return nil, fmt.Errorf("%w: store closed", ErrStorageUnavailable)
	}
	return s.ro, nil
}

// RunStoreOperation is RunTransaction over a single space.
func (s *Store) RunStoreOperation(ctx context.Context, space Space, mode Mode, fn func(ctx context.Context, tx *Tx) error) error {
	return s.RunTransaction(ctx, []Space{space}, mode, fn)
}

// RunIndexOperation reads every row of space whose index columns equal keys,
// in key order, calling scan once per row.
func (s *Store) RunIndexOperation(ctx context.Context, space Space, index string, keys []any, columns []string, scan func(rows *sql.Rows) error) error {
	return s.RunTransaction(ctx, []Space{space}, ReadOnly, func(ctx context.Context, tx *Tx) error {
		rows, err := tx.IndexQuery(ctx, space, index, keys, columns...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			if err := scan(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

func (s *Store) checkVersion(ctx context.Context, db *sql.DB, tx *sql.Tx) error {
	var onDisk int
	if err := tx.QueryRowContext(ctx, `SELECT version FROM schema_migrations LIMIT 1`).Scan(&onDisk); err != nil {
		_ = tx.Rollback()
		return classify("read schema version", err)
	}
	s.mu.Lock()
	current := s.version
	s.mu.Unlock()
	if onDisk == current {
		return nil
	}
	_ = tx.Rollback()
	s.invalidate(db, current, onDisk)
	return fmt.Errorf("%w: handle at %d, disk at %d", ErrVersionChanged, current, onDisk)
}

func (s *Store) invalidate(db *sql.DB, from, to int) {
	s.mu.Lock()
	if s.db == db || s.ro == db {
		_ = s.closeLocked()
	}
	listeners := append([]VersionChangeFunc(nil), s.listeners...)
	s.mu.Unlock()

	s.log.Warn("schema changed by another session, handle closed",
		zap.Int("from", from), zap.Int("to", to))
	for _, fn := range listeners {
		fn(from, to)
	}
}

// Tx is a transactional unit scoped to the spaces it was opened with.
type Tx struct {
	tx    *sql.Tx
	mode  Mode
	scope map[Space]SpaceDef
}

// Mode reports the access mode of the unit.
func (t *Tx) Mode() Mode { return t.mode }

func (t *Tx) check(space Space, write bool) (SpaceDef, error) {
	def, ok := t.scope[space]
	if !ok {
		return SpaceDef{}, fmt.Errorf("%w: %s", ErrSpaceNotInScope, space)
	}
	if write && t.mode != ReadWrite {
		return SpaceDef{}, fmt.Errorf("%w: %s", ErrReadOnly, space)
	}
	return def, nil
}

func (t *Tx) Exec(ctx context.Context, space Space, query string, args ...any) (sql.Result, error) {
	if _, err := t.check(space, true); err != nil {
		return nil, err
	}
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) Query(ctx context.Context, space Space, query string, args ...any) (*sql.Rows, error) {
	if _, err := t.check(space, false); err != nil {
		return nil, err
	}
	return t.tx.QueryContext(ctx, query, args...)
}

// Row wraps sql.Row so scope errors surface from Scan.
type Row struct {
	row *sql.Row
	err error
}

func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.row.Scan(dest...)
}

func (t *Tx) QueryRow(ctx context.Context, space Space, query string, args ...any) *Row {
	if _, err := t.check(space, false); err != nil {
		return &Row{err: err}
	}
	return &Row{row: t.tx.QueryRowContext(ctx, query, args...)}
}

// Prepare returns a statement bound to the unit, for bulk writes.
func (t *Tx) Prepare(ctx context.Context, space Space, query string) (*sql.Stmt, error) {
	if _, err := t.check(space, true); err != nil {
		return nil, err
	}
	return t.tx.PrepareContext(ctx, query)
}

// IndexQuery selects columns from space where the named index equals keys.
func (t *Tx) IndexQuery(ctx context.Context, space Space, index string, keys []any, columns ...string) (*sql.Rows, error) {
	def, err := t.check(space, false)
	if err != nil {
		return nil, err
	}
	cols, ok := def.Indexes[index]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, space, index)
	}
	if len(keys) != len(cols) {
		return nil, fmt.Errorf("index %s.%s takes %d keys, got %d", space, index, len(cols), len(keys))
	}
	eq := sq.Eq{}
	for i, c := range cols {
		eq[c] = keys[i]
	}
	query, args, err := sq.Select(columns...).From(def.Table).Where(eq).OrderBy(def.Key).ToSql()
	if err != nil {
		return nil, err
	}
	return t.tx.QueryContext(ctx, query, args...)
}

// Now returns UTC time truncated to milliseconds.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
