package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jask/debtdesk/internal/config"
	"github.com/jask/debtdesk/internal/database"
	"github.com/jask/debtdesk/internal/database/repository"
	"github.com/jask/debtdesk/internal/gestiones"
	"github.com/jask/debtdesk/internal/observability"
	"github.com/jask/debtdesk/internal/secrets"
	"github.com/jask/debtdesk/internal/service"
)

const tokenName = "api"

// app is the wiring shared by every command, built once per invocation.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	metrics *observability.Metrics
	store   *database.Store
	secrets *secrets.Store

	collections *repository.CollectionRepo
	debtors     *repository.DebtorRepo
	templates   *repository.TemplateRepo

	logLevel string
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a := &app{}
	defer a.teardown()
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, database.ErrStorageBlocked) {
			fmt.Fprintln(os.Stderr, "another debtdesk session holds the database; close it and retry")
		}
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "debtdesk",
		Short:         "Debtor collections, CSV imports and gestion sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newCollectionsCmd(a),
		newRecordsCmd(a),
		newImportCmd(a),
		newResyncCmd(a),
		newTemplatesCmd(a),
		newGestionCmd(a),
		newMigrationsCmd(a),
		newTokenCmd(a),
		newResetCmd(a),
		newSeedCmd(a),
	)
	return root
}

// noStore marks commands that run without opening the database.
const noStore = "nostore"

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	if a.log, err = observability.NewLogger(cfg.Log.Level); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	a.metrics = observability.NewMetrics()
	if a.secrets, err = secrets.Default(); err != nil {
		return err
	}
	if _, ok := cmd.Annotations[noStore]; ok {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("mkdir db dir: %w", err)
	}
	a.store, err = database.Open(cmd.Context(), database.Options{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout,
		Logger:      a.log,
	})
	if err != nil {
		return err
	}
	a.store.OnVersionChange(func(from, to int) {
		a.log.Warn("database upgraded by another session; rerun the command", zap.Int("from", from), zap.Int("to", to))
	})
	a.collections = repository.NewCollectionRepo(a.store)
	a.debtors = repository.NewDebtorRepo(a.store)
	a.templates = repository.NewTemplateRepo(a.store)
	return repository.SeedDefaults(cmd.Context(), a.templates)
}

// teardown closes the store and flushes the log. It is safe to call twice.
func (a *app) teardown() {
	if a.store != nil {
		if err := a.store.Close(); err != nil && a.log != nil {
			a.log.Warn("close store", zap.Error(err))
		}
		a.store = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// remote builds the gestiones client from config and the stored token.
func (a *app) remote() (*gestiones.Client, error) {
	if a.cfg.API.BaseURL == "" {
		return nil, errors.New("api.base_url is not configured")
	}
	token, err := a.secrets.Resolve(a.cfg.API.TokenEnv, tokenName)
	if err != nil {
		return nil, fmt.Errorf("api token: %w", err)
	}
	return gestiones.New(gestiones.Options{
		BaseURL: a.cfg.API.BaseURL,
		Token:   token,
		Timeout: a.cfg.API.Timeout,
		Logger:  a.log,
		Metrics: a.metrics,
	})
}

func (a *app) reconciler() (*service.Reconciler, error) {
	client, err := a.remote()
	if err != nil {
		return nil, err
	}
	return &service.Reconciler{
		Source:  client,
		Debtors: a.debtors,
		Config: service.ReconcileConfig{
			BatchSize:           a.cfg.Reconcile.BatchSize,
			MaxAttemptsPerBatch: a.cfg.Reconcile.MaxAttemptsPerBatch,
			InitialBackoff:      a.cfg.Reconcile.InitialBackoff,
		},
		Logger:  a.log,
		Metrics: a.metrics,
	}, nil
}
