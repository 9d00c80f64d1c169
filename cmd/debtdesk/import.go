package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jask/debtdesk/internal/service"
)

const maxListedErrors = 20

func newImportCmd(a *app) *cobra.Command {
	var (
		collectionID string
		name         string
		color        string
		enrich       bool
		plain        bool
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load a debtor CSV into a collection",
		Long: `Load a debtor CSV into a collection.

Without --collection a new collection is created, named after --name or the
file. With --collection the records of that collection are replaced. --enrich
overlays the latest gestion states from the remote API before storing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			opts := service.ParserOptions{ChunkRows: a.cfg.CSV.ChunkRows, Logger: a.log, Metrics: a.metrics}
			svc := &service.ImportService{
				Collections: a.collections,
				Debtors:     a.debtors,
				Parser:      opts,
				Logger:      a.log,
			}
			if enrich {
				if svc.Reconciler, err = a.reconciler(); err != nil {
					return err
				}
			}
			parser, err := service.NewParser(opts)
			if err != nil {
				return err
			}
			var cp *string
			if color != "" {
				cp = &color
			}

			var res service.ImportResult
			err = runWithProgress(cmd.ErrOrStderr(), plain, "Importando "+filepath.Base(args[0]), parser.Cancel, func(report reportFunc) error {
				var err error
				res, err = svc.Import(ctx, service.ImportRequest{
					Reader:         f,
					Size:           info.Size(),
					FileName:       filepath.Base(args[0]),
					CollectionID:   collectionID,
					CollectionName: name,
					Color:          cp,
					Enrich:         enrich,
					Parser:         parser,
					OnProgress: func(s service.ParseStats) {
						report(s.Progress, statsLabel(s))
					},
				})
				return err
			})
			if errors.Is(err, service.ErrCancelled) || errors.Is(err, context.Canceled) {
				fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("import cancelled, nothing stored"))
				return err
			}
			if err != nil {
				return err
			}
			printImportSummary(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&collectionID, "collection", "", "replace the records of this collection")
	cmd.Flags().StringVar(&name, "name", "", "name of the new collection")
	cmd.Flags().StringVar(&color, "color", "", "display color of the new collection")
	cmd.Flags().BoolVar(&enrich, "enrich", false, "overlay remote gestion states before storing")
	cmd.Flags().BoolVar(&plain, "plain", false, "print progress lines instead of a bar")
	cmd.MarkFlagsMutuallyExclusive("collection", "name")
	return cmd
}

func statsLabel(s service.ParseStats) string {
	if s.SyncMessage != "" {
		return s.SyncMessage
	}
	return fmt.Sprintf("%d filas · %d válidas · %d inválidas", s.TotalRows, s.ValidRows, s.InvalidRows)
}

func printImportSummary(w io.Writer, res service.ImportResult) {
	st := res.Stats
	if res.Collection == nil {
		fmt.Fprintln(w, errStyle.Render(fmt.Sprintf("no valid rows in %d, nothing stored", st.TotalRows)))
	} else {
		fmt.Fprintf(w, "%s (%s): %d records stored\n", res.Collection.Name, res.Collection.ID, res.Saved)
	}
	fmt.Fprintf(w, "rows %d, valid %d, invalid %d\n", st.TotalRows, st.ValidRows, st.InvalidRows)

	if len(st.Errors) > 0 {
		rows := make([][]string, 0, maxListedErrors)
		for _, e := range st.Errors[:min(len(st.Errors), maxListedErrors)] {
			rows = append(rows, []string{strconv.Itoa(e.Row), e.Field, truncate(e.Value, 30), e.Message})
		}
		printTable(w, []string{"ROW", "FIELD", "VALUE", "ERROR"}, rows)
		if n := len(st.Errors) - maxListedErrors; n > 0 {
			fmt.Fprintf(w, "... and %d more errors\n", n)
		}
	}
	if len(st.Warnings) > 0 {
		rows := make([][]string, 0, maxListedErrors)
		for _, wn := range st.Warnings[:min(len(st.Warnings), maxListedErrors)] {
			rows = append(rows, []string{strconv.Itoa(wn.Row), wn.Placer, wn.Resolved, wn.Match.String()})
		}
		fmt.Fprintln(w, warnStyle.Render("creditors resolved by approximation:"))
		printTable(w, []string{"ROW", "PLACER", "RESOLVED", "MATCH"}, rows)
	}
}

func newResyncCmd(a *app) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "resync COLLECTION",
		Short: "Refresh stored gestion states from the remote API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.reconciler()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var res service.ResyncResult
			err = runWithProgress(cmd.ErrOrStderr(), plain, "Sincronizando", cancel, func(report reportFunc) error {
				var err error
				res, err = rec.Resync(ctx, args[0], func(pr service.ReconcileProgress) {
					report(pr.Percentage, service.SyncMessage(pr))
				})
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credits %d, with state %d, records updated %d\n", res.Credits, res.Matched, res.Updated)
			if res.FailedBatches > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render(fmt.Sprintf("%d batches failed and were skipped", res.FailedBatches)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print progress lines instead of a bar")
	return cmd
}
