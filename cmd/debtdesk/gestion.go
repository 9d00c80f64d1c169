package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jask/debtdesk/internal/database/repository"
	"github.com/jask/debtdesk/internal/gestiones"
	"github.com/jask/debtdesk/internal/service"
)

func newGestionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gestion",
		Short: "Record and inspect collection activity on the remote API",
	}

	var notes string
	create := &cobra.Command{
		Use:   "create COLLECTION CREDIT STATE",
		Short: "Record a gestion and mirror it onto the local record",
		Long:  "Record a gestion and mirror it onto the local record. STATE is pendiente, gestionado or contactado.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.remote()
			if err != nil {
				return err
			}
			svc := &service.GestionService{Remote: client, Debtors: a.debtors, Logger: a.log}
			g, d, err := svc.Record(cmd.Context(), args[0], args[1], repository.Status(args[2]), notes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "gestion %s: %s %s is now %s\n", g.ID, d.CreditNumber, d.Name, d.Status)
			return nil
		},
	}
	create.Flags().StringVar(&notes, "notes", "", "free-text notes")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "history CREDIT",
		Short: "List the gestiones of a credit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.remote()
			if err != nil {
				return err
			}
			hist, err := client.HistoryByCredit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(hist))
			for _, g := range hist {
				rows = append(rows, []string{g.ID, string(g.Estado), fmtTime(&g.Timestamp), truncate(g.Notas, 40), g.SnapshotColocador})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "STATE", "AT", "NOTES", "CREDITOR"}, rows)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get ID",
		Short: "Show one gestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.remote()
			if err != nil {
				return err
			}
			g, err := client.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), g)
		},
	})

	var (
		state    string
		newNotes string
	)
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Change the state or notes of a gestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dto gestiones.UpdateGestionDto
			if cmd.Flags().Changed("state") {
				st := gestiones.Estado(state)
				if !repository.Status(st).Valid() {
					return fmt.Errorf("unknown state %q: %w", state, repository.ErrValidation)
				}
				dto.Estado = &st
			}
			if cmd.Flags().Changed("notes") {
				dto.Notas = &newNotes
			}
			if dto.Estado == nil && dto.Notas == nil {
				return fmt.Errorf("nothing to update: pass --state or --notes")
			}
			client, err := a.remote()
			if err != nil {
				return err
			}
			g, err := client.Update(cmd.Context(), args[0], dto)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), g)
		},
	}
	update.Flags().StringVar(&state, "state", "", "new state")
	update.Flags().StringVar(&newNotes, "notes", "", "new notes")
	cmd.AddCommand(update)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a gestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.remote()
			if err != nil {
				return err
			}
			return client.Delete(cmd.Context(), args[0])
		},
	})
	return cmd
}
