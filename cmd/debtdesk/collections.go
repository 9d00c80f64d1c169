package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jask/debtdesk/internal/database/repository"
	"github.com/jask/debtdesk/internal/service"
)

func newCollectionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"col"},
		Short:   "Manage debtor collections",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List collections in display order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cols, err := a.collections.List(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(cols))
			for _, c := range cols {
				rows = append(rows, []string{
					strconv.Itoa(c.Order), c.ID, c.Name, deref(c.Color), deref(c.FileName),
					strconv.Itoa(c.TotalRecords), fmtTime(c.LoadDate),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"#", "ID", "NAME", "COLOR", "FILE", "RECORDS", "LOADED"}, rows)
			return nil
		},
	})

	var color string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an empty collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cp *string
			if color != "" {
				cp = &color
			}
			c, err := a.collections.Create(cmd.Context(), args[0], cp)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			return nil
		},
	}
	create.Flags().StringVar(&color, "color", "", "display color, e.g. #3b82f6")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.collections.Rename(cmd.Context(), args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "recolor ID [COLOR]",
		Short: "Set or clear the display color",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cp *string
			if len(args) == 2 {
				cp = &args[1]
			}
			return a.collections.Recolor(cmd.Context(), args[0], cp)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reorder ID...",
		Short: "Assign display order following the given ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.collections.Reorder(cmd.Context(), args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a collection and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.collections.Delete(cmd.Context(), args[0])
		},
	})
	return cmd
}

func newRecordsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect and edit debtor records",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list COLLECTION",
		Short: "List the records of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := a.debtors.ListByCollection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), recs)
			}
			rows := make([][]string, 0, len(recs))
			for _, d := range recs {
				rows = append(rows, []string{
					d.CreditNumber, service.FormatTaxID(d.TaxID), truncate(d.Name, 30), d.Creditor.Name,
					service.FormatARS(d.CurrentDebt), service.FormatARS(d.SettlementDebt),
					string(d.Status), truncate(d.Notes, 30),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"CREDIT", "CUIL", "NAME", "CREDITOR", "DEBT", "SETTLEMENT", "STATE", "NOTES"}, rows)
			return nil
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	cmd.AddCommand(list)

	var (
		name, email, phone, notes string
		debt, settlement          float64
	)
	update := &cobra.Command{
		Use:   "update COLLECTION CREDIT",
		Short: "Edit the first record carrying a credit number",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd repository.RecordUpdate
			flags := cmd.Flags()
			if flags.Changed("name") {
				upd.Name = &name
			}
			if flags.Changed("email") {
				upd.Email = &email
			}
			if flags.Changed("phone") {
				upd.Phone = &phone
			}
			if flags.Changed("notes") {
				upd.Notes = &notes
			}
			if flags.Changed("debt") {
				upd.CurrentDebt = &debt
			}
			if flags.Changed("settlement") {
				upd.SettlementDebt = &settlement
			}
			d, err := a.debtors.UpdateRecord(cmd.Context(), args[0], args[1], upd)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
	update.Flags().StringVar(&name, "name", "", "holder name")
	update.Flags().StringVar(&email, "email", "", "email address")
	update.Flags().StringVar(&phone, "phone", "", "phone number")
	update.Flags().StringVar(&notes, "notes", "", "free-text notes")
	update.Flags().Float64Var(&debt, "debt", 0, "current debt")
	update.Flags().Float64Var(&settlement, "settlement", 0, "settlement debt")
	cmd.AddCommand(update)
	return cmd
}
