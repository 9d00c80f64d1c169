package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jask/debtdesk/internal/service"
	"github.com/jask/debtdesk/internal/testdata"
)

func newMigrationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrations",
		Short: "Inspect schema upgrades",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Show what every schema upgrade did to the stored data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.store.MigrationLog(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					fmt.Sprintf("%d→%d", e.FromVersion, e.ToVersion), e.Space, e.Action,
					strconv.Itoa(e.Count), truncate(e.Detail, 60), e.At.Local().Format(time.DateTime),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"VERSION", "SPACE", "ACTION", "COUNT", "DETAIL", "AT"}, rows)
			return nil
		},
	})
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "token",
		Short:       "Store or clear the API token",
		Annotations: map[string]string{noStore: ""},
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "set [TOKEN]",
		Short:       "Store the API token; read from stdin when omitted",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{noStore: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				token = line
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return fmt.Errorf("empty token")
			}
			return a.secrets.Set(tokenName, token)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:         "clear",
		Short:       "Remove the stored API token",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noStore: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.secrets.Delete(tokenName)
		},
	})
	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every collection, record and template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset deletes all local data; rerun with --yes")
			}
			svc := &service.MaintenanceService{Store: a.store}
			if err := svc.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "local data deleted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func newSeedCmd(a *app) *cobra.Command {
	var (
		rows int
		seed int64
	)
	cmd := &cobra.Command{
		Use:    "seed",
		Short:  "Create a sample collection of generated debtors",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := testdata.Seed(cmd.Context(), testdata.Repos{
				Collections: a.collections,
				Debtors:     a.debtors,
				Templates:   a.templates,
			}, rows, seed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %d records\n", c.Name, c.ID, c.TotalRecords)
			return nil
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 200, "number of debtors")
	cmd.Flags().Int64Var(&seed, "seed", 1, "generator seed")
	return cmd
}
