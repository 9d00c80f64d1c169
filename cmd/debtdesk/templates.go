package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jask/debtdesk/internal/database/repository"
	"github.com/jask/debtdesk/internal/service"
)

type templateFlags struct {
	name     string
	subject  string
	body     string
	bodyFile string
	bcc      []string
}

func (f *templateFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "template name")
	cmd.Flags().StringVar(&f.subject, "subject", "", "message subject")
	cmd.Flags().StringVar(&f.body, "body", "", "message body")
	cmd.Flags().StringVar(&f.bodyFile, "body-file", "", "read the body from a file")
	cmd.Flags().StringSliceVar(&f.bcc, "bcc", nil, "blind-copy addresses")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")
}

// apply overlays the flags that were set onto t.
func (f *templateFlags) apply(cmd *cobra.Command, t repository.Template) (repository.Template, error) {
	flags := cmd.Flags()
	if flags.Changed("name") {
		t.Name = f.name
	}
	if flags.Changed("subject") {
		t.Subject = f.subject
	}
	if flags.Changed("body") {
		t.Body = f.body
	}
	if f.bodyFile != "" {
		b, err := os.ReadFile(f.bodyFile)
		if err != nil {
			return t, err
		}
		t.Body = string(b)
	}
	if flags.Changed("bcc") {
		t.Bcc = f.bcc
	}
	return t, nil
}

func newTemplatesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"tpl"},
		Short:   "Manage message templates",
	}

	var search string
	list := &cobra.Command{
		Use:   "list",
		Short: "List templates, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tpls, err := a.templates.Search(cmd.Context(), search)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(tpls))
			for _, t := range tpls {
				rows = append(rows, []string{t.ID, t.Name, service.TemplateSlug(t.Name), truncate(t.Subject, 40), fmtTime(&t.UpdatedAt)})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "SLUG", "SUBJECT", "UPDATED"}, rows)
			return nil
		},
	}
	list.Flags().StringVar(&search, "search", "", "match name, subject or body")
	cmd.AddCommand(list)

	var cf templateFlags
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := cf.apply(cmd, repository.Template{})
			if err != nil {
				return err
			}
			warnUnknownVariables(cmd, t.Body)
			t, err = a.templates.Create(cmd.Context(), t)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.ID)
			return nil
		},
	}
	cf.bind(create)
	cmd.AddCommand(create)

	var uf templateFlags
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Change a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cur, err := a.templates.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			t, err := uf.apply(cmd, cur)
			if err != nil {
				return err
			}
			warnUnknownVariables(cmd, t.Body)
			_, err = a.templates.Update(cmd.Context(), args[0], t)
			return err
		},
	}
	uf.bind(update)
	cmd.AddCommand(update)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.templates.Delete(cmd.Context(), args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check ID",
		Short: "Report the variables a template uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.templates.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rep := service.ValidateTemplateVariables(t.Subject + "\n" + t.Body)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "variables: %d\n", rep.Total)
			fmt.Fprintf(out, "valid: %s\n", strings.Join(rep.Valid, " "))
			if len(rep.Invalid) > 0 {
				fmt.Fprintln(out, errStyle.Render("invalid: "+strings.Join(rep.Invalid, " ")))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "render ID COLLECTION CREDIT",
		Short: "Fill a template with the data of one debtor",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t, err := a.templates.Get(ctx, args[0])
			if err != nil {
				return err
			}
			d, err := a.debtors.FindByCredit(ctx, args[1], args[2])
			if err != nil {
				return err
			}
			msg := service.RenderTemplate(t, d, time.Now())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "To: %s\n", d.Email)
			if len(msg.Bcc) > 0 {
				fmt.Fprintf(out, "Bcc: %s\n", strings.Join(msg.Bcc, ", "))
			}
			fmt.Fprintf(out, "Subject: %s\n\n%s\n", msg.Subject, msg.Body)
			return nil
		},
	})
	return cmd
}

func warnUnknownVariables(cmd *cobra.Command, body string) {
	rep := service.ValidateTemplateVariables(body)
	if len(rep.Invalid) > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("unknown variables: "+strings.Join(rep.Invalid, " ")))
	}
}
