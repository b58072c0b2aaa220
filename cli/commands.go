package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-while/go-bolts/tasks"
)

func (rt *runtime) routesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the route table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.buildApp(nil)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERB\tDOMAIN\tPATH")
			for _, r := range app.Routes() {
				domain := r.Domain
				if domain == "" {
					domain = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Verb, domain, r.Path)
			}
			return w.Flush()
		},
	}
}

func (rt *runtime) dbCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := rt.openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()
			applied, err := db.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "database is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(out, "applied %s\n", name)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show which migrations are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := rt.openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()
			states, err := db.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MIGRATION\tSTATUS\tAPPLIED AT")
			for _, s := range states {
				status, at := "pending", "-"
				if s.Applied {
					status, at = "applied", s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Migration.Name(), status, at)
			}
			return w.Flush()
		},
	})
	return cmd
}

func (rt *runtime) taskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "List and run named tasks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.buildApp(nil)
			if err != nil {
				return err
			}
			return printTasks(cmd, app.Tasks().List())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Run a task once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := rt.openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()
			app, err := rt.buildApp(db)
			if err != nil {
				return err
			}
			if err := app.Tasks().Run(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s completed\n", args[0])
			return nil
		},
	})
	return cmd
}

func printTasks(cmd *cobra.Command, list []tasks.Task) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tDESCRIPTION")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Description)
	}
	return w.Flush()
}
