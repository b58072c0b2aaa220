package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/go-while/go-bolts/internal/auth"
)

func (rt *runtime) userCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var email, display string
	var admin bool
	create := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user (password is prompted or read from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withAuth(cmd.Context(), func(svc *auth.Service) error {
				password, err := readPassword(cmd)
				if err != nil {
					return err
				}
				u, err := svc.Create(cmd.Context(), auth.NewUser{
					Username:    args[0],
					Email:       email,
					DisplayName: display,
					Password:    password,
					Admin:       admin,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s created (id %d)\n", u.Username, u.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&email, "email", "", "email address")
	create.Flags().StringVar(&display, "display", "", "display name (default: username)")
	create.Flags().BoolVar(&admin, "admin", false, "grant admin permissions")

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withAuth(cmd.Context(), func(svc *auth.Service) error {
				users, err := svc.List(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tADMIN\tCREATED")
				for _, u := range users {
					fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", u.ID, u.Username, u.Email, u.Admin, u.CreatedAt.Format(time.DateTime))
				}
				return w.Flush()
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete a user and end their sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withAuth(cmd.Context(), func(svc *auth.Service) error {
				if err := svc.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s deleted\n", args[0])
				return nil
			})
		},
	}

	passwd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Change a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withAuth(cmd.Context(), func(svc *auth.Service) error {
				password, err := readPassword(cmd)
				if err != nil {
					return err
				}
				if err := svc.SetPassword(cmd.Context(), args[0], password); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "password of %s updated\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(create, list, del, passwd)
	return cmd
}

// withAuth opens and migrates the database and hands fn an account service.
func (rt *runtime) withAuth(ctx context.Context, fn func(*auth.Service) error) error {
	db, err := rt.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.Migrate(ctx); err != nil {
		return err
	}
	return fn(auth.NewService(db, rt.logger.Named("auth")))
}

// readPassword prompts twice on a terminal, otherwise reads one line from
// the command input.
func readPassword(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		out := cmd.ErrOrStderr()
		fmt.Fprint(out, "Enter password: ")
		password, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprint(out, "Confirm password: ")
		confirm, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read password confirmation: %w", err)
		}
		if string(password) != string(confirm) {
			return "", errors.New("passwords do not match")
		}
		return string(password), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no password given on stdin")
	}
	return line, nil
}
