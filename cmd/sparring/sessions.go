package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/sparring/internal/domain"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage chat sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List chat sessions in server order",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn, err := a.newStore(cmd.Context(), a.client())
			if err != nil {
				return err
			}
			defer closeFn()

			sessions, err := st.ListSessions(cmd.Context())
			if err != nil {
				return userError(err)
			}
			return writeSessions(cmd.OutOrStdout(), sessions, "")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Create a chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn, err := a.newStore(cmd.Context(), a.client())
			if err != nil {
				return err
			}
			defer closeFn()

			s, err := st.CreateSession(cmd.Context())
			if err != nil {
				return userError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a chat session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn, err := a.newStore(cmd.Context(), a.client())
			if err != nil {
				return err
			}
			defer closeFn()

			if _, err := st.ListSessions(cmd.Context()); err != nil {
				return userError(err)
			}
			return userError(st.RenameSession(cmd.Context(), args[0], strings.Join(args[1:], " ")))
		},
	})

	var yes bool
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a chat session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn, err := a.newStore(cmd.Context(), a.client())
			if err != nil {
				return err
			}
			defer closeFn()

			if _, err := st.ListSessions(cmd.Context()); err != nil {
				return userError(err)
			}
			if err := st.RequestDelete(args[0]); err != nil {
				return userError(err)
			}
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Delete session %s? [y/N] ", args[0])) {
				st.CancelDelete(args[0])
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}
			return userError(st.DeleteSession(cmd.Context(), args[0]))
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.AddCommand(del)

	return cmd
}

func writeSessions(w io.Writer, sessions []domain.ChatSession, activeID string) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tTITLE\tCREATED")
	for _, s := range sessions {
		marker := ""
		if s.ID == activeID {
			marker = "*"
		}
		created := ""
		if !s.CreatedAt.IsZero() {
			created = s.CreatedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", marker, s.ID, s.Title, created)
	}
	return tw.Flush()
}

// userError replaces err with its user-visible message.
func userError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(domain.UserMessage(err))
}
