package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newSessionsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"s"},
		Short:   "List and manage server sessions",
	}

	apiFor := func(cmd *cobra.Command) (*SessionAPI, Config, error) {
		cfg, err := LoadConfig(*cfgPath)
		if err != nil {
			return nil, Config{}, err
		}
		api, err := NewSessionAPI(cfg.ServerURL, cfg.Token, nil)
		return api, cfg, err
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, _, err := apiFor(cmd)
			if err != nil {
				return err
			}
			sessions, err := api.List(cmd.Context())
			if err != nil {
				return err
			}
			return printSessions(cmd.OutOrStdout(), sessions)
		},
	}

	var cols, rows int
	createCmd := &cobra.Command{
		Use:   "create [session-id]",
		Short: "Create a session (random id when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, _, err := apiFor(cmd)
			if err != nil {
				return err
			}
			id := uuid.NewString()
			if len(args) == 1 {
				id = args[0]
			}
			size := GridSize{Cols: cols, Rows: rows}
			if !size.Valid() {
				return fmt.Errorf("invalid size %s", size)
			}
			if err := api.Create(cmd.Context(), id, size); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
	createCmd.Flags().IntVar(&cols, "cols", 80, "terminal columns")
	createCmd.Flags().IntVar(&rows, "rows", 24, "terminal rows")

	deleteCmd := &cobra.Command{
		Use:     "delete <session-id>...",
		Aliases: []string{"rm"},
		Short:   "Kill sessions",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, _, err := apiFor(cmd)
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := api.Delete(cmd.Context(), id); err != nil {
					return err
				}
			}
			return nil
		},
	}

	renameCmd := &cobra.Command{
		Use:   "rename <session-id> <name>",
		Short: "Set a session's display name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, _, err := apiFor(cmd)
			if err != nil {
				return err
			}
			return api.Rename(cmd.Context(), args[0], args[1])
		},
	}

	var raw bool
	historyCmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print a session's stored output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, _, err := apiFor(cmd)
			if err != nil {
				return err
			}
			h, err := api.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := h.History
			if !raw {
				out = ansi.Strip(out)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	}
	historyCmd.Flags().BoolVar(&raw, "raw", false, "keep escape sequences")

	sendCmd := &cobra.Command{
		Use:   "send <session-id> <command>...",
		Short: "Send a command line to a session without attaching",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := apiFor(cmd)
			if err != nil {
				return err
			}
			dialer, err := NewWSDialer(cfg.ServerURL, cfg.Token)
			if err != nil {
				return err
			}
			return sendLine(cmd.Context(), dialer, args[0], strings.Join(args[1:], " "))
		},
	}

	cmd.AddCommand(listCmd, createCmd, deleteCmd, renameCmd, historyCmd, sendCmd)
	return cmd
}

func printSessions(w io.Writer, sessions []SessionInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED\tLAST ACTIVE")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.CreatedAt, s.LastActive)
	}
	return tw.Flush()
}

// sendLine opens a one-off channel, writes line and closes it.
func sendLine(ctx context.Context, dialer Dialer, id, line string) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	ch, err := dialer.Dial(ctx, id, GridSize{})
	if err != nil {
		return fmt.Errorf("connect %s: %w", id, err)
	}
	defer ch.Close()
	if err := ch.WriteMessage([]byte(line + "\n")); err != nil {
		return fmt.Errorf("send to %s: %w", id, err)
	}
	return nil
}
