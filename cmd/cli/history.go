package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/celia/internal/auth"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var flags identityFlags

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage saved conversations",
	}
	flags.register(cmd)

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.app(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := c.resolveIdentity(ctx, a.Auth, flags, true)
			if err != nil {
				return err
			}
			records, err := a.History.List(auth.WithIdentity(ctx, id))
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved conversations.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tSAVED\tMESSAGES")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", rec.ID, rec.Title, rec.SavedAt, len(rec.Messages))
			}
			return w.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.app(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := c.resolveIdentity(ctx, a.Auth, flags, true)
			if err != nil {
				return err
			}
			if err := a.History.Delete(auth.WithIdentity(ctx, id), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}
