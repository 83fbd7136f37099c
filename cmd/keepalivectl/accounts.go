package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"keepalive_engine/internal/registry"
)

func newAccountsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account", "acc"},
		Short:   "List and edit accounts",
	}
	cmd.AddCommand(newAccountsListCmd(g))
	cmd.AddCommand(newAccountsAddCmd(g))
	cmd.AddCommand(newAccountsRemoveCmd(g))
	cmd.AddCommand(newAccountsEditCmd(g))
	cmd.AddCommand(newAccountsEnableCmd(g, true))
	cmd.AddCommand(newAccountsEnableCmd(g, false))
	return cmd
}

func newAccountsListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts (passwords are never printed)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tACCOUNT\tENABLED\tSTATUS\tLAST KEEPALIVE")
			for _, acc := range a.Registry.Accounts() {
				last := "-"
				if acc.LastKeepalive != nil {
					last = acc.LastKeepalive.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%s\n", acc.ID, acc.Name, acc.Account, acc.Enabled, acc.Status, last)
			}
			return tw.Flush()
		},
	}
}

func newAccountsAddCmd(g *globalFlags) *cobra.Command {
	var name, account, password string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			id, err := a.Registry.Add(cmd.Context(), name, account, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added account %d (%s)\n", id, name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&account, "account", "", "login identifier")
	cmd.Flags().StringVar(&password, "password", "", "login password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newAccountsRemoveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove an account",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			removed, err := a.Registry.Remove(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("account %d: %w", id, registry.ErrAccountNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed account %d\n", id)
			return nil
		},
	}
}

func newAccountsEditCmd(g *globalFlags) *cobra.Command {
	var name, account, password string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change name, login identifier or password; omitted flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			if err := a.Registry.Update(cmd.Context(), id, name, account, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated account %d\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&account, "account", "", "login identifier")
	cmd.Flags().StringVar(&password, "password", "", "login password")
	return cmd
}

func newAccountsEnableCmd(g *globalFlags, enabled bool) *cobra.Command {
	use, short := "enable <id>", "Enable an account"
	if !enabled {
		use, short = "disable <id>", "Disable an account"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			if err := a.Registry.SetEnabled(cmd.Context(), id, enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %d enabled=%t\n", id, enabled)
			return nil
		},
	}
}

func parseID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid account id %q", raw)
	}
	return id, nil
}
