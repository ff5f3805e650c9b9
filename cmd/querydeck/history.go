package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"querydeck/internal/core"
	"querydeck/internal/service"
)

func historyCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and clean up query history",
	}
	cmd.AddCommand(
		historyListCmd(opts),
		historyRemoveCmd(opts),
		historyClearCmd(opts),
		historyPruneCmd(opts),
	)
	return cmd
}

func historyListCmd(opts *globalOptions) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "list <connection-id>",
		Short: "Show the history of a connection, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connID, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.history.List(connID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No history.")
				return nil
			}
			for _, e := range entries {
				if verbose {
					fmt.Fprintf(out, "#%d\n%s\n\n", e.ID, e.Details())
					continue
				}
				fmt.Fprintf(out, "%5d  %s  %-9s  %s\n", e.ID, e.Timestamp.Format("2006-01-02 15:04:05"), e.Status, core.ShortQuery(e.Query))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show full entries")
	return cmd
}

func historyRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <entry-id>",
		Short: "Delete one history entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.history.Remove(id)
		},
	}
}

func historyClearCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <connection-id>",
		Short: "Delete all history of a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connID, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.history.RemoveAll(connID)
		},
	}
}

func historyPruneCmd(opts *globalOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("days") {
				days = a.cfg.History.RetentionDays
			}
			if days <= 0 {
				return fmt.Errorf("no retention period: pass --days or set history.retention_days")
			}
			n, err := service.NewRetention(a.history, days, a.log).Prune()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries older than %d days\n", n, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention period in days (overrides config)")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
