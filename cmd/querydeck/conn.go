package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"querydeck/internal/core"
	"querydeck/internal/service"
)

func connCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conn",
		Short: "Manage saved connections",
	}
	cmd.AddCommand(
		connListCmd(opts),
		connAddCmd(opts),
		connRemoveCmd(opts),
		connTablesCmd(opts),
	)
	return cmd
}

func connListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved connections as category -> group -> name",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			joined, err := a.conns.Joined()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(joined) == 0 {
				fmt.Fprintln(out, "No saved connections.")
				return nil
			}
			for _, j := range joined {
				fmt.Fprintf(out, "%4d  %-9s  %s\n", j.Connection.ID, j.Connection.Driver, j.Label())
			}
			return nil
		},
	}
}

func connAddCmd(opts *globalOptions) *cobra.Command {
	var (
		category, group string
		conn            core.ConnectionDescriptor
		options         []string
		askPassword     bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Save a connection, creating its category and group when missing",
		Example: `  querydeck conn add --category Local --group Files --name scratch --driver sqlite --path ./scratch.db
  querydeck conn add --category Prod --group EU --name orders --driver postgres --host db.internal --database orders --user app -W`,
		RunE: func(cmd *cobra.Command, args []string) error {
			driverOpts, err := parseOptions(options)
			if err != nil {
				return err
			}
			conn.Options = driverOpts
			if askPassword {
				pw, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				conn.Password = pw
			}

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			groupID, err := ensureGroup(a.conns, category, group)
			if err != nil {
				return err
			}
			conn.GroupID = groupID
			if err := a.conns.Create(&conn); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved connection %d: %s\n", conn.ID, core.ConnectionLabel(category, group, conn.Name))
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "Default", "category name")
	cmd.Flags().StringVar(&group, "group", "Default", "group name")
	cmd.Flags().StringVar(&conn.Name, "name", "", "connection name")
	cmd.Flags().StringVar(&conn.Driver, "driver", "", "sqlite, postgres, pgx, mysql, sqlserver or odbc")
	cmd.Flags().StringVar(&conn.Path, "path", "", "database file (sqlite)")
	cmd.Flags().StringVar(&conn.Host, "host", "", "server host")
	cmd.Flags().IntVar(&conn.Port, "port", 0, "server port (driver default when 0)")
	cmd.Flags().StringVar(&conn.Database, "database", "", "database name")
	cmd.Flags().StringVar(&conn.User, "user", "", "user name")
	cmd.Flags().StringArrayVarP(&options, "option", "o", nil, "driver option key=value (repeatable)")
	cmd.Flags().BoolVarP(&askPassword, "password", "W", false, "prompt for the password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("driver")
	return cmd
}

func connRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a saved connection and its history",
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

			if _, err := a.conns.Get(id); err != nil {
				return err
			}
			if err := a.conns.Delete(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted connection %d\n", id)
			return nil
		},
	}
}

func connTablesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables <id>",
		Short: "List the tables and views of a connection",
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

			conn, err := a.conns.Resolve(id)
			if err != nil {
				return err
			}
			tables, err := service.NewSchemaBrowser(a.exec).Tables(cmd.Context(), conn)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range tables {
				name := t.Name
				if t.Schema != "" {
					name = t.Schema + "." + t.Name
				}
				fmt.Fprintf(out, "%-6s %s\n", t.Type, name)
			}
			return nil
		},
	}
}

// ensureGroup finds the group by category and group name, creating either
// when missing.
func ensureGroup(conns *service.ConnectionService, category, group string) (int64, error) {
	tree, err := conns.Tree()
	if err != nil {
		return 0, err
	}
	var catID int64
	for _, c := range tree {
		if c.Name != category {
			continue
		}
		catID = c.ID
		for _, g := range c.Groups {
			if g.Name == group {
				return g.ID, nil
			}
		}
	}
	if catID == 0 {
		cat, err := conns.CreateCategory(category)
		if err != nil {
			return 0, err
		}
		catID = cat.ID
	}
	g, err := conns.CreateGroup(catID, group)
	if err != nil {
		return 0, err
	}
	return g.ID, nil
}

func parseOptions(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("option %q is not key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

// readPassword reads without echo from a terminal, or one line otherwise.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	fmt.Fprint(prompt, "Password: ")
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt) // newline after hidden input
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
