package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"querydeck/internal/core"
)

var errQueryFailed = errors.New("query did not succeed")

// outcomeWaiter is an event sink that hands the first outcome to the caller
// and optionally echoes progress.
type outcomeWaiter struct {
	outcomes chan core.Outcome
	progress io.Writer
}

func (w *outcomeWaiter) OnPhaseChanged(core.SessionID, core.Phase) {}

func (w *outcomeWaiter) OnProgress(_ core.SessionID, elapsed time.Duration) {
	if w.progress != nil {
		fmt.Fprintf(w.progress, "\rRunning... %.1f sec", elapsed.Seconds())
	}
}

func (w *outcomeWaiter) OnOutcome(_ core.SessionID, o core.Outcome) {
	select {
	case w.outcomes <- o:
	default:
	}
}

func runCmd(opts *globalOptions) *cobra.Command {
	var (
		connID  int64
		file    string
		timeout time.Duration
		quiet   bool
	)
	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Run one statement against a saved connection and print the result",
		Example: `  querydeck run --conn 1 "SELECT * FROM users;"
  querydeck run --conn 1 --file report.sql
  echo "SELECT 1;" | querydeck run --conn 1 -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readQuery(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			if timeout > 0 {
				a.cfg.Query.Timeout.Duration = timeout
			}

			conn, err := a.conns.Resolve(connID)
			if err != nil {
				return err
			}

			waiter := &outcomeWaiter{outcomes: make(chan core.Outcome, 1)}
			if !quiet && term.IsTerminal(int(os.Stderr.Fd())) {
				waiter.progress = cmd.ErrOrStderr()
			}
			ctrl, rec := a.newController(waiter)
			defer rec.Close()
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Query.ShutdownGrace.Duration)
				defer cancel()
				_ = ctrl.Shutdown(ctx)
			}()

			const session core.SessionID = "cli"
			if _, err := ctrl.Submit(session, conn, text); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var outcome core.Outcome
			select {
			case outcome = <-waiter.outcomes:
			case <-ctx.Done():
				ctrl.Cancel(session)
				outcome = <-waiter.outcomes
			}
			if waiter.progress != nil {
				fmt.Fprint(waiter.progress, "\r\033[K")
			}

			printOutcome(cmd.OutOrStdout(), outcome)
			if outcome.Kind != core.OutcomeSuccess {
				cmd.SilenceErrors = true
				return errQueryFailed
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&connID, "conn", 0, "saved connection id (see `querydeck conn list`)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the statement from a file")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "query timeout (overrides config)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not show progress")
	_ = cmd.MarkFlagRequired("conn")
	return cmd
}

func readQuery(stdin io.Reader, file string, args []string) (string, error) {
	switch {
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read query file: %w", err)
		}
		return string(b), nil
	case len(args) == 1 && args[0] == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read query from stdin: %w", err)
		}
		return string(b), nil
	case len(args) == 1:
		return args[0], nil
	default:
		return "", errors.New("no query given: pass it as an argument, with --file, or as - for stdin")
	}
}

func printOutcome(w io.Writer, o core.Outcome) {
	if o.Kind == core.OutcomeSuccess && o.IsSelect && len(o.Columns) > 0 {
		rows := make([][]string, len(o.Rows))
		for i, r := range o.Rows {
			row := make([]string, len(r))
			for j, v := range r {
				if v == nil {
					row[j] = "NULL"
				} else {
					row[j] = strings.TrimSpace(fmt.Sprint(v))
				}
			}
			rows[i] = row
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers(o.Columns...).
			Rows(rows...)
		fmt.Fprintln(w, t.String())
	}
	fmt.Fprintln(w, o.Summary())
}
