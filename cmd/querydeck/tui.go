package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"querydeck/internal/logger"
	"querydeck/internal/tui"
)

func tuiCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal worksheet UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := logger.InitFile(a.cfg.Logging.Dir, a.cfg.Logging.Level); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			ctrl, rec := a.newController()
			defer rec.Close()

			p := tea.NewProgram(tui.New(ctrl, a.conns, a.history), tea.WithAltScreen())
			ctrl.AddSink(tui.NewSink(p))

			_, runErr := p.Run()

			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Query.ShutdownGrace.Duration)
			defer cancel()
			if err := ctrl.Shutdown(ctx); err != nil {
				a.log.WithError(err).Warn("Query controller shutdown incomplete")
			}
			return runErr
		},
	}
}
