package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"querydeck/internal/config"
	"querydeck/internal/core"
	"querydeck/internal/data"
	"querydeck/internal/lifecycle"
	"querydeck/internal/logger"
	"querydeck/internal/service"
)

func main() {
	// Running under the Windows service manager skips the CLI entirely.
	if isRunningAsService() {
		runAsService()
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:          "querydeck",
		Short:        "QueryDeck - multi-tab SQL worksheets with asynchronous execution",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to querydeck.yaml (default ./querydeck.yaml or $QUERYDECK_CONFIG)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "dotenv file holding QUERYDECK_KEY")

	root.AddCommand(
		serveCmd(opts),
		tuiCmd(opts),
		runCmd(opts),
		connCmd(opts),
		historyCmd(opts),
		seedCmd(opts),
	)
	root.AddCommand(serviceCmds()...)
	return root
}

// app holds what every subcommand needs: configuration, the application
// database and the services on top of it.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	db      *sql.DB
	conns   *service.ConnectionService
	history *data.HistoryRepo
	exec    *service.SQLExecutor
}

func openApp(opts *globalOptions) (*app, error) {
	cfg, err := config.LoadFrom(opts.configPath, opts.envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.Log
	log.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	db, err := data.InitDB(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	crypto, err := service.NewEncryptionService(cfg.Key)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init crypto service: %w", err)
	}

	return &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		conns:   service.NewConnectionService(data.NewConnectionRepo(db), crypto, log),
		history: data.NewHistoryRepo(db),
		exec:    service.NewSQLExecutor(log),
	}, nil
}

// newController wires a controller to the SQL executor and the history
// recorder. The recorder must be closed after the controller shuts down.
func (a *app) newController(sinks ...core.EventSink) (*lifecycle.Controller, *service.HistoryRecorder) {
	rec := service.NewHistoryRecorder(a.history, a.log)
	opts := lifecycle.Options{
		Timeout:          a.cfg.Query.Timeout.Duration,
		ProgressInterval: a.cfg.Query.ProgressInterval.Duration,
		Workers:          a.cfg.Query.Workers,
	}
	return lifecycle.New(a.exec, rec, opts, a.log, sinks...), rec
}

func (a *app) Close() error {
	return a.db.Close()
}
