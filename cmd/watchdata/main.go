package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"watchdata/internal/auth"
	"watchdata/internal/catalog"
	"watchdata/internal/config"
	"watchdata/internal/dashboard"
	"watchdata/internal/ingest"
	"watchdata/internal/parser"
	"watchdata/internal/storage"
	"watchdata/internal/tracker"
)

// Build-time variables set via ldflags.
var (
	version = "0.1.0"
	commit  = ""
)

var (
	flagConfig   string
	flagDB       string
	flagExports  string
	flagPort     string
	flagLogLevel string
	flagFmt      string
)

func versionString() string {
	if commit != "" {
		return fmt.Sprintf("watchdata version %s (commit: %s)", version, commit)
	}
	return fmt.Sprintf("watchdata version %s-dev", version)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "watchdata",
		Short:        "watchdata, Apple Health exports in DuckDB",
		Version:      versionString(),
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "YAML config file (env values override it)")
	pf.StringVar(&flagDB, "db", "", "DuckDB file (env: DUCKDB_PATH)")
	pf.StringVar(&flagExports, "exports", "", "Directory holding export.xml files (env: RAW_EXPORTS_DIR)")
	pf.StringVar(&flagPort, "port", "", "HTTP port (env: WATCHDATA_PORT)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (env: WATCHDATA_LOG_LEVEL)")
	pf.StringVar(&flagFmt, "format", "json", "Output format: json|table")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newResetCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newQualityCmd())
	rootCmd.AddCommand(newGoalsCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newKeysCmd())
	return rootCmd
}

// loadConfig resolves defaults, file and env, then applies flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagExports != "" {
		cfg.RawExportsDir = flagExports
	}
	if flagPort != "" {
		cfg.Server.Port = flagPort
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}

	if err := cfg.Finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// app holds the components every command works with.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	store    *storage.Storage
	catalog  *catalog.Catalog
	importer *ingest.Coordinator
	auth     *auth.Auth
}

// openApp loads configuration and opens the database. The caller must Close it.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log := newLogger(cfg.Log)

	store, err := storage.New(cfg.DBPath, log)
	if err != nil {
		return nil, err
	}

	cat := catalog.Default()
	if err := store.EnsureGoals(ctx, cat); err != nil {
		store.Close()
		return nil, err
	}

	p := parser.New(cat, log, parser.WithHighWater(cfg.Import.QueueHighWater))
	imp := ingest.New(store, p, tracker.New(cfg.RawExportsDir), cat, ingest.Config{
		StaleAfter:       cfg.Import.StaleAfter,
		FlushInterval:    cfg.Import.FlushInterval,
		FlushRecordsSeen: cfg.Import.FlushRecordsSeen,
		FlushBytes:       cfg.Import.FlushBytes,
		FlushParsed:      cfg.Import.FlushParsed,
	}, log)

	return &app{cfg: cfg, log: log, store: store, catalog: cat, importer: imp}, nil
}

// openAuth opens the API key database when auth is enabled.
func (a *app) openAuth(ctx context.Context) error {
	if !a.cfg.Auth.Enabled {
		return nil
	}
	au, err := auth.New(a.cfg.Auth.DBPath, a.cfg.Auth.Pepper.Value(), a.log)
	if err != nil {
		return err
	}
	if err := au.Bootstrap(ctx, a.cfg.Auth.BootstrapKey.Value()); err != nil {
		au.Close()
		return fmt.Errorf("bootstrap key: %w", err)
	}
	a.auth = au
	return nil
}

func (a *app) dashboard() *dashboard.Service {
	return dashboard.New(a.store, a.catalog, a.cfg.RollingWindowDays)
}

// Close stops the importer before closing the databases it writes to.
func (a *app) Close() {
	a.importer.Close()
	if a.auth != nil {
		if err := a.auth.Close(); err != nil {
			a.log.WithError(err).Warn("error closing auth db")
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("error closing storage")
	}
}
