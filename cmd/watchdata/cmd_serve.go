package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"watchdata/internal/models"
	"watchdata/internal/server"
	"watchdata/internal/storage"
)

const banner = `
                _       _         _       _
 __      ____ _| |_ ___| |__   __| | __ _| |_ __ _
 \ \ /\ / / _' | __/ __| '_ \ / _' |/ _' | __/ _' |
  \ V  V / (_| | || (__| | | | (_| | (_| | || (_| |
   \_/\_/ \__,_|\__\___|_| |_|\__,_|\__,_|\__\__,_|
`

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and import exports on startup",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.openAuth(ctx); err != nil {
				return err
			}

			fmt.Fprint(os.Stderr, banner)
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	retention := storage.RetentionConfig{
		Days:         a.cfg.Retention.Days,
		IntervalMins: a.cfg.Retention.IntervalMins,
	}
	srv := server.New(server.Config{
		Addr:               a.cfg.Addr(),
		MaxConcurrentQuery: a.cfg.Server.MaxConcurrentQuery,
		Retention:          retention,
	}, server.Deps{
		Store:     a.store,
		Importer:  a.importer,
		Dashboard: a.dashboard(),
		Catalog:   a.catalog,
		Auth:      a.auth,
		Log:       a.log,
	})

	a.log.WithFields(logrus.Fields{
		"addr":    srv.Addr,
		"db":      a.cfg.DBPath,
		"exports": a.cfg.RawExportsDir,
		"auth":    a.auth != nil,
	}).Info("starting server")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.WithError(err).Warn("server forced to shutdown")
		}
		return nil
	})

	g.Go(func() error {
		a.store.StartMaintenanceWorker(gctx, retention)
		return nil
	})

	if a.cfg.Import.RescanOnStartup {
		g.Go(func() error {
			res, err := a.importer.StartRescan(gctx, models.ReasonStartup)
			if err != nil {
				a.log.WithError(err).Error("startup rescan failed to start")
				return nil
			}
			a.log.WithFields(logrus.Fields{"run_id": res.RunID, "joined": res.Joined}).Info("startup rescan triggered")
			return nil
		})
	}

	err := g.Wait()
	a.log.Info("server exited")
	return err
}
