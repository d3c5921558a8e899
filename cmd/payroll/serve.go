package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/warp/piecework-payroll/api"
)

// serveCmd starts the HTTP API.
//
// GRACEFUL SHUTDOWN:
//
//	On SIGINT/SIGTERM:
//	1. Stop accepting new connections
//	2. Wait for active requests to complete (30s timeout)
//	3. Stop the rebuilder
//	4. Close database connection
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the payroll API server and the background rebuilder that keeps
persisted payroll records current after every write.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		sweep, err := a.Config.Sweep()
		if err != nil {
			return err
		}

		handler := api.NewHandler(a.Store, a.Service, a.Log)
		handler.BatchConcurrency = a.Config.Payroll.BatchConcurrency

		rebuilder := api.NewRebuilder(a.Service, a.Store, a.Log)
		rebuilder.Workers = a.Config.Payroll.RebuildWorkers
		rebuilder.QueueSize = a.Config.Payroll.RebuildQueue
		rebuilder.SweepInterval = sweep
		a.Service.Subscribe(rebuilder.OnChange)
		rebuilder.Start()
		defer rebuilder.Stop()

		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", a.Config.App.Port),
			Handler:      api.NewRouter(handler, a.Config.Origins()),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			a.Log.WithField("addr", server.Addr).Info("server starting")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		// Wait for interrupt signal
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case err := <-errCh:
			return errors.Wrap(err, "server failed")
		}

		a.Log.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return errors.Wrap(err, "server forced to shutdown")
		}

		a.Log.Info("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
