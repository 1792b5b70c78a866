package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hed1ad/gothreatml/pkg/alerts"
	"github.com/hed1ad/gothreatml/pkg/config"
	"github.com/hed1ad/gothreatml/pkg/dataset"
	"github.com/hed1ad/gothreatml/pkg/detector"
	"github.com/hed1ad/gothreatml/pkg/server"
	"github.com/hed1ad/gothreatml/pkg/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve predictions, alerts and live updates over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log := slog.Default()

		d := detector.New(detector.WithSeed(cfg.Model.Seed))
		if err := d.LoadBundle(cfg.Model.BundleDir); err != nil {
			if !errors.Is(err, detector.ErrIncompleteBundle) {
				return err
			}
			// First run: train on synthetic data and persist the bundle
			// so later starts skip this step.
			log.Info("no model bundle found, training", "dir", cfg.Model.BundleDir)
			if _, err := d.Train(dataset.Synthetic(cfg.Model.Seed, 10000)); err != nil {
				return err
			}
			if err := d.SaveBundle(cfg.Model.BundleDir); err != nil {
				return err
			}
		}

		store, err := alerts.OpenStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		notifier := alerts.NewNotifier(alerts.WithBuffer(cfg.Live.Buffer))
		defer notifier.Close()

		pipeline := service.NewPipeline(d, store, notifier)
		srv := server.New(pipeline)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Simulator.Enabled {
			simOpts := []service.SimulatorOption{
				service.WithInterval(cfg.Simulator.Interval.Std()),
			}
			if cfg.Simulator.Seed != 0 {
				simOpts = append(simOpts, service.WithSimulatorSeed(cfg.Simulator.Seed))
			}
			go service.NewSimulator(pipeline, simOpts...).Run(ctx)
			log.Info("traffic simulator running", "interval", cfg.Simulator.Interval.Std())
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Listen(cfg.Server.Addr)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
