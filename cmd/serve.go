package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/noflyroute/internal/api"
	"github.com/sells-group/noflyroute/internal/metrics"
	"github.com/sells-group/noflyroute/internal/pipeline"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve route planning over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore(st)

		var (
			collector *metrics.Collector
			opts      []pipeline.Option
		)
		if cfg.Server.Metrics {
			collector, err = metrics.New(nil)
			if err != nil {
				return err
			}
			opts = append(opts, pipeline.WithObserver(collector))
		}

		scene, err := prepareScene(ctx, st, opts...)
		if err != nil {
			return eris.Wrap(err, "serve: prepare scene")
		}
		collector.SetScene(scene.Graph.Len(), scene.Graph.EdgeCount(), scene.Zones.Len())

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: api.NewRouter(scene, api.Options{
				Multiplier:     cfg.Planner.Multiplier,
				AllowedOrigins: cfg.Server.AllowedOrigins,
				Timeout:        cfg.Server.RequestTimeout,
				Metrics:        collector,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.String("region", scene.Region.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
