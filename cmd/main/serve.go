package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"www.github.com/Wanderer0074348/HybridRouter/src/handlers"
	"www.github.com/Wanderer0074348/HybridRouter/src/middleware"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the retrain scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	// the ledger starts from the last persisted training run
	if err := a.trainer.Publish(ctx); err != nil {
		a.logger.WithError(err).Warn("Failed to grade trained confidence")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(a.logger))
	r.Use(middleware.CORS(a.cfg.Server.AllowedOrigins))

	deps := handlers.Deps{
		Router:     a.engine,
		Cache:      a.cache,
		Provider:   a.executor,
		Patterns:   a.ledger,
		Metrics:    a.collector,
		AutoRoute:  a.cfg.Router.AutoRoute,
		WindowDays: a.cfg.Metrics.WindowDays,
		Logger:     a.logger,
	}
	if a.cfg.Trainer.Enabled {
		deps.Trainer = a.trainer
	}
	handlers.New(deps).Register(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.WithField("port", a.cfg.Server.Port).Info("HybridRouter listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.cfg.Trainer.Enabled {
		g.Go(func() error {
			return a.trainer.Run(ctx, a.cfg.Trainer.Interval)
		})
	}

	err = g.Wait()
	a.logger.Info("Server exited")
	return err
}
