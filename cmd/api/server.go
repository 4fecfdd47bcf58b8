package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/petermazzocco/go-image-sharing/internal/auth"
	"github.com/petermazzocco/go-image-sharing/internal/handlers"
	"github.com/petermazzocco/go-image-sharing/internal/viewlog"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serve(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()
	cfg := e.cfg

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	imgs, us, err := e.services(ctx)
	if err != nil {
		return err
	}
	views, closeViews, err := e.viewStore(ctx)
	if err != nil {
		return err
	}
	defer closeViews()

	// Session store and OAuth
	store := auth.NewCookieStore(cfg.Session)
	external := auth.UseProviders(cfg.Google)

	h := &handlers.Handler{
		Users:          us,
		Images:         imgs,
		Views:          viewlog.New(views, e.log),
		Auth:           auth.NewManager(store, us, e.log, cfg.Session.MaxAge),
		Log:            e.log,
		MaxUploadBytes: cfg.Images.MaxUploadBytes(),
		SecureCookies:  cfg.Session.Secure,
		Ping: func(ctx context.Context) error {
			sqlDB, err := e.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: handlers.NewRouter(h, handlers.RouterOptions{
			RateLimit:     cfg.RateLimit.Requests,
			RateWindow:    cfg.RateLimit.Window,
			ExternalLogin: external,
			CSRFSecret:    cfg.Session.Secret,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		imgs.RunReconciler(gctx, cfg.Images.ReconcileInterval)
		return nil
	})
	eg.Go(func() error {
		e.log.Info("server starting",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("env", cfg.Env),
			zap.String("blob_provider", cfg.Blob.Provider),
			zap.String("log_store", cfg.LogStore),
			zap.Bool("external_login", external))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-gctx.Done()
		e.log.Info("server stopping")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := eg.Wait(); err != nil {
		e.log.Error("server stopped with error", zap.Error(err))
		return err
	}
	e.log.Info("server stopped")
	return nil
}
