package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"specline/internal/engine"
	"specline/internal/events"
	"specline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var cacheTTL time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
				cfg := e.App.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				secret := viper.GetString("jwt-secret")
				if secret == "" {
					secret = cfg.Server.JWTSecret
				}
				if secret == "" && !cfg.Server.AllowActorHeader {
					return fmt.Errorf("server.jwt_secret or SPECLINE_JWT_SECRET is required when allow_actor_header is off")
				}
				cache := &server.SnapshotCache{Build: e.Snapshot, MaxAge: cacheTTL, Logger: logger}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Cache:    cache,
					Logger:   logger,
					Auth: server.AuthConfig{
						JWTSecret:              secret,
						AllowLegacyActorHeader: cfg.Server.AllowActorHeader,
						DevLogin:               cfg.Server.DevLogin,
						Logger:                 logger,
					},
				})
				if err != nil {
					return err
				}
				dispatcher := &server.WebhookDispatcher{
					Reader:   events.Reader{DB: e.DB},
					Cursors:  events.Cursors{DB: e.DB},
					Webhooks: cfg.Webhooks,
					Project:  cfg.Project.Name,
					Logger:   logger,
				}
				srv := &http.Server{Addr: addr, Handler: handler}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					logger.Info("serving specline API", "addr", addr, "base_path", basePath, "docs", "/docs")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					return cache.Watch(gctx, e.App.SpecsDir, e.App.ArchiveDir)
				})
				g.Go(func() error {
					return dispatcher.Run(gctx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path or /v0)")
	cmd.Flags().DurationVar(&cacheTTL, "cache-ttl", 30*time.Second, "maximum age of the cached dependency snapshot")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}
