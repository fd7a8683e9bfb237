package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/access"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/auth"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/gc"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/server"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/upload"
)

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the scheduled collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			// Refuse to start if secrets are missing.
			if err := cfg.RequireServeSecrets(); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	ucfg := upload.Config{
		PartURLTTL:        cfg.Upload.PartURLTTL,
		DefaultExpiryDays: cfg.Upload.DefaultExpiryDays,
		MaxExpiryDays:     cfg.Upload.MaxExpiryDays,
		MaxRelayBytes:     cfg.Upload.MaxRelayBytes,
		TempDir:           cfg.Upload.TempDir,
	}
	authn, err := auth.NewStaticAuthenticator(cfg.Auth.Username, cfg.Auth.Password)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:          cfg.Server.Addr,
		BaseURL:       cfg.Server.BaseURL,
		RateRPS:       cfg.Server.RateLimit.RPS,
		RateBurst:     cfg.Server.RateLimit.Burst,
		CORSOrigins:   splitList(cfg.Server.CORSOrigins),
		SecureCookies: cfg.Auth.SecureCookies,
	}, server.Deps{
		Repo:        a.repo,
		Store:       a.store,
		Coordinator: upload.NewCoordinator(a.repo, a.store, ucfg, log),
		Relay:       upload.NewRelay(a.repo, a.store, ucfg, log),
		Gate:        access.NewGate(a.repo, a.store, a.reclaimer, cfg.Access.GrantTTL, log),
		Grants:      access.NewGrantCodec(cfg.Access.GrantSecret),
		Collector:   a.collector,
		Auth:        authn,
		Sessions: auth.NewSessions(auth.SessionConfig{
			Secret: cfg.Auth.SessionSecret,
			TTL:    cfg.Auth.SessionTTL,
			Secure: cfg.Auth.SecureCookies,
		}),
		Log: log,
	})

	var sched *gc.Scheduler
	if cfg.GC.Enabled {
		sched, err = gc.NewScheduler(ctx, a.collector, cfg.GC.Schedule, log)
		if err != nil {
			return err
		}
		sched.Start()
	}

	// Serve in the background so signals can be handled here.
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting", zap.String("addr", cfg.Server.Addr), zap.String("version", version))
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		log.Info("shutting down", zap.Error(ctx.Err()))
	case runErr = <-errCh:
		if runErr != nil {
			log.Error("server error", zap.Error(runErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	log.Info("shutdown complete")
	return runErr
}
