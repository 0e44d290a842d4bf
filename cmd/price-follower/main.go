// Package main boots the marketplace price follower.
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

	"github.com/fairyhunter13/price-follower/internal/auth"
	"github.com/fairyhunter13/price-follower/internal/config"
	"github.com/fairyhunter13/price-follower/internal/gateway"
	httpapi "github.com/fairyhunter13/price-follower/internal/http"
	"github.com/fairyhunter13/price-follower/internal/marketplace"
	"github.com/fairyhunter13/price-follower/internal/obs"
	"github.com/fairyhunter13/price-follower/internal/pricing"
	"github.com/fairyhunter13/price-follower/internal/quota"
	"github.com/fairyhunter13/price-follower/internal/retry"
	"github.com/fairyhunter13/price-follower/internal/scheduler"
	"github.com/fairyhunter13/price-follower/internal/source"
	"github.com/fairyhunter13/price-follower/internal/store"
)

type ruleSource interface {
	scheduler.Source
	Close() error
}

func main() {
	if err := run(); err != nil {
		obs.Logger.Error("service_failed", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	obs.InitLogger()
	if err := config.LoadDotenv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.InitLoggerWith(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	obs.Logger.Info("service_starting", "workers", cfg.Workers, "source", cfg.SourceDriver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := obs.InitTelemetry(ctx, obs.TelemetryConfig{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			obs.Logger.Warn("telemetry_shutdown_error", "error", err.Error())
		}
	}()

	var tokens auth.TokenStore = auth.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rs := auth.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rs.Close()
		if err := rs.Ping(ctx); err != nil {
			obs.Logger.Warn("token_store_unreachable", "addr", cfg.RedisAddr, "error", err.Error())
		}
		tokens = rs
	}
	provider := auth.NewProvider(auth.Config{
		URL:      cfg.AuthURL,
		ClientID: cfg.ClientID,
		ID:       cfg.AuthID,
		Secret:   cfg.AuthSecret,
	}, tokens, nil)

	gw := gateway.New(gateway.Options{
		URL:     cfg.GraphQLURL,
		Timeout: cfg.RequestTimeout,
		RPS:     cfg.RequestRPS,
		Headers: map[string]string{"X-Proxy-Secret": cfg.ProxySecret},
	}, provider)
	defer gw.Close()
	if err := marketplace.RegisterSchemas(gw); err != nil {
		return fmt.Errorf("register schemas: %w", err)
	}

	svc := marketplace.New(gw, retry.New(cfg.RetryDefaultWait, cfg.RetryCeiling), "EUR")
	engine := pricing.NewEngine(svc, pricing.WithTopN(cfg.EnrichTopN), pricing.WithCommissioner(svc))

	src, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	reports := store.New()
	sched := scheduler.New(src, engine, quota.NewGate(svc), svc, scheduler.Options{
		Workers:    cfg.Workers,
		Interval:   cfg.SleepTime,
		RetryDelay: cfg.RoundRetryDelay,
		Recorder:   reports,
	})

	var srv *http.Server
	app := httpapi.NewApp(cfg, reports, sched)
	if cfg.HTTPAddr != "" {
		srv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpapi.NewRouter(app),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			obs.Logger.Info("http_listen", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				obs.Logger.Error("http_server_error", "error", err.Error())
				stop()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx)
	}()

	<-ctx.Done()
	obs.Logger.Info("shutdown_signal")
	app.StartShutdown()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelDrain()
	select {
	case <-done:
		obs.Logger.Info("shutdown_drain_complete")
	case <-drainCtx.Done():
		obs.Logger.Warn("shutdown_drain_timeout", "rows_in_flight", sched.Counters().InFlight)
	}

	if srv != nil {
		srvCtx, cancelSrv := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelSrv()
		if err := srv.Shutdown(srvCtx); err != nil {
			obs.Logger.Error("http_shutdown_error", "error", err.Error())
		}
	}
	obs.Logger.Info("service_stopped")
	return nil
}

func openSource(ctx context.Context, cfg config.Config) (ruleSource, error) {
	switch cfg.SourceDriver {
	case "postgres":
		return source.OpenPostgres(ctx, cfg.DatabaseURL, int32(cfg.Workers+1))
	default:
		return source.OpenSQLite(ctx, cfg.SQLitePath)
	}
}
