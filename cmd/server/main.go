package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Meet/internal/adapters/http"
	"github.com/dkeye/Meet/internal/adapters/directory"
	"github.com/dkeye/Meet/internal/adapters/identity"
	wssignal "github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	dir, closer, err := openDirectory(ctx, cfg.Directory)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Directory.Backend).Msg("failed to open directory")
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.Error().Err(err).Msg("directory close")
		}
	}()

	policy, err := app.PolicyByName(cfg.SlowConsumer)
	if err != nil {
		log.Fatal().Err(err).Msg("bad slow consumer policy")
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics()
	if err := m.Register(promReg); err != nil {
		log.Fatal().Err(err).Msg("failed to register metrics")
	}

	reg := app.NewRegistry()
	o := &orch.Orchestrator{
		Registry:         reg,
		Rooms:            app.NewRoomManager(),
		Relay:            &app.Relay{Registry: reg, Directory: dir, Timeout: cfg.Directory.Timeout},
		Policy:           policy,
		Directory:        dir,
		Identity:         identity.NewJWTVerifier(cfg.JWTSecret, cfg.JWTPreviousSecret, cfg.JWTLeeway),
		Metrics:          m,
		AuthTimeout:      cfg.AuthTimeout,
		DirectoryTimeout: cfg.Directory.Timeout,
	}
	limiter := wssignal.NewRoomRateLimiter(cfg.CreateRateLimit, cfg.CreateRateInterval)

	r := router.SetupRouter(ctx, cfg, o, limiter, promReg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("directory", cfg.Directory.Backend).Msg("Meet server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		return
	}
	log.Info().Msg("Server exited gracefully")
}

func openDirectory(ctx context.Context, cfg config.Directory) (core.Directory, io.Closer, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		d := directory.NewRedis(client)
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := d.Ping(pingCtx); err != nil {
			// in-memory registries stay authoritative while redis is down
			log.Warn().Err(err).Str("module", "main").Str("addr", cfg.RedisAddr).Msg("redis not reachable at startup")
		}
		return d, client, nil
	case "postgres":
		d, err := directory.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil
	default:
		return directory.NewMemory(), io.NopCloser(nil), nil
	}
}
