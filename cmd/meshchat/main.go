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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Mesh/internal/adapters/http"
	"github.com/dkeye/Mesh/internal/adapters/media"
	"github.com/dkeye/Mesh/internal/adapters/rtc"
	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/app/mesh"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/identity"
	"github.com/dkeye/Mesh/internal/keystore"
	"github.com/dkeye/Mesh/internal/metrics"
	"github.com/dkeye/Mesh/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("meshchat stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("meshchat exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	self, err := identity.NewManager(fs, cfg.DataDir).Load()
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	prof, err := domain.NewProfile(self, string(self))
	if err != nil {
		return err
	}

	db, err := store.OpenSQLite(fs, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	devices, err := media.NewDevices(cfg.Media.VideoBitrate, cfg.Media.MaxWidth)
	if err != nil {
		return fmt.Errorf("media devices: %w", err)
	}
	defer devices.Close()

	api, err := rtc.NewAPI(devices, cfg.Loopback)
	if err != nil {
		return fmt.Errorf("webrtc api: %w", err)
	}
	dialCtx, dialCancel := context.WithTimeout(ctx, 15*time.Second)
	sess, err := rtc.Dial(dialCtx, rtc.Config{URL: cfg.Rendezvous.URL, ICEServers: cfg.ICEServers}, self, api)
	dialCancel()
	if err != nil {
		return fmt.Errorf("rendezvous: %w", err)
	}

	node := mesh.New(mesh.Deps{
		Signaler: sess,
		Devices:  devices,
		Store:    db,
		Profile:  *prof,
		Policy:   app.SimplePolicy{MaxStrikes: 32},
		Metrics:  m,
		Volume:   cfg.OutputVolume,
	})
	node.Start()
	defer node.Close()

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Mesh:     node,
		Keys:     keystore.New(fs, cfg.DataDir),
		Devices:  devices,
		Gatherer: reg,
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("peer_id", string(self)).Msg("meshchat started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
