package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/morphproxy/morph/internal/api"
	"github.com/morphproxy/morph/internal/config"
	"github.com/morphproxy/morph/internal/logging"
	"github.com/morphproxy/morph/internal/metrics"
	"github.com/morphproxy/morph/internal/natsstreaming"
)

// Server ties the gateway to its listeners, the admin endpoint, the config
// watcher, and the optional broker bridge.
type Server struct {
	gateway     *Gateway
	stats       *metrics.Collector
	watcher     *config.Watcher
	listeners   []*http.Server
	adminServer *http.Server
	heartbeat   *natsstreaming.HeartbeatHandler
	startTime   time.Time
}

// NewServer builds the full server from the watcher's initial configuration.
func NewServer(watcher *config.Watcher) (*Server, error) {
	cfg := watcher.GetConfig()
	stats := metrics.NewCollector()

	rt, err := NewRuntime(cfg, api.DefaultRandom{})
	if err != nil {
		return nil, fmt.Errorf("compile configuration: %w", err)
	}

	var publisher *natsstreaming.Publisher
	var heartbeat *natsstreaming.HeartbeatHandler
	if cfg.Nats.Enabled {
		nc, err := natsstreaming.Connect(natsstreaming.Options{
			URL:              cfg.Nats.URL,
			ClientID:         cfg.Nats.ClientID,
			MaxReconnectWait: cfg.Nats.MaxReconnectWait,
		}, logging.Global())
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		publisher = natsstreaming.NewPublisher(nc, cfg.Nats.Subject, cfg.Nats.AckTimeout, logging.Global())
		heartbeat = natsstreaming.NewHeartbeatHandler(nc, logging.Global())
		if err := heartbeat.Start(cfg.Nats.DiscoverPrefix + ".heartbeat"); err != nil {
			return nil, fmt.Errorf("nats heartbeat subscribe: %w", err)
		}
	}

	s := &Server{
		gateway:   NewGateway(rt, stats, publisher),
		stats:     stats,
		watcher:   watcher,
		heartbeat: heartbeat,
		startTime: time.Now(),
	}

	for _, lc := range cfg.Listeners {
		s.listeners = append(s.listeners, &http.Server{
			Addr:              lc.Address,
			Handler:           s.gateway,
			ReadTimeout:       lc.ReadTimeout,
			WriteTimeout:      lc.WriteTimeout,
			IdleTimeout:       lc.IdleTimeout,
			ReadHeaderTimeout: lc.ReadHeaderTimeout,
			MaxHeaderBytes:    lc.MaxHeaderBytes,
		})
	}

	if cfg.Admin.Enabled {
		s.adminServer = &http.Server{
			Addr:         cfg.Admin.Address,
			Handler:      s.adminHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	watcher.OnChange(s.applyConfig)
	watcher.OnFailure(func(error) { stats.RecordReload(false) })

	return s, nil
}

// applyConfig compiles a reloaded configuration and swaps it in. A config
// that fails compilation leaves the previous generation active.
func (s *Server) applyConfig(cfg *config.Config) {
	rt, err := NewRuntime(cfg, api.DefaultRandom{})
	if err != nil {
		logging.Error("reloaded configuration rejected", zap.Error(err))
		s.stats.RecordReload(false)
		return
	}
	s.gateway.Swap(rt)
	s.stats.RecordReload(true)
	logging.Info("new configuration active",
		zap.Int("routes", len(cfg.Routes)),
		zap.Int("transformations", rt.Registry().Len()),
	)
}

// Run starts every listener and blocks until a shutdown signal or a listener
// failure.
func (s *Server) Run() error {
	if err := s.watcher.Start(); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	defer s.watcher.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	for _, srv := range s.listeners {
		srv := srv
		group.Go(func() error {
			logging.Info("listener started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("listener %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	if s.adminServer != nil {
		group.Go(func() error {
			logging.Info("admin server started", zap.String("addr", s.adminServer.Addr))
			if err := s.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	return group.Wait()
}

func (s *Server) shutdown() {
	logging.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, srv := range s.listeners {
		srv.Shutdown(ctx)
	}
	if s.adminServer != nil {
		s.adminServer.Shutdown(ctx)
	}
	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	logging.Sync()
}
