// Package bootstrap runs the HTTP API, the gRPC health service and the
// periodic sweeps until the context is cancelled.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Domenick1991/aimtravel/config"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 5 * time.Second

// Health tracks readiness for both the HTTP probe and the gRPC health service.
type Health struct {
	ready  atomic.Bool
	server *health.Server
}

func NewHealth() *Health {
	h := &Health{server: health.NewServer()}
	h.ready.Store(true)
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return h
}

func (h *Health) Ready() bool {
	return h.ready.Load()
}

// Shutdown reports NOT_SERVING so load balancers drain before the listeners close.
func (h *Health) Shutdown() {
	h.ready.Store(false)
	h.server.Shutdown()
}

type Servers struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	health     *Health
	sweeps     []Sweep
}

// Run starts the servers and sweeps and blocks until ctx is cancelled or a
// server fails.
func Run(ctx context.Context, cfg *config.Config, handler http.Handler, h *Health, sweeps ...Sweep) error {
	log := logger.WithComponent("bootstrap")
	s := newServers(cfg, handler, h, sweeps)

	errCh := make(chan error, 2)

	if s.grpcServer != nil {
		lis, err := net.Listen("tcp", cfg.GRPC.Address)
		if err != nil {
			return fmt.Errorf("listen gRPC %s: %w", cfg.GRPC.Address, err)
		}
		log.Info().Str("addr", cfg.GRPC.Address).Msg("grpc health server listening")
		go func() { errCh <- s.grpcServer.Serve(lis) }()
	}

	log.Info().Str("addr", cfg.HTTP.Address).Msg("http server listening")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sweepCtx, stopSweeps := context.WithCancel(ctx)
	defer stopSweeps()
	done := StartSweeps(sweepCtx, s.sweeps...)

	select {
	case err := <-errCh:
		stopSweeps()
		<-done
		return err
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		s.health.Shutdown()
		stopSweeps()
		<-done

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if s.grpcServer != nil {
			s.grpcServer.GracefulStop()
		}
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func newServers(cfg *config.Config, handler http.Handler, h *Health, sweeps []Sweep) *Servers {
	if h == nil {
		h = NewHealth()
	}

	var grpcSrv *grpc.Server
	if cfg.GRPC.Enabled() {
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, h.server)
	}

	// WriteTimeout stays zero: the notification stream is long-lived.
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Servers{
		grpcServer: grpcSrv,
		httpServer: httpSrv,
		health:     h,
		sweeps:     sweeps,
	}
}
