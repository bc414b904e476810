package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Domenick1991/aimtravel/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestStartSweeps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := StartSweeps(ctx,
		Sweep{Name: "count", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			calls.Add(1)
			return errors.New("keeps going")
		}},
		Sweep{Name: "disabled", Interval: 0, Run: func(context.Context) error {
			t.Error("sweep without interval must not run")
			return nil
		}},
	)

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeps did not stop")
	}
}

func TestHealth(t *testing.T) {
	h := NewHealth()
	assert.True(t, h.Ready())

	resp, err := h.server.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	h.Shutdown()
	assert.False(t, h.Ready())
	resp, err = h.server.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Address = "127.0.0.1:0"
	cfg.GRPC.Address = "-"

	h := NewHealth()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, cfg, http.NotFoundHandler(), h) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, h.Ready())
}
