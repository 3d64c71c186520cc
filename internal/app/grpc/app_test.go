package grpcapp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type flakyStore struct {
	down atomic.Bool
}

func (f *flakyStore) Ping(context.Context) error {
	if f.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestHealthFollowsStore(t *testing.T) {
	t.Parallel()

	a := New(slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = a.Serve(l) }()
	t.Cleanup(a.Stop)

	store := &flakyStore{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.WatchStore(ctx, store, 10*time.Millisecond, time.Second)

	conn, err := grpc.NewClient(l.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	store.down.Store(true)
	assert.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_NOT_SERVING }, 2*time.Second, 10*time.Millisecond)

	store.down.Store(false)
	assert.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_SERVING }, 2*time.Second, 10*time.Millisecond)
}
