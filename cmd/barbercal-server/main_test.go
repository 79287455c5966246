package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"barbercal/backend/internal/config"
)

func TestRun_GRPCListenFailureClosesResources(t *testing.T) {
	mr := miniredis.RunT(t)

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = taken.Close() })

	cfg := config.Config{
		GRPCHost:        "127.0.0.1",
		GRPCPort:        taken.Addr().(*net.TCPAddr).Port,
		HTTPAddr:        "127.0.0.1:0",
		DatabaseDriver:  config.DriverMemory,
		RedisAddr:       mr.Addr(),
		IdempotencyTTL:  time.Minute,
		DefaultTimezone: "America/Sao_Paulo",
		ShutdownTimeout: time.Second,
	}
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))

	err = run(context.Background(), cfg, log)
	require.ErrorContains(t, err, "grpc listen")

	// The redis client opened during startup is closed again.
	require.Eventually(t, func() bool { return mr.CurrentConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBuild_CloseRunsOnce(t *testing.T) {
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	app, err := build(context.Background(), config.Config{DatabaseDriver: config.DriverMemory}, log)
	require.NoError(t, err)

	var calls int
	app.closers = append(app.closers, func() error { calls++; return nil })
	app.close()
	app.close()
	require.Equal(t, 1, calls)
}
