// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nholm/ballast/internal/config"
	"github.com/nholm/ballast/internal/health"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// http.Server.Serve goroutines linger briefly after Shutdown.
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func testServerConfig() config.ServerConfig {
	cfg := config.Defaults().Server
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 3 * time.Second
	cfg.DrainGrace = 0
	return cfg
}

func testDeps() Deps {
	return Deps{
		Logger:     zerolog.New(nil).Level(zerolog.ErrorLevel),
		APIHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
		Health:     health.NewManager("test"),
	}
}

func TestNewManager_ValidatesDeps(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Deps)
		wantErr error
	}{
		{"missing logger", func(d *Deps) { d.Logger = zerolog.Nop() }, ErrMissingLogger},
		{"missing handler", func(d *Deps) { d.APIHandler = nil }, ErrMissingAPIHandler},
		{"missing health", func(d *Deps) { d.Health = nil }, ErrMissingHealth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps()
			tt.mutate(&deps)
			_, err := NewManager(testServerConfig(), deps)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestManager_StartAndShutdown(t *testing.T) {
	deps := testDeps()
	m, err := NewManager(testServerConfig(), deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	// Readiness flips on once startup completed.
	require.Eventually(t, deps.Health.IsReady, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}

	assert.False(t, deps.Health.IsReady(), "readiness flips off during shutdown")
}

func TestManager_StartupHookFailureAbortsBoot(t *testing.T) {
	deps := testDeps()
	m, err := NewManager(testServerConfig(), deps)
	require.NoError(t, err)

	boom := errors.New("database unreachable")
	var order []string
	m.RegisterStartupHook("db.ping", func(context.Context) error {
		order = append(order, "db.ping")
		return boom
	})
	m.RegisterStartupHook("never", func(context.Context) error {
		order = append(order, "never")
		return nil
	})

	err = m.Start(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"db.ping"}, order, "later hooks must not run after a failure")
	assert.False(t, deps.Health.IsReady())
}

func TestManager_ShutdownHooksRunLIFO(t *testing.T) {
	deps := testDeps()
	m, err := NewManager(testServerConfig(), deps)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	hook := func(name string) ShutdownHook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	m.RegisterShutdownHook("first", hook("first"))
	m.RegisterShutdownHook("second", hook("second"))
	m.RegisterShutdownHook("third", hook("third"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	require.Eventually(t, deps.Health.IsReady, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestManager_ShutdownHookErrorsAreCollected(t *testing.T) {
	deps := testDeps()
	m, err := NewManager(testServerConfig(), deps)
	require.NoError(t, err)

	hookErr := errors.New("flush failed")
	ran := false
	m.RegisterShutdownHook("earlier", func(context.Context) error {
		ran = true
		return nil
	})
	m.RegisterShutdownHook("failing", func(context.Context) error { return hookErr })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	require.Eventually(t, deps.Health.IsReady, 2*time.Second, 10*time.Millisecond)

	cancel()
	err = <-done
	require.ErrorIs(t, err, hookErr)
	assert.True(t, ran, "a failing hook must not stop the remaining hooks")
}

func TestManager_ShutdownBeforeStart(t *testing.T) {
	m, err := NewManager(testServerConfig(), testDeps())
	require.NoError(t, err)

	err = m.Shutdown(context.Background())
	assert.ErrorIs(t, err, ErrManagerNotStarted)
}

func TestManager_DoubleStart(t *testing.T) {
	deps := testDeps()
	m, err := NewManager(testServerConfig(), deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	require.Eventually(t, deps.Health.IsReady, 2*time.Second, 10*time.Millisecond)

	err = m.Start(ctx)
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	cancel()
	require.NoError(t, <-done)
}

func TestManager_BindFailure(t *testing.T) {
	// Occupy a port, then ask the manager to bind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	cfg := testServerConfig()
	cfg.ListenAddr = ln.Addr().String()

	deps := testDeps()
	m, err := NewManager(cfg, deps)
	require.NoError(t, err)

	err = m.Start(context.Background())
	require.ErrorIs(t, err, ErrServerStartFailed)
	assert.False(t, deps.Health.IsReady())
}

func TestManager_ServesConfiguredHandler(t *testing.T) {
	cfg := testServerConfig()
	deps := testDeps()
	deps.APIHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "pong")
	})

	mgr, err := NewManager(cfg, deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()
	require.Eventually(t, deps.Health.IsReady, 2*time.Second, 10*time.Millisecond)

	impl := mgr.(*manager)
	impl.mu.Lock()
	addr := impl.apiAddr
	impl.mu.Unlock()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	body := make([]byte, 4)
	_, _ = resp.Body.Read(body)
	_ = resp.Body.Close()
	http.DefaultClient.CloseIdleConnections()
	assert.Equal(t, "pong", string(body))

	cancel()
	require.NoError(t, <-done)
}
