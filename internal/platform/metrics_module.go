package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"mltlsge/internal/telemetry"
)

// MetricsModule serves a Metrics registry over HTTP for the lifetime of the
// polis.
type MetricsModule struct {
	metrics *telemetry.Metrics
	addr    string
	logger  *slog.Logger

	mu     sync.Mutex
	bound  net.Addr
	cancel context.CancelFunc
	done   chan error
}

func NewMetricsModule(metrics *telemetry.Metrics, addr string, logger *slog.Logger) *MetricsModule {
	return &MetricsModule{metrics: metrics, addr: addr, logger: logger}
}

func (m *MetricsModule) Name() string { return "metrics" }

// Start binds the listener before returning so address errors surface here.
func (m *MetricsModule) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", m.addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.bound = ln.Addr()
	m.cancel = cancel
	m.done = make(chan error, 1)
	go func(done chan<- error) {
		done <- m.metrics.ServeListener(ctx, ln, m.logger)
	}(m.done)
	return nil
}

func (m *MetricsModule) Stop(context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	return <-done
}

// Addr is the bound address, or nil before Start.
func (m *MetricsModule) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bound
}
