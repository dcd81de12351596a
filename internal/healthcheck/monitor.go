package healthcheck

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/idcard-ocr/internal/logging"
)

// ServiceName is the gRPC health service name reported for the scanner.
const ServiceName = "idscan.Scanner"

// Pinger probes a dependency and fails when it is unusable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor periodically probes the OCR engine and publishes the result
// through the standard gRPC health service.
type Monitor struct {
	pinger   Pinger
	server   *health.Server
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration
	healthy  atomic.Bool
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithInterval sets the delay between probes.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithProbeTimeout bounds a single probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewMonitor returns a monitor that starts out NOT_SERVING until the first probe passes.
func NewMonitor(pinger Pinger, logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		pinger:   pinger,
		server:   health.NewServer(),
		logger:   logger.Named("healthcheck"),
		interval: 30 * time.Second,
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.publish(false)
	return m
}

// Register exposes the health service on a gRPC server.
func (m *Monitor) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, m.server)
}

// Healthy reports the outcome of the latest probe.
func (m *Monitor) Healthy() bool {
	return m.healthy.Load()
}

// Check runs one probe and publishes its outcome.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.pinger.Ping(probeCtx)
	ok := err == nil
	if !ok {
		wrapped := logging.NewOperationError("healthcheck.ping", "", err)
		m.logger.Warn("ocr engine probe failed", zap.Error(wrapped))
	}
	if m.healthy.Swap(ok) != ok {
		m.logger.Info("ocr engine availability changed", zap.Bool("healthy", ok))
	}
	m.publish(ok)
	return ok
}

// Run probes until ctx is done, then marks every service NOT_SERVING.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			m.healthy.Store(false)
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) publish(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
}
