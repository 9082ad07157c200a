// Package grpc serves the procurement engine over gRPC.
// Payloads are google.protobuf.Struct values, so no generated code is needed.
package grpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
	"github.com/jeeves-cluster-organization/procurement/coreengine/envelope"
	"github.com/jeeves-cluster-organization/procurement/coreengine/kernel"
	"github.com/jeeves-cluster-organization/procurement/coreengine/observability"
)

// Logger interface for the server.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Executor runs one procurement request to a terminal state.
// *runtime.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, req domain.ProcurementRequest) *envelope.RunState
}

// ProcurementServer implements ProcurementServiceServer.
type ProcurementServer struct {
	logger  Logger
	engine  Executor
	limiter *kernel.RateLimiter
}

// NewProcurementServer creates a server. A nil limiter disables rate limiting.
func NewProcurementServer(engine Executor, logger Logger, limiter *kernel.RateLimiter) *ProcurementServer {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &ProcurementServer{
		logger:  logger,
		engine:  engine,
		limiter: limiter,
	}
}

// Execute decodes the request, runs it and returns the run snapshot.
// Failed runs are still successful RPCs; the snapshot carries the cause.
func (s *ProcurementServer) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	req, err := RequestFromStruct(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}

	if s.limiter != nil {
		key := kernel.RequesterKey(req.Requester)
		if res := s.limiter.Allow(key); !res.Allowed {
			observability.RecordRateLimited("grpc", res.LimitType)
			s.logger.Warn("grpc_rate_limited",
				"requester", key,
				"window", res.LimitType,
				"retry_after_ms", res.RetryAfter.Milliseconds(),
			)
			return nil, status.Errorf(codes.ResourceExhausted,
				"rate limit exceeded for %s (%d per %s), retry after %s",
				key, res.Limit, res.LimitType, res.RetryAfter.Round(time.Second))
		}
	}

	state := s.engine.Execute(ctx, req)
	out, err := StateToStruct(state)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode run state: %v", err)
	}
	return out, nil
}

// =============================================================================
// Conversions
// =============================================================================

// RequestFromStruct decodes a procurement request. Unknown fields are rejected.
func RequestFromStruct(in *structpb.Struct) (domain.ProcurementRequest, error) {
	var req domain.ProcurementRequest
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return req, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

// RequestToStruct encodes a procurement request for the wire.
func RequestToStruct(req domain.ProcurementRequest) (*structpb.Struct, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// StateToStruct encodes a run snapshot for the wire.
func StateToStruct(state *envelope.RunState) (*structpb.Struct, error) {
	if state == nil {
		return nil, errors.New("nil run state")
	}
	m, err := state.ToStateDict()
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// SnapshotFromStruct decodes a run snapshot returned by Execute.
func SnapshotFromStruct(in *structpb.Struct) (envelope.Snapshot, error) {
	var snap envelope.Snapshot
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return snap, err
	}
	err = json.Unmarshal(raw, &snap)
	return snap, err
}

// =============================================================================
// Graceful Server
// =============================================================================

// GracefulServer wraps a gRPC server with the procurement and health services
// and graceful shutdown support.
type GracefulServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     Logger
	address    string
	listener   net.Listener
	shutdownMu sync.Mutex
	isShutdown bool
}

// NewGracefulServer creates a GracefulServer. Without options it installs
// ServerOptions(logger).
func NewGracefulServer(srv *ProcurementServer, address string, opts ...grpc.ServerOption) *GracefulServer {
	if len(opts) == 0 {
		opts = ServerOptions(srv.logger)
	}

	grpcServer := grpc.NewServer(opts...)
	RegisterProcurementServiceServer(grpcServer, srv)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)

	return &GracefulServer{
		grpcServer: grpcServer,
		health:     hs,
		logger:     srv.logger,
		address:    address,
	}
}

// Start listens on the configured address and blocks until ctx is
// cancelled, then shuts down gracefully.
func (s *GracefulServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	errCh := s.Serve(lis)

	select {
	case <-ctx.Done():
		s.logger.Info("grpc_graceful_shutdown_initiated",
			"reason", ctx.Err().Error(),
		)
		s.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// StartBackground listens on the configured address and serves in a goroutine.
func (s *GracefulServer) StartBackground() (<-chan error, error) {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis), nil
}

// Serve serves on lis in a goroutine. The channel receives the serve error,
// if any, and is closed when serving stops.
func (s *GracefulServer) Serve(lis net.Listener) <-chan error {
	s.shutdownMu.Lock()
	s.listener = lis
	s.shutdownMu.Unlock()

	s.logger.Info("grpc_server_started", "address", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// GracefulStop marks the server NOT_SERVING, stops accepting connections and
// waits for in-flight calls to complete.
func (s *GracefulServer) GracefulStop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	if s.isShutdown {
		return
	}
	s.isShutdown = true

	s.logger.Info("grpc_graceful_stop_started")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	s.logger.Info("grpc_graceful_stop_completed")
}

// Stop immediately stops the server.
func (s *GracefulServer) Stop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	if s.isShutdown {
		return
	}
	s.isShutdown = true

	s.logger.Warn("grpc_immediate_stop")
	s.health.Shutdown()
	s.grpcServer.Stop()
}

// ShutdownWithTimeout performs graceful shutdown, forcing an immediate stop
// if it does not complete within timeout.
func (s *GracefulServer) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})

	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(timeout):
		s.logger.Warn("grpc_graceful_shutdown_timeout",
			"timeout_ms", timeout.Milliseconds(),
		)
		s.grpcServer.Stop()
	}
}

// GRPCServer returns the underlying grpc.Server.
func (s *GracefulServer) GRPCServer() *grpc.Server {
	return s.grpcServer
}

// Address returns the bound address once serving, else the configured one.
func (s *GracefulServer) Address() string {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

var _ ProcurementServiceServer = (*ProcurementServer)(nil)
