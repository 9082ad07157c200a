package grpc

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	healthCheckMethod = "/grpc.health.v1.Health/Check"
	healthWatchMethod = "/grpc.health.v1.Health/Watch"
)

// TestLogger captures log calls by level.
type TestLogger struct {
	mu         sync.Mutex
	debugCalls []map[string]any
	infoCalls  []map[string]any
	warnCalls  []map[string]any
	errorCalls []map[string]any
}

func (l *TestLogger) Debug(msg string, keysAndValues ...any) { l.add(&l.debugCalls, msg, keysAndValues) }
func (l *TestLogger) Info(msg string, keysAndValues ...any)  { l.add(&l.infoCalls, msg, keysAndValues) }
func (l *TestLogger) Warn(msg string, keysAndValues ...any)  { l.add(&l.warnCalls, msg, keysAndValues) }
func (l *TestLogger) Error(msg string, keysAndValues ...any) { l.add(&l.errorCalls, msg, keysAndValues) }

func (l *TestLogger) add(calls *[]map[string]any, msg string, keysAndValues []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*calls = append(*calls, toMap(msg, keysAndValues))
}

func (l *TestLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, calls := range [][]map[string]any{l.debugCalls, l.infoCalls, l.warnCalls, l.errorCalls} {
		for _, c := range calls {
			out = append(out, c["msg"].(string))
		}
	}
	return out
}

func toMap(msg string, keysAndValues []any) map[string]any {
	m := map[string]any{"msg": msg}
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			m[key] = keysAndValues[i+1]
		}
	}
	return m
}

// counterValue reads a counter from the default registry by label values.
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, l := range m.GetLabel() {
				got[l.GetName()] = l.GetValue()
			}
			match := true
			for k, v := range labels {
				if got[k] != v {
					match = false
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func grpcRequests(t *testing.T, method, code string) float64 {
	return counterValue(t, "procurement_grpc_requests_total", map[string]string{"method": method, "status": code})
}

func panicsRecovered(t *testing.T, method string) float64 {
	return counterValue(t, "procurement_panics_recovered_total", map[string]string{"surface": "grpc", "method": method})
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func executeRequest(t *testing.T) *structpb.Struct {
	return mustStruct(t, map[string]any{
		"id":          "req-42",
		"requester":   "alice@example.com",
		"description": "Laptops",
		"budget":      1200.0,
	})
}

type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context { return m.ctx }

// =============================================================================
// CALL FIELDS
// =============================================================================

func TestCallFields(t *testing.T) {
	tests := []struct {
		name string
		req  any
		resp any
		want []any
	}{
		{
			name: "request only",
			req:  executeRequest(t),
			want: []any{"request_id", "req-42", "requester", "alice@example.com"},
		},
		{
			name: "request and approved run",
			req:  executeRequest(t),
			resp: mustStruct(t, map[string]any{"run_id": "run-1", "status": "Approved"}),
			want: []any{"request_id", "req-42", "requester", "alice@example.com", "run_id", "run-1", "run_status", "Approved"},
		},
		{
			name: "failed run carries its error kind",
			resp: mustStruct(t, map[string]any{
				"run_id": "run-2",
				"status": "Failed",
				"cause":  map[string]any{"kind": "InvalidRequest", "message": "description is required"},
			}),
			want: []any{"run_id", "run-2", "run_status", "Failed", "error_kind", "InvalidRequest"},
		},
		{
			name: "anonymous request without id",
			req:  mustStruct(t, map[string]any{"description": "Laptops"}),
			want: nil,
		},
		{
			name: "non-procurement payload",
			req:  "health",
			resp: 42,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, callFields(tt.req, tt.resp))
		})
	}
}

// =============================================================================
// LOGGING
// =============================================================================

func TestLoggingInterceptor_RunServed(t *testing.T) {
	logger := &TestLogger{}
	resp := mustStruct(t, map[string]any{"run_id": "run-1", "status": "Escalated"})

	out, err := LoggingInterceptor(logger)(context.Background(), executeRequest(t),
		&grpc.UnaryServerInfo{FullMethod: ExecuteMethod},
		func(ctx context.Context, req any) (any, error) { return resp, nil })

	require.NoError(t, err)
	assert.Same(t, resp, out)
	require.Len(t, logger.infoCalls, 1)
	call := logger.infoCalls[0]
	assert.Equal(t, "grpc_run_served", call["msg"])
	assert.Equal(t, ExecuteMethod, call["method"])
	assert.Equal(t, "req-42", call["request_id"])
	assert.Equal(t, "run-1", call["run_id"])
	assert.Equal(t, "Escalated", call["run_status"])
	assert.Contains(t, call, "duration_ms")
}

func TestLoggingInterceptor_Levels(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		err     error
		level   func(*TestLogger) []map[string]any
		wantMsg string
	}{
		{
			name:    "health check is debug",
			method:  healthCheckMethod,
			level:   func(l *TestLogger) []map[string]any { return l.debugCalls },
			wantMsg: "grpc_call_completed",
		},
		{
			name:    "malformed payload is a warning",
			method:  ExecuteMethod,
			err:     status.Error(codes.InvalidArgument, "decode request"),
			level:   func(l *TestLogger) []map[string]any { return l.warnCalls },
			wantMsg: "grpc_call_refused",
		},
		{
			name:    "rate limited is a warning",
			method:  ExecuteMethod,
			err:     status.Error(codes.ResourceExhausted, "rate limit exceeded"),
			level:   func(l *TestLogger) []map[string]any { return l.warnCalls },
			wantMsg: "grpc_call_refused",
		},
		{
			name:    "server fault is an error",
			method:  ExecuteMethod,
			err:     status.Error(codes.Internal, "encode run state"),
			level:   func(l *TestLogger) []map[string]any { return l.errorCalls },
			wantMsg: "grpc_call_failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &TestLogger{}
			_, err := LoggingInterceptor(logger)(context.Background(), executeRequest(t),
				&grpc.UnaryServerInfo{FullMethod: tt.method},
				func(ctx context.Context, req any) (any, error) { return nil, tt.err })

			assert.Equal(t, tt.err, err)
			calls := tt.level(logger)
			require.Len(t, calls, 1)
			assert.Equal(t, tt.wantMsg, calls[0]["msg"])
			assert.Equal(t, "req-42", calls[0]["request_id"])
			if tt.err != nil {
				assert.Equal(t, status.Code(tt.err).String(), calls[0]["code"])
			}
		})
	}
}

// =============================================================================
// RECOVERY
// =============================================================================

func TestRecoveryInterceptor_PassesThrough(t *testing.T) {
	logger := &TestLogger{}
	out, err := RecoveryInterceptor(logger)(context.Background(), executeRequest(t),
		&grpc.UnaryServerInfo{FullMethod: ExecuteMethod},
		func(ctx context.Context, req any) (any, error) { return "snapshot", nil })

	require.NoError(t, err)
	assert.Equal(t, "snapshot", out)
	assert.Empty(t, logger.messages())
}

func TestRecoveryInterceptor_Panic(t *testing.T) {
	logger := &TestLogger{}
	before := panicsRecovered(t, ExecuteMethod)

	_, err := RecoveryInterceptor(logger)(context.Background(), executeRequest(t),
		&grpc.UnaryServerInfo{FullMethod: ExecuteMethod},
		func(ctx context.Context, req any) (any, error) { panic("nil engine") })

	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())
	assert.NotContains(t, st.Message(), "nil engine", "panic values stay server side")

	require.Len(t, logger.errorCalls, 1)
	call := logger.errorCalls[0]
	assert.Equal(t, "grpc_panic_recovered", call["msg"])
	assert.Equal(t, "nil engine", call["panic"])
	assert.Equal(t, "req-42", call["request_id"])
	assert.NotEmpty(t, call["stack"])
	assert.Equal(t, before+1, panicsRecovered(t, ExecuteMethod))
}

func TestStreamRecoveryInterceptor_Panic(t *testing.T) {
	logger := &TestLogger{}
	before := panicsRecovered(t, healthWatchMethod)

	err := StreamRecoveryInterceptor(logger)(nil, &mockServerStream{ctx: context.Background()},
		&grpc.StreamServerInfo{FullMethod: healthWatchMethod, IsServerStream: true},
		func(srv any, ss grpc.ServerStream) error { panic("watch") })

	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, logger.messages(), "grpc_panic_recovered")
	assert.Equal(t, before+1, panicsRecovered(t, healthWatchMethod))
}

// =============================================================================
// METRICS
// =============================================================================

func TestMetricsInterceptor_CountsByCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"OK", nil},
		{"InvalidArgument", status.Error(codes.InvalidArgument, "decode request")},
		{"ResourceExhausted", status.Error(codes.ResourceExhausted, "rate limit exceeded")},
		{"Internal", status.Error(codes.Internal, "encode run state")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := grpcRequests(t, ExecuteMethod, tt.name)
			_, err := MetricsInterceptor()(context.Background(), executeRequest(t),
				&grpc.UnaryServerInfo{FullMethod: ExecuteMethod},
				func(ctx context.Context, req any) (any, error) { return nil, tt.err })

			assert.Equal(t, tt.err, err)
			assert.Equal(t, before+1, grpcRequests(t, ExecuteMethod, tt.name))
		})
	}
}

func TestStreamMetricsInterceptor_CountsByCode(t *testing.T) {
	before := grpcRequests(t, healthWatchMethod, "Canceled")

	err := StreamMetricsInterceptor()(nil, &mockServerStream{ctx: context.Background()},
		&grpc.StreamServerInfo{FullMethod: healthWatchMethod, IsServerStream: true},
		func(srv any, ss grpc.ServerStream) error { return status.Error(codes.Canceled, "client went away") })

	assert.Equal(t, codes.Canceled, status.Code(err))
	assert.Equal(t, before+1, grpcRequests(t, healthWatchMethod, "Canceled"))
}

// =============================================================================
// SERVER OPTIONS
// =============================================================================

func TestServerOptions(t *testing.T) {
	opts := ServerOptions(&TestLogger{})
	assert.Len(t, opts, 3, "stats handler, unary chain, stream chain")
}
