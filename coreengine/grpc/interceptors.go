package grpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/procurement/coreengine/observability"
)

// =============================================================================
// CALL FIELDS
// =============================================================================

// callFields pulls the procurement identifiers out of Execute payloads so
// every log line for a call can be joined to its run. Other payloads, such as
// health checks, yield nothing.
func callFields(req, resp any) []any {
	var fields []any
	if in, ok := req.(*structpb.Struct); ok {
		fields = appendString(fields, in, "id", "request_id")
		fields = appendString(fields, in, "requester", "requester")
	}
	if out, ok := resp.(*structpb.Struct); ok {
		fields = appendString(fields, out, "run_id", "run_id")
		fields = appendString(fields, out, "status", "run_status")
		if cause := out.GetFields()["cause"].GetStructValue(); cause != nil {
			fields = appendString(fields, cause, "kind", "error_kind")
		}
	}
	return fields
}

func appendString(fields []any, s *structpb.Struct, key, as string) []any {
	if v := s.GetFields()[key].GetStringValue(); v != "" {
		return append(fields, as, v)
	}
	return fields
}

// clientFault reports codes caused by the caller rather than the service.
func clientFault(code codes.Code) bool {
	switch code {
	case codes.InvalidArgument, codes.ResourceExhausted, codes.Canceled,
		codes.DeadlineExceeded, codes.NotFound, codes.Unimplemented:
		return true
	}
	return false
}

// =============================================================================
// LOGGING
// =============================================================================

// LoggingInterceptor logs every unary call once it finishes, tagged with the
// request id, requester, run id and run status. Refused calls are warnings;
// server faults are errors.
func LoggingInterceptor(logger Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := append([]any{
			"method", info.FullMethod,
			"duration_ms", time.Since(start).Milliseconds(),
		}, callFields(req, resp)...)

		switch code := status.Code(err); {
		case err == nil && info.FullMethod == ExecuteMethod:
			logger.Info("grpc_run_served", fields...)
		case err == nil:
			logger.Debug("grpc_call_completed", fields...)
		case clientFault(code):
			logger.Warn("grpc_call_refused", append(fields, "code", code.String(), "error", err.Error())...)
		default:
			logger.Error("grpc_call_failed", append(fields, "code", code.String(), "error", err.Error())...)
		}
		return resp, err
	}
}

// =============================================================================
// RECOVERY
// =============================================================================

// RecoveryInterceptor turns a panic into codes.Internal. The panic value and
// stack go to the log and the panic counter, never to the caller.
func RecoveryInterceptor(logger Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = recoverPanic(logger, info.FullMethod, p, callFields(req, nil))
			}
		}()
		return handler(ctx, req)
	}
}

// StreamRecoveryInterceptor is RecoveryInterceptor for streams (health Watch).
func StreamRecoveryInterceptor(logger Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = recoverPanic(logger, info.FullMethod, p, nil)
			}
		}()
		return handler(srv, ss)
	}
}

func recoverPanic(logger Logger, method string, p any, fields []any) error {
	observability.RecordPanicRecovered("grpc", method)
	logger.Error("grpc_panic_recovered", append([]any{
		"method", method,
		"panic", fmt.Sprintf("%v", p),
		"stack", string(debug.Stack()),
	}, fields...)...)
	return status.Error(codes.Internal, "internal error while handling "+method)
}

// =============================================================================
// METRICS
// =============================================================================

// MetricsInterceptor records request count and latency per method and code.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observability.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), int(time.Since(start).Milliseconds()))
		return resp, err
	}
}

// StreamMetricsInterceptor records stream count and duration per method and code.
func StreamMetricsInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observability.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), int(time.Since(start).Milliseconds()))
		return err
	}
}

// =============================================================================
// SERVER OPTIONS
// =============================================================================

// ServerOptions returns the otel stats handler and the interceptor chains.
// Recovery runs outermost so a panic in logging or metrics is also caught.
func ServerOptions(logger Logger) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			MetricsInterceptor(),
			LoggingInterceptor(logger),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor(logger),
			StreamMetricsInterceptor(),
		),
	}
}
