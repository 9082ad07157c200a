package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	grpcapi "github.com/jeeves-cluster-organization/procurement/coreengine/grpc"
	"github.com/jeeves-cluster-organization/procurement/coreengine/httpapi"
	"github.com/jeeves-cluster-organization/procurement/coreengine/kernel"
	"github.com/jeeves-cluster-organization/procurement/coreengine/observability"
)

func newServeCmd(c *cli) *cobra.Command {
	var grpcAddr, httpAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine over gRPC and HTTP",
		Long: `Starts the gRPC ProcurementService with health checks and the JSON HTTP API
with /metrics. SIGINT or SIGTERM triggers graceful shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.settings()
			if err != nil {
				return err
			}
			if grpcAddr != "" {
				s.GRPCAddr = grpcAddr
			}
			if httpAddr != "" {
				s.HTTPAddr = httpAddr
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx, s)
		},
	}
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (overrides settings)")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides settings)")
	return cmd
}

// serve runs both listeners until ctx is done or one of them fails.
func (c *cli) serve(ctx context.Context, s Settings) error {
	logger := c.logger(s)

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracingConfig{
		ServiceName:    s.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    s.Tracing.Environment,
		Endpoint:       s.Tracing.Endpoint,
		SampleRatio:    s.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("tracer_shutdown_failed", "error", err)
		}
	}()

	app, err := NewApp(s, logger, c.newGenerator)
	if err != nil {
		return err
	}
	limiter := kernel.NewRateLimiter(&s.RateLimit)
	stopCleanup := limiter.StartCleanupLoop(kernel.DefaultCleanupConfig(), logger.Bind("component", "rate_limiter"))
	defer stopCleanup()

	gs := grpcapi.NewGracefulServer(grpcapi.NewProcurementServer(app.Engine, logger.Bind("component", "grpc"), limiter), s.GRPCAddr)
	grpcErr, err := gs.StartBackground()
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", s.HTTPAddr)
	if err != nil {
		gs.Stop()
		return fmt.Errorf("failed to listen: %w", err)
	}
	srv := &http.Server{
		Handler: httpapi.NewHandler(app.Engine,
			httpapi.WithBus(app.Bus),
			httpapi.WithRateLimiter(limiter),
			httpapi.WithLogger(logger.Bind("component", "http")),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
		close(httpErr)
	}()

	logger.Info("procurement_ready",
		"grpc_addr", gs.Address(),
		"http_addr", lis.Addr().String(),
		"delivery", s.Delivery.Mode,
	)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal_received", "reason", ctx.Err().Error())
	case err := <-grpcErr:
		serveErr = fmt.Errorf("grpc server: %w", err)
	case err := <-httpErr:
		serveErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_graceful_shutdown_failed", "error", err)
		_ = srv.Close()
	}
	gs.ShutdownWithTimeout(s.ShutdownTimeout)
	logger.Info("procurement_stopped")
	return serveErr
}
