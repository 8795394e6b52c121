// Package server exposes the prompt pipeline over a single-shot HTTP
// endpoint and a persistent WebSocket channel, and serves the gRPC
// health service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/haasonsaas/promptengine/internal/admission"
	"github.com/haasonsaas/promptengine/internal/config"
	"github.com/haasonsaas/promptengine/internal/observability"
	"github.com/haasonsaas/promptengine/internal/ratelimit"
	"github.com/haasonsaas/promptengine/pkg/models"
)

// Transport labels used in logs and metrics.
const (
	TransportHTTP = "http"
	TransportWS   = "ws"
)

// HealthService is the service name reported by the gRPC health server.
const HealthService = "promptengine"

// Builder runs the prompt pipeline for one request.
type Builder interface {
	Build(ctx context.Context, req *models.BuildRequest) (*models.BuildResponse, error)
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// MetricsPath serves Metrics on the HTTP listener when non-empty.
	MetricsPath string

	// Dialect supplies the model stamped on provider exports.
	Dialect config.DialectConfig
}

// Server owns the listeners and the admission controller shared by both
// front-ends.
type Server struct {
	config    config.ServerConfig
	builder   Builder
	admission *admission.Controller
	limiter   *ratelimit.Limiter
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	opts      Options
	upgrader  websocket.Upgrader

	health *health.Server
	grpc   *grpc.Server

	// baseCtx parents every WebSocket connection so Stop can cancel them.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	conns      sync.WaitGroup

	mu           sync.Mutex
	httpServer   *http.Server
	httpListener net.Listener
	grpcListener net.Listener
}

// New creates a Server. Nothing listens until Start.
func New(cfg config.ServerConfig, builder Builder, opts Options) (*Server, error) {
	if builder == nil {
		return nil, errors.New("server: builder is required")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if cfg.WS.SendBuffer <= 0 {
		cfg.WS.SendBuffer = 64
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     cfg,
		builder:    builder,
		admission:  admission.NewController(cfg.LimitConcurrency, cfg.Backlog),
		limiter:    ratelimit.NewLimiter(cfg.RateLimit),
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		opts:       opts,
		health:     health.NewServer(),
		baseCtx:    baseCtx,
		baseCancel: cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin:     s.checkOrigin,
	}

	s.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor(s.logger)),
	)
	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /pe/build_request", s.instrument("/pe/build_request", s.compress(http.HandlerFunc(s.handleBuildRequest))))
	mux.Handle("GET /ws/build_prompt", s.withRequestContext(http.HandlerFunc(s.handleWebSocket)))
	mux.Handle("GET /healthz", s.instrument("/healthz", http.HandlerFunc(s.handleHealthz)))
	if s.opts.MetricsPath != "" && s.metrics != nil {
		mux.Handle("GET "+s.opts.MetricsPath, s.metrics.Handler())
	}
	return mux
}

// Start binds the HTTP listener and, when configured, the gRPC listener,
// then serves both in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("server already started")
	}

	addr := s.config.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.KeepaliveTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	s.httpServer = server
	s.httpListener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "http server error", "error", err)
		}
	}()
	s.logger.Info(ctx, "starting http server", "addr", listener.Addr().String())

	if grpcAddr := s.config.GRPCAddr(); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			_ = server.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
		s.grpcListener = lis
		go func() {
			if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				s.logger.Error(ctx, "grpc server error", "error", err)
			}
		}()
		s.logger.Info(ctx, "starting grpc health server", "addr", lis.Addr().String())
	}
	return nil
}

// HTTPAddr returns the bound HTTP address, or "" before Start.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when not serving.
func (s *Server) GRPCAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Stop drains HTTP requests, closes WebSocket connections (cancelling
// their in-flight builds) and stops the gRPC server. ctx bounds the wait.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info(ctx, "stopping server")
	s.health.Shutdown()

	s.mu.Lock()
	server := s.httpServer
	s.mu.Unlock()

	var err error
	if server != nil {
		if shutdownErr := server.Shutdown(ctx); shutdownErr != nil {
			s.logger.Warn(ctx, "http server shutdown error", "error", shutdownErr)
			err = shutdownErr
		}
	}

	// Hijacked connections are not tracked by http.Server.
	s.baseCancel()
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn(ctx, "websocket connections still open at shutdown deadline")
		if err == nil {
			err = ctx.Err()
		}
	}

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	return err
}

// build admits and runs one pipeline request.
func (s *Server) build(ctx context.Context, req *models.BuildRequest) (*models.BuildResponse, error) {
	if err := s.admission.Acquire(ctx); err != nil {
		if errors.Is(err, admission.ErrOverloaded) {
			s.metrics.RecordRejected(observability.GetTransport(ctx))
			s.logger.Warn(ctx, "request rejected by admission control")
		}
		return nil, err
	}
	defer s.admission.Release()
	return s.builder.Build(ctx, req)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.WS.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.WS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// loggingInterceptor logs unary RPC calls.
func loggingInterceptor(logger *observability.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Error(ctx, "rpc error", "method", info.FullMethod, "error", err)
		} else {
			logger.Debug(ctx, "rpc call", "method", info.FullMethod, "duration_ms", time.Since(start).Milliseconds())
		}
		return resp, err
	}
}
