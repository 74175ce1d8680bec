package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"OptionLedger/internal/engine"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/query"
	"OptionLedger/internal/registry"
)

// GRPCServer wraps the gRPC server and the HTTP/JSON mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthServer  *health.Server
	healthChecker *observability.HealthChecker
	api           *apiHandler
}

// ServerDeps holds all dependencies needed by the API services.
type ServerDeps struct {
	Engine        *engine.Engine
	Registry      *registry.InMemoryRegistry
	Query         *query.QueryService
	Metrics       *observability.Metrics
	HealthChecker *observability.HealthChecker
	StartTime     time.Time
}

// NewGRPCServer creates the gRPC server with health and reflection
// registered. Domain operations are served over HTTP/JSON; the gRPC side
// carries health checks for orchestrators and reflection for grpcurl.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthServer:  healthServer,
		healthChecker: deps.HealthChecker,
		api: &apiHandler{
			engine:    deps.Engine,
			registry:  deps.Registry,
			query:     deps.Query,
			metrics:   deps.Metrics,
			startTime: deps.StartTime,
		},
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	err = s.grpcServer.Serve(lis)
	if ctx.Err() != nil {
		// GracefulStop blocks until pending RPCs finish; callers rely on
		// this return meaning the server is fully drained.
		<-stopped
	}
	return err
}

// StartHTTP starts the HTTP/JSON API server (blocking).
func (s *GRPCServer) StartHTTP(ctx context.Context) error {
	mux, err := s.api.routes()
	if err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	drained := make(chan struct{})
	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP API shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		close(drained)
	}()

	log.Printf("INFO: HTTP API listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	// ListenAndServe returns as soon as Shutdown closes the listener;
	// in-flight handlers are only done once Shutdown itself returns.
	<-drained
	return nil
}
