// Package health reports whether a mission run is active over the standard
// gRPC health checking protocol (grpc.health.v1).
package health

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/banshee-data/offboard/internal/monitoring"
)

// Service is the health service name that tracks the mission run. The empty
// service name reports the process itself and is always SERVING.
const Service = "offboard.Mission"

var logf = monitoring.Scoped("health")

// Server serves grpc.health.v1 for the mission controller. SERVING means a
// run is active; NOT_SERVING means the controller is idle.
type Server struct {
	addr     string
	health   *grpchealth.Server
	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New returns a stopped server that will listen on addr.
func New(addr string) *Server {
	hs := grpchealth.NewServer()
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{addr: addr, health: hs}
}

// SetRunning records whether a mission run is active.
func (s *Server) SetRunning(running bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if running {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(Service, status)
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.server = grpc.NewServer()
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logf("serving grpc.health.v1 on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING, so watchers see the shutdown, then
// closes all connections. Watch streams never end on their own, so
// GracefulStop would wait for them forever.
func (s *Server) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.health.Shutdown()
	s.server.Stop()
	s.wg.Wait()
	logf("gRPC server stopped")
}
