package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/wtfpos/posd/internal/api"
	"github.com/wtfpos/posd/internal/terminal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server manages the gRPC server lifecycle for a terminal daemon.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the terminal's Unix domain socket.
func NewServer(p Params, logger *zap.Logger, svc *api.Service) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = terminal.SocketPath(p.Terminal)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer()
	api.RegisterTerminalServer(srv, svc)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop reports not-serving, performs a graceful shutdown and removes the
// socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("gRPC server stopping")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
