package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/trustplane/internal/gateway"
	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/rpc"
)

// Config holds gRPC server configuration.
type Config struct {
	Listen string
	// DefaultAgent serves requests that carry no agent_id.
	DefaultAgent string
}

// Server implements the TrustPlane gRPC service over a gateway registry.
type Server struct {
	registry *gateway.Registry
	cfg      Config
	logger   *slog.Logger

	grpcServer *grpc.Server
}

// New creates a gRPC server bound to registry.
func New(cfg Config, registry *gateway.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "server"),
	}
	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(s.logCalls))
	rpc.Register(s.grpcServer, s)
	return s
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.ServeOn(lis)
}

// ServeOn serves on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	s.logger.Info("grpc server listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight calls and stops the server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Execute implements the Execute RPC.
func (s *Server) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode(in)
	if err != nil {
		return nil, err
	}
	if req.Action == nil {
		return nil, status.Error(codes.InvalidArgument, "missing action")
	}
	g, err := s.registry.Get(s.agent(req))
	if err != nil {
		return nil, toStatus(err)
	}
	rec, err := g.Execute(*req.Action)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(rec)
}

// Check implements the Check RPC. Policy only, no side effects.
func (s *Server) Check(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode(in)
	if err != nil {
		return nil, err
	}
	if req.Action == nil {
		return nil, status.Error(codes.InvalidArgument, "missing action")
	}
	if err := req.Action.Validate(); err != nil {
		return nil, toStatus(err)
	}
	g, err := s.registry.Get(s.agent(req))
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(g.Check(*req.Action))
}

// Report implements the Report RPC.
func (s *Server) Report(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode(in)
	if err != nil {
		return nil, err
	}
	g, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	return encode(g.Report())
}

// Status implements the Status RPC. Without agent_id it lists every agent.
func (s *Server) Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode(in)
	if err != nil {
		return nil, err
	}
	if req.AgentID == "" {
		var out struct {
			Agents []gateway.Status `json:"agents"`
		}
		out.Agents = []gateway.Status{}
		for _, id := range s.registry.Agents() {
			if g, ok := s.registry.Lookup(id); ok {
				out.Agents = append(out.Agents, g.Status())
			}
		}
		return encode(out)
	}
	g, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	return encode(g.Status())
}

// ResetUsage implements the ResetUsage RPC.
func (s *Server) ResetUsage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode(in)
	if err != nil {
		return nil, err
	}
	g, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	prev := g.ResetUsage()
	s.logger.Warn("usage reset", "agent_id", g.AgentID(), "previous_usage", prev)
	return encode(map[string]any{"agent_id": g.AgentID(), "previous_usage": prev})
}

func (s *Server) agent(req rpc.Request) string {
	if req.AgentID != "" {
		return req.AgentID
	}
	return s.cfg.DefaultAgent
}

func (s *Server) lookup(req rpc.Request) (*gateway.Gateway, error) {
	id := s.agent(req)
	g, ok := s.registry.Lookup(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown agent %q", id)
	}
	return g, nil
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn("rpc failed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
	} else {
		s.logger.Debug("rpc", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}

func decode(in *structpb.Struct) (rpc.Request, error) {
	req, err := rpc.DecodeRequest(in)
	if err != nil {
		return rpc.Request{}, toStatus(err)
	}
	return req, nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := rpc.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, model.ErrInvalidAction):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, gateway.ErrNotInitialized):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, gateway.ErrGatewayClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
