// Package grpc is the local stand-in for the consumer-facing opaque
// transport described in spec §6.2: a small gRPC service exposing
// ListEvents and Status RPCs backed by the manager. "Opaque" only promises
// consumers a request/response shape; this is one legitimate
// implementation of that channel for local and dev use.
package grpc

import (
	"context"
	"log/slog"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest/event"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/manager"
)

// ListEventsRequest is the request message for the ListEvents RPC.
type ListEventsRequest struct {
	Connection string `json:"connection"`
	InstanceID string `json:"instanceId,omitempty"`
	AfterID    int64  `json:"afterId"`
}

// ListEventsResponse is the response message for the ListEvents RPC.
type ListEventsResponse struct {
	Events []event.IngestedEvent `json:"events"`
}

// StatusRequest is the request message for the Status RPC; Connection is
// optional and selects one connection instead of every connection.
type StatusRequest struct {
	Connection string `json:"connection,omitempty"`
}

// StatusResponse is the response message for the Status RPC.
type StatusResponse struct {
	Statuses []event.Status `json:"statuses"`
}

// Server implements the hand-declared EventsService against a *manager.Manager.
type Server struct {
	mgr *manager.Manager
}

// NewServer constructs a Server backed by mgr.
func NewServer(mgr *manager.Manager) *Server {
	return &Server{mgr: mgr}
}

func (s *Server) ListEvents(ctx context.Context, req *ListEventsRequest) (*ListEventsResponse, error) {
	events, err := s.mgr.ListEvents(req.Connection, req.AfterID, req.InstanceID)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "%s", err.Error())
	}
	return &ListEventsResponse{Events: events}, nil
}

func (s *Server) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	return &StatusResponse{Statuses: s.mgr.Status(req.Connection)}, nil
}

// serviceDesc wires Server's methods into grpc.Server without a protoc run:
// the codec above serializes the plain JSON-tagged request/response structs
// declared above instead of protobuf messages.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "mcpsecureproxy.EventsService",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListEvents",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(ListEventsRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Server).ListEvents(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/mcpsecureproxy.EventsService/ListEvents"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(*Server).ListEvents(ctx, req.(*ListEventsRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "Status",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(StatusRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Server).Status(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/mcpsecureproxy.EventsService/Status"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(*Server).Status(ctx, req.(*StatusRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/transport/grpc/service.go",
}

// NewGRPCServer builds a *grpc.Server with logging middleware, registers
// Server against it, and returns it ready for Serve.
func NewGRPCServer(srv *Server, logger *slog.Logger) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	loggingInterceptor := logging.UnaryServerInterceptor(slogLogger{logger})

	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recovery.UnaryServerInterceptor(),
			loggingInterceptor,
		),
	)
	gs.RegisterService(&serviceDesc, srv)
	return gs
}

// slogLogger adapts *slog.Logger to grpc-middleware's logging.Logger.
type slogLogger struct{ l *slog.Logger }

func (s slogLogger) Log(ctx context.Context, level logging.Level, msg string, fields ...any) {
	attrs := make([]any, 0, len(fields))
	attrs = append(attrs, fields...)
	switch level {
	case logging.LevelDebug:
		s.l.Debug(msg, attrs...)
	case logging.LevelWarn:
		s.l.Warn(msg, attrs...)
	case logging.LevelError:
		s.l.Error(msg, attrs...)
	default:
		s.l.Info(msg, attrs...)
	}
}
