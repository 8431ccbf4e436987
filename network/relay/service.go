package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"claimbridge/core/bridge"
	cerrors "claimbridge/core/errors"
)

const (
	serviceName   = "claimbridge.relay.v1.Channel"
	deliverMethod = "/" + serviceName + "/Deliver"
	DefaultHeader = "x-claimbridge-channel"
)

// ErrNoAuthenticator is returned when an inbound server would accept
// deliveries from anyone.
var ErrNoAuthenticator = errors.New("relay: inbound server requires an authenticator")

// channelServer is the handler type bound by the service descriptor. The
// request carries the RLP envelope; the reply reports a duplicate delivery
// and never whether the settlement domain accepted the mint.
type channelServer interface {
	Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(channelServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(channelServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var channelServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*channelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "claimbridge/relay/v1/channel",
}

// InboundServer receives envelopes on the settlement side and parks them in
// the inbox. Application happens later, in the Applier.
type InboundServer struct {
	inbox  Inbox
	auth   Authenticator
	logger *slog.Logger
}

func NewInboundServer(inbox Inbox, auth Authenticator, logger *slog.Logger) (*InboundServer, error) {
	if auth == nil {
		return nil, ErrNoAuthenticator
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InboundServer{inbox: inbox, auth: auth, logger: logger.With(slog.String("component", "relay.inbound"))}, nil
}

// Register binds the channel service to a gRPC server.
func (s *InboundServer) Register(server *grpc.Server) {
	server.RegisterService(&channelServiceDesc, s)
}

// NewGRPCServer builds a server with OTel stats attached.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	}
	return grpc.NewServer(append(base, opts...)...)
}

func (s *InboundServer) Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error) {
	if err := s.auth.Authorize(ctx); err != nil {
		return nil, err
	}
	if req == nil || len(req.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "missing envelope")
	}
	env, err := bridge.DecodeEnvelope(req.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := env.Check(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	added, err := s.inbox.Put(env)
	if err != nil {
		s.logger.Error("inbox put failed", slog.String("ticket", env.Ticket), slog.Any("error", err))
		return nil, status.Error(codes.Internal, "inbox unavailable")
	}
	if !added {
		s.logger.Debug("duplicate delivery", slog.String("ticket", env.Ticket))
	}
	return wrapperspb.Bool(!added), nil
}

// GRPCTransport delivers envelopes to a remote InboundServer.
type GRPCTransport struct {
	conn *grpc.ClientConn
}

// Dial creates a client for target. Without options the connection is
// plaintext, which suits loopback deployments and tests only.
func Dial(target string, opts ...grpc.DialOption) (*GRPCTransport, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts,
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("relay dial %s: %w", target, err)
	}
	return &GRPCTransport{conn: conn}, nil
}

func (t *GRPCTransport) Deliver(ctx context.Context, env bridge.Envelope) error {
	if t == nil || t.conn == nil {
		return errors.New("relay transport not connected")
	}
	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", cerrors.ErrChannelRejected, err)
	}
	out := new(wrapperspb.BoolValue)
	if err := t.conn.Invoke(ctx, deliverMethod, wrapperspb.Bytes(payload), out); err != nil {
		if status.Code(err) == codes.InvalidArgument {
			return fmt.Errorf("%w: %s", cerrors.ErrChannelRejected, status.Convert(err).Message())
		}
		return err
	}
	return nil
}

func (t *GRPCTransport) Close() error {
	if t == nil || t.conn == nil {
		return nil
	}
	return t.conn.Close()
}
