package relay

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	cerrors "claimbridge/core/errors"
)

func startChannel(t *testing.T, inbox Inbox, secret string) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := NewGRPCServer()
	inbound, err := NewInboundServer(inbox, ChannelSecret{Secret: secret}.Guard(), nil)
	require.NoError(t, err)
	inbound.Register(server)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)
	return lis
}

func dialChannel(t *testing.T, lis *bufconn.Listener, secret string) *GRPCTransport {
	t.Helper()
	transport, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(ChannelSecret{Secret: secret}.Credentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.Close() })
	return transport
}

func TestGRPCDeliverStoresEnvelope(t *testing.T) {
	inbox := NewMemoryInbox()
	lis := startChannel(t, inbox, "s3cret")
	transport := dialChannel(t, lis, "s3cret")

	env := testEnvelope(t, 1)
	require.NoError(t, transport.Deliver(context.Background(), env))
	require.NoError(t, transport.Deliver(context.Background(), env))

	pending, err := inbox.Pending(0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, env, pending[0])
}

func TestGRPCDeliverRejectsBadSecret(t *testing.T) {
	inbox := NewMemoryInbox()
	lis := startChannel(t, inbox, "s3cret")
	transport := dialChannel(t, lis, "wrong")

	err := transport.Deliver(context.Background(), testEnvelope(t, 1))
	require.Error(t, err)
	p, _, _ := inbox.Depth()
	require.Zero(t, p)
}

func TestGRPCDeliverRejectsTamperedEnvelope(t *testing.T) {
	inbox := NewMemoryInbox()
	lis := startChannel(t, inbox, "s3cret")
	transport := dialChannel(t, lis, "s3cret")

	env := testEnvelope(t, 1)
	env.Instruction.RewardAmount++
	err := transport.Deliver(context.Background(), env)
	require.True(t, errors.Is(err, cerrors.ErrChannelRejected), "got %v", err)
	p, _, _ := inbox.Depth()
	require.Zero(t, p)
}

func TestLocalTransport(t *testing.T) {
	inbox := NewMemoryInbox()
	transport := NewLocalTransport(inbox)
	require.NoError(t, transport.Deliver(context.Background(), testEnvelope(t, 1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, transport.Deliver(ctx, testEnvelope(t, 2)), context.Canceled)

	p, _, err := inbox.Depth()
	require.NoError(t, err)
	require.Equal(t, 1, p)
}

func TestInboundServerRequiresAuthenticator(t *testing.T) {
	_, err := NewInboundServer(NewMemoryInbox(), ChannelSecret{}.Guard(), nil)
	require.ErrorIs(t, err, ErrNoAuthenticator)
}

func TestInboundServerRejectsUndecodablePayload(t *testing.T) {
	inbox := NewMemoryInbox()
	server, err := NewInboundServer(inbox, ChannelSecret{Secret: "s"}.Guard(), nil)
	require.NoError(t, err)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(DefaultHeader, "s"))
	_, err = server.Deliver(ctx, wrapperspb.Bytes([]byte{0xde, 0xad}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	env := testEnvelope(t, 1)
	payload, err := env.Encode()
	require.NoError(t, err)
	dup, err := server.Deliver(ctx, wrapperspb.Bytes(payload))
	require.NoError(t, err)
	require.False(t, dup.GetValue())
	dup, err = server.Deliver(ctx, wrapperspb.Bytes(payload))
	require.NoError(t, err)
	require.True(t, dup.GetValue())
}
