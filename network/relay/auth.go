package relay

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// SourceHeader names the domain that dispatched the envelope.
const SourceHeader = "x-claimbridge-source"

// Authenticator decides whether an inbound delivery may reach the inbox.
type Authenticator interface {
	Authorize(ctx context.Context) error
}

// ChannelSecret is the credential both ends of the channel are configured
// with. The sender attaches it to every delivery; the receiver checks it.
type ChannelSecret struct {
	// Header carries the secret, "Bearer " prefix optional.
	Header string
	Secret string
	// Source is the dispatching domain. Receivers with a Source set reject
	// deliveries stamped with any other domain.
	Source string
}

func (s ChannelSecret) header() string {
	h := strings.ToLower(strings.TrimSpace(s.Header))
	if h == "" {
		return DefaultHeader
	}
	return h
}

func (s ChannelSecret) secret() string { return strings.TrimSpace(s.Secret) }

// Guard returns the receiver-side check, or nil when no secret is set.
func (s ChannelSecret) Guard() Authenticator {
	if s.secret() == "" {
		return nil
	}
	return channelGuard{s}
}

// Credentials returns per-RPC credentials for the sending side.
func (s ChannelSecret) Credentials() credentials.PerRPCCredentials {
	return channelCredentials{s}
}

type channelGuard struct{ ChannelSecret }

func (g channelGuard) Authorize(ctx context.Context) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "relay: missing metadata")
	}
	if !g.presented(md.Get(g.header())) {
		return status.Error(codes.Unauthenticated, "relay: invalid or missing channel secret")
	}
	if want := strings.TrimSpace(g.Source); want != "" {
		sources := md.Get(SourceHeader)
		if len(sources) == 0 || !strings.EqualFold(strings.TrimSpace(sources[0]), want) {
			return status.Errorf(codes.PermissionDenied, "relay: deliveries accepted from %s only", want)
		}
	}
	return nil
}

func (g channelGuard) presented(values []string) bool {
	want := []byte(g.secret())
	for _, value := range values {
		token := strings.TrimSpace(value)
		if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
			token = strings.TrimSpace(token[7:])
		}
		if subtle.ConstantTimeCompare([]byte(token), want) == 1 {
			return true
		}
	}
	return false
}

type channelCredentials struct{ ChannelSecret }

func (c channelCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	md := map[string]string{}
	if secret := c.secret(); secret != "" {
		md[c.header()] = secret
	}
	if source := strings.TrimSpace(c.Source); source != "" {
		md[SourceHeader] = source
	}
	return md, nil
}

// RequireTransportSecurity is false so in-cluster plaintext channels work.
func (channelCredentials) RequireTransportSecurity() bool { return false }
