package relay

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func incoming(pairs ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
}

func TestChannelGuard(t *testing.T) {
	t.Parallel()

	guard := ChannelSecret{Secret: "channel-secret"}.Guard()
	if guard == nil {
		t.Fatalf("guard should not be nil")
	}

	cases := []struct {
		name string
		ctx  context.Context
		want codes.Code
	}{
		{"plain", incoming(DefaultHeader, "channel-secret"), codes.OK},
		{"bearer", incoming(DefaultHeader, "Bearer channel-secret"), codes.OK},
		{"mismatch", incoming(DefaultHeader, "channel-secret-2"), codes.Unauthenticated},
		{"other header", incoming("authorization", "channel-secret"), codes.Unauthenticated},
		{"no metadata", context.Background(), codes.Unauthenticated},
	}
	for _, tc := range cases {
		if got := status.Code(guard.Authorize(tc.ctx)); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestChannelGuardChecksSource(t *testing.T) {
	t.Parallel()

	guard := ChannelSecret{Secret: "s", Source: "verification"}.Guard()
	if err := guard.Authorize(incoming(DefaultHeader, "s", SourceHeader, "Verification")); err != nil {
		t.Fatalf("matching source should pass: %v", err)
	}
	if code := status.Code(guard.Authorize(incoming(DefaultHeader, "s", SourceHeader, "settlement"))); code != codes.PermissionDenied {
		t.Fatalf("expected permission denied, got %v", code)
	}
	if code := status.Code(guard.Authorize(incoming(DefaultHeader, "s"))); code != codes.PermissionDenied {
		t.Fatalf("missing source should be denied, got %v", code)
	}
}

func TestChannelGuardDisabledWithoutSecret(t *testing.T) {
	t.Parallel()

	if guard := (ChannelSecret{Secret: "  "}).Guard(); guard != nil {
		t.Fatalf("empty secret should disable the guard")
	}
}

func TestChannelCredentials(t *testing.T) {
	t.Parallel()

	md, err := ChannelSecret{Header: "Authorization", Secret: " s3cret ", Source: "verification"}.
		Credentials().GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if md["authorization"] != "s3cret" || md[SourceHeader] != "verification" {
		t.Fatalf("unexpected metadata %v", md)
	}
	empty, _ := ChannelSecret{}.Credentials().GetRequestMetadata(context.Background())
	if len(empty) != 0 {
		t.Fatalf("empty secret should add nothing, got %v", empty)
	}
}
