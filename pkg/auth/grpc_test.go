package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/StricklySoft/gatekeeper/internal/testutil/fixtures"
)

// ---------------------------------------------------------------------------
// UnaryServerInterceptor
// ---------------------------------------------------------------------------

func TestUnaryServerInterceptor_ValidToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.issue(t)
	interceptor := UnaryServerInterceptor(h.gk)

	md := metadata.Pairs(HeaderAuthorization, "Bearer "+tok)
	ctx := metadata.NewIncomingContext(context.Background(), md)

	var capturedCtx context.Context
	handler := func(ctx context.Context, req any) (any, error) {
		capturedCtx = ctx
		return "response", nil
	}

	resp, err := interceptor(ctx, "request", &grpc.UnaryServerInfo{}, handler)
	require.NoError(t, err, "interceptor returned error")
	assert.Equal(t, "response", resp)

	p, ok := PrincipalFromContext(capturedCtx)
	require.True(t, ok, "principal not found in context after interceptor")
	assert.Equal(t, fixtures.Subject, p.Claims.Subject)
	assert.Equal(t, tok, p.Token)
}

func TestUnaryServerInterceptor_Rejections(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	unscoped := h.issue(t, withScope("openid"))

	tests := []struct {
		name string
		ctx  context.Context
	}{
		{name: "no metadata", ctx: context.Background()},
		{
			name: "no authorization",
			ctx:  metadata.NewIncomingContext(context.Background(), metadata.Pairs("other-key", "v")),
		},
		{
			name: "invalid token",
			ctx:  metadata.NewIncomingContext(context.Background(), metadata.Pairs(HeaderAuthorization, "Bearer garbage")),
		},
		{
			name: "scope denied",
			ctx:  metadata.NewIncomingContext(context.Background(), metadata.Pairs(HeaderAuthorization, "Bearer "+unscoped)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			interceptor := UnaryServerInterceptor(h.gk)
			handler := func(ctx context.Context, req any) (any, error) {
				t.Error("handler should not be called for a rejected call")
				return nil, nil
			}

			_, err := interceptor(tt.ctx, "request", &grpc.UnaryServerInfo{}, handler)
			require.Error(t, err)
			st, ok := status.FromError(err)
			require.True(t, ok, "error is not a gRPC status: %v", err)
			assert.Equal(t, codes.Unauthenticated, st.Code())
			assert.Equal(t, grpcRejectMessage, st.Message())
		})
	}
}

func TestUnaryServerInterceptor_MetadataKeyCase(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.issue(t)
	interceptor := UnaryServerInterceptor(h.gk)

	// metadata.Pairs lower-cases keys, as gRPC does on the wire.
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("Authorization", "Bearer "+tok))
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
		return nil, nil
	})
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// StreamServerInterceptor
// ---------------------------------------------------------------------------

// fakeServerStream implements grpc.ServerStream with a fixed context.
type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeServerStream) Context() context.Context { return f.ctx }

func TestStreamServerInterceptor_ValidToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.issue(t)
	interceptor := StreamServerInterceptor(h.gk)

	md := metadata.Pairs(HeaderAuthorization, "Bearer "+tok)
	stream := &fakeServerStream{ctx: metadata.NewIncomingContext(context.Background(), md)}

	var captured context.Context
	err := interceptor(nil, stream, &grpc.StreamServerInfo{}, func(_ any, ss grpc.ServerStream) error {
		captured = ss.Context()
		return nil
	})
	require.NoError(t, err)

	p, ok := PrincipalFromContext(captured)
	require.True(t, ok, "principal not found in wrapped stream context")
	assert.Equal(t, fixtures.Subject, p.Claims.Subject)
}

func TestStreamServerInterceptor_Rejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	interceptor := StreamServerInterceptor(h.gk)

	stream := &fakeServerStream{ctx: context.Background()}
	err := interceptor(nil, stream, &grpc.StreamServerInfo{}, func(any, grpc.ServerStream) error {
		t.Error("handler should not be called for a rejected stream")
		return nil
	})
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Unauthenticated, st.Code())
}

// ---------------------------------------------------------------------------
// Client interceptors
// ---------------------------------------------------------------------------

func TestUnaryClientInterceptor_ForwardsToken(t *testing.T) {
	t.Parallel()
	interceptor := UnaryClientInterceptor()

	base := metadata.NewOutgoingContext(context.Background(), metadata.Pairs("x-request-id", "r-1"))
	ctx := ContextWithPrincipal(base, &Principal{Token: "tok-down"})

	var outgoing metadata.MD
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		outgoing, _ = metadata.FromOutgoingContext(ctx)
		return nil
	}
	require.NoError(t, interceptor(ctx, "/svc/Method", nil, nil, nil, invoker))

	assert.Equal(t, []string{"Bearer tok-down"}, outgoing.Get(HeaderAuthorization))
	assert.Equal(t, []string{"r-1"}, outgoing.Get("x-request-id"), "existing metadata must be kept")
}

func TestUnaryClientInterceptor_NoPrincipal(t *testing.T) {
	t.Parallel()
	interceptor := UnaryClientInterceptor()

	var hadMD bool
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		_, hadMD = metadata.FromOutgoingContext(ctx)
		return nil
	}
	require.NoError(t, interceptor(context.Background(), "/svc/Method", nil, nil, nil, invoker))
	assert.False(t, hadMD)
}

func TestStreamClientInterceptor_ForwardsToken(t *testing.T) {
	t.Parallel()
	interceptor := StreamClientInterceptor()
	ctx := ContextWithPrincipal(context.Background(), &Principal{Token: "tok-stream"})

	var outgoing metadata.MD
	streamer := func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		outgoing, _ = metadata.FromOutgoingContext(ctx)
		return nil, nil
	}
	_, err := interceptor(ctx, &grpc.StreamDesc{}, nil, "/svc/Stream", streamer)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer tok-stream"}, outgoing.Get(HeaderAuthorization))
}

func TestMetadataHeaders(t *testing.T) {
	t.Parallel()
	md := metadata.MD{"authorization": []string{"first", "second"}}
	assert.Equal(t, "first", metadataHeaders(md).Get("Authorization"))
	assert.Empty(t, metadataHeaders(nil).Get("authorization"))
}
