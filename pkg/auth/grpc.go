package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// grpcRejectMessage is the only status message a rejected caller sees.
const grpcRejectMessage = "authentication failed"

// UnaryServerInterceptor returns a gRPC unary server interceptor that runs
// every call through g using the incoming metadata as headers.
//
// Accepted calls reach the handler with a [Principal] in their context.
// Rejected calls fail with codes.Unauthenticated and a fixed message.
func UnaryServerInterceptor(g *Gatekeeper) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authenticateGRPC(ctx, g)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor returns a gRPC stream server interceptor that
// performs the same checks as [UnaryServerInterceptor] and wraps the stream
// to carry the enriched context.
func StreamServerInterceptor(g *Gatekeeper) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authenticateGRPC(ss.Context(), g)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryClientInterceptor returns a gRPC unary client interceptor that
// forwards the bearer token of the context's [Principal] to the downstream
// service. Calls without a principal are sent unchanged.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		return invoker(forwardTokenGRPC(ctx), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor is the streaming counterpart of
// [UnaryClientInterceptor].
func StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		return streamer(forwardTokenGRPC(ctx), desc, cc, method, opts...)
	}
}

// metadataHeaders adapts gRPC metadata to [Headers]. Keys are matched
// case-insensitively and the first value wins.
type metadataHeaders metadata.MD

func (m metadataHeaders) Get(key string) string {
	values := metadata.MD(m).Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func authenticateGRPC(ctx context.Context, g *Gatekeeper) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	req := &Request{Headers: metadataHeaders(md)}
	if err := g.Authenticate(ctx, req); err != nil {
		return ctx, status.Error(codes.Unauthenticated, grpcRejectMessage)
	}
	return ContextWithPrincipal(ctx, principalFromRequest(req)), nil
}

func forwardTokenGRPC(ctx context.Context) context.Context {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Token == "" {
		return ctx
	}
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(HeaderAuthorization, bearerScheme+" "+p.Token)
	return metadata.NewOutgoingContext(ctx, md)
}

// wrappedServerStream wraps a grpc.ServerStream to override its Context
// method, since ServerStream.Context() returns the original stream context
// without the principal.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context containing the principal.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
