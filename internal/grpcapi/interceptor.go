package grpcapi

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"beacon.org/internal/auth"
)

// IdentityResolver verifies an access token.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, accessToken string) (auth.Identity, error)
}

const healthPrefix = "/grpc.health.v1.Health/"

func isPublicMethod(method string) bool {
	return strings.HasPrefix(method, healthPrefix)
}

// UnaryAuthInterceptor attaches the caller's identity to the context.
func UnaryAuthInterceptor(resolver IdentityResolver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if isPublicMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, err := authenticate(ctx, resolver)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor is the streaming counterpart of UnaryAuthInterceptor.
func StreamAuthInterceptor(resolver IdentityResolver) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isPublicMethod(info.FullMethod) {
			return handler(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), resolver)
		if err != nil {
			return err
		}
		return handler(srv, &identityStream{ServerStream: ss, ctx: ctx})
	}
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context { return s.ctx }

func authenticate(ctx context.Context, resolver IdentityResolver) (context.Context, error) {
	if resolver == nil {
		return nil, status.Error(codes.Unauthenticated, "authentication unavailable")
	}
	md, _ := metadata.FromIncomingContext(ctx)
	var header string
	if vals := md.Get("authorization"); len(vals) > 0 {
		header = strings.TrimSpace(vals[0])
	}
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	token := strings.TrimSpace(header[len(prefix):])

	id, err := resolver.ResolveIdentity(ctx, token)
	if err != nil {
		if auth.IsAuthentication(err) {
			return nil, status.Error(codes.Unauthenticated, auth.PublicMessage(err))
		}
		if errors.Is(err, auth.ErrForbidden) {
			return nil, status.Error(codes.PermissionDenied, auth.PublicMessage(err))
		}
		return nil, status.Error(codes.Internal, "internal error")
	}
	ctx = auth.ContextWithIdentity(ctx, id)
	return auth.ContextWithToken(ctx, token), nil
}
