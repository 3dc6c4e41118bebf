package grpcapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"beacon.org/internal/auth"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() {
		srv.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	})
	return conn
}

type readiness struct{ err error }

func (r readiness) Check(context.Context) error { return r.err }

func TestHealthServing(t *testing.T) {
	srv := New(nil, readiness{})
	if !srv.RefreshHealth(context.Background()) {
		t.Fatal("expected ready")
	}
	conn := startBufGRPC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}
}

func TestHealthNotServing(t *testing.T) {
	srv := New(nil, readiness{err: errors.New("db down")})
	if srv.RefreshHealth(context.Background()) {
		t.Fatal("expected not ready")
	}
	conn := startBufGRPC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}
}

type fakeResolver struct{}

func (fakeResolver) ResolveIdentity(_ context.Context, token string) (auth.Identity, error) {
	switch token {
	case "good":
		return auth.Identity{ID: "u-1", Role: auth.RoleAdmin, OrganizationID: "org-1"}, nil
	case "expired":
		return auth.Identity{}, auth.ErrTokenExpired
	default:
		return auth.Identity{}, errors.New("resolver exploded")
	}
}

func TestUnaryAuthInterceptor(t *testing.T) {
	intercept := UnaryAuthInterceptor(fakeResolver{})
	info := &grpc.UnaryServerInfo{FullMethod: "/beacon.v1.Secrets/List"}
	var seen auth.Identity
	handler := func(ctx context.Context, _ any) (any, error) {
		seen, _ = auth.IdentityFromContext(ctx)
		return "ok", nil
	}

	withAuth := func(v string) context.Context {
		return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", v))
	}

	if _, err := intercept(withAuth("Bearer good"), nil, info, handler); err != nil {
		t.Fatalf("good token: %v", err)
	}
	if seen.ID != "u-1" {
		t.Fatalf("identity not attached: %+v", seen)
	}

	cases := map[string]codes.Code{
		"Bearer expired": codes.Unauthenticated,
		"Basic abc":      codes.Unauthenticated,
		"Bearer other":   codes.Internal,
	}
	for header, want := range cases {
		_, err := intercept(withAuth(header), nil, info, handler)
		if status.Code(err) != want {
			t.Fatalf("%q: got %v, want %s", header, err, want)
		}
	}
	if _, err := intercept(context.Background(), nil, info, handler); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("no metadata: %v", err)
	}

	st, _ := status.FromError(func() error {
		_, err := intercept(withAuth("Bearer other"), nil, info, handler)
		return err
	}())
	if st.Message() != "internal error" {
		t.Fatalf("internal detail leaked: %q", st.Message())
	}

	health := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	if _, err := intercept(context.Background(), nil, health, handler); err != nil {
		t.Fatalf("health must be public: %v", err)
	}
}
