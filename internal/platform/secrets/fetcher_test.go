package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errors map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values: map[string]string{},
		errors: map[string]error{},
		calls:  map[string]int{},
	}
}

func (c *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errors[req.GetName()]; ok {
		return nil, err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (c *fakeSecretClient) Close() error { return nil }

func (c *fakeSecretClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func newTestFetcher(t *testing.T, client *fakeSecretClient, opts ...Option) *Fetcher {
	t.Helper()
	base := []Option{
		WithSecretManagerClient(client),
		WithProject("drbackfit"),
		WithMeter(noop.NewMeterProvider().Meter("test")),
		WithFallbackFile(""),
	}
	fetcher, err := NewFetcher(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fetcher.Close() })
	return fetcher
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	client := newFakeSecretClient()
	resource := "projects/drbackfit/secrets/phonepe_client/versions/latest"
	client.values[resource] = "client-secret"

	fetcher := newTestFetcher(t, client)

	for i := 0; i < 3; i++ {
		got, err := fetcher.ResolveSecret(context.Background(), "secret://phonepe/client")
		require.NoError(t, err)
		require.Equal(t, "client-secret", got)
	}
	require.Equal(t, 1, client.callCount(resource))
}

func TestResolveExplicitProjectAndVersion(t *testing.T) {
	client := newFakeSecretClient()
	resource := "projects/payments-prod/secrets/stripe-key/versions/7"
	client.values[resource] = "sk_live"

	fetcher := newTestFetcher(t, client)

	got, err := fetcher.Resolve(context.Background(), "secret://projects/payments-prod/secrets/stripe-key@7")
	require.NoError(t, err)
	require.Equal(t, "sk_live", got)
}

func TestResolveFallsBackToLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	require.NoError(t, os.WriteFile(path, []byte("phonepe_client=local-secret\n"), 0o600))

	client := newFakeSecretClient()
	client.errors["projects/drbackfit/secrets/phonepe_client/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher := newTestFetcher(t, client, WithFallbackFile(path))

	got, err := fetcher.Resolve(context.Background(), "secret://phonepe/client")
	require.NoError(t, err)
	require.Equal(t, "local-secret", got)
}

func TestResolvePropagatesHardFailures(t *testing.T) {
	client := newFakeSecretClient()
	client.errors["projects/drbackfit/secrets/redis/versions/latest"] = status.Error(codes.Internal, "boom")

	fetcher := newTestFetcher(t, client)

	_, err := fetcher.Resolve(context.Background(), "secret://redis")
	require.Error(t, err)
	require.Equal(t, codes.Internal, status.Code(err))
}

func TestResolveRejectsInvalidReference(t *testing.T) {
	fetcher := newTestFetcher(t, newFakeSecretClient())

	_, err := fetcher.Resolve(context.Background(), "plain-value")
	require.ErrorIs(t, err, ErrInvalidReference)
}
