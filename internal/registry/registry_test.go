package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(nil, nil, DefaultConfig())
}

func TestRegister_SucceedsAfterSynchronousProbe(t *testing.T) {
	healthSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer healthSrv.Close()

	r := testRegistry(t)
	host, port := splitHostPort(t, healthSrv.URL)

	err := r.Register(context.Background(), ServiceInstance{
		ServiceName: "agent-service",
		InstanceID:  "a1",
		Host:        host,
		Port:        port,
	})
	require.NoError(t, err)

	inst, pickErr := r.Select("agent-service", StrategyRoundRobin)
	require.NoError(t, pickErr)
	require.Equal(t, "a1", inst.InstanceID)
}

func TestDeregister_RemovesServiceWhenLastInstanceLeaves(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Register(context.Background(), ServiceInstance{
		ServiceName: "svc", InstanceID: "a1", Host: "127.0.0.1", Port: 9999,
	}))
	require.NoError(t, r.Deregister("svc", "a1"))

	_, err := r.Select("svc", StrategyRoundRobin)
	require.Error(t, err)
}

func TestSelect_UnknownServiceIsUpstreamUnavailable(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Select("nope", StrategyRoundRobin)
	require.Error(t, err)
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}
