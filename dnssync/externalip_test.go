package dnssync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExternalIPFirstServiceWins(t *testing.T) {
	good := echoServer(t, http.StatusOK, "203.0.113.10\n")

	ip, err := externalIPFrom(context.Background(),
		[]string{good.URL}, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.10", ip)
}

func TestExternalIPFallsThroughFailures(t *testing.T) {
	down := echoServer(t, http.StatusServiceUnavailable, "")
	garbage := echoServer(t, http.StatusOK, "<html>blocked</html>")
	ipv6 := echoServer(t, http.StatusOK, "2001:db8::1")
	good := echoServer(t, http.StatusOK, "203.0.113.10")

	ip, err := externalIPFrom(context.Background(),
		[]string{down.URL, garbage.URL, ipv6.URL, good.URL}, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.10", ip)
}

func TestExternalIPAllServicesFail(t *testing.T) {
	down := echoServer(t, http.StatusServiceUnavailable, "")

	_, err := externalIPFrom(context.Background(),
		[]string{down.URL}, zap.NewNop().Sugar())
	assert.ErrorContains(t, err, "all external IP echo services failed")
}
