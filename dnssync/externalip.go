package dnssync

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voicepipe/voicepipe/errors"
)

// Echo services tried in order; the first dotted-quad answer wins.
var defaultEchoServices = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://ipinfo.io/ip",
}

const echoTimeout = 5 * time.Second

// ExternalIP discovers the host's public IPv4 address by asking echo
// services in turn. A service that is down, slow, or returns something
// other than a dotted quad is skipped.
func ExternalIP(ctx context.Context, logger *zap.SugaredLogger) (string, error) {
	return externalIPFrom(ctx, defaultEchoServices, logger)
}

func externalIPFrom(ctx context.Context, services []string, logger *zap.SugaredLogger) (string, error) {
	client := &http.Client{Timeout: echoTimeout}

	for _, url := range services {
		ip, err := queryEchoService(ctx, client, url)
		if err != nil {
			logger.Debugw("External IP echo service failed", "url", url, "error", err)
			continue
		}
		return ip, nil
	}
	return "", errors.New("all external IP echo services failed")
}

func queryEchoService(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("echo service returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", err
	}

	ip := strings.TrimSpace(string(body))
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return "", errors.Newf("echo service returned %q, not an IPv4 address", ip)
	}
	return ip, nil
}
