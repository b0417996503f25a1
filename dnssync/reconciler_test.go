package dnssync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testIP = "203.0.113.10"

func newTestReconciler(t *testing.T, provider Provider, config string) *Reconciler {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))

	r := NewReconciler(provider, Options{
		BaseDomain:      "example.org",
		TraefikConfig:   configPath,
		FingerprintPath: filepath.Join(dir, "fingerprint"),
		HealthFilePath:  filepath.Join(dir, "health"),
	}, zap.NewNop().Sugar())
	r.externalIP = func(context.Context, *zap.SugaredLogger) (string, error) {
		return testIP, nil
	}
	return r
}

const routedConfig = `
http:
  routers:
    app:
      rule: "Host(` + "`app.example.org`" + `)"
    grafana:
      rule: "Host(` + "`grafana-d.example.org`" + `)"
`

func TestReconcileCreatesDesiredRecords(t *testing.T) {
	provider := newFakeProvider()
	r := newTestReconciler(t, provider, routedConfig)

	summary, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Desired)
	assert.Equal(t, 4, summary.Created)
	assert.Zero(t, summary.Failed)

	// Root: always present, proxied
	root, ok := provider.byName("example.org")
	require.True(t, ok)
	assert.True(t, root.Proxied)
	assert.Equal(t, testIP, root.Content)

	// Reserved SSH ingress: always present, never proxied
	ssh, ok := provider.byName("ssh-3afb6505.example.org")
	require.True(t, ok)
	assert.False(t, ssh.Proxied)

	// Routed hostname: proxied
	app, ok := provider.byName("app.example.org")
	require.True(t, ok)
	assert.True(t, app.Proxied)

	// -d hostname: direct
	grafana, ok := provider.byName("grafana-d.example.org")
	require.True(t, ok)
	assert.False(t, grafana.Proxied)
}

func TestReconcileUpdatesChangedIP(t *testing.T) {
	provider := newFakeProvider()
	provider.seed("app.example.org", "198.51.100.1", true)
	r := newTestReconciler(t, provider, routedConfig)

	summary, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)

	app, ok := provider.byName("app.example.org")
	require.True(t, ok)
	assert.Equal(t, testIP, app.Content)
}

func TestReconcileFixesProxyFlag(t *testing.T) {
	provider := newFakeProvider()
	provider.seed("grafana-d.example.org", testIP, true) // should be direct
	r := newTestReconciler(t, provider, routedConfig)

	summary, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)

	grafana, ok := provider.byName("grafana-d.example.org")
	require.True(t, ok)
	assert.False(t, grafana.Proxied)
}

func TestReconcileIdempotent(t *testing.T) {
	provider := newFakeProvider()
	r := newTestReconciler(t, provider, routedConfig)

	_, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	summary, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Created)
	assert.Zero(t, summary.Updated)
	assert.Zero(t, summary.Deleted)
}

func TestReconcilePrunesStaleRecords(t *testing.T) {
	provider := newFakeProvider()
	provider.seed("old.example.org", testIP, true)
	r := newTestReconciler(t, provider, routedConfig)

	summary, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)

	_, ok := provider.byName("old.example.org")
	assert.False(t, ok)
}

func TestReconcileNeverPrunesForeignRecords(t *testing.T) {
	provider := newFakeProvider()
	provider.seed("other.example.net", "192.0.2.7", false)
	r := newTestReconciler(t, provider, routedConfig)

	summary, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Deleted)

	foreign, ok := provider.byName("other.example.net")
	require.True(t, ok)
	assert.Equal(t, "192.0.2.7", foreign.Content)
}

// An empty extraction is treated as a broken config, not an instruction to
// delete everything.
func TestReconcileEmptyExtractionSkipsPrune(t *testing.T) {
	provider := newFakeProvider()
	provider.seed("app.example.org", testIP, true)
	r := newTestReconciler(t, provider, "http:\n  routers: {}\n")

	summary, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Deleted)

	_, ok := provider.byName("app.example.org")
	assert.True(t, ok)
}

// An empty extraction must also hold back the fingerprint, or the checker
// would treat the broken config as converged and stop escalating.
func TestReconcileEmptyExtractionHoldsFingerprint(t *testing.T) {
	provider := newFakeProvider()
	r := newTestReconciler(t, provider, "http:\n  routers: {}\n")

	summary, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Failed)

	_, statErr := os.Stat(r.opts.FingerprintPath)
	assert.True(t, os.IsNotExist(statErr), "fingerprint must not advance on an empty extraction")
}

func TestReconcileIgnoresHostnamesOutsideZone(t *testing.T) {
	provider := newFakeProvider()
	config := `
http:
  routers:
    app:
      rule: "Host(` + "`app.example.org`" + `)"
    foreign:
      rule: "Host(` + "`app.elsewhere.net`" + `)"
`
	r := newTestReconciler(t, provider, config)

	_, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	_, ok := provider.byName("app.elsewhere.net")
	assert.False(t, ok)
}

// A per-record failure must not abort the pass, and must hold back both the
// fingerprint and the health timestamp so the next check retries the full
// pass and liveness monitoring sees the stall.
func TestReconcilePartialFailure(t *testing.T) {
	provider := newFakeProvider()
	provider.failCreateFor["app.example.org"] = true
	r := newTestReconciler(t, provider, routedConfig)

	summary, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, summary.Created)

	_, statErr := os.Stat(r.opts.FingerprintPath)
	assert.True(t, os.IsNotExist(statErr), "fingerprint must not advance after failures")

	_, statErr = os.Stat(r.opts.HealthFilePath)
	assert.True(t, os.IsNotExist(statErr), "health timestamp must not refresh after failures")
}

func TestReconcileFullSuccessAdvancesFingerprint(t *testing.T) {
	provider := newFakeProvider()
	r := newTestReconciler(t, provider, routedConfig)

	_, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	stored, err := os.ReadFile(r.opts.FingerprintPath)
	require.NoError(t, err)

	expected, err := ConfigFingerprint(r.opts.TraefikConfig)
	require.NoError(t, err)
	assert.Equal(t, expected, string(stored))

	// Health timestamp written alongside
	health, err := os.ReadFile(r.opts.HealthFilePath)
	require.NoError(t, err)
	assert.NotEmpty(t, health)
}
