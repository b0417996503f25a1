package dnssync

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const probeTimeout = 5 * time.Second

// Checker runs the cheap steady-state loop: most ticks cost one file hash
// and at most one TCP dial, and only config changes or connectivity failures
// escalate to a full reconciliation pass.
type Checker struct {
	reconciler *Reconciler
	opts       Options
	logger     *zap.SugaredLogger

	// probe is swappable for tests; defaults to a TCP dial.
	probe func(ctx context.Context, addr string) error
}

// NewChecker creates a checker over a reconciler.
func NewChecker(reconciler *Reconciler, logger *zap.SugaredLogger) *Checker {
	return &Checker{
		reconciler: reconciler,
		opts:       reconciler.opts,
		logger:     logger.Named("dnscheck"),
		probe:      tcpProbe,
	}
}

func tcpProbe(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: probeTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// CheckOnce decides whether a full pass is needed and runs it if so.
// Escalation triggers, in order:
//   - the stored fingerprint is missing or differs from the config on disk
//   - the reserved SSH record does not answer on :22
func (c *Checker) CheckOnce(ctx context.Context) error {
	full, reason := c.needsFullPass(ctx)
	if !full {
		c.logger.Debugw("Lightweight check passed")
		c.reconciler.touchHealthFile()
		return nil
	}

	c.logger.Infow("Escalating to full reconciliation", "reason", reason)
	_, err := c.reconciler.Reconcile(ctx)
	return err
}

func (c *Checker) needsFullPass(ctx context.Context) (bool, string) {
	current, err := ConfigFingerprint(c.opts.TraefikConfig)
	if err != nil {
		return true, "config unreadable"
	}

	stored, err := os.ReadFile(c.opts.FingerprintPath)
	if err != nil {
		return true, "no stored fingerprint"
	}
	if strings.TrimSpace(string(stored)) != current {
		return true, "config fingerprint changed"
	}

	sshHost := SSHRecordPrefix + "." + c.opts.BaseDomain
	if err := c.probe(ctx, net.JoinHostPort(sshHost, "22")); err != nil {
		c.logger.Warnw("SSH probe failed", "host", sshHost, "error", err)
		return true, "ssh probe failed"
	}

	return false, ""
}

// Watch runs CheckOnce on the interval and additionally on filesystem events
// touching the Traefik config, until ctx is cancelled. Watching the parent
// directory survives the rename-over-write editors and config generators do.
func (c *Checker) Watch(ctx context.Context, interval time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	configDir := filepath.Dir(c.opts.TraefikConfig)
	if err := watcher.Add(configDir); err != nil {
		return err
	}

	c.logger.Infow("Watching traefik config",
		"config", c.opts.TraefikConfig, "interval", interval)

	// Debounce burst events from atomic writes
	var pending <-chan time.Time

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.opts.TraefikConfig) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			c.logger.Debugw("Config file event", "op", event.Op.String())
			pending = time.After(500 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warnw("Config watcher error", "error", err)

		case <-pending:
			pending = nil
			if err := c.CheckOnce(ctx); err != nil {
				c.logger.Errorw("Check after config change failed", "error", err)
			}

		case <-ticker.C:
			if err := c.CheckOnce(ctx); err != nil {
				c.logger.Errorw("Periodic check failed", "error", err)
			}
		}
	}
}
