package dnssync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/voicepipe/voicepipe/errors"
)

// SSHRecordPrefix names the reserved SSH ingress record. It always exists,
// always points at the current external IP, and is never proxied: Cloudflare
// terminates HTTP only, so an SSH hostname behind the proxy would be dead.
const SSHRecordPrefix = "ssh-3afb6505"

// DirectSuffix marks hostnames that bypass the Cloudflare proxy. Useful for
// latency-sensitive endpoints and protocol debugging.
const DirectSuffix = "-d"

// Options configures a Reconciler.
type Options struct {
	BaseDomain      string
	TraefikConfig   string
	FingerprintPath string
	HealthFilePath  string

	// MutationInterval paces record writes against provider API limits.
	// Zero means no pacing.
	MutationInterval time.Duration
}

// Summary reports what one reconciliation pass did.
type Summary struct {
	Desired int
	Created int
	Updated int
	Deleted int
	Failed  int
	Skipped bool // true when the pass aborted before converging
}

// Reconciler converges the zone's A records with the hostnames Traefik
// routes. One instance owns one zone.
type Reconciler struct {
	provider Provider
	opts     Options
	limiter  *rate.Limiter
	logger   *zap.SugaredLogger

	externalIP func(context.Context, *zap.SugaredLogger) (string, error)
}

// NewReconciler creates a reconciler over a provider.
func NewReconciler(provider Provider, opts Options, logger *zap.SugaredLogger) *Reconciler {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.MutationInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.MutationInterval), 1)
	}
	return &Reconciler{
		provider:   provider,
		opts:       opts,
		limiter:    limiter,
		logger:     logger.Named("dnssync"),
		externalIP: ExternalIP,
	}
}

type desiredRecord struct {
	name    string
	proxied bool
}

// desiredRecords builds the full desired set from the extracted hostnames.
// The zone root and the reserved SSH record are always present regardless of
// what Traefik routes.
func (r *Reconciler) desiredRecords(hostnames []string) []desiredRecord {
	base := r.opts.BaseDomain
	seen := map[string]bool{}

	desired := []desiredRecord{
		{name: base, proxied: true},
		{name: SSHRecordPrefix + "." + base, proxied: false},
	}
	for _, d := range desired {
		seen[d.name] = true
	}

	for _, h := range hostnames {
		if h != base && !strings.HasSuffix(h, "."+base) {
			r.logger.Debugw("Ignoring hostname outside managed zone", "hostname", h)
			continue
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		desired = append(desired, desiredRecord{name: h, proxied: r.proxiedFor(h)})
	}
	return desired
}

// proxiedFor applies the proxy policy: the root is always proxied, the
// reserved SSH record and -d hostnames are direct, everything else goes
// through the Cloudflare proxy.
func (r *Reconciler) proxiedFor(hostname string) bool {
	base := r.opts.BaseDomain
	if hostname == base {
		return true
	}
	label := strings.TrimSuffix(hostname, "."+base)
	if label == SSHRecordPrefix {
		return false
	}
	if strings.HasSuffix(label, DirectSuffix) {
		return false
	}
	return true
}

// Reconcile runs one full pass: extract hostnames, discover the external IP,
// and converge the zone. Per-record failures are counted, not fatal; the
// config fingerprint advances only after a pass with zero failures so a
// partial converge is retried.
func (r *Reconciler) Reconcile(ctx context.Context) (*Summary, error) {
	hostnames, err := ExtractHostnames(r.opts.TraefikConfig)
	if err != nil {
		return &Summary{Skipped: true}, err
	}

	ip, err := r.externalIP(ctx, r.logger)
	if err != nil {
		return &Summary{Skipped: true}, err
	}

	existing, err := r.provider.ListARecords(ctx)
	if err != nil {
		return &Summary{Skipped: true}, err
	}

	byName := make(map[string]Record, len(existing))
	for _, rec := range existing {
		byName[rec.Name] = rec
	}

	desired := r.desiredRecords(hostnames)
	summary := &Summary{Desired: len(desired)}
	inDesired := make(map[string]bool, len(desired))

	for _, want := range desired {
		inDesired[want.name] = true

		have, exists := byName[want.name]
		switch {
		case !exists:
			if err := r.mutate(ctx, func() error {
				return r.provider.CreateARecord(ctx, want.name, ip, want.proxied)
			}); err != nil {
				summary.Failed++
				r.logger.Errorw("Failed to create record", "name", want.name, "error", err)
				continue
			}
			summary.Created++
			r.logger.Infow("Created record", "name", want.name, "ip", ip, "proxied", want.proxied)

		case have.Content != ip || have.Proxied != want.proxied:
			if err := r.mutate(ctx, func() error {
				return r.provider.UpdateARecord(ctx, have.ID, want.name, ip, want.proxied)
			}); err != nil {
				summary.Failed++
				r.logger.Errorw("Failed to update record", "name", want.name, "error", err)
				continue
			}
			summary.Updated++
			r.logger.Infow("Updated record",
				"name", want.name, "ip", ip, "proxied", want.proxied,
				"previous_ip", have.Content)
		}
	}

	// Prune managed records that no longer have a router. Guard: an empty
	// extraction usually means a broken or mid-write config file, and
	// pruning on it would take down every hostname at once.
	if len(hostnames) > 0 {
		for _, rec := range existing {
			if inDesired[rec.Name] || !r.managed(rec.Name) {
				continue
			}
			if err := r.mutate(ctx, func() error {
				return r.provider.DeleteARecord(ctx, rec.ID)
			}); err != nil {
				summary.Failed++
				r.logger.Errorw("Failed to delete record", "name", rec.Name, "error", err)
				continue
			}
			summary.Deleted++
			r.logger.Infow("Deleted stale record", "name", rec.Name)
		}
	} else {
		r.logger.Warnw("No hostnames extracted, skipping prune",
			"config", r.opts.TraefikConfig)
	}

	if summary.Failed == 0 {
		// An empty extraction leaves the config suspect; hold the
		// fingerprint so the checker keeps escalating to full passes.
		if len(hostnames) > 0 {
			if err := r.writeFingerprint(); err != nil {
				r.logger.Warnw("Failed to record config fingerprint", "error", err)
			}
		}
		r.touchHealthFile()
	}

	r.logger.Infow("Reconciliation pass complete",
		"desired", summary.Desired, "created", summary.Created,
		"updated", summary.Updated, "deleted", summary.Deleted,
		"failed", summary.Failed)
	return summary, nil
}

// managed reports whether a record name falls inside the zone this
// reconciler owns. Records outside the base domain are never touched.
func (r *Reconciler) managed(name string) bool {
	base := r.opts.BaseDomain
	return name == base || strings.HasSuffix(name, "."+base)
}

func (r *Reconciler) mutate(ctx context.Context, fn func() error) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn()
}

// ConfigFingerprint hashes the Traefik config file. The checker compares it
// against the stored fingerprint to decide whether a full pass is needed.
func ConfigFingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", path)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (r *Reconciler) writeFingerprint() error {
	fp, err := ConfigFingerprint(r.opts.TraefikConfig)
	if err != nil {
		return err
	}
	return os.WriteFile(r.opts.FingerprintPath, []byte(fp), 0o644)
}

// touchHealthFile records when the reconciler last completed a pass, for
// external liveness monitoring.
func (r *Reconciler) touchHealthFile() {
	if r.opts.HealthFilePath == "" {
		return
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	if err := os.WriteFile(r.opts.HealthFilePath, []byte(stamp+"\n"), 0o644); err != nil {
		r.logger.Warnw("Failed to write health file", "path", r.opts.HealthFilePath, "error", err)
	}
}
