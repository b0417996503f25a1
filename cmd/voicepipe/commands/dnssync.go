package commands

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicepipe/voicepipe/config"
	"github.com/voicepipe/voicepipe/dnssync"
	"github.com/voicepipe/voicepipe/logger"
)

// DNSSyncCmd groups the DNS reconciliation commands.
var DNSSyncCmd = &cobra.Command{
	Use:   "dnssync",
	Short: "Reconcile Cloudflare DNS with Traefik-routed hostnames",
}

var dnssyncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full reconciliation pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		reconciler, err := buildReconciler(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		_, err = reconciler.Reconcile(ctx)
		return err
	},
}

var dnssyncWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the Traefik config and keep DNS converged",
	Long: `Run the steady-state loop: a cheap fingerprint-and-probe check on an
interval plus an immediate check whenever the Traefik config changes.
Only config changes or connectivity failures trigger a full pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reconciler, err := buildReconciler(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		interval, _ := cmd.Flags().GetDuration("interval")
		checker := dnssync.NewChecker(reconciler, logger.Logger)
		return checker.Watch(ctx, interval)
	},
}

func buildReconciler(cmd *cobra.Command) (*dnssync.Reconciler, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateDNS(); err != nil {
		return nil, err
	}

	provider, err := dnssync.NewCloudflareProvider(cmd.Context(), cfg.DNS.Token, cfg.DNS.BaseDomain)
	if err != nil {
		return nil, err
	}

	return dnssync.NewReconciler(provider, dnssync.Options{
		BaseDomain:       cfg.DNS.BaseDomain,
		TraefikConfig:    cfg.DNS.TraefikConfig,
		FingerprintPath:  cfg.DNS.FingerprintPath,
		HealthFilePath:   cfg.DNS.HealthFilePath,
		MutationInterval: 250 * time.Millisecond,
	}, logger.Logger), nil
}

func init() {
	dnssyncWatchCmd.Flags().Duration("interval", 60*time.Second,
		"How often to run the lightweight check")
	DNSSyncCmd.AddCommand(dnssyncRunCmd)
	DNSSyncCmd.AddCommand(dnssyncWatchCmd)
}
