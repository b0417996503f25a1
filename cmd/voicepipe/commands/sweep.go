package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voicepipe/voicepipe/config"
	"github.com/voicepipe/voicepipe/db"
	"github.com/voicepipe/voicepipe/dispatch"
	"github.com/voicepipe/voicepipe/errors"
	"github.com/voicepipe/voicepipe/kv"
	"github.com/voicepipe/voicepipe/logger"
)

// SweepCmd recovers jobs stranded in RUNNING by crashed workers.
var SweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Recover jobs stranded by crashed workers",
	Long: `Find RUNNING jobs whose lease (started_at) is older than SWEEP_LEASE
and either requeue them for another attempt or mark them failed.

One pass by default; --interval keeps sweeping until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.ValidateRedis(); err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return errors.New("DATABASE_URL environment variable is required")
		}

		policyFlag, _ := cmd.Flags().GetString("policy")
		var policy dispatch.StrandedPolicy
		switch policyFlag {
		case "requeue":
			policy = dispatch.PolicyRequeue
		case "fail":
			policy = dispatch.PolicyFail
		default:
			return errors.Newf("unknown policy %q, want requeue or fail", policyFlag)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		conn, err := db.Open(cfg.Database.URL, logger.Logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := db.Migrate(conn, logger.Logger); err != nil {
			return err
		}

		rdb, err := kv.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		queue := dispatch.NewQueue(rdb, dispatch.NewStore(conn), logger.Logger)
		sweeper := dispatch.NewSweeper(queue, cfg.Dispatch.SweepLease, policy, logger.Logger)

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval > 0 {
			sweeper.Run(ctx, interval)
			return nil
		}

		n, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("recovered %d stranded job(s)\n", n)
		return nil
	},
}

func init() {
	SweepCmd.Flags().String("policy", "requeue", "What to do with stranded jobs: requeue or fail")
	SweepCmd.Flags().Duration("interval", 0, "Sweep repeatedly on this interval (0 = one pass)")
}
