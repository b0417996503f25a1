package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voicepipe/voicepipe/config"
	"github.com/voicepipe/voicepipe/kv"
	"github.com/voicepipe/voicepipe/logger"
	"github.com/voicepipe/voicepipe/ratelimit"
)

// RatelimitCmd starts the rate limiter HTTP service.
var RatelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Start the rate limiter HTTP service",
	Long: `Start the shared rate limiter service.

Endpoints:
  POST /ratelimit  - evaluate a check for an identifier
  GET  /healthz    - redis connectivity probe
  GET  /metrics    - prometheus metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.ValidateRedis(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rdb, err := kv.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		limiter := ratelimit.NewLimiter(rdb, cfg.Redis.Namespace)
		server := ratelimit.NewServer(limiter, rdb, logger.Logger)
		return server.ListenAndServe(ctx, cfg.Server.Port)
	},
}
