package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voicepipe/voicepipe/cmd/voicepipe/commands"
	"github.com/voicepipe/voicepipe/logger"
)

var rootCmd = &cobra.Command{
	Use:   "voicepipe",
	Short: "voicepipe - media pipeline job dispatch and rate limiting",
	Long: `voicepipe - job dispatch and rate-limiting core for the media pipeline.

Available commands:
  worker    - Start the job worker runtime for one or more stage types
  ratelimit - Start the rate limiter HTTP service
  dnssync   - Reconcile Cloudflare DNS with Traefik-routed hostnames
  enqueue   - Insert a job and push it onto its queue
  sweep     - Recover jobs stranded by crashed workers
  db        - Manage the job database

Examples:
  voicepipe worker --stage 'TRANSCRIPTION=python3 -m runtime.asr'
  voicepipe ratelimit
  voicepipe dnssync watch
  voicepipe enqueue --type TRANSCRIPTION --input '{"episodeId":"ep-1","s3Key":"raw/ep-1.wav"}'
  voicepipe sweep --policy requeue`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console output")

	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.RatelimitCmd)
	rootCmd.AddCommand(commands.DNSSyncCmd)
	rootCmd.AddCommand(commands.EnqueueCmd)
	rootCmd.AddCommand(commands.SweepCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
