package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voicepipe/voicepipe/config"
	"github.com/voicepipe/voicepipe/db"
	"github.com/voicepipe/voicepipe/dispatch"
	"github.com/voicepipe/voicepipe/errors"
	"github.com/voicepipe/voicepipe/kv"
	"github.com/voicepipe/voicepipe/logger"
)

// EnqueueCmd inserts one job and pushes it onto its queue.
var EnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Insert a job and push it onto its queue",
	Long: `Create a QUEUED job row and push its id onto the (type, priority)
queue. The input payload is validated against the stage's schema before
anything is written.

Example:
  voicepipe enqueue --type TRANSCRIPTION --priority HIGH \
    --input '{"episodeId":"ep-1","s3Key":"raw/ep-1.wav"}'`,
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

		jobType, _ := cmd.Flags().GetString("type")
		priority, _ := cmd.Flags().GetString("priority")
		input, _ := cmd.Flags().GetString("input")

		// Schema check up front so a typo fails here, not on a worker
		if _, err := dispatch.DecodeInput(dispatch.JobType(jobType), json.RawMessage(input)); err != nil {
			return err
		}

		ctx := cmd.Context()
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
		job := dispatch.NewJob(dispatch.JobType(jobType), dispatch.Priority(priority), json.RawMessage(input))
		if err := queue.Enqueue(ctx, job); err != nil {
			return err
		}

		fmt.Println(job.ID)
		return nil
	},
}

func init() {
	EnqueueCmd.Flags().String("type", "", "Job type (required)")
	EnqueueCmd.Flags().String("priority", string(dispatch.PriorityNormal), "Priority class")
	EnqueueCmd.Flags().String("input", "", "Input payload as JSON (required)")
	EnqueueCmd.MarkFlagRequired("type")
	EnqueueCmd.MarkFlagRequired("input")
}
