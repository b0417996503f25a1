package commands

import (
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/voicepipe/voicepipe/blob"
	"github.com/voicepipe/voicepipe/config"
	"github.com/voicepipe/voicepipe/db"
	"github.com/voicepipe/voicepipe/dispatch"
	"github.com/voicepipe/voicepipe/errors"
	"github.com/voicepipe/voicepipe/kv"
	"github.com/voicepipe/voicepipe/logger"
)

// WorkerCmd starts the job worker runtime.
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the job worker runtime",
	Long: `Start the worker runtime for one or more stage types.

Each --stage maps a job type to the external model runtime command that
processes it. The worker pops job ids from the type's priority queues,
claims them, and drives the runtime over the exec protocol.

Example:
  voicepipe worker \
    --stage 'TRANSCRIPTION=python3 -m runtime.asr' \
    --stage 'DIARIZATION=python3 -m runtime.diarize'`,
	RunE: runWorker,
}

func init() {
	WorkerCmd.Flags().StringArray("stage", nil,
		"Stage mapping TYPE=command (repeatable, at least one required)")
	WorkerCmd.Flags().Int("metrics-port", 0,
		"Serve /metrics on this port (0 disables)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}

	stages, _ := cmd.Flags().GetStringArray("stage")
	if len(stages) == 0 {
		return errors.New("at least one --stage TYPE=command mapping is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.Logger
	store, err := blob.NewMinioStore(ctx, cfg.Blob)
	if err != nil {
		return err
	}
	toolkit := dispatch.Toolkit{Blob: store, Logger: log}

	adapters := make([]dispatch.StageAdapter, 0, len(stages))
	for _, spec := range stages {
		jobType, command, found := strings.Cut(spec, "=")
		if !found {
			return errors.Newf("invalid --stage %q, expected TYPE=command", spec)
		}
		adapter, err := dispatch.NewExecAdapter(dispatch.JobType(jobType), command, toolkit)
		if err != nil {
			return err
		}
		adapters = append(adapters, adapter)
	}

	conn, err := db.Open(cfg.Database.URL, log)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(conn, log); err != nil {
		return err
	}

	rdb, err := kv.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	queue := dispatch.NewQueue(rdb, dispatch.NewStore(conn), log)
	runtime, err := dispatch.NewRuntime(ctx, queue, dispatch.RuntimeConfig{
		Workers:    cfg.Dispatch.Workers,
		PopTimeout: cfg.Dispatch.PopTimeout,
	}, log, adapters...)
	if err != nil {
		return err
	}

	if port, _ := cmd.Flags().GetInt("metrics-port"); port > 0 {
		go serveMetrics(port)
	}

	runtime.Start()
	<-ctx.Done()
	log.Infow("Shutdown signal received")
	runtime.Stop()
	return nil
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Logger.Warnw("Metrics server stopped", "error", err)
	}
}
