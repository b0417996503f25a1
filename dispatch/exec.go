package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/voicepipe/voicepipe/errors"
)

// ExecAdapter bridges a job type to an external model runtime started as a
// subprocess. The heavy stages (ASR, diarization, TTS) live in their own
// runtimes; this adapter is how a worker process drives them.
//
// Protocol: the job envelope is written to the child's stdin as one JSON
// object. The child emits JSON lines on stdout: any number of
// {"progress": N, "message": "..."} events followed by a final
// {"output": {...}}. A non-zero exit or a missing output line fails the job.
type ExecAdapter struct {
	jobType JobType
	argv    []string
	toolkit Toolkit
	logger  *zap.SugaredLogger
}

// NewExecAdapter parses a shell-style command line for one job type.
func NewExecAdapter(jobType JobType, command string, tk Toolkit) (*ExecAdapter, error) {
	if !IsValidType(string(jobType)) {
		return nil, errors.Newf("unknown job type: %s", jobType)
	}
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse command for %s", jobType)
	}
	if len(argv) == 0 {
		return nil, errors.Newf("empty command for %s", jobType)
	}
	logger := tk.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ExecAdapter{
		jobType: jobType,
		argv:    argv,
		toolkit: tk,
		logger:  logger.Named("exec"),
	}, nil
}

func (a *ExecAdapter) Types() []JobType {
	return []JobType{a.jobType}
}

type execEnvelope struct {
	ID    string          `json:"id"`
	Type  JobType         `json:"type"`
	Input json.RawMessage `json:"input"`
}

type execEvent struct {
	Progress *int            `json:"progress,omitempty"`
	Message  string          `json:"message,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
}

func (a *ExecAdapter) Process(ctx context.Context, job *Job, input InputData, sink ProgressSink) (any, error) {
	// Preflight the source object so a dangling reference fails in
	// milliseconds instead of after model load.
	if src, ok := input.(SourceKeyed); ok && a.toolkit.Blob != nil {
		exists, err := a.toolkit.Blob.Exists(ctx, src.SourceKey())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to check source object for %s", job.ID)
		}
		if !exists {
			return nil, errors.Newf("source object %s does not exist", src.SourceKey())
		}
	}

	envelope, err := json.Marshal(execEnvelope{
		ID:    job.ID,
		Type:  job.Type,
		Input: job.InputData,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode job envelope")
	}

	cmd := exec.CommandContext(ctx, a.argv[0], a.argv[1:]...)
	cmd.Stdin = bytes.NewReader(envelope)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open stdout pipe")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s runtime", a.jobType)
	}

	var output json.RawMessage
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event execEvent
		if err := json.Unmarshal(line, &event); err != nil {
			a.logger.Debugw("Ignoring non-protocol output line",
				"job_id", job.ID, "line", string(line))
			continue
		}
		if event.Progress != nil {
			sink.Report(*event.Progress, event.Message)
		}
		if len(event.Output) > 0 {
			output = append(json.RawMessage(nil), event.Output...)
		}
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		return nil, errors.Wrapf(err, "%s runtime failed: %s",
			a.jobType, firstLine(stderr.Bytes()))
	}
	if scanErr != nil {
		return nil, errors.Wrap(scanErr, "failed to read runtime output")
	}
	if output == nil {
		return nil, errors.Newf("%s runtime exited without emitting an output object", a.jobType)
	}
	return output, nil
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	const maxLen = 300
	if len(b) > maxLen {
		b = b[:maxLen]
	}
	return string(bytes.TrimSpace(b))
}
