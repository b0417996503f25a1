// Package dispatch implements the job scheduler and worker runtime.
//
// Producers enqueue typed jobs; the job row in SQLite is the source of
// truth for the lifecycle while redis carries the per-(type, priority)
// FIFO queues and advisory progress records. Workers pull job ids in
// strict priority order, claim the row with a conditional update, drive a
// stage adapter, and record the terminal state.
package dispatch

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the pipeline stage a job belongs to.
type JobType string

const (
	JobTypeTranscription       JobType = "TRANSCRIPTION"
	JobTypeDiarization         JobType = "DIARIZATION"
	JobTypeEmbeddingExtraction JobType = "EMBEDDING_EXTRACTION"
	JobTypeSpeakerClustering   JobType = "SPEAKER_CLUSTERING"
	JobTypeTTSSynthesis        JobType = "TTS_SYNTHESIS"
	JobTypeTTSTraining         JobType = "TTS_TRAINING"
)

// IsValidType returns true if s names a known job type.
func IsValidType(s string) bool {
	switch JobType(s) {
	case JobTypeTranscription, JobTypeDiarization, JobTypeEmbeddingExtraction,
		JobTypeSpeakerClustering, JobTypeTTSSynthesis, JobTypeTTSTraining:
		return true
	default:
		return false
	}
}

// Priority orders jobs within a type. Workers scan queues from urgent to
// low, so priority classes dominate within a worker type.
type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// Priorities lists all priority classes in scan order.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// IsValidPriority returns true if s names a known priority class.
func IsValidPriority(s string) bool {
	switch Priority(s) {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// Status is a job's lifecycle state. Transitions form a DAG:
// QUEUED -> RUNNING -> {COMPLETED, FAILED, CANCELLED}, with QUEUED ->
// CANCELLED available to operators.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal returns true for states no worker may overwrite.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is one unit of pipeline work.
type Job struct {
	ID           string          `json:"id"`
	Type         JobType         `json:"type"`
	Priority     Priority        `json:"priority"`
	Status       Status          `json:"status"`
	InputData    json.RawMessage `json:"input_data,omitempty"`
	OutputData   json.RawMessage `json:"output_data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Progress     int             `json:"progress"`
	WorkerID     string          `json:"worker_id,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewJob creates a QUEUED job with a fresh UUID.
func NewJob(jobType JobType, priority Priority, input json.RawMessage) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Priority:  priority,
		Status:    StatusQueued,
		InputData: input,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// QueueKey returns the redis list a job id is pushed onto.
func QueueKey(jobType JobType, priority Priority) string {
	return "queue:" + string(jobType) + ":" + string(priority)
}

// ProgressKey returns the redis hash holding a job's advisory progress.
func ProgressKey(jobID string) string {
	return "job:" + jobID
}

// ScanKeys returns the queue keys a worker polls, ordered outer-by-type,
// inner-by-priority. Priority dominance holds within a worker type; strict
// global priority across types is not guaranteed.
func ScanKeys(types []JobType) []string {
	keys := make([]string, 0, len(types)*len(Priorities))
	for _, t := range types {
		for _, p := range Priorities {
			keys = append(keys, QueueKey(t, p))
		}
	}
	return keys
}
