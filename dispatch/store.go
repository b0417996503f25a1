package dispatch

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/voicepipe/voicepipe/errors"
)

// Store persists jobs in the relational database. All lifecycle writes are
// conditional updates: a transition applies only when the row is still in
// the state the writer believes it is in, so duplicate queue deliveries and
// operator cancellations never clobber each other.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, type, priority, status, input_data, output_data,
	error_message, progress, worker_id, started_at, completed_at,
	created_at, updated_at`

// CreateJob inserts a new QUEUED job row.
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO jobs (
			id, type, priority, status, input_data, progress,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	input := sql.NullString{String: string(job.InputData), Valid: len(job.InputData) > 0}

	_, err := s.db.Exec(query,
		job.ID,
		job.Type,
		job.Priority,
		job.Status,
		input,
		job.Progress,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// ClaimJob attempts the QUEUED -> RUNNING transition for a worker. Returns
// false when the row is missing, already running, or cancelled — the caller
// discards the queue pop silently in that case. At most one worker ever
// observes true for a given id.
func (s *Store) ClaimJob(id, workerID string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = ?, started_at = ?, worker_id = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusRunning, now, workerID, now, id, StatusQueued,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim job %s", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return affected == 1, nil
}

// CompleteJob records the COMPLETED terminal state with progress=100 and the
// adapter's output. The write applies only while the row is still RUNNING
// under this worker; a concurrent cancellation wins.
func (s *Store) CompleteJob(id, workerID string, output json.RawMessage) (bool, error) {
	now := time.Now().UTC()
	out := sql.NullString{String: string(output), Valid: len(output) > 0}

	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = ?, progress = 100, output_data = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND worker_id = ?`,
		StatusCompleted, out, now, now, id, StatusRunning, workerID,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to complete job %s", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return affected == 1, nil
}

// FailJob records the FAILED terminal state with a stringified error.
// Conditional on RUNNING under this worker, like CompleteJob.
func (s *Store) FailJob(id, workerID, message string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND worker_id = ?`,
		StatusFailed, message, now, now, id, StatusRunning, workerID,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to mark job %s as failed", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return affected == 1, nil
}

// CancelJob marks a non-terminal job CANCELLED. Pops on cancelled ids are
// discarded by the claim check; running workers finish but their terminal
// write no longer applies.
func (s *Store) CancelJob(id, reason string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		StatusCancelled, reason, now, now, id, StatusQueued, StatusRunning,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to cancel job %s", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return affected == 1, nil
}

// SetProgress mirrors the advisory progress value onto the row. Best-effort:
// redis is the live channel, this is for operators querying the database.
func (s *Store) SetProgress(id string, progress int) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ? AND status = ?`,
		progress, time.Now().UTC(), id, StatusRunning,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to set progress for job %s", id)
	}
	return nil
}

// DeleteJob removes a job row. Used to compensate when the queue push after
// an insert fails.
func (s *Store) DeleteJob(id string) error {
	_, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete job %s", id)
	}
	return nil
}

// ListByStatus returns jobs in a given state, newest first.
func (s *Store) ListByStatus(status Status, limit int) ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? ORDER BY created_at DESC LIMIT ?`,
		status, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListStranded returns RUNNING jobs whose lease (started_at) is older than
// the cutoff. These are candidates for the recovery sweeper: their worker
// crashed between claim and terminal write.
func (s *Store) ListStranded(olderThan time.Duration) ([]*Job, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := s.db.Query(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND started_at < ?
		ORDER BY started_at ASC`,
		StatusRunning, cutoff,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stranded jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
}

// RequeueStranded returns a stranded job to QUEUED, clearing the claim.
// Conditional on the row still being RUNNING so a worker that finished in
// the meantime is not disturbed.
func (s *Store) RequeueStranded(id string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = ?, worker_id = NULL, started_at = NULL, progress = 0, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusQueued, time.Now().UTC(), id, StatusRunning,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to requeue stranded job %s", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return affected == 1, nil
}

// FailStranded marks a stranded job FAILED without a worker-id condition
// (the worker that held the claim is gone).
func (s *Store) FailStranded(id, message string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusFailed, message, now, now, id, StatusRunning,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to fail stranded job %s", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return affected == 1, nil
}

// CountByStatus returns how many jobs are in each lifecycle state.
func (s *Store) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job counts")
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var input, output, errMsg, workerID sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.Type, &job.Priority, &job.Status,
		&input, &output, &errMsg, &job.Progress, &workerID,
		&startedAt, &completedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if input.Valid {
		job.InputData = json.RawMessage(input.String)
	}
	if output.Valid {
		job.OutputData = json.RawMessage(output.String)
	}
	job.ErrorMessage = errMsg.String
	job.WorkerID = workerID.String
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}
