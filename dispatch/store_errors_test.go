package dispatch

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicepipe/voicepipe/errors"
)

// Driver-level failures must surface wrapped, not as false claim results.

func TestClaimJobExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE jobs").
		WillReturnError(errors.New("database is locked"))

	store := NewStore(db)
	_, err = store.ClaimJob("job-1", "worker-a")
	assert.ErrorContains(t, err, "failed to claim job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteJobRowsAffectedError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE jobs").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("rows affected unsupported")))

	store := NewStore(db)
	_, err = store.CompleteJob("job-1", "worker-a", nil)
	assert.ErrorContains(t, err, "failed to get rows affected")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO jobs").
		WillReturnError(errors.New("constraint failed"))

	store := NewStore(db)
	job := NewJob(JobTypeTranscription, PriorityNormal, nil)
	err = store.CreateJob(job)
	assert.ErrorContains(t, err, "failed to create job")
	assert.NoError(t, mock.ExpectationsWereMet())
}
