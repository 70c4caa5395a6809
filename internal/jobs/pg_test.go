package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/CloudIDP/platform/internal/models"
)

var jobCols = []string{"id", "job_type", "status", "config", "created_by", "created_at", "updated_at", "started_at", "completed_at", "result", "error"}

func jobRow(id uuid.UUID, jobType, status string, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(jobCols).
		AddRow(id.String(), jobType, status, []byte(`{}`), "alice", now, now, nil, nil, nil, nil)
}

func TestPGSubmit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	reg := NewPGRegistry(db)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs(id, models.JobTypeTerraformPlan, []byte(`{"workspace":"prod"}`), "alice").
		WillReturnRows(jobRow(id, "terraform_plan", "pending", now))

	job, err := reg.Submit(context.Background(), SubmitInput{
		ID:        id,
		Type:      models.JobTypeTerraformPlan,
		Config:    json.RawMessage(`{"workspace":"prod"}`),
		CreatedBy: "alice",
	})
	assert.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, id, job.ID)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGCancelTerminalJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	reg := NewPGRegistry(db)
	id := uuid.New()
	now := time.Now().UTC()

	// Guarded UPDATE touches no row, then the status check finds the job
	// already completed.
	mock.ExpectQuery("UPDATE jobs").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs(id).
		WillReturnRows(jobRow(id, "terraform_plan", "completed", now))

	_, err = reg.Cancel(context.Background(), id)
	assert.True(t, errors.Is(err, ErrTerminalState), "got %v", err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGCancelMissingJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	reg := NewPGRegistry(db)
	id := uuid.New()

	mock.ExpectQuery("UPDATE jobs").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err = reg.Cancel(context.Background(), id)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGTransitionClaimsPendingJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	reg := NewPGRegistry(db)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE jobs").
		WithArgs(id).
		WillReturnRows(jobRow(id, "resource_scan", "running", now))

	job, err := reg.Transition(context.Background(), TransitionInput{ID: id, Status: models.JobRunning})
	assert.NoError(t, err)
	assert.Equal(t, models.JobRunning, job.Status)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGTransitionRejectsIllegalMove(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	reg := NewPGRegistry(db)
	id := uuid.New()
	now := time.Now().UTC()

	// completed from pending: the guarded UPDATE misses, the job is still
	// pending, so the move is an invalid transition rather than terminal.
	mock.ExpectQuery("UPDATE jobs").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs(id).
		WillReturnRows(jobRow(id, "resource_scan", "pending", now))

	_, err = reg.Transition(context.Background(), TransitionInput{
		ID:     id,
		Status: models.JobCompleted,
		Result: json.RawMessage(`{"ok":true}`),
	})
	assert.True(t, errors.Is(err, ErrInvalidTransition), "got %v", err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
