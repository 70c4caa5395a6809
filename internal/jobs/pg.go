package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/CloudIDP/platform/internal/models"
)

// PGRegistry persists jobs in Postgres. Lifecycle guards are expressed in
// the UPDATE predicates so concurrent writers cannot race a job out of the
// transition graph.
type PGRegistry struct {
	db *sql.DB
}

func NewPGRegistry(db *sql.DB) *PGRegistry {
	return &PGRegistry{db: db}
}

const jobColumns = `id, job_type, status, config, created_by, created_at, updated_at, started_at, completed_at, result, error`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var (
		job       models.Job
		config    []byte
		result    []byte
		errMsg    sql.NullString
		startedAt sql.NullTime
		doneAt    sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&config,
		&job.CreatedBy,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&doneAt,
		&result,
		&errMsg,
	); err != nil {
		return models.Job{}, err
	}
	job.Config = append(json.RawMessage(nil), config...)
	if len(result) > 0 {
		job.Result = append(json.RawMessage(nil), result...)
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if doneAt.Valid {
		t := doneAt.Time
		job.CompletedAt = &t
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return job, nil
}

func (p *PGRegistry) Submit(ctx context.Context, in SubmitInput) (models.Job, error) {
	if err := in.validate(); err != nil {
		return models.Job{}, err
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO jobs (id, job_type, status, config, created_by)
		VALUES ($1,$2,'pending',$3,$4)
		RETURNING ` + jobColumns
	row := p.db.QueryRowContext(ctx, query, in.ID, in.Type, ensureJSON(in.Config, "{}"), in.CreatedBy)
	job, err := scanJob(row)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (p *PGRegistry) Get(ctx context.Context, id uuid.UUID) (models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id=$1`
	job, err := scanJob(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Job{}, ErrNotFound
		}
		return models.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (p *PGRegistry) Cancel(ctx context.Context, id uuid.UUID) (models.Job, error) {
	query := `
		UPDATE jobs
		SET status='cancelled', updated_at=NOW(), completed_at=NOW()
		WHERE id=$1 AND status IN ('pending','running')
		RETURNING ` + jobColumns
	job, err := scanJob(p.db.QueryRowContext(ctx, query, id))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, fmt.Errorf("cancel job: %w", err)
	}
	// No row updated: distinguish missing from terminal.
	if _, getErr := p.Get(ctx, id); getErr != nil {
		return models.Job{}, getErr
	}
	return models.Job{}, ErrTerminalState
}

func (p *PGRegistry) ListActive(ctx context.Context, jobType models.JobType) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN ('pending','running')`
	args := []interface{}{}
	if jobType != "" {
		query += ` AND job_type = $1`
		args = append(args, jobType)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var active []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		active = append(active, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return active, nil
}

func (p *PGRegistry) Transition(ctx context.Context, in TransitionInput) (models.Job, error) {
	if !in.Status.Valid() {
		return models.Job{}, fmt.Errorf("unknown job status %q", in.Status)
	}
	var query string
	switch {
	case in.Status == models.JobRunning:
		query = `
			UPDATE jobs
			SET status='running', updated_at=NOW(), started_at=NOW()
			WHERE id=$1 AND status='pending'
			RETURNING ` + jobColumns
	case in.Status == models.JobCancelled:
		return p.Cancel(ctx, in.ID)
	case in.Status.Terminal():
		query = fmt.Sprintf(`
			UPDATE jobs
			SET status='%s', updated_at=NOW(), completed_at=NOW(), result=$2, error=$3
			WHERE id=$1 AND status='running'
			RETURNING `+jobColumns, in.Status)
		row := p.db.QueryRowContext(ctx, query, in.ID, ensureJSON(in.Result, "null"), nullString(in.Error))
		return p.finishTransition(ctx, in.ID, row)
	default:
		return models.Job{}, ErrInvalidTransition
	}

	row := p.db.QueryRowContext(ctx, query, in.ID)
	return p.finishTransition(ctx, in.ID, row)
}

// finishTransition resolves the guarded UPDATE's outcome: a scanned row on
// success, otherwise ErrNotFound / ErrTerminalState / ErrInvalidTransition
// depending on the job's current status.
func (p *PGRegistry) finishTransition(ctx context.Context, id uuid.UUID, row rowScanner) (models.Job, error) {
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, fmt.Errorf("transition job: %w", err)
	}
	current, getErr := p.Get(ctx, id)
	if getErr != nil {
		return models.Job{}, getErr
	}
	if current.Status.Terminal() {
		return models.Job{}, ErrTerminalState
	}
	return models.Job{}, ErrInvalidTransition
}

func (p *PGRegistry) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
