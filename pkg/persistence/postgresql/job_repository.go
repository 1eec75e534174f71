package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/google/uuid"
)

const jobColumns = `
	id
  , action
  , purchase_id
  , instance_id
  , payload
  , status
  , priority
  , attempts
  , max_attempts
  , last_error
  , result
  , scheduled_at
  , claimed_by
  , claimed_at
  , completed_at
  , created_at
  , updated_at
`

// claimQuery picks the next runnable job and marks it processing in one
// statement. The NOT EXISTS clauses serialize jobs of one purchase in enqueue
// order; claimLockKey makes concurrent claims see each other's results.
const claimQuery = `
	UPDATE queue_jobs
	SET status = 'processing'
	  , attempts = attempts + 1
	  , claimed_by = $1
	  , claimed_at = $2
	  , updated_at = $2
	WHERE id = (
		SELECT j.id
		FROM queue_jobs j
		WHERE j.status IN ('queued', 'failed')
		  AND j.scheduled_at <= $2
		  AND NOT EXISTS (
			SELECT 1 FROM queue_jobs p
			WHERE p.purchase_id = j.purchase_id
			  AND p.status = 'processing'
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM queue_jobs o
			WHERE o.purchase_id = j.purchase_id
			  AND o.status IN ('queued', 'failed')
			  AND (o.created_at, o.id) < (j.created_at, j.id)
		  )
		ORDER BY j.priority DESC, j.created_at ASC, j.id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	AND status IN ('queued', 'failed')
	RETURNING ` + jobColumns

// claimLockKey is the transaction-scoped advisory lock held while claiming.
const claimLockKey = 7_243_001

// JobRepository is the PostgreSQL action queue.
type JobRepository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewJobRepository(db *sql.DB, logger *slog.Logger) *JobRepository {
	return &JobRepository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *JobRepository) Enqueue(ctx context.Context, job *models.QueueJob) error {
	now := r.now()

	if job.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate job ID: %w", err)
		}

		job.ID = id.String()
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}

	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}

	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}

	job.UpdatedAt = now

	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO queue_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.db.ExecContext(ctx, query,
		job.ID,
		job.Action,
		job.PurchaseID,
		nullString(job.InstanceID),
		payloadJSON,
		job.Status,
		job.Priority,
		job.Attempts,
		job.MaxAttempts,
		nullString(job.LastError),
		nullString(job.Result),
		job.ScheduledAt,
		nullString(job.ClaimedBy),
		job.ClaimedAt,
		job.CompletedAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.QueueJob, error) {
	query := `SELECT ` + jobColumns + ` FROM queue_jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("GetByID", "job", id, persistence.ErrJobNotFound)
		}

		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	return job, nil
}

func (r *JobRepository) List(ctx context.Context, filter persistence.JobFilter) ([]*models.QueueJob, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 3)

	if filter.PurchaseID != "" {
		args = append(args, filter.PurchaseID)
		conditions = append(conditions, "purchase_id = $"+strconv.Itoa(len(args)))
	}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, "status = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM queue_jobs`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}

	query += ` ORDER BY created_at, id`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	jobs := make([]*models.QueueJob, 0)

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		jobs = append(jobs, job)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

func (r *JobRepository) Claim(ctx context.Context, workerID string) (*models.QueueJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}

	defer func() {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			r.logger.ErrorContext(ctx, "failed to roll back claim", "error", rollbackErr)
		}
	}()

	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, claimLockKey)
	if err != nil {
		return nil, fmt.Errorf("failed to lock queue: %w", err)
	}

	job, err := scanJob(tx.QueryRowContext(ctx, claimQuery, workerID, r.now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNoJobAvailable
		}

		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return job, nil
}

func (r *JobRepository) Complete(ctx context.Context, workerID string, job *models.QueueJob) error {
	job.UpdatedAt = r.now()

	// A failed job goes back to the queue and loses its owner.
	if job.Status == models.JobStatusFailed {
		job.ClaimedBy = ""
	}

	query := `
		UPDATE queue_jobs
		SET status = $3
		  , attempts = $4
		  , last_error = $5
		  , result = $6
		  , scheduled_at = $7
		  , completed_at = $8
		  , claimed_by = $9
		  , updated_at = $10
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		job.ID,
		workerID,
		job.Status,
		job.Attempts,
		nullString(job.LastError),
		nullString(job.Result),
		job.ScheduledAt,
		job.CompletedAt,
		nullString(job.ClaimedBy),
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewEntityError("Complete", "job", job.ID, persistence.ErrJobNotClaimed)
	}

	return nil
}

func (r *JobRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE queue_jobs
		SET status = CASE WHEN attempts >= max_attempts THEN 'dead_letter' ELSE 'failed' END
		  , last_error = 'lease expired while processing'
		  , claimed_by = NULL
		  , scheduled_at = $2
		  , updated_at = $2
		WHERE status = 'processing' AND claimed_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff, r.now())
	if err != nil {
		return 0, fmt.Errorf("failed to release stale jobs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return int(affected), nil
}

func (r *JobRepository) Requeue(ctx context.Context, id string) (*models.QueueJob, error) {
	query := `
		UPDATE queue_jobs
		SET status = 'queued'
		  , attempts = 0
		  , last_error = NULL
		  , result = NULL
		  , claimed_by = NULL
		  , claimed_at = NULL
		  , scheduled_at = $2
		  , updated_at = $2
		WHERE id = $1 AND status IN ('dead_letter', 'failed')
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id, r.now()))
	if err == nil {
		return job, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to requeue job: %w", err)
	}

	_, err = r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return nil, persistence.NewEntityError("Requeue", "job", id, persistence.ErrJobNotRequeueable)
}

func (r *JobRepository) HasDelete(ctx context.Context, purchaseID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM queue_jobs
			WHERE purchase_id = $1 AND action = 'delete'
			  AND status IN ('queued', 'failed', 'processing', 'completed')
		)
	`

	var exists bool

	err := r.db.QueryRowContext(ctx, query, purchaseID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check delete jobs: %w", err)
	}

	return exists, nil
}

func (r *JobRepository) HasPending(ctx context.Context, purchaseID string, action models.JobAction) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM queue_jobs
			WHERE purchase_id = $1 AND action = $2
			  AND status IN ('queued', 'failed', 'processing')
		)
	`

	var exists bool

	err := r.db.QueryRowContext(ctx, query, purchaseID, action).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending jobs: %w", err)
	}

	return exists, nil
}

func scanJob(row scanner) (*models.QueueJob, error) {
	var (
		job         models.QueueJob
		instanceID  sql.NullString
		payloadJSON []byte
		lastError   sql.NullString
		result      sql.NullString
		claimedBy   sql.NullString
		claimedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.Action,
		&job.PurchaseID,
		&instanceID,
		&payloadJSON,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&lastError,
		&result,
		&job.ScheduledAt,
		&claimedBy,
		&claimedAt,
		&completedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(payloadJSON, &job.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	job.InstanceID = instanceID.String
	job.LastError = lastError.String
	job.Result = result.String
	job.ClaimedBy = claimedBy.String

	if claimedAt.Valid {
		job.ClaimedAt = &claimedAt.Time
	}

	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return &job, nil
}
