package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/costlens/backend/internal/model"
)

// PostgresSyncJobRepository implements SyncJobRepository over database/sql.
type PostgresSyncJobRepository struct {
	db *sql.DB
}

// NewPostgresSyncJobRepository creates the repository.
func NewPostgresSyncJobRepository(db *sql.DB) *PostgresSyncJobRepository {
	return &PostgresSyncJobRepository{db: db}
}

func (r *PostgresSyncJobRepository) Create(ctx context.Context, job *model.SyncJob) error {
	metadata, err := marshalMetadata(job.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO sync_jobs (id, cloud_account_id, job_type, status, started_at, metadata, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = r.db.ExecContext(ctx, query,
		job.ID, job.CloudAccountID, job.JobType, job.Status, job.StartedAt, metadata, job.Error,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to create sync job: %w", err)
	}
	return nil
}

func (r *PostgresSyncJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SyncJob, error) {
	query := `
		SELECT id, cloud_account_id, job_type, status, started_at, completed_at, metadata, error
		FROM sync_jobs WHERE id = $1`
	job, err := scanSyncJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: failed to get sync job: %w", err)
	}
	return job, nil
}

func (r *PostgresSyncJobRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*model.SyncJob, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, cloud_account_id, job_type, status, started_at, completed_at, metadata, error
		FROM sync_jobs WHERE cloud_account_id = $1
		ORDER BY started_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list sync jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.SyncJob
	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan sync job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Complete sets the terminal state. The status guard keeps the transition
// single-shot: a job already COMPLETED or FAILED is never rewritten.
func (r *PostgresSyncJobRepository) Complete(ctx context.Context, id uuid.UUID, status string, metadata map[string]any, errMsg string) error {
	encoded, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}
	query := `
		UPDATE sync_jobs
		SET status = $2, completed_at = $3, metadata = COALESCE($4, metadata), error = $5
		WHERE id = $1 AND status = $6`
	result, err := r.db.ExecContext(ctx, query,
		id, status, time.Now().UTC(), encoded, errMsg, model.SyncJobRunning,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to complete sync job: %w", err)
	}
	return requireRow(result)
}

func scanSyncJob(row rowScanner) (*model.SyncJob, error) {
	var (
		job      model.SyncJob
		metadata []byte
	)
	err := row.Scan(
		&job.ID, &job.CloudAccountID, &job.JobType, &job.Status,
		&job.StartedAt, &job.CompletedAt, &metadata, &job.Error,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
			return nil, fmt.Errorf("repository: failed to decode sync job metadata: %w", err)
		}
	}
	return &job, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to encode sync job metadata: %w", err)
	}
	return encoded, nil
}
