package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncJob status values. A job is created RUNNING and updated exactly once
// to a terminal state.
const (
	SyncJobRunning   = "RUNNING"
	SyncJobCompleted = "COMPLETED"
	SyncJobFailed    = "FAILED"
)

// JobTypeCostIngestion is the job type recorded for cost ingestion runs.
const JobTypeCostIngestion = "cost_ingestion"

// SyncJob is the audit record of one ingestion attempt. It tracks the
// business outcome (how much data landed, or why it didn't); the job
// queue's own retry bookkeeping is deliberately separate.
type SyncJob struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	CloudAccountID uuid.UUID      `json:"cloud_account_id" db:"cloud_account_id"`
	JobType        string         `json:"job_type" db:"job_type"`
	Status         string         `json:"status" db:"status"`
	StartedAt      time.Time      `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	Metadata       map[string]any `json:"metadata,omitempty" db:"metadata"`
	Error          string         `json:"error,omitempty" db:"error"`
}
