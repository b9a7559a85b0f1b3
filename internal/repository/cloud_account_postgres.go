package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/costlens/backend/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("repository: not found")

// PostgresCloudAccountRepository implements CloudAccountRepository over
// database/sql.
type PostgresCloudAccountRepository struct {
	db *sql.DB
}

// NewPostgresCloudAccountRepository creates the repository.
func NewPostgresCloudAccountRepository(db *sql.DB) *PostgresCloudAccountRepository {
	return &PostgresCloudAccountRepository{db: db}
}

const accountColumns = `id, tenant_id, provider, external_id, name, credentials,
	status, last_sync_at, last_sync_error, created_at, updated_at`

func (r *PostgresCloudAccountRepository) Create(ctx context.Context, account *model.CloudAccount) error {
	query := `
		INSERT INTO cloud_accounts (id, tenant_id, provider, external_id, name,
			credentials, status, last_sync_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(ctx, query,
		account.ID, account.TenantID, account.Provider, account.ExternalID,
		account.Name, account.Credentials, account.Status, account.LastSyncError,
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to create cloud account: %w", err)
	}
	return nil
}

func (r *PostgresCloudAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.CloudAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM cloud_accounts WHERE id = $1`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: failed to get cloud account: %w", err)
	}
	return account, nil
}

func (r *PostgresCloudAccountRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*model.CloudAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM cloud_accounts
		WHERE tenant_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list cloud accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.CloudAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan cloud account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (r *PostgresCloudAccountRepository) ListAll(ctx context.Context) ([]*model.CloudAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM cloud_accounts ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list cloud accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.CloudAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan cloud account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (r *PostgresCloudAccountRepository) Update(ctx context.Context, account *model.CloudAccount) error {
	query := `
		UPDATE cloud_accounts
		SET name = $2, credentials = $3, status = $4, updated_at = $5
		WHERE id = $1`
	account.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		account.ID, account.Name, account.Credentials, account.Status, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update cloud account: %w", err)
	}
	return requireRow(result)
}

func (r *PostgresCloudAccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM cloud_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: failed to delete cloud account: %w", err)
	}
	return requireRow(result)
}

func (r *PostgresCloudAccountRepository) UpdateSyncStatus(ctx context.Context, id uuid.UUID, status string, syncedAt *time.Time, syncErr string) error {
	query := `
		UPDATE cloud_accounts
		SET status = $2,
		    last_sync_at = COALESCE($3, last_sync_at),
		    last_sync_error = $4,
		    updated_at = NOW()
		WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status, syncedAt, syncErr)
	if err != nil {
		return fmt.Errorf("repository: failed to update sync status: %w", err)
	}
	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.CloudAccount, error) {
	var account model.CloudAccount
	err := row.Scan(
		&account.ID, &account.TenantID, &account.Provider, &account.ExternalID,
		&account.Name, &account.Credentials, &account.Status, &account.LastSyncAt,
		&account.LastSyncError, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
