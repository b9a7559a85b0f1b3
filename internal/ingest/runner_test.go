package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costlens/backend/internal/adapter"
	"github.com/costlens/backend/internal/focus"
	"github.com/costlens/backend/internal/model"
	"github.com/costlens/backend/internal/repository"
)

// --- fakes ---

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*model.CloudAccount
	statuses []string
	lastErr  string
}

func newFakeAccounts(accounts ...*model.CloudAccount) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[uuid.UUID]*model.CloudAccount)}
	for _, a := range accounts {
		f.accounts[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) Create(_ context.Context, a *model.CloudAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[a.ID] = a
	return nil
}

func (f *fakeAccounts) GetByID(_ context.Context, id uuid.UUID) (*model.CloudAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (f *fakeAccounts) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]*model.CloudAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.CloudAccount
	for _, a := range f.accounts {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccounts) ListAll(_ context.Context) ([]*model.CloudAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.CloudAccount
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAccounts) Update(_ context.Context, a *model.CloudAccount) error { return nil }
func (f *fakeAccounts) Delete(_ context.Context, id uuid.UUID) error          { return nil }

func (f *fakeAccounts) UpdateSyncStatus(_ context.Context, id uuid.UUID, status string, syncedAt *time.Time, syncErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		a.Status = status
		if syncedAt != nil {
			a.LastSyncAt = syncedAt
		}
		a.LastSyncError = syncErr
	}
	f.statuses = append(f.statuses, status)
	f.lastErr = syncErr
	return nil
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*model.SyncJob
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[uuid.UUID]*model.SyncJob)}
}

func (f *fakeJobs) Create(_ context.Context, job *model.SyncJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeJobs) GetByID(_ context.Context, id uuid.UUID) (*model.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobs) ListByAccount(_ context.Context, accountID uuid.UUID, _ int) ([]*model.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.SyncJob
	for _, job := range f.jobs {
		if job.CloudAccountID == accountID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *fakeJobs) Complete(_ context.Context, id uuid.UUID, status string, metadata map[string]any, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if job.Status != model.SyncJobRunning {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now
	if metadata != nil {
		job.Metadata = metadata
	}
	job.Error = errMsg
	return nil
}

func (f *fakeJobs) single(t *testing.T) *model.SyncJob {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.jobs, 1)
	for _, job := range f.jobs {
		return job
	}
	return nil
}

// fakeCosts enforces the natural uniqueness key the store owns, so replay
// behavior is observable.
type fakeCosts struct {
	mu      sync.Mutex
	rows    map[string]struct{}
	failOn  int
	batches int
}

func newFakeCosts() *fakeCosts {
	return &fakeCosts{rows: make(map[string]struct{}), failOn: -1}
}

func (f *fakeCosts) InsertBatch(_ context.Context, tenantID, accountID uuid.UUID, items []focus.CostItem) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	if f.failOn >= 0 && f.batches == f.failOn {
		return 0, errors.New("connection reset")
	}
	inserted := 0
	for _, item := range items {
		key := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%s",
			tenantID, accountID, item.ProviderName, item.ServiceName,
			item.ResourceID, item.BillingPeriodStart.Unix(), item.ChargeType)
		if _, dup := f.rows[key]; dup {
			continue
		}
		f.rows[key] = struct{}{}
		inserted++
	}
	return inserted, nil
}

func (f *fakeCosts) CountByAccount(context.Context, uuid.UUID, model.DateRange) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows), nil
}

func (f *fakeCosts) Aggregate(context.Context, uuid.UUID, model.DateRange) ([]repository.CostLineAggregate, error) {
	return nil, nil
}

func (f *fakeCosts) ListByAccount(context.Context, uuid.UUID, model.DateRange, int, int) ([]focus.CostItem, error) {
	return nil, nil
}

type fakeAdapter struct {
	mu        sync.Mutex
	provider  model.Provider
	records   []focus.RawRecord
	getErr    error
	getCalls  int
	poisonKey string
}

func (f *fakeAdapter) Provider() model.Provider { return f.provider }

func (f *fakeAdapter) GetCosts(context.Context, adapter.Credentials, adapter.CostParams) ([]focus.RawRecord, error) {
	f.mu.Lock()
	f.getCalls++
	f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.records, nil
}

func (f *fakeAdapter) NormalizeToFocus(raw []focus.RawRecord) []focus.CostItem {
	items := make([]focus.CostItem, 0, len(raw))
	for _, r := range raw {
		if f.poisonKey != "" && r.Data[f.poisonKey] == true {
			panic("unmappable record shape")
		}
		items = append(items, focus.CostItem{
			ProviderName:       f.provider,
			ChargeCategory:     focus.ChargeCategoryUsage,
			ServiceName:        fmt.Sprint(r.Data["service"]),
			ResourceID:         fmt.Sprint(r.Data["resource"]),
			BillingPeriodStart: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	return items
}

func (f *fakeAdapter) ValidateCredentials(context.Context, adapter.Credentials) bool { return true }

func (f *fakeAdapter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

type fakeSecrets struct{}

func (fakeSecrets) DecryptCredentials([]byte) (map[string]string, error) {
	return map[string]string{"accessKeyId": "AKIA", "secretAccessKey": "s3cret"}, nil
}

// --- helpers ---

func rawRecords(n int) []focus.RawRecord {
	records := make([]focus.RawRecord, n)
	for i := range records {
		records[i] = focus.RawRecord{
			Provider: model.ProviderAWS,
			Data:     map[string]any{"service": "ec2", "resource": fmt.Sprintf("i-%04d", i)},
		}
	}
	return records
}

func testFixture(fa *fakeAdapter) (*Runner, *fakeAccounts, *fakeJobs, *fakeCosts, Payload) {
	account := &model.CloudAccount{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Provider: fa.provider,
		Status:   model.AccountStatusConnected,
	}
	accounts := newFakeAccounts(account)
	syncJobs := newFakeJobs()
	costs := newFakeCosts()
	runner := NewRunner(adapter.NewRegistry(fa), accounts, syncJobs, costs, fakeSecrets{}, slog.Default(), nil)
	payload := Payload{
		CloudAccountID: account.ID,
		TenantID:       account.TenantID,
		Provider:       fa.provider,
		StartDate:      time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	return runner, accounts, syncJobs, costs, payload
}

// --- tests ---

func TestRunSuccess(t *testing.T) {
	fa := &fakeAdapter{provider: model.ProviderAWS, records: rawRecords(5)}
	runner, accounts, syncJobs, costs, payload := testFixture(fa)

	result, err := runner.Run(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 5, result.RecordsFetched)
	assert.Equal(t, 5, result.ItemsInserted)
	assert.Zero(t, result.BatchesSkipped)

	job := syncJobs.single(t)
	assert.Equal(t, model.SyncJobCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, 5, job.Metadata["item_count"])

	account := accounts.accounts[payload.CloudAccountID]
	assert.Equal(t, model.AccountStatusConnected, account.Status)
	assert.NotNil(t, account.LastSyncAt)
	assert.Empty(t, account.LastSyncError)

	count, _ := costs.CountByAccount(context.Background(), payload.CloudAccountID, model.DateRange{})
	assert.Equal(t, 5, count)
}

func TestRunUnsupportedProviderFailsImmediately(t *testing.T) {
	fa := &fakeAdapter{provider: model.ProviderAWS, records: rawRecords(3)}
	runner, accounts, syncJobs, _, payload := testFixture(fa)
	payload.Provider = model.Provider("ORACLE")

	_, err := runner.Run(context.Background(), payload)
	require.Error(t, err)
	assert.Equal(t, adapter.KindUnsupportedProvider, adapter.KindOf(err))
	assert.False(t, adapter.Retryable(err))

	// The adapter is never touched.
	assert.Zero(t, fa.calls())

	job := syncJobs.single(t)
	assert.Equal(t, model.SyncJobFailed, job.Status)
	assert.NotEmpty(t, job.Error)

	account := accounts.accounts[payload.CloudAccountID]
	assert.Equal(t, model.AccountStatusError, account.Status)
	assert.NotEmpty(t, account.LastSyncError)
}

func TestRunIdempotentReplay(t *testing.T) {
	fa := &fakeAdapter{provider: model.ProviderAWS, records: rawRecords(10)}
	runner, _, _, costs, payload := testFixture(fa)

	first, err := runner.Run(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 10, first.ItemsInserted)

	second, err := runner.Run(context.Background(), payload)
	require.NoError(t, err)
	assert.Zero(t, second.ItemsInserted)

	count, _ := costs.CountByAccount(context.Background(), payload.CloudAccountID, model.DateRange{})
	assert.Equal(t, 10, count)
}

func TestRunSkipsUnmappableBatch(t *testing.T) {
	records := rawRecords(4)
	records[2].Data["poison"] = true
	fa := &fakeAdapter{provider: model.ProviderAWS, records: records, poisonKey: "poison"}
	runner, _, syncJobs, _, payload := testFixture(fa)
	runner.batchSize = 2

	result, err := runner.Run(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 1, result.BatchesSkipped)
	assert.Equal(t, 2, result.ItemsInserted)

	job := syncJobs.single(t)
	assert.Equal(t, model.SyncJobCompleted, job.Status)
	assert.Equal(t, 1, job.Metadata["batches_skipped"])
}

func TestRunFetchErrorFails(t *testing.T) {
	fa := &fakeAdapter{
		provider: model.ProviderAWS,
		getErr:   adapter.NewAuthError(model.ProviderAWS, errors.New("AccessDenied")),
	}
	runner, accounts, syncJobs, _, payload := testFixture(fa)

	_, err := runner.Run(context.Background(), payload)
	require.Error(t, err)
	assert.Equal(t, adapter.KindAuth, adapter.KindOf(err))

	job := syncJobs.single(t)
	assert.Equal(t, model.SyncJobFailed, job.Status)
	assert.Equal(t, model.AccountStatusError, accounts.accounts[payload.CloudAccountID].Status)
}

func TestRunPersistenceErrorIsRetryable(t *testing.T) {
	fa := &fakeAdapter{provider: model.ProviderAWS, records: rawRecords(3)}
	runner, _, syncJobs, costs, payload := testFixture(fa)
	costs.failOn = 1

	_, err := runner.Run(context.Background(), payload)
	require.Error(t, err)
	assert.Equal(t, adapter.KindPersistence, adapter.KindOf(err))
	assert.True(t, adapter.Retryable(err))
	assert.Equal(t, model.SyncJobFailed, syncJobs.single(t).Status)
}

func TestRunNeverLeavesJobRunning(t *testing.T) {
	for _, fa := range []*fakeAdapter{
		{provider: model.ProviderAWS, records: rawRecords(2)},
		{provider: model.ProviderAWS, getErr: adapter.NewRateLimitError(model.ProviderAWS, errors.New("throttle"))},
	} {
		runner, _, syncJobs, _, payload := testFixture(fa)
		runner.Run(context.Background(), payload)

		job := syncJobs.single(t)
		assert.Contains(t, []string{model.SyncJobCompleted, model.SyncJobFailed}, job.Status)
	}
}

// ctxJobs and ctxAccounts refuse writes on a dead context, the way
// database/sql's ExecContext does.
type ctxJobs struct{ *fakeJobs }

func (c ctxJobs) Complete(ctx context.Context, id uuid.UUID, status string, metadata map[string]any, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.fakeJobs.Complete(ctx, id, status, metadata, errMsg)
}

type ctxAccounts struct{ *fakeAccounts }

func (c ctxAccounts) UpdateSyncStatus(ctx context.Context, id uuid.UUID, status string, syncedAt *time.Time, syncErr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.fakeAccounts.UpdateSyncStatus(ctx, id, status, syncedAt, syncErr)
}

// shutdownAdapter cancels the run's context from inside the fetch, the way
// a SIGINT-driven cancellation lands while a job is mid-flight.
type shutdownAdapter struct {
	*fakeAdapter
	cancel context.CancelFunc
}

func (s *shutdownAdapter) GetCosts(ctx context.Context, _ adapter.Credentials, _ adapter.CostParams) ([]focus.RawRecord, error) {
	s.cancel()
	return nil, ctx.Err()
}

func TestRunCanceledContextStillReachesTerminalState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fa := &shutdownAdapter{
		fakeAdapter: &fakeAdapter{provider: model.ProviderAWS},
		cancel:      cancel,
	}
	account := &model.CloudAccount{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Provider: model.ProviderAWS,
		Status:   model.AccountStatusConnected,
	}
	accounts := ctxAccounts{newFakeAccounts(account)}
	syncJobs := ctxJobs{newFakeJobs()}
	runner := NewRunner(adapter.NewRegistry(fa), accounts, syncJobs, newFakeCosts(), fakeSecrets{}, slog.Default(), nil)

	_, err := runner.Run(ctx, Payload{
		CloudAccountID: account.ID,
		TenantID:       account.TenantID,
		Provider:       model.ProviderAWS,
		StartDate:      time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.Equal(t, adapter.KindTimeout, adapter.KindOf(err))

	// Bookkeeping ran on a detached context: the job reached a terminal
	// state even though the run's context was dead.
	job := syncJobs.single(t)
	assert.Equal(t, model.SyncJobFailed, job.Status)
	assert.NotEmpty(t, job.Error)
	assert.Equal(t, model.AccountStatusError, account.Status)
	assert.NotEmpty(t, account.LastSyncError)
}

func TestRunReportsProgress(t *testing.T) {
	fa := &fakeAdapter{provider: model.ProviderAWS, records: rawRecords(6)}
	runner, _, _, _, payload := testFixture(fa)
	runner.batchSize = 2

	var percents []int
	runner.progress = func(_ uuid.UUID, percent int) { percents = append(percents, percent) }

	_, err := runner.Run(context.Background(), payload)
	require.NoError(t, err)
	require.NotEmpty(t, percents)
	assert.Equal(t, 10, percents[0])
	assert.Equal(t, 100, percents[len(percents)-1])
	assert.IsNonDecreasing(t, percents)
}
