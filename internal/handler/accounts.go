package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/costlens/backend/internal/adapter"
	"github.com/costlens/backend/internal/apierrors"
	"github.com/costlens/backend/internal/crypto"
	"github.com/costlens/backend/internal/ingest"
	"github.com/costlens/backend/internal/model"
	"github.com/costlens/backend/internal/repository"
)

// AccountHandler serves cloud account CRUD and sync triggering.
type AccountHandler struct {
	accounts repository.CloudAccountRepository
	syncJobs repository.SyncJobRepository
	registry *adapter.Registry
	secrets  *crypto.Encryptor
	queue    *ingest.Queue
	logger   *slog.Logger
}

// NewAccountHandler creates the handler.
func NewAccountHandler(
	accounts repository.CloudAccountRepository,
	syncJobs repository.SyncJobRepository,
	registry *adapter.Registry,
	secrets *crypto.Encryptor,
	queue *ingest.Queue,
	logger *slog.Logger,
) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		syncJobs: syncJobs,
		registry: registry,
		secrets:  secrets,
		queue:    queue,
		logger:   logger,
	}
}

type createAccountRequest struct {
	Provider    model.Provider    `json:"provider"`
	ExternalID  string            `json:"external_id"`
	Name        string            `json:"name"`
	Credentials map[string]string `json:"credentials"`
}

// Create validates the credentials against the provider and stores the
// account with the credential map encrypted.
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	var req createAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ExternalID == "" || req.Name == "" {
		apierrors.BadRequest(w, r, "external_id and name are required")
		return
	}
	if !model.HasCredentialShape(req.Provider, req.Credentials) {
		apierrors.BadRequest(w, r, "credentials do not match the provider's required shape")
		return
	}

	status := model.AccountStatusPending
	if cloudAdapter, err := h.registry.Resolve(req.Provider); err == nil {
		if !cloudAdapter.ValidateCredentials(r.Context(), req.Credentials) {
			apierrors.BadRequest(w, r, "credentials rejected by provider")
			return
		}
		status = model.AccountStatusConnected
	}

	encrypted, err := h.secrets.EncryptCredentials(req.Credentials)
	if err != nil {
		h.logger.Error("failed to encrypt credentials", "error", err)
		apierrors.Internal(w, r)
		return
	}

	base := model.NewBaseEntity()
	account := &model.CloudAccount{
		ID:          base.ID,
		TenantID:    tenant,
		Provider:    req.Provider,
		ExternalID:  req.ExternalID,
		Name:        req.Name,
		Credentials: encrypted,
		Status:      status,
		CreatedAt:   base.CreatedAt,
		UpdatedAt:   base.UpdatedAt,
	}
	if err := h.accounts.Create(r.Context(), account); err != nil {
		h.logger.Error("failed to create account", "error", err)
		apierrors.Internal(w, r)
		return
	}
	respondJSON(w, http.StatusCreated, account)
}

// List returns the tenant's accounts.
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	accounts, err := h.accounts.ListByTenant(r.Context(), tenant)
	if err != nil {
		h.logger.Error("failed to list accounts", "error", err)
		apierrors.Internal(w, r)
		return
	}
	if accounts == nil {
		accounts = []*model.CloudAccount{}
	}
	respondJSON(w, http.StatusOK, accounts)
}

// Get returns one account.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	account, err := h.accounts.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		apierrors.NotFound(w, r, "account not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get account", "error", err)
		apierrors.Internal(w, r)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

// Delete removes an account and its data.
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	err := h.accounts.Delete(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		apierrors.NotFound(w, r, "account not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete account", "error", err)
		apierrors.Internal(w, r)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

type syncRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Sync enqueues an ingestion job for the account. The window defaults to
// the trailing 30 days.
func (h *AccountHandler) Sync(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	account, err := h.accounts.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		apierrors.NotFound(w, r, "account not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get account", "error", err)
		apierrors.Internal(w, r)
		return
	}

	end := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	start := end.AddDate(0, 0, -30)
	var req syncRequest
	if r.ContentLength > 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.StartDate != "" {
			if start, err = time.Parse(dateLayout, req.StartDate); err != nil {
				apierrors.BadRequest(w, r, "invalid start_date")
				return
			}
		}
		if req.EndDate != "" {
			if end, err = time.Parse(dateLayout, req.EndDate); err != nil {
				apierrors.BadRequest(w, r, "invalid end_date")
				return
			}
		}
	}
	if !start.Before(end) {
		apierrors.BadRequest(w, r, "start_date must be before end_date")
		return
	}

	err = h.queue.Enqueue(ingest.Payload{
		CloudAccountID: account.ID,
		TenantID:       account.TenantID,
		Provider:       account.Provider,
		StartDate:      start,
		EndDate:        end,
	})
	switch {
	case errors.Is(err, ingest.ErrAccountBusy):
		apierrors.Conflict(w, r, "a sync is already queued or running for this account")
	case errors.Is(err, ingest.ErrQueueFull), errors.Is(err, ingest.ErrQueueClosed):
		apierrors.Write(w, r, http.StatusServiceUnavailable, err.Error(), "unavailable")
	case err != nil:
		h.logger.Error("failed to enqueue sync", "error", err)
		apierrors.Internal(w, r)
	default:
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

// Jobs returns the account's recent sync job history.
func (h *AccountHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	jobs, err := h.syncJobs.ListByAccount(r.Context(), id, 20)
	if err != nil {
		h.logger.Error("failed to list sync jobs", "error", err)
		apierrors.Internal(w, r)
		return
	}
	if jobs == nil {
		jobs = []*model.SyncJob{}
	}
	respondJSON(w, http.StatusOK, jobs)
}
