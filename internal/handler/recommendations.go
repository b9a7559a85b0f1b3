package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/costlens/backend/internal/adapter"
	"github.com/costlens/backend/internal/apierrors"
	"github.com/costlens/backend/internal/crypto"
	"github.com/costlens/backend/internal/model"
	"github.com/costlens/backend/internal/repository"
)

// CapabilityHandler serves the optional adapter capabilities: resource
// inventory and provider recommendations. Support is discovered per adapter
// with a type assertion; an unsupported provider is a 404 on the
// capability, not an error.
type CapabilityHandler struct {
	accounts repository.CloudAccountRepository
	registry *adapter.Registry
	secrets  *crypto.Encryptor
	logger   *slog.Logger
}

// NewCapabilityHandler creates the handler.
func NewCapabilityHandler(
	accounts repository.CloudAccountRepository,
	registry *adapter.Registry,
	secrets *crypto.Encryptor,
	logger *slog.Logger,
) *CapabilityHandler {
	return &CapabilityHandler{accounts: accounts, registry: registry, secrets: secrets, logger: logger}
}

// Recommendations returns provider cost optimization suggestions when the
// account's adapter supports them.
func (h *CapabilityHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	account, creds, cloudAdapter, ok := h.resolve(w, r)
	if !ok {
		return
	}
	fetcher, supported := cloudAdapter.(adapter.RecommendationFetcher)
	if !supported {
		apierrors.NotFound(w, r, "recommendations are not supported for this provider")
		return
	}
	recs, err := fetcher.GetRecommendations(r.Context(), creds)
	if err != nil {
		h.logger.Error("failed to fetch recommendations", "account_id", account.ID, "error", err)
		apierrors.Internal(w, r)
		return
	}
	if recs == nil {
		recs = []adapter.Recommendation{}
	}
	respondJSON(w, http.StatusOK, recs)
}

// Resources returns the account's billable resource inventory when the
// adapter supports listing.
func (h *CapabilityHandler) Resources(w http.ResponseWriter, r *http.Request) {
	account, creds, cloudAdapter, ok := h.resolve(w, r)
	if !ok {
		return
	}
	lister, supported := cloudAdapter.(adapter.ResourceLister)
	if !supported {
		apierrors.NotFound(w, r, "resource listing is not supported for this provider")
		return
	}
	resources, err := lister.ListResources(r.Context(), creds)
	if err != nil {
		h.logger.Error("failed to list resources", "account_id", account.ID, "error", err)
		apierrors.Internal(w, r)
		return
	}
	if resources == nil {
		resources = []adapter.Resource{}
	}
	respondJSON(w, http.StatusOK, resources)
}

func (h *CapabilityHandler) resolve(w http.ResponseWriter, r *http.Request) (*model.CloudAccount, adapter.Credentials, adapter.CloudAdapter, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.BadRequest(w, r, "invalid id")
		return nil, nil, nil, false
	}
	account, err := h.accounts.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		apierrors.NotFound(w, r, "account not found")
		return nil, nil, nil, false
	}
	if err != nil {
		h.logger.Error("failed to get account", "error", err)
		apierrors.Internal(w, r)
		return nil, nil, nil, false
	}

	cloudAdapter, err := h.registry.Resolve(account.Provider)
	if err != nil {
		apierrors.BadRequest(w, r, "no adapter registered for this provider")
		return nil, nil, nil, false
	}
	creds, err := h.secrets.DecryptCredentials(account.Credentials)
	if err != nil {
		h.logger.Error("failed to decrypt credentials", "account_id", account.ID, "error", err)
		apierrors.Internal(w, r)
		return nil, nil, nil, false
	}
	return account, creds, cloudAdapter, true
}
