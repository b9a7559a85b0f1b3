// Package handler implements the HTTP API surface.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/costlens/backend/internal/apierrors"
)

const dateLayout = "2006-01-02"

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.BadRequest(w, r, "invalid request body")
		return false
	}
	return true
}

// tenantID extracts the tenant from the X-Tenant-ID header.
func tenantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get("X-Tenant-ID"))
	if err != nil {
		apierrors.BadRequest(w, r, "missing or invalid X-Tenant-ID header")
		return uuid.Nil, false
	}
	return id, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		apierrors.BadRequest(w, r, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// dateWindow parses start/end query params, defaulting to the trailing 30
// days. Start is inclusive, end exclusive.
func dateWindow(r *http.Request) (time.Time, time.Time, error) {
	end := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	start := end.AddDate(0, 0, -30)

	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = t
	}
	return start, end, nil
}
