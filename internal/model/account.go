package model

import (
	"time"

	"github.com/google/uuid"
)

// Account connection status.
const (
	AccountStatusConnected = "CONNECTED"
	AccountStatusError     = "ERROR"
	AccountStatusPending   = "PENDING"
)

// CloudAccount represents a connected cloud billing account. Credentials is
// the AES-GCM encrypted credential map, never serialized to clients.
type CloudAccount struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	TenantID      uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Provider      Provider   `json:"provider" db:"provider"`
	ExternalID    string     `json:"external_id" db:"external_id"`
	Name          string     `json:"name" db:"name"`
	Credentials   []byte     `json:"-" db:"credentials"`
	Status        string     `json:"status" db:"status"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	LastSyncError string     `json:"last_sync_error,omitempty" db:"last_sync_error"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// CredentialKeys lists the required credential map keys per provider tag.
// Exactly one shape is valid per provider.
var CredentialKeys = map[Provider][]string{
	ProviderAWS:        {"accessKeyId", "secretAccessKey"},
	ProviderAzure:      {"clientId", "clientSecret", "tenantId", "subscriptionId"},
	ProviderGCP:        {"projectId", "serviceAccountKey"},
	ProviderKubernetes: {"clusterEndpoint", "token"},
}

// HasCredentialShape reports whether creds carries every required key for
// the provider with a non-empty value. Unknown providers never match.
func HasCredentialShape(p Provider, creds map[string]string) bool {
	required, ok := CredentialKeys[p]
	if !ok {
		return false
	}
	for _, key := range required {
		if creds[key] == "" {
			return false
		}
	}
	return true
}
