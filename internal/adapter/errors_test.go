package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/costlens/backend/internal/model"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"tagged", NewAuthError(model.ProviderAWS, errors.New("denied")), KindAuth},
		{"wrapped tagged", fmt.Errorf("outer: %w", NewRateLimitError(model.ProviderAzure, errors.New("429"))), KindRateLimit},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindTimeout},
		{"wrapped canceled", fmt.Errorf("fetch aborted: %w", context.Canceled), KindTimeout},
		{"plain", errors.New("boom"), Kind("")},
		{"nil", nil, Kind("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(NewRateLimitError(model.ProviderAWS, errors.New("throttle"))))
	assert.True(t, Retryable(NewTimeoutError(model.ProviderAWS, context.DeadlineExceeded)))
	assert.True(t, Retryable(NewPersistenceError(errors.New("write failed"))))
	assert.True(t, Retryable(context.Canceled))

	assert.False(t, Retryable(NewAuthError(model.ProviderAWS, errors.New("denied"))))
	assert.False(t, Retryable(NewUnsupportedProvider(model.Provider("ORACLE"))))
	assert.False(t, Retryable(errors.New("untagged")))
	assert.False(t, Retryable(nil))
}

func TestErrorMessage(t *testing.T) {
	err := NewAuthError(model.ProviderAWS, errors.New("AccessDenied"))
	assert.Contains(t, err.Error(), "AWS")
	assert.Contains(t, err.Error(), "AccessDenied")
}
