package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costlens/backend/internal/focus"
	"github.com/costlens/backend/internal/model"
)

type stubAdapter struct {
	provider model.Provider
}

func (s *stubAdapter) Provider() model.Provider { return s.provider }
func (s *stubAdapter) GetCosts(context.Context, Credentials, CostParams) ([]focus.RawRecord, error) {
	return nil, nil
}
func (s *stubAdapter) NormalizeToFocus([]focus.RawRecord) []focus.CostItem { return nil }
func (s *stubAdapter) ValidateCredentials(context.Context, Credentials) bool {
	return true
}

func TestRegistryResolve(t *testing.T) {
	aws := &stubAdapter{provider: model.ProviderAWS}
	registry := NewRegistry(aws, &stubAdapter{provider: model.ProviderAzure})

	got, err := registry.Resolve(model.ProviderAWS)
	require.NoError(t, err)
	assert.Same(t, aws, got)
}

func TestRegistryResolveUnsupported(t *testing.T) {
	registry := NewRegistry(&stubAdapter{provider: model.ProviderAWS})

	got, err := registry.Resolve(model.Provider("ORACLE"))
	assert.Nil(t, got)
	require.Error(t, err)

	var tagged *Error
	require.True(t, errors.As(err, &tagged))
	assert.Equal(t, KindUnsupportedProvider, tagged.Kind)
}

func TestRegistryProviders(t *testing.T) {
	registry := NewRegistry(
		&stubAdapter{provider: model.ProviderAWS},
		&stubAdapter{provider: model.ProviderGCP},
	)
	assert.ElementsMatch(t,
		[]model.Provider{model.ProviderAWS, model.ProviderGCP},
		registry.Providers(),
	)
}
