package secrets

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type mapStore map[string]string

func (m mapStore) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func TestGetSecretWithDefault(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := mapStore{"topstepx-api-key": "  abc123\n"}

	assert.Equal(t, "abc123", GetSecretWithDefault(context.Background(), store, logger, "topstepx-api-key", ""))
	assert.Equal(t, "fallback", GetSecretWithDefault(context.Background(), store, logger, "missing", "fallback"))
}

func TestDefaultSecretNames(t *testing.T) {
	names := DefaultSecretNames()
	assert.Equal(t, "topstepx-username", names.UserName)
	assert.Equal(t, "topstepx-api-key", names.APIKey)
}
