package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/sirupsen/logrus"
)

// Store reads named secrets. GCPSecretManager is the production
// implementation.
type Store interface {
	GetSecret(ctx context.Context, secretName string) (string, error)
}

type GCPSecretManager struct {
	client    *secretmanager.Client
	projectID string
	logger    *logrus.Logger
}

func NewGCPSecretManager(ctx context.Context, projectID string, logger *logrus.Logger) (*GCPSecretManager, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secretmanager client: %w", err)
	}

	return &GCPSecretManager{
		client:    client,
		projectID: projectID,
		logger:    logger,
	}, nil
}

func (g *GCPSecretManager) GetSecret(ctx context.Context, secretName string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", g.projectID, secretName)

	result, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", secretName, err)
	}

	return string(result.Payload.Data), nil
}

func (g *GCPSecretManager) Close() error {
	return g.client.Close()
}

// GetSecretWithDefault returns the trimmed secret, or defaultValue when it
// cannot be read.
func GetSecretWithDefault(ctx context.Context, store Store, logger *logrus.Logger, secretName, defaultValue string) string {
	value, err := store.GetSecret(ctx, secretName)
	if err != nil {
		logger.WithError(err).WithField("secret", secretName).Debug("Failed to get secret, using default")
		return defaultValue
	}
	return strings.TrimSpace(value)
}

type SecretNames struct {
	UserName string `mapstructure:"user_name"`
	APIKey   string `mapstructure:"api_key"`
}

func DefaultSecretNames() SecretNames {
	return SecretNames{
		UserName: "topstepx-username",
		APIKey:   "topstepx-api-key",
	}
}
