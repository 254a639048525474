package secrets

import (
	"context"
	"fmt"
	"os"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// GetSecret retrieves a secret from Google Secret Manager
func GetSecret(ctx context.Context, secretName string) (string, error) {
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID == "" {
		return "", fmt.Errorf("GOOGLE_CLOUD_PROJECT environment variable is required")
	}

	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create secret manager client: %w", err)
	}
	defer func() { _ = client.Close() }()

	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, secretName),
	}

	result, err := client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}

	return string(result.Payload.Data), nil
}

// Resolve returns the value of envVar, fetching it from Secret Manager
// when the variable is empty or holds a "_secret:<name>" reference.
// Outside GCP (no GOOGLE_CLOUD_PROJECT) the env value is returned as-is.
func Resolve(ctx context.Context, envVar, defaultSecretName string) (string, error) {
	value := os.Getenv(envVar)

	if os.Getenv("GOOGLE_CLOUD_PROJECT") == "" {
		return value, nil
	}

	secretName := defaultSecretName
	if len(value) > 8 && value[:8] == "_secret:" {
		secretName = value[8:]
		value = ""
	}

	if value != "" {
		return value, nil
	}

	resolved, err := GetSecret(ctx, secretName)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", envVar, err)
	}
	return resolved, nil
}

// GetYouTubeAPIKey returns the YouTube Data API key from environment or secrets.
func GetYouTubeAPIKey(ctx context.Context) (string, error) {
	return Resolve(ctx, "YOUTUBE_API_KEY", "youtube-api-key")
}

// GetRedditCredentials returns the Reddit script-app credentials from
// environment or secrets. Both values may legitimately be empty: the
// Reddit aggregator then falls back to the unauthenticated public API.
func GetRedditCredentials(ctx context.Context) (clientID, clientSecret string, err error) {
	clientID, err = Resolve(ctx, "REDDIT_CLIENT_ID", "reddit-client-id")
	if err != nil {
		return "", "", err
	}
	clientSecret, err = Resolve(ctx, "REDDIT_CLIENT_SECRET", "reddit-client-secret")
	if err != nil {
		return "", "", err
	}
	return clientID, clientSecret, nil
}
