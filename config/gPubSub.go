package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

func getPubSubProjectID() string {
	// Prefer explicit override.
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	// Cloud Run/Cloud Functions often set this.
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

// NewPubSubClient uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func NewPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		return pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return pubsub.NewClient(ctx, projectID)
}

// PublishJSON publishes obj to topicName and returns the server-assigned message ID.
func PublishJSON(ctx context.Context, c *pubsub.Client, topicName string, obj any, attrs map[string]string) (string, error) {
	if c == nil {
		return "", errors.New("pubsub client is nil")
	}
	if topicName == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("marshal pubsub payload: %w", err)
	}
	result := c.Topic(topicName).Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	return result.Get(ctx)
}
