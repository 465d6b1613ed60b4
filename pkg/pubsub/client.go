// pkg/pubsub/client.go
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/hubbridge/hubbridge-backend/pkg/config"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
)

// Client wraps a Pub/Sub v2 client scoped to the dead-letter topic. A nil
// Client is a no-op publisher, so callers never have to branch on whether
// dead-lettering is configured.
type Client struct {
	client    *pubsub.Client
	projectID string
	topic     string
}

var errProjectIDRequired = errors.New("gcp project id is required")

// NewClient creates a Pub/Sub v2 client for the dead-letter topic. Returns
// (nil, nil) when no topic is configured.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	topic := strings.TrimSpace(cfg.DeadLetterTopic)
	if topic == "" {
		if logg != nil {
			logg.Info(ctx, "dead-letter topic not configured, publishing disabled")
		}
		return nil, nil
	}
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: gcp.ProjectID,
		topic:     topic,
	}

	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}

	return c, nil
}

// PublishDeadLetter encodes the payload as JSON and publishes it to the
// dead-letter topic with the given attributes. No-op on a nil client.
func (c *Client) PublishDeadLetter(ctx context.Context, payload any, attrs map[string]string) error {
	if c == nil || c.client == nil {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding dead-letter payload: %w", err)
	}

	publisher := c.client.Publisher(c.topicResourceName())
	defer publisher.Stop()

	result := publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publishing dead-letter message: %w", err)
	}
	return nil
}

// Close releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) topicResourceName() string {
	n := strings.TrimSpace(c.topic)
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	return fmt.Sprintf("projects/%s/topics/%s", strings.TrimSpace(c.projectID), n)
}
