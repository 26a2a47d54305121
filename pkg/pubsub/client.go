package pubsub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/config"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

var errNotInitialized = errors.New("pubsub client not initialized")

// Client wraps the Pub/Sub v2 client with one cached publisher per topic.
// Publishers batch in the background, so Close stops each of them to flush
// pending messages before closing the connection.
type Client struct {
	client    *pubsub.Client
	projectID string
	topics    []string
	logg      *logger.Logger

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects and verifies every configured topic. With
// CreateMissingTopics set (emulator and dev setups) absent topics are
// created instead of failing startup.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errors.New("gcp project id is required")
	}
	topics := topicNames(cfg)
	if len(topics) == 0 {
		return nil, errors.New("at least one pubsub topic is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}

	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		client:     psClient,
		projectID:  projectID,
		topics:     topics,
		logg:       logg,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.checkTopics(ctx, cfg.CreateMissingTopics); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	logg.Info(logg.WithFields(ctx, map[string]any{"project_id": projectID, "topics": topics}), "pubsub client ready")
	return c, nil
}

// topicNames lists the configured topics trimmed and de-duplicated.
func topicNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, name := range []string{cfg.CreditsTopic, cfg.NotificationTopic} {
		if name = strings.TrimSpace(name); name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

func (c *Client) checkTopics(ctx context.Context, create bool) error {
	admin := c.client.TopicAdminClient
	for _, name := range c.topics {
		full := c.topicResourceName(name)
		_, err := admin.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
		switch {
		case err == nil:
			continue
		case status.Code(err) != codes.NotFound:
			return fmt.Errorf("checking topic %q: %w", name, err)
		case !create:
			return fmt.Errorf("topic %q does not exist", name)
		}

		_, err = admin.CreateTopic(ctx, &pubsubpb.Topic{Name: full})
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return fmt.Errorf("creating topic %q: %w", name, err)
		}
		c.logg.Info(c.logg.WithField(ctx, "topic", full), "pubsub topic created")
	}
	return nil
}

// Publisher returns the shared publisher for a topic ID or full resource
// name, or nil when the name is blank or the client is closed.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.topicResourceName(name)
	if full == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishers == nil {
		return nil
	}
	p, ok := c.publishers[full]
	if !ok {
		p = c.client.Publisher(full)
		c.publishers[full] = p
	}
	return p
}

// Ping re-checks the configured topics without creating any.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.checkTopics(ctx, false)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	publishers := c.publishers
	c.publishers = nil
	c.mu.Unlock()

	for _, p := range publishers {
		p.Stop()
	}
	return c.client.Close()
}

func (c *Client) topicResourceName(name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	switch {
	case n == "" || c.projectID == "":
		return ""
	case strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/"):
		return n
	}
	return "projects/" + c.projectID + "/topics/" + n
}
