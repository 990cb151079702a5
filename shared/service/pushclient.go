// shared/service/pushclient.go
package service

import (
	"context"
	"fmt"

	"github.com/courtside/run-service/shared/api"
)

// PushServiceClient is a client for the push delivery gateway.
// Delivery is fire-and-forget from the run service's perspective: the gateway
// owns retries and invalid-token cleanup; callers only log failures.
type PushServiceClient struct {
	apiClient *api.Client
}

// NewPushClient creates a new push gateway client.
// It takes the base URL of the push gateway as an argument.
func NewPushClient(baseURL string) *PushServiceClient {
	// Pass the default HTTP client for inter-service communication
	return &PushServiceClient{
		apiClient: api.NewClient(baseURL, api.NewDefaultHTTPClient()),
	}
}

// --- Request DTOs for Push Gateway Communication ---

// TopicMessageRequest is the structure for a send-to-topic request.
type TopicMessageRequest struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// TokenMessageRequest is the structure for a send-to-tokens request.
type TokenMessageRequest struct {
	Tokens []string          `json:"tokens"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// --- Client Methods for Push Gateway API Endpoints ---

// SendToTopic publishes a notification to every device subscribed to a topic.
// It calls the gateway's POST /topics/{topic} endpoint.
func (c *PushServiceClient) SendToTopic(ctx context.Context, topic, title, body string, data map[string]string) error {
	reqData := TopicMessageRequest{
		Title: title,
		Body:  body,
		Data:  data,
	}
	err := c.apiClient.Post(ctx, fmt.Sprintf("/topics/%s", topic), reqData, nil)
	if err != nil {
		return fmt.Errorf("failed to send topic message to %s via push gateway: %w", topic, err)
	}
	return nil
}

// SendToTokens delivers a notification directly to a set of device tokens.
// It calls the gateway's POST /tokens endpoint. An empty token list is a no-op.
func (c *PushServiceClient) SendToTokens(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	if len(tokens) == 0 {
		return nil
	}
	reqData := TokenMessageRequest{
		Tokens: tokens,
		Title:  title,
		Body:   body,
		Data:   data,
	}
	err := c.apiClient.Post(ctx, "/tokens", reqData, nil)
	if err != nil {
		return fmt.Errorf("failed to send token message via push gateway: %w", err)
	}
	return nil
}
