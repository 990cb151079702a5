// run/store/token_store.go
package store

import (
	"context"
	"fmt"

	redisu "github.com/courtside/run-service/shared/redis" // Alias for Redis constants
	"github.com/redis/go-redis/v9"
)

// TokenStore reads the device push-token directory from Redis.
// Token registration and invalid-token cleanup are owned by the device
// gateway; the run service only enumerates tokens for notification fan-out.
type TokenStore struct {
	client *redis.ClusterClient
}

// NewTokenStore creates a new TokenStore instance.
func NewTokenStore(client *redis.ClusterClient) *TokenStore {
	return &TokenStore{
		client: client,
	}
}

// GetUserTokens returns the registered push tokens for a user.
// A user with no registered devices yields an empty slice, not an error.
func (ts *TokenStore) GetUserTokens(ctx context.Context, userID string) ([]string, error) {
	key := fmt.Sprintf(redisu.PushTokensKeyPrefix, userID)
	tokens, err := ts.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get push tokens for user %s from Redis: %w", userID, err)
	}
	return tokens, nil
}
