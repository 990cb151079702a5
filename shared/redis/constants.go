// shared/redis/constants.go
package redis

import "fmt" // Needed for ErrRedisKeyNotFound

const (
	// PushTokensKeyPrefix is the Redis set holding a user's registered push
	// delivery tokens: push_tokens:{uid}:
	// Token registration is owned by the device gateway; this service only
	// enumerates members for notification fan-out.
	PushTokensKeyPrefix = "push_tokens:{%s}:"
)

// ErrRedisKeyNotFound is returned when a looked-up Redis key does not exist.
var ErrRedisKeyNotFound = fmt.Errorf("redis key not found")
