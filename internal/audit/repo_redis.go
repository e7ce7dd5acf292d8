package audit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream anomalies are appended to.
const DefaultStream = "voicemail:anomalies"

// RedisRepo appends events to a capped Redis stream (XADD ... MAXLEN ~).
// Streams are append-only, which matches the journal contract.
type RedisRepo struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewRedisRepo(rdb *redis.Client, stream string, maxLen int64) *RedisRepo {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = 100_000
	}
	return &RedisRepo{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (r *RedisRepo) Append(ctx context.Context, e Event) error {
	return r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: streamValues(e),
	}).Err()
}

func streamValues(e Event) map[string]any {
	return map[string]any{
		"id":                e.ID,
		"type":              string(e.Type),
		"call_uuid":         e.CallUUID,
		"conversation_uuid": e.ConversationUUID,
		"webhook":           e.Webhook,
		"ip_address":        e.IPAddress,
		"message":           e.Message,
		"metadata":          e.Metadata,
		"created_at":        e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
