package reminder

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	appLog "visitcal/internal/log"
)

// releaseScript deletes the lock only if it still holds our token, so a run
// that overran its TTL cannot drop a lock taken by the next run.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-flight lock shared by every instance pointed at
// the same Redis.
type RedisLocker struct {
	client redis.UniversalClient
	key    string
}

func NewRedisLocker(client redis.UniversalClient, key string) *RedisLocker {
	if key == "" {
		key = "visitcal:reminder:lock"
	}
	return &RedisLocker{client: client, key: key}
}

func (l *RedisLocker) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	token := ulid.Make().String()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The run context may already be done; release on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			appLog.Error("reminder: lock release failed", err, "key", l.key)
		}
	}
	return release, true, nil
}

// RedisLedger appends sent reminders to a capped Redis stream keyed by
// (visit_id, occurrence).
type RedisLedger struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewRedisLedger(client redis.UniversalClient, stream string, maxLen int64) *RedisLedger {
	if stream == "" {
		stream = "visitcal:reminders"
	}
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &RedisLedger{client: client, stream: stream, maxLen: maxLen}
}

func (l *RedisLedger) Record(ctx context.Context, e Entry) error {
	return l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		MaxLen: l.maxLen,
		Approx: true,
		Values: map[string]any{
			"visit_id":   e.VisitID,
			"occurrence": e.Occurrence.UTC().Format(time.RFC3339),
			"sent_at":    e.SentAt.UTC().Format(time.RFC3339),
		},
	}).Err()
}

// NewRedisClient builds a client; more than one address selects a cluster
// client.
func NewRedisClient(addrs []string, password string, db int) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: password,
		DB:       db,
	})
}
