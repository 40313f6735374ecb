package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"safebank/internal/domain"
)

const accountKeyPrefix = "safebank:account:"

// Each key is a hash: "version" and "data" for a live account, or "deleted"
// once the account is gone.
var (
	// setIfNewer stores ARGV[2] at version ARGV[1] unless the key holds the
	// same or a newer version, or a deletion marker.
	setIfNewer = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], 'deleted') == 1 then
	return 0
end
local current = tonumber(redis.call('HGET', KEYS[1], 'version') or '0')
if current >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

	markDeleted = redis.NewScript(`
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'deleted', '1')
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1
`)
)

// AccountCache is a Redis cache of account snapshots ordered by version.
// Failures are logged and treated as misses; the store stays the source of truth.
type AccountCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewAccountCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *AccountCache {
	return &AccountCache{client: client, ttl: ttl, logger: logger}
}

func accountKey(id uuid.UUID) string {
	return accountKeyPrefix + id.String()
}

func (c *AccountCache) Get(ctx context.Context, id uuid.UUID) (*domain.Account, bool) {
	values, err := c.client.HMGet(ctx, accountKey(id), "data", "deleted").Result()
	if err != nil {
		c.logger.Warn("Account cache read failed", "account_id", id, "error", err)
		return nil, false
	}
	if values[1] != nil {
		return nil, false
	}
	data, ok := values[0].(string)
	if !ok {
		return nil, false
	}

	var account domain.Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		c.logger.Warn("Account cache entry unreadable", "account_id", id, "error", err)
		return nil, false
	}
	return &account, true
}

func (c *AccountCache) Set(ctx context.Context, account *domain.Account) {
	data, err := json.Marshal(account)
	if err != nil {
		c.logger.Warn("Account cache marshal failed", "account_id", account.ID, "error", err)
		return
	}

	stored, err := setIfNewer.Run(ctx, c.client,
		[]string{accountKey(account.ID)},
		strconv.FormatInt(account.Version, 10), data, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		c.logger.Warn("Account cache write failed", "account_id", account.ID, "error", err)
		return
	}
	if stored == 0 {
		c.logger.Debug("Account cache kept newer entry", "account_id", account.ID, "version", account.Version)
	}
}

func (c *AccountCache) Delete(ctx context.Context, id uuid.UUID) {
	if err := markDeleted.Run(ctx, c.client, []string{accountKey(id)}, c.ttl.Milliseconds()).Err(); err != nil {
		c.logger.Warn("Account cache delete failed", "account_id", id, "error", err)
	}
}
