// Package redisrepo stores refresh records in Redis, one hash per account, so that
// several server processes share session state.
package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jrsteele09/go-patient-auth/token/refresh"
	"github.com/redis/go-redis/v9"
)

const (
	fieldHash    = "hash"
	fieldExpires = "exp"

	swapStatusNotFound int64 = 0
	swapStatusSwapped  int64 = 1
	swapStatusMismatch int64 = 2
)

// Keys: KEYS[1] record. Args: expected hash, next hash, next expiry in unix ms.
const swapScript = `
local current = redis.call("HGET", KEYS[1], "hash")
if not current then
  return 0
end
if current ~= ARGV[1] then
  return 2
end
redis.call("HSET", KEYS[1], "hash", ARGV[2], "exp", ARGV[3])
redis.call("PEXPIREAT", KEYS[1], ARGV[3])
return 1
`

var swapLua = redis.NewScript(swapScript)

var _ refresh.Repo = (*Repo)(nil)

type Repo struct {
	redis  redis.UniversalClient
	prefix string
}

func New(client redis.UniversalClient, prefix string) *Repo {
	return &Repo{
		redis:  client,
		prefix: prefix,
	}
}

func (r *Repo) key(accountID string) string {
	return r.prefix + ":refresh:" + accountID
}

func (r *Repo) Put(ctx context.Context, record refresh.Record) error {
	key := r.key(record.AccountID)
	expiresMs := record.ExpiresAt.UnixMilli()

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fieldHash, record.CredentialHash, fieldExpires, expiresMs)
		pipe.PExpireAt(ctx, key, record.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("[redisrepo.Put] %w", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, accountID string) (*refresh.Record, error) {
	values, err := r.redis.HGetAll(ctx, r.key(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, refresh.ErrRecordNotFound
		}
		return nil, fmt.Errorf("[redisrepo.Get] %w", err)
	}

	hash, ok := values[fieldHash]
	if !ok || hash == "" {
		return nil, refresh.ErrRecordNotFound
	}
	expiresMs, err := strconv.ParseInt(values[fieldExpires], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("[redisrepo.Get] corrupt expiry for %s: %w", accountID, err)
	}

	return &refresh.Record{
		AccountID:      accountID,
		CredentialHash: hash,
		ExpiresAt:      time.UnixMilli(expiresMs),
	}, nil
}

func (r *Repo) Clear(ctx context.Context, accountID string) error {
	if err := r.redis.Del(ctx, r.key(accountID)).Err(); err != nil {
		return fmt.Errorf("[redisrepo.Clear] %w", err)
	}
	return nil
}

func (r *Repo) Swap(ctx context.Context, accountID, expectedHash string, next refresh.Record) error {
	status, err := swapLua.Run(ctx, r.redis, []string{r.key(accountID)},
		expectedHash, next.CredentialHash, next.ExpiresAt.UnixMilli()).Int64()
	if err != nil {
		return fmt.Errorf("[redisrepo.Swap] %w", err)
	}

	switch status {
	case swapStatusSwapped:
		return nil
	case swapStatusMismatch:
		return refresh.ErrRecordMismatch
	case swapStatusNotFound:
		return refresh.ErrRecordNotFound
	default:
		return fmt.Errorf("[redisrepo.Swap] unexpected script status %d", status)
	}
}

// Ping checks connectivity, used by the server's health check.
func (r *Repo) Ping(ctx context.Context) error {
	return r.redis.Ping(ctx).Err()
}
