package gogetssl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCredentialKey is the Redis key shared by every replica.
const DefaultCredentialKey = "sslshop:gogetssl:auth"

// Credential is an authentication key issued by the authority.
type Credential struct {
	Key       string
	ExpiresAt time.Time
}

// Valid reports whether the credential can still be presented at now.
func (c Credential) Valid(now time.Time) bool {
	return c.Key != "" && now.Before(c.ExpiresAt)
}

// CredentialCache holds the current authority credential.
//
// Invalidate only drops the cached value when it still equals stale, so a
// caller holding an old key cannot evict a credential another caller just
// refreshed.
type CredentialCache interface {
	Get(ctx context.Context) (Credential, bool, error)
	Set(ctx context.Context, cred Credential) error
	Invalidate(ctx context.Context, stale Credential) error
	Clear(ctx context.Context) error
}

// MemoryCredentialCache is a process-local CredentialCache.
type MemoryCredentialCache struct {
	mu   sync.Mutex
	cred Credential
	set  bool
}

func NewMemoryCredentialCache() *MemoryCredentialCache {
	return &MemoryCredentialCache{}
}

func (m *MemoryCredentialCache) Get(_ context.Context) (Credential, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred, m.set, nil
}

func (m *MemoryCredentialCache) Set(_ context.Context, cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = cred
	m.set = true
	return nil
}

func (m *MemoryCredentialCache) Invalidate(_ context.Context, stale Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.set && m.cred.Key == stale.Key {
		m.cred = Credential{}
		m.set = false
	}
	return nil
}

func (m *MemoryCredentialCache) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = Credential{}
	m.set = false
	return nil
}

// compareAndDelete removes KEYS[1] only if it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCredentialCache shares the credential across replicas. Values are
// stored as "<unix expiry>:<key>" with a TTL matching the expiry.
type RedisCredentialCache struct {
	client redis.UniversalClient
	key    string
}

func NewRedisCredentialCache(client redis.UniversalClient, key string) *RedisCredentialCache {
	if key == "" {
		key = DefaultCredentialKey
	}
	return &RedisCredentialCache{client: client, key: key}
}

func (r *RedisCredentialCache) Get(ctx context.Context) (Credential, bool, error) {
	val, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("read credential: %w", err)
	}
	cred, err := decodeCredential(val)
	if err != nil {
		return Credential{}, false, err
	}
	return cred, true, nil
}

func (r *RedisCredentialCache) Set(ctx context.Context, cred Credential) error {
	ttl := time.Until(cred.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key, encodeCredential(cred), ttl).Err(); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

func (r *RedisCredentialCache) Invalidate(ctx context.Context, stale Credential) error {
	if err := compareAndDelete.Run(ctx, r.client, []string{r.key}, encodeCredential(stale)).Err(); err != nil {
		return fmt.Errorf("invalidate credential: %w", err)
	}
	return nil
}

func (r *RedisCredentialCache) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

func encodeCredential(c Credential) string {
	return strconv.FormatInt(c.ExpiresAt.Unix(), 10) + ":" + c.Key
}

func decodeCredential(val string) (Credential, error) {
	exp, key, ok := strings.Cut(val, ":")
	if !ok {
		return Credential{}, fmt.Errorf("malformed cached credential")
	}
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return Credential{}, fmt.Errorf("malformed cached credential expiry: %w", err)
	}
	return Credential{Key: key, ExpiresAt: time.Unix(unix, 0)}, nil
}
