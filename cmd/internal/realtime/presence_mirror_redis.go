package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultPresenceKeyPrefix = "chat:presence:"

// RedisPresenceMirror stores one key per online identity with a TTL equal to the liveness
// window, so records of crashed instances disappear on their own.
type RedisPresenceMirror struct {
	client *redis.Client
	prefix string
}

// Ensure interface compliance at compile time
var _ PresenceMirror = (*RedisPresenceMirror)(nil)

type redisPresenceValue struct {
	UserID       string    `json:"user_id"`
	Name         string    `json:"name,omitempty"`
	Status       string    `json:"status,omitempty"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Connections  int       `json:"connections"`
	LastSeen     time.Time `json:"last_seen"`
}

// NewRedisPresenceMirror connects to rawURL (redis://...) and verifies it with a ping.
func NewRedisPresenceMirror(ctx context.Context, rawURL, prefix string) (*RedisPresenceMirror, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("redis: empty url")
	}
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisPresenceMirrorFromClient(c, prefix), nil
}

// NewRedisPresenceMirrorFromClient wraps an existing client. The mirror owns it after this call.
func NewRedisPresenceMirrorFromClient(c *redis.Client, prefix string) *RedisPresenceMirror {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultPresenceKeyPrefix
	}
	return &RedisPresenceMirror{client: c, prefix: prefix}
}

func (m *RedisPresenceMirror) Upsert(ctx context.Context, rec PresenceRecord, ttl time.Duration) error {
	if rec.UserID == "" {
		return errors.New("redis: presence: empty user id")
	}
	b, err := json.Marshal(redisPresenceValue{
		UserID:       rec.UserID,
		Name:         rec.Name,
		Status:       string(rec.Status),
		ConnectionID: rec.ConnectionID,
		Connections:  rec.Connections,
		LastSeen:     rec.LastSeen,
	})
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.prefix+rec.UserID, b, ttl).Err()
}

func (m *RedisPresenceMirror) Remove(ctx context.Context, userID string) error {
	return m.client.Del(ctx, m.prefix+userID).Err()
}

func (m *RedisPresenceMirror) List(ctx context.Context) ([]PresenceRecord, error) {
	var keys []string
	iter := m.client.Scan(ctx, 0, m.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan presence: %w", err)
	}
	if len(keys) == 0 {
		return []PresenceRecord{}, nil
	}

	vals, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget presence: %w", err)
	}

	out := make([]PresenceRecord, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			// Expired between SCAN and MGET.
			continue
		}
		var pv redisPresenceValue
		if err := json.Unmarshal([]byte(s), &pv); err != nil {
			continue
		}
		status, ok := ParseSettableStatus(pv.Status)
		if !ok {
			status = StatusOnline
		}
		out = append(out, PresenceRecord{
			UserID:       pv.UserID,
			Name:         pv.Name,
			Status:       status,
			ConnectionID: pv.ConnectionID,
			LastSeen:     pv.LastSeen,
			Connections:  pv.Connections,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Ping verifies connectivity.
func (m *RedisPresenceMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close releases the client.
func (m *RedisPresenceMirror) Close() error {
	return m.client.Close()
}
