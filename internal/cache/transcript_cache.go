package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"gopherai-analyst/internal/conversation"
)

// TranscriptCache mirrors conversation turns into Redis so the history
// endpoint can serve them without touching in-process state. Keys carry the
// owning user, so a conversation id alone never reaches another transcript.
type TranscriptCache struct {
	client   *redisv9.Client
	ttl      time.Duration
	maxTurns int
}

func NewTranscriptCache(client *redisv9.Client, ttl time.Duration, maxTurns int) *TranscriptCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &TranscriptCache{
		client:   client,
		ttl:      ttl,
		maxTurns: maxTurns,
	}
}

// Append pushes turns, keeps the newest maxTurns and refreshes the TTL.
func (c *TranscriptCache) Append(ctx context.Context, userID, conversationID string, turns ...conversation.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		payload, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal transcript turn failed: %w", err)
		}
		values = append(values, payload)
	}

	key := c.key(userID, conversationID)
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-c.maxTurns), -1)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append transcript failed: %w", err)
	}
	return nil
}

func (c *TranscriptCache) History(ctx context.Context, userID, conversationID string) ([]conversation.Turn, error) {
	raw, err := c.client.LRange(ctx, c.key(userID, conversationID), 0, -1).Result()
	if err == redisv9.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get transcript failed: %w", err)
	}

	turns := make([]conversation.Turn, 0, len(raw))
	for _, item := range raw {
		var t conversation.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("unmarshal transcript turn failed: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (c *TranscriptCache) Delete(ctx context.Context, userID, conversationID string) error {
	if err := c.client.Del(ctx, c.key(userID, conversationID)).Err(); err != nil {
		return fmt.Errorf("redis delete transcript failed: %w", err)
	}
	return nil
}

func (c *TranscriptCache) key(userID, conversationID string) string {
	return fmt.Sprintf("analyst:transcript:%s:%s", userID, conversationID)
}
