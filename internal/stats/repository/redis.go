package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Repository backed by Redis. Per-event batches are issued as
// MULTI/EXEC pipelines so no other batch interleaves on the same keys, and the
// snapshot read is one pipelined round trip.
type RedisStore struct {
	client      *redis.Client
	ttl         time.Duration
	timelineCap int
}

// NewRedisStore connects to the given Redis URL (e.g. redis://localhost:6379/0)
// and returns a store with the given namespace TTL and timeline cap.
func NewRedisStore(url string, ttl time.Duration, timelineCap int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("stats: parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if timelineCap < 1 {
		timelineCap = 1200
	}
	return &RedisStore{
		client:      redis.NewClient(opts),
		ttl:         ttl,
		timelineCap: timelineCap,
	}, nil
}

// Shutdown closes the underlying Redis client.
func (s *RedisStore) Shutdown() error {
	return s.client.Close()
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Init purges any stale namespace and writes a fresh active session record.
func (s *RedisStore) Init(ctx context.Context, sessionID, channel string, duration time.Duration) error {
	if err := s.Purge(ctx, sessionID); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.infoKey(sessionID), map[string]interface{}{
			"channel":    channel,
			"duration":   int(duration / time.Second),
			"status":     "active",
			"started_at": now,
		})
		pipe.Set(ctx, s.messagesKey(sessionID), 0, s.ttl)
		for _, key := range s.namespaceKeys(sessionID) {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: init session: %v", ErrUnavailable, err)
	}
	return nil
}

// Close marks the session record with the terminal status.
func (s *RedisStore) Close(ctx context.Context, sessionID, status string) error {
	err := s.client.HSet(ctx, s.infoKey(sessionID), map[string]interface{}{
		"status":   status,
		"ended_at": time.Now().UTC().Format(time.RFC3339),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: close session: %v", ErrUnavailable, err)
	}
	return nil
}

// Purge deletes the whole namespace for sessionID.
func (s *RedisStore) Purge(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.namespaceKeys(sessionID)...).Err(); err != nil {
		return fmt.Errorf("%w: purge session: %v", ErrUnavailable, err)
	}
	return nil
}

// Apply folds one event's mutation into the namespace as a single MULTI/EXEC batch.
func (s *RedisStore) Apply(ctx context.Context, sessionID string, mut Mutation) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		touched := []string{}
		if mut.Messages != 0 {
			pipe.IncrBy(ctx, s.messagesKey(sessionID), mut.Messages)
			touched = append(touched, s.messagesKey(sessionID))
		}
		if mut.Chatter != "" {
			pipe.ZIncrBy(ctx, s.chattersKey(sessionID), 1, mut.Chatter)
			touched = append(touched, s.chattersKey(sessionID))
		}
		if len(mut.Emotes) > 0 {
			for _, e := range mut.Emotes {
				pipe.HIncrBy(ctx, s.emotesKey(sessionID), e.ID, 1)
				pipe.HSetNX(ctx, s.emoteNamesKey(sessionID), e.ID, e.Name)
			}
			touched = append(touched, s.emotesKey(sessionID), s.emoteNamesKey(sessionID))
		}
		if mut.Sentiment != nil {
			pipe.HIncrBy(ctx, s.sentimentKey(sessionID), mut.Sentiment.Label, 1)
			pipe.HIncrByFloat(ctx, s.sentimentKey(sessionID), mut.Sentiment.Label+"_sum", mut.Sentiment.Score)
			touched = append(touched, s.sentimentKey(sessionID))
		}
		if mut.Timeline != nil {
			pipe.RPush(ctx, s.timelineKey(sessionID), strconv.FormatInt(*mut.Timeline, 10))
			pipe.LTrim(ctx, s.timelineKey(sessionID), int64(-s.timelineCap), -1)
			touched = append(touched, s.timelineKey(sessionID))
		}
		touched = append(touched, s.infoKey(sessionID))
		for _, key := range touched {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: apply mutation: %v", ErrUnavailable, err)
	}
	return nil
}

// SetEmoteImage records the image URL for an emote ID. Empty URLs are ignored.
func (s *RedisStore) SetEmoteImage(ctx context.Context, sessionID, emoteID, imageURL string) error {
	if imageURL == "" {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.emoteImagesKey(sessionID), emoteID, imageURL)
		pipe.Expire(ctx, s.emoteImagesKey(sessionID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: set emote image: %v", ErrUnavailable, err)
	}
	return nil
}

// AppendTimeline appends one timestamp, trimming to the configured cap.
func (s *RedisStore) AppendTimeline(ctx context.Context, sessionID string, unix int64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.timelineKey(sessionID), strconv.FormatInt(unix, 10))
		pipe.LTrim(ctx, s.timelineKey(sessionID), int64(-s.timelineCap), -1)
		pipe.Expire(ctx, s.timelineKey(sessionID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: append timeline: %v", ErrUnavailable, err)
	}
	return nil
}

// Snapshot gathers every statistic for the session in one pipelined round trip.
func (s *RedisStore) Snapshot(ctx context.Context, sessionID string, topN int) (*Raw, error) {
	var (
		infoCmd     *redis.MapStringStringCmd
		messagesCmd *redis.StringCmd
		cardCmd     *redis.IntCmd
		topCmd      *redis.ZSliceCmd
		emotesCmd   *redis.MapStringStringCmd
		namesCmd    *redis.MapStringStringCmd
		imagesCmd   *redis.MapStringStringCmd
		sentCmd     *redis.MapStringStringCmd
		timelineCmd *redis.StringSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		infoCmd = pipe.HGetAll(ctx, s.infoKey(sessionID))
		messagesCmd = pipe.Get(ctx, s.messagesKey(sessionID))
		cardCmd = pipe.ZCard(ctx, s.chattersKey(sessionID))
		topCmd = pipe.ZRevRangeWithScores(ctx, s.chattersKey(sessionID), 0, int64(topN-1))
		emotesCmd = pipe.HGetAll(ctx, s.emotesKey(sessionID))
		namesCmd = pipe.HGetAll(ctx, s.emoteNamesKey(sessionID))
		imagesCmd = pipe.HGetAll(ctx, s.emoteImagesKey(sessionID))
		sentCmd = pipe.HGetAll(ctx, s.sentimentKey(sessionID))
		timelineCmd = pipe.LRange(ctx, s.timelineKey(sessionID), 0, -1)
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("%w: snapshot: %v", ErrUnavailable, err)
	}

	info := infoCmd.Val()
	if len(info) == 0 {
		return nil, nil
	}

	raw := &Raw{
		Info:         info,
		ChatterCount: cardCmd.Val(),
		EmoteCounts:  make(map[string]int64),
		EmoteNames:   namesCmd.Val(),
		EmoteImages:  imagesCmd.Val(),
		Sentiment:    sentCmd.Val(),
	}
	if n, err := strconv.ParseInt(messagesCmd.Val(), 10, 64); err == nil {
		raw.Messages = n
	}
	for _, z := range topCmd.Val() {
		member, _ := z.Member.(string)
		raw.TopChatters = append(raw.TopChatters, MemberScore{Member: member, Score: int64(z.Score)})
	}
	for id, count := range emotesCmd.Val() {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			raw.EmoteCounts[id] = n
		}
	}
	for _, entry := range timelineCmd.Val() {
		if ts, err := strconv.ParseInt(entry, 10, 64); err == nil {
			raw.Timeline = append(raw.Timeline, ts)
		}
	}
	return raw, nil
}

func (s *RedisStore) namespaceKeys(sessionID string) []string {
	return []string{
		s.infoKey(sessionID),
		s.messagesKey(sessionID),
		s.chattersKey(sessionID),
		s.emotesKey(sessionID),
		s.emoteNamesKey(sessionID),
		s.emoteImagesKey(sessionID),
		s.sentimentKey(sessionID),
		s.timelineKey(sessionID),
	}
}

func (s *RedisStore) infoKey(id string) string        { return "session:" + id + ":info" }
func (s *RedisStore) messagesKey(id string) string    { return "session:" + id + ":messages" }
func (s *RedisStore) chattersKey(id string) string    { return "session:" + id + ":chatters" }
func (s *RedisStore) emotesKey(id string) string      { return "session:" + id + ":emotes" }
func (s *RedisStore) emoteNamesKey(id string) string  { return "session:" + id + ":emote_names" }
func (s *RedisStore) emoteImagesKey(id string) string { return "session:" + id + ":emote_images" }
func (s *RedisStore) sentimentKey(id string) string   { return "session:" + id + ":sentiment" }
func (s *RedisStore) timelineKey(id string) string    { return "session:" + id + ":timeline" }
