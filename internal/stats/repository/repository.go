// Package repository defines persistence for per-session chat aggregates.
//
// Each session owns a namespace of aggregates (counter, ranked set, count-maps,
// capped timeline) sharing one TTL that every write refreshes. The Redis
// implementation is used for multi-instance deployments; the in-memory
// implementation serves single-instance mode and tests.
package repository

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps infrastructure failures on the store so the read path
// can treat them as transient and retry.
var ErrUnavailable = errors.New("stats: store unavailable")

// EmoteDelta is one emote occurrence to fold into the per-emote counts.
// Name is recorded only for the first writer of the ID.
type EmoteDelta struct {
	ID   string
	Name string
}

// SentimentDelta folds one classified message into the sentiment tally.
type SentimentDelta struct {
	Label string
	Score float64
}

// Mutation is the batched set of aggregate updates derived from one chat event.
// Implementations apply it atomically with respect to other batches on the
// same session so readers never observe a partially applied event.
type Mutation struct {
	// Messages is the delta for the total message counter.
	Messages int64
	// Chatter is the ranked-set member to bump by one; empty skips the leaderboard.
	// Callers lowercase the identity before writing.
	Chatter string
	// Emotes are the occurrences to count; may be empty.
	Emotes []EmoteDelta
	// Sentiment is the tally update; nil skips it.
	Sentiment *SentimentDelta
	// Timeline is the unix timestamp to append; nil skips the timeline.
	Timeline *int64
}

// MemberScore is one ranked-set member with its score.
type MemberScore struct {
	Member string
	Score  int64
}

// Raw is everything a snapshot needs, gathered in one round trip.
// Info is empty when the session namespace does not exist (never started or expired).
type Raw struct {
	Info         map[string]string
	Messages     int64
	ChatterCount int64
	TopChatters  []MemberScore
	EmoteCounts  map[string]int64
	EmoteNames   map[string]string
	EmoteImages  map[string]string
	Sentiment    map[string]string
	Timeline     []int64
}

// Repository is the aggregation store scoped by session namespace.
type Repository interface {
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	// Init purges any stale namespace for sessionID and writes a fresh active
	// session record with the namespace TTL started.
	Init(ctx context.Context, sessionID, channel string, duration time.Duration) error
	// Close marks the session record with the terminal status and an ended-at timestamp.
	Close(ctx context.Context, sessionID, status string) error
	// Purge deletes the whole namespace for sessionID.
	Purge(ctx context.Context, sessionID string) error
	// Apply folds one event's Mutation into the namespace as a single batch
	// and refreshes the TTL on every touched key.
	Apply(ctx context.Context, sessionID string, mut Mutation) error
	// SetEmoteImage records the image URL for an emote ID. Empty URLs are ignored.
	SetEmoteImage(ctx context.Context, sessionID, emoteID, imageURL string) error
	// AppendTimeline appends one timestamp to the capped activity timeline.
	AppendTimeline(ctx context.Context, sessionID string, unix int64) error
	// Snapshot reads back everything needed for a statistics snapshot.
	// Returns (nil, nil) when no session metadata exists; an error only on
	// infrastructure failure.
	Snapshot(ctx context.Context, sessionID string, topN int) (*Raw, error)
}
