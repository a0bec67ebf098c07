// Package stats assembles point-in-time statistics snapshots from the
// aggregation store read-back.
package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"twitchpulse/backend/internal/stats/domain"
	"twitchpulse/backend/internal/stats/repository"
)

const (
	// defaultTopN bounds both leaderboards in a snapshot.
	defaultTopN = 10
	// rateWindow is the trailing window for the messages-per-minute figure.
	// Independent of the store's timeline cap.
	rateWindow = 60 * time.Second
)

// twitchCDNURL is the fallback emote image location when no URL was cached.
func twitchCDNURL(emoteID string) string {
	return fmt.Sprintf("https://static-cdn.jtvnw.net/emoticons/v2/%s/default/dark/2.0", emoteID)
}

// Reader is the stateless read path: it gathers one coherent store read and
// shapes it into Statistics. Safe for concurrent use.
type Reader struct {
	repo   repository.Repository
	topN   int
	window time.Duration
	nowF   func() time.Time
}

// NewReader returns a Reader over the given store with default leaderboard
// size and rate window.
func NewReader(repo repository.Repository) *Reader {
	return &Reader{
		repo:   repo,
		topN:   defaultTopN,
		window: rateWindow,
		nowF:   time.Now,
	}
}

// Ping reports store reachability.
func (r *Reader) Ping(ctx context.Context) error {
	return r.repo.Ping(ctx)
}

// GetStats assembles the statistics snapshot for sessionID.
// Returns (nil, nil) when no session metadata exists (never started or fully
// expired); an active session with zero events yields zero-valued statistics.
func (r *Reader) GetStats(ctx context.Context, sessionID string) (*domain.Statistics, error) {
	raw, err := r.repo.Snapshot(ctx, sessionID, r.topN)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	stats := &domain.Statistics{
		SessionID:         sessionID,
		Session:           sessionInfo(raw.Info),
		MessageCount:      raw.Messages,
		ChatterCount:      raw.ChatterCount,
		MessagesPerMinute: r.countRecent(raw.Timeline),
		TopChatters:       make([]domain.ChatterCount, 0, len(raw.TopChatters)),
		TopEmotes:         topEmotes(raw, r.topN),
		Sentiment:         sentimentSummary(raw.Sentiment),
	}
	for _, m := range raw.TopChatters {
		stats.TopChatters = append(stats.TopChatters, domain.ChatterCount{Username: m.Member, Count: m.Score})
	}
	return stats, nil
}

func sessionInfo(info map[string]string) domain.SessionInfo {
	duration, _ := strconv.Atoi(info["duration"])
	return domain.SessionInfo{
		Channel:         info["channel"],
		DurationSeconds: duration,
		Status:          info["status"],
		StartedAt:       info["started_at"],
		EndedAt:         info["ended_at"],
	}
}

// topEmotes ranks emotes by count descending; ties order by ID for stable output.
func topEmotes(raw *repository.Raw, limit int) []domain.EmoteCount {
	scored := make([]domain.EmoteCount, 0, len(raw.EmoteCounts))
	for id, count := range raw.EmoteCounts {
		name := raw.EmoteNames[id]
		if name == "" {
			name = id
		}
		image := raw.EmoteImages[id]
		if image == "" {
			image = twitchCDNURL(id)
		}
		scored = append(scored, domain.EmoteCount{ID: id, Name: name, Count: count, ImageURL: image})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Count != scored[j].Count {
			return scored[i].Count > scored[j].Count
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// sentimentSummary converts the raw tally into counts plus two-decimal
// percentages. The denominator floors at 1 so an empty tally yields zeros,
// never NaN.
func sentimentSummary(sentiment map[string]string) domain.SentimentSummary {
	positive := parseCount(sentiment["positive"])
	negative := parseCount(sentiment["negative"])
	neutral := parseCount(sentiment["neutral"])

	total := positive + negative + neutral
	if total < 1 {
		total = 1
	}

	return domain.SentimentSummary{
		Positive:    positive,
		Negative:    negative,
		Neutral:     neutral,
		PositivePct: roundPct(positive, total),
		NegativePct: roundPct(negative, total),
		NeutralPct:  roundPct(neutral, total),
	}
}

func parseCount(raw string) int64 {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func roundPct(count, total int64) float64 {
	return math.Round(float64(count)/float64(total)*100*100) / 100
}

// countRecent counts timeline entries within the trailing rate window from now.
func (r *Reader) countRecent(timeline []int64) int {
	if len(timeline) == 0 {
		return 0
	}
	cutoff := r.nowF().Add(-r.window).Unix()
	recent := 0
	for _, ts := range timeline {
		if ts >= cutoff {
			recent++
		}
	}
	return recent
}
