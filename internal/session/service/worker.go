package service

import (
	"context"
	"log"
	"strings"
	"time"

	"twitchpulse/backend/internal/analyzer"
	"twitchpulse/backend/internal/emotes"
	"twitchpulse/backend/internal/session/domain"
	"twitchpulse/backend/internal/stats/repository"
	otelx "twitchpulse/backend/internal/telemetry/otel"
)

// worker is the single consumer of one session's queue. It classifies each
// event and folds it into the store as one atomic mutation, so aggregates
// never reflect a half-applied message.
type worker struct {
	sessionID    string
	queue        *Queue
	store        repository.Repository
	analyzer     *analyzer.Analyzer
	twitchEmotes *emotes.TwitchService
	sevenTV      *emotes.SevenTVService
	metrics      *otelx.PipelineMetrics

	// imagesSet tracks emote IDs whose image URL was already cached, so the
	// store is not hit once per occurrence.
	imagesSet map[string]bool
}

func newWorker(sessionID string, queue *Queue, store repository.Repository, an *analyzer.Analyzer,
	tw *emotes.TwitchService, stv *emotes.SevenTVService, metrics *otelx.PipelineMetrics) *worker {
	return &worker{
		sessionID:    sessionID,
		queue:        queue,
		store:        store,
		analyzer:     an,
		twitchEmotes: tw,
		sevenTV:      stv,
		metrics:      metrics,
		imagesSet:    make(map[string]bool),
	}
}

// run consumes until the drain marker or ctx cancellation. Per-event errors
// are logged and skipped; one bad event never stalls the stream.
func (w *worker) run(ctx context.Context) {
	for {
		event, drain, err := w.queue.Dequeue(ctx)
		if err != nil {
			log.Printf("session: worker cancelled session=%s queued=%d", w.sessionID, w.queue.Len())
			return
		}
		if drain {
			return
		}
		if err := w.process(ctx, event); err != nil {
			log.Printf("session: process event session=%s: %v", w.sessionID, err)
			continue
		}
		w.metrics.MessageProcessed(ctx)
	}
}

func (w *worker) process(ctx context.Context, event *domain.RawEvent) error {
	result := w.analyzer.Classify(event.Content, event.Tags)
	matches := w.sevenTV.Match(w.sessionID, event.Content)

	deltas := make([]repository.EmoteDelta, 0, len(result.Emotes)+len(matches))
	seen := make(map[string]bool, len(result.Emotes)+len(matches))
	for _, e := range result.Emotes {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		deltas = append(deltas, repository.EmoteDelta{ID: e.ID, Name: e.Name})
	}
	for _, m := range matches {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		deltas = append(deltas, repository.EmoteDelta{ID: m.ID, Name: m.Name})
	}

	when := event.Timestamp
	if when.IsZero() {
		when = time.Now().UTC()
	}
	ts := when.Unix()
	mut := repository.Mutation{
		Messages:  1,
		Chatter:   strings.ToLower(event.Username),
		Emotes:    deltas,
		Sentiment: &repository.SentimentDelta{Label: result.Label, Score: result.Score},
		Timeline:  &ts,
	}
	if err := w.store.Apply(ctx, w.sessionID, mut); err != nil {
		return err
	}

	w.cacheImages(ctx, result.Emotes, matches)
	return nil
}

// cacheImages records image URLs for emotes seen for the first time this
// session. Failures are logged; the reader has a CDN fallback either way.
func (w *worker) cacheImages(ctx context.Context, tagEmotes []analyzer.Emote, matches []emotes.Meta) {
	for _, e := range tagEmotes {
		if w.imagesSet[e.ID] {
			continue
		}
		meta := w.twitchEmotes.Metadata(ctx, e.ID, e.Name)
		if err := w.store.SetEmoteImage(ctx, w.sessionID, e.ID, meta.ImageURL); err != nil {
			log.Printf("session: cache emote image session=%s emote=%s: %v", w.sessionID, e.ID, err)
			continue
		}
		w.imagesSet[e.ID] = true
	}
	for _, m := range matches {
		if w.imagesSet[m.ID] {
			continue
		}
		if err := w.store.SetEmoteImage(ctx, w.sessionID, m.ID, m.ImageURL); err != nil {
			log.Printf("session: cache emote image session=%s emote=%s: %v", w.sessionID, m.ID, err)
			continue
		}
		w.imagesSet[m.ID] = true
	}
}
