package service

import (
	"context"
	"testing"
	"time"

	"twitchpulse/backend/internal/analyzer"
	"twitchpulse/backend/internal/emotes"
	"twitchpulse/backend/internal/session/domain"
	"twitchpulse/backend/internal/stats/repository"
)

func newTestWorker(t *testing.T, sessionID string) (*worker, *Queue, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore(time.Hour, 100)
	if err := store.Init(context.Background(), sessionID, "testchannel", time.Minute); err != nil {
		t.Fatalf("Init: %v", err)
	}
	queue := NewQueue(100)
	w := newWorker(sessionID, queue, store, analyzer.New(),
		emotes.NewTwitchService("", ""), emotes.NewSevenTVService(), nil)
	return w, queue, store
}

func TestWorker_ProcessesUntilDrain(t *testing.T) {
	w, queue, store := newTestWorker(t, "s1")
	ctx := context.Background()

	now := time.Now()
	msgs := []*domain.RawEvent{
		{Username: "Alice", Content: "gg wp PogChamp", Tags: map[string]string{"emotes": "305954156:6-13"}, Timestamp: now},
		{Username: "bob", Content: "this is trash", Tags: map[string]string{}, Timestamp: now},
		{Username: "alice", Content: "nice clutch!", Tags: map[string]string{}, Timestamp: now},
	}
	for _, m := range msgs {
		if !queue.TryEnqueue(m) {
			t.Fatal("TryEnqueue = false")
		}
	}
	if !queue.TryDrain() {
		t.Fatal("TryDrain = false")
	}

	w.run(ctx) // returns at the drain marker

	raw, err := store.Snapshot(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if raw.Messages != 3 {
		t.Errorf("Messages = %d, want 3", raw.Messages)
	}
	if raw.ChatterCount != 2 {
		t.Errorf("ChatterCount = %d, want 2 (usernames fold to lowercase)", raw.ChatterCount)
	}
	if raw.TopChatters[0].Member != "alice" || raw.TopChatters[0].Score != 2 {
		t.Errorf("top chatter = %+v, want alice with 2", raw.TopChatters[0])
	}
	if raw.EmoteCounts["305954156"] != 1 {
		t.Errorf("EmoteCounts = %v, want PogChamp counted once", raw.EmoteCounts)
	}
	if raw.EmoteNames["305954156"] != "PogChamp" {
		t.Errorf("EmoteNames = %v, want PogChamp recorded", raw.EmoteNames)
	}
	if raw.Sentiment["positive"] != "2" || raw.Sentiment["negative"] != "1" {
		t.Errorf("Sentiment = %v, want 2 positive 1 negative", raw.Sentiment)
	}
	if len(raw.Timeline) != 3 {
		t.Errorf("len(Timeline) = %d, want 3", len(raw.Timeline))
	}
}

func TestWorker_CachesEmoteImagesOnce(t *testing.T) {
	w, queue, store := newTestWorker(t, "s1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		queue.TryEnqueue(&domain.RawEvent{
			Username:  "alice",
			Content:   "Kappa",
			Tags:      map[string]string{"emotes": "25:0-4"},
			Timestamp: time.Now(),
		})
	}
	queue.TryDrain()
	w.run(ctx)

	raw, err := store.Snapshot(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if raw.EmoteCounts["25"] != 3 {
		t.Errorf("EmoteCounts[25] = %d, want 3", raw.EmoteCounts["25"])
	}
	if raw.EmoteImages["25"] == "" {
		t.Error("EmoteImages[25] empty, want CDN fallback cached")
	}
	if !w.imagesSet["25"] {
		t.Error("imagesSet should remember the cached emote")
	}
}

func TestWorker_FillsMissingTimestamp(t *testing.T) {
	w, queue, store := newTestWorker(t, "s1")
	ctx := context.Background()

	queue.TryEnqueue(&domain.RawEvent{Username: "alice", Content: "hello"})
	queue.TryDrain()
	before := time.Now().Unix()
	w.run(ctx)

	raw, err := store.Snapshot(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(raw.Timeline) != 1 {
		t.Fatalf("len(Timeline) = %d, want 1", len(raw.Timeline))
	}
	if raw.Timeline[0] < before {
		t.Errorf("Timeline[0] = %d, want wall clock for a zero timestamp (>= %d)", raw.Timeline[0], before)
	}
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	w, _, _ := newTestWorker(t, "s1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.run(ctx)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit on cancelled context")
	}
}
