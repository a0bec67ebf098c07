package repository

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_InitWritesActiveRecord(t *testing.T) {
	store := NewMemoryStore(time.Hour, 100)
	ctx := context.Background()

	if err := store.Init(ctx, "s1", "testchannel", 60*time.Second); err != nil {
		t.Fatalf("Init: %v", err)
	}

	raw, err := store.Snapshot(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if raw == nil {
		t.Fatal("Snapshot returned nil for initialized session")
	}
	if raw.Info["channel"] != "testchannel" {
		t.Errorf("channel = %q, want %q", raw.Info["channel"], "testchannel")
	}
	if raw.Info["status"] != "active" {
		t.Errorf("status = %q, want %q", raw.Info["status"], "active")
	}
	if raw.Info["duration"] != "60" {
		t.Errorf("duration = %q, want %q", raw.Info["duration"], "60")
	}
	if raw.Messages != 0 {
		t.Errorf("Messages = %d, want 0", raw.Messages)
	}
}

func TestMemoryStore_InitPurgesStaleNamespace(t *testing.T) {
	store := NewMemoryStore(time.Hour, 100)
	ctx := context.Background()

	if err := store.Init(ctx, "s1", "old", time.Minute); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.Apply(ctx, "s1", Mutation{Messages: 5}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := store.Init(ctx, "s1", "fresh", time.Minute); err != nil {
		t.Fatalf("Init: %v", err)
	}

	raw, err := store.Snapshot(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if raw.Messages != 0 {
		t.Errorf("Messages = %d, want 0 after re-init", raw.Messages)
	}
	if raw.Info["channel"] != "fresh" {
		t.Errorf("channel = %q, want %q", raw.Info["channel"], "fresh")
	}
}

func TestMemoryStore_ApplyAccumulates(t *testing.T) {
	store := NewMemoryStore(time.Hour, 100)
	ctx := context.Background()
	if err := store.Init(ctx, "s1", "c", time.Minute); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ts := int64(1000)
	for i := 0; i < 3; i++ {
		mut := Mutation{
			Messages:  1,
			Chatter:   "alice",
			Emotes:    []EmoteDelta{{ID: "25", Name: "Kappa"}},
			Sentiment: &SentimentDelta{Label: "positive", Score: 0.5},
			Timeline:  &ts,
		}
		if err := store.Apply(ctx, "s1", mut); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	raw, err := store.Snapshot(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if raw.Messages != 3 {
		t.Errorf("Messages = %d, want 3", raw.Messages)
	}
	if raw.ChatterCount != 1 {
		t.Errorf("ChatterCount = %d, want 1", raw.ChatterCount)
	}
	if len(raw.TopChatters) != 1 || raw.TopChatters[0].Member != "alice" || raw.TopChatters[0].Score != 3 {
		t.Errorf("TopChatters = %+v, want alice with score 3", raw.TopChatters)
	}
	if raw.EmoteCounts["25"] != 3 {
		t.Errorf("EmoteCounts[25] = %d, want 3", raw.EmoteCounts["25"])
	}
	if raw.Sentiment["positive"] != "3" {
		t.Errorf("Sentiment[positive] = %q, want %q", raw.Sentiment["positive"], "3")
	}
	if raw.Sentiment["positive_sum"] != "1.5" {
		t.Errorf("Sentiment[positive_sum] = %q, want %q", raw.Sentiment["positive_sum"], "1.5")
	}
	if len(raw.Timeline) != 3 {
		t.Errorf("len(Timeline) = %d, want 3", len(raw.Timeline))
	}
}

func TestMemoryStore_EmoteNameFirstWriterWins(t *testing.T) {
	store := NewMemoryStore(time.Hour, 100)
	ctx := context.Background()
	if err := store.Init(ctx, "s1", "c", time.Minute); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := store.Apply(ctx, "s1", Mutation{Emotes: []EmoteDelta{{ID: "25", Name: "Kappa"}}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := store.Apply(ctx, "s1", Mutation{Emotes: []EmoteDelta{{ID: "25", Name: "kappa-renamed"}}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	raw, err := store.Snapshot(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if raw.EmoteNames["25"] != "Kappa" {
		t.Errorf("EmoteNames[25] = %q, want first-writer %q", raw.EmoteNames["25"], "Kappa")
	}
	if raw.EmoteCounts["25"] != 2 {
		t.Errorf("EmoteCounts[25] = %d, want 2", raw.EmoteCounts["25"])
	}
}

func TestMemoryStore_TimelineNeverExceedsCap(t *testing.T) {
	store := NewMemoryStore(time.Hour, 5)
	ctx := context.Background()
	if err := store.Init(ctx, "s1", "c", time.Minute); err != nil {
		t.Fatalf("Init: %v", err)
	}

	for i := int64(0); i < 50; i++ {
		if err := store.AppendTimeline(ctx, "s1", i); err != nil {
			t.Fatalf("AppendTimeline: %v", err)
		}
	}

	raw, err := store.Snapshot(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(raw.Timeline) != 5 {
		t.Fatalf("len(Timeline) = %d, want cap 5", len(raw.Timeline))
	}
	// The most recent entries survive the trim.
	if raw.Timeline[0] != 45 || raw.Timeline[4] != 49 {
		t.Errorf("Timeline = %v, want [45..49]", raw.Timeline)
	}
}

func TestMemoryStore_SetEmoteImageIgnoresEmpty(t *testing.T) {
	store := NewMemoryStore(time.Hour, 100)
	ctx := context.Background()
	if err := store.Init(ctx, "s1", "c", time.Minute); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := store.SetEmoteImage(ctx, "s1", "25", ""); err != nil {
		t.Fatalf("SetEmoteImage: %v", err)
	}
	if err := store.SetEmoteImage(ctx, "s1", "25", "https://example.com/kappa.png"); err != nil {
		t.Fatalf("SetEmoteImage: %v", err)
	}

	raw, err := store.Snapshot(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if raw.EmoteImages["25"] != "https://example.com/kappa.png" {
		t.Errorf("EmoteImages[25] = %q, want stored URL", raw.EmoteImages["25"])
	}
}

func TestMemoryStore_TopChattersRankedAndLimited(t *testing.T) {
	store := NewMemoryStore(time.Hour, 100)
	ctx := context.Background()
	if err := store.Init(ctx, "s1", "c", time.Minute); err != nil {
		t.Fatalf("Init: %v", err)
	}

	bumps := map[string]int{"alice": 3, "bob": 1, "carol": 2}
	for member, n := range bumps {
		for i := 0; i < n; i++ {
			if err := store.Apply(ctx, "s1", Mutation{Chatter: member}); err != nil {
				t.Fatalf("Apply: %v", err)
			}
		}
	}

	raw, err := store.Snapshot(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if raw.ChatterCount != 3 {
		t.Errorf("ChatterCount = %d, want 3", raw.ChatterCount)
	}
	if len(raw.TopChatters) != 2 {
		t.Fatalf("len(TopChatters) = %d, want 2", len(raw.TopChatters))
	}
	if raw.TopChatters[0].Member != "alice" || raw.TopChatters[1].Member != "carol" {
		t.Errorf("TopChatters = %+v, want alice then carol", raw.TopChatters)
	}
}

func TestMemoryStore_SnapshotNilWhenExpired(t *testing.T) {
	store := NewMemoryStore(time.Minute, 100)
	now := time.Now()
	store.nowF = func() time.Time { return now }
	ctx := context.Background()

	if err := store.Init(ctx, "s1", "c", time.Minute); err != nil {
		t.Fatalf("Init: %v", err)
	}

	now = now.Add(2 * time.Minute)
	raw, err := store.Snapshot(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if raw != nil {
		t.Error("Snapshot should return nil after TTL expiry")
	}
}

func TestMemoryStore_WritesRefreshTTL(t *testing.T) {
	store := NewMemoryStore(time.Minute, 100)
	now := time.Now()
	store.nowF = func() time.Time { return now }
	ctx := context.Background()

	if err := store.Init(ctx, "s1", "c", time.Minute); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Keep writing just before expiry; the namespace must stay alive.
	for i := 0; i < 5; i++ {
		now = now.Add(50 * time.Second)
		if err := store.Apply(ctx, "s1", Mutation{Messages: 1}); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	raw, err := store.Snapshot(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if raw == nil {
		t.Fatal("Snapshot returned nil; writes should refresh the TTL")
	}
	if raw.Messages != 5 {
		t.Errorf("Messages = %d, want 5", raw.Messages)
	}
}

func TestMemoryStore_SnapshotNilForUnknownSession(t *testing.T) {
	store := NewMemoryStore(time.Hour, 100)

	raw, err := store.Snapshot(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if raw != nil {
		t.Error("Snapshot should return nil for unknown session")
	}
}
