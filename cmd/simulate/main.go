// Simulate inserts synthetic chat load into the aggregation store for
// validating store and analyzer throughput without a live channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"twitchpulse/backend/internal/analyzer"
	"twitchpulse/backend/internal/config"
	"twitchpulse/backend/internal/stats/repository"
)

var emoteNames = []string{"Kappa", "PogChamp", "KEKW", "LUL", "BibleThump", "FeelsGoodMan"}

var messages = []string{
	"That play was insane PogChamp",
	"KEKW what was that",
	"gg wp team, lets gooo",
	"this strat is so cringe",
	"I love this community BibleThump",
	"POGGERS massive W",
	"why did he do that LUL",
}

func main() {
	count := flag.Int("count", 5000, "total fake messages to insert")
	channel := flag.String("channel", "testchannel", "channel label")
	duration := flag.Int("duration", 120, "virtual duration for the session in seconds")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := repository.NewRedisStore(cfg.RedisURL, cfg.SessionTTLValue(), cfg.TimelineCap)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Shutdown()

	ctx := context.Background()
	sessionID := uuid.NewString()
	an := analyzer.New()

	if err := store.Init(ctx, sessionID, *channel, time.Duration(*duration)*time.Second); err != nil {
		log.Fatalf("init session: %v", err)
	}

	start := time.Now()
	for i := 0; i < *count; i++ {
		username := fmt.Sprintf("user_%d", i%150)
		message := messages[rand.Intn(len(messages))]
		if rand.Float64() > 0.6 {
			message += " " + emoteNames[rand.Intn(len(emoteNames))]
		}

		result := an.Classify(message, nil)
		deltas := make([]repository.EmoteDelta, 0, len(result.Emotes))
		for _, e := range result.Emotes {
			deltas = append(deltas, repository.EmoteDelta{ID: e.ID, Name: e.Name})
		}

		ts := time.Now().Unix()
		mut := repository.Mutation{
			Messages:  1,
			Chatter:   username,
			Emotes:    deltas,
			Sentiment: &repository.SentimentDelta{Label: result.Label, Score: result.Score},
			Timeline:  &ts,
		}
		if err := store.Apply(ctx, sessionID, mut); err != nil {
			log.Fatalf("apply message %d: %v", i, err)
		}
	}

	elapsed := time.Since(start)
	fmt.Printf("Inserted %d synthetic messages in %.2fs (session %s).\n", *count, elapsed.Seconds(), sessionID)
	fmt.Printf("Session ready. Connect UI with session ID: %s\n", sessionID)
}
