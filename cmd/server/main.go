package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"twitchpulse/backend/internal/analyzer"
	"twitchpulse/backend/internal/chat"
	"twitchpulse/backend/internal/config"
	"twitchpulse/backend/internal/emotes"
	"twitchpulse/backend/internal/server"
	"twitchpulse/backend/internal/session/service"
	"twitchpulse/backend/internal/stats"
	"twitchpulse/backend/internal/stats/repository"
	"twitchpulse/backend/internal/telemetry"
	otelx "twitchpulse/backend/internal/telemetry/otel"
	"twitchpulse/backend/internal/telemetry/producer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("shutting down...")
		cancel()
	}()

	var store repository.Repository
	if cfg.RedisURL == "" || cfg.RedisURL == "memory" {
		log.Println("store: using in-memory aggregation store")
		store = repository.NewMemoryStore(cfg.SessionTTLValue(), cfg.TimelineCap)
	} else {
		redisStore, err := repository.NewRedisStore(cfg.RedisURL, cfg.SessionTTLValue(), cfg.TimelineCap)
		if err != nil {
			log.Fatalf("store: %v", err)
		}
		defer redisStore.Shutdown()
		if err := redisStore.Ping(ctx); err != nil {
			log.Printf("store: redis not reachable yet: %v", err)
		}
		store = redisStore
	}

	providers, err := otelx.NewProviders(ctx, cfg.OTLPEndpoint, "pulse-server", false)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("otel: shutdown: %v", err)
		}
	}()

	metrics, err := otelx.NewPipelineMetrics(providers.MeterProvider)
	if err != nil {
		log.Fatalf("otel: metrics: %v", err)
	}

	kafkaProducer, err := producer.NewKafkaProducer(cfg.LifecycleKafkaBrokersList(), cfg.LifecycleKafkaTopic)
	if err != nil {
		log.Fatalf("telemetry: kafka: %v", err)
	}
	if kafkaProducer != nil {
		defer kafkaProducer.Close()
		log.Printf("telemetry: lifecycle events to kafka topic %s", cfg.LifecycleKafkaTopic)
	}

	twitchEmotes := emotes.NewTwitchService(cfg.TwitchClientID, cfg.TwitchClientSecret)
	sevenTV := emotes.NewSevenTVService()
	go func() {
		warmCtx, c := context.WithTimeout(ctx, 30*time.Second)
		defer c()
		if err := twitchEmotes.WarmCache(warmCtx); err != nil {
			log.Printf("emotes: %v", err)
		}
		if err := sevenTV.WarmGlobals(warmCtx); err != nil {
			log.Printf("emotes: %v", err)
		}
	}()

	var emitter telemetry.EventEmitter
	if kafkaProducer != nil {
		emitter = kafkaProducer
	}

	sessions := service.New(service.Deps{
		Store:        store,
		Analyzer:     analyzer.New(),
		TwitchEmotes: twitchEmotes,
		SevenTV:      sevenTV,
		Producers: chat.NewFactory(func() {
			metrics.MessageDropped(context.Background())
		}),
		Emitter:       emitter,
		Metrics:       metrics,
		QueueCapacity: cfg.QueueCapacity,
	})

	handler := server.NewHandler(server.Deps{
		Sessions: sessions,
		Stats:    stats.NewReader(store),
		Emotes:   twitchEmotes,
		Cfg:      cfg,
	})

	srv := server.New(cfg.HTTPAddr, handler)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("serve: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	sessions.Shutdown(stopCtx)
	stopCancel()
	time.Sleep(telemetry.ShutdownDrainDuration)
	log.Println("server stopped")
}
