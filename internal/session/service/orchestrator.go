package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"twitchpulse/backend/internal/analyzer"
	"twitchpulse/backend/internal/chat"
	"twitchpulse/backend/internal/emotes"
	"twitchpulse/backend/internal/session/domain"
	"twitchpulse/backend/internal/stats/repository"
	"twitchpulse/backend/internal/telemetry"
	otelx "twitchpulse/backend/internal/telemetry/otel"
)

// ErrSessionNotFound is returned by Stop for unknown or already-stopped sessions.
var ErrSessionNotFound = errors.New("session: not found")

const (
	// stopGrace bounds how long a stop waits for the worker to drain before
	// cancelling it outright.
	stopGrace = 5 * time.Second
	// emoteLoadTimeout bounds the background 7TV emote set fetch at start.
	emoteLoadTimeout = 10 * time.Second
)

// Deps carries everything the orchestrator wires into a session.
type Deps struct {
	Store        repository.Repository
	Analyzer     *analyzer.Analyzer
	TwitchEmotes *emotes.TwitchService
	SevenTV      *emotes.SevenTVService
	Producers    chat.Factory
	Emitter      telemetry.EventEmitter
	Metrics      *otelx.PipelineMetrics

	QueueCapacity int
}

// Service owns the registry of running sessions. Start spins up one queue,
// worker, producer, and auto-stop timer per session; Stop tears them down in
// a fixed order so no event is lost mid-aggregation.
type Service struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*running
}

// running holds the live machinery of one session.
type running struct {
	session      *domain.Session
	queue        *Queue
	cancelWorker context.CancelFunc
	workerDone   chan struct{}
	timer        *time.Timer
	producer     chat.Producer
	producerDone chan struct{}
}

// New returns an orchestrator over the given dependencies.
func New(deps Deps) *Service {
	return &Service{
		deps:     deps,
		sessions: make(map[string]*running),
	}
}

// Start creates a session capturing channel for duration, sampling every
// sampleRate-th message. The store record is written before any goroutine
// starts, so a failed init leaves nothing behind to clean up.
func (s *Service) Start(ctx context.Context, channel string, duration time.Duration, sampleRate int) (*domain.Session, error) {
	channel = strings.ToLower(channel)
	id := uuid.NewString()

	if err := s.deps.Store.Init(ctx, id, channel, duration); err != nil {
		return nil, fmt.Errorf("session: init store: %w", err)
	}

	sess := &domain.Session{
		ID:        id,
		Channel:   channel,
		Duration:  duration,
		StartedAt: time.Now().UTC(),
		Status:    domain.StatusActive,
	}

	queue := NewQueue(s.deps.QueueCapacity)
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	w := newWorker(id, queue, s.deps.Store, s.deps.Analyzer, s.deps.TwitchEmotes, s.deps.SevenTV, s.deps.Metrics)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.run(workerCtx)
	}()

	producer := s.deps.Producers(id, channel, sampleRate, queue)
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		if err := producer.Run(context.Background()); err != nil {
			log.Printf("session: producer exited session=%s channel=%s: %v", id, channel, err)
		}
	}()

	rec := &running{
		session:      sess,
		queue:        queue,
		cancelWorker: cancelWorker,
		workerDone:   workerDone,
		producer:     producer,
		producerDone: producerDone,
	}
	s.mu.Lock()
	s.sessions[id] = rec
	s.mu.Unlock()

	// The channel's 7TV emote set loads in the background; matching works
	// with whatever is cached once the fetch lands.
	go func() {
		loadCtx, cancel := context.WithTimeout(context.Background(), emoteLoadTimeout)
		defer cancel()
		if err := s.deps.SevenTV.LoadSession(loadCtx, id, channel); err != nil {
			log.Printf("session: load 7tv emotes session=%s: %v", id, err)
		}
		// A load that lands after the session stopped would strand its
		// lookup table past DropSession.
		if s.Get(id) == nil {
			s.deps.SevenTV.DropSession(id)
		}
	}()

	// Armed after registration so a firing timer always finds the session.
	timer := time.AfterFunc(duration, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*stopGrace)
		defer cancel()
		if err := s.stop(stopCtx, id, true); err != nil && !errors.Is(err, ErrSessionNotFound) {
			log.Printf("session: auto-stop session=%s: %v", id, err)
		}
	})
	s.mu.Lock()
	rec.timer = timer
	s.mu.Unlock()

	log.Printf("session: started session=%s channel=%s duration=%s", id, channel, duration)
	telemetry.EmitAsync(s.deps.Emitter, ctx, telemetry.NewEvent(id, channel, telemetry.EventSessionStarted))
	s.deps.Metrics.SessionStarted(ctx)
	return sess, nil
}

// Stop ends the session by explicit request. Returns ErrSessionNotFound when
// the session is unknown or already stopped.
func (s *Service) Stop(ctx context.Context, sessionID string) error {
	return s.stop(ctx, sessionID, false)
}

// Get returns the in-process session record, or nil when not running.
func (s *Service) Get(sessionID string) *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := *rec.session
	return &out
}

// Active reports the number of running sessions.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown stops every running session. Used on server exit.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.stop(ctx, id, false); err != nil && !errors.Is(err, ErrSessionNotFound) {
			log.Printf("session: shutdown stop session=%s: %v", id, err)
		}
	}
}

// stop runs the teardown sequence. Exactly one caller wins the registry pop;
// the explicit stop endpoint and the auto-stop timer can race safely.
func (s *Service) stop(ctx context.Context, sessionID string, fromTimer bool) error {
	s.mu.Lock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	rec.session.Status = domain.StatusStopping
	timer := rec.timer
	s.mu.Unlock()

	log.Printf("session: stopping session=%s from_timer=%t queued=%d", sessionID, fromTimer, rec.queue.Len())

	// Let the worker finish what is queued; cancel only when the marker
	// cannot be placed or the drain takes too long.
	if !rec.queue.TryDrain() {
		rec.cancelWorker()
	}
	select {
	case <-rec.workerDone:
	case <-time.After(stopGrace):
		rec.cancelWorker()
		<-rec.workerDone
	}
	rec.cancelWorker()

	// timer may still be unset when a stop wins the race against Start's
	// timer arming; the timer then fires against an empty registry, which
	// stop treats as not found.
	if !fromTimer && timer != nil {
		timer.Stop()
	}

	if err := rec.producer.Shutdown(ctx); err != nil {
		log.Printf("session: producer shutdown session=%s: %v", sessionID, err)
	}
	select {
	case <-rec.producerDone:
	case <-time.After(stopGrace):
		log.Printf("session: producer slow to exit session=%s", sessionID)
	}

	status := domain.StatusStopped
	eventType := telemetry.EventSessionStopped
	if fromTimer {
		status = domain.StatusComplete
		eventType = telemetry.EventSessionCompleted
	}
	if err := s.deps.Store.Close(ctx, sessionID, status); err != nil {
		log.Printf("session: close record session=%s: %v", sessionID, err)
	}
	if err := s.deps.Store.AppendTimeline(ctx, sessionID, time.Now().UTC().Unix()); err != nil {
		log.Printf("session: final timeline mark session=%s: %v", sessionID, err)
	}
	s.deps.SevenTV.DropSession(sessionID)
	rec.session.Status = status

	log.Printf("session: stopped session=%s status=%s", sessionID, status)
	telemetry.EmitAsync(s.deps.Emitter, ctx, telemetry.NewEvent(sessionID, rec.session.Channel, eventType))
	s.deps.Metrics.SessionStopped(ctx)
	return nil
}
