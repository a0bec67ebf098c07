// Package chat ingests live chat messages and hands them to a session's
// event queue. The IRC connection is the only component that talks to the
// chat network; everything downstream consumes domain.RawEvent values.
package chat

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"twitchpulse/backend/internal/session/domain"
)

// Sink receives raw events from a producer. TryEnqueue must not block: a
// full sink returns false and the event is dropped at the edge.
type Sink interface {
	TryEnqueue(event *domain.RawEvent) bool
}

// Producer is one session's chat source. Run blocks until the connection
// closes or ctx is cancelled; Shutdown disconnects and releases resources.
type Producer interface {
	Run(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Factory builds a producer for one session. The orchestrator swaps this for
// a synthetic source in tests.
type Factory func(sessionID, channel string, sampleRate int, sink Sink) Producer

// TwitchProducer reads a channel's chat anonymously over IRC. Messages are
// sampled at the configured rate and enqueued without blocking the reader.
type TwitchProducer struct {
	sessionID  string
	channel    string
	sink       Sink
	sampleRate int

	// OnDrop, when set, is called once per event lost to a full sink.
	OnDrop func()

	mu   sync.Mutex
	seen int64

	client *twitch.Client
}

// NewTwitchProducer returns a producer joined to channel. sampleRate keeps
// every Nth message; values below 1 keep everything.
func NewTwitchProducer(sessionID, channel string, sink Sink, sampleRate int) *TwitchProducer {
	if sampleRate < 1 {
		sampleRate = 1
	}
	p := &TwitchProducer{
		sessionID:  sessionID,
		channel:    strings.ToLower(channel),
		sink:       sink,
		sampleRate: sampleRate,
	}

	client := twitch.NewAnonymousClient()
	client.OnPrivateMessage(p.handleMessage)
	client.Join(p.channel)
	p.client = client
	return p
}

// NewFactory returns a Factory producing anonymous IRC producers.
func NewFactory(onDrop func()) Factory {
	return func(sessionID, channel string, sampleRate int, sink Sink) Producer {
		p := NewTwitchProducer(sessionID, channel, sink, sampleRate)
		p.OnDrop = onDrop
		return p
	}
}

// Run connects to chat and blocks until disconnect or ctx cancellation.
func (p *TwitchProducer) Run(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.client.Connect() }()

	select {
	case err := <-done:
		if err == twitch.ErrClientDisconnected {
			return nil
		}
		return err
	case <-ctx.Done():
		p.client.Disconnect()
		<-done
		return ctx.Err()
	}
}

// Shutdown disconnects from chat. Safe to call regardless of Run's state.
func (p *TwitchProducer) Shutdown(ctx context.Context) error {
	return p.client.Disconnect()
}

func (p *TwitchProducer) handleMessage(msg twitch.PrivateMessage) {
	if !p.keep() {
		return
	}

	event := &domain.RawEvent{
		Username:    msg.User.Name,
		DisplayName: msg.User.DisplayName,
		Content:     msg.Message,
		Channel:     p.channel,
		Tags:        msg.Tags,
		Timestamp:   msg.Time,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if !p.sink.TryEnqueue(event) {
		log.Printf("chat: queue full, dropping message session=%s channel=%s", p.sessionID, p.channel)
		if p.OnDrop != nil {
			p.OnDrop()
		}
	}
}

// keep implements every-Nth sampling over the message stream.
func (p *TwitchProducer) keep() bool {
	if p.sampleRate <= 1 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen++
	return p.seen%int64(p.sampleRate) == 0
}
