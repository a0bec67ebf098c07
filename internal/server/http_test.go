package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"twitchpulse/backend/internal/analyzer"
	"twitchpulse/backend/internal/chat"
	"twitchpulse/backend/internal/config"
	"twitchpulse/backend/internal/emotes"
	"twitchpulse/backend/internal/session/domain"
	"twitchpulse/backend/internal/session/service"
	"twitchpulse/backend/internal/stats"
	"twitchpulse/backend/internal/stats/repository"
)

// idleProducer never produces; tests drive the store directly.
type idleProducer struct {
	stopc chan struct{}
}

func (p *idleProducer) Run(ctx context.Context) error {
	select {
	case <-p.stopc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *idleProducer) Shutdown(ctx context.Context) error {
	select {
	case <-p.stopc:
	default:
		close(p.stopc)
	}
	return nil
}

func newTestHandler(t *testing.T) (http.Handler, *service.Service, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore(time.Hour, 100)
	sessions := service.New(service.Deps{
		Store:        store,
		Analyzer:     analyzer.New(),
		TwitchEmotes: emotes.NewTwitchService("", ""),
		SevenTV:      emotes.NewSevenTVService(),
		Producers: func(sessionID, channel string, sampleRate int, sink chat.Sink) chat.Producer {
			return &idleProducer{stopc: make(chan struct{})}
		},
		QueueCapacity: 100,
	})
	t.Cleanup(func() { sessions.Shutdown(context.Background()) })

	cfg := &config.Config{
		UpdateIntervalMS:  500,
		MessageSampleRate: 1,
	}
	handler := NewHandler(Deps{
		Sessions: sessions,
		Stats:    stats.NewReader(store),
		Emotes:   emotes.NewTwitchService("", ""),
		Cfg:      cfg,
	})
	return handler, sessions, store
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleStart_Success(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	rec := postJSON(t, handler, "/api/start", map[string]interface{}{
		"channel":          "TestChannel",
		"duration_seconds": 30,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}

	var resp startResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.SessionID == "" {
		t.Error("session_id should be set")
	}
	if resp.Status != domain.StatusActive {
		t.Errorf("status = %q, want active", resp.Status)
	}
	if resp.Channel != "testchannel" {
		t.Errorf("channel = %q, want lowercased", resp.Channel)
	}
	if resp.DurationSeconds != 30 {
		t.Errorf("duration_seconds = %d, want 30", resp.DurationSeconds)
	}
	if !resp.ExpiresAt.Equal(resp.StartedAt.Add(30 * time.Second)) {
		t.Errorf("expires_at = %v, want started_at + 30s", resp.ExpiresAt)
	}
}

func TestHandleStart_DefaultDuration(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	rec := postJSON(t, handler, "/api/start", map[string]interface{}{"channel": "testchannel"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	var resp startResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.DurationSeconds != 60 {
		t.Errorf("duration_seconds = %d, want default 60", resp.DurationSeconds)
	}
}

func TestHandleStart_Validation(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"channel too short", map[string]interface{}{"channel": "a"}},
		{"channel bad characters", map[string]interface{}{"channel": "bad channel!"}},
		{"duration too short", map[string]interface{}{"channel": "testchannel", "duration_seconds": 5}},
		{"duration too long", map[string]interface{}{"channel": "testchannel", "duration_seconds": 3600}},
		{"sample rate out of range", map[string]interface{}{"channel": "testchannel", "sample_rate": 50}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, handler, "/api/start", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleStop(t *testing.T) {
	handler, _, store := newTestHandler(t)

	rec := postJSON(t, handler, "/api/start", map[string]interface{}{"channel": "testchannel"})
	var started startResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	rec = postJSON(t, handler, "/api/stop", map[string]string{"session_id": started.SessionID})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp["status"] != "stopped" || resp["sessionId"] != started.SessionID {
		t.Errorf("resp = %v, want stopped echo", resp)
	}

	raw, err := store.Snapshot(context.Background(), started.SessionID, 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if raw.Info["status"] != domain.StatusStopped {
		t.Errorf("store status = %q, want stopped", raw.Info["status"])
	}
}

func TestHandleStop_UnknownSession(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	rec := postJSON(t, handler, "/api/stop", map[string]string{"session_id": "0123456789abcdef"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleStats(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	rec := postJSON(t, handler, "/api/start", map[string]interface{}{"channel": "testchannel"})
	var started startResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats/"+started.SessionID, nil)
	got := httptest.NewRecorder()
	handler.ServeHTTP(got, req)
	if got.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", got.Code, got.Body.String())
	}

	var body map[string]interface{}
	if err := json.Unmarshal(got.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if body["sessionId"] != started.SessionID {
		t.Errorf("sessionId = %v, want %q", body["sessionId"], started.SessionID)
	}
	if body["messageCount"] != float64(0) {
		t.Errorf("messageCount = %v, want 0", body["messageCount"])
	}
	session, _ := body["session"].(map[string]interface{})
	if session["status"] != domain.StatusActive {
		t.Errorf("session.status = %v, want active", session["status"])
	}
}

func TestHandleStats_UnknownSession(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/stats/nope", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestHandleConfig(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if body["defaultDuration"] != 60 {
		t.Errorf("defaultDuration = %d, want 60", body["defaultDuration"])
	}
	if body["maxDuration"] != 300 {
		t.Errorf("maxDuration = %d, want 300", body["maxDuration"])
	}
	if body["updateIntervalMs"] != 500 {
		t.Errorf("updateIntervalMs = %d, want 500", body["updateIntervalMs"])
	}
	if body["messageSampleRate"] != 1 {
		t.Errorf("messageSampleRate = %d, want 1", body["messageSampleRate"])
	}
}

func TestHandleGlobalEmotes(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/emotes/global", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string][]emotes.Meta
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := body["items"]; !ok {
		t.Error("response missing items key")
	}
}
