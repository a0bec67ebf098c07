// Package server exposes the HTTP and WebSocket surface: session start/stop,
// statistics snapshots, and the live stats stream.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"twitchpulse/backend/internal/config"
	"twitchpulse/backend/internal/emotes"
	"twitchpulse/backend/internal/session/service"
	"twitchpulse/backend/internal/stats"
)

// channelRegex matches valid Twitch channel logins.
var channelRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{2,25}$`)

// Deps carries the handler's collaborators.
type Deps struct {
	Sessions *service.Service
	Stats    *stats.Reader
	Emotes   *emotes.TwitchService
	Cfg      *config.Config
}

// startRequest mirrors the public start payload.
type startRequest struct {
	Channel         string `json:"channel"`
	DurationSeconds int    `json:"duration_seconds"`
	SampleRate      int    `json:"sample_rate"`
}

type startResponse struct {
	SessionID       string    `json:"session_id"`
	Status          string    `json:"status"`
	Channel         string    `json:"channel"`
	DurationSeconds int       `json:"duration_seconds"`
	StartedAt       time.Time `json:"started_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type stopRequest struct {
	SessionID string `json:"session_id"`
}

// NewHandler builds the route table.
func NewHandler(deps Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", deps.handleHealth)
	mux.HandleFunc("GET /api/config", deps.handleConfig)
	mux.HandleFunc("GET /api/emotes/global", deps.handleGlobalEmotes)
	mux.HandleFunc("POST /api/start", deps.handleStart)
	mux.HandleFunc("POST /api/stop", deps.handleStop)
	mux.HandleFunc("GET /api/stats/{id}", deps.handleStats)
	mux.Handle("GET /ws/{id}", websocket.Handler(deps.handleStatsSocket))

	return mux
}

func (d Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":         "ok",
		"activeSessions": d.Sessions.Active(),
	}
	status := http.StatusOK
	if err := d.Stats.Ping(r.Context()); err != nil {
		body["status"] = "degraded"
		body["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func (d Deps) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"defaultDuration":   int(d.Cfg.DefaultDurationValue() / time.Second),
		"maxDuration":       int(d.Cfg.MaxDurationValue() / time.Second),
		"updateIntervalMs":  d.Cfg.UpdateIntervalMS,
		"messageSampleRate": d.Cfg.MessageSampleRate,
	})
}

func (d Deps) handleGlobalEmotes(w http.ResponseWriter, r *http.Request) {
	items := d.Emotes.KnownEmotes()
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (d Deps) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	channel := strings.ToLower(strings.TrimSpace(req.Channel))
	if !channelRegex.MatchString(channel) {
		http.Error(w, "channel must be 2-25 characters of letters, digits, or underscore", http.StatusBadRequest)
		return
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	if req.DurationSeconds == 0 {
		duration = d.Cfg.DefaultDurationValue()
	}
	if duration < 10*time.Second || duration > d.Cfg.MaxDurationValue() {
		http.Error(w, fmt.Sprintf("duration_seconds must be between 10 and %d", int(d.Cfg.MaxDurationValue()/time.Second)), http.StatusBadRequest)
		return
	}

	sampleRate := req.SampleRate
	if sampleRate == 0 {
		sampleRate = d.Cfg.MessageSampleRate
	}
	if sampleRate < 1 || sampleRate > 20 {
		http.Error(w, "sample_rate must be between 1 and 20", http.StatusBadRequest)
		return
	}

	sess, err := d.Sessions.Start(r.Context(), channel, duration, sampleRate)
	if err != nil {
		log.Printf("server: start session channel=%s: %v", channel, err)
		http.Error(w, "session could not be started", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, startResponse{
		SessionID:       sess.ID,
		Status:          sess.Status,
		Channel:         sess.Channel,
		DurationSeconds: int(sess.Duration / time.Second),
		StartedAt:       sess.StartedAt,
		ExpiresAt:       sess.StartedAt.Add(sess.Duration),
	})
}

func (d Deps) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.SessionID) < 10 {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	if err := d.Sessions.Stop(r.Context(), req.SessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		log.Printf("server: stop session=%s: %v", req.SessionID, err)
		http.Error(w, "session could not be stopped", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "stopped",
		"sessionId": req.SessionID,
	})
}

func (d Deps) handleStats(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	snapshot, err := d.Stats.GetStats(r.Context(), sessionID)
	if err != nil {
		log.Printf("server: stats session=%s: %v", sessionID, err)
		http.Error(w, "statistics unavailable", http.StatusServiceUnavailable)
		return
	}
	if snapshot == nil {
		http.Error(w, "Session stats unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleStatsSocket streams statistics snapshots at the configured interval
// until the client disconnects or the session's data expires from the store.
func (d Deps) handleStatsSocket(conn *websocket.Conn) {
	defer conn.Close()

	sessionID := conn.Request().PathValue("id")
	ctx := conn.Request().Context()
	interval := d.Cfg.UpdateInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snapshot, err := d.Stats.GetStats(ctx, sessionID)
		if err != nil {
			log.Printf("server: ws stats session=%s: %v", sessionID, err)
			return
		}
		if snapshot == nil {
			return
		}
		if err := websocket.JSON.Send(conn, snapshot); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}
