package emotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
)

const defaultSevenTVURL = "https://7tv.io/v3"

// sevenTVKey prefixes 7TV emote IDs so they never collide with Twitch-native
// emote IDs in the same counter space.
func sevenTVKey(emoteID string) string { return "7tv:" + emoteID }

var tokenRegex = regexp.MustCompile(`[A-Za-z0-9_]+`)

// SevenTVService caches 7TV emote sets per capture session. Twitch-native
// emotes arrive as message tags, but 7TV emotes are plain text, so matching
// needs the channel's emote set resident in memory.
type SevenTVService struct {
	BaseURL    string
	HTTPClient *http.Client

	mu       sync.Mutex
	globals  map[string]Meta            // lowercase name -> metadata
	sessions map[string]map[string]Meta // session ID -> lowercase name -> metadata
}

// NewSevenTVService returns an empty 7TV cache.
func NewSevenTVService() *SevenTVService {
	return &SevenTVService{
		BaseURL:    defaultSevenTVURL,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		globals:    make(map[string]Meta),
		sessions:   make(map[string]map[string]Meta),
	}
}

// WarmGlobals loads the global 7TV emote set once. Subsequent calls are
// no-ops while the cache is populated.
func (s *SevenTVService) WarmGlobals(ctx context.Context) error {
	s.mu.Lock()
	warmed := len(s.globals) > 0
	s.mu.Unlock()
	if warmed {
		return nil
	}

	var payload struct {
		Emotes []sevenTVEntry `json:"emotes"`
	}
	if err := s.get(ctx, "/emote-sets/global", &payload); err != nil {
		return fmt.Errorf("emotes: warm 7tv globals: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, meta := range extractSevenTV(payload.Emotes) {
		s.globals[strings.ToLower(meta.Name)] = meta
	}
	return nil
}

// LoadSession populates the session's lookup table with the global set plus
// the channel's own 7TV emotes. A channel without a 7TV profile still gets
// the globals.
func (s *SevenTVService) LoadSession(ctx context.Context, sessionID, channel string) error {
	if err := s.WarmGlobals(ctx); err != nil {
		return err
	}

	lookup := make(map[string]Meta)
	s.mu.Lock()
	for name, meta := range s.globals {
		lookup[name] = meta
	}
	s.mu.Unlock()

	channelEmotes, err := s.fetchChannel(ctx, channel)
	if err != nil {
		// Keep the globals usable either way.
		s.mu.Lock()
		s.sessions[sessionID] = lookup
		s.mu.Unlock()
		return err
	}
	for _, meta := range channelEmotes {
		lookup[strings.ToLower(meta.Name)] = meta
	}

	s.mu.Lock()
	s.sessions[sessionID] = lookup
	s.mu.Unlock()
	return nil
}

// DropSession discards the session's emote lookup table.
func (s *SevenTVService) DropSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Match scans message content for 7TV emotes known to the session. Each emote
// appears at most once in the result regardless of repetition.
func (s *SevenTVService) Match(sessionID, content string) []Meta {
	if content == "" {
		return nil
	}
	s.mu.Lock()
	lookup := s.sessions[sessionID]
	s.mu.Unlock()
	if len(lookup) == 0 {
		return nil
	}

	var matches []Meta
	seen := make(map[string]bool)
	for _, token := range tokenRegex.FindAllString(content, -1) {
		meta, ok := lookup[strings.ToLower(token)]
		if ok && !seen[meta.ID] {
			matches = append(matches, meta)
			seen[meta.ID] = true
		}
	}
	return matches
}

func (s *SevenTVService) fetchChannel(ctx context.Context, channel string) ([]Meta, error) {
	var payload struct {
		EmoteSet struct {
			Emotes []sevenTVEntry `json:"emotes"`
		} `json:"emote_set"`
	}
	path := "/users/twitch/" + strings.ToLower(channel)
	if err := s.get(ctx, path, &payload); err != nil {
		return nil, fmt.Errorf("emotes: fetch 7tv channel %q: %w", channel, err)
	}
	return extractSevenTV(payload.EmoteSet.Emotes), nil
}

func (s *SevenTVService) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("7tv request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type sevenTVFile struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Scale  int    `json:"scale"`
}

type sevenTVEntry struct {
	Data struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Host struct {
			URL   string        `json:"url"`
			Files []sevenTVFile `json:"files"`
		} `json:"host"`
	} `json:"data"`
}

// extractSevenTV flattens API entries into Meta values, skipping entries with
// missing IDs, names, or image files.
func extractSevenTV(entries []sevenTVEntry) []Meta {
	var out []Meta
	for _, entry := range entries {
		d := entry.Data
		if d.ID == "" || d.Name == "" || d.Host.URL == "" || len(d.Host.Files) == 0 {
			continue
		}
		base := d.Host.URL
		if strings.HasPrefix(base, "//") {
			base = "https:" + base
		}

		// Smallest scale first, preferring widely supported formats over AVIF.
		files := append([]sevenTVFile(nil), d.Host.Files...)
		sort.Slice(files, func(i, j int) bool { return files[i].Scale < files[j].Scale })

		image := base + "/" + files[0].Name
		for _, f := range files {
			if f.Format != "AVIF" {
				image = base + "/" + f.Name
				break
			}
		}

		out = append(out, Meta{ID: sevenTVKey(d.ID), Name: d.Name, ImageURL: image})
	}
	return out
}
