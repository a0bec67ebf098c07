// Package emotes resolves emote metadata from the Twitch Helix API and the
// 7TV API. Both services degrade gracefully: without credentials or with the
// upstream down, callers still get usable fallback metadata.
package emotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultTimeout = 15 * time.Second

	defaultAuthURL  = "https://id.twitch.tv/oauth2/token"
	defaultHelixURL = "https://api.twitch.tv/helix"

	// cdnTemplate builds an image URL straight from the emote ID when the
	// Helix catalog has no entry for it.
	cdnTemplate = "https://static-cdn.jtvnw.net/emoticons/v2/%s/default/dark/2.0"
)

// tokenSlack is subtracted from the advertised token lifetime so we refresh
// before Helix starts rejecting it.
const tokenSlack = 60 * time.Second

// Meta is resolved metadata for one emote.
type Meta struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
}

// TwitchService caches Helix emote metadata behind an app access token.
// All methods are safe for concurrent use. A zero-credential service still
// works: Metadata serves CDN fallbacks and WarmCache is a no-op.
type TwitchService struct {
	clientID     string
	clientSecret string

	AuthURL    string
	HelixURL   string
	HTTPClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	catalog     map[string]Meta // emote ID -> metadata
}

// NewTwitchService returns a Helix-backed metadata service. Empty credentials
// disable API calls without disabling the service.
func NewTwitchService(clientID, clientSecret string) *TwitchService {
	return &TwitchService{
		clientID:     clientID,
		clientSecret: clientSecret,
		AuthURL:      defaultAuthURL,
		HelixURL:     defaultHelixURL,
		HTTPClient:   &http.Client{Timeout: defaultTimeout},
		catalog:      make(map[string]Meta),
	}
}

// Enabled reports whether Helix credentials were configured.
func (s *TwitchService) Enabled() bool {
	return s.clientID != "" && s.clientSecret != ""
}

// WarmCache loads the global emote catalog. Best effort at startup; a failure
// here only means more CDN fallbacks later.
func (s *TwitchService) WarmCache(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	var payload struct {
		Data []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Images struct {
				URL2x string `json:"url_2x"`
				URL1x string `json:"url_1x"`
			} `json:"images"`
		} `json:"data"`
	}
	if err := s.get(ctx, "/chat/emotes/global", nil, &payload); err != nil {
		return fmt.Errorf("emotes: warm global catalog: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range payload.Data {
		image := e.Images.URL2x
		if image == "" {
			image = e.Images.URL1x
		}
		s.catalog[e.ID] = Meta{ID: e.ID, Name: e.Name, ImageURL: image}
	}
	return nil
}

// Metadata resolves one emote ID: cached catalog first, then an on-demand
// Helix lookup when credentials exist, then the CDN URL template. Never
// fails; only resolved entries are cached, so a transient lookup failure
// does not pin the fallback.
func (s *TwitchService) Metadata(ctx context.Context, emoteID, fallbackName string) Meta {
	if emoteID == "" {
		return Meta{Name: fallbackName}
	}

	s.mu.Lock()
	meta, ok := s.catalog[emoteID]
	s.mu.Unlock()
	if ok {
		return meta
	}

	if s.Enabled() {
		if meta, err := s.fetchEmote(ctx, emoteID); err == nil {
			s.mu.Lock()
			s.catalog[emoteID] = meta
			s.mu.Unlock()
			return meta
		}
	}

	meta = Meta{
		ID:       emoteID,
		Name:     fallbackName,
		ImageURL: fmt.Sprintf(cdnTemplate, emoteID),
	}
	if meta.Name == "" {
		meta.Name = emoteID
	}
	return meta
}

// fetchEmote looks one emote up by ID via Helix.
func (s *TwitchService) fetchEmote(ctx context.Context, emoteID string) (Meta, error) {
	var payload struct {
		Data []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Images struct {
				URL2x string `json:"url_2x"`
				URL1x string `json:"url_1x"`
			} `json:"images"`
		} `json:"data"`
	}
	query := url.Values{"id": {emoteID}}
	if err := s.get(ctx, "/chat/emotes", query, &payload); err != nil {
		return Meta{}, err
	}
	if len(payload.Data) == 0 {
		return Meta{}, fmt.Errorf("no emote for id %q", emoteID)
	}
	e := payload.Data[0]
	image := e.Images.URL2x
	if image == "" {
		image = e.Images.URL1x
	}
	if image == "" {
		image = fmt.Sprintf(cdnTemplate, e.ID)
	}
	return Meta{ID: e.ID, Name: e.Name, ImageURL: image}, nil
}

// KnownEmotes returns the cached catalog sorted by nothing in particular;
// callers that need an order sort it themselves.
func (s *TwitchService) KnownEmotes() []Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Meta, 0, len(s.catalog))
	for _, meta := range s.catalog {
		out = append(out, meta)
	}
	return out
}

// UserID resolves a channel login to its Twitch user ID.
func (s *TwitchService) UserID(ctx context.Context, login string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("emotes: helix credentials not configured")
	}
	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	query := url.Values{"login": {strings.ToLower(login)}}
	if err := s.get(ctx, "/users", query, &payload); err != nil {
		return "", fmt.Errorf("emotes: resolve user %q: %w", login, err)
	}
	if len(payload.Data) == 0 {
		return "", fmt.Errorf("emotes: no user for login %q", login)
	}
	return payload.Data[0].ID, nil
}

// get performs one authenticated Helix request and decodes the JSON body.
func (s *TwitchService) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	token, err := s.appToken(ctx)
	if err != nil {
		return err
	}

	u := s.HelixURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", s.clientID)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// appToken returns a valid app access token, fetching one via the client
// credentials grant when the cached token is missing or near expiry.
func (s *TwitchService) appToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token != "" && time.Now().Before(s.tokenExpiry) {
		token := s.token
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	form := url.Values{
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request failed status=%d body=%s", resp.StatusCode, string(b))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	s.mu.Lock()
	s.token = payload.AccessToken
	s.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - tokenSlack)
	s.mu.Unlock()
	return payload.AccessToken, nil
}
