package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-memory Repository for single-instance deployments and tests.
// All mutations for one call happen under one lock, so a batch is never
// interleaved with another batch on the same namespace.
type MemoryStore struct {
	mu          sync.Mutex
	ttl         time.Duration
	timelineCap int
	nowF        func() time.Time
	sessions    map[string]*namespace
}

type namespace struct {
	info        map[string]string
	messages    int64
	chatters    map[string]int64
	emotes      map[string]int64
	emoteNames  map[string]string
	emoteImages map[string]string
	sentCounts  map[string]int64
	sentSums    map[string]float64
	timeline    []int64
	expiresAt   time.Time
}

// NewMemoryStore returns an in-memory store with the given namespace TTL and timeline cap.
func NewMemoryStore(ttl time.Duration, timelineCap int) *MemoryStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if timelineCap < 1 {
		timelineCap = 1200
	}
	return &MemoryStore{
		ttl:         ttl,
		timelineCap: timelineCap,
		nowF:        time.Now,
		sessions:    make(map[string]*namespace),
	}
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Init purges any stale namespace and writes a fresh active session record.
func (s *MemoryStore) Init(ctx context.Context, sessionID, channel string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := newNamespace()
	ns.info["channel"] = channel
	ns.info["duration"] = strconv.Itoa(int(duration / time.Second))
	ns.info["status"] = "active"
	ns.info["started_at"] = s.nowF().UTC().Format(time.RFC3339)
	ns.expiresAt = s.nowF().Add(s.ttl)
	s.sessions[sessionID] = ns
	return nil
}

// Close marks the session record with the terminal status.
func (s *MemoryStore) Close(ctx context.Context, sessionID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.live(sessionID)
	if ns == nil {
		return nil
	}
	ns.info["status"] = status
	ns.info["ended_at"] = s.nowF().UTC().Format(time.RFC3339)
	ns.expiresAt = s.nowF().Add(s.ttl)
	return nil
}

// Purge deletes the namespace for sessionID.
func (s *MemoryStore) Purge(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Apply folds one event's mutation into the namespace under a single lock.
func (s *MemoryStore) Apply(ctx context.Context, sessionID string, mut Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.live(sessionID)
	if ns == nil {
		ns = newNamespace()
		s.sessions[sessionID] = ns
	}

	ns.messages += mut.Messages
	if mut.Chatter != "" {
		ns.chatters[mut.Chatter]++
	}
	for _, e := range mut.Emotes {
		ns.emotes[e.ID]++
		if _, ok := ns.emoteNames[e.ID]; !ok {
			ns.emoteNames[e.ID] = e.Name
		}
	}
	if mut.Sentiment != nil {
		ns.sentCounts[mut.Sentiment.Label]++
		ns.sentSums[mut.Sentiment.Label] += mut.Sentiment.Score
	}
	if mut.Timeline != nil {
		ns.timeline = appendCapped(ns.timeline, *mut.Timeline, s.timelineCap)
	}
	ns.expiresAt = s.nowF().Add(s.ttl)
	return nil
}

// SetEmoteImage records the image URL for an emote ID. Empty URLs are ignored.
func (s *MemoryStore) SetEmoteImage(ctx context.Context, sessionID, emoteID, imageURL string) error {
	if imageURL == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.live(sessionID)
	if ns == nil {
		return nil
	}
	ns.emoteImages[emoteID] = imageURL
	ns.expiresAt = s.nowF().Add(s.ttl)
	return nil
}

// AppendTimeline appends one timestamp, trimming to the configured cap.
func (s *MemoryStore) AppendTimeline(ctx context.Context, sessionID string, unix int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.live(sessionID)
	if ns == nil {
		return nil
	}
	ns.timeline = appendCapped(ns.timeline, unix, s.timelineCap)
	ns.expiresAt = s.nowF().Add(s.ttl)
	return nil
}

// Snapshot reads back everything needed for a statistics snapshot.
// Returns (nil, nil) when the namespace is missing or expired.
func (s *MemoryStore) Snapshot(ctx context.Context, sessionID string, topN int) (*Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.live(sessionID)
	if ns == nil || len(ns.info) == 0 {
		return nil, nil
	}

	raw := &Raw{
		Info:         copyMap(ns.info),
		Messages:     ns.messages,
		ChatterCount: int64(len(ns.chatters)),
		EmoteCounts:  copyCounts(ns.emotes),
		EmoteNames:   copyMap(ns.emoteNames),
		EmoteImages:  copyMap(ns.emoteImages),
		Sentiment:    make(map[string]string, len(ns.sentCounts)+len(ns.sentSums)),
		Timeline:     append([]int64(nil), ns.timeline...),
	}
	for label, count := range ns.sentCounts {
		raw.Sentiment[label] = strconv.FormatInt(count, 10)
	}
	for label, sum := range ns.sentSums {
		raw.Sentiment[label+"_sum"] = strconv.FormatFloat(sum, 'f', -1, 64)
	}

	members := make([]MemberScore, 0, len(ns.chatters))
	for member, score := range ns.chatters {
		members = append(members, MemberScore{Member: member, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score > members[j].Score
		}
		return members[i].Member < members[j].Member
	})
	if topN > 0 && len(members) > topN {
		members = members[:topN]
	}
	raw.TopChatters = members

	return raw, nil
}

// live returns the namespace for sessionID, lazily dropping it once expired.
func (s *MemoryStore) live(sessionID string) *namespace {
	ns, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if !ns.expiresAt.After(s.nowF()) {
		delete(s.sessions, sessionID)
		return nil
	}
	return ns
}

func newNamespace() *namespace {
	return &namespace{
		info:        make(map[string]string),
		chatters:    make(map[string]int64),
		emotes:      make(map[string]int64),
		emoteNames:  make(map[string]string),
		emoteImages: make(map[string]string),
		sentCounts:  make(map[string]int64),
		sentSums:    make(map[string]float64),
	}
}

func appendCapped(timeline []int64, unix int64, limit int) []int64 {
	timeline = append(timeline, unix)
	if len(timeline) > limit {
		timeline = timeline[len(timeline)-limit:]
	}
	return timeline
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
