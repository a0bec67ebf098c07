// Package domain defines the statistics types assembled on the read path.
package domain

// SessionInfo is the session metadata record kept in the aggregation store.
type SessionInfo struct {
	Channel         string `json:"channel"`
	DurationSeconds int    `json:"durationSeconds"`
	Status          string `json:"status"`
	StartedAt       string `json:"startedAt"`
	EndedAt         string `json:"endedAt,omitempty"`
}

// ChatterCount is one chatter leaderboard entry.
type ChatterCount struct {
	Username string `json:"username"`
	Count    int64  `json:"count"`
}

// EmoteCount is one emote leaderboard entry.
type EmoteCount struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Count    int64  `json:"count"`
	ImageURL string `json:"imageUrl"`
}

// SentimentSummary holds per-label tallies and their percentage split.
// Percentages are rounded to two decimals and use max(total, 1) as denominator.
type SentimentSummary struct {
	Positive    int64   `json:"positive"`
	Negative    int64   `json:"negative"`
	Neutral     int64   `json:"neutral"`
	PositivePct float64 `json:"positivePct"`
	NegativePct float64 `json:"negativePct"`
	NeutralPct  float64 `json:"neutralPct"`
}

// Statistics is the point-in-time snapshot served to observers.
type Statistics struct {
	SessionID         string           `json:"sessionId"`
	Session           SessionInfo      `json:"session"`
	MessageCount      int64            `json:"messageCount"`
	ChatterCount      int64            `json:"chatterCount"`
	MessagesPerMinute int              `json:"messagesPerMinute"`
	TopChatters       []ChatterCount   `json:"topChatters"`
	TopEmotes         []EmoteCount     `json:"topEmotes"`
	Sentiment         SentimentSummary `json:"sentiment"`
}
