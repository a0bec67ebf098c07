// Package analyzer classifies chat messages: sentiment scoring plus emote extraction.
// Classification is pure; no network I/O and no shared mutable state per call.
package analyzer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jonreiter/govader"
)

// Sentiment labels. Scores at or above positiveThreshold are positive,
// at or below negativeThreshold negative, anything between neutral.
const (
	LabelPositive = "positive"
	LabelNegative = "negative"
	LabelNeutral  = "neutral"

	positiveThreshold = 0.05
	negativeThreshold = -0.05

	boostWeight = 0.1
)

// Common Twitch vernacular for lightweight sentiment adjustments.
var positiveBoost = map[string]struct{}{
	"gg": {}, "pog": {}, "poggers": {}, "w": {}, "based": {}, "clutch": {}, "lets": {}, "nice": {},
}

var negativeBoost = map[string]struct{}{
	"l": {}, "cringe": {}, "fail": {}, "cope": {}, "mald": {}, "trash": {}, "worst": {}, "lost": {},
}

var knownTextualEmotes = map[string]struct{}{
	"KEKW": {}, "LUL": {}, "OMEGALUL": {}, "PogChamp": {}, "POGGERS": {}, "Kappa": {},
	"FeelsBadMan": {}, "FeelsGoodMan": {}, "BibleThump": {}, "PogU": {}, "monkaS": {},
	"monkaW": {}, "PepeHands": {}, "PepeLaugh": {}, "Pepega": {}, "PeepoClap": {},
	"Clap": {}, "HeyGuys": {}, "4Head": {},
}

var (
	commandRegex = regexp.MustCompile(`^![a-zA-Z0-9_]+`)
	tokenRegex   = regexp.MustCompile(`[A-Za-z0-9_]+`)
	spaceRegex   = regexp.MustCompile(`\s+`)
)

// Emote is one emote occurrence extracted from a message.
type Emote struct {
	// ID is the Twitch emote ID from IRC tags, or the canonical name for textual emotes.
	ID string
	// Name is the display name as it appeared in the message.
	Name string
}

// Result is the classification output for one message.
type Result struct {
	Label  string
	Score  float64
	Emotes []Emote
}

// Analyzer runs sentiment analysis and emote extraction for chat messages.
type Analyzer struct {
	sentiment *govader.SentimentIntensityAnalyzer
}

// New returns an Analyzer with a freshly built VADER lexicon.
func New() *Analyzer {
	return &Analyzer{sentiment: govader.NewSentimentIntensityAnalyzer()}
}

// Classify scores the message sentiment and extracts emotes from the IRC
// "emotes" tag, falling back to known textual emote tokens. tags may be nil.
func (a *Analyzer) Classify(content string, tags map[string]string) Result {
	label, score := a.scoreSentiment(content)
	return Result{
		Label:  label,
		Score:  score,
		Emotes: extractEmotes(content, tags),
	}
}

func (a *Analyzer) scoreSentiment(content string) (string, float64) {
	text := strings.TrimSpace(content)
	if text == "" || commandRegex.MatchString(text) {
		return LabelNeutral, 0
	}

	compound := a.sentiment.PolarityScores(text).Compound
	lowered := strings.ToLower(text)

	tokens := map[string]struct{}{}
	for _, token := range spaceRegex.Split(lowered, -1) {
		if t := strings.Trim(token, "!,?."); t != "" {
			tokens[t] = struct{}{}
		}
	}
	if intersects(positiveBoost, tokens) {
		compound += boostWeight
	}
	if intersects(negativeBoost, tokens) {
		compound -= boostWeight
	}

	if compound > 1 {
		compound = 1
	}
	if compound < -1 {
		compound = -1
	}

	switch {
	case compound >= positiveThreshold:
		return LabelPositive, compound
	case compound <= negativeThreshold:
		return LabelNegative, compound
	default:
		return LabelNeutral, compound
	}
}

func intersects(set, tokens map[string]struct{}) bool {
	for t := range tokens {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// extractEmotes reads the IRC emotes tag (format "id:start-end,start-end/id:...")
// and resolves each span against the message text. When the tag yields nothing,
// it falls back to matching tokens against the known textual emote set.
func extractEmotes(content string, tags map[string]string) []Emote {
	var emotes []Emote

	if tag := tags["emotes"]; tag != "" {
		runes := []rune(content)
		for _, entry := range strings.Split(tag, "/") {
			if entry == "" {
				continue
			}
			parts := strings.SplitN(entry, ":", 2)
			if len(parts) != 2 {
				continue
			}
			emoteID, positions := parts[0], parts[1]
			for _, span := range strings.Split(positions, ",") {
				if span == "" {
					continue
				}
				bounds := strings.SplitN(span, "-", 2)
				if len(bounds) != 2 {
					continue
				}
				start, err1 := strconv.Atoi(bounds[0])
				end, err2 := strconv.Atoi(bounds[1])
				if err1 != nil || err2 != nil {
					continue
				}
				if start < 0 || end < start || end >= len(runes) {
					continue
				}
				emotes = append(emotes, Emote{ID: emoteID, Name: string(runes[start : end+1])})
			}
		}
	}

	if len(emotes) == 0 {
		for _, token := range tokenRegex.FindAllString(content, -1) {
			canon, ok := canonicalTextualEmote(token)
			if !ok {
				continue
			}
			emotes = append(emotes, Emote{ID: canon, Name: canon})
		}
	}

	return emotes
}

func canonicalTextualEmote(token string) (string, bool) {
	if _, ok := knownTextualEmotes[token]; ok {
		return token, true
	}
	upper := strings.ToUpper(token)
	if _, ok := knownTextualEmotes[upper]; ok {
		return upper, true
	}
	return "", false
}
