package types

import (
	"strings"
	"time"
)

// TokenUsage holds the four token counters reported for a single message.
type TokenUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// Total returns the sum of all token kinds.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// IsZero reports whether the usage carries no input and no output tokens.
// Cache-only records are treated as empty.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0
}

func (u *TokenUsage) Add(o TokenUsage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheCreationInputTokens += o.CacheCreationInputTokens
	u.CacheReadInputTokens += o.CacheReadInputTokens
}

type Message struct {
	ID    string      `json:"id"`
	Model string      `json:"model"`
	Usage *TokenUsage `json:"usage"`
}

// UsageRecord is one line of a usage log.
type UsageRecord struct {
	Timestamp string   `json:"timestamp"`
	Message   Message  `json:"message"`
	RequestID string   `json:"requestId"`
	CostUSD   *float64 `json:"costUSD,omitempty"`

	// Older log versions put the model and session id at the top level.
	Model     string `json:"model,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// DedupKey identifies a single API response across log files.
type DedupKey string

// DedupKey returns message.id + ":" + requestId. The second result is false
// when either part is missing; such records are never deduplicated.
func (r UsageRecord) DedupKey() (DedupKey, bool) {
	if r.Message.ID == "" || r.RequestID == "" {
		return "", false
	}
	return DedupKey(r.Message.ID + ":" + r.RequestID), true
}

// ModelName prefers message.model and falls back to the top-level field.
func (r UsageRecord) ModelName() string {
	if r.Message.Model != "" {
		return r.Message.Model
	}
	return r.Model
}

// HasUsage reports whether the record carries any input or output tokens.
func (r UsageRecord) HasUsage() bool {
	return r.Message.Usage != nil && !r.Message.Usage.IsZero()
}

// Time parses the record timestamp. The second result is false for missing
// or malformed timestamps.
func (r UsageRecord) Time() (time.Time, bool) {
	t, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Day returns the UTC calendar day of the record as YYYY-MM-DD, or
// UnknownDay when the timestamp cannot be parsed.
func (r UsageRecord) Day() string {
	t, ok := r.Time()
	if !ok {
		return UnknownDay
	}
	return t.UTC().Format(DayLayout)
}

const (
	DayLayout   = "2006-01-02"
	MonthLayout = "2006-01"
	UnknownDay  = "unknown"
)

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 timestamps and zone-less timestamps,
// which are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidFormat
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidFormat
}
