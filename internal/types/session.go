package types

import (
	"sort"
)

// DefaultLastActivity is reported for sessions that never saw a dated record.
const DefaultLastActivity = "1970-01-01"

// DailyUsage is the per-day slice of a session.
type DailyUsage struct {
	TokenUsage
	Cost float64 `json:"cost"`
}

// SessionData is the running aggregate for one session.
type SessionData struct {
	SessionID    string
	ProjectPath  string
	Tokens       TokenUsage
	TotalCost    float64
	LastActivity string
	ModelsUsed   map[string]struct{}
	DailyUsage   map[string]*DailyUsage
}

func NewSessionData(sessionID, projectPath string) *SessionData {
	return &SessionData{
		SessionID:   sessionID,
		ProjectPath: projectPath,
		ModelsUsed:  make(map[string]struct{}),
		DailyUsage:  make(map[string]*DailyUsage),
	}
}

func (s *SessionData) TotalTokens() int {
	return s.Tokens.Total()
}

// IsEmpty reports whether the session has neither cost nor tokens.
func (s *SessionData) IsEmpty() bool {
	return s.TotalCost <= 0 && s.TotalTokens() == 0
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *SessionData) Clone() *SessionData {
	c := *s
	c.ModelsUsed = make(map[string]struct{}, len(s.ModelsUsed))
	for m := range s.ModelsUsed {
		c.ModelsUsed[m] = struct{}{}
	}
	c.DailyUsage = make(map[string]*DailyUsage, len(s.DailyUsage))
	for day, du := range s.DailyUsage {
		cp := *du
		c.DailyUsage[day] = &cp
	}
	return &c
}

// Models returns the models used, sorted.
func (s *SessionData) Models() []string {
	models := make([]string, 0, len(s.ModelsUsed))
	for m := range s.ModelsUsed {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

func (s *SessionData) Output() SessionOutput {
	last := s.LastActivity
	if last == "" {
		last = DefaultLastActivity
	}
	daily := make(map[string]DailyUsage, len(s.DailyUsage))
	for day, du := range s.DailyUsage {
		daily[day] = *du
	}
	return SessionOutput{
		SessionID:           s.SessionID,
		ProjectPath:         s.ProjectPath,
		InputTokens:         s.Tokens.InputTokens,
		OutputTokens:        s.Tokens.OutputTokens,
		CacheCreationTokens: s.Tokens.CacheCreationInputTokens,
		CacheReadTokens:     s.Tokens.CacheReadInputTokens,
		TotalCost:           s.TotalCost,
		LastActivity:        last,
		ModelsUsed:          s.Models(),
		DailyUsage:          daily,
	}
}

// SessionOutput is the reporting form of a session.
type SessionOutput struct {
	SessionID           string                `json:"sessionId"`
	ProjectPath         string                `json:"projectPath"`
	InputTokens         int                   `json:"inputTokens"`
	OutputTokens        int                   `json:"outputTokens"`
	CacheCreationTokens int                   `json:"cacheCreationTokens"`
	CacheReadTokens     int                   `json:"cacheReadTokens"`
	TotalCost           float64               `json:"totalCost"`
	LastActivity        string                `json:"lastActivity"`
	ModelsUsed          []string              `json:"modelsUsed"`
	DailyUsage          map[string]DailyUsage `json:"-"`
}

func (o SessionOutput) TotalTokens() int {
	return o.InputTokens + o.OutputTokens + o.CacheCreationTokens + o.CacheReadTokens
}
