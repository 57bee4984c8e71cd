package types

import (
	"time"
)

// BlockEntry is an admitted record reduced to what block grouping needs.
type BlockEntry struct {
	Time   time.Time
	Model  string
	Tokens TokenUsage
	Cost   float64
}

// SessionBlock is a five-hour billing window, or a gap between two of them.
type SessionBlock struct {
	ID            string       `json:"id"`
	StartTime     time.Time    `json:"startTime"`
	EndTime       time.Time    `json:"endTime"`
	ActualEndTime *time.Time   `json:"actualEndTime,omitempty"` // last activity in block
	IsActive      bool         `json:"isActive"`
	IsGap         bool         `json:"isGap"`
	Entries       []BlockEntry `json:"-"`
	EntryCount    int          `json:"entries"`
	TokenCounts   TokenUsage   `json:"tokenCounts"`
	CostUSD       float64      `json:"costUSD"`
	Models        []string     `json:"models"`
}

type BurnRate struct {
	TokensPerMinute             float64 `json:"tokensPerMinute"`
	TokensPerMinuteForIndicator float64 `json:"tokensPerMinuteForIndicator"` // input+output only
	CostPerHour                 float64 `json:"costPerHour"`
}

// ProjectedUsage extrapolates the current burn rate to the end of an active block.
type ProjectedUsage struct {
	TotalTokens      int     `json:"totalTokens"`
	TotalCost        float64 `json:"totalCost"`
	RemainingMinutes float64 `json:"remainingMinutes"`
}
