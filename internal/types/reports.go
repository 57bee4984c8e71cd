package types

// DailyProject is one project's share of a day.
type DailyProject struct {
	Project     string  `json:"project"`
	Sessions    int     `json:"sessions"`
	TotalCost   float64 `json:"totalCost"`
	TotalTokens int     `json:"totalTokens"`
}

type DailyData struct {
	Date          string         `json:"date"`
	Projects      []DailyProject `json:"projects"`
	TotalCost     float64        `json:"totalCost"`
	TotalSessions int            `json:"totalSessions"`
}

type WeeklyData struct {
	Week          string   `json:"week"` // Monday of the week, YYYY-MM-DD
	TotalCost     float64  `json:"totalCost"`
	TotalTokens   int      `json:"totalTokens"`
	TotalSessions int      `json:"totalSessions"`
	Models        []string `json:"modelsUsed"`
}

type MonthlyData struct {
	Month         string  `json:"month"`
	TotalCost     float64 `json:"totalCost"`
	TotalSessions int     `json:"totalSessions"`
}
