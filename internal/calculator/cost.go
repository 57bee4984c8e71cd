package calculator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sdpower/claude-usage/internal/types"
)

// CostMode selects where a record's cost comes from. It is fixed for a run.
type CostMode int

const (
	// PreferStored uses costUSD when present and computes it otherwise.
	PreferStored CostMode = iota
	// UseStored trusts costUSD and treats a missing value as 0.
	UseStored
	// AlwaysCompute ignores costUSD and prices tokens.
	AlwaysCompute
)

func (m CostMode) String() string {
	switch m {
	case UseStored:
		return "display"
	case AlwaysCompute:
		return "calculate"
	default:
		return "auto"
	}
}

// ParseCostMode accepts the flag spellings auto, display and calculate.
func ParseCostMode(s string) (CostMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return PreferStored, nil
	case "display":
		return UseStored, nil
	case "calculate":
		return AlwaysCompute, nil
	}
	return PreferStored, types.ValidationError{
		Field:   "cost-mode",
		Message: fmt.Sprintf("unknown mode %q (want auto, calculate or display)", s),
	}
}

// PricingService prices token usage. Implementations return 0 rather than an
// error when a price is unavailable.
type PricingService interface {
	ComputeCost(ctx context.Context, usage types.TokenUsage, model string) float64
}

type CostResolver struct {
	pricing PricingService
	mode    CostMode
}

func NewCostResolver(pricing PricingService, mode CostMode) *CostResolver {
	return &CostResolver{pricing: pricing, mode: mode}
}

func (r *CostResolver) Mode() CostMode {
	return r.mode
}

// Resolve returns the USD cost of rec under the resolver's mode.
func (r *CostResolver) Resolve(ctx context.Context, rec types.UsageRecord) float64 {
	switch r.mode {
	case UseStored:
		if rec.CostUSD != nil {
			return *rec.CostUSD
		}
		return 0
	case AlwaysCompute:
		return r.compute(ctx, rec)
	default:
		if rec.CostUSD != nil {
			return *rec.CostUSD
		}
		return r.compute(ctx, rec)
	}
}

func (r *CostResolver) compute(ctx context.Context, rec types.UsageRecord) float64 {
	if rec.Message.Usage == nil || r.pricing == nil {
		return 0
	}
	return r.pricing.ComputeCost(ctx, *rec.Message.Usage, rec.ModelName())
}
