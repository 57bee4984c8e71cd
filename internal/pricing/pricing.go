// Package pricing turns token counts into USD using the LiteLLM price list.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sdpower/claude-usage/internal/logging"
	"github.com/sdpower/claude-usage/internal/types"
)

// DefaultURL is the LiteLLM model price list.
const DefaultURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"

const maxResponseBytes = 5 << 20

// ModelPricing holds USD prices per single token.
type ModelPricing struct {
	InputCostPerToken         float64 `json:"input_cost_per_token"`
	OutputCostPerToken        float64 `json:"output_cost_per_token"`
	CacheCreationCostPerToken float64 `json:"cache_creation_input_token_cost"`
	CacheReadCostPerToken     float64 `json:"cache_read_input_token_cost"`
}

// Cost prices a usage record.
func (p ModelPricing) Cost(u types.TokenUsage) float64 {
	return float64(u.InputTokens)*p.InputCostPerToken +
		float64(u.OutputTokens)*p.OutputCostPerToken +
		float64(u.CacheCreationInputTokens)*p.CacheCreationCostPerToken +
		float64(u.CacheReadInputTokens)*p.CacheReadCostPerToken
}

type Options struct {
	URL    string
	Client *http.Client
	// Offline skips the network and prices from the built-in table only.
	Offline bool
	Logger  *zap.SugaredLogger
}

// Service fetches the price list once per process and caches it. A failed
// fetch falls back to the built-in table; it is not retried.
type Service struct {
	client  *http.Client
	url     string
	offline bool
	log     *zap.SugaredLogger

	cacheMux sync.RWMutex
	cache    map[string]ModelPricing
	loaded   bool
}

func NewService(opts Options) *Service {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Named("pricing")
	}
	return &Service{
		client:  opts.Client,
		url:     opts.URL,
		offline: opts.Offline,
		log:     opts.Logger,
	}
}

// ComputeCost prices usage for model. Unknown models cost 0.
func (s *Service) ComputeCost(ctx context.Context, usage types.TokenUsage, model string) float64 {
	p, ok := s.GetModelPrice(ctx, model)
	if !ok {
		s.log.Debugw("no pricing for model", "model", model)
		return 0
	}
	return p.Cost(usage)
}

// GetModelPrice looks model up by exact name, then by normalized name.
func (s *Service) GetModelPrice(ctx context.Context, model string) (ModelPricing, bool) {
	table := s.table(ctx)
	if p, ok := table[model]; ok {
		return p, true
	}
	normalized := normalizeModelName(model)
	if p, ok := table[normalized]; ok {
		return p, true
	}
	// Dated names such as claude-sonnet-4-20250514 against an undated entry.
	if name, ok := longestPrefix(table, normalized); ok {
		return table[name], true
	}
	return ModelPricing{}, false
}

// longestPrefix returns the longest table key that prefixes model at a dash
// boundary, so claude-sonnet-4-5 wins over claude-sonnet-4.
func longestPrefix(table map[string]ModelPricing, model string) (string, bool) {
	var best string
	for name := range table {
		if !strings.HasPrefix(model, name+"-") {
			continue
		}
		if len(name) > len(best) {
			best = name
		}
	}
	return best, best != ""
}

func (s *Service) table(ctx context.Context) map[string]ModelPricing {
	s.cacheMux.RLock()
	if s.loaded {
		defer s.cacheMux.RUnlock()
		return s.cache
	}
	s.cacheMux.RUnlock()

	s.cacheMux.Lock()
	defer s.cacheMux.Unlock()
	if s.loaded {
		return s.cache
	}

	s.cache = fallbackPricing()
	if !s.offline {
		fetched, err := s.fetch(ctx)
		if err != nil {
			s.log.Warnw("using built-in pricing", "error", err)
		} else {
			for name, p := range fetched {
				s.cache[name] = p
			}
			s.log.Debugw("loaded pricing", "models", len(fetched))
		}
	}
	s.loaded = true
	return s.cache
}

func (s *Service) fetch(ctx context.Context) (map[string]ModelPricing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "claude-usage")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: pricing returned status %d", types.ErrNetworkError, resp.StatusCode)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(nil, resp.Body, maxResponseBytes)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode pricing: %w", err)
	}

	out := make(map[string]ModelPricing)
	for name, body := range raw {
		if !strings.HasPrefix(name, "claude-") {
			continue
		}
		var p ModelPricing
		// The file mixes schemas; skip entries that do not decode.
		if err := json.Unmarshal(body, &p); err != nil {
			continue
		}
		out[name] = p
	}
	return out, nil
}

// normalizeModelName strips provider prefixes such as "anthropic/" or
// "anthropic.".
func normalizeModelName(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	model = strings.TrimPrefix(model, "anthropic.")
	return model
}

func fallbackPricing() map[string]ModelPricing {
	return map[string]ModelPricing{
		"claude-sonnet-4-20250514": {
			InputCostPerToken: 3e-06, OutputCostPerToken: 1.5e-05,
			CacheCreationCostPerToken: 3.75e-06, CacheReadCostPerToken: 3e-07,
		},
		"claude-opus-4-20250514": {
			InputCostPerToken: 1.5e-05, OutputCostPerToken: 7.5e-05,
			CacheCreationCostPerToken: 1.875e-05, CacheReadCostPerToken: 1.5e-06,
		},
		"claude-3-5-sonnet-20241022": {
			InputCostPerToken: 3e-06, OutputCostPerToken: 1.5e-05,
			CacheCreationCostPerToken: 3.75e-06, CacheReadCostPerToken: 3e-07,
		},
		"claude-3-5-haiku-20241022": {
			InputCostPerToken: 8e-07, OutputCostPerToken: 4e-06,
			CacheCreationCostPerToken: 1e-06, CacheReadCostPerToken: 8e-08,
		},
	}
}
