// Package live streams usage records from a keeper subprocess into the
// session aggregator and hands snapshots to the dashboard.
package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sdpower/claude-usage/internal/aggregator"
	"github.com/sdpower/claude-usage/internal/calculator"
	"github.com/sdpower/claude-usage/internal/dedup"
	"github.com/sdpower/claude-usage/internal/logging"
	"github.com/sdpower/claude-usage/internal/types"
)

const (
	DefaultMaxRestarts   = 3
	DefaultChannelBuffer = 100
	DefaultKeeperPath    = "claude-keeper"
)

var ErrRestartBudgetExhausted = errors.New("keeper restart budget exhausted")

type State int

const (
	StateStarting State = iota
	StateStreaming
	StateRestarting
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Update is one streamed record with the session it landed in.
type Update struct {
	Record     types.UsageRecord
	Session    *types.SessionData
	Cost       float64
	ReceivedAt time.Time
}

// Tokens returns every token kind the record carried.
func (u Update) Tokens() int {
	if u.Record.Message.Usage == nil {
		return 0
	}
	return u.Record.Message.Usage.Total()
}

type Config struct {
	Spawner      Spawner
	Baseline     *BaselineLoader
	BaselineMode BaselineMode
	// Costs must use PreferStored; NewOrchestrator builds one when nil.
	Costs    *calculator.CostResolver
	Pricing  calculator.PricingService
	Resolver aggregator.SessionResolver
	// Dedup is optional. A nil cache admits every record.
	Dedup        *dedup.Cache
	MaxRestarts  int
	RestartDelay time.Duration
	OnState      func(State, error)
	Now          func() time.Time
	Logger       *zap.SugaredLogger
}

// Orchestrator supervises the keeper subprocess. Run drives it from a
// single goroutine; State, Baseline and Summary may be read concurrently.
type Orchestrator struct {
	cfg Config
	log *zap.SugaredLogger

	mu           sync.Mutex
	state        State
	agg          *aggregator.Aggregator
	baseline     BaselineSummary
	baselineDone bool
	failures     int
	restarts     int
}

func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.Costs == nil || cfg.Costs.Mode() != calculator.PreferStored {
		cfg.Costs = calculator.NewCostResolver(cfg.Pricing, calculator.PreferStored)
	}
	if cfg.Resolver == nil {
		cfg.Resolver = aggregator.MessageResolver{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Named("live")
	}
	return &Orchestrator{
		cfg:   cfg,
		log:   cfg.Logger,
		state: StateStarting,
		agg:   aggregator.New(),
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Restarts returns how many times the keeper has been respawned.
func (o *Orchestrator) Restarts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.restarts
}

func (o *Orchestrator) setState(s State, err error) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()

	if prev != s || err != nil {
		o.log.Debugw("Live state transition", "from", prev, "to", s, "error", err)
	}
	if o.cfg.OnState != nil {
		o.cfg.OnState(s, err)
	}
}

// LoadBaseline resolves the baseline once. Run calls it if the caller has
// not, so the dashboard may seed its totals before streaming starts.
func (o *Orchestrator) LoadBaseline(ctx context.Context) BaselineSummary {
	o.mu.Lock()
	if o.baselineDone {
		b := o.baseline
		o.mu.Unlock()
		return b
	}
	o.mu.Unlock()

	var b BaselineSummary
	if o.cfg.Baseline != nil {
		b = o.cfg.Baseline.Load(ctx, o.cfg.BaselineMode)
	}

	o.mu.Lock()
	o.baseline = b
	o.baselineDone = true
	o.mu.Unlock()
	return b
}

func (o *Orchestrator) Baseline() BaselineSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.baseline
}

// Summary returns the session count with cost and tokens including the
// baseline.
func (o *Orchestrator) Summary() (sessions int, cost float64, tokens int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, t := o.agg.Totals()
	return o.agg.Len(), o.baseline.TotalCost + c, o.baseline.TotalTokens + int64(t)
}

// Run streams until the keeper exits cleanly, the restart budget runs out,
// or ctx is cancelled. Sends on out block when the consumer falls behind.
// Run closes out before returning.
func (o *Orchestrator) Run(ctx context.Context, out chan<- Update) error {
	defer close(out)

	o.setState(StateStarting, nil)
	o.LoadBaseline(ctx)

	for {
		if err := ctx.Err(); err != nil {
			o.setState(StateStopped, nil)
			return err
		}

		err := o.streamOnce(ctx, out)
		switch {
		case ctx.Err() != nil:
			o.setState(StateStopped, nil)
			return ctx.Err()
		case err == nil:
			o.log.Infow("Keeper stream ended")
			o.setState(StateStopped, nil)
			return nil
		}

		o.mu.Lock()
		o.failures++
		failures := o.failures
		o.mu.Unlock()

		if failures > o.cfg.MaxRestarts {
			o.log.Errorw("Keeper restart budget exhausted", "max_restarts", o.cfg.MaxRestarts, "error", err)
			err = fmt.Errorf("%w after %d attempts: %w", ErrRestartBudgetExhausted, o.cfg.MaxRestarts, err)
			o.setState(StateFailed, err)
			return err
		}

		o.log.Warnw("Restarting keeper", "attempt", failures, "max_attempts", o.cfg.MaxRestarts, "error", err)
		o.setState(StateRestarting, err)
		o.mu.Lock()
		o.restarts++
		o.mu.Unlock()

		if o.cfg.RestartDelay > 0 {
			t := time.NewTimer(o.cfg.RestartDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				o.setState(StateStopped, nil)
				return ctx.Err()
			case <-t.C:
			}
		}
	}
}

// streamOnce runs one keeper process to completion. A nil result means the
// stream ended cleanly.
func (o *Orchestrator) streamOnce(ctx context.Context, out chan<- Update) error {
	proc, err := o.cfg.Spawner.Spawn(ctx)
	if err != nil {
		if !errors.Is(err, ErrSpawn) {
			err = fmt.Errorf("%w: %w", ErrSpawn, err)
		}
		return err
	}
	o.setState(StateStreaming, nil)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := proc.Kill(); err != nil {
				o.log.Debugw("Failed to kill keeper", "error", err)
			}
		case <-done:
		}
	}()

	w := NewWatcher(proc.Stdout(), o.log)
	for {
		rec, err := w.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = proc.Kill()
			_ = proc.Wait()
			return err
		}

		u, ok := o.process(ctx, rec)
		if !ok {
			continue
		}
		select {
		case out <- u:
		case <-ctx.Done():
			_ = proc.Kill()
			_ = proc.Wait()
			return ctx.Err()
		}

		o.mu.Lock()
		o.failures = 0
		o.mu.Unlock()
	}

	if err := proc.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: keeper exited: %v", ErrStream, err)
	}
	return nil
}

func (o *Orchestrator) process(ctx context.Context, rec types.UsageRecord) (Update, bool) {
	if !rec.HasUsage() {
		return Update{}, false
	}
	if o.cfg.Dedup != nil && !o.cfg.Dedup.Admit(rec) {
		o.log.Debugw("Skipping duplicate record", "message_id", rec.Message.ID)
		return Update{}, false
	}

	cost := o.cfg.Costs.Resolve(ctx, rec)
	key := o.cfg.Resolver.Resolve(rec)

	o.mu.Lock()
	session, ok := o.agg.Apply(rec, cost, key)
	var snapshot *types.SessionData
	if ok {
		snapshot = session.Clone()
	}
	o.mu.Unlock()
	if !ok {
		return Update{}, false
	}

	return Update{
		Record:     rec,
		Session:    snapshot,
		Cost:       cost,
		ReceivedAt: o.cfg.Now(),
	}, true
}
