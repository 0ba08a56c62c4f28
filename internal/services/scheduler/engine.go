package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/SimKeeper/internal/expiry"
	"github.com/BearBump/SimKeeper/internal/integrations/sms"
	"github.com/BearBump/SimKeeper/internal/models"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

type Store interface {
	// LoadAll returns the committed card set at call time.
	LoadAll(ctx context.Context) ([]*models.SimCard, error)
	// UpdateLastUsage returns models.ErrSimNotFound for a deleted card.
	UpdateLastUsage(ctx context.Context, id string, at time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

const (
	DefaultTickInterval = time.Hour
	DefaultSettleDelay  = 2 * time.Second
)

type Engine struct {
	store      Store
	dispatcher sms.Client
	producer   Producer
	rl         RateLimiter

	topic              string
	rateLimitPerMinute int64

	policy      expiry.Policy
	schedule    cron.Schedule
	settleDelay time.Duration
	now         func() time.Time
	log         *slog.Logger

	settingsMu sync.RWMutex
	settings   Settings

	// sweeping is the single sweep-in-progress latch.
	sweeping atomic.Bool
	state    atomic.Int32

	settleMu    sync.Mutex
	settleTimer *time.Timer
	sweepGen    uint64

	triggerCh chan struct{}

	lifeMu  sync.Mutex
	started bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	startedAtUnixNano   int64
	lastTickUnixNano    atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalTicks          atomic.Int64
	skippedTicks        atomic.Int64
	totalSent           atomic.Int64
	totalFailed         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string

	outcomesMu sync.Mutex
	outcomes   map[string]Outcome
}

func New(store Store, dispatcher sms.Client) *Engine {
	return &Engine{
		store:       store,
		dispatcher:  dispatcher,
		policy:      expiry.DefaultPolicy(),
		schedule:    cron.Every(DefaultTickInterval),
		settleDelay: DefaultSettleDelay,
		now:         time.Now,
		log:         slog.Default(),
		settings:    Settings{Target: sms.DefaultKeepAliveTarget},
		triggerCh:   make(chan struct{}, 1),
		outcomes:    map[string]Outcome{},

		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (e *Engine) WithPolicy(p expiry.Policy) *Engine {
	e.policy = p.WithDefaults()
	return e
}

func (e *Engine) WithSettings(s Settings) *Engine {
	e.ApplySettings(s)
	return e
}

// WithSchedule sets when ticks fire. Nil keeps the hourly default.
func (e *Engine) WithSchedule(s cron.Schedule) *Engine {
	if s != nil {
		e.schedule = s
	}
	return e
}

// WithSettleDelay sets how long the state stays non-idle after a sweep. Zero means immediately.
func (e *Engine) WithSettleDelay(d time.Duration) *Engine {
	if d >= 0 {
		e.settleDelay = d
	}
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	if l != nil {
		e.log = l
	}
	return e
}

// WithPublisher enables KeepAliveDispatched events. Publishing is best effort.
func (e *Engine) WithPublisher(p Producer, topic string) *Engine {
	e.producer = p
	e.topic = topic
	return e
}

// WithRateLimiter caps automatic dispatches per minute across workers.
func (e *Engine) WithRateLimiter(rl RateLimiter, perMinute int64) *Engine {
	e.rl = rl
	e.rateLimitPerMinute = perMinute
	return e
}

func (e *Engine) ApplySettings(s Settings) {
	if s.Target == "" {
		s.Target = sms.DefaultKeepAliveTarget
	}
	e.settingsMu.Lock()
	e.settings = s
	e.settingsMu.Unlock()
}

func (e *Engine) SetAutoSend(enabled bool) {
	e.settingsMu.Lock()
	e.settings.AutoSendEnabled = enabled
	e.settingsMu.Unlock()
}

func (e *Engine) Settings() Settings {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings
}

func (e *Engine) Policy() expiry.Policy { return e.policy }

func (e *Engine) State() RunState { return RunState(e.state.Load()) }

func (e *Engine) setState(s RunState) { e.state.Store(int32(s)) }

// SweepInProgress reports whether the latch is held.
func (e *Engine) SweepInProgress() bool { return e.sweeping.Load() }

// Trigger forces an immediate tick (best-effort, non-blocking).
func (e *Engine) Trigger() {
	e.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case e.triggerCh <- struct{}{}:
	default:
	}
}

// Start runs the tick loop in the background until Stop or until ctx is done.
// The first tick fires immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.closed.Load() {
		return ErrStopped
	}
	if e.started {
		return errors.New("engine already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.started = true
	e.cancel = cancel
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		_ = e.Run(runCtx)
	}()
	return nil
}

// Stop prevents new ticks, lets an in-flight sweep finish and releases the timers.
// It returns ctx.Err() if the sweep does not finish before ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifeMu.Lock()
	alreadyClosed := e.closed.Swap(true)
	cancel, done := e.cancel, e.done
	e.lifeMu.Unlock()

	if alreadyClosed {
		return nil
	}

	start := time.Now()
	e.log.Info("scheduler stop requested")

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.releaseSettle()
	e.log.Info("scheduler stopped", slog.Duration("took", time.Since(start)))
	return nil
}

// Run blocks until ctx is done. Ticks fire on the schedule and on Trigger.
// On return the settle timer is released and the state is Idle.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("scheduler started",
		slog.Bool("auto_send", e.Settings().AutoSendEnabled),
		slog.Int("auto_send_buffer_days", e.policy.AutoSendBufferDays),
	)
	defer e.releaseSettle()

	e.runTick(ctx)

	t := time.NewTimer(e.nextDelay())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			e.runTick(ctx)
			t.Reset(e.nextDelay())
		case <-e.triggerCh:
			e.runTick(ctx)
		}
	}
}

func (e *Engine) runTick(ctx context.Context) {
	// select не гарантирует приоритет ctx.Done(), поэтому проверяем ещё раз.
	if ctx.Err() != nil || e.closed.Load() {
		return
	}
	// Начатый обход доводим до конца даже после Stop: у SMS-клиента свой таймаут.
	rep := e.Tick(context.WithoutCancel(ctx))
	if rep.Skipped || rep.Disabled {
		return
	}
	e.log.Info("sweep finished",
		slog.Int("scanned", rep.Scanned),
		slog.Int("due", rep.Due),
		slog.Int("sent", rep.Sent),
		slog.Int("failed", rep.Failed),
		slog.Int("invalid", rep.Invalid),
		slog.Int("deferred", rep.Deferred),
	)
}

func (e *Engine) nextDelay() time.Duration {
	now := time.Now()
	d := e.schedule.Next(now).Sub(now)
	if d <= 0 {
		d = time.Second
	}
	return d
}

// beginSweep cancels a pending settle so it cannot reset a newer sweep's state.
func (e *Engine) beginSweep() {
	e.settleMu.Lock()
	e.sweepGen++
	if e.settleTimer != nil {
		e.settleTimer.Stop()
		e.settleTimer = nil
	}
	e.settleMu.Unlock()
}

func (e *Engine) settle() {
	e.settleMu.Lock()
	defer e.settleMu.Unlock()

	if e.settleDelay <= 0 || e.closed.Load() {
		e.setState(StateIdle)
		return
	}
	gen := e.sweepGen
	e.settleTimer = time.AfterFunc(e.settleDelay, func() {
		e.settleMu.Lock()
		defer e.settleMu.Unlock()
		if e.sweepGen != gen {
			return
		}
		e.settleTimer = nil
		e.setState(StateIdle)
	})
}

func (e *Engine) releaseSettle() {
	e.settleMu.Lock()
	e.sweepGen++
	if e.settleTimer != nil {
		e.settleTimer.Stop()
		e.settleTimer = nil
	}
	e.settleMu.Unlock()
	e.setState(StateIdle)
}

func (e *Engine) Stats() Stats {
	st := Stats{
		StartedAt:       time.Unix(0, e.startedAtUnixNano).UTC(),
		State:           e.State(),
		SweepInProgress: e.SweepInProgress(),
		AutoSendEnabled: e.Settings().AutoSendEnabled,
		TotalTicks:      e.totalTicks.Load(),
		SkippedTicks:    e.skippedTicks.Load(),
		TotalSent:       e.totalSent.Load(),
		TotalFailed:     e.totalFailed.Load(),
	}
	if n := e.lastTickUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTickAt = &t
	}
	if n := e.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	e.lastErrorMu.Lock()
	st.LastError = e.lastError
	e.lastErrorMu.Unlock()
	return st
}

func (e *Engine) setLastError(err error) {
	e.lastErrorMu.Lock()
	e.lastError = err.Error()
	e.lastErrorMu.Unlock()
}

// Outcomes returns the last result per card, for cards present in the latest sweep.
func (e *Engine) Outcomes() map[string]Outcome {
	e.outcomesMu.Lock()
	defer e.outcomesMu.Unlock()
	out := make(map[string]Outcome, len(e.outcomes))
	for k, v := range e.outcomes {
		out[k] = v
	}
	return out
}

func (e *Engine) recordOutcome(o Outcome) {
	e.outcomesMu.Lock()
	e.outcomes[o.SimID] = o
	e.outcomesMu.Unlock()
}

// pruneOutcomes drops results of cards that no longer exist.
func (e *Engine) pruneOutcomes(present map[string]struct{}) {
	e.outcomesMu.Lock()
	for id := range e.outcomes {
		if _, ok := present[id]; !ok {
			delete(e.outcomes, id)
		}
	}
	e.outcomesMu.Unlock()
}
