package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BearBump/SimKeeper/internal/broker/messages"
	"github.com/BearBump/SimKeeper/internal/expiry"
	"github.com/BearBump/SimKeeper/internal/integrations/sms"
	"github.com/BearBump/SimKeeper/internal/models"
	"github.com/pkg/errors"
)

// Tick runs one sweep. If another sweep holds the latch, or the engine is
// stopped, it returns a Skipped report without touching anything.
func (e *Engine) Tick(ctx context.Context) TickReport {
	if e.closed.Load() {
		return TickReport{Skipped: true}
	}
	if !e.sweeping.CompareAndSwap(false, true) {
		e.skippedTicks.Add(1)
		e.log.Warn("tick skipped: previous sweep still running")
		return TickReport{Skipped: true}
	}
	defer e.sweeping.Store(false)

	e.beginSweep()
	e.totalTicks.Add(1)

	// Один "now" на весь обход: все карты оцениваются относительно одного момента.
	now := e.now().UTC()
	e.lastTickUnixNano.Store(now.UnixNano())

	settings := e.Settings()
	if !settings.AutoSendEnabled {
		e.setState(StateIdle)
		return TickReport{Disabled: true, Now: now}
	}
	if !settings.Credentials.Present() {
		e.setState(StateIdle)
		e.setLastError(ErrConfigurationMissing)
		e.log.Warn("auto-send enabled but sms credentials are missing, tick skipped")
		return TickReport{Now: now, Err: ErrConfigurationMissing}
	}

	e.setState(StateScanning)
	rep := e.sweep(ctx, now, settings)
	e.settle()
	return rep
}

func (e *Engine) sweep(ctx context.Context, now time.Time, settings Settings) TickReport {
	rep := TickReport{Now: now}

	sims, err := e.store.LoadAll(ctx)
	if err != nil {
		rep.Err = &SweepError{Kind: ErrStoreFailure, Err: errors.Wrap(err, "load sim cards")}
		e.setLastError(rep.Err)
		e.log.Error("load sim cards", "error", err.Error())
		return rep
	}
	rep.Scanned = len(sims)

	present := make(map[string]struct{}, len(sims))
	type dueSim struct {
		sim  *models.SimCard
		days int
	}
	var due []dueSim
	for _, sc := range sims {
		present[sc.ID] = struct{}{}
		days := e.policy.DaysRemaining(sc.LastUsageDate, now)
		if e.policy.IsDueForAutoSend(days) {
			due = append(due, dueSim{sim: sc, days: days})
		}
	}
	e.pruneOutcomes(present)

	slices.SortFunc(due, func(a, b dueSim) int { return strings.Compare(a.sim.ID, b.sim.ID) })
	rep.Due = len(due)

	for _, d := range due {
		out, err := e.dispatchOne(ctx, d.sim, d.days, now, settings, true)
		rep.Outcomes = append(rep.Outcomes, out)
		switch out.Status {
		case OutcomeSent:
			rep.Sent++
		case OutcomeFailed:
			rep.Failed++
		case OutcomeInvalid:
			rep.Invalid++
		case OutcomeDeferred:
			rep.Deferred++
		}
		if err != nil && errors.Is(err, ErrStoreFailure) {
			rep.Err = err
			e.setLastError(err)
			e.log.Error("sweep aborted", "sim_id", d.sim.ID, "error", err.Error())
			return rep
		}
		e.setState(StateScanning)
	}
	return rep
}

// dispatchOne sends a keep-alive for one card. The returned error is non-nil
// for every outcome except sent/deferred; only ErrStoreFailure should abort a sweep.
func (e *Engine) dispatchOne(ctx context.Context, sc *models.SimCard, days int, now time.Time, settings Settings, automatic bool) (Outcome, error) {
	out := Outcome{SimID: sc.ID, DaysRemaining: days, At: now}

	payload := expiry.FormatPayloadNumber(sc.PhoneNumber)
	out.Payload = payload
	if err := expiry.ValidatePayload(payload); err != nil {
		serr := &SweepError{Kind: ErrValidation, SimID: sc.ID, Err: err}
		out.Status = OutcomeInvalid
		out.Error = serr.Error()
		e.recordOutcome(out)
		e.setLastError(serr)
		e.log.Warn("skip sim card with invalid phone number", "sim_id", sc.ID, "phone_number", sc.PhoneNumber)
		return out, serr
	}

	if automatic && e.rl != nil && e.rateLimitPerMinute > 0 {
		key := fmt.Sprintf("rl:sms:%s", now.Format("200601021504"))
		allowed, n, err := e.rl.Allow(ctx, key, e.rateLimitPerMinute, 70*time.Second)
		switch {
		case err != nil:
			// Redis недоступен: не блокируем отправку.
			e.log.Warn("rate limiter unavailable", "error", err.Error())
		case !allowed:
			out.Status = OutcomeDeferred
			out.Error = ErrRateLimited.Error()
			e.recordOutcome(out)
			e.log.Warn("rate limit exceeded, sim card deferred to next tick", "sim_id", sc.ID, "count", n)
			return out, nil
		}
	}

	e.setState(StateDispatching)
	res, err := e.dispatcher.Send(ctx, sms.Message{
		To:          settings.Target,
		Body:        payload,
		Credentials: settings.Credentials,
	})
	if err != nil {
		serr := &SweepError{Kind: ErrDispatchFailure, SimID: sc.ID, Err: err}
		out.Status = OutcomeFailed
		out.Error = err.Error()
		e.totalFailed.Add(1)
		e.recordOutcome(out)
		e.setLastError(serr)
		e.log.Error("send keep-alive", "sim_id", sc.ID, "error", err.Error())
		e.publish(ctx, out, settings.Target, !automatic, "", nil)
		return out, serr
	}

	out.Status = OutcomeSent
	out.Message = res.Message
	e.totalSent.Add(1)

	// SMS уже ушло: запись даты не должна зависеть от отмены запроса.
	ctx = context.WithoutCancel(ctx)

	if err := e.store.UpdateLastUsage(ctx, sc.ID, now); err != nil {
		if errors.Is(err, models.ErrSimNotFound) {
			// Карту удалили во время обхода: отправка уже состоялась, обновлять нечего.
			e.recordOutcome(out)
			e.log.Warn("sim card deleted during sweep", "sim_id", sc.ID)
			e.publish(ctx, out, settings.Target, !automatic, res.SID, nil)
			return out, nil
		}
		serr := &SweepError{Kind: ErrStoreFailure, SimID: sc.ID, Err: errors.Wrap(err, "update last usage")}
		out.Error = serr.Error()
		e.recordOutcome(out)
		e.publish(ctx, out, settings.Target, !automatic, res.SID, nil)
		return out, serr
	}

	e.recordOutcome(out)
	e.log.Info("keep-alive sent", "sim_id", sc.ID, "payload", payload, "days_remaining", days)
	e.publish(ctx, out, settings.Target, !automatic, res.SID, &now)
	return out, nil
}

func (e *Engine) publish(ctx context.Context, out Outcome, target string, manual bool, providerSID string, lastUsage *time.Time) {
	if e.producer == nil || e.topic == "" {
		return
	}
	msg := messages.KeepAliveDispatched{
		SimID:         out.SimID,
		Payload:       out.Payload,
		Target:        target,
		Manual:        manual,
		Success:       out.Status == OutcomeSent,
		Message:       out.Message,
		ProviderSID:   providerSID,
		DispatchedAt:  out.At,
		LastUsageDate: lastUsage,
	}
	if out.Error != "" {
		msg.Message = out.Error
	}
	b, err := json.Marshal(msg)
	if err != nil {
		e.log.Warn("marshal keep-alive event", "sim_id", out.SimID, "error", err.Error())
		return
	}
	if err := e.producer.Publish(ctx, e.topic, []byte(out.SimID), b); err != nil {
		e.log.Warn("publish keep-alive event", "sim_id", out.SimID, "error", err.Error())
	}
}

// SendNow sends a keep-alive for one card right away, regardless of the
// auto-send window and the auto-send switch. Credentials are still required.
func (e *Engine) SendNow(ctx context.Context, id string) (Outcome, error) {
	if e.closed.Load() {
		return Outcome{SimID: id}, ErrStopped
	}
	settings := e.Settings()
	if !settings.Credentials.Present() {
		return Outcome{SimID: id}, ErrConfigurationMissing
	}
	if !e.sweeping.CompareAndSwap(false, true) {
		return Outcome{SimID: id}, ErrSweepInProgress
	}
	defer e.sweeping.Store(false)

	e.beginSweep()
	defer e.settle()

	now := e.now().UTC()
	sims, err := e.store.LoadAll(ctx)
	if err != nil {
		return Outcome{SimID: id}, &SweepError{Kind: ErrStoreFailure, SimID: id, Err: errors.Wrap(err, "load sim cards")}
	}
	idx := slices.IndexFunc(sims, func(sc *models.SimCard) bool { return sc.ID == id })
	if idx < 0 {
		return Outcome{SimID: id}, models.ErrSimNotFound
	}
	sc := sims[idx]

	e.log.Debug("manual keep-alive requested", "sim_id", id)
	return e.dispatchOne(ctx, sc, e.policy.DaysRemaining(sc.LastUsageDate, now), now, settings, false)
}
