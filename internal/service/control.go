package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallbox_control/internal/logger"
	"wallbox_control/internal/models"
	"wallbox_control/internal/panel"
	"wallbox_control/internal/repository"
)

// ControlOptions tunes the engine's waits and gate policy.
type ControlOptions struct {
	// ActionTimeout bounds every device interaction, including the wait
	// for the panel to reflect a new state.
	ActionTimeout time.Duration
	// PollInterval is the settle delay between verification reads.
	PollInterval time.Duration
	// RejectWhenBusy makes callers arriving while the gate is held fail
	// with Busy instead of blocking.
	RejectWhenBusy bool
	// SerializeReads routes GetStatus/GetMode through the gate too.
	SerializeReads bool
}

// ControlService is the state-aware dispatcher. Every decision starts
// from a fresh read of the panel; nothing is cached across calls. The
// gate guarantees at most one call is in flight against the device,
// since the panel has no notion of concurrent sessions.
type ControlService struct {
	device    panel.Device
	snapshots repository.SnapshotRepo // optional
	events    repository.EventRepo    // optional
	log       *logger.Logger

	gate chan struct{}
	opts ControlOptions
}

func NewControlService(device panel.Device, snapshots repository.SnapshotRepo, events repository.EventRepo, log *logger.Logger, opts ControlOptions) *ControlService {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 20 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	return &ControlService{
		device:    device,
		snapshots: snapshots,
		events:    events,
		log:       log,
		gate:      make(chan struct{}, 1),
		opts:      opts,
	}
}

// Execute runs one action against the wallbox and reports the outcome.
// At most one device mutation happens per call. Once dispatched, the
// action runs to completion or timeout even if ctx is cancelled; ctx
// only guards the wait for the gate.
func (c *ControlService) Execute(ctx context.Context, a models.Action) models.ActionOutcome {
	out := models.ActionOutcome{Action: a.Kind, Mode: a.Mode}

	mutating := a.Kind == models.ActionStart || a.Kind == models.ActionStop || a.Kind == models.ActionSetMode
	if mutating || c.opts.SerializeReads {
		release, errKind, detail := c.acquireGate(ctx)
		if errKind != "" {
			out.Error = errKind
			out.Detail = detail
			return out
		}
		defer release()
	}

	// Detached from caller cancellation: response delivery may be
	// abandoned, the dispatched action is not.
	runCtx := context.WithoutCancel(ctx)

	switch a.Kind {
	case models.ActionGetStatus:
		c.getStatus(runCtx, &out)
	case models.ActionGetMode:
		c.getMode(runCtx, &out)
	case models.ActionStart:
		c.start(runCtx, &out)
	case models.ActionStop:
		c.stop(runCtx, &out)
	case models.ActionSetMode:
		c.setMode(runCtx, a.Mode, &out)
	default:
		out.Error = models.ErrInvalidParameter
		out.Detail = fmt.Sprintf("unknown action %q", a.Kind)
	}

	c.record(out)
	return out
}

// acquireGate takes the device gate according to the configured policy.
func (c *ControlService) acquireGate(ctx context.Context) (release func(), errKind models.ErrorKind, detail string) {
	select {
	case c.gate <- struct{}{}:
		return func() { <-c.gate }, "", ""
	default:
	}

	if c.opts.RejectWhenBusy {
		return nil, models.ErrBusy, "another device interaction is in flight"
	}

	t := time.NewTimer(c.opts.ActionTimeout)
	defer t.Stop()
	select {
	case c.gate <- struct{}{}:
		return func() { <-c.gate }, "", ""
	case <-t.C:
		return nil, models.ErrTimeout, "timed out waiting for the device gate"
	case <-ctx.Done():
		return nil, models.ErrTimeout, "caller gave up waiting for the device gate"
	}
}

// --- read paths ---

func (c *ControlService) getStatus(ctx context.Context, out *models.ActionOutcome) {
	raw, err := c.readRaw(ctx, c.device.ReadStatus)
	if err != nil {
		out.Error = classify(err)
		out.Detail = err.Error()
		return
	}
	st, ok := models.ParseDeviceState(raw)
	obs := models.Observation{Status: st}
	if !ok {
		obs.RawStatus = raw
	}
	out.ObservedBefore = obs
	out.ObservedAfter = obs
	if !ok {
		out.Error = models.ErrStateUnrecognized
		out.Detail = fmt.Sprintf("panel status text %q", raw)
		return
	}
	out.Succeeded = true
}

func (c *ControlService) getMode(ctx context.Context, out *models.ActionOutcome) {
	raw, err := c.readRaw(ctx, c.device.ReadMode)
	if err != nil {
		out.Error = classify(err)
		out.Detail = err.Error()
		return
	}
	m, ok := models.ParseChargeMode(raw)
	obs := models.Observation{Mode: m}
	if !ok {
		obs.RawMode = raw
	}
	out.ObservedBefore = obs
	out.ObservedAfter = obs
	if !ok {
		out.Error = models.ErrStateUnrecognized
		out.Detail = fmt.Sprintf("panel mode text %q", raw)
		return
	}
	out.Succeeded = true
}

// --- mutating paths ---

func (c *ControlService) start(ctx context.Context, out *models.ActionOutcome) {
	before := c.observe(ctx)
	out.ObservedBefore = before
	out.ObservedAfter = before

	// Idempotent no-op. Starting while Finishing is allowed.
	if before.Status == models.StateCharging {
		out.SkippedReason = models.SkipAlreadyActive
		out.Succeeded = true
		return
	}

	if err := c.invoke(ctx, models.ControlStart); err != nil {
		out.Error = classify(err)
		out.Detail = err.Error()
		return
	}
	out.Mutated = true

	after, errKind, detail := c.awaitStatus(ctx, func(s models.DeviceState) bool {
		return s == models.StateCharging || s == models.StateFinishing
	})
	out.ObservedAfter = after
	if errKind != "" {
		out.Error = errKind
		out.Detail = detail
		return
	}
	out.Succeeded = true
}

func (c *ControlService) stop(ctx context.Context, out *models.ActionOutcome) {
	before := c.observe(ctx)
	out.ObservedBefore = before
	out.ObservedAfter = before

	// The one hard safety invariant: never interrupt a finishing cycle.
	if before.Status == models.StateFinishing {
		out.SkippedReason = models.SkipFinishingProtected
		out.Succeeded = true
		return
	}
	if before.Status == models.StateReady {
		out.SkippedReason = models.SkipAlreadyInactive
		out.Succeeded = true
		return
	}

	if err := c.invoke(ctx, models.ControlStop); err != nil {
		out.Error = classify(err)
		out.Detail = err.Error()
		return
	}
	out.Mutated = true

	after, errKind, detail := c.awaitStatus(ctx, func(s models.DeviceState) bool {
		return s == models.StateReady
	})
	out.ObservedAfter = after
	if errKind != "" {
		out.Error = errKind
		out.Detail = detail
		return
	}
	out.Succeeded = true
}

func (c *ControlService) setMode(ctx context.Context, target models.ChargeMode, out *models.ActionOutcome) {
	before := c.observe(ctx)
	out.ObservedBefore = before
	out.ObservedAfter = before

	if before.Mode == target {
		out.SkippedReason = models.SkipAlreadyInDesiredMode
		out.Succeeded = true
		return
	}

	if err := c.invoke(ctx, models.ControlForMode(target)); err != nil {
		out.Error = classify(err)
		out.Detail = err.Error()
		return
	}
	out.Mutated = true

	// Panel interactions are not atomic: the mode line can lag one
	// render behind the click, so one extra verification read is
	// allowed before declaring failure. The button is never pressed a
	// second time.
	after := before
	for attempt := 0; attempt < 2; attempt++ {
		c.settle()
		raw, err := c.readRaw(ctx, c.device.ReadMode)
		if err != nil {
			out.ObservedAfter = after
			out.Error = classify(err)
			out.Detail = err.Error()
			return
		}
		m, ok := models.ParseChargeMode(raw)
		after = models.Observation{Mode: m}
		if !ok {
			after.RawMode = raw
		}
		if m == target {
			out.ObservedAfter = after
			out.Succeeded = true
			return
		}
	}
	out.ObservedAfter = after
	out.Error = models.ErrActionFailed
	out.Detail = fmt.Sprintf("panel still reports mode %q after set %q", after.Mode, target)
}

// --- device access helpers ---

// callCtx bounds a single facade call with the hard action timeout.
func (c *ControlService) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opts.ActionTimeout)
}

// readRaw performs one facade read with a single bounded retry on an
// unreachable panel. Invoke is never retried; reads are side-effect free.
func (c *ControlService) readRaw(ctx context.Context, read func(context.Context) (string, error)) (string, error) {
	opCtx, cancel := c.callCtx(ctx)
	raw, err := read(opCtx)
	cancel()
	if err == nil || !errors.Is(err, panel.ErrUnreachable) {
		return raw, err
	}

	opCtx, cancel = c.callCtx(ctx)
	defer cancel()
	return read(opCtx)
}

func (c *ControlService) invoke(ctx context.Context, control models.Control) error {
	opCtx, cancel := c.callCtx(ctx)
	defer cancel()
	return c.device.Invoke(opCtx, control)
}

// observe reads status and mode for the before/after report. Failures
// degrade to Unknown rather than aborting: the panel being unreadable
// must not block an operator who knows what they want (the Invoke path
// will surface a dead panel on its own).
func (c *ControlService) observe(ctx context.Context) models.Observation {
	obs := models.Observation{Status: models.StateUnknown}

	if raw, err := c.readRaw(ctx, c.device.ReadStatus); err == nil {
		st, ok := models.ParseDeviceState(raw)
		obs.Status = st
		if !ok {
			obs.RawStatus = raw
		}
	}
	if raw, err := c.readRaw(ctx, c.device.ReadMode); err == nil {
		m, ok := models.ParseChargeMode(raw)
		if ok {
			obs.Mode = m
		} else {
			obs.RawMode = raw
		}
	}
	return obs
}

// awaitStatus polls the panel until the wanted state shows up or the
// action timeout expires.
func (c *ControlService) awaitStatus(ctx context.Context, want func(models.DeviceState) bool) (models.Observation, models.ErrorKind, string) {
	deadline := time.Now().Add(c.opts.ActionTimeout)
	last := models.Observation{Status: models.StateUnknown}
	var lastErr error

	for {
		c.settle()
		raw, err := c.readRaw(ctx, c.device.ReadStatus)
		if err != nil {
			lastErr = err
		} else {
			lastErr = nil
			st, ok := models.ParseDeviceState(raw)
			last = models.Observation{Status: st}
			if !ok {
				last.RawStatus = raw
			}
			if want(st) {
				return last, "", ""
			}
		}
		if time.Now().After(deadline) {
			if lastErr != nil {
				return last, classify(lastErr), lastErr.Error()
			}
			return last, models.ErrTimeout, fmt.Sprintf("panel did not reach the expected state, last seen %q", last.Status)
		}
	}
}

func (c *ControlService) settle() {
	time.Sleep(c.opts.PollInterval)
}

// classify maps facade errors onto the closed error kinds.
func classify(err error) models.ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrTimeout
	case errors.Is(err, panel.ErrUnreachable):
		return models.ErrDeviceUnreachable
	default:
		return models.ErrDeviceUnreachable
	}
}

// --- audit trail ---

// record persists the outcome best-effort: the audit trail never makes
// a completed action fail.
func (c *ControlService) record(out models.ActionOutcome) {
	if c.snapshots == nil && c.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.snapshots != nil {
		snap := models.Snapshot{
			ID:         1,
			Status:     out.ObservedAfter.Status,
			Mode:       out.ObservedAfter.Mode,
			LastAction: out.Action,
			Mutated:    out.Mutated,
			UpdatedAt:  time.Now().UTC(),
		}
		if snap.Status == "" {
			snap.Status = models.StateUnknown
		}
		if err := c.snapshots.Save(ctx, snap); err != nil && c.log != nil {
			c.log.Errorw("snapshot_save_failed", "err", err)
		}
	}

	if c.events != nil {
		if ev, ok := eventFor(out); ok {
			if err := c.events.Append(ctx, ev); err != nil && c.log != nil {
				c.log.Errorw("event_append_failed", "err", err)
			}
		}
	}
}

// eventFor builds the audit entry for an outcome. Pure reads are not
// logged; mutations, skips, and failures are.
func eventFor(out models.ActionOutcome) (models.WallboxEvent, bool) {
	var typ, desc string
	switch {
	case out.Error != "":
		typ = models.EventError
		desc = fmt.Sprintf("%s failed: %s", out.Action, out.Error)
	case out.SkippedReason != "":
		typ = models.EventSkip
		desc = fmt.Sprintf("%s skipped: %s", out.Action, out.SkippedReason)
	case out.Action == models.ActionStart:
		typ = models.EventStart
		desc = "charging started"
	case out.Action == models.ActionStop:
		typ = models.EventStop
		desc = "charging stopped"
	case out.Action == models.ActionSetMode:
		typ = models.EventModeChange
		desc = "mode changed to " + string(out.Mode)
	default:
		return models.WallboxEvent{}, false
	}

	return models.WallboxEvent{
		Type:        typ,
		Description: desc,
		Metadata: map[string]any{
			"action":          out.Action,
			"mutated":         out.Mutated,
			"observed_before": out.ObservedBefore,
			"observed_after":  out.ObservedAfter,
		},
	}, true
}
