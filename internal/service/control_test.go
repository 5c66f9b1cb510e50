package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"wallbox_control/internal/models"
	"wallbox_control/internal/panel"
)

// fakeDevice simulates the panel. Invoke applies the expected state
// transition unless frozen; reads can be made to fail or lag.
type fakeDevice struct {
	mu     sync.Mutex
	status string
	mode   string

	pendingMode string
	modeLag     int // verification reads to swallow before the mode shows
	frozen      bool

	statusErrs []error // popped per ReadStatus call
	invokeErr  error

	invokes []models.Control

	inFlight int
	overlap  bool

	holdInvoke  chan struct{}
	enteredOnce sync.Once
	entered     chan struct{}
}

func newFakeDevice(status, mode string) *fakeDevice {
	return &fakeDevice{status: status, mode: mode, entered: make(chan struct{})}
}

func (f *fakeDevice) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	f.mu.Unlock()
	time.Sleep(2 * time.Millisecond) // widen the race window for overlap detection
}

func (f *fakeDevice) exit() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeDevice) ReadStatus(ctx context.Context) (string, error) {
	f.enter()
	defer f.exit()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statusErrs) > 0 {
		err := f.statusErrs[0]
		f.statusErrs = f.statusErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.status, nil
}

func (f *fakeDevice) ReadMode(ctx context.Context) (string, error) {
	f.enter()
	defer f.exit()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingMode != "" {
		if f.modeLag > 0 {
			f.modeLag--
		} else {
			f.mode = f.pendingMode
			f.pendingMode = ""
		}
	}
	return f.mode, nil
}

func (f *fakeDevice) Invoke(ctx context.Context, c models.Control) error {
	f.enteredOnce.Do(func() { close(f.entered) })
	if f.holdInvoke != nil {
		<-f.holdInvoke
	}
	f.enter()
	defer f.exit()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invokeErr != nil {
		return f.invokeErr
	}
	f.invokes = append(f.invokes, c)
	if f.frozen {
		return nil
	}
	switch c {
	case models.ControlStart:
		f.status = "Charging"
	case models.ControlStop:
		f.status = "Ready"
	case models.ControlSetEco:
		f.pendingMode = "Eco"
	case models.ControlSetFull:
		f.pendingMode = "Full"
	case models.ControlSetSolar:
		f.pendingMode = "Solar"
	}
	return nil
}

func (f *fakeDevice) invokeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invokes)
}

func newTestEngine(d *fakeDevice, opts ControlOptions) *ControlService {
	if opts.ActionTimeout == 0 {
		opts.ActionTimeout = 500 * time.Millisecond
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	return NewControlService(d, nil, nil, nil, opts)
}

func TestExecute_GetStatus(t *testing.T) {
	d := newFakeDevice("Finishing", "Eco")
	eng := newTestEngine(d, ControlOptions{})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionGetStatus})
	if !out.Succeeded || out.ObservedAfter.Status != models.StateFinishing {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Mutated {
		t.Fatalf("read must not mutate")
	}
}

func TestExecute_GetStatus_Unreachable(t *testing.T) {
	d := newFakeDevice("Ready", "Eco")
	unreachable := fmt.Errorf("%w: connection refused", panel.ErrUnreachable)
	d.statusErrs = []error{unreachable, unreachable}
	eng := newTestEngine(d, ControlOptions{})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionGetStatus})
	if out.Succeeded || out.Error != models.ErrDeviceUnreachable {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestExecute_GetStatus_RetriesUnreachableOnce(t *testing.T) {
	d := newFakeDevice("Ready", "Eco")
	d.statusErrs = []error{fmt.Errorf("%w: flaky", panel.ErrUnreachable)}
	eng := newTestEngine(d, ControlOptions{})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionGetStatus})
	if !out.Succeeded || out.ObservedAfter.Status != models.StateReady {
		t.Fatalf("expected retry to recover, got %+v", out)
	}
}

func TestExecute_GetStatus_UnrecognizedTextSurfacedVerbatim(t *testing.T) {
	d := newFakeDevice("Fault E42", "Eco")
	eng := newTestEngine(d, ControlOptions{})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionGetStatus})
	if out.Succeeded || out.Error != models.ErrStateUnrecognized {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.ObservedAfter.Status != models.StateUnknown || out.ObservedAfter.RawStatus != "Fault E42" {
		t.Fatalf("raw text not surfaced: %+v", out.ObservedAfter)
	}
}

func TestExecute_Start_FromReady(t *testing.T) {
	d := newFakeDevice("Ready", "Eco")
	eng := newTestEngine(d, ControlOptions{})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionStart})
	if !out.Succeeded || !out.Mutated {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.ObservedBefore.Status != models.StateReady || out.ObservedAfter.Status != models.StateCharging {
		t.Fatalf("observations: before=%+v after=%+v", out.ObservedBefore, out.ObservedAfter)
	}
	if d.invokeCount() != 1 {
		t.Fatalf("expected 1 invoke, got %d", d.invokeCount())
	}
}

func TestExecute_Start_AlreadyCharging_NoMutation(t *testing.T) {
	d := newFakeDevice("Charging", "Eco")
	eng := newTestEngine(d, ControlOptions{})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionStart})
	if !out.Succeeded || out.Mutated {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.SkippedReason != models.SkipAlreadyActive {
		t.Fatalf("skip reason = %q", out.SkippedReason)
	}
	if d.invokeCount() != 0 {
		t.Fatalf("device was touched: %v", d.invokes)
	}
}

func TestExecute_Start_TwiceMutatesOnce(t *testing.T) {
	d := newFakeDevice("Ready", "Eco")
	eng := newTestEngine(d, ControlOptions{})

	first := eng.Execute(context.Background(), models.Action{Kind: models.ActionStart})
	second := eng.Execute(context.Background(), models.Action{Kind: models.ActionStart})

	if !first.Mutated || second.Mutated {
		t.Fatalf("mutations: first=%v second=%v", first.Mutated, second.Mutated)
	}
	if second.SkippedReason != models.SkipAlreadyActive {
		t.Fatalf("second skip reason = %q", second.SkippedReason)
	}
	if d.invokeCount() != 1 {
		t.Fatalf("expected exactly 1 device mutation across both calls, got %d", d.invokeCount())
	}
}

func TestExecute_Start_WhileFinishingProceeds(t *testing.T) {
	// Starting during Finishing is allowed; only Stop is protected.
	d := newFakeDevice("Finishing", "Eco")
	eng := newTestEngine(d, ControlOptions{})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionStart})
	if !out.Succeeded || !out.Mutated || out.SkippedReason != "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if d.invokeCount() != 1 {
		t.Fatalf("expected invoke, got %d", d.invokeCount())
	}
}

func TestExecute_Start_UnknownBeforeStateStillExecutes(t *testing.T) {
	d := newFakeDevice("???", "Eco")
	d.frozen = true
	eng := newTestEngine(d, ControlOptions{ActionTimeout: 30 * time.Millisecond, PollInterval: time.Millisecond})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionStart})
	if out.ObservedBefore.Status != models.StateUnknown || out.ObservedBefore.RawStatus != "???" {
		t.Fatalf("before observation: %+v", out.ObservedBefore)
	}
	if d.invokeCount() != 1 {
		t.Fatalf("action must still execute from Unknown, invokes=%d", d.invokeCount())
	}
}

func TestExecute_Stop_FinishingProtected(t *testing.T) {
	d := newFakeDevice("Finishing", "Eco")
	eng := newTestEngine(d, ControlOptions{})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionStop})
	if !out.Succeeded || out.Mutated {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.SkippedReason != models.SkipFinishingProtected {
		t.Fatalf("skip reason = %q", out.SkippedReason)
	}
	if out.Error != "" {
		t.Fatalf("a protected skip is not an error: %+v", out)
	}
	if d.invokeCount() != 0 {
		t.Fatalf("device was touched: %v", d.invokes)
	}

	// Once the cycle resolves to Charging, Stop performs the mutation.
	d.mu.Lock()
	d.status = "Charging"
	d.mu.Unlock()
	out = eng.Execute(context.Background(), models.Action{Kind: models.ActionStop})
	if !out.Succeeded || !out.Mutated || out.ObservedAfter.Status != models.StateReady {
		t.Fatalf("unexpected outcome after finishing resolved: %+v", out)
	}
}

func TestExecute_Stop_AlreadyInactive(t *testing.T) {
	d := newFakeDevice("Ready", "Eco")
	eng := newTestEngine(d, ControlOptions{})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionStop})
	if !out.Succeeded || out.Mutated || out.SkippedReason != models.SkipAlreadyInactive {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if d.invokeCount() != 0 {
		t.Fatalf("device was touched: %v", d.invokes)
	}
}

func TestExecute_SetMode_AlreadyInDesiredMode(t *testing.T) {
	d := newFakeDevice("Ready", "Solar")
	eng := newTestEngine(d, ControlOptions{})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionSetMode, Mode: models.ModeSolar})
	if !out.Succeeded || out.Mutated || out.SkippedReason != models.SkipAlreadyInDesiredMode {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if d.invokeCount() != 0 {
		t.Fatalf("device was touched: %v", d.invokes)
	}
}

func TestExecute_SetMode_RoundTrip(t *testing.T) {
	d := newFakeDevice("Charging", "Eco")
	eng := newTestEngine(d, ControlOptions{})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionSetMode, Mode: models.ModeSolar})
	if !out.Succeeded || !out.Mutated || out.ObservedAfter.Mode != models.ModeSolar {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	read := eng.Execute(context.Background(), models.Action{Kind: models.ActionGetMode})
	if !read.Succeeded || read.ObservedAfter.Mode != models.ModeSolar {
		t.Fatalf("round-trip read = %+v", read)
	}
}

func TestExecute_SetMode_SecondVerificationRead_NoSecondPress(t *testing.T) {
	d := newFakeDevice("Charging", "Eco")
	d.modeLag = 1 // first verification read still shows the old mode
	eng := newTestEngine(d, ControlOptions{})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionSetMode, Mode: models.ModeFull})
	if !out.Succeeded || out.ObservedAfter.Mode != models.ModeFull {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if d.invokeCount() != 1 {
		t.Fatalf("button pressed %d times, want 1", d.invokeCount())
	}
}

func TestExecute_SetMode_NeverApplies_ActionFailed(t *testing.T) {
	d := newFakeDevice("Charging", "Eco")
	d.frozen = true
	eng := newTestEngine(d, ControlOptions{})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionSetMode, Mode: models.ModeFull})
	if out.Succeeded || out.Error != models.ErrActionFailed {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if d.invokeCount() != 1 {
		t.Fatalf("button pressed %d times, want 1", d.invokeCount())
	}
}

func TestExecute_Start_TimeoutWhenPanelNeverReflects(t *testing.T) {
	d := newFakeDevice("Ready", "Eco")
	d.frozen = true
	eng := newTestEngine(d, ControlOptions{ActionTimeout: 30 * time.Millisecond, PollInterval: time.Millisecond})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionStart})
	if out.Succeeded || out.Error != models.ErrTimeout {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if !out.Mutated {
		t.Fatalf("the press happened; outcome must say so")
	}
}

func TestExecute_SerializesDeviceAccess(t *testing.T) {
	d := newFakeDevice("Ready", "Eco")
	eng := newTestEngine(d, ControlOptions{SerializeReads: true, ActionTimeout: 2 * time.Second, PollInterval: time.Millisecond})

	actions := []models.Action{
		{Kind: models.ActionStart},
		{Kind: models.ActionSetMode, Mode: models.ModeSolar},
		{Kind: models.ActionGetStatus},
		{Kind: models.ActionStop},
		{Kind: models.ActionSetMode, Mode: models.ModeEco},
		{Kind: models.ActionGetMode},
	}

	var wg sync.WaitGroup
	for _, a := range actions {
		wg.Add(1)
		go func(a models.Action) {
			defer wg.Done()
			eng.Execute(context.Background(), a)
		}(a)
	}
	wg.Wait()

	if d.overlap {
		t.Fatalf("device observed overlapping calls")
	}
}

func TestExecute_BusyUnderRejectPolicy(t *testing.T) {
	d := newFakeDevice("Ready", "Eco")
	d.holdInvoke = make(chan struct{})
	eng := newTestEngine(d, ControlOptions{RejectWhenBusy: true, ActionTimeout: 2 * time.Second, PollInterval: time.Millisecond})

	done := make(chan models.ActionOutcome, 1)
	go func() {
		done <- eng.Execute(context.Background(), models.Action{Kind: models.ActionStart})
	}()

	<-d.entered // first call is now inside the device interaction

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionStop})
	if out.Error != models.ErrBusy {
		t.Fatalf("expected Busy, got %+v", out)
	}

	close(d.holdInvoke)
	first := <-done
	if !first.Succeeded {
		t.Fatalf("held call should still complete: %+v", first)
	}
}

func TestExecute_ReadsBypassGateWhenConfigured(t *testing.T) {
	d := newFakeDevice("Ready", "Eco")
	d.holdInvoke = make(chan struct{})
	eng := newTestEngine(d, ControlOptions{RejectWhenBusy: true, ActionTimeout: 2 * time.Second, PollInterval: time.Millisecond})

	done := make(chan models.ActionOutcome, 1)
	go func() {
		done <- eng.Execute(context.Background(), models.Action{Kind: models.ActionStart})
	}()
	<-d.entered

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionGetStatus})
	if out.Error == models.ErrBusy {
		t.Fatalf("read should bypass the gate: %+v", out)
	}

	close(d.holdInvoke)
	<-done
}

func TestExecute_InvokeErrorSurfaced(t *testing.T) {
	d := newFakeDevice("Ready", "Eco")
	d.invokeErr = fmt.Errorf("%w: click failed", panel.ErrUnreachable)
	eng := newTestEngine(d, ControlOptions{})

	out := eng.Execute(context.Background(), models.Action{Kind: models.ActionStart})
	if out.Succeeded || out.Error != models.ErrDeviceUnreachable {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Mutated {
		t.Fatalf("failed press must not count as a mutation")
	}
}

func TestClassify(t *testing.T) {
	if classify(context.DeadlineExceeded) != models.ErrTimeout {
		t.Fatalf("deadline should classify as timeout")
	}
	if classify(fmt.Errorf("%w: x", panel.ErrUnreachable)) != models.ErrDeviceUnreachable {
		t.Fatalf("unreachable should classify as device_unreachable")
	}
	if classify(errors.New("weird")) != models.ErrDeviceUnreachable {
		t.Fatalf("unknown errors default to device_unreachable")
	}
}
