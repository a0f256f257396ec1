package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/controls"
	"github.com/Agrid-Dev/easycontrols/internal/party"
	"github.com/Agrid-Dev/easycontrols/internal/simulator"
	"github.com/Agrid-Dev/easycontrols/internal/simulator/simtest"
	"github.com/Agrid-Dev/easycontrols/internal/transcode"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newBridge(t *testing.T, overrides map[string]string) (*Bridge, *simulator.Device, *fakeClock) {
	t.Helper()
	dev, addr := simtest.Start(t, overrides)
	ctl := controls.New(simtest.Client(t, addr), catalog.Default(), "unit-1", zerolog.Nop())
	if _, err := ctl.Init(t.Context()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	b, err := New(ctl, Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	b.now = clock.Now
	return b, dev, clock
}

func deviceStage(t *testing.T, dev *simulator.Device) string {
	t.Helper()
	v, ok := dev.Value(catalog.FanStage)
	if !ok {
		t.Fatalf("simulator has no fan stage")
	}
	return v
}

func TestNewDefaults(t *testing.T) {
	b, err := New(nil, Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.cfg.PollInterval != DefaultPollInterval || b.cfg.DefaultPartyDuration != party.DefaultDuration {
		t.Fatalf("defaults not applied: %+v", b.cfg)
	}
	if _, err := New(nil, Config{DefaultPartyDuration: time.Minute}, zerolog.Nop()); !errors.Is(err, party.ErrInvalidDuration) {
		t.Fatalf("expected invalid duration, got %v", err)
	}
}

func TestPollStoresSnapshot(t *testing.T) {
	b, _, _ := newBridge(t, nil)
	if b.Snapshot() != nil {
		t.Fatalf("snapshot before first poll")
	}
	if err := b.Poll(t.Context()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	fan, ok := b.Snapshot().FanState()
	if !ok {
		t.Fatalf("fan state unavailable")
	}
	want := ventilation.FanState{Stage: ventilation.StageRated, On: true, Preset: ventilation.PresetNone}
	if fan != want {
		t.Fatalf("fan=%+v want %+v", fan, want)
	}
}

func TestStartPartyUsesDeviceStageAndExpires(t *testing.T) {
	b, dev, clock := newBridge(t, nil)
	ctx := t.Context()

	if err := b.StartPartyMode(ctx, nil, 0); err != nil {
		t.Fatalf("StartPartyMode: %v", err)
	}
	st := b.PartyState()
	if !st.Active || st.Speed != ventilation.StageIntensive || st.Saved != ventilation.StageRated || st.Remaining != party.DefaultDuration {
		t.Fatalf("state=%+v", st)
	}
	if got := deviceStage(t, dev); got != "3" {
		t.Fatalf("device stage=%s want 3", got)
	}

	clock.Advance(30 * time.Minute)
	if err := b.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	if got := b.PartyState().Remaining; got != 30*time.Minute {
		t.Fatalf("remaining=%s want 30m", got)
	}

	clock.Advance(30 * time.Minute)
	if err := b.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	if b.PartyState().Active {
		t.Fatalf("party still active after expiry")
	}
	if got := deviceStage(t, dev); got != "2" {
		t.Fatalf("device stage=%s want restored 2", got)
	}
	if s, _ := b.Snapshot().Stage(catalog.FanStage); s != ventilation.StageRated {
		t.Fatalf("snapshot stage=%v want rated", s)
	}
}

func TestRestartKeepsActiveSpeed(t *testing.T) {
	b, _, _ := newBridge(t, nil)
	ctx := t.Context()

	speed := ventilation.StageMaximum
	if err := b.StartPartyMode(ctx, &speed, 20*time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := b.StartPartyMode(ctx, nil, 90*time.Minute); err != nil {
		t.Fatal(err)
	}
	st := b.PartyState()
	if st.Speed != ventilation.StageMaximum || st.Remaining != 90*time.Minute || st.Saved != ventilation.StageRated {
		t.Fatalf("state=%+v", st)
	}
}

func TestPollDuringStartKeepsFullDuration(t *testing.T) {
	b, dev, clock := newBridge(t, nil)
	ctx := t.Context()

	if err := b.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Minute)
	dev.SetLatency(10 * time.Millisecond)

	speed := ventilation.StageIntensive
	started := make(chan error, 1)
	go func() { started <- b.StartPartyMode(ctx, &speed, 5*time.Minute) }()
	time.Sleep(5 * time.Millisecond)
	if err := b.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if err := <-started; err != nil {
		t.Fatalf("StartPartyMode: %v", err)
	}
	dev.SetLatency(0)

	if st := b.PartyState(); !st.Active || st.Remaining != 5*time.Minute {
		t.Fatalf("state=%+v want active with 5m remaining", st)
	}
	if got := deviceStage(t, dev); got != "3" {
		t.Fatalf("device stage=%s want 3", got)
	}
}

func TestStartPartyOverridesDevicePreset(t *testing.T) {
	b, dev, _ := newBridge(t, map[string]string{
		catalog.StandbyMode:         "1",
		catalog.StandbyModeFanStage: "0",
	})
	ctx := t.Context()

	speed := ventilation.StageMaximum
	if err := b.StartPartyMode(ctx, &speed, 30*time.Minute); err != nil {
		t.Fatalf("StartPartyMode: %v", err)
	}
	if st := b.PartyState(); st.Saved != ventilation.StageOff {
		t.Fatalf("saved=%v want the standby stage off", st.Saved)
	}
	if err := b.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	fan, ok := b.Snapshot().FanState()
	if !ok || fan.Stage != ventilation.StageMaximum || !fan.On {
		t.Fatalf("fan=%+v want running at maximum", fan)
	}
	if v, _ := dev.Value(catalog.StandbyMode); v != "0" {
		t.Fatalf("standby_mode=%s, preset still overrides the party", v)
	}

	if err := b.StopPartyMode(ctx); err != nil {
		t.Fatalf("StopPartyMode: %v", err)
	}
	if got := deviceStage(t, dev); got != "0" {
		t.Fatalf("device stage=%s want restored 0", got)
	}
}

func TestSetFanStageKeepsPreset(t *testing.T) {
	b, dev, _ := newBridge(t, map[string]string{catalog.StandbyMode: "1"})
	ctx := t.Context()

	if err := b.SetFanStage(ctx, ventilation.StageIntensive); err != nil {
		t.Fatalf("SetFanStage: %v", err)
	}
	if got := deviceStage(t, dev); got != "3" {
		t.Fatalf("device stage=%s want 3", got)
	}
	if v, _ := dev.Value(catalog.StandbyMode); v != "1" {
		t.Fatalf("standby_mode=%s, set_fan_stage must not clear presets", v)
	}
	if err := b.SetFanStage(ctx, ventilation.Stage(9)); !errors.Is(err, ventilation.ErrInvalidStage) {
		t.Fatalf("invalid stage err=%v", err)
	}

	if err := b.SetSpeed(ctx, ventilation.StageBasic); err != nil {
		t.Fatalf("SetSpeed: %v", err)
	}
	if v, _ := dev.Value(catalog.StandbyMode); v != "0" || deviceStage(t, dev) != "1" {
		t.Fatalf("SetSpeed left standby=%s stage=%s", v, deviceStage(t, dev))
	}
}

func TestStartPartyRejectsDuration(t *testing.T) {
	b, dev, _ := newBridge(t, nil)
	dev.ResetTransactions()

	for _, d := range []time.Duration{4 * time.Minute, 181 * time.Minute} {
		if err := b.StartPartyMode(t.Context(), nil, d); !errors.Is(err, party.ErrInvalidDuration) {
			t.Fatalf("duration %s: err=%v", d, err)
		}
	}
	if n := len(dev.Transactions()); n != 0 {
		t.Fatalf("rejected call reached the device: %d transactions", n)
	}
}

func TestDeprecatedPartyMode(t *testing.T) {
	b, dev, _ := newBridge(t, nil)
	ctx := t.Context()

	if err := b.PartyMode(ctx, ventilation.StageBasic, 15*time.Minute); err != nil {
		t.Fatal(err)
	}
	if st := b.PartyState(); !st.Active || st.Speed != ventilation.StageBasic {
		t.Fatalf("state=%+v", st)
	}
	if err := b.PartyMode(ctx, ventilation.StageOff, 0); err != nil {
		t.Fatal(err)
	}
	if b.PartyState().Active || deviceStage(t, dev) != "2" {
		t.Fatalf("off did not stop the party: %+v", b.PartyState())
	}
}

func TestExplicitSpeedAbandonsParty(t *testing.T) {
	b, dev, _ := newBridge(t, nil)
	ctx := t.Context()

	if err := b.StartPartyMode(ctx, nil, 30*time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := b.SetPercentage(ctx, 100); err != nil {
		t.Fatalf("SetPercentage: %v", err)
	}
	if b.PartyState().Active {
		t.Fatalf("party still active after explicit speed")
	}
	if got := deviceStage(t, dev); got != "4" {
		t.Fatalf("device stage=%s want 4", got)
	}
}

func TestSetVariable(t *testing.T) {
	b, dev, _ := newBridge(t, nil)
	ctx := t.Context()

	if err := b.SetVariable(ctx, catalog.BypassFromMonth, float64(4)); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}
	if v, _ := dev.Value(catalog.BypassFromMonth); v != "4" {
		t.Fatalf("bypass month=%s", v)
	}
	v, err := b.GetVariable(ctx, catalog.BypassFromMonth)
	if err != nil || v != transcode.Int(4) {
		t.Fatalf("GetVariable=%v, %v", v, err)
	}

	if err := b.SetVariable(ctx, catalog.TemperatureOutsideAir, 3.0); !errors.Is(err, transcode.ErrReadOnly) {
		t.Fatalf("read-only err=%v", err)
	}
	if err := b.SetVariable(ctx, "nope", 1); !errors.Is(err, catalog.ErrUnknownVariable) {
		t.Fatalf("unknown err=%v", err)
	}
	if err := b.SetVariable(ctx, catalog.BypassFromMonth, float64(13)); !errors.Is(err, transcode.ErrEncoding) {
		t.Fatalf("out of range err=%v", err)
	}
}

func TestRunPollsUntilCanceled(t *testing.T) {
	b, _, _ := newBridge(t, nil)
	b.cfg.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for b.Snapshot() == nil {
		if time.Now().After(deadline) {
			t.Fatalf("no snapshot after Run started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
}
