package controls

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/simulator"
	"github.com/Agrid-Dev/easycontrols/internal/simulator/simtest"
	"github.com/Agrid-Dev/easycontrols/internal/transcode"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

func newControls(t *testing.T, overrides map[string]string) (*Controls, *simulator.Device) {
	t.Helper()
	dev, addr := simtest.Start(t, overrides)
	c := New(simtest.Client(t, addr), catalog.Default(), "test-unit", zerolog.Nop())
	if _, err := c.Init(t.Context()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	dev.ResetTransactions()
	return c, dev
}

func TestInitReadsIdentity(t *testing.T) {
	c, _ := newControls(t, map[string]string{catalog.ArticleDescription: "KWL EC 500 W L"})

	info := c.Info()
	if info.ID != "test-unit" || info.Model != "KWL EC 500 W L" || info.MaxAirflow != 500 {
		t.Fatalf("info=%+v", info)
	}
	if info.MAC == "" || info.SerialNumber == "" || info.SoftwareVersion != "2.27" {
		t.Fatalf("identity incomplete: %+v", info)
	}
}

func TestGetAndSet(t *testing.T) {
	c, dev := newControls(t, nil)
	ctx := t.Context()

	v, err := c.Get(ctx, catalog.TemperatureExtractAir)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != transcode.Float(21.4) {
		t.Fatalf("extract air=%v", v)
	}

	if err := c.Set(ctx, catalog.PartyModeDuration, transcode.Int(90)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := dev.Value(catalog.PartyModeDuration); got != "90" {
		t.Fatalf("device party duration=%q", got)
	}

	if _, err := c.Get(ctx, "warp_factor"); !errors.Is(err, catalog.ErrUnknownVariable) {
		t.Fatalf("unknown variable err=%v", err)
	}
}

func TestSetReadOnlySendsNothing(t *testing.T) {
	c, dev := newControls(t, nil)

	err := c.Set(t.Context(), catalog.BypassState, transcode.Bool(true))
	if !errors.Is(err, transcode.ErrReadOnly) || !errors.Is(err, transcode.ErrEncoding) {
		t.Fatalf("err=%v want read-only encoding error", err)
	}
	if n := len(dev.Transactions()); n != 0 {
		t.Fatalf("read-only set reached the device: %d transactions", n)
	}

	if err := c.Set(t.Context(), catalog.FanStage, transcode.Stage(ventilation.Stage(9))); !errors.Is(err, transcode.ErrEncoding) {
		t.Fatalf("out of range err=%v", err)
	}
	if n := len(dev.Transactions()); n != 0 {
		t.Fatalf("invalid set reached the device: %d transactions", n)
	}
}

func TestRefresh(t *testing.T) {
	c, dev := newControls(t, nil)

	snap, err := c.Refresh(t.Context())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if u := snap.Unavailable(); len(u) != 0 {
		t.Fatalf("unavailable=%v", u)
	}

	if got, _ := snap.Stage(catalog.FanStage); got != ventilation.StageRated {
		t.Fatalf("fan_stage=%v", got)
	}
	if got, _ := snap.Float(AirflowRate); got != 150 {
		t.Fatalf("airflow=%v want 150", got)
	}
	// (18.2-5.5)/(21.4-5.5) = 79.87%
	if got, _ := snap.Float(HeatRecoveryEfficiency); got != 79.87 {
		t.Fatalf("efficiency=%v want 79.87", got)
	}
	if got, _ := snap.Float(catalog.OperationHoursSupplyAirFan); got != 20576 {
		t.Fatalf("operation hours=%v want 20576", got)
	}

	// infos and info_filter_change share v01125: one query, one read.
	reads := 0
	for _, tx := range dev.Transactions() {
		if tx.Function == 3 && tx.Frame == "v01125" {
			reads++
		}
	}
	if reads != 1 {
		t.Fatalf("v01125 read %d times per refresh", reads)
	}
}

func TestRefreshPartialFailure(t *testing.T) {
	c, dev := newControls(t, nil)
	if err := dev.Fail(catalog.TemperatureOutsideAir, -1); err != nil {
		t.Fatal(err)
	}

	snap, err := c.Refresh(t.Context())
	if err != nil {
		t.Fatalf("Refresh must succeed with one failing variable: %v", err)
	}

	r := snap.Reading(catalog.TemperatureOutsideAir)
	if r.Available() {
		t.Fatalf("outside air must be unavailable")
	}
	if _, ok := snap.Float(catalog.TemperatureSupplyAir); !ok {
		t.Fatalf("supply air must stay available")
	}
	if snap.Reading(HeatRecoveryEfficiency).Available() {
		t.Fatalf("efficiency depends on outside air and must be unavailable")
	}
	want := []string{HeatRecoveryEfficiency, catalog.TemperatureOutsideAir}
	if got := snap.Unavailable(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unavailable=%v want %v", got, want)
	}
}

func TestEfficiencyUnavailableForEqualTemperatures(t *testing.T) {
	c, _ := newControls(t, map[string]string{
		catalog.TemperatureOutsideAir: "20.0",
		catalog.TemperatureSupplyAir:  "20.0",
		catalog.TemperatureExtractAir: "20.0",
	})

	snap, err := c.Refresh(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	r := snap.Reading(HeatRecoveryEfficiency)
	if r.Available() || !errors.Is(r.Err, ErrUnavailable) {
		t.Fatalf("efficiency reading=%+v want unavailable", r)
	}
}

func TestWriteDuringRefreshQueuesBehindIt(t *testing.T) {
	c, dev := newControls(t, nil)
	dev.SetLatency(2 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(t.Context())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(dev.Transactions()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("refresh never reached the device")
		}
		time.Sleep(time.Millisecond)
	}

	if err := c.Set(t.Context(), catalog.FanStage, transcode.Stage(ventilation.StageMaximum)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	log := dev.Transactions()
	last := log[len(log)-1]
	if !last.IsSet() || last.Frame != "v00102=4" {
		t.Fatalf("last transaction=%+v want the set", last)
	}
	for _, tx := range log[:len(log)-1] {
		if tx.IsSet() {
			t.Fatalf("set interleaved with refresh: %+v", log)
		}
	}
}

func TestFanOperations(t *testing.T) {
	c, dev := newControls(t, map[string]string{catalog.PartyMode: "1"})
	ctx := t.Context()

	expect := func(name, want string) {
		t.Helper()
		if got, _ := dev.Value(name); got != want {
			t.Fatalf("%s=%q want %q", name, got, want)
		}
	}

	if err := c.TurnOn(ctx, nil, nil); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}
	expect(catalog.PartyMode, "0")
	expect(catalog.OperatingMode, "1")
	expect(catalog.FanStage, "2")

	preset := ventilation.PresetAuto
	if err := c.TurnOn(ctx, nil, &preset); err != nil {
		t.Fatalf("TurnOn(auto): %v", err)
	}
	expect(catalog.OperatingMode, "0")

	if err := c.SetPercentage(ctx, 80); err != nil {
		t.Fatalf("SetPercentage: %v", err)
	}
	expect(catalog.FanStage, "4")
	expect(catalog.OperatingMode, "1")

	if err := c.SetPreset(ctx, ventilation.PresetStandby); err != nil {
		t.Fatalf("SetPreset: %v", err)
	}
	expect(catalog.StandbyMode, "1")

	if err := c.TurnOff(ctx); err != nil {
		t.Fatalf("TurnOff: %v", err)
	}
	expect(catalog.StandbyMode, "0")
	expect(catalog.FanStage, "0")

	if err := c.SetPercentage(ctx, 120); !errors.Is(err, ventilation.ErrInvalidStage) {
		t.Fatalf("SetPercentage(120) err=%v", err)
	}
}

func TestFanState(t *testing.T) {
	b := func(v bool) Reading { return Reading{Value: transcode.Bool(v)} }
	st := func(s ventilation.Stage) Reading { return Reading{Value: transcode.Stage(s)} }
	mode := func(m ventilation.OperatingMode) Reading { return Reading{Value: transcode.Mode(m)} }

	base := func() map[string]Reading {
		return map[string]Reading{
			catalog.PartyMode:           b(false),
			catalog.StandbyMode:         b(false),
			catalog.OperatingMode:       mode(ventilation.ModeManual),
			catalog.FanStage:            st(ventilation.StageRated),
			catalog.PartyModeFanStage:   st(ventilation.StageMaximum),
			catalog.StandbyModeFanStage: st(ventilation.StageOff),
		}
	}

	cases := []struct {
		name   string
		modify func(map[string]Reading)
		want   ventilation.FanState
		ok     bool
	}{
		{"manual", func(map[string]Reading) {}, ventilation.FanState{Stage: ventilation.StageRated, On: true, Preset: ventilation.PresetNone}, true},
		{"auto", func(m map[string]Reading) { m[catalog.OperatingMode] = mode(ventilation.ModeAuto) },
			ventilation.FanState{Stage: ventilation.StageRated, On: true, Preset: ventilation.PresetAuto}, true},
		{"party wins", func(m map[string]Reading) {
			m[catalog.PartyMode] = b(true)
			m[catalog.StandbyMode] = b(true)
		}, ventilation.FanState{Stage: ventilation.StageMaximum, On: true, Preset: ventilation.PresetParty}, true},
		{"standby", func(m map[string]Reading) { m[catalog.StandbyMode] = b(true) },
			ventilation.FanState{Stage: ventilation.StageOff, On: false, Preset: ventilation.PresetStandby}, true},
		{"stopped", func(m map[string]Reading) { m[catalog.FanStage] = st(ventilation.StageOff) },
			ventilation.FanState{Stage: ventilation.StageOff, On: false, Preset: ventilation.PresetNone}, true},
		{"fan stage unavailable", func(m map[string]Reading) { m[catalog.FanStage] = Reading{Err: ErrUnavailable} },
			ventilation.FanState{}, false},
		{"party flag missing", func(m map[string]Reading) { delete(m, catalog.PartyMode) },
			ventilation.FanState{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := base()
			tc.modify(m)
			got, ok := NewSnapshot(time.Now(), m).FanState()
			if ok != tc.ok || got != tc.want {
				t.Fatalf("FanState()=%+v,%v want %+v,%v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestReadFanStateHonorsPreset(t *testing.T) {
	c, dev := newControls(t, map[string]string{
		catalog.PartyMode:         "1",
		catalog.PartyModeFanStage: "4",
	})

	got, err := c.FanState(t.Context())
	if err != nil {
		t.Fatalf("FanState: %v", err)
	}
	want := ventilation.FanState{Stage: ventilation.StageMaximum, On: true, Preset: ventilation.PresetParty}
	if got != want {
		t.Fatalf("FanState=%+v want %+v", got, want)
	}
	for _, tx := range dev.Transactions() {
		if tx.IsSet() {
			t.Fatalf("reading the fan state wrote %+v", tx)
		}
	}

	if err := dev.Fail(catalog.OperatingMode, -1); err != nil {
		t.Fatal(err)
	}
	if _, err := c.FanState(t.Context()); err == nil {
		t.Fatalf("expected error with operating mode unreadable")
	}
}

func TestRefreshCanceled(t *testing.T) {
	c, dev := newControls(t, nil)
	dev.SetLatency(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Refresh(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
}
