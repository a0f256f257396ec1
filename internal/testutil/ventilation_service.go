package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/controls"
	"github.com/Agrid-Dev/easycontrols/internal/device"
	"github.com/Agrid-Dev/easycontrols/internal/party"
	"github.com/Agrid-Dev/easycontrols/internal/transcode"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

// Call records one service invocation.
type Call struct {
	Name     string
	Stage    ventilation.Stage
	Speed    *ventilation.Stage
	Duration time.Duration
	Pct      *int
	Preset   *ventilation.Preset
	Variable string
	Value    any
}

// FakeVentilationService is a reusable fake implementing ports.VentilationService.
// Put ONLY what multiple test packages need here.
type FakeVentilationService struct {
	mu sync.Mutex

	Snap  *controls.Snapshot
	Dev   device.Info
	Cat   *catalog.Catalog
	Party party.State
	Vars  map[string]transcode.Value

	// Err is returned by every command when set.
	Err   error
	Calls []Call
}

func NewFakeVentilationService() *FakeVentilationService {
	return &FakeVentilationService{
		Snap: SampleSnapshot(),
		Dev:  device.New("unit-1", "00:0A:5C:1E:7F:21", "SIM0000000000001", "KWL EC 300 W R", "2.27"),
		Cat:  catalog.Default(),
		Vars: map[string]transcode.Value{},
	}
}

// SampleSnapshot is a unit on its rated stage with one unreadable sensor.
func SampleSnapshot() *controls.Snapshot {
	ok := func(v transcode.Value) controls.Reading { return controls.Reading{Value: v} }
	return controls.NewSnapshot(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), map[string]controls.Reading{
		catalog.FanStage:                ok(transcode.Stage(ventilation.StageRated)),
		catalog.PartyModeFanStage:       ok(transcode.Stage(ventilation.StageIntensive)),
		catalog.StandbyModeFanStage:     ok(transcode.Stage(ventilation.StageOff)),
		catalog.PartyMode:               ok(transcode.Bool(false)),
		catalog.StandbyMode:             ok(transcode.Bool(false)),
		catalog.OperatingMode:           ok(transcode.Mode(ventilation.ModeManual)),
		catalog.PercentageFanSpeed:      ok(transcode.Int(50)),
		catalog.TemperatureSupplyAir:    ok(transcode.Float(18.2)),
		catalog.TemperatureExtractAir:   ok(transcode.Float(21.4)),
		catalog.TemperatureOutsideAir:   {Err: controls.ErrUnavailable},
		catalog.Errors:                  ok(transcode.Flags(0)),
		catalog.Warnings:                ok(transcode.Flags(0)),
		catalog.Infos:                   ok(transcode.Flags(catalog.InfoFilterChange)),
		catalog.SoftwareVersion:         ok(transcode.Text("2.27")),
		controls.AirflowRate:            ok(transcode.Float(150)),
		controls.HeatRecoveryEfficiency: {Err: controls.ErrUnavailable},
	})
}

func (f *FakeVentilationService) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, c)
	return f.Err
}

// LastCall returns the most recent call, or a zero Call.
func (f *FakeVentilationService) LastCall() Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Calls) == 0 {
		return Call{}
	}
	return f.Calls[len(f.Calls)-1]
}

func (f *FakeVentilationService) SetSnapshot(s *controls.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Snap = s
}

func (f *FakeVentilationService) Snapshot() *controls.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Snap
}

func (f *FakeVentilationService) Info() device.Info { return f.Dev }

func (f *FakeVentilationService) Catalog() *catalog.Catalog { return f.Cat }

func (f *FakeVentilationService) PartyState() party.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Party
}

func (f *FakeVentilationService) StartPartyMode(_ context.Context, speed *ventilation.Stage, d time.Duration) error {
	return f.record(Call{Name: "start_party_mode", Speed: speed, Duration: d})
}

func (f *FakeVentilationService) StopPartyMode(context.Context) error {
	return f.record(Call{Name: "stop_party_mode"})
}

func (f *FakeVentilationService) PartyMode(_ context.Context, speed ventilation.Stage, d time.Duration) error {
	return f.record(Call{Name: "party_mode", Stage: speed, Duration: d})
}

func (f *FakeVentilationService) SetSpeed(_ context.Context, s ventilation.Stage) error {
	return f.record(Call{Name: "set_speed", Stage: s})
}

func (f *FakeVentilationService) SetFanStage(_ context.Context, s ventilation.Stage) error {
	return f.record(Call{Name: "set_fan_stage", Stage: s})
}

func (f *FakeVentilationService) SetPercentage(_ context.Context, pct int) error {
	return f.record(Call{Name: "set_percentage", Pct: &pct})
}

func (f *FakeVentilationService) SetPreset(_ context.Context, p ventilation.Preset) error {
	return f.record(Call{Name: "set_preset", Preset: &p})
}

func (f *FakeVentilationService) TurnOn(_ context.Context, pct *int, preset *ventilation.Preset) error {
	return f.record(Call{Name: "turn_on", Pct: pct, Preset: preset})
}

func (f *FakeVentilationService) TurnOff(context.Context) error {
	return f.record(Call{Name: "turn_off"})
}

func (f *FakeVentilationService) GetVariable(_ context.Context, name string) (transcode.Value, error) {
	if _, err := f.Cat.Lookup(name); err != nil {
		return transcode.Value{}, err
	}
	if err := f.record(Call{Name: "get_variable", Variable: name}); err != nil {
		return transcode.Value{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Vars[name], nil
}

func (f *FakeVentilationService) SetVariable(_ context.Context, name string, value any) error {
	d, err := f.Cat.Lookup(name)
	if err != nil {
		return err
	}
	v, err := transcode.Coerce(d, value)
	if err != nil {
		return err
	}
	if _, err := transcode.Encode(d, v); err != nil {
		return err
	}
	if err := f.record(Call{Name: "set_variable", Variable: name, Value: value}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Vars[name] = v
	return nil
}
