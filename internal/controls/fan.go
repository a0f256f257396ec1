package controls

import (
	"context"
	"fmt"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/modbusclient"
	"github.com/Agrid-Dev/easycontrols/internal/transcode"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

// DefaultTurnOnPercentage is used when the fan is turned on without a speed
// or preset.
const DefaultTurnOnPercentage = 50

// FanStage reads the stage currently requested from the unit.
func (c *Controls) FanStage(ctx context.Context) (ventilation.Stage, error) {
	return c.stage(ctx, catalog.FanStage)
}

// fanVariables decide the stage the fan runs at.
var fanVariables = []string{
	catalog.PartyMode,
	catalog.PartyModeFanStage,
	catalog.StandbyMode,
	catalog.StandbyModeFanStage,
	catalog.OperatingMode,
	catalog.FanStage,
}

// FanState reads the fan state in one batch. Unlike FanStage it honors an
// active device preset, so the stage is the one the fan runs at.
func (c *Controls) FanState(ctx context.Context) (ventilation.FanState, error) {
	readings := make(map[string]Reading, len(fanVariables))
	err := c.client.Batch(ctx, func(s *modbusclient.Session) error {
		for _, name := range fanVariables {
			d, err := c.catalog.Lookup(name)
			if err != nil {
				return err
			}
			words, err := readWords(s.Transact, d)
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			v, err := transcode.Decode(d, words)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			readings[name] = Reading{Value: v}
		}
		return nil
	})
	if err != nil {
		return ventilation.FanState{}, fmt.Errorf("fan state: %w", err)
	}
	fs, ok := NewSnapshot(c.now(), readings).FanState()
	if !ok {
		return ventilation.FanState{}, fmt.Errorf("fan state: %w", ErrUnavailable)
	}
	return fs, nil
}

// PartyFanStage reads the stage the unit uses for its own party preset.
func (c *Controls) PartyFanStage(ctx context.Context) (ventilation.Stage, error) {
	return c.stage(ctx, catalog.PartyModeFanStage)
}

func (c *Controls) stage(ctx context.Context, name string) (ventilation.Stage, error) {
	v, err := c.Get(ctx, name)
	if err != nil {
		return ventilation.StageOff, err
	}
	s, ok := v.Stage()
	if !ok {
		return ventilation.StageOff, fmt.Errorf("%s: %w", name, transcode.ErrDecoding)
	}
	return s, nil
}

// SetFanStage writes the fan stage register only.
func (c *Controls) SetFanStage(ctx context.Context, s ventilation.Stage) error {
	return c.Set(ctx, catalog.FanStage, transcode.Stage(s))
}

// SetSpeed runs the fan at s in manual mode, leaving any preset. Stage off
// turns the fan off.
func (c *Controls) SetSpeed(ctx context.Context, s ventilation.Stage) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %d", ventilation.ErrInvalidStage, s)
	}
	if s == ventilation.StageOff {
		return c.TurnOff(ctx)
	}
	if err := c.disablePresets(ctx); err != nil {
		return err
	}
	if err := c.Set(ctx, catalog.OperatingMode, transcode.Mode(ventilation.ModeManual)); err != nil {
		return err
	}
	return c.SetFanStage(ctx, s)
}

func (c *Controls) SetPercentage(ctx context.Context, pct int) error {
	s, err := ventilation.StageFromPercentage(pct)
	if err != nil {
		return err
	}
	return c.SetSpeed(ctx, s)
}

// SetPreset switches the unit to a device preset. PresetNone returns to
// manual operation.
func (c *Controls) SetPreset(ctx context.Context, p ventilation.Preset) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %d", ventilation.ErrInvalidPreset, p)
	}
	if err := c.disablePresets(ctx); err != nil {
		return err
	}
	switch p {
	case ventilation.PresetAuto:
		return c.Set(ctx, catalog.OperatingMode, transcode.Mode(ventilation.ModeAuto))
	case ventilation.PresetParty:
		return c.Set(ctx, catalog.PartyMode, transcode.Bool(true))
	case ventilation.PresetStandby:
		return c.Set(ctx, catalog.StandbyMode, transcode.Bool(true))
	default:
		return c.Set(ctx, catalog.OperatingMode, transcode.Mode(ventilation.ModeManual))
	}
}

// TurnOn starts the fan at pct, or in preset when pct is nil. With neither,
// it runs at DefaultTurnOnPercentage.
func (c *Controls) TurnOn(ctx context.Context, pct *int, preset *ventilation.Preset) error {
	if pct == nil && preset == nil {
		p := DefaultTurnOnPercentage
		pct = &p
	}
	if pct != nil {
		return c.SetPercentage(ctx, *pct)
	}
	return c.SetPreset(ctx, *preset)
}

// TurnOff clears both presets and stops the fan in manual mode.
func (c *Controls) TurnOff(ctx context.Context) error {
	if err := c.disablePresets(ctx); err != nil {
		return err
	}
	if err := c.Set(ctx, catalog.OperatingMode, transcode.Mode(ventilation.ModeManual)); err != nil {
		return err
	}
	return c.SetFanStage(ctx, ventilation.StageOff)
}

func (c *Controls) disablePresets(ctx context.Context) error {
	if err := c.Set(ctx, catalog.PartyMode, transcode.Bool(false)); err != nil {
		return err
	}
	return c.Set(ctx, catalog.StandbyMode, transcode.Bool(false))
}
