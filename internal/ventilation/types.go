package ventilation

import (
	"fmt"
	"strconv"
)

// Stage is the fan stage of the unit. The integer value is the one the
// device stores.
type Stage int

const (
	StageOff Stage = iota
	StageBasic
	StageRated
	StageIntensive
	StageMaximum
)

// Speeds lists the named running stages in ascending order.
var Speeds = []Stage{StageBasic, StageRated, StageIntensive, StageMaximum}

func (s Stage) Valid() bool {
	return s >= StageOff && s <= StageMaximum
}

func (s Stage) String() string {
	switch s {
	case StageOff:
		return "off"
	case StageBasic:
		return "basic"
	case StageRated:
		return "rated"
	case StageIntensive:
		return "intensive"
	case StageMaximum:
		return "maximum"
	default:
		return "unknown"
	}
}

// ParseStage accepts a stage name or its numeric value.
func ParseStage(s string) (Stage, error) {
	switch s {
	case "off":
		return StageOff, nil
	case "basic":
		return StageBasic, nil
	case "rated":
		return StageRated, nil
	case "intensive":
		return StageIntensive, nil
	case "maximum":
		return StageMaximum, nil
	}
	if n, err := strconv.Atoi(s); err == nil && Stage(n).Valid() {
		return Stage(n), nil
	}
	return StageOff, fmt.Errorf("%w: %q", ErrInvalidStage, s)
}

// Percentage maps a stage onto an evenly spaced 0-100 scale.
func (s Stage) Percentage() int {
	if !s.Valid() {
		return 0
	}
	return int(s) * 100 / len(Speeds)
}

// StageFromPercentage returns the lowest stage whose percentage is at least p.
func StageFromPercentage(p int) (Stage, error) {
	if p < 0 || p > 100 {
		return StageOff, fmt.Errorf("%w: percentage %d", ErrInvalidStage, p)
	}
	if p == 0 {
		return StageOff, nil
	}
	for _, s := range Speeds {
		if p <= s.Percentage() {
			return s, nil
		}
	}
	return StageMaximum, nil
}

// OperatingMode is the device operating mode register.
type OperatingMode int

const (
	ModeAuto OperatingMode = iota
	ModeManual
)

func (m OperatingMode) Valid() bool {
	return m == ModeAuto || m == ModeManual
}

func (m OperatingMode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

func ParseOperatingMode(s string) (OperatingMode, error) {
	switch s {
	case "auto", "0":
		return ModeAuto, nil
	case "manual", "1":
		return ModeManual, nil
	default:
		return ModeAuto, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Preset is the fan preset exposed to the host.
type Preset int

const (
	PresetNone Preset = iota
	PresetAuto
	PresetParty
	PresetStandby
)

func (p Preset) Valid() bool {
	return p >= PresetNone && p <= PresetStandby
}

func (p Preset) String() string {
	switch p {
	case PresetNone:
		return "none"
	case PresetAuto:
		return "auto"
	case PresetParty:
		return "party"
	case PresetStandby:
		return "standby"
	default:
		return "unknown"
	}
}

func ParsePreset(s string) (Preset, error) {
	switch s {
	case "none", "":
		return PresetNone, nil
	case "auto":
		return PresetAuto, nil
	case "party":
		return PresetParty, nil
	case "standby", "stand-by":
		return PresetStandby, nil
	default:
		return PresetNone, fmt.Errorf("%w: %q", ErrInvalidPreset, s)
	}
}

// FanState is the host facing view of the fan.
type FanState struct {
	Stage  Stage
	On     bool
	Preset Preset
}

func (f FanState) Percentage() int {
	return f.Stage.Percentage()
}
