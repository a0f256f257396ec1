package controls

import (
	"sort"
	"time"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/transcode"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

// Names of the readings computed from other readings.
const (
	AirflowRate            = "airflow_rate"
	HeatRecoveryEfficiency = "heat_recovery_efficiency"
)

type Reading struct {
	Value transcode.Value
	Err   error
}

func (r Reading) Available() bool { return r.Err == nil }

// Snapshot is the state of the device as of one refresh. It is never
// modified once Refresh returns it.
type Snapshot struct {
	takenAt  time.Time
	readings map[string]Reading
}

// NewSnapshot builds a snapshot from readings. It is exported for tests and
// fakes of the services built on top of Controls.
func NewSnapshot(takenAt time.Time, readings map[string]Reading) *Snapshot {
	s := &Snapshot{takenAt: takenAt, readings: make(map[string]Reading, len(readings))}
	for k, v := range readings {
		s.readings[k] = v
	}
	return s
}

func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// Reading returns the reading for name. Names absent from the snapshot are
// unavailable.
func (s *Snapshot) Reading(name string) Reading {
	r, ok := s.readings[name]
	if !ok {
		return Reading{Err: ErrUnavailable}
	}
	return r
}

// Value returns the value of name when it is available.
func (s *Snapshot) Value(name string) (transcode.Value, bool) {
	r := s.Reading(name)
	if !r.Available() {
		return transcode.Value{}, false
	}
	return r.Value, true
}

// Names returns every reading name in lexical order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.readings))
	for n := range s.readings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Unavailable returns the names of the readings that failed, in lexical order.
func (s *Snapshot) Unavailable() []string {
	var names []string
	for n, r := range s.readings {
		if !r.Available() {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func (s *Snapshot) Float(name string) (float64, bool) {
	v, ok := s.Value(name)
	if !ok {
		return 0, false
	}
	return v.Float()
}

func (s *Snapshot) Int(name string) (int64, bool) {
	v, ok := s.Value(name)
	if !ok {
		return 0, false
	}
	return v.Int()
}

func (s *Snapshot) Bool(name string) (bool, bool) {
	v, ok := s.Value(name)
	if !ok {
		return false, false
	}
	return v.Bool()
}

func (s *Snapshot) Stage(name string) (ventilation.Stage, bool) {
	v, ok := s.Value(name)
	if !ok {
		return ventilation.StageOff, false
	}
	return v.Stage()
}

func (s *Snapshot) Mode(name string) (ventilation.OperatingMode, bool) {
	v, ok := s.Value(name)
	if !ok {
		return ventilation.ModeAuto, false
	}
	return v.Mode()
}

// FanState derives the host facing fan state. An active device preset
// decides which stage register is reported.
func (s *Snapshot) FanState() (ventilation.FanState, bool) {
	party, ok1 := s.Bool(catalog.PartyMode)
	standby, ok2 := s.Bool(catalog.StandbyMode)
	mode, ok3 := s.Mode(catalog.OperatingMode)
	if !ok1 || !ok2 || !ok3 {
		return ventilation.FanState{}, false
	}

	var preset ventilation.Preset
	stageName := catalog.FanStage
	switch {
	case party:
		preset, stageName = ventilation.PresetParty, catalog.PartyModeFanStage
	case standby:
		preset, stageName = ventilation.PresetStandby, catalog.StandbyModeFanStage
	case mode == ventilation.ModeAuto:
		preset = ventilation.PresetAuto
	default:
		preset = ventilation.PresetNone
	}

	stage, ok := s.Stage(stageName)
	if !ok {
		return ventilation.FanState{}, false
	}
	return ventilation.FanState{Stage: stage, On: stage != ventilation.StageOff, Preset: preset}, true
}
