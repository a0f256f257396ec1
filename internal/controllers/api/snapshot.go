// Package api holds the JSON shapes and service dispatch shared by the
// HTTP and MQTT controllers.
package api

import (
	"time"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/controls"
	"github.com/Agrid-Dev/easycontrols/internal/ports"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

// ---- DTOs ----

type Snapshot struct {
	DeviceID    string         `json:"device_id"`
	Device      Device         `json:"device"`
	TakenAt     *time.Time     `json:"taken_at,omitempty"`
	Fan         *Fan           `json:"fan"`
	Party       Party          `json:"party"`
	Values      map[string]any `json:"values"`
	Unavailable []string       `json:"unavailable"`
	Messages    Messages       `json:"messages"`
}

type Device struct {
	Name            string  `json:"name"`
	Model           string  `json:"model"`
	MAC             string  `json:"mac"`
	SerialNumber    string  `json:"serial_number"`
	SoftwareVersion string  `json:"software_version"`
	MaxAirflow      float64 `json:"max_airflow"`
}

type Fan struct {
	Stage      string `json:"stage"`
	On         bool   `json:"on"`
	Percentage int    `json:"percentage"`
	Preset     string `json:"preset"`
}

type Party struct {
	Active           bool    `json:"active"`
	RemainingMinutes float64 `json:"remaining_minutes"`
	Speed            string  `json:"speed,omitempty"`
	Saved            string  `json:"saved,omitempty"`
}

type Messages struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Infos    []string `json:"infos"`
}

// NewSnapshot renders the service state. Unavailable readings are null in
// Values and listed in Unavailable.
func NewSnapshot(svc ports.VentilationService) Snapshot {
	info := svc.Info()
	out := Snapshot{
		DeviceID: info.ID,
		Device: Device{
			Name:            info.Name(),
			Model:           info.Model,
			MAC:             info.MAC,
			SerialNumber:    info.SerialNumber,
			SoftwareVersion: info.SoftwareVersion,
			MaxAirflow:      info.MaxAirflow,
		},
		Values:      map[string]any{},
		Unavailable: []string{},
		Messages:    Messages{Errors: []string{}, Warnings: []string{}, Infos: []string{}},
	}

	ps := svc.PartyState()
	if ps.Active {
		out.Party = Party{
			Active:           true,
			RemainingMinutes: ps.Remaining.Minutes(),
			Speed:            ps.Speed.String(),
			Saved:            ps.Saved.String(),
		}
	}

	snap := svc.Snapshot()
	if snap == nil {
		return out
	}
	taken := snap.TakenAt()
	out.TakenAt = &taken

	for _, name := range snap.Names() {
		r := snap.Reading(name)
		if r.Available() {
			out.Values[name] = r.Value.Interface()
		} else {
			out.Values[name] = nil
		}
	}
	out.Unavailable = append(out.Unavailable, snap.Unavailable()...)

	if fs, ok := snap.FanState(); ok {
		// A host party runs the unit in manual mode; report it as the
		// party preset.
		if ps.Active && fs.Preset == ventilation.PresetNone {
			fs.Preset = ventilation.PresetParty
		}
		out.Fan = &Fan{
			Stage:      fs.Stage.String(),
			On:         fs.On,
			Percentage: fs.Percentage(),
			Preset:     fs.Preset.String(),
		}
	}

	cat := svc.Catalog()
	out.Messages.Errors = messages(cat, snap, catalog.Errors, out.Messages.Errors)
	out.Messages.Warnings = messages(cat, snap, catalog.Warnings, out.Messages.Warnings)
	out.Messages.Infos = messages(cat, snap, catalog.Infos, out.Messages.Infos)
	return out
}

func messages(cat *catalog.Catalog, snap *controls.Snapshot, name string, dst []string) []string {
	d, err := cat.Lookup(name)
	if err != nil {
		return dst
	}
	v, ok := snap.Value(name)
	if !ok {
		return dst
	}
	flags, ok := v.Flags()
	if !ok {
		return dst
	}
	return append(dst, d.Labels.Set(flags)...)
}
