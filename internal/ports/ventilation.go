package ports

import (
	"context"
	"time"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/controls"
	"github.com/Agrid-Dev/easycontrols/internal/device"
	"github.com/Agrid-Dev/easycontrols/internal/party"
	"github.com/Agrid-Dev/easycontrols/internal/transcode"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

// VentilationService is the control-plane port used by controllers (HTTP/MQTT).
type VentilationService interface {
	// Snapshot is the latest refresh, nil until the first poll succeeds.
	Snapshot() *controls.Snapshot
	Info() device.Info
	Catalog() *catalog.Catalog
	PartyState() party.State

	// A nil speed runs the party at the active party speed, or at the
	// unit's configured party stage.
	StartPartyMode(ctx context.Context, speed *ventilation.Stage, d time.Duration) error
	StopPartyMode(ctx context.Context) error
	// Deprecated: use StartPartyMode and StopPartyMode.
	PartyMode(ctx context.Context, speed ventilation.Stage, d time.Duration) error

	// SetSpeed runs the fan at s in manual mode, leaving any device preset.
	SetSpeed(ctx context.Context, s ventilation.Stage) error
	// SetFanStage writes the fan stage alone; presets and mode are kept.
	SetFanStage(ctx context.Context, s ventilation.Stage) error
	SetPercentage(ctx context.Context, pct int) error
	SetPreset(ctx context.Context, p ventilation.Preset) error
	TurnOn(ctx context.Context, pct *int, preset *ventilation.Preset) error
	TurnOff(ctx context.Context) error

	GetVariable(ctx context.Context, name string) (transcode.Value, error)
	// SetVariable coerces a decoded JSON value for a writable variable.
	SetVariable(ctx context.Context, name string, value any) error
}
