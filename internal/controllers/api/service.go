package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Agrid-Dev/easycontrols/internal/ports"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

var (
	ErrUnknownService  = errors.New("unknown service")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Services lists the names Call accepts.
var Services = []string{
	"start_party_mode",
	"stop_party_mode",
	"party_mode",
	"set_fan_stage",
	"turn_on",
	"turn_off",
}

// Stage decodes a fan stage given by name ("intensive") or number (3).
type Stage ventilation.Stage

func (s *Stage) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		st, err := ventilation.ParseStage(name)
		if err != nil {
			return err
		}
		*s = Stage(st)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil || !ventilation.Stage(n).Valid() {
		return fmt.Errorf("%w: %s", ventilation.ErrInvalidStage, b)
	}
	*s = Stage(n)
	return nil
}

type Preset ventilation.Preset

func (p *Preset) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("%w: %s", ventilation.ErrInvalidPreset, b)
	}
	pr, err := ventilation.ParsePreset(name)
	if err != nil {
		return err
	}
	*p = Preset(pr)
	return nil
}

// ServiceArgs is the body of a service call. Duration is in minutes.
type ServiceArgs struct {
	Speed      *Stage  `json:"speed,omitempty"`
	Stage      *Stage  `json:"stage,omitempty"`
	Duration   *int    `json:"duration,omitempty"`
	Percentage *int    `json:"percentage,omitempty"`
	Preset     *Preset `json:"preset,omitempty"`
}

func (a ServiceArgs) duration() time.Duration {
	if a.Duration == nil {
		return 0
	}
	return time.Duration(*a.Duration) * time.Minute
}

func (a ServiceArgs) speed() *ventilation.Stage {
	if a.Speed == nil {
		return nil
	}
	s := ventilation.Stage(*a.Speed)
	return &s
}

// DecodeArgs reads a service body strictly. An empty body is no arguments.
func DecodeArgs(b []byte) (ServiceArgs, error) {
	var args ServiceArgs
	if len(bytes.TrimSpace(b)) == 0 {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return args, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return args, nil
}

// Call runs the named service.
func Call(ctx context.Context, svc ports.VentilationService, name string, args ServiceArgs) error {
	if args.Duration != nil && *args.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive minutes", ErrInvalidArgument)
	}

	switch name {
	case "start_party_mode":
		return svc.StartPartyMode(ctx, args.speed(), args.duration())
	case "stop_party_mode":
		return svc.StopPartyMode(ctx)
	case "party_mode":
		if args.Speed == nil {
			return fmt.Errorf("%w: party_mode needs a speed", ErrInvalidArgument)
		}
		return svc.PartyMode(ctx, ventilation.Stage(*args.Speed), args.duration())
	case "set_fan_stage":
		if args.Stage == nil {
			return fmt.Errorf("%w: set_fan_stage needs a stage", ErrInvalidArgument)
		}
		return svc.SetFanStage(ctx, ventilation.Stage(*args.Stage))
	case "turn_on":
		var preset *ventilation.Preset
		if args.Preset != nil {
			p := ventilation.Preset(*args.Preset)
			preset = &p
		}
		return svc.TurnOn(ctx, args.Percentage, preset)
	case "turn_off":
		return svc.TurnOff(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
}
