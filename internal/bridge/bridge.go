// Package bridge keeps the latest view of a unit up to date and runs the
// services the controllers expose.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/controls"
	"github.com/Agrid-Dev/easycontrols/internal/device"
	"github.com/Agrid-Dev/easycontrols/internal/party"
	"github.com/Agrid-Dev/easycontrols/internal/transcode"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

const DefaultPollInterval = 30 * time.Second

type Config struct {
	PollInterval         time.Duration
	DefaultPartyDuration time.Duration
}

type Bridge struct {
	ctl    *controls.Controls
	party  *party.Machine
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
	kick   chan struct{}

	mu   sync.RWMutex
	snap *controls.Snapshot
}

func New(ctl *controls.Controls, cfg Config, logger zerolog.Logger) (*Bridge, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DefaultPartyDuration == 0 {
		cfg.DefaultPartyDuration = party.DefaultDuration
	}
	if err := party.ValidateDuration(cfg.DefaultPartyDuration); err != nil {
		return nil, fmt.Errorf("bridge: default party duration: %w", err)
	}
	b := &Bridge{
		ctl:    ctl,
		cfg:    cfg,
		logger: logger.With().Str("component", "bridge").Logger(),
		now:    time.Now,
		kick:   make(chan struct{}, 1),
	}
	b.party = party.New(ctl, func() time.Time { return b.now() }, logger)
	return b, nil
}

// Run polls the unit until ctx is canceled. Commands trigger an early poll.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := b.Poll(ctx); err != nil && ctx.Err() == nil {
			b.logger.Error().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-b.kick:
		}
	}
}

// Poll ends an expired party and refreshes the snapshot.
func (b *Bridge) Poll(ctx context.Context) error {
	if err := b.party.Tick(ctx); err != nil {
		b.logger.Warn().Err(err).Msg("party tick failed")
	}

	snap, err := b.ctl.Refresh(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.snap = snap
	b.mu.Unlock()
	return nil
}

func (b *Bridge) Snapshot() *controls.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}

func (b *Bridge) Info() device.Info { return b.ctl.Info() }
func (b *Bridge) Catalog() *catalog.Catalog { return b.ctl.Catalog() }
func (b *Bridge) PartyState() party.State { return b.party.State() }

// ---- services ----

func (b *Bridge) StartPartyMode(ctx context.Context, speed *ventilation.Stage, d time.Duration) error {
	if d == 0 {
		d = b.cfg.DefaultPartyDuration
	}
	if err := party.ValidateDuration(d); err != nil {
		return err
	}

	var s ventilation.Stage
	switch {
	case speed != nil:
		s = *speed
	case b.party.State().Active:
		s = b.party.State().Speed
	default:
		cur, err := b.ctl.PartyFanStage(ctx)
		if err != nil {
			return b.failed("start_party_mode", err)
		}
		s = cur
	}

	if err := b.party.Start(ctx, s, d); err != nil {
		return b.failed("start_party_mode", err)
	}
	b.refreshSoon()
	return nil
}

func (b *Bridge) StopPartyMode(ctx context.Context) error {
	if err := b.party.Stop(ctx); err != nil {
		return b.failed("stop_party_mode", err)
	}
	b.refreshSoon()
	return nil
}

// PartyMode starts or, with stage off, stops the party.
//
// Deprecated: use StartPartyMode and StopPartyMode.
func (b *Bridge) PartyMode(ctx context.Context, speed ventilation.Stage, d time.Duration) error {
	b.logger.Warn().Msg("party_mode is deprecated, use start_party_mode or stop_party_mode")
	if speed == ventilation.StageOff {
		return b.StopPartyMode(ctx)
	}
	return b.StartPartyMode(ctx, &speed, d)
}

func (b *Bridge) SetSpeed(ctx context.Context, s ventilation.Stage) error {
	return b.command("set_speed", b.ctl.SetSpeed(ctx, s))
}

// SetFanStage writes the fan stage register only. With a device preset
// active the unit keeps running at the preset's stage.
func (b *Bridge) SetFanStage(ctx context.Context, s ventilation.Stage) error {
	if !s.Valid() {
		return b.failed("set_fan_stage", fmt.Errorf("%w: %d", ventilation.ErrInvalidStage, s))
	}
	return b.command("set_fan_stage", b.ctl.SetFanStage(ctx, s))
}

func (b *Bridge) SetPercentage(ctx context.Context, pct int) error {
	return b.command("set_percentage", b.ctl.SetPercentage(ctx, pct))
}

func (b *Bridge) SetPreset(ctx context.Context, p ventilation.Preset) error {
	return b.command("set_preset", b.ctl.SetPreset(ctx, p))
}

func (b *Bridge) TurnOn(ctx context.Context, pct *int, preset *ventilation.Preset) error {
	return b.command("turn_on", b.ctl.TurnOn(ctx, pct, preset))
}

func (b *Bridge) TurnOff(ctx context.Context) error {
	return b.command("turn_off", b.ctl.TurnOff(ctx))
}

func (b *Bridge) GetVariable(ctx context.Context, name string) (transcode.Value, error) {
	return b.ctl.Get(ctx, name)
}

func (b *Bridge) SetVariable(ctx context.Context, name string, value any) error {
	d, err := b.ctl.Catalog().Lookup(name)
	if err != nil {
		return err
	}
	v, err := transcode.Coerce(d, value)
	if err != nil {
		return err
	}
	if err := b.ctl.Set(ctx, name, v); err != nil {
		return b.failed("set "+name, err)
	}
	if name == catalog.FanStage {
		b.party.Abandon()
	}
	b.refreshSoon()
	return nil
}

// command finishes an explicit fan change. The user picked a new speed, so
// a running party no longer owns the fan.
func (b *Bridge) command(name string, err error) error {
	if err != nil {
		return b.failed(name, err)
	}
	b.party.Abandon()
	b.refreshSoon()
	return nil
}

func (b *Bridge) failed(name string, err error) error {
	ev := b.logger.Error()
	if invalid(err) {
		ev = b.logger.Warn()
	}
	ev.Err(err).Str("service", name).Msg("service call failed")
	return err
}

func invalid(err error) bool {
	return errors.Is(err, transcode.ErrEncoding) ||
		errors.Is(err, party.ErrInvalidSpeed) ||
		errors.Is(err, party.ErrInvalidDuration) ||
		errors.Is(err, ventilation.ErrInvalidStage) ||
		errors.Is(err, ventilation.ErrInvalidPreset)
}

func (b *Bridge) refreshSoon() {
	select {
	case b.kick <- struct{}{}:
	default:
	}
}
