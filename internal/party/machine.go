// Package party runs a timed fan speed override on the host side. Starting
// it remembers the speed in use, and the speed is put back when the
// override expires or is stopped.
package party

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

const (
	MinDuration     = 5 * time.Minute
	MaxDuration     = 180 * time.Minute
	DefaultDuration = 60 * time.Minute
)

var (
	ErrInvalidSpeed    = errors.New("invalid party speed")
	ErrInvalidDuration = errors.New("invalid party duration")
)

// Fan is the device access the machine needs. FanState reports the speed
// the fan actually runs at, device presets included, and SetSpeed runs the
// fan at a stage in manual mode.
type Fan interface {
	FanState(ctx context.Context) (ventilation.FanState, error)
	SetSpeed(ctx context.Context, s ventilation.Stage) error
}

type State struct {
	Active    bool
	Remaining time.Duration
	Speed     ventilation.Stage
	Saved     ventilation.Stage
}

type Machine struct {
	fan    Fan
	now    func() time.Time
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	deadline time.Time
}

// New returns an inactive machine. now is the clock deadlines are set and
// checked against; nil means time.Now.
func New(fan Fan, now func() time.Time, logger zerolog.Logger) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{fan: fan, now: now, logger: logger.With().Str("component", "party").Logger()}
}

// ValidateDuration checks d against the range the party services accept.
func ValidateDuration(d time.Duration) error {
	if d < MinDuration || d > MaxDuration {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidDuration, d, MinDuration, MaxDuration)
	}
	return nil
}

// State returns the override with its remaining time as of now.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	return m.state
}

// Start runs the fan at speed for d. The speed in use is saved only when
// the machine was inactive; restarting an active override replaces its
// speed and deadline but keeps the speed saved the first time.
func (m *Machine) Start(ctx context.Context, speed ventilation.Stage, d time.Duration) error {
	if !speed.Valid() || speed == ventilation.StageOff {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}
	if d <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDuration, d)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.state.Saved
	if !m.state.Active {
		fs, err := m.fan.FanState(ctx)
		if err != nil {
			return fmt.Errorf("save fan speed: %w", err)
		}
		saved = fs.Stage
	}
	if err := m.fan.SetSpeed(ctx, speed); err != nil {
		return fmt.Errorf("start party: %w", err)
	}

	// The deadline counts from the moment the fan took the new speed.
	m.deadline = m.now().Add(d)
	m.state = State{Active: true, Remaining: d, Speed: speed, Saved: saved}
	m.logger.Info().Stringer("speed", speed).Dur("duration", d).Stringer("saved", saved).Msg("party started")
	return nil
}

// Tick restores the saved speed once the deadline has passed. A failed
// restore keeps the override active with nothing remaining so the next
// tick tries again.
func (m *Machine) Tick(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Active {
		return nil
	}
	m.advance()
	if m.state.Remaining > 0 {
		return nil
	}
	if err := m.restore(ctx); err != nil {
		return err
	}
	m.logger.Info().Msg("party expired")
	return nil
}

// Stop ends an active override and restores the saved speed. Stopping an
// inactive machine does nothing. When the restore fails the override is
// left expired, so the next tick retries it.
func (m *Machine) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Active {
		return nil
	}
	m.deadline = m.now()
	m.state.Remaining = 0
	if err := m.restore(ctx); err != nil {
		return err
	}
	m.logger.Info().Msg("party stopped")
	return nil
}

// Abandon drops an active override without touching the fan.
func (m *Machine) Abandon() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Active {
		m.logger.Info().Msg("party abandoned")
	}
	m.state = State{}
	m.deadline = time.Time{}
}

// advance recomputes the remaining time. Called with mu held.
func (m *Machine) advance() {
	if !m.state.Active {
		return
	}
	m.state.Remaining = max(m.deadline.Sub(m.now()), 0)
}

// restore is called with mu held.
func (m *Machine) restore(ctx context.Context) error {
	if err := m.fan.SetSpeed(ctx, m.state.Saved); err != nil {
		m.logger.Warn().Err(err).Stringer("saved", m.state.Saved).Msg("restore fan speed failed")
		return fmt.Errorf("restore fan speed: %w", err)
	}
	m.state = State{}
	m.deadline = time.Time{}
	return nil
}
