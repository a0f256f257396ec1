// Package controls is the typed view of an EasyControls unit: named
// variable reads and writes, whole-device refreshes and the fan operations
// built on them.
package controls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/device"
	"github.com/Agrid-Dev/easycontrols/internal/modbusclient"
	"github.com/Agrid-Dev/easycontrols/internal/transcode"
)

// Client is the serialized device access Controls relies on.
type Client interface {
	Transact(ctx context.Context, fn func(modbusclient.Conn) error) error
	Batch(ctx context.Context, fn func(*modbusclient.Session) error) error
}

type transactFunc func(fn func(modbusclient.Conn) error) error

type Controls struct {
	client   Client
	catalog  *catalog.Catalog
	deviceID string
	logger   zerolog.Logger
	now      func() time.Time

	mu   sync.RWMutex
	info device.Info
}

func New(client Client, cat *catalog.Catalog, deviceID string, logger zerolog.Logger) *Controls {
	return &Controls{
		client:   client,
		catalog:  cat,
		deviceID: deviceID,
		logger:   logger.With().Str("component", "controls").Logger(),
		now:      time.Now,
		info:     device.Info{ID: deviceID},
	}
}

func (c *Controls) Catalog() *catalog.Catalog { return c.catalog }

func (c *Controls) Info() device.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

var identity = []string{
	catalog.ArticleDescription,
	catalog.MACAddress,
	catalog.SerialNumber,
	catalog.SoftwareVersion,
}

// Init reads the identity of the unit. Any failure aborts setup.
func (c *Controls) Init(ctx context.Context) (device.Info, error) {
	texts := make(map[string]string, len(identity))
	err := c.client.Batch(ctx, func(s *modbusclient.Session) error {
		for _, name := range identity {
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
				return err
			}
			texts[name], _ = v.Text()
		}
		return nil
	})
	if err != nil {
		return device.Info{}, fmt.Errorf("identify device: %w", err)
	}

	info := device.New(c.deviceID,
		texts[catalog.MACAddress],
		texts[catalog.SerialNumber],
		texts[catalog.ArticleDescription],
		texts[catalog.SoftwareVersion],
	)
	c.mu.Lock()
	c.info = info
	c.mu.Unlock()

	c.logger.Info().
		Str("model", info.Model).
		Str("mac", info.MAC).
		Str("serial", info.SerialNumber).
		Str("version", info.SoftwareVersion).
		Float64("max_airflow", info.MaxAirflow).
		Msg("device identified")
	return info, nil
}

// Get reads one variable from the device.
func (c *Controls) Get(ctx context.Context, name string) (transcode.Value, error) {
	d, err := c.catalog.Lookup(name)
	if err != nil {
		return transcode.Value{}, err
	}
	words, err := readWords(c.transact(ctx), d)
	if err != nil {
		return transcode.Value{}, fmt.Errorf("get %s: %w", name, err)
	}
	return transcode.Decode(d, words)
}

// Set writes one variable. Nothing is sent when the value does not encode,
// read-only targets included. The new value shows in the next refresh.
func (c *Controls) Set(ctx context.Context, name string, v transcode.Value) error {
	d, err := c.catalog.Lookup(name)
	if err != nil {
		return err
	}
	words, err := transcode.Encode(d, v)
	if err != nil {
		return err
	}
	err = c.client.Transact(ctx, func(conn modbusclient.Conn) error {
		return conn.WriteMultipleRegisters(transcode.RegisterAddress, words)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	c.logger.Debug().Str("variable", name).Stringer("value", v).Msg("variable set")
	return nil
}

// Refresh reads every catalog variable in one batch. A variable that cannot
// be read is unavailable in the snapshot; the refresh itself only fails
// when it is canceled or the client is closed.
func (c *Controls) Refresh(ctx context.Context) (*Snapshot, error) {
	groups := planReads(c.catalog.Descriptors())
	readings := make(map[string]Reading, c.catalog.Len()+2)
	takenAt := c.now()

	err := c.client.Batch(ctx, func(s *modbusclient.Session) error {
		for _, g := range groups {
			words, err := readWords(s.Transact, g[0])
			if err != nil {
				if aborted(err) {
					return err
				}
				c.logger.Warn().Err(err).Str("variable", g[0].Variable()).Msg("variable unavailable")
				for _, d := range g {
					readings[d.Name] = Reading{Err: err}
				}
				continue
			}
			for _, d := range g {
				v, err := transcode.Decode(d, words)
				if err != nil {
					c.logger.Warn().Err(err).Str("variable", d.Name).Msg("cannot decode variable")
				}
				readings[d.Name] = Reading{Value: v, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	c.derive(readings)
	snap := NewSnapshot(takenAt, readings)
	c.logger.Debug().
		Int("variables", len(readings)).
		Int("unavailable", len(snap.Unavailable())).
		Dur("took", c.now().Sub(takenAt)).
		Msg("refreshed")
	return snap, nil
}

func (c *Controls) derive(readings map[string]Reading) {
	value := func(name string) (transcode.Value, bool) {
		r, ok := readings[name]
		return r.Value, ok && r.Available()
	}
	float := func(name string) (float64, bool) {
		v, ok := value(name)
		if !ok {
			return 0, false
		}
		return v.Float()
	}

	maxAirflow := c.Info().MaxAirflow
	if pct, ok := value(catalog.PercentageFanSpeed); ok && maxAirflow > 0 {
		n, _ := pct.Int()
		readings[AirflowRate] = Reading{Value: transcode.Float(transcode.Airflow(maxAirflow, n))}
	} else {
		readings[AirflowRate] = Reading{Err: ErrUnavailable}
	}

	outside, ok1 := float(catalog.TemperatureOutsideAir)
	supply, ok2 := float(catalog.TemperatureSupplyAir)
	extract, ok3 := float(catalog.TemperatureExtractAir)
	if !ok1 || !ok2 || !ok3 {
		readings[HeatRecoveryEfficiency] = Reading{Err: ErrUnavailable}
		return
	}
	if e, ok := transcode.HeatRecoveryEfficiency(outside, supply, extract); ok {
		readings[HeatRecoveryEfficiency] = Reading{Value: transcode.Float(e)}
	} else {
		readings[HeatRecoveryEfficiency] = Reading{Err: fmt.Errorf("%w: extract and outside air within %.1f K", ErrUnavailable, transcode.MinEfficiencySpread)}
	}
}

func (c *Controls) transact(ctx context.Context) transactFunc {
	return func(fn func(modbusclient.Conn) error) error {
		return c.client.Transact(ctx, fn)
	}
}

// readWords selects d and reads its answer back as one transaction. An
// answer for another variable means a concurrent client moved the
// selection; it is retried like any transient failure.
func readWords(transact transactFunc, d catalog.Descriptor) ([]uint16, error) {
	var words []uint16
	err := transact(func(conn modbusclient.Conn) error {
		if err := conn.WriteMultipleRegisters(transcode.RegisterAddress, transcode.QueryFrame(d)); err != nil {
			return err
		}
		w, err := conn.ReadHoldingRegisters(transcode.RegisterAddress, d.WordCount())
		if err != nil {
			return err
		}
		if _, err := transcode.Decode(d, w); errors.Is(err, transcode.ErrVariableMismatch) {
			return modbusclient.Retryable(err)
		}
		words = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return words, nil
}

func aborted(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, modbusclient.ErrClosed)
}
