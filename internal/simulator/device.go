// Package simulator emulates the variable interface of an EasyControls unit
// on top of an mbserver Modbus TCP server.
package simulator

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	mbserver "github.com/tbrandon/mbserver"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/transcode"
)

// Transaction is one frame the device accepted, in arrival order.
type Transaction struct {
	Function uint8
	// Frame is the ASCII payload of a write, or the variable read back.
	Frame string
}

func (t Transaction) IsSet() bool {
	return t.Function == 16 && strings.Contains(t.Frame, "=")
}

type Device struct {
	logger zerolog.Logger

	mu      sync.Mutex
	values  map[string]string
	pending string
	log     []Transaction
	faults  map[string]int
	latency time.Duration

	serv *mbserver.Server
}

// New builds a device holding state, keyed by variable name ("v00102") or
// catalog name ("fan_stage").
func New(state map[string]string, logger zerolog.Logger) (*Device, error) {
	d := &Device{
		logger: logger.With().Str("component", "simulator").Logger(),
		values: make(map[string]string, len(state)),
		faults: make(map[string]int),
	}
	for k, v := range state {
		variable, err := resolve(k)
		if err != nil {
			return nil, err
		}
		d.values[variable] = v
	}
	return d, nil
}

func resolve(key string) (string, error) {
	if d, err := catalog.Default().Lookup(key); err == nil {
		return d.Variable(), nil
	}
	if len(key) == 6 && key[0] == 'v' {
		if _, err := strconv.Atoi(key[1:]); err == nil {
			return key, nil
		}
	}
	return "", fmt.Errorf("simulator: %w: %q", catalog.ErrUnknownVariable, key)
}

// Listen registers the protocol handlers and starts accepting connections.
func (d *Device) Listen(addr string) error {
	serv := mbserver.NewServer()
	serv.RegisterFunctionHandler(3, d.handleRead)
	serv.RegisterFunctionHandler(16, d.handleWrite)

	if err := serv.ListenTCP(addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", addr, err)
	}
	d.mu.Lock()
	d.serv = serv
	d.mu.Unlock()
	d.logger.Info().Str("addr", addr).Msg("simulator listening")
	return nil
}

// Run listens on addr and blocks until ctx is canceled.
func (d *Device) Run(ctx context.Context, addr string) error {
	if err := d.Listen(addr); err != nil {
		return err
	}
	<-ctx.Done()
	d.Close()
	return ctx.Err()
}

func (d *Device) Close() {
	d.mu.Lock()
	serv := d.serv
	d.serv = nil
	d.mu.Unlock()
	if serv != nil {
		serv.Close()
	}
}

// Value returns the value text stored for a variable or catalog name.
func (d *Device) Value(key string) (string, bool) {
	variable, err := resolve(key)
	if err != nil {
		return "", false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.values[variable]
	return v, ok
}

func (d *Device) SetValue(key, value string) error {
	variable, err := resolve(key)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[variable] = value
	return nil
}

// Fail makes the next n requests touching key fail with a slave device
// failure exception. A negative n fails them forever, zero clears the fault.
func (d *Device) Fail(key string, n int) error {
	variable, err := resolve(key)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if n == 0 {
		delete(d.faults, variable)
		return nil
	}
	d.faults[variable] = n
	return nil
}

// SetLatency delays every answer by l.
func (d *Device) SetLatency(l time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latency = l
}

func (d *Device) delay() {
	d.mu.Lock()
	l := d.latency
	d.mu.Unlock()
	if l > 0 {
		time.Sleep(l)
	}
}

func (d *Device) Transactions() []Transaction {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Transaction, len(d.log))
	copy(out, d.log)
	return out
}

func (d *Device) ResetTransactions() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = nil
}

// faulted consumes one failure for variable. Called with mu held.
func (d *Device) faulted(variable string) bool {
	n, ok := d.faults[variable]
	if !ok {
		return false
	}
	if n > 0 {
		n--
		if n == 0 {
			delete(d.faults, variable)
		} else {
			d.faults[variable] = n
		}
	}
	return true
}

func (d *Device) handleWrite(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 5 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])
	byteCount := int(data[4])
	if byteCount != int(quantity)*2 || len(data) < 5+byteCount {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if start != transcode.RegisterAddress {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	text := asciiz(data[5 : 5+byteCount])
	d.delay()

	d.mu.Lock()
	defer d.mu.Unlock()

	name, value, isSet := strings.Cut(text, "=")
	if _, known := d.values[name]; !known {
		d.logger.Debug().Str("frame", text).Msg("unknown variable")
		return []byte{}, &mbserver.IllegalDataAddress
	}
	if d.faulted(name) {
		d.logger.Debug().Str("frame", text).Msg("injected fault")
		return []byte{}, &mbserver.SlaveDeviceFailure
	}

	d.log = append(d.log, Transaction{Function: 16, Frame: text})
	if isSet {
		d.apply(name, value)
		d.logger.Debug().Str("variable", name).Str("value", value).Msg("set")
	} else {
		d.pending = name
	}

	resp := make([]byte, 4)
	binary.BigEndian.PutUint16(resp[0:2], start)
	binary.BigEndian.PutUint16(resp[2:4], quantity)
	return resp, &mbserver.Success
}

func (d *Device) handleRead(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := binary.BigEndian.Uint16(data[0:2])
	quantity := int(binary.BigEndian.Uint16(data[2:4]))
	if quantity == 0 || quantity > 125 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if start != transcode.RegisterAddress {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	d.delay()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == "" {
		return []byte{}, &mbserver.IllegalDataValue
	}

	d.log = append(d.log, Transaction{Function: 3, Frame: d.pending})
	answer := d.pending + "=" + d.values[d.pending]

	resp := make([]byte, 1+quantity*2)
	resp[0] = byte(quantity * 2)
	copy(resp[1:], answer)
	return resp, &mbserver.Success
}

// apply stores a written value and mirrors what the unit itself would
// update. Called with mu held.
func (d *Device) apply(variable, value string) {
	d.values[variable] = value

	fan, _ := catalog.Default().Lookup(catalog.FanStage)
	if variable != fan.Variable() {
		return
	}
	stage, err := strconv.Atoi(value)
	if err != nil {
		return
	}
	for _, name := range []string{catalog.SupplyAirFanStage, catalog.ExtractAirFanStage} {
		if desc, err := catalog.Default().Lookup(name); err == nil {
			d.values[desc.Variable()] = value
		}
	}
	if desc, err := catalog.Default().Lookup(catalog.PercentageFanSpeed); err == nil {
		d.values[desc.Variable()] = strconv.Itoa(stage * 25)
	}
}

func asciiz(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
