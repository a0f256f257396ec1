// Package modbusclient serializes Modbus TCP traffic to one EasyControls
// unit. Requests are served one at a time, in arrival order, by a single
// worker goroutine owning the connection.
package modbusclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultUnitID is the unit identifier EasyControls answers on.
const DefaultUnitID byte = 180

type Config struct {
	// Addr is the host:port of the device.
	Addr   string
	UnitID byte

	// Timeout bounds each request/response exchange on the socket.
	Timeout     time.Duration
	IdleTimeout time.Duration

	// MaxAttempts is the total number of tries for one transaction.
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

type Stats struct {
	Transactions uint64
	Retries      uint64
	Failures     uint64
	Reconnects   uint64
}

const (
	stateIdle = iota
	stateOpen
	stateClosed
)

type Client struct {
	cfg    Config
	logger zerolog.Logger
	dial   func(Config) transport

	reqs chan *request
	quit chan struct{}
	wg   sync.WaitGroup

	mu    sync.Mutex
	state int

	// tr is owned by the worker once open. trMu guards it against abort,
	// which runs on the canceling goroutine.
	trMu sync.Mutex
	tr   transport

	transactions atomic.Uint64
	retries      atomic.Uint64
	failures     atomic.Uint64
	reconnects   atomic.Uint64
}

type request struct {
	ctx  context.Context
	op   string
	fn   func(*Session) error
	done chan error
}

func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("modbus address is required")
	}
	if cfg.UnitID == 0 {
		cfg.UnitID = DefaultUnitID
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MinBackoff == 0 {
		cfg.MinBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 500 * time.Millisecond
	}
	if cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.MinBackoff > cfg.MaxBackoff {
		return nil, fmt.Errorf("min backoff %s exceeds max backoff %s", cfg.MinBackoff, cfg.MaxBackoff)
	}

	return &Client{
		cfg:    cfg,
		logger: logger.With().Str("component", "modbus").Str("addr", cfg.Addr).Logger(),
		dial:   newTCPTransport,
		reqs:   make(chan *request),
		quit:   make(chan struct{}),
	}, nil
}

// Open connects to the device once, failing fast when it is unreachable,
// and starts serving requests.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateOpen:
		return nil
	case stateClosed:
		return ErrClosed
	}

	tr := c.dial(c.cfg)
	done := make(chan error, 1)
	go func() { done <- tr.Connect() }()

	select {
	case err := <-done:
		if err != nil {
			return &CommunicationError{Op: "connect", Addr: c.cfg.Addr, Attempts: 1, Err: err}
		}
	case <-ctx.Done():
		go func() {
			if <-done == nil {
				_ = tr.Close()
			}
		}()
		return fmt.Errorf("connect %s: %w", c.cfg.Addr, ctx.Err())
	}

	c.setTransport(tr)
	c.state = stateOpen
	c.wg.Add(1)
	go c.loop()

	c.logger.Info().Uint8("unit_id", c.cfg.UnitID).Msg("connected to device")
	return nil
}

// Close stops the worker once the request in progress, if any, is done and
// closes the connection. Queued requests fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	close(c.quit)
	c.mu.Unlock()

	c.wg.Wait()
	c.trMu.Lock()
	tr := c.tr
	c.tr = nil
	c.trMu.Unlock()
	if tr == nil {
		return nil
	}
	err := tr.Close()
	c.logger.Debug().Msg("connection closed")
	return err
}

func (c *Client) Stats() Stats {
	return Stats{
		Transactions: c.transactions.Load(),
		Retries:      c.retries.Load(),
		Failures:     c.failures.Load(),
		Reconnects:   c.reconnects.Load(),
	}
}

// Read reads count holding registers starting at address.
func (c *Client) Read(ctx context.Context, address, count uint16) ([]uint16, error) {
	var words []uint16
	err := c.submit(ctx, "read", func(s *Session) error {
		return s.Transact(func(conn Conn) error {
			w, err := conn.ReadHoldingRegisters(address, count)
			words = w
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return words, nil
}

// Write writes words to consecutive holding registers starting at address.
func (c *Client) Write(ctx context.Context, address uint16, words []uint16) error {
	return c.submit(ctx, "write", func(s *Session) error {
		return s.Transact(func(conn Conn) error {
			return conn.WriteMultipleRegisters(address, words)
		})
	})
}

// Transact runs fn as one device transaction: no other request reaches the
// device between the round trips fn makes. fn may run more than once when a
// transient failure occurs.
func (c *Client) Transact(ctx context.Context, fn func(Conn) error) error {
	return c.submit(ctx, "transact", func(s *Session) error {
		return s.Transact(fn)
	})
}

// Batch runs fn with exclusive use of the device. Transactions issued
// through the session run back to back, each with its own retry budget;
// requests submitted meanwhile wait until fn returns.
func (c *Client) Batch(ctx context.Context, fn func(*Session) error) error {
	return c.submit(ctx, "batch", fn)
}

func (c *Client) submit(ctx context.Context, op string, fn func(*Session) error) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	switch state {
	case stateIdle:
		return ErrNotOpen
	case stateClosed:
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := &request{ctx: ctx, op: op, fn: fn, done: make(chan error, 1)}
	select {
	case c.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrClosed
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.quit:
			return
		case req := <-c.reqs:
			req.done <- c.serve(req)
		}
	}
}

func (c *Client) serve(req *request) error {
	if err := req.ctx.Err(); err != nil {
		return err
	}
	// A canceled caller closes the socket under the running exchange
	// instead of letting it run into the timeout.
	aborted := make(chan struct{})
	stop := context.AfterFunc(req.ctx, func() {
		defer close(aborted)
		c.abort()
	})
	err := req.fn(&Session{c: c, ctx: req.ctx, op: req.op})
	if !stop() {
		// abort is running; it must not outlive this request.
		<-aborted
	}
	if cerr := req.ctx.Err(); cerr != nil {
		// The caller is gone: drop whatever exchange was under way.
		c.drop()
		return cerr
	}
	return err
}

// Session gives a batch exclusive use of the device. It is only valid
// inside the function passed to Batch.
type Session struct {
	c   *Client
	ctx context.Context
	op  string
}

func (s *Session) Context() context.Context { return s.ctx }

// Transact runs one transaction with retries. After the last failed attempt
// it returns a *CommunicationError. Errors that are not transient are
// returned as is, without retrying.
func (s *Session) Transact(fn func(Conn) error) error {
	c := s.c
	var err error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			c.retries.Add(1)
			delay := c.backoff()
			c.logger.Warn().Err(err).Str("op", s.op).Int("attempt", attempt).Dur("delay", delay).Msg("retrying transaction")
			if werr := c.wait(s.ctx, delay); werr != nil {
				return werr
			}
		}
		if cerr := s.ctx.Err(); cerr != nil {
			return cerr
		}

		c.transactions.Add(1)
		err = c.attempt(fn)
		if err == nil {
			return nil
		}
		if cerr := s.ctx.Err(); cerr != nil {
			return cerr
		}
		if !IsTransient(err) {
			return err
		}
		c.drop()
	}

	c.failures.Add(1)
	c.logger.Error().Err(err).Str("op", s.op).Int("attempts", c.cfg.MaxAttempts).Msg("transaction failed")
	return &CommunicationError{Op: s.op, Addr: c.cfg.Addr, Attempts: c.cfg.MaxAttempts, Err: err}
}

func (c *Client) attempt(fn func(Conn) error) error {
	if c.tr == nil {
		tr := c.dial(c.cfg)
		if err := tr.Connect(); err != nil {
			_ = tr.Close()
			return Retryable(err)
		}
		c.setTransport(tr)
		c.reconnects.Add(1)
		c.logger.Info().Msg("reconnected to device")
	}
	return fn(c.tr)
}

func (c *Client) drop() {
	if c.tr == nil {
		return
	}
	if err := c.tr.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("close connection")
	}
	c.setTransport(nil)
}

func (c *Client) setTransport(tr transport) {
	c.trMu.Lock()
	c.tr = tr
	c.trMu.Unlock()
}

// abort closes the current connection from outside the worker. The
// exchange in progress fails and the worker drops the connection.
func (c *Client) abort() {
	c.trMu.Lock()
	tr := c.tr
	c.trMu.Unlock()
	if tr == nil {
		return
	}
	if err := tr.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("abort connection")
	}
	c.logger.Debug().Msg("canceled exchange aborted")
}

func (c *Client) backoff() time.Duration {
	spread := c.cfg.MaxBackoff - c.cfg.MinBackoff
	if spread <= 0 {
		return c.cfg.MinBackoff
	}
	return c.cfg.MinBackoff + rand.N(spread+1)
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrClosed
	}
}
