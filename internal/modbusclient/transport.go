package modbusclient

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Conn is the register access available inside a transaction.
type Conn interface {
	ReadHoldingRegisters(address, quantity uint16) ([]uint16, error)
	WriteMultipleRegisters(address uint16, values []uint16) error
}

// transport is a Conn over one connection. Close may be called from any
// goroutine, also while a request is in flight, and more than once.
type transport interface {
	Conn
	Connect() error
	Close() error
}

// tcpTransport frames requests with the goburrow TCP packager and sends
// them over a link it owns. Every error it returns is transient.
type tcpTransport struct {
	link   *tcpLink
	client modbus.Client
}

func newTCPTransport(cfg Config) transport {
	h := modbus.NewTCPClientHandler(cfg.Addr)
	h.SlaveId = cfg.UnitID
	link := &tcpLink{addr: cfg.Addr, timeout: cfg.Timeout, idle: cfg.IdleTimeout}
	return &tcpTransport{link: link, client: modbus.NewClient2(h, link)}
}

func (t *tcpTransport) Connect() error {
	return Retryable(t.link.connect())
}

func (t *tcpTransport) Close() error {
	return t.link.Close()
}

func (t *tcpTransport) ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) {
	b, err := t.client.ReadHoldingRegisters(address, quantity)
	if err != nil {
		return nil, Retryable(err)
	}
	if len(b) != int(quantity)*2 {
		return nil, Retryable(fmt.Errorf("%w: got %d bytes for %d registers", ErrShortResponse, len(b), quantity))
	}
	words := make([]uint16, quantity)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return words, nil
}

func (t *tcpTransport) WriteMultipleRegisters(address uint16, values []uint16) error {
	b := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(b[2*i:], v)
	}
	_, err := t.client.WriteMultipleRegisters(address, uint16(len(values)), b)
	return Retryable(err)
}

const (
	// transaction id, protocol id, length, unit id
	mbapHeaderSize = 7
	maxADUSize     = 260
)

var errLinkClosed = errors.New("connection closed")

// tcpLink carries MBAP frames over one TCP connection. Unlike the goburrow
// handler it does not hold a lock across an exchange, so Close from another
// goroutine unblocks a pending read right away.
type tcpLink struct {
	addr    string
	timeout time.Duration
	idle    time.Duration

	mu   sync.Mutex
	conn net.Conn
	last time.Time
}

func (l *tcpLink) connect() error {
	conn, err := (&net.Dialer{Timeout: l.timeout}).Dial("tcp", l.addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.conn = conn
	l.last = time.Now()
	return nil
}

func (l *tcpLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

// acquire returns the connection for one exchange. A connection idle for
// longer than the idle timeout is replaced first, the peer has likely
// dropped it.
func (l *tcpLink) acquire() (net.Conn, error) {
	l.mu.Lock()
	conn := l.conn
	stale := l.idle > 0 && time.Since(l.last) > l.idle
	l.mu.Unlock()
	if conn == nil {
		return nil, errLinkClosed
	}
	if stale {
		if err := l.connect(); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil, errLinkClosed
	}
	l.last = time.Now()
	return l.conn, nil
}

// Send implements modbus.Transporter.
func (l *tcpLink) Send(request []byte) ([]byte, error) {
	conn, err := l.acquire()
	if err != nil {
		return nil, err
	}
	var deadline time.Time
	if l.timeout > 0 {
		deadline = time.Now().Add(l.timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if _, err := conn.Write(request); err != nil {
		return nil, err
	}

	var buf [maxADUSize]byte
	if _, err := io.ReadFull(conn, buf[:mbapHeaderSize]); err != nil {
		return nil, err
	}
	// The length field counts the unit id and the PDU.
	length := int(binary.BigEndian.Uint16(buf[4:6]))
	total := mbapHeaderSize - 1 + length
	if length < 2 || total > maxADUSize {
		return nil, fmt.Errorf("invalid response length %d", length)
	}
	if _, err := io.ReadFull(conn, buf[mbapHeaderSize:total]); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf[:total]...), nil
}
