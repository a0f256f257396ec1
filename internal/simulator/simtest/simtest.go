// Package simtest starts simulated devices and clients for tests.
package simtest

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/easycontrols/internal/modbusclient"
	"github.com/Agrid-Dev/easycontrols/internal/simulator"
)

func FreeTCPAddr(t testing.TB) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	a := l.Addr().String()
	_ = l.Close()
	return a
}

// Start runs a simulated unit seeded with the default state plus overrides
// and returns it with its address. It is closed when the test ends.
func Start(t testing.TB, overrides map[string]string) (*simulator.Device, string) {
	t.Helper()
	state, err := simulator.LoadState("")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	dev, err := simulator.New(state, zerolog.Nop())
	if err != nil {
		t.Fatalf("new simulator: %v", err)
	}
	for k, v := range overrides {
		if err := dev.SetValue(k, v); err != nil {
			t.Fatalf("override %s: %v", k, err)
		}
	}
	addr := FreeTCPAddr(t)
	if err := dev.Listen(addr); err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(dev.Close)
	return dev, addr
}

// Client opens a client to addr with short timeouts and backoff.
func Client(t testing.TB, addr string) *modbusclient.Client {
	t.Helper()
	c, err := modbusclient.New(modbusclient.Config{
		Addr:       addr,
		Timeout:    time.Second,
		MinBackoff: time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Open(t.Context()); err != nil {
		t.Fatalf("open client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}
