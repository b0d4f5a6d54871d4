package testutils

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

// MockBeaconPayload renders a beacon telemetry payload. Negative rssi or
// battery values are left out.
func MockBeaconPayload(lat, lon float64, rssi, battery int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "GPS:%.6f,%.6f", lat, lon)
	if rssi < 0 {
		fmt.Fprintf(&b, ",RSSI:%d", rssi)
	}
	if battery >= 0 {
		fmt.Fprintf(&b, ",BAT:%d", battery)
	}
	return b.String()
}

// MockBeaconMessage creates a mock beacon message for testing
func MockBeaconMessage(lat, lon float64) *types.BeaconMessage {
	return &types.BeaconMessage{
		Raw:       MockBeaconPayload(lat, lon, -60, 80),
		Timestamp: time.Now().UTC(),
		Source:    "test-source",
		SessionID: "test-session",
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
		}
	}
}

// FakeBridge is a TCP listener that behaves like a BLE-to-TCP bridge: it
// writes payload lines to each client and records the commands it reads.
type FakeBridge struct {
	ln       net.Listener
	mu       sync.Mutex
	conns    []net.Conn
	commands []string
	wg       sync.WaitGroup
}

// NewFakeBridge starts a bridge on a random local port. It is closed when
// the test finishes.
func NewFakeBridge(t testing.TB) *FakeBridge {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	b := &FakeBridge{ln: ln}
	b.wg.Add(1)
	go b.accept()
	t.Cleanup(b.Close)
	return b
}

// Addr returns the host:port clients should dial
func (b *FakeBridge) Addr() string {
	return b.ln.Addr().String()
}

func (b *FakeBridge) accept() {
	defer b.wg.Done()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns = append(b.conns, conn)
		b.mu.Unlock()

		b.wg.Add(1)
		go b.read(conn)
	}
}

func (b *FakeBridge) read(conn net.Conn) {
	defer b.wg.Done()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		b.mu.Lock()
		b.commands = append(b.commands, scanner.Text())
		b.mu.Unlock()
	}
}

// Clients returns the number of accepted connections
func (b *FakeBridge) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Send writes a newline-terminated payload to every connected client
func (b *FakeBridge) Send(payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		if _, err := fmt.Fprintf(c, "%s\n", payload); err != nil {
			return err
		}
	}
	return nil
}

// Commands returns the command lines received so far
func (b *FakeBridge) Commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.commands))
	copy(out, b.commands)
	return out
}

// DropClients closes every client connection, simulating a lost BLE link
func (b *FakeBridge) DropClients() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		c.Close()
	}
	b.conns = nil
}

// Close stops the listener and drops all clients
func (b *FakeBridge) Close() {
	b.ln.Close()
	b.DropClients()
	b.wg.Wait()
}
