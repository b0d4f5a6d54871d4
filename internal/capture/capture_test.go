package capture

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/parser"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

// fakeBridge accepts a single connection and hands it to the test
func fakeBridge(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	conns := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		conns <- conn
	}()
	return listener.Addr().String(), conns
}

func waitStatus(t *testing.T, c *Capture) types.ConnectionStatus {
	t.Helper()
	select {
	case s := <-c.Statuses():
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for connection status")
	}
	return types.ConnectionStatus{}
}

func TestNew(t *testing.T) {
	sources := []string{"localhost:9000", "localhost:9001"}
	capture := New(sources, nil)

	if capture == nil {
		t.Fatal("New() returned nil")
	}
	if len(capture.Sources()) != 2 {
		t.Errorf("Expected 2 sources, got %d", len(capture.Sources()))
	}
	if capture.links == nil {
		t.Error("Expected links map to be initialized")
	}
	if capture.Messages() == nil || capture.Statuses() == nil {
		t.Error("Expected channels to be initialized")
	}
}

func TestCapture_StopWithoutStart(t *testing.T) {
	capture := New([]string{"localhost:9000"}, nil)
	capture.Stop()
	capture.Stop()

	if err := capture.Connect(context.Background(), "localhost:9000"); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped after Stop, got %v", err)
	}
}

func TestCapture_ReceivesFramedPayloads(t *testing.T) {
	addr, conns := fakeBridge(t)
	capture := New([]string{addr}, nil)
	defer capture.Stop()

	if err := capture.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	status := waitStatus(t, capture)
	if !status.Connected || status.SessionID == "" {
		t.Fatalf("Expected connected status with session, got %+v", status)
	}

	bridge := <-conns
	defer bridge.Close()
	if _, err := bridge.Write([]byte("GPS:55.24,72.90\r\n\nGPS:55.25,")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if _, err := bridge.Write([]byte("72.91,BAT:80\n")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	want := []string{"GPS:55.24,72.90", "GPS:55.25,72.91,BAT:80"}
	for i, w := range want {
		select {
		case msg := <-capture.Messages():
			if string(msg.Data) != w {
				t.Errorf("Message %d = %q, want %q", i, msg.Data, w)
			}
			if msg.Source != addr || msg.SessionID != status.SessionID {
				t.Errorf("Message %d has source %s session %s", i, msg.Source, msg.SessionID)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("Timeout waiting for message %d", i)
		}
	}
}

func TestCapture_SendCommand(t *testing.T) {
	addr, conns := fakeBridge(t)
	capture := New([]string{addr}, nil)
	defer capture.Stop()

	if err := capture.Send(addr, parser.CmdLightOn); !errors.Is(err, types.ErrDeviceUnavailable) {
		t.Fatalf("Send() before connect = %v, want ErrDeviceUnavailable", err)
	}

	if err := capture.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	waitStatus(t, capture)
	bridge := <-conns
	defer bridge.Close()

	if err := capture.Send(addr, parser.CmdFind); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	bridge.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(bridge).ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read command: %v", err)
	}
	if line != "FIND\n" {
		t.Errorf("Bridge received %q, want %q", line, "FIND\n")
	}
}

func TestCapture_DisconnectIsNotRetried(t *testing.T) {
	addr, conns := fakeBridge(t)
	capture := New([]string{addr}, nil)
	defer capture.Stop()

	if err := capture.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	waitStatus(t, capture)
	bridge := <-conns
	bridge.Close()

	status := waitStatus(t, capture)
	if status.Connected {
		t.Fatalf("Expected disconnected status, got %+v", status)
	}
	if capture.Connected(addr) {
		t.Error("Link should be down after the bridge closed it")
	}
	if err := capture.Send(addr, parser.CmdLightOff); !errors.Is(err, types.ErrDeviceUnavailable) {
		t.Errorf("Send() after disconnect = %v, want ErrDeviceUnavailable", err)
	}

	select {
	case s := <-capture.Statuses():
		t.Errorf("Unexpected status without a user reconnect: %+v", s)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestCapture_ConnectFailureReportsStatus(t *testing.T) {
	capture := New([]string{"bridge"}, nil).WithDialer(func(ctx context.Context, address string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	})
	defer capture.Stop()

	err := capture.Connect(context.Background(), "bridge")
	if !errors.Is(err, types.ErrDeviceUnavailable) {
		t.Fatalf("Connect() = %v, want ErrDeviceUnavailable", err)
	}
	status := waitStatus(t, capture)
	if status.Connected || !strings.Contains(status.Error, "connection refused") {
		t.Errorf("Unexpected status %+v", status)
	}
}

func TestCapture_PipeDialer(t *testing.T) {
	client, server := net.Pipe()
	capture := New(nil, nil).WithDialer(func(ctx context.Context, address string) (net.Conn, error) {
		return client, nil
	})
	defer capture.Stop()

	if err := capture.Connect(context.Background(), "pipe"); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	waitStatus(t, capture)
	if err := capture.Connect(context.Background(), "pipe"); err != nil {
		t.Fatalf("Second Connect() should be a no-op, got %v", err)
	}

	go server.Write([]byte("ACK:LED_ON\n"))
	select {
	case msg := <-capture.Messages():
		if parser.Classify(msg.Data) != parser.FrameAck {
			t.Errorf("Expected an ack frame, got %q", msg.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for ack")
	}
	server.Close()
}
