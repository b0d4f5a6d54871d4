package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/parser"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

const (
	dialTimeout    = 5 * time.Second
	writeTimeout   = 2 * time.Second
	maxPayloadSize = 4096
)

// ErrStopped is returned by Connect after Stop
var ErrStopped = errors.New("capture stopped")

// Message is one notification payload received from a bridge
type Message struct {
	Source    string
	SessionID string
	Data      []byte
	Timestamp time.Time
}

// Dialer opens a connection to a bridge address
type Dialer func(ctx context.Context, address string) (net.Conn, error)

// link is one live bridge connection
type link struct {
	conn      net.Conn
	sessionID string
	writeMu   sync.Mutex
}

// Capture manages connections to BLE-to-TCP bridges. A link that drops stays
// down until Connect is called for its source again.
type Capture struct {
	sources    []string
	links      map[string]*link
	msgChan    chan Message
	statusChan chan types.ConnectionStatus
	wg         sync.WaitGroup
	stopChan   chan struct{}
	stopped    bool
	mu         sync.Mutex
	dial       Dialer
	logger     *slog.Logger
}

// New creates a new Capture instance
func New(sources []string, logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: 2 * time.Second}
	return &Capture{
		sources:    sources,
		links:      make(map[string]*link),
		msgChan:    make(chan Message, 1000),
		statusChan: make(chan types.ConnectionStatus, 64),
		stopChan:   make(chan struct{}),
		dial: func(ctx context.Context, address string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", address)
		},
		logger: logger,
	}
}

// WithDialer replaces the TCP dialer
func (c *Capture) WithDialer(d Dialer) *Capture {
	c.dial = d
	return c
}

// Start makes one connection attempt per configured source. Failures are
// reported on Statuses, not returned.
func (c *Capture) Start() error {
	for _, source := range c.sources {
		go func(source string) {
			if err := c.Connect(context.Background(), source); err != nil && !errors.Is(err, ErrStopped) {
				c.logger.Warn("bridge connection failed", "source", source, "error", err)
			}
		}(source)
	}
	return nil
}

// Connect opens the link to source unless it is already up
func (c *Capture) Connect(ctx context.Context, source string) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if _, ok := c.links[source]; ok {
		c.mu.Unlock()
		return nil
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	c.logger.Info("connecting to bridge", "source", source)
	conn, err := c.dial(ctx, source)
	if err != nil {
		err = fmt.Errorf("%w: %v", types.ErrDeviceUnavailable, err)
		c.emitStatus(types.ConnectionStatus{Source: source, Error: err.Error(), Timestamp: time.Now()})
		return err
	}
	configureTCP(conn, c.logger)

	l := &link{conn: conn, sessionID: uuid.New().String()}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return ErrStopped
	}
	if _, ok := c.links[source]; ok {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.links[source] = l
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("bridge connected", "source", source, "session_id", l.sessionID)
	c.emitStatus(types.ConnectionStatus{
		Source:     source,
		SessionID:  l.sessionID,
		Connected:  true,
		DeviceName: source,
		Timestamp:  time.Now(),
	})

	go c.handleConnection(source, l)
	return nil
}

// Send writes a command to the bridge at source
func (c *Capture) Send(source string, cmd parser.Command) error {
	c.mu.Lock()
	l, ok := c.links[source]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s is not connected", types.ErrDeviceUnavailable, source)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Warn("failed to set write deadline", "source", source, "error", err)
	}
	if _, err := l.conn.Write(parser.EncodeCommand(cmd)); err != nil {
		l.conn.Close()
		return fmt.Errorf("%w: %v", types.ErrDeviceUnavailable, err)
	}
	return nil
}

// Connected reports whether the link to source is up
func (c *Capture) Connected(source string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.links[source]
	return ok
}

// Sources returns the configured bridge addresses
func (c *Capture) Sources() []string {
	return c.sources
}

// Stop closes every link and waits for the readers to finish
func (c *Capture) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopChan)
	for _, l := range c.links {
		l.conn.Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
	close(c.msgChan)
	close(c.statusChan)
}

// Messages returns the channel for receiving payloads
func (c *Capture) Messages() <-chan Message {
	return c.msgChan
}

// Statuses returns the channel for receiving link state changes
func (c *Capture) Statuses() <-chan types.ConnectionStatus {
	return c.statusChan
}

func (c *Capture) handleConnection(source string, l *link) {
	defer c.wg.Done()
	defer l.conn.Close()

	scanner := bufio.NewScanner(l.conn)
	scanner.Buffer(make([]byte, 0, 256), maxPayloadSize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\x00")
		if line == "" {
			continue
		}
		select {
		case c.msgChan <- Message{
			Source:    source,
			SessionID: l.sessionID,
			Data:      []byte(line),
			Timestamp: time.Now(),
		}:
		case <-c.stopChan:
			return
		}
	}

	c.mu.Lock()
	if c.links[source] == l {
		delete(c.links, source)
	}
	c.mu.Unlock()

	status := types.ConnectionStatus{Source: source, SessionID: l.sessionID, Timestamp: time.Now()}
	if err := scanner.Err(); err != nil {
		status.Error = err.Error()
	}
	c.logger.Warn("bridge disconnected", "source", source, "session_id", l.sessionID, "error", status.Error)
	c.emitStatus(status)
}

func (c *Capture) emitStatus(s types.ConnectionStatus) {
	select {
	case c.statusChan <- s:
	case <-c.stopChan:
	}
}

// configureTCP enables keepalive and disables Nagle on TCP links
func configureTCP(conn net.Conn, logger *slog.Logger) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		logger.Warn("failed to set keepalive", "error", err)
	}
	if err := tcpConn.SetKeepAlivePeriod(2 * time.Second); err != nil {
		logger.Warn("failed to set keepalive period", "error", err)
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		logger.Warn("failed to set no delay", "error", err)
	}
}
