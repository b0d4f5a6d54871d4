package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

const (
	SubjectBeaconRaw        = "beacon.raw"
	SubjectBeaconStatus     = "beacon.status"
	SubjectBeaconCmd        = "beacon.cmd"
	SubjectBeaconControl    = "beacon.control"
	SubjectBeaconAlert      = "beacon.alert"
	SubjectObserverLocation = "observer.location"

	StreamBeaconRaw = "BEACON_RAW"

	controlConnect = "CONNECT "
)

// CommandRequest asks the ingestor to write a command to a bridge
type CommandRequest struct {
	Source  string `json:"source,omitempty"`
	Command string `json:"command"`
}

// CommandReply is the ingestor's answer to a CommandRequest
type CommandReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Client represents a NATS client
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

// New creates a new NATS client and makes sure the raw payload stream exists
func New(url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url, nats.Name("mayak-finder"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamBeaconRaw,
		Subjects: []string{SubjectBeaconRaw},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn:   nc,
		js:     js,
		logger: logger,
	}, nil
}

// PublishBeaconMessage publishes a raw payload to the stream
func (c *Client) PublishBeaconMessage(msg *types.BeaconMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := c.js.Publish(SubjectBeaconRaw, data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// SubscribeBeaconRaw subscribes to raw payloads
func (c *Client) SubscribeBeaconRaw(handler func(*types.BeaconMessage)) error {
	_, err := c.js.Subscribe(SubjectBeaconRaw, func(msg *nats.Msg) {
		var beaconMsg types.BeaconMessage
		if err := json.Unmarshal(msg.Data, &beaconMsg); err != nil {
			c.logger.Warn("failed to unmarshal beacon message", "error", err)
			return
		}
		handler(&beaconMsg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// PublishStatus publishes a bridge link state change
func (c *Client) PublishStatus(status *types.ConnectionStatus) error {
	return c.publishJSON(SubjectBeaconStatus, status)
}

// SubscribeStatus subscribes to bridge link state changes
func (c *Client) SubscribeStatus(handler func(*types.ConnectionStatus)) error {
	return subscribeJSON(c, SubjectBeaconStatus, handler)
}

// PublishObserverLocation publishes the searcher's live location
func (c *Client) PublishObserverLocation(loc *types.ObserverLocation) error {
	return c.publishJSON(SubjectObserverLocation, loc)
}

// SubscribeObserverLocation subscribes to the searcher's live location
func (c *Client) SubscribeObserverLocation(handler func(*types.ObserverLocation)) error {
	return subscribeJSON(c, SubjectObserverLocation, handler)
}

// SubscribeAlerts subscribes to user-facing alerts
func (c *Client) SubscribeAlerts(handler func(*types.Alert)) error {
	return subscribeJSON(c, SubjectBeaconAlert, handler)
}

// Permitted reports whether alerts can be delivered right now
func (c *Client) Permitted() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Notify publishes an alert for notification consumers
func (c *Client) Notify(_ context.Context, a types.Alert) error {
	return c.publishJSON(SubjectBeaconAlert, &a)
}

// SendCommand asks the ingestor to deliver a command and waits for its reply
func (c *Client) SendCommand(ctx context.Context, req CommandRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	msg, err := c.conn.RequestWithContext(ctx, SubjectBeaconCmd, data)
	if err != nil {
		return fmt.Errorf("command request failed: %w", err)
	}
	var reply CommandReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("failed to unmarshal command reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("%w: %s", types.ErrDeviceUnavailable, reply.Error)
	}
	return nil
}

// HandleCommands serves command requests with handler
func (c *Client) HandleCommands(handler func(CommandRequest) error) error {
	_, err := c.conn.Subscribe(SubjectBeaconCmd, func(msg *nats.Msg) {
		var req CommandRequest
		reply := CommandReply{OK: true}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			reply = CommandReply{Error: fmt.Sprintf("invalid request: %v", err)}
		} else if err := handler(req); err != nil {
			reply = CommandReply{Error: err.Error()}
		}
		data, _ := json.Marshal(reply)
		if err := msg.Respond(data); err != nil {
			c.logger.Warn("failed to respond to command", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// RequestConnect asks the ingestor to (re)connect a bridge source
func (c *Client) RequestConnect(source string) error {
	if err := c.conn.Publish(SubjectBeaconControl, []byte(controlConnect+source)); err != nil {
		return fmt.Errorf("failed to publish control message: %w", err)
	}
	return c.conn.Flush()
}

// SubscribeControl subscribes to connect requests
func (c *Client) SubscribeControl(handler func(source string)) error {
	_, err := c.conn.Subscribe(SubjectBeaconControl, func(msg *nats.Msg) {
		source, ok := ParseControl(string(msg.Data))
		if !ok {
			c.logger.Warn("ignoring control message", "data", string(msg.Data))
			return
		}
		handler(source)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// ParseControl extracts the source from a "CONNECT <source>" message. An
// empty source means every configured source.
func ParseControl(data string) (string, bool) {
	data = strings.TrimSpace(data)
	if data == strings.TrimSpace(controlConnect) {
		return "", true
	}
	if !strings.HasPrefix(data, controlConnect) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(data, controlConnect)), true
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) publishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func subscribeJSON[T any](c *Client, subject string, handler func(*T)) error {
	_, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			c.logger.Warn("failed to unmarshal payload", "subject", subject, "error", err)
			return
		}
		handler(&v)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return nil
}
