package parser

import (
	"fmt"
	"strings"
)

// Command is an app-to-device instruction
type Command string

const (
	CmdLightOn  Command = "CMD:LED_ON"
	CmdLightOff Command = "CMD:LED_OFF"
	CmdFind     Command = "FIND"
)

// Ack is a device-to-app acknowledgement
type Ack string

const (
	AckLightOn  Ack = "ACK:LED_ON"
	AckLightOff Ack = "ACK:LED_OFF"
)

// EncodeCommand renders a command as a newline-terminated ASCII frame
func EncodeCommand(cmd Command) []byte {
	return []byte(string(cmd) + "\n")
}

// ParseCommand accepts either the wire spelling or a short alias
// (led-on, led-off, find).
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cmd:led_on", "led-on", "light-on", "on":
		return CmdLightOn, nil
	case "cmd:led_off", "led-off", "light-off", "off":
		return CmdLightOff, nil
	case "find":
		return CmdFind, nil
	default:
		return "", fmt.Errorf("unknown command %q", s)
	}
}

// ParseAck recognizes a device acknowledgement payload
func ParseAck(data []byte) (Ack, bool) {
	switch Ack(clean(data)) {
	case AckLightOn:
		return AckLightOn, true
	case AckLightOff:
		return AckLightOff, true
	default:
		return "", false
	}
}

// LightOn reports the light state an acknowledgement confirms
func (a Ack) LightOn() bool {
	return a == AckLightOn
}
