package domain

import (
	"fmt"
	"time"
)

type DeviceType string

const (
	DeviceTypePowerButton   DeviceType = "power_button"
	DeviceTypeGate          DeviceType = "gate"
	DeviceTypeLock          DeviceType = "lock"
	DeviceTypeGenericSwitch DeviceType = "generic_switch"
)

func ParseDeviceType(s string) (DeviceType, error) {
	switch DeviceType(s) {
	case DeviceTypePowerButton, DeviceTypeGate, DeviceTypeLock, DeviceTypeGenericSwitch:
		return DeviceType(s), nil
	}
	return "", fmt.Errorf("unknown device type %q", s)
}

// BrokerConfig points a device at its IoT broker endpoint and topics.
type BrokerConfig struct {
	Endpoint    string
	Region      string
	CmdTopic    string
	AckTopic    string
	StatusTopic string
}

// Device is loaded once from configuration and never mutated.
type Device struct {
	Id                  string
	Name                string
	Type                DeviceType
	MQTT                BrokerConfig
	PulseDurationMillis uint32
}

func (d Device) HasStatusTopic() bool {
	return d.MQTT.StatusTopic != ""
}

type User struct {
	Id           string
	DeviceAccess []string
}

const AccessWildcard = "*"

type Action string

const (
	ActionQuick   Action = "quick"
	ActionPress   Action = "press"
	ActionRelease Action = "release"
	ActionPulse   Action = "pulse"
)

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionQuick, ActionPress, ActionRelease, ActionPulse:
		return Action(s), nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, s)
}

// CarriesDuration reports whether the action sends a pulse length to the
// device. press/release are edge commands and ignore duration.
func (a Action) CarriesDuration() bool {
	return a == ActionQuick || a == ActionPulse
}

// Command is a value object built per user gesture, never persisted.
type Command struct {
	Action         Action
	DurationMillis uint32
}

func (c Command) Validate() error {
	if _, err := ParseAction(string(c.Action)); err != nil {
		return err
	}
	if c.Action.CarriesDuration() && c.DurationMillis == 0 {
		return fmt.Errorf("%w: action %s requires a positive duration", ErrInvalidCommand, c.Action)
	}
	return nil
}

// AckWait is the bounded wait for the controller acknowledgment: the
// pulse length plus one second for quick, a fixed two seconds for
// every other action.
func (c Command) AckWait() time.Duration {
	if c.Action == ActionQuick {
		return time.Duration(c.DurationMillis)*time.Millisecond + 1*time.Second
	}
	return 2 * time.Second
}

// Acknowledgment is consumed exactly once by the invocation that owns
// the exchange, then discarded.
type Acknowledgment struct {
	Status     string
	ReceivedAt time.Time
}

// AckStatusTimeout is the soft outcome when no acknowledgment arrived
// within the bound. It is not an error: the command was sent.
const AckStatusTimeout = "timeout"

type CommandOutcome struct {
	Ack string
}

type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusUnknown DeviceStatus = "unknown"
)

type StatusOutcome struct {
	Connected    bool
	DeviceStatus DeviceStatus
}

// Wire payloads exchanged with the embedded controller.

type CommandPayload struct {
	Cmd      string `json:"cmd"`
	Duration uint32 `json:"duration"`
}

type AckPayload struct {
	Status string `json:"status"`
}

type StatusPayload struct {
	Status string `json:"status"`
}
