package port

import (
	"context"

	"github.com/mbarrena/pulsegate/internal/core/domain"
)

// SessionMessage is one message delivered on a subscription, with the
// broker retained flag preserved.
type SessionMessage struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Session is one ephemeral broker connection. It owns nothing beyond a
// single in-flight exchange and must be closed on every exit path.
type Session interface {
	// Subscribe registers at the given QoS and returns the channel
	// messages for the topic are delivered on.
	Subscribe(ctx context.Context, topic string, qos byte) (<-chan SessionMessage, error)
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	Close()
}

// Dialer signs a connection URL for the broker descriptor and opens a
// fresh session, bounded by a connect timeout.
type Dialer interface {
	Dial(ctx context.Context, broker domain.BrokerConfig) (Session, error)
}

type AccessGate interface {
	CanAccess(userId, deviceId string) bool
	DevicesFor(userId string) []domain.Device
	DeviceById(deviceId string) (domain.Device, bool)
}

// CommandSender is the command channel surface consumed by the HTTP
// layer and the gesture sessions.
type CommandSender interface {
	Send(ctx context.Context, userId, deviceId string, cmd domain.Command) (domain.CommandOutcome, error)
}

type StatusReader interface {
	Read(ctx context.Context, userId, deviceId string) (domain.StatusOutcome, error)
}
