package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbarrena/pulsegate/internal/core/domain"
	"github.com/mbarrena/pulsegate/internal/core/port"
	"github.com/mbarrena/pulsegate/internal/sigv4"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// Fixed bound on the broker connect handshake.
	ConnectTimeout = 5 * time.Second

	// Bound on subscribe/publish token waits.
	opTimeout = 5 * time.Second

	// Grace period for in-flight work on disconnect.
	disconnectQuiesceMillis = 250

	inboxBuffer = 8
)

// Dialer opens one ephemeral MQTT-over-WebSocket session per call. No
// pooling, no reconnection: a session lives for exactly one exchange.
type Dialer struct {
	signer *sigv4.Signer
	expiry time.Duration
	logger *zap.Logger
}

func NewDialer(signer *sigv4.Signer, expiry time.Duration, logger *zap.Logger) *Dialer {
	return &Dialer{
		signer: signer,
		expiry: expiry,
		logger: logger.With(zap.String("component", "mqtt_session")),
	}
}

func (d *Dialer) Dial(ctx context.Context, broker domain.BrokerConfig) (port.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.TransportError{Stage: domain.StageConnect, Err: err}
	}

	signedURL, err := d.signer.PresignWebSocketURL(broker.Endpoint, broker.Region, d.expiry)
	if err != nil {
		return nil, err
	}

	clientId := fmt.Sprintf("pulsegate_%s", uuid.NewString())

	opts := mqtt.NewClientOptions()
	opts.AddBroker(signedURL)
	opts.SetClientID(clientId)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(ConnectTimeout) {
		client.Disconnect(0)
		return nil, &domain.TransportError{Stage: domain.StageConnect, Err: errors.New("connection timeout")}
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, &domain.TransportError{Stage: domain.StageConnect, Err: err}
	}

	d.logger.Debug("session@dial connected", zap.String("endpoint", broker.Endpoint), zap.String("client_id", clientId))

	return &session{
		client: client,
		logger: d.logger.With(zap.String("client_id", clientId)),
	}, nil
}

type session struct {
	client mqtt.Client
	logger *zap.Logger
}

func (s *session) Subscribe(ctx context.Context, topic string, qos byte) (<-chan port.SessionMessage, error) {
	inbox := make(chan port.SessionMessage, inboxBuffer)

	token := s.client.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		msg := port.SessionMessage{
			Topic:    m.Topic(),
			Payload:  m.Payload(),
			Retained: m.Retained(),
		}
		select {
		case inbox <- msg:
		default:
			s.logger.Warn("session@subscribe inbox full, dropping message", zap.String("topic", m.Topic()))
		}
	})
	if !token.WaitTimeout(opTimeout) {
		return nil, &domain.TransportError{Stage: domain.StageSubscribe, Err: errors.New("subscribe timed out")}
	}
	if err := token.Error(); err != nil {
		return nil, &domain.TransportError{Stage: domain.StageSubscribe, Err: err}
	}

	s.logger.Debug("session@subscribe done", zap.String("topic", topic))
	return inbox, nil
}

func (s *session) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	token := s.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(opTimeout) {
		return &domain.TransportError{Stage: domain.StagePublish, Err: errors.New("publish timed out")}
	}
	if err := token.Error(); err != nil {
		return &domain.TransportError{Stage: domain.StagePublish, Err: err}
	}

	s.logger.Debug("session@publish done", zap.String("topic", topic))
	return nil
}

// Close releases the connection. Every open connection burns billed
// broker minutes, so callers defer this on every exit path.
func (s *session) Close() {
	s.client.Disconnect(disconnectQuiesceMillis)
}
