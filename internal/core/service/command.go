package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mbarrena/pulsegate/internal/core/domain"
	"github.com/mbarrena/pulsegate/internal/core/port"

	"go.uber.org/zap"
)

const (
	// QoS 1 end to end: the command must reach the controller and the
	// acknowledgment must reach us at least once.
	exchangeQoS byte = 1

	// Fallback pulse length when neither the request nor the device
	// configuration carries one.
	defaultPulseMillis uint32 = 200
)

// CommandService owns the command/acknowledgment exchange. Every call
// runs on its own ephemeral session: connect, subscribe to the ack
// topic, publish the command, race the first parseable acknowledgment
// against the bounded wait, tear the connection down.
type CommandService struct {
	gate   port.AccessGate
	dialer port.Dialer
	logger *zap.Logger
}

func NewCommandService(gate port.AccessGate, dialer port.Dialer, logger *zap.Logger) *CommandService {
	return &CommandService{
		gate:   gate,
		dialer: dialer,
		logger: logger.With(zap.String("service", "command")),
	}
}

func (s *CommandService) Send(ctx context.Context, userId, deviceId string, cmd domain.Command) (domain.CommandOutcome, error) {
	device, ok := s.gate.DeviceById(deviceId)
	if !ok {
		return domain.CommandOutcome{}, domain.ErrDeviceNotFound
	}
	if !s.gate.CanAccess(userId, deviceId) {
		return domain.CommandOutcome{}, domain.ErrAccessDenied
	}

	cmd = withPulseDefault(device, cmd)
	if err := cmd.Validate(); err != nil {
		return domain.CommandOutcome{}, err
	}

	session, err := s.dialer.Dial(ctx, device.MQTT)
	if err != nil {
		return domain.CommandOutcome{}, err
	}
	defer session.Close()

	inbox, err := session.Subscribe(ctx, device.MQTT.AckTopic, exchangeQoS)
	if err != nil {
		return domain.CommandOutcome{}, err
	}

	payload, err := json.Marshal(domain.CommandPayload{
		Cmd:      string(cmd.Action),
		Duration: cmd.DurationMillis,
	})
	if err != nil {
		return domain.CommandOutcome{}, err
	}
	if err := session.Publish(ctx, device.MQTT.CmdTopic, exchangeQoS, payload); err != nil {
		return domain.CommandOutcome{}, err
	}

	ack := s.awaitAck(inbox, cmd.AckWait())
	s.logger.Debug("command@send resolved",
		zap.String("device", device.Id),
		zap.String("action", string(cmd.Action)),
		zap.String("ack", ack.Status))

	return domain.CommandOutcome{Ack: ack.Status}, nil
}

// awaitAck resolves with the first parseable acknowledgment on the
// invocation's own inbox, or the soft timeout outcome. Unparseable
// payloads are logged and skipped without restarting the wait.
func (s *CommandService) awaitAck(inbox <-chan port.SessionMessage, wait time.Duration) domain.Acknowledgment {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case msg := <-inbox:
			var ack domain.AckPayload
			if err := json.Unmarshal(msg.Payload, &ack); err != nil || ack.Status == "" {
				s.logger.Warn("command@ack ignoring unparseable payload", zap.String("topic", msg.Topic))
				continue
			}
			return domain.Acknowledgment{Status: ack.Status, ReceivedAt: time.Now()}
		case <-timer.C:
			return domain.Acknowledgment{Status: domain.AckStatusTimeout, ReceivedAt: time.Now()}
		}
	}
}

func withPulseDefault(device domain.Device, cmd domain.Command) domain.Command {
	if cmd.Action.CarriesDuration() && cmd.DurationMillis == 0 {
		if device.PulseDurationMillis > 0 {
			cmd.DurationMillis = device.PulseDurationMillis
		} else {
			cmd.DurationMillis = defaultPulseMillis
		}
	}
	return cmd
}
