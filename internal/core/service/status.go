package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mbarrena/pulsegate/internal/core/domain"
	"github.com/mbarrena/pulsegate/internal/core/port"

	"go.uber.org/zap"
)

// Bound on the wait for the retained last-will status value. A retained
// message is delivered right after subscribing, so a healthy read
// resolves well under this.
const statusReadTimeout = 2 * time.Second

// StatusService reads a device's last-known online/offline state from
// its retained status topic. Same connect/subscribe lifecycle as the
// command channel, but it never publishes.
type StatusService struct {
	gate   port.AccessGate
	dialer port.Dialer
	logger *zap.Logger
}

func NewStatusService(gate port.AccessGate, dialer port.Dialer, logger *zap.Logger) *StatusService {
	return &StatusService{
		gate:   gate,
		dialer: dialer,
		logger: logger.With(zap.String("service", "status")),
	}
}

func (s *StatusService) Read(ctx context.Context, userId, deviceId string) (domain.StatusOutcome, error) {
	device, ok := s.gate.DeviceById(deviceId)
	if !ok {
		return domain.StatusOutcome{}, domain.ErrDeviceNotFound
	}
	if !s.gate.CanAccess(userId, deviceId) {
		return domain.StatusOutcome{}, domain.ErrAccessDenied
	}
	return s.ReadDevice(ctx, device), nil
}

// ReadDevice performs the transport-level read, bypassing the access
// gate. Callers outside the request path (the status poller) already
// operate on registered devices.
//
// Any connection-level failure maps to connected=false/offline; the
// distinction between "couldn't connect" and "broker says offline" is
// deliberately not surfaced.
func (s *StatusService) ReadDevice(ctx context.Context, device domain.Device) domain.StatusOutcome {
	if !device.HasStatusTopic() {
		return domain.StatusOutcome{Connected: true, DeviceStatus: domain.DeviceStatusUnknown}
	}

	session, err := s.dialer.Dial(ctx, device.MQTT)
	if err != nil {
		s.logger.Warn("status@read dial failed", zap.String("device", device.Id), zap.Error(err))
		return domain.StatusOutcome{Connected: false, DeviceStatus: domain.DeviceStatusOffline}
	}
	defer session.Close()

	inbox, err := session.Subscribe(ctx, device.MQTT.StatusTopic, exchangeQoS)
	if err != nil {
		s.logger.Warn("status@read subscribe failed", zap.String("device", device.Id), zap.Error(err))
		return domain.StatusOutcome{Connected: false, DeviceStatus: domain.DeviceStatusOffline}
	}

	timer := time.NewTimer(statusReadTimeout)
	defer timer.Stop()
	select {
	case msg := <-inbox:
		var status domain.StatusPayload
		if err := json.Unmarshal(msg.Payload, &status); err == nil && status.Status == string(domain.DeviceStatusOnline) {
			return domain.StatusOutcome{Connected: true, DeviceStatus: domain.DeviceStatusOnline}
		}
		return domain.StatusOutcome{Connected: true, DeviceStatus: domain.DeviceStatusOffline}
	case <-timer.C:
		return domain.StatusOutcome{Connected: true, DeviceStatus: domain.DeviceStatusOffline}
	}
}
