package actor

import (
	"context"
	"time"

	"github.com/mbarrena/pulsegate/internal/core/domain"
	"github.com/mbarrena/pulsegate/internal/core/service"
	"github.com/mbarrena/pulsegate/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// StatusPollerActor refreshes the last-known status of every device
// carrying a status topic and answers cache lookups. Each poll is its
// own ephemeral broker read; results pipe back as messages.
type StatusPollerActor struct {
	devices  []domain.Device
	status   *service.StatusService
	statuses map[string]domain.CachedDeviceStatus
	logger   *zap.Logger
}

type statusPolled struct {
	deviceId string
	outcome  domain.StatusOutcome
}

func NewStatusPollerActor(devices []domain.Device, status *service.StatusService, logger *zap.Logger) *StatusPollerActor {
	var polled []domain.Device
	for _, d := range devices {
		if d.HasStatusTopic() {
			polled = append(polled, d)
		}
	}
	return &StatusPollerActor{
		devices:  polled,
		status:   status,
		statuses: map[string]domain.CachedDeviceStatus{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_STATUS_POLLER, logger),
	}
}

func (state *StatusPollerActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("status_poller@default started", zap.Int("devices", len(state.devices)))
	case domain.StatusPollTick:
		state.logger.Debug("status_poller@default tick")
		for _, device := range state.devices {
			state.poll(ctx, device)
		}
	case statusPolled:
		state.logger.Debug("status_poller@default polled",
			zap.String("device", msg.deviceId),
			zap.String("status", string(msg.outcome.DeviceStatus)))
		state.statuses[msg.deviceId] = domain.CachedDeviceStatus{
			Status:    msg.outcome.DeviceStatus,
			CheckedAt: time.Now(),
		}
	case domain.DeviceStatusCacheRequest:
		statuses := make(map[string]domain.CachedDeviceStatus, len(state.statuses))
		for id, cached := range state.statuses {
			statuses[id] = cached
		}
		ctx.Respond(domain.DeviceStatusCacheResponse{Statuses: statuses})
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_STATUS_POLLER,
			Healthy: true,
			State:   "idle",
		})
	}
}

func (state *StatusPollerActor) poll(ctx actor.Context, device domain.Device) {
	status := state.status
	task := actorutil.NewBackgroundTaskNoError(ctx, func() *statusPolled {
		outcome := status.ReadDevice(context.Background(), device)
		return &statusPolled{deviceId: device.Id, outcome: outcome}
	}).WithTimeout(10 * time.Second).Recover(func(err error) statusPolled {
		return statusPolled{
			deviceId: device.Id,
			outcome:  domain.StatusOutcome{Connected: false, DeviceStatus: domain.DeviceStatusOffline},
		}
	})
	go task.PipeTo(ctx.Self())
}
