package actor

import (
	"context"
	"time"

	"github.com/mbarrena/pulsegate/internal/core/domain"
	"github.com/mbarrena/pulsegate/internal/core/port"
	"github.com/mbarrena/pulsegate/internal/core/service"
	"github.com/mbarrena/pulsegate/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// Bound on one full command exchange (connect 5s + subscribe + publish
// + longest ack wait) as seen from the gesture session.
const dispatchTimeout = 15 * time.Second

// GestureSessionActor hosts one (user, device) gesture machine. The
// mailbox serializes pointer events and timer fires, so the machine
// itself needs no locking; command dispatch runs off-goroutine and
// pipes its outcome back as a message.
type GestureSessionActor struct {
	userId   string
	deviceId string

	machine  *service.GestureMachine
	commands port.CommandSender

	scheduler   *scheduler.TimerScheduler
	cancelTimer scheduler.CancelFunc
	lastAck     string

	logger *zap.Logger
}

type longPressElapsed struct {
	seq uint64
}

type commandDispatched struct {
	action  domain.Action
	outcome domain.CommandOutcome
	err     error
}

func NewGestureSessionActor(userId, deviceId string, longPressThreshold, minPulse time.Duration,
	commands port.CommandSender, logger *zap.Logger) *GestureSessionActor {
	return &GestureSessionActor{
		userId:   userId,
		deviceId: deviceId,
		machine:  service.NewGestureMachine(longPressThreshold, minPulse),
		commands: commands,
		logger: actorutil.ActorLogger("gesture", logger).
			With(zap.String("user", userId), zap.String("device", deviceId)),
	}
}

func (state *GestureSessionActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("gesture@session started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
	case domain.PointerEventRequest:
		state.logger.Debug("gesture@session pointer event", zap.String("event", string(msg.Event)))
		var effect service.GestureEffect
		switch msg.Event {
		case domain.PointerDown:
			effect = state.machine.PointerDown(time.Now())
		case domain.PointerUp:
			effect = state.machine.PointerUp(time.Now())
		case domain.PointerCancel:
			effect = state.machine.PointerCancel(time.Now())
		}
		state.applyEffect(ctx, effect)
		ctx.Respond(domain.GestureStateResponse{
			State:   string(state.machine.State()),
			LastAck: state.lastAck,
		})
	case longPressElapsed:
		state.applyEffect(ctx, state.machine.TimerFired(msg.seq))
	case commandDispatched:
		if msg.err != nil {
			state.logger.Error("gesture@session dispatch failed",
				zap.String("action", string(msg.action)), zap.Error(msg.err))
			return
		}
		state.logger.Debug("gesture@session dispatch resolved",
			zap.String("action", string(msg.action)), zap.String("ack", msg.outcome.Ack))
		state.lastAck = msg.outcome.Ack
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      "gesture/" + state.userId + "/" + state.deviceId,
			Healthy: true,
			State:   string(state.machine.State()),
		})
	}
}

func (state *GestureSessionActor) applyEffect(ctx actor.Context, effect service.GestureEffect) {
	if effect.CancelTimer && state.cancelTimer != nil {
		state.cancelTimer()
		state.cancelTimer = nil
	}
	if effect.ArmTimer != nil {
		seq := effect.ArmTimer.Seq
		state.cancelTimer = state.scheduler.RequestOnce(effect.ArmTimer.After, ctx.Self(), longPressElapsed{seq: seq})
	}
	if effect.HoldMillis > 0 {
		state.logger.Info("gesture@session hold resolved", zap.Uint32("hold_millis", effect.HoldMillis))
	}
	for _, cmd := range effect.Commands {
		state.dispatch(ctx, cmd)
	}
}

func (state *GestureSessionActor) dispatch(ctx actor.Context, cmd domain.Command) {
	userId, deviceId := state.userId, state.deviceId
	commands := state.commands
	task := actorutil.NewBackgroundTask(ctx, func() (*commandDispatched, error) {
		outcome, err := commands.Send(context.Background(), userId, deviceId, cmd)
		return &commandDispatched{action: cmd.Action, outcome: outcome, err: err}, nil
	}).WithTimeout(dispatchTimeout).Recover(func(err error) commandDispatched {
		return commandDispatched{action: cmd.Action, err: err}
	})
	go task.PipeTo(ctx.Self())
}
