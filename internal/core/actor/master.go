package actor

import (
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/mbarrena/pulsegate/internal/config"
	"github.com/mbarrena/pulsegate/internal/core/domain"
	"github.com/mbarrena/pulsegate/internal/core/port"
	"github.com/mbarrena/pulsegate/internal/core/service"
	"github.com/mbarrena/pulsegate/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// MasterActor supervises the status poller and the per-(user,device)
// gesture sessions, spawning sessions on first use. It also fans in
// health checks for the HTTP healthcheck endpoint.
type MasterActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash

	gate     port.AccessGate
	commands port.CommandSender
	status   *service.StatusService

	statusPollerActor  *actor.PID
	gestureSessions    map[string]*actor.PID
	currentHealthCheck healthCheckResult

	logger *zap.Logger
}

type healthCheckResult struct {
	pollerHealthy  bool
	checksReceived int
	respondTo      *actor.PID
}

func NewMasterActor(cfg config.Config, gate port.AccessGate, commands port.CommandSender,
	status *service.StatusService, logger *zap.Logger) *MasterActor {
	act := &MasterActor{
		config:          cfg,
		behavior:        actor.NewBehavior(),
		stash:           &actorutil.Stash{},
		gate:            gate,
		commands:        commands,
		status:          status,
		gestureSessions: map[string]*actor.PID{},
		logger:          actorutil.ActorLogger(domain.ACTOR_ID_MASTER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}

		pollerPID, err := state.startStatusPollerActor(ctx)
		if err != nil {
			panic(err)
		}
		state.statusPollerActor = pollerPID

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck = healthCheckResult{respondTo: ctx.Sender()}
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.statusPollerActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_STATUS_POLLER,
				Healthy: false,
			}
		})
		ctx.SetReceiveTimeout(1 * time.Second)
		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.StatusPollTick:
		ctx.Send(state.statusPollerActor, msg)
	case domain.DeviceStatusCacheRequest:
		// poller answers the original requester directly
		ctx.RequestWithCustomSender(state.statusPollerActor, msg, ctx.Sender())
	case domain.PointerEventRequest:
		state.logger.Debug("master@default pointer event",
			zap.String("user", msg.UserId), zap.String("device", msg.DeviceId), zap.String("event", string(msg.Event)))
		if _, ok := state.gate.DeviceById(msg.DeviceId); !ok {
			ctx.Respond(domain.GestureStateResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: domain.ErrDeviceNotFound},
			})
			return
		}
		if !state.gate.CanAccess(msg.UserId, msg.DeviceId) {
			ctx.Respond(domain.GestureStateResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: domain.ErrAccessDenied},
			})
			return
		}
		session, err := state.gestureSession(ctx, msg.UserId, msg.DeviceId)
		if err != nil {
			ctx.Respond(domain.GestureStateResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			})
			return
		}
		ctx.RequestWithCustomSender(session, msg, ctx.Sender())
	}
}

func (state *MasterActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck response", zap.String("id", msg.Id), zap.Bool("healthy", msg.Healthy))
		if msg.Id == domain.ACTOR_ID_STATUS_POLLER {
			state.currentHealthCheck.pollerHealthy = msg.Healthy
		}
		state.currentHealthCheck.checksReceived++
		if state.currentHealthCheck.allReceived() {
			state.finishHealthCheck(ctx)
		}
	case *actor.ReceiveTimeout:
		state.logger.Debug("master@healthcheck timeout")
		state.finishHealthCheck(ctx)
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) finishHealthCheck(ctx actor.Context) {
	ctx.CancelReceiveTimeout()
	state.currentHealthCheck.respond(ctx)
	state.behavior.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

func (state *MasterActor) gestureSession(ctx actor.Context, userId, deviceId string) (*actor.PID, error) {
	key := userId + "/" + deviceId
	if pid, ok := state.gestureSessions[key]; ok {
		return pid, nil
	}

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for gesture session. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	threshold := time.Duration(state.config.Gesture.LongPressThresholdMillis) * time.Millisecond
	minPulse := time.Duration(state.config.Gesture.MinPulseMillis) * time.Millisecond

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewGestureSessionActor(userId, deviceId, threshold, minPulse, state.commands, state.logger)
	}, actor.WithSupervisor(supervisor))
	pid, err := ctx.SpawnNamed(props, "gesture_"+sanitizeActorName(key))
	if err != nil {
		return nil, err
	}
	state.gestureSessions[key] = pid
	return pid, nil
}

func (state *MasterActor) startStatusPollerActor(ctx actor.Context) (*actor.PID, error) {
	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for status poller. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewStatusPollerActor(state.config.DomainDevices(), state.status, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_STATUS_POLLER)
}

var actorNameRegexp = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func sanitizeActorName(name string) string {
	return actorNameRegexp.ReplaceAllString(name, "_")
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 1
}

func (state *healthCheckResult) allHealthy() bool {
	return state.pollerHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
