package actor

import (
	"context"
	"testing"
	"time"

	"github.com/mbarrena/pulsegate/internal/core/domain"
	"github.com/mbarrena/pulsegate/internal/core/port"
	"github.com/mbarrena/pulsegate/internal/core/service"
	"github.com/mbarrena/pulsegate/internal/util"
	"github.com/mbarrena/pulsegate/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// retainedSession delivers one retained status payload to every
// subscriber, like a broker with a retained last-will value.
type retainedSession struct {
	payload []byte
}

func (s *retainedSession) Subscribe(_ context.Context, topic string, _ byte) (<-chan port.SessionMessage, error) {
	inbox := make(chan port.SessionMessage, 1)
	inbox <- port.SessionMessage{Topic: topic, Payload: s.payload, Retained: true}
	return inbox, nil
}

func (s *retainedSession) Publish(_ context.Context, _ string, _ byte, _ []byte) error {
	return nil
}

func (s *retainedSession) Close() {}

type retainedDialer struct {
	payload string
}

func (d *retainedDialer) Dial(_ context.Context, _ domain.BrokerConfig) (port.Session, error) {
	return &retainedSession{payload: []byte(d.payload)}, nil
}

func spawnMaster(t *testing.T, sender *recordingSender) (*pactor.ActorSystem, *pactor.PID) {
	logger := zap.NewNop()
	cfg := util.LoadTestConfig()
	registry := service.NewRegistry(cfg.DomainDevices(), cfg.DomainUsers())
	status := service.NewStatusService(registry, &retainedDialer{payload: `{"status":"online"}`}, logger)

	as := actorutil.NewActorSystemWithZapLogger(logger)
	props := pactor.PropsFromProducer(func() pactor.Actor {
		return NewMasterActor(cfg, registry, sender, status, logger)
	})
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(t, err)
	return as, pid
}

func TestMasterHealthCheck(t *testing.T) {

	require := require.New(t)

	sender := &recordingSender{ack: "executed"}
	as, pid := spawnMaster(t, sender)
	defer as.Shutdown()

	time.Sleep(200 * time.Millisecond)

	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 3*time.Second).Result()
	require.NoError(err)
	health, ok := res.(domain.ActorHealthResponse)
	require.True(ok)
	assert.True(t, health.Healthy, "master should report healthy with a live poller")
	assert.Equal(t, domain.ACTOR_ID_MASTER, health.Id)
}

func TestMasterGestureRouting(t *testing.T) {

	require := require.New(t)

	sender := &recordingSender{ack: "executed"}
	as, pid := spawnMaster(t, sender)
	defer as.Shutdown()

	ctx := as.Root

	state := sendPointerEvent(t, ctx, pid, "personal-user", "pc-power", domain.PointerDown)
	require.False(state.HasResponseError())
	assert.Equal(t, "down", state.State)

	state = sendPointerEvent(t, ctx, pid, "personal-user", "pc-power", domain.PointerUp)
	require.False(state.HasResponseError())
	assert.Equal(t, "idle", state.State)

	time.Sleep(200 * time.Millisecond)
	commands := sender.recorded()
	require.Len(commands, 1)
	assert.Equal(t, domain.ActionQuick, commands[0].Action)
}

func TestMasterGestureSessionsAreIndependent(t *testing.T) {

	require := require.New(t)

	sender := &recordingSender{ack: "executed"}
	as, pid := spawnMaster(t, sender)
	defer as.Shutdown()

	ctx := as.Root

	// two users hold down on the same device without interfering
	a := sendPointerEvent(t, ctx, pid, "personal-user", "pc-power", domain.PointerDown)
	require.False(a.HasResponseError())
	assert.Equal(t, "down", a.State)

	b := sendPointerEvent(t, ctx, pid, "personal-user", "door-lock", domain.PointerDown)
	require.False(b.HasResponseError())
	assert.Equal(t, "down", b.State)

	a = sendPointerEvent(t, ctx, pid, "personal-user", "pc-power", domain.PointerUp)
	assert.Equal(t, "idle", a.State)

	b = sendPointerEvent(t, ctx, pid, "personal-user", "door-lock", domain.PointerUp)
	assert.Equal(t, "idle", b.State)
}

func TestMasterGestureAccessErrors(t *testing.T) {

	require := require.New(t)

	sender := &recordingSender{ack: "executed"}
	as, pid := spawnMaster(t, sender)
	defer as.Shutdown()

	ctx := as.Root

	state := sendPointerEvent(t, ctx, pid, "personal-user", "toaster", domain.PointerDown)
	require.True(state.HasResponseError())
	assert.ErrorIs(t, state.GetResponseError(), domain.ErrDeviceNotFound)

	state = sendPointerEvent(t, ctx, pid, "family-user", "pc-power", domain.PointerDown)
	require.True(state.HasResponseError())
	assert.ErrorIs(t, state.GetResponseError(), domain.ErrAccessDenied)

	assert.Empty(t, sender.recorded())
}

func TestMasterStatusPollAndCache(t *testing.T) {

	require := require.New(t)

	sender := &recordingSender{ack: "executed"}
	as, pid := spawnMaster(t, sender)
	defer as.Shutdown()

	ctx := as.Root

	ctx.Send(pid, domain.StatusPollTick{})
	time.Sleep(500 * time.Millisecond)

	res, err := ctx.RequestFuture(pid, domain.DeviceStatusCacheRequest{}, 2*time.Second).Result()
	require.NoError(err)
	cache, ok := res.(domain.DeviceStatusCacheResponse)
	require.True(ok)

	// only pc-power carries a status topic
	require.Len(cache.Statuses, 1)
	cached, ok := cache.Statuses["pc-power"]
	require.True(ok)
	assert.Equal(t, domain.DeviceStatusOnline, cached.Status)
	assert.WithinDuration(t, time.Now(), cached.CheckedAt, 2*time.Second)
}
