package service

import (
	"context"
	"errors"
	"testing"

	"github.com/mbarrena/pulsegate/internal/core/domain"
	"github.com/mbarrena/pulsegate/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStatusService(dialer *fakeDialer) *StatusService {
	cfg := util.LoadTestConfig()
	registry := NewRegistry(cfg.DomainDevices(), cfg.DomainUsers())
	return NewStatusService(registry, dialer, zap.NewNop())
}

func statusSessionWith(payload string) func() *fakeSession {
	return func() *fakeSession {
		s := newFakeSession()
		// retained value arrives right after subscribing
		s.deliver("home/pc/status", []byte(payload))
		return s
	}
}

func TestStatusOnline(t *testing.T) {

	require := require.New(t)

	dialer := &fakeDialer{next: statusSessionWith(`{"status":"online"}`)}
	svc := newStatusService(dialer)

	outcome, err := svc.Read(context.Background(), "personal-user", "pc-power")
	require.NoError(err)
	assert.True(t, outcome.Connected)
	assert.Equal(t, domain.DeviceStatusOnline, outcome.DeviceStatus)

	session := dialer.sessions[0]
	assert.Equal(t, []string{"home/pc/status"}, session.subscribed)
	assert.Empty(t, session.published, "status reads never publish")
	assert.True(t, session.isClosed())
}

func TestStatusNonOnlineValueIsOffline(t *testing.T) {

	require := require.New(t)

	dialer := &fakeDialer{next: statusSessionWith(`{"status":"rebooting"}`)}
	svc := newStatusService(dialer)

	outcome, err := svc.Read(context.Background(), "personal-user", "pc-power")
	require.NoError(err)
	assert.True(t, outcome.Connected)
	assert.Equal(t, domain.DeviceStatusOffline, outcome.DeviceStatus)
}

func TestStatusUnparseablePayloadIsOffline(t *testing.T) {

	require := require.New(t)

	dialer := &fakeDialer{next: statusSessionWith("not json")}
	svc := newStatusService(dialer)

	outcome, err := svc.Read(context.Background(), "personal-user", "pc-power")
	require.NoError(err)
	assert.True(t, outcome.Connected)
	assert.Equal(t, domain.DeviceStatusOffline, outcome.DeviceStatus)
}

func TestStatusNoTopicShortCircuits(t *testing.T) {

	require := require.New(t)

	dialer := &fakeDialer{}
	svc := newStatusService(dialer)

	// door-lock has no status topic configured
	outcome, err := svc.Read(context.Background(), "family-user", "door-lock")
	require.NoError(err)
	assert.True(t, outcome.Connected)
	assert.Equal(t, domain.DeviceStatusUnknown, outcome.DeviceStatus)
	assert.Equal(t, 0, dialer.dials, "no topic means no broker round trip")
}

func TestStatusDialFailure(t *testing.T) {

	require := require.New(t)

	dialer := &fakeDialer{dialErr: &domain.TransportError{Stage: domain.StageConnect, Err: errors.New("connection timeout")}}
	svc := newStatusService(dialer)

	outcome, err := svc.Read(context.Background(), "personal-user", "pc-power")
	require.NoError(err, "transport failures resolve to a state, not an error")
	assert.False(t, outcome.Connected)
	assert.Equal(t, domain.DeviceStatusOffline, outcome.DeviceStatus)
}

func TestStatusSubscribeFailure(t *testing.T) {

	require := require.New(t)

	dialer := &fakeDialer{next: func() *fakeSession {
		s := newFakeSession()
		s.subscribeErr = &domain.TransportError{Stage: domain.StageSubscribe, Err: errors.New("subscribe timeout")}
		return s
	}}
	svc := newStatusService(dialer)

	outcome, err := svc.Read(context.Background(), "personal-user", "pc-power")
	require.NoError(err)
	assert.False(t, outcome.Connected)
	assert.Equal(t, domain.DeviceStatusOffline, outcome.DeviceStatus)
	assert.True(t, dialer.sessions[0].isClosed())
}

func TestStatusReadTimeoutIsOffline(t *testing.T) {

	require := require.New(t)

	// subscription succeeds but nothing retained ever arrives
	dialer := &fakeDialer{}
	svc := newStatusService(dialer)

	outcome, err := svc.Read(context.Background(), "personal-user", "pc-power")
	require.NoError(err)
	assert.True(t, outcome.Connected)
	assert.Equal(t, domain.DeviceStatusOffline, outcome.DeviceStatus)
}

func TestStatusAccessChecks(t *testing.T) {

	dialer := &fakeDialer{}
	svc := newStatusService(dialer)

	_, err := svc.Read(context.Background(), "family-user", "pc-power")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	_, err = svc.Read(context.Background(), "personal-user", "toaster")
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)

	assert.Equal(t, 0, dialer.dials)
}
