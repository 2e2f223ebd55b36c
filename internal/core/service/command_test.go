package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbarrena/pulsegate/internal/core/domain"
	"github.com/mbarrena/pulsegate/internal/core/port"
	"github.com/mbarrena/pulsegate/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSession scripts one broker exchange: published commands are
// recorded, and an optional responder pushes acks onto the subscription
// inbox when the command lands.
type fakeSession struct {
	mu         sync.Mutex
	subscribed []string
	published  []fakePublish
	closed     bool

	subscribeErr error
	publishErr   error

	inbox chan port.SessionMessage
	// called after a successful publish, from the publisher's goroutine
	onPublish func(s *fakeSession, topic string, payload []byte)
}

type fakePublish struct {
	topic   string
	payload []byte
}

func newFakeSession() *fakeSession {
	return &fakeSession{inbox: make(chan port.SessionMessage, 8)}
}

func (s *fakeSession) Subscribe(_ context.Context, topic string, _ byte) (<-chan port.SessionMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	s.subscribed = append(s.subscribed, topic)
	return s.inbox, nil
}

func (s *fakeSession) Publish(_ context.Context, topic string, _ byte, payload []byte) error {
	s.mu.Lock()
	if s.publishErr != nil {
		s.mu.Unlock()
		return s.publishErr
	}
	s.published = append(s.published, fakePublish{topic: topic, payload: payload})
	onPublish := s.onPublish
	s.mu.Unlock()
	if onPublish != nil {
		onPublish(s, topic, payload)
	}
	return nil
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) deliver(topic string, payload []byte) {
	s.inbox <- port.SessionMessage{Topic: topic, Payload: payload}
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	dialErr  error
	sessions []*fakeSession
	// produces the next session; defaults to newFakeSession
	next func() *fakeSession
}

func (d *fakeDialer) Dial(_ context.Context, _ domain.BrokerConfig) (port.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	produce := d.next
	if produce == nil {
		produce = newFakeSession
	}
	session := produce()
	d.sessions = append(d.sessions, session)
	return session, nil
}

func ackOnPublish(status string) func(*fakeSession, string, []byte) {
	return func(s *fakeSession, _ string, _ []byte) {
		s.deliver("home/pc/ack", []byte(`{"status":"`+status+`"}`))
	}
}

func newCommandService(dialer *fakeDialer) *CommandService {
	cfg := util.LoadTestConfig()
	registry := NewRegistry(cfg.DomainDevices(), cfg.DomainUsers())
	return NewCommandService(registry, dialer, zap.NewNop())
}

func TestCommandExecutedAck(t *testing.T) {

	require := require.New(t)

	dialer := &fakeDialer{next: func() *fakeSession {
		s := newFakeSession()
		s.onPublish = ackOnPublish("executed")
		return s
	}}
	svc := newCommandService(dialer)

	outcome, err := svc.Send(context.Background(), "personal-user", "pc-power",
		domain.Command{Action: domain.ActionQuick, DurationMillis: 250})
	require.NoError(err)
	assert.Equal(t, "executed", outcome.Ack)

	require.Len(dialer.sessions, 1)
	session := dialer.sessions[0]
	assert.Equal(t, []string{"home/pc/ack"}, session.subscribed)
	require.Len(session.published, 1)
	assert.Equal(t, "home/pc/cmd", session.published[0].topic)

	var payload domain.CommandPayload
	require.NoError(json.Unmarshal(session.published[0].payload, &payload))
	assert.Equal(t, "quick", payload.Cmd)
	assert.Equal(t, uint32(250), payload.Duration)

	assert.True(t, session.isClosed(), "session must be torn down after the exchange")
}

func TestCommandAckTimeoutIsSoft(t *testing.T) {

	require := require.New(t)

	dialer := &fakeDialer{}
	svc := newCommandService(dialer)

	start := time.Now()
	outcome, err := svc.Send(context.Background(), "personal-user", "pc-power",
		domain.Command{Action: domain.ActionQuick, DurationMillis: 100})
	elapsed := time.Since(start)

	require.NoError(err, "a missing ack is an outcome, not an error")
	assert.Equal(t, domain.AckStatusTimeout, outcome.Ack)
	// bound is duration + 1s for duration-carrying actions
	assert.GreaterOrEqual(t, elapsed, 1100*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
	assert.True(t, dialer.sessions[0].isClosed())
}

func TestCommandPulseDefaults(t *testing.T) {

	require := require.New(t)

	dialer := &fakeDialer{next: func() *fakeSession {
		s := newFakeSession()
		s.onPublish = ackOnPublish("executed")
		return s
	}}
	svc := newCommandService(dialer)

	// door-lock configures pulse_duration_ms 1000
	_, err := svc.Send(context.Background(), "family-user", "door-lock",
		domain.Command{Action: domain.ActionPulse})
	require.NoError(err)

	var payload domain.CommandPayload
	require.NoError(json.Unmarshal(dialer.sessions[0].published[0].payload, &payload))
	assert.Equal(t, uint32(1000), payload.Duration)

	// pc-power configures none, so the global floor applies
	_, err = svc.Send(context.Background(), "personal-user", "pc-power",
		domain.Command{Action: domain.ActionQuick})
	require.NoError(err)
	require.NoError(json.Unmarshal(dialer.sessions[1].published[0].payload, &payload))
	assert.Equal(t, uint32(200), payload.Duration)
}

func TestCommandUnparseableAckSkipped(t *testing.T) {

	require := require.New(t)

	dialer := &fakeDialer{next: func() *fakeSession {
		s := newFakeSession()
		s.onPublish = func(s *fakeSession, _ string, _ []byte) {
			s.deliver("home/pc/ack", []byte("not json"))
			s.deliver("home/pc/ack", []byte(`{"other":"field"}`))
			s.deliver("home/pc/ack", []byte(`{"status":"executed"}`))
		}
		return s
	}}
	svc := newCommandService(dialer)

	outcome, err := svc.Send(context.Background(), "personal-user", "pc-power",
		domain.Command{Action: domain.ActionQuick, DurationMillis: 100})
	require.NoError(err)
	assert.Equal(t, "executed", outcome.Ack, "garbage on the ack topic must not resolve or restart the wait")
}

func TestCommandDeviceNotFound(t *testing.T) {

	dialer := &fakeDialer{}
	svc := newCommandService(dialer)

	_, err := svc.Send(context.Background(), "personal-user", "toaster",
		domain.Command{Action: domain.ActionQuick, DurationMillis: 100})
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
	assert.Equal(t, 0, dialer.dials)
}

func TestCommandAccessDeniedOpensNoConnection(t *testing.T) {

	dialer := &fakeDialer{}
	svc := newCommandService(dialer)

	_, err := svc.Send(context.Background(), "family-user", "pc-power",
		domain.Command{Action: domain.ActionQuick, DurationMillis: 100})
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Equal(t, 0, dialer.dials, "denied requests must not reach the broker")
}

func TestCommandInvalidAction(t *testing.T) {

	dialer := &fakeDialer{}
	svc := newCommandService(dialer)

	_, err := svc.Send(context.Background(), "personal-user", "pc-power",
		domain.Command{Action: "selfdestruct"})
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)
	assert.Equal(t, 0, dialer.dials)
}

func TestCommandDialError(t *testing.T) {

	dialer := &fakeDialer{dialErr: &domain.TransportError{Stage: domain.StageConnect, Err: errors.New("connection timeout")}}
	svc := newCommandService(dialer)

	_, err := svc.Send(context.Background(), "personal-user", "pc-power",
		domain.Command{Action: domain.ActionQuick, DurationMillis: 100})

	var transportErr *domain.TransportError
	assert.ErrorAs(t, err, &transportErr)
	assert.Equal(t, domain.StageConnect, transportErr.Stage)
}

func TestCommandSessionClosedOnEveryPath(t *testing.T) {

	require := require.New(t)

	// subscribe failure
	dialer := &fakeDialer{next: func() *fakeSession {
		s := newFakeSession()
		s.subscribeErr = &domain.TransportError{Stage: domain.StageSubscribe, Err: errors.New("subscribe timeout")}
		return s
	}}
	svc := newCommandService(dialer)
	_, err := svc.Send(context.Background(), "personal-user", "pc-power",
		domain.Command{Action: domain.ActionQuick, DurationMillis: 100})
	require.Error(err)
	assert.True(t, dialer.sessions[0].isClosed())

	// publish failure
	dialer = &fakeDialer{next: func() *fakeSession {
		s := newFakeSession()
		s.publishErr = &domain.TransportError{Stage: domain.StagePublish, Err: errors.New("publish timeout")}
		return s
	}}
	svc = newCommandService(dialer)
	_, err = svc.Send(context.Background(), "personal-user", "pc-power",
		domain.Command{Action: domain.ActionQuick, DurationMillis: 100})
	require.Error(err)
	assert.True(t, dialer.sessions[0].isClosed())
}

func TestCommandConcurrentExchangesAreIsolated(t *testing.T) {

	// every exchange gets its own session and its own ack, so two
	// interleaved invocations must each resolve with their own status
	dialer := &fakeDialer{next: func() *fakeSession {
		s := newFakeSession()
		s.onPublish = func(s *fakeSession, _ string, payload []byte) {
			var cmd domain.CommandPayload
			_ = json.Unmarshal(payload, &cmd)
			s.deliver("ack", []byte(`{"status":"ack-`+cmd.Cmd+`"}`))
		}
		return s
	}}
	svc := newCommandService(dialer)

	var wg sync.WaitGroup
	results := make([]domain.CommandOutcome, 2)
	actions := []domain.Action{domain.ActionPress, domain.ActionRelease}
	for i, action := range actions {
		wg.Add(1)
		go func(i int, action domain.Action) {
			defer wg.Done()
			outcome, err := svc.Send(context.Background(), "personal-user", "pc-power",
				domain.Command{Action: action})
			assert.NoError(t, err)
			results[i] = outcome
		}(i, action)
	}
	wg.Wait()

	assert.Equal(t, "ack-press", results[0].Ack)
	assert.Equal(t, "ack-release", results[1].Ack)
	assert.Equal(t, 2, dialer.dials)
}
