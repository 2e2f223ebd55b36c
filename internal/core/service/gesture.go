package service

import (
	"time"

	"github.com/mbarrena/pulsegate/internal/core/domain"
)

type GestureStateKind string

const (
	GestureIdle GestureStateKind = "idle"
	GestureDown GestureStateKind = "down"
	GestureHeld GestureStateKind = "held"
)

// TimerArm instructs the host to arm the long-press timer and deliver
// the sequence number back on fire. Stale fires carry an old sequence
// and are discarded.
type TimerArm struct {
	Seq   uint64
	After time.Duration
}

// GestureEffect is what one input edge produces: zero or more commands
// to dispatch, and timer instructions for the host.
type GestureEffect struct {
	Commands    []domain.Command
	ArmTimer    *TimerArm
	CancelTimer bool
	HoldMillis  uint32
}

// GestureMachine classifies one pointer interaction at a time into
// quick / press / release. It is purely synchronous; the host owns the
// actual timer and feeds fires back through TimerFired. At most one
// timer and one gesture are live at any moment.
type GestureMachine struct {
	longPressThreshold time.Duration
	minPulse           time.Duration

	state      GestureStateKind
	pressStart time.Time
	timerSeq   uint64
}

func NewGestureMachine(longPressThreshold, minPulse time.Duration) *GestureMachine {
	return &GestureMachine{
		longPressThreshold: longPressThreshold,
		minPulse:           minPulse,
		state:              GestureIdle,
	}
}

func (m *GestureMachine) State() GestureStateKind {
	return m.state
}

// PointerDown starts a gesture. A second down while one is live is
// ignored until the active gesture resolves.
func (m *GestureMachine) PointerDown(now time.Time) GestureEffect {
	if m.state != GestureIdle {
		return GestureEffect{}
	}
	m.state = GestureDown
	m.pressStart = now
	m.timerSeq++
	return GestureEffect{
		ArmTimer: &TimerArm{Seq: m.timerSeq, After: m.longPressThreshold},
	}
}

// PointerUp resolves the gesture: a quick tap if the long-press timer
// has not fired yet, the release edge of a live hold otherwise.
func (m *GestureMachine) PointerUp(now time.Time) GestureEffect {
	measured := now.Sub(m.pressStart)
	switch m.state {
	case GestureDown:
		m.state = GestureIdle
		duration := measured
		if duration < m.minPulse {
			// floor so the relay sees a pulse long enough to register
			duration = m.minPulse
		}
		return GestureEffect{
			CancelTimer: true,
			Commands: []domain.Command{{
				Action:         domain.ActionQuick,
				DurationMillis: uint32(duration.Milliseconds()),
			}},
		}
	case GestureHeld:
		m.state = GestureIdle
		// the device infers the hold duration from the release edge;
		// the measured value is only reported upward
		return GestureEffect{
			Commands:   []domain.Command{{Action: domain.ActionRelease}},
			HoldMillis: uint32(measured.Milliseconds()),
		}
	}
	return GestureEffect{}
}

// PointerCancel (pointer left the hit area) has the same effect as a
// release of the button.
func (m *GestureMachine) PointerCancel(now time.Time) GestureEffect {
	return m.PointerUp(now)
}

// TimerFired transitions Down to Held and emits the start-of-hold press
// command. Fires for a superseded gesture are rejected by sequence.
func (m *GestureMachine) TimerFired(seq uint64) GestureEffect {
	if m.state != GestureDown || seq != m.timerSeq {
		return GestureEffect{}
	}
	m.state = GestureHeld
	return GestureEffect{
		Commands: []domain.Command{{Action: domain.ActionPress}},
	}
}
