package domain

import (
	"fmt"
	"time"
)

const (
	ACTOR_ID_MASTER        = "master"
	ACTOR_ID_STATUS_POLLER = "status_poller"
)

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

type PointerEventKind string

const (
	PointerDown   PointerEventKind = "down"
	PointerUp     PointerEventKind = "up"
	PointerCancel PointerEventKind = "cancel"
)

func ParsePointerEvent(s string) (PointerEventKind, error) {
	switch PointerEventKind(s) {
	case PointerDown, PointerUp, PointerCancel:
		return PointerEventKind(s), nil
	}
	return "", fmt.Errorf("unknown pointer event %q", s)
}

// PointerEventRequest routes one raw pointer edge to the gesture session
// of the (user, device) pair it belongs to.
type PointerEventRequest struct {
	ActorRequestMixIn
	UserId   string
	DeviceId string
	Event    PointerEventKind
}

type GestureStateResponse struct {
	ActorResponseMixIn
	State   string
	LastAck string
}

type StatusPollTick struct {
}

type CachedDeviceStatus struct {
	Status    DeviceStatus
	CheckedAt time.Time
}

type DeviceStatusCacheRequest struct {
	ActorRequestMixIn
}

type DeviceStatusCacheResponse struct {
	ActorResponseMixIn
	Statuses map[string]CachedDeviceStatus
}
