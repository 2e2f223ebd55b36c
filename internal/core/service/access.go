package service

import (
	"github.com/mbarrena/pulsegate/internal/core/domain"
)

// Registry holds the static device and user lists loaded from
// configuration and answers entitlement lookups. It is read-only after
// construction, so lookups need no locking.
type Registry struct {
	devices     map[string]domain.Device
	deviceOrder []string
	users       map[string]domain.User
}

func NewRegistry(devices []domain.Device, users []domain.User) *Registry {
	r := &Registry{
		devices: make(map[string]domain.Device, len(devices)),
		users:   make(map[string]domain.User, len(users)),
	}
	for _, d := range devices {
		r.devices[d.Id] = d
		r.deviceOrder = append(r.deviceOrder, d.Id)
	}
	for _, u := range users {
		r.users[u.Id] = u
	}
	return r
}

func (r *Registry) DeviceById(deviceId string) (domain.Device, bool) {
	d, ok := r.devices[deviceId]
	return d, ok
}

// CanAccess grants when the user's entitlement list names the device or
// carries the wildcard. Unknown users and unknown devices are never
// granted.
func (r *Registry) CanAccess(userId, deviceId string) bool {
	if _, ok := r.devices[deviceId]; !ok {
		return false
	}
	user, ok := r.users[userId]
	if !ok {
		return false
	}
	for _, id := range user.DeviceAccess {
		if id == domain.AccessWildcard || id == deviceId {
			return true
		}
	}
	return false
}

// DevicesFor lists the devices visible to the user, in configuration
// order. A wildcard entitlement yields every registered device.
func (r *Registry) DevicesFor(userId string) []domain.Device {
	user, ok := r.users[userId]
	if !ok {
		return nil
	}
	wildcard := false
	for _, id := range user.DeviceAccess {
		if id == domain.AccessWildcard {
			wildcard = true
			break
		}
	}
	var devices []domain.Device
	for _, id := range r.deviceOrder {
		if wildcard || r.CanAccess(userId, id) {
			devices = append(devices, r.devices[id])
		}
	}
	return devices
}
