/*
 * Copyright 2025 the homeserver authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package registry owns the live set of devices: registration, lookup,
// the current/desired state machine and liveness-based eviction.
package registry

import (
	"net"
	"sync"
	"time"

	"github.com/openhs/homeserver/pkg/apperr"
	"github.com/openhs/homeserver/pkg/catalog"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/models"
)

// Registry is the exclusive owner of all devices.
type Registry struct {
	mu            sync.Mutex
	devices       map[int]*Device
	catalog       *catalog.Catalog
	listeners     []Listener
	syncListeners []Listener
	log           logger.Logger

	defaultTimeout time.Duration
	now            func() time.Time
}

// New creates an empty registry backed by the shared type catalog.
func New(cat *catalog.Catalog, defaultTimeout time.Duration, log logger.Logger) *Registry {
	return &Registry{
		devices:        make(map[int]*Device),
		catalog:        cat,
		log:            log,
		defaultTimeout: defaultTimeout,
		now:            time.Now,
	}
}

// List returns a snapshot of all devices. When requesterAddr matches a
// device's address the call counts as liveness for that device.
func (r *Registry) List(requesterAddr string) []models.DeviceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.DeviceInfo, 0, len(r.devices))

	for _, d := range r.devices {
		if requesterAddr != "" && d.Address == requesterAddr {
			d.LastAccess = r.now()
		}

		out = append(out, d.info(r.liveServices(d)))
	}

	return out
}

// Create registers a new device. The address defaults to the requester's
// source address; at most one device may hold a given address.
func (r *Registry) Create(originAddr string, originPort int, req *models.CreateDeviceRequest) (models.DeviceInfo, error) {
	if req.DeviceType == nil {
		return models.DeviceInfo{}, apperr.New(apperr.KindBadRequest,
			"Request json body does not contain field (device_type)")
	}

	address := req.Address
	if address == "" {
		address = originAddr
	}

	if net.ParseIP(address) == nil || net.ParseIP(address).To4() == nil {
		return models.DeviceInfo{}, apperr.Newf(apperr.KindBadRequest, "Invalid IP address (%s)", address)
	}

	if !r.catalog.ValidateDeviceType(*req.DeviceType) {
		return models.DeviceInfo{}, apperr.Newf(apperr.KindBadRequest, "Invalid device type (%d)", *req.DeviceType)
	}

	if !r.catalog.ValidateServices(req.Services) {
		return models.DeviceInfo{}, apperr.New(apperr.KindBadRequest, "Invalid services provided")
	}

	devType, err := r.catalog.DeviceType(*req.DeviceType)
	if err != nil {
		return models.DeviceInfo{}, err
	}

	timeout := r.defaultTimeout
	if req.Timeout != nil && *req.Timeout > 0 {
		timeout = time.Duration(*req.Timeout) * time.Second
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.devices {
		if d.Address == address {
			return models.DeviceInfo{}, apperr.Newf(apperr.KindConflict,
				"Device with address (%s) already exists", address)
		}
	}

	dev := &Device{
		LocalID:    r.nextID(),
		Name:       req.Name,
		Address:    address,
		Port:       originPort,
		TypeID:     *req.DeviceType,
		Services:   append([]int(nil), req.Services...),
		Timeout:    timeout,
		LastAccess: r.now(),
		Current:    devType.DefaultState(),
		Desired:    devType.DefaultState(),
	}

	r.devices[dev.LocalID] = dev

	info := dev.info(r.liveServices(dev))

	r.log.Info().
		Int("local_id", dev.LocalID).
		Str("address", dev.Address).
		Int("device_type", dev.TypeID).
		Msg("Device registered")

	r.notify(Event{Type: EventRegistered, Info: info, State: dev.state()})

	return info, nil
}

// Get returns the device snapshot for id.
func (r *Registry) Get(id int) (models.DeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return models.DeviceInfo{}, errDeviceNotFound(id)
	}

	return d.info(r.liveServices(d)), nil
}

// State returns both state sequences for id.
func (r *Registry) State(id int) (models.DeviceState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return models.DeviceState{}, errDeviceNotFound(id)
	}

	return d.state(), nil
}

// TypeInfo returns the device-type document for id.
func (r *Registry) TypeInfo(id int) (models.DeviceTypeInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return models.DeviceTypeInfo{}, errDeviceNotFound(id)
	}

	t, err := r.catalog.DeviceType(d.TypeID)
	if err != nil {
		return models.DeviceTypeInfo{}, err
	}

	return models.DeviceTypeInfo{DeviceID: d.LocalID, DeviceType: t.Info()}, nil
}

// Update applies a PUT /devices/{id} body. Renames are open to any
// origin; type, services and timeout reconfiguration is owner-only.
func (r *Registry) Update(id int, originAddr string, req *models.UpdateDeviceRequest) (models.DeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return models.DeviceInfo{}, errDeviceNotFound(id)
	}

	ownerOnly := req.DeviceType != nil || req.Services != nil || req.Timeout != nil
	if ownerOnly && originAddr != d.Address {
		return models.DeviceInfo{}, apperr.New(apperr.KindForbidden,
			"Device reconfiguration is restricted to the device itself")
	}

	if req.DeviceType != nil && *req.DeviceType != d.TypeID {
		devType, err := r.catalog.DeviceType(*req.DeviceType)
		if err != nil {
			return models.DeviceInfo{}, apperr.Newf(apperr.KindBadRequest,
				"Invalid device type (%d)", *req.DeviceType)
		}

		d.TypeID = *req.DeviceType
		d.Current = devType.DefaultState()
		d.Desired = devType.DefaultState()
	}

	if req.Services != nil {
		if !r.catalog.ValidateServices(req.Services) {
			return models.DeviceInfo{}, apperr.New(apperr.KindBadRequest, "Invalid services provided")
		}

		d.Services = append([]int(nil), req.Services...)
	}

	if req.Timeout != nil {
		if *req.Timeout <= 0 {
			return models.DeviceInfo{}, apperr.New(apperr.KindBadRequest, "Invalid timeout value")
		}

		d.Timeout = time.Duration(*req.Timeout) * time.Second
	}

	if req.Name != nil {
		d.Name = *req.Name
	}

	if originAddr == d.Address {
		d.LastAccess = r.now()
	}

	return d.info(r.liveServices(d)), nil
}

// Delete removes a device. CoAP deletion is owner-only; the proxy passes
// fromProxy=true for local clients, which may always delete.
func (r *Registry) Delete(id int, originAddr string, fromProxy bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return errDeviceNotFound(id)
	}

	if !fromProxy && originAddr != d.Address {
		return apperr.New(apperr.KindForbidden, "Only the device itself may unregister over CoAP")
	}

	r.removeLocked(d)

	return nil
}

// SetUniversalID records the cloud-assigned id after the first successful
// registration. Once set it is never overwritten.
func (r *Registry) SetUniversalID(id int, universalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok || d.UniversalID != "" {
		return
	}

	d.UniversalID = universalID
}

// UniversalID returns the cloud id for a device, empty when unset.
func (r *Registry) UniversalID(id int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return ""
	}

	return d.UniversalID
}

// DeviceServices returns the live service subscriptions of a device.
func (r *Registry) DeviceServices(id int) (models.DeviceServices, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return models.DeviceServices{}, errDeviceNotFound(id)
	}

	return models.DeviceServices{DeviceID: d.LocalID, Services: r.liveServices(d)}, nil
}

// ReplaceDeviceServices swaps the whole subscription set.
func (r *Registry) ReplaceDeviceServices(id int, services []int) (models.DeviceServices, error) {
	if !r.catalog.ValidateServices(services) {
		return models.DeviceServices{}, apperr.New(apperr.KindBadRequest, "Services provided are not valid")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return models.DeviceServices{}, errDeviceNotFound(id)
	}

	d.Services = append([]int(nil), services...)

	return models.DeviceServices{DeviceID: d.LocalID, Services: r.liveServices(d)}, nil
}

// AddDeviceServices unions new subscriptions into the set.
func (r *Registry) AddDeviceServices(id int, services []int) (models.DeviceServices, error) {
	if !r.catalog.ValidateServices(services) {
		return models.DeviceServices{}, apperr.New(apperr.KindBadRequest, "Services provided are not valid")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return models.DeviceServices{}, errDeviceNotFound(id)
	}

	for _, s := range services {
		if !containsInt(d.Services, s) {
			d.Services = append(d.Services, s)
		}
	}

	return models.DeviceServices{DeviceID: d.LocalID, Services: r.liveServices(d)}, nil
}

// RemoveDeviceService drops one subscription.
func (r *Registry) RemoveDeviceService(id, serviceID int) (models.DeviceServices, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return models.DeviceServices{}, errDeviceNotFound(id)
	}

	idx := -1

	for i, s := range d.Services {
		if s == serviceID {
			idx = i
			break
		}
	}

	if idx < 0 {
		return models.DeviceServices{}, apperr.Newf(apperr.KindNotFound,
			"Service with id (%d) is not attributed for this device", serviceID)
	}

	d.Services = append(d.Services[:idx], d.Services[idx+1:]...)

	return models.DeviceServices{DeviceID: d.LocalID, Services: r.liveServices(d)}, nil
}

// Touch marks a device as recently seen by its address.
func (r *Registry) Touch(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.devices {
		if d.Address == address {
			d.LastAccess = r.now()
			return
		}
	}
}

// IDs returns the current device ids.
func (r *Registry) IDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}

	return ids
}

// Shutdown removes every device without emitting unregister events; the
// registry is going away with the process.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = make(map[int]*Device)
}

// nextID assigns max(existing)+1, or 1 for an empty registry. The
// population is small, so the scan is fine; ids are never reused while
// the registry lives because the maximum only grows.
func (r *Registry) nextID() int {
	maxID := 0

	for id := range r.devices {
		if id > maxID {
			maxID = id
		}
	}

	return maxID + 1
}

// liveServices filters subscriptions against the current catalog. Must be
// called with r.mu held.
func (r *Registry) liveServices(d *Device) []int {
	out := make([]int, 0, len(d.Services))

	for _, s := range d.Services {
		if r.catalog.ValidateServices([]int{s}) {
			out = append(out, s)
		}
	}

	return out
}

// removeLocked must be called with r.mu held.
func (r *Registry) removeLocked(d *Device) {
	delete(r.devices, d.LocalID)

	r.log.Info().Int("local_id", d.LocalID).Str("address", d.Address).Msg("Device unregistered")

	r.notify(Event{Type: EventUnregistered, Info: d.info(nil), State: d.state()})
}

func errDeviceNotFound(id int) error {
	return apperr.Newf(apperr.KindNotFound, "Device with id (%d) not found", id)
}

func containsInt(list []int, v int) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}

	return false
}
