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

package registry

import (
	"strconv"

	"github.com/openhs/homeserver/pkg/apperr"
	"github.com/openhs/homeserver/pkg/catalog"
	"github.com/openhs/homeserver/pkg/models"
)

// stateWrite is one resolved slot mutation, staged before any slot is
// touched so a request applies all-or-nothing.
type stateWrite struct {
	slotIndex int
	value     interface{}
}

// WriteState applies a PUT /devices/{id}/state body. Keys may be property
// ids or names. A write from the device's own address is authoritative:
// it lands in current and desired becomes a copy of current. Any other
// origin only moves desired, and only for RW/WO properties.
//
// The returned event type tells the caller which observer split to apply.
func (r *Registry) WriteState(id int, originAddr string, body map[string]interface{}) (models.DeviceState, EventType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return models.DeviceState{}, 0, errDeviceNotFound(id)
	}

	fromDevice := originAddr == d.Address

	writes := make([]stateWrite, 0, len(body))

	for key, value := range body {
		idx, prop, err := r.resolveProperty(d, key)
		if err != nil {
			return models.DeviceState{}, 0, err
		}

		if !prop.Validate(value) {
			return models.DeviceState{}, 0, apperr.Newf(apperr.KindBadRequest,
				"Invalid property new value (%v)", value)
		}

		if !fromDevice && !prop.Writable() {
			return models.DeviceState{}, 0, apperr.Newf(apperr.KindForbidden,
				"Property (%s) can not be written (access mode: %s)", key, prop.Access)
		}

		writes = append(writes, stateWrite{slotIndex: idx, value: prop.Canonical(value)})
	}

	if fromDevice {
		for _, w := range writes {
			d.Current[w.slotIndex].Value = w.value
		}

		// The device is authoritative: its report becomes the target.
		d.Desired = copySlots(d.Current)
		d.LastAccess = r.now()
	} else {
		for _, w := range writes {
			d.Desired[w.slotIndex].Value = w.value
		}
	}

	state := d.state()

	evtType := EventStateDesired
	if fromDevice {
		evtType = EventStateReported
	}

	r.notify(Event{Type: evtType, Info: d.info(r.liveServices(d)), State: state})

	return state, evtType, nil
}

// resolveProperty maps a body key (id or name) onto a state slot and its
// property type. Must be called with r.mu held.
func (r *Registry) resolveProperty(d *Device, key string) (int, *catalog.PropertyType, error) {
	if pid, err := strconv.Atoi(key); err == nil {
		for i := range d.Current {
			if d.Current[i].PropertyID == pid {
				prop, err := r.catalog.PropertyType(pid)
				if err != nil {
					return 0, nil, err
				}

				return i, prop, nil
			}
		}
	}

	for i := range d.Current {
		if d.Current[i].Name == key {
			prop, err := r.catalog.PropertyType(d.Current[i].PropertyID)
			if err != nil {
				return 0, nil, err
			}

			return i, prop, nil
		}
	}

	return 0, nil, apperr.Newf(apperr.KindBadRequest, "Device does not have property (%s)", key)
}
