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
	"time"

	"github.com/openhs/homeserver/pkg/models"
)

// Device is one registered endpoint. The registry owns every Device;
// access is guarded by the registry mutex, so none of these fields may be
// touched outside it.
type Device struct {
	LocalID     int
	UniversalID string
	Name        string
	Address     string
	Port        int
	TypeID      int
	Services    []int
	Timeout     time.Duration
	LastAccess  time.Time

	Current []models.StateSlot
	Desired []models.StateSlot
}

// Info snapshots the device for the wire. Stale service subscriptions are
// filtered by the registry before this is called.
func (d *Device) info(services []int) models.DeviceInfo {
	return models.DeviceInfo{
		LocalID:     d.LocalID,
		UniversalID: d.UniversalID,
		Name:        d.Name,
		Address:     d.Address,
		Port:        d.Port,
		DeviceType:  d.TypeID,
		Services:    services,
		Timeout:     int(d.Timeout / time.Second),
		State:       simplify(d.Current),
	}
}

// state snapshots both state sequences.
func (d *Device) state() models.DeviceState {
	return models.DeviceState{
		DeviceID:     d.LocalID,
		CurrentState: copySlots(d.Current),
		DesiredState: copySlots(d.Desired),
	}
}

func copySlots(slots []models.StateSlot) []models.StateSlot {
	out := make([]models.StateSlot, len(slots))
	copy(out, slots)

	return out
}

func simplify(slots []models.StateSlot) models.SimplifiedState {
	out := make(models.SimplifiedState, len(slots))
	for _, s := range slots {
		out[s.Name] = s.Value
	}

	return out
}
