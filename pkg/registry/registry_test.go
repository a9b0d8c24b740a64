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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhs/homeserver/pkg/apperr"
	"github.com/openhs/homeserver/pkg/catalog"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/models"
)

// The fixture catalog: a lamp (RW brightness, RW power) and a
// thermometer (RO temperature), with two services.
func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	dir := t.TempDir()

	files := map[string]string{
		"value_types.json": `{
			"SCALAR_TYPES": [
				{"id": 1, "name": "percentage", "units": "%", "min_value": 0, "max_value": 100, "step": 1, "default_value": 50},
				{"id": 2, "name": "celsius", "units": "C", "min_value": -20, "max_value": 60, "step": 0.5, "default_value": 20}
			],
			"ENUM_TYPES": [
				{"id": 1, "name": "power", "choices": {"ON": "1", "OFF": "0"}, "default_value": "OFF"}
			]
		}`,
		"property_types.json": `{"PROPERTY_TYPES": [
			{"id": 1, "name": "brightness", "access_mode": "RW", "value_type_class": "SCALAR", "value_type_id": 1},
			{"id": 2, "name": "power", "access_mode": "RW", "value_type_class": "ENUM", "value_type_id": 1},
			{"id": 3, "name": "temperature", "access_mode": "RO", "value_type_class": "SCALAR", "value_type_id": 2}
		]}`,
		"device_types.json": `{"DEVICE_TYPES": [
			{"id": 1, "name": "lamp", "properties": [1, 2]},
			{"id": 2, "name": "thermometer", "properties": [3]}
		]}`,
		"services.json": `{"SERVICES": [
			{"id": 1, "name": "energy", "core_service_ref": null},
			{"id": 2, "name": "security", "core_service_ref": null}
		]}`,
	}

	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}

	cat, err := catalog.New(context.Background(), catalog.Paths{
		ValueTypes:    filepath.Join(dir, "value_types.json"),
		PropertyTypes: filepath.Join(dir, "property_types.json"),
		DeviceTypes:   filepath.Join(dir, "device_types.json"),
		Services:      filepath.Join(dir, "services.json"),
	}, logger.NewTestLogger())
	require.NoError(t, err)

	return cat
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	return New(testCatalog(t), 30*time.Second, logger.NewTestLogger())
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func createLamp(t *testing.T, r *Registry, addr string) models.DeviceInfo {
	t.Helper()

	info, err := r.Create(addr, 5683, &models.CreateDeviceRequest{
		Name:       "desk lamp",
		DeviceType: intPtr(1),
		Services:   []int{1},
	})
	require.NoError(t, err)

	return info
}

func TestCreateAssignsIncreasingIDs(t *testing.T) {
	r := newTestRegistry(t)

	first := createLamp(t, r, "192.168.1.10")
	second := createLamp(t, r, "192.168.1.11")

	assert.Equal(t, 1, first.LocalID)
	assert.Equal(t, 2, second.LocalID)

	// Both state sequences start from the type defaults.
	state, err := r.State(first.LocalID)
	require.NoError(t, err)
	require.Len(t, state.CurrentState, 2)
	assert.Equal(t, float64(50), state.CurrentState[0].Value)
	assert.Equal(t, "OFF", state.CurrentState[1].Value)
	assert.Equal(t, state.CurrentState, state.DesiredState)
}

func TestCreateDefaultsAddressToOrigin(t *testing.T) {
	r := newTestRegistry(t)

	info, err := r.Create("192.168.1.20", 5683, &models.CreateDeviceRequest{
		Name:       "hall sensor",
		DeviceType: intPtr(2),
	})
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.20", info.Address)
	assert.Equal(t, 5683, info.Port)
}

func TestCreateValidation(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name string
		req  *models.CreateDeviceRequest
		kind apperr.Kind
	}{
		{"missing type", &models.CreateDeviceRequest{Name: "x"}, apperr.KindBadRequest},
		{"unknown type", &models.CreateDeviceRequest{Name: "x", DeviceType: intPtr(99)}, apperr.KindBadRequest},
		{"bad address", &models.CreateDeviceRequest{Name: "x", DeviceType: intPtr(1), Address: "not-an-ip"}, apperr.KindBadRequest},
		{"ipv6 address", &models.CreateDeviceRequest{Name: "x", DeviceType: intPtr(1), Address: "fe80::1"}, apperr.KindBadRequest},
		{"unknown service", &models.CreateDeviceRequest{Name: "x", DeviceType: intPtr(1), Services: []int{9}}, apperr.KindBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create("192.168.1.30", 5683, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestCreateRejectsDuplicateAddress(t *testing.T) {
	r := newTestRegistry(t)

	createLamp(t, r, "192.168.1.10")

	_, err := r.Create("192.168.1.10", 5683, &models.CreateDeviceRequest{
		Name:       "second",
		DeviceType: intPtr(1),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestUpdateRenameFromAnyOrigin(t *testing.T) {
	r := newTestRegistry(t)
	dev := createLamp(t, r, "192.168.1.10")

	info, err := r.Update(dev.LocalID, "10.0.0.1", &models.UpdateDeviceRequest{
		Name: strPtr("bedside lamp"),
	})
	require.NoError(t, err)
	assert.Equal(t, "bedside lamp", info.Name)
}

func TestUpdateReconfigurationIsOwnerOnly(t *testing.T) {
	r := newTestRegistry(t)
	dev := createLamp(t, r, "192.168.1.10")

	_, err := r.Update(dev.LocalID, "10.0.0.1", &models.UpdateDeviceRequest{
		DeviceType: intPtr(2),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = r.Update(dev.LocalID, "10.0.0.1", &models.UpdateDeviceRequest{
		Timeout: intPtr(60),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestUpdateTypeChangeResetsState(t *testing.T) {
	r := newTestRegistry(t)
	dev := createLamp(t, r, "192.168.1.10")

	// Move the lamp off its defaults first.
	_, _, err := r.WriteState(dev.LocalID, "192.168.1.10", map[string]interface{}{"brightness": float64(80)})
	require.NoError(t, err)

	info, err := r.Update(dev.LocalID, "192.168.1.10", &models.UpdateDeviceRequest{
		DeviceType: intPtr(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, info.DeviceType)

	state, err := r.State(dev.LocalID)
	require.NoError(t, err)
	require.Len(t, state.CurrentState, 1)
	assert.Equal(t, "temperature", state.CurrentState[0].Name)
	assert.Equal(t, float64(20), state.CurrentState[0].Value)
}

func TestDeleteOwnership(t *testing.T) {
	r := newTestRegistry(t)
	dev := createLamp(t, r, "192.168.1.10")

	err := r.Delete(dev.LocalID, "10.0.0.1", false)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	require.NoError(t, r.Delete(dev.LocalID, "192.168.1.10", false))

	_, err = r.Get(dev.LocalID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteFromProxyBypassesOwnership(t *testing.T) {
	r := newTestRegistry(t)
	dev := createLamp(t, r, "192.168.1.10")

	require.NoError(t, r.Delete(dev.LocalID, "127.0.0.1", true))
}

func TestDeleteUnknownDevice(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Delete(42, "192.168.1.10", true)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeviceServiceOperations(t *testing.T) {
	r := newTestRegistry(t)
	dev := createLamp(t, r, "192.168.1.10")

	svc, err := r.ReplaceDeviceServices(dev.LocalID, []int{2})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, svc.Services)

	// Adding is a union, duplicates are dropped.
	svc, err = r.AddDeviceServices(dev.LocalID, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, svc.Services)

	svc, err = r.RemoveDeviceService(dev.LocalID, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, svc.Services)

	_, err = r.RemoveDeviceService(dev.LocalID, 2)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = r.ReplaceDeviceServices(dev.LocalID, []int{9})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestSetUniversalIDIsWriteOnce(t *testing.T) {
	r := newTestRegistry(t)
	dev := createLamp(t, r, "192.168.1.10")

	assert.Empty(t, r.UniversalID(dev.LocalID))

	r.SetUniversalID(dev.LocalID, "cloud-7")
	assert.Equal(t, "cloud-7", r.UniversalID(dev.LocalID))

	r.SetUniversalID(dev.LocalID, "cloud-8")
	assert.Equal(t, "cloud-7", r.UniversalID(dev.LocalID))
}

func TestListSnapshotsAndTouches(t *testing.T) {
	r := newTestRegistry(t)

	base := time.Now()
	r.now = func() time.Time { return base }

	dev := createLamp(t, r, "192.168.1.10")

	r.now = func() time.Time { return base.Add(10 * time.Second) }

	list := r.List("192.168.1.10")
	require.Len(t, list, 1)
	assert.Equal(t, dev.LocalID, list[0].LocalID)
	assert.Equal(t, models.SimplifiedState{"brightness": float64(50), "power": "OFF"}, list[0].State)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, base.Add(10*time.Second), r.devices[dev.LocalID].LastAccess)
}

func TestRegistrationEvents(t *testing.T) {
	r := newTestRegistry(t)

	events := make(chan Event, 4)
	r.AddListener(func(evt Event) { events <- evt })

	dev := createLamp(t, r, "192.168.1.10")

	evt := <-events
	assert.Equal(t, EventRegistered, evt.Type)
	assert.Equal(t, dev.LocalID, evt.Info.LocalID)
	assert.Len(t, evt.State.CurrentState, 2)

	require.NoError(t, r.Delete(dev.LocalID, "192.168.1.10", false))

	evt = <-events
	assert.Equal(t, EventUnregistered, evt.Type)
	assert.Equal(t, dev.LocalID, evt.Info.LocalID)
}
