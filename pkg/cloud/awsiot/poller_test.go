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

package awsiot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhs/homeserver/pkg/catalog"
	"github.com/openhs/homeserver/pkg/coapclient"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/models"
	"github.com/openhs/homeserver/pkg/registry"
)

type fakePutter struct {
	paths    []string
	payloads [][]byte
	resp     *coapclient.Response
}

func (f *fakePutter) Put(_ context.Context, path string, payload []byte) (*coapclient.Response, error) {
	f.paths = append(f.paths, path)
	f.payloads = append(f.payloads, payload)

	resp := f.resp
	if resp == nil {
		resp = &coapclient.Response{Code: codes.Changed}
	}

	return resp, nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	dir := t.TempDir()

	files := map[string]string{
		"value_types.json": `{
			"SCALAR_TYPES": [{"id": 1, "name": "percentage", "units": "%",
				"min_value": 0, "max_value": 100, "step": 1, "default_value": 50}],
			"ENUM_TYPES": []
		}`,
		"property_types.json": `{"PROPERTY_TYPES": [{"id": 1, "name": "brightness",
			"access_mode": "RW", "value_type_class": "SCALAR", "value_type_id": 1}]}`,
		"device_types.json": `{"DEVICE_TYPES": [{"id": 1, "name": "lamp", "properties": [1]}]}`,
		"services.json":     `{"SERVICES": []}`,
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

	return registry.New(cat, 30*time.Second, logger.NewTestLogger())
}

func TestDesiredDelta(t *testing.T) {
	current := models.SimplifiedState{"brightness": float64(50), "power": "OFF"}

	tests := []struct {
		name   string
		shadow models.SimplifiedState
		want   models.SimplifiedState
	}{
		{"no shadow", nil, models.SimplifiedState{}},
		{"in sync", models.SimplifiedState{"brightness": float64(50)}, models.SimplifiedState{}},
		{"diverged", models.SimplifiedState{"brightness": float64(80)},
			models.SimplifiedState{"brightness": float64(80)}},
		{"unknown property skipped", models.SimplifiedState{"volume": float64(3)},
			models.SimplifiedState{}},
		{"mixed", models.SimplifiedState{"brightness": float64(80), "power": "OFF", "volume": float64(3)},
			models.SimplifiedState{"brightness": float64(80)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, desiredDelta(current, tt.shadow))
		})
	}
}

func TestSweepForwardsShadowDelta(t *testing.T) {
	reg := testRegistry(t)

	deviceType := 1
	info, err := reg.Create("192.168.1.10", 5683, &models.CreateDeviceRequest{
		Name:       "desk lamp",
		DeviceType: &deviceType,
	})
	require.NoError(t, err)

	shadows := newFakeShadows()
	shadows.document = []byte(`{"state":{"desired":{"brightness":80}}}`)

	putter := &fakePutter{}
	poller := NewPoller(NewWithClients(&fakeThings{}, shadows, logger.NewTestLogger()),
		reg, putter, logger.NewTestLogger())

	poller.sweep(context.Background())

	require.Len(t, putter.paths, 1)
	assert.Equal(t, fmt.Sprintf("/devices/%d/state", info.LocalID), putter.paths[0])

	var delta models.SimplifiedState
	require.NoError(t, json.Unmarshal(putter.payloads[0], &delta))
	assert.Equal(t, models.SimplifiedState{"brightness": float64(80)}, delta)
}

func TestSweepSkipsConvergedShadow(t *testing.T) {
	reg := testRegistry(t)

	deviceType := 1
	_, err := reg.Create("192.168.1.10", 5683, &models.CreateDeviceRequest{
		Name:       "desk lamp",
		DeviceType: &deviceType,
	})
	require.NoError(t, err)

	shadows := newFakeShadows()
	shadows.document = []byte(`{"state":{"desired":{"brightness":50}}}`)

	putter := &fakePutter{}
	poller := NewPoller(NewWithClients(&fakeThings{}, shadows, logger.NewTestLogger()),
		reg, putter, logger.NewTestLogger())

	poller.sweep(context.Background())

	assert.Empty(t, putter.paths, "converged shadows cause no writes")
}

func TestSweepKeepsNewerLocalDesired(t *testing.T) {
	reg := testRegistry(t)

	deviceType := 1
	info, err := reg.Create("192.168.1.10", 5683, &models.CreateDeviceRequest{
		Name:       "desk lamp",
		DeviceType: &deviceType,
	})
	require.NoError(t, err)

	shadows := newFakeShadows()
	shadows.document = []byte(`{"state":{"desired":{"brightness":50}}}`)

	putter := &fakePutter{}
	poller := NewPoller(NewWithClients(&fakeThings{}, shadows, logger.NewTestLogger()),
		reg, putter, logger.NewTestLogger())

	poller.sweep(context.Background())
	require.Empty(t, putter.paths)

	// A local client raises the target while the shadow still holds the
	// old value.
	_, _, err = reg.WriteState(info.LocalID, "10.0.0.1", map[string]interface{}{
		"brightness": float64(80),
	})
	require.NoError(t, err)

	poller.sweep(context.Background())

	assert.Empty(t, putter.paths, "an unchanged shadow must not revert a local write")
}

func TestSweepForwardsOnlyShadowChanges(t *testing.T) {
	reg := testRegistry(t)

	deviceType := 1
	info, err := reg.Create("192.168.1.10", 5683, &models.CreateDeviceRequest{
		Name:       "desk lamp",
		DeviceType: &deviceType,
	})
	require.NoError(t, err)

	shadows := newFakeShadows()
	shadows.document = []byte(`{"state":{"desired":{"brightness":50}}}`)

	putter := &fakePutter{}
	poller := NewPoller(NewWithClients(&fakeThings{}, shadows, logger.NewTestLogger()),
		reg, putter, logger.NewTestLogger())

	poller.sweep(context.Background())
	require.Empty(t, putter.paths)

	shadows.document = []byte(`{"state":{"desired":{"brightness":70}}}`)

	poller.sweep(context.Background())
	poller.sweep(context.Background())

	// The change is forwarded exactly once; repeating the same shadow
	// does not repeat the write.
	require.Len(t, putter.paths, 1)
	assert.Equal(t, fmt.Sprintf("/devices/%d/state", info.LocalID), putter.paths[0])

	var delta models.SimplifiedState
	require.NoError(t, json.Unmarshal(putter.payloads[0], &delta))
	assert.Equal(t, models.SimplifiedState{"brightness": float64(70)}, delta)
}
