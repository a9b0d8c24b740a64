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

package coapserver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhs/homeserver/pkg/config"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/models"
)

func TestServerIdentityInfo(t *testing.T) {
	si := newServerIdentity(&models.ServerConfig{ID: "7", Name: "living room"},
		filepath.Join(t.TempDir(), "serverconf.json"), logger.NewTestLogger())

	settings := &config.Settings{
		CoAPAddr:  "192.168.1.2",
		CoAPPort:  5683,
		ProxyAddr: "192.168.1.2",
		ProxyPort: 8080,
	}

	info := si.info(settings)
	assert.Equal(t, "7", info.ServerID)
	assert.Equal(t, "living room", info.Name)
	assert.Equal(t, "192.168.1.2", info.CoAPAddress)
	assert.Equal(t, 5683, info.CoAPPort)
	assert.Equal(t, 8080, info.ProxyPort)
}

func TestServerIdentityRenamePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serverconf.json")

	si := newServerIdentity(&models.ServerConfig{
		ID:    "7",
		Name:  "living room",
		Email: "owner@example.com",
	}, path, logger.NewTestLogger())

	si.rename("bedroom")
	assert.Equal(t, "bedroom", si.name())

	// Persistence runs off the request path.
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg models.ServerConfig
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, "bedroom", cfg.Name)
	assert.Equal(t, "owner@example.com", cfg.Email, "credentials survive a rename")
}

func TestDeviceListPayloadTrimsSubResources(t *testing.T) {
	devices := []models.DeviceInfo{{
		LocalID:    1,
		Name:       "desk lamp",
		Address:    "192.168.1.10",
		DeviceType: 1,
		Services:   []int{1, 2},
		State:      models.SimplifiedState{"brightness": float64(50)},
	}}

	payload := deviceListPayload(devices)

	list, ok := payload["devices"].([]models.DeviceInfo)
	require.True(t, ok)
	require.Len(t, list, 1)

	assert.Equal(t, "desk lamp", list[0].Name)
	assert.Nil(t, list[0].State)
	assert.Nil(t, list[0].Services)

	// The source snapshot is untouched.
	assert.NotNil(t, devices[0].State)
}

func TestDevicePath(t *testing.T) {
	assert.Equal(t, "/devices/3", devicePath(3))
}
