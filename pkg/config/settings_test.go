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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhs/homeserver/pkg/logger"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s := LoadSettings()

	assert.Equal(t, 8080, s.ProxyPort)
	assert.Equal(t, 5683, s.CoAPPort)
	assert.Equal(t, 5*time.Second, s.CommTimeout)
	assert.Equal(t, 60*time.Second, s.EndpointDefaultTimeout)
	assert.False(t, s.AllowWorkingOffline)
	assert.False(t, s.AWSIntegration)
}

func TestLoadSettingsFromEnvironment(t *testing.T) {
	t.Setenv("COAP_ADDR", "10.1.2.3")
	t.Setenv("COAP_PORT", "15683")
	t.Setenv("COAP_MULTICAST", "yes")
	t.Setenv("COMM_TIMEOUT", "9")
	t.Setenv("ALLOW_WORKING_OFFLINE", "1")
	t.Setenv("HOMESERVER_CONFIG_ROOT", "/etc/homeserver")

	s := LoadSettings()

	assert.Equal(t, "10.1.2.3", s.CoAPAddr)
	assert.Equal(t, 15683, s.CoAPPort)
	assert.True(t, s.CoAPMulticast)
	assert.Equal(t, 9*time.Second, s.CommTimeout)
	assert.True(t, s.AllowWorkingOffline)
	assert.Equal(t, "/etc/homeserver/serverconf.json", s.ServerConfigPath())
	assert.Equal(t, "/etc/homeserver/value_types.json", s.ValueTypesPath())
}

func TestLoadSettingsIgnoresMalformedValues(t *testing.T) {
	t.Setenv("COAP_PORT", "not-a-port")
	t.Setenv("COMM_TIMEOUT", "soon")

	s := LoadSettings()

	assert.Equal(t, 5683, s.CoAPPort)
	assert.Equal(t, 5*time.Second, s.CommTimeout)
}

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":1}`)))
	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serverconf.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id": "7", "name": "living room"}`), 0o600))

	var cfg struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	require.NoError(t, NewConfig(logger.NewTestLogger()).
		LoadAndValidate(t.Context(), path, &cfg))
	assert.Equal(t, "living room", cfg.Name)
}

func TestLoadAndValidateMissingFile(t *testing.T) {
	var cfg map[string]interface{}

	err := NewConfig(logger.NewTestLogger()).
		LoadAndValidate(t.Context(), filepath.Join(t.TempDir(), "nope.json"), &cfg)
	require.Error(t, err)
}
