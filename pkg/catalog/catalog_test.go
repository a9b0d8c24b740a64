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

package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/models"
)

const (
	testValueTypes = `{
		"SCALAR_TYPES": [
			{"id": 1, "name": "percentage", "units": "%", "min_value": 0, "max_value": 100, "step": 1, "default_value": 50},
			{"id": 2, "name": "celsius", "units": "C", "min_value": -20, "max_value": 60, "step": 0.5, "default_value": 20}
		],
		"ENUM_TYPES": [
			{"id": 1, "name": "power", "choices": {"ON": "1", "OFF": "0"}, "default_value": "OFF"}
		]
	}`

	testPropertyTypes = `{
		"PROPERTY_TYPES": [
			{"id": 1, "name": "brightness", "access_mode": "RW", "value_type_class": "SCALAR", "value_type_id": 1},
			{"id": 2, "name": "power", "access_mode": "RW", "value_type_class": "ENUM", "value_type_id": 1},
			{"id": 3, "name": "temperature", "access_mode": "RO", "value_type_class": "SCALAR", "value_type_id": 2}
		]
	}`

	testDeviceTypes = `{
		"DEVICE_TYPES": [
			{"id": 1, "name": "lamp", "properties": [1, 2]},
			{"id": 2, "name": "thermometer", "properties": [3]}
		]
	}`

	testServices = `{
		"SERVICES": [
			{"id": 1, "name": "energy", "core_service_ref": null},
			{"id": 2, "name": "security", "core_service_ref": 7}
		]
	}`
)

func writeFixtures(t *testing.T) Paths {
	t.Helper()

	dir := t.TempDir()

	paths := Paths{
		ValueTypes:    filepath.Join(dir, "value_types.json"),
		PropertyTypes: filepath.Join(dir, "property_types.json"),
		DeviceTypes:   filepath.Join(dir, "device_types.json"),
		Services:      filepath.Join(dir, "services.json"),
	}

	require.NoError(t, os.WriteFile(paths.ValueTypes, []byte(testValueTypes), 0o600))
	require.NoError(t, os.WriteFile(paths.PropertyTypes, []byte(testPropertyTypes), 0o600))
	require.NoError(t, os.WriteFile(paths.DeviceTypes, []byte(testDeviceTypes), 0o600))
	require.NoError(t, os.WriteFile(paths.Services, []byte(testServices), 0o600))

	return paths
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()

	cat, err := New(context.Background(), writeFixtures(t), logger.NewTestLogger())
	require.NoError(t, err)

	return cat
}

func TestScalarValidation(t *testing.T) {
	cat := newTestCatalog(t)

	prop, err := cat.PropertyType(1)
	require.NoError(t, err)

	tests := []struct {
		name  string
		value interface{}
		want  bool
	}{
		{"min", float64(0), true},
		{"max", float64(100), true},
		{"on grid", float64(42), true},
		{"below min", float64(-1), false},
		{"above max", float64(101), false},
		{"off grid", 41.5, false},
		{"numeric string", "30", true},
		{"non numeric", "bright", false},
		{"wrong type", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, prop.Validate(tt.value))
		})
	}
}

func TestScalarFractionalStepGrid(t *testing.T) {
	cat := newTestCatalog(t)

	prop, err := cat.PropertyType(3)
	require.NoError(t, err)

	assert.True(t, prop.Validate(20.5))
	assert.True(t, prop.Validate(-19.5))
	assert.False(t, prop.Validate(20.3))
}

func TestEnumValidation(t *testing.T) {
	cat := newTestCatalog(t)

	prop, err := cat.PropertyType(2)
	require.NoError(t, err)

	assert.True(t, prop.Validate("ON"))
	assert.True(t, prop.Validate("OFF"))
	assert.False(t, prop.Validate("on"))
	assert.False(t, prop.Validate(1))

	assert.Equal(t, "OFF", prop.DefaultValue())
}

func TestDeviceTypeDefaultState(t *testing.T) {
	cat := newTestCatalog(t)

	lamp, err := cat.DeviceType(1)
	require.NoError(t, err)

	state := lamp.DefaultState()
	require.Len(t, state, 2)

	assert.Equal(t, 1, state[0].PropertyID)
	assert.Equal(t, "brightness", state[0].Name)
	assert.Equal(t, float64(50), state[0].Value)
	assert.Equal(t, models.ValueClassScalar, state[0].Type)

	assert.Equal(t, 2, state[1].PropertyID)
	assert.Equal(t, "OFF", state[1].Value)
	assert.Equal(t, models.ValueClassEnum, state[1].Type)
}

func TestValidateServices(t *testing.T) {
	cat := newTestCatalog(t)

	assert.True(t, cat.ValidateServices(nil))
	assert.True(t, cat.ValidateServices([]int{1, 2}))
	assert.False(t, cat.ValidateServices([]int{1, 9}))

	assert.Equal(t, []int{1, 2}, cat.ServiceIDs())
}

func TestNewRejectsBrokenCrossReference(t *testing.T) {
	paths := writeFixtures(t)

	broken := `{"PROPERTY_TYPES": [
		{"id": 1, "name": "brightness", "access_mode": "RW", "value_type_class": "SCALAR", "value_type_id": 99}
	]}`
	require.NoError(t, os.WriteFile(paths.PropertyTypes, []byte(broken), 0o600))

	_, err := New(context.Background(), paths, logger.NewTestLogger())
	require.Error(t, err)
}

func TestNewRejectsInvalidScalarStep(t *testing.T) {
	paths := writeFixtures(t)

	broken := `{"SCALAR_TYPES": [
		{"id": 1, "name": "percentage", "units": "%", "min_value": 0, "max_value": 100, "step": 0, "default_value": 50}
	], "ENUM_TYPES": []}`
	require.NoError(t, os.WriteFile(paths.ValueTypes, []byte(broken), 0o600))

	_, err := New(context.Background(), paths, logger.NewTestLogger())
	require.Error(t, err)
}

func TestReplaceSwapsDocumentAndPersists(t *testing.T) {
	paths := writeFixtures(t)

	cat, err := New(context.Background(), paths, logger.NewTestLogger())
	require.NoError(t, err)

	raw := json.RawMessage(`[
		{"id": 1, "name": "lamp", "properties": [1]},
		{"id": 3, "name": "switch", "properties": [2]}
	]`)
	require.NoError(t, cat.Replace(models.KindDeviceTypes, raw))

	assert.True(t, cat.ValidateDeviceType(3))
	assert.False(t, cat.ValidateDeviceType(2))

	// The backing file holds the new document.
	data, err := os.ReadFile(paths.DeviceTypes)
	require.NoError(t, err)

	var doc models.DeviceTypesFile
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.DeviceTypes, 2)
	assert.Equal(t, "switch", doc.DeviceTypes[1].Name)
}

func TestReplaceIsAllOrNothing(t *testing.T) {
	cat := newTestCatalog(t)

	// A device type pointing at an unknown property must leave the
	// previous snapshot untouched.
	raw := json.RawMessage(`[{"id": 5, "name": "bogus", "properties": [42]}]`)
	require.Error(t, cat.Replace(models.KindDeviceTypes, raw))

	assert.True(t, cat.ValidateDeviceType(1))
	assert.True(t, cat.ValidateDeviceType(2))
	assert.False(t, cat.ValidateDeviceType(5))
}

func TestReplaceRejectsRemovingReferencedValueType(t *testing.T) {
	cat := newTestCatalog(t)

	// Property 1 still references scalar 1.
	raw := json.RawMessage(`[
		{"id": 2, "name": "celsius", "units": "C", "min_value": -20, "max_value": 60, "step": 0.5, "default_value": 20}
	]`)
	require.Error(t, cat.Replace(models.KindScalarTypes, raw))

	prop, err := cat.PropertyType(1)
	require.NoError(t, err)
	assert.True(t, prop.Validate(float64(50)))
}

func TestReplaceServices(t *testing.T) {
	cat := newTestCatalog(t)

	require.NoError(t, cat.ReplaceServices([]models.ServiceDef{
		{ID: 4, Name: "climate"},
	}))

	assert.Equal(t, []int{4}, cat.ServiceIDs())
	assert.False(t, cat.ValidateServices([]int{1}))

	doc := cat.ServicesDocument()
	require.Len(t, doc.Services, 1)
	assert.Equal(t, "climate", doc.Services[0].Name)
}

func TestMissingFilesYieldEmptyCatalog(t *testing.T) {
	dir := t.TempDir()

	cat, err := New(context.Background(), Paths{
		ValueTypes:    filepath.Join(dir, "missing_values.json"),
		PropertyTypes: filepath.Join(dir, "missing_props.json"),
		DeviceTypes:   filepath.Join(dir, "missing_types.json"),
		Services:      filepath.Join(dir, "missing_services.json"),
	}, logger.NewTestLogger())
	require.NoError(t, err)

	assert.False(t, cat.ValidateDeviceType(1))
	assert.Empty(t, cat.ServiceIDs())
}
