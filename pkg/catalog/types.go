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
	"encoding/json"
	"math"
	"strconv"

	"github.com/openhs/homeserver/pkg/apperr"
	"github.com/openhs/homeserver/pkg/models"
)

const stepEpsilon = 1e-9

// ScalarType is a numeric value type with a step grid.
type ScalarType struct {
	ID      int
	Name    string
	Units   string
	Min     float64
	Max     float64
	Step    float64
	Default float64
}

func newScalarType(def *models.ScalarTypeDef) (*ScalarType, error) {
	if def.MaxValue < def.MinValue {
		return nil, apperr.Newf(apperr.KindBadRequest,
			"scalar type %d: max_value (%v) below min_value (%v)", def.ID, def.MaxValue, def.MinValue)
	}

	if def.Step <= 0 || def.Step > def.MaxValue-def.MinValue {
		return nil, apperr.Newf(apperr.KindBadRequest,
			"scalar type %d: step (%v) must be positive and at most max-min", def.ID, def.Step)
	}

	s := &ScalarType{
		ID:      def.ID,
		Name:    def.Name,
		Units:   def.Units,
		Min:     def.MinValue,
		Max:     def.MaxValue,
		Step:    def.Step,
		Default: def.DefaultValue,
	}

	if !s.Validate(def.DefaultValue) {
		return nil, apperr.Newf(apperr.KindBadRequest,
			"scalar type %d: default_value (%v) outside the valid grid", def.ID, def.DefaultValue)
	}

	return s, nil
}

// Validate reports whether v is a number within [Min, Max] landing on the
// step grid.
func (s *ScalarType) Validate(v interface{}) bool {
	f, ok := toFloat(v)
	if !ok {
		return false
	}

	if f < s.Min || f > s.Max {
		return false
	}

	steps := (f - s.Min) / s.Step

	return math.Abs(steps-math.Round(steps)) < stepEpsilon
}

// EnumType is a closed set of labeled values. Defaults are referenced by
// label.
type EnumType struct {
	ID      int
	Name    string
	Choices map[string]string
	Default string
}

func newEnumType(def *models.EnumTypeDef) (*EnumType, error) {
	if len(def.Choices) == 0 {
		return nil, apperr.Newf(apperr.KindBadRequest, "enum type %d: empty choices", def.ID)
	}

	if _, ok := def.Choices[def.DefaultValue]; !ok {
		return nil, apperr.Newf(apperr.KindBadRequest,
			"enum type %d: default_value (%s) not among choices", def.ID, def.DefaultValue)
	}

	return &EnumType{
		ID:      def.ID,
		Name:    def.Name,
		Choices: def.Choices,
		Default: def.DefaultValue,
	}, nil
}

// Validate reports whether v is one of the enum's labels.
func (e *EnumType) Validate(v interface{}) bool {
	label, ok := v.(string)
	if !ok {
		return false
	}

	_, ok = e.Choices[label]

	return ok
}

// PropertyType binds an access mode to a value type.
type PropertyType struct {
	ID          int
	Name        string
	Access      models.AccessMode
	Class       models.ValueTypeClass
	ValueTypeID int

	scalar *ScalarType
	enum   *EnumType
}

// Validate delegates to the underlying value type.
func (p *PropertyType) Validate(v interface{}) bool {
	switch p.Class {
	case models.ValueClassScalar:
		return p.scalar.Validate(v)
	case models.ValueClassEnum:
		return p.enum.Validate(v)
	}

	return false
}

// Canonical converts a validated value into its canonical representation:
// float64 for scalars, the label string for enums.
func (p *PropertyType) Canonical(v interface{}) interface{} {
	if p.Class == models.ValueClassScalar {
		f, _ := toFloat(v)
		return f
	}

	return v
}

// DefaultValue returns the value type's default in canonical form.
func (p *PropertyType) DefaultValue() interface{} {
	if p.Class == models.ValueClassScalar {
		return p.scalar.Default
	}

	return p.enum.Default
}

// Writable reports whether a non-owner may target this property.
func (p *PropertyType) Writable() bool {
	return p.Access == models.AccessReadWrite || p.Access == models.AccessWriteOnly
}

// Info is the wire form used by /devices/{id}/type.
func (p *PropertyType) Info() map[string]interface{} {
	return map[string]interface{}{
		"property_id": p.ID,
		"name":        p.Name,
		"accessmode":  string(p.Access),
		"valuetype":   string(p.Class),
	}
}

// DeviceType is an ordered sequence of property types.
type DeviceType struct {
	ID         int
	Name       string
	Properties []*PropertyType
}

// DefaultState produces one state slot per property with its default
// value, in type order.
func (t *DeviceType) DefaultState() []models.StateSlot {
	state := make([]models.StateSlot, 0, len(t.Properties))

	for _, p := range t.Properties {
		state = append(state, models.StateSlot{
			PropertyID: p.ID,
			Name:       p.Name,
			Value:      p.DefaultValue(),
			Type:       p.Class,
		})
	}

	return state
}

// Info is the wire form used by /devices/{id}/type.
func (t *DeviceType) Info() map[string]interface{} {
	props := make([]map[string]interface{}, 0, len(t.Properties))
	for _, p := range t.Properties {
		props = append(props, p.Info())
	}

	return map[string]interface{}{
		"id":         t.ID,
		"name":       t.Name,
		"properties": props,
	}
}

// Service is a cloud-backed capability that devices may subscribe to.
type Service struct {
	ID             int
	Name           string
	CoreServiceRef *int
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}

	return 0, false
}
