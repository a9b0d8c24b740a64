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

// Package catalog owns the immutable-at-runtime type catalog: scalar and
// enum value types, property types, device types and services, loaded from
// the JSON configuration documents at startup. Updates install a whole new
// snapshot; readers never lock.
package catalog

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/openhs/homeserver/pkg/apperr"
	"github.com/openhs/homeserver/pkg/config"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/models"
)

// Paths locates the catalog documents on disk.
type Paths struct {
	ValueTypes    string
	PropertyTypes string
	DeviceTypes   string
	Services      string
}

// snapshot is one immutable generation of the catalog.
type snapshot struct {
	scalars     map[int]*ScalarType
	enums       map[int]*EnumType
	properties  map[int]*PropertyType
	deviceTypes map[int]*DeviceType
	services    map[int]*Service

	// raw documents, kept for /configs GET and persistence
	valueTypesDoc    models.ValueTypesFile
	propertyTypesDoc models.PropertyTypesFile
	deviceTypesDoc   models.DeviceTypesFile
	servicesDoc      models.ServicesFile
}

// Catalog is the shared read-only type catalog. Replace operations are
// serialized by mu; readers dereference the current snapshot without
// locking.
type Catalog struct {
	mu    sync.Mutex
	snap  atomic.Pointer[snapshot]
	paths Paths
	log   logger.Logger
}

// New loads all catalog documents and returns the catalog. Missing files
// yield empty documents with a warning, matching a first boot before
// registration populated them.
func New(ctx context.Context, paths Paths, log logger.Logger) (*Catalog, error) {
	c := &Catalog{paths: paths, log: log}

	loader := config.NewConfig(log)

	var values models.ValueTypesFile
	if err := loader.LoadAndValidate(ctx, paths.ValueTypes, &values); err != nil {
		log.Warn().Err(err).Str("path", paths.ValueTypes).Msg("Value types document not loaded")
	}

	var props models.PropertyTypesFile
	if err := loader.LoadAndValidate(ctx, paths.PropertyTypes, &props); err != nil {
		log.Warn().Err(err).Str("path", paths.PropertyTypes).Msg("Property types document not loaded")
	}

	var devTypes models.DeviceTypesFile
	if err := loader.LoadAndValidate(ctx, paths.DeviceTypes, &devTypes); err != nil {
		log.Warn().Err(err).Str("path", paths.DeviceTypes).Msg("Device types document not loaded")
	}

	var services models.ServicesFile
	if err := loader.LoadAndValidate(ctx, paths.Services, &services); err != nil {
		log.Warn().Err(err).Str("path", paths.Services).Msg("Services document not loaded")
	}

	snap, err := c.build(&values, &props, &devTypes, &services)
	if err != nil {
		return nil, err
	}

	c.snap.Store(snap)

	return c, nil
}

// build assembles a snapshot from the four documents, resolving every
// cross reference. It fails without side effects, which gives Replace its
// all-or-nothing contract.
func (c *Catalog) build(
	values *models.ValueTypesFile,
	props *models.PropertyTypesFile,
	devTypes *models.DeviceTypesFile,
	services *models.ServicesFile,
) (*snapshot, error) {
	snap := &snapshot{
		scalars:          make(map[int]*ScalarType),
		enums:            make(map[int]*EnumType),
		properties:       make(map[int]*PropertyType),
		deviceTypes:      make(map[int]*DeviceType),
		services:         make(map[int]*Service),
		valueTypesDoc:    *values,
		propertyTypesDoc: *props,
		deviceTypesDoc:   *devTypes,
		servicesDoc:      *services,
	}

	for i := range values.ScalarTypes {
		def := &values.ScalarTypes[i]

		s, err := newScalarType(def)
		if err != nil {
			return nil, err
		}

		if _, dup := snap.scalars[def.ID]; dup {
			c.log.Warn().Int("id", def.ID).Msg("Duplicate scalar type id, overwriting")
		}

		snap.scalars[def.ID] = s
	}

	for i := range values.EnumTypes {
		def := &values.EnumTypes[i]

		e, err := newEnumType(def)
		if err != nil {
			return nil, err
		}

		if _, dup := snap.enums[def.ID]; dup {
			c.log.Warn().Int("id", def.ID).Msg("Duplicate enum type id, overwriting")
		}

		snap.enums[def.ID] = e
	}

	for i := range props.PropertyTypes {
		def := &props.PropertyTypes[i]

		p, err := snap.newPropertyType(def)
		if err != nil {
			return nil, err
		}

		if _, dup := snap.properties[def.ID]; dup {
			c.log.Warn().Int("id", def.ID).Msg("Duplicate property type id, overwriting")
		}

		snap.properties[def.ID] = p
	}

	for i := range devTypes.DeviceTypes {
		def := &devTypes.DeviceTypes[i]

		t, err := snap.newDeviceType(def)
		if err != nil {
			return nil, err
		}

		if _, dup := snap.deviceTypes[def.ID]; dup {
			c.log.Warn().Int("id", def.ID).Msg("Duplicate device type id, overwriting")
		}

		snap.deviceTypes[def.ID] = t
	}

	for i := range services.Services {
		def := &services.Services[i]

		if _, dup := snap.services[def.ID]; dup {
			c.log.Warn().Int("id", def.ID).Msg("Duplicate service id, overwriting")
		}

		snap.services[def.ID] = &Service{ID: def.ID, Name: def.Name, CoreServiceRef: def.CoreServiceRef}
	}

	return snap, nil
}

func (s *snapshot) newPropertyType(def *models.PropertyTypeDef) (*PropertyType, error) {
	switch def.AccessMode {
	case models.AccessReadOnly, models.AccessWriteOnly, models.AccessReadWrite:
	default:
		return nil, apperr.Newf(apperr.KindBadRequest,
			"property type %d: invalid access mode (%s)", def.ID, def.AccessMode)
	}

	p := &PropertyType{
		ID:          def.ID,
		Name:        def.Name,
		Access:      def.AccessMode,
		Class:       def.ValueTypeClass,
		ValueTypeID: def.ValueTypeID,
	}

	switch def.ValueTypeClass {
	case models.ValueClassScalar:
		s, ok := s.scalars[def.ValueTypeID]
		if !ok {
			return nil, apperr.Newf(apperr.KindUnknownType,
				"property type %d: unknown scalar type (%d)", def.ID, def.ValueTypeID)
		}

		p.scalar = s
	case models.ValueClassEnum:
		e, ok := s.enums[def.ValueTypeID]
		if !ok {
			return nil, apperr.Newf(apperr.KindUnknownType,
				"property type %d: unknown enum type (%d)", def.ID, def.ValueTypeID)
		}

		p.enum = e
	default:
		return nil, apperr.Newf(apperr.KindBadRequest,
			"property type %d: invalid value type class (%s)", def.ID, def.ValueTypeClass)
	}

	return p, nil
}

func (s *snapshot) newDeviceType(def *models.DeviceTypeDef) (*DeviceType, error) {
	t := &DeviceType{ID: def.ID, Name: def.Name}

	for _, pid := range def.Properties {
		p, ok := s.properties[pid]
		if !ok {
			return nil, apperr.Newf(apperr.KindUnknownType,
				"device type %d: unknown property type (%d)", def.ID, pid)
		}

		t.Properties = append(t.Properties, p)
	}

	return t, nil
}

func (c *Catalog) current() *snapshot { return c.snap.Load() }

// ValidateDeviceType reports whether a device type with the given id
// exists.
func (c *Catalog) ValidateDeviceType(id int) bool {
	_, ok := c.current().deviceTypes[id]
	return ok
}

// ValidateServices reports whether every id names a known service.
func (c *Catalog) ValidateServices(ids []int) bool {
	snap := c.current()

	for _, id := range ids {
		if _, ok := snap.services[id]; !ok {
			return false
		}
	}

	return true
}

// PropertyType resolves a property type by id.
func (c *Catalog) PropertyType(id int) (*PropertyType, error) {
	p, ok := c.current().properties[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindUnknownType, "unknown property type (%d)", id)
	}

	return p, nil
}

// PropertyTypeByName resolves a property type by name. Property keys in
// state writes may be ids or names; this serves the name form.
func (c *Catalog) PropertyTypeByName(name string) (*PropertyType, error) {
	for _, p := range c.current().properties {
		if p.Name == name {
			return p, nil
		}
	}

	return nil, apperr.Newf(apperr.KindUnknownType, "unknown property type (%s)", name)
}

// DeviceType resolves a device type by id.
func (c *Catalog) DeviceType(id int) (*DeviceType, error) {
	t, ok := c.current().deviceTypes[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindUnknownType, "unknown device type (%d)", id)
	}

	return t, nil
}

// Service resolves a service by id.
func (c *Catalog) Service(id int) (*Service, error) {
	s, ok := c.current().services[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "unknown service (%d)", id)
	}

	return s, nil
}

// ServiceIDs returns the sorted ids of all known services.
func (c *Catalog) ServiceIDs() []int {
	snap := c.current()

	ids := make([]int, 0, len(snap.services))
	for id := range snap.services {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	return ids
}

// Document returns the raw catalog document for kind, for /configs GET.
func (c *Catalog) Document(kind models.CatalogKind) (interface{}, error) {
	snap := c.current()

	switch kind {
	case models.KindScalarTypes:
		return snap.valueTypesDoc.ScalarTypes, nil
	case models.KindEnumTypes:
		return snap.valueTypesDoc.EnumTypes, nil
	case models.KindPropertyTypes:
		return snap.propertyTypesDoc.PropertyTypes, nil
	case models.KindDeviceTypes:
		return snap.deviceTypesDoc.DeviceTypes, nil
	}

	return nil, apperr.Newf(apperr.KindBadRequest, "unknown catalog kind (%s)", kind)
}

// ServicesDocument returns the full services document.
func (c *Catalog) ServicesDocument() models.ServicesFile {
	return c.current().servicesDoc
}
