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

	"github.com/openhs/homeserver/pkg/apperr"
	"github.com/openhs/homeserver/pkg/config"
	"github.com/openhs/homeserver/pkg/models"
)

// Replace swaps one catalog document for the list decoded from raw. The
// whole new set installs or none of it does: the candidate snapshot is
// built and validated before the pointer swap, and the backing file is
// rewritten in full afterwards.
func (c *Catalog) Replace(kind models.CatalogKind, raw json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.current()

	values := old.valueTypesDoc
	props := old.propertyTypesDoc
	devTypes := old.deviceTypesDoc
	services := old.servicesDoc

	switch kind {
	case models.KindScalarTypes:
		var list []models.ScalarTypeDef
		if err := decodeList(raw, &list); err != nil {
			return err
		}

		values.ScalarTypes = list
	case models.KindEnumTypes:
		var list []models.EnumTypeDef
		if err := decodeList(raw, &list); err != nil {
			return err
		}

		values.EnumTypes = list
	case models.KindPropertyTypes:
		var list []models.PropertyTypeDef
		if err := decodeList(raw, &list); err != nil {
			return err
		}

		props.PropertyTypes = list
	case models.KindDeviceTypes:
		var list []models.DeviceTypeDef
		if err := decodeList(raw, &list); err != nil {
			return err
		}

		devTypes.DeviceTypes = list
	default:
		return apperr.Newf(apperr.KindBadRequest, "unknown catalog kind (%s)", kind)
	}

	snap, err := c.build(&values, &props, &devTypes, &services)
	if err != nil {
		return err
	}

	c.snap.Store(snap)

	return c.persist(kind, snap)
}

// ReplaceServices swaps the reloadable services set.
func (c *Catalog) ReplaceServices(list []models.ServiceDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.current()
	services := models.ServicesFile{Services: list}

	snap, err := c.build(&old.valueTypesDoc, &old.propertyTypesDoc, &old.deviceTypesDoc, &services)
	if err != nil {
		return err
	}

	c.snap.Store(snap)

	if c.paths.Services == "" {
		return nil
	}

	if err := config.MarshalAndWrite(c.paths.Services, &snap.servicesDoc); err != nil {
		c.log.Error().Err(err).Msg("Failed to persist services document")
		return err
	}

	return nil
}

func (c *Catalog) persist(kind models.CatalogKind, snap *snapshot) error {
	var (
		path string
		doc  interface{}
	)

	switch kind {
	case models.KindScalarTypes, models.KindEnumTypes:
		path, doc = c.paths.ValueTypes, &snap.valueTypesDoc
	case models.KindPropertyTypes:
		path, doc = c.paths.PropertyTypes, &snap.propertyTypesDoc
	case models.KindDeviceTypes:
		path, doc = c.paths.DeviceTypes, &snap.deviceTypesDoc
	}

	if path == "" {
		return nil
	}

	if err := config.MarshalAndWrite(path, doc); err != nil {
		c.log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to persist catalog document")
		return err
	}

	return nil
}

func decodeList(raw json.RawMessage, out interface{}) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Newf(apperr.KindBadRequest, "malformed catalog document: %v", err)
	}

	return nil
}
