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

package models

// ValueTypeClass identifies which value-type family a property uses.
type ValueTypeClass string

const (
	ValueClassScalar ValueTypeClass = "SCALAR"
	ValueClassEnum   ValueTypeClass = "ENUM"
)

// AccessMode controls who may write a property.
type AccessMode string

const (
	AccessReadOnly  AccessMode = "RO"
	AccessWriteOnly AccessMode = "WO"
	AccessReadWrite AccessMode = "RW"
)

// CatalogKind selects one of the replaceable catalog documents.
type CatalogKind string

const (
	KindScalarTypes   CatalogKind = "SCALAR_TYPES"
	KindEnumTypes     CatalogKind = "ENUM_TYPES"
	KindPropertyTypes CatalogKind = "PROPERTY_TYPES"
	KindDeviceTypes   CatalogKind = "DEVICE_TYPES"
)

// ScalarTypeDef is the on-disk form of a scalar value type.
type ScalarTypeDef struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	Units        string  `json:"units"`
	MinValue     float64 `json:"min_value"`
	MaxValue     float64 `json:"max_value"`
	Step         float64 `json:"step"`
	DefaultValue float64 `json:"default_value"`
}

// EnumTypeDef is the on-disk form of an enum value type. DefaultValue is
// referenced by label: it must be a key of Choices.
type EnumTypeDef struct {
	ID           int               `json:"id"`
	Name         string            `json:"name"`
	Choices      map[string]string `json:"choices"`
	DefaultValue string            `json:"default_value"`
}

// PropertyTypeDef is the on-disk form of a property type.
type PropertyTypeDef struct {
	ID             int            `json:"id"`
	Name           string         `json:"name"`
	AccessMode     AccessMode     `json:"access_mode"`
	ValueTypeClass ValueTypeClass `json:"value_type_class"`
	ValueTypeID    int            `json:"value_type_id"`
}

// DeviceTypeDef is the on-disk form of a device type.
type DeviceTypeDef struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Properties []int  `json:"properties"`
}

// ServiceDef is the on-disk form of a service.
type ServiceDef struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	CoreServiceRef *int   `json:"core_service_ref"`
}

// ValueTypesFile is the document layout of value_types.json.
type ValueTypesFile struct {
	ScalarTypes []ScalarTypeDef `json:"SCALAR_TYPES"`
	EnumTypes   []EnumTypeDef   `json:"ENUM_TYPES"`
}

// PropertyTypesFile is the document layout of property_types.json.
type PropertyTypesFile struct {
	PropertyTypes []PropertyTypeDef `json:"PROPERTY_TYPES"`
}

// DeviceTypesFile is the document layout of device_types.json.
type DeviceTypesFile struct {
	DeviceTypes []DeviceTypeDef `json:"DEVICE_TYPES"`
}

// ServicesFile is the document layout of services.json.
type ServicesFile struct {
	Services []ServiceDef `json:"SERVICES"`
}
