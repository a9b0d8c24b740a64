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

// StateSlot is one property slot of a device state, in device-type order.
type StateSlot struct {
	PropertyID int            `json:"property_id"`
	Name       string         `json:"name"`
	Value      interface{}    `json:"value"`
	Type       ValueTypeClass `json:"type"`
}

// SimplifiedState is the {"property name": value} projection used by the
// cloud sinks and by the device-list payload.
type SimplifiedState map[string]interface{}

// DeviceInfo is the wire representation of a registered device.
type DeviceInfo struct {
	LocalID     int             `json:"local_id"`
	UniversalID string          `json:"universal_id,omitempty"`
	Name        string          `json:"name"`
	Address     string          `json:"address"`
	Port        int             `json:"port,omitempty"`
	DeviceType  int             `json:"device_type"`
	Services    []int           `json:"services,omitempty"`
	Timeout     int             `json:"timeout,omitempty"`
	State       SimplifiedState `json:"state,omitempty"`
}

// CreateDeviceRequest is the POST /devices body. Address is optional; when
// absent the requester's source address is used.
type CreateDeviceRequest struct {
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	DeviceType *int   `json:"device_type"`
	Services   []int  `json:"services"`
	Timeout    *int   `json:"timeout"`
}

// UpdateDeviceRequest is the PUT /devices/{id} body. Name may come from
// any origin; the remaining fields are owner-only reconfiguration.
type UpdateDeviceRequest struct {
	Name       *string `json:"name,omitempty"`
	DeviceType *int    `json:"device_type,omitempty"`
	Services   []int   `json:"services,omitempty"`
	Timeout    *int    `json:"timeout,omitempty"`
}

// DeviceState is the GET /devices/{id}/state payload.
type DeviceState struct {
	DeviceID     int         `json:"device_id"`
	CurrentState []StateSlot `json:"current_state"`
	DesiredState []StateSlot `json:"desired_state"`
}

// DeviceTypeInfo is the GET /devices/{id}/type payload.
type DeviceTypeInfo struct {
	DeviceID   int         `json:"device_id"`
	DeviceType interface{} `json:"device_type"`
}

// DeviceServices is the GET /devices/{id}/services payload.
type DeviceServices struct {
	DeviceID int   `json:"device_id"`
	Services []int `json:"services"`
}

// ServerInfo is the GET /info payload.
type ServerInfo struct {
	ServerID     string `json:"server_id"`
	Name         string `json:"name"`
	CoAPAddress  string `json:"coap_address"`
	CoAPPort     int    `json:"coap_port"`
	Multicast    bool   `json:"multicast"`
	ProxyAddress string `json:"proxy_address"`
	ProxyPort    int    `json:"proxy_port"`
}

// ErrorBody is the JSON failure envelope. StatusLine is only present on
// the CoAP side, where the numeric code alone does not carry the class.
type ErrorBody struct {
	ErrorCode  int    `json:"error_code"`
	ErrorMsg   string `json:"error_msg"`
	StatusLine string `json:"status_line,omitempty"`
}

// ShadowDocument is the AWS IoT device-shadow payload shape.
type ShadowDocument struct {
	State ShadowState `json:"state"`
}

// ShadowState pairs the cloud's target state with the last report.
type ShadowState struct {
	Desired  SimplifiedState `json:"desired,omitempty"`
	Reported SimplifiedState `json:"reported,omitempty"`
}
