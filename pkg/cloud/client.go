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

package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/openhs/homeserver/pkg/apperr"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/models"
)

// Client is the typed surface over the cloud device and server APIs.
type Client struct {
	session *Session
	log     logger.Logger
}

// NewClient wraps a session.
func NewClient(session *Session, log logger.Logger) *Client {
	return &Client{session: session, log: log}
}

// cloudDevice is a device record as the cloud returns it. Ids come back
// as numbers or strings depending on the endpoint.
type cloudDevice struct {
	ID       interface{} `json:"id"`
	Name     string      `json:"name"`
	Address  string      `json:"address"`
	Services []int       `json:"services"`
}

// Heartbeat tells the cloud the gateway is alive.
func (c *Client) Heartbeat(ctx context.Context, serverID string) error {
	status, _, err := c.session.Do(ctx, http.MethodPatch,
		"api/servers/"+serverID+"/state/?fromserver=true",
		map[string]string{"status": "running"})
	if err != nil {
		return err
	}

	if status != http.StatusOK {
		return apperr.Newf(apperr.KindCloudUnavailable, "cloud heartbeat rejected (%d)", status)
	}

	return nil
}

// RegisterDevice mirrors a local registration to the cloud and returns
// the universal id the cloud knows the device by. A device already
// present in the cloud (matched by address) is adopted and updated
// instead of recreated.
func (c *Client) RegisterDevice(ctx context.Context, serverID string, info models.DeviceInfo) (string, error) {
	existing, err := c.listDevices(ctx)
	if err != nil {
		return "", err
	}

	payload := devicePayload(serverID, info)

	for _, d := range existing {
		if d.Address == info.Address {
			uid := idString(d.ID)

			status, _, err := c.session.Do(ctx, http.MethodPatch,
				"api/devices/"+uid+"/?fromserver=true", payload)
			if err != nil {
				return "", err
			}

			if status != http.StatusOK {
				return "", apperr.Newf(apperr.KindCloudUnavailable,
					"cloud device update rejected (%d)", status)
			}

			return uid, nil
		}
	}

	status, body, err := c.session.Do(ctx, http.MethodPost, "api/devices/", payload)
	if err != nil {
		return "", err
	}

	if status != http.StatusOK && status != http.StatusCreated {
		return "", apperr.Newf(apperr.KindCloudUnavailable,
			"cloud device registration rejected (%d): %s", status, body)
	}

	created, err := decodeDeviceList(body)
	if err != nil {
		return "", err
	}

	for _, d := range created {
		if d.Address == info.Address {
			return idString(d.ID), nil
		}
	}

	return "", apperr.New(apperr.KindCloudUnavailable,
		"cloud did not return the registered device")
}

// UnregisterDevice removes the cloud record of a device.
func (c *Client) UnregisterDevice(ctx context.Context, universalID string) error {
	status, _, err := c.session.Do(ctx, http.MethodDelete, "api/devices/"+universalID+"/", nil)
	if err != nil {
		return err
	}

	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return apperr.Newf(apperr.KindCloudUnavailable, "cloud device removal rejected (%d)", status)
	}

	return nil
}

// NotifyState pushes a device's reported state to the cloud.
func (c *Client) NotifyState(ctx context.Context, universalID string, state models.SimplifiedState) error {
	status, _, err := c.session.Do(ctx, http.MethodPatch,
		"api/devices/"+universalID+"/state/?fromserver=true",
		map[string]interface{}{"current_state": state})
	if err != nil {
		return err
	}

	if status != http.StatusOK {
		return apperr.Newf(apperr.KindCloudUnavailable, "cloud state notification rejected (%d)", status)
	}

	return nil
}

func (c *Client) listDevices(ctx context.Context) ([]cloudDevice, error) {
	status, body, err := c.session.Do(ctx, http.MethodGet, "api/devices/", nil)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, apperr.Newf(apperr.KindCloudUnavailable, "cloud device list rejected (%d)", status)
	}

	return decodeDeviceList(body)
}

// decodeDeviceList accepts both the wrapped {"devices": [...]} document
// and a bare array; the cloud has produced both over time.
func decodeDeviceList(body []byte) ([]cloudDevice, error) {
	var wrapped struct {
		Devices []cloudDevice `json:"devices"`
	}

	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Devices != nil {
		return wrapped.Devices, nil
	}

	var bare []cloudDevice
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, nil
	}

	return nil, apperr.New(apperr.KindCloudUnavailable, "cloud device list is malformed")
}

func devicePayload(serverID string, info models.DeviceInfo) map[string]interface{} {
	return map[string]interface{}{
		"local_id":    info.LocalID,
		"name":        info.Name,
		"address":     info.Address,
		"device_type": info.DeviceType,
		"services":    info.Services,
		"timeout":     info.Timeout,
		"server":      serverID,
		"state":       info.State,
	}
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case json.Number:
		return id.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
