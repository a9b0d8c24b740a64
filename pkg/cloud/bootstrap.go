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
	"net/http"

	"github.com/openhs/homeserver/pkg/apperr"
	"github.com/openhs/homeserver/pkg/config"
	"github.com/openhs/homeserver/pkg/models"
)

// cloudServer is a server record as the cloud returns it.
type cloudServer struct {
	ID           interface{} `json:"id"`
	Name         string      `json:"name"`
	CoAPAddress  string      `json:"coap_address"`
	CoAPPort     int         `json:"coap_port"`
	ProxyAddress string      `json:"proxy_address"`
	ProxyPort    int         `json:"proxy_port"`
	Multicast    bool        `json:"multicast"`
	Timeout      int         `json:"timeout"`
}

// RegisterServer syncs this gateway's record with the cloud. A known id
// is updated in place; otherwise the gateway is created and the record
// matching our CoAP address is adopted. The returned config carries the
// cloud-assigned fields plus the local credentials.
func (c *Client) RegisterServer(ctx context.Context, cfg *models.ServerConfig, settings *config.Settings) (*models.ServerConfig, error) {
	payload := map[string]interface{}{
		"name":          cfg.Name,
		"coap_address":  settings.CoAPAddr,
		"coap_port":     settings.CoAPPort,
		"proxy_address": settings.ProxyAddr,
		"proxy_port":    settings.ProxyPort,
		"multicast":     settings.CoAPMulticast,
		"timeout":       int(settings.EndpointDefaultTimeout.Seconds()),
	}

	if cfg.ID != "" {
		status, body, err := c.session.Do(ctx, http.MethodPatch,
			"api/servers/"+cfg.ID+"/?fromserver=true", payload)
		if err != nil {
			return nil, err
		}

		if status == http.StatusOK {
			var record cloudServer
			if err := json.Unmarshal(body, &record); err != nil {
				return nil, apperr.New(apperr.KindCloudUnavailable, "cloud server record is malformed")
			}

			return mergeServerConfig(cfg, &record), nil
		}

		c.log.Warn().Int("status", status).Str("server_id", cfg.ID).
			Msg("Cloud rejected server update, registering anew")
	}

	status, body, err := c.session.Do(ctx, http.MethodPost, "api/servers/", payload)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK && status != http.StatusCreated {
		return nil, apperr.Newf(apperr.KindCloudUnavailable,
			"cloud server registration rejected (%d): %s", status, body)
	}

	servers, err := decodeServerList(body)
	if err != nil {
		return nil, err
	}

	for i := range servers {
		if servers[i].CoAPAddress == settings.CoAPAddr {
			return mergeServerConfig(cfg, &servers[i]), nil
		}
	}

	return nil, apperr.New(apperr.KindCloudUnavailable, "cloud did not return the registered server")
}

func decodeServerList(body []byte) ([]cloudServer, error) {
	var wrapped struct {
		Servers []cloudServer `json:"servers"`
	}

	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Servers != nil {
		return wrapped.Servers, nil
	}

	var bare []cloudServer
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, nil
	}

	return nil, apperr.New(apperr.KindCloudUnavailable, "cloud server list is malformed")
}

func mergeServerConfig(cfg *models.ServerConfig, record *cloudServer) *models.ServerConfig {
	out := *cfg
	out.ID = idString(record.ID)
	out.Name = record.Name
	out.CoAPAddress = record.CoAPAddress
	out.CoAPPort = record.CoAPPort
	out.ProxyAddress = record.ProxyAddress
	out.ProxyPort = record.ProxyPort
	out.Multicast = record.Multicast
	out.Timeout = record.Timeout

	return &out
}

// cloudConfigs is the GET api/configs/ document. Enum choices arrive
// normalized into a flat choice table; the local catalog wants them
// inlined per enum.
type cloudConfigs struct {
	DeviceTypes []models.DeviceTypeDef   `json:"device_types"`
	ValueTypes  cloudValueTypes          `json:"value_types"`
	Properties  []models.PropertyTypeDef `json:"property_types"`
}

type cloudValueTypes struct {
	Scalars []models.ScalarTypeDef `json:"scalars"`
	Enums   []cloudEnum            `json:"enums"`
	Choices []cloudChoice          `json:"choices"`
}

type cloudEnum struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Choices      []int  `json:"choices"`
	DefaultValue int    `json:"default_value"`
}

type cloudChoice struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FetchConfigs pulls the type catalog from the cloud and writes the
// local document files.
func (c *Client) FetchConfigs(ctx context.Context, settings *config.Settings) error {
	status, body, err := c.session.Do(ctx, http.MethodGet, "api/configs/", nil)
	if err != nil {
		return err
	}

	if status != http.StatusOK {
		return apperr.Newf(apperr.KindCloudUnavailable, "cloud configs fetch rejected (%d)", status)
	}

	var configs cloudConfigs
	if err := json.Unmarshal(body, &configs); err != nil {
		return apperr.New(apperr.KindCloudUnavailable, "cloud configs document is malformed")
	}

	valueTypes := models.ValueTypesFile{
		ScalarTypes: configs.ValueTypes.Scalars,
		EnumTypes:   inlineEnumChoices(configs.ValueTypes.Enums, configs.ValueTypes.Choices),
	}

	if err := config.MarshalAndWrite(settings.ValueTypesPath(), &valueTypes); err != nil {
		return err
	}

	if err := config.MarshalAndWrite(settings.PropertyTypesPath(),
		&models.PropertyTypesFile{PropertyTypes: configs.Properties}); err != nil {
		return err
	}

	return config.MarshalAndWrite(settings.DeviceTypesPath(),
		&models.DeviceTypesFile{DeviceTypes: configs.DeviceTypes})
}

// FetchServices pulls the user services document and writes it locally.
func (c *Client) FetchServices(ctx context.Context, settings *config.Settings) error {
	status, body, err := c.session.Do(ctx, http.MethodGet, "api/services/", nil)
	if err != nil {
		return err
	}

	if status != http.StatusOK {
		return apperr.Newf(apperr.KindCloudUnavailable, "cloud services fetch rejected (%d)", status)
	}

	var doc struct {
		Services []models.ServiceDef `json:"services"`
	}

	if err := json.Unmarshal(body, &doc); err != nil {
		return apperr.New(apperr.KindCloudUnavailable, "cloud services document is malformed")
	}

	return config.MarshalAndWrite(settings.ServicesPath(),
		&models.ServicesFile{Services: doc.Services})
}

// inlineEnumChoices turns the flat choice table into per-enum label to
// value maps and resolves each default from a choice id to its label.
func inlineEnumChoices(enums []cloudEnum, choices []cloudChoice) []models.EnumTypeDef {
	byID := make(map[int]cloudChoice, len(choices))
	for _, ch := range choices {
		byID[ch.ID] = ch
	}

	out := make([]models.EnumTypeDef, 0, len(enums))

	for _, e := range enums {
		def := models.EnumTypeDef{
			ID:      e.ID,
			Name:    e.Name,
			Choices: make(map[string]string, len(e.Choices)),
		}

		for _, choiceID := range e.Choices {
			if ch, ok := byID[choiceID]; ok {
				def.Choices[ch.Name] = ch.Value
			}
		}

		if ch, ok := byID[e.DefaultValue]; ok {
			def.DefaultValue = ch.Name
		}

		out = append(out, def)
	}

	return out
}

// Bootstrap runs the full first-contact sequence: server registration,
// config pull, services pull, and persists the merged server config.
func (c *Client) Bootstrap(ctx context.Context, cfg *models.ServerConfig, settings *config.Settings) (*models.ServerConfig, error) {
	merged, err := c.RegisterServer(ctx, cfg, settings)
	if err != nil {
		return nil, err
	}

	if err := config.MarshalAndWrite(settings.ServerConfigPath(), merged); err != nil {
		return nil, err
	}

	if err := c.FetchConfigs(ctx, settings); err != nil {
		return nil, err
	}

	if err := c.FetchServices(ctx, settings); err != nil {
		return nil, err
	}

	return merged, nil
}
