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
	"sync"

	"github.com/openhs/homeserver/pkg/config"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/models"
)

// serverIdentity guards the mutable parts of the server configuration.
// Today only the name changes at runtime; a rename is persisted back to
// serverconf.json off the request path.
type serverIdentity struct {
	mu   sync.Mutex
	cfg  models.ServerConfig
	path string
	log  logger.Logger
}

func newServerIdentity(cfg *models.ServerConfig, path string, log logger.Logger) *serverIdentity {
	return &serverIdentity{cfg: *cfg, path: path, log: log}
}

func (si *serverIdentity) info(settings *config.Settings) models.ServerInfo {
	si.mu.Lock()
	defer si.mu.Unlock()

	return models.ServerInfo{
		ServerID:     si.cfg.ID,
		Name:         si.cfg.Name,
		CoAPAddress:  settings.CoAPAddr,
		CoAPPort:     settings.CoAPPort,
		Multicast:    settings.CoAPMulticast,
		ProxyAddress: settings.ProxyAddr,
		ProxyPort:    settings.ProxyPort,
	}
}

func (si *serverIdentity) name() string {
	si.mu.Lock()
	defer si.mu.Unlock()

	return si.cfg.Name
}

func (si *serverIdentity) id() string {
	si.mu.Lock()
	defer si.mu.Unlock()

	return si.cfg.ID
}

// rename updates the server name and persists the configuration
// asynchronously; the caller's response does not wait on disk.
func (si *serverIdentity) rename(name string) {
	si.mu.Lock()
	si.cfg.Name = name
	snapshot := si.cfg
	si.mu.Unlock()

	go func() {
		if err := config.MarshalAndWrite(si.path, &snapshot); err != nil {
			si.log.Error().Err(err).Str("path", si.path).Msg("Failed to persist server config")
		}
	}()
}
