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

import "errors"

var errMissingCredentials = errors.New("server config missing email or password")

// ServerConfig is the layout of serverconf.json, written during first-time
// registration and rewritten whenever the server is renamed.
type ServerConfig struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CoAPAddress  string `json:"coap_address"`
	CoAPPort     int    `json:"coap_port"`
	ProxyAddress string `json:"proxy_address"`
	ProxyPort    int    `json:"proxy_port"`
	Multicast    bool   `json:"multicast"`
	Timeout      int    `json:"timeout"`
	Email        string `json:"email"`
	Password     string `json:"password"`
}

// Validate checks the fields required for cloud operation. The id is not
// required: first-time registration obtains it from the cloud. Callers
// pass offline=true when credentials are optional.
func (c *ServerConfig) Validate(offline bool) error {
	if !offline && (c.Email == "" || c.Password == "") {
		return errMissingCredentials
	}

	return nil
}
