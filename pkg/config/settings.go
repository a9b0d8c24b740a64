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

package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings are the environment-tunable knobs of the gateway. File paths
// default to the config root next to the working directory.
type Settings struct {
	Debug bool
	Quiet bool

	ProxyAddr string
	ProxyPort int

	CoAPAddr      string
	CoAPPort      int
	CoAPMulticast bool

	// CommTimeout bounds every proxy->CoAP round trip.
	CommTimeout time.Duration
	// DevicesMonitoringTimeout bounds liveness probes to devices.
	DevicesMonitoringTimeout time.Duration
	// EndpointDefaultTimeout is the default device eviction timeout.
	EndpointDefaultTimeout time.Duration

	CloudBaseURL        string
	AllowWorkingOffline bool

	AWSIntegration     bool
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSRegion          string

	ConfigRoot string
}

const (
	defaultCommTimeout       = 5 * time.Second
	defaultMonitoringTimeout = 15 * time.Second
	defaultEndpointTimeout   = 60 * time.Second
	defaultProxyPort         = 8080
	defaultCoAPPort          = 5683
)

// LoadSettings builds Settings from the environment.
func LoadSettings() *Settings {
	return &Settings{
		Debug: envBool("DEBUG", false),
		Quiet: envBool("QUIET", false),

		ProxyAddr: envString("PROXY_ADDR", LocalIP()),
		ProxyPort: envInt("PROXY_PORT", defaultProxyPort),

		CoAPAddr:      envString("COAP_ADDR", LocalIP()),
		CoAPPort:      envInt("COAP_PORT", defaultCoAPPort),
		CoAPMulticast: envBool("COAP_MULTICAST", false),

		CommTimeout:              envSeconds("COMM_TIMEOUT", defaultCommTimeout),
		DevicesMonitoringTimeout: envSeconds("DEVICES_MONITORING_TIMEOUT", defaultMonitoringTimeout),
		EndpointDefaultTimeout:   envSeconds("ENDPOINT_DEFAULT_TIMEOUT", defaultEndpointTimeout),

		CloudBaseURL:        envString("CLOUD_BASE_URL", "http://127.0.0.1:8000/"),
		AllowWorkingOffline: envBool("ALLOW_WORKING_OFFLINE", false),

		AWSIntegration:     envBool("AWS_INTEGRATION", false),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSRegion:          envString("AWS_REGION", "us-east-1"),

		ConfigRoot: envString("HOMESERVER_CONFIG_ROOT", "config"),
	}
}

// ServerConfigPath and friends locate the JSON configuration documents.
func (s *Settings) ServerConfigPath() string   { return s.ConfigRoot + "/serverconf.json" }
func (s *Settings) DeviceTypesPath() string    { return s.ConfigRoot + "/device_types.json" }
func (s *Settings) PropertyTypesPath() string  { return s.ConfigRoot + "/property_types.json" }
func (s *Settings) ValueTypesPath() string     { return s.ConfigRoot + "/value_types.json" }
func (s *Settings) ServicesPath() string       { return s.ConfigRoot + "/services.json" }
func (s *Settings) ControlSocketPath() string  { return envString("HOMESERVER_SOCK", "./homeserver_sock") }

// LocalIP discovers the outbound IPv4 address of this host. The dial is
// connectionless; no packet is sent.
func LocalIP() string {
	conn, err := net.Dial("udp4", "coap.technology:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}

	return addr.IP.String()
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}

	return n
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}

	return time.Duration(n) * time.Second
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v == "true" || v == "1" || v == "yes" || v == "on"
}
