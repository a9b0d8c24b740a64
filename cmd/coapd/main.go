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

// coapd is the gateway core: the CoAP resource tree, the device
// registry, the liveness monitor and the cloud sync paths.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/openhs/homeserver/pkg/catalog"
	"github.com/openhs/homeserver/pkg/cloud"
	"github.com/openhs/homeserver/pkg/cloud/awsiot"
	"github.com/openhs/homeserver/pkg/coapclient"
	"github.com/openhs/homeserver/pkg/coapserver"
	"github.com/openhs/homeserver/pkg/config"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/models"
	"github.com/openhs/homeserver/pkg/registry"
)

// exitRegistrationFailed tells the supervisor not to restart us: the
// mandatory cloud registration failed and retrying will not fix it.
const exitRegistrationFailed = 4

func main() {
	os.Exit(run())
}

func run() int {
	settings := config.LoadSettings()

	configPath := flag.String("config", settings.ServerConfigPath(), "Path to the server config file")
	flag.Parse()

	logCfg := logger.DefaultConfig()

	coapdLog, err := logger.NewComponentLogger(logCfg, "coapd")
	if err != nil {
		log.Printf("Fatal error: failed to initialize logger: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverCfg, offline, code := bootstrap(ctx, settings, *configPath, coapdLog)
	if code != 0 {
		return code
	}

	cat, err := catalog.New(ctx, catalog.Paths{
		ValueTypes:    settings.ValueTypesPath(),
		PropertyTypes: settings.PropertyTypesPath(),
		DeviceTypes:   settings.DeviceTypesPath(),
		Services:      settings.ServicesPath(),
	}, coapdLog)
	if err != nil {
		coapdLog.Error().Err(err).Msg("Failed to load type catalog")
		return 1
	}

	go func() {
		if err := cat.Watch(ctx); err != nil {
			coapdLog.Warn().Err(err).Msg("Catalog file watcher stopped")
		}
	}()

	reg := registry.New(cat, settings.EndpointDefaultTimeout, coapdLog)
	defer reg.Shutdown()

	prober := coapclient.New("", 0, settings.DevicesMonitoringTimeout)
	monitor := registry.NewMonitor(reg, prober, settings.DevicesMonitoringTimeout)

	go monitor.Run(ctx)

	if !offline {
		session := cloud.NewSession(settings.CloudBaseURL, serverCfg.Email, serverCfg.Password, coapdLog)
		sync := cloud.NewSync(cloud.NewClient(session, coapdLog), reg, serverCfg.ID, coapdLog)

		go sync.Run(ctx)
	}

	if settings.AWSIntegration {
		startAWS(ctx, settings, reg, coapdLog)
	}

	srv := coapserver.New(settings, serverCfg, cat, reg, coapdLog)

	if err := srv.Run(ctx); err != nil {
		coapdLog.Error().Err(err).Msg("CoAP server failed")
		return 1
	}

	return 0
}

// bootstrap loads the server configuration and, unless offline operation
// is allowed, syncs the gateway's registration with the cloud. A failed
// mandatory registration returns the no-restart exit code.
func bootstrap(ctx context.Context, settings *config.Settings, configPath string, log logger.Logger) (*models.ServerConfig, bool, int) {
	serverCfg := &models.ServerConfig{}

	haveConfig := false
	if _, err := os.Stat(configPath); err == nil {
		if err := config.NewConfig(log).LoadAndValidate(ctx, configPath, serverCfg); err != nil {
			log.Error().Err(err).Str("path", configPath).Msg("Failed to load server config")
			return nil, false, exitRegistrationFailed
		}

		haveConfig = true
	}

	if settings.AllowWorkingOffline {
		if !haveConfig {
			serverCfg.Name = "homeserver"
			log.Warn().Msg("No server config; working offline without registration")
		}

		return serverCfg, true, 0
	}

	if !haveConfig {
		log.Error().Str("path", configPath).
			Msg("Server config missing and offline operation not allowed")
		return nil, false, exitRegistrationFailed
	}

	if err := serverCfg.Validate(false); err != nil {
		log.Error().Err(err).Msg("Server config incomplete for cloud registration")
		return nil, false, exitRegistrationFailed
	}

	session := cloud.NewSession(settings.CloudBaseURL, serverCfg.Email, serverCfg.Password, log)

	merged, err := cloud.NewClient(session, log).Bootstrap(ctx, serverCfg, settings)
	if err != nil {
		log.Error().Err(err).Msg("Cloud registration failed")
		return nil, false, exitRegistrationFailed
	}

	log.Info().Str("server_id", merged.ID).Msg("Registered on cloud")

	return merged, false, 0
}

// startAWS wires the AWS IoT shadow sync in both directions. An AWS
// setup failure degrades to local-only operation rather than killing
// the core.
func startAWS(ctx context.Context, settings *config.Settings, reg *registry.Registry, log logger.Logger) {
	publisher, err := awsiot.New(ctx, settings, log)
	if err != nil {
		log.Error().Err(err).Msg("AWS IoT disabled: client setup failed")
		return
	}

	go awsiot.NewSync(publisher, reg, log).Run(ctx)

	loopback := coapclient.New(settings.CoAPAddr, settings.CoAPPort, settings.CommTimeout)

	go awsiot.NewPoller(publisher, reg, loopback, log).Run(ctx)

	log.Info().Str("region", settings.AWSRegion).Msg("AWS IoT shadow sync enabled")
}
