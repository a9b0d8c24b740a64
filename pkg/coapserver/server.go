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

// Package coapserver exposes the gateway resource tree over CoAP: server
// info, the type catalog and the device registry, with RFC 7641
// observation on the mutable resources.
package coapserver

import (
	"context"
	"fmt"
	"net"

	coapnet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"

	coapmux "github.com/plgd-dev/go-coap/v3/mux"

	"github.com/openhs/homeserver/pkg/config"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/models"
	"github.com/openhs/homeserver/pkg/registry"
)

// coapAllNodes is the IPv4 "All CoAP Nodes" group.
const coapAllNodes = "224.0.1.187:5683"

// Server is the CoAP front of the gateway.
type Server struct {
	settings *config.Settings
	cfg      *serverIdentity
	catalog  catalogAPI
	registry *registry.Registry
	obs      *observerTable
	router   *coapmux.Router
	log      logger.Logger
}

// New wires the resource tree. The server registers itself as a
// synchronous registry listener so state-change notifications reach
// observers before the triggering request is answered.
func New(
	settings *config.Settings,
	serverCfg *models.ServerConfig,
	cat catalogAPI,
	reg *registry.Registry,
	log logger.Logger,
) *Server {
	s := &Server{
		settings: settings,
		cfg:      newServerIdentity(serverCfg, settings.ServerConfigPath(), log),
		catalog:  cat,
		registry: reg,
		obs:      newObserverTable(log),
		router:   coapmux.NewRouter(),
		log:      log,
	}

	s.routes()

	reg.AddSyncListener(s.onStateEvent)
	reg.AddListener(s.onMembershipEvent)

	return s
}

func (s *Server) routes() {
	s.router.Handle("/", coapmux.HandlerFunc(s.handleRoot))
	s.router.Handle("/info", coapmux.HandlerFunc(s.handleInfo))
	s.router.Handle("/services", coapmux.HandlerFunc(s.handleServices))
	s.router.Handle("/configs", coapmux.HandlerFunc(s.handleConfigs))
	s.router.Handle("/devices", coapmux.HandlerFunc(s.handleDevices))
	s.router.Handle("/devices/{id}", coapmux.HandlerFunc(s.handleDevice))
	s.router.Handle("/devices/{id}/state", coapmux.HandlerFunc(s.handleDeviceState))
	s.router.Handle("/devices/{id}/type", coapmux.HandlerFunc(s.handleDeviceType))
	s.router.Handle("/devices/{id}/services", coapmux.HandlerFunc(s.handleDeviceServices))
}

// Run serves CoAP until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.settings.CoAPAddr, s.settings.CoAPPort)

	l, err := coapnet.NewListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("coap listen on %s: %w", addr, err)
	}
	defer l.Close()

	if s.settings.CoAPMulticast {
		group, err := net.ResolveUDPAddr("udp4", coapAllNodes)
		if err == nil {
			err = l.JoinGroup(nil, group)
		}

		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to join CoAP multicast group")
		}
	}

	srv := udp.NewServer(options.WithMux(s.router), options.WithContext(ctx))

	go func() {
		<-ctx.Done()
		srv.Stop()
	}()

	s.log.Info().Str("addr", addr).Bool("multicast", s.settings.CoAPMulticast).
		Msg("CoAP server listening")

	if err := srv.Serve(l); err != nil && ctx.Err() == nil {
		return fmt.Errorf("coap serve: %w", err)
	}

	return nil
}

// onStateEvent runs inline under the registry mutex. Reported state goes
// to every observer except the device itself; target state goes only to
// the device. Both payloads come from the event snapshot.
func (s *Server) onStateEvent(evt registry.Event) {
	switch evt.Type {
	case registry.EventStateReported:
		path := devicePath(evt.Info.LocalID) + "/state"

		if payload, err := marshalPayload(evt.State); err == nil {
			s.obs.notifyAllExcept(path, evt.Info.Address, payload)
		}

		if payload, err := marshalPayload(evt.Info); err == nil {
			s.obs.notifyAllExcept(devicePath(evt.Info.LocalID), evt.Info.Address, payload)
		}
	case registry.EventStateDesired:
		path := devicePath(evt.Info.LocalID) + "/state"

		if payload, err := marshalPayload(evt.State); err == nil {
			s.obs.notifyOnly(path, evt.Info.Address, payload)
		}
	case registry.EventRegistered, registry.EventUnregistered:
	}
}

// onMembershipEvent runs detached, so it may query the registry for a
// fresh list snapshot.
func (s *Server) onMembershipEvent(evt registry.Event) {
	switch evt.Type {
	case registry.EventRegistered, registry.EventUnregistered:
	default:
		return
	}

	if payload, err := marshalPayload(deviceListPayload(s.registry.List(""))); err == nil {
		s.obs.notifyAll("/devices", payload)
	}

	if evt.Type == registry.EventUnregistered {
		base := devicePath(evt.Info.LocalID)

		s.obs.dropPath(base)
		s.obs.dropPath(base + "/state")
		s.obs.dropPath(base + "/type")
		s.obs.dropPath(base + "/services")
	}
}

func devicePath(id int) string {
	return fmt.Sprintf("/devices/%d", id)
}
