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
	"encoding/json"

	"github.com/plgd-dev/go-coap/v3/message/codes"
	coapmux "github.com/plgd-dev/go-coap/v3/mux"

	"github.com/openhs/homeserver/pkg/apperr"
	"github.com/openhs/homeserver/pkg/models"
)

// handleRoot answers liveness probes. A request from a registered
// device's address counts as activity for that device.
func (s *Server) handleRoot(w coapmux.ResponseWriter, r *coapmux.Message) {
	if r.Code() != codes.GET {
		s.writeError(w, errMethodNotAllowed())
		return
	}

	addr, _ := origin(w)
	s.registry.Touch(addr)

	s.writeJSON(w, codes.Content, map[string]string{"name": s.cfg.name()})
}

func (s *Server) handleInfo(w coapmux.ResponseWriter, r *coapmux.Message) {
	if err := checkAccept(r); err != nil {
		s.writeError(w, err)
		return
	}

	switch r.Code() {
	case codes.GET:
		s.maybeObserve(w, r)
		s.writeJSON(w, codes.Content, s.cfg.info(s.settings))
	case codes.PUT:
		s.putInfo(w, r)
	default:
		s.writeError(w, errMethodNotAllowed())
	}
}

// putInfo renames the server. Renames arrive from the cloud through the
// proxy, so only local origins are accepted.
func (s *Server) putInfo(w coapmux.ResponseWriter, r *coapmux.Message) {
	addr, _ := origin(w)
	if !s.isLocalOrigin(addr) {
		s.writeError(w, apperr.New(apperr.KindForbidden, "Server info can only be updated locally"))
		return
	}

	var body struct {
		Name string `json:"name"`
	}

	if err := readJSON(r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	if body.Name == "" {
		s.writeError(w, apperr.New(apperr.KindBadRequest, "Request json body does not contain field (name)"))
		return
	}

	s.cfg.rename(body.Name)

	info := s.cfg.info(s.settings)

	if payload, err := marshalPayload(info); err == nil {
		s.obs.notifyAll("/info", payload)
	}

	s.writeJSON(w, codes.Changed, info)
}

func (s *Server) handleServices(w coapmux.ResponseWriter, r *coapmux.Message) {
	if err := checkAccept(r); err != nil {
		s.writeError(w, err)
		return
	}

	switch r.Code() {
	case codes.GET:
		s.maybeObserve(w, r)
		s.writeJSON(w, codes.Content, s.catalog.ServicesDocument())
	case codes.PUT:
		s.putServices(w, r)
	default:
		s.writeError(w, errMethodNotAllowed())
	}
}

// putServices replaces the whole services set. Both the wrapped document
// form and a bare list are accepted.
func (s *Server) putServices(w coapmux.ResponseWriter, r *coapmux.Message) {
	var raw json.RawMessage
	if err := readJSON(r, &raw); err != nil {
		s.writeError(w, err)
		return
	}

	var doc models.ServicesFile
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Services == nil {
		var bare []models.ServiceDef
		if err := json.Unmarshal(raw, &bare); err != nil {
			s.writeError(w, apperr.New(apperr.KindBadRequest, "Malformed services document"))
			return
		}

		doc.Services = bare
	}

	if err := s.catalog.ReplaceServices(doc.Services); err != nil {
		s.writeError(w, err)
		return
	}

	updated := s.catalog.ServicesDocument()

	if payload, err := marshalPayload(updated); err == nil {
		s.obs.notifyAll("/services", payload)
	}

	s.writeJSON(w, codes.Changed, updated)
}

func (s *Server) handleConfigs(w coapmux.ResponseWriter, r *coapmux.Message) {
	if err := checkAccept(r); err != nil {
		s.writeError(w, err)
		return
	}

	switch r.Code() {
	case codes.GET:
		s.maybeObserve(w, r)
		s.getConfigs(w)
	case codes.PUT:
		s.putConfigs(w, r)
	default:
		s.writeError(w, errMethodNotAllowed())
	}
}

// getConfigs bundles every catalog document into one payload.
func (s *Server) getConfigs(w coapmux.ResponseWriter) {
	out := make(map[string]interface{}, 4)

	for _, kind := range []models.CatalogKind{
		models.KindScalarTypes,
		models.KindEnumTypes,
		models.KindPropertyTypes,
		models.KindDeviceTypes,
	} {
		doc, err := s.catalog.Document(kind)
		if err != nil {
			s.writeError(w, err)
			return
		}

		out[string(kind)] = doc
	}

	s.writeJSON(w, codes.Content, out)
}

// putConfigs replaces one catalog document, selected by the type query.
func (s *Server) putConfigs(w coapmux.ResponseWriter, r *coapmux.Message) {
	kindName, ok := queries(r)["type"]
	if !ok || kindName == "" {
		s.writeError(w, apperr.New(apperr.KindBadRequest, "Missing query parameter (type)"))
		return
	}

	kind := models.CatalogKind(kindName)

	switch kind {
	case models.KindScalarTypes, models.KindEnumTypes, models.KindPropertyTypes, models.KindDeviceTypes:
	default:
		s.writeError(w, apperr.Newf(apperr.KindBadRequest, "Unknown configuration type (%s)", kindName))
		return
	}

	var raw json.RawMessage
	if err := readJSON(r, &raw); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.catalog.Replace(kind, raw); err != nil {
		s.writeError(w, err)
		return
	}

	doc, err := s.catalog.Document(kind)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if payload, merr := marshalPayload(map[string]interface{}{string(kind): doc}); merr == nil {
		s.obs.notifyAll("/configs", payload)
	}

	s.writeJSON(w, codes.Changed, map[string]interface{}{string(kind): doc})
}
