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
	"strconv"

	"github.com/plgd-dev/go-coap/v3/message/codes"
	coapmux "github.com/plgd-dev/go-coap/v3/mux"

	"github.com/openhs/homeserver/pkg/apperr"
	"github.com/openhs/homeserver/pkg/models"
)

// deviceListPayload is the GET /devices body. List entries are trimmed
// of state and services; those live on the per-device sub-resources.
func deviceListPayload(devices []models.DeviceInfo) map[string]interface{} {
	out := make([]models.DeviceInfo, 0, len(devices))

	for _, d := range devices {
		d.State = nil
		d.Services = nil
		out = append(out, d)
	}

	return map[string]interface{}{"devices": out}
}

func (s *Server) handleDevices(w coapmux.ResponseWriter, r *coapmux.Message) {
	if err := checkAccept(r); err != nil {
		s.writeError(w, err)
		return
	}

	switch r.Code() {
	case codes.GET:
		s.maybeObserve(w, r)

		addr, _ := origin(w)
		s.writeJSON(w, codes.Content, deviceListPayload(s.registry.List(addr)))
	case codes.POST:
		s.postDevices(w, r)
	default:
		s.writeError(w, errMethodNotAllowed())
	}
}

func (s *Server) postDevices(w coapmux.ResponseWriter, r *coapmux.Message) {
	var req models.CreateDeviceRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if req.Name == "" {
		s.writeError(w, apperr.New(apperr.KindBadRequest,
			"Request json body does not contain field (name)"))
		return
	}

	addr, port := origin(w)

	info, err := s.registry.Create(addr, port, &req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, codes.Created, info)
}

func (s *Server) handleDevice(w coapmux.ResponseWriter, r *coapmux.Message) {
	if err := checkAccept(r); err != nil {
		s.writeError(w, err)
		return
	}

	id, err := deviceID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch r.Code() {
	case codes.GET:
		s.maybeObserve(w, r)

		info, err := s.registry.Get(id)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, codes.Content, info)
	case codes.PUT:
		s.putDevice(w, r, id)
	case codes.DELETE:
		s.deleteDevice(w, id)
	default:
		s.writeError(w, errMethodNotAllowed())
	}
}

func (s *Server) putDevice(w coapmux.ResponseWriter, r *coapmux.Message, id int) {
	var req models.UpdateDeviceRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	addr, _ := origin(w)

	info, err := s.registry.Update(id, addr, &req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if payload, merr := marshalPayload(info); merr == nil {
		s.obs.notifyAll(devicePath(id), payload)
	}

	s.writeJSON(w, codes.Changed, info)
}

func (s *Server) deleteDevice(w coapmux.ResponseWriter, id int) {
	addr, _ := origin(w)

	if err := s.registry.Delete(id, addr, s.isLocalOrigin(addr)); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeEmpty(w, codes.Deleted)
}

func (s *Server) handleDeviceState(w coapmux.ResponseWriter, r *coapmux.Message) {
	if err := checkAccept(r); err != nil {
		s.writeError(w, err)
		return
	}

	id, err := deviceID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch r.Code() {
	case codes.GET:
		s.maybeObserve(w, r)

		state, err := s.registry.State(id)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, codes.Content, state)
	case codes.PUT:
		s.putDeviceState(w, r, id)
	default:
		s.writeError(w, errMethodNotAllowed())
	}
}

// putDeviceState applies a state write. Observer fan-out happens inside
// the registry notification, before this response is sent.
func (s *Server) putDeviceState(w coapmux.ResponseWriter, r *coapmux.Message, id int) {
	var body map[string]interface{}
	if err := readJSON(r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	if len(body) == 0 {
		s.writeError(w, apperr.New(apperr.KindBadRequest, "State body is empty"))
		return
	}

	addr, _ := origin(w)

	state, _, err := s.registry.WriteState(id, addr, body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, codes.Changed, state)
}

func (s *Server) handleDeviceType(w coapmux.ResponseWriter, r *coapmux.Message) {
	if err := checkAccept(r); err != nil {
		s.writeError(w, err)
		return
	}

	if r.Code() != codes.GET {
		s.writeError(w, errMethodNotAllowed())
		return
	}

	id, err := deviceID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	info, err := s.registry.TypeInfo(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, codes.Content, info)
}

func (s *Server) handleDeviceServices(w coapmux.ResponseWriter, r *coapmux.Message) {
	if err := checkAccept(r); err != nil {
		s.writeError(w, err)
		return
	}

	id, err := deviceID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch r.Code() {
	case codes.GET:
		s.maybeObserve(w, r)

		svcs, err := s.registry.DeviceServices(id)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, codes.Content, svcs)
	case codes.PUT:
		s.writeDeviceServices(w, r, id, s.registry.ReplaceDeviceServices)
	case codes.POST:
		s.writeDeviceServices(w, r, id, s.registry.AddDeviceServices)
	case codes.DELETE:
		s.deleteDeviceService(w, r, id)
	default:
		s.writeError(w, errMethodNotAllowed())
	}
}

// writeDeviceServices handles both replace (PUT) and union (POST); the
// two differ only in the registry call.
func (s *Server) writeDeviceServices(
	w coapmux.ResponseWriter,
	r *coapmux.Message,
	id int,
	apply func(int, []int) (models.DeviceServices, error),
) {
	var body struct {
		Services []int `json:"services"`
	}

	if err := readJSON(r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	if body.Services == nil {
		s.writeError(w, apperr.New(apperr.KindBadRequest,
			"Request json body does not contain field (services)"))
		return
	}

	svcs, err := apply(id, body.Services)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if payload, merr := marshalPayload(svcs); merr == nil {
		s.obs.notifyAll(devicePath(id)+"/services", payload)
	}

	s.writeJSON(w, codes.Changed, svcs)
}

func (s *Server) deleteDeviceService(w coapmux.ResponseWriter, r *coapmux.Message, id int) {
	raw, ok := queries(r)["id"]
	if !ok || raw == "" {
		s.writeError(w, apperr.New(apperr.KindBadRequest, "Missing query parameter (id)"))
		return
	}

	serviceID, err := strconv.Atoi(raw)
	if err != nil {
		s.writeError(w, apperr.Newf(apperr.KindBadRequest, "Invalid service id (%s)", raw))
		return
	}

	svcs, err := s.registry.RemoveDeviceService(id, serviceID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if payload, merr := marshalPayload(svcs); merr == nil {
		s.obs.notifyAll(devicePath(id)+"/services", payload)
	}

	s.writeJSON(w, codes.Changed, svcs)
}
