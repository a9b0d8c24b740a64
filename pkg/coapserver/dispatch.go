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
	"bytes"
	"encoding/json"
	"net"
	"strconv"
	"strings"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	coapmux "github.com/plgd-dev/go-coap/v3/mux"

	"github.com/openhs/homeserver/pkg/apperr"
	"github.com/openhs/homeserver/pkg/models"
)

// catalogAPI is the slice of the type catalog the resource tree needs.
type catalogAPI interface {
	Document(kind models.CatalogKind) (interface{}, error)
	Replace(kind models.CatalogKind, raw json.RawMessage) error
	ServicesDocument() models.ServicesFile
	ReplaceServices(list []models.ServiceDef) error
}

// origin splits the request source into address and port. CoAP identity
// is address-based, so this is what ownership checks key on.
func origin(w coapmux.ResponseWriter) (string, int) {
	remote := w.Conn().RemoteAddr()
	if remote == nil {
		return "", 0
	}

	host, portStr, err := net.SplitHostPort(remote.String())
	if err != nil {
		return remote.String(), 0
	}

	port, _ := strconv.Atoi(portStr)

	return host, port
}

// isLocalOrigin reports whether the request came from this host, which
// in practice means it was relayed by the HTTP proxy for a local client
// or the cloud.
func (s *Server) isLocalOrigin(addr string) bool {
	return addr == s.settings.ProxyAddr || addr == s.settings.CoAPAddr || addr == "127.0.0.1"
}

// checkAccept rejects requests that negotiate anything but JSON.
func checkAccept(r *coapmux.Message) error {
	accept, err := r.Options().GetUint32(message.Accept)
	if err != nil {
		// No Accept option; JSON is the default representation.
		return nil
	}

	if message.MediaType(accept) != message.AppJSON {
		return apperr.New(apperr.KindNotAcceptable, "Only application/json representations are supported")
	}

	return nil
}

// readJSON decodes a request body, enforcing the JSON content format.
func readJSON(r *coapmux.Message, v interface{}) error {
	cf, err := r.Options().GetUint32(message.ContentFormat)
	if err != nil || message.MediaType(cf) != message.AppJSON {
		return apperr.New(apperr.KindUnsupportedMediaType, "Request body must be application/json")
	}

	body, err := r.ReadBody()
	if err != nil || len(body) == 0 {
		return apperr.New(apperr.KindBadRequest, "Request body is empty")
	}

	if err := json.Unmarshal(body, v); err != nil {
		return apperr.Newf(apperr.KindBadRequest, "Malformed json body: %v", err)
	}

	return nil
}

// queries flattens the URI-Query options into a map.
func queries(r *coapmux.Message) map[string]string {
	out := make(map[string]string)

	qs, err := r.Queries()
	if err != nil {
		return out
	}

	for _, q := range qs {
		if k, v, ok := strings.Cut(q, "="); ok {
			out[k] = v
		} else {
			out[q] = ""
		}
	}

	return out
}

// pathVar reads one router variable, e.g. the device id.
func pathVar(r *coapmux.Message, name string) string {
	if r.RouteParams == nil {
		return ""
	}

	return r.RouteParams.Vars[name]
}

func deviceID(r *coapmux.Message) (int, error) {
	raw := pathVar(r, "id")

	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Newf(apperr.KindNotFound, "Device with id (%s) not found", raw)
	}

	return id, nil
}

// requestPath returns the normalized resource path of the request.
func requestPath(r *coapmux.Message) string {
	p, err := r.Options().Path()
	if err != nil {
		return "/"
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return p
}

// maybeObserve processes the Observe option on a GET, registering or
// cancelling the observation relationship.
func (s *Server) maybeObserve(w coapmux.ResponseWriter, r *coapmux.Message) {
	if r.Code() != codes.GET {
		return
	}

	obs, err := r.Observe()
	if err != nil {
		return
	}

	path := requestPath(r)
	addr, _ := origin(w)

	switch obs {
	case 0:
		s.obs.register(path, addr, w.Conn(), r.Token())
	case 1:
		s.obs.deregister(path, r.Token())
	}
}

func marshalPayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// writeJSON answers with a JSON payload.
func (s *Server) writeJSON(w coapmux.ResponseWriter, code codes.Code, v interface{}) {
	payload, err := marshalPayload(v)
	if err != nil {
		s.writeError(w, apperr.Newf(apperr.KindInternal, "Failed to encode response: %v", err))
		return
	}

	if err := w.SetResponse(code, message.AppJSON, bytes.NewReader(payload)); err != nil {
		s.log.Error().Err(err).Msg("Failed to write CoAP response")
	}
}

// writeEmpty answers without a payload, e.g. 2.02 Deleted.
func (s *Server) writeEmpty(w coapmux.ResponseWriter, code codes.Code) {
	if err := w.SetResponse(code, message.TextPlain, bytes.NewReader(nil)); err != nil {
		s.log.Error().Err(err).Msg("Failed to write CoAP response")
	}
}

// writeError answers with the JSON failure envelope. error_code carries
// the HTTP equivalent so the proxy can relay it untranslated, and
// status_line carries the CoAP class.
func (s *Server) writeError(w coapmux.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	coapCode := kind.CoAPCode()

	body := models.ErrorBody{
		ErrorCode:  apperr.CoAPToHTTP(coapCode),
		ErrorMsg:   err.Error(),
		StatusLine: apperr.StatusLine(coapCode),
	}

	payload, merr := marshalPayload(body)
	if merr != nil {
		payload = nil
	}

	if werr := w.SetResponse(coapCode, message.AppJSON, bytes.NewReader(payload)); werr != nil {
		s.log.Error().Err(werr).Msg("Failed to write CoAP error response")
	}
}

func errMethodNotAllowed() error {
	return apperr.New(apperr.KindMethodNotAllowed, "Method not allowed on this resource")
}
