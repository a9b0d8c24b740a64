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

package apperr

import (
	"fmt"
	"net/http"

	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// coapToHTTP is the forward translation table. Success codes collapse onto
// 200/201; CoAPToHTTP falls back to 500 for anything unlisted.
var coapToHTTP = map[codes.Code]int{
	codes.Created:              http.StatusCreated,
	codes.Deleted:              http.StatusOK,
	codes.Valid:                http.StatusOK,
	codes.Changed:              http.StatusOK,
	codes.Content:              http.StatusOK,
	codes.BadRequest:           http.StatusBadRequest,
	codes.Unauthorized:         http.StatusUnauthorized,
	codes.Forbidden:            http.StatusForbidden,
	codes.NotFound:             http.StatusNotFound,
	codes.MethodNotAllowed:     http.StatusMethodNotAllowed,
	codes.NotAcceptable:        http.StatusNotAcceptable,
	codes.UnsupportedMediaType: http.StatusUnsupportedMediaType,
	codes.InternalServerError:  http.StatusInternalServerError,
	codes.BadGateway:           http.StatusBadGateway,
	codes.ServiceUnavailable:   http.StatusServiceUnavailable,
	codes.GatewayTimeout:       http.StatusGatewayTimeout,
}

// httpToCoAP is the reverse table. It is chosen so that
// HTTPToCoAP(CoAPToHTTP(c)) is the identity on the codes the gateway
// emits: 200 maps back to Content.
var httpToCoAP = map[int]codes.Code{
	http.StatusOK:                   codes.Content,
	http.StatusCreated:              codes.Created,
	http.StatusBadRequest:           codes.BadRequest,
	http.StatusUnauthorized:         codes.Unauthorized,
	http.StatusForbidden:            codes.Forbidden,
	http.StatusNotFound:             codes.NotFound,
	http.StatusMethodNotAllowed:     codes.MethodNotAllowed,
	http.StatusNotAcceptable:        codes.NotAcceptable,
	http.StatusUnsupportedMediaType: codes.UnsupportedMediaType,
	http.StatusInternalServerError:  codes.InternalServerError,
	http.StatusBadGateway:           codes.BadGateway,
	http.StatusServiceUnavailable:   codes.ServiceUnavailable,
	http.StatusGatewayTimeout:       codes.GatewayTimeout,
}

// CoAPToHTTP converts a CoAP response code to its HTTP equivalent.
func CoAPToHTTP(code codes.Code) int {
	if h, ok := coapToHTTP[code]; ok {
		return h
	}

	return http.StatusInternalServerError
}

// HTTPToCoAP converts an HTTP status to its CoAP equivalent.
func HTTPToCoAP(status int) codes.Code {
	if c, ok := httpToCoAP[status]; ok {
		return c
	}

	return codes.InternalServerError
}

// StatusLine renders a CoAP code in its dotted class.detail form, e.g.
// 4.04 for NotFound.
func StatusLine(code codes.Code) string {
	return fmt.Sprintf("%d.%02d", code>>5, uint8(code)&0x1f)
}

// IsCoAPError reports whether code belongs to a CoAP error class (4.xx or
// 5.xx).
func IsCoAPError(code codes.Code) bool {
	return code >= codes.BadRequest
}
