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

// Package apperr defines the gateway's error kinds and their mapping onto
// CoAP and HTTP response codes.
package apperr

import (
	"errors"
	"fmt"

	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// Kind categorizes a gateway failure.
type Kind int

const (
	KindBadRequest Kind = iota
	KindForbidden
	KindNotFound
	KindNotAcceptable
	KindUnsupportedMediaType
	KindMethodNotAllowed
	KindConflict
	KindTimeout
	KindBadGateway
	KindUnknownType
	KindCloudUnavailable
	KindInternal
)

// Error is a categorized gateway error. Msg is user-visible; it ends up in
// the JSON failure envelope.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// New creates a categorized error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a categorized error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// CoAPCode maps an error kind to its CoAP response code.
func (k Kind) CoAPCode() codes.Code {
	switch k {
	case KindBadRequest, KindConflict, KindUnknownType:
		return codes.BadRequest
	case KindForbidden:
		return codes.Forbidden
	case KindNotFound:
		return codes.NotFound
	case KindNotAcceptable:
		return codes.NotAcceptable
	case KindUnsupportedMediaType:
		return codes.UnsupportedMediaType
	case KindMethodNotAllowed:
		return codes.MethodNotAllowed
	case KindTimeout:
		return codes.GatewayTimeout
	case KindBadGateway:
		return codes.BadGateway
	case KindCloudUnavailable:
		return codes.ServiceUnavailable
	case KindInternal:
		return codes.InternalServerError
	}

	return codes.InternalServerError
}
