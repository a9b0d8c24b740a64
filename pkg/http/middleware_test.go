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

package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openhs/homeserver/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequestLogMiddlewareGeneratesRequestID(t *testing.T) {
	handler := RequestLogMiddleware(logger.NewTestLogger())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestLogMiddlewareKeepsClientRequestID(t *testing.T) {
	handler := RequestLogMiddleware(logger.NewTestLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	req.Header.Set(RequestIDHeader, "client-id-1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "client-id-1", rec.Header().Get(RequestIDHeader))
}

func TestRequestLogMiddlewareLogsAtInfoLevel(t *testing.T) {
	// An info-level logger is the default configuration; the request line
	// must survive it.
	var buf bytes.Buffer
	handler := RequestLogMiddleware(logger.NewTestLoggerWithOutput(&buf))(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices/3", nil))

	out := buf.String()
	assert.Contains(t, out, `"message":"Proxy request"`)
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"path":"/devices/3"`)
}

func TestCommonMiddlewareSetsCORSHeaders(t *testing.T) {
	handler := CommonMiddleware(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCommonMiddlewareAnswersPreflight(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) { called = true })

	rec := httptest.NewRecorder()
	CommonMiddleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/devices", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, called, "preflight must not reach the handler")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}
