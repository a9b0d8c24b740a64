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

// Package cloud speaks the proprietary cloud REST API: server and device
// registration, state notifications and the heartbeat.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/openhs/homeserver/pkg/apperr"
	"github.com/openhs/homeserver/pkg/logger"
)

const sessionTimeout = 15 * time.Second

// Session is an authenticated cloud HTTP session. The cloud is a Django
// API: every mutating request needs the csrftoken cookie obtained from a
// HEAD on the login page, echoed back in the X-CSRFToken header, plus
// basic auth.
type Session struct {
	baseURL  string
	email    string
	password string
	client   *http.Client
	log      logger.Logger

	mu        sync.Mutex
	csrfToken string
}

// NewSession creates a session against baseURL. No network traffic
// happens until the first request.
func NewSession(baseURL, email, password string, log logger.Logger) *Session {
	jar, _ := cookiejar.New(nil)

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return &Session{
		baseURL:  baseURL,
		email:    email,
		password: password,
		client:   &http.Client{Jar: jar, Timeout: sessionTimeout},
		log:      log,
	}
}

// ensureCSRF fetches the csrftoken cookie once per session.
func (s *Session) ensureCSRF(ctx context.Context) error {
	s.mu.Lock()
	token := s.csrfToken
	s.mu.Unlock()

	if token != "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.baseURL+"login/", nil)
	if err != nil {
		return apperr.Newf(apperr.KindInternal, "cloud login request: %v", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return apperr.New(apperr.KindCloudUnavailable,
			"No connection to the internet or the cloud server is down")
	}
	defer resp.Body.Close()

	for _, c := range resp.Cookies() {
		if c.Name == "csrftoken" {
			s.mu.Lock()
			s.csrfToken = c.Value
			s.mu.Unlock()

			return nil
		}
	}

	return apperr.New(apperr.KindCloudUnavailable, "Cloud login did not provide a CSRF token")
}

// Do issues one authenticated JSON request against the cloud API. path
// is relative to the base URL. A nil body sends no payload.
func (s *Session) Do(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	if err := s.ensureCSRF(ctx); err != nil {
		return 0, nil, err
	}

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, apperr.Newf(apperr.KindInternal, "cloud request encode: %v", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, nil, apperr.Newf(apperr.KindInternal, "cloud request: %v", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	s.mu.Lock()
	req.Header.Set("X-CSRFToken", s.csrfToken)
	s.mu.Unlock()

	req.SetBasicAuth(s.email, s.password)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, apperr.New(apperr.KindCloudUnavailable,
			"No connection to the internet or the cloud server is down")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, apperr.Newf(apperr.KindCloudUnavailable,
			"cloud response read: %v", err)
	}

	return resp.StatusCode, data, nil
}
