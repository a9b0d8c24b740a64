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

// Package proxy is the REST face of the gateway. It forwards each HTTP
// request method-for-method to the CoAP core and translates the response
// code back, so local clients and the cloud never speak CoAP themselves.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/openhs/homeserver/pkg/apperr"
	"github.com/openhs/homeserver/pkg/coapclient"
	"github.com/openhs/homeserver/pkg/config"
	hsmiddleware "github.com/openhs/homeserver/pkg/http"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/models"
)

const shutdownGrace = 5 * time.Second

// forwarder is the CoAP round-trip seam; coapclient.Client implements it.
type forwarder interface {
	Get(ctx context.Context, path string, queries ...string) (*coapclient.Response, error)
	Post(ctx context.Context, path string, payload []byte) (*coapclient.Response, error)
	Put(ctx context.Context, path string, payload []byte) (*coapclient.Response, error)
	Delete(ctx context.Context, path string, queries ...string) (*coapclient.Response, error)
}

// Proxy relays REST traffic onto the CoAP core.
type Proxy struct {
	settings *config.Settings
	coap     forwarder
	router   *mux.Router
	log      logger.Logger
}

// New builds the proxy with its route table. The CoAP endpoint is the
// gateway's own core server.
func New(settings *config.Settings, log logger.Logger) *Proxy {
	return NewWithForwarder(settings,
		coapclient.New(settings.CoAPAddr, settings.CoAPPort, settings.CommTimeout), log)
}

// NewWithForwarder is the seam used by tests.
func NewWithForwarder(settings *config.Settings, coap forwarder, log logger.Logger) *Proxy {
	p := &Proxy{
		settings: settings,
		coap:     coap,
		router:   mux.NewRouter(),
		log:      log,
	}

	p.routes()

	return p
}

// The proxy's route table mirrors the CoAP resource tree one to one.
func (p *Proxy) routes() {
	r := p.router

	r.Use(hsmiddleware.CommonMiddleware)
	r.Use(hsmiddleware.RequestLogMiddleware(p.log))

	r.HandleFunc("/info", p.relay).Methods(http.MethodGet, http.MethodPut)
	r.HandleFunc("/services", p.relay).Methods(http.MethodGet, http.MethodPut)
	r.HandleFunc("/configs", p.relay).Methods(http.MethodGet, http.MethodPut)
	r.HandleFunc("/devices", p.relay).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/devices/{id}", p.relay).
		Methods(http.MethodGet, http.MethodPut, http.MethodDelete)
	r.HandleFunc("/devices/{id}/state", p.relay).Methods(http.MethodGet, http.MethodPut)
	r.HandleFunc("/devices/{id}/type", p.relay).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/services", p.relay).
		Methods(http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		p.writeError(w, http.StatusNotFound, "Resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		p.writeError(w, http.StatusMethodNotAllowed, "Method not allowed on this resource")
	})
}

// Handler exposes the route table, mainly for httptest.
func (p *Proxy) Handler() http.Handler { return p.router }

// Run serves HTTP until ctx is done.
func (p *Proxy) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", p.settings.ProxyAddr, p.settings.ProxyPort)

	srv := &http.Server{
		Addr:         addr,
		Handler:      p.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		p.log.Info().Str("addr", addr).Msg("Proxy listening")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("proxy serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// relay forwards one request to the CoAP core and writes the translated
// response back.
func (p *Proxy) relay(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	ctx := r.Context()

	var (
		resp *coapclient.Response
		err  error
	)

	switch r.Method {
	case http.MethodGet:
		resp, err = p.coap.Get(ctx, path, coapQueries(r)...)
	case http.MethodDelete:
		resp, err = p.coap.Delete(ctx, path, coapQueries(r)...)
	case http.MethodPost, http.MethodPut:
		body, berr := p.readJSONBody(r)
		if berr != nil {
			p.writeAppError(w, berr)
			return
		}

		if r.Method == http.MethodPost {
			resp, err = p.coap.Post(ctx, path, body)
		} else {
			resp, err = p.coap.Put(ctx, path, body)
		}
	default:
		p.writeError(w, http.StatusMethodNotAllowed, "Method not allowed on this resource")
		return
	}

	if err != nil {
		p.writeAppError(w, err)
		return
	}

	p.writeCoAPResponse(w, resp)
}

// readJSONBody enforces the JSON content type before the payload crosses
// onto the CoAP side.
func (p *Proxy) readJSONBody(r *http.Request) ([]byte, error) {
	ct := r.Header.Get("Content-Type")

	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "application/json" {
		return nil, apperr.New(apperr.KindUnsupportedMediaType, "Request body must be application/json")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperr.New(apperr.KindBadRequest, "Failed to read request body")
	}

	return body, nil
}

// writeCoAPResponse translates the upstream code and relays the payload.
// Upstream failures already carry the JSON envelope; the proxy re-emits
// it without the CoAP status line.
func (p *Proxy) writeCoAPResponse(w http.ResponseWriter, resp *coapclient.Response) {
	status := apperr.CoAPToHTTP(resp.Code)

	if resp.IsError() {
		msg := http.StatusText(status)

		var envelope models.ErrorBody
		if err := json.Unmarshal(resp.Payload, &envelope); err == nil && envelope.ErrorMsg != "" {
			msg = envelope.ErrorMsg
		}

		p.writeError(w, status, msg)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if len(resp.Payload) > 0 {
		_, _ = w.Write(resp.Payload)
	}
}

func (p *Proxy) writeAppError(w http.ResponseWriter, err error) {
	status := apperr.CoAPToHTTP(apperr.KindOf(err).CoAPCode())
	p.writeError(w, status, err.Error())
}

func (p *Proxy) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body, err := json.Marshal(models.ErrorBody{ErrorCode: status, ErrorMsg: msg})
	if err != nil {
		return
	}

	_, _ = w.Write(body)
}

// coapQueries carries the HTTP query string over as CoAP URI queries.
func coapQueries(r *http.Request) []string {
	raw := r.URL.RawQuery
	if raw == "" {
		return nil
	}

	return strings.Split(raw, "&")
}
