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
	"sync"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	coapmux "github.com/plgd-dev/go-coap/v3/mux"

	"github.com/openhs/homeserver/pkg/logger"
)

// observer is one RFC 7641 registration on a resource path.
type observer struct {
	conn  coapmux.Conn
	token message.Token
	addr  string
	seq   uint32
}

// observerTable tracks observations per resource path. Fan-out for a
// given path runs under the table mutex, which serializes notification
// per resource.
type observerTable struct {
	mu     sync.Mutex
	byPath map[string]map[string]*observer
	log    logger.Logger
}

func newObserverTable(log logger.Logger) *observerTable {
	return &observerTable{
		byPath: make(map[string]map[string]*observer),
		log:    log,
	}
}

func (t *observerTable) register(path, addr string, conn coapmux.Conn, token message.Token) {
	t.mu.Lock()
	defer t.mu.Unlock()

	obs := t.byPath[path]
	if obs == nil {
		obs = make(map[string]*observer)
		t.byPath[path] = obs
	}

	obs[token.String()] = &observer{conn: conn, token: token, addr: addr, seq: 2}

	t.log.Debug().Str("path", path).Str("addr", addr).Msg("Observer registered")
}

func (t *observerTable) deregister(path string, token message.Token) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if obs := t.byPath[path]; obs != nil {
		delete(obs, token.String())
	}
}

// dropPath removes every observer of a deleted resource.
func (t *observerTable) dropPath(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.byPath, path)
}

// notifyAll fans payload out to every observer of path.
func (t *observerTable) notifyAll(path string, payload []byte) {
	t.notify(path, payload, func(string) bool { return true })
}

// notifyAllExcept skips the observer(s) at addr. Used for device reports:
// the device is not told about its own reading.
func (t *observerTable) notifyAllExcept(path, addr string, payload []byte) {
	t.notify(path, payload, func(observerAddr string) bool { return observerAddr != addr })
}

// notifyOnly reaches only the observer(s) at addr. Used for target-state
// changes: only the device needs its new target.
func (t *observerTable) notifyOnly(path, addr string, payload []byte) {
	t.notify(path, payload, func(observerAddr string) bool { return observerAddr == addr })
}

func (t *observerTable) notify(path string, payload []byte, include func(addr string) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	obs := t.byPath[path]
	if len(obs) == 0 {
		return
	}

	for key, o := range obs {
		if !include(o.addr) {
			continue
		}

		if err := t.send(o, payload); err != nil {
			t.log.Warn().Str("path", path).Str("addr", o.addr).Err(err).
				Msg("Observer notification failed, dropping observer")
			delete(obs, key)
		}
	}
}

func (t *observerTable) send(o *observer, payload []byte) error {
	m := o.conn.AcquireMessage(o.conn.Context())
	defer o.conn.ReleaseMessage(m)

	m.SetCode(codes.Content)
	m.SetToken(o.token)
	m.SetContentFormat(message.AppJSON)
	m.SetObserve(o.seq)
	m.SetBody(bytes.NewReader(payload))

	o.seq++

	return o.conn.WriteMessage(m)
}
