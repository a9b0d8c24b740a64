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

package registry

import "github.com/openhs/homeserver/pkg/models"

// EventType classifies a registry change.
type EventType int

const (
	// EventRegistered fires after a device is created.
	EventRegistered EventType = iota
	// EventUnregistered fires after a device is removed, whether by
	// request or by eviction.
	EventUnregistered
	// EventStateReported fires when the device itself wrote its state.
	EventStateReported
	// EventStateDesired fires when a client wrote the target state.
	EventStateDesired
)

// Event describes one registry change. Info and State are snapshots taken
// under the registry mutex; listeners may hold them freely.
type Event struct {
	Type  EventType
	Info  models.DeviceInfo
	State models.DeviceState
}

// Listener receives registry events. Each invocation runs on its own
// goroutine so a slow cloud push never blocks a device request.
type Listener func(Event)

// AddListener registers a listener for subsequent events.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, l)
}

// AddSyncListener registers a listener that runs inline while the event
// is emitted, before the triggering request is answered. Sync listeners
// run with the registry mutex held and must work only from the event
// snapshots, never calling back into the registry.
func (r *Registry) AddSyncListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.syncListeners = append(r.syncListeners, l)
}

// notify must be called with r.mu held; async dispatch is detached.
func (r *Registry) notify(evt Event) {
	for _, l := range r.syncListeners {
		l(evt)
	}

	for _, l := range r.listeners {
		go l(evt)
	}
}
