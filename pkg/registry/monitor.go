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

import (
	"context"
	"time"
)

const monitorTick = 1 * time.Second

// Prober checks a device for liveness, typically with a CoAP GET / against
// the device endpoint.
type Prober interface {
	Probe(ctx context.Context, address string, port int) error
}

// Monitor evicts devices that stay silent past their timeout. Every tick
// it scans the device set; a device whose last access is older than its
// timeout gets one probe, and a failed probe marks it for deletion.
// Marked devices are removed after the iteration so the set is never
// mutated during traversal.
type Monitor struct {
	registry     *Registry
	prober       Prober
	probeTimeout time.Duration
}

// NewMonitor creates the liveness monitor. probeTimeout bounds each probe
// round trip; it is further capped by the device's own timeout.
func NewMonitor(r *Registry, prober Prober, probeTimeout time.Duration) *Monitor {
	return &Monitor{registry: r, prober: prober, probeTimeout: probeTimeout}
}

// Run loops until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(monitorTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// candidate is a device that exceeded its timeout; probed outside the
// registry mutex.
type candidate struct {
	id      int
	address string
	port    int
	timeout time.Duration
}

func (m *Monitor) sweep(ctx context.Context) {
	r := m.registry

	r.mu.Lock()

	now := r.now()
	candidates := make([]candidate, 0)

	for _, d := range r.devices {
		if now.Sub(d.LastAccess) > d.Timeout {
			candidates = append(candidates, candidate{
				id:      d.LocalID,
				address: d.Address,
				port:    d.Port,
				timeout: d.Timeout,
			})
		}
	}

	r.mu.Unlock()

	marked := make([]int, 0, len(candidates))

	for _, c := range candidates {
		probeTimeout := m.probeTimeout
		if c.timeout > 0 && c.timeout < probeTimeout {
			probeTimeout = c.timeout
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := m.prober.Probe(probeCtx, c.address, c.port)

		cancel()

		if err != nil {
			r.log.Warn().
				Int("local_id", c.id).
				Str("address", c.address).
				Err(err).
				Msg("Device unreachable, evicting")

			marked = append(marked, c.id)

			continue
		}

		r.Touch(c.address)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range marked {
		if d, ok := r.devices[id]; ok {
			r.removeLocked(d)
		}
	}
}
