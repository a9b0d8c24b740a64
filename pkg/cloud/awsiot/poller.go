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

package awsiot

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/openhs/homeserver/pkg/cloud"
	"github.com/openhs/homeserver/pkg/coapclient"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/models"
	"github.com/openhs/homeserver/pkg/registry"
)

const pollInterval = 5 * time.Second

// statePutter forwards a shadow delta onto the gateway's own CoAP core;
// coapclient.Client implements it.
type statePutter interface {
	Put(ctx context.Context, path string, payload []byte) (*coapclient.Response, error)
}

// Poller is the cloud-to-gateway direction of the shadow sync. Every
// tick it reads each device's shadow and forwards desired values the
// shadow changed since the previous tick as a regular client write, so
// the usual validation, access control and device notification apply.
// Comparing against the last observed shadow rather than the gateway's
// live target keeps a stale shadow from reverting a newer local write.
type Poller struct {
	publisher *Publisher
	registry  *registry.Registry
	coap      statePutter
	log       logger.Logger

	// seen holds the last shadow desired observed per device. Only the
	// Run goroutine touches it.
	seen map[int]models.SimplifiedState
}

// NewPoller wires the reverse path.
func NewPoller(publisher *Publisher, reg *registry.Registry, coap statePutter, log logger.Logger) *Poller {
	return &Poller{
		publisher: publisher,
		registry:  reg,
		coap:      coap,
		log:       log,
		seen:      make(map[int]models.SimplifiedState),
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Poller) sweep(ctx context.Context) {
	ids := p.registry.IDs()

	live := make(map[int]struct{}, len(ids))

	for _, id := range ids {
		live[id] = struct{}{}

		if err := p.syncDevice(ctx, id); err != nil {
			p.log.Debug().Err(err).Int("local_id", id).Msg("Shadow poll skipped")
		}
	}

	for id := range p.seen {
		if _, ok := live[id]; !ok {
			delete(p.seen, id)
		}
	}
}

func (p *Poller) syncDevice(ctx context.Context, id int) error {
	info, err := p.registry.Get(id)
	if err != nil {
		return err
	}

	state, err := p.registry.State(id)
	if err != nil {
		return err
	}

	shadow, err := p.publisher.Shadow(ctx, ThingName(info.Name, id))
	if err != nil {
		return err
	}

	// An unchanged shadow carries no new cloud command: any divergence
	// from the gateway's target then comes from a local write the shadow
	// push has not caught up with yet, and must not be reverted.
	if last, ok := p.seen[id]; ok && reflect.DeepEqual(last, shadow.Desired) {
		return nil
	}

	delta := desiredDelta(cloud.SimplifyState(state.DesiredState), shadow.Desired)
	if len(delta) == 0 {
		p.seen[id] = shadow.Desired
		return nil
	}

	payload, err := json.Marshal(delta)
	if err != nil {
		return err
	}

	resp, err := p.coap.Put(ctx, fmt.Sprintf("/devices/%d/state", id), payload)
	if err != nil {
		// Not recorded as seen: the write retries on the next tick.
		return err
	}

	p.seen[id] = shadow.Desired

	if resp.IsError() {
		p.log.Warn().Int("local_id", id).Str("code", resp.Code.String()).
			Msg("Shadow desired write rejected by gateway")
	}

	return nil
}

// desiredDelta picks the shadow values that differ from the gateway's
// target state. Properties the gateway does not know stay untouched;
// the state write would reject them anyway.
func desiredDelta(current, shadow models.SimplifiedState) models.SimplifiedState {
	delta := make(models.SimplifiedState)

	for name, shadowValue := range shadow {
		localValue, known := current[name]
		if !known {
			continue
		}

		if !reflect.DeepEqual(localValue, shadowValue) {
			delta[name] = shadowValue
		}
	}

	return delta
}
