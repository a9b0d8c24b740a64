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

	"github.com/openhs/homeserver/pkg/cloud"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/registry"
)

// Sync keeps AWS IoT in step with the registry: things track device
// lifecycle and shadows track both state sequences.
type Sync struct {
	publisher *Publisher
	registry  *registry.Registry
	log       logger.Logger
}

// NewSync wires the bridge; Run starts the traffic.
func NewSync(publisher *Publisher, reg *registry.Registry, log logger.Logger) *Sync {
	return &Sync{publisher: publisher, registry: reg, log: log}
}

// Run subscribes to registry events until ctx is done.
func (s *Sync) Run(ctx context.Context) {
	s.registry.AddListener(func(evt registry.Event) {
		s.handleEvent(ctx, evt)
	})

	<-ctx.Done()
}

func (s *Sync) handleEvent(ctx context.Context, evt registry.Event) {
	name := ThingName(evt.Info.Name, evt.Info.LocalID)
	desired := cloud.SimplifyState(evt.State.DesiredState)
	reported := cloud.SimplifyState(evt.State.CurrentState)

	var err error

	switch evt.Type {
	case registry.EventRegistered:
		err = s.publisher.RegisterThing(ctx, name, desired, reported)
	case registry.EventUnregistered:
		err = s.publisher.UnregisterThing(ctx, name)
	case registry.EventStateReported, registry.EventStateDesired:
		err = s.publisher.NotifyShadow(ctx, name, desired, reported)
	}

	if err != nil {
		s.log.Warn().Err(err).Str("thing", name).Msg("AWS IoT sync failed")
	}
}
