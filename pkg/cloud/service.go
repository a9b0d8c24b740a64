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

package cloud

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/models"
	"github.com/openhs/homeserver/pkg/registry"
)

const (
	heartbeatInterval = 10 * time.Second
	maxPushRetries    = 3
)

// deviceSyncer is the slice of the registry the sync service needs.
type deviceSyncer interface {
	AddListener(l registry.Listener)
	SetUniversalID(id int, universalID string)
	UniversalID(id int) string
}

// Sync mirrors registry changes to the cloud and keeps the heartbeat
// going. All cloud traffic runs off the device request path: events
// arrive on detached goroutines and every push retries with exponential
// backoff before giving up.
type Sync struct {
	client   *Client
	registry deviceSyncer
	serverID string
	log      logger.Logger
}

// NewSync wires the service; Run starts the traffic.
func NewSync(client *Client, reg deviceSyncer, serverID string, log logger.Logger) *Sync {
	return &Sync{client: client, registry: reg, serverID: serverID, log: log}
}

// Run subscribes to registry events and heartbeats until ctx is done.
func (s *Sync) Run(ctx context.Context) {
	s.registry.AddListener(func(evt registry.Event) {
		s.handleEvent(ctx, evt)
	})

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.client.Heartbeat(ctx, s.serverID); err != nil {
				s.log.Warn().Err(err).Msg("Cloud heartbeat failed")
			}
		}
	}
}

func (s *Sync) handleEvent(ctx context.Context, evt registry.Event) {
	switch evt.Type {
	case registry.EventRegistered:
		s.pushRegistration(ctx, evt.Info)
	case registry.EventUnregistered:
		s.pushRemoval(ctx, evt.Info)
	case registry.EventStateReported:
		s.pushState(ctx, evt.Info, evt.State)
	case registry.EventStateDesired:
		// Target-state changes flow cloud-to-gateway, not back up.
	}
}

func (s *Sync) pushRegistration(ctx context.Context, info models.DeviceInfo) {
	var universalID string

	err := s.retry(ctx, func() error {
		uid, err := s.client.RegisterDevice(ctx, s.serverID, info)
		if err != nil {
			return err
		}

		universalID = uid

		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Int("local_id", info.LocalID).
			Msg("Cloud device registration failed")
		return
	}

	s.registry.SetUniversalID(info.LocalID, universalID)

	s.log.Info().Int("local_id", info.LocalID).Str("universal_id", universalID).
		Msg("Device registered on cloud")
}

func (s *Sync) pushRemoval(ctx context.Context, info models.DeviceInfo) {
	uid := info.UniversalID
	if uid == "" {
		return
	}

	err := s.retry(ctx, func() error {
		return s.client.UnregisterDevice(ctx, uid)
	})
	if err != nil {
		s.log.Error().Err(err).Str("universal_id", uid).
			Msg("Cloud device removal failed")
	}
}

func (s *Sync) pushState(ctx context.Context, info models.DeviceInfo, state models.DeviceState) {
	uid := s.registry.UniversalID(info.LocalID)
	if uid == "" {
		return
	}

	err := s.retry(ctx, func() error {
		return s.client.NotifyState(ctx, uid, SimplifyState(state.CurrentState))
	})
	if err != nil {
		s.log.Warn().Err(err).Str("universal_id", uid).
			Msg("Cloud state notification failed")
	}
}

func (s *Sync) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxPushRetries), ctx)

	return backoff.Retry(op, policy)
}

// SimplifyState projects state slots onto the {"name": value} shape the
// cloud and shadow APIs use.
func SimplifyState(slots []models.StateSlot) models.SimplifiedState {
	out := make(models.SimplifiedState, len(slots))

	for _, slot := range slots {
		out[slot.Name] = slot.Value
	}

	return out
}
