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

// Package awsiot mirrors devices into AWS IoT things and keeps their
// device shadows in step with the registry.
package awsiot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/iot"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"

	"github.com/openhs/homeserver/pkg/apperr"
	"github.com/openhs/homeserver/pkg/config"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/models"
)

// thingAPI is the control-plane slice the publisher uses.
type thingAPI interface {
	CreateThing(ctx context.Context, params *iot.CreateThingInput,
		optFns ...func(*iot.Options)) (*iot.CreateThingOutput, error)
	DeleteThing(ctx context.Context, params *iot.DeleteThingInput,
		optFns ...func(*iot.Options)) (*iot.DeleteThingOutput, error)
}

// shadowAPI is the data-plane slice the publisher uses.
type shadowAPI interface {
	UpdateThingShadow(ctx context.Context, params *iotdataplane.UpdateThingShadowInput,
		optFns ...func(*iotdataplane.Options)) (*iotdataplane.UpdateThingShadowOutput, error)
	GetThingShadow(ctx context.Context, params *iotdataplane.GetThingShadowInput,
		optFns ...func(*iotdataplane.Options)) (*iotdataplane.GetThingShadowOutput, error)
}

// Publisher talks to AWS IoT for thing lifecycle and shadow documents.
type Publisher struct {
	things  thingAPI
	shadows shadowAPI
	log     logger.Logger
}

// New builds the AWS clients from the gateway settings. Static
// credentials from the environment win over the default chain.
func New(ctx context.Context, settings *config.Settings, log logger.Logger) (*Publisher, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(settings.AWSRegion),
	}

	if settings.AWSAccessKeyID != "" && settings.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				settings.AWSAccessKeyID, settings.AWSSecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	return &Publisher{
		things:  iot.NewFromConfig(cfg),
		shadows: iotdataplane.NewFromConfig(cfg),
		log:     log,
	}, nil
}

// NewWithClients is the seam used by tests.
func NewWithClients(things thingAPI, shadows shadowAPI, log logger.Logger) *Publisher {
	return &Publisher{things: things, shadows: shadows, log: log}
}

// ThingName derives the AWS thing name of a device.
func ThingName(deviceName string, localID int) string {
	return fmt.Sprintf("%s-%d", deviceName, localID)
}

// RegisterThing creates the thing and seeds its shadow with the initial
// state. CreateThing is idempotent for an unchanged thing, so re-running
// after a gateway restart is safe.
func (p *Publisher) RegisterThing(ctx context.Context, name string, desired, reported models.SimplifiedState) error {
	if _, err := p.things.CreateThing(ctx, &iot.CreateThingInput{
		ThingName: aws.String(name),
	}); err != nil {
		return apperr.Newf(apperr.KindCloudUnavailable, "aws create thing (%s): %v", name, err)
	}

	return p.NotifyShadow(ctx, name, desired, reported)
}

// UnregisterThing removes the thing record.
func (p *Publisher) UnregisterThing(ctx context.Context, name string) error {
	if _, err := p.things.DeleteThing(ctx, &iot.DeleteThingInput{
		ThingName: aws.String(name),
	}); err != nil {
		return apperr.Newf(apperr.KindCloudUnavailable, "aws delete thing (%s): %v", name, err)
	}

	return nil
}

// NotifyShadow publishes both halves of the shadow document.
func (p *Publisher) NotifyShadow(ctx context.Context, name string, desired, reported models.SimplifiedState) error {
	doc := models.ShadowDocument{
		State: models.ShadowState{Desired: desired, Reported: reported},
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return apperr.Newf(apperr.KindInternal, "shadow document encode: %v", err)
	}

	if _, err := p.shadows.UpdateThingShadow(ctx, &iotdataplane.UpdateThingShadowInput{
		ThingName: aws.String(name),
		Payload:   payload,
	}); err != nil {
		return apperr.Newf(apperr.KindCloudUnavailable, "aws update shadow (%s): %v", name, err)
	}

	return nil
}

// Shadow fetches and decodes the current shadow document.
func (p *Publisher) Shadow(ctx context.Context, name string) (models.ShadowState, error) {
	out, err := p.shadows.GetThingShadow(ctx, &iotdataplane.GetThingShadowInput{
		ThingName: aws.String(name),
	})
	if err != nil {
		return models.ShadowState{}, apperr.Newf(apperr.KindCloudUnavailable,
			"aws get shadow (%s): %v", name, err)
	}

	var doc models.ShadowDocument
	if err := json.Unmarshal(out.Payload, &doc); err != nil {
		return models.ShadowState{}, apperr.Newf(apperr.KindCloudUnavailable,
			"shadow document decode (%s): %v", name, err)
	}

	return doc.State, nil
}
