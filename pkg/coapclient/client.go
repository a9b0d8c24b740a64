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

// Package coapclient is a small helper client over go-coap. Every call
// dials a fresh connection and closes it when done; the request rate is
// low enough that connection reuse buys nothing and per-call dialing
// keeps the failure modes simple.
package coapclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpclient "github.com/plgd-dev/go-coap/v3/udp/client"

	"github.com/openhs/homeserver/pkg/apperr"
)

// DefaultTimeout bounds one round trip when the caller's context carries
// no deadline of its own.
const DefaultTimeout = 5 * time.Second

// Response is the subset of a CoAP response the gateway cares about.
type Response struct {
	Code    codes.Code
	Payload []byte
}

// IsError reports whether the response carries a CoAP error code.
func (r *Response) IsError() bool {
	return apperr.IsCoAPError(r.Code)
}

// Client issues requests against one CoAP endpoint.
type Client struct {
	host    string
	port    int
	timeout time.Duration
}

// New creates a client for host:port. A zero timeout uses DefaultTimeout.
func New(host string, port int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{host: host, port: port, timeout: timeout}
}

// Get performs a CoAP GET. Query strings are attached as URI-Query
// options.
func (c *Client) Get(ctx context.Context, path string, queries ...string) (*Response, error) {
	return c.roundTrip(ctx, func(ctx context.Context, conn *udpclient.Conn) (*pool.Message, error) {
		return conn.Get(ctx, path, queryOptions(queries)...)
	})
}

// Post performs a CoAP POST with a JSON payload.
func (c *Client) Post(ctx context.Context, path string, payload []byte) (*Response, error) {
	return c.roundTrip(ctx, func(ctx context.Context, conn *udpclient.Conn) (*pool.Message, error) {
		return conn.Post(ctx, path, message.AppJSON, bytes.NewReader(payload))
	})
}

// Put performs a CoAP PUT with a JSON payload.
func (c *Client) Put(ctx context.Context, path string, payload []byte) (*Response, error) {
	return c.roundTrip(ctx, func(ctx context.Context, conn *udpclient.Conn) (*pool.Message, error) {
		return conn.Put(ctx, path, message.AppJSON, bytes.NewReader(payload))
	})
}

// Delete performs a CoAP DELETE. Query strings are attached as URI-Query
// options.
func (c *Client) Delete(ctx context.Context, path string, queries ...string) (*Response, error) {
	return c.roundTrip(ctx, func(ctx context.Context, conn *udpclient.Conn) (*pool.Message, error) {
		return conn.Delete(ctx, path, queryOptions(queries)...)
	})
}

// Probe implements registry.Prober with a GET / against the device.
func (c *Client) Probe(ctx context.Context, address string, port int) error {
	if port <= 0 {
		port = 5683
	}

	probe := &Client{host: address, port: port, timeout: c.timeout}

	_, err := probe.Get(ctx, "/")

	return err
}

func (c *Client) roundTrip(
	ctx context.Context,
	do func(context.Context, *udpclient.Conn) (*pool.Message, error),
) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := udp.Dial(fmt.Sprintf("%s:%d", c.host, c.port))
	if err != nil {
		// A UDP dial fails locally (bad address, no route), not by
		// waiting on the peer.
		return nil, apperr.Newf(apperr.KindBadGateway, "CoAP dial to %s:%d failed: %v", c.host, c.port, err)
	}
	defer conn.Close()

	resp, err := do(ctx, conn)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Newf(apperr.KindTimeout, "CoAP request to %s:%d timed out", c.host, c.port)
		}

		return nil, apperr.Newf(apperr.KindBadGateway, "CoAP request to %s:%d failed: %v", c.host, c.port, err)
	}

	body, err := resp.ReadBody()
	if err != nil {
		body = nil
	}

	return &Response{Code: resp.Code(), Payload: body}, nil
}

func queryOptions(queries []string) []message.Option {
	opts := make([]message.Option, 0, len(queries))

	for _, q := range queries {
		opts = append(opts, message.Option{ID: message.URIQuery, Value: []byte(q)})
	}

	return opts
}
