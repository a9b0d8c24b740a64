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

// proxy is the REST front of the gateway: it forwards HTTP requests onto
// the CoAP core and translates the responses back.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/openhs/homeserver/pkg/config"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/proxy"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	flag.Parse()

	settings := config.LoadSettings()

	proxyLog, err := logger.NewComponentLogger(logger.DefaultConfig(), "proxy")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return proxy.New(settings, proxyLog).Run(ctx)
}
