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

// homeserver is the gateway control command. It starts the supervisor
// that runs the CoAP core and the proxy, and talks to a running
// supervisor over its unix control socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/openhs/homeserver/pkg/config"
	"github.com/openhs/homeserver/pkg/logger"
	"github.com/openhs/homeserver/pkg/supervisor"
)

func usage() {
	fmt.Fprintf(os.Stderr, "\nUsage: homeserver <option>\n\n")
	fmt.Fprintf(os.Stderr, "Option must be one of the following:\n")
	fmt.Fprintf(os.Stderr, "\t-u or --up   -> Start the Home Server\n")
	fmt.Fprintf(os.Stderr, "\t-d or --down -> Shut the Home Server down\n")
	fmt.Fprintf(os.Stderr, "\t-s or --stat -> Get the Home Server status\n\n")
}

func main() {
	var up, down, stat, foreground bool

	flag.BoolVar(&up, "u", false, "start the Home Server")
	flag.BoolVar(&up, "up", false, "start the Home Server")
	flag.BoolVar(&down, "d", false, "shut the Home Server down")
	flag.BoolVar(&down, "down", false, "shut the Home Server down")
	flag.BoolVar(&stat, "s", false, "get the Home Server status")
	flag.BoolVar(&stat, "stat", false, "get the Home Server status")
	flag.BoolVar(&foreground, "foreground", false, "run the supervisor in the foreground")
	flag.Usage = usage
	flag.Parse()

	settings := config.LoadSettings()
	socketPath := settings.ControlSocketPath()

	switch {
	case foreground:
		if err := runSupervisor(socketPath); err != nil {
			log.Fatalf("Fatal error: %v", err)
		}
	case up:
		os.Exit(startServer(socketPath))
	case down:
		os.Exit(stopServer(socketPath))
	case stat:
		os.Exit(statusServer(socketPath))
	default:
		usage()
		os.Exit(2)
	}
}

// runSupervisor is the long-lived side of the control socket: it spawns
// the CoAP core and the proxy and keeps them alive.
func runSupervisor(socketPath string) error {
	supLog, err := logger.NewComponentLogger(logger.DefaultConfig(), "supervisor")
	if err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	binDir := filepath.Dir(exe)

	children := []*supervisor.Child{
		supervisor.NewChild("CoAP Server", filepath.Join(binDir, "coapd"), nil, supLog),
		supervisor.NewChild("Proxy", filepath.Join(binDir, "proxy"), nil, supLog),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return supervisor.New(socketPath, supLog, children...).Run(ctx)
}

func startServer(socketPath string) int {
	if _, ok, _ := supervisor.SendCommand(socketPath, supervisor.CmdStat); ok {
		fmt.Println("ERROR: Home Server already running")
		return 1
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}

	fmt.Println("\nStarting Home Server...")

	cmd := exec.Command(exe, "-foreground")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}

	// The supervisor outlives this command.
	_ = cmd.Process.Release()

	fmt.Println("Home Server started successfully!")

	return 0
}

func stopServer(socketPath string) int {
	reply, ok, err := supervisor.SendCommand(socketPath, supervisor.CmdDown)
	if !ok {
		fmt.Println("ERROR: Home Server is not running")
		return 1
	}

	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}

	fmt.Println("\nShutting Home Server down...")

	if reply == supervisor.Ack {
		fmt.Println("Home Server is successfully down!")
	}

	return 0
}

func statusServer(socketPath string) int {
	reply, ok, err := supervisor.SendCommand(socketPath, supervisor.CmdStat)
	if !ok {
		fmt.Println("ERROR: Home Server is not running")
		return 1
	}

	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}

	fmt.Println("\nHome Server status:")
	fmt.Println(reply)

	return 0
}
