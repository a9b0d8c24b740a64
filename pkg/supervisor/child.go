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

// Package supervisor runs the gateway processes: it spawns the CoAP core
// and the proxy, restarts them when they die, and answers the control
// socket the homeserver CLI talks to.
package supervisor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/openhs/homeserver/pkg/logger"
)

// ExitNoRestart is the exit code a child uses to refuse resurrection,
// e.g. when mandatory cloud registration failed and retrying would just
// fail again.
const ExitNoRestart = 4

// ErrNoRestart is returned by Run when the process exited with
// ExitNoRestart. The supervisor treats it as a shutdown request for the
// whole process group.
var ErrNoRestart = errors.New("process asked not to be restarted")

// stableUptime is how long a child must live for its crash counter to
// reset.
const stableUptime = time.Minute

// ChildState is the lifecycle phase of a supervised process.
type ChildState int

const (
	StateStarting ChildState = iota
	StateRunning
	StateExited
	StateTerminated
)

func (s ChildState) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "UP"
	case StateExited:
		return "DOWN"
	case StateTerminated:
		return "TERMINATED"
	}

	return "UNKNOWN"
}

// Child is one supervised gateway process.
type Child struct {
	name   string
	binary string
	args   []string
	log    logger.Logger

	mu          sync.Mutex
	cmd         *exec.Cmd
	state       ChildState
	pid         int
	terminating bool
}

// NewChild describes a process to supervise; Run starts it.
func NewChild(name, binary string, args []string, log logger.Logger) *Child {
	return &Child{
		name:   name,
		binary: binary,
		args:   args,
		state:  StateStarting,
		log:    log,
	}
}

// Name returns the child's display name.
func (c *Child) Name() string { return c.name }

// Status returns the current lifecycle phase and pid (0 when down).
func (c *Child) Status() (ChildState, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state, c.pid
}

// Run keeps the process alive until ctx is done. A crash restarts it
// with exponential backoff; a clean run longer than a minute resets the
// backoff. Exit code 4 means the child refuses to be restarted: Run
// returns ErrNoRestart so the supervisor can take everything down.
func (c *Child) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0

	for {
		started := time.Now()
		err := c.runOnce(ctx)

		if ctx.Err() != nil || c.isTerminating() {
			c.setState(StateTerminated)
			return nil
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == ExitNoRestart {
			c.setState(StateExited)
			c.log.Error().Str("child", c.name).
				Msg("Process asked not to be restarted, giving up")

			return ErrNoRestart
		}

		c.setState(StateExited)

		if time.Since(started) > stableUptime {
			policy.Reset()
		}

		wait := policy.NextBackOff()

		c.log.Warn().Str("child", c.name).Err(err).Dur("restart_in", wait).
			Msg("Process died, restarting")

		select {
		case <-ctx.Done():
			c.setState(StateTerminated)
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Child) runOnce(ctx context.Context) error {
	cmd := exec.Command(c.binary, c.args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return err
	}

	c.mu.Lock()
	c.cmd = cmd
	c.pid = cmd.Process.Pid
	c.state = StateRunning
	c.mu.Unlock()

	c.log.Info().Str("child", c.name).Int("pid", cmd.Process.Pid).Msg("Process started")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		c.Terminate()
		return <-done
	case err := <-done:
		c.mu.Lock()
		c.pid = 0
		c.mu.Unlock()

		return err
	}
}

// Terminate asks the process to exit with SIGTERM. The child will not
// be restarted afterwards.
func (c *Child) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.terminating = true

	if c.cmd != nil && c.cmd.Process != nil && c.pid != 0 {
		if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			c.log.Warn().Str("child", c.name).Err(err).Msg("Failed to signal process")
		}
	}
}

func (c *Child) isTerminating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.terminating
}

func (c *Child) setState(s ChildState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = s
}
