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

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/openhs/homeserver/pkg/logger"
)

// Supervisor owns the gateway's child processes and the control socket.
type Supervisor struct {
	children   []*Child
	socketPath string
	log        logger.Logger

	cancel context.CancelFunc
}

// New creates a supervisor for the given children.
func New(socketPath string, log logger.Logger, children ...*Child) *Supervisor {
	return &Supervisor{children: children, socketPath: socketPath, log: log}
}

// Run starts the children and serves the control socket until ctx is
// done or a DOWN command arrives.
func (s *Supervisor) Run(ctx context.Context) error {
	// A stale socket from an unclean shutdown blocks the bind.
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("control socket cleanup: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("control socket listen: %w", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	var wg sync.WaitGroup

	for _, child := range s.children {
		wg.Add(1)

		go func(c *Child) {
			defer wg.Done()

			// A child refusing restart takes the whole group down,
			// same as a DOWN command over the socket.
			if err := c.Run(ctx); errors.Is(err, ErrNoRestart) {
				s.log.Error().Str("child", c.Name()).
					Msg("Child gave up, shutting down supervisor")
				s.cancel()
			}
		}(child)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.log.Info().Str("socket", s.socketPath).Msg("Supervisor control socket listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			break
		}

		s.handleConn(conn)
	}

	for _, child := range s.children {
		child.Terminate()
	}

	wg.Wait()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Msg("Failed to remove control socket")
	}

	s.log.Info().Msg("Supervisor stopped")

	return nil
}

// handleConn performs one command exchange. Connections are sequential;
// the CLI is the only client.
func (s *Supervisor) handleConn(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		return
	}

	switch buf[0] {
	case CmdDown:
		if err := writeMessage(conn, Ack); err != nil {
			s.log.Warn().Err(err).Msg("Failed to ack shutdown command")
		}

		s.log.Info().Msg("Shutdown requested over control socket")
		s.cancel()
	case CmdStat, CmdUp:
		if err := writeMessage(conn, s.statusReport()); err != nil {
			s.log.Warn().Err(err).Msg("Failed to send status report")
		}
	default:
		_ = writeMessage(conn, "unknown command")
	}
}

// statusReport renders one line per child with its state and, when
// running, pid plus cpu/memory usage.
func (s *Supervisor) statusReport() string {
	lines := make([]string, 0, len(s.children))

	for _, child := range s.children {
		state, pid := child.Status()

		if state != StateRunning || pid == 0 {
			lines = append(lines, fmt.Sprintf("%s: %s", child.Name(), state))
			continue
		}

		lines = append(lines, fmt.Sprintf("%s: %s (pid %d%s)",
			child.Name(), state, pid, processStats(pid)))
	}

	return strings.Join(lines, "\n")
}

func processStats(pid int) string {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return ""
	}

	out := ""

	if cpu, err := proc.CPUPercent(); err == nil {
		out += fmt.Sprintf(", cpu %.1f%%", cpu)
	}

	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		out += fmt.Sprintf(", rss %d KiB", mem.RSS/1024)
	}

	return out
}
