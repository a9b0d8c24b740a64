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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhs/homeserver/pkg/logger"
)

func startSupervisor(t *testing.T, children ...*Child) (string, chan error) {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "hs_sock")
	sup := New(socketPath, logger.NewTestLogger(), children...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "control socket never appeared")

	return socketPath, done
}

func TestSendCommandWithoutSupervisor(t *testing.T) {
	_, ok, err := SendCommand(filepath.Join(t.TempDir(), "nothing"), CmdStat)

	// No listener is a normal condition, not an error.
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestStatAndShutdownOverSocket(t *testing.T) {
	child := NewChild("Sleeper", "/bin/sleep", []string{"60"}, logger.NewTestLogger())
	socketPath, done := startSupervisor(t, child)

	require.Eventually(t, func() bool {
		state, _ := child.Status()
		return state == StateRunning
	}, 2*time.Second, 10*time.Millisecond)

	reply, ok, err := SendCommand(socketPath, CmdStat)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Contains(t, reply, "Sleeper: UP (pid ")

	reply, ok, err = SendCommand(socketPath, CmdDown)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, Ack, reply)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not shut down")
	}

	// The socket is gone after a clean shutdown.
	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestUnknownCommand(t *testing.T) {
	socketPath, _ := startSupervisor(t)

	reply, ok, err := SendCommand(socketPath, '9')
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "unknown command", reply)
}

func TestStaleSocketIsReplaced(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "hs_sock")

	// Simulate an unclean shutdown leaving the socket file behind.
	require.NoError(t, os.WriteFile(socketPath, nil, 0o600))

	sup := New(socketPath, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok, _ := SendCommand(socketPath, CmdStat)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestChildGivesUpOnNoRestartExit(t *testing.T) {
	child := NewChild("Quitter", "/bin/sh", []string{"-c", "exit 4"}, logger.NewTestLogger())

	done := make(chan error, 1)
	go func() { done <- child.Run(context.Background()) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrNoRestart)
	case <-time.After(5 * time.Second):
		t.Fatal("child kept restarting despite the no-restart exit code")
	}

	state, pid := child.Status()
	assert.Equal(t, StateExited, state)
	assert.Zero(t, pid)
}

func TestNoRestartExitStopsSupervisor(t *testing.T) {
	sleeper := NewChild("Sleeper", "/bin/sleep", []string{"60"}, logger.NewTestLogger())
	quitter := NewChild("Quitter", "/bin/sh", []string{"-c", "sleep 0.2; exit 4"}, logger.NewTestLogger())
	socketPath, done := startSupervisor(t, sleeper, quitter)

	// One child refusing restart brings the whole group down.
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor kept running after a no-restart exit")
	}

	state, _ := sleeper.Status()
	assert.Equal(t, StateTerminated, state)

	_, err := os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestChildTerminates(t *testing.T) {
	child := NewChild("Sleeper", "/bin/sleep", []string{"60"}, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		child.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		state, _ := child.Status()
		return state == StateRunning
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("child did not terminate")
	}

	state, _ := child.Status()
	assert.Equal(t, StateTerminated, state)
}

func TestChildStateString(t *testing.T) {
	assert.Equal(t, "STARTING", StateStarting.String())
	assert.Equal(t, "UP", StateRunning.String())
	assert.Equal(t, "DOWN", StateExited.String())
	assert.Equal(t, "TERMINATED", StateTerminated.String())
	assert.Equal(t, "UNKNOWN", ChildState(42).String())
}
