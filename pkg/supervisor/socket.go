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
	"bufio"
	"net"
	"time"
)

// Control socket wire protocol: a command is one ASCII digit followed by
// a NUL, and every reply is a NUL-terminated string.
const (
	CmdUp   byte = '1'
	CmdDown byte = '2'
	CmdStat byte = '3'

	// Ack answers a DOWN command once shutdown has begun.
	Ack = "OK"
)

const socketIODeadline = 5 * time.Second

// writeMessage sends one NUL-terminated string.
func writeMessage(conn net.Conn, msg string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(socketIODeadline))

	_, err := conn.Write(append([]byte(msg), 0))

	return err
}

// readMessage reads up to the NUL terminator.
func readMessage(conn net.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(socketIODeadline))

	msg, err := bufio.NewReader(conn).ReadString(0)
	if err != nil {
		return "", err
	}

	return msg[:len(msg)-1], nil
}

// SendCommand connects to the control socket and performs one
// command/reply exchange. The ok flag reports whether a supervisor was
// listening at all.
func SendCommand(socketPath string, cmd byte) (reply string, ok bool, err error) {
	conn, err := net.DialTimeout("unix", socketPath, socketIODeadline)
	if err != nil {
		return "", false, nil
	}
	defer conn.Close()

	if err := writeMessage(conn, string(cmd)); err != nil {
		return "", true, err
	}

	reply, err = readMessage(conn)
	if err != nil {
		return "", true, err
	}

	return reply, true, nil
}
