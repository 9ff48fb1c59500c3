// Copyright 2024 Edgeo SCADA contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package opcuaclient

import (
	"fmt"
	"net"
	"time"
)

// tcpTransport is a minimal framed reader/writer over a TCP socket, used
// beneath the secure channel and session layers.
type tcpTransport struct {
	conn net.Conn
}

func dialTCP(addr string, timeout time.Duration) (*tcpTransport, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("opcuaclient: dial %s: %w", addr, err)
	}
	return &tcpTransport{conn: conn}, nil
}

func (t *tcpTransport) Write(b []byte) (int, error) { return t.conn.Write(b) }
func (t *tcpTransport) Read(b []byte) (int, error)  { return t.conn.Read(b) }
func (t *tcpTransport) Close() error                { return t.conn.Close() }

func (t *tcpTransport) SetDeadline(d time.Time) error {
	return t.conn.SetDeadline(d)
}
