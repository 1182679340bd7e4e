/*
 * S390  - telnet server, session tracking
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package telnet

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"

	config "github.com/rcornwell/S390/config/configparser"
	"github.com/rcornwell/S390/emu/core"
)

// Console session attached to a connection.
type session struct {
	id     int
	remote string
	conn   net.Conn
}

// Sessions open on a server.
type sessions struct {
	mu   sync.Mutex
	next int
	list map[int]*session
}

func newSessions() *sessions {
	return &sessions{list: map[int]*session{}}
}

func (s *sessions) add(conn net.Conn) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	sess := &session{id: s.next, remote: conn.RemoteAddr().String(), conn: conn}
	s.list[sess.id] = sess
	return sess
}

func (s *sessions) remove(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.list, sess.id)
}

// Close every open connection, readers will see an error and exit.
func (s *sessions) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.list {
		sess.conn.Close()
	}
}

// Remote addresses of open sessions in the order they connected.
func (s *sessions) remotes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.list))
	for id := range s.list {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.list[id].remote)
	}
	return out
}

// register a device on initialize.
func init() {
	config.RegisterOption("PORT", setPort)
}

// PORT <number>
func setPort(_ uint16, port string, options []config.Option) error {
	num, err := strconv.ParseUint(port, 10, 16)
	if err != nil || num == 0 {
		return fmt.Errorf("port requires number: %s", port)
	}
	if len(options) != 0 {
		return errors.New("port does not take options")
	}
	return core.AddPort(port)
}
