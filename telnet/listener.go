/*
 * S390  - telnet server, listener
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
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rcornwell/S390/command/parser"
	"github.com/rcornwell/S390/emu/core"
)

const prompt = "S390> "

type Server struct {
	wg         sync.WaitGroup
	listener   net.Listener
	shutdown   chan struct{}
	stop       sync.Once
	connection chan net.Conn
	sessions   *sessions
	core       *core.Core
}

// Open new listener.
func NewServer(address string, core *core.Core) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on address %s: %w", address, err)
	}

	return &Server{
		listener:   listener,
		shutdown:   make(chan struct{}),
		connection: make(chan net.Conn),
		sessions:   newSessions(),
		core:       core,
	}, nil
}

// Address server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Remote addresses of connected consoles.
func (s *Server) Sessions() []string {
	return s.sessions.remotes()
}

// Accept a connection.
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				continue
			}
		}
		select {
		case <-s.shutdown:
			conn.Close()
			return
		case s.connection <- conn:
		}
	}
}

// Start processing for a new connection.
func (s *Server) handleConnections() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			return
		case conn := <-s.connection:
			slog.Info("Console connection", "remote", conn.RemoteAddr().String())
			s.wg.Add(1)
			go s.handleClient(conn)
		}
	}
}

// Run console commands for one client until it quits or drops.
func (s *Server) handleClient(conn net.Conn) {
	defer s.wg.Done()
	sess := s.sessions.add(conn)
	defer s.sessions.remove(sess)
	defer conn.Close()
	select {
	case <-s.shutdown:
		return
	default:
	}

	state := newState(conn)
	out := &crlfWriter{w: conn}
	_, _ = conn.Write(initString)
	_, _ = io.WriteString(out, prompt)

	buffer := make([]byte, 1024)
	for {
		num, err := conn.Read(buffer)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("Console read", "remote", sess.remote, "error", err.Error())
			}
			slog.Info("Console disconnected", "remote", sess.remote)
			return
		}
		for _, line := range state.receive(buffer[:num]) {
			quit, err := parser.ProcessCommandTo(out, line, s.core)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
			if quit {
				slog.Info("Console closed", "remote", sess.remote)
				return
			}
			_, _ = io.WriteString(out, prompt)
		}
	}
}

// Start accepting connections.
func (s *Server) Start() {
	slog.Info("Console server started", "addr", s.Addr())
	s.wg.Add(2)
	go s.acceptConnections()
	go s.handleConnections()
}

// Stop server and drop every session.
func (s *Server) Stop() {
	s.stop.Do(func() {
		close(s.shutdown)
		s.listener.Close()
		s.sessions.closeAll()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		slog.Warn("Timed out waiting for connections to finish.")
	}
}

// Start a server on every configured port.
func Start(ports []string, core *core.Core) ([]*Server, error) {
	servers := []*Server{}
	for _, port := range ports {
		s, err := NewServer(":"+port, core)
		if err != nil {
			Stop(servers)
			return nil, err
		}
		s.Start()
		servers = append(servers, s)
	}
	return servers, nil
}

// Stop a list of running servers.
func Stop(servers []*Server) {
	for _, s := range servers {
		s.Stop()
	}
}
