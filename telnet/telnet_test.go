/*
 * S390  - telnet server tests
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
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcornwell/S390/emu/core"
	"github.com/rcornwell/S390/emu/master"
)

func TestLineAssembly(t *testing.T) {
	state := newState(&bytes.Buffer{})
	lines := state.receive([]byte("show\r\nsh\x7fet 0200 delay=2\r\x00help\n"))
	assert.Equal(t, []string{"show", "set 0200 delay=2", "help"}, lines)

	// Line split across reads.
	assert.Empty(t, state.receive([]byte("exam")))
	assert.Equal(t, []string{"examine 100"}, state.receive([]byte("ine 100\r")))
	assert.Empty(t, state.receive([]byte("\n")))

	// Erase line and interrupt drop partial input.
	assert.Equal(t, []string{"stop"}, state.receive([]byte{'x', 'y', tnIAC, tnEL, 's', 't', 'o', 'p', '\n'}))
	assert.Equal(t, []string{"go"}, state.receive([]byte{'g', 'o', 'x', tnIAC, tnEC, '\n'}))
	assert.Equal(t, []string{""}, state.receive([]byte{'a', tnIAC, tnIP, '\r'}))
}

func TestNegotiation(t *testing.T) {
	out := &bytes.Buffer{}
	state := newState(out)

	// Unknown options are refused once.
	state.receive([]byte{tnIAC, tnDO, tnOptionEcho})
	state.receive([]byte{tnIAC, tnDO, tnOptionEcho})
	assert.Equal(t, []byte{tnIAC, tnWONT, tnOptionEcho}, out.Bytes())

	out.Reset()
	state.receive([]byte{tnIAC, tnWILL, tnOptionNAWS})
	assert.Equal(t, []byte{tnIAC, tnDONT, tnOptionNAWS}, out.Bytes())

	out.Reset()
	state.receive([]byte{tnIAC, tnDO, tnOptionSGA, tnIAC, tnWILL, tnOptionSGA})
	assert.Equal(t, []byte{tnIAC, tnWILL, tnOptionSGA, tnIAC, tnDO, tnOptionSGA}, out.Bytes())

	// Terminal type is requested then collected.
	out.Reset()
	state.receive([]byte{tnIAC, tnWILL, tnOptionTerm})
	assert.Equal(t, []byte{tnIAC, tnSB, tnOptionTerm, tnSend, tnIAC, tnSE}, out.Bytes())
	lines := state.receive(append(append([]byte{tnIAC, tnSB, tnOptionTerm, tnIS}, "XTERM"...),
		tnIAC, tnSE, 'o', 'k', '\n'))
	assert.Equal(t, "XTERM", state.termType)
	assert.Equal(t, []string{"ok"}, lines)
}

func TestCRLFWriter(t *testing.T) {
	out := &bytes.Buffer{}
	w := &crlfWriter{w: out}
	n, err := w.Write([]byte("a\nb\xff\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("a\r\nb\xff\xff\r\n"), out.Bytes())
}

func TestPortStatement(t *testing.T) {
	cfg, err := core.LoadConfig(strings.NewReader("port 3270\nport 3271\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"3270", "3271"}, cfg.Ports)

	for _, text := range []string{"port abc\n", "port 0\n", "port 3270\nport 3270\n"} {
		_, err := core.LoadConfig(strings.NewReader(text))
		assert.Error(t, err, text)
	}
	assert.Error(t, setPort(0, "3270", nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg, err := core.LoadConfig(strings.NewReader("memory 64\necho fe.0.0200\n"))
	require.NoError(t, err)
	m, err := core.New(cfg)
	require.NoError(t, err)
	c := core.NewCore(m, make(chan master.Packet))
	go func() { _ = c.Start(context.Background()) }()
	t.Cleanup(c.Stop)

	s, err := NewServer("127.0.0.1:0", c)
	require.NoError(t, err)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

// Read from connection until marker is seen.
func readUntil(t *testing.T, conn net.Conn, marker string) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got []byte
	buffer := make([]byte, 256)
	for !bytes.Contains(got, []byte(marker)) {
		n, err := conn.Read(buffer)
		require.NoError(t, err, "read so far: %q", got)
		got = append(got, buffer[:n]...)
	}
	return string(got)
}

func TestRemoteConsole(t *testing.T) {
	s := newTestServer(t)
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()

	greeting := readUntil(t, conn, prompt)
	assert.True(t, strings.HasPrefix(greeting, string(initString)))

	_, err = conn.Write([]byte("show 0200\r\n"))
	require.NoError(t, err)
	reply := readUntil(t, conn, prompt)
	assert.Contains(t, reply, "fe.0.0200 echo delay=")
	assert.Contains(t, reply, "\r\n")

	_, err = conn.Write([]byte("bogus\r\n"))
	require.NoError(t, err)
	assert.Contains(t, readUntil(t, conn, prompt), "Error:")

	assert.Eventually(t, func() bool { return len(s.Sessions()) == 1 }, time.Second, 10*time.Millisecond)

	// Quit closes the session, not the server.
	_, err = conn.Write([]byte("quit\r\n"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buffer := make([]byte, 64)
	_, err = conn.Read(buffer)
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return len(s.Sessions()) == 0 }, time.Second, 10*time.Millisecond)

	again, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer again.Close()
	readUntil(t, again, prompt)
}

func TestStopDropsSessions(t *testing.T) {
	s := newTestServer(t)
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, prompt)

	s.Stop()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buffer := make([]byte, 64)
	_, err = conn.Read(buffer)
	assert.Error(t, err)
	_, err = net.DialTimeout("tcp", s.Addr(), time.Second)
	assert.Error(t, err)
}

func TestStartPorts(t *testing.T) {
	servers, err := Start([]string{"0"}, nil)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	Stop(servers)

	_, err = Start([]string{"bad"}, nil)
	assert.Error(t, err)
}
