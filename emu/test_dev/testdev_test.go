/*
 * S390  - Echo test device tests
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

package testdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcornwell/S390/command/command"
	"github.com/rcornwell/S390/emu/crw"
	"github.com/rcornwell/S390/emu/css"
	D "github.com/rcornwell/S390/emu/device"
	"github.com/rcornwell/S390/emu/event"
	"github.com/rcornwell/S390/emu/flic"
	mem "github.com/rcornwell/S390/emu/memory"
)

const allISC = 0xff000000

type testMachine struct {
	css    *css.ChannelSubsystem
	flic   *flic.FLIC
	mem    *mem.Memory
	events *event.Queue
	dev    *TestDev
	sch    *css.Subchannel
}

func newTestMachine(t *testing.T) *testMachine {
	t.Helper()
	f := flic.New(true)
	m := mem.New(64)
	c := css.New(m, f, crw.New(16, f))
	require.NoError(t, c.CreateImage(0xfe, true))
	q := event.New()
	dev := New(q)
	sch, err := dev.Attach(c, css.BusID{CssID: 0xfe, DevNo: 0x0200, Valid: true})
	require.NoError(t, err)
	schib := &css.Schib{PMCW: css.PMCW{
		IntParm: 0x200,
		Flags:   css.PMCWFlagENA | 3<<css.PMCWFlagISCShft,
		LPM:     0x80,
	}}
	require.NoError(t, sch.DoMSCH(schib))
	return &testMachine{css: c, flic: f, mem: m, events: q, dev: dev, sch: sch}
}

// Run channel program at 0x1000.
func (tm *testMachine) run(t *testing.T, ccws ...css.CCW1) css.IRB {
	t.Helper()
	for i := range ccws {
		require.NoError(t, tm.mem.Write(0x1000+uint64(i)*css.CCWSize, ccws[i].Marshal()))
	}
	orb := &css.ORB{IntParm: 0x55, Ctrl0: css.ORBCtrl0Fmt, LPM: 0x80, CPA: 0x1000}
	require.NoError(t, tm.sch.DoSSCH(orb))
	irb, cc := tm.test(t)
	require.Equal(t, uint8(0), cc)
	return irb
}

func (tm *testMachine) test(t *testing.T) (css.IRB, uint8) {
	t.Helper()
	var irb css.IRB
	cc, err := tm.sch.DoTSCH(func(data []byte) error {
		full := make([]byte, css.IRBSize)
		copy(full, data)
		return irb.Unmarshal(full)
	})
	require.NoError(t, err)
	return irb, cc
}

func TestAttach(t *testing.T) {
	tm := newTestMachine(t)
	assert.Equal(t, uint16(0x0200), tm.sch.DevNo())
	assert.Same(t, tm.sch, tm.dev.Subchannel())
	irb := tm.run(t, css.CCW1{Cmd: D.CmdSenseID, Flags: css.CCWFlagSLI, Count: 7, CDA: 0x2000})
	assert.Equal(t, D.StatusChnEnd|D.StatusDevEnd, irb.SCSW.DStat)
	buf := make([]byte, 7)
	require.NoError(t, tm.mem.Read(0x2000, buf))
	assert.Equal(t, []byte{0xff, 0x38, 0x32, 0x01, 0x38, 0x32, 0x01}, buf)
}

// Write then read back, and read backward.
func TestEcho(t *testing.T) {
	tm := newTestMachine(t)
	require.NoError(t, tm.mem.Write(0x2000, []byte("echo")))
	irb := tm.run(t,
		css.CCW1{Cmd: CmdWrite, Flags: css.CCWFlagCC, Count: 4, CDA: 0x2000},
		css.CCW1{Cmd: CmdRead, Flags: css.CCWFlagCC, Count: 4, CDA: 0x2010},
		css.CCW1{Cmd: CmdRdBwd, Count: 4, CDA: 0x2020})
	assert.Equal(t, D.StatusChnEnd|D.StatusDevEnd, irb.SCSW.DStat)
	assert.Zero(t, irb.SCSW.CStat)
	assert.Zero(t, irb.SCSW.Count)
	assert.Equal(t, uint32(0x1018), irb.SCSW.CPA)
	assert.Equal(t, []byte("echo"), tm.dev.Data())

	buf := make([]byte, 4)
	require.NoError(t, tm.mem.Read(0x2010, buf))
	assert.Equal(t, []byte("echo"), buf)
	require.NoError(t, tm.mem.Read(0x2020, buf))
	assert.Equal(t, []byte("ohce"), buf)

	// Test subchannel took the queued interrupt
	assert.False(t, tm.flic.HasIO(allISC))
}

func TestIncorrectLength(t *testing.T) {
	tm := newTestMachine(t)
	tm.dev.SetData([]byte("abc"))
	irb := tm.run(t, css.CCW1{Cmd: CmdRead, Count: 8, CDA: 0x2000})
	assert.Equal(t, D.StatusChnEnd|D.StatusDevEnd, irb.SCSW.DStat)
	assert.Equal(t, D.CStatusLength, irb.SCSW.CStat)
	assert.Equal(t, uint16(5), irb.SCSW.Count)
	assert.NotZero(t, irb.SCSW.Stctl()&css.SCSWStctlAlert)

	// Suppressed
	irb = tm.run(t, css.CCW1{Cmd: CmdRead, Flags: css.CCWFlagSLI, Count: 8, CDA: 0x2000})
	assert.Zero(t, irb.SCSW.CStat)
	assert.Equal(t, uint16(5), irb.SCSW.Count)
	buf := make([]byte, 3)
	require.NoError(t, tm.mem.Read(0x2000, buf))
	assert.Equal(t, []byte("abc"), buf)
}

func TestOneByte(t *testing.T) {
	tm := newTestMachine(t)
	require.NoError(t, tm.mem.Write(0x2000, []byte{0x5a, 0xa5}))
	irb := tm.run(t, css.CCW1{Cmd: CmdOneByte, Count: 1, CDA: 0x2000})
	assert.Zero(t, irb.SCSW.CStat)
	assert.Equal(t, []byte{0x5a}, tm.dev.Data())

	irb = tm.run(t, css.CCW1{Cmd: CmdOneByte, Count: 2, CDA: 0x2000})
	assert.Equal(t, D.CStatusLength, irb.SCSW.CStat)
}

// Channel end at once, device end after the delay.
func TestDeviceEnd(t *testing.T) {
	tm := newTestMachine(t)
	tm.dev.SetDelay(5)
	irb := tm.run(t, css.CCW1{Cmd: CmdEnd, Flags: css.CCWFlagSLI})
	assert.Equal(t, D.StatusChnEnd, irb.SCSW.DStat)
	assert.Equal(t, 1, tm.events.Len())

	tm.events.Advance(4)
	assert.False(t, tm.flic.HasIO(allISC))
	tm.events.Advance(1)
	io, ok := tm.flic.DequeueIO(allISC)
	require.True(t, ok)
	assert.Equal(t, uint32(0x55), io.Parm)
	assert.Equal(t, css.StateStatusPending, tm.sch.State())

	irb, cc := tm.test(t)
	assert.Equal(t, uint8(0), cc)
	assert.Equal(t, D.StatusDevEnd, irb.SCSW.DStat)
	assert.NotZero(t, irb.SCSW.Stctl()&css.SCSWStctlAlert)
}

// Second end command before device end is busy.
func TestDeviceEndBusy(t *testing.T) {
	tm := newTestMachine(t)
	tm.run(t, css.CCW1{Cmd: CmdEnd, Flags: css.CCWFlagSLI})
	irb := tm.run(t, css.CCW1{Cmd: CmdEnd, Flags: css.CCWFlagSLI})
	assert.Equal(t, D.StatusBusy, irb.SCSW.DStat)
}

func TestAttention(t *testing.T) {
	tm := newTestMachine(t)
	assert.True(t, tm.dev.Attention())
	assert.False(t, tm.dev.Attention())
	irb, cc := tm.test(t)
	assert.Equal(t, uint8(0), cc)
	assert.Equal(t, D.StatusAttn, irb.SCSW.DStat)

	// Not attached
	assert.False(t, New(tm.events).Attention())
}

func TestCommandReject(t *testing.T) {
	tm := newTestMachine(t)
	irb := tm.run(t,
		css.CCW1{Cmd: 0x27, Flags: css.CCWFlagSLI},
	)
	assert.Equal(t, D.StatusCheck, irb.SCSW.DStat)

	irb = tm.run(t, css.CCW1{Cmd: D.CmdSense, Count: D.SenseSize, CDA: 0x2000})
	sense, _ := tm.mem.GetByte(0x2000)
	assert.Equal(t, D.SenseCMDREJ, sense)
	assert.Zero(t, irb.SCSW.CStat)
}

// Reset and disable drop outstanding device end.
func TestResetCancels(t *testing.T) {
	tm := newTestMachine(t)
	tm.dev.SetData([]byte("xyz"))
	tm.run(t, css.CCW1{Cmd: CmdEnd, Flags: css.CCWFlagSLI})
	require.NoError(t, tm.css.Reset())
	assert.False(t, tm.events.Any())
	assert.Empty(t, tm.dev.Data())

	require.NoError(t, tm.sch.DoMSCH(&css.Schib{PMCW: css.PMCW{Flags: css.PMCWFlagENA, LPM: 0x80}}))
	tm.run(t, css.CCW1{Cmd: CmdEnd, Flags: css.CCWFlagSLI})
	require.NoError(t, tm.sch.DoMSCH(&css.Schib{PMCW: css.PMCW{LPM: 0x80}}))
	assert.False(t, tm.events.Any())
}

func TestDebugOption(t *testing.T) {
	tm := newTestMachine(t)
	require.NoError(t, tm.dev.Debug("CMD"))
	assert.Error(t, tm.dev.Debug("BOGUS"))
}

func TestConsoleCommands(t *testing.T) {
	tm := newTestMachine(t)
	require.Len(t, tm.dev.Options(), 1)
	require.NoError(t, tm.dev.Set([]*command.CmdOption{{Name: "delay", Value: 7}}))
	assert.Error(t, tm.dev.Set([]*command.CmdOption{{Name: "size", Value: 7}}))
	tm.dev.SetData([]byte("abc"))
	out, err := tm.dev.Show()
	require.NoError(t, err)
	assert.Equal(t, "fe.0.0200 echo delay=7 data=3 pending=false", out)
}
