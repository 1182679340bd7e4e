/*
 * S390  - I/O instruction tests
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

package ioinst

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcornwell/S390/emu/crw"
	"github.com/rcornwell/S390/emu/css"
	D "github.com/rcornwell/S390/emu/device"
	"github.com/rcornwell/S390/emu/flic"
	mem "github.com/rcornwell/S390/emu/memory"
)

const (
	testCssID uint8  = 0xfe
	allISC    uint64 = 0xff000000
	sch0      uint64 = 0x00010000 // Subchannel 0 in default image
)

// Device that rejects everything the subsystem does not handle.
type nullDevice struct{}

func (nullDevice) HandleCCW(_ *css.Subchannel, _ css.CCW1) error {
	return css.ErrNotSupported
}

func (nullDevice) Disable(_ *css.Subchannel) {
}

func (nullDevice) BuildIRB(sch *css.Subchannel, irb *css.IRB) {
	css.BuildVirtualIRB(sch, irb)
}

type testMachine struct {
	h    *Handler
	css  *css.ChannelSubsystem
	flic *flic.FLIC
	crws *crw.Queue
	mem  *mem.Memory
}

func newTestMachine(t *testing.T, ais bool) *testMachine {
	t.Helper()
	f := flic.New(ais)
	q := crw.New(16, f)
	m := mem.New(64)
	c := css.New(m, f, q)
	require.NoError(t, c.CreateImage(testCssID, true))
	return &testMachine{h: New(c, f), css: c, flic: f, crws: q, mem: m}
}

func (tm *testMachine) addDevice(t *testing.T, devno uint16) *css.Subchannel {
	t.Helper()
	sch, err := tm.css.CreateSch(css.BusID{CssID: testCssID, DevNo: devno, Valid: true}, nullDevice{})
	require.NoError(t, err)
	sch.BuildVirtualSchib(css.VirtioCCWChpID, css.VirtioCCWChpType)
	return sch
}

func (tm *testMachine) exec(op uint16, reg1 uint64, addr uint64) (uint8, uint16) {
	req := &Request{Op: op, Reg1: reg1, Addr: addr, CR6: allISC, CC: 0xff}
	irc := tm.h.Execute(req)
	return req.CC, irc
}

// Enable subchannel through modify subchannel.
func (tm *testMachine) enable(t *testing.T, reg1 uint64) {
	t.Helper()
	schib := css.Schib{PMCW: css.PMCW{
		IntParm: 0x1234,
		Flags:   css.PMCWFlagENA | 3<<css.PMCWFlagISCShft,
		LPM:     0x80,
	}}
	require.NoError(t, tm.mem.Write(0x500, schib.Marshal()))
	cc, irc := tm.exec(OpMSCH, reg1, 0x500)
	require.Zero(t, irc)
	require.Equal(t, uint8(0), cc)
}

func (tm *testMachine) putORB(t *testing.T, addr uint64, cpa uint32) {
	t.Helper()
	orb := css.ORB{IntParm: 0xcafe, Ctrl0: css.ORBCtrl0Fmt, LPM: 0x80, CPA: cpa}
	require.NoError(t, tm.mem.Write(addr, orb.Marshal()))
}

func TestPrivileged(t *testing.T) {
	tm := newTestMachine(t, true)
	req := &Request{Op: OpSTSCH, Reg1: sch0, Addr: 0x1000, Problem: true}
	assert.Equal(t, IrcPriv, tm.h.Execute(req))

	_, irc := tm.exec(0xb2ff, 0, 0)
	assert.Equal(t, IrcOper, irc)
	assert.Equal(t, "ssch", Name(OpSSCH))
	assert.Equal(t, "b2ff", Name(0xb2ff))
}

func TestSchIdent(t *testing.T) {
	tests := []struct {
		reg1  uint64
		ok    bool
		m     bool
		cssid uint8
		ssid  uint8
		schid uint16
	}{
		{0x00010000, true, false, 0, 0, 0},
		{0x00010005, true, false, 0, 0, 5},
		{0x00050010, true, false, 0, 2, 0x10},
		{0xfe09000a, true, true, 0xfe, 0, 0xa},
		{0x00000005, false, false, 0, 0, 0},
		{0x01010000, false, false, 0, 0, 0},
	}
	for _, test := range tests {
		m, cssid, ssid, schid, ok := schIdent(test.reg1)
		assert.Equal(t, test.ok, ok, "reg1 %08x", test.reg1)
		if !ok {
			continue
		}
		assert.Equal(t, test.m, m, "reg1 %08x", test.reg1)
		assert.Equal(t, test.cssid, cssid, "reg1 %08x", test.reg1)
		assert.Equal(t, test.ssid, ssid, "reg1 %08x", test.reg1)
		assert.Equal(t, test.schid, schid, "reg1 %08x", test.reg1)
		assert.Equal(t, test.reg1, Ident(m, cssid, ssid, schid))
	}
}

// Start a channel program, pick up the interrupt and test the subchannel.
func TestStartTest(t *testing.T) {
	tm := newTestMachine(t, true)
	tm.addDevice(t, 0x0100)
	tm.enable(t, sch0)

	noop := css.CCW1{Cmd: D.CmdNoop}
	require.NoError(t, tm.mem.Write(0x1000, noop.Marshal()))
	tm.putORB(t, 0x600, 0x1000)
	cc, irc := tm.exec(OpSSCH, sch0, 0x600)
	require.Zero(t, irc)
	assert.Equal(t, uint8(0), cc)

	cc, irc = tm.exec(OpTPI, 0, 0)
	require.Zero(t, irc)
	assert.Equal(t, uint8(1), cc)
	id, _ := tm.mem.GetHalf(LowcoreSubchannelID)
	nr, _ := tm.mem.GetHalf(LowcoreSubchannelNr)
	parm, _ := tm.mem.GetWord(LowcoreIOIntParm)
	word, _ := tm.mem.GetWord(LowcoreIOIntWord)
	assert.Equal(t, uint16(1), id)
	assert.Equal(t, uint16(0), nr)
	assert.Equal(t, uint32(0xcafe), parm)
	assert.Equal(t, uint32(3)<<27, word)

	cc, irc = tm.exec(OpTSCH, sch0, 0x700)
	require.Zero(t, irc)
	assert.Equal(t, uint8(0), cc)
	buf := make([]byte, css.IRBSize)
	require.NoError(t, tm.mem.Read(0x700, buf))
	var irb css.IRB
	require.NoError(t, irb.Unmarshal(buf))
	assert.Equal(t, css.SCSWFctlStart, irb.SCSW.Fctl())
	assert.Equal(t, D.StatusChnEnd|D.StatusDevEnd, irb.SCSW.DStat)
	assert.Equal(t, uint32(0x1008), irb.SCSW.CPA)

	cc, _ = tm.exec(OpTSCH, sch0, 0x700)
	assert.Equal(t, uint8(1), cc)
	cc, _ = tm.exec(OpTPI, 0, 0)
	assert.Equal(t, uint8(0), cc)
}

func TestStatusPending(t *testing.T) {
	tm := newTestMachine(t, true)
	tm.addDevice(t, 0x0100)
	tm.enable(t, sch0)
	cc, irc := tm.exec(OpHSCH, sch0, 0)
	require.Zero(t, irc)
	assert.Equal(t, uint8(0), cc)

	tm.putORB(t, 0x600, 0x1000)
	cc, _ = tm.exec(OpSSCH, sch0, 0x600)
	assert.Equal(t, uint8(1), cc)
	cc, _ = tm.exec(OpRSCH, sch0, 0)
	assert.Equal(t, uint8(1), cc)
	cc, _ = tm.exec(OpCSCH, sch0, 0)
	assert.Equal(t, uint8(0), cc)
	cc, _ = tm.exec(OpXSCH, sch0, 0)
	assert.Equal(t, uint8(1), cc)

	cc, _ = tm.exec(OpTSCH, sch0, 0x700)
	assert.Equal(t, uint8(0), cc)
	cc, _ = tm.exec(OpXSCH, sch0, 0)
	assert.Equal(t, uint8(2), cc, "nothing to cancel")
}

func TestNotOperational(t *testing.T) {
	tm := newTestMachine(t, true)
	tm.putORB(t, 0x600, 0x1000)
	missing := sch0 | 5
	for _, op := range []uint16{OpCSCH, OpHSCH, OpRSCH, OpXSCH, OpSSCH, OpTSCH} {
		cc, irc := tm.exec(op, missing, 0x600)
		assert.Zero(t, irc, Name(op))
		assert.Equal(t, uint8(3), cc, Name(op))
	}

	// Subchannel exists but is not enabled.
	tm.addDevice(t, 0x0100)
	cc, _ := tm.exec(OpSSCH, sch0, 0x600)
	assert.Equal(t, uint8(3), cc)
}

func TestOperandChecks(t *testing.T) {
	tm := newTestMachine(t, true)
	tm.addDevice(t, 0x0100)
	tm.putORB(t, 0x600, 0x1000)
	for _, op := range []uint16{OpCSCH, OpHSCH, OpRSCH, OpXSCH, OpSSCH, OpTSCH, OpSTSCH} {
		_, irc := tm.exec(op, 0x01010000, 0x600)
		assert.Equal(t, IrcOperand, irc, Name(op))
	}

	bad := css.ORB{Ctrl0: 0x0001, CPA: 0x1000}
	require.NoError(t, tm.mem.Write(0x680, bad.Marshal()))
	_, irc := tm.exec(OpSSCH, sch0, 0x680)
	assert.Equal(t, IrcOperand, irc)

	schib := css.Schib{PMCW: css.PMCW{Flags: css.PMCWFlagInvalid}}
	require.NoError(t, tm.mem.Write(0x500, schib.Marshal()))
	_, irc = tm.exec(OpMSCH, sch0, 0x500)
	assert.Equal(t, IrcOperand, irc)
}

func TestSpecification(t *testing.T) {
	tm := newTestMachine(t, true)
	tm.addDevice(t, 0x0100)
	for _, op := range []uint16{OpMSCH, OpSSCH, OpSTSCH, OpTSCH, OpTPI, OpSTCRW} {
		_, irc := tm.exec(op, sch0, 0x602)
		assert.Equal(t, IrcSpec, irc, Name(op))
	}
	_, irc := tm.exec(OpCHSC, 0, 0x1010)
	assert.Equal(t, IrcSpec, irc)

	// Test subchannel checks the operand first.
	_, irc = tm.exec(OpTSCH, 0, 0x602)
	assert.Equal(t, IrcOperand, irc)
	_, irc = tm.exec(OpSTSCH, 0, 0x602)
	assert.Equal(t, IrcSpec, irc)
}

func TestAccessExceptions(t *testing.T) {
	tm := newTestMachine(t, true)
	tm.addDevice(t, 0x0100)
	_, irc := tm.exec(OpSSCH, sch0, 0x10000)
	assert.Equal(t, IrcAddr, irc)

	tm.mem.PutKey(0x4000, 0x30)
	req := &Request{Op: OpSTSCH, Reg1: sch0, Addr: 0x4000, Key: 2}
	assert.Equal(t, IrcProt, tm.h.Execute(req))

	// Access is recognized ahead of an invalid subsystem id and cc 3.
	req = &Request{Op: OpSTSCH, Reg1: 0x01010000, Addr: 0x4000, Key: 2}
	assert.Equal(t, IrcProt, tm.h.Execute(req))
	req = &Request{Op: OpTSCH, Reg1: sch0 | 9, Addr: 0x4000, Key: 2}
	assert.Equal(t, IrcProt, tm.h.Execute(req))
}

// Store subchannel of a used, unused and past the last subchannel.
func TestStoreSubchannel(t *testing.T) {
	tm := newTestMachine(t, true)
	tm.addDevice(t, 0x0100)
	tm.addDevice(t, 0x0101)

	cc, irc := tm.exec(OpSTSCH, sch0|1, 0x800)
	require.Zero(t, irc)
	assert.Equal(t, uint8(0), cc)
	devno, _ := tm.mem.GetHalf(0x806)
	assert.Equal(t, uint16(0x0101), devno)

	tm.css.Assign(testCssID, 0, 0, 0x0100, nil)
	require.NoError(t, tm.mem.Write(0x800, make([]byte, css.SchibSize)))
	require.False(t, tm.mem.PutWord(0x800, 0xffffffff))
	cc, irc = tm.exec(OpSTSCH, sch0, 0x800)
	require.Zero(t, irc)
	assert.Equal(t, uint8(0), cc)
	first, _ := tm.mem.GetWord(0x800)
	assert.Zero(t, first, "empty schib stored")

	cc, irc = tm.exec(OpSTSCH, sch0|2, 0x800)
	require.Zero(t, irc)
	assert.Equal(t, uint8(3), cc)
}

func TestStoreCRW(t *testing.T) {
	tm := newTestMachine(t, true)
	require.False(t, tm.mem.PutWord(0x900, 0xffffffff))
	cc, irc := tm.exec(OpSTCRW, 0, 0x900)
	require.Zero(t, irc)
	assert.Equal(t, uint8(1), cc)
	word, _ := tm.mem.GetWord(0x900)
	assert.Zero(t, word, "zeros stored when empty")

	tm.crws.Queue(crw.RscSubch, crw.ErcIPI, false, false, 5)
	tm.mem.PutKey(0x4000, 0x30)
	req := &Request{Op: OpSTCRW, Addr: 0x4000, Key: 2}
	assert.Equal(t, IrcProt, tm.h.Execute(req))
	assert.Equal(t, 1, tm.crws.Len(), "report put back")

	cc, irc = tm.exec(OpSTCRW, 0, 0x900)
	require.Zero(t, irc)
	assert.Equal(t, uint8(0), cc)
	word, _ = tm.mem.GetWord(0x900)
	assert.Equal(t, uint32(0x030b0005), word)
	assert.Zero(t, tm.crws.Len())
}

func TestTestPendingInterruption(t *testing.T) {
	tm := newTestMachine(t, true)
	cc, irc := tm.exec(OpTPI, 0, 0x900)
	require.Zero(t, irc)
	assert.Equal(t, uint8(0), cc)

	tm.flic.InjectIO(1, 5, 0x1234, 3<<27)
	req := &Request{Op: OpTPI, Addr: 0x900, CR6: 0x80000000}
	require.Zero(t, tm.h.Execute(req))
	assert.Equal(t, uint8(0), req.CC, "isc 3 not enabled")

	tm.mem.PutKey(0x4000, 0x30)
	req = &Request{Op: OpTPI, Addr: 0x4000, Key: 2, CR6: allISC}
	assert.Equal(t, IrcProt, tm.h.Execute(req))
	assert.True(t, tm.flic.HasIO(allISC), "interrupt put back")

	require.False(t, tm.mem.PutWord(0x908, 0xffffffff))
	cc, irc = tm.exec(OpTPI, 0, 0x900)
	require.Zero(t, irc)
	assert.Equal(t, uint8(1), cc)
	id, _ := tm.mem.GetWord(0x900)
	parm, _ := tm.mem.GetWord(0x904)
	next, _ := tm.mem.GetWord(0x908)
	assert.Equal(t, uint32(0x00010005), id)
	assert.Equal(t, uint32(0x1234), parm)
	assert.Equal(t, uint32(0xffffffff), next, "interruption word not stored")
}

func TestResetChannelPath(t *testing.T) {
	tm := newTestMachine(t, true)
	require.NoError(t, tm.css.AddVirtualChpid(testCssID, 0x10, 0x32))
	cc, irc := tm.exec(OpRCHP, 0x10, 0)
	require.Zero(t, irc)
	assert.Equal(t, uint8(0), cc)
	report, ok := tm.crws.Dequeue()
	require.True(t, ok)
	assert.Equal(t, crw.RscChp, report.RSC())
	assert.Equal(t, uint16(0x10), report.RSID)

	cc, _ = tm.exec(OpRCHP, 0x11, 0)
	assert.Equal(t, uint8(3), cc)
	_, irc = tm.exec(OpRCHP, 0x0100, 0)
	assert.Equal(t, IrcOperand, irc)
	_, irc = tm.exec(OpRCHP, 0x00050010, 0)
	assert.Equal(t, IrcOperand, irc, "cssid beyond maximum")
}

func TestSetChannelMonitor(t *testing.T) {
	tm := newTestMachine(t, true)
	req := &Request{Op: OpSCHM, Reg1: 0x00000100}
	assert.Equal(t, IrcOperand, tm.h.Execute(req))
	req = &Request{Op: OpSCHM, Reg1: 2, Reg2: 0x8008}
	assert.Equal(t, IrcOperand, tm.h.Execute(req))

	req = &Request{Op: OpSCHM, Reg1: 2, Reg2: 0x8000}
	require.Zero(t, tm.h.Execute(req))
	active, area := tm.css.Chnmon()
	assert.True(t, active)
	assert.Equal(t, uint64(0x8000), area)

	req = &Request{Op: OpSCHM}
	require.Zero(t, tm.h.Execute(req))
	active, _ = tm.css.Chnmon()
	assert.False(t, active)
}

func TestMiscInstructions(t *testing.T) {
	tm := newTestMachine(t, true)
	cc, irc := tm.exec(OpSAL, 0x80000000, 0)
	assert.Equal(t, IrcOperand, irc)
	cc, irc = tm.exec(OpSAL, 0, 0)
	assert.Zero(t, irc)
	assert.Equal(t, uint8(0xff), cc, "condition code unchanged")

	cc, irc = tm.exec(OpSTCPS, 0, 0x900)
	assert.Zero(t, irc)
	assert.Equal(t, uint8(0xff), cc)

	cc, irc = tm.exec(OpSIGA, 0, 0)
	assert.Zero(t, irc)
	assert.Equal(t, uint8(3), cc)
}

func TestSetInterruptionControls(t *testing.T) {
	tm := newTestMachine(t, true)
	req := &Request{Op: OpSIC, Reg1: uint64(flic.ModeSingle), Reg2: 2 << 27}
	assert.Zero(t, tm.h.Execute(req))
	req = &Request{Op: OpSIC, Reg1: 5, Reg2: 2 << 27}
	assert.Equal(t, IrcOperand, tm.h.Execute(req))

	tm = newTestMachine(t, false)
	req = &Request{Op: OpSIC, Reg1: uint64(flic.ModeSingle), Reg2: 2 << 27}
	assert.Equal(t, IrcOper, tm.h.Execute(req))
}

func TestDebugOption(t *testing.T) {
	tm := newTestMachine(t, true)
	require.NoError(t, tm.h.Debug("INST"))
	assert.Error(t, tm.h.Debug("BOGUS"))
	assert.Len(t, tm.h.Collectors(), 3)
}

// Helpers for channel subsystem call.
func putCHSC(t *testing.T, tm *testMachine, addr uint64, length uint16, cmd uint16, params ...uint32) {
	t.Helper()
	buf := make([]byte, length)
	binary.BigEndian.PutUint16(buf[0:], length)
	binary.BigEndian.PutUint16(buf[2:], cmd)
	for i, p := range params {
		binary.BigEndian.PutUint32(buf[4+4*i:], p)
	}
	require.NoError(t, tm.mem.Write(addr, buf))
}

func chscResult(t *testing.T, tm *testMachine, addr uint64) (uint16, uint16, uint32) {
	t.Helper()
	length, _ := tm.mem.GetHalf(addr)
	code, _ := tm.mem.GetHalf(addr + 2)
	param, _ := tm.mem.GetWord(addr + 4)
	return length, code, param
}

func TestCHSCRequestChecks(t *testing.T) {
	tm := newTestMachine(t, true)
	putCHSC(t, tm, 0x2000, 0x10, 0x0099)
	require.False(t, tm.mem.PutHalf(0x2000, 0x0c))
	_, irc := tm.exec(OpCHSC, 0, 0x2000)
	assert.Equal(t, IrcOperand, irc, "too short")
	require.False(t, tm.mem.PutHalf(0x2000, 0x14))
	_, irc = tm.exec(OpCHSC, 0, 0x2000)
	assert.Equal(t, IrcOperand, irc, "not a multiple of 8")

	putCHSC(t, tm, 0x2000, 0x10, 0x0099)
	cc, irc := tm.exec(OpCHSC, 0, 0x2000)
	require.Zero(t, irc)
	assert.Equal(t, uint8(0), cc)
	length, code, _ := chscResult(t, tm, 0x2010)
	assert.Equal(t, uint16(8), length)
	assert.Equal(t, chscNotProvided, code)
}

func TestCHSCChannelPathDescription(t *testing.T) {
	tm := newTestMachine(t, true)
	require.NoError(t, tm.css.AddVirtualChpid(testCssID, 0x10, 0x32))

	putCHSC(t, tm, 0x2000, 0x10, chscSCPD, 0x00000010, 0x00000012, 0)
	_, irc := tm.exec(OpCHSC, 0, 0x2000)
	require.Zero(t, irc)
	length, code, param := chscResult(t, tm, 0x2010)
	assert.Equal(t, chscOK, code)
	assert.Equal(t, uint16(16), length)
	assert.Zero(t, param)
	desc := make([]byte, 8)
	require.NoError(t, tm.mem.Read(0x2018, desc))
	assert.Equal(t, []byte{0x80, 0, 0x32, 0x10, 0, 0, 0, 0}, desc)

	putCHSC(t, tm, 0x2000, 0x10, chscSCPD, 0x10000010, 0x00000010, 0)
	_, irc = tm.exec(OpCHSC, 0, 0x2000)
	require.Zero(t, irc)
	length, code, param = chscResult(t, tm, 0x2010)
	assert.Equal(t, chscOK, code)
	assert.Equal(t, uint16(8+css.ChpDescFmt1Size), length)
	assert.Equal(t, uint32(1), param)

	tests := []struct {
		params []uint32
		code   uint16
	}{
		{[]uint32{0x00000012, 0x00000010, 0}, chscBadRequest},
		{[]uint32{0x00001010, 0x00000010, 0}, chscBadRequest},
		{[]uint32{0x00000010, 0x00000010, 1}, chscBadRequest},
		{[]uint32{0x01000010, 0x00000010, 0}, chscBadFormat},
		{[]uint32{0x00050010, 0x00000010, 0}, chscBadCssID},
		{[]uint32{0x20050010, 0x00000010, 0}, chscBadCssID},
	}
	for _, test := range tests {
		putCHSC(t, tm, 0x2000, 0x10, chscSCPD, test.params...)
		_, irc = tm.exec(OpCHSC, 0, 0x2000)
		require.Zero(t, irc)
		length, code, _ = chscResult(t, tm, 0x2010)
		assert.Equal(t, test.code, code, "param0 %08x", test.params[0])
		assert.Equal(t, uint16(8), length)
	}
}

func TestCHSCCharacteristics(t *testing.T) {
	tm := newTestMachine(t, true)
	putCHSC(t, tm, 0x2000, 0x10, chscSCSC)
	_, irc := tm.exec(OpCHSC, 0, 0x2000)
	require.Zero(t, irc)
	length, code, _ := chscResult(t, tm, 0x2010)
	assert.Equal(t, chscOK, code)
	assert.Equal(t, uint16(chscSCSCLength), length)
	general, _ := tm.mem.GetWord(0x2018)
	assert.Equal(t, uint32(0x03000000), general)
	chars, _ := tm.mem.GetWord(0x2018 + 510*4)
	assert.Equal(t, uint32(0x40000000), chars)

	putCHSC(t, tm, 0x2000, 0x10, chscSCSC, 0x00010000)
	_, irc = tm.exec(OpCHSC, 0, 0x2000)
	require.Zero(t, irc)
	_, code, _ = chscResult(t, tm, 0x2010)
	assert.Equal(t, chscBadFormat, code)
}

func TestCHSCDomainAttributes(t *testing.T) {
	tm := newTestMachine(t, true)
	putCHSC(t, tm, 0x2000, 0x400, chscSDA, uint32(sdaMSS))
	_, irc := tm.exec(OpCHSC, 0, 0x2000)
	require.Zero(t, irc)
	_, code, _ := chscResult(t, tm, 0x2400)
	assert.Equal(t, chscOK, code)
	_, maxSsID := tm.css.MaxIDs()
	assert.Equal(t, uint8(css.MaxSsID), maxSsID)

	putCHSC(t, tm, 0x2000, 0x400, chscSDA, uint32(sdaMCSSE))
	_, irc = tm.exec(OpCHSC, 0, 0x2000)
	require.Zero(t, irc)
	maxCssID, _ := tm.css.MaxIDs()
	assert.Equal(t, uint8(css.MaxCssID), maxCssID)

	putCHSC(t, tm, 0x2000, 0x400, chscSDA, 7)
	_, irc = tm.exec(OpCHSC, 0, 0x2000)
	require.Zero(t, irc)
	_, code, _ = chscResult(t, tm, 0x2400)
	assert.Equal(t, chscBadRequest, code)

	putCHSC(t, tm, 0x2000, 0x10, chscSDA)
	_, irc = tm.exec(OpCHSC, 0, 0x2000)
	require.Zero(t, irc)
	_, code, _ = chscResult(t, tm, 0x2010)
	assert.Equal(t, chscBadRequest, code)
}

func TestCHSCEventInformation(t *testing.T) {
	tm := newTestMachine(t, true)
	putCHSC(t, tm, 0x2000, 0x10, chscSEI)
	_, irc := tm.exec(OpCHSC, 0, 0x2000)
	require.Zero(t, irc)
	length, code, _ := chscResult(t, tm, 0x2010)
	assert.Equal(t, chscNoEvent, code)
	assert.Equal(t, uint16(8), length)
}
