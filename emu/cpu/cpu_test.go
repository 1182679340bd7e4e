/*
 * S390  - Virtual CPU tests
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

package cpu

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcornwell/S390/emu/crw"
	"github.com/rcornwell/S390/emu/css"
	"github.com/rcornwell/S390/emu/flic"
	"github.com/rcornwell/S390/emu/ioinst"
	mem "github.com/rcornwell/S390/emu/memory"
)

const (
	allISC  uint64 = 0xff000000
	isc3CR6 uint64 = 0x10000000
)

type testMachine struct {
	cpus *Set
	flic *flic.FLIC
	crws *crw.Queue
	mem  *mem.Memory
}

func newTestMachine(t *testing.T, n int) *testMachine {
	t.Helper()
	f := flic.New(true)
	q := crw.New(16, f)
	m := mem.New(64)
	c := css.New(m, f, q)
	require.NoError(t, c.CreateImage(0xfe, true))
	return &testMachine{cpus: NewSet(n, m, f, ioinst.New(c, f)), flic: f, crws: q, mem: m}
}

// Put new PSW at lowcore location.
func (tm *testMachine) newPSW(t *testing.T, addr uint64, psw PSW) {
	t.Helper()
	require.False(t, tm.mem.PutDouble(addr, psw.Mask))
	require.False(t, tm.mem.PutDouble(addr+8, psw.Addr))
}

func TestNewSet(t *testing.T) {
	tm := newTestMachine(t, 0)
	assert.Equal(t, 1, tm.cpus.Len())
	tm = newTestMachine(t, 200)
	assert.Equal(t, MaxCPUs, tm.cpus.Len())
	assert.Nil(t, tm.cpus.CPU(-1))
	assert.Nil(t, tm.cpus.CPU(MaxCPUs))
	assert.Equal(t, 3, tm.cpus.CPU(3).Addr())
	assert.Len(t, tm.cpus.Collectors(), 3)
}

func TestDeliverIO(t *testing.T) {
	tm := newTestMachine(t, 1)
	c := tm.cpus.CPU(0)
	c.SetPSW(PSW{Mask: PSWMaskIO | PSWMaskEA | PSWMaskBA, Addr: 0x1234})
	c.SetCR(6, isc3CR6)
	tm.newPSW(t, lcIONewPSW, PSW{Mask: PSWMaskEA | PSWMaskBA, Addr: 0x8000})

	assert.Equal(t, ClassNone, c.Deliver())
	assert.False(t, c.CheckIRQ())

	tm.flic.InjectIO(1, 7, 0xcafe, 3<<27)
	assert.True(t, c.CheckIRQ())
	assert.Equal(t, ClassIO, c.Deliver())

	id, _ := tm.mem.GetHalf(0xb8)
	nr, _ := tm.mem.GetHalf(0xba)
	parm, _ := tm.mem.GetWord(0xbc)
	word, _ := tm.mem.GetWord(0xc0)
	assert.Equal(t, uint16(1), id)
	assert.Equal(t, uint16(7), nr)
	assert.Equal(t, uint32(0xcafe), parm)
	assert.Equal(t, uint32(3<<27), word)

	oldMask, _ := tm.mem.GetDouble(lcIOOldPSW)
	oldAddr, _ := tm.mem.GetDouble(lcIOOldPSW + 8)
	assert.Equal(t, PSWMaskIO|PSWMaskEA|PSWMaskBA, oldMask)
	assert.Equal(t, uint64(0x1234), oldAddr)
	assert.Equal(t, PSW{Mask: PSWMaskEA | PSWMaskBA, Addr: 0x8000}, c.PSW())

	// Disabled by the new PSW.
	tm.flic.InjectIO(1, 8, 0, 3<<27)
	assert.Equal(t, ClassNone, c.Deliver())
	assert.True(t, tm.flic.HasIO(allISC))
}

func TestSubclassMask(t *testing.T) {
	tm := newTestMachine(t, 1)
	c := tm.cpus.CPU(0)
	c.SetPSW(PSW{Mask: PSWMaskIO})
	c.SetCR(6, 0x80000000)
	tm.flic.InjectIO(1, 7, 0, 3<<27)
	assert.Equal(t, ClassNone, c.Deliver())

	c.SetCR(6, isc3CR6)
	assert.Equal(t, ClassIO, c.Deliver())
}

// Machine check is presented before external, external before I/O.
func TestDeliverPriority(t *testing.T) {
	tm := newTestMachine(t, 1)
	c := tm.cpus.CPU(0)
	enabled := PSW{Mask: PSWMaskIO | PSWMaskExt | PSWMaskMchk}
	for _, addr := range []uint64{lcIONewPSW, lcExtNewPSW, lcMchkNewPSW} {
		tm.newPSW(t, addr, enabled)
	}
	c.SetPSW(enabled)
	c.SetCR(0, CR0ServiceSignal)
	c.SetCR(6, allISC)
	c.SetCR(14, CR14ChannelReport)

	tm.flic.InjectIO(1, 1, 0, 0)
	tm.flic.InjectService(0x10)
	tm.crws.Queue(crw.RscSubch, crw.ErcIPI, false, false, 1)

	assert.Equal(t, ClassMchk, c.Deliver())
	code, _ := tm.mem.GetDouble(lcMchkCode)
	assert.Equal(t, mcicChannelReport, code)

	assert.Equal(t, ClassExt, c.Deliver())
	extCode, _ := tm.mem.GetHalf(lcExtIntCode)
	parm, _ := tm.mem.GetWord(lcExtParams)
	assert.Equal(t, extServiceSignal, extCode)
	assert.Equal(t, uint32(0x10), parm)

	assert.Equal(t, ClassIO, c.Deliver())
	assert.Equal(t, ClassNone, c.Deliver())
	assert.False(t, c.CheckIRQ())
}

func TestNotifyAllCPUs(t *testing.T) {
	tm := newTestMachine(t, 3)
	tm.flic.InjectService(1)
	for _, c := range tm.cpus.All() {
		assert.True(t, c.CheckIRQ(), "cpu %d", c.Addr())
	}
}

// Only a halted CPU enabled for the class is woken.
func TestWakeHalted(t *testing.T) {
	tm := newTestMachine(t, 2)
	enabled := tm.cpus.CPU(0)
	disabled := tm.cpus.CPU(1)
	enabled.SetPSW(PSW{Mask: PSWMaskIO})
	enabled.SetCR(6, isc3CR6)
	disabled.SetPSW(PSW{})
	assert.False(t, enabled.Halt())
	assert.False(t, disabled.Halt())
	assert.NotZero(t, enabled.PSW().Mask&PSWMaskWait)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- enabled.Wait(ctx)
	}()
	tm.flic.InjectIO(1, 2, 0, 3<<27)
	require.NoError(t, <-done)
	assert.False(t, enabled.Halted())
	assert.True(t, disabled.Halted())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, disabled.Wait(ctx), context.DeadlineExceeded)
}

func TestHaltWithPending(t *testing.T) {
	tm := newTestMachine(t, 1)
	c := tm.cpus.CPU(0)
	c.SetPSW(PSW{Mask: PSWMaskExt})
	c.SetCR(0, CR0ServiceSignal)
	tm.flic.InjectService(4)
	assert.True(t, c.Halt())
	assert.False(t, c.Halted())
}

// Program check from an I/O instruction in problem state.
func TestExecuteIO(t *testing.T) {
	tm := newTestMachine(t, 1)
	c := tm.cpus.CPU(0)
	tm.newPSW(t, lcPgmNewPSW, PSW{Addr: 0x9000})

	c.SetReg(1, 0x00010000)
	cc, irc := c.ExecuteIO(ioinst.OpSTSCH, 0x800)
	assert.Zero(t, irc)
	assert.Equal(t, uint8(3), cc)
	assert.Equal(t, uint8(3), c.CC())

	c.SetPSW(PSW{Mask: PSWMaskProblem, Addr: 0x100})
	_, irc = c.ExecuteIO(ioinst.OpSTSCH, 0x800)
	assert.Equal(t, ioinst.IrcPriv, irc)
	code, _ := tm.mem.GetHalf(lcPgmIntCode)
	assert.Equal(t, ioinst.IrcPriv, code)
	assert.Equal(t, uint64(0x9000), c.PSW().Addr)

	// Access key comes from the PSW.
	tm.mem.PutKey(0x4000, 0x30)
	c.SetPSW(PSW{Mask: 2 << PSWMaskKeyShft})
	_, irc = c.ExecuteIO(ioinst.OpSTSCH, 0x4000)
	assert.Equal(t, ioinst.IrcProt, irc)
	c.SetPSW(PSW{Mask: 3 << PSWMaskKeyShft})
	_, irc = c.ExecuteIO(ioinst.OpSTSCH, 0x4000)
	assert.Zero(t, irc)
}

func TestResetState(t *testing.T) {
	tm := newTestMachine(t, 2)
	c := tm.cpus.CPU(1)
	c.SetPSW(PSW{Mask: PSWMaskIO, Addr: 0x400})
	c.SetCR(6, allISC)
	c.SetReg(1, 5)
	tm.cpus.Reset()
	assert.Equal(t, PSW{}, c.PSW())
	assert.Zero(t, c.CR(6))
	assert.Zero(t, c.Reg(1))
	assert.Equal(t, uint64(0xe0), c.CR(0))

	states := tm.cpus.State()
	require.Len(t, states, 2)
	assert.Equal(t, 1, states[1].Addr)
	assert.False(t, states[1].Halted)
}
