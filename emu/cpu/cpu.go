/*
 * S390  - Virtual CPU interrupt acceptance and delivery
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
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rcornwell/S390/emu/flic"
	"github.com/rcornwell/S390/emu/ioinst"
	mem "github.com/rcornwell/S390/emu/memory"
)

// PSW mask bits.
const (
	PSWMaskPER     uint64 = 0x4000000000000000 // Program event recording
	PSWMaskDAT     uint64 = 0x0400000000000000 // Translation mode
	PSWMaskIO      uint64 = 0x0200000000000000 // I/O interrupts enabled
	PSWMaskExt     uint64 = 0x0100000000000000 // External interrupts enabled
	PSWMaskKey     uint64 = 0x00f0000000000000 // Access key
	PSWMaskKeyShft        = 52
	PSWMaskMchk    uint64 = 0x0004000000000000 // Machine checks enabled
	PSWMaskWait    uint64 = 0x0002000000000000 // Wait state
	PSWMaskProblem uint64 = 0x0001000000000000 // Problem state
	PSWMaskEA      uint64 = 0x0000000100000000 // Extended addressing
	PSWMaskBA      uint64 = 0x0000000080000000 // Basic addressing
)

// Control register subclass masks.
const (
	CR0ServiceSignal  uint64 = 0x0000000000000200 // CR0 service signal
	CR6ISCMask        uint64 = 0x00000000ff000000 // CR6 I/O interruption subclasses
	CR14ChannelReport uint64 = 0x0000000010000000 // CR14 channel report pending
)

// Low storage.
const (
	lcExtParams  uint64 = 0x080
	lcExtIntCode uint64 = 0x086
	lcPgmILC     uint64 = 0x08d
	lcPgmIntCode uint64 = 0x08e
	lcMchkCode   uint64 = 0x0e8
	lcExtOldPSW  uint64 = 0x130
	lcPgmOldPSW  uint64 = 0x150
	lcMchkOldPSW uint64 = 0x160
	lcIOOldPSW   uint64 = 0x170
	lcExtNewPSW  uint64 = 0x1b0
	lcPgmNewPSW  uint64 = 0x1d0
	lcMchkNewPSW uint64 = 0x1e0
	lcIONewPSW   uint64 = 0x1f0
)

const (
	extServiceSignal  uint16 = 0x2401
	mcicChannelReport uint64 = 0x00400f1d40330000
)

// Interruption class.
type Class int

const (
	ClassNone Class = iota
	ClassMchk
	ClassExt
	ClassIO
	ClassProgram
)

func (c Class) String() string {
	switch c {
	case ClassMchk:
		return "mchk"
	case ClassExt:
		return "ext"
	case ClassIO:
		return "io"
	case ClassProgram:
		return "program"
	}
	return "none"
}

// Program status word.
type PSW struct {
	Mask uint64 `yaml:"mask"`
	Addr uint64 `yaml:"addr"`
}

// Virtual CPU. Instructions are not interpreted, the CPU only tracks
// the state needed to accept and present interrupts and to issue
// I/O instructions.
type CPU struct {
	mu       sync.Mutex
	addr     int
	psw      PSW
	regs     [16]uint64
	cregs    [16]uint64
	cc       uint8
	halted   bool
	checkIRQ atomic.Bool
	wake     chan struct{}
	mem      *mem.Memory
	flic     *flic.FLIC
	io       *ioinst.Handler
	metrics  *metrics
}

// Dumpable CPU state.
type State struct {
	Addr     int    `yaml:"addr"`
	PSW      PSW    `yaml:"psw"`
	CR0      uint64 `yaml:"cr0"`
	CR6      uint64 `yaml:"cr6"`
	CR14     uint64 `yaml:"cr14"`
	CC       uint8  `yaml:"cc"`
	Halted   bool   `yaml:"halted"`
	CheckIRQ bool   `yaml:"check_irq"`
}

func newCPU(addr int, m *mem.Memory, f *flic.FLIC, io *ioinst.Handler, mt *metrics) *CPU {
	c := &CPU{
		addr:    addr,
		wake:    make(chan struct{}, 1),
		mem:     m,
		flic:    f,
		io:      io,
		metrics: mt,
	}
	c.reset()
	return c
}

// CPU address.
func (c *CPU) Addr() int {
	return c.addr
}

func (c *CPU) reset() {
	c.psw = PSW{}
	c.regs = [16]uint64{}
	c.cregs = [16]uint64{}
	c.cregs[0] = 0x00000000000000e0
	c.cregs[14] = 0x00000000c2000000
	c.cc = 0
	c.halted = false
	c.checkIRQ.Store(false)
}

// Initial CPU reset.
func (c *CPU) Reset() {
	c.mu.Lock()
	c.reset()
	c.mu.Unlock()
}

func (c *CPU) PSW() PSW {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.psw
}

// Load a new PSW. Enabling interrupts rechecks what is pending.
func (c *CPU) SetPSW(psw PSW) {
	c.mu.Lock()
	c.psw = psw
	c.mu.Unlock()
	c.checkIRQ.Store(true)
}

func (c *CPU) Reg(n int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[n&0xf]
}

func (c *CPU) SetReg(n int, value uint64) {
	c.mu.Lock()
	c.regs[n&0xf] = value
	c.mu.Unlock()
}

func (c *CPU) CR(n int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cregs[n&0xf]
}

func (c *CPU) SetCR(n int, value uint64) {
	c.mu.Lock()
	c.cregs[n&0xf] = value
	c.mu.Unlock()
	c.checkIRQ.Store(true)
}

// Condition code of last instruction.
func (c *CPU) CC() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cc
}

// True when interrupts should be scanned.
func (c *CPU) CheckIRQ() bool {
	return c.checkIRQ.Load()
}

func (c *CPU) Halted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

// Enter wait state. Returns true if an interrupt the CPU accepts is
// already pending, the CPU is then left running.
func (c *CPU) Halt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accepts(c.flic.Pending()) {
		return true
	}
	c.halted = true
	c.psw.Mask |= PSWMaskWait
	return false
}

// Block until woken up or ctx is done.
func (c *CPU) Wait(ctx context.Context) error {
	select {
	case <-c.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave wait state.
func (c *CPU) wakeup() {
	c.halted = false
	c.metrics.wakeups.Inc()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Check if CPU would take an interrupt from pending classes.
func (c *CPU) accepts(pending uint32) bool {
	mask := c.psw.Mask
	if (mask&PSWMaskIO) != 0 && (pending&flic.CR6ToPending(c.cregs[6])) != 0 {
		return true
	}
	if (mask&PSWMaskExt) != 0 && (c.cregs[0]&CR0ServiceSignal) != 0 &&
		(pending&flic.PendingService) != 0 {
		return true
	}
	return (mask&PSWMaskMchk) != 0 && (c.cregs[14]&CR14ChannelReport) != 0 &&
		(pending&flic.PendingCrwMchk) != 0
}

// Called by the floating interrupt controller.
func (c *CPU) notify(pending uint32) {
	c.checkIRQ.Store(true)
	c.mu.Lock()
	if c.halted && c.accepts(pending) {
		c.wakeup()
	}
	c.mu.Unlock()
}

// Store current PSW at old, load new one.
func (c *CPU) swapPSW(oldPSW uint64, newPSW uint64) {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:], c.psw.Mask)
	binary.BigEndian.PutUint64(buf[8:], c.psw.Addr)
	if err := c.mem.Write(oldPSW, buf); err != nil {
		slog.Error("CPU store old PSW", "cpu", c.addr, "addr", fmt.Sprintf("%x", oldPSW), "error", err)
	}
	if err := c.mem.Read(newPSW, buf); err != nil {
		slog.Error("CPU load new PSW", "cpu", c.addr, "addr", fmt.Sprintf("%x", newPSW), "error", err)
	}
	c.psw.Mask = binary.BigEndian.Uint64(buf[0:])
	c.psw.Addr = binary.BigEndian.Uint64(buf[8:])
	c.halted = (c.psw.Mask & PSWMaskWait) != 0
}

// Present the highest priority interrupt the CPU is enabled for,
// machine check first, then external, then I/O. Must only be called
// from the goroutine running the CPU.
func (c *CPU) Deliver() Class {
	if !c.checkIRQ.Swap(false) {
		return ClassNone
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	class := c.deliver()
	if class != ClassNone {
		c.checkIRQ.Store(true)
		c.metrics.delivered.WithLabelValues(class.String()).Inc()
	}
	return class
}

func (c *CPU) deliver() Class {
	mask := c.psw.Mask
	if (mask&PSWMaskMchk) != 0 && (c.cregs[14]&CR14ChannelReport) != 0 && c.flic.HasCrwMchk() {
		c.flic.DequeueCrwMchk()
		c.mem.PutDouble(lcMchkCode, mcicChannelReport)
		c.swapPSW(lcMchkOldPSW, lcMchkNewPSW)
		slog.Debug("CPU machine check", "cpu", c.addr)
		return ClassMchk
	}
	if (mask&PSWMaskExt) != 0 && (c.cregs[0]&CR0ServiceSignal) != 0 && c.flic.HasService() {
		parm := c.flic.DequeueService()
		c.mem.PutWord(lcExtParams, parm)
		c.mem.PutHalf(lcExtIntCode, extServiceSignal)
		c.swapPSW(lcExtOldPSW, lcExtNewPSW)
		slog.Debug("CPU service signal", "cpu", c.addr, "parm", parm)
		return ClassExt
	}
	if (mask & PSWMaskIO) != 0 {
		io, ok := c.flic.DequeueIO(c.cregs[6])
		if ok {
			c.mem.PutHalf(ioinst.LowcoreSubchannelID, io.ID)
			c.mem.PutHalf(ioinst.LowcoreSubchannelNr, io.Nr)
			c.mem.PutWord(ioinst.LowcoreIOIntParm, io.Parm)
			c.mem.PutWord(ioinst.LowcoreIOIntWord, io.Word)
			c.swapPSW(lcIOOldPSW, lcIONewPSW)
			slog.Debug("CPU io interrupt", "cpu", c.addr, "id", io.ID, "nr", io.Nr, "isc", io.ISC())
			return ClassIO
		}
	}
	return ClassNone
}

// Take a program interruption.
func (c *CPU) programCheck(irc uint16) {
	c.mem.PutByte(lcPgmILC, 4)
	c.mem.PutHalf(lcPgmIntCode, irc)
	c.swapPSW(lcPgmOldPSW, lcPgmNewPSW)
	c.metrics.delivered.WithLabelValues(ClassProgram.String()).Inc()
}

// Issue I/O instruction with operand address addr. General registers
// 1 and 2 are the implied operands, for SIC r1 and r3 are passed in
// registers 1 and 2. A program check is taken when the instruction
// is not completed.
func (c *CPU) ExecuteIO(op uint16, addr uint64) (uint8, uint16) {
	c.mu.Lock()
	req := &ioinst.Request{
		Op:      op,
		Reg1:    c.regs[1],
		Reg2:    c.regs[2],
		Addr:    addr,
		Key:     uint8((c.psw.Mask & PSWMaskKey) >> PSWMaskKeyShft),
		Problem: (c.psw.Mask & PSWMaskProblem) != 0,
		CR6:     c.cregs[6],
		CC:      c.cc,
	}
	c.mu.Unlock()

	// Subchannel functions may raise interrupts, which call back
	// into the CPU, so no lock is held here.
	irc := c.io.Execute(req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if irc != 0 {
		c.programCheck(irc)
		return c.cc, irc
	}
	c.cc = req.CC
	return c.cc, 0
}

// Current state.
func (c *CPU) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Addr:     c.addr,
		PSW:      c.psw,
		CR0:      c.cregs[0],
		CR6:      c.cregs[6],
		CR14:     c.cregs[14],
		CC:       c.cc,
		Halted:   c.halted,
		CheckIRQ: c.checkIRQ.Load(),
	}
}
