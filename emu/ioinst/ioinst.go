/*
 * S390  - I/O instruction handlers
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
	"errors"
	"fmt"

	"github.com/rcornwell/S390/emu/crw"
	"github.com/rcornwell/S390/emu/css"
	"github.com/rcornwell/S390/emu/flic"
	mem "github.com/rcornwell/S390/emu/memory"
	"github.com/rcornwell/S390/util/debug"
)

// Instruction opcodes.
const (
	OpCSCH  uint16 = 0xb230 // Clear subchannel
	OpHSCH  uint16 = 0xb231 // Halt subchannel
	OpMSCH  uint16 = 0xb232 // Modify subchannel
	OpSSCH  uint16 = 0xb233 // Start subchannel
	OpSTSCH uint16 = 0xb234 // Store subchannel
	OpTSCH  uint16 = 0xb235 // Test subchannel
	OpTPI   uint16 = 0xb236 // Test pending interruption
	OpSAL   uint16 = 0xb237 // Set address limit
	OpRSCH  uint16 = 0xb238 // Resume subchannel
	OpSTCRW uint16 = 0xb239 // Store channel report word
	OpSTCPS uint16 = 0xb23a // Store channel path status
	OpRCHP  uint16 = 0xb23b // Reset channel path
	OpSCHM  uint16 = 0xb23c // Set channel monitor
	OpCHSC  uint16 = 0xb25f // Channel subsystem call
	OpSIGA  uint16 = 0xb274 // Signal adapter
	OpXSCH  uint16 = 0xb276 // Cancel subchannel
	OpSIC   uint16 = 0xebd1 // Set interruption controls
)

// Program interruption codes.
const (
	IrcOper    uint16 = 0x0001 // Operation exception
	IrcPriv    uint16 = 0x0002 // Privileged operation
	IrcProt    uint16 = 0x0004 // Protection exception
	IrcAddr    uint16 = 0x0005 // Addressing exception
	IrcSpec    uint16 = 0x0006 // Specification exception
	IrcOperand uint16 = 0x0015 // Operand exception
)

// Subsystem identification word in general register 1.
const (
	schidOne   uint32 = 0x00010000
	schidM     uint32 = 0x00080000
	schidCssID uint32 = 0xff000000
	schidSsID  uint32 = 0x00060000
	schidNr    uint32 = 0x0000ffff
)

// I/O interruption code in low storage.
const (
	LowcoreSubchannelID uint64 = 0xb8
	LowcoreSubchannelNr uint64 = 0xba
	LowcoreIOIntParm    uint64 = 0xbc
	LowcoreIOIntWord    uint64 = 0xc0
)

// Debug options.
const (
	debugInst = 1 << iota
	debugCHSC
)

var debugOption = debug.Options{
	"INST": debugInst,
	"CHSC": debugCHSC,
}

var names = map[uint16]string{
	OpCSCH:  "csch",
	OpHSCH:  "hsch",
	OpMSCH:  "msch",
	OpSSCH:  "ssch",
	OpSTSCH: "stsch",
	OpTSCH:  "tsch",
	OpTPI:   "tpi",
	OpSAL:   "sal",
	OpRSCH:  "rsch",
	OpSTCRW: "stcrw",
	OpSTCPS: "stcps",
	OpRCHP:  "rchp",
	OpSCHM:  "schm",
	OpCHSC:  "chsc",
	OpSIGA:  "siga",
	OpXSCH:  "xsch",
	OpSIC:   "sic",
}

var errStore = errors.New("store failed")

// Decoded I/O instruction. CC is set by instructions that change
// the condition code.
type Request struct {
	Op      uint16
	Reg1    uint64 // General register 1, or R1 for SIC
	Reg2    uint64 // General register 2 for SCHM, R3 for SIC
	Addr    uint64 // Second operand address
	Key     uint8  // PSW access key
	Problem bool   // Problem state
	CR6     uint64 // I/O interruption subclass mask
	CC      uint8
}

// Executes I/O instructions against a channel subsystem.
type Handler struct {
	css      *css.ChannelSubsystem
	flic     *flic.FLIC
	mem      *mem.Memory
	crws     *crw.Queue
	debugMsk int
	metrics  *metrics
}

// Create handler for channel subsystem.
func New(c *css.ChannelSubsystem, f *flic.FLIC) *Handler {
	return &Handler{
		css:     c,
		flic:    f,
		mem:     c.Memory(),
		crws:    c.CRWs(),
		metrics: newMetrics(),
	}
}

// Enable debug option.
func (h *Handler) Debug(opt string) error {
	return debugOption.Set(&h.debugMsk, opt)
}

// Name of an opcode.
func Name(op uint16) string {
	if name, ok := names[op]; ok {
		return name
	}
	return fmt.Sprintf("%04x", op)
}

// Execute instruction. Returns program interruption code, 0 if
// instruction completed.
func (h *Handler) Execute(req *Request) uint16 {
	name, ok := names[req.Op]
	if !ok {
		return IrcOper
	}
	if req.Problem {
		h.metrics.exceptions.WithLabelValues(name).Inc()
		return IrcPriv
	}
	irc := h.execute(req)
	h.metrics.instructions.WithLabelValues(name).Inc()
	if irc != 0 {
		h.metrics.exceptions.WithLabelValues(name).Inc()
	}
	debug.Debugf("IOINST", h.debugMsk, debugInst, "%s reg1=%08x addr=%x cc=%d irc=%04x",
		name, req.Reg1, req.Addr, req.CC, irc)
	return irc
}

func (h *Handler) execute(req *Request) uint16 {
	switch req.Op {
	case OpCSCH:
		return h.subchannelOp(req, (*css.Subchannel).DoCSCH)
	case OpHSCH:
		return h.subchannelOp(req, (*css.Subchannel).DoHSCH)
	case OpRSCH:
		return h.subchannelOp(req, (*css.Subchannel).DoRSCH)
	case OpXSCH:
		return h.subchannelOp(req, (*css.Subchannel).DoXSCH)
	case OpMSCH:
		return h.msch(req)
	case OpSSCH:
		return h.ssch(req)
	case OpSTSCH:
		return h.stsch(req)
	case OpTSCH:
		return h.tsch(req)
	case OpTPI:
		return h.tpi(req)
	case OpSAL:
		// Address limit checking is not provided.
		if (req.Reg1 & 0x80000000) != 0 {
			return IrcOperand
		}
	case OpSTCRW:
		return h.stcrw(req)
	case OpSTCPS:
		// Suppressed, nothing stored.
	case OpRCHP:
		return h.rchp(req)
	case OpSCHM:
		return h.schm(req)
	case OpCHSC:
		return h.chsc(req)
	case OpSIGA:
		// No adapters that use signal adapter.
		req.CC = 3
	case OpSIC:
		return h.sic(req)
	}
	return 0
}

// Decode subsystem identification word.
func schIdent(reg1 uint64) (m bool, cssid uint8, ssid uint8, schid uint16, ok bool) {
	value := uint32(reg1)
	if (value & schidOne) == 0 {
		return
	}
	if (value & schidM) == 0 {
		if (value & schidCssID) != 0 {
			return
		}
	} else {
		m = true
		cssid = uint8(value >> 24)
	}
	ssid = uint8((value & schidSsID) >> 17)
	schid = uint16(value & schidNr)
	ok = true
	return
}

// Build identification word for general register 1.
func Ident(m bool, cssid uint8, ssid uint8, schid uint16) uint64 {
	value := schidOne | uint32(ssid)<<17 | uint32(schid)
	if m {
		value |= schidM | uint32(cssid)<<24
	}
	return uint64(value)
}

// Find subchannel addressed by register 1. Returns false if the
// identification word is invalid, nil subchannel if not operational.
func (h *Handler) subchannel(reg1 uint64) (*css.Subchannel, bool) {
	m, cssid, ssid, schid, ok := schIdent(reg1)
	if !ok {
		return nil, false
	}
	sch := h.css.FindSubch(m, cssid, ssid, schid)
	if sch == nil || !h.css.Visible(sch) {
		return nil, true
	}
	return sch, true
}

// Map storage error to program interruption code.
func accessIRC(err error) uint16 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, mem.ErrProtection):
		return IrcProt
	default:
		return IrcAddr
	}
}

func (h *Handler) fetch(addr uint64, buf []byte, key uint8) uint16 {
	return accessIRC(h.mem.ReadKey(addr, buf, key))
}

func (h *Handler) store(addr uint64, buf []byte, key uint8) uint16 {
	return accessIRC(h.mem.WriteKey(addr, buf, key))
}

func (h *Handler) checkStore(addr uint64, length int, key uint8) uint16 {
	return accessIRC(h.mem.CheckWrite(addr, length, key))
}

// Clear, halt, resume and cancel subchannel.
func (h *Handler) subchannelOp(req *Request, fn func(*css.Subchannel) error) uint16 {
	sch, ok := h.subchannel(req.Reg1)
	if !ok {
		return IrcOperand
	}
	if sch == nil {
		req.CC = 3
		return 0
	}
	req.CC = css.CondCode(fn(sch))
	return 0
}

func (h *Handler) msch(req *Request) uint16 {
	if (req.Addr & 3) != 0 {
		return IrcSpec
	}
	buf := make([]byte, css.SchibSize)
	if irc := h.fetch(req.Addr, buf, req.Key); irc != 0 {
		return irc
	}
	var schib css.Schib
	if err := schib.Unmarshal(buf); err != nil {
		return IrcOperand
	}
	sch, ok := h.subchannel(req.Reg1)
	if !ok || !schib.Valid() {
		return IrcOperand
	}
	if sch == nil {
		req.CC = 3
		return 0
	}
	req.CC = css.CondCode(sch.DoMSCH(&schib))
	return 0
}

func (h *Handler) ssch(req *Request) uint16 {
	if (req.Addr & 3) != 0 {
		return IrcSpec
	}
	buf := make([]byte, css.ORBSize)
	if irc := h.fetch(req.Addr, buf, req.Key); irc != 0 {
		return irc
	}
	var orb css.ORB
	if err := orb.Unmarshal(buf); err != nil {
		return IrcOperand
	}
	sch, ok := h.subchannel(req.Reg1)
	if !ok || !orb.Valid() {
		return IrcOperand
	}
	if sch == nil {
		req.CC = 3
		return 0
	}
	req.CC = css.CondCode(sch.DoSSCH(&orb))
	return 0
}

// Store subchannel. Access exceptions are recognized before operand
// exceptions and before condition code 3.
func (h *Handler) stsch(req *Request) uint16 {
	if (req.Addr & 3) != 0 {
		return IrcSpec
	}
	if irc := h.checkStore(req.Addr, css.SchibSize, req.Key); irc != 0 {
		return irc
	}
	m, cssid, ssid, schid, ok := schIdent(req.Reg1)
	if !ok {
		return IrcOperand
	}
	var schib css.Schib
	sch := h.css.FindSubch(m, cssid, ssid, schid)
	switch {
	case sch != nil && h.css.Visible(sch):
		schib = sch.Schib()
	case sch != nil, h.css.SchidFinal(m, cssid, ssid, schid):
		req.CC = 3
		return 0
	}
	// Unused subchannel below the last one stores an empty schib.
	if irc := h.store(req.Addr, schib.Marshal(), req.Key); irc != 0 {
		return irc
	}
	req.CC = 0
	return 0
}

// Test subchannel. Operand exception is recognized before
// specification.
func (h *Handler) tsch(req *Request) uint16 {
	sch, ok := h.subchannel(req.Reg1)
	if !ok {
		return IrcOperand
	}
	if (req.Addr & 3) != 0 {
		return IrcSpec
	}
	irbLen := css.IRBSize - css.IRBEMWSize
	if sch == nil {
		if irc := h.checkStore(req.Addr, irbLen, req.Key); irc != 0 {
			return irc
		}
		req.CC = 3
		return 0
	}
	var irc uint16
	cc, err := sch.DoTSCH(func(irb []byte) error {
		irc = h.store(req.Addr, irb, req.Key)
		if irc != 0 {
			return errStore
		}
		return nil
	})
	if err != nil {
		return irc
	}
	if cc == 3 {
		if irc := h.checkStore(req.Addr, irbLen, req.Key); irc != 0 {
			return irc
		}
	}
	req.CC = cc
	return 0
}

// Test pending interruption. Address zero stores the full interruption
// code in low storage, otherwise the first 8 bytes go to the operand.
func (h *Handler) tpi(req *Request) uint16 {
	if (req.Addr & 3) != 0 {
		return IrcSpec
	}
	io, ok := h.flic.DequeueIO(req.CR6)
	if !ok {
		req.CC = 0
		return 0
	}
	var err error
	if req.Addr == 0 {
		err = h.mem.Write(LowcoreSubchannelID, interruptCode(io, true))
	} else {
		err = h.mem.WriteKey(req.Addr, interruptCode(io, false), req.Key)
	}
	if err != nil {
		h.flic.InjectIO(io.ID, io.Nr, io.Parm, io.Word)
		return accessIRC(err)
	}
	req.CC = 1
	return 0
}

// Build I/O interruption code, with or without interruption word.
func interruptCode(io flic.IOInterrupt, word bool) []byte {
	size := 8
	if word {
		size = 12
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:], io.ID)
	binary.BigEndian.PutUint16(buf[2:], io.Nr)
	binary.BigEndian.PutUint32(buf[4:], io.Parm)
	if word {
		binary.BigEndian.PutUint32(buf[8:], io.Word)
	}
	return buf
}

// Store channel report word. An empty queue stores zeros.
func (h *Handler) stcrw(req *Request) uint16 {
	if (req.Addr & 3) != 0 {
		return IrcSpec
	}
	report, ok := h.crws.Dequeue()
	if irc := h.store(req.Addr, report.Marshal(), req.Key); irc != 0 {
		if ok {
			h.crws.Undo(report)
		}
		return irc
	}
	if ok {
		req.CC = 0
	} else {
		req.CC = 1
	}
	return 0
}

func (h *Handler) rchp(req *Request) uint16 {
	reg1 := uint32(req.Reg1)
	if (reg1 & 0xff00ff00) != 0 {
		return IrcOperand
	}
	err := h.css.DoRCHP(uint8(reg1>>16), uint8(reg1))
	switch {
	case err == nil:
		req.CC = 0
	case errors.Is(err, css.ErrNoDevice):
		req.CC = 3
	case errors.Is(err, css.ErrBusy):
		req.CC = 2
	default:
		return IrcOperand
	}
	return 0
}

// Set channel monitor. Register 2 holds the measurement block origin.
func (h *Handler) schm(req *Request) uint16 {
	reg1 := uint32(req.Reg1)
	if (reg1 & 0x0ffffffc) != 0 {
		return IrcOperand
	}
	update := (reg1 & 0x2) != 0
	if update && (req.Reg2&0x1f) != 0 {
		return IrcOperand
	}
	h.css.DoSCHM(uint8(reg1>>28), update, (reg1&0x1) != 0, req.Reg2)
	return 0
}

func (h *Handler) sic(req *Request) uint16 {
	mode := uint16(req.Reg1)
	isc := uint8(req.Reg2>>27) & 0x7
	err := h.css.DoSIC(isc, mode)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, css.ErrNotSupported):
		return IrcOper
	default:
		return IrcOperand
	}
}
