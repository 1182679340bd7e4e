/*
 * S390  - Channel program interpreter
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

package css

import (
	"errors"
	"fmt"

	D "github.com/rcornwell/S390/emu/device"
	mem "github.com/rcornwell/S390/emu/memory"
)

const (
	dsFmt1   uint8 = 0x01 // Format 1 CCW, 31 bit addresses
	dsC64    uint8 = 0x02 // Format 2 IDAWs
	dsIDA    uint8 = 0x04 // Indirect data addressing
	dsBroken uint8 = 0x08 // Stream failed, no more transfers
)

// Data area of a CCW, walks IDAW lists when indirect.
type DataStream struct {
	mem     *mem.Memory
	key     uint8
	flags   uint8
	count   uint16
	atByte  uint16
	atIDAW  uint16
	cdaOrig uint64
	cda     uint64
	skip    bool
}

// Set up stream for a CCW.
func (ds *DataStream) init(m *mem.Memory, ccw CCW1, orb *ORB) {
	ds.mem = m
	ds.key = orb.Key()
	ds.flags = 0
	if (orb.Ctrl0 & ORBCtrl0C64) != 0 {
		ds.flags |= dsC64
	}
	if (orb.Ctrl0 & ORBCtrl0Fmt) != 0 {
		ds.flags |= dsFmt1
	}
	if (ccw.Flags & CCWFlagIDA) != 0 {
		ds.flags |= dsIDA
	}
	ds.count = ccw.Count
	ds.cdaOrig = uint64(ccw.CDA)
	// Skip only applies to read type commands
	ds.skip = (ccw.Flags&CCWFlagSkip) != 0 &&
		((ccw.Cmd&0x0f) == D.CmdSense || (ccw.Cmd&0x03) == D.CmdRead || (ccw.Cmd&0x0f) == D.CmdRdBwd)
	ds.Rewind()
}

// Start over at beginning of data area.
func (ds *DataStream) Rewind() {
	ds.atByte = 0
	ds.atIDAW = 0
	ds.cda = ds.cdaOrig
	ds.flags &^= dsBroken
}

// Bytes requested by CCW.
func (ds *DataStream) Count() uint16 {
	return ds.count
}

// Bytes not yet transferred.
func (ds *DataStream) Residual() uint16 {
	return ds.count - ds.atByte
}

// Bytes transferred so far.
func (ds *DataStream) Transferred() uint16 {
	return ds.atByte
}

// Store buf into guest data area.
func (ds *DataStream) Write(buf []byte) error {
	return ds.transfer(buf, true, false)
}

// Fetch guest data area into buf.
func (ds *DataStream) Read(buf []byte) error {
	return ds.transfer(buf, false, false)
}

// Move over n bytes without transfer.
func (ds *DataStream) Advance(n int) error {
	return ds.transfer(make([]byte, n), false, true)
}

// Mark stream broken when access past count.
func (ds *DataStream) checkLen(n int) error {
	if int(ds.atByte)+n > int(ds.count) {
		ds.flags |= dsBroken
	}
	if (ds.flags & dsBroken) != 0 {
		return fmt.Errorf("data stream length %d at %d of %d: %w", n, ds.atByte, ds.count, ErrInvalid)
	}
	return nil
}

// Check address in range for CCW format.
func (ds *DataStream) addrOK(addr uint64, n int) bool {
	limit := uint64(1) << 24
	if (ds.flags & dsFmt1) != 0 {
		limit = uint64(1) << 31
	}
	return addr+uint64(n) < limit
}

// Move data between buf and guest storage at current address.
func (ds *DataStream) move(buf []byte, write bool) error {
	if ds.skip && !write {
		// Skipped fetch still has to hand back something
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	if ds.skip {
		return nil
	}
	var err error
	if write {
		err = ds.mem.WriteKey(ds.cda, buf, ds.key)
	} else {
		err = ds.mem.ReadKey(ds.cda, buf, ds.key)
	}
	if err != nil {
		ds.flags |= dsBroken
		if errors.Is(err, mem.ErrProtection) {
			return err
		}
		return fmt.Errorf("data address %x: %w", ds.cda, ErrFault)
	}
	return nil
}

func (ds *DataStream) transfer(buf []byte, write bool, advance bool) error {
	n := len(buf)
	if err := ds.checkLen(n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if (ds.flags & dsIDA) != 0 {
		return ds.transferIDA(buf, write, advance)
	}
	if !ds.addrOK(ds.cda, n) {
		return fmt.Errorf("data address %x out of range: %w", ds.cda, ErrInvalid)
	}
	if !advance {
		if err := ds.move(buf, write); err != nil {
			return err
		}
	}
	ds.atByte += uint16(n)
	ds.cda += uint64(n)
	return nil
}

// IDA block size.
func (ds *DataStream) blockSize() uint64 {
	if (ds.flags & dsC64) != 0 {
		return 1 << 12
	}
	return 1 << 11
}

// Load next IDAW into cda.
func (ds *DataStream) nextIDAW() error {
	if (ds.flags & dsC64) != 0 {
		addr := ds.cdaOrig + 8*uint64(ds.atIDAW)
		if (addr&0x7) != 0 || !ds.addrOK(addr, 0) {
			return fmt.Errorf("idaw address %x: %w", addr, ErrInvalid)
		}
		ds.atIDAW++
		value, fail := ds.mem.GetDouble(addr)
		if fail {
			return fmt.Errorf("idaw address %x: %w", addr, ErrInvalid)
		}
		ds.cda = value
		return nil
	}
	addr := ds.cdaOrig + 4*uint64(ds.atIDAW)
	if (addr&0x3) != 0 || !ds.addrOK(addr, 0) {
		return fmt.Errorf("idaw address %x: %w", addr, ErrInvalid)
	}
	ds.atIDAW++
	value, fail := ds.mem.GetWord(addr)
	if fail {
		return fmt.Errorf("idaw address %x: %w", addr, ErrInvalid)
	}
	if (value & 0x80000000) != 0 {
		return fmt.Errorf("idaw %08x: %w", value, ErrInvalid)
	}
	ds.cda = uint64(value)
	return nil
}

func (ds *DataStream) transferIDA(buf []byte, write bool, advance bool) error {
	bsz := ds.blockSize()
	err := ds.walkIDA(buf, write, advance, bsz)
	if err != nil {
		ds.flags |= dsBroken
	}
	return err
}

func (ds *DataStream) walkIDA(buf []byte, write bool, advance bool, bsz uint64) error {
	left := bsz - (ds.cda & (bsz - 1))
	if ds.atIDAW == 0 {
		if err := ds.nextIDAW(); err != nil {
			return err
		}
		left = bsz - (ds.cda & (bsz - 1))
	} else if left == bsz {
		if err := ds.nextIDAW(); err != nil {
			return err
		}
		if (ds.cda & (bsz - 1)) != 0 {
			return fmt.Errorf("idaw %x not on block boundary: %w", ds.cda, ErrInvalid)
		}
	}
	for {
		n := uint64(len(buf))
		if n > left {
			n = left
		}
		if !advance {
			if err := ds.move(buf[:n], write); err != nil {
				return err
			}
		}
		ds.atByte += uint16(n)
		ds.cda += n
		buf = buf[n:]
		if len(buf) == 0 {
			return nil
		}
		if err := ds.nextIDAW(); err != nil {
			return err
		}
		if (ds.cda & (bsz - 1)) != 0 {
			return fmt.Errorf("idaw %x not on block boundary: %w", ds.cda, ErrInvalid)
		}
		left = bsz
	}
}

// Interpret one CCW at address.
func (s *Subchannel) interpretCCW(addr uint64, suspendAllowed bool) error {
	if addr == 0 {
		return fmt.Errorf("ccw address zero: %w", ErrInvalid)
	}
	mask := uint64(0xff000007)
	if s.fmt1 {
		mask = 0x80000007
	}
	if (addr & mask) != 0 {
		return fmt.Errorf("ccw address %x: %w", addr, ErrInvalid)
	}

	var raw [CCWSize]byte
	if err := s.css.mem.Read(addr, raw[:]); err != nil {
		return fmt.Errorf("ccw address %x: %w", addr, ErrInvalid)
	}
	ccw := DecodeCCW(raw[:], s.fmt1)
	s.debugf(debugCmd, "ccw %08x cmd=%02x flags=%02x count=%04x cda=%08x",
		addr, ccw.Cmd, ccw.Flags, ccw.Count, ccw.CDA)

	if (ccw.Cmd & 0x0f) == 0 {
		return fmt.Errorf("ccw command %02x: %w", ccw.Cmd, ErrInvalid)
	}
	if (ccw.Cmd&0x0f) == D.CmdTIC && (ccw.Cmd&0xf0) != 0 {
		return fmt.Errorf("ccw command %02x: %w", ccw.Cmd, ErrInvalid)
	}
	if !s.fmt1 && ccw.Count == 0 && ccw.Cmd != D.CmdTIC {
		return fmt.Errorf("format 0 ccw with zero count: %w", ErrInvalid)
	}
	if (ccw.Flags & CCWFlagMIDA) != 0 {
		return fmt.Errorf("midaw not supported: %w", ErrInvalid)
	}
	if (ccw.Flags & CCWFlagSuspend) != 0 {
		if suspendAllowed {
			return ErrInProgress
		}
		return fmt.Errorf("suspend not allowed: %w", ErrInvalid)
	}

	checkLen := !((ccw.Flags&CCWFlagSLI) != 0 && (ccw.Flags&CCWFlagDC) == 0)

	if ccw.CDA == 0 {
		if s.noDataCnt == 255 {
			return fmt.Errorf("too many ccws without data: %w", ErrInvalid)
		}
		s.noDataCnt++
	}

	s.stream.init(s.css.mem, ccw, &s.orb)
	var err error
	switch ccw.Cmd {
	case D.CmdNoop:
	case D.CmdSense:
		if checkLen && int(ccw.Count) != len(s.sense) {
			err = fmt.Errorf("sense count %d: %w", ccw.Count, ErrInvalid)
			break
		}
		n := min(int(ccw.Count), len(s.sense))
		err = s.stream.Write(s.sense[:n])
		s.schib.SCSW.Count = s.stream.Residual()
		if err == nil {
			s.sense = [D.SenseSize]byte{}
		}
	case D.CmdSenseID:
		id := s.id.Marshal()
		if checkLen && int(ccw.Count) != len(id) {
			err = fmt.Errorf("sense id count %d: %w", ccw.Count, ErrInvalid)
			break
		}
		n := min(int(ccw.Count), len(id))
		// Only flag valid data if at least the header fits
		if n >= 4 {
			id[0] = 0xff
		} else {
			id[0] = 0
		}
		err = s.stream.Write(id[:n])
		if err == nil {
			s.schib.SCSW.Count = s.stream.Residual()
		}
	case D.CmdTIC:
		if s.lastCmdValid && s.lastCmd.Cmd == D.CmdTIC {
			err = fmt.Errorf("tic to tic: %w", ErrInvalid)
			break
		}
		if ccw.Flags != 0 || ccw.Count != 0 {
			err = fmt.Errorf("tic with flags or count: %w", ErrInvalid)
			break
		}
		s.channelProg = uint64(ccw.CDA)
		err = ErrAgain
	default:
		if s.device != nil {
			err = s.device.HandleCCW(s, ccw)
			s.schib.SCSW.Count = s.stream.Residual()
		} else {
			err = ErrNotSupported
		}
	}
	s.lastCmd = ccw
	s.lastCmdValid = true
	if err == nil && (ccw.Flags&CCWFlagCC) != 0 {
		s.channelProg += CCWSize
		err = ErrAgain
	}
	return err
}

// End channel program with status.
func (s *Subchannel) endStatus(dstat uint8, cstat uint8, alert bool) {
	scsw := &s.schib.SCSW
	scsw.Ctrl &^= SCSWActlStartPend | SCSWStctlMask
	scsw.Ctrl |= SCSWStctlPrimary | SCSWStctlSecondary | SCSWStctlStatusPend
	if alert {
		scsw.Ctrl |= SCSWStctlAlert
	}
	scsw.DStat = dstat
	scsw.CStat = cstat
	scsw.CPA = uint32(s.channelProg + 8)
}

// Run start function, triggered by both SSCH and RSCH.
func (s *Subchannel) startFunc() {
	scsw := &s.schib.SCSW
	const path = 0x80
	suspendAllowed := true

	if (scsw.Ctrl & SCSWActlSusp) == 0 {
		orb := &s.orb
		scsw.CStat = 0
		scsw.DStat = 0
		s.schib.PMCW.IntParm = orb.IntParm
		if (orb.LPM & path) == 0 {
			// Deferred condition code 3
			scsw.Flags |= SCSWFlagCC
			scsw.Ctrl &^= SCSWStctlMask
			scsw.Ctrl |= SCSWStctlAlert | SCSWStctlStatusPend
			return
		}
		s.fmt1 = (orb.Ctrl0 & ORBCtrl0Fmt) != 0
		if s.fmt1 {
			scsw.Flags |= SCSWFlagFMT
		}
		s.noDataCnt = 0
		suspendAllowed = (orb.Ctrl0 & ORBCtrl0Spnd) != 0
	} else {
		scsw.Ctrl &^= SCSWActlSusp | SCSWActlResumePend
	}
	s.lastCmdValid = false

	for {
		err := s.interpretCCW(s.channelProg, suspendAllowed)
		switch {
		case errors.Is(err, ErrAgain):
			continue
		case err == nil:
			s.endStatus(D.StatusChnEnd|D.StatusDevEnd, 0, false)
		case errors.Is(err, ErrIO):
			// Device already set status
		case errors.Is(err, ErrNotSupported):
			s.sense[0] = D.SenseCMDREJ
			s.endStatus(D.StatusCheck, 0, true)
		case errors.Is(err, ErrInProgress):
			scsw.Ctrl &^= SCSWActlStartPend
			scsw.Ctrl |= SCSWActlSusp
		case errors.Is(err, ErrBusy):
			// Deferred condition code 1
			scsw.Flags &^= SCSWFlagCC
			scsw.Flags |= 0x0100
			scsw.Ctrl &^= SCSWStctlMask
			scsw.Ctrl |= SCSWStctlAlert | SCSWStctlStatusPend
		case errors.Is(err, ErrFault):
			s.endStatus(0, D.CStatusData, true)
		case errors.Is(err, mem.ErrProtection):
			s.endStatus(0, D.CStatusProt, true)
		default:
			s.endStatus(0, D.CStatusProg, true)
		}
		if err != nil && !errors.Is(err, ErrInProgress) {
			s.debugf(debugDetail, "channel program ended: %v", err)
		}
		return
	}
}

// Run halt function.
func (s *Subchannel) haltFunc() {
	scsw := &s.schib.SCSW
	curr := s.channelProg

	s.channelProg = 0
	s.lastCmdValid = false
	scsw.Ctrl &^= SCSWActlHaltPend
	scsw.Ctrl |= SCSWStctlStatusPend

	active := (scsw.Ctrl & (SCSWActlSubchActive | SCSWActlDevActive)) != 0
	if active || (scsw.Ctrl&(SCSWActlStartPend|SCSWActlSusp)) == 0 {
		scsw.DStat = D.StatusDevEnd
	}
	if active || (scsw.Ctrl&SCSWActlSusp) != 0 {
		scsw.CPA = uint32(curr + 8)
	}
	scsw.CStat = 0
	s.schib.PMCW.LPUM = 0x80
}

// Run clear function.
func (s *Subchannel) clearFunc() {
	pmcw := &s.schib.PMCW
	scsw := &s.schib.SCSW

	pmcw.LPUM = 0
	pmcw.POM = 0xff
	scsw.Flags &^= SCSWFlagPNO

	s.channelProg = 0
	s.lastCmdValid = false
	scsw.Ctrl &^= SCSWActlClearPend
	scsw.Ctrl |= SCSWStctlStatusPend
	scsw.DStat = 0
	scsw.CStat = 0
	pmcw.LPUM = 0x80
}

// Perform pending function and signal completion.
func (s *Subchannel) doWork() {
	ctrl := s.schib.SCSW.Ctrl
	switch {
	case (ctrl & SCSWFctlClear) != 0:
		s.clearFunc()
	case (ctrl & SCSWFctlHalt) != 0:
		s.haltFunc()
	case (ctrl & SCSWFctlStart) != 0:
		s.startFunc()
	}
	s.injectIOInterrupt()
}
