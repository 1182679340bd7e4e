/*
 * S390  - Subchannel functions
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
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	D "github.com/rcornwell/S390/emu/device"
	"github.com/rcornwell/S390/util/debug"
)

// Device attached to a subchannel. Methods are called with the
// subchannel locked, they must only use the unlocked accessors.
type ChannelDevice interface {
	// Execute a device specific command. Return nil when done,
	// ErrNotSupported for command reject, ErrAgain to continue chain,
	// ErrInProgress to suspend, ErrIO when status already set.
	HandleCCW(sch *Subchannel, ccw CCW1) error

	// Subchannel went from enabled to disabled.
	Disable(sch *Subchannel)

	// Fill in extended status of an IRB.
	BuildIRB(sch *Subchannel, irb *IRB)
}

// Devices that need to clear their state on subsystem reset.
type Resetter interface {
	Reset(sch *Subchannel) error
}

type Subchannel struct {
	mu           sync.Mutex
	css          *ChannelSubsystem
	cssid        uint8
	ssid         uint8
	schid        uint16
	devno        uint16
	schib        Schib
	orb          ORB
	sense        [D.SenseSize]byte
	id           SenseID
	channelProg  uint64 // Address of current CCW
	lastCmd      CCW1
	lastCmdValid bool
	fmt1         bool  // Format 1 CCWs
	noDataCnt    uint8 // CCWs seen with zero data address
	stream       DataStream
	device       ChannelDevice
	thinint      bool // Adapter interruptions in use
}

// Subchannel name for messages.
func (s *Subchannel) String() string {
	return fmt.Sprintf("%x.%x.%04x", s.cssid, s.ssid, s.schid)
}

func (s *Subchannel) CssID() uint8 {
	return s.cssid
}

func (s *Subchannel) SsID() uint8 {
	return s.ssid
}

func (s *Subchannel) SchID() uint16 {
	return s.schid
}

func (s *Subchannel) DevNo() uint16 {
	return s.devno
}

// Device address of subchannel.
func (s *Subchannel) BusID() BusID {
	return BusID{CssID: s.cssid, SsID: s.ssid, DevNo: s.devno, Valid: true}
}

func (s *Subchannel) Device() ChannelDevice {
	return s.device
}

// Subsystem the subchannel belongs to.
func (s *Subchannel) CSS() *ChannelSubsystem {
	return s.css
}

// Copy of current SCHIB.
func (s *Subchannel) Schib() Schib {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schib
}

// Current state.
func (s *Subchannel) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateOf(&s.schib.SCSW)
}

// Set identification returned by sense id.
func (s *Subchannel) SetSenseID(id SenseID) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// Data stream of CCW being executed. Only valid inside HandleCCW.
func (s *Subchannel) Stream() *DataStream {
	return &s.stream
}

// Sense bytes. Only valid inside device callbacks.
func (s *Subchannel) Sense() []byte {
	return s.sense[:]
}

// Enable or disable adapter interruptions. Only valid inside device callbacks.
func (s *Subchannel) SetThinint(on bool) {
	s.thinint = on
}

// True when device uses adapter interruptions.
func (s *Subchannel) Thinint() bool {
	return s.thinint
}

// Present device status for current CCW, used with ErrIO.
// Only valid inside HandleCCW.
func (s *Subchannel) SetDeviceStatus(dstat uint8, cstat uint8) {
	scsw := &s.schib.SCSW
	scsw.Ctrl &^= SCSWActlStartPend | SCSWStctlMask
	scsw.Ctrl |= SCSWStctlPrimary | SCSWStctlSecondary | SCSWStctlStatusPend
	if (dstat&^(D.StatusChnEnd|D.StatusDevEnd)) != 0 || cstat != 0 {
		scsw.Ctrl |= SCSWStctlAlert
	}
	scsw.DStat = dstat
	scsw.CStat = cstat
	scsw.CPA = uint32(s.channelProg + 8)
}

// Set up SCHIB for a virtual device on a single channel path.
func (s *Subchannel) BuildVirtualSchib(chpid uint8, typ uint8) {
	s.mu.Lock()
	s.schib.PMCW = PMCW{
		Flags: PMCWFlagDNV,
		DevNo: s.devno,
		PIM:   0x80,
		POM:   0xff,
		PAM:   0x80,
	}
	s.schib.PMCW.ChpID[0] = chpid
	s.schib.SCSW = SCSW{}
	s.schib.MBA = 0
	s.schib.MDA = [4]uint8{}
	s.mu.Unlock()

	if err := s.css.addChpid(s.cssid, chpid, typ, true); err != nil && !errors.Is(err, ErrExist) {
		slog.Warn("Virtual schib channel path", "subchannel", s.String(), "chpid", chpid, "error", err.Error())
	}
}

// True if chpid is an installed path of the subchannel.
func (s *Subchannel) usesChpid(chpid uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range s.schib.PMCW.ChpID {
		if id == chpid && (s.schib.PMCW.PIM&(0x80>>i)) != 0 {
			return true
		}
	}
	return false
}

// Both device number valid and enabled.
func (s *Subchannel) operational() bool {
	return (s.schib.PMCW.Flags & (PMCWFlagDNV | PMCWFlagENA)) == (PMCWFlagDNV | PMCWFlagENA)
}

func (s *Subchannel) debugf(level int, format string, a ...interface{}) {
	debug.DebugSchf(s, s.css.debugMsk, level, format, a...)
}

// Start subchannel.
func (s *Subchannel) DoSSCH(orb *ORB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scsw := &s.schib.SCSW

	if !s.operational() {
		return ErrNoDevice
	}
	if (scsw.Ctrl & SCSWStctlStatusPend) != 0 {
		return ErrStatusPending
	}
	if (scsw.Ctrl & SCSWFctlMask) != 0 {
		return ErrBusy
	}

	s.css.updateChnmon(s)
	s.orb = *orb
	s.channelProg = uint64(orb.CPA)
	s.debugf(debugCmd, "ssch cpa=%08x intparm=%08x ctrl=%04x", orb.CPA, orb.IntParm, orb.Ctrl0)

	scsw.Ctrl |= SCSWFctlStart | SCSWActlStartPend
	scsw.Flags &^= SCSWFlagPNO
	s.css.metrics.functions.WithLabelValues("ssch").Inc()
	s.doWork()
	s.checkState("ssch")
	return nil
}

// Resume suspended channel program.
func (s *Subchannel) DoRSCH() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scsw := &s.schib.SCSW

	if !s.operational() {
		return ErrNoDevice
	}
	if (scsw.Ctrl & SCSWStctlStatusPend) != 0 {
		return ErrStatusPending
	}
	if scsw.Fctl() != SCSWFctlStart || (scsw.Ctrl&SCSWActlResumePend) != 0 ||
		(scsw.Ctrl&SCSWActlSusp) == 0 {
		return ErrBusy
	}

	s.css.updateChnmon(s)
	scsw.Ctrl |= SCSWActlResumePend
	s.css.metrics.functions.WithLabelValues("rsch").Inc()
	s.doWork()
	s.checkState("rsch")
	return nil
}

// Clear subchannel, always wins over any function in progress.
func (s *Subchannel) DoCSCH() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scsw := &s.schib.SCSW

	if !s.operational() {
		return ErrNoDevice
	}
	scsw.Ctrl &^= SCSWFctlMask | SCSWActlMask
	scsw.Ctrl |= SCSWFctlClear | SCSWActlClearPend
	s.css.metrics.functions.WithLabelValues("csch").Inc()
	s.doWork()
	s.checkState("csch")
	return nil
}

// Halt subchannel.
func (s *Subchannel) DoHSCH() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scsw := &s.schib.SCSW

	if !s.operational() {
		return ErrNoDevice
	}
	stctl := scsw.Stctl()
	if stctl == SCSWStctlStatusPend ||
		(stctl&(SCSWStctlPrimary|SCSWStctlSecondary|SCSWStctlAlert)) != 0 {
		return ErrStatusPending
	}
	if (scsw.Ctrl & (SCSWFctlHalt | SCSWFctlClear)) != 0 {
		return ErrBusy
	}

	scsw.Ctrl |= SCSWFctlHalt
	scsw.Ctrl &^= SCSWFctlStart
	if scsw.Actl() == (SCSWActlSubchActive|SCSWActlDevActive) &&
		scsw.Stctl() == SCSWStctlIntermediate {
		scsw.Ctrl &^= SCSWStctlStatusPend
	}
	scsw.Ctrl |= SCSWActlHaltPend
	s.css.metrics.functions.WithLabelValues("hsch").Inc()
	s.doWork()
	s.checkState("hsch")
	return nil
}

// Cancel start function that has not yet started.
func (s *Subchannel) DoXSCH() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scsw := &s.schib.SCSW

	if !s.operational() {
		return ErrNoDevice
	}
	if scsw.Stctl() != 0 {
		return ErrStatusPending
	}
	if scsw.Fctl() != SCSWFctlStart ||
		(scsw.Ctrl&(SCSWActlResumePend|SCSWActlStartPend|SCSWActlSusp)) == 0 ||
		(scsw.Ctrl&SCSWActlSubchActive) != 0 {
		return ErrBusy
	}

	scsw.Ctrl &^= SCSWFctlStart | SCSWActlResumePend | SCSWActlStartPend | SCSWActlSusp
	s.channelProg = 0
	s.lastCmdValid = false
	scsw.DStat = 0
	scsw.CStat = 0
	s.checkState("xsch")
	s.css.metrics.functions.WithLabelValues("xsch").Inc()
	return nil
}

// Modify subchannel, only program modifiable fields are taken.
func (s *Subchannel) DoMSCH(schib *Schib) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pmcw := &s.schib.PMCW
	scsw := &s.schib.SCSW

	if (pmcw.Flags & PMCWFlagDNV) == 0 {
		return nil
	}
	if (scsw.Ctrl & SCSWStctlStatusPend) != 0 {
		return ErrStatusPending
	}
	if (scsw.Ctrl & SCSWFctlMask) != 0 {
		return ErrBusy
	}

	const flagMask = PMCWFlagISC | PMCWFlagENA | PMCWFlagLM | PMCWFlagMME | PMCWFlagMP
	const charsMask = PMCWCharsMBFC | PMCWCharsCSENSE
	oldFlags := pmcw.Flags
	pmcw.IntParm = schib.PMCW.IntParm
	pmcw.Flags = (pmcw.Flags &^ flagMask) | (schib.PMCW.Flags & flagMask)
	pmcw.LPM = schib.PMCW.LPM
	pmcw.MBI = schib.PMCW.MBI
	pmcw.POM = schib.PMCW.POM
	pmcw.Chars = (pmcw.Chars &^ charsMask) | (schib.PMCW.Chars & charsMask)
	s.schib.MBA = schib.MBA
	s.css.metrics.functions.WithLabelValues("msch").Inc()
	s.debugf(debugCmd, "msch flags=%04x intparm=%08x", pmcw.Flags, pmcw.IntParm)

	if (oldFlags&PMCWFlagENA) != 0 && (pmcw.Flags&PMCWFlagENA) == 0 && s.device != nil {
		s.device.Disable(s)
	}
	return nil
}

// Build IRB for test subchannel. Returns bytes to store and condition
// code, 0 status was pending, 1 not pending and 3 not operational.
func (s *Subchannel) tschIRB() ([]byte, uint8) {
	if !s.operational() {
		return nil, 3
	}
	irb := IRB{SCSW: s.schib.SCSW}
	if s.device != nil {
		s.device.BuildIRB(s, &irb)
	}
	buf := irb.Marshal()
	length := IRBSize - IRBEMWSize

	scsw := &irb.SCSW
	pmcw := &s.schib.PMCW
	stctl := scsw.Stctl()
	if (scsw.Flags&SCSWFlagESWF) == 0 && (pmcw.Flags&PMCWFlagTF) != 0 &&
		(pmcw.Chars&PMCWCharsXMWME) != 0 && (stctl&SCSWStctlStatusPend) != 0 {
		if (stctl&SCSWStctlPrimary) != 0 || stctl == SCSWStctlSecondary ||
			((stctl&SCSWStctlIntermediate) != 0 && (scsw.Actl()&SCSWActlSusp) != 0) {
			length = IRBSize
		}
	}
	if (s.schib.SCSW.Ctrl & SCSWStctlStatusPend) != 0 {
		return buf[:length], 0
	}
	return buf[:length], 1
}

// Clear status after IRB was stored.
func (s *Subchannel) tschUpdate() {
	scsw := &s.schib.SCSW
	stctl := scsw.Stctl()
	fctl := scsw.Fctl()
	actl := scsw.Actl()
	const actlReset = SCSWActlResumePend | SCSWActlStartPend | SCSWActlHaltPend |
		SCSWActlClearPend | SCSWActlSusp

	if (stctl & SCSWStctlStatusPend) == 0 {
		return
	}
	intermediate := stctl == (SCSWStctlIntermediate | SCSWStctlStatusPend)
	scsw.Ctrl &^= SCSWStctlMask
	if !intermediate || ((fctl&SCSWFctlHalt) != 0 && (actl&SCSWActlSusp) != 0) {
		scsw.Ctrl &^= SCSWFctlMask
	}
	if !intermediate {
		scsw.Flags &^= SCSWFlagPNO
		scsw.Ctrl &^= actlReset
	} else if (actl&SCSWActlSusp) != 0 && (fctl&SCSWFctlStart) != 0 {
		scsw.Flags &^= SCSWFlagPNO
		if (fctl & SCSWFctlHalt) != 0 {
			scsw.Ctrl &^= actlReset
		} else {
			scsw.Ctrl &^= SCSWActlResumePend
		}
	}
	if (s.schib.PMCW.Chars & PMCWCharsCSENSE) != 0 {
		s.sense = [D.SenseSize]byte{}
	}
}

// Test subchannel. The IRB is passed to store, when store fails
// the subchannel is left unchanged and the error returned.
func (s *Subchannel) DoTSCH(store func(irb []byte) error) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	irb, cc := s.tschIRB()
	if cc == 3 {
		return cc, nil
	}
	if err := store(irb); err != nil {
		return cc, err
	}
	s.tschUpdate()
	if cc == 0 {
		// Status was cleared, drop any interrupt still queued.
		s.css.flic.ClearIO(s.css.subchannelID(s.cssid, s.ssid), s.schid)
	}
	s.checkState("tsch")
	s.css.metrics.functions.WithLabelValues("tsch").Inc()
	s.debugf(debugCmd, "tsch cc=%d", cc)
	return cc, nil
}

// Queue I/O interrupt for subchannel.
func (s *Subchannel) injectIOInterrupt() {
	isc := s.schib.PMCW.ISC()
	s.debugf(debugIRQ, "io interrupt isc=%d intparm=%08x", isc, s.schib.PMCW.IntParm)
	s.css.metrics.interrupts.Inc()
	s.css.flic.InjectIO(s.css.subchannelID(s.cssid, s.ssid), s.schid,
		s.schib.PMCW.IntParm, uint32(isc)<<IOIntWordISCShft)
}

// Make subchannel status pending with alert status if not already
// pending. Used by devices to signal outside of a channel program.
func (s *Subchannel) ConditionalIOInterrupt() {
	s.mu.Lock()
	s.conditionalIOInterrupt()
	s.mu.Unlock()
}

// Present unsolicited device status, attention or device end,
// unless status is already pending.
func (s *Subchannel) UnsolicitedStatus(dstat uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if (s.schib.PMCW.Flags&PMCWFlagENA) == 0 || (s.schib.SCSW.Ctrl&SCSWStctlStatusPend) != 0 {
		return false
	}
	s.schib.SCSW.DStat = dstat
	s.schib.SCSW.CStat = 0
	s.conditionalIOInterrupt()
	return true
}

func (s *Subchannel) conditionalIOInterrupt() {
	if (s.schib.PMCW.Flags & PMCWFlagENA) == 0 {
		return
	}
	if (s.schib.SCSW.Ctrl & SCSWStctlStatusPend) != 0 {
		return
	}
	s.schib.SCSW.Ctrl &^= SCSWStctlMask
	s.schib.SCSW.Ctrl |= SCSWStctlAlert | SCSWStctlStatusPend
	slog.Debug("CSS unsolicited interrupt", "subchannel", s.String())
	s.injectIOInterrupt()
}

// Put subchannel back into initial state.
func (s *Subchannel) reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pmcw := &s.schib.PMCW
	if (pmcw.Flags&PMCWFlagENA) != 0 && s.device != nil {
		s.device.Disable(s)
	}
	pmcw.IntParm = 0
	pmcw.Flags &^= PMCWFlagISC | PMCWFlagENA | PMCWFlagLM | PMCWFlagMME | PMCWFlagMP | PMCWFlagTF
	pmcw.Flags |= PMCWFlagDNV
	pmcw.DevNo = s.devno
	pmcw.PIM = 0x80
	pmcw.LPM = pmcw.PIM
	pmcw.PNOM = 0
	pmcw.LPUM = 0
	pmcw.MBI = 0
	pmcw.POM = 0xff
	pmcw.PAM = 0x80
	pmcw.Chars &^= PMCWCharsMBFC | PMCWCharsXMWME | PMCWCharsCSENSE
	s.schib.SCSW = SCSW{}
	s.schib.MBA = 0
	s.channelProg = 0
	s.lastCmdValid = false
	s.thinint = false
	if r, ok := s.device.(Resetter); ok {
		return r.Reset(s)
	}
	return nil
}

// Fill in extended status for a virtual device. Sense data is
// presented in the ECW when concurrent sense is enabled.
func BuildVirtualIRB(sch *Subchannel, irb *IRB) {
	scsw := &sch.schib.SCSW
	if (scsw.Ctrl & SCSWStctlStatusPend) == 0 {
		return
	}
	if (scsw.CStat & (D.CStatusData | D.CStatusChnCtrl | D.CStatusIntfCtrl)) != 0 {
		irb.SCSW.Flags |= SCSWFlagESWF
		irb.ESW.Word0 = 0x04804000
	} else {
		irb.ESW.Word0 = 0x00800000
	}
	if (scsw.DStat&D.StatusCheck) != 0 && (sch.schib.PMCW.Chars&PMCWCharsCSENSE) != 0 {
		irb.SCSW.Flags |= SCSWFlagESWF | SCSWFlagECTL
		for i := range irb.ECW {
			irb.ECW[i] = binary.BigEndian.Uint32(sch.sense[i*4:])
		}
		irb.ESW.ERW = ESWERWSense | uint32(D.SenseSize)<<8
	}
}
