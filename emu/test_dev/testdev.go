/*
 * S390  - Echo test device
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
	"fmt"
	"sync"

	"github.com/rcornwell/S390/emu/css"
	D "github.com/rcornwell/S390/emu/device"
	"github.com/rcornwell/S390/emu/event"
	"github.com/rcornwell/S390/util/debug"
)

//  Commands.
//
//            01234567
//  Write     00000001
//  Read      00000010
//  Nop       00000011    Handled by subchannel.
//  One Byte  00001011    Read one byte of data.
//  End       00010011    Channel end, device end after delay.
//  Sense     00000100    Handled by subchannel.
//  Read Bk   00001100
const (
	CmdWrite   uint8 = 0x01
	CmdRead    uint8 = 0x02
	CmdOneByte uint8 = 0x0b
	CmdEnd     uint8 = 0x13
	CmdRdBwd   uint8 = 0x0c

	DevType uint16 = 0x3832 // Type presented in sense id
	Delay          = 10     // Cycles until device end
)

const (
	debugCmd = 1 << iota
	debugData
)

var debugOption = debug.Options{
	"CMD":  debugCmd,
	"DATA": debugData,
}

// Unit record device that hands back whatever was last written.
type TestDev struct {
	mu       sync.Mutex
	sch      *css.Subchannel
	events   *event.Queue
	data     [256]uint8 // Data to read/write
	max      int        // Size of data
	delay    int
	pending  bool // Device end outstanding
	debugMsk int
}

// Create test device, events drive delayed device end.
func New(events *event.Queue) *TestDev {
	return &TestDev{events: events, delay: Delay}
}

// Place device on a subchannel of the virtual channel path.
func (d *TestDev) Attach(c *css.ChannelSubsystem, bus css.BusID) (*css.Subchannel, error) {
	sch, err := c.CreateSch(bus, d)
	if err != nil {
		return nil, fmt.Errorf("echo device: %w", err)
	}
	sch.BuildVirtualSchib(css.VirtioCCWChpID, css.VirtioCCWChpType)
	sch.SetSenseID(css.SenseID{Reserved: 0xff, CUType: DevType, CUModel: 1, DevType: DevType, DevModel: 1})
	d.mu.Lock()
	d.sch = sch
	d.mu.Unlock()
	return sch, nil
}

// Subchannel device is attached to.
func (d *TestDev) Subchannel() *css.Subchannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sch
}

// Set cycles until device end, at least one.
func (d *TestDev) SetDelay(cycles int) {
	d.mu.Lock()
	d.delay = max(cycles, 1)
	d.mu.Unlock()
}

// Enable debug option.
func (d *TestDev) Debug(opt string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return debugOption.Set(&d.debugMsk, opt)
}

// Current data buffer.
func (d *TestDev) Data() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.data[:d.max]...)
}

// Load data buffer.
func (d *TestDev) SetData(buf []byte) {
	d.mu.Lock()
	d.max = copy(d.data[:], buf)
	d.mu.Unlock()
}

// Raise attention. Returns false when status is already pending.
func (d *TestDev) Attention() bool {
	sch := d.Subchannel()
	if sch == nil {
		return false
	}
	return sch.UnsolicitedStatus(D.StatusAttn)
}

// Handle channel operations.
func (d *TestDev) HandleCCW(sch *css.Subchannel, ccw css.CCW1) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	debug.DebugSchf(sch, d.debugMsk, debugCmd, "echo cmd=%02x count=%d", ccw.Cmd, ccw.Count)
	ds := sch.Stream()
	sli := (ccw.Flags & css.CCWFlagSLI) != 0

	switch ccw.Cmd {
	case CmdWrite:
		n := min(int(ds.Count()), len(d.data))
		if err := ds.Read(d.data[:n]); err != nil {
			return err
		}
		d.max = n
		debug.DebugSchf(sch, d.debugMsk, debugData, "echo write % x", d.data[:n])
		return d.length(sch, n != int(ds.Count()), sli)
	case CmdRead:
		n := min(int(ds.Count()), d.max)
		if err := ds.Write(d.data[:n]); err != nil {
			return err
		}
		return d.length(sch, n != int(ds.Count()) || n != d.max, sli)
	case CmdRdBwd:
		n := min(int(ds.Count()), d.max)
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = d.data[d.max-1-i]
		}
		if err := ds.Write(buf); err != nil {
			return err
		}
		return d.length(sch, n != int(ds.Count()) || n != d.max, sli)
	case CmdOneByte:
		if err := ds.Read(d.data[:1]); err != nil {
			return err
		}
		d.max = 1
		return d.length(sch, ds.Count() != 1, sli)
	case CmdEnd:
		if d.pending {
			sch.SetDeviceStatus(D.StatusBusy, 0)
			return css.ErrIO
		}
		d.pending = true
		d.events.Add(d, d.deviceEnd, d.delay, int(ccw.Cmd))
		sch.SetDeviceStatus(D.StatusChnEnd, 0)
		return css.ErrIO
	}
	return css.ErrNotSupported
}

// Signal incorrect length unless suppressed.
func (d *TestDev) length(sch *css.Subchannel, wrong bool, sli bool) error {
	if !wrong || sli {
		return nil
	}
	sch.SetDeviceStatus(D.StatusChnEnd|D.StatusDevEnd, D.CStatusLength)
	return css.ErrIO
}

// Delayed device end after channel end command.
func (d *TestDev) deviceEnd(_ int) {
	d.mu.Lock()
	sch := d.sch
	d.pending = false
	d.mu.Unlock()
	if sch != nil {
		sch.UnsolicitedStatus(D.StatusDevEnd)
	}
}

// Subchannel disabled, drop outstanding device end.
func (d *TestDev) Disable(_ *css.Subchannel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending && d.events.Cancel(d, int(CmdEnd)) {
		d.pending = false
	}
}

func (d *TestDev) BuildIRB(sch *css.Subchannel, irb *css.IRB) {
	css.BuildVirtualIRB(sch, irb)
}

// Initialize a device.
func (d *TestDev) Reset(_ *css.Subchannel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending {
		d.events.Cancel(d, int(CmdEnd))
	}
	d.pending = false
	d.max = 0
	return nil
}
