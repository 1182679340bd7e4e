/*
 * S390  - Virtio channel device
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

package virtio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rcornwell/S390/emu/css"
	"github.com/rcornwell/S390/emu/event"
	"github.com/rcornwell/S390/util/debug"
)

// Channel commands.
const (
	CmdSetVQ         uint8 = 0x13
	CmdVDevReset     uint8 = 0x33
	CmdSetInd        uint8 = 0x43
	CmdSetConfInd    uint8 = 0x53
	CmdReadFeat      uint8 = 0x12
	CmdWriteFeat     uint8 = 0x11
	CmdReadConf      uint8 = 0x22
	CmdWriteConf     uint8 = 0x21
	CmdWriteStatus   uint8 = 0x31
	CmdReadVQConf    uint8 = 0x32
	CmdReadStatus    uint8 = 0x72
	CmdSetIndAdapter uint8 = 0x73
	CmdSetVirtioRev  uint8 = 0x83
)

const (
	CUType       uint16 = 0x3832 // Control unit type of virtio devices
	MaxRevision         = 2
	QueueMax            = 64       // Highest queue index plus one
	ConfigVector        = QueueMax // Vector used for configuration change
	Delay               = 1        // Cycles between notify and indication

	// Device status
	StatusAcknowledge uint8 = 0x01
	StatusDriver      uint8 = 0x02
	StatusDriverOK    uint8 = 0x04
	StatusFeaturesOK  uint8 = 0x08
	StatusNeedsReset  uint8 = 0x40
	StatusFailed      uint8 = 0x80

	legacyAlign   = 4096
	vqInfoLegacy  = 16 // queue(8) align(4) index(2) num(2)
	vqInfoSize    = 32 // desc(8) res(4) index(2) num(2) avail(8) used(8)
	vqConfigSize  = 4  // index(2) num max(2)
	featDescSize  = 5  // features(4 LE) index(1)
	thinintSize   = 25 // summary(8) indicators(8) bit(8) isc(1)
	revInfoSize   = 4  // revision(2) length(2)
	indicatorSize = 8
)

const (
	debugCmd = 1 << iota
	debugNotify
)

var debugOption = debug.Options{
	"CMD":    debugCmd,
	"NOTIFY": debugNotify,
}

var cmdNames = map[uint8]string{
	CmdSetVQ:         "set_vq",
	CmdVDevReset:     "vdev_reset",
	CmdSetInd:        "set_ind",
	CmdSetConfInd:    "set_conf_ind",
	CmdReadFeat:      "read_feat",
	CmdWriteFeat:     "write_feat",
	CmdReadConf:      "read_conf",
	CmdWriteConf:     "write_conf",
	CmdWriteStatus:   "write_status",
	CmdReadVQConf:    "read_vq_conf",
	CmdReadStatus:    "read_status",
	CmdSetIndAdapter: "set_ind_adapter",
	CmdSetVirtioRev:  "set_virtio_rev",
}

// Virtqueue as set up by the driver.
type Queue struct {
	Desc  uint64 `yaml:"desc"`
	Avail uint64 `yaml:"avail"`
	Used  uint64 `yaml:"used"`
	Align uint32 `yaml:"align,omitempty"`
	Num   uint16 `yaml:"num"`
}

// Virtio device on a channel subsystem.
type Device struct {
	mu            sync.Mutex
	kind          Kind
	sch           *css.Subchannel
	events        *event.Queue
	metrics       *Metrics
	revision      int // -1 until negotiated
	guestFeatures uint64
	status        uint8
	config        []byte
	queues        []Queue
	indicators    uint64 // Classic queue indicators, or device indicators with thinint
	indicators2   uint64 // Configuration change indicators
	summary       uint64 // Summary indicator byte with thinint
	indBit        uint64
	isc           uint8
	delay         int
	debugMsk      int
}

// Create device of kind. Metrics may be shared between devices.
func New(kind string, events *event.Queue, m *Metrics) (*Device, error) {
	k, err := LookupKind(kind)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = NewMetrics()
	}
	return &Device{
		kind:     k,
		events:   events,
		metrics:  m,
		revision: -1,
		config:   k.defaultConfig(),
		queues:   make([]Queue, k.Queues),
		delay:    Delay,
	}, nil
}

// Place device on a subchannel of the virtio channel path.
func (d *Device) Attach(c *css.ChannelSubsystem, bus css.BusID) (*css.Subchannel, error) {
	sch, err := c.CreateSch(bus, d)
	if err != nil {
		return nil, fmt.Errorf("virtio %s: %w", d.kind.Name, err)
	}
	sch.BuildVirtualSchib(css.VirtioCCWChpID, css.VirtioCCWChpType)
	sch.SetSenseID(css.SenseID{Reserved: 0xff, CUType: CUType, CUModel: d.kind.ID})
	d.mu.Lock()
	d.sch = sch
	d.mu.Unlock()
	slog.Info("Virtio device attached", "type", d.kind.Name, "subchannel", sch.String(),
		"devno", fmt.Sprintf("%04x", sch.DevNo()))
	return sch, nil
}

func (d *Device) Kind() Kind {
	return d.kind
}

// Subchannel device is attached to.
func (d *Device) Subchannel() *css.Subchannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sch
}

// Set configuration option of the backend.
func (d *Device) SetOption(name string, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kind.setOption(d.config, name, value)
}

// Set cycles from notify to indication.
func (d *Device) SetDelay(cycles int) {
	d.mu.Lock()
	d.delay = max(cycles, 0)
	d.mu.Unlock()
}

// Enable debug option.
func (d *Device) Debug(opt string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return debugOption.Set(&d.debugMsk, opt)
}

// Device state for dumps.
type Info struct {
	Type        string  `yaml:"type"`
	Revision    int     `yaml:"revision"`
	Status      uint8   `yaml:"status"`
	Features    uint64  `yaml:"features"`
	Thinint     bool    `yaml:"thinint"`
	Indicators  uint64  `yaml:"indicators"`
	Indicators2 uint64  `yaml:"indicators2"`
	Queues      []Queue `yaml:"queues"`
}

func (d *Device) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Info{
		Type:        d.kind.Name,
		Revision:    d.revision,
		Status:      d.status,
		Features:    d.guestFeatures,
		Thinint:     d.summary != 0,
		Indicators:  d.indicators,
		Indicators2: d.indicators2,
		Queues:      append([]Queue(nil), d.queues...),
	}
}

// Check count of a fixed size command. Count must match unless
// length checking is suppressed, then it must at least cover size.
func checkCount(ccw css.CCW1, size int) error {
	checkLen := !((ccw.Flags&css.CCWFlagSLI) != 0 && (ccw.Flags&css.CCWFlagDC) == 0)
	if (checkLen && int(ccw.Count) != size) || int(ccw.Count) < size {
		return fmt.Errorf("virtio count %d expected %d: %w", ccw.Count, size, css.ErrInvalid)
	}
	if ccw.CDA == 0 {
		return fmt.Errorf("virtio zero data address: %w", css.ErrFault)
	}
	return nil
}

// Handle channel operations.
func (d *Device) HandleCCW(sch *css.Subchannel, ccw css.CCW1) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	debug.DebugSchf(sch, d.debugMsk, debugCmd, "virtio cmd=%02x count=%d rev=%d",
		ccw.Cmd, ccw.Count, d.revision)

	name, ok := cmdNames[ccw.Cmd]
	if !ok {
		return css.ErrNotSupported
	}
	d.metrics.commands.WithLabelValues(name).Inc()

	// Any other command locks in the legacy revision
	if d.revision < 0 && ccw.Cmd != CmdSetVirtioRev {
		d.revision = 0
	}

	ds := sch.Stream()
	switch ccw.Cmd {
	case CmdSetVQ:
		return d.setVQ(ccw, ds)
	case CmdVDevReset:
		d.resetDevice(sch)
		return nil
	case CmdReadFeat:
		return d.readFeat(ccw, ds)
	case CmdWriteFeat:
		return d.writeFeat(ccw, ds)
	case CmdReadConf, CmdWriteConf:
		checkLen := !((ccw.Flags&css.CCWFlagSLI) != 0 && (ccw.Flags&css.CCWFlagDC) == 0)
		if checkLen && int(ccw.Count) > len(d.config) {
			return fmt.Errorf("virtio config count %d: %w", ccw.Count, css.ErrInvalid)
		}
		if ccw.CDA == 0 {
			return fmt.Errorf("virtio zero data address: %w", css.ErrFault)
		}
		n := min(int(ccw.Count), len(d.config))
		if ccw.Cmd == CmdReadConf {
			return ds.Write(d.config[:n])
		}
		return ds.Read(d.config[:n])
	case CmdWriteStatus:
		if err := checkCount(ccw, 1); err != nil {
			return err
		}
		var status [1]byte
		if err := ds.Read(status[:]); err != nil {
			return err
		}
		if status[0] == 0 {
			d.resetDevice(sch)
			return nil
		}
		if (status[0]&StatusFeaturesOK) != 0 && d.revision >= 1 &&
			(d.guestFeatures&FeatureVersion1) == 0 {
			return fmt.Errorf("virtio features ok without version 1: %w", css.ErrInvalid)
		}
		d.status = status[0]
		return nil
	case CmdReadStatus:
		if d.revision < 2 {
			return css.ErrNotSupported
		}
		if err := checkCount(ccw, 1); err != nil {
			return err
		}
		return ds.Write([]byte{d.status})
	case CmdReadVQConf:
		if err := checkCount(ccw, vqConfigSize); err != nil {
			return err
		}
		var buf [2]byte
		if err := ds.Read(buf[:]); err != nil {
			return err
		}
		index := int(binary.BigEndian.Uint16(buf[:]))
		if index >= QueueMax {
			return fmt.Errorf("virtio queue %d: %w", index, css.ErrInvalid)
		}
		num := uint16(0)
		if index < len(d.queues) {
			num = d.kind.QueueSize
		}
		binary.BigEndian.PutUint16(buf[:], num)
		return ds.Write(buf[:])
	case CmdSetInd:
		if err := checkCount(ccw, indicatorSize); err != nil {
			return err
		}
		if sch.Thinint() {
			// Adapter indicators already in use
			return css.ErrNotSupported
		}
		addr, err := readDouble(ds)
		if err != nil {
			return err
		}
		d.indicators = addr
		return nil
	case CmdSetConfInd:
		if err := checkCount(ccw, indicatorSize); err != nil {
			return err
		}
		addr, err := readDouble(ds)
		if err != nil {
			return err
		}
		d.indicators2 = addr
		return nil
	case CmdSetIndAdapter:
		return d.setIndAdapter(sch, ccw, ds)
	case CmdSetVirtioRev:
		return d.setRevision(ccw, ds)
	}
	return css.ErrNotSupported
}

func readDouble(ds *css.DataStream) (uint64, error) {
	var buf [8]byte
	if err := ds.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// Set up a virtqueue, legacy layout before revision 1.
func (d *Device) setVQ(ccw css.CCW1, ds *css.DataStream) error {
	size := vqInfoSize
	if d.revision == 0 {
		size = vqInfoLegacy
	}
	if err := checkCount(ccw, size); err != nil {
		return err
	}
	buf := make([]byte, size)
	if err := ds.Read(buf); err != nil {
		return err
	}
	var q Queue
	var index uint16
	if d.revision == 0 {
		q.Desc = binary.BigEndian.Uint64(buf[0:])
		q.Align = binary.BigEndian.Uint32(buf[8:])
		index = binary.BigEndian.Uint16(buf[12:])
		q.Num = binary.BigEndian.Uint16(buf[14:])
		if q.Desc != 0 && q.Align != legacyAlign {
			return fmt.Errorf("virtio queue align %d: %w", q.Align, css.ErrInvalid)
		}
	} else {
		q.Desc = binary.BigEndian.Uint64(buf[0:])
		index = binary.BigEndian.Uint16(buf[12:])
		q.Num = binary.BigEndian.Uint16(buf[14:])
		q.Avail = binary.BigEndian.Uint64(buf[16:])
		q.Used = binary.BigEndian.Uint64(buf[24:])
	}
	if int(index) >= len(d.queues) {
		return fmt.Errorf("virtio queue %d: %w", index, css.ErrInvalid)
	}
	if q.Desc == 0 {
		// Disable queue
		d.queues[index] = Queue{}
		return nil
	}
	if q.Num == 0 || q.Num > d.kind.QueueSize {
		return fmt.Errorf("virtio queue %d size %d: %w", index, q.Num, css.ErrInvalid)
	}
	d.queues[index] = q
	return nil
}

// Features are presented 32 bits at a time, high word only after
// revision 1 was negotiated.
func (d *Device) readFeat(ccw css.CCW1, ds *css.DataStream) error {
	if err := checkCount(ccw, featDescSize); err != nil {
		return err
	}
	buf := make([]byte, featDescSize)
	if err := ds.Advance(4); err != nil {
		return err
	}
	if err := ds.Read(buf[4:]); err != nil {
		return err
	}
	features := d.hostFeatures()
	var word uint32
	switch {
	case buf[4] == 0:
		word = uint32(features)
	case buf[4] == 1 && d.revision >= 1:
		word = uint32(features >> 32)
	}
	binary.LittleEndian.PutUint32(buf[0:], word)
	ds.Rewind()
	return ds.Write(buf[:4])
}

func (d *Device) writeFeat(ccw css.CCW1, ds *css.DataStream) error {
	if err := checkCount(ccw, featDescSize); err != nil {
		return err
	}
	buf := make([]byte, featDescSize)
	if err := ds.Read(buf); err != nil {
		return err
	}
	word := uint64(binary.LittleEndian.Uint32(buf[0:]))
	features := d.hostFeatures()
	switch {
	case buf[4] == 0:
		d.guestFeatures = (d.guestFeatures &^ 0xffffffff) | (word & features & 0xffffffff)
	case buf[4] == 1 && d.revision >= 1:
		d.guestFeatures = (d.guestFeatures & 0xffffffff) | ((word << 32) & features)
	}
	return nil
}

func (d *Device) hostFeatures() uint64 {
	return d.kind.Features | FeatureRingIndirect | FeatureVersion1
}

// Switch to adapter interruptions.
func (d *Device) setIndAdapter(sch *css.Subchannel, ccw css.CCW1, ds *css.DataStream) error {
	if err := checkCount(ccw, thinintSize); err != nil {
		return err
	}
	if d.indicators != 0 && !sch.Thinint() {
		return css.ErrNotSupported
	}
	buf := make([]byte, thinintSize)
	if err := ds.Read(buf); err != nil {
		return err
	}
	summary := binary.BigEndian.Uint64(buf[0:])
	indicators := binary.BigEndian.Uint64(buf[8:])
	bit := binary.BigEndian.Uint64(buf[16:])
	isc := buf[24]
	if isc > css.MaxISC {
		return fmt.Errorf("virtio adapter isc %d: %w", isc, css.ErrInvalid)
	}
	if _, err := sch.CSS().RegisterIOAdapter(css.AdapterTypeVirtio, isc, false, true,
		css.AdapterSuppressible); err != nil {
		return err
	}
	d.summary = summary
	d.indicators = indicators
	d.indBit = bit
	d.isc = isc
	sch.SetThinint(summary != 0 && indicators != 0)
	return nil
}

func (d *Device) setRevision(ccw css.CCW1, ds *css.DataStream) error {
	if ccw.Count < revInfoSize {
		return fmt.Errorf("virtio revision count %d: %w", ccw.Count, css.ErrInvalid)
	}
	if ccw.CDA == 0 {
		return fmt.Errorf("virtio zero data address: %w", css.ErrFault)
	}
	var buf [revInfoSize]byte
	if err := ds.Read(buf[:]); err != nil {
		return err
	}
	rev := int(binary.BigEndian.Uint16(buf[0:]))
	length := int(binary.BigEndian.Uint16(buf[2:]))
	checkLen := !((ccw.Flags&css.CCWFlagSLI) != 0 && (ccw.Flags&css.CCWFlagDC) == 0)
	if int(ccw.Count) < revInfoSize+length || (checkLen && int(ccw.Count) > revInfoSize+length) {
		return fmt.Errorf("virtio revision length %d: %w", length, css.ErrInvalid)
	}
	if d.revision >= 0 || rev > MaxRevision {
		return css.ErrNotSupported
	}
	d.revision = rev
	slog.Debug("Virtio revision", "type", d.kind.Name, "revision", rev)
	return nil
}

// Put virtio state back to power on, revision is kept.
func (d *Device) resetDevice(sch *css.Subchannel) {
	if d.events != nil {
		d.events.CancelOwner(d)
	}
	d.status = 0
	d.guestFeatures = 0
	for i := range d.queues {
		d.queues[i] = Queue{}
	}
	d.indicators = 0
	d.indicators2 = 0
	d.summary = 0
	d.indBit = 0
	d.isc = 0
	sch.SetThinint(false)
}

// Subchannel disabled, revision must be negotiated again.
func (d *Device) Disable(_ *css.Subchannel) {
	d.mu.Lock()
	d.revision = -1
	d.mu.Unlock()
}

func (d *Device) BuildIRB(sch *css.Subchannel, irb *css.IRB) {
	css.BuildVirtualIRB(sch, irb)
}

// Reset with the channel subsystem.
func (d *Device) Reset(sch *css.Subchannel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetDevice(sch)
	d.revision = -1
	return nil
}
