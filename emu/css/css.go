/*
 * S390  - Channel subsystem
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
	"fmt"
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/rcornwell/S390/emu/crw"
	mem "github.com/rcornwell/S390/emu/memory"
)

// Floating interrupt services used by the channel subsystem.
type InterruptController interface {
	InjectIO(id uint16, nr uint16, parm uint32, word uint32)
	InjectAirq(typ uint8, isc uint8, flags uint8) error
	AISSupported() bool
	RegisterIOAdapter(id uint32, isc uint8, swap bool, maskable bool) error
	ModifyAISMode(isc uint8, mode uint16) error
	ClearIO(id uint16, nr uint16)
}

// Channel path information.
type chpInfo struct {
	inUse   bool
	virtual bool
	typ     uint8
}

// One channel subsystem image.
type Image struct {
	CssID  uint8
	sets   [MaxSsID + 1]*SubchSet
	chpids [MaxChpID + 1]chpInfo
}

// Subchannel set, slots plus usage maps.
type SubchSet struct {
	sch        map[uint16]*Subchannel
	schidsUsed *bitset.BitSet
	devnosUsed *bitset.BitSet
}

type ChannelSubsystem struct {
	mu           sync.Mutex
	mem          *mem.Memory
	flic         InterruptController
	crws         *crw.Queue
	images       [MaxCssID + 1]*Image
	defaultCssID uint8
	maxCssID     uint8
	maxSsID      uint8
	chnmonActive bool
	chnmonArea   uint64
	seiPending   bool
	adapters     []*IOAdapter
	metrics      *metrics
	debugMsk     int
}

// Create a new channel subsystem.
func New(memory *mem.Memory, flic InterruptController, crws *crw.Queue) *ChannelSubsystem {
	return &ChannelSubsystem{
		mem:     memory,
		flic:    flic,
		crws:    crws,
		metrics: newMetrics(),
	}
}

// Guest storage used by channel programs.
func (c *ChannelSubsystem) Memory() *mem.Memory {
	return c.mem
}

// CRW queue attached to this subsystem.
func (c *ChannelSubsystem) CRWs() *crw.Queue {
	return c.crws
}

// Create a channel subsystem image.
func (c *ChannelSubsystem) CreateImage(cssid uint8, isDefault bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createImage(cssid, isDefault)
}

func (c *ChannelSubsystem) createImage(cssid uint8, isDefault bool) error {
	if cssid == MaxCssID {
		return fmt.Errorf("css image %x reserved: %w", cssid, ErrInvalid)
	}
	if c.images[cssid] != nil {
		return fmt.Errorf("css image %x: %w", cssid, ErrBusy)
	}
	c.images[cssid] = &Image{CssID: cssid}
	if isDefault {
		c.defaultCssID = cssid
	}
	slog.Debug("CSS new image", "cssid", cssid, "default", isDefault)
	return nil
}

// Return id of default image.
func (c *ChannelSubsystem) DefaultCssID() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaultCssID
}

// Check if image exists.
func (c *ChannelSubsystem) Present(cssid uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.images[cssid] != nil
}

// Pick the image to use, m clear with cssid 0 selects default.
func (c *ChannelSubsystem) realCssID(m bool, cssid uint8) uint8 {
	if !m && cssid == 0 {
		return c.defaultCssID
	}
	return cssid
}

// Find subchannel, nil if it does not exist.
func (c *ChannelSubsystem) FindSubch(m bool, cssid uint8, ssid uint8, schid uint16) *Subchannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findSubch(m, cssid, ssid, schid)
}

func (c *ChannelSubsystem) findSubch(m bool, cssid uint8, ssid uint8, schid uint16) *Subchannel {
	if ssid > MaxSsID {
		return nil
	}
	image := c.images[c.realCssID(m, cssid)]
	if image == nil || image.sets[ssid] == nil {
		return nil
	}
	return image.sets[ssid].sch[schid]
}

// Return true if there are no subchannels at or beyond schid in the set.
func (c *ChannelSubsystem) SchidFinal(m bool, cssid uint8, ssid uint8, schid uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ssid > MaxSsID {
		return true
	}
	image := c.images[c.realCssID(m, cssid)]
	if image == nil || image.sets[ssid] == nil {
		return true
	}
	used := image.sets[ssid].schidsUsed
	last := -1
	for i, ok := used.NextSet(0); ok; i, ok = used.NextSet(i + 1) {
		last = int(i)
	}
	return int(schid) > last
}

// Check if device number already used in set.
func (c *ChannelSubsystem) DevnoUsed(cssid uint8, ssid uint8, devno uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devnoUsed(cssid, ssid, devno)
}

func (c *ChannelSubsystem) devnoUsed(cssid uint8, ssid uint8, devno uint16) bool {
	image := c.images[cssid]
	if image == nil || ssid > MaxSsID || image.sets[ssid] == nil {
		return false
	}
	return image.sets[ssid].devnosUsed.Test(uint(devno))
}

// Bind or unbind (sch nil) a subchannel slot.
func (c *ChannelSubsystem) Assign(cssid uint8, ssid uint8, schid uint16, devno uint16, sch *Subchannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assign(cssid, ssid, schid, devno, sch)
}

func (c *ChannelSubsystem) assign(cssid uint8, ssid uint8, schid uint16, devno uint16, sch *Subchannel) {
	action := "assign"
	if sch == nil {
		action = "deassign"
	}
	slog.Debug("CSS "+action+" subchannel", "id", BusID{CssID: cssid, SsID: ssid, DevNo: schid, Valid: true}, "devno", devno)
	image := c.images[cssid]
	if image == nil {
		slog.Warn("Assign subchannel for non-existing css", "cssid", cssid, "ssid", ssid, "schid", schid)
		return
	}
	set := image.sets[ssid]
	if set == nil {
		set = &SubchSet{
			sch:        map[uint16]*Subchannel{},
			schidsUsed: bitset.New(MaxSchID + 1),
			devnosUsed: bitset.New(MaxDevNo + 1),
		}
		image.sets[ssid] = set
	}
	if sch != nil {
		set.sch[schid] = sch
		set.schidsUsed.Set(uint(schid))
		set.devnosUsed.Set(uint(devno))
		c.metrics.subchannels.Inc()
	} else {
		if _, ok := set.sch[schid]; ok {
			c.metrics.subchannels.Dec()
		}
		delete(set.sch, schid)
		set.schidsUsed.Clear(uint(schid))
		set.devnosUsed.Clear(uint(devno))
	}
}

// Check whether guest may see the subchannel.
func (c *ChannelSubsystem) Visible(sch *Subchannel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible(sch)
}

func (c *ChannelSubsystem) visible(sch *Subchannel) bool {
	if sch.ssid > c.maxSsID {
		return false
	}
	if sch.cssid != c.defaultCssID {
		return c.maxCssID > 0
	}
	return true
}

// Return first free device number, starting at start.
func (c *ChannelSubsystem) findFreeDevno(cssid uint8, ssid uint8, start uint16) (uint16, bool) {
	for round := 0; round <= MaxDevNo; round++ {
		devno := uint16((int(start) + round) % MaxDevNo)
		if !c.devnoUsed(cssid, ssid, devno) {
			return devno, true
		}
	}
	return 0, false
}

// Return first free subchannel number in set.
func (c *ChannelSubsystem) findFreeSubch(cssid uint8, ssid uint8) (uint16, bool) {
	for schid := 0; schid <= MaxSchID; schid++ {
		if c.findSubch(true, cssid, ssid, uint16(schid)) == nil {
			return uint16(schid), true
		}
	}
	return 0, false
}

func (c *ChannelSubsystem) findFreeSubchForDevno(cssid uint8, ssid uint8, devno uint16) (uint16, error) {
	if c.devnoUsed(cssid, ssid, devno) {
		return 0, fmt.Errorf("Device %x.%x.%04x already exists: %w", cssid, ssid, devno, ErrExist)
	}
	schid, ok := c.findFreeSubch(cssid, ssid)
	if !ok {
		return 0, fmt.Errorf("No free subchannel found for %x.%x.%04x: %w", cssid, ssid, devno, ErrNoSpace)
	}
	return schid, nil
}

func (c *ChannelSubsystem) findFreeSubchAndDevno(cssid uint8) (ssid uint8, devno uint16, schid uint16, err error) {
	for s := 0; s <= MaxSsID; s++ {
		ssid = uint8(s)
		free, ok := c.findFreeSubch(cssid, ssid)
		if !ok {
			continue
		}
		d, ok := c.findFreeDevno(cssid, ssid, free)
		if !ok {
			continue
		}
		return ssid, d, free, nil
	}
	return 0, 0, 0, fmt.Errorf("Virtual channel subsystem is full!: %w", ErrNoSpace)
}

// Create a subchannel at bus id, or the first free place when
// bus id is not valid.
func (c *ChannelSubsystem) CreateSch(bus BusID, dev ChannelDevice) (*Subchannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var schid uint16
	if bus.Valid {
		if c.images[bus.CssID] == nil {
			_ = c.createImage(bus.CssID, false)
		}
		var err error
		schid, err = c.findFreeSubchForDevno(bus.CssID, bus.SsID, bus.DevNo)
		if err != nil {
			return nil, err
		}
	} else {
		bus.CssID = c.defaultCssID
		for {
			if c.images[bus.CssID] == nil {
				_ = c.createImage(bus.CssID, false)
			}
			ssid, devno, free, err := c.findFreeSubchAndDevno(bus.CssID)
			if err == nil {
				bus.SsID = ssid
				bus.DevNo = devno
				schid = free
				break
			}
			bus.CssID = uint8((int(bus.CssID) + 1) % MaxCssID)
			if bus.CssID == c.defaultCssID {
				return nil, fmt.Errorf("Virtual channel subsystem is full!: %w", ErrNoSpace)
			}
		}
		bus.Valid = true
	}

	sch := &Subchannel{
		css:    c,
		cssid:  bus.CssID,
		ssid:   bus.SsID,
		schid:  schid,
		devno:  bus.DevNo,
		device: dev,
	}
	c.assign(sch.cssid, sch.ssid, schid, sch.devno, sch)
	return sch, nil
}

// Remove a subchannel from the registry and report it gone.
func (c *ChannelSubsystem) DestroySch(sch *Subchannel) {
	c.mu.Lock()
	c.assign(sch.cssid, sch.ssid, sch.schid, sch.devno, nil)
	c.mu.Unlock()
	c.GenerateSchCRWs(sch.cssid, sch.ssid, sch.schid, true, false)
}

// Return all subchannels, ordered by image, set and number.
func (c *ChannelSubsystem) Subchannels() []*Subchannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := []*Subchannel{}
	for _, image := range c.images {
		if image == nil {
			continue
		}
		for _, set := range image.sets {
			if set == nil {
				continue
			}
			for i, ok := set.schidsUsed.NextSet(0); ok; i, ok = set.schidsUsed.NextSet(i + 1) {
				if sch := set.sch[uint16(i)]; sch != nil {
					list = append(list, sch)
				}
			}
		}
	}
	return list
}

// Build subchannel id as presented in interruption code.
func (c *ChannelSubsystem) subchannelID(cssid uint8, ssid uint8) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buildSubchannelID(cssid, ssid)
}

func (c *ChannelSubsystem) buildSubchannelID(cssid uint8, ssid uint8) uint16 {
	if c.maxCssID > 0 {
		return uint16(cssid)<<8 | 1<<3 | uint16(ssid)<<1 | 1
	}
	return uint16(ssid)<<1 | 1
}

// Enable multiple channel subsystems.
func (c *ChannelSubsystem) EnableMCSSE() {
	c.mu.Lock()
	c.maxCssID = MaxCssID
	c.mu.Unlock()
	slog.Debug("CSS enable facility", "facility", "mcsse")
}

// Enable multiple subchannel sets.
func (c *ChannelSubsystem) EnableMSS() {
	c.mu.Lock()
	c.maxSsID = MaxSsID
	c.mu.Unlock()
	slog.Debug("CSS enable facility", "facility", "mss")
}

// Return current maximum ids visible to guest.
func (c *ChannelSubsystem) MaxIDs() (maxCssID uint8, maxSsID uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxCssID, c.maxSsID
}
