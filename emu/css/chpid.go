/*
 * S390  - Channel paths
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
	"fmt"
	"log/slog"

	"github.com/rcornwell/S390/emu/crw"
)

// Channel path descriptor sizes for CHSC.
const (
	ChpDescFmt0Size = 8
	ChpDescFmt1Size = 32
)

// Channel path as shown to the console.
type ChpidInfo struct {
	ChpID   uint8 `yaml:"chpid"`
	Type    uint8 `yaml:"type"`
	Virtual bool  `yaml:"virtual"`
}

// Add a virtual channel path to an image.
func (c *ChannelSubsystem) AddVirtualChpid(cssid uint8, chpid uint8, typ uint8) error {
	return c.addChpid(cssid, chpid, typ, true)
}

func (c *ChannelSubsystem) addChpid(cssid uint8, chpid uint8, typ uint8, virtual bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	image := c.images[cssid]
	if image == nil {
		return fmt.Errorf("chpid %x.%02x no css image: %w", cssid, chpid, ErrInvalid)
	}
	if image.chpids[chpid].inUse {
		return fmt.Errorf("chpid %x.%02x: %w", cssid, chpid, ErrExist)
	}
	image.chpids[chpid] = chpInfo{inUse: true, virtual: virtual, typ: typ}
	slog.Debug("CSS add chpid", "cssid", cssid, "chpid", chpid, "type", typ)
	return nil
}

// Add a channel path to a running system and report it to the guest.
func (c *ChannelSubsystem) HotplugChpid(cssid uint8, chpid uint8, typ uint8) error {
	if err := c.addChpid(cssid, chpid, typ, true); err != nil {
		return err
	}
	c.GenerateChpCRWs(cssid, chpid, true, true)
	return nil
}

// Remove a channel path no subchannel is using and report it gone.
func (c *ChannelSubsystem) RemoveChpid(cssid uint8, chpid uint8) error {
	c.mu.Lock()
	image := c.images[cssid]
	if image == nil || !image.chpids[chpid].inUse {
		c.mu.Unlock()
		return fmt.Errorf("chpid %x.%02x: %w", cssid, chpid, ErrNoDevice)
	}
	users := []*Subchannel{}
	for _, set := range image.sets {
		if set == nil {
			continue
		}
		for _, sch := range set.sch {
			users = append(users, sch)
		}
	}
	c.mu.Unlock()

	for _, sch := range users {
		if sch.usesChpid(chpid) {
			return fmt.Errorf("chpid %x.%02x used by %s: %w", cssid, chpid, sch, ErrBusy)
		}
	}

	c.mu.Lock()
	image.chpids[chpid] = chpInfo{}
	c.mu.Unlock()
	slog.Debug("CSS remove chpid", "cssid", cssid, "chpid", chpid)
	c.GenerateChpCRWs(cssid, chpid, true, false)
	return nil
}

// Check if channel path defined.
func (c *ChannelSubsystem) ChpidInUse(cssid uint8, chpid uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	image := c.images[cssid]
	return image != nil && image.chpids[chpid].inUse
}

// Type of a channel path.
func (c *ChannelSubsystem) ChpidType(cssid uint8, chpid uint8) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	image := c.images[cssid]
	if image == nil || !image.chpids[chpid].inUse {
		return 0, fmt.Errorf("chpid %x.%02x: %w", cssid, chpid, ErrNoDevice)
	}
	return image.chpids[chpid].typ, nil
}

// Return first unused channel path, skipping the one reserved for virtio.
func (c *ChannelSubsystem) FindFreeChpid(cssid uint8) (uint8, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	image := c.images[cssid]
	if image == nil {
		return 0, false
	}
	for chpid := 0; chpid <= MaxChpID; chpid++ {
		if uint8(chpid) == VirtioCCWChpID {
			continue
		}
		if !image.chpids[chpid].inUse {
			return uint8(chpid), true
		}
	}
	return 0, false
}

// List channel paths of an image.
func (c *ChannelSubsystem) Chpids(cssid uint8) []ChpidInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := []ChpidInfo{}
	image := c.images[cssid]
	if image == nil {
		return list
	}
	for i, chp := range image.chpids {
		if chp.inUse {
			list = append(list, ChpidInfo{ChpID: uint8(i), Type: chp.typ, Virtual: chp.virtual})
		}
	}
	return list
}

// Build channel path descriptors for first to last in format
// rfmt (0 or 1). Returns nil when image does not exist.
func (c *ChannelSubsystem) ChpDesc(m bool, cssid uint8, first uint8, last uint8, rfmt int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	image := c.images[c.realCssID(m, cssid)]
	if image == nil {
		return nil
	}
	buf := []byte{}
	for i := int(first); i <= int(last); i++ {
		chp := image.chpids[i]
		if !chp.inUse {
			continue
		}
		word := 0x80000000 | uint32(chp.typ)<<8 | uint32(i)
		var desc []byte
		switch rfmt {
		case 0:
			desc = make([]byte, ChpDescFmt0Size)
		case 1:
			desc = make([]byte, ChpDescFmt1Size)
		default:
			continue
		}
		binary.BigEndian.PutUint32(desc, word)
		buf = append(buf, desc...)
	}
	return buf
}

// Reset channel path. Queues channel path initialized report.
func (c *ChannelSubsystem) DoRCHP(cssid uint8, chpid uint8) error {
	c.mu.Lock()
	maxCssID := c.maxCssID
	if cssid > maxCssID {
		c.mu.Unlock()
		return fmt.Errorf("rchp cssid %x: %w", cssid, ErrInvalid)
	}
	realID := cssid
	if maxCssID == 0 {
		realID = c.defaultCssID
	}
	image := c.images[realID]
	if image == nil {
		c.mu.Unlock()
		return fmt.Errorf("rchp cssid %x: %w", realID, ErrInvalid)
	}
	chp := image.chpids[chpid]
	c.mu.Unlock()

	if !chp.inUse {
		return fmt.Errorf("rchp chpid %x.%02x: %w", realID, chpid, ErrNoDevice)
	}
	if !chp.virtual {
		slog.Warn("rchp unsupported for non-virtual chpid", "cssid", realID, "chpid", chpid)
		return fmt.Errorf("rchp chpid %x.%02x: %w", realID, chpid, ErrNoDevice)
	}
	c.crws.Queue(crw.RscChp, crw.ErcInit, true, maxCssID > 0, uint16(chpid))
	if maxCssID > 0 {
		c.crws.Queue(crw.RscChp, crw.ErcInit, true, false, uint16(realID)<<8)
	}
	return nil
}
