/*
 * S390  - Channel reports, monitoring and reset
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
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/rcornwell/S390/emu/crw"
	"github.com/rcornwell/S390/util/debug"
)

// Debug options.
const (
	debugCmd = 1 << iota
	debugData
	debugDetail
	debugIRQ
	debugState
)

var debugOption = debug.Options{
	"CMD":    debugCmd,
	"DATA":   debugData,
	"DETAIL": debugDetail,
	"IRQ":    debugIRQ,
	"STATE":  debugState,
}

// Enable debug option.
func (c *ChannelSubsystem) Debug(opt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return debugOption.Set(&c.debugMsk, opt)
}

// Report installed parameters initialized for a subchannel.
// Nothing is reported for a cold plugged add.
func (c *ChannelSubsystem) GenerateSchCRWs(cssid uint8, ssid uint8, schid uint16, hotplugged bool, add bool) {
	if add && !hotplugged {
		return
	}
	c.mu.Lock()
	guestCssID := cssid
	if c.maxCssID == 0 && cssid == c.defaultCssID {
		guestCssID = 0
	}
	if ssid > c.maxSsID || guestCssID > c.maxCssID ||
		(c.maxCssID == 0 && cssid != c.defaultCssID) {
		c.mu.Unlock()
		return
	}
	chain := c.maxSsID > 0 || c.maxCssID > 0
	id := c.buildSubchannelID(cssid, ssid)
	c.mu.Unlock()

	c.crws.Queue(crw.RscSubch, crw.ErcIPI, false, chain, schid)
	if chain {
		c.crws.Queue(crw.RscSubch, crw.ErcIPI, false, false, uint16(guestCssID)<<8|uint16(ssid)<<4)
	}
	c.flic.ClearIO(id, schid)
}

// Report channel path brought online or taken offline.
// Nothing is reported for a cold plugged path.
func (c *ChannelSubsystem) GenerateChpCRWs(cssid uint8, chpid uint8, hotplugged bool, add bool) {
	if !hotplugged {
		return
	}
	c.mu.Lock()
	maxCssID := c.maxCssID
	visible := maxCssID > 0 || cssid == c.defaultCssID
	c.mu.Unlock()
	if !visible {
		return
	}
	erc := crw.ErcInit
	if !add {
		erc = crw.ErcPerrn
	}
	c.crws.Queue(crw.RscChp, erc, false, maxCssID > 0, uint16(chpid))
	if maxCssID > 0 {
		c.crws.Queue(crw.RscChp, erc, false, false, uint16(cssid)<<8)
	}
}

// Report event information pending, once until cleared.
func (c *ChannelSubsystem) GenerateCssCRWs(cssid uint8) {
	c.mu.Lock()
	pending := c.seiPending
	c.seiPending = true
	c.mu.Unlock()
	if !pending {
		c.crws.Queue(crw.RscCSS, crw.ErcEvent, false, false, uint16(cssid))
	}
}

// Event information was stored.
func (c *ChannelSubsystem) ClearSEIPending() {
	c.mu.Lock()
	c.seiPending = false
	c.mu.Unlock()
}

// Set channel monitor. Measurement block kind is ignored.
func (c *ChannelSubsystem) DoSCHM(mbk uint8, update bool, dct bool, mbo uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case update && !c.chnmonActive:
		c.chnmonArea = mbo
		c.chnmonActive = true
	case !update && c.chnmonActive:
		c.chnmonArea = 0
		c.chnmonActive = false
	}
	slog.Debug("CSS set channel monitor", "mbk", mbk, "active", c.chnmonActive, "area", c.chnmonArea, "dct", dct)
}

// Channel monitor state.
func (c *ChannelSubsystem) Chnmon() (bool, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chnmonActive, c.chnmonArea
}

// Count start subchannel in measurement block.
func (c *ChannelSubsystem) updateChnmon(sch *Subchannel) {
	active, area := c.Chnmon()
	if !active || (sch.schib.PMCW.Flags&PMCWFlagMME) == 0 {
		return
	}
	if (sch.schib.PMCW.Chars & PMCWCharsMBFC) != 0 {
		// Format 1, block per subchannel
		count, fail := c.mem.GetWord(sch.schib.MBA)
		if !fail {
			c.mem.PutWord(sch.schib.MBA, count+1)
		}
		return
	}
	addr := area + uint64(sch.schib.PMCW.MBI)<<5
	count, fail := c.mem.GetHalf(addr)
	if !fail {
		c.mem.PutHalf(addr, count+1)
	}
}

// Reset channel subsystem and all subchannels.
func (c *ChannelSubsystem) Reset() error {
	var result *multierror.Error
	for _, sch := range c.Subchannels() {
		if err := sch.reset(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	c.mu.Lock()
	c.chnmonActive = false
	c.chnmonArea = 0
	c.seiPending = false
	c.maxCssID = 0
	c.maxSsID = 0
	c.mu.Unlock()
	c.crws.Reset()
	slog.Info("Channel subsystem reset")
	return result.ErrorOrNil()
}
