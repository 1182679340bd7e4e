/*
 * S390  - Channel subsystem state export
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

// Subchannel as exported for dumps.
type SubchannelInfo struct {
	ID      string `yaml:"id"`
	DevNo   string `yaml:"devno"`
	State   string `yaml:"state"`
	Schib   Schib  `yaml:"schib"`
	Thinint bool   `yaml:"thinint,omitempty"`
}

// Image as exported for dumps.
type ImageInfo struct {
	CssID       uint8            `yaml:"cssid"`
	Default     bool             `yaml:"default"`
	Chpids      []ChpidInfo      `yaml:"chpids"`
	Subchannels []SubchannelInfo `yaml:"subchannels"`
}

// Channel subsystem state.
type Snapshot struct {
	MaxCssID     uint8       `yaml:"max_cssid"`
	MaxSsID      uint8       `yaml:"max_ssid"`
	ChnmonActive bool        `yaml:"chnmon_active"`
	ChnmonArea   uint64      `yaml:"chnmon_area"`
	SEIPending   bool        `yaml:"sei_pending"`
	Images       []ImageInfo `yaml:"images"`
	Adapters     []IOAdapter `yaml:"adapters,omitempty"`
}

// Information about one subchannel.
func (s *Subchannel) Info() SubchannelInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SubchannelInfo{
		ID:      s.String(),
		DevNo:   s.BusID().String(),
		State:   StateOf(&s.schib.SCSW).String(),
		Schib:   s.schib,
		Thinint: s.thinint,
	}
}

// Copy out current state.
func (c *ChannelSubsystem) Snapshot() Snapshot {
	subs := c.Subchannels()
	adapters := c.Adapters()

	c.mu.Lock()
	snap := Snapshot{
		MaxCssID:     c.maxCssID,
		MaxSsID:      c.maxSsID,
		ChnmonActive: c.chnmonActive,
		ChnmonArea:   c.chnmonArea,
		SEIPending:   c.seiPending,
		Adapters:     adapters,
	}
	ids := []uint8{}
	for i, image := range c.images {
		if image != nil {
			ids = append(ids, uint8(i))
		}
	}
	defaultID := c.defaultCssID
	c.mu.Unlock()

	for _, id := range ids {
		info := ImageInfo{
			CssID:       id,
			Default:     id == defaultID,
			Chpids:      c.Chpids(id),
			Subchannels: []SubchannelInfo{},
		}
		for _, sch := range subs {
			if sch.cssid == id {
				info.Subchannels = append(info.Subchannels, sch.Info())
			}
		}
		snap.Images = append(snap.Images, info)
	}
	return snap
}
