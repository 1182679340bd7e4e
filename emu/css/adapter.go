/*
 * S390  - I/O adapters
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
)

// Adapter types.
const (
	AdapterTypeVirtio uint8 = 0
	AdapterTypePCI    uint8 = 1

	AdapterSuppressible uint8 = 0x01 // Subject to adapter interruption suppression

	// Modes for set interruption control.
	SICModeAll    uint16 = 0
	SICModeSingle uint16 = 1
)

// Registered adapter interrupt source.
type IOAdapter struct {
	ID       uint32 `yaml:"id"`
	Type     uint8  `yaml:"type"`
	ISC      uint8  `yaml:"isc"`
	Swap     bool   `yaml:"swap"`
	Maskable bool   `yaml:"maskable"`
	Flags    uint8  `yaml:"flags"`
}

// Register adapter for type and ISC. Registering the same type and
// ISC again returns the existing id.
func (c *ChannelSubsystem) RegisterIOAdapter(typ uint8, isc uint8, swap bool, maskable bool, flags uint8) (uint32, error) {
	if isc > MaxISC {
		return 0, fmt.Errorf("adapter isc %d: %w", isc, ErrInvalid)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uint32(0)
	for _, a := range c.adapters {
		if a.Type == typ && a.ISC == isc {
			return a.ID, nil
		}
		if a.ID >= id {
			id = a.ID + 1
		}
	}
	if err := c.flic.RegisterIOAdapter(id, isc, swap, maskable); err != nil {
		slog.Warn("CSS adapter registration failed", "type", typ, "isc", isc, "error", err)
		return 0, fmt.Errorf("register adapter %d: %w", id, err)
	}
	c.adapters = append(c.adapters, &IOAdapter{
		ID: id, Type: typ, ISC: isc, Swap: swap, Maskable: maskable, Flags: flags,
	})
	slog.Debug("CSS register adapter", "id", id, "type", typ, "isc", isc)
	return id, nil
}

func (c *ChannelSubsystem) findAdapter(typ uint8, isc uint8) *IOAdapter {
	for _, a := range c.adapters {
		if a.Type == typ && a.ISC == isc {
			return a
		}
	}
	return nil
}

// Return id of adapter for type and ISC.
func (c *ChannelSubsystem) GetAdapterID(typ uint8, isc uint8) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.findAdapter(typ, isc)
	if a == nil {
		return 0, false
	}
	return a.ID, true
}

// Registered adapters.
func (c *ChannelSubsystem) Adapters() []IOAdapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := make([]IOAdapter, 0, len(c.adapters))
	for _, a := range c.adapters {
		list = append(list, *a)
	}
	return list
}

// Raise adapter interruption for type on ISC.
func (c *ChannelSubsystem) AdapterInterrupt(typ uint8, isc uint8) {
	c.mu.Lock()
	a := c.findAdapter(typ, isc)
	c.mu.Unlock()
	if a == nil {
		return
	}
	c.metrics.adapterInterrupts.Inc()
	if c.flic.AISSupported() {
		if err := c.flic.InjectAirq(typ, isc, a.Flags); err != nil {
			slog.Error("CSS failed to inject adapter interrupt", "type", typ, "isc", isc, "error", err)
		}
		return
	}
	c.flic.InjectIO(0, 0, 0, uint32(isc)<<IOIntWordISCShft|IOIntWordAI)
}

// Set interruption control. Mode other than all or single is an
// operand error, failure to change mode is not supported.
func (c *ChannelSubsystem) DoSIC(isc uint8, mode uint16) error {
	if !c.flic.AISSupported() {
		return fmt.Errorf("sic: %w", ErrNotSupported)
	}
	switch mode {
	case SICModeAll, SICModeSingle:
	default:
		return fmt.Errorf("sic mode %d: %w", mode, ErrInvalid)
	}
	if err := c.flic.ModifyAISMode(isc, mode); err != nil {
		return fmt.Errorf("sic isc %d: %v: %w", isc, err, ErrNotSupported)
	}
	return nil
}
