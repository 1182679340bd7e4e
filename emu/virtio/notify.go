/*
 * S390  - Virtio queue notification
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
	"fmt"
	"log/slog"

	"github.com/rcornwell/S390/emu/css"
	mem "github.com/rcornwell/S390/emu/memory"
)

// Backend has used buffers on queue. Indication is made after the
// device delay through the event queue.
func (d *Device) Notify(queue int) error {
	d.mu.Lock()
	if queue < 0 || queue >= len(d.queues) {
		d.mu.Unlock()
		return fmt.Errorf("virtio %s queue %d: %w", d.kind.Name, queue, css.ErrInvalid)
	}
	delay := d.delay
	d.mu.Unlock()
	d.schedule(queue, delay)
	return nil
}

// Configuration space was changed by the backend.
func (d *Device) ConfigChanged() {
	d.mu.Lock()
	delay := d.delay
	d.mu.Unlock()
	d.schedule(ConfigVector, delay)
}

func (d *Device) schedule(vector int, delay int) {
	if d.events == nil {
		d.notify(vector)
		return
	}
	d.events.Add(d, d.notify, delay, vector)
}

// Set indicator for vector and signal the guest.
func (d *Device) notify(vector int) {
	d.mu.Lock()
	sch := d.sch
	if sch == nil {
		d.mu.Unlock()
		return
	}
	m := sch.CSS().Memory()
	var path string
	var adapter bool
	isc := d.isc
	switch {
	case vector == ConfigVector:
		if d.indicators2 == 0 {
			d.mu.Unlock()
			return
		}
		setBits(m, d.indicators2, 1)
		path = "config"
	case d.indicators == 0:
		d.mu.Unlock()
		return
	case d.summary != 0:
		setBit(m, d.indicators, d.indBit+uint64(vector))
		path = "adapter"
		// Only the first device to set the summary raises the interrupt
		adapter = setByte(m, d.summary, 0x01) == 0
	default:
		setBits(m, d.indicators, uint64(1)<<vector)
		path = "classic"
	}
	d.metrics.notifications.WithLabelValues(path).Inc()
	d.mu.Unlock()

	slog.Debug("Virtio notify", "subchannel", sch.String(), "vector", vector, "path", path)
	switch {
	case path == "adapter":
		if adapter {
			sch.CSS().AdapterInterrupt(css.AdapterTypeVirtio, isc)
		}
	default:
		sch.ConditionalIOInterrupt()
	}
}

// Or bits into 64 bit indicator.
func setBits(m *mem.Memory, addr uint64, bits uint64) {
	old, fail := m.GetDouble(addr)
	if fail {
		slog.Warn("Virtio indicator out of storage", "address", fmt.Sprintf("%x", addr))
		return
	}
	m.PutDouble(addr, old|bits)
}

// Set bit counting from most significant bit of first byte.
func setBit(m *mem.Memory, addr uint64, bit uint64) {
	addr += bit / 8
	old, fail := m.GetByte(addr)
	if fail {
		slog.Warn("Virtio indicator out of storage", "address", fmt.Sprintf("%x", addr))
		return
	}
	m.PutByte(addr, old|(0x80>>(bit&7)))
}

// Or value into byte, returning the old contents.
func setByte(m *mem.Memory, addr uint64, value uint8) uint8 {
	old, fail := m.GetByte(addr)
	if fail {
		slog.Warn("Virtio summary indicator out of storage", "address", fmt.Sprintf("%x", addr))
		return 0xff
	}
	m.PutByte(addr, old|value)
	return old
}
