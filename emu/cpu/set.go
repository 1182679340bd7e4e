/*
 * S390  - Set of virtual CPUs
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

package cpu

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rcornwell/S390/emu/flic"
	"github.com/rcornwell/S390/emu/ioinst"
	mem "github.com/rcornwell/S390/emu/memory"
)

const MaxCPUs = 64

// All CPUs of a machine. Registered as the notifier of the
// floating interrupt controller.
type Set struct {
	cpus    []*CPU
	metrics *metrics
}

// Create n CPUs sharing memory, interrupt controller and I/O.
func NewSet(n int, m *mem.Memory, f *flic.FLIC, io *ioinst.Handler) *Set {
	if n < 1 {
		n = 1
	}
	if n > MaxCPUs {
		n = MaxCPUs
	}
	s := &Set{metrics: newMetrics()}
	for i := range n {
		s.cpus = append(s.cpus, newCPU(i, m, f, io, s.metrics))
	}
	f.SetNotifier(s)
	return s
}

// Get CPU by address, nil if none.
func (s *Set) CPU(addr int) *CPU {
	if addr < 0 || addr >= len(s.cpus) {
		return nil
	}
	return s.cpus[addr]
}

func (s *Set) All() []*CPU {
	return s.cpus
}

func (s *Set) Len() int {
	return len(s.cpus)
}

// Flag every CPU to check interrupts and wake halted ones that can
// take one of the pending classes.
func (s *Set) Notify(pending uint32) {
	s.metrics.notifications.Inc()
	for _, c := range s.cpus {
		c.notify(pending)
	}
}

// Reset all CPUs.
func (s *Set) Reset() {
	for _, c := range s.cpus {
		c.Reset()
	}
}

// State of all CPUs.
func (s *Set) State() []State {
	list := make([]State, 0, len(s.cpus))
	for _, c := range s.cpus {
		list = append(list, c.State())
	}
	return list
}

// Metric collectors for CPUs.
func (s *Set) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.metrics.delivered,
		s.metrics.wakeups,
		s.metrics.notifications,
	}
}
