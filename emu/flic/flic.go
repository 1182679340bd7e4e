/*
 * S390  - Floating interrupt controller
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

package flic

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Pending class bits, also passed to notifier.
const (
	PendingIO       uint32 = 0xff // One bit per ISC, ISC 0 is 0x80
	PendingService  uint32 = 1 << 8
	PendingCrwMchk  uint32 = 1 << 9
	ISCCount               = 8
	AdapterSuppress uint8  = 0x01 // Adapter interrupt may be suppressed

	// Adapter interruption modes for SIC.
	ModeAll    uint16 = 0
	ModeSingle uint16 = 1

	ioIntWordAI      uint32 = 0x80000000
	ioIntWordISCShft        = 27
)

var (
	ErrInvalid = errors.New("flic: invalid argument")
	ErrExist   = errors.New("flic: adapter already registered")
)

// Pending bit for ISC.
func ISCToPending(isc uint8) uint32 {
	return 0x80 >> isc
}

// ISCs enabled by control register 6.
func CR6ToPending(cr6 uint64) uint32 {
	return uint32(cr6>>24) & PendingIO
}

// Called whenever a new interrupt is made pending.
type Notifier interface {
	Notify(pending uint32)
}

// Queued I/O interrupt.
type IOInterrupt struct {
	ID   uint16 `yaml:"id"`
	Nr   uint16 `yaml:"nr"`
	Parm uint32 `yaml:"parm"`
	Word uint32 `yaml:"word"`
}

// ISC of an interruption word.
func (io IOInterrupt) ISC() uint8 {
	return uint8((io.Word >> ioIntWordISCShft) & 7)
}

// Adapter interrupt source.
type Adapter struct {
	ID       uint32 `yaml:"id"`
	ISC      uint8  `yaml:"isc"`
	Swap     bool   `yaml:"swap"`
	Maskable bool   `yaml:"maskable"`
}

type FLIC struct {
	mu           sync.Mutex
	pending      uint32
	serviceParm  uint32
	io           [ISCCount][]IOInterrupt // Last entry is head
	simm         uint8                   // Single interruption mode per ISC
	nimm         uint8                   // No interruptions mode per ISC
	adapters     map[uint32]Adapter
	aisSupported bool
	notifier     Notifier
	metrics      *metrics
}

// Create a new controller.
func New(aisSupported bool) *FLIC {
	return &FLIC{
		adapters:     map[uint32]Adapter{},
		aisSupported: aisSupported,
		metrics:      newMetrics(),
	}
}

// Attach notifier, normally the set of CPUs.
func (f *FLIC) SetNotifier(n Notifier) {
	f.mu.Lock()
	f.notifier = n
	f.mu.Unlock()
}

func (f *FLIC) notify(class uint32) {
	f.mu.Lock()
	n := f.notifier
	f.mu.Unlock()
	if n != nil {
		n.Notify(class)
	}
}

// Merge service signal parameter.
func (f *FLIC) InjectService(parm uint32) {
	f.mu.Lock()
	f.serviceParm |= parm
	f.pending |= PendingService
	f.mu.Unlock()
	f.metrics.injected.WithLabelValues("service").Inc()
	f.notify(PendingService)
}

// Queue an I/O interrupt on the ISC selected by word.
func (f *FLIC) InjectIO(id uint16, nr uint16, parm uint32, word uint32) {
	io := IOInterrupt{ID: id, Nr: nr, Parm: parm, Word: word}
	f.mu.Lock()
	bit := f.injectIOLocked(io)
	f.mu.Unlock()
	f.metrics.injected.WithLabelValues("io").Inc()
	slog.Debug("FLIC inject io", "id", id, "nr", nr, "parm", parm, "isc", io.ISC())
	f.notify(bit)
}

// Caller holds f.mu. Returns pending bit set.
func (f *FLIC) injectIOLocked(io IOInterrupt) uint32 {
	isc := io.ISC()
	bit := ISCToPending(isc)
	f.io[isc] = append(f.io[isc], io)
	f.pending |= bit
	return bit
}

// Raise channel report pending machine check.
func (f *FLIC) InjectCrwMchk() {
	f.mu.Lock()
	f.pending |= PendingCrwMchk
	f.mu.Unlock()
	f.metrics.injected.WithLabelValues("mchk").Inc()
	f.notify(PendingCrwMchk)
}

// Adapter interrupt, subject to suppression mode of ISC.
func (f *FLIC) InjectAirq(typ uint8, isc uint8, flags uint8) error {
	if isc >= ISCCount {
		return fmt.Errorf("adapter isc %d: %w", isc, ErrInvalid)
	}
	mask := uint8(ISCToPending(isc))
	suppressible := (flags & AdapterSuppress) != 0

	f.mu.Lock()
	if suppressible && (f.nimm&mask) != 0 {
		f.mu.Unlock()
		f.metrics.suppressed.Inc()
		slog.Debug("FLIC adapter interrupt suppressed", "type", typ, "isc", isc)
		return nil
	}
	bit := f.injectIOLocked(IOInterrupt{Word: uint32(isc)<<ioIntWordISCShft | ioIntWordAI})
	if suppressible && (f.simm&mask) != 0 {
		f.nimm |= mask
		slog.Debug("FLIC suppress adapter interrupts", "isc", isc, "from", "single", "to", "none")
	}
	f.mu.Unlock()
	f.metrics.injected.WithLabelValues("io").Inc()
	slog.Debug("FLIC inject adapter", "type", typ, "isc", isc)
	f.notify(bit)
	return nil
}

// Change adapter interruption mode of ISC.
func (f *FLIC) ModifyAISMode(isc uint8, mode uint16) error {
	if isc >= ISCCount {
		return fmt.Errorf("ais mode isc %d: %w", isc, ErrInvalid)
	}
	mask := uint8(ISCToPending(isc))
	f.mu.Lock()
	defer f.mu.Unlock()
	switch mode {
	case ModeAll:
		f.simm &^= mask
		f.nimm &^= mask
	case ModeSingle:
		f.simm |= mask
		f.nimm &^= mask
	default:
		return fmt.Errorf("ais mode %d: %w", mode, ErrInvalid)
	}
	slog.Debug("FLIC modify ais mode", "isc", isc, "mode", mode)
	return nil
}

// True if adapter interruption suppression is available.
func (f *FLIC) AISSupported() bool {
	return f.aisSupported
}

// Record adapter.
func (f *FLIC) RegisterIOAdapter(id uint32, isc uint8, swap bool, maskable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.adapters[id]; ok {
		return fmt.Errorf("adapter %d: %w", id, ErrExist)
	}
	f.adapters[id] = Adapter{ID: id, ISC: isc, Swap: swap, Maskable: maskable}
	return nil
}

// Registered adapters.
func (f *FLIC) Adapters() []Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := make([]Adapter, 0, len(f.adapters))
	for _, a := range f.adapters {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Drop queued interrupts for a subchannel.
func (f *FLIC) ClearIO(id uint16, nr uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for isc := range f.io {
		list := f.io[isc][:0]
		for _, io := range f.io[isc] {
			if io.ID != id || io.Nr != nr {
				list = append(list, io)
			}
		}
		f.io[isc] = list
		if len(list) == 0 {
			f.pending &^= ISCToPending(uint8(isc))
		}
	}
}

// Take service signal parameter. Only valid when service pending.
func (f *FLIC) DequeueService() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if (f.pending & PendingService) == 0 {
		panic("flic: dequeue service with none pending")
	}
	parm := f.serviceParm
	f.serviceParm = 0
	f.pending &^= PendingService
	f.metrics.delivered.WithLabelValues("service").Inc()
	return parm
}

// Remove most recent interrupt from lowest ISC enabled by cr6.
func (f *FLIC) DequeueIO(cr6 uint64) (IOInterrupt, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pending := f.pending & CR6ToPending(cr6)
	if pending == 0 {
		return IOInterrupt{}, false
	}
	for isc := uint8(0); isc < ISCCount; isc++ {
		bit := ISCToPending(isc)
		if (pending & bit) == 0 {
			continue
		}
		list := f.io[isc]
		if len(list) == 0 {
			panic(fmt.Sprintf("flic: isc %d pending with empty queue", isc))
		}
		io := list[len(list)-1]
		f.io[isc] = list[:len(list)-1]
		if len(f.io[isc]) == 0 {
			f.pending &^= bit
		}
		f.metrics.delivered.WithLabelValues("io").Inc()
		return io, true
	}
	return IOInterrupt{}, false
}

// Clear machine check pending. Only valid when one pending.
func (f *FLIC) DequeueCrwMchk() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if (f.pending & PendingCrwMchk) == 0 {
		panic("flic: dequeue crw machine check with none pending")
	}
	f.pending &^= PendingCrwMchk
	f.metrics.delivered.WithLabelValues("mchk").Inc()
}

func (f *FLIC) HasService() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (f.pending & PendingService) != 0
}

func (f *FLIC) HasIO(cr6 uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (f.pending & CR6ToPending(cr6)) != 0
}

func (f *FLIC) HasCrwMchk() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (f.pending & PendingCrwMchk) != 0
}

func (f *FLIC) HasAny() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending != 0
}

// Pending class bits.
func (f *FLIC) Pending() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// Drop everything pending and leave suppression modes.
func (f *FLIC) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = 0
	f.serviceParm = 0
	for isc := range f.io {
		f.io[isc] = nil
	}
	f.simm = 0
	f.nimm = 0
	slog.Debug("FLIC reset")
}

// Snapshot of controller state.
type State struct {
	Pending     uint32          `yaml:"pending"`
	ServiceParm uint32          `yaml:"service_parm"`
	SIMM        uint8           `yaml:"simm"`
	NIMM        uint8           `yaml:"nimm"`
	IO          [][]IOInterrupt `yaml:"io"`
	Adapters    []Adapter       `yaml:"adapters,omitempty"`
}

// Copy current state, I/O queues listed head first.
func (f *FLIC) State() State {
	adapters := f.Adapters()
	f.mu.Lock()
	defer f.mu.Unlock()
	st := State{
		Pending:     f.pending,
		ServiceParm: f.serviceParm,
		SIMM:        f.simm,
		NIMM:        f.nimm,
		IO:          make([][]IOInterrupt, ISCCount),
		Adapters:    adapters,
	}
	for isc, list := range f.io {
		q := make([]IOInterrupt, 0, len(list))
		for i := len(list) - 1; i >= 0; i-- {
			q = append(q, list[i])
		}
		st.IO[isc] = q
	}
	return st
}

// Metric collectors for the controller.
func (f *FLIC) Collectors() []prometheus.Collector {
	return []prometheus.Collector{f.metrics.injected, f.metrics.delivered, f.metrics.suppressed}
}

type metrics struct {
	injected   *prometheus.CounterVec
	delivered  *prometheus.CounterVec
	suppressed prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		injected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "flic",
			Name:      "injected_total",
			Help:      "Floating interrupts injected by class.",
		}, []string{"class"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "flic",
			Name:      "delivered_total",
			Help:      "Floating interrupts dequeued by class.",
		}, []string{"class"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "flic",
			Name:      "suppressed_total",
			Help:      "Adapter interrupts dropped in no-interruptions mode.",
		}),
	}
}
