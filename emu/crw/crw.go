/*
 * S390  - Channel report word queue
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

package crw

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Channel report word.
type CRW struct {
	Flags uint16
	RSID  uint16
}

const (
	Size = 4 // Bytes stored by STCRW

	FlagS   uint16 = 0x4000 // Solicited
	FlagR   uint16 = 0x2000 // Overflow, some reports lost
	FlagC   uint16 = 0x1000 // Chained
	FlagRSC uint16 = 0x0f00 // Reporting source code
	FlagA   uint16 = 0x0080 // Ancillary report
	FlagERC uint16 = 0x003f // Error recovery code

	RscSubch uint8 = 0x3 // Subchannel
	RscChp   uint8 = 0x4 // Channel path
	RscCSS   uint8 = 0xb // Channel subsystem

	ErcEvent  uint8 = 0x00 // Event information pending
	ErcAvail  uint8 = 0x01 // Available
	ErcInit   uint8 = 0x02 // Initialized
	ErcTerror uint8 = 0x03 // Temporary error
	ErcIparm  uint8 = 0x04 // Installed parm initialized
	ErcTerm   uint8 = 0x05 // Terminal
	ErcPerrn  uint8 = 0x06 // Permanent error, not initialized
	ErcPerri  uint8 = 0x07 // Permanent error, initialized
	ErcPmod   uint8 = 0x08 // Installed parameters modified
	ErcIPI    uint8 = 0x0b // Installed parameters initialized

	DefaultCapacity = 64
)

// Receiver of channel report pending machine checks.
type MachineCheck interface {
	InjectCrwMchk()
}

type Queue struct {
	mu       sync.Mutex
	list     []CRW
	capacity int
	lost     bool // Reports dropped since last successful queue
	doMchk   bool // Raise machine check on next queue
	mchk     MachineCheck
	queued   prometheus.Counter
	dropped  prometheus.Counter
}

// Create a new queue holding at most capacity reports.
func New(capacity int, mchk MachineCheck) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		capacity: capacity,
		doMchk:   true,
		mchk:     mchk,
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "crw",
			Name:      "queued_total",
			Help:      "Channel report words queued.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "crw",
			Name:      "lost_total",
			Help:      "Channel report words dropped on overflow.",
		}),
	}
}

// Metric collectors for this queue.
func (q *Queue) Collectors() []prometheus.Collector {
	return []prometheus.Collector{q.queued, q.dropped}
}

// Build a report and put it on the queue.
func (q *Queue) Queue(rsc uint8, erc uint8, solicited bool, chain bool, rsid uint16) {
	crw := CRW{Flags: uint16(rsc)<<8 | uint16(erc), RSID: rsid}
	if solicited {
		crw.Flags |= FlagS
	}
	if chain {
		crw.Flags |= FlagC
	}
	q.Add(crw)
}

// Put report on tail of queue. When queue is full the report is
// dropped and the next queued report will carry overflow flag.
func (q *Queue) Add(crw CRW) {
	q.mu.Lock()
	if q.lost {
		crw.Flags |= FlagR
		q.lost = false
	}
	if len(q.list) >= q.capacity {
		q.lost = true
		q.mu.Unlock()
		q.dropped.Inc()
		slog.Warn("CRW queue full, report lost", "flags", crw.Flags, "rsid", crw.RSID)
		return
	}
	q.list = append(q.list, crw)
	mchk := q.doMchk && q.mchk != nil
	if mchk {
		q.doMchk = false
	}
	q.mu.Unlock()

	q.queued.Inc()
	slog.Debug("CRW queued", "rsc", (crw.Flags&FlagRSC)>>8, "erc", crw.Flags&FlagERC,
		"rsid", crw.RSID, "chained", (crw.Flags&FlagC) != 0)
	if mchk {
		q.mchk.InjectCrwMchk()
	}
}

// Remove oldest report. When queue is empty returns false and
// arms machine check for next report.
func (q *Queue) Dequeue() (CRW, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.list) == 0 {
		q.doMchk = true
		return CRW{}, false
	}
	crw := q.list[0]
	q.list = q.list[1:]
	return crw, true
}

// Put report back on head of queue after failed store.
func (q *Queue) Undo(crw CRW) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.list) >= q.capacity {
		q.lost = true
		return
	}
	q.list = append([]CRW{crw}, q.list...)
}

// Drop all pending reports and rearm machine check.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.list = nil
	q.lost = false
	q.doMchk = true
	q.mu.Unlock()
}

// Number of pending reports.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.list)
}

// Return state of lost flag.
func (q *Queue) Lost() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lost
}

// Copy of pending reports, oldest first.
func (q *Queue) Pending() []CRW {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]CRW{}, q.list...)
}

// Guest byte layout.
func (c CRW) Marshal() []byte {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint16(buf[0:], c.Flags)
	binary.BigEndian.PutUint16(buf[2:], c.RSID)
	return buf
}

// Decode report from guest bytes.
func Unmarshal(data []byte) CRW {
	return CRW{
		Flags: binary.BigEndian.Uint16(data[0:]),
		RSID:  binary.BigEndian.Uint16(data[2:]),
	}
}

// Reporting source code.
func (c CRW) RSC() uint8 {
	return uint8((c.Flags & FlagRSC) >> 8)
}

// Error recovery code.
func (c CRW) ERC() uint8 {
	return uint8(c.Flags & FlagERC)
}
