/*
 * S390  - Delta time event queue
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

package event

import "sync"

type Callback = func(iarg int)

type Event struct {
	time  int      // Number of cycles to event
	owner any      // Device event is registered to
	cb    Callback // Function to callback
	iarg  int      // Integer argument
	prev  *Event
	next  *Event
}

// Time ordered list of events, each time relative to the one before.
type Queue struct {
	mu   sync.Mutex
	head *Event
	tail *Event
	len  int
}

func New() *Queue {
	return &Queue{}
}

// Add an event for owner. A time of 0 runs the callback at once.
func (q *Queue) Add(owner any, cb Callback, time int, iarg int) {
	// If time is 0 process event immediately
	if time <= 0 {
		cb(iarg)
		return
	}

	ev := &Event{owner: owner, cb: cb, time: time, iarg: iarg}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.len++
	evptr := q.head
	// If empty put on head
	if evptr == nil {
		q.head = ev
		q.tail = ev
		return
	}

	// Scan for place to install it
	for evptr != nil {
		// Event before next event
		if ev.time < evptr.time {
			// Remove current time from next time
			evptr.time -= ev.time
			ev.prev = evptr.prev
			ev.next = evptr
			evptr.prev = ev
			if ev.prev != nil {
				ev.prev.next = ev
			} else {
				q.head = ev
			}
			return
		}
		// Make new event relative to head of list
		ev.time -= evptr.time
		evptr = evptr.next
	}

	// Get here, put it on tail of list
	ev.prev = q.tail
	q.tail.next = ev
	q.tail = ev
}

// Remove first event of owner with argument iarg. Returns false if
// no such event was queued.
func (q *Queue) Cancel(owner any, iarg int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for evptr := q.head; evptr != nil; evptr = evptr.next {
		if evptr.owner != owner || evptr.iarg != iarg {
			continue
		}
		nxt := evptr.next
		if nxt != nil {
			// Give time to next event
			nxt.time += evptr.time
			nxt.prev = evptr.prev
		} else {
			q.tail = evptr.prev
		}
		if evptr.prev != nil {
			evptr.prev.next = nxt
		} else {
			q.head = nxt
		}
		q.len--
		return true
	}
	return false
}

// Remove every event of owner, returns number removed.
func (q *Queue) CancelOwner(owner any) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for evptr := q.head; evptr != nil; {
		nxt := evptr.next
		if evptr.owner == owner {
			if nxt != nil {
				nxt.time += evptr.time
				nxt.prev = evptr.prev
			} else {
				q.tail = evptr.prev
			}
			if evptr.prev != nil {
				evptr.prev.next = nxt
			} else {
				q.head = nxt
			}
			q.len--
			n++
		}
		evptr = nxt
	}
	return n
}

// Advance time, running every event that comes due. Callbacks are
// run without the queue locked and may add new events.
func (q *Queue) Advance(t int) {
	q.mu.Lock()
	if q.head == nil {
		q.mu.Unlock()
		return
	}
	q.head.time -= t
	var due []*Event
	for q.head != nil && q.head.time <= 0 {
		ev := q.head
		q.head = ev.next
		if q.head != nil {
			q.head.prev = nil
			// Carry overshoot into next event.
			q.head.time += ev.time
		} else {
			q.tail = nil
		}
		q.len--
		due = append(due, ev)
	}
	q.mu.Unlock()
	for _, ev := range due {
		ev.cb(ev.iarg)
	}
}

// True when any event is queued.
func (q *Queue) Any() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head != nil
}

// Number of events queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len
}
