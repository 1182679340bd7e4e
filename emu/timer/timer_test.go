/*
 * S390  - Interval timer tests
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

package timer

import (
	"testing"
	"time"

	"github.com/rcornwell/S390/emu/master"
)

// Count ticks received in period.
func count(t *testing.T, ch chan master.Packet, period time.Duration) int {
	t.Helper()
	n := 0
	end := time.After(period)
	for {
		select {
		case v := <-ch:
			if v.Msg != master.TimeClock {
				t.Errorf("Did not receive correct message from timer: %s", v.Msg)
			}
			n++
		case <-end:
			return n
		}
	}
}

func TestTimer(t *testing.T) {
	ch := make(chan master.Packet, 1)
	timer := NewTimer(ch, 10*time.Millisecond)
	defer timer.Shutdown()

	if n := count(t, ch, 100*time.Millisecond); n != 0 {
		t.Errorf("Stopped timer sent %d ticks", n)
	}

	timer.Start()
	if n := count(t, ch, 500*time.Millisecond); n < 20 || n > 55 {
		t.Errorf("Expected about 50 ticks got: %d", n)
	}

	timer.Stop()
	// Let a tick already in flight drain.
	count(t, ch, 20*time.Millisecond)
	if n := count(t, ch, 100*time.Millisecond); n != 0 {
		t.Errorf("Stopped timer sent %d ticks", n)
	}
}

func TestDefaultInterval(t *testing.T) {
	timer := NewTimer(make(chan master.Packet), 0)
	defer timer.Shutdown()
	if timer.interval != Interval {
		t.Errorf("Interval got: %v expected: %v", timer.interval, Interval)
	}
}
