/*
 * S390  - Messages to machine core
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

package master

type Msg int

const (
	Start     Msg = iota // Let time advance.
	Stop                 // Freeze time.
	TimeClock            // One timer tick.
	Attention            // Attention on echo device Bus.
	Notify               // Used buffers on queue Queue of virtio device Bus.
	Deliver              // Present pending interruptions to CPUs.
	Reset                // System reset.
	Exec                 // Run Fn on core goroutine.
)

var msgNames = map[Msg]string{
	Start:     "start",
	Stop:      "stop",
	TimeClock: "clock",
	Attention: "attention",
	Notify:    "notify",
	Deliver:   "deliver",
	Reset:     "reset",
	Exec:      "exec",
}

func (m Msg) String() string {
	if name, ok := msgNames[m]; ok {
		return name
	}
	return "unknown"
}

// Packet sent to core. When Reply is not nil the result is sent back on it.
type Packet struct {
	Msg   Msg
	Bus   string
	Queue int
	Fn    func() error
	Reply chan error
}
