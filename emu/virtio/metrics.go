/*
 * S390  - Virtio metrics
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

import "github.com/prometheus/client_golang/prometheus"

// Counters shared by all virtio devices of a machine.
type Metrics struct {
	commands      *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "virtio",
			Name:      "commands_total",
			Help:      "Virtio channel commands executed by command.",
		}, []string{"command"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "virtio",
			Name:      "notifications_total",
			Help:      "Queue and configuration notifications by indicator type.",
		}, []string{"path"}),
	}
}

// Collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.commands, m.notifications}
}
