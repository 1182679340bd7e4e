/*
 * S390  - CPU metrics
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

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	delivered     *prometheus.CounterVec
	wakeups       prometheus.Counter
	notifications prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "cpu",
			Name:      "interrupts_delivered_total",
			Help:      "Interruptions presented to CPUs by class.",
		}, []string{"class"}),
		wakeups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "cpu",
			Name:      "wakeups_total",
			Help:      "Halted CPUs woken by a pending interrupt.",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "cpu",
			Name:      "notifications_total",
			Help:      "Interrupt notifications from the floating interrupt controller.",
		}),
	}
}
