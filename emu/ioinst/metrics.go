/*
 * S390  - I/O instruction metrics
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

package ioinst

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	instructions *prometheus.CounterVec
	exceptions   *prometheus.CounterVec
	chsc         *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "ioinst",
			Name:      "executed_total",
			Help:      "I/O instructions executed.",
		}, []string{"op"}),
		exceptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "ioinst",
			Name:      "program_checks_total",
			Help:      "I/O instructions ending in a program interruption.",
		}, []string{"op"}),
		chsc: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "ioinst",
			Name:      "chsc_total",
			Help:      "Channel subsystem calls by command.",
		}, []string{"command"}),
	}
}

// Metric collectors for I/O instructions.
func (h *Handler) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		h.metrics.instructions,
		h.metrics.exceptions,
		h.metrics.chsc,
	}
}
