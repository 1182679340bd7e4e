/*
 * S390  - Channel subsystem metrics
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

package css

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	subchannels       prometheus.Gauge
	functions         *prometheus.CounterVec
	interrupts        prometheus.Counter
	adapterInterrupts prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		subchannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "s390",
			Subsystem: "css",
			Name:      "subchannels",
			Help:      "Subchannels assigned.",
		}),
		functions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "css",
			Name:      "functions_total",
			Help:      "Subchannel instructions accepted.",
		}, []string{"function"}),
		interrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "css",
			Name:      "io_interrupts_total",
			Help:      "I/O interrupts raised by subchannels.",
		}),
		adapterInterrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "s390",
			Subsystem: "css",
			Name:      "adapter_interrupts_total",
			Help:      "Adapter interrupts raised.",
		}),
	}
}

// Metric collectors for the channel subsystem.
func (c *ChannelSubsystem) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.metrics.subchannels,
		c.metrics.functions,
		c.metrics.interrupts,
		c.metrics.adapterInterrupts,
	}
}
