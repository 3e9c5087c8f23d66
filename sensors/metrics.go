/* Copyright 2018 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sensors

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics reports Multiplexer activity.  Multiplexers are
// distinguished by their "resource" label.
type Metrics struct {
	subscribers  *prometheus.GaugeVec
	acquisitions *prometheus.CounterVec
	releases     *prometheus.CounterVec
	failures     *prometheus.CounterVec
}

// NewMetrics makes and registers the collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "swan",
			Subsystem: "sensor",
			Name:      "subscribers",
			Help:      "Current subscribers of a shared resource",
		}, []string{"resource"}),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swan",
			Subsystem: "sensor",
			Name:      "acquisitions_total",
			Help:      "Starts of a shared resource, including restarts with a new configuration",
		}, []string{"resource"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swan",
			Subsystem: "sensor",
			Name:      "releases_total",
			Help:      "Stops of a shared resource after its last subscriber left",
		}, []string{"resource"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swan",
			Subsystem: "sensor",
			Name:      "setup_failures_total",
			Help:      "Failed starts of a shared resource",
		}, []string{"resource"}),
	}
	for _, c := range []prometheus.Collector{m.subscribers, m.acquisitions, m.releases, m.failures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

type muxCounters struct {
	subscribers prometheus.Gauge
	acquisitions,
	releases,
	failures prometheus.Counter
}

func (m *Metrics) counters(resource string) *muxCounters {
	if m == nil {
		return nil
	}
	return &muxCounters{
		subscribers:  m.subscribers.WithLabelValues(resource),
		acquisitions: m.acquisitions.WithLabelValues(resource),
		releases:     m.releases.WithLabelValues(resource),
		failures:     m.failures.WithLabelValues(resource),
	}
}
