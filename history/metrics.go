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

package history

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts buffer activity.  One Metrics can serve many
// buffers, which are distinguished by their "buffer" label.
type Metrics struct {
	pushes  *prometheus.CounterVec
	evicted *prometheus.CounterVec
	expired *prometheus.CounterVec
}

// NewMetrics makes and registers the collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swan",
			Subsystem: "history",
			Name:      "pushes_total",
			Help:      "Values pushed into history buffers",
		}, []string{"buffer"}),
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swan",
			Subsystem: "history",
			Name:      "evictions_total",
			Help:      "Values evicted because a buffer was full",
		}, []string{"buffer"}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swan",
			Subsystem: "history",
			Name:      "expirations_total",
			Help:      "Values dropped because they expired",
		}, []string{"buffer"}),
	}
	for _, c := range []prometheus.Collector{m.pushes, m.evicted, m.expired} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// counters are the children of Metrics for one buffer.
type counters struct {
	pushes, evicted, expired prometheus.Counter
}

func (m *Metrics) counters(name string) *counters {
	if m == nil {
		return nil
	}
	return &counters{
		pushes:  m.pushes.WithLabelValues(name),
		evicted: m.evicted.WithLabelValues(name),
		expired: m.expired.WithLabelValues(name),
	}
}

// Forget drops the series for a buffer that's gone.
func (m *Metrics) Forget(name string) {
	if m == nil {
		return
	}
	m.pushes.DeleteLabelValues(name)
	m.evicted.DeleteLabelValues(name)
	m.expired.DeleteLabelValues(name)
}
