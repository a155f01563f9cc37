/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package arena

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by the arena, its producers
// and its drainer. A nil *Metrics records nothing.
type Metrics struct {
	Claims           prometheus.Counter
	ClaimRacesLost   prometheus.Counter
	ArenaFull        prometheus.Counter
	Published        prometheus.Counter
	Drained          prometheus.Counter
	MalformedHeaders prometheus.Counter
	DrainPasses      prometheus.Counter
	Completions      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shmlog",
			Subsystem: "arena",
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		Claims:           counter("claims_total", "Slots claimed by compare-and-swap."),
		ClaimRacesLost:   counter("claim_races_lost_total", "Compare-and-swap attempts lost to another producer."),
		ArenaFull:        counter("arena_full_total", "Claims abandoned because no room was left."),
		Published:        counter("published_total", "Slots whose valid bit was set."),
		Drained:          counter("drained_total", "Slots copied out and invalidated by the drainer."),
		MalformedHeaders: counter("malformed_headers_total", "Headers whose length ran past the arena end."),
		DrainPasses:      counter("drain_passes_total", "Full scans performed by the drainer."),
		Completions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shmlog",
			Subsystem: "arena",
			Name:      "completions",
			Help:      "Last observed value of the completion counter.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Claims,
			m.ClaimRacesLost,
			m.ArenaFull,
			m.Published,
			m.Drained,
			m.MalformedHeaders,
			m.DrainPasses,
			m.Completions,
		)
	}
	return m
}

func (m *Metrics) claimed() {
	if m != nil {
		m.Claims.Inc()
	}
}

func (m *Metrics) raceLost() {
	if m != nil {
		m.ClaimRacesLost.Inc()
	}
}

func (m *Metrics) full() {
	if m != nil {
		m.ArenaFull.Inc()
	}
}

func (m *Metrics) published() {
	if m != nil {
		m.Published.Inc()
	}
}

func (m *Metrics) drained(n int) {
	if m != nil && n > 0 {
		m.Drained.Add(float64(n))
	}
}

func (m *Metrics) malformed() {
	if m != nil {
		m.MalformedHeaders.Inc()
	}
}

func (m *Metrics) pass() {
	if m != nil {
		m.DrainPasses.Inc()
	}
}

func (m *Metrics) completions(v uint32) {
	if m != nil {
		m.Completions.Set(float64(v))
	}
}
