/*
 * Copyright 2025 tomoncle.
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

package repository

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tomoncle/docstore/database"
)

// Metrics counts repository operations. A nil *Metrics records nothing.
type Metrics struct {
	operations      *prometheus.CounterVec
	replaceAttempts prometheus.Histogram
}

// NewMetrics registers the repository collectors on reg. Registering twice on
// the same registry reuses the collectors already there.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docstore_operations_total",
		Help: "Repository operations by collection, operation and outcome.",
	}, []string{"collection", "operation", "outcome"})
	attempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "docstore_replace_attempts",
		Help:    "ReplaceOne calls issued per Replace.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
	})

	if err := reg.Register(operations); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		operations = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(attempts); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		attempts = are.ExistingCollector.(prometheus.Histogram)
	}
	return &Metrics{operations: operations, replaceAttempts: attempts}, nil
}

func (m *Metrics) observe(collection, operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(collection, operation, outcome(err)).Inc()
}

func (m *Metrics) observeReplace(attempts int) {
	if m == nil || attempts == 0 {
		return
	}
	m.replaceAttempts.Observe(float64(attempts))
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ReplaceAll(database.KindOf(err).String(), " ", "_")
}
