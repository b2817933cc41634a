// Copyright 2025 RideAdvisor Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package logics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DegenerateUserVector     = "zero_user_vector"
	DegenerateItemVector     = "zero_item_vector"
	DegenerateInteractionRow = "zero_interaction_row"
	DegenerateSimilaritySum  = "zero_similarity_sum"
)

var (
	RecommendSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rideadvisor",
		Subsystem: "recommend",
		Name:      "latency_seconds",
	})
	DegenerateInputsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rideadvisor",
		Subsystem: "recommend",
		Name:      "degenerate_inputs_total",
	}, []string{"kind"})
	SnapshotSwapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rideadvisor",
		Subsystem: "recommend",
		Name:      "snapshot_swaps_total",
	})
	SnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rideadvisor",
		Subsystem: "recommend",
		Name:      "snapshot_version",
	})
)
