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
	"context"
	"slices"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rideadvisor/rideadvisor/base/log"
	"github.com/rideadvisor/rideadvisor/dataset"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultAlpha = 0.5
	HybridMethod = "hybrid (content + collaborative)"
)

var ErrUserNotFound = errors.NotFoundf("user")

// Recommendation is the best item for a user.
type Recommendation struct {
	ItemIndex int
	ItemName  string
	AvatarURL string
	Score     float64
	Method    string
	// Version of the snapshot that was scored.
	Version int64
}

// Scores are the per-item scores of a user. All vectors have one entry per item.
type Scores struct {
	Content       []float64 `json:"content"`
	Collaborative []float64 `json:"collaborative"`
	Hybrid        []float64 `json:"hybrid"`
}

// snapshot is an immutable copy of the recommendation tables.
type snapshot struct {
	version      int64
	userIds      []string
	userIndex    map[string]int
	userFeatures [][]float64
	items        []dataset.Item
	interactions *mat.Dense
}

func newSnapshot(tables *dataset.Tables, version int64) (*snapshot, error) {
	if err := tables.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	s := &snapshot{
		version:      version,
		userIds:      slices.Clone(tables.UserIds),
		userIndex:    make(map[string]int, len(tables.UserIds)),
		userFeatures: make([][]float64, len(tables.UserIds)),
		items: lo.Map(tables.Items, func(item dataset.Item, _ int) dataset.Item {
			item.Features = slices.Clone(item.Features)
			return item
		}),
		interactions: mat.NewDense(tables.CountUsers(), tables.CountItems(), nil),
	}
	for i, userId := range tables.UserIds {
		s.userIndex[userId] = i
		s.userFeatures[i] = slices.Clone(tables.UserFeatures[userId])
		s.interactions.SetRow(i, tables.Interactions[i])
	}
	return s, nil
}

// cosine returns the cosine similarity of a and b. It is 0 if either vector has zero norm.
func cosine(a, b []float64) (float64, bool) {
	normA, normB := floats.Norm(a, 2), floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return floats.Dot(a, b) / (normA * normB), true
}

func degenerate(kind string, fields ...zap.Field) {
	DegenerateInputsTotal.WithLabelValues(kind).Inc()
	log.Logger().Debug("degenerate recommender input", append(fields, zap.String("kind", kind))...)
}

func (s *snapshot) scores(userId string, alpha float64) (Scores, error) {
	i, exist := s.userIndex[userId]
	if !exist {
		return Scores{}, errors.Annotate(ErrUserNotFound, userId)
	}
	features := s.userFeatures[i]
	if floats.Norm(features, 2) == 0 {
		degenerate(DegenerateUserVector, zap.String("user_id", userId))
	}
	numItems := len(s.items)

	// content score
	content := make([]float64, numItems)
	for j, item := range s.items {
		var ok bool
		if content[j], ok = cosine(features, item.Features); !ok && floats.Norm(item.Features, 2) == 0 {
			degenerate(DegenerateItemVector, zap.Int("item_index", j))
		}
	}

	// collaborative score
	numUsers, _ := s.interactions.Dims()
	similarity := make([]float64, numUsers)
	for k := 0; k < numUsers; k++ {
		row := s.interactions.RawRowView(k)
		var ok bool
		if similarity[k], ok = cosine(features, row); !ok && floats.Norm(row, 2) == 0 {
			degenerate(DegenerateInteractionRow, zap.String("row_user_id", s.userIds[k]))
		}
	}
	collaborative := make([]float64, numItems)
	if sum := floats.Sum(similarity); sum == 0 {
		degenerate(DegenerateSimilaritySum, zap.String("user_id", userId))
	} else {
		weighted := mat.NewVecDense(numItems, collaborative)
		weighted.MulVec(s.interactions.T(), mat.NewVecDense(numUsers, similarity))
		floats.Scale(1/sum, collaborative)
	}

	// hybrid score
	hybrid := make([]float64, numItems)
	floats.ScaleTo(hybrid, alpha, content)
	floats.AddScaled(hybrid, 1-alpha, collaborative)
	return Scores{Content: content, Collaborative: collaborative, Hybrid: hybrid}, nil
}

// HybridRecommender blends content similarity with collaborative filtering over in-memory tables.
// Tables are replaced as a whole by Swap; concurrent readers see either the old or the new tables.
type HybridRecommender struct {
	alpha    float64
	snapshot atomic.Pointer[snapshot]
	mu       sync.Mutex
}

// NewHybridRecommender creates a recommender. Alpha is the weight of the content score.
func NewHybridRecommender(tables *dataset.Tables, alpha float64) (*HybridRecommender, error) {
	if alpha < 0 || alpha > 1 {
		return nil, errors.NotValidf("alpha %v", alpha)
	}
	s, err := newSnapshot(tables, 1)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r := &HybridRecommender{alpha: alpha}
	r.snapshot.Store(s)
	SnapshotVersion.Set(float64(s.version))
	return r, nil
}

func (r *HybridRecommender) Alpha() float64 {
	return r.alpha
}

// Version is bumped every time tables are swapped.
func (r *HybridRecommender) Version() int64 {
	return r.snapshot.Load().version
}

// Users returns ids of known users in interaction matrix order.
func (r *HybridRecommender) Users() []string {
	return slices.Clone(r.snapshot.Load().userIds)
}

// Items returns names of items in index order.
func (r *HybridRecommender) Items() []string {
	return lo.Map(r.snapshot.Load().items, func(item dataset.Item, _ int) string {
		return item.Name
	})
}

// Scores returns content, collaborative and hybrid scores of every item for a user.
func (r *HybridRecommender) Scores(userId string) (Scores, error) {
	return r.snapshot.Load().scores(userId, r.alpha)
}

// Recommend returns the item with the highest hybrid score. Ties go to the lowest index.
func (r *HybridRecommender) Recommend(userId string) (Recommendation, error) {
	start := time.Now()
	s := r.snapshot.Load()
	scores, err := s.scores(userId, r.alpha)
	if err != nil {
		return Recommendation{}, errors.Trace(err)
	}
	best := floats.MaxIdx(scores.Hybrid)
	RecommendSeconds.Observe(time.Since(start).Seconds())
	return Recommendation{
		ItemIndex: best,
		ItemName:  s.items[best].Name,
		AvatarURL: s.items[best].AvatarURL,
		Score:     scores.Hybrid[best],
		Method:    HybridMethod,
		Version:   s.version,
	}, nil
}

// Swap validates tables and replaces the current ones. Invalid tables leave the recommender unchanged.
func (r *HybridRecommender) Swap(tables *dataset.Tables) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := newSnapshot(tables, r.snapshot.Load().version+1)
	if err != nil {
		return errors.Trace(err)
	}
	r.snapshot.Store(s)
	SnapshotSwapsTotal.Inc()
	SnapshotVersion.Set(float64(s.version))
	log.Logger().Info("swap recommendation tables",
		zap.Int64("version", s.version),
		zap.Int("n_users", len(s.userIds)),
		zap.Int("n_items", len(s.items)))
	return nil
}

// Reload loads tables and swaps them in.
func (r *HybridRecommender) Reload(ctx context.Context, loader dataset.Loader) error {
	tables, err := loader.Load(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	return r.Swap(tables)
}
