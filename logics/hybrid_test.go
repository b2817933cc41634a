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
	"math"
	"sync"
	"testing"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rideadvisor/rideadvisor/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const delta = 1e-9

type HybridTestSuite struct {
	suite.Suite
	tables *dataset.Tables
}

func (suite *HybridTestSuite) SetupTest() {
	var err error
	suite.tables, err = dataset.NewEmbeddedLoader().Load(context.Background())
	suite.NoError(err)
}

func (suite *HybridTestSuite) newRecommender(alpha float64) *HybridRecommender {
	r, err := NewHybridRecommender(suite.tables, alpha)
	suite.NoError(err)
	return r
}

func (suite *HybridTestSuite) TestRecommend() {
	r := suite.newRecommender(DefaultAlpha)
	// user1 prefers the Tesla
	rec, err := r.Recommend("user1")
	suite.NoError(err)
	suite.Equal(0, rec.ItemIndex)
	suite.Equal("Tesla Model 3", rec.ItemName)
	suite.Equal("https://api.dicebear.com/7.x/adventurer/svg?seed=tesla", rec.AvatarURL)
	suite.InDelta(1.0, rec.Score, delta)
	suite.Equal(HybridMethod, rec.Method)
	suite.Equal(int64(1), rec.Version)
	scores, err := r.Scores("user1")
	suite.NoError(err)
	suite.Greater(scores.Hybrid[0], scores.Hybrid[1])
	// user2 prefers the Highlander
	rec, err = r.Recommend("user2")
	suite.NoError(err)
	suite.Equal(1, rec.ItemIndex)
	suite.Equal("Toyota Highlander", rec.ItemName)
	suite.InDelta(1.0, rec.Score, delta)
	// user3 prefers the Mustang
	rec, err = r.Recommend("user3")
	suite.NoError(err)
	suite.Equal(2, rec.ItemIndex)
	suite.Equal("Ford Mustang Mach-E", rec.ItemName)
}

func (suite *HybridTestSuite) TestScores() {
	r := suite.newRecommender(DefaultAlpha)
	scores, err := r.Scores("user1")
	suite.NoError(err)
	c := 2 / math.Sqrt(6)
	suite.InDeltaSlice([]float64{1, 0, c}, scores.Content, delta)
	// similarity = [1, 0, c], weighted = [1 + c, c, 1 + c]
	suite.InDeltaSlice([]float64{1, c / (1 + c), 1}, scores.Collaborative, delta)
	suite.InDeltaSlice([]float64{1, 0.5 * c / (1 + c), 0.5 + 0.5*c}, scores.Hybrid, delta)
}

func (suite *HybridTestSuite) TestUnknownUser() {
	r := suite.newRecommender(DefaultAlpha)
	_, err := r.Recommend("unknown_user")
	suite.ErrorIs(err, ErrUserNotFound)
	suite.True(errors.Is(err, errors.NotFound))
	_, err = r.Scores("")
	suite.ErrorIs(err, ErrUserNotFound)
}

func (suite *HybridTestSuite) TestDeterminism() {
	r := suite.newRecommender(DefaultAlpha)
	for _, userId := range r.Users() {
		first, err := r.Recommend(userId)
		suite.NoError(err)
		second, err := r.Recommend(userId)
		suite.NoError(err)
		suite.Equal(first, second)
	}
}

func (suite *HybridTestSuite) TestZeroVector() {
	suite.tables.UserIds = append(suite.tables.UserIds, "user4")
	suite.tables.UserFeatures["user4"] = []float64{0, 0, 0}
	suite.tables.Interactions = append(suite.tables.Interactions, []float64{0, 0, 0})
	r := suite.newRecommender(DefaultAlpha)
	scores, err := r.Scores("user4")
	suite.NoError(err)
	suite.Equal([]float64{0, 0, 0}, scores.Content)
	suite.Equal([]float64{0, 0, 0}, scores.Collaborative)
	rec, err := r.Recommend("user4")
	suite.NoError(err)
	suite.Equal(0, rec.ItemIndex)
	suite.False(math.IsNaN(rec.Score))
	// an all-zero interaction row does not break other users
	for _, userId := range []string{"user1", "user2", "user3"} {
		rec, err = r.Recommend(userId)
		suite.NoError(err)
		suite.False(math.IsNaN(rec.Score) || math.IsInf(rec.Score, 0))
	}
}

func (suite *HybridTestSuite) TestZeroItem() {
	suite.tables.Items[1].Features = []float64{0, 0, 0}
	r := suite.newRecommender(DefaultAlpha)
	scores, err := r.Scores("user2")
	suite.NoError(err)
	suite.Equal(0.0, scores.Content[1])
	rec, err := r.Recommend("user2")
	suite.NoError(err)
	suite.False(math.IsNaN(rec.Score))
}

func (suite *HybridTestSuite) TestAlphaLimits() {
	content := suite.newRecommender(1)
	collaborative := suite.newRecommender(0)
	for _, userId := range content.Users() {
		scores, err := content.Scores(userId)
		suite.NoError(err)
		suite.InDeltaSlice(scores.Content, scores.Hybrid, delta)
		scores, err = collaborative.Scores(userId)
		suite.NoError(err)
		suite.InDeltaSlice(scores.Collaborative, scores.Hybrid, delta)
	}
	_, err := NewHybridRecommender(suite.tables, 1.5)
	suite.Error(err)
	_, err = NewHybridRecommender(suite.tables, -0.1)
	suite.Error(err)
}

func (suite *HybridTestSuite) TestTieBreak() {
	tables := &dataset.Tables{
		UserIds:      []string{"a"},
		UserFeatures: map[string][]float64{"a": {1, 1}},
		Items: []dataset.Item{
			{Name: "first", Features: []float64{1, 1}},
			{Name: "second", Features: []float64{1, 1}},
		},
		Interactions: [][]float64{{1, 1}},
	}
	r, err := NewHybridRecommender(tables, DefaultAlpha)
	suite.NoError(err)
	scores, err := r.Scores("a")
	suite.NoError(err)
	suite.Equal(scores.Hybrid[0], scores.Hybrid[1])
	rec, err := r.Recommend("a")
	suite.NoError(err)
	suite.Equal(0, rec.ItemIndex)
	suite.Equal("first", rec.ItemName)
}

func (suite *HybridTestSuite) TestGenericShape() {
	tables := &dataset.Tables{
		UserIds: []string{"a", "b"},
		UserFeatures: map[string][]float64{
			"a": {0.9, 0.1, 0, 0},
			"b": {0, 0, 0.5, 0.5},
		},
		Items: []dataset.Item{
			{Name: "w", Features: []float64{1, 0, 0, 0}},
			{Name: "x", Features: []float64{0, 1, 0, 0}},
			{Name: "y", Features: []float64{0, 0, 1, 0}},
			{Name: "z", Features: []float64{0, 0, 0, 1}},
		},
		Interactions: [][]float64{{3, 0, 0, 1}, {0, 0, 2, 2}},
	}
	r, err := NewHybridRecommender(tables, 0.3)
	suite.NoError(err)
	rec, err := r.Recommend("a")
	suite.NoError(err)
	suite.Equal("w", rec.ItemName)
	rec, err = r.Recommend("b")
	suite.NoError(err)
	suite.Equal("z", rec.ItemName)
	suite.Equal([]string{"w", "x", "y", "z"}, r.Items())
}

func (suite *HybridTestSuite) TestSwap() {
	r := suite.newRecommender(DefaultAlpha)
	suite.Equal(int64(1), r.Version())
	// invalid tables are rejected
	err := r.Swap(&dataset.Tables{})
	suite.Error(err)
	suite.Equal(int64(1), r.Version())
	// swap tables
	tables := &dataset.Tables{
		UserIds:      []string{"alice"},
		UserFeatures: map[string][]float64{"alice": {1}},
		Items:        []dataset.Item{{Name: "Rivian R1S", Features: []float64{1}}},
		Interactions: [][]float64{{1}},
	}
	err = r.Swap(tables)
	suite.NoError(err)
	suite.Equal(int64(2), r.Version())
	suite.Equal([]string{"alice"}, r.Users())
	suite.Equal([]string{"Rivian R1S"}, r.Items())
	_, err = r.Recommend("user1")
	suite.ErrorIs(err, ErrUserNotFound)
	// the snapshot does not share memory with tables
	tables.Items[0].Name = "changed"
	tables.UserFeatures["alice"][0] = 0
	rec, err := r.Recommend("alice")
	suite.NoError(err)
	suite.Equal("Rivian R1S", rec.ItemName)
	suite.InDelta(1.0, rec.Score, delta)
	suite.Equal(int64(2), rec.Version)
}

type failedLoader struct{}

func (failedLoader) Load(_ context.Context) (*dataset.Tables, error) {
	return nil, errors.New("connection refused")
}

func (suite *HybridTestSuite) TestReload() {
	r := suite.newRecommender(DefaultAlpha)
	err := r.Reload(context.Background(), failedLoader{})
	suite.Error(err)
	suite.Equal(int64(1), r.Version())
	err = r.Reload(context.Background(), dataset.NewEmbeddedLoader())
	suite.NoError(err)
	suite.Equal(int64(2), r.Version())
}

func (suite *HybridTestSuite) TestConcurrentSwap() {
	r := suite.newRecommender(DefaultAlpha)
	renamed, err := dataset.NewEmbeddedLoader().Load(context.Background())
	suite.NoError(err)
	for i := range renamed.Items {
		renamed.Items[i].Name = "renamed " + renamed.Items[i].Name
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				rec, err := r.Recommend("user1")
				assert.NoError(suite.T(), err)
				assert.Equal(suite.T(), 0, rec.ItemIndex)
				assert.Contains(suite.T(), []string{"Tesla Model 3", "renamed Tesla Model 3"}, rec.ItemName)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			suite.NoError(r.Swap(renamed))
		} else {
			suite.NoError(r.Swap(suite.tables))
		}
	}
	wg.Wait()
	suite.Equal(int64(51), r.Version())
}

func TestHybridRecommender(t *testing.T) {
	suite.Run(t, new(HybridTestSuite))
}

func TestCosine(t *testing.T) {
	value, ok := cosine([]float64{1, 0}, []float64{0, 1})
	assert.True(t, ok)
	assert.Zero(t, value)
	value, ok = cosine([]float64{3, 4}, []float64{6, 8})
	assert.True(t, ok)
	assert.InDelta(t, 1.0, value, delta)
	value, ok = cosine([]float64{0, 0}, []float64{1, 1})
	assert.False(t, ok)
	assert.Zero(t, value)
}

func TestMetricNames(t *testing.T) {
	assert.Equal(t, 1, testutil.CollectAndCount(RecommendSeconds, "rideadvisor_recommend_latency_seconds"))
	assert.Equal(t, 1, testutil.CollectAndCount(SnapshotVersion, "rideadvisor_recommend_snapshot_version"))
}
