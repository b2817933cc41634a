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
package dataset

import (
	"fmt"
	"math"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/rideadvisor/rideadvisor/storage/data"
	"github.com/samber/lo"
)

// Item is a recommendable car. Its index is the position in Tables.Items.
type Item struct {
	Name      string    `json:"name" mapstructure:"name"`
	AvatarURL string    `json:"avatar_url" mapstructure:"avatar_url"`
	Features  []float64 `json:"features" mapstructure:"features"`
}

// Tables are the inputs of the hybrid recommender.
//
//	UserFeatures: user id -> feature vector of dimension D
//	Items:        N items, each with a feature vector of dimension D
//	Interactions: U x N matrix, row i belongs to UserIds[i]
type Tables struct {
	UserIds      []string
	UserFeatures map[string][]float64
	Items        []Item
	Interactions [][]float64
}

func (t *Tables) CountUsers() int {
	return len(t.UserIds)
}

func (t *Tables) CountItems() int {
	return len(t.Items)
}

// Dimension returns the length of feature vectors. It is meaningful after Validate succeeds.
func (t *Tables) Dimension() int {
	if len(t.Items) == 0 {
		return 0
	}
	return len(t.Items[0].Features)
}

func invalid(format string, args ...any) error {
	return errors.NewNotValid(nil, fmt.Sprintf("invalid tables: "+format, args...))
}

func checkVector(name string, vector []float64) error {
	for i, value := range vector {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return invalid("%s[%d] is not finite", name, i)
		}
		if value < 0 {
			return invalid("%s[%d] is negative", name, i)
		}
	}
	return nil
}

// Validate checks the shape and values of tables. The collaborative score compares user
// features with interaction rows, so the feature dimension must equal the number of items.
func (t *Tables) Validate() error {
	if t == nil {
		return invalid("nil tables")
	}
	if len(t.UserIds) == 0 {
		return invalid("no users")
	}
	if len(t.Items) == 0 {
		return invalid("no items")
	}
	dim := len(t.Items[0].Features)
	if dim == 0 {
		return invalid("empty feature vectors")
	}
	// check users
	userSet := mapset.NewThreadUnsafeSet[string]()
	for _, userId := range t.UserIds {
		if !userSet.Add(userId) {
			return invalid("duplicate user %q", userId)
		}
		features, exist := t.UserFeatures[userId]
		if !exist {
			return invalid("user %q has no features", userId)
		}
		if len(features) != dim {
			return invalid("user %q has %d features, expected %d", userId, len(features), dim)
		}
		if err := checkVector("user "+userId, features); err != nil {
			return err
		}
	}
	for userId := range t.UserFeatures {
		if !userSet.Contains(userId) {
			return invalid("features of user %q without interactions", userId)
		}
	}
	// check items
	for i, item := range t.Items {
		if len(item.Features) != dim {
			return invalid("item %d has %d features, expected %d", i, len(item.Features), dim)
		}
		if err := checkVector(fmt.Sprintf("item %d", i), item.Features); err != nil {
			return err
		}
	}
	// check interactions
	if len(t.Interactions) != len(t.UserIds) {
		return invalid("%d interaction rows, expected %d", len(t.Interactions), len(t.UserIds))
	}
	for i, row := range t.Interactions {
		if len(row) != len(t.Items) {
			return invalid("interaction row %d has %d columns, expected %d", i, len(row), len(t.Items))
		}
		if err := checkVector(fmt.Sprintf("interactions of user %s", t.UserIds[i]), row); err != nil {
			return err
		}
	}
	if dim != len(t.Items) {
		return invalid("feature dimension %d differs from item count %d", dim, len(t.Items))
	}
	return nil
}

// Profiles converts users of tables to the persisted form.
func (t *Tables) Profiles() []data.Profile {
	return lo.Map(t.UserIds, func(userId string, i int) data.Profile {
		return data.Profile{
			UserId:       userId,
			Position:     i,
			Features:     t.UserFeatures[userId],
			Interactions: t.Interactions[i],
		}
	})
}

// Cars converts items of tables to the persisted form.
func (t *Tables) Cars() []data.Car {
	return lo.Map(t.Items, func(item Item, i int) data.Car {
		return data.Car{
			Position:  i,
			Name:      item.Name,
			AvatarURL: item.AvatarURL,
			Features:  item.Features,
		}
	})
}

// NewTables builds tables from persisted profiles and cars, both ordered by position.
func NewTables(profiles []data.Profile, cars []data.Car) *Tables {
	tables := &Tables{
		UserIds:      make([]string, 0, len(profiles)),
		UserFeatures: make(map[string][]float64, len(profiles)),
		Items:        make([]Item, 0, len(cars)),
		Interactions: make([][]float64, 0, len(profiles)),
	}
	for _, profile := range profiles {
		tables.UserIds = append(tables.UserIds, profile.UserId)
		tables.UserFeatures[profile.UserId] = profile.Features
		tables.Interactions = append(tables.Interactions, profile.Interactions)
	}
	for _, car := range cars {
		tables.Items = append(tables.Items, Item{
			Name:      car.Name,
			AvatarURL: car.AvatarURL,
			Features:  car.Features,
		})
	}
	return tables
}
