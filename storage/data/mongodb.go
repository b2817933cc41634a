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

package data

import (
	"context"

	"github.com/juju/errors"
	"github.com/rideadvisor/rideadvisor/base/log"
	"github.com/rideadvisor/rideadvisor/storage"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB is the data storage based on MongoDB.
type MongoDB struct {
	storage.TablePrefix
	client *mongo.Client
	dbName string
}

// Init collections and indices in MongoDB.
func (m MongoDB) Init() error {
	ctx := context.Background()
	d := m.client.Database(m.dbName)
	// list collections
	collections, err := d.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return errors.Trace(err)
	}
	// create collections
	for _, name := range []string{m.UsersTable(), m.ProfilesTable(), m.CarsTable()} {
		if !lo.Contains(collections, name) {
			if err = d.CreateCollection(ctx, name); err != nil {
				return errors.Trace(err)
			}
		}
	}
	// create index
	_, err = d.Collection(m.UsersTable()).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.M{"email": 1},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errors.Trace(err)
	}
	_, err = d.Collection(m.ProfilesTable()).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.M{"position": 1},
	})
	return errors.Trace(err)
}

func (m MongoDB) Ping() error {
	return m.client.Ping(context.Background(), nil)
}

// Close connection to MongoDB.
func (m MongoDB) Close() error {
	return m.client.Disconnect(context.Background())
}

func (m MongoDB) Purge() error {
	ctx := context.Background()
	for _, name := range []string{m.UsersTable(), m.ProfilesTable(), m.CarsTable()} {
		c := m.client.Database(m.dbName).Collection(name)
		if _, err := c.DeleteMany(ctx, bson.M{}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (m MongoDB) InsertUser(ctx context.Context, user User) error {
	c := m.client.Database(m.dbName).Collection(m.UsersTable())
	if n, err := c.CountDocuments(ctx, bson.M{"_id": user.UserId}); err != nil {
		return errors.Trace(err)
	} else if n > 0 {
		return errors.Annotate(ErrUserExists, user.UserId)
	}
	if n, err := c.CountDocuments(ctx, bson.M{"email": user.Email}); err != nil {
		return errors.Trace(err)
	} else if n > 0 {
		return errors.Annotate(ErrEmailExists, user.Email)
	}
	_, err := c.InsertOne(ctx, user)
	return errors.Trace(err)
}

func (m MongoDB) getUser(ctx context.Context, filter bson.M, key string) (User, error) {
	c := m.client.Database(m.dbName).Collection(m.UsersTable())
	r := c.FindOne(ctx, filter)
	if errors.Is(r.Err(), mongo.ErrNoDocuments) {
		return User{}, errors.Annotate(ErrUserNotExist, key)
	} else if r.Err() != nil {
		return User{}, errors.Trace(r.Err())
	}
	var user User
	if err := r.Decode(&user); err != nil {
		return User{}, errors.Trace(err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

func (m MongoDB) GetUser(ctx context.Context, userId string) (User, error) {
	return m.getUser(ctx, bson.M{"_id": userId}, userId)
}

func (m MongoDB) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return m.getUser(ctx, bson.M{"email": email}, email)
}

func (m MongoDB) GetUsers(ctx context.Context, cursor string, n int) (string, []User, error) {
	c := m.client.Database(m.dbName).Collection(m.UsersTable())
	opt := options.Find()
	opt.SetLimit(int64(n + 1))
	opt.SetSort(bson.D{{Key: "_id", Value: 1}})
	r, err := c.Find(ctx, bson.M{"_id": bson.M{"$gte": cursor}}, opt)
	if err != nil {
		return "", nil, errors.Trace(err)
	}
	defer r.Close(ctx)
	users := make([]User, 0)
	for r.Next(ctx) {
		var user User
		if err = r.Decode(&user); err != nil {
			return "", nil, errors.Trace(err)
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if len(users) == n+1 {
		return users[len(users)-1].UserId, users[:len(users)-1], nil
	}
	return "", users, nil
}

func (m MongoDB) ModifyUser(ctx context.Context, userId string, patch UserPatch) error {
	if patch.IsEmpty() {
		log.Logger().Debug("empty user patch")
		return nil
	}
	user, err := m.GetUser(ctx, userId)
	if err != nil {
		return errors.Trace(err)
	}
	if patch.Email != nil {
		if other, err := m.GetUserByEmail(ctx, *patch.Email); err == nil && other.UserId != userId {
			return errors.Annotate(ErrEmailExists, *patch.Email)
		} else if err != nil && !errors.Is(err, ErrUserNotExist) {
			return errors.Trace(err)
		}
	}
	patch.apply(&user)
	c := m.client.Database(m.dbName).Collection(m.UsersTable())
	_, err = c.ReplaceOne(ctx, bson.M{"_id": userId}, user)
	return errors.Trace(err)
}

func (m MongoDB) DeleteUser(ctx context.Context, userId string) error {
	c := m.client.Database(m.dbName).Collection(m.UsersTable())
	r, err := c.DeleteOne(ctx, bson.M{"_id": userId})
	if err != nil {
		return errors.Trace(err)
	}
	if r.DeletedCount == 0 {
		return errors.Annotate(ErrUserNotExist, userId)
	}
	return nil
}

// ReplaceTables clears then refills the collections. Multi-document transactions need a replica
// set, so readers may briefly observe empty tables.
func (m MongoDB) ReplaceTables(ctx context.Context, profiles []Profile, cars []Car) error {
	d := m.client.Database(m.dbName)
	for _, name := range []string{m.ProfilesTable(), m.CarsTable()} {
		if _, err := d.Collection(name).DeleteMany(ctx, bson.M{}); err != nil {
			return errors.Trace(err)
		}
	}
	if len(profiles) > 0 {
		if _, err := d.Collection(m.ProfilesTable()).InsertMany(ctx, lo.ToAnySlice(profiles)); err != nil {
			return errors.Trace(err)
		}
	}
	if len(cars) > 0 {
		if _, err := d.Collection(m.CarsTable()).InsertMany(ctx, lo.ToAnySlice(cars)); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (m MongoDB) GetProfiles(ctx context.Context) ([]Profile, error) {
	c := m.client.Database(m.dbName).Collection(m.ProfilesTable())
	opt := options.Find()
	opt.SetSort(bson.D{{Key: "position", Value: 1}, {Key: "_id", Value: 1}})
	r, err := c.Find(ctx, bson.M{}, opt)
	if err != nil {
		return nil, errors.Trace(err)
	}
	profiles := make([]Profile, 0)
	if err = r.All(ctx, &profiles); err != nil {
		return nil, errors.Trace(err)
	}
	return profiles, nil
}

func (m MongoDB) GetCars(ctx context.Context) ([]Car, error) {
	c := m.client.Database(m.dbName).Collection(m.CarsTable())
	opt := options.Find()
	opt.SetSort(bson.D{{Key: "_id", Value: 1}})
	r, err := c.Find(ctx, bson.M{}, opt)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cars := make([]Car, 0)
	if err = r.All(ctx, &cars); err != nil {
		return nil, errors.Trace(err)
	}
	return cars, nil
}
