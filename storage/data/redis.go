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
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rideadvisor/rideadvisor/base/log"
	"github.com/rideadvisor/rideadvisor/storage"
)

const (
	prefixUser    = "user/"    // prefix for users
	prefixEmail   = "email/"   // prefix for the email index
	prefixProfile = "profile/" // prefix for profiles
	prefixCar     = "car/"     // prefix for cars
)

// Redis use Redis as data storage, mostly for tests and small deployments.
type Redis struct {
	storage.TablePrefix
	client *redis.Client
}

// Init does nothing.
func (r *Redis) Init() error {
	return nil
}

func (r *Redis) Ping() error {
	return r.client.Ping(context.Background()).Err()
}

// Close Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Purge() error {
	ctx := context.Background()
	for _, prefix := range []string{prefixUser, prefixEmail, prefixProfile, prefixCar} {
		keys, err := r.scan(ctx, prefix)
		if err != nil {
			return errors.Trace(err)
		}
		if len(keys) > 0 {
			if err = r.client.Del(ctx, keys...).Err(); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// scan returns all keys with the given prefix.
func (r *Redis) scan(ctx context.Context, prefix string) ([]string, error) {
	var (
		result []string
		keys   []string
		cursor uint64
		err    error
	)
	for {
		keys, cursor, err = r.client.Scan(ctx, cursor, r.Key(prefix)+"*", 0).Result()
		if err != nil {
			return nil, errors.Trace(err)
		}
		result = append(result, keys...)
		if cursor == 0 {
			return result, nil
		}
	}
}

func (r *Redis) InsertUser(ctx context.Context, user User) error {
	if n, err := r.client.Exists(ctx, r.Key(prefixUser+user.UserId)).Result(); err != nil {
		return errors.Trace(err)
	} else if n > 0 {
		return errors.Annotate(ErrUserExists, user.UserId)
	}
	if n, err := r.client.Exists(ctx, r.Key(prefixEmail+user.Email)).Result(); err != nil {
		return errors.Trace(err)
	} else if n > 0 {
		return errors.Annotate(ErrEmailExists, user.Email)
	}
	return r.putUser(ctx, user)
}

func (r *Redis) putUser(ctx context.Context, user User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.Key(prefixUser+user.UserId), data, 0)
		pipe.Set(ctx, r.Key(prefixEmail+user.Email), user.UserId, 0)
		return nil
	})
	return errors.Trace(err)
}

func (r *Redis) GetUser(ctx context.Context, userId string) (User, error) {
	data, err := r.client.Get(ctx, r.Key(prefixUser+userId)).Result()
	if err == redis.Nil {
		return User{}, errors.Annotate(ErrUserNotExist, userId)
	} else if err != nil {
		return User{}, errors.Trace(err)
	}
	var user User
	if err = json.Unmarshal([]byte(data), &user); err != nil {
		return User{}, errors.Trace(err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

func (r *Redis) GetUserByEmail(ctx context.Context, email string) (User, error) {
	userId, err := r.client.Get(ctx, r.Key(prefixEmail+email)).Result()
	if err == redis.Nil {
		return User{}, errors.Annotate(ErrUserNotExist, email)
	} else if err != nil {
		return User{}, errors.Trace(err)
	}
	return r.GetUser(ctx, userId)
}

func (r *Redis) GetUsers(ctx context.Context, cursor string, n int) (string, []User, error) {
	keys, err := r.scan(ctx, prefixUser)
	if err != nil {
		return "", nil, errors.Trace(err)
	}
	userIds := make([]string, 0, len(keys))
	for _, key := range keys {
		userId := strings.TrimPrefix(key, r.Key(prefixUser))
		if userId >= cursor {
			userIds = append(userIds, userId)
		}
	}
	sort.Strings(userIds)
	users := make([]User, 0, n)
	for i, userId := range userIds {
		if i == n {
			return userId, users, nil
		}
		user, err := r.GetUser(ctx, userId)
		if err != nil {
			return "", nil, errors.Trace(err)
		}
		users = append(users, user)
	}
	return "", users, nil
}

func (r *Redis) ModifyUser(ctx context.Context, userId string, patch UserPatch) error {
	if patch.IsEmpty() {
		log.Logger().Debug("empty user patch")
		return nil
	}
	user, err := r.GetUser(ctx, userId)
	if err != nil {
		return errors.Trace(err)
	}
	if patch.Email != nil && *patch.Email != user.Email {
		if n, err := r.client.Exists(ctx, r.Key(prefixEmail+*patch.Email)).Result(); err != nil {
			return errors.Trace(err)
		} else if n > 0 {
			return errors.Annotate(ErrEmailExists, *patch.Email)
		}
		if err = r.client.Del(ctx, r.Key(prefixEmail+user.Email)).Err(); err != nil {
			return errors.Trace(err)
		}
	}
	patch.apply(&user)
	return r.putUser(ctx, user)
}

func (r *Redis) DeleteUser(ctx context.Context, userId string) error {
	user, err := r.GetUser(ctx, userId)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.client.Del(ctx, r.Key(prefixUser+userId), r.Key(prefixEmail+user.Email)).Err())
}

func (r *Redis) ReplaceTables(ctx context.Context, profiles []Profile, cars []Car) error {
	var stale []string
	for _, prefix := range []string{prefixProfile, prefixCar} {
		keys, err := r.scan(ctx, prefix)
		if err != nil {
			return errors.Trace(err)
		}
		stale = append(stale, keys...)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		for _, profile := range profiles {
			data, err := json.Marshal(profile)
			if err != nil {
				return errors.Trace(err)
			}
			pipe.Set(ctx, r.Key(prefixProfile+profile.UserId), data, 0)
		}
		for _, car := range cars {
			data, err := json.Marshal(car)
			if err != nil {
				return errors.Trace(err)
			}
			pipe.Set(ctx, r.Key(prefixCar+strconv.Itoa(car.Position)), data, 0)
		}
		return nil
	})
	return errors.Trace(err)
}

func (r *Redis) GetProfiles(ctx context.Context) ([]Profile, error) {
	keys, err := r.scan(ctx, prefixProfile)
	if err != nil {
		return nil, errors.Trace(err)
	}
	// keep ties stable by user id
	sort.Strings(keys)
	profiles := make([]Profile, 0, len(keys))
	for _, key := range keys {
		data, err := r.client.Get(ctx, key).Result()
		if err != nil {
			return nil, errors.Trace(err)
		}
		var profile Profile
		if err = json.Unmarshal([]byte(data), &profile); err != nil {
			return nil, errors.Trace(err)
		}
		profiles = append(profiles, profile)
	}
	sortProfiles(profiles)
	return profiles, nil
}

func (r *Redis) GetCars(ctx context.Context) ([]Car, error) {
	keys, err := r.scan(ctx, prefixCar)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cars := make([]Car, 0, len(keys))
	for _, key := range keys {
		data, err := r.client.Get(ctx, key).Result()
		if err != nil {
			return nil, errors.Trace(err)
		}
		var car Car
		if err = json.Unmarshal([]byte(data), &car); err != nil {
			return nil, errors.Trace(err)
		}
		cars = append(cars, car)
	}
	sortCars(cars)
	return cars, nil
}
