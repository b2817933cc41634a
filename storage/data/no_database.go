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

import "context"

// NoDatabase means that no database is used. Every operation fails with ErrNoDatabase.
type NoDatabase struct{}

func (NoDatabase) Init() error {
	return ErrNoDatabase
}

func (NoDatabase) Ping() error {
	return ErrNoDatabase
}

func (NoDatabase) Close() error {
	return ErrNoDatabase
}

func (NoDatabase) Purge() error {
	return ErrNoDatabase
}

func (NoDatabase) InsertUser(_ context.Context, _ User) error {
	return ErrNoDatabase
}

func (NoDatabase) GetUser(_ context.Context, _ string) (User, error) {
	return User{}, ErrNoDatabase
}

func (NoDatabase) GetUserByEmail(_ context.Context, _ string) (User, error) {
	return User{}, ErrNoDatabase
}

func (NoDatabase) GetUsers(_ context.Context, _ string, _ int) (string, []User, error) {
	return "", nil, ErrNoDatabase
}

func (NoDatabase) ModifyUser(_ context.Context, _ string, _ UserPatch) error {
	return ErrNoDatabase
}

func (NoDatabase) DeleteUser(_ context.Context, _ string) error {
	return ErrNoDatabase
}

func (NoDatabase) ReplaceTables(_ context.Context, _ []Profile, _ []Car) error {
	return ErrNoDatabase
}

func (NoDatabase) GetProfiles(_ context.Context) ([]Profile, error) {
	return nil, ErrNoDatabase
}

func (NoDatabase) GetCars(_ context.Context) ([]Car, error) {
	return nil, ErrNoDatabase
}
