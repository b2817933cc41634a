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
	"fmt"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

var createdAt = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

type baseTestSuite struct {
	suite.Suite
	Database
}

func (suite *baseTestSuite) SetupSuite() {
	err := suite.Database.Init()
	suite.NoError(err)
}

func (suite *baseTestSuite) TearDownSuite() {
	err := suite.Database.Close()
	suite.NoError(err)
}

func (suite *baseTestSuite) SetupTest() {
	err := suite.Database.Ping()
	suite.NoError(err)
	err = suite.Database.Purge()
	suite.NoError(err)
}

func (suite *baseTestSuite) TearDownTest() {
	err := suite.Database.Purge()
	suite.NoError(err)
}

func (suite *baseTestSuite) getUsers(ctx context.Context, batchSize int) []User {
	var users []User
	var (
		data   []User
		err    error
		cursor string
	)
	for {
		cursor, data, err = suite.Database.GetUsers(ctx, cursor, batchSize)
		suite.NoError(err)
		users = append(users, data...)
		if cursor == "" {
			suite.LessOrEqual(len(data), batchSize)
			return users
		}
		suite.Equal(batchSize, len(data))
	}
}

func newUser(i int) User {
	return User{
		UserId:    strconv.Itoa(i),
		Email:     fmt.Sprintf("rider%d@example.com", i),
		FullName:  fmt.Sprintf("Rider %c", 'A'+i),
		AvatarURL: fmt.Sprintf("https://api.dicebear.com/7.x/adventurer/svg?seed=%d", i),
		CreatedAt: createdAt,
	}
}

func (suite *baseTestSuite) TestInit() {
	err := suite.Database.Init()
	suite.NoError(err)
}

func (suite *baseTestSuite) TestUsers() {
	ctx := context.Background()
	// insert users
	for i := 9; i >= 0; i-- {
		err := suite.Database.InsertUser(ctx, newUser(i))
		suite.NoError(err)
	}
	// get users
	users := suite.getUsers(ctx, 3)
	suite.Equal(10, len(users))
	for i, user := range users {
		suite.Equal(newUser(i), user)
	}
	// get this user
	user, err := suite.Database.GetUser(ctx, "0")
	suite.NoError(err)
	suite.Equal(newUser(0), user)
	// get user by email
	user, err = suite.Database.GetUserByEmail(ctx, "rider3@example.com")
	suite.NoError(err)
	suite.Equal("3", user.UserId)
	// delete this user
	err = suite.Database.DeleteUser(ctx, "0")
	suite.NoError(err)
	_, err = suite.Database.GetUser(ctx, "0")
	suite.ErrorIs(err, ErrUserNotExist)
	suite.True(errors.Is(err, errors.NotFound))
	err = suite.Database.DeleteUser(ctx, "0")
	suite.ErrorIs(err, ErrUserNotExist)
	_, err = suite.Database.GetUserByEmail(ctx, "rider0@example.com")
	suite.ErrorIs(err, ErrUserNotExist)
	// the email is free again
	err = suite.Database.InsertUser(ctx, newUser(0))
	suite.NoError(err)
}

func (suite *baseTestSuite) TestInsertDuplicateUser() {
	ctx := context.Background()
	err := suite.Database.InsertUser(ctx, newUser(1))
	suite.NoError(err)
	// duplicate id
	duplicate := newUser(1)
	duplicate.Email = "other@example.com"
	err = suite.Database.InsertUser(ctx, duplicate)
	suite.ErrorIs(err, ErrUserExists)
	// duplicate email
	duplicate = newUser(2)
	duplicate.Email = newUser(1).Email
	err = suite.Database.InsertUser(ctx, duplicate)
	suite.ErrorIs(err, ErrEmailExists)
	suite.True(errors.Is(err, errors.AlreadyExists))
}

func (suite *baseTestSuite) TestModifyUser() {
	ctx := context.Background()
	err := suite.Database.InsertUser(ctx, newUser(1))
	suite.NoError(err)
	err = suite.Database.InsertUser(ctx, newUser(2))
	suite.NoError(err)
	// modify full name and avatar
	err = suite.Database.ModifyUser(ctx, "1", UserPatch{
		FullName:  lo.ToPtr("Grace Hopper"),
		AvatarURL: lo.ToPtr("https://api.dicebear.com/7.x/adventurer/svg?seed=tesla"),
	})
	suite.NoError(err)
	user, err := suite.Database.GetUser(ctx, "1")
	suite.NoError(err)
	suite.Equal("Grace Hopper", user.FullName)
	suite.Equal("https://api.dicebear.com/7.x/adventurer/svg?seed=tesla", user.AvatarURL)
	suite.Equal(newUser(1).Email, user.Email)
	suite.False(user.Blocked)
	// block and unblock
	err = suite.Database.ModifyUser(ctx, "1", UserPatch{Blocked: lo.ToPtr(true)})
	suite.NoError(err)
	user, err = suite.Database.GetUser(ctx, "1")
	suite.NoError(err)
	suite.True(user.Blocked)
	err = suite.Database.ModifyUser(ctx, "1", UserPatch{Blocked: lo.ToPtr(false)})
	suite.NoError(err)
	user, err = suite.Database.GetUser(ctx, "1")
	suite.NoError(err)
	suite.False(user.Blocked)
	// modify email
	err = suite.Database.ModifyUser(ctx, "1", UserPatch{Email: lo.ToPtr("grace@example.com")})
	suite.NoError(err)
	user, err = suite.Database.GetUserByEmail(ctx, "grace@example.com")
	suite.NoError(err)
	suite.Equal("1", user.UserId)
	_, err = suite.Database.GetUserByEmail(ctx, newUser(1).Email)
	suite.ErrorIs(err, ErrUserNotExist)
	// email owned by another user
	err = suite.Database.ModifyUser(ctx, "1", UserPatch{Email: lo.ToPtr(newUser(2).Email)})
	suite.ErrorIs(err, ErrEmailExists)
	// keep own email
	err = suite.Database.ModifyUser(ctx, "1", UserPatch{Email: lo.ToPtr("grace@example.com")})
	suite.NoError(err)
	// empty patch
	err = suite.Database.ModifyUser(ctx, "1", UserPatch{})
	suite.NoError(err)
	// missing user
	err = suite.Database.ModifyUser(ctx, "100", UserPatch{FullName: lo.ToPtr("Nobody")})
	suite.ErrorIs(err, ErrUserNotExist)
}

func (suite *baseTestSuite) TestReplaceTables() {
	ctx := context.Background()
	profiles := []Profile{
		{UserId: "user3", Position: 2, Features: []float64{1, 1, 1}, Interactions: []float64{1, 1, 1}},
		{UserId: "user1", Position: 0, Features: []float64{1, 0, 1}, Interactions: []float64{1, 0, 1}},
		{UserId: "user2", Position: 1, Features: []float64{0, 1, 0}, Interactions: []float64{0, 1, 0}},
	}
	cars := []Car{
		{Position: 1, Name: "Toyota Highlander", AvatarURL: "https://api.dicebear.com/7.x/adventurer/svg?seed=highlander", Features: []float64{0, 1, 0}},
		{Position: 0, Name: "Tesla Model 3", AvatarURL: "https://api.dicebear.com/7.x/adventurer/svg?seed=tesla", Features: []float64{1, 0, 1}},
		{Position: 2, Name: "Ford Mustang Mach-E", AvatarURL: "https://api.dicebear.com/7.x/adventurer/svg?seed=mustang", Features: []float64{1, 1, 1}},
	}
	err := suite.Database.ReplaceTables(ctx, profiles, cars)
	suite.NoError(err)
	resultProfiles, err := suite.Database.GetProfiles(ctx)
	suite.NoError(err)
	suite.Equal([]Profile{profiles[1], profiles[2], profiles[0]}, resultProfiles)
	resultCars, err := suite.Database.GetCars(ctx)
	suite.NoError(err)
	suite.Equal([]Car{cars[1], cars[0], cars[2]}, resultCars)

	// smaller tables with users reordered leave no stale rows
	smallerProfiles := []Profile{
		{UserId: "user2", Position: 0, Features: []float64{0, 1}, Interactions: []float64{0, 1}},
		{UserId: "user1", Position: 1, Features: []float64{1, 0}, Interactions: []float64{1, 0}},
	}
	smallerCars := []Car{
		{Position: 0, Name: "Tesla Model Y", AvatarURL: "https://api.dicebear.com/7.x/adventurer/svg?seed=tesla", Features: []float64{1, 0}},
		{Position: 1, Name: "Toyota Highlander", AvatarURL: "https://api.dicebear.com/7.x/adventurer/svg?seed=highlander", Features: []float64{0, 1}},
	}
	err = suite.Database.ReplaceTables(ctx, smallerProfiles, smallerCars)
	suite.NoError(err)
	resultProfiles, err = suite.Database.GetProfiles(ctx)
	suite.NoError(err)
	suite.Equal(smallerProfiles, resultProfiles)
	resultCars, err = suite.Database.GetCars(ctx)
	suite.NoError(err)
	suite.Equal(smallerCars, resultCars)

	// empty tables clear the store
	err = suite.Database.ReplaceTables(ctx, nil, nil)
	suite.NoError(err)
	resultProfiles, err = suite.Database.GetProfiles(ctx)
	suite.NoError(err)
	suite.Empty(resultProfiles)
	resultCars, err = suite.Database.GetCars(ctx)
	suite.NoError(err)
	suite.Empty(resultCars)
}

func (suite *baseTestSuite) TestPurge() {
	ctx := context.Background()
	err := suite.Database.InsertUser(ctx, newUser(1))
	suite.NoError(err)
	err = suite.Database.ReplaceTables(ctx, nil, []Car{{Position: 0, Name: "Tesla Model 3", Features: []float64{1}}})
	suite.NoError(err)
	err = suite.Database.Purge()
	suite.NoError(err)
	_, users, err := suite.Database.GetUsers(ctx, "", 10)
	suite.NoError(err)
	suite.Empty(users)
	cars, err := suite.Database.GetCars(ctx)
	suite.NoError(err)
	suite.Empty(cars)
}
