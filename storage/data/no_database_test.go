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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoDatabase(t *testing.T) {
	ctx := context.Background()
	database, err := Open("", "")
	assert.NoError(t, err)
	assert.IsType(t, NoDatabase{}, database)

	err = database.Close()
	assert.ErrorIs(t, err, ErrNoDatabase)
	err = database.Init()
	assert.ErrorIs(t, err, ErrNoDatabase)
	err = database.Ping()
	assert.ErrorIs(t, err, ErrNoDatabase)
	err = database.Purge()
	assert.ErrorIs(t, err, ErrNoDatabase)

	err = database.InsertUser(ctx, User{})
	assert.ErrorIs(t, err, ErrNoDatabase)
	_, err = database.GetUser(ctx, "")
	assert.ErrorIs(t, err, ErrNoDatabase)
	_, err = database.GetUserByEmail(ctx, "")
	assert.ErrorIs(t, err, ErrNoDatabase)
	_, _, err = database.GetUsers(ctx, "", 0)
	assert.ErrorIs(t, err, ErrNoDatabase)
	err = database.ModifyUser(ctx, "", UserPatch{})
	assert.ErrorIs(t, err, ErrNoDatabase)
	err = database.DeleteUser(ctx, "")
	assert.ErrorIs(t, err, ErrNoDatabase)

	err = database.ReplaceTables(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrNoDatabase)
	_, err = database.GetProfiles(ctx)
	assert.ErrorIs(t, err, ErrNoDatabase)
	_, err = database.GetCars(ctx)
	assert.ErrorIs(t, err, ErrNoDatabase)
}
