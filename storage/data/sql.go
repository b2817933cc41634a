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
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/rideadvisor/rideadvisor/base/log"
	"github.com/rideadvisor/rideadvisor/storage"
	"github.com/samber/lo"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

type SQLUser struct {
	UserId    string    `gorm:"column:user_id;type:varchar(256);primaryKey"`
	Email     string    `gorm:"column:email;type:varchar(256);uniqueIndex"`
	FullName  string    `gorm:"column:full_name;type:varchar(256)"`
	AvatarURL string    `gorm:"column:avatar_url;type:text"`
	Blocked   bool      `gorm:"column:blocked"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func NewSQLUser(user User) SQLUser {
	return SQLUser{
		UserId:    user.UserId,
		Email:     user.Email,
		FullName:  user.FullName,
		AvatarURL: user.AvatarURL,
		Blocked:   user.Blocked,
		CreatedAt: user.CreatedAt.UTC(),
	}
}

func (u SQLUser) toUser() User {
	return User{
		UserId:    u.UserId,
		Email:     u.Email,
		FullName:  u.FullName,
		AvatarURL: u.AvatarURL,
		Blocked:   u.Blocked,
		CreatedAt: u.CreatedAt.UTC(),
	}
}

type SQLProfile struct {
	UserId       string    `gorm:"column:user_id;type:varchar(256);primaryKey"`
	Position     int       `gorm:"column:position;index"`
	Features     []float64 `gorm:"column:features;serializer:json"`
	Interactions []float64 `gorm:"column:interactions;serializer:json"`
}

type SQLCar struct {
	Position  int       `gorm:"column:position;primaryKey;autoIncrement:false"`
	Name      string    `gorm:"column:name;type:varchar(256)"`
	AvatarURL string    `gorm:"column:avatar_url;type:text"`
	Features  []float64 `gorm:"column:features;serializer:json"`
}

// SQLDatabase stores users and recommendation tables in MySQL, Postgres or SQLite.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	client *sql.DB
	driver SQLDriver
}

// Init tables and indices.
func (d *SQLDatabase) Init() error {
	if err := d.gormDB.AutoMigrate(&SQLUser{}, &SQLProfile{}, &SQLCar{}); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (d *SQLDatabase) Ping() error {
	return d.client.Ping()
}

func (d *SQLDatabase) Close() error {
	return d.client.Close()
}

func (d *SQLDatabase) Purge() error {
	tables := []string{d.UsersTable(), d.ProfilesTable(), d.CarsTable()}
	for _, tableName := range tables {
		if err := d.gormDB.Exec("DELETE FROM " + tableName).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// InsertUser creates a user. Both the user id and the email must be unused.
func (d *SQLDatabase) InsertUser(ctx context.Context, user User) error {
	var count int64
	if err := d.gormDB.WithContext(ctx).Model(&SQLUser{}).Where("user_id = ?", user.UserId).Count(&count).Error; err != nil {
		return errors.Trace(err)
	} else if count > 0 {
		return errors.Annotate(ErrUserExists, user.UserId)
	}
	if err := d.gormDB.WithContext(ctx).Model(&SQLUser{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
		return errors.Trace(err)
	} else if count > 0 {
		return errors.Annotate(ErrEmailExists, user.Email)
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Create(lo.ToPtr(NewSQLUser(user))).Error)
}

func (d *SQLDatabase) getUser(ctx context.Context, column, value string) (User, error) {
	var users []SQLUser
	if err := d.gormDB.WithContext(ctx).Where(column+" = ?", value).Limit(1).Find(&users).Error; err != nil {
		return User{}, errors.Trace(err)
	}
	if len(users) == 0 {
		return User{}, errors.Annotate(ErrUserNotExist, value)
	}
	return users[0].toUser(), nil
}

func (d *SQLDatabase) GetUser(ctx context.Context, userId string) (User, error) {
	return d.getUser(ctx, "user_id", userId)
}

func (d *SQLDatabase) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return d.getUser(ctx, "email", email)
}

// GetUsers returns at most n users starting from cursor, ordered by user id.
func (d *SQLDatabase) GetUsers(ctx context.Context, cursor string, n int) (string, []User, error) {
	var rows []SQLUser
	if err := d.gormDB.WithContext(ctx).
		Where("user_id >= ?", cursor).
		Order("user_id").
		Limit(n + 1).
		Find(&rows).Error; err != nil {
		return "", nil, errors.Trace(err)
	}
	users := lo.Map(rows, func(row SQLUser, _ int) User {
		return row.toUser()
	})
	if len(users) == n+1 {
		return users[len(users)-1].UserId, users[:len(users)-1], nil
	}
	return "", users, nil
}

func (d *SQLDatabase) ModifyUser(ctx context.Context, userId string, patch UserPatch) error {
	// ignore empty patch
	if patch.IsEmpty() {
		log.Logger().Debug("empty user patch")
		return nil
	}
	if _, err := d.GetUser(ctx, userId); err != nil {
		return errors.Trace(err)
	}
	if patch.Email != nil {
		if other, err := d.GetUserByEmail(ctx, *patch.Email); err == nil && other.UserId != userId {
			return errors.Annotate(ErrEmailExists, *patch.Email)
		} else if err != nil && !errors.Is(err, ErrUserNotExist) {
			return errors.Trace(err)
		}
	}
	values := make(map[string]any)
	if patch.FullName != nil {
		values["full_name"] = *patch.FullName
	}
	if patch.Email != nil {
		values["email"] = *patch.Email
	}
	if patch.AvatarURL != nil {
		values["avatar_url"] = *patch.AvatarURL
	}
	if patch.Blocked != nil {
		values["blocked"] = *patch.Blocked
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Model(&SQLUser{}).Where("user_id = ?", userId).Updates(values).Error)
}

func (d *SQLDatabase) DeleteUser(ctx context.Context, userId string) error {
	result := d.gormDB.WithContext(ctx).Where("user_id = ?", userId).Delete(&SQLUser{})
	if result.Error != nil {
		return errors.Trace(result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.Annotate(ErrUserNotExist, userId)
	}
	return nil
}

func (d *SQLDatabase) ReplaceTables(ctx context.Context, profiles []Profile, cars []Car) error {
	return errors.Trace(d.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, tableName := range []string{d.ProfilesTable(), d.CarsTable()} {
			if err := tx.Exec("DELETE FROM " + tableName).Error; err != nil {
				return errors.Trace(err)
			}
		}
		if len(profiles) > 0 {
			rows := lo.Map(profiles, func(profile Profile, _ int) SQLProfile {
				return SQLProfile(profile)
			})
			if err := tx.Create(&rows).Error; err != nil {
				return errors.Trace(err)
			}
		}
		if len(cars) > 0 {
			rows := lo.Map(cars, func(car Car, _ int) SQLCar {
				return SQLCar(car)
			})
			if err := tx.Create(&rows).Error; err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}))
}

func (d *SQLDatabase) GetProfiles(ctx context.Context) ([]Profile, error) {
	var rows []SQLProfile
	if err := d.gormDB.WithContext(ctx).Order("position").Order("user_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLProfile, _ int) Profile {
		return Profile(row)
	}), nil
}

func (d *SQLDatabase) GetCars(ctx context.Context) ([]Car, error) {
	var rows []SQLCar
	if err := d.gormDB.WithContext(ctx).Order("position").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLCar, _ int) Car {
		return Car(row)
	}), nil
}
