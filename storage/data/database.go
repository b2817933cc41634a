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
	"sort"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/juju/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rideadvisor/rideadvisor/base/log"
	"github.com/rideadvisor/rideadvisor/storage"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

var (
	ErrUserNotExist = errors.NotFoundf("user")
	ErrUserExists   = errors.AlreadyExistsf("user")
	ErrEmailExists  = errors.AlreadyExistsf("email")
	ErrNoDatabase   = errors.NotAssignedf("database")
)

// User stores the profile of a registered user.
type User struct {
	UserId    string    `json:"id" bson:"_id"`
	Email     string    `json:"email" bson:"email"`
	FullName  string    `json:"fullName" bson:"full_name"`
	AvatarURL string    `json:"avatar_url" bson:"avatar_url"`
	Blocked   bool      `json:"blocked" bson:"blocked"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// UserPatch is the modification on a user. Nil fields are left untouched.
type UserPatch struct {
	FullName  *string `json:"fullName,omitempty"`
	Email     *string `json:"email,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Blocked   *bool   `json:"blocked,omitempty"`
}

// IsEmpty returns true if the patch modifies nothing.
func (patch UserPatch) IsEmpty() bool {
	return patch.FullName == nil && patch.Email == nil && patch.AvatarURL == nil && patch.Blocked == nil
}

func (patch UserPatch) apply(user *User) {
	if patch.FullName != nil {
		user.FullName = *patch.FullName
	}
	if patch.Email != nil {
		user.Email = *patch.Email
	}
	if patch.AvatarURL != nil {
		user.AvatarURL = *patch.AvatarURL
	}
	if patch.Blocked != nil {
		user.Blocked = *patch.Blocked
	}
}

// Profile is a known user of the recommender: a feature vector and a row of the interaction matrix.
// Position orders rows of the interaction matrix.
type Profile struct {
	UserId       string    `json:"user_id" bson:"_id"`
	Position     int       `json:"position" bson:"position"`
	Features     []float64 `json:"features" bson:"features"`
	Interactions []float64 `json:"interactions" bson:"interactions"`
}

// Car is a recommendable item. Position is its stable index.
type Car struct {
	Position  int       `json:"position" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	AvatarURL string    `json:"avatar_url" bson:"avatar_url"`
	Features  []float64 `json:"features" bson:"features"`
}

func sortProfiles(profiles []Profile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Position < profiles[j].Position
	})
}

func sortCars(cars []Car) {
	sort.SliceStable(cars, func(i, j int) bool {
		return cars[i].Position < cars[j].Position
	})
}

type Database interface {
	Init() error
	Ping() error
	Close() error
	Purge() error
	InsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, userId string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUsers(ctx context.Context, cursor string, n int) (string, []User, error)
	ModifyUser(ctx context.Context, userId string, patch UserPatch) error
	DeleteUser(ctx context.Context, userId string) error
	// ReplaceTables drops every stored profile and car, then writes the given ones.
	ReplaceTables(ctx context.Context, profiles []Profile, cars []Car) error
	GetProfiles(ctx context.Context) ([]Profile, error)
	GetCars(ctx context.Context) ([]Car, error)
}

// Open a connection to a database. An empty path opens NoDatabase.
func Open(path, tablePrefix string) (Database, error) {
	var err error
	if path == "" {
		return NoDatabase{}, nil
	} else if strings.HasPrefix(path, storage.MySQLPrefix) {
		name := path[len(storage.MySQLPrefix):]
		// append parameters
		if name, err = storage.AppendMySQLParams(name, map[string]string{
			"sql_mode":  "'ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'",
			"parseTime": "true",
		}); err != nil {
			return nil, errors.Trace(err)
		}
		// connect to database
		database := new(SQLDatabase)
		database.driver = MySQL
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("mysql", name,
			otelsql.WithAttributes(semconv.DBSystemMySQL),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.PostgresPrefix) || strings.HasPrefix(path, storage.PostgreSQLPrefix) {
		database := new(SQLDatabase)
		database.driver = Postgres
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("postgres", path,
			otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.MongoPrefix) || strings.HasPrefix(path, storage.MongoSrvPrefix) {
		// connect to database
		database := new(MongoDB)
		opts := options.Client()
		opts.Monitor = otelmongo.NewMonitor()
		opts.ApplyURI(path)
		if database.client, err = mongo.Connect(context.Background(), opts); err != nil {
			return nil, errors.Trace(err)
		}
		// parse DSN and extract database name
		if cs, err := connstring.ParseAndValidate(path); err != nil {
			return nil, errors.Trace(err)
		} else {
			database.dbName = cs.Database
			database.TablePrefix = storage.TablePrefix(tablePrefix)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.SQLitePrefix) {
		// append parameters
		if path, err = storage.AppendURLParams(path, []lo.Tuple2[string, string]{
			{A: "_pragma", B: "busy_timeout(10000)"},
			{A: "_pragma", B: "journal_mode(wal)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		// connect to database
		name := path[len(storage.SQLitePrefix):]
		database := new(SQLDatabase)
		database.driver = SQLite
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("sqlite", name,
			otelsql.WithAttributes(semconv.DBSystemSqlite),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		gormConfig := storage.NewGORMConfig(tablePrefix)
		gormConfig.Logger = &zapgorm2.Logger{
			ZapLogger:                 log.Logger(),
			LogLevel:                  logger.Warn,
			SlowThreshold:             10 * time.Second,
			SkipCallerLookup:          false,
			IgnoreRecordNotFoundError: true,
		}
		database.gormDB, err = gorm.Open(sqlite.Dialector{Conn: database.client}, gormConfig)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.RedisPrefix) || strings.HasPrefix(path, storage.RedissPrefix) {
		opt, err := redis.ParseURL(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		database := new(Redis)
		database.client = redis.NewClient(opt)
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if err = redisotel.InstrumentTracing(database.client, redisotel.WithAttributes(semconv.DBSystemRedis)); err != nil {
			log.Logger().Error("failed to add tracing for redis", zap.Error(err))
			return nil, errors.Trace(err)
		}
		return database, nil
	}
	return nil, errors.Errorf("Unknown database: %s", log.RedactDBURL(path))
}
