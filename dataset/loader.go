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
	"bytes"
	"context"
	_ "embed"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/rideadvisor/rideadvisor/base/log"
	"github.com/rideadvisor/rideadvisor/config"
	"github.com/rideadvisor/rideadvisor/storage/data"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

//go:embed seed.toml
var embeddedSeed []byte

// Loader loads recommendation tables from a source.
type Loader interface {
	Load(ctx context.Context) (*Tables, error)
}

type seedUser struct {
	Id           string    `mapstructure:"id"`
	Features     []float64 `mapstructure:"features"`
	Interactions []float64 `mapstructure:"interactions"`
}

type seedFile struct {
	Users []seedUser `mapstructure:"users"`
	Cars  []Item     `mapstructure:"cars"`
}

// ParseSeed parses a seed document. The format is one of the viper config types: toml, yaml or json.
func ParseSeed(r io.Reader, format string) (*Tables, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, errors.Trace(err)
	}
	var seed seedFile
	if err := v.Unmarshal(&seed); err != nil {
		return nil, errors.Trace(err)
	}
	tables := &Tables{
		UserIds:      make([]string, 0, len(seed.Users)),
		UserFeatures: make(map[string][]float64, len(seed.Users)),
		Items:        seed.Cars,
		Interactions: make([][]float64, 0, len(seed.Users)),
	}
	for _, user := range seed.Users {
		tables.UserIds = append(tables.UserIds, user.Id)
		tables.UserFeatures[user.Id] = user.Features
		tables.Interactions = append(tables.Interactions, user.Interactions)
	}
	if err := tables.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return tables, nil
}

type embeddedLoader struct{}

// NewEmbeddedLoader returns a loader of the built-in seed tables.
func NewEmbeddedLoader() Loader {
	return embeddedLoader{}
}

func (embeddedLoader) Load(_ context.Context) (*Tables, error) {
	return ParseSeed(bytes.NewReader(embeddedSeed), "toml")
}

type fileLoader struct {
	path string
}

// NewFileLoader returns a loader of a seed file. The format follows the file extension.
func NewFileLoader(path string) Loader {
	return &fileLoader{path: path}
}

func (l *fileLoader) Load(_ context.Context) (*Tables, error) {
	format := strings.TrimPrefix(filepath.Ext(l.path), ".")
	if format == "" {
		format = "toml"
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	tables, err := ParseSeed(f, format)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to load %s", l.path)
	}
	return tables, nil
}

type databaseLoader struct {
	database data.Database
}

// NewDatabaseLoader returns a loader of profiles and cars in the data store.
func NewDatabaseLoader(database data.Database) Loader {
	return &databaseLoader{database: database}
}

func (l *databaseLoader) Load(ctx context.Context) (*Tables, error) {
	profiles, err := l.database.GetProfiles(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cars, err := l.database.GetCars(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	tables := NewTables(profiles, cars)
	if err = tables.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("load recommendation tables from database",
		zap.Int("n_users", tables.CountUsers()),
		zap.Int("n_items", tables.CountItems()))
	return tables, nil
}

// NewLoader creates the loader for the configured source.
func NewLoader(cfg config.RecommendConfig, database data.Database) (Loader, error) {
	switch cfg.Source {
	case config.SourceEmbedded, "":
		return NewEmbeddedLoader(), nil
	case config.SourceFile:
		return NewFileLoader(cfg.SeedPath), nil
	case config.SourceDatabase:
		return NewDatabaseLoader(database), nil
	default:
		return nil, errors.NotSupportedf("recommend source %s", cfg.Source)
	}
}

// Import replaces the tables in the data store. Users and cars missing from tables are removed.
func Import(ctx context.Context, tables *Tables, database data.Database) error {
	if err := tables.Validate(); err != nil {
		return errors.Trace(err)
	}
	if err := database.ReplaceTables(ctx, tables.Profiles(), tables.Cars()); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("import recommendation tables",
		zap.Int("n_users", tables.CountUsers()),
		zap.Int("n_items", tables.CountItems()))
	return nil
}
