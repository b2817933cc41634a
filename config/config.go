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

package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

const (
	SourceEmbedded = "embedded"
	SourceFile     = "file"
	SourceDatabase = "database"
)

// Config is the configuration for the RideAdvisor server.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// DatabaseConfig is the configuration for the data store.
type DatabaseConfig struct {
	DataStore   string `mapstructure:"data_store"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// ServerConfig is the configuration for the HTTP server.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	APIKey         string        `mapstructure:"api_key"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	CacheExpire    time.Duration `mapstructure:"cache_expire" validate:"gte=0"`
	DefaultN       int           `mapstructure:"default_n" validate:"gt=0"`
}

// RecommendConfig is the configuration for the hybrid recommender.
type RecommendConfig struct {
	// Alpha is the weight of the content score. The collaborative score gets 1 - Alpha.
	Alpha    float64 `mapstructure:"alpha" validate:"gte=0,lte=1"`
	Source   string  `mapstructure:"source" validate:"oneof=embedded file database"`
	SeedPath string  `mapstructure:"seed_path" validate:"required_if=Source file"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataStore: "sqlite://rideadvisor.db",
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8002,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			CacheExpire:    time.Minute,
			DefaultN:       100,
		},
		Recommend: RecommendConfig{
			Alpha:  0.5,
			Source: SourceEmbedded,
		},
		Tracing: TracingConfig{
			Exporter: "otlp",
			Sampler:  "always",
			Ratio:    1,
		},
	}
}

// Validate checks the configuration against its struct tags.
func (config *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return errors.Trace(validate.Struct(config))
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [database]
	v.SetDefault("database.data_store", defaultConfig.Database.DataStore)
	v.SetDefault("database.table_prefix", defaultConfig.Database.TablePrefix)
	// [server]
	v.SetDefault("server.host", defaultConfig.Server.Host)
	v.SetDefault("server.port", defaultConfig.Server.Port)
	v.SetDefault("server.api_key", defaultConfig.Server.APIKey)
	v.SetDefault("server.allowed_origins", defaultConfig.Server.AllowedOrigins)
	v.SetDefault("server.cache_expire", defaultConfig.Server.CacheExpire)
	v.SetDefault("server.default_n", defaultConfig.Server.DefaultN)
	// [recommend]
	v.SetDefault("recommend.alpha", defaultConfig.Recommend.Alpha)
	v.SetDefault("recommend.source", defaultConfig.Recommend.Source)
	v.SetDefault("recommend.seed_path", defaultConfig.Recommend.SeedPath)
	// [tracing]
	v.SetDefault("tracing.enable_tracing", defaultConfig.Tracing.EnableTracing)
	v.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	v.SetDefault("tracing.collector_endpoint", defaultConfig.Tracing.CollectorEndpoint)
	v.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	v.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

type configBinding struct {
	key string
	env string
}

var bindings = []configBinding{
	{"database.data_store", "RIDEADVISOR_DATA_STORE"},
	{"database.table_prefix", "RIDEADVISOR_TABLE_PREFIX"},
	{"server.host", "RIDEADVISOR_SERVER_HOST"},
	{"server.port", "RIDEADVISOR_SERVER_PORT"},
	{"server.api_key", "RIDEADVISOR_SERVER_API_KEY"},
	{"server.allowed_origins", "RIDEADVISOR_SERVER_ALLOWED_ORIGINS"},
	{"recommend.alpha", "RIDEADVISOR_RECOMMEND_ALPHA"},
	{"recommend.source", "RIDEADVISOR_RECOMMEND_SOURCE"},
	{"recommend.seed_path", "RIDEADVISOR_RECOMMEND_SEED_PATH"},
}

// LoadConfig loads configuration from a TOML file and environment variables.
// An empty path loads defaults and environment variables only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	for _, binding := range bindings {
		if err := v.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}
