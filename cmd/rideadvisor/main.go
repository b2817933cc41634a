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
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/rideadvisor/rideadvisor/base/log"
	"github.com/rideadvisor/rideadvisor/cmd/version"
	"github.com/rideadvisor/rideadvisor/config"
	"github.com/rideadvisor/rideadvisor/dataset"
	"github.com/rideadvisor/rideadvisor/logics"
	"github.com/rideadvisor/rideadvisor/server"
	"github.com/rideadvisor/rideadvisor/storage/data"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "rideadvisor",
	Short: "RideAdvisor recommends car avatars to riders.",
	Run: func(cmd *cobra.Command, args []string) {
		// Show version
		if showVersion, _ := cmd.PersistentFlags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		conf := setup(cmd)
		if err := serve(conf); err != nil {
			log.Logger().Fatal("failed to serve", zap.Error(err))
		}
		log.Logger().Info("stop rideadvisor successfully")
	},
}

var importCommand = &cobra.Command{
	Use:   "import [seed file]",
	Short: "Import recommendation tables into the data store.",
	Long:  "Import recommendation tables from a seed file (TOML, YAML or JSON) into the data store. The built-in seed is imported if no file is given.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		conf := setup(cmd)
		loader := dataset.NewEmbeddedLoader()
		if len(args) > 0 {
			loader = dataset.NewFileLoader(args[0])
		}
		if err := importTables(cmd.Context(), conf, loader); err != nil {
			log.Logger().Fatal("failed to import", zap.Error(err))
		}
	},
}

// setup configures the logger and loads the configuration.
func setup(cmd *cobra.Command) *config.Config {
	flags := cmd.Root().PersistentFlags()
	debug, _ := flags.GetBool("debug")
	log.SetLogger(flags, debug)
	configPath, _ := flags.GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	return conf
}

func openDatabase(conf *config.Config) (data.Database, error) {
	database, err := data.Open(conf.Database.DataStore, conf.Database.TablePrefix)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if conf.Database.DataStore != "" {
		if err = database.Init(); err != nil {
			return nil, errors.Annotatef(err, "failed to init %s", log.RedactDBURL(conf.Database.DataStore))
		}
	}
	return database, nil
}

func serve(conf *config.Config) error {
	// setup tracing
	tracerProvider, err := conf.Tracing.NewTracerProvider("rideadvisor")
	if err != nil {
		return errors.Trace(err)
	}
	otel.SetTracerProvider(tracerProvider)
	otel.SetErrorHandler(log.GetErrorHandler())
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	// open data store
	database, err := openDatabase(conf)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if err := database.Close(); err != nil && !errors.Is(err, data.ErrNoDatabase) {
			log.Logger().Error("failed to close data store", zap.Error(err))
		}
	}()

	// load recommendation tables
	loader, err := dataset.NewLoader(conf.Recommend, database)
	if err != nil {
		return errors.Trace(err)
	}
	tables, err := loader.Load(context.Background())
	if err != nil {
		return errors.Annotatef(err, "failed to load %s tables", conf.Recommend.Source)
	}
	recommender, err := logics.NewHybridRecommender(tables, conf.Recommend.Alpha)
	if err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("load recommendation tables",
		zap.String("source", conf.Recommend.Source),
		zap.Int("n_users", tables.CountUsers()),
		zap.Int("n_items", tables.CountItems()),
		zap.Float64("alpha", conf.Recommend.Alpha))

	// start server
	s := server.NewRestServer(conf, database, recommender, loader)
	s.TracerProvider = tracerProvider
	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			log.Logger().Error("failed to shutdown http server", zap.Error(err))
		}
		close(done)
	}()
	if err = s.StartHttpServer(); err != nil {
		return errors.Trace(err)
	}
	<-done
	return nil
}

func importTables(ctx context.Context, conf *config.Config, loader dataset.Loader) error {
	if conf.Database.DataStore == "" {
		return errors.NotAssignedf("data store")
	}
	database, err := openDatabase(conf)
	if err != nil {
		return errors.Trace(err)
	}
	defer database.Close()
	tables, err := loader.Load(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	return dataset.Import(ctx, tables, database)
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().BoolP("version", "v", false, "rideadvisor version")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.AddCommand(importCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
