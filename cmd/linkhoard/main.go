package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/linkhoard/linkhoard/internal/profile"
	"github.com/linkhoard/linkhoard/internal/version"
	"github.com/linkhoard/linkhoard/pipeline/distributor"
	"github.com/linkhoard/linkhoard/pipeline/eventbus"
	"github.com/linkhoard/linkhoard/pipeline/ingest"
	"github.com/linkhoard/linkhoard/pipeline/metrics"
	"github.com/linkhoard/linkhoard/pipeline/parser"
	"github.com/linkhoard/linkhoard/pipeline/rules"
	"github.com/linkhoard/linkhoard/pipeline/taskqueue"
	"github.com/linkhoard/linkhoard/plugin/adapters"
	"github.com/linkhoard/linkhoard/plugin/media"
	"github.com/linkhoard/linkhoard/plugin/sinks"
	"github.com/linkhoard/linkhoard/plugin/sinks/qq"
	"github.com/linkhoard/linkhoard/plugin/sinks/telegram"
	"github.com/linkhoard/linkhoard/plugin/storage"
	"github.com/linkhoard/linkhoard/plugin/tags"
	"github.com/linkhoard/linkhoard/server"
	"github.com/linkhoard/linkhoard/store"
	"github.com/linkhoard/linkhoard/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "linkhoard",
	Short: `A personal content vault: capture links, archive their media, and fan them out to your channels.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// .env is a convenience for direct binary execution; service
		// managers inject the environment themselves.
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:        viper.GetString("mode"),
			Addr:        viper.GetString("addr"),
			Port:        viper.GetInt("port"),
			Data:        viper.GetString("data"),
			Driver:      viper.GetString("driver"),
			DSN:         viper.GetString("dsn"),
			InstanceURL: viper.GetString("instance-url"),
			Version:     version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			return
		}
		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return
		}

		blobStore, err := storage.NewLocalStore(filepath.Join(instanceProfile.Data, "blobs"), instanceProfile.InstanceURL)
		if err != nil {
			slog.Error("failed to initialize blob storage", "error", err)
			return
		}

		exporter := metrics.NewExporter(metrics.DefaultConfig())

		bus := eventbus.NewBus(storeInstance)
		bus.Metrics = exporter
		queue := taskqueue.NewQueue(storeInstance)
		adapterRegistry := adapters.NewRegistry()

		ruleEngine, err := rules.NewEngine()
		if err != nil {
			slog.Error("failed to initialize rule engine", "error", err)
			return
		}

		sinkRegistry := sinks.NewRegistry()
		if instanceProfile.TelegramBotToken != "" {
			telegramSink, err := telegram.New(&telegram.Config{BotToken: instanceProfile.TelegramBotToken}, blobStore)
			if err != nil {
				slog.Error("failed to initialize telegram sink", "error", err)
			} else {
				sinkRegistry.Register(telegramSink)
				slog.Info("telegram sink enabled")
			}
		}
		if instanceProfile.QQEndpoint != "" {
			sinkRegistry.Register(qq.New(&qq.Config{
				Endpoint:    instanceProfile.QQEndpoint,
				AccessToken: instanceProfile.QQAccessToken,
			}, blobStore))
			slog.Info("qq sink enabled", "endpoint", instanceProfile.QQEndpoint)
		}

		var mediaProcessor *media.Processor
		if instanceProfile.IsMediaArchiveEnabled() {
			mediaProcessor = media.NewProcessor(blobStore, &media.Config{
				WebPQuality: instanceProfile.MediaWebPQuality,
				CWebPPath:   instanceProfile.CWebPPath,
			})
			mediaProcessor.Metrics = exporter
		}

		var tagSuggester parser.TagSuggester
		if instanceProfile.IsTagSuggestEnabled() {
			tagSuggester = tags.NewSuggester(tags.Config{
				APIKey:  instanceProfile.TagSuggestAPIKey,
				BaseURL: instanceProfile.TagSuggestBaseURL,
				Model:   instanceProfile.TagSuggestModel,
			})
			slog.Info("tag suggestion enabled", "model", instanceProfile.TagSuggestModel)
		}

		distributorService := distributor.NewService(storeInstance, ruleEngine, bus)
		pool := distributor.NewPool(storeInstance, sinkRegistry, bus, instanceProfile.DistributionWorkers)
		pool.Metrics = exporter

		parseWorker := parser.NewWorker(parser.Options{
			Store:       storeInstance,
			Queue:       queue,
			Registry:    adapterRegistry,
			Rules:       ruleEngine,
			Bus:         bus,
			Media:       mediaProcessor,
			Distributor: distributorService,
			Tags:        tagSuggester,
			Metrics:     exporter,
		})

		ingestService := ingest.NewService(storeInstance, adapterRegistry, queue, bus, exporter)

		s, err := server.NewServer(ctx, instanceProfile, storeInstance, &server.Options{
			Ingest:  ingestService,
			Bus:     bus,
			Metrics: exporter,
		})
		if err != nil {
			slog.Error("failed to create server", "error", err)
			return
		}

		go bus.RunPoller(ctx)
		go parseWorker.Run(ctx)
		go pool.Run(ctx)

		c := make(chan os.Signal, 1)
		signal.Notify(c, terminationSignals...)

		if err := s.Start(ctx); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("failed to start server", "error", err)
				cancel()
			}
		}

		printGreetings(instanceProfile)

		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		<-ctx.Done()
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28081)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")
	rootCmd.PersistentFlags().String("instance-url", "", "the public url of this instance")

	for _, key := range []string{"mode", "addr", "port", "data", "driver", "dsn", "instance-url"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("linkhoard")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("LinkHoard %s started successfully!\n", profile.Version)
	fmt.Printf("Build: %s\n", version.StringFull())
	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
