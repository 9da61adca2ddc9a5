package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datasage-io/datasage/ai/agents"
	"github.com/datasage-io/datasage/ai/embedding"
	"github.com/datasage-io/datasage/ai/guard"
	"github.com/datasage-io/datasage/ai/intent"
	"github.com/datasage-io/datasage/ai/llm"
	"github.com/datasage-io/datasage/ai/metrics"
	"github.com/datasage-io/datasage/ai/orchestrator"
	"github.com/datasage-io/datasage/ai/router"
	"github.com/datasage-io/datasage/internal/profile"
	"github.com/datasage-io/datasage/internal/version"
	"github.com/datasage-io/datasage/server"
	"github.com/datasage-io/datasage/store"
	"github.com/datasage-io/datasage/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "datasage",
	Short: `Conversational analytics over your tabular data. Ingest CSVs, then ask questions in plain language.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// .env is a local development convenience; absence is fine.
		_ = godotenv.Load()
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), terminationSignals...)
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "driver", instanceProfile.Driver, "error", err)
			return err
		}
		defer dbDriver.Close()

		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return err
		}

		llmService, err := llm.NewService(&llm.Config{
			Provider: instanceProfile.LLMProvider,
			APIKey:   instanceProfile.LLMAPIKey,
			BaseURL:  instanceProfile.LLMBaseURL,
			Timeout:  instanceProfile.LLMTimeout,
		})
		if err != nil {
			slog.Error("failed to create llm service", "error", err)
			return err
		}
		embeddingProvider, err := embedding.NewProvider(&embedding.Config{
			Provider:   instanceProfile.EmbeddingProvider,
			Model:      instanceProfile.EmbeddingModel,
			APIKey:     instanceProfile.EmbeddingAPIKey,
			BaseURL:    instanceProfile.EmbeddingBaseURL,
			Dimensions: instanceProfile.EmbeddingDimensions,
		})
		if err != nil {
			slog.Error("failed to create embedding provider", "error", err)
			return err
		}

		exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
		storeInstance.SetCacheMetrics(exporter)
		tierRouter := router.New(instanceProfile)
		analysisAgent := agents.NewAnalysisAgent(storeInstance, embeddingProvider, llmService, exporter)
		ingestionAgent := agents.NewIngestionAgent(storeInstance, embeddingProvider, guard.New(), exporter, agents.IngestionConfig{
			Policy: agents.IngestPolicy(instanceProfile.IngestPolicy),
		})
		orch := orchestrator.New(orchestrator.Config{
			Store:      storeInstance,
			LLM:        llmService,
			Embeddings: embeddingProvider,
			Router:     tierRouter,
			Classifier: intent.New(),
			Analysis:   analysisAgent,
			Exporter:   exporter,
		})

		if instanceProfile.IsAIEnabled() {
			go llmService.Warmup(ctx, instanceProfile.ModelSimple)
		}

		s := server.NewServer(instanceProfile, storeInstance, orch, ingestionAgent, exporter)
		printGreetings(instanceProfile)
		return s.Start(ctx)
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("datasage")
	viper.AutomaticEnv()
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("DataSage %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}
	if !profile.IsAIEnabled() {
		fmt.Fprint(os.Stderr, "Warning: no LLM API key configured, chat requests will fail\n")
	}

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
		slog.Error("failed to run", "error", err)
		os.Exit(1)
	}
}
