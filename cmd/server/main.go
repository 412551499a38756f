package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudshipai/workflowcore/internal/api"
	"github.com/cloudshipai/workflowcore/internal/config"
	"github.com/cloudshipai/workflowcore/internal/db"
	"github.com/cloudshipai/workflowcore/internal/db/repositories"
	"github.com/cloudshipai/workflowcore/internal/logging"
	"github.com/cloudshipai/workflowcore/internal/telemetry"
	"github.com/cloudshipai/workflowcore/pkg/engine"
	"github.com/cloudshipai/workflowcore/pkg/executor"
	"github.com/cloudshipai/workflowcore/pkg/queue"
	"github.com/cloudshipai/workflowcore/pkg/registry"
)

const pollInterval = 500 * time.Millisecond

var (
	cfgFile      string
	enableOTEL   bool
	otelEndpoint string

	rootCmd = &cobra.Command{
		Use:   "workflowcore",
		Short: "workflowcore runs the workflow execution core's API and engine",
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the admission API and workflow engine",
		RunE:  runServe,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&enableOTEL, "enable-telemetry", false, "export OpenTelemetry traces and metrics")
	rootCmd.PersistentFlags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint (default: http://localhost:4318)")

	serveCmd.Flags().Int("api-port", 8090, "API server port")
	serveCmd.Flags().String("database", "./workflowcore.db", "database file path")
	serveCmd.Flags().Bool("debug", false, "enable debug logging")
	viper.BindPFlag("api_port", serveCmd.Flags().Lookup("api-port"))
	viper.BindPFlag("db_path", serveCmd.Flags().Lookup("database"))
	viper.BindPFlag("debug", serveCmd.Flags().Lookup("debug"))

	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if err := config.InitViper(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "config init error: %v\n", err)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Initialize(cfg.Debug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	repos := repositories.New(database)
	reg := registry.New(repos)
	adapters := executor.NewAdapterRegistry()
	dispatcher := executor.NewHTTPDispatcher(cfg.KubeNamespace)
	exec := executor.New(reg, adapters, dispatcher)
	q := queue.New(repos)
	eng := engine.New(repos, exec, q, pollInterval)

	endpoint := otelEndpoint
	if endpoint == "" {
		endpoint = telemetry.EndpointFromEnv()
	}
	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: enableOTEL, OTLPEndpoint: endpoint, ServiceVersion: "dev"})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	eng.SetTelemetry(tel)
	defer tel.Shutdown(context.Background())

	eng.Start(ctx)
	defer eng.Stop()

	apiServer := api.New(cfg, repos, reg, eng)

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start(ctx)
	}()

	logging.Info("workflowcore serving on %s:%d", cfg.APIHost, cfg.APIPort)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		cancel()
		return err
	case <-sig:
		logging.Info("shutdown signal received")
		cancel()
		return <-errCh
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
