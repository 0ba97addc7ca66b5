package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"airsenal-control/internal/config"
	"airsenal-control/internal/executor"
	"airsenal-control/internal/handler"
	"airsenal-control/internal/hub"
	"airsenal-control/internal/metrics"
	"airsenal-control/internal/repository"
	"airsenal-control/internal/secrets"
	"airsenal-control/internal/service"
	"airsenal-control/internal/workdb"
)

var (
	cfg config.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "YAML config file overlaying the environment")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initControl

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("control failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "control",
	Short:        "Job queue and execution engine for the AIrsenal CLI",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the HTTP API and the job worker",
	RunE:  doServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version prints build information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("control: version info not available")
			return
		}
		fmt.Printf("control: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				fmt.Printf("commit:  %s\n", s.Value)
			}
		}
	},
}

func initControl(cmd *cobra.Command, _ []string) error {
	// .env is optional, the environment wins when both are set
	_ = godotenv.Load()

	cfg = config.Load()
	if flagConfigFilePath != "" {
		if err := config.LoadFile(flagConfigFilePath, &cfg); err != nil {
			return fmt.Errorf("loading config file: %w", err)
		}
	}
	if flagVerbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Debug("control starting", "listen_addr", cfg.ListenAddr, "store_path", cfg.StorePath)
	return nil
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	repo, err := repository.NewSQLiteRepository(cfg.StorePath, cfg.MaxLogLines)
	if err != nil {
		return fmt.Errorf("opening job store: %w", err)
	}
	defer repo.Close()

	if cfg.EncryptionKey == "" {
		// Ephemeral key: stored secrets do not survive a restart.
		key, err := secrets.GenerateKey()
		if err != nil {
			return fmt.Errorf("generating encryption key: %w", err)
		}
		cfg.EncryptionKey = key
		logger.Warn("ENCRYPTION_KEY not set, using an ephemeral key")
	}
	cipher, err := secrets.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("initializing secret cipher: %w", err)
	}
	secretStore := secrets.NewStore(repo, cipher)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	eventHub := hub.New(logger)
	workDB := &workdb.Store{
		PersistentPath: cfg.PersistentDBPath,
		LocalPath:      cfg.LocalDBPath,
	}
	runner := executor.New(&cfg, secretStore, workDB, logger)
	queue := service.NewQueueService(repo, eventHub, &cfg, m, logger)
	worker := service.NewWorkerService(repo, queue, runner, eventHub, &cfg, m, logger)

	server := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: handler.Server{
			Queue:    queue,
			Secrets:  secretStore,
			Gatherer: registry,
			Logger:   logger,
		}.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return worker.Run(ctx)
	})

	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("control stopped")
	return nil
}
