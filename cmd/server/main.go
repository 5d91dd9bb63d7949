package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"aetheron.ai/aetheron-chat/internal/api"
	"aetheron.ai/aetheron-chat/internal/auth"
	"aetheron.ai/aetheron-chat/internal/config"
	"aetheron.ai/aetheron-chat/internal/core"
	"aetheron.ai/aetheron-chat/internal/logging"
	"aetheron.ai/aetheron-chat/internal/store"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "aetheron",
		Short:        "Aetheron chat relay server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context())
		},
	})
	return root
}

func migrate(_ context.Context) error {
	driver, dsn, err := config.LoadDatabase()
	if err != nil {
		return err
	}
	// NewSQLiteStore migrates on open.
	dbStore, err := store.NewSQLiteStore(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	defer dbStore.Close()

	fmt.Fprintf(os.Stdout, "database %s is up to date\n", dsn)
	return nil
}

func serve(ctx context.Context) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile, cfg.IsProduction())
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to initialize database", zap.Error(err))
		return err
	}
	defer dbStore.Close()

	provider, closeProvider, err := newCompletionProvider(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize completion provider", zap.Error(err))
		return err
	}
	defer closeProvider()

	var images core.ImageProvider
	if cfg.TogetherAPIKey != "" {
		images = core.NewTogetherImageClient(cfg.TogetherBaseURL, cfg.TogetherAPIKey, core.ImageSettings{
			Model:  cfg.ImageModel,
			Width:  cfg.ImageWidth,
			Height: cfg.ImageHeight,
			Steps:  cfg.ImageSteps,
		}, nil)
	} else {
		logger.Warn("TOGETHER_API_KEY not set, image generation disabled")
	}

	relay := core.NewRelay(provider, images, core.RelayOptions{
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		Timeout:           cfg.ProviderTimeout,
		RequestsPerSecond: cfg.ProviderRPS,
	}, logger)

	sessions := core.NewSessionManager(core.OwnershipPolicy(cfg.OwnershipPolicy))
	chatService := core.NewChatService(core.Deps{
		Store:         dbStore,
		Sessions:      sessions,
		Relay:         relay,
		Tokens:        auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL),
		HistoryWindow: cfg.HistoryWindow,
		Logger:        logger,
	})

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(chatService, logger)
	router := api.NewRouter(apiHandler, logger)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ProviderTimeout + 15*time.Second, // provider calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", serverAddr),
			zap.String("provider", cfg.LLMProvider),
			zap.String("model", relay.Model()),
			zap.String("ownership_policy", string(sessions.Policy())),
			zap.Bool("images_enabled", relay.ImagesEnabled()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("could not listen", zap.String("addr", serverAddr), zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("server exiting gracefully")
	return nil
}

func newCompletionProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (core.CompletionProvider, func(), error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		gemini, err := core.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			return nil, nil, err
		}
		return gemini, gemini.Close, nil
	default:
		return core.NewTogetherProvider(cfg.TogetherAPIKey, cfg.TogetherBaseURL, cfg.ChatModel, nil), func() {}, nil
	}
}
