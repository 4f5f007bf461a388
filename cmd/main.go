package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/arunika/gateway/adapters/llm"
	"github.com/satriahrh/arunika/gateway/adapters/memory"
	"github.com/satriahrh/arunika/gateway/adapters/mongo"
	"github.com/satriahrh/arunika/gateway/adapters/stt"
	"github.com/satriahrh/arunika/gateway/adapters/tts"
	"github.com/satriahrh/arunika/gateway/domain/repositories"
	"github.com/satriahrh/arunika/gateway/internal/api"
	"github.com/satriahrh/arunika/gateway/internal/auth"
	"github.com/satriahrh/arunika/gateway/internal/config"
	"github.com/satriahrh/arunika/gateway/internal/gateway"
	"github.com/satriahrh/arunika/gateway/internal/metrics"
	"github.com/satriahrh/arunika/gateway/internal/pipeline"
	"github.com/satriahrh/arunika/gateway/internal/protocol"
	"github.com/satriahrh/arunika/gateway/internal/session"
	"github.com/satriahrh/arunika/gateway/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Gateway stopped with error", zap.Error(err))
	}
	logger.Info("Server exited")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize adapters
	speechToText, closeSTT, err := newSpeechToText(ctx, cfg.Provider, logger)
	if err != nil {
		return err
	}
	defer closeSTT()

	languageModel, err := newLanguageModel(ctx, cfg.Provider, logger)
	if err != nil {
		return err
	}

	textToSpeech, err := newTextToSpeech(cfg.Provider, logger)
	if err != nil {
		return err
	}

	conversations, closeStorage, err := newConversationRepository(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	// Pipeline
	devices := pipeline.NewDeviceStage(logger)
	runner := pipeline.New(logger, m,
		pipeline.NewTranscriptionStage(speechToText, cfg.Audio.Language, logger),
		pipeline.NewGenerationStage(languageModel, cfg.Session.HistoryLimit, logger),
		devices,
		pipeline.NewSynthesisStage(textToSpeech, logger),
	)

	controller := gateway.NewController(gateway.Config{
		Pipeline:      runner,
		Devices:       devices,
		Conversations: conversations,
		QueueSize:     cfg.Session.ResponseQueueSize,
		Logger:        logger,
		Metrics:       m,
	})

	// Sessions and transport
	var validator *auth.Validator
	if cfg.Auth.SecretKey != "" {
		validator = auth.NewValidator(cfg.Auth.SecretKey)
	}
	registry := session.NewRegistry(logger)
	handshaker := websocket.NewHandshaker(websocket.HandshakeConfig{
		ProtocolVersion: cfg.Session.ProtocolVersion,
		AuthEnabled:     cfg.Auth.Enabled,
		HelloTimeout:    cfg.Session.HelloTimeout,
		AudioParams: protocol.AudioParams{
			Format:        cfg.Audio.Format,
			SampleRate:    cfg.Audio.SampleRate,
			Channels:      cfg.Audio.Channels,
			FrameDuration: cfg.Audio.FrameDuration,
		},
		FlushThreshold: cfg.Session.FlushThreshold,
	}, validator, logger)
	wsServer := websocket.NewServer(handshaker, registry, controller, logger, m)
	sweeper := session.NewSweeper(registry, cfg.Session.IdleTimeout, logger)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, api.Dependencies{
		WebSocket:     wsServer,
		Registry:      registry,
		Conversations: conversations,
		Validator:     validator,
		AdminKey:      cfg.Auth.AdminKey,
		Logger:        logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server started",
			zap.String("address", cfg.Server.Address()),
			zap.Int("protocolVersion", cfg.Session.ProtocolVersion),
			zap.Bool("authEnabled", cfg.Auth.Enabled),
			zap.String("stt", cfg.Provider.STT),
			zap.String("llm", cfg.Provider.LLM),
			zap.String("tts", cfg.Provider.TTS),
			zap.String("storage", cfg.Storage.Provider))
		if err := e.Start(cfg.Server.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server is shutting down...", zap.Int("sessions", registry.Count()))

		registry.CloseAll(session.CloseGoingAway, "Server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = level
	return zapConfig.Build()
}

func newSpeechToText(ctx context.Context, cfg config.ProviderConfig, logger *zap.Logger) (repositories.SpeechToText, func(), error) {
	switch cfg.STT {
	case config.ProviderGoogle:
		client, err := stt.NewGoogleSpeechToText(ctx, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Google speech client: %w", err)
		}
		return client, func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close speech client", zap.Error(err))
			}
		}, nil
	default:
		return stt.NewMockSpeechToText(logger), func() {}, nil
	}
}

func newLanguageModel(ctx context.Context, cfg config.ProviderConfig, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	switch cfg.LLM {
	case config.ProviderGemini:
		model, err := llm.NewGeminiLLM(ctx, llm.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return model, nil
	default:
		return llm.NewMockLLM(), nil
	}
}

func newTextToSpeech(cfg config.ProviderConfig, logger *zap.Logger) (repositories.TextToSpeech, error) {
	switch cfg.TTS {
	case config.ProviderElevenLabs:
		client, err := tts.NewElevenLabsTTS(tts.NewElevenLabsConfigFromEnv(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create ElevenLabs client: %w", err)
		}
		return client, nil
	default:
		return tts.NewMockTTS(0), nil
	}
}

func newConversationRepository(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (repositories.ConversationRepository, func(), error) {
	switch cfg.Provider {
	case config.StorageMongo:
		client, err := mongo.NewClient(ctx, mongo.Config{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		repo := client.Conversations()
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Warn("Failed to ensure conversation indexes", zap.Error(err))
		}
		return repo, func() {
			_ = client.Close(context.Background())
		}, nil
	default:
		return memory.NewConversationRepository(), func() {}, nil
	}
}
