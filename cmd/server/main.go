package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	xaistudio "github.com/MegaGrindStone/xai-studio"
	"github.com/MegaGrindStone/xai-studio/internal/handlers"
	"github.com/MegaGrindStone/xai-studio/internal/imaging"
	"github.com/MegaGrindStone/xai-studio/internal/metrics"
	"github.com/MegaGrindStone/xai-studio/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v3"
)

const errLoggerKey = "err"

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "xai-studio",
		Usage: "Chat and image studio backed by generative AI providers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   defaultConfigPath(),
			},
			&cli.StringFlag{
				Name:  "port",
				Usage: "Port to listen on, overrides the config file",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd.String("config"))
			if err != nil {
				return err
			}
			if port := cmd.String("port"); port != "" {
				cfg.Port = port
			}

			level, err := cfg.logLevel()
			if err != nil {
				return err
			}
			if cmd.Bool("debug") {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

			return run(ctx, cfg, logger)
		},
	}
}

func defaultConfigPath() string {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(cfgDir, "xaistudio", "config.yaml")
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	studioKeys := cfg.studioKeys(logger)

	llm, err := cfg.LLM.llm(cfg.SystemPrompt, studioKeys, logger)
	if err != nil {
		return fmt.Errorf("error creating %s llm: %w", providerName(cfg.LLM), err)
	}
	gen, imageKeys, err := cfg.Image.generator(studioKeys, logger)
	if err != nil {
		return fmt.Errorf("error creating %s image generator: %w", providerName(cfg.Image), err)
	}
	logger.Info("Providers configured",
		slog.String("llm", providerName(cfg.LLM)),
		slog.String("image", providerName(cfg.Image)))

	imageLogger := logger.With(slog.String("module", "imaging"))
	images := imaging.NewMachine(gen, imageKeys, func(req models.ImageRequest) {
		imageLogger.Debug("Image request changed",
			slog.String("status", string(req.Status)),
			slog.String("size", string(req.Size)))
	})

	mt := metrics.NewMetrics()
	m, err := handlers.NewMain(llm, images, imageKeys,
		handlers.WithLogger(logger),
		handlers.WithMetrics(mt),
		handlers.WithMaxConversations(cfg.MaxConversations),
	)
	if err != nil {
		return fmt.Errorf("error creating handlers: %w", err)
	}

	// Serve static files
	staticFS, err := fs.Sub(xaistudio.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/static/*", http.StripPrefix("/static/", fileServer))
	r.Get("/", m.HandleHome)
	r.Post("/chats", m.HandleChats)
	r.Get("/chats", m.HandleConversation)
	r.Get("/sse", m.HandleSSE)
	r.Post("/images", m.HandleImages)
	r.Get("/images/download", m.HandleImageDownload)
	r.Post("/keys", m.HandleKeys)
	r.Handle("/metrics", mt.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("Start shutdown, context done")

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
		if err := srv.Close(); err != nil {
			return fmt.Errorf("forcing server close: %w", err)
		}
	}
	return nil
}
