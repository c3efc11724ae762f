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

	eightbchat "github.com/MegaGrindStone/eightb-chat"
	"github.com/MegaGrindStone/eightb-chat/internal/attachment"
	"github.com/MegaGrindStone/eightb-chat/internal/chat"
	"github.com/MegaGrindStone/eightb-chat/internal/handlers"
	"github.com/MegaGrindStone/eightb-chat/internal/models"
	"github.com/MegaGrindStone/eightb-chat/internal/persistence"
	"github.com/MegaGrindStone/eightb-chat/internal/services"
	"github.com/MegaGrindStone/eightb-chat/internal/speech"
	"github.com/MegaGrindStone/eightb-chat/internal/transcript"
	"github.com/joho/godotenv"
)

func main() {
	// Variables already set in the environment take precedence.
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "eightbchat")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfg, err := loadConfig(filepath.Join(cfgPath, "config.yaml"))
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel()}))

	dbPath := cfg.StorePath
	if dbPath == "" {
		dbPath = filepath.Join(cfgPath, "store.db")
	}
	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		panic(err)
	}

	events, err := handlers.NewEvents(logger)
	if err != nil {
		panic(err)
	}

	sp := speech.NewController(cfg.Speech.speaker(events, logger), cfg.Speech.Language, events, logger)
	renderer := transcript.NewRenderer(events, sp, logger)
	attachments := attachment.NewManager(events, logger)
	ctrl := chat.NewController(models.SessionConfig{
		Model:             cfg.LLM.model(),
		SystemInstruction: cfg.SystemPrompt,
	}, renderer, sp, attachments, events, logger)

	ctx := context.Background()
	if ctrl.Initialize(ctx, cfg.LLM.credential(), cfg.LLM.connector(logger)) {
		go func() {
			if err := ctrl.StartSession(ctx, true); err != nil {
				logger.Error("Failed to start chat session", slog.String("error", err.Error()))
			}
		}()
	}

	saver := persistence.NewSaver(boltDB, renderer, logger)
	m := handlers.NewMain(events, ctrl, renderer, attachments, sp, saver, logger)

	// Serve static files
	staticFS, err := fs.Sub(eightbchat.StaticFS, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/sse", m.HandleSSE)
	mux.HandleFunc("/messages", m.HandleMessages)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/attachments", m.HandleAttachments)
	mux.HandleFunc("/speech/toggle", m.HandleSpeechToggle)
	mux.HandleFunc("/speech/auto", m.HandleSpeechAuto)
	mux.HandleFunc("/speech/speak", m.HandleSpeechSpeak)
	mux.HandleFunc("/speech/ended", m.HandleSpeechEnded)
	mux.HandleFunc("/transcript", m.HandleTranscript)
	mux.HandleFunc("/history", m.HandleHistory)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		sp.Cancel()
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("error", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr), slog.String("store", dbPath))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("error", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("error", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("error", err.Error()))
			}
		}
	}

	if err := boltDB.Close(); err != nil {
		logger.Error("Failed to close store", slog.String("error", err.Error()))
	}
}
