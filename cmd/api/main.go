package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mindwell-ai/mindwell/backend/internal/config"
	"github.com/mindwell-ai/mindwell/backend/internal/handler"
	"github.com/mindwell-ai/mindwell/backend/internal/service/inference"
	"github.com/mindwell-ai/mindwell/backend/internal/service/session"
	"github.com/mindwell-ai/mindwell/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	st, err := store.NewSQLiteStore(cfg.Chat.DBPath)
	if err != nil {
		log.Fatalf("failed to open conversation store: %v", err)
	}
	defer st.Close()

	llm, err := inference.NewClient(inference.Config{
		Host:       cfg.Ollama.Host,
		Model:      cfg.Ollama.Model,
		Timeout:    cfg.Ollama.Timeout,
		MaxRetries: cfg.Ollama.MaxRetries,
	})
	if err != nil {
		log.Fatalf("failed to create inference client: %v", err)
	}

	if err := llm.Healthy(ctx); err != nil {
		log.Printf("warning: model backend is not reachable: %v", err)
		log.Println("message submission will be rejected until the backend comes up")
	} else {
		log.Printf("model backend ready, using model %s", llm.Model())
	}

	engine, err := session.NewEngine(ctx, st, llm, session.Options{
		ContextTurns: cfg.Chat.ContextTurns,
		MaxTopics:    cfg.Chat.MaxTopics,
	})
	if err != nil {
		log.Fatalf("failed to start session engine: %v", err)
	}
	log.Printf("session %s started, conversation %s", engine.SessionID(), engine.ConversationID())

	router := handler.NewRouter(engine, st)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("MindWell backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
