package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/manpreetbhatti/docworld/internal/api"
	"github.com/manpreetbhatti/docworld/internal/auth"
	"github.com/manpreetbhatti/docworld/internal/autosave"
	"github.com/manpreetbhatti/docworld/internal/config"
	"github.com/manpreetbhatti/docworld/internal/hub"
	"github.com/manpreetbhatti/docworld/internal/store"
	"github.com/manpreetbhatti/docworld/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Parse(os.Args[1:], os.Getenv)
	if err != nil {
		glog.Exitf("Invalid configuration: %v", err)
	}

	flag.Set("logtostderr", "true")
	flag.Set("v", strconv.Itoa(cfg.Verbosity))
	defer glog.Flush()

	ctx := context.Background()

	s, err := store.Open(ctx, cfg.Store, cfg.DSN)
	if err != nil {
		glog.Exitf("Failed to open %s store: %v", cfg.Store, err)
	}

	tokens, err := auth.NewIssuer([]byte(cfg.CreationSecret), cfg.CreationTTL)
	if err != nil {
		glog.Exitf("Failed to initialize creation tokens: %v", err)
	}
	if cfg.CreationSecret == "" {
		glog.Warning("No creation secret configured; tokens will not survive a restart")
	}

	saver := autosave.New(s, autosave.Config{Interval: cfg.AutosaveInterval})
	saver.Start()

	h := hub.New(hub.Options{
		Store:             s,
		Autosave:          saver,
		Tokens:            tokens,
		AllowClientCreate: cfg.AllowClientCreate,
	})

	wsConfig := ws.DefaultConfig()
	wsConfig.AllowedOrigins = cfg.Origins
	wsConfig.MessagesPerSecond = cfg.Rate
	wsConfig.MessageBurst = cfg.Burst

	router := mux.NewRouter()
	router.Handle("/ws", ws.Handler(h, wsConfig))
	api.New(h, s, tokens).Register(router)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           corsMiddleware(router, cfg.Origins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		glog.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			glog.Warningf("Shutdown: %v", err)
		}
		// Hijacked WebSocket connections are not tracked by the server
		if err := h.Shutdown(shutdownCtx); err != nil {
			glog.Warningf("Closing connections: %v", err)
		}
	}()

	glog.Infof("Docworld server starting on %s", cfg.Addr)
	glog.Infof("Store: %s %s", cfg.Store, cfg.DSN)
	glog.Info("Endpoints:")
	glog.Info("  - WebSocket: /ws")
	glog.Info("  - Health:    GET /health")
	glog.Info("  - Stats:     GET /api/stats")
	glog.Info("  - Rooms:     GET/POST /api/rooms")
	glog.Info("  - Room:      GET /api/rooms/{id}, GET /api/rooms/{id}/document")
	glog.Info("  - Versions:  GET/POST /api/rooms/{id}/versions")
	glog.Info("  - Version:   GET/DELETE /api/versions/{id}")
	glog.Info("  - Diff:      GET /api/versions/diff?from=X&to=Y")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		glog.Exitf("ListenAndServe: %v", err)
	}
	<-done

	// Writes every pending snapshot before the store goes away
	saver.Stop()
	if err := s.Close(); err != nil {
		glog.Warningf("Failed to close store: %v", err)
	}
}

func corsMiddleware(next http.Handler, origins []string) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(allowed) == 0 || allowed["*"]:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
