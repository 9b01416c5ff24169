package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civitas-labs/strategist/internal/model"
	"github.com/civitas-labs/strategist/internal/progress"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		go env.checker.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: buildRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func buildRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Post("/api/analysis", handleStartAnalysis(env))
	r.Get("/api/analysis/{connID}/events", handleEvents(env))
	r.Get("/metrics", handleMetrics(env))
	r.Get("/health", handleHealth(env))

	return r
}

type analysisRequest struct {
	Ward        string `json:"ward"`
	Query       string `json:"query"`
	Depth       string `json:"depth"`
	ContextMode string `json:"context_mode"`
}

func handleStartAnalysis(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		connID, err := env.orch.StartAnalysis(r.Context(), model.AnalysisRequest{
			Ward:        req.Ward,
			Query:       req.Query,
			Depth:       model.Depth(req.Depth),
			ContextMode: model.ContextMode(req.ContextMode),
		})
		if err != nil {
			if errors.Is(err, model.ErrInvalidRequest) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start analysis"})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"connection_id": connID})
	}
}

// handleEvents frames a connection's progress stream as server-sent
// events. Heartbeats go out as SSE comments so they keep the transport
// alive without carrying data.
func handleEvents(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn := env.hub.Get(chi.URLParam(r, "connID"))
		if conn == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown connection"})
			return
		}
		defer conn.Close()

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, open := <-conn.Events():
				if !open {
					return
				}
				if ev.Type == progress.EventHeartbeat {
					fmt.Fprint(w, ": heartbeat\n\n")
					flusher.Flush()
					continue
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					zap.L().Error("marshal progress event", zap.Error(err))
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
				flusher.Flush()
				if ev.Terminal() {
					return
				}
			}
		}
	}
}

func handleMetrics(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, env.checker.Snapshot())
	}
}

func handleHealth(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := env.checker.Snapshot()
		status := "ok"
		for _, p := range snap.Providers {
			if p.Score < 0.5 {
				status = "degraded"
				break
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    status,
			"providers": snap.Providers,
			"alerts":    snap.Alerts,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}
