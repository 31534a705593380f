// Package dashboard exposes the engine surface over HTTP: current state,
// runtime settings mutation, restart and a per-cycle SSE stream.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/swaybot/sway/config"
	"github.com/swaybot/sway/internal/storage/snapshot"
)

const shutdownTimeout = 5 * time.Second

// engineSurface is the slice of the engine the dashboard operates on.
type engineSurface interface {
	LatestSnapshot() snapshot.Snapshot
	OnCycleComplete(fn func(snapshot.Snapshot))
	UpdateSettings(patch config.SettingsPatch) error
	Restart()
}

// Server serves the engine surface on a single address.
type Server struct {
	addr   string
	engine engineSurface
	logger *zap.Logger

	mu   sync.Mutex
	subs map[chan snapshot.Snapshot]struct{}
}

// NewServer builds the server and subscribes to cycle completions.
func NewServer(addr string, engine engineSurface, logger *zap.Logger) *Server {
	s := &Server{
		addr:   addr,
		engine: engine,
		logger: logger.With(zap.String("component", "dashboard")),
		subs:   make(map[chan snapshot.Snapshot]struct{}),
	}
	engine.OnCycleComplete(s.broadcast)
	return s
}

// Start runs the HTTP server and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/settings", s.handleSettings)
	mux.HandleFunc("/restart", s.handleRestart)
	mux.HandleFunc("/cycles/stream", s.handleCycleStream)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("dashboard listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.engine.LatestSnapshot())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, s.engine.LatestSnapshot().Settings)
	case http.MethodPatch, http.MethodPost:
		var patch config.SettingsPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, "invalid settings patch: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.engine.UpdateSettings(patch); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.engine.Restart()
	w.WriteHeader(http.StatusAccepted)
}

// handleCycleStream pushes one SSE event per completed trading cycle.
func (s *Server) handleCycleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	// the latest state first so a fresh client is not blank until next cycle
	s.writeEvent(w, s.engine.LatestSnapshot())
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-ch:
			s.writeEvent(w, snap)
			flusher.Flush()
		}
	}
}

func (s *Server) subscribe() chan snapshot.Snapshot {
	ch := make(chan snapshot.Snapshot, 4)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan snapshot.Snapshot) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

// broadcast fans a cycle snapshot out to all stream subscribers. A slow
// subscriber drops events instead of blocking the scheduler goroutine.
func (s *Server) broadcast(snap snapshot.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, snap snapshot.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		s.logger.Warn("failed to encode cycle event", zap.Error(err))
		return
	}
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}
