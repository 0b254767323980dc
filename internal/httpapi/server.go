// Package httpapi exposes the gateway surface: session minting, page
// scraping, health, metrics and the local UI bridge socket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/voxlead/voxlead/internal/conversation"
	"github.com/voxlead/voxlead/internal/observability"
)

// Scraper fetches page content for session priming.
type Scraper interface {
	Fetch(ctx context.Context, target string) (string, error)
}

// SessionController is the live voice session as seen by the UI bridge.
type SessionController interface {
	Snapshot() []conversation.Item
	Frequencies(direction string) []float32
	RemoveItem(id string)
	Interrupt() error
	SetTurnDetection(mode string) error
	// OnUpdate registers a conversation listener and returns its cancel func.
	OnUpdate(fn func()) func()
}

type Options struct {
	AllowAnyOrigin      bool
	DefaultInstructions string
}

type Server struct {
	opts       Options
	broker     SessionBroker
	scraper    Scraper
	controller SessionController
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
}

func New(opts Options, broker SessionBroker, scraper Scraper, controller SessionController, metrics *observability.Metrics) *Server {
	return &Server{
		opts:       opts,
		broker:     broker,
		scraper:    scraper,
		controller: controller,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the local session unless
				// the operator opts out.
				if opts.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/api/session", s.handleCreateSession)
	r.Post("/api/scrape", s.handleScrape)
	r.Get("/api/voice/ws", s.handleVoiceWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"local_session": s.controller != nil,
	})
}

type createSessionRequest struct {
	Instructions string `json:"instructions"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		s.observe("session", "unavailable")
		respondError(w, http.StatusNotImplemented, "unavailable", "session broker not configured")
		return
	}

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		s.observe("session", "bad_request")
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Instructions) == "" {
		req.Instructions = s.opts.DefaultInstructions
	}

	result, err := s.broker.CreateSession(r.Context(), req.Instructions)
	if err != nil {
		s.observe("session", "upstream_error")
		respondError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	s.observe("session", "ok")
	respondJSON(w, http.StatusOK, map[string]any{"result": json.RawMessage(result)})
}

type scrapeRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	if s.scraper == nil {
		s.observe("scrape", "unavailable")
		respondError(w, http.StatusNotImplemented, "unavailable", "scraper not configured")
		return
	}

	var req scrapeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.observe("scrape", "bad_request")
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.observe("scrape", "bad_request")
		respondError(w, http.StatusBadRequest, "invalid_request", "url is required")
		return
	}

	content, err := s.scraper.Fetch(r.Context(), req.URL)
	if err != nil {
		s.observe("scrape", "upstream_error")
		respondError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	s.observe("scrape", "ok")
	respondJSON(w, http.StatusOK, map[string]any{"htmlContent": content})
}

type bridgeFrame struct {
	Type   string              `json:"type"`
	Items  []conversation.Item `json:"items,omitempty"`
	Input  []float32           `json:"input,omitempty"`
	Output []float32           `json:"output,omitempty"`
}

type bridgeCommand struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Mode string `json:"mode,omitempty"`
}

func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		s.observe("voice_ws", "unavailable")
		respondError(w, http.StatusNotImplemented, "unavailable", "no local session running")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.observe("voice_ws", "upgrade_failed")
		return
	}
	defer conn.Close()
	s.observe("voice_ws", "connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates := make(chan struct{}, 1)
	unsubscribe := s.controller.OnUpdate(func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		write := func(frame bridgeFrame) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(frame); err != nil {
				cancel()
				return false
			}
			return true
		}

		if !write(bridgeFrame{Type: "conversation", Items: s.controller.Snapshot()}) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-updates:
				if !write(bridgeFrame{Type: "conversation", Items: s.controller.Snapshot()}) {
					return
				}
			case <-ticker.C:
				frame := bridgeFrame{
					Type:   "frequencies",
					Input:  s.controller.Frequencies("input"),
					Output: s.controller.Frequencies("output"),
				}
				if !write(frame) {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var cmd bridgeCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		switch cmd.Type {
		case "remove_item":
			s.controller.RemoveItem(cmd.ID)
		case "interrupt":
			_ = s.controller.Interrupt()
		case "turn_detection":
			_ = s.controller.SetTurnDetection(cmd.Mode)
		}
	}

	cancel()
	<-writerDone
	s.observe("voice_ws", "disconnected")
}

func (s *Server) observe(endpoint, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.GatewayRequests.WithLabelValues(endpoint, status).Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
