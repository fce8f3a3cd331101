// Package api exposes the waiter over HTTP.
//
// The surface is intentionally small: chat (plain and streamed), voice chat,
// and direct access to the food tools. Health probes bypass the middleware
// stack so orchestration platforms see them unthrottled.
package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/delaight/waiter/internal/audio"
	"github.com/delaight/waiter/internal/log"
	"github.com/delaight/waiter/internal/tools"
	"github.com/delaight/waiter/internal/waiter"
)

// Config carries the server's dependencies.
type Config struct {
	Logger   log.Logger
	Agent    *waiter.Agent   // Required
	Audio    audio.Bridge    // Optional: nil disables the audio endpoints
	Registry *tools.Registry // Required
	Pool     *pgxpool.Pool   // Optional: nil degrades /ready

	CORSOrigins  []string // Allowed origins for the browser client
	TrustProxy   bool     // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst    int      // Rate limiter burst size per IP (0 = default 60)
	StreamBuffer int      // Token queue size for /ai/stream (0 = agent default)
}

// Server is the waiter HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the server with all routes configured.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Agent == nil {
		return nil, errors.New("waiter agent is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("tool registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{
		agent:        cfg.Agent,
		logger:       logger,
		streamBuffer: cfg.StreamBuffer,
	}
	fh := &foodHandler{
		registry: cfg.Registry,
		logger:   logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /ai/chat", ch.send)
	mux.HandleFunc("POST /ai/stream", ch.stream)

	mux.HandleFunc("POST /ai/order-dish", fh.orderDish)
	mux.HandleFunc("GET /ai/find-dishes", fh.findDishes)
	mux.HandleFunc("GET /ai/prompt-classifier", fh.classifyPrompt)

	if cfg.Audio != nil {
		ah := &audioHandler{
			agent:  cfg.Agent,
			bridge: cfg.Audio,
			logger: logger,
		}
		mux.HandleFunc("POST /ai/audio-chat", ah.chat)
		mux.HandleFunc("POST /ai/speech", ah.speech)
	}

	// Rate limiter: per-IP token bucket (1 token/sec refill).
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID sits before Logging so request_id is available in log
	// attributes. CORS sits before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Top-level mux keeps health probes outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
