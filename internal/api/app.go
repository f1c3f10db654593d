package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-callrelay/internal/auth"
	"github.com/npezzotti/go-callrelay/internal/config"
	"github.com/npezzotti/go-callrelay/internal/database"
	"github.com/npezzotti/go-callrelay/internal/relay"
	"github.com/pion/webrtc/v4"
)

type RelayApp struct {
	log            *log.Logger
	db             database.EventRepository
	mux            *http.Server
	relay          *relay.Relay
	verifier       auth.Verifier
	allowedOrigins []string
	iceServers     []webrtc.ICEServer
}

// NewRelayApp registers the HTTP surface on mux. db may be nil when no
// recorder database is configured. vars serves the process counters and is
// only reachable by global admins.
func NewRelayApp(mux *http.ServeMux, logger *log.Logger, r *relay.Relay, verifier auth.Verifier, db database.EventRepository, vars http.Handler, cfg *config.Config) *RelayApp {
	s := &RelayApp{
		log:            logger,
		db:             db,
		relay:          r,
		verifier:       verifier,
		allowedOrigins: cfg.AllowedOrigins,
		iceServers:     cfg.ICEServers,
	}

	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /health", s.health)
	mux.Handle("GET /api/relay/stats", s.authMiddleware(s.relayStats))
	mux.Handle("GET /api/ice-servers", s.authMiddleware(s.getICEServers))
	if vars != nil {
		mux.Handle("GET /debug/vars", s.authMiddleware(s.globalAdminOnly(vars)))
	}

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:     cfg.ServerAddr,
		Handler:  h,
		ErrorLog: logger,
	}

	return s
}

func (s *RelayApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RelayApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
