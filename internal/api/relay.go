package api

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/npezzotti/meeting-relay/internal/chat"
	"github.com/npezzotti/meeting-relay/internal/config"
	"github.com/npezzotti/meeting-relay/internal/correlator"
	"github.com/npezzotti/meeting-relay/internal/database"
	"github.com/npezzotti/meeting-relay/internal/hub"
	"github.com/npezzotti/meeting-relay/internal/lookup"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

type RelayApp struct {
	log            zerolog.Logger
	db             database.RecordStore
	hub            *hub.Hub
	correlator     *correlator.Correlator
	sessions       *lookup.Service
	chat           *chat.Service
	validate       *validator.Validate
	allowedOrigins []string
	staticDir      string
	srv            *http.Server
}

func NewRelayApp(mux *http.ServeMux, logger zerolog.Logger, h *hub.Hub, c *correlator.Correlator, db database.RecordStore, chatSvc *chat.Service, cfg *config.Config) *RelayApp {
	s := &RelayApp{
		log:            logger,
		db:             db,
		hub:            h,
		correlator:     c,
		sessions:       c.Sessions(),
		chat:           chatSvc,
		validate:       validator.New(),
		allowedOrigins: cfg.Server.CORSOrigins,
		staticDir:      cfg.Server.StaticDir,
	}

	mux.HandleFunc("POST /{$}", s.zoomWebhook)
	mux.HandleFunc("POST /attendee-webhook", s.attendeeWebhook)
	var stream http.Handler = http.HandlerFunc(s.stream)
	if len(s.allowedOrigins) > 0 {
		// Only the event stream is served cross-origin; /ws checks origins
		// during the upgrade.
		stream = handlers.CORS(
			handlers.MaxAge(3600),
			handlers.AllowedOrigins(s.allowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Origin", "Accept", "Cache-Control"}),
		)(stream)
		mux.Handle("OPTIONS /stream", stream)
	}
	mux.Handle("GET /stream", stream)
	mux.HandleFunc("GET /ws", s.serveWs)

	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.getSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.deleteSession)
	// {id}/transcripts and by-meeting/{meetingId} overlap as mux patterns,
	// so one route serves both.
	mux.HandleFunc("GET /api/sessions/{id}/{child}", s.sessionChild)
	mux.HandleFunc("GET /api/transcripts", s.listTranscripts)
	mux.HandleFunc("POST /api/chat", s.chatCompletion)

	mux.HandleFunc("GET /healthz", s.healthCheck)
	if s.staticDir != "" {
		mux.HandleFunc("GET /sales_coach", s.salesCoach)
		mux.Handle("GET /", http.FileServer(http.Dir(s.staticDir)))
	}

	handler := securityHeaders(mux)
	handler = s.requestLogger(handler)
	handler = s.errorHandler(handler)

	s.srv = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *RelayApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *RelayApp) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *RelayApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *RelayApp) salesCoach(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.staticDir, "sales_coach.html"))
}
