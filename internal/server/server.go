package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/mithileshchellappan/pushrelay/internal/delivery"
	"github.com/mithileshchellappan/pushrelay/internal/event"
	"github.com/mithileshchellappan/pushrelay/internal/service"
)

const maxBodyBytes = 2 << 20

var errUnauthorized = errors.New("Unauthorized")

// Backend hands out the shared relay service, building it on first use.
type Backend interface {
	Relay(ctx context.Context) (*service.RelayService, error)
}

type Options struct {
	APIKey      string
	ServiceName string
}

type Server struct {
	backend    Backend
	opts       Options
	log        zerolog.Logger
	httpServer *http.Server
	router     chi.Router
	now        func() time.Time
}

func New(backend Backend, opts Options, log zerolog.Logger) *Server {
	s := &Server{
		backend: backend,
		opts:    opts,
		log:     log.With().Str("component", "http").Logger(),
		now:     time.Now,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("starting server")
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, http.StatusNotFound, errors.New("Not found"), nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, http.StatusMethodNotAllowed, errors.New("Method not allowed"), nil)
	})

	r.Get("/", s.handleHealth)
	r.Post("/send", s.handleSend)
	r.Post("/send_admins", s.handleSendAdmins)
	r.Post("/send_usernames", s.handleSendUsernames)
	r.Post("/task-event", s.handleTaskEvent)

	return r
}

// authenticate accepts the shared secret from the x-api-key, api_key or key
// header, or the api_key or key query parameter.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := apiKey(r)
		if key == "" || key != s.opts.APIKey {
			s.fail(w, r, http.StatusUnauthorized, errUnauthorized, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func apiKey(r *http.Request) string {
	for _, h := range []string{"x-api-key", "api_key", "key"} {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	q := r.URL.Query()
	if v := q.Get("api_key"); v != "" {
		return v
	}
	return q.Get("key")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, map[string]any{
		"ok":      true,
		"service": s.opts.ServiceName,
		"now":     s.now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}, http.StatusOK)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !s.decode(w, r, &req) {
		return
	}
	intent, err := req.intent()
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err, nil)
		return
	}

	relay, ok := s.relay(w, r)
	if !ok {
		return
	}
	id, err := relay.SendToToken(r.Context(), intent)
	if err != nil {
		s.fail(w, r, statusFor(err), err, nil)
		return
	}
	s.respond(w, r, map[string]any{"ok": true, "id": id}, http.StatusOK)
}

func (s *Server) handleSendAdmins(w http.ResponseWriter, r *http.Request) {
	var req sendAdminsRequest
	if !s.decode(w, r, &req) {
		return
	}
	intent, err := req.intent()
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err, nil)
		return
	}

	relay, ok := s.relay(w, r)
	if !ok {
		return
	}
	res, err := relay.SendToAdmins(r.Context(), intent)
	if err != nil {
		s.fail(w, r, statusFor(err), err, counts(res))
		return
	}
	s.respond(w, r, withOK(counts(res)), http.StatusOK)
}

func (s *Server) handleSendUsernames(w http.ResponseWriter, r *http.Request) {
	var req sendUsernamesRequest
	if !s.decode(w, r, &req) {
		return
	}
	intent, err := req.intent()
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err, nil)
		return
	}

	relay, ok := s.relay(w, r)
	if !ok {
		return
	}
	res, err := relay.SendToUsernames(r.Context(), intent)
	body := counts(res.Result)
	body["unresolved"] = res.Unresolved
	if err != nil {
		s.fail(w, r, statusFor(err), err, body)
		return
	}
	s.respond(w, r, withOK(body), http.StatusOK)
}

func (s *Server) handleTaskEvent(w http.ResponseWriter, r *http.Request) {
	var req taskEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	ev, err := req.event()
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err, nil)
		return
	}

	relay, ok := s.relay(w, r)
	if !ok {
		return
	}
	out, rep, err := relay.HandleTaskEvent(r.Context(), ev)
	body := map[string]any{
		"sent":           rep.Sent,
		"failed":         rep.Failed,
		"notifications":  rep.Notifications,
		"unresolved":     rep.Unresolved,
		"classification": out.Class.String(),
	}
	if err != nil {
		s.fail(w, r, statusFor(err), err, body)
		return
	}
	s.respond(w, r, withOK(body), http.StatusOK)
}

// MARK: Helpers

func (s *Server) relay(w http.ResponseWriter, r *http.Request) (*service.RelayService, bool) {
	relay, err := s.backend.Relay(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err, nil)
		return nil, false
	}
	return relay, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		s.fail(w, r, http.StatusRequestEntityTooLarge, errors.New("Request body too large"), nil)
	case errors.Is(err, io.EOF):
		s.fail(w, r, http.StatusBadRequest, invalid("Missing request body"), nil)
	default:
		s.fail(w, r, http.StatusBadRequest, invalid("Invalid JSON body"), nil)
	}
	return false
}

func statusFor(err error) int {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, event.ErrUnknownEventKind):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func counts(res delivery.Result) map[string]any {
	return map[string]any{
		"total":   res.TotalTokens,
		"success": res.SuccessCount,
		"failure": res.FailureCount,
	}
}

func withOK(body map[string]any) map[string]any {
	body["ok"] = true
	return body
}

// fail writes the {ok:false,error} envelope, merging any partial counts.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error, extra map[string]any) {
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
	}
	body := map[string]any{}
	for k, v := range extra {
		body[k] = v
	}
	body["ok"] = false
	body["error"] = err.Error()
	s.respond(w, r, body, status)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("error encoding response")
		}
	}
}
