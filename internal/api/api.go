// Package api exposes the HTTP control surface: REST endpoints that
// validate requests, forward them to the playback engine and answer
// with the projected state, plus the overlay WebSocket endpoint.
// Authentication, CORS and sessions are delegated to the fronting
// proxy.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/fankserver/discord-jukebox/internal/engine"
	"github.com/fankserver/discord-jukebox/internal/errcode"
)

// Controller is the engine surface the API forwards to.
type Controller interface {
	Enqueue(ctx context.Context, guildID, userID, item string) (*engine.EnqueueResult, error)
	PlayForUser(ctx context.Context, guildID, userID, item string) (*engine.EnqueueResult, error)
	Skip(ctx context.Context, guildID, userID string) error
	Stop(ctx context.Context, guildID, userID string) error
	TogglePause(ctx context.Context, guildID, userID string) (bool, error)
	RemoveAt(ctx context.Context, guildID, userID string, index int) error
	Move(ctx context.Context, guildID, userID string, src, dst int) error
	ToggleRepeat(ctx context.Context, guildID, mode string) (bool, error)
	SetAudioMode(ctx context.Context, guildID, mode string) error
	Restart(ctx context.Context, guildID, userID string) error
	PlayAt(ctx context.Context, guildID, userID string, index int) error
	Join(ctx context.Context, guildID, userID string) (string, error)
	State(ctx context.Context, guildID string) (*engine.ProjectedState, error)
	Debug(ctx context.Context, guildID string) (map[string]any, error)
}

// Server bundles the REST handlers with the overlay WebSocket hub.
type Server struct {
	ctrl    Controller
	overlay http.Handler
	diag    func() map[string]any
}

// New creates the API server. diag supplies gateway diagnostics for the
// voice debug endpoint and may be nil.
func New(ctrl Controller, overlay http.Handler, diag func() map[string]any) *Server {
	return &Server{ctrl: ctrl, overlay: overlay, diag: diag}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/playlist", s.handlePlaylist)
	r.Post("/queue/add", s.handleAdd)
	r.Post("/queue/skip", s.handleSkip)
	r.Post("/queue/stop", s.handleStop)
	r.Post("/queue/remove", s.handleRemove)
	r.Post("/queue/move", s.handleMove)
	r.Post("/playlist/play", s.handlePlay)
	r.Post("/playlist/play_at", s.handlePlayAt)
	r.Post("/playlist/toggle_pause", s.handleTogglePause)
	r.Post("/playlist/repeat", s.handleRepeat)
	r.Post("/playlist/restart", s.handleRestart)
	r.Post("/playlist/audio_mode", s.handleAudioMode)
	r.Post("/voice/join", s.handleJoin)
	r.Get("/voice/debug", s.handleDebug)
	if s.overlay != nil {
		r.Get("/overlay", s.overlay.ServeHTTP)
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Debug("Request handled")
	})
}

// request is the common body shape of the control endpoints. Identity
// precedence: query parameters win over the body, the body over the
// X-Guild-ID / X-User-ID headers.
type request struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
	URL     string `json:"url"`
	Query   string `json:"query"`
	Title   string `json:"title"`
	Index   *int   `json:"index"`
	Src     *int   `json:"src"`
	Dst     *int   `json:"dst"`
	Mode    string `json:"mode"`
}

// item returns the track request, preferring an explicit URL.
func (q *request) item() string {
	if q.URL != "" {
		return q.URL
	}
	if q.Query != "" {
		return q.Query
	}
	return q.Title
}

func parseRequest(r *http.Request) (*request, error) {
	req := &request{}
	if r.Body != nil && r.Method != http.MethodGet {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
			return nil, errcode.Wrap(errcode.BadArgument, err)
		}
	}
	if v := r.URL.Query().Get("guild_id"); v != "" {
		req.GuildID = v
	}
	if v := r.URL.Query().Get("user_id"); v != "" {
		req.UserID = v
	}
	if req.GuildID == "" {
		req.GuildID = r.Header.Get("X-Guild-ID")
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get("X-User-ID")
	}
	return req, nil
}

type response struct {
	OK     bool                   `json:"ok"`
	Result any                    `json:"result,omitempty"`
	State  *engine.ProjectedState `json:"state,omitempty"`
	Error  string                 `json:"error,omitempty"`
	Detail string                 `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Debug("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := errcode.Of(err)
	writeJSON(w, errcode.HTTPStatus(code), response{
		OK:     false,
		Error:  string(code),
		Detail: err.Error(),
	})
}

// writeState answers with result plus the fresh projected state.
func (s *Server) writeState(w http.ResponseWriter, r *http.Request, guildID string, result any) {
	resp := response{OK: true, Result: result}
	if state, err := s.ctrl.State(r.Context(), guildID); err == nil {
		resp.State = state
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := s.ctrl.State(r.Context(), req.GuildID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.ctrl.Enqueue(r.Context(), req.GuildID, req.UserID, req.item())
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w, r, req.GuildID, res)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.ctrl.PlayForUser(r.Context(), req.GuildID, req.UserID, req.item())
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w, r, req.GuildID, res)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.Skip(r.Context(), req.GuildID, req.UserID); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w, r, req.GuildID, nil)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.Stop(r.Context(), req.GuildID, req.UserID); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w, r, req.GuildID, nil)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Index == nil {
		writeError(w, errcode.New(errcode.MissingIndex, "index required"))
		return
	}
	if err := s.ctrl.RemoveAt(r.Context(), req.GuildID, req.UserID, *req.Index); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w, r, req.GuildID, nil)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Src == nil || req.Dst == nil {
		writeError(w, errcode.New(errcode.MissingIndex, "src and dst required"))
		return
	}
	if err := s.ctrl.Move(r.Context(), req.GuildID, req.UserID, *req.Src, *req.Dst); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w, r, req.GuildID, nil)
}

func (s *Server) handlePlayAt(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Index == nil {
		writeError(w, errcode.New(errcode.MissingIndex, "index required"))
		return
	}
	if err := s.ctrl.PlayAt(r.Context(), req.GuildID, req.UserID, *req.Index); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w, r, req.GuildID, nil)
}

func (s *Server) handleTogglePause(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	paused, err := s.ctrl.TogglePause(r.Context(), req.GuildID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w, r, req.GuildID, map[string]bool{"paused": paused})
}

func (s *Server) handleRepeat(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = "toggle"
	}
	repeat, err := s.ctrl.ToggleRepeat(r.Context(), req.GuildID, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w, r, req.GuildID, map[string]bool{"repeat_all": repeat})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.Restart(r.Context(), req.GuildID, req.UserID); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w, r, req.GuildID, nil)
}

func (s *Server) handleAudioMode(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.SetAudioMode(r.Context(), req.GuildID, req.Mode); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w, r, req.GuildID, map[string]string{"audio_mode": req.Mode})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	channelID, err := s.ctrl.Join(r.Context(), req.GuildID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w, r, req.GuildID, map[string]string{"channel_id": channelID})
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	debug := map[string]any{}
	if s.diag != nil {
		debug["gateway"] = s.diag()
	}
	if req.GuildID != "" {
		guild, err := s.ctrl.Debug(r.Context(), req.GuildID)
		if err != nil {
			writeError(w, err)
			return
		}
		debug["guild"] = guild
	}
	writeJSON(w, http.StatusOK, response{OK: true, Result: debug})
}
