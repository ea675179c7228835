// Package httpapi exposes the leaderboard service over REST plus a WebSocket
// event stream.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	wsadapter "leaderkit/adapters/websocket"
	"leaderkit/core"
	"leaderkit/engine"
	"leaderkit/metrics"
	"leaderkit/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// MetricsPath, if set, mounts the Prometheus scrape endpoint.
	MetricsPath string
}

// NewRouter builds an http.Handler exposing the leaderboard REST API.
// Routes:
//   - POST   {prefix}/leaderboards/{board}/scores
//   - GET    {prefix}/leaderboards/{board}/members/{id}
//   - GET    {prefix}/leaderboards/{board}/members/{id}/rank
//   - DELETE {prefix}/leaderboards/{board}/members/{id}
//   - GET    {prefix}/leaderboards/{board}/top?n=10
//   - GET    {prefix}/leaderboards/{board}/bottom?n=10
//   - GET    {prefix}/leaderboards/{board}/list?lower=1&upper=10
//   - GET    {prefix}/leaderboards/{board}/score-range?min=0&max=100
//   - GET    {prefix}/leaderboards/{board}/around/{id}?distance=3&fill_borders=true
//   - GET    {prefix}/leaderboards/{board}/count
//   - DELETE {prefix}/leaderboards/{board}
//   - GET    {prefix}/healthz
//   - WS     {prefix}/ws
func NewRouter(svc *engine.Service, hub *realtime.Hub, mgr *metrics.Manager, opts Options) http.Handler {
	api := &server{svc: svc}

	root := mux.NewRouter()
	r := root
	if opts.PathPrefix != "" {
		r = root.PathPrefix(opts.PathPrefix).Subrouter()
	}

	r.HandleFunc("/healthz", api.health).Methods(http.MethodGet)
	if mgr != nil && opts.MetricsPath != "" {
		r.Handle(opts.MetricsPath, mgr.Handler()).Methods(http.MethodGet)
	}
	if hub != nil {
		r.Handle("/ws", wsadapter.Handler(hub)).Methods(http.MethodGet)
	}

	b := r.PathPrefix("/leaderboards/{board}").Subrouter()
	b.HandleFunc("/scores", api.updateScores).Methods(http.MethodPost)
	b.HandleFunc("/members/{id}/rank", api.memberRank).Methods(http.MethodGet)
	b.HandleFunc("/members/{id}", api.member).Methods(http.MethodGet)
	b.HandleFunc("/members/{id}", api.removeMember).Methods(http.MethodDelete)
	b.HandleFunc("/top", api.top).Methods(http.MethodGet)
	b.HandleFunc("/bottom", api.bottom).Methods(http.MethodGet)
	b.HandleFunc("/list", api.list).Methods(http.MethodGet)
	b.HandleFunc("/score-range", api.scoreRange).Methods(http.MethodGet)
	b.HandleFunc("/around/{id}", api.around).Methods(http.MethodGet)
	b.HandleFunc("/count", api.count).Methods(http.MethodGet)
	b.HandleFunc("", api.clearBoard).Methods(http.MethodDelete)

	// Middlewares run inside the router so the matched route template is
	// available for metric labels.
	root.Use(requestID, accessLog)
	root.Use(func(next http.Handler) http.Handler { return instrument(next, mgr) })
	return root
}

type server struct {
	svc *engine.Service
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unreachable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type updateRequest struct {
	Entries []core.EntryUpdate[float64] `json:"entries"`
	Policy  core.UpdatePolicy           `json:"policy,omitempty"`
}

func (s *server) updateScores(w http.ResponseWriter, r *http.Request) {
	board := mux.Vars(r)["board"]

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	switch req.Policy {
	case core.PolicyDefault, core.Replace, core.Aggregate, core.Best:
	default:
		writeError(w, http.StatusBadRequest, "invalid_policy", "policy must be replace, aggregate, or best")
		return
	}

	scores, err := s.svc.Update(r.Context(), board, req.Entries, req.Policy)
	if err != nil {
		writeLeaderboardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scores": scores})
}

func (s *server) member(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entry, err := s.svc.Board(vars["board"]).Find(r.Context(), vars["id"])
	if err != nil {
		writeLeaderboardError(w, err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "member_not_found", "member does not exist")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *server) memberRank(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rank, ok, err := s.svc.Board(vars["board"]).Rank(r.Context(), vars["id"])
	if err != nil {
		writeLeaderboardError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "member_not_found", "member does not exist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": vars["id"], "rank": rank})
}

func (s *server) removeMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.svc.Remove(r.Context(), vars["board"], vars["id"]); err != nil {
		writeLeaderboardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) top(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 10)
	entries, err := s.svc.Board(mux.Vars(r)["board"]).Top(r.Context(), n)
	if err != nil {
		writeLeaderboardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *server) bottom(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 10)
	entries, err := s.svc.Board(mux.Vars(r)["board"]).Bottom(r.Context(), n)
	if err != nil {
		writeLeaderboardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *server) list(w http.ResponseWriter, r *http.Request) {
	lower := queryInt(r, "lower", 1)
	upper := queryInt(r, "upper", lower+9)
	entries, err := s.svc.Board(mux.Vars(r)["board"]).List(r.Context(), lower, upper)
	if err != nil {
		writeLeaderboardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *server) scoreRange(w http.ResponseWriter, r *http.Request) {
	min, err := strconv.ParseFloat(r.URL.Query().Get("min"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_min", "min must be a number")
		return
	}
	max, err := strconv.ParseFloat(r.URL.Query().Get("max"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_max", "max must be a number")
		return
	}
	entries, err := s.svc.Board(mux.Vars(r)["board"]).ListByScore(r.Context(), min, max)
	if err != nil {
		writeLeaderboardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *server) around(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	distance := queryInt(r, "distance", 3)
	fillBorders := r.URL.Query().Get("fill_borders") == "true"
	entries, err := s.svc.Board(vars["board"]).Around(r.Context(), vars["id"], distance, fillBorders)
	if err != nil {
		writeLeaderboardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *server) count(w http.ResponseWriter, r *http.Request) {
	count, err := s.svc.Board(mux.Vars(r)["board"]).Count(r.Context())
	if err != nil {
		writeLeaderboardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (s *server) clearBoard(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Clear(r.Context(), mux.Vars(r)["board"]); err != nil {
		writeLeaderboardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func queryInt(r *http.Request, name string, fallback int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func writeLeaderboardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrOverflow) || errors.Is(err, core.ErrUnsupportedType):
		writeError(w, http.StatusUnprocessableEntity, "invalid_score", err.Error())
	case errors.Is(err, core.ErrProtocol):
		writeError(w, http.StatusBadGateway, "store_protocol_error", err.Error())
	case core.IsConnectionError(err):
		writeError(w, http.StatusServiceUnavailable, "store_unreachable", err.Error())
	default:
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": code, "message": message})
}
