package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tictacgo/pkg/game"
)

// Server is the in-memory reference implementation of the game service: the
// HTTP API plus the realtime hub, sharing one store. It backs local play and
// the client's integration tests.
type Server struct {
	store *store
	hub   *hub
	log   *zap.Logger
}

func New(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	st := newStore()
	return &Server{store: st, hub: newHub(st, log), log: log}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Post("/api/players/login", s.login)
	r.Get("/api/players/{name}/stats", s.stats)
	r.Get("/api/games/open", s.openGames)
	r.Post("/api/games", s.createGame)
	r.Get("/api/games/{id}", s.getGame)
	r.Post("/api/games/{id}/join", s.joinGame)
	r.Post("/api/games/{id}/move", s.move)
	r.Post("/api/games/{id}/rematch", s.rematch)
	r.Get("/hubs/game", s.hub.handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	return r
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		writeErr(w, http.StatusBadRequest, "bad_name", "a display name is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": strings.TrimSpace(body.Name)})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.playerStats(chi.URLParam(r, "name")))
}

func (s *Server) openGames(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.open())
}

func (s *Server) createGame(w http.ResponseWriter, r *http.Request) {
	name, ok := playerName(w, r)
	if !ok {
		return
	}
	snap := s.store.create(name)
	s.log.Info("game created", zap.String("id", snap.ID), zap.String("player", name))
	s.hub.lobbyChanged()
	writeJSON(w, http.StatusCreated, map[string]string{"id": snap.ID})
}

func (s *Server) getGame(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) joinGame(w http.ResponseWriter, r *http.Request) {
	name, ok := playerName(w, r)
	if !ok {
		return
	}
	snap, err := s.store.update(chi.URLParam(r, "id"), func(g *game.Snapshot) error {
		return applyJoin(g, name)
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	s.hub.gameChanged(snap)
	s.hub.lobbyChanged() // the game just left the open list
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) move(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PlayerName string `json:"playerName"`
		CellIndex  int    `json:"cellIndex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	snap, err := s.store.update(chi.URLParam(r, "id"), func(g *game.Snapshot) error {
		return applyMove(g, body.PlayerName, body.CellIndex)
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	s.hub.gameChanged(snap)
	if snap.Status == game.StatusFinished {
		s.hub.lobbyChanged() // scoreboards moved
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) rematch(w http.ResponseWriter, r *http.Request) {
	name, ok := playerName(w, r)
	if !ok {
		return
	}
	snap, err := s.store.update(chi.URLParam(r, "id"), func(g *game.Snapshot) error {
		return applyRematch(g, name)
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	s.hub.gameChanged(snap)
	writeJSON(w, http.StatusOK, snap)
}

func playerName(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		PlayerName string `json:"playerName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.PlayerName) == "" {
		writeErr(w, http.StatusBadRequest, "bad_request", "playerName is required")
		return "", false
	}
	return strings.TrimSpace(body.PlayerName), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

func writeDomainErr(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	code := "rule_violation"
	if errors.Is(err, ErrGameNotFound) {
		status = http.StatusNotFound
		code = "not_found"
	}
	writeErr(w, status, code, err.Error())
}
