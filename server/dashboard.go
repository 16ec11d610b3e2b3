package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/wfunc/racebot/logger"
	"github.com/wfunc/racebot/persistence"
	"github.com/wfunc/racebot/round"
	"github.com/wfunc/racebot/services"
)

// Routes mounts the bridge endpoint, the dashboard API, health and metrics.
func (s *BotServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(newCORS(s.opts.AllowedOrigins).Handler)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.monitor != nil {
		r.Method(http.MethodGet, "/metrics", s.monitor.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/leaderboard", s.getLeaderboard)
		r.Get("/player/{id}", s.getPlayer)
		r.Get("/games", s.getGames)
		r.Get("/times", s.getTimes)
		r.Get("/races", s.getRaces)
		r.Get("/rounds/current", s.getCurrentRound)
	})
	return r
}

func newCORS(origins []string) *cors.Cors {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedHeaders: []string{"*"},
	}
	if len(origins) == 0 {
		opts.AllowOriginFunc = func(origin string) bool { return true }
	} else {
		opts.AllowedOrigins = origins
	}
	return cors.New(opts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warnf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *BotServer) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.stats.Leaderboard(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to fetch leaderboard: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *BotServer) getPlayer(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.GetPlayerStats(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, persistence.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "Player not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to fetch player: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *BotServer) getGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.stats.Games(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to fetch games: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, games)
}

// getTimes filters by substring on race and car; limit defaults to 20.
func (s *BotServer) getTimes(w http.ResponseWriter, r *http.Request) {
	q := services.TimesQuery{
		Race: r.URL.Query().Get("race"),
		Car:  r.URL.Query().Get("car"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = limit
	}
	times, err := s.stats.BestTimes(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to fetch times: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, times)
}

func (s *BotServer) getRaces(w http.ResponseWriter, r *http.Request) {
	races, err := s.stats.Races(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to fetch races: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, races)
}

func (s *BotServer) getCurrentRound(w http.ResponseWriter, r *http.Request) {
	current, err := s.stats.Current(r.Context())
	if errors.Is(err, round.ErrNoRound) {
		writeError(w, http.StatusNotFound, "No round in progress")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to fetch round: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, current)
}
