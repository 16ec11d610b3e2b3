// services/stats_service.go
package services

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/wfunc/racebot/models"
	"github.com/wfunc/racebot/persistence"
	"github.com/wfunc/racebot/round"
	"github.com/wfunc/racebot/series"
)

const (
	LeaderboardSize  = 10
	DefaultPastRaces = 10
	MaxPastRaces     = 25
	BestTimesLimit   = 20
)

// PlayerStats 玩家统计
type PlayerStats struct {
	Player      models.Player        `json:"player"`
	GamesPlayed int                  `json:"games_played"`
	Wins        int                  `json:"wins"`
	WinRate     float64              `json:"win_rate"`
	Rounds      []models.PlayerRound `json:"rounds"`
}

// CurrentRound is the focused round plus, for a series, its live table.
type CurrentRound struct {
	round.Snapshot
	Series *series.View `json:"series,omitempty"`
}

// TimesQuery narrows lap time listings. Empty fields match everything.
type TimesQuery struct {
	Race string
	// Cars restricts to exact car names (e.g. search results).
	Cars []string
	// Car is a case-insensitive substring match.
	Car   string
	Limit int
}

// StatsService is the read side shared by chat commands and the dashboard.
type StatsService struct {
	store  persistence.Store
	rounds *round.Engine
	series *series.Engine
}

func NewStatsService(store persistence.Store, rounds *round.Engine, runs *series.Engine) *StatsService {
	return &StatsService{store: store, rounds: rounds, series: runs}
}

// Leaderboard returns the top players by finished-round wins.
func (s *StatsService) Leaderboard(ctx context.Context) ([]models.LeaderboardEntry, error) {
	entries, err := s.store.Leaderboard(ctx, LeaderboardSize)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return entries, nil
}

// GetPlayerStats 获取玩家信息和统计
func (s *StatsService) GetPlayerStats(ctx context.Context, playerID string) (*PlayerStats, error) {
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	games, err := s.store.CountPlayerRounds(ctx, playerID)
	if err != nil {
		return nil, err
	}
	wins, err := s.store.CountPlayerWins(ctx, playerID)
	if err != nil {
		return nil, err
	}
	rounds, err := s.store.PlayerRounds(ctx, playerID)
	if err != nil {
		return nil, err
	}

	stats := &PlayerStats{Player: *player, GamesPlayed: games, Wins: wins, Rounds: rounds}
	if games > 0 {
		stats.WinRate = float64(wins) / float64(games) * 100
	}
	if stats.Rounds == nil {
		stats.Rounds = []models.PlayerRound{}
	}
	return stats, nil
}

// ClampPastRaces applies the default and bounds of a past-races request.
func ClampPastRaces(limit int) int {
	if limit == 0 {
		return DefaultPastRaces
	}
	return min(max(limit, 1), MaxPastRaces)
}

// PastRaces lists the most recent finished rounds.
func (s *StatsService) PastRaces(ctx context.Context, limit int) ([]models.RoundSummary, error) {
	return s.store.FinishedRounds(ctx, ClampPastRaces(limit))
}

// Games lists every finished round, newest first.
func (s *StatsService) Games(ctx context.Context) ([]models.RoundSummary, error) {
	return s.store.FinishedRounds(ctx, 0)
}

// BestTimes returns the fastest current (non-historic) lap times.
func (s *StatsService) BestTimes(ctx context.Context, q TimesQuery) ([]models.LapTimeEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = BestTimesLimit
	}
	return s.store.ListLapTimes(ctx, models.LapTimeFilter{
		TrackContains: q.Race,
		CarNames:      q.Cars,
		CarContains:   q.Car,
		Limit:         limit,
	})
}

// TrackTimes returns the fastest times on one named track.
func (s *StatsService) TrackTimes(ctx context.Context, track string, cars []string) ([]models.LapTimeEntry, error) {
	return s.store.ListLapTimes(ctx, models.LapTimeFilter{TrackName: track, CarNames: cars, Limit: BestTimesLimit})
}

func (s *StatsService) Races(ctx context.Context) ([]models.TrackSummary, error) {
	return s.store.ListTracks(ctx)
}

// Current returns the focused round. A series round also carries its
// table, read from the stored scores when no control is open.
func (s *StatsService) Current(ctx context.Context) (*CurrentRound, error) {
	snap, err := s.rounds.Current(ctx)
	if err != nil {
		return nil, err
	}
	current := &CurrentRound{Snapshot: *snap}
	if snap.Round.IsSeries() && s.series != nil {
		view, err := s.series.StoredView(ctx, *snap)
		if err != nil {
			return nil, fmt.Errorf("series table: %w", err)
		}
		current.Series = &view
	}
	return current, nil
}

// PlayerName resolves a display name, falling back to the id.
func (s *StatsService) PlayerName(ctx context.Context, playerID string) string {
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return playerID
	}
	return lo.CoalesceOrEmpty(player.Name(), playerID)
}
