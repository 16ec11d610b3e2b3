// persistence/memory.go
package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/wfunc/racebot/models"
)

type memKey struct{ a, b string }

type lapKey struct{ track, player, car string }

type resultKey struct {
	round string
	index int
}

// Memory is an in-process Store used by tests and by `serve --database.driver=memory`.
type Memory struct {
	mutex        sync.RWMutex
	rounds       map[string]models.Round
	roundOrder   []string
	players      map[string]models.Player
	roundPlayers map[string][]string
	carChoices   map[memKey]models.CarChoice
	scores       map[memKey]int
	results      map[resultKey]models.RaceResult
	tracks       map[string]models.Track
	laps         map[lapKey]models.LapTime
	images       map[string]string
}

// NewMemory 创建内存存储
func NewMemory() *Memory {
	return &Memory{
		rounds:       make(map[string]models.Round),
		players:      make(map[string]models.Player),
		roundPlayers: make(map[string][]string),
		carChoices:   make(map[memKey]models.CarChoice),
		scores:       make(map[memKey]int),
		results:      make(map[resultKey]models.RaceResult),
		tracks:       make(map[string]models.Track),
		laps:         make(map[lapKey]models.LapTime),
		images:       make(map[string]string),
	}
}

func (m *Memory) Migrate(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateRound(ctx context.Context, round models.Round) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, exists := m.rounds[round.ID]; exists {
		return ErrDuplicate
	}
	m.rounds[round.ID] = round
	m.roundOrder = append(m.roundOrder, round.ID)
	return nil
}

func (m *Memory) GetRound(ctx context.Context, id string) (*models.Round, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	round, ok := m.rounds[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &round, nil
}

func (m *Memory) GetMostRecentRoundByStatus(ctx context.Context, statuses ...models.RoundStatus) (*models.Round, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var best *models.Round
	for _, id := range m.roundOrder {
		round := m.rounds[id]
		if !lo.Contains(statuses, round.Status) {
			continue
		}
		// later insertion wins ties on CreatedAt
		if best == nil || !round.CreatedAt.Before(best.CreatedAt) {
			r := round
			best = &r
		}
	}
	if best == nil {
		return nil, ErrRecordNotFound
	}
	return best, nil
}

func (m *Memory) ListRoundsByStatus(ctx context.Context, status models.RoundStatus) ([]models.Round, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var rounds []models.Round
	for _, id := range m.roundOrder {
		if m.rounds[id].Status == status {
			rounds = append(rounds, m.rounds[id])
		}
	}
	return rounds, nil
}

func (m *Memory) SetRoundStatus(ctx context.Context, id string, status models.RoundStatus) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	round, ok := m.rounds[id]
	if !ok {
		return ErrRecordNotFound
	}
	round.Status = status
	m.rounds[id] = round
	return nil
}

func (m *Memory) SetRoundWinner(ctx context.Context, id, playerID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	round, ok := m.rounds[id]
	if !ok {
		return ErrRecordNotFound
	}
	round.WinnerID = playerID
	m.rounds[id] = round
	return nil
}

func (m *Memory) DeleteRound(ctx context.Context, id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.rounds[id]; !ok {
		return ErrRecordNotFound
	}
	delete(m.rounds, id)
	delete(m.roundPlayers, id)
	m.roundOrder = lo.Without(m.roundOrder, id)
	return nil
}

func (m *Memory) MarkSeriesExtended(ctx context.Context, roundID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	round, ok := m.rounds[roundID]
	if !ok {
		return ErrRecordNotFound
	}
	round.Extended = true
	m.rounds[roundID] = round
	return nil
}

func (m *Memory) UpsertPlayer(ctx context.Context, player models.Player) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.players[player.ID] = player
	return nil
}

func (m *Memory) BindPlayerToRound(ctx context.Context, roundID, playerID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if lo.Contains(m.roundPlayers[roundID], playerID) {
		return nil
	}
	m.roundPlayers[roundID] = append(m.roundPlayers[roundID], playerID)
	return nil
}

func (m *Memory) ListPlayersForRound(ctx context.Context, roundID string) ([]models.Player, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return lo.Map(m.roundPlayers[roundID], func(id string, _ int) models.Player {
		return m.players[id]
	}), nil
}

func (m *Memory) ReplaceCarChoice(ctx context.Context, choice models.CarChoice) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	key := memKey{choice.RoundID, choice.PlayerID}
	delete(m.carChoices, key)
	m.carChoices[key] = choice
	return nil
}

func (m *Memory) GetCarChoicesForRound(ctx context.Context, roundID string) (map[string]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	choices := make(map[string]string)
	for key, choice := range m.carChoices {
		if key.a == roundID {
			choices[key.b] = choice.CarName
		}
	}
	return choices, nil
}

// CarChoiceCount returns the number of stored choices for (round, player).
func (m *Memory) CarChoiceCount(roundID, playerID string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if _, ok := m.carChoices[memKey{roundID, playerID}]; ok {
		return 1
	}
	return 0
}

func (m *Memory) UpsertScore(ctx context.Context, roundID, playerID string, points int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.scores[memKey{roundID, playerID}] = points
	return nil
}

func (m *Memory) GetScores(ctx context.Context, roundID string) (map[string]int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	scores := make(map[string]int)
	for key, points := range m.scores {
		if key.a == roundID {
			scores[key.b] = points
		}
	}
	return scores, nil
}

func (m *Memory) ReplaceRaceResult(ctx context.Context, result models.RaceResult) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	result.Placements = append([]models.Placement(nil), result.Placements...)
	m.results[resultKey{result.RoundID, result.RaceIndex}] = result
	return nil
}

func (m *Memory) DeleteRaceResult(ctx context.Context, roundID string, raceIndex int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.results, resultKey{roundID, raceIndex})
	return nil
}

func (m *Memory) ListRaceResults(ctx context.Context, roundID string) ([]models.RaceResult, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var results []models.RaceResult
	for key, result := range m.results {
		if key.round == roundID {
			results = append(results, result)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RaceIndex < results[j].RaceIndex })
	return results, nil
}

func (m *Memory) CreateTrack(ctx context.Context, track models.Track) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, t := range m.tracks {
		if t.Name == track.Name {
			return ErrDuplicate
		}
	}
	m.tracks[track.ID] = track
	return nil
}

func (m *Memory) GetTrackByName(ctx context.Context, name string) (*models.Track, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, t := range m.tracks {
		if t.Name == name {
			track := t
			return &track, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *Memory) ListTracks(ctx context.Context) ([]models.TrackSummary, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	summaries := make([]models.TrackSummary, 0, len(m.tracks))
	for _, t := range m.tracks {
		count := 0
		for key := range m.laps {
			if key.track == t.ID {
				count++
			}
		}
		summaries = append(summaries, models.TrackSummary{Track: t, TimeCount: count})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

func (m *Memory) UpsertLapTime(ctx context.Context, lap models.LapTime) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	key := lapKey{lap.TrackID, lap.PlayerID, lap.CarName}
	_, existed := m.laps[key]
	m.laps[key] = lap
	return existed, nil
}

func (m *Memory) DeleteLapTime(ctx context.Context, trackID, playerID, carName string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	key := lapKey{trackID, playerID, carName}
	if _, ok := m.laps[key]; !ok {
		return false, nil
	}
	delete(m.laps, key)
	return true, nil
}

func (m *Memory) ListLapTimes(ctx context.Context, filter models.LapTimeFilter) ([]models.LapTimeEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var entries []models.LapTimeEntry
	for _, lap := range m.laps {
		track, ok := m.tracks[lap.TrackID]
		if !ok {
			continue
		}
		if lap.IsHistoric && !filter.IncludeHistory {
			continue
		}
		if filter.TrackName != "" && track.Name != filter.TrackName {
			continue
		}
		if filter.TrackContains != "" && !containsFold(track.Name, filter.TrackContains) {
			continue
		}
		if len(filter.CarNames) > 0 && !lo.Contains(filter.CarNames, lap.CarName) {
			continue
		}
		if filter.CarContains != "" && !containsFold(lap.CarName, filter.CarContains) {
			continue
		}
		if filter.PlayerID != "" && lap.PlayerID != filter.PlayerID {
			continue
		}
		player := m.players[lap.PlayerID]
		entries = append(entries, models.LapTimeEntry{
			LapTime:     lap,
			TrackName:   track.Name,
			PlayerName:  player.Name(),
			Username:    player.Username,
			DisplayName: player.DisplayName,
		})
	}

	if filter.NewestFirst {
		sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	} else {
		sort.Slice(entries, func(i, j int) bool { return entries[i].LaptimeMS < entries[j].LaptimeMS })
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

func (m *Memory) GetConfirmedCarImage(ctx context.Context, carName string) (string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	url, ok := m.images[strings.ToLower(carName)]
	if !ok {
		return "", ErrRecordNotFound
	}
	return url, nil
}

func (m *Memory) ConfirmCarImage(ctx context.Context, carName, imageURL string, at time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.images[strings.ToLower(carName)] = imageURL
	return nil
}

func (m *Memory) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	player, ok := m.players[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &player, nil
}

func (m *Memory) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	wins := make(map[string]int)
	for _, round := range m.rounds {
		if round.Status == models.StatusFinished && round.WinnerID != "" {
			wins[round.WinnerID]++
		}
	}
	entries := make([]models.LeaderboardEntry, 0, len(wins))
	for id, count := range wins {
		entries = append(entries, models.LeaderboardEntry{Player: m.players[id], Wins: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Wins != entries[j].Wins {
			return entries[i].Wins > entries[j].Wins
		}
		return entries[i].ID < entries[j].ID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *Memory) FinishedRounds(ctx context.Context, limit int) ([]models.RoundSummary, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var summaries []models.RoundSummary
	for i := len(m.roundOrder) - 1; i >= 0; i-- {
		round := m.rounds[m.roundOrder[i]]
		if round.Status != models.StatusFinished {
			continue
		}
		summary := models.RoundSummary{Round: round, NumPlayers: len(m.roundPlayers[round.ID])}
		if winner, ok := m.players[round.WinnerID]; ok {
			summary.WinnerName = winner.Name()
		}
		summaries = append(summaries, summary)
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (m *Memory) PlayerRounds(ctx context.Context, playerID string) ([]models.PlayerRound, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var rounds []models.PlayerRound
	for i := len(m.roundOrder) - 1; i >= 0; i-- {
		round := m.rounds[m.roundOrder[i]]
		if round.Status != models.StatusFinished || !lo.Contains(m.roundPlayers[round.ID], playerID) {
			continue
		}
		rounds = append(rounds, models.PlayerRound{
			Round:   round,
			CarName: m.carChoices[memKey{round.ID, playerID}].CarName,
			Won:     round.WinnerID == playerID,
		})
	}
	sort.SliceStable(rounds, func(i, j int) bool {
		return rounds[i].CreatedAt.After(rounds[j].CreatedAt)
	})
	return rounds, nil
}

func (m *Memory) CountPlayerRounds(ctx context.Context, playerID string) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	count := 0
	for _, players := range m.roundPlayers {
		if lo.Contains(players, playerID) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) CountPlayerWins(ctx context.Context, playerID string) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	count := 0
	for _, round := range m.rounds {
		if round.Status == models.StatusFinished && round.WinnerID == playerID {
			count++
		}
	}
	return count, nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
