package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/racebot/catalog"
	"github.com/wfunc/racebot/models"
	"github.com/wfunc/racebot/persistence"
	"github.com/wfunc/racebot/round"
	"github.com/wfunc/racebot/series"
)

var (
	ann = models.Player{ID: "ann", Username: "ann", DisplayName: "Ann"}
	ben = models.Player{ID: "ben", Username: "ben"}
)

func newService(t *testing.T) (*StatsService, *persistence.Memory, *round.Engine) {
	t.Helper()
	cat, err := catalog.Parse(strings.NewReader("Vehicle,Value\nMid Coupe,90000\n"))
	require.NoError(t, err)
	store := persistence.NewMemory()
	rounds := round.NewEngine(store, cat, nil)
	return NewStatsService(store, rounds, series.NewEngine(store, rounds, nil)), store, rounds
}

// seedRound stores a finished round won by winner.
func seedRound(t *testing.T, store *persistence.Memory, id, winner string, at time.Time, players ...models.Player) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateRound(ctx, models.Round{
		ID: id, Class: "A", Value: 100_000, RaceType: models.RaceDrag,
		Status: models.StatusFinished, CreatedBy: "host", CreatedAt: at, WinnerID: winner,
	}))
	for _, p := range players {
		require.NoError(t, store.UpsertPlayer(ctx, p))
		require.NoError(t, store.BindPlayerToRound(ctx, id, p.ID))
	}
}

func TestClampPastRaces(t *testing.T) {
	for in, want := range map[int]int{0: 10, -3: 1, 1: 1, 12: 12, 25: 25, 100: 25} {
		assert.Equal(t, want, ClampPastRaces(in), "limit %d", in)
	}
}

func TestPlayerStats(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	seedRound(t, store, "r1", "ann", base, ann, ben)
	seedRound(t, store, "r2", "ben", base.Add(time.Hour), ann, ben)
	seedRound(t, store, "r3", "ann", base.Add(2*time.Hour), ann, ben)

	stats, err := svc.GetPlayerStats(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.GamesPlayed)
	assert.Equal(t, 2, stats.Wins)
	assert.InDelta(t, 66.67, stats.WinRate, 0.01)
	require.Len(t, stats.Rounds, 3)
	assert.Equal(t, "r3", stats.Rounds[0].ID)
	assert.True(t, stats.Rounds[0].Won)

	_, err = svc.GetPlayerStats(ctx, "nobody")
	assert.ErrorIs(t, err, persistence.ErrRecordNotFound)

	board, err := svc.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "ann", board[0].ID)
	assert.Equal(t, 2, board[0].Wins)

	assert.Equal(t, "Ann", svc.PlayerName(ctx, "ann"))
	assert.Equal(t, "ben", svc.PlayerName(ctx, "ben"))
	assert.Equal(t, "ghost", svc.PlayerName(ctx, "ghost"))
}

func TestPastRacesAndGames(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for i := range 30 {
		seedRound(t, store, fmt.Sprintf("r%02d", i), "ann", base.Add(time.Duration(i)*time.Minute), ann, ben)
	}

	recent, err := svc.PastRaces(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, DefaultPastRaces)
	assert.Equal(t, "r29", recent[0].ID)
	assert.Equal(t, "Ann", recent[0].WinnerName)

	capped, err := svc.PastRaces(ctx, 99)
	require.NoError(t, err)
	assert.Len(t, capped, MaxPastRaces)

	all, err := svc.Games(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 30)
}

func TestBestTimes(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertPlayer(ctx, ann))
	require.NoError(t, store.UpsertPlayer(ctx, ben))
	for _, track := range []models.Track{{ID: "t1", Name: "Spa"}, {ID: "t2", Name: "Spa Short"}} {
		require.NoError(t, store.CreateTrack(ctx, track))
	}
	laps := []models.LapTime{
		{TrackID: "t1", PlayerID: "ann", CarName: "Mid Coupe", LaptimeMS: 62_000},
		{TrackID: "t1", PlayerID: "ben", CarName: "Hypercar", LaptimeMS: 58_000},
		{TrackID: "t2", PlayerID: "ben", CarName: "Mid Coupe", LaptimeMS: 40_000},
		{TrackID: "t1", PlayerID: "ann", CarName: "Old Car", LaptimeMS: 10_000, IsHistoric: true},
	}
	for _, lap := range laps {
		_, err := store.UpsertLapTime(ctx, lap)
		require.NoError(t, err)
	}

	exact, err := svc.TrackTimes(ctx, "Spa", nil)
	require.NoError(t, err)
	require.Len(t, exact, 2)
	assert.Equal(t, 58_000, exact[0].LaptimeMS)

	contains, err := svc.BestTimes(ctx, TimesQuery{Race: "spa"})
	require.NoError(t, err)
	assert.Len(t, contains, 3)

	coupes, err := svc.BestTimes(ctx, TimesQuery{Car: "coupe", Limit: 1})
	require.NoError(t, err)
	require.Len(t, coupes, 1)
	assert.Equal(t, "Spa Short", coupes[0].TrackName)

	named, err := svc.BestTimes(ctx, TimesQuery{Cars: []string{"Hypercar"}})
	require.NoError(t, err)
	require.Len(t, named, 1)
	assert.Equal(t, "ben", named[0].PlayerName)
}

func TestCurrent(t *testing.T) {
	svc, _, rounds := newService(t)
	ctx := context.Background()

	_, err := svc.Current(ctx)
	assert.ErrorIs(t, err, round.ErrNoRound)

	spec, err := rounds.Draft(round.Request{RaceType: models.RaceAll, Players: []models.Player{ann, ben}, CreatedBy: "host"})
	require.NoError(t, err)
	_, err = rounds.Create(ctx, spec)
	require.NoError(t, err)
	snap, err := rounds.Start(ctx, "host")
	require.NoError(t, err)

	// no control opened yet: the zero table comes from the store
	current, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Round.ID, current.Round.ID)
	require.NotNil(t, current.Series)
	assert.Equal(t, series.PhasePicking, current.Series.Phase)
	for _, st := range current.Series.Standings {
		assert.Zero(t, st.Points)
	}

	_, err = svc.series.Begin(ctx, *snap)
	require.NoError(t, err)
	_, err = svc.series.Pick(ctx, snap.Round.ID, "host", 0, ann.ID)
	require.NoError(t, err)
	_, err = svc.series.Pick(ctx, snap.Round.ID, "host", 0, ben.ID)
	require.NoError(t, err)

	// the control expired: scores still show
	svc.series.Forget(snap.Round.ID)
	current, err = svc.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, current.Series)
	assert.Equal(t, series.PhaseDeciding, current.Series.Phase)
	points := map[string]int{}
	for _, st := range current.Series.Standings {
		points[st.Player.ID] = st.Points
	}
	assert.Equal(t, map[string]int{ann.ID: 2, ben.ID: 1}, points)
}
