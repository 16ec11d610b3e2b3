package series

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/racebot/catalog"
	"github.com/wfunc/racebot/models"
	"github.com/wfunc/racebot/persistence"
	"github.com/wfunc/racebot/round"
)

const host = "host"

// MockScoreStore wraps a real store and can be told to fail writes.
type MockScoreStore struct {
	*persistence.Memory
	FailUpsert bool
	FailDelete bool
}

var errStoreDown = errors.New("store down")

func (m *MockScoreStore) UpsertScore(ctx context.Context, roundID, playerID string, points int) error {
	if m.FailUpsert {
		return errStoreDown
	}
	return m.Memory.UpsertScore(ctx, roundID, playerID, points)
}

func (m *MockScoreStore) DeleteRaceResult(ctx context.Context, roundID string, raceIndex int) error {
	if m.FailDelete {
		return errStoreDown
	}
	return m.Memory.DeleteRaceResult(ctx, roundID, raceIndex)
}

type fixture struct {
	store   *MockScoreStore
	rounds  *round.Engine
	engine  *Engine
	roundID string
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	store := &MockScoreStore{Memory: persistence.NewMemory()}
	rounds := round.NewEngine(store, nil, nil)

	players := make([]models.Player, len(names))
	for i, n := range names {
		players[i] = models.Player{ID: n, Username: n, DisplayName: n}
	}
	_, err := rounds.Create(ctx, round.Spec{Class: "A", Band: catalog.FullBand, RaceType: models.RaceAll, Players: players, CreatedBy: host})
	require.NoError(t, err)
	snap, err := rounds.Start(ctx, host)
	require.NoError(t, err)

	engine := NewEngine(store, rounds, nil)
	_, err = engine.Begin(ctx, *snap)
	require.NoError(t, err)
	return &fixture{store: store, rounds: rounds, engine: engine, roundID: snap.Round.ID}
}

// leg picks every player in order for the current leg.
func (f *fixture) leg(t *testing.T, order ...string) *Outcome {
	t.Helper()
	view, ok := f.engine.View(f.roundID)
	require.True(t, ok)
	var out *Outcome
	for _, id := range order {
		var err error
		out, err = f.engine.Pick(context.Background(), f.roundID, host, view.Index, id)
		require.NoError(t, err)
	}
	require.True(t, out.LegComplete)
	return out
}

func (f *fixture) advance(t *testing.T) *Outcome {
	t.Helper()
	view, _ := f.engine.View(f.roundID)
	out, err := f.engine.Advance(context.Background(), f.roundID, host, view.Index)
	require.NoError(t, err)
	return out
}

func (f *fixture) totals(t *testing.T) map[string]int {
	t.Helper()
	scores, err := f.store.GetScores(context.Background(), f.roundID)
	require.NoError(t, err)
	return scores
}

func TestPoints(t *testing.T) {
	assert.Equal(t, []int{3, 2, 1}, []int{Points(3, 1), Points(3, 2), Points(3, 3)})
	assert.Equal(t, 8, Points(8, 1))
	assert.Equal(t, 1, Points(8, 8))
	assert.Equal(t, 1, Points(2, 5), "never below one")
}

func TestSeries_ThreePlayers(t *testing.T) {
	f := newFixture(t, "A", "B", "C")

	f.leg(t, "A", "B", "C") // drag
	f.advance(t)
	f.leg(t, "B", "A", "C") // circuit
	f.advance(t)
	f.leg(t, "A", "C", "B") // rally
	f.advance(t)
	out := f.leg(t, "B", "A", "C") // goliath

	assert.False(t, out.Extended, "no tie at the top")
	assert.True(t, out.Concluded)
	if diff := cmp.Diff(map[string]int{"A": 10, "B": 9, "C": 5}, f.totals(t)); diff != "" {
		t.Errorf("totals mismatch (-want +got):\n%s", diff)
	}
	require.NotNil(t, out.View.Winner)
	assert.Equal(t, "A", out.View.Winner.ID)

	r, err := f.store.GetRound(context.Background(), f.roundID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, r.Status)
	assert.Equal(t, "A", r.WinnerID)

	results, err := f.store.ListRaceResults(context.Background(), f.roundID)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestSeries_DragRedo(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	ctx := context.Background()

	f.leg(t, "A", "B", "C")
	assert.Equal(t, map[string]int{"A": 3, "B": 2, "C": 1}, f.totals(t))

	out, err := f.engine.Redo(ctx, f.roundID, host, 0)
	require.NoError(t, err)
	assert.Equal(t, PhasePicking, out.View.Phase)
	assert.Len(t, out.View.Remaining, 3)
	assert.Equal(t, map[string]int{"A": 0, "B": 0, "C": 0}, f.totals(t), "redo is the exact inverse")

	results, err := f.store.ListRaceResults(ctx, f.roundID)
	require.NoError(t, err)
	assert.Empty(t, results)

	f.leg(t, "C", "B", "A")
	assert.Equal(t, map[string]int{"A": 1, "B": 2, "C": 3}, f.totals(t))
}

func TestSeries_RedoWhilePickingRestarts(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	ctx := context.Background()

	_, err := f.engine.Pick(ctx, f.roundID, host, 0, "B")
	require.NoError(t, err)
	out, err := f.engine.Redo(ctx, f.roundID, host, 0)
	require.NoError(t, err)
	assert.Empty(t, out.View.Placements)
	assert.Len(t, out.View.Remaining, 3)
	assert.Equal(t, map[string]int{"A": 0, "B": 0, "C": 0}, f.totals(t))
}

func TestSeries_TieBreakAppendsOffroadOnce(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()

	f.leg(t, "A", "B") // drag: A2 B1
	f.advance(t)
	f.leg(t, "B", "A") // circuit: A3 B3
	f.advance(t)
	f.leg(t, "A", "B") // rally: A5 B4
	f.advance(t)
	out := f.leg(t, "B", "A") // goliath: A6 B6

	assert.True(t, out.Extended)
	assert.False(t, out.Concluded)
	assert.Equal(t, []models.RaceType{models.RaceDrag, models.RaceCircuit, models.RaceRally, models.RaceGoliath, models.RaceOffroad}, out.View.Legs)

	// redo goliath and tie again: still one offroad leg
	_, err := f.engine.Redo(ctx, f.roundID, host, 3)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 5, "B": 4}, f.totals(t))
	out = f.leg(t, "B", "A")
	assert.False(t, out.Extended)
	assert.Len(t, out.View.Legs, 5)

	f.advance(t)
	out = f.leg(t, "A", "B") // offroad
	assert.True(t, out.Concluded)
	assert.Equal(t, "A", out.View.Winner.ID)
	assert.Equal(t, map[string]int{"A": 8, "B": 7}, f.totals(t))
}

func TestSeries_TieOnPointsUsesLastLegPosition(t *testing.T) {
	f := newFixture(t, "A", "B", "C")

	f.leg(t, "C", "A", "B") // C3 A2 B1
	f.advance(t)
	f.leg(t, "B", "A", "C") // C4 A4 B4
	f.advance(t)
	f.leg(t, "A", "B", "C") // A7 B6 C5
	f.advance(t)
	out := f.leg(t, "C", "B", "A") // C8 B8 A8: tie, offroad appended

	require.True(t, out.Extended)
	// standings on a tie follow the most recent leg
	ids := []string{out.View.Standings[0].Player.ID, out.View.Standings[1].Player.ID, out.View.Standings[2].Player.ID}
	assert.Equal(t, []string{"C", "B", "A"}, ids)
}

func TestSeries_Guards(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	ctx := context.Background()

	_, err := f.engine.Pick(ctx, f.roundID, "A", 0, "A")
	assert.ErrorIs(t, err, round.ErrUnauthorized)

	_, err = f.engine.Pick(ctx, f.roundID, host, 1, "A")
	assert.ErrorIs(t, err, ErrStaleAction)

	_, err = f.engine.Pick(ctx, f.roundID, host, 0, "A")
	require.NoError(t, err)
	_, err = f.engine.Pick(ctx, f.roundID, host, 0, "A")
	assert.ErrorIs(t, err, ErrNotInPool, "second pick of the same player is rejected")

	_, err = f.engine.Advance(ctx, f.roundID, host, 0)
	assert.ErrorIs(t, err, ErrWrongPhase, "cannot advance mid-leg")

	_, err = f.engine.Pick(ctx, "nope", host, 0, "A")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSeries_StoreFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()

	_, err := f.engine.Pick(ctx, f.roundID, host, 0, "A")
	require.NoError(t, err)

	f.store.FailUpsert = true
	_, err = f.engine.Pick(ctx, f.roundID, host, 0, "B")
	require.ErrorIs(t, err, errStoreDown)

	view, _ := f.engine.View(f.roundID)
	assert.Equal(t, PhasePicking, view.Phase)
	assert.Len(t, view.Placements, 1)
	assert.Len(t, view.Remaining, 1)
	for _, s := range view.Standings {
		assert.Zero(t, s.Points)
	}

	f.store.FailUpsert = false
	out, err := f.engine.Pick(ctx, f.roundID, host, 0, "B")
	require.NoError(t, err)
	assert.True(t, out.LegComplete)
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, f.totals(t))

	f.store.FailDelete = true
	_, err = f.engine.Redo(ctx, f.roundID, host, 0)
	require.ErrorIs(t, err, errStoreDown)
	view, _ = f.engine.View(f.roundID)
	assert.Equal(t, PhaseDeciding, view.Phase)
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, f.totals(t))
}

func TestSeries_TerminalImmutability(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	ctx := context.Background()

	for i, order := range [][]string{{"A", "B", "C"}, {"A", "B", "C"}, {"A", "B", "C"}, {"A", "B", "C"}} {
		out := f.leg(t, order...)
		if i < 3 {
			f.advance(t)
		} else {
			require.True(t, out.Concluded)
		}
	}

	_, err := f.engine.Redo(ctx, f.roundID, host, 3)
	assert.ErrorIs(t, err, round.ErrRoundFinished)
	_, err = f.engine.Pick(ctx, f.roundID, host, 3, "A")
	assert.ErrorIs(t, err, ErrWrongPhase)
	_, err = f.engine.Advance(ctx, f.roundID, host, 3)
	assert.ErrorIs(t, err, ErrWrongPhase)

	assert.Equal(t, map[string]int{"A": 12, "B": 8, "C": 4}, f.totals(t))
	_, err = f.rounds.Finish(ctx, f.roundID, "B", host)
	assert.ErrorIs(t, err, round.ErrRoundFinished)
}

func TestSeries_BeginResumesFromStore(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()

	f.leg(t, "B", "A")
	f.advance(t)
	f.leg(t, "A", "B")

	// a fresh engine over the same store picks up where the old one stopped
	resumed := NewEngine(f.store, f.rounds, nil)
	snap, err := f.rounds.Current(ctx)
	require.NoError(t, err)
	run, err := resumed.Begin(ctx, *snap)
	require.NoError(t, err)

	assert.Equal(t, 1, run.Index)
	assert.Equal(t, PhaseDeciding, run.Phase())
	assert.Equal(t, map[string]int{"A": 3, "B": 3}, run.Totals)

	_, err = resumed.Begin(ctx, round.Snapshot{Round: models.Round{RaceType: models.RaceDrag, Status: models.StatusActive}})
	assert.ErrorIs(t, err, ErrNotSeries)
}

func TestSeries_ResumeKeepsTieBreakLeg(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()

	f.leg(t, "A", "B") // drag: A2 B1
	f.advance(t)
	f.leg(t, "B", "A") // circuit: A3 B3
	f.advance(t)
	f.leg(t, "A", "B") // rally: A5 B4
	f.advance(t)
	out := f.leg(t, "B", "A") // goliath: A6 B6
	require.True(t, out.Extended)

	// the redo breaks the tie, but offroad stays in the sequence
	_, err := f.engine.Redo(ctx, f.roundID, host, 3)
	require.NoError(t, err)

	snap, err := f.rounds.Snapshot(ctx, f.roundID)
	require.NoError(t, err)
	assert.True(t, snap.Round.Extended)

	resumed := NewEngine(f.store, f.rounds, nil)
	run, err := resumed.Begin(ctx, *snap)
	require.NoError(t, err)
	assert.Equal(t, []models.RaceType{models.RaceDrag, models.RaceCircuit, models.RaceRally, models.RaceGoliath, models.RaceOffroad}, run.Legs)
	assert.Equal(t, 2, run.Index, "resumes at the newest scored leg")
}

func TestSeries_StoredViewWithoutRun(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()

	f.leg(t, "A", "B")
	f.engine.Forget(f.roundID)

	snap, err := f.rounds.Snapshot(ctx, f.roundID)
	require.NoError(t, err)
	view, err := f.engine.StoredView(ctx, *snap)
	require.NoError(t, err)

	assert.Equal(t, PhaseDeciding, view.Phase)
	assert.Equal(t, 0, view.Index)
	require.Len(t, view.Standings, 2)
	assert.Equal(t, "A", view.Standings[0].Player.ID)
	assert.Equal(t, 2, view.Standings[0].Points)
	assert.Equal(t, 1, view.Standings[1].Points)
	require.Len(t, view.Results, 1)

	// a rebuilt view is not registered as an open run
	_, ok := f.engine.Run(f.roundID)
	assert.False(t, ok)

	_, err = f.engine.StoredView(ctx, round.Snapshot{Round: models.Round{RaceType: models.RaceDrag}})
	assert.ErrorIs(t, err, ErrNotSeries)
}
