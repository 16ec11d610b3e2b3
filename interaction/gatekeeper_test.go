package interaction

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/racebot/catalog"
	"github.com/wfunc/racebot/models"
	"github.com/wfunc/racebot/network"
	"github.com/wfunc/racebot/persistence"
	"github.com/wfunc/racebot/round"
	"github.com/wfunc/racebot/series"
	"github.com/wfunc/racebot/session"
	"github.com/wfunc/racebot/timer"
)

const host = "host"

var (
	hostUser = models.Player{ID: host, Username: "host", DisplayName: "Host"}
	alice    = models.Player{ID: "A", Username: "alice", DisplayName: "A"}
	bob      = models.Player{ID: "B", Username: "bob", DisplayName: "B"}
	carol    = models.Player{ID: "C", Username: "carol", DisplayName: "C"}
)

// MockPusher collects surface updates pushed on timeout.
type MockPusher struct {
	mu      sync.Mutex
	updates []network.SurfaceUpdate
}

func (m *MockPusher) Push(u network.SurfaceUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
}

func (m *MockPusher) Find(surfaceID string) (network.SurfaceUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.updates {
		if u.SurfaceID == surfaceID {
			return u, true
		}
	}
	return network.SurfaceUpdate{}, false
}

// MockRecorder counts observations.
type MockRecorder struct {
	mu       sync.Mutex
	commands map[string]int
	clicks   int
	failures int
}

func (m *MockRecorder) ObserveCommand(name string, rejected bool, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commands == nil {
		m.commands = map[string]int{}
	}
	m.commands[name]++
}

func (m *MockRecorder) ObserveClick(kind string, rejected bool, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clicks++
}

func (m *MockRecorder) IncFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

type fixture struct {
	store    *persistence.Memory
	sessions *session.Manager
	gate     *Gatekeeper
	pusher   *MockPusher
	metrics  *MockRecorder
}

func newFixture(t *testing.T, idle, control time.Duration) *fixture {
	t.Helper()
	cat, err := catalog.Parse(strings.NewReader("Vehicle,Value\nBudget Coupe,40000\nSport Coupe,45000\nHypercar,9000000\n"))
	require.NoError(t, err)

	timers := timer.NewTimerManagerWithResolution(5 * time.Millisecond)
	t.Cleanup(timers.Stop)

	store := persistence.NewMemory()
	rounds := round.NewEngine(store, cat, nil)
	f := &fixture{
		store:    store,
		sessions: session.NewManager(timers, idle, control),
		pusher:   &MockPusher{},
		metrics:  &MockRecorder{},
	}
	f.gate = New(Deps{
		Store:    store,
		Rounds:   rounds,
		Series:   series.NewEngine(store, rounds, nil),
		Sessions: f.sessions,
		Metrics:  f.metrics,
	})
	f.gate.SetPusher(f.pusher.Push)
	return f
}

func str(name, v string) network.Option { return network.Option{Name: name, String: &v} }

func num(name string, v int64) network.Option { return network.Option{Name: name, Int: &v} }

func flag(name string, v bool) network.Option { return network.Option{Name: name, Bool: &v} }

func user(name string, p models.Player) network.Option { return network.Option{Name: name, User: &p} }

func (f *fixture) run(by models.Player, name string, opts ...network.Option) network.Reply {
	msg := f.gate.HandleCommand(context.Background(), network.Command{InteractionID: "i", Name: name, User: by, Options: opts})
	return msg.Reply
}

func (f *fixture) click(by models.Player, customID string) network.ReplyMessage {
	return f.gate.HandleClick(context.Background(), network.Interaction{InteractionID: "c", User: by, CustomID: customID})
}

// button returns the custom id of the first button of kind (and target, if given).
func button(t *testing.T, r network.Reply, kind network.ActionKind, target string) string {
	t.Helper()
	for _, b := range r.Buttons() {
		a, err := network.DecodeAction(b.CustomID)
		require.NoError(t, err)
		if a.Kind == kind && (target == "" || a.Target == target) {
			return b.CustomID
		}
	}
	t.Fatalf("no %s button for %q in %q", kind, target, r.Title)
	return ""
}

func (f *fixture) startRound(t *testing.T, raceType models.RaceType, players ...models.Player) {
	t.Helper()
	opts := []network.Option{str("race_type", string(raceType))}
	for i, p := range players {
		opts = append(opts, user("player"+string(rune('1'+i)), p))
	}
	reply := f.run(hostUser, "startround", opts...)
	require.False(t, reply.Ephemeral, reply.Content)
	require.Equal(t, "Forza Round", reply.Title)
}

func (f *fixture) currentRound(t *testing.T) models.Round {
	t.Helper()
	r, err := f.store.GetMostRecentRoundByStatus(context.Background(),
		models.StatusPending, models.StatusActive, models.StatusFinished)
	require.NoError(t, err)
	return *r
}

func TestPingForza(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	assert.Equal(t, "Pong!", f.run(alice, "ping").Content)
	assert.Equal(t, "Forza", f.run(alice, "forza").Content)
	assert.True(t, f.run(alice, "nope").Ephemeral)
	assert.Equal(t, 1, f.metrics.commands["ping"])
}

func TestStartRound_PlayerCount(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	reply := f.run(hostUser, "startround", user("player1", alice), user("player2", alice))
	assert.True(t, reply.Ephemeral)
	assert.Contains(t, reply.Content, "between 2 and 8")
}

func TestSearchCar(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	reply := f.run(alice, "searchcar", str("query", "coupe"))
	assert.Equal(t, `Search results for "coupe"`, reply.Title)
	assert.Contains(t, reply.Description, "- Budget Coupe")
	assert.Equal(t, "Showing 2 of 2 results.", reply.Footer)

	assert.Equal(t, "No cars found", f.run(alice, "searchcar", str("query", "zzz")).Title)
}

func TestChooseCar_SingleActiveChoice(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	f.startRound(t, models.RaceDrag, alice, bob)
	r := f.currentRound(t)

	picker := f.run(alice, "choosecar", str("query", "coupe"))
	require.NotEmpty(t, picker.SurfaceID)
	assert.Contains(t, picker.Description, "Car 1 of 2")

	// someone else's picker
	other := f.click(bob, button(t, picker, network.ActionCarNext, ""))
	assert.True(t, other.Reply.Ephemeral)
	assert.Equal(t, "This isn't your car selection!", other.Reply.Content)

	next := f.click(alice, button(t, picker, network.ActionCarNext, ""))
	require.True(t, next.Update)
	assert.Contains(t, next.Reply.Description, "Car 2 of 2")

	accepted := f.click(alice, button(t, next.Reply, network.ActionCarAccept, ""))
	require.True(t, accepted.Update)
	assert.Equal(t, "Car Selected", accepted.Reply.Title)

	random := f.run(alice, "choosecar", flag("random", true))
	assert.Equal(t, "🎲 Random Car Selected", random.Title)
	assert.Equal(t, 1, f.store.CarChoiceCount(r.ID, alice.ID))

	// the accepted picker is closed
	again := f.click(alice, button(t, next.Reply, network.ActionCarAccept, ""))
	assert.Equal(t, "This control has expired.", again.Reply.Content)
}

func TestChooseCar_NotInRound(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	f.startRound(t, models.RaceDrag, alice, bob)

	reply := f.run(carol, "choosecar", flag("random", true))
	assert.True(t, reply.Ephemeral)
	assert.Equal(t, "That player is not part of this round.", reply.Content)
}

func TestUnauthorizedFinish(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	f.startRound(t, models.RaceCircuit, alice, bob)

	started := f.run(bob, "gamestart")
	require.Equal(t, "🏁 Game Starting!", started.Title)
	assert.Equal(t, "⚠️ Warning: Not all players have selected a car!", started.Description)
	finish := button(t, started, network.ActionFinishGame, "")

	rejected := f.click(bob, finish)
	assert.True(t, rejected.Reply.Ephemeral)
	assert.False(t, rejected.Update)
	assert.Equal(t, "Only the person who started this round can finish it!", rejected.Reply.Content)
	assert.Equal(t, models.StatusActive, f.currentRound(t).Status)

	winners := f.click(hostUser, finish)
	require.True(t, winners.Update)
	assert.Equal(t, "🏆 Select the Winner", winners.Reply.Title)
	assert.Len(t, winners.Reply.Buttons(), 2)

	pickA := button(t, winners.Reply, network.ActionWinner, alice.ID)
	assert.True(t, f.click(bob, pickA).Reply.Ephemeral)
	assert.Equal(t, models.StatusActive, f.currentRound(t).Status)

	done := f.click(hostUser, pickA)
	require.True(t, done.Update)
	assert.Equal(t, "🏆 Game Finished!", done.Reply.Title)

	r := f.currentRound(t)
	assert.Equal(t, models.StatusFinished, r.Status)
	assert.Equal(t, alice.ID, r.WinnerID)

	// terminal: the control is gone and the winner cannot change
	late := f.click(hostUser, button(t, winners.Reply, network.ActionWinner, bob.ID))
	assert.True(t, late.Reply.Ephemeral)
	assert.Equal(t, alice.ID, f.currentRound(t).WinnerID)
}

func TestWinnerButtonsWrapInRowsOfFive(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	players := make([]models.Player, 7)
	for i := range players {
		id := string(rune('a' + i))
		players[i] = models.Player{ID: id, Username: id}
	}
	f.startRound(t, models.RaceRally, players...)

	started := f.run(hostUser, "gamestart")
	winners := f.click(hostUser, button(t, started, network.ActionFinishGame, ""))
	require.Len(t, winners.Reply.Rows, 2)
	assert.Len(t, winners.Reply.Rows[0], 5)
	assert.Len(t, winners.Reply.Rows[1], 2)
}

func TestGameStart_NoPendingRound(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	reply := f.run(hostUser, "gamestart")
	assert.True(t, reply.Ephemeral)
	assert.Contains(t, reply.Content, "No pending round found")
}

// playLeg picks order on a picking surface and returns the resulting surface.
func (f *fixture) playLeg(t *testing.T, surface network.Reply, order ...models.Player) network.Reply {
	t.Helper()
	for _, p := range order {
		msg := f.click(hostUser, button(t, surface, network.ActionPick, p.ID))
		require.True(t, msg.Update, msg.Reply.Content)
		surface = msg.Reply
	}
	return surface
}

func TestSeriesFlow(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	f.startRound(t, models.RaceAll, alice, bob, carol)
	started := f.run(hostUser, "gamestart")

	msg := f.click(hostUser, button(t, started, network.ActionFinishGame, ""))
	require.True(t, msg.Update)
	surface := msg.Reply
	assert.Equal(t, "🏁 Race 1 of 4: DRAG", surface.Title)

	for leg := 0; leg < 4; leg++ {
		surface = f.playLeg(t, surface, alice, bob, carol)
		if leg < 3 {
			assert.True(t, strings.HasPrefix(surface.Title, "✅"), surface.Title)
			msg = f.click(hostUser, button(t, surface, network.ActionAdvance, ""))
			require.True(t, msg.Update)
			surface = msg.Reply
		}
	}

	assert.Equal(t, "🏆 Series Finished!", surface.Title)
	assert.Contains(t, surface.Description, "with 12 points")
	assert.Empty(t, surface.Rows)

	r := f.currentRound(t)
	assert.Equal(t, models.StatusFinished, r.Status)
	assert.Equal(t, alice.ID, r.WinnerID)

	scores, err := f.store.GetScores(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 12, "B": 8, "C": 4}, scores)
}

func TestSeriesRejectsWinnerAction(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	f.startRound(t, models.RaceAll, alice, bob, carol)
	started := f.run(hostUser, "gamestart")
	picking := f.click(hostUser, button(t, started, network.ActionFinishGame, "")).Reply

	pick, err := network.DecodeAction(button(t, picking, network.ActionPick, carol.ID))
	require.NoError(t, err)
	forged := network.Action{Kind: network.ActionWinner, SurfaceID: pick.SurfaceID, RoundID: pick.RoundID, Target: carol.ID}.MustEncode()

	rejected := f.click(hostUser, forged)
	assert.True(t, rejected.Reply.Ephemeral)
	assert.Equal(t, "That action is not available right now.", rejected.Reply.Content)

	r := f.currentRound(t)
	assert.Equal(t, models.StatusActive, r.Status)
	assert.Empty(t, r.WinnerID)

	// the pick loop is still open
	assert.True(t, f.click(hostUser, button(t, picking, network.ActionPick, alice.ID)).Update)
}

func TestSeriesRejectsStaleAndDuplicatePicks(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	f.startRound(t, models.RaceAll, alice, bob, carol)
	started := f.run(hostUser, "gamestart")
	picking := f.click(hostUser, button(t, started, network.ActionFinishGame, "")).Reply

	pickA := button(t, picking, network.ActionPick, alice.ID)
	require.True(t, f.click(hostUser, pickA).Update)

	dup := f.click(hostUser, pickA)
	assert.True(t, dup.Reply.Ephemeral)
	assert.Equal(t, "That player has already been placed in this race.", dup.Reply.Content)

	// non-creator pick
	notHost := f.click(alice, button(t, picking, network.ActionPick, bob.ID))
	assert.True(t, notHost.Reply.Ephemeral)

	deciding := f.playLeg(t, picking, bob, carol)
	next := f.click(hostUser, button(t, deciding, network.ActionAdvance, "")).Reply
	assert.Equal(t, "🏁 Race 2 of 4: CIRCUIT", next.Title)

	stale := f.click(hostUser, button(t, deciding, network.ActionRedo, ""))
	assert.Equal(t, "That race is no longer current.", stale.Reply.Content)
}

func TestSeriesRedo(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	f.startRound(t, models.RaceAll, alice, bob, carol)
	started := f.run(hostUser, "gamestart")
	picking := f.click(hostUser, button(t, started, network.ActionFinishGame, "")).Reply

	deciding := f.playLeg(t, picking, alice, bob, carol)
	redo := f.click(hostUser, button(t, deciding, network.ActionRedo, ""))
	require.True(t, redo.Update)
	assert.Equal(t, "🏁 Race 1 of 4: DRAG", redo.Reply.Title)

	scores, err := f.store.GetScores(context.Background(), f.currentRound(t).ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 0, "B": 0, "C": 0}, scores)
}

func TestGameControlTimesOut(t *testing.T) {
	f := newFixture(t, time.Minute, 30*time.Millisecond)
	f.startRound(t, models.RaceDrag, alice, bob)
	started := f.run(hostUser, "gamestart")

	require.Eventually(t, func() bool {
		_, ok := f.pusher.Find(started.SurfaceID)
		return ok
	}, time.Second, 5*time.Millisecond)

	update, _ := f.pusher.Find(started.SurfaceID)
	assert.Equal(t, "Game Controls Timed Out", update.Reply.Title)

	late := f.click(hostUser, button(t, started, network.ActionFinishGame, ""))
	assert.Equal(t, "This control has expired.", late.Reply.Content)
	assert.Equal(t, models.StatusActive, f.currentRound(t).Status)

	// the creator can reopen the control of the active round
	reopened := f.run(hostUser, "gamestart")
	require.False(t, reopened.Ephemeral, reopened.Content)
	assert.Equal(t, "🏁 Game In Progress", reopened.Title)
	assert.True(t, f.run(bob, "gamestart").Ephemeral)
}

func TestPickerTimesOut(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond, time.Hour)
	f.startRound(t, models.RaceDrag, alice, bob)
	picker := f.run(alice, "choosecar", str("query", "coupe"))

	require.Eventually(t, func() bool {
		u, ok := f.pusher.Find(picker.SurfaceID)
		return ok && u.Reply.Title == "Selection Timed Out"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.store.CarChoiceCount(f.currentRound(t).ID, alice.ID))
}

func TestResetRound(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	assert.Equal(t, "No active rounds to reset.", f.run(hostUser, "resetround").Content)

	f.startRound(t, models.RaceAll, alice, bob)
	started := f.run(hostUser, "gamestart")

	reset := f.run(hostUser, "resetround")
	assert.Equal(t, "🔄 Rounds Reset", reset.Title)
	assert.Equal(t, models.StatusFinished, f.currentRound(t).Status)
	assert.Equal(t, 0, f.sessions.Count())

	late := f.click(hostUser, button(t, started, network.ActionFinishGame, ""))
	assert.True(t, late.Reply.Ephemeral)
}

func TestLapTimes(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)

	added := f.run(alice, "addrace", str("name", "Spa"), str("description", "Belgium"))
	assert.Equal(t, "✅ Race Added", added.Title)
	assert.Equal(t, "Race Already Exists", f.run(alice, "addrace", str("name", "Spa")).Title)

	assert.Equal(t, "Invalid Laptime Format", f.run(alice, "registertime", str("race", "Spa"), str("laptime", "62.5")).Title)
	assert.Equal(t, "Race Not Found", f.run(alice, "registertime", str("race", "Monza"), str("laptime", "1:02.5")).Title)

	register := func() network.Reply {
		picker := f.run(alice, "registertime", str("race", "Spa"), str("laptime", "1:02.5"), str("car_query", "sport"))
		require.NotEmpty(t, picker.SurfaceID, picker.Title)
		return f.click(alice, button(t, picker, network.ActionTimeAccept, "")).Reply
	}
	assert.Equal(t, "⏱️ Time Registered", register().Title)
	assert.Equal(t, "⏱️ Time Updated", register().Title)

	times := f.run(bob, "times", str("race", "Spa"))
	assert.Equal(t, "⏱️ Best Times - Spa", times.Title)
	assert.Contains(t, times.Description, "1:02.500")
	assert.Equal(t, "Showing 1 time", times.Footer)

	listed := f.run(bob, "listrace")
	assert.Contains(t, listed.Description, "📊 Times recorded: 1")

	remove := func() network.Reply {
		picker := f.run(alice, "removetime", str("race", "Spa"), str("car_query", "sport"))
		return f.click(alice, button(t, picker, network.ActionTimeAccept, "")).Reply
	}
	assert.Equal(t, "🗑️ Time Deleted", remove().Title)
	assert.Equal(t, "No Time Found", remove().Title)
	assert.Equal(t, "No Times Found", f.run(bob, "times", str("race", "Spa")).Title)
}

func TestStatsAndPastRaces(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	assert.Equal(t, "No finished games yet!", f.run(bob, "stats").Content)
	assert.Equal(t, "No finished races yet!", f.run(bob, "pastraces").Content)

	for i := 0; i < 2; i++ {
		f.startRound(t, models.RaceDrag, alice, bob)
		started := f.run(hostUser, "gamestart")
		winners := f.click(hostUser, button(t, started, network.ActionFinishGame, "")).Reply
		require.True(t, f.click(hostUser, button(t, winners, network.ActionWinner, alice.ID)).Update)
	}

	board := f.run(bob, "stats")
	assert.Equal(t, "🏆 Leaderboard", board.Title)
	assert.Contains(t, board.Description, "🥇 <@A> - **2 wins**")

	stats := f.run(bob, "stats", user("player", alice))
	assert.Equal(t, "📊 Stats for A", stats.Title)
	assert.Contains(t, stats.Fields, network.Field{Name: "Win Rate", Value: "100.0%", Inline: true})

	// the pager belongs to whoever ran the command
	assert.Equal(t, "This isn't your stats view!", f.click(alice, button(t, stats, network.ActionStatsNext, "")).Reply.Content)
	paged := f.click(bob, button(t, stats, network.ActionStatsNext, ""))
	require.True(t, paged.Update)
	assert.Contains(t, paged.Reply.Fields, network.Field{Name: "\u200b", Value: "**Race 2 of 2**"})

	assert.Equal(t, "<@C> hasn't played any games yet!", f.run(bob, "stats", user("player", carol)).Content)

	past := f.run(bob, "pastraces", num("limit", 100))
	assert.Equal(t, "Showing 2 most recent races", past.Footer)
}

func TestMalformedClick(t *testing.T) {
	f := newFixture(t, time.Minute, time.Hour)
	msg := f.click(alice, "garbage")
	assert.True(t, msg.Reply.Ephemeral)
	assert.Equal(t, "Unknown button.", msg.Reply.Content)
	assert.Equal(t, 0, f.metrics.failures)
}
