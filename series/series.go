// Package series scores multi-leg rounds: one leg at a time, finishing
// order picked player by player, points max(1, N-p+1), optional offroad
// tie-break leg after goliath, and a final ranking that names the winner.
package series

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
	"github.com/wfunc/racebot/events"
	"github.com/wfunc/racebot/logger"
	"github.com/wfunc/racebot/models"
	"github.com/wfunc/racebot/persistence"
	"github.com/wfunc/racebot/round"
	"github.com/wfunc/racebot/state"
)

var (
	ErrNotInPool    = errors.New("player already placed in this race")
	ErrStaleAction  = errors.New("that race is no longer current")
	ErrWrongPhase   = errors.New("action not allowed right now")
	ErrNotSeries    = errors.New("round is not a series round")
	ErrRunNotFound  = errors.New("no series in progress for this round")
	ErrRoundPending = errors.New("series round has not started")
)

// DefaultLegs is the leg order of every series round.
var DefaultLegs = []models.RaceType{models.RaceDrag, models.RaceCircuit, models.RaceRally, models.RaceGoliath}

type Phase string

const (
	// PhasePicking: finishers of the current leg are being picked.
	PhasePicking Phase = "picking"
	// PhaseDeciding: the leg is scored; waiting for advance or redo.
	PhaseDeciding Phase = "deciding"
	// PhaseConcluded: the round has a winner.
	PhaseConcluded Phase = "concluded"
)

var phases = state.NewTable[Phase]().
	Allow(PhasePicking, PhaseDeciding).
	Allow(PhaseDeciding, PhasePicking, PhaseConcluded)

// Points for 1-indexed position p among n finishers.
func Points(n, p int) int {
	return max(1, n-p+1)
}

// Finisher writes the terminal winner. round.Engine implements it.
type Finisher interface {
	Finish(ctx context.Context, roundID, winnerID, actor string) (*models.Round, error)
}

// Standing is one row of the series table.
type Standing struct {
	Player models.Player `json:"player"`
	Points int           `json:"points"`
	Rank   int           `json:"rank"`
}

// View is a read-only copy of a run.
type View struct {
	RoundID    string              `json:"round_id"`
	Phase      Phase               `json:"phase"`
	Legs       []models.RaceType   `json:"legs"`
	Index      int                 `json:"index"`
	Placements []models.Player     `json:"placements"`
	Remaining  []models.Player     `json:"remaining"`
	Standings  []Standing          `json:"standings"`
	Results    []models.RaceResult `json:"results"`
	Winner     *models.Player      `json:"winner,omitempty"`
	Extended   bool                `json:"extended"`
	// LastLeg is the stored result of the current leg, if it is scored.
	LastLeg *models.RaceResult `json:"-"`
}

// Run is the in-memory state of one series round.
type Run struct {
	RoundID string
	Creator string
	Players []models.Player
	Legs    []models.RaceType
	Index   int
	Totals  map[string]int
	Results map[int]models.RaceResult

	Placements []string
	Remaining  []string
	Winner     string

	offroad bool
	phase   *state.Machine[Phase]
	mutex   sync.Mutex
}

// Engine 系列赛计分引擎
type Engine struct {
	store  persistence.ScoreStore
	rounds Finisher
	events events.Publisher

	mutex sync.Mutex
	runs  map[string]*Run
}

func NewEngine(store persistence.ScoreStore, rounds Finisher, pub events.Publisher) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{store: store, rounds: rounds, events: pub, runs: make(map[string]*Run)}
}

// Begin opens (or returns) the run for an active series round. Stored
// scores and results are loaded, so a run survives a restart.
func (e *Engine) Begin(ctx context.Context, snap round.Snapshot) (*Run, error) {
	if !snap.Round.IsSeries() {
		return nil, ErrNotSeries
	}
	switch snap.Round.Status {
	case models.StatusPending:
		return nil, ErrRoundPending
	case models.StatusFinished:
		return nil, round.ErrRoundFinished
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if run, ok := e.runs[snap.Round.ID]; ok {
		return run, nil
	}

	run, err := e.load(ctx, snap)
	if err != nil {
		return nil, err
	}
	e.runs[run.RoundID] = run
	logger.Log.Infof("series %s: run open at leg %d/%d", run.RoundID, run.Index+1, len(run.Legs))
	return run, nil
}

// load rebuilds a run from the stored scores and results.
func (e *Engine) load(ctx context.Context, snap round.Snapshot) (*Run, error) {
	totals, err := e.store.GetScores(ctx, snap.Round.ID)
	if err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	stored, err := e.store.ListRaceResults(ctx, snap.Round.ID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}

	run := &Run{
		RoundID: snap.Round.ID,
		Creator: snap.Round.CreatedBy,
		Players: snap.Players,
		Legs:    append([]models.RaceType(nil), DefaultLegs...),
		Totals:  make(map[string]int, len(snap.Players)),
		Results: make(map[int]models.RaceResult),
		phase:   state.NewMachine(phases, PhasePicking),
	}
	for _, p := range snap.Players {
		run.Totals[p.ID] = totals[p.ID]
	}
	for _, r := range stored {
		run.Results[r.RaceIndex] = r
		if r.RaceIndex >= len(run.Legs) {
			run.Legs = append(run.Legs, r.RaceType)
		}
	}
	run.offroad = lo.Contains(run.Legs, models.RaceOffroad)
	// the extension is stored, so a later goliath redo that breaks the tie keeps it
	if snap.Round.Extended && !run.offroad {
		run.Legs = append(run.Legs, models.RaceOffroad)
		run.offroad = true
	}

	// resume at the newest scored leg, still open for redo or advance
	if last, ok := run.lastCompleted(); ok {
		run.Index = last.RaceIndex
	}
	run.resetPool()
	if result, done := run.Results[run.Index]; done {
		run.Placements = lo.Map(result.Placements, func(p models.Placement, _ int) string { return p.PlayerID })
		run.Remaining = nil
		run.phase.ChangeState(PhaseDeciding)
	}
	return run, nil
}

// Run returns the open run for roundID.
func (e *Engine) Run(roundID string) (*Run, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	run, ok := e.runs[roundID]
	return run, ok
}

// Forget drops a run from memory.
func (e *Engine) Forget(roundID string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	delete(e.runs, roundID)
}

func (e *Engine) lookup(roundID, actor string) (*Run, error) {
	run, ok := e.Run(roundID)
	if !ok {
		return nil, ErrRunNotFound
	}
	if actor != run.Creator {
		return nil, round.ErrUnauthorized
	}
	return run, nil
}

func (e *Engine) publish(ev events.RoundEvent) {
	if err := e.events.Publish(ev); err != nil {
		logger.Log.Warnf("series %s: publish %s: %v", ev.RoundID, ev.Kind, err)
	}
}

// Outcome describes what a step changed.
type Outcome struct {
	View        View
	LegComplete bool
	Extended    bool
	Concluded   bool
}

// Pick places playerID next in the current leg. When the pool empties the
// leg is scored and persisted; after the last leg the round is finished.
func (e *Engine) Pick(ctx context.Context, roundID, actor string, raceIndex int, playerID string) (*Outcome, error) {
	run, err := e.lookup(roundID, actor)
	if err != nil {
		return nil, err
	}
	run.mutex.Lock()
	defer run.mutex.Unlock()

	if err := run.expect(PhasePicking, raceIndex); err != nil {
		return nil, err
	}
	if !lo.Contains(run.Remaining, playerID) {
		return nil, ErrNotInPool
	}

	placements := append(append([]string(nil), run.Placements...), playerID)
	remaining := lo.Without(run.Remaining, playerID)
	if len(remaining) > 0 {
		run.Placements, run.Remaining = placements, remaining
		return &Outcome{View: run.view()}, nil
	}

	// leg complete: score, persist, then commit
	result := models.RaceResult{RoundID: run.RoundID, RaceIndex: run.Index, RaceType: run.Legs[run.Index]}
	totals := lo.Assign(run.Totals)
	for i, id := range placements {
		pts := Points(len(placements), i+1)
		result.Placements = append(result.Placements, models.Placement{PlayerID: id, Position: i + 1, Points: pts})
		totals[id] += pts
	}
	extend := result.RaceType == models.RaceGoliath && !run.offroad && topTie(totals)
	if err := e.store.ReplaceRaceResult(ctx, result); err != nil {
		return nil, fmt.Errorf("save race result: %w", err)
	}
	if err := e.persistTotals(ctx, run.RoundID, totals); err != nil {
		return nil, err
	}
	if extend {
		if err := e.store.MarkSeriesExtended(ctx, run.RoundID); err != nil {
			return nil, fmt.Errorf("save tie-break leg: %w", err)
		}
	}

	run.Placements, run.Remaining = placements, nil
	run.Totals = totals
	run.Results[run.Index] = result
	if err := run.phase.ChangeState(PhaseDeciding); err != nil {
		return nil, err
	}

	out := &Outcome{LegComplete: true}
	if extend {
		run.Legs = append(run.Legs, models.RaceOffroad)
		run.offroad = true
		out.Extended = true
		e.publish(events.RoundEvent{Kind: events.SeriesExtended, RoundID: run.RoundID, RaceType: string(models.RaceOffroad)})
	}
	e.publish(events.RoundEvent{Kind: events.LegScored, RoundID: run.RoundID, Actor: actor,
		RaceIndex: result.RaceIndex, RaceType: string(result.RaceType), Totals: lo.Assign(totals)})
	logger.Log.Infof("series %s: leg %d (%s) scored %v", run.RoundID, run.Index, result.RaceType, totals)

	if run.Index == len(run.Legs)-1 {
		if err := e.conclude(ctx, run, actor); err != nil {
			// the leg stays committed; Advance retries the finish
			logger.Log.Errorf("series %s: finish failed: %v", run.RoundID, err)
			out.View = run.view()
			return out, err
		}
		out.Concluded = true
	}
	out.View = run.view()
	return out, nil
}

// Advance moves past a scored leg, or concludes after the last one.
func (e *Engine) Advance(ctx context.Context, roundID, actor string, raceIndex int) (*Outcome, error) {
	run, err := e.lookup(roundID, actor)
	if err != nil {
		return nil, err
	}
	run.mutex.Lock()
	defer run.mutex.Unlock()

	if err := run.expect(PhaseDeciding, raceIndex); err != nil {
		return nil, err
	}
	if run.Index == len(run.Legs)-1 {
		if err := e.conclude(ctx, run, actor); err != nil {
			return nil, err
		}
		return &Outcome{View: run.view(), Concluded: true}, nil
	}

	if err := run.phase.ChangeState(PhasePicking); err != nil {
		return nil, err
	}
	run.Index++
	run.resetPool()
	return &Outcome{View: run.view()}, nil
}

// Redo discards the current leg. A scored leg has its points taken back
// (never below zero) and its stored result deleted; an unscored leg just
// restarts from a full pool.
func (e *Engine) Redo(ctx context.Context, roundID, actor string, raceIndex int) (*Outcome, error) {
	run, err := e.lookup(roundID, actor)
	if err != nil {
		return nil, err
	}
	run.mutex.Lock()
	defer run.mutex.Unlock()

	if run.phase.Current() == PhaseConcluded {
		return nil, fmt.Errorf("%w: %w", ErrWrongPhase, round.ErrRoundFinished)
	}
	if raceIndex != run.Index {
		return nil, ErrStaleAction
	}

	result, scored := run.Results[run.Index]
	if !scored {
		run.resetPool()
		return &Outcome{View: run.view()}, nil
	}

	totals := lo.Assign(run.Totals)
	for _, p := range result.Placements {
		totals[p.PlayerID] = max(0, totals[p.PlayerID]-p.Points)
	}
	if err := e.store.DeleteRaceResult(ctx, run.RoundID, run.Index); err != nil {
		return nil, fmt.Errorf("delete race result: %w", err)
	}
	if err := e.persistTotals(ctx, run.RoundID, totals); err != nil {
		return nil, err
	}

	if run.phase.Current() == PhaseDeciding {
		if err := run.phase.ChangeState(PhasePicking); err != nil {
			return nil, err
		}
	}
	run.Totals = totals
	delete(run.Results, run.Index)
	run.resetPool()

	e.publish(events.RoundEvent{Kind: events.LegRedone, RoundID: run.RoundID, Actor: actor,
		RaceIndex: run.Index, RaceType: string(result.RaceType), Totals: lo.Assign(totals)})
	return &Outcome{View: run.view()}, nil
}

// View returns a copy of the run for display.
func (e *Engine) View(roundID string) (View, bool) {
	run, ok := e.Run(roundID)
	if !ok {
		return View{}, false
	}
	run.mutex.Lock()
	defer run.mutex.Unlock()
	return run.view(), true
}

// StoredView returns the live view of a series round. Without a run in
// memory (control not opened yet, or expired) it is rebuilt from the store.
func (e *Engine) StoredView(ctx context.Context, snap round.Snapshot) (View, error) {
	if !snap.Round.IsSeries() {
		return View{}, ErrNotSeries
	}
	if view, ok := e.View(snap.Round.ID); ok {
		return view, nil
	}
	run, err := e.load(ctx, snap)
	if err != nil {
		return View{}, err
	}
	return run.view(), nil
}

func (e *Engine) persistTotals(ctx context.Context, roundID string, totals map[string]int) error {
	ids := lo.Keys(totals)
	sort.Strings(ids)
	for _, id := range ids {
		if err := e.store.UpsertScore(ctx, roundID, id, totals[id]); err != nil {
			return fmt.Errorf("save score: %w", err)
		}
	}
	return nil
}

// conclude ranks the run and writes the winner. Caller holds run.mutex.
func (e *Engine) conclude(ctx context.Context, run *Run, actor string) error {
	standings := run.standings()
	if len(standings) == 0 {
		return round.ErrNoPlayers
	}
	winner := standings[0].Player.ID
	if _, err := e.rounds.Finish(ctx, run.RoundID, winner, actor); err != nil {
		return err
	}
	if err := run.phase.ChangeState(PhaseConcluded); err != nil {
		return err
	}
	run.Winner = winner
	logger.Log.Infof("series %s: concluded, winner %s", run.RoundID, winner)
	return nil
}

func (r *Run) expect(phase Phase, raceIndex int) error {
	current := r.phase.Current()
	if current == PhaseConcluded {
		return fmt.Errorf("%w: %w", ErrWrongPhase, round.ErrRoundFinished)
	}
	if raceIndex != r.Index {
		return ErrStaleAction
	}
	if current != phase {
		return ErrWrongPhase
	}
	return nil
}

func (r *Run) resetPool() {
	r.Placements = nil
	r.Remaining = lo.Map(r.Players, func(p models.Player, _ int) string { return p.ID })
}

// Phase is the run's current phase.
func (r *Run) Phase() Phase { return r.phase.Current() }

func topTie(totals map[string]int) bool {
	best, count := -1, 0
	for _, pts := range totals {
		switch {
		case pts > best:
			best, count = pts, 1
		case pts == best:
			count++
		}
	}
	return count >= 2
}

// lastCompleted is the highest-index stored result.
func (r *Run) lastCompleted() (models.RaceResult, bool) {
	idx := -1
	for i := range r.Results {
		if i > idx {
			idx = i
		}
	}
	if idx < 0 {
		return models.RaceResult{}, false
	}
	return r.Results[idx], true
}

// standings ranks by points, then finishing position in the most recently
// completed leg, then display name.
func (r *Run) standings() []Standing {
	position := map[string]int{}
	if last, ok := r.lastCompleted(); ok {
		for _, p := range last.Placements {
			position[p.PlayerID] = p.Position
		}
	}
	pos := func(id string) int {
		if p, ok := position[id]; ok {
			return p
		}
		return len(r.Players) + 1
	}

	rows := lo.Map(r.Players, func(p models.Player, _ int) Standing {
		return Standing{Player: p, Points: r.Totals[p.ID]}
	})
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if pos(a.Player.ID) != pos(b.Player.ID) {
			return pos(a.Player.ID) < pos(b.Player.ID)
		}
		if a.Player.Name() != b.Player.Name() {
			return a.Player.Name() < b.Player.Name()
		}
		return a.Player.ID < b.Player.ID
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}

func (r *Run) view() View {
	byID := lo.SliceToMap(r.Players, func(p models.Player) (string, models.Player) { return p.ID, p })
	toPlayers := func(ids []string) []models.Player {
		return lo.Map(ids, func(id string, _ int) models.Player { return byID[id] })
	}

	results := lo.Values(r.Results)
	sort.Slice(results, func(i, j int) bool { return results[i].RaceIndex < results[j].RaceIndex })

	v := View{
		RoundID:    r.RoundID,
		Phase:      r.phase.Current(),
		Legs:       append([]models.RaceType(nil), r.Legs...),
		Index:      r.Index,
		Placements: toPlayers(r.Placements),
		Remaining:  toPlayers(r.Remaining),
		Standings:  r.standings(),
		Results:    results,
		Extended:   r.offroad,
	}
	if last, ok := r.Results[r.Index]; ok {
		v.LastLeg = &last
	}
	if r.Winner != "" {
		w := byID[r.Winner]
		v.Winner = &w
	}
	return v
}

// Leg returns the race type of the current leg.
func (v View) Leg() models.RaceType {
	if v.Index < len(v.Legs) {
		return v.Legs[v.Index]
	}
	return ""
}

// IsLastLeg reports whether the current leg is the final one.
func (v View) IsLastLeg() bool { return v.Index == len(v.Legs)-1 }
