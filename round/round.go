// Package round owns the round lifecycle: pending -> active -> finished.
// It is the only writer of a round's status and winner.
package round

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/wfunc/racebot/catalog"
	"github.com/wfunc/racebot/events"
	"github.com/wfunc/racebot/logger"
	"github.com/wfunc/racebot/models"
	"github.com/wfunc/racebot/persistence"
	"github.com/wfunc/racebot/state"
)

const (
	MinPlayers = 2
	MaxPlayers = 8
)

// Transitions is the round status table; nothing leaves finished.
var Transitions = state.NewTable[models.RoundStatus]().
	Allow(models.StatusPending, models.StatusActive).
	Allow(models.StatusActive, models.StatusFinished)

// Spec fully describes a round to create.
type Spec struct {
	Class         string
	Band          catalog.Band
	RaceType      models.RaceType
	Year          *int
	RestrictClass bool
	Players       []models.Player
	CreatedBy     string
}

// Request is what a player asks for; Draft fills in the random parts.
type Request struct {
	RaceType      models.RaceType
	Year          *int
	RestrictClass bool
	Players       []models.Player
	CreatedBy     string
}

// Snapshot is a round together with its players and car choices.
type Snapshot struct {
	Round      models.Round      `json:"round"`
	Players    []models.Player   `json:"players"`
	CarChoices map[string]string `json:"car_choices"`
	// AllChosen is display-only; starting never waits on it.
	AllChosen bool `json:"all_chosen"`
}

// ForceResult reports one round closed by ForceFinish.
type ForceResult struct {
	Round  models.Round  `json:"round"`
	Winner models.Player `json:"winner"`
}

type Option func(*Engine)

// WithRand fixes the random source (tests).
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine 回合生命周期引擎
type Engine struct {
	store   persistence.Store
	catalog *catalog.Catalog
	events  events.Publisher

	mutex sync.Mutex // serializes lifecycle mutations
	focus string

	rngMutex sync.Mutex
	rng      *rand.Rand
	now      func() time.Time
}

func NewEngine(store persistence.Store, cat *catalog.Catalog, pub events.Publisher, opts ...Option) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	if cat == nil {
		cat = catalog.New(nil)
	}
	e := &Engine{
		store:   store,
		catalog: cat,
		events:  pub,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(time.Now().Unix()))),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) intN(n int) int {
	e.rngMutex.Lock()
	defer e.rngMutex.Unlock()
	return e.rng.IntN(n)
}

func (e *Engine) withRand(fn func(rng *rand.Rand)) {
	e.rngMutex.Lock()
	defer e.rngMutex.Unlock()
	fn(e.rng)
}

func (e *Engine) publish(ev events.RoundEvent) {
	ev.At = e.now()
	if err := e.events.Publish(ev); err != nil {
		logger.Log.Warnf("round %s: publish %s: %v", ev.RoundID, ev.Kind, err)
	}
}

// Draft turns a request into a Spec. The class is always drawn at random;
// RestrictClass narrows the value band to that class's bracket.
func (e *Engine) Draft(req Request) (Spec, error) {
	spec := Spec{
		RaceType:      req.RaceType,
		Year:          req.Year,
		RestrictClass: req.RestrictClass,
		Players:       req.Players,
		CreatedBy:     req.CreatedBy,
		Band:          catalog.FullBand,
	}
	if spec.RaceType != "" && !spec.RaceType.Valid() {
		return spec, fmt.Errorf("%w: %s", ErrInvalidRaceType, spec.RaceType)
	}
	e.withRand(func(rng *rand.Rand) {
		class := catalog.RandomClass(rng)
		spec.Class = class.Label
		if req.RestrictClass {
			spec.Band = class.Band
		}
		if spec.RaceType == "" {
			spec.RaceType = models.SingleRaceTypes[rng.IntN(len(models.SingleRaceTypes))]
		}
	})
	return spec, nil
}

// Create persists a pending round and moves the focus to it.
func (e *Engine) Create(ctx context.Context, spec Spec) (*Snapshot, error) {
	players := lo.UniqBy(spec.Players, func(p models.Player) string { return p.ID })
	if len(players) < MinPlayers || len(players) > MaxPlayers {
		return nil, fmt.Errorf("%w (got %d)", ErrPlayerCount, len(players))
	}
	if !spec.RaceType.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRaceType, spec.RaceType)
	}

	var value int
	e.withRand(func(rng *rand.Rand) { value = spec.Band.Draw(rng) })

	round := models.Round{
		ID:            uuid.NewString(),
		Class:         spec.Class,
		Value:         value,
		RaceType:      spec.RaceType,
		Year:          spec.Year,
		RestrictClass: spec.RestrictClass,
		Status:        models.StatusPending,
		CreatedBy:     spec.CreatedBy,
		CreatedAt:     e.now(),
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	for _, p := range players {
		if err := e.store.UpsertPlayer(ctx, p); err != nil {
			return nil, fmt.Errorf("upsert player %s: %w", p.ID, err)
		}
	}
	if err := e.store.CreateRound(ctx, round); err != nil {
		return nil, fmt.Errorf("create round: %w", err)
	}
	for _, p := range players {
		if err := e.store.BindPlayerToRound(ctx, round.ID, p.ID); err != nil {
			// never leave a half-bound pending round behind for Start to pick up
			if derr := e.store.DeleteRound(ctx, round.ID); derr != nil {
				logger.Log.Errorf("round %s: discard after failed bind: %v", round.ID, derr)
			}
			return nil, fmt.Errorf("bind player %s: %w", p.ID, err)
		}
	}
	e.focus = round.ID

	logger.Log.Infof("round %s created by %s: class=%s value=%d type=%s players=%d",
		round.ID, round.CreatedBy, round.Class, round.Value, round.RaceType, len(players))
	e.publish(events.RoundEvent{Kind: events.RoundCreated, RoundID: round.ID, Actor: round.CreatedBy})

	return &Snapshot{Round: round, Players: players, CarChoices: map[string]string{}}, nil
}

// focused returns the focused round when its status is one of statuses,
// falling back to the newest such round in the store.
func (e *Engine) focused(ctx context.Context, statuses ...models.RoundStatus) (*models.Round, error) {
	if e.focus != "" {
		r, err := e.store.GetRound(ctx, e.focus)
		if err == nil && lo.Contains(statuses, r.Status) {
			return r, nil
		}
		if err != nil && !errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, err
		}
	}
	r, err := e.store.GetMostRecentRoundByStatus(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (e *Engine) snapshot(ctx context.Context, r models.Round) (*Snapshot, error) {
	players, err := e.store.ListPlayersForRound(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	choices, err := e.store.GetCarChoicesForRound(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Round:      r,
		Players:    players,
		CarChoices: choices,
		AllChosen:  lo.EveryBy(players, func(p models.Player) bool { _, ok := choices[p.ID]; return ok }),
	}, nil
}

// Start locks the most recent pending round to active. Series rounds get a
// zero score row per player.
func (e *Engine) Start(ctx context.Context, actor string) (*Snapshot, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	r, err := e.focused(ctx, models.StatusPending)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, ErrNoPendingRound
	}
	if err != nil {
		return nil, err
	}

	snap, err := e.snapshot(ctx, *r)
	if err != nil {
		return nil, err
	}
	if len(snap.Players) == 0 {
		return nil, ErrNoPlayers
	}
	if err := Transitions.Check(r.Status, models.StatusActive); err != nil {
		return nil, err
	}

	if r.IsSeries() {
		for _, p := range snap.Players {
			if err := e.store.UpsertScore(ctx, r.ID, p.ID, 0); err != nil {
				return nil, fmt.Errorf("init score: %w", err)
			}
		}
	}
	if err := e.store.SetRoundStatus(ctx, r.ID, models.StatusActive); err != nil {
		return nil, fmt.Errorf("activate round: %w", err)
	}
	snap.Round.Status = models.StatusActive
	e.focus = r.ID

	logger.Log.Infof("round %s started by %s", r.ID, actor)
	e.publish(events.RoundEvent{Kind: events.RoundStarted, RoundID: r.ID, Actor: actor, RaceType: string(r.RaceType)})
	return snap, nil
}

// Finish records the winner of an active round. Only the creator may finish.
func (e *Engine) Finish(ctx context.Context, roundID, winnerID, actor string) (*models.Round, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	r, err := e.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if actor != r.CreatedBy {
		return nil, ErrUnauthorized
	}
	if r.Status == models.StatusFinished {
		return nil, ErrRoundFinished
	}
	if err := Transitions.Check(r.Status, models.StatusFinished); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoActiveRound, err)
	}

	players, err := e.store.ListPlayersForRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if !lo.ContainsBy(players, func(p models.Player) bool { return p.ID == winnerID }) {
		return nil, ErrPlayerNotInRound
	}

	if err := e.close(ctx, r, winnerID); err != nil {
		return nil, err
	}
	logger.Log.Infof("round %s finished by %s, winner %s", r.ID, actor, winnerID)
	e.publish(events.RoundEvent{Kind: events.RoundFinished, RoundID: r.ID, Actor: actor, WinnerID: winnerID})
	return r, nil
}

// close writes winner and finished status. Caller holds e.mutex.
func (e *Engine) close(ctx context.Context, r *models.Round, winnerID string) error {
	if err := e.store.SetRoundWinner(ctx, r.ID, winnerID); err != nil {
		return fmt.Errorf("set winner: %w", err)
	}
	if err := e.store.SetRoundStatus(ctx, r.ID, models.StatusFinished); err != nil {
		return fmt.Errorf("finish round: %w", err)
	}
	r.WinnerID = winnerID
	r.Status = models.StatusFinished
	if e.focus == r.ID {
		e.focus = ""
	}
	return nil
}

// ForceFinish closes every pending or active round that has players with a
// random winner. Rounds without players are left alone.
func (e *Engine) ForceFinish(ctx context.Context, actor string) ([]ForceResult, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var results []ForceResult
	for _, status := range []models.RoundStatus{models.StatusPending, models.StatusActive} {
		rounds, err := e.store.ListRoundsByStatus(ctx, status)
		if err != nil {
			return results, err
		}
		for _, r := range rounds {
			players, err := e.store.ListPlayersForRound(ctx, r.ID)
			if err != nil {
				return results, err
			}
			if len(players) == 0 {
				continue
			}
			winner := players[e.intN(len(players))]

			if r.Status == models.StatusPending {
				if err := e.store.SetRoundStatus(ctx, r.ID, models.StatusActive); err != nil {
					return results, err
				}
				r.Status = models.StatusActive
			}
			if err := Transitions.Check(r.Status, models.StatusFinished); err != nil {
				return results, err
			}
			if err := e.close(ctx, &r, winner.ID); err != nil {
				return results, err
			}
			results = append(results, ForceResult{Round: r, Winner: winner})
			e.publish(events.RoundEvent{Kind: events.RoundFinished, RoundID: r.ID, Actor: actor, WinnerID: winner.ID})
		}
	}
	logger.Log.Infof("force finish by %s closed %d round(s)", actor, len(results))
	return results, nil
}

// Current returns the focused pending or active round.
func (e *Engine) Current(ctx context.Context) (*Snapshot, error) {
	e.mutex.Lock()
	r, err := e.focused(ctx, models.StatusPending, models.StatusActive)
	e.mutex.Unlock()
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, ErrNoRound
	}
	if err != nil {
		return nil, err
	}
	return e.snapshot(ctx, *r)
}

// Snapshot loads a round by id with its players and car choices.
func (e *Engine) Snapshot(ctx context.Context, roundID string) (*Snapshot, error) {
	r, err := e.store.GetRound(ctx, roundID)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, ErrNoRound
	}
	if err != nil {
		return nil, err
	}
	return e.snapshot(ctx, *r)
}

// ChooseCar binds car to player in the current round, replacing any earlier choice.
func (e *Engine) ChooseCar(ctx context.Context, player models.Player, car string) (*models.CarChoice, *models.Round, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	r, err := e.focused(ctx, models.StatusPending, models.StatusActive)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, nil, ErrNoRound
	}
	if err != nil {
		return nil, nil, err
	}
	players, err := e.store.ListPlayersForRound(ctx, r.ID)
	if err != nil {
		return nil, nil, err
	}
	if !lo.ContainsBy(players, func(p models.Player) bool { return p.ID == player.ID }) {
		return nil, r, ErrPlayerNotInRound
	}

	choice := models.CarChoice{RoundID: r.ID, PlayerID: player.ID, CarName: car, ChosenAt: e.now()}
	if err := e.store.ReplaceCarChoice(ctx, choice); err != nil {
		return nil, r, fmt.Errorf("save car choice: %w", err)
	}
	e.publish(events.RoundEvent{Kind: events.CarChosen, RoundID: r.ID, Actor: player.ID})
	return &choice, r, nil
}

// RandomCar picks a catalog car within the current round's budget for player.
func (e *Engine) RandomCar(ctx context.Context, player models.Player) (*models.CarChoice, *models.Round, error) {
	snap, err := e.Current(ctx)
	if err != nil {
		return nil, nil, err
	}
	var (
		car catalog.Car
		ok  bool
	)
	e.withRand(func(rng *rand.Rand) { car, ok = e.catalog.Random(rng, snap.Round.Value) })
	if !ok {
		return nil, &snap.Round, ErrNoCarInBudget
	}
	return e.ChooseCar(ctx, player, car.Name)
}

// Catalog exposes the car catalog the engine samples from.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }
