// Package interaction turns chat commands and button clicks into engine
// calls. It owns control-surface ownership and serialization; every
// outcome, including failures, becomes a reply.
package interaction

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/racebot/catalog"
	"github.com/wfunc/racebot/logger"
	"github.com/wfunc/racebot/network"
	"github.com/wfunc/racebot/persistence"
	"github.com/wfunc/racebot/round"
	"github.com/wfunc/racebot/series"
	"github.com/wfunc/racebot/services"
	"github.com/wfunc/racebot/session"
)

// 颜色
const (
	colorRed    = 0xff0000
	colorGreen  = 0x00ff00
	colorOrange = 0xff9900
	colorAmber  = 0xffaa00
	colorBlue   = 0x3498db
	colorPurple = 0x9b59b6
	colorGold   = 0xffd700
)

// ImageLookup finds a picture for a car; "" when there is none.
type ImageLookup interface {
	Find(ctx context.Context, carName string) string
}

// Recorder receives one observation per handled command or click, plus
// one per unexpected failure.
type Recorder interface {
	ObserveCommand(name string, rejected bool, took time.Duration)
	ObserveClick(kind string, rejected bool, took time.Duration)
	IncFailures()
}

type nopRecorder struct{}

func (nopRecorder) ObserveCommand(string, bool, time.Duration) {}
func (nopRecorder) ObserveClick(string, bool, time.Duration)   {}
func (nopRecorder) IncFailures()                               {}

type noImages struct{}

func (noImages) Find(context.Context, string) string { return "" }

// Deps are the collaborators of a Gatekeeper.
type Deps struct {
	Store    persistence.Store
	Rounds   *round.Engine
	Series   *series.Engine
	Sessions *session.Manager
	Stats    *services.StatsService
	Images   ImageLookup
	Icons    catalog.Icons
	Metrics  Recorder
}

type Gatekeeper struct {
	store    persistence.Store
	rounds   *round.Engine
	series   *series.Engine
	sessions *session.Manager
	stats    *services.StatsService
	catalog  *catalog.Catalog
	images   ImageLookup
	icons    catalog.Icons
	metrics  Recorder

	push func(network.SurfaceUpdate)
}

func New(deps Deps) *Gatekeeper {
	g := &Gatekeeper{
		store:    deps.Store,
		rounds:   deps.Rounds,
		series:   deps.Series,
		sessions: deps.Sessions,
		stats:    deps.Stats,
		catalog:  deps.Rounds.Catalog(),
		images:   deps.Images,
		icons:    deps.Icons,
		metrics:  deps.Metrics,
		push:     func(network.SurfaceUpdate) {},
	}
	if g.images == nil {
		g.images = noImages{}
	}
	if g.metrics == nil {
		g.metrics = nopRecorder{}
	}
	if g.stats == nil {
		g.stats = services.NewStatsService(deps.Store, deps.Rounds, deps.Series)
	}
	g.sessions.OnExpire(g.expired)
	return g
}

// SetPusher sets where out-of-band surface updates (timeouts) are sent.
func (g *Gatekeeper) SetPusher(fn func(network.SurfaceUpdate)) {
	g.push = fn
}

type commandFunc func(g *Gatekeeper, ctx context.Context, cmd network.Command) network.Reply

var commands = map[string]commandFunc{
	"ping":         (*Gatekeeper).ping,
	"forza":        (*Gatekeeper).forza,
	"searchcar":    (*Gatekeeper).searchCar,
	"choosecar":    (*Gatekeeper).chooseCar,
	"startround":   (*Gatekeeper).startRound,
	"gamestart":    (*Gatekeeper).gameStart,
	"resetround":   (*Gatekeeper).resetRound,
	"stats":        (*Gatekeeper).statsCommand,
	"pastraces":    (*Gatekeeper).pastRaces,
	"addrace":      (*Gatekeeper).addRace,
	"listrace":     (*Gatekeeper).listRace,
	"registertime": (*Gatekeeper).registerTime,
	"removetime":   (*Gatekeeper).removeTime,
	"times":        (*Gatekeeper).times,
}

// Commands lists the registered command names.
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	return names
}

// HandleCommand runs one chat command. It never fails; errors become replies.
func (g *Gatekeeper) HandleCommand(ctx context.Context, cmd network.Command) network.ReplyMessage {
	start := time.Now()
	handler, ok := commands[cmd.Name]
	var reply network.Reply
	if !ok {
		reply = network.Text("Unknown command.", true)
	} else {
		reply = handler(g, ctx, cmd)
	}
	g.metrics.ObserveCommand(cmd.Name, reply.Ephemeral, time.Since(start))
	return network.ReplyMessage{InteractionID: cmd.InteractionID, Reply: reply}
}

// HandleClick runs one button click. Clicks on one surface are serialized.
func (g *Gatekeeper) HandleClick(ctx context.Context, in network.Interaction) network.ReplyMessage {
	start := time.Now()
	msg := network.ReplyMessage{InteractionID: in.InteractionID}

	action, err := network.DecodeAction(in.CustomID)
	if err != nil {
		msg.Reply = g.fail(err)
		g.metrics.ObserveClick("unknown", true, time.Since(start))
		return msg
	}

	msg.Reply, msg.Update = g.click(ctx, in, action)
	if msg.Update {
		msg.Reply.SurfaceID = action.SurfaceID
	}
	g.metrics.ObserveClick(string(action.Kind), msg.Reply.Ephemeral, time.Since(start))
	return msg
}

func (g *Gatekeeper) click(ctx context.Context, in network.Interaction, a network.Action) (network.Reply, bool) {
	s, err := g.sessions.Accept(a.SurfaceID, in.User.ID)
	if errors.Is(err, session.ErrNotOwner) {
		if s.Kind == session.KindGameControl {
			return network.Text("Only the person who started this round can finish it!", true), false
		}
		return network.Text(notYours[s.Kind], true), false
	}
	if err != nil {
		return g.fail(err), false
	}

	var (
		reply  network.Reply
		update bool
	)
	err = s.Do(func() error {
		switch s.Kind {
		case session.KindCarPicker:
			reply, update = g.carClick(ctx, s, in, a)
		case session.KindTimePicker:
			reply, update = g.timeClick(ctx, s, in, a)
		case session.KindStatsPager:
			reply, update = g.statsClick(ctx, s, a)
		case session.KindGameControl:
			reply, update = g.gameClick(ctx, s, in, a)
		}
		return nil
	})
	if err != nil {
		return g.fail(err), false
	}
	return reply, update
}

var notYours = map[session.Kind]string{
	session.KindCarPicker:  "This isn't your car selection!",
	session.KindTimePicker: "This isn't your time registration!",
	session.KindStatsPager: "This isn't your stats view!",
}

// expired replaces a timed-out surface with its terminal presentation.
func (g *Gatekeeper) expired(s *session.Session) {
	var reply network.Reply
	switch s.Kind {
	case session.KindCarPicker:
		reply = network.Card("Selection Timed Out", "You took too long to select a car.", colorOrange)
	case session.KindTimePicker:
		if p, ok := s.Get(keyTimePicker).(*timePicker); ok && p.remove {
			reply = network.Card("Removal Timed Out", "You took too long to remove a time.", colorOrange)
		} else {
			reply = network.Card("Registration Timed Out", "You took too long to register a time.", colorOrange)
		}
	case session.KindStatsPager:
		reply = network.Card("Stats Timed Out", "This stats view has expired.", colorOrange)
	case session.KindGameControl:
		reply = network.Card("Game Controls Timed Out",
			"The finish controls expired. The round creator can reopen them with /gamestart.", colorOrange)
		g.series.Forget(s.RoundID)
	}
	reply.SurfaceID = s.ID
	g.push(network.SurfaceUpdate{SurfaceID: s.ID, Reply: reply})
}

// rejections maps expected errors to what the actor is told. Order matters:
// wrapped errors list their most specific cause first.
var rejections = []struct {
	err error
	msg string
}{
	{round.ErrRoundFinished, "This round is already finished."},
	{round.ErrUnauthorized, "Only the person who started this round can do that!"},
	{session.ErrNotOwner, "This control belongs to someone else."},
	{session.ErrSessionNotFound, "This control has expired."},
	{session.ErrSessionClosed, "This control has expired."},
	{session.ErrSessionOpen, "The finish controls for this round are already open."},
	{round.ErrNoPendingRound, "No pending round found. Please start a round first with `/startround`."},
	{round.ErrNoActiveRound, "No active round found."},
	{round.ErrNoRound, "No active round found. Please start a round first."},
	{round.ErrNoPlayers, "No players found for this round."},
	{round.ErrPlayerNotInRound, "That player is not part of this round."},
	{round.ErrPlayerCount, "A round needs between 2 and 8 players."},
	{round.ErrNoCarInBudget, "No cars available within this round's budget."},
	{round.ErrInvalidRaceType, "Unknown race type."},
	{series.ErrNotInPool, "That player has already been placed in this race."},
	{series.ErrStaleAction, "That race is no longer current."},
	{series.ErrWrongPhase, "That action is not available right now."},
	{series.ErrRunNotFound, "No series in progress for this round."},
	{series.ErrRoundPending, "This round has not started yet."},
	{network.ErrMalformedAction, "Unknown button."},
	{network.ErrActionTooLong, "Unknown button."},
}

// fail turns err into an ephemeral reply. Unexpected errors are logged.
func (g *Gatekeeper) fail(err error) network.Reply {
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			return network.Reply{Content: r.msg, Ephemeral: true, Color: colorRed}
		}
	}
	logger.Log.Errorf("interaction failed: %v", err)
	g.metrics.IncFailures()
	return network.Reply{Content: "Something went wrong, please try again.", Ephemeral: true, Color: colorRed}
}

func mention(id string) string {
	return "<@" + id + ">"
}
