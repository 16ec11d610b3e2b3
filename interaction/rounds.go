package interaction

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/wfunc/racebot/catalog"
	"github.com/wfunc/racebot/models"
	"github.com/wfunc/racebot/network"
	"github.com/wfunc/racebot/round"
	"github.com/wfunc/racebot/series"
	"github.com/wfunc/racebot/session"
)

func (g *Gatekeeper) ping(ctx context.Context, cmd network.Command) network.Reply {
	return network.Text("Pong!", false)
}

func (g *Gatekeeper) forza(ctx context.Context, cmd network.Command) network.Reply {
	return network.Text("Forza", false)
}

// startRound reads player1..player8 plus race_type, year and restrict_class.
func (g *Gatekeeper) startRound(ctx context.Context, cmd network.Command) network.Reply {
	req := round.Request{CreatedBy: cmd.User.ID}
	for i := 1; i <= round.MaxPlayers; i++ {
		if p, ok := cmd.Player("player" + strconv.Itoa(i)); ok {
			req.Players = append(req.Players, p)
		}
	}
	if rt, ok := cmd.String("race_type"); ok {
		req.RaceType = models.RaceType(strings.ToLower(rt))
	}
	if year, ok := cmd.Int("year"); ok {
		req.Year = &year
	}
	req.RestrictClass, _ = cmd.Bool("restrict_class")

	spec, err := g.rounds.Draft(req)
	if err != nil {
		return g.fail(err)
	}
	snap, err := g.rounds.Create(ctx, spec)
	if err != nil {
		return g.fail(err)
	}

	r := snap.Round
	reply := g.roundCard("Forza Round", r, catalog.ClassColor(r.Class))
	reply = reply.AddField("Players", strings.Join(lo.Map(snap.Players, func(p models.Player, _ int) string {
		return mention(p.ID)
	}), "\n"), false)
	reply.Image = g.icons.For(string(r.RaceType))
	return reply
}

// roundCard renders the class/value/type/year header shared by round replies.
func (g *Gatekeeper) roundCard(title string, r models.Round, color int) network.Reply {
	reply := network.Card(title, "", color).
		AddField("Class", r.Class, true).
		AddField("Value", catalog.FormatMoney(r.Value), true).
		AddField("Race Type", string(r.RaceType), true)
	if r.Year != nil {
		reply = reply.AddField("Year", strconv.Itoa(*r.Year), true)
	}
	reply.Footer = "Round ID: " + r.ID
	return reply
}

// gameStart activates the pending round and opens its finish control. With
// no pending round, the creator of the focused active round gets its
// control back when the previous one timed out.
func (g *Gatekeeper) gameStart(ctx context.Context, cmd network.Command) network.Reply {
	snap, err := g.rounds.Start(ctx, cmd.User.ID)
	if errors.Is(err, round.ErrNoPendingRound) {
		return g.reopenControl(ctx, cmd.User.ID)
	}
	if err != nil {
		return g.fail(err)
	}

	color := colorGreen
	if !snap.AllChosen {
		color = colorAmber
	}
	reply := g.roundCard("🏁 Game Starting!", snap.Round, color)
	if !snap.AllChosen {
		reply.Description = "⚠️ Warning: Not all players have selected a car!"
	}
	reply = reply.AddField("Players & Cars", playersAndCars(snap), false)

	s, err := g.sessions.Open(session.KindGameControl, snap.Round.CreatedBy, snap.Round.ID)
	if err != nil {
		return g.fail(err)
	}
	reply.SurfaceID = s.ID
	return reply.AddButtons(finishButton(s.ID, snap.Round.ID))
}

func (g *Gatekeeper) reopenControl(ctx context.Context, actor string) network.Reply {
	snap, err := g.rounds.Current(ctx)
	if err != nil || snap.Round.Status != models.StatusActive || snap.Round.CreatedBy != actor {
		return g.fail(round.ErrNoPendingRound)
	}
	if _, open := g.sessions.GameControl(snap.Round.ID); open {
		return g.fail(session.ErrSessionOpen)
	}
	s, err := g.sessions.Open(session.KindGameControl, actor, snap.Round.ID)
	if err != nil {
		return g.fail(err)
	}
	reply := g.roundCard("🏁 Game In Progress", snap.Round, colorBlue).
		AddField("Players & Cars", playersAndCars(snap), false)
	reply.SurfaceID = s.ID
	return reply.AddButtons(finishButton(s.ID, snap.Round.ID))
}

func playersAndCars(snap *round.Snapshot) string {
	lines := lo.Map(snap.Players, func(p models.Player, _ int) string {
		if car, ok := snap.CarChoices[p.ID]; ok {
			return fmt.Sprintf("%s - **%s**", mention(p.ID), car)
		}
		return mention(p.ID) + " - ⚠️ No car selected"
	})
	return strings.Join(lines, "\n")
}

func finishButton(surfaceID, roundID string) network.Button {
	return network.Action{Kind: network.ActionFinishGame, SurfaceID: surfaceID, RoundID: roundID}.
		Button("🏁 Finish Game", network.StylePrimary)
}

// ResetRounds force-finishes every open round with a random winner and
// drops their game controls and series runs.
func (g *Gatekeeper) ResetRounds(ctx context.Context, actor string) ([]round.ForceResult, error) {
	results, err := g.rounds.ForceFinish(ctx, actor)
	for _, res := range results {
		if s, ok := g.sessions.GameControl(res.Round.ID); ok {
			g.sessions.Close(s.ID)
		}
		g.series.Forget(res.Round.ID)
	}
	return results, err
}

func (g *Gatekeeper) resetRound(ctx context.Context, cmd network.Command) network.Reply {
	results, err := g.ResetRounds(ctx, cmd.User.ID)
	if err != nil {
		return g.fail(err)
	}
	if len(results) == 0 {
		return network.Text("No active rounds to reset.", true)
	}

	lines := lo.Map(results, func(res round.ForceResult, _ int) string {
		return fmt.Sprintf("`%s` %s %s: winner %s", res.Round.ID, res.Round.Class, res.Round.RaceType, mention(res.Winner.ID))
	})
	return network.Card("🔄 Rounds Reset", strings.Join(lines, "\n"), colorOrange)
}

// gameClick handles the finish control: open finish flow, declare a
// winner, or drive the series pick loop.
func (g *Gatekeeper) gameClick(ctx context.Context, s *session.Session, in network.Interaction, a network.Action) (network.Reply, bool) {
	if a.RoundID != s.RoundID {
		return g.fail(series.ErrStaleAction), false
	}
	actor := in.User.ID

	switch a.Kind {
	case network.ActionFinishGame:
		snap, err := g.rounds.Snapshot(ctx, s.RoundID)
		if err != nil {
			return g.fail(err), false
		}
		if snap.Round.CreatedBy != actor {
			return g.fail(round.ErrUnauthorized), false
		}
		if snap.Round.Status == models.StatusFinished {
			g.sessions.CloseLocked(s)
			return g.fail(round.ErrRoundFinished), false
		}
		if snap.Round.IsSeries() {
			run, err := g.series.Begin(ctx, *snap)
			if err != nil {
				return g.fail(err), false
			}
			view, _ := g.series.View(run.RoundID)
			g.sessions.Touch(s)
			return seriesSurface(s.ID, view, false), true
		}
		g.sessions.Touch(s)
		return winnerSurface(s.ID, snap), true

	case network.ActionWinner:
		current, err := g.rounds.Snapshot(ctx, s.RoundID)
		if err != nil {
			return g.fail(err), false
		}
		// a series winner only comes from the standings
		if current.Round.IsSeries() {
			return g.fail(series.ErrWrongPhase), false
		}
		r, err := g.rounds.Finish(ctx, s.RoundID, a.Target, actor)
		if err != nil {
			return g.fail(err), false
		}
		g.sessions.CloseLocked(s)
		return g.finishedCard(ctx, *r), true

	case network.ActionPick:
		out, err := g.series.Pick(ctx, s.RoundID, actor, a.RaceIndex, a.Target)
		return g.seriesStep(s, out, err)

	case network.ActionAdvance:
		out, err := g.series.Advance(ctx, s.RoundID, actor, a.RaceIndex)
		return g.seriesStep(s, out, err)

	case network.ActionRedo:
		out, err := g.series.Redo(ctx, s.RoundID, actor, a.RaceIndex)
		return g.seriesStep(s, out, err)
	}
	return g.fail(network.ErrMalformedAction), false
}

func winnerSurface(surfaceID string, snap *round.Snapshot) network.Reply {
	buttons := lo.Map(snap.Players, func(p models.Player, _ int) network.Button {
		return network.Action{Kind: network.ActionWinner, SurfaceID: surfaceID, RoundID: snap.Round.ID, Target: p.ID}.
			Button(p.Name(), network.StyleSuccess)
	})
	return network.Card("🏆 Select the Winner", "Choose which player won this round:", colorGold).
		AddButtons(buttons...)
}

func (g *Gatekeeper) finishedCard(ctx context.Context, r models.Round) network.Reply {
	choices, err := g.store.GetCarChoicesForRound(ctx, r.ID)
	if err != nil {
		choices = map[string]string{}
	}
	car, chosen := choices[r.WinnerID]
	if !chosen {
		car = "No car selected"
	}
	reply := network.Card("🏆 Game Finished!", fmt.Sprintf("**Winner: %s**", mention(r.WinnerID)), colorGold).
		AddField("Winning Car", "**"+car+"**", false).
		AddField("Class", r.Class, true).
		AddField("Value", catalog.FormatMoney(r.Value), true).
		AddField("Race Type", string(r.RaceType), true)
	if chosen {
		reply.Image = g.images.Find(ctx, car)
	}
	reply.Footer = "Round ID: " + r.ID
	return reply
}

// seriesStep renders the result of a pick, advance or redo.
func (g *Gatekeeper) seriesStep(s *session.Session, out *series.Outcome, err error) (network.Reply, bool) {
	if err != nil && out == nil {
		return g.fail(err), false
	}
	if err != nil {
		// leg scored but the winner could not be written; advance retries it
		g.fail(err)
		reply := seriesSurface(s.ID, out.View, out.Extended)
		reply.Content = "⚠️ The final standings could not be saved. Press Finish Series to retry."
		return reply, true
	}
	if out.Concluded {
		g.sessions.CloseLocked(s)
		return seriesSurface(s.ID, out.View, out.Extended), true
	}
	g.sessions.Touch(s)
	return seriesSurface(s.ID, out.View, out.Extended), true
}
