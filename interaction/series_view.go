package interaction

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/wfunc/racebot/models"
	"github.com/wfunc/racebot/network"
	"github.com/wfunc/racebot/series"
)

var medals = []string{"🥇", "🥈", "🥉"}

func rankLabel(i int) string {
	if i < len(medals) {
		return medals[i]
	}
	return fmt.Sprintf("%d.", i+1)
}

func standingsText(standings []series.Standing) string {
	if len(standings) == 0 {
		return "-"
	}
	lines := lo.Map(standings, func(s series.Standing, i int) string {
		return fmt.Sprintf("%s %s - **%d pts**", rankLabel(s.Rank-1), s.Player.Name(), s.Points)
	})
	return strings.Join(lines, "\n")
}

// seriesSurface renders the pick loop: finisher buttons while picking,
// advance/redo once the leg is scored, the final table once concluded.
func seriesSurface(surfaceID string, v series.View, extended bool) network.Reply {
	leg := strings.ToUpper(string(v.Leg()))
	progress := fmt.Sprintf("Race %d of %d", v.Index+1, len(v.Legs))
	act := func(kind network.ActionKind, target string) network.Action {
		return network.Action{Kind: kind, SurfaceID: surfaceID, RoundID: v.RoundID, RaceIndex: v.Index, Target: target}
	}

	switch v.Phase {
	case series.PhaseConcluded:
		reply := network.Card("🏆 Series Finished!", "", colorGold)
		if v.Winner != nil {
			top := lo.FindOrElse(v.Standings, series.Standing{}, func(s series.Standing) bool { return s.Player.ID == v.Winner.ID })
			reply.Description = fmt.Sprintf("**Winner: %s** with %d points", mention(v.Winner.ID), top.Points)
		}
		reply = reply.AddField("Final Standings", standingsText(v.Standings), false)
		reply.Footer = "Round ID: " + v.RoundID
		return reply

	case series.PhaseDeciding:
		var lines []string
		if v.LastLeg != nil {
			lines = lo.Map(v.LastLeg.Placements, func(p models.Placement, i int) string {
				name := lo.FindOrElse(v.Placements, models.Player{ID: p.PlayerID}, func(pl models.Player) bool { return pl.ID == p.PlayerID }).Name()
				return fmt.Sprintf("%d. %s (+%d)", p.Position, lo.CoalesceOrEmpty(name, p.PlayerID), p.Points)
			})
		}
		reply := network.Card(fmt.Sprintf("✅ %s complete: %s", progress, leg), strings.Join(lines, "\n"), colorGreen).
			AddField("Standings", standingsText(v.Standings), false)
		if extended {
			reply = reply.AddField("Tie-break", "Players are tied at the top after GOLIATH, an OFFROAD race has been added!", false)
		}
		next := act(network.ActionAdvance, "").Button("Next Race ▶", network.StyleSuccess)
		if v.IsLastLeg() {
			next = act(network.ActionAdvance, "").Button("🏆 Finish Series", network.StyleSuccess)
		}
		reply.Footer = "Round ID: " + v.RoundID
		return reply.AddButtons(next, act(network.ActionRedo, "").Button("↺ Redo Race", network.StyleDanger))

	default:
		desc := "Pick the finishers in order, starting with the winner."
		if len(v.Placements) > 0 {
			placed := lo.Map(v.Placements, func(p models.Player, i int) string {
				return fmt.Sprintf("%d. %s", i+1, p.Name())
			})
			desc += "\n\n" + strings.Join(placed, "\n")
		}
		reply := network.Card(fmt.Sprintf("🏁 %s: %s", progress, leg), desc, colorBlue).
			AddField("Standings", standingsText(v.Standings), false)
		picks := lo.Map(v.Remaining, func(p models.Player, _ int) network.Button {
			return act(network.ActionPick, p.ID).Button(p.Name(), network.StylePrimary)
		})
		reply = reply.AddButtons(picks...)
		reply.Footer = "Round ID: " + v.RoundID
		return reply.AddButtons(act(network.ActionRedo, "").Button("↺ Restart Race", network.StyleSecondary))
	}
}
