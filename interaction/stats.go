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
	"github.com/wfunc/racebot/persistence"
	"github.com/wfunc/racebot/services"
	"github.com/wfunc/racebot/session"
)

const keyStatsPager = "stats_pager"

type statsPager struct {
	stats *services.PlayerStats
	index int
}

// statsCommand shows the leaderboard, or one player's stats with a pager
// over their finished rounds.
func (g *Gatekeeper) statsCommand(ctx context.Context, cmd network.Command) network.Reply {
	user, ok := cmd.Player("player")
	if !ok {
		return g.leaderboard(ctx)
	}

	stats, err := g.stats.GetPlayerStats(ctx, user.ID)
	if errors.Is(err, persistence.ErrRecordNotFound) || (err == nil && stats.GamesPlayed == 0) {
		return network.Text(mention(user.ID)+" hasn't played any games yet!", true)
	}
	if err != nil {
		return g.fail(err)
	}
	if stats.Player.Name() == "" {
		stats.Player = user
	}

	p := &statsPager{stats: stats}
	if len(stats.Rounds) == 0 {
		return statsPage("", p)
	}
	s, err := g.sessions.Open(session.KindStatsPager, cmd.User.ID, "")
	if err != nil {
		return g.fail(err)
	}
	if err := s.Do(func() error { s.Set(keyStatsPager, p); return nil }); err != nil {
		return g.fail(err)
	}
	return statsPage(s.ID, p)
}

func (g *Gatekeeper) leaderboard(ctx context.Context) network.Reply {
	entries, err := g.stats.Leaderboard(ctx)
	if err != nil {
		return g.fail(err)
	}
	if len(entries) == 0 {
		return network.Text("No finished games yet!", true)
	}
	lines := lo.Map(entries, func(e models.LeaderboardEntry, i int) string {
		return fmt.Sprintf("%s %s - **%d win%s**", rankLabel(i), mention(e.ID), e.Wins, plural(e.Wins))
	})
	return network.Card("🏆 Leaderboard", strings.Join(lines, "\n"), colorGold)
}

func statsPage(surfaceID string, p *statsPager) network.Reply {
	st := p.stats
	reply := network.Card("📊 Stats for "+st.Player.Name(), "", colorBlue).
		AddField("Games Played", strconv.Itoa(st.GamesPlayed), true).
		AddField("Wins", strconv.Itoa(st.Wins), true).
		AddField("Win Rate", fmt.Sprintf("%.1f%%", st.WinRate), true)

	if p.index >= 0 && p.index < len(st.Rounds) {
		r := st.Rounds[p.index]
		reply = reply.
			AddField("\u200b", fmt.Sprintf("**Race %d of %d**", p.index+1, len(st.Rounds)), false).
			AddField("Class", r.Class, true).
			AddField("Value", catalog.FormatMoney(r.Value), true).
			AddField("Race Type", string(r.RaceType), true)
		if r.Year != nil {
			reply = reply.AddField("Year", strconv.Itoa(*r.Year), true)
		}
		result := "Lost"
		if r.Won {
			result = "🏆 Won"
		}
		reply = reply.
			AddField("Car", lo.CoalesceOrEmpty(r.CarName, "No car selected"), true).
			AddField("Result", result, true).
			AddField("Date", r.CreatedAt.Format("2006-01-02"), true)
		reply.Footer = "Round ID: " + r.ID
	}

	if surfaceID == "" {
		return reply
	}
	reply.SurfaceID = surfaceID
	act := func(kind network.ActionKind) network.Action {
		return network.Action{Kind: kind, SurfaceID: surfaceID, RaceIndex: p.index, Target: st.Player.ID}
	}
	prev := act(network.ActionStatsPrev).Button("◀ Previous", network.StyleSecondary)
	prev.Disabled = p.index <= 0
	next := act(network.ActionStatsNext).Button("Next ▶", network.StyleSecondary)
	next.Disabled = p.index >= len(st.Rounds)-1
	return reply.AddButtons(prev, next)
}

func (g *Gatekeeper) statsClick(ctx context.Context, s *session.Session, a network.Action) (network.Reply, bool) {
	p, ok := s.Get(keyStatsPager).(*statsPager)
	if !ok {
		return g.fail(session.ErrSessionNotFound), false
	}
	switch a.Kind {
	case network.ActionStatsPrev:
		p.index = page(p.index, -1, len(p.stats.Rounds))
	case network.ActionStatsNext:
		p.index = page(p.index, 1, len(p.stats.Rounds))
	default:
		return g.fail(network.ErrMalformedAction), false
	}
	g.sessions.Touch(s)
	return statsPage(s.ID, p), true
}

// pastRaces lists recent finished rounds; limit defaults to 10, clamped to 1..25.
func (g *Gatekeeper) pastRaces(ctx context.Context, cmd network.Command) network.Reply {
	limit, _ := cmd.Int("limit")
	rounds, err := g.stats.PastRaces(ctx, limit)
	if err != nil {
		return g.fail(err)
	}
	if len(rounds) == 0 {
		return network.Text("No finished races yet!", true)
	}
	lines := lo.Map(rounds, func(r models.RoundSummary, i int) string {
		winner := "No winner"
		if r.WinnerID != "" {
			winner = mention(r.WinnerID)
		}
		return fmt.Sprintf("**%d.** %s | %s | Winner: %s | %s", i+1, r.Class, r.RaceType, winner, r.CreatedAt.Format("2006-01-02"))
	})
	reply := network.Card("🏁 Past Races", strings.Join(lines, "\n"), colorPurple)
	reply.Footer = fmt.Sprintf("Showing %d most recent race%s", len(rounds), plural(len(rounds)))
	return reply
}
