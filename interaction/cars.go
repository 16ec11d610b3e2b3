package interaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/wfunc/racebot/catalog"
	"github.com/wfunc/racebot/network"
	"github.com/wfunc/racebot/session"
)

// searchListLimit keeps a result list inside one embed description.
const searchListLimit = 1800

const keyCarPicker = "car_picker"

// carPicker is the state of a choosecar surface.
type carPicker struct {
	cars    []string
	index   int
	roundID string
	budget  int
	class   string
}

func (g *Gatekeeper) searchCar(ctx context.Context, cmd network.Command) network.Reply {
	query, ok := cmd.String("query")
	if !ok {
		return network.Text("Please provide a search query.", true)
	}
	results := g.catalog.Search(query, 0)
	if len(results) == 0 {
		return network.Card("No cars found", fmt.Sprintf("No cars found for %q.", query), 0)
	}

	var (
		list  strings.Builder
		shown int
	)
	for _, car := range results {
		line := "- " + car + "\n"
		if list.Len()+len(line) > searchListLimit {
			break
		}
		list.WriteString(line)
		shown++
	}

	reply := network.Card(fmt.Sprintf("Search results for %q", query), strings.TrimRight(list.String(), "\n"), 0)
	reply.Footer = fmt.Sprintf("Showing %d of %d results.", shown, len(results))
	reply.Image = g.images.Find(ctx, results[0])
	return reply
}

// chooseCar binds a random car, or opens a pager over search results
// within the current round's budget.
func (g *Gatekeeper) chooseCar(ctx context.Context, cmd network.Command) network.Reply {
	query, hasQuery := cmd.String("query")
	random, _ := cmd.Bool("random")
	if !hasQuery && !random {
		return network.Text("Please provide a car query or enable random selection.", true)
	}

	if random {
		choice, r, err := g.rounds.RandomCar(ctx, cmd.User)
		if err != nil {
			return g.fail(err)
		}
		reply := network.Card("🎲 Random Car Selected",
			fmt.Sprintf("You got: **%s**\nRound ID: %s", choice.CarName, r.ID), colorPurple)
		reply.Image = g.images.Find(ctx, choice.CarName)
		return reply
	}

	snap, err := g.rounds.Current(ctx)
	if err != nil {
		return g.fail(err)
	}
	budget := snap.Round.Value
	results := g.catalog.Search(query, budget)
	if len(results) == 0 {
		return network.Card("No cars found",
			fmt.Sprintf("No cars found for %q within %s budget.", query, catalog.FormatMoney(budget)), 0).AsEphemeral()
	}

	s, err := g.sessions.Open(session.KindCarPicker, cmd.User.ID, snap.Round.ID)
	if err != nil {
		return g.fail(err)
	}
	p := &carPicker{cars: results, roundID: snap.Round.ID, budget: budget, class: snap.Round.Class}
	if err := s.Do(func() error { s.Set(keyCarPicker, p); return nil }); err != nil {
		return g.fail(err)
	}
	return g.carPage(ctx, s.ID, p)
}

func (g *Gatekeeper) carPage(ctx context.Context, surfaceID string, p *carPicker) network.Reply {
	car := p.cars[p.index]
	reply := network.Card(car,
		fmt.Sprintf("Car %d of %d (Max: %s)", p.index+1, len(p.cars), catalog.FormatMoney(p.budget)),
		catalog.ClassColor(p.class))
	reply.Image = g.images.Find(ctx, car)
	reply.SurfaceID = surfaceID
	return reply.AddButtons(carPager.buttons(surfaceID, p.index, len(p.cars), "✅", network.StyleSuccess)...)
}

// pagerKinds are the actions of a reject/accept/prev/next pager.
type pagerKinds struct {
	reject, accept, prev, next network.ActionKind
}

var (
	carPager  = pagerKinds{network.ActionCarReject, network.ActionCarAccept, network.ActionCarPrev, network.ActionCarNext}
	timePager = pagerKinds{network.ActionTimeReject, network.ActionTimeAccept, network.ActionTimePrev, network.ActionTimeNext}
)

func (k pagerKinds) buttons(surfaceID string, index, total int, acceptLabel string, acceptStyle network.ButtonStyle) []network.Button {
	act := func(kind network.ActionKind) network.Action {
		return network.Action{Kind: kind, SurfaceID: surfaceID, RaceIndex: index}
	}
	prev := act(k.prev).Button("◀", network.StyleSecondary)
	prev.Disabled = index == 0
	next := act(k.next).Button("▶", network.StyleSecondary)
	next.Disabled = index >= total-1
	return []network.Button{
		act(k.reject).Button("❌", network.StyleDanger),
		act(k.accept).Button(acceptLabel, acceptStyle),
		prev,
		next,
	}
}

// page moves index by delta within [0, total).
func page(index, delta, total int) int {
	return min(max(index+delta, 0), total-1)
}

func (g *Gatekeeper) carClick(ctx context.Context, s *session.Session, in network.Interaction, a network.Action) (network.Reply, bool) {
	p, ok := s.Get(keyCarPicker).(*carPicker)
	if !ok {
		return g.fail(session.ErrSessionNotFound), false
	}

	switch a.Kind {
	case network.ActionCarPrev, network.ActionCarNext:
		delta := 1
		if a.Kind == network.ActionCarPrev {
			delta = -1
		}
		p.index = page(p.index, delta, len(p.cars))
		g.sessions.Touch(s)
		return g.carPage(ctx, s.ID, p), true

	case network.ActionCarAccept:
		car := p.cars[p.index]
		choice, r, err := g.rounds.ChooseCar(ctx, in.User, car)
		if err != nil {
			return g.fail(err), false
		}
		g.sessions.CloseLocked(s)
		reply := network.Card("Car Selected", fmt.Sprintf("You selected **%s**\nRound ID: %s", choice.CarName, r.ID), colorGreen)
		reply.Image = g.images.Find(ctx, car)
		return reply, true

	case network.ActionCarReject:
		g.sessions.CloseLocked(s)
		return network.Card("Selection Cancelled", "You didn't select a car.", colorRed), true
	}
	return g.fail(network.ErrMalformedAction), false
}
