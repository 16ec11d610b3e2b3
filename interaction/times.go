package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/wfunc/racebot/catalog"
	"github.com/wfunc/racebot/models"
	"github.com/wfunc/racebot/network"
	"github.com/wfunc/racebot/persistence"
	"github.com/wfunc/racebot/services"
	"github.com/wfunc/racebot/session"
)

const keyTimePicker = "time_picker"

// timePicker is the state of a registertime or removetime surface.
type timePicker struct {
	remove  bool
	track   models.Track
	laptime int
	cars    []string
	index   int
}

func (g *Gatekeeper) addRace(ctx context.Context, cmd network.Command) network.Reply {
	name, ok := cmd.String("name")
	if !ok {
		return network.Text("Please provide a race name.", true)
	}
	description, _ := cmd.String("description")

	track := models.Track{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedBy:   cmd.User.ID,
		CreatedAt:   time.Now(),
	}
	if err := g.store.CreateTrack(ctx, track); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			return network.Card("Race Already Exists",
				fmt.Sprintf("A race named **%s** already exists!", name), colorRed).AsEphemeral()
		}
		return g.fail(err)
	}

	reply := network.Card("✅ Race Added", "", colorGreen).
		AddField("Race Name", name, true).
		AddField("Race ID", track.ID, true)
	if description != "" {
		reply = reply.AddField("Description", description, false)
	}
	return reply
}

func (g *Gatekeeper) listRace(ctx context.Context, cmd network.Command) network.Reply {
	tracks, err := g.stats.Races(ctx)
	if err != nil {
		return g.fail(err)
	}
	if len(tracks) == 0 {
		return network.Card("No Races Found",
			"No races have been created yet. Use `/addrace` to create one!", colorOrange).AsEphemeral()
	}

	entries := lo.Map(tracks, func(t models.TrackSummary, i int) string {
		info := fmt.Sprintf("**%d. %s**", i+1, t.Name)
		if t.Description != "" {
			info += "\n" + t.Description
		}
		return info + fmt.Sprintf("\n📊 Times recorded: %d", t.TimeCount)
	})
	reply := network.Card("🏁 Available Races", strings.Join(entries, "\n\n"), colorBlue)
	reply.Footer = fmt.Sprintf("Total races: %d", len(tracks))
	return reply
}

func (g *Gatekeeper) registerTime(ctx context.Context, cmd network.Command) network.Reply {
	raw, _ := cmd.String("laptime")
	ms, ok := models.ParseLapTime(raw)
	if !ok {
		return network.Card("Invalid Laptime Format",
			"Please use the format `MM:SS.MS` (e.g. `1:23.456` or `0:59.9`).", colorRed).AsEphemeral()
	}
	return g.openTimePicker(ctx, cmd, &timePicker{laptime: ms})
}

func (g *Gatekeeper) removeTime(ctx context.Context, cmd network.Command) network.Reply {
	return g.openTimePicker(ctx, cmd, &timePicker{remove: true})
}

func (g *Gatekeeper) openTimePicker(ctx context.Context, cmd network.Command, p *timePicker) network.Reply {
	name, _ := cmd.String("race")
	track, err := g.store.GetTrackByName(ctx, name)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		desc := fmt.Sprintf("No race named **%s** exists.", name)
		if !p.remove {
			desc += " Use `/addrace` first!"
		}
		return network.Card("Race Not Found", desc, colorRed).AsEphemeral()
	}
	if err != nil {
		return g.fail(err)
	}
	p.track = *track

	if query, ok := cmd.String("car_query"); ok {
		p.cars = g.catalog.Search(query, 0)
		if len(p.cars) == 0 {
			return network.Card("No Cars Found", fmt.Sprintf("No cars found matching \"**%s**\"", query), colorOrange).AsEphemeral()
		}
	} else {
		p.cars = lo.Map(g.catalog.Cars(), func(c catalog.Car, _ int) string { return c.Name })
	}
	if len(p.cars) == 0 {
		return network.Text("No cars available!", true)
	}

	s, err := g.sessions.Open(session.KindTimePicker, cmd.User.ID, "")
	if err != nil {
		return g.fail(err)
	}
	if err := s.Do(func() error { s.Set(keyTimePicker, p); return nil }); err != nil {
		return g.fail(err)
	}
	return g.timePage(ctx, s.ID, p)
}

func (g *Gatekeeper) timePage(ctx context.Context, surfaceID string, p *timePicker) network.Reply {
	car := p.cars[p.index]
	var reply network.Reply
	if p.remove {
		reply = network.Card(car, fmt.Sprintf("Car %d of %d\nSelect to remove your time", p.index+1, len(p.cars)), colorBlue).
			AddButtons(timePager.buttons(surfaceID, p.index, len(p.cars), "🗑️ Delete", network.StyleDanger)...)
	} else {
		reply = network.Card(car, fmt.Sprintf("Car %d of %d\nLaptime: **%s** on **%s**",
			p.index+1, len(p.cars), models.FormatLapTime(p.laptime), p.track.Name), colorBlue).
			AddButtons(timePager.buttons(surfaceID, p.index, len(p.cars), "✅", network.StyleSuccess)...)
	}
	reply.Image = g.images.Find(ctx, car)
	reply.SurfaceID = surfaceID
	return reply
}

func (g *Gatekeeper) timeClick(ctx context.Context, s *session.Session, in network.Interaction, a network.Action) (network.Reply, bool) {
	p, ok := s.Get(keyTimePicker).(*timePicker)
	if !ok {
		return g.fail(session.ErrSessionNotFound), false
	}

	switch a.Kind {
	case network.ActionTimePrev, network.ActionTimeNext:
		delta := 1
		if a.Kind == network.ActionTimePrev {
			delta = -1
		}
		p.index = page(p.index, delta, len(p.cars))
		g.sessions.Touch(s)
		return g.timePage(ctx, s.ID, p), true

	case network.ActionTimeAccept:
		save := g.saveTime
		if p.remove {
			save = g.deleteTime
		}
		reply, err := save(ctx, in, p, p.cars[p.index])
		if err != nil {
			return g.fail(err), false
		}
		g.sessions.CloseLocked(s)
		return reply, true

	case network.ActionTimeReject:
		g.sessions.CloseLocked(s)
		if p.remove {
			return network.Card("Cancelled", "Time removal cancelled.", colorBlue), true
		}
		return network.Card("Registration Cancelled", "You didn't register a time.", colorRed), true
	}
	return g.fail(network.ErrMalformedAction), false
}

func (g *Gatekeeper) saveTime(ctx context.Context, in network.Interaction, p *timePicker, car string) (network.Reply, error) {
	if err := g.store.UpsertPlayer(ctx, in.User); err != nil {
		return network.Reply{}, err
	}
	updated, err := g.store.UpsertLapTime(ctx, models.LapTime{
		TrackID:   p.track.ID,
		PlayerID:  in.User.ID,
		CarName:   car,
		LaptimeMS: p.laptime,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return network.Reply{}, err
	}

	title, color := "⏱️ Time Registered", colorGreen
	if updated {
		title, color = "⏱️ Time Updated", colorBlue
	}
	reply := network.Card(title, fmt.Sprintf("**%s** on **%s**", car, p.track.Name), color).
		AddField("Laptime", models.FormatLapTime(p.laptime), true).
		AddField("Player", mention(in.User.ID), true)
	reply.Image = g.images.Find(ctx, car)
	return reply, nil
}

func (g *Gatekeeper) deleteTime(ctx context.Context, in network.Interaction, p *timePicker, car string) (network.Reply, error) {
	existed, err := g.store.DeleteLapTime(ctx, p.track.ID, in.User.ID, car)
	if err != nil {
		return network.Reply{}, err
	}
	if !existed {
		return network.Card("No Time Found",
			fmt.Sprintf("You don't have a recorded time for **%s** on **%s**", car, p.track.Name), colorOrange), nil
	}
	reply := network.Card("🗑️ Time Deleted",
		fmt.Sprintf("Your time for **%s** on **%s** has been removed.", car, p.track.Name), colorRed)
	reply.Image = g.images.Find(ctx, car)
	return reply, nil
}

// times lists the 20 fastest current lap times, optionally per race and car search.
func (g *Gatekeeper) times(ctx context.Context, cmd network.Command) network.Reply {
	race, hasRace := cmd.String("race")
	carQuery, hasCar := cmd.String("car")

	var cars []string
	if hasCar {
		cars = g.catalog.Search(carQuery, 0)
		if len(cars) == 0 {
			return network.Card("No Cars Found", fmt.Sprintf("No cars found matching \"**%s**\"", carQuery), colorOrange).AsEphemeral()
		}
	}

	var (
		entries []models.LapTimeEntry
		err     error
	)
	if hasRace {
		entries, err = g.stats.TrackTimes(ctx, race, cars)
	} else {
		entries, err = g.stats.BestTimes(ctx, services.TimesQuery{Cars: cars})
	}
	if err != nil {
		return g.fail(err)
	}

	if len(entries) == 0 {
		desc := "No times found"
		switch {
		case hasRace && hasCar:
			desc += fmt.Sprintf(" for **%s** on **%s**", carQuery, race)
		case hasRace:
			desc += fmt.Sprintf(" on **%s**", race)
		case hasCar:
			desc += fmt.Sprintf(" with **%s**", carQuery)
		}
		return network.Card("No Times Found", desc+".", colorOrange).AsEphemeral()
	}

	lines := lo.Map(entries, func(e models.LapTimeEntry, i int) string {
		return fmt.Sprintf("%s **%s** - %s - %s - %s", rankLabel(i), models.FormatLapTime(e.LaptimeMS), e.PlayerName, e.CarName, e.TrackName)
	})
	title := "⏱️ Best Times"
	switch {
	case hasRace && hasCar:
		title += fmt.Sprintf(" - %s on %s", cars[0], race)
	case hasRace:
		title += " - " + race
	case hasCar:
		title += " - " + cars[0]
	}
	reply := network.Card(title, strings.Join(lines, "\n"), colorBlue)
	reply.Footer = fmt.Sprintf("Showing %d time%s", len(entries), plural(len(entries)))
	return reply
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
