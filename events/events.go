// Package events carries round lifecycle notifications between the engines
// and the transport on an in-process watermill bus.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/wfunc/racebot/logger"
)

// TopicRounds is the single topic every round event is published on.
const TopicRounds = "rounds"

type Kind string

const (
	RoundCreated   Kind = "round.created"
	RoundStarted   Kind = "round.started"
	RoundFinished  Kind = "round.finished"
	CarChosen      Kind = "round.car_chosen"
	LegScored      Kind = "series.leg_scored"
	LegRedone      Kind = "series.leg_redone"
	SeriesExtended Kind = "series.extended"
)

// RoundEvent 回合事件
type RoundEvent struct {
	Kind      Kind           `json:"kind"`
	RoundID   string         `json:"round_id"`
	Actor     string         `json:"actor,omitempty"`
	WinnerID  string         `json:"winner_id,omitempty"`
	RaceIndex int            `json:"race_index,omitempty"`
	RaceType  string         `json:"race_type,omitempty"`
	Totals    map[string]int `json:"totals,omitempty"`
	At        time.Time      `json:"at"`
}

// Publisher is what the engines depend on.
type Publisher interface {
	Publish(event RoundEvent) error
}

// Bus wraps a gochannel pub/sub.
type Bus struct {
	pubsub *gochannel.GoChannel
}

func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NopLogger{}),
	}
}

func (b *Bus) Publish(event RoundEvent) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", string(event.Kind))
	msg.Metadata.Set("round_id", event.RoundID)
	return b.pubsub.Publish(TopicRounds, msg)
}

// Subscribe delivers decoded events until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan RoundEvent, error) {
	messages, err := b.pubsub.Subscribe(ctx, TopicRounds)
	if err != nil {
		return nil, err
	}

	out := make(chan RoundEvent, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			var event RoundEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				logger.Log.Warnf("events: dropping malformed message %s: %v", msg.UUID, err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(RoundEvent) error { return nil }
