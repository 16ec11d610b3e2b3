package network

import (
	"encoding/json"
	"fmt"

	"github.com/wfunc/racebot/models"
)

const (
	MsgTypeHeartbeat = 1

	// bridge -> server
	MsgTypeCommand     = 101
	MsgTypeInteraction = 102

	// server -> bridge
	MsgTypeReply         = 201
	MsgTypeSurfaceUpdate = 202
	MsgTypeRoundEvent    = 301
)

// Option is one named argument of a chat command. Exactly one value field is set.
type Option struct {
	Name   string         `json:"name"`
	String *string        `json:"string,omitempty"`
	Int    *int64         `json:"int,omitempty"`
	Bool   *bool          `json:"bool,omitempty"`
	User   *models.Player `json:"user,omitempty"`
}

// Command 聊天命令
type Command struct {
	InteractionID string        `json:"interaction_id"`
	Name          string        `json:"name"`
	User          models.Player `json:"user"`
	Options       []Option      `json:"options,omitempty"`
}

func (c *Command) option(name string) (Option, bool) {
	for _, opt := range c.Options {
		if opt.Name == name {
			return opt, true
		}
	}
	return Option{}, false
}

// String returns a string option; empty strings count as absent.
func (c *Command) String(name string) (string, bool) {
	opt, ok := c.option(name)
	if !ok || opt.String == nil || *opt.String == "" {
		return "", false
	}
	return *opt.String, true
}

func (c *Command) Int(name string) (int, bool) {
	opt, ok := c.option(name)
	if !ok || opt.Int == nil {
		return 0, false
	}
	return int(*opt.Int), true
}

func (c *Command) Bool(name string) (bool, bool) {
	opt, ok := c.option(name)
	if !ok || opt.Bool == nil {
		return false, false
	}
	return *opt.Bool, true
}

// Player returns a user option; a user without an id counts as absent.
func (c *Command) Player(name string) (models.Player, bool) {
	opt, ok := c.option(name)
	if !ok || opt.User == nil || opt.User.ID == "" {
		return models.Player{}, false
	}
	return *opt.User, true
}

// Interaction is a button click on a control surface.
type Interaction struct {
	InteractionID string        `json:"interaction_id"`
	User          models.Player `json:"user"`
	CustomID      string        `json:"custom_id"`
}

// ReplyMessage answers a Command or Interaction.
type ReplyMessage struct {
	InteractionID string `json:"interaction_id"`
	// Update edits the message the clicked button lives on instead of posting.
	Update bool  `json:"update,omitempty"`
	Reply  Reply `json:"reply"`
}

// SurfaceUpdate replaces a control surface out of band, e.g. on timeout.
type SurfaceUpdate struct {
	SurfaceID string `json:"surface_id"`
	Reply     Reply  `json:"reply"`
}

// Encode marshals payload for msgID and checks it fits in one frame.
func Encode(msgID uint16, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal msg %d: %w", msgID, err)
	}
	if len(data) > MaxPayload {
		return nil, fmt.Errorf("msg %d: %w (%d bytes)", msgID, ErrPayloadTooLarge, len(data))
	}
	return data, nil
}

// Decode unmarshals a packet body into out.
func Decode(p *Packet, out any) error {
	if err := json.Unmarshal(p.Data, out); err != nil {
		return fmt.Errorf("decode msg %d: %w", p.MsgID, err)
	}
	return nil
}
