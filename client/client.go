// Package client speaks the bridge protocol: it sends commands and clicks
// over a websocket and waits for the matching replies.
package client

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/racebot/events"
	"github.com/wfunc/racebot/logger"
	"github.com/wfunc/racebot/network"
)

var ErrClosed = errors.New("client closed")

type Client struct {
	conn *network.WSConnection

	mutex   sync.Mutex
	pending map[string]chan network.ReplyMessage
	closed  bool

	updates chan network.SurfaceUpdate
	events  chan events.RoundEvent
	done    chan struct{}
}

// Dial connects to a bridge endpoint such as ws://localhost:8080/ws.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:    network.NewWSConnection(conn),
		pending: make(map[string]chan network.ReplyMessage),
		updates: make(chan network.SurfaceUpdate, 64),
		events:  make(chan events.RoundEvent, 64),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Updates delivers surface updates pushed by the server.
func (c *Client) Updates() <-chan network.SurfaceUpdate { return c.updates }

// Events delivers round events pushed by the server.
func (c *Client) Events() <-chan events.RoundEvent { return c.events }

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		packet, err := c.conn.ReadPacket()
		if err != nil {
			return
		}
		switch packet.MsgID {
		case network.MsgTypeReply:
			var msg network.ReplyMessage
			if err := network.Decode(packet, &msg); err != nil {
				logger.Log.Warnf("client: %v", err)
				continue
			}
			c.mutex.Lock()
			ch, ok := c.pending[msg.InteractionID]
			delete(c.pending, msg.InteractionID)
			c.mutex.Unlock()
			if ok {
				ch <- msg
			}
		case network.MsgTypeSurfaceUpdate:
			var u network.SurfaceUpdate
			if err := network.Decode(packet, &u); err == nil {
				deliver(c.updates, u)
			}
		case network.MsgTypeRoundEvent:
			var ev events.RoundEvent
			if err := network.Decode(packet, &ev); err == nil {
				deliver(c.events, ev)
			}
		}
	}
}

// deliver drops the value when nobody is draining ch.
func deliver[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		logger.Log.Warnf("client: dropping %T, channel full", v)
	}
}

func (c *Client) shutdown() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *Client) call(ctx context.Context, id string, msgID uint16, payload any) (network.ReplyMessage, error) {
	ch := make(chan network.ReplyMessage, 1)
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return network.ReplyMessage{}, ErrClosed
	}
	c.pending[id] = ch
	c.mutex.Unlock()

	forget := func() {
		c.mutex.Lock()
		delete(c.pending, id)
		c.mutex.Unlock()
	}
	if err := c.conn.SendJSON(msgID, payload); err != nil {
		forget()
		return network.ReplyMessage{}, err
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		forget()
		return network.ReplyMessage{}, ctx.Err()
	case <-c.done:
		return network.ReplyMessage{}, ErrClosed
	}
}

// Command runs a chat command. An empty InteractionID is filled in.
func (c *Client) Command(ctx context.Context, cmd network.Command) (network.ReplyMessage, error) {
	if cmd.InteractionID == "" {
		cmd.InteractionID = uuid.NewString()
	}
	return c.call(ctx, cmd.InteractionID, network.MsgTypeCommand, cmd)
}

// Click presses a button. An empty InteractionID is filled in.
func (c *Client) Click(ctx context.Context, in network.Interaction) (network.ReplyMessage, error) {
	if in.InteractionID == "" {
		in.InteractionID = uuid.NewString()
	}
	return c.call(ctx, in.InteractionID, network.MsgTypeInteraction, in)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
