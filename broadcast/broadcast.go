// broadcast/broadcast.go
package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/wfunc/racebot/events"
	"github.com/wfunc/racebot/logger"
	"github.com/wfunc/racebot/network"
)

var (
	ErrConnNotFound = errors.New("connection not found")
)

// 广播接口
type Broadcaster interface {
	BroadcastToAll(msgID uint16, data []byte) error
	BroadcastTo(connID string, msgID uint16, data []byte) error
}

// Hub fans server-initiated messages (surface timeouts, round events) out to
// every connected bridge.
type Hub struct {
	conns map[string]network.Connection
	mutex sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]network.Connection)}
}

func (h *Hub) Add(id string, conn network.Connection) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.conns[id] = conn
}

func (h *Hub) Remove(id string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.conns, id)
}

func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.conns)
}

// snapshot returns a copy so sends never hold the lock.
func (h *Hub) snapshot() map[string]network.Connection {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	conns := make(map[string]network.Connection, len(h.conns))
	for id, c := range h.conns {
		conns[id] = c
	}
	return conns
}

func (h *Hub) BroadcastToAll(msgID uint16, data []byte) error {
	var failed []error
	for id, c := range h.snapshot() {
		if err := c.Send(msgID, data); err != nil {
			// 发送失败的连接直接移除，读循环会负责关闭
			logger.Log.Warnf("broadcast to %s failed: %v", id, err)
			h.Remove(id)
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}

func (h *Hub) BroadcastTo(connID string, msgID uint16, data []byte) error {
	h.mutex.RLock()
	c, ok := h.conns[connID]
	h.mutex.RUnlock()
	if !ok {
		return ErrConnNotFound
	}
	return c.Send(msgID, data)
}

// Push sends a surface update to every bridge. It matches the
// interaction pusher signature.
func (h *Hub) Push(u network.SurfaceUpdate) {
	data, err := network.Encode(network.MsgTypeSurfaceUpdate, u)
	if err != nil {
		logger.Log.Errorf("encode surface update %s: %v", u.SurfaceID, err)
		return
	}
	h.BroadcastToAll(network.MsgTypeSurfaceUpdate, data)
}

// Relay forwards round events to every bridge until ctx is done or the
// channel closes. observe, if set, sees each event first.
func (h *Hub) Relay(ctx context.Context, in <-chan events.RoundEvent, observe func(events.RoundEvent)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if observe != nil {
				observe(ev)
			}
			data, err := network.Encode(network.MsgTypeRoundEvent, ev)
			if err != nil {
				logger.Log.Errorf("encode round event %s: %v", ev.Kind, err)
				continue
			}
			h.BroadcastToAll(network.MsgTypeRoundEvent, data)
		}
	}
}
