package broadcast

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/racebot/events"
	"github.com/wfunc/racebot/network"
)

// MockConnection records sent packets.
type MockConnection struct {
	mu      sync.Mutex
	packets []network.Packet
	fail    bool
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("broken pipe")
	}
	m.packets = append(m.packets, network.Packet{MsgID: msgID, Data: data, Length: uint16(len(data))})
	return nil
}

func (m *MockConnection) SendJSON(msgID uint16, payload any) error {
	data, err := network.Encode(msgID, payload)
	if err != nil {
		return err
	}
	return m.Send(msgID, data)
}

func (m *MockConnection) Close() error                      { return nil }
func (m *MockConnection) RemoteAddr() net.Addr              { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration) {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) {
	return nil, errors.New("not implemented")
}

func (m *MockConnection) Packets() []network.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]network.Packet(nil), m.packets...)
}

func TestPush(t *testing.T) {
	hub := NewHub()
	a, b := &MockConnection{}, &MockConnection{}
	hub.Add("a", a)
	hub.Add("b", b)

	hub.Push(network.SurfaceUpdate{SurfaceID: "s1", Reply: network.Card("Selection Timed Out", "", 0)})

	for _, c := range []*MockConnection{a, b} {
		packets := c.Packets()
		require.Len(t, packets, 1)
		assert.EqualValues(t, network.MsgTypeSurfaceUpdate, packets[0].MsgID)

		var u network.SurfaceUpdate
		require.NoError(t, network.Decode(&packets[0], &u))
		assert.Equal(t, "s1", u.SurfaceID)
		assert.Equal(t, "Selection Timed Out", u.Reply.Title)
	}
}

func TestBroadcastDropsBrokenConnections(t *testing.T) {
	hub := NewHub()
	hub.Add("ok", &MockConnection{})
	hub.Add("bad", &MockConnection{fail: true})

	err := hub.BroadcastToAll(network.MsgTypeHeartbeat, nil)
	assert.Error(t, err)
	assert.Equal(t, 1, hub.Count())
	assert.ErrorIs(t, hub.BroadcastTo("bad", network.MsgTypeHeartbeat, nil), ErrConnNotFound)
	assert.NoError(t, hub.BroadcastTo("ok", network.MsgTypeHeartbeat, nil))
}

func TestRelay(t *testing.T) {
	hub := NewHub()
	conn := &MockConnection{}
	hub.Add("a", conn)

	in := make(chan events.RoundEvent, 2)
	in <- events.RoundEvent{Kind: events.RoundStarted, RoundID: "r1"}
	in <- events.RoundEvent{Kind: events.RoundFinished, RoundID: "r1", WinnerID: "p1"}
	close(in)

	var seen []events.Kind
	hub.Relay(context.Background(), in, func(ev events.RoundEvent) { seen = append(seen, ev.Kind) })

	assert.Equal(t, []events.Kind{events.RoundStarted, events.RoundFinished}, seen)
	packets := conn.Packets()
	require.Len(t, packets, 2)
	var ev events.RoundEvent
	require.NoError(t, network.Decode(&packets[1], &ev))
	assert.Equal(t, "p1", ev.WinnerID)
}
