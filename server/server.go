package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/racebot/broadcast"
	"github.com/wfunc/racebot/interaction"
	"github.com/wfunc/racebot/logger"
	"github.com/wfunc/racebot/monitor"
	"github.com/wfunc/racebot/network"
	"github.com/wfunc/racebot/services"
)

// Handler is the chat side of the bot. interaction.Gatekeeper implements it.
type Handler interface {
	HandleCommand(ctx context.Context, cmd network.Command) network.ReplyMessage
	HandleClick(ctx context.Context, in network.Interaction) network.ReplyMessage
}

type Options struct {
	Addr           string
	Heartbeat      time.Duration
	AllowedOrigins []string
}

// BotServer accepts chat bridges on /ws and serves the read-only dashboard.
type BotServer struct {
	opts     Options
	upgrader websocket.Upgrader
	handler  Handler
	hub      *broadcast.Hub
	stats    *services.StatsService
	monitor  *monitor.Monitor

	httpServer *http.Server
	conns      sync.WaitGroup
	shutdown   chan struct{}
	closeOnce  sync.Once
}

func NewBotServer(opts Options, handler Handler, hub *broadcast.Hub, stats *services.StatsService, mon *monitor.Monitor) *BotServer {
	s := &BotServer{
		opts:     opts,
		handler:  handler,
		hub:      hub,
		stats:    stats,
		monitor:  mon,
		shutdown: make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 桥接进程不是浏览器
			},
		},
	}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// NewGatekeeperServer is NewBotServer for the usual wiring.
func NewGatekeeperServer(opts Options, gate *interaction.Gatekeeper, hub *broadcast.Hub, stats *services.StatsService, mon *monitor.Monitor) *BotServer {
	gate.SetPusher(hub.Push)
	return NewBotServer(opts, gate, hub, stats, mon)
}

// Start blocks until the server stops.
func (s *BotServer) Start() error {
	logger.Log.Infof("Bot server listening on %s", s.opts.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting, closes bridges and waits for in-flight work.
func (s *BotServer) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.shutdown) })
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *BotServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.conns.Add(1)
	go func() {
		defer s.conns.Done()
		s.handleConnection(network.NewWSConnection(conn))
	}()
}

func (s *BotServer) handleConnection(conn network.Connection) {
	id := uuid.NewString()
	s.hub.Add(id, conn)
	if s.monitor != nil {
		s.monitor.IncBridges()
	}
	if s.opts.Heartbeat > 0 {
		conn.SetHeartbeat(s.opts.Heartbeat)
	}
	logger.Log.Infof("Bridge connected from %s, id %s", conn.RemoteAddr(), id)

	ctx, cancel := context.WithCancel(context.Background())
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
		s.hub.Remove(id)
		if s.monitor != nil {
			s.monitor.DecBridges()
		}
		conn.Close()
		logger.Log.Infof("Bridge %s disconnected", id)
	}()

	go func() {
		select {
		case <-s.shutdown:
			conn.Close()
		case <-ctx.Done():
		}
	}()

	for {
		packet, err := conn.ReadPacket()
		if err != nil {
			return
		}
		if packet.MsgID == network.MsgTypeHeartbeat {
			conn.Send(network.MsgTypeHeartbeat, nil)
			continue
		}
		// 每个请求独立处理，同一控制面的点击由 session 串行化
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.handlePacket(ctx, conn, packet)
		}()
	}
}

func (s *BotServer) handlePacket(ctx context.Context, conn network.Connection, packet *network.Packet) {
	var reply network.ReplyMessage
	switch packet.MsgID {
	case network.MsgTypeCommand:
		var cmd network.Command
		if err := network.Decode(packet, &cmd); err != nil {
			logger.Log.Warnf("bad command packet: %v", err)
			return
		}
		reply = s.handler.HandleCommand(ctx, cmd)
	case network.MsgTypeInteraction:
		var in network.Interaction
		if err := network.Decode(packet, &in); err != nil {
			logger.Log.Warnf("bad interaction packet: %v", err)
			return
		}
		reply = s.handler.HandleClick(ctx, in)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
		return
	}
	if err := conn.SendJSON(network.MsgTypeReply, reply); err != nil {
		logger.Log.Warnf("send reply %s: %v", reply.InteractionID, err)
	}
}
