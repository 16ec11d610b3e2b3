package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/samber/lo"
	"github.com/wfunc/racebot/logger"
	"github.com/wfunc/racebot/round"
	"github.com/wfunc/racebot/services"
)

// ServiceName is the name the admin service is registered under.
const ServiceName = "Admin"

const callTimeout = 30 * time.Second

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer listens on addr and registers admin with its own rpc.Server.
func NewServer(addr string, admin *AdminService) (*Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(ServiceName, admin); err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      srv,
	}, nil
}

// Addr is the bound address; useful when addr had port 0.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests. It returns when Stop is called.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// Resetter force-finishes open rounds. interaction.Gatekeeper implements it.
type Resetter interface {
	ResetRounds(ctx context.Context, actor string) ([]round.ForceResult, error)
}

// AdminService is the struct that exposes RPC methods.
type AdminService struct {
	resetter Resetter
	stats    *services.StatsService
}

func NewAdminService(resetter Resetter, stats *services.StatsService) *AdminService {
	return &AdminService{resetter: resetter, stats: stats}
}

type ResetArgs struct {
	Actor string
}

type ResetRound struct {
	RoundID  string
	Class    string
	RaceType string
	WinnerID string
	Winner   string
}

type ResetReply struct {
	Rounds []ResetRound
}

// ResetRounds force-finishes every pending or active round.
func (a *AdminService) ResetRounds(args *ResetArgs, reply *ResetReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	actor := args.Actor
	if actor == "" {
		actor = "admin"
	}
	results, err := a.resetter.ResetRounds(ctx, actor)
	reply.Rounds = lo.Map(results, func(res round.ForceResult, _ int) ResetRound {
		return ResetRound{
			RoundID:  res.Round.ID,
			Class:    res.Round.Class,
			RaceType: string(res.Round.RaceType),
			WinnerID: res.Winner.ID,
			Winner:   res.Winner.Name(),
		}
	})
	if err != nil {
		logger.Log.Errorf("rpc reset rounds: %v", err)
	}
	return err
}

type PlayerStatsArgs struct {
	PlayerID string
}

type PlayerStatsReply struct {
	Stats services.PlayerStats
}

// PlayerStats returns a player's totals and finished rounds.
func (a *AdminService) PlayerStats(args *PlayerStatsArgs, reply *PlayerStatsReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	stats, err := a.stats.GetPlayerStats(ctx, args.PlayerID)
	if err != nil {
		return err
	}
	reply.Stats = *stats
	return nil
}

// Client is a thin typed wrapper over an admin connection.
type Client struct {
	rpc *rpc.Client
}

func Dial(addr string) (*Client, error) {
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: c}, nil
}

func (c *Client) ResetRounds(actor string) ([]ResetRound, error) {
	var reply ResetReply
	err := c.rpc.Call(ServiceName+".ResetRounds", &ResetArgs{Actor: actor}, &reply)
	return reply.Rounds, err
}

func (c *Client) PlayerStats(playerID string) (*services.PlayerStats, error) {
	var reply PlayerStatsReply
	if err := c.rpc.Call(ServiceName+".PlayerStats", &PlayerStatsArgs{PlayerID: playerID}, &reply); err != nil {
		return nil, err
	}
	return &reply.Stats, nil
}

func (c *Client) Close() error {
	return c.rpc.Close()
}
