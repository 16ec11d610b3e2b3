package round

import "errors"

// 错误定义
var (
	ErrUnauthorized     = errors.New("only the round creator can do that")
	ErrNoPendingRound   = errors.New("no pending round")
	ErrNoActiveRound    = errors.New("no active round")
	ErrNoRound          = errors.New("no pending or active round")
	ErrNoPlayers        = errors.New("round has no players")
	ErrRoundFinished    = errors.New("round already finished")
	ErrPlayerNotInRound = errors.New("player is not in this round")
	ErrPlayerCount      = errors.New("a round needs between 2 and 8 players")
	ErrNoCarInBudget    = errors.New("no cars within the round budget")
	ErrInvalidRaceType  = errors.New("unknown race type")
)
