// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/racebot/models"
)

// RoundStore holds rounds, their players and car choices.
type RoundStore interface {
	CreateRound(ctx context.Context, round models.Round) error
	GetRound(ctx context.Context, id string) (*models.Round, error)
	// GetMostRecentRoundByStatus returns the newest round whose status is one of statuses.
	GetMostRecentRoundByStatus(ctx context.Context, statuses ...models.RoundStatus) (*models.Round, error)
	ListRoundsByStatus(ctx context.Context, status models.RoundStatus) ([]models.Round, error)
	SetRoundStatus(ctx context.Context, id string, status models.RoundStatus) error
	SetRoundWinner(ctx context.Context, id, playerID string) error
	// DeleteRound removes a round and its player bindings.
	DeleteRound(ctx context.Context, id string) error

	UpsertPlayer(ctx context.Context, player models.Player) error
	BindPlayerToRound(ctx context.Context, roundID, playerID string) error
	ListPlayersForRound(ctx context.Context, roundID string) ([]models.Player, error)

	ReplaceCarChoice(ctx context.Context, choice models.CarChoice) error
	GetCarChoicesForRound(ctx context.Context, roundID string) (map[string]string, error)
}

// ScoreStore holds series standings and per-leg results.
type ScoreStore interface {
	UpsertScore(ctx context.Context, roundID, playerID string, points int) error
	GetScores(ctx context.Context, roundID string) (map[string]int, error)
	ReplaceRaceResult(ctx context.Context, result models.RaceResult) error
	DeleteRaceResult(ctx context.Context, roundID string, raceIndex int) error
	ListRaceResults(ctx context.Context, roundID string) ([]models.RaceResult, error)
	// MarkSeriesExtended records that the offroad tie-break leg was added.
	MarkSeriesExtended(ctx context.Context, roundID string) error
}

// TimeStore holds tracks and lap times.
type TimeStore interface {
	CreateTrack(ctx context.Context, track models.Track) error
	GetTrackByName(ctx context.Context, name string) (*models.Track, error)
	ListTracks(ctx context.Context) ([]models.TrackSummary, error)
	// UpsertLapTime reports whether an existing time was overwritten.
	UpsertLapTime(ctx context.Context, lap models.LapTime) (bool, error)
	// DeleteLapTime reports whether a time existed.
	DeleteLapTime(ctx context.Context, trackID, playerID, carName string) (bool, error)
	ListLapTimes(ctx context.Context, filter models.LapTimeFilter) ([]models.LapTimeEntry, error)
}

// ImageStore holds car images confirmed by an operator.
type ImageStore interface {
	GetConfirmedCarImage(ctx context.Context, carName string) (string, error)
	ConfirmCarImage(ctx context.Context, carName, imageURL string, at time.Time) error
}

// StatsStore is the read side used by the dashboard and stats commands.
type StatsStore interface {
	GetPlayer(ctx context.Context, id string) (*models.Player, error)
	Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
	FinishedRounds(ctx context.Context, limit int) ([]models.RoundSummary, error)
	PlayerRounds(ctx context.Context, playerID string) ([]models.PlayerRound, error)
	CountPlayerRounds(ctx context.Context, playerID string) (int, error)
	CountPlayerWins(ctx context.Context, playerID string) (int, error)
}

// Store 数据库接口
type Store interface {
	RoundStore
	ScoreStore
	TimeStore
	ImageStore
	StatsStore
	Migrate(ctx context.Context) error
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicate      = errors.New("record already exists")
)
