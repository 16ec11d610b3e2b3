// models/models.go
package models

import (
	"time"
)

// RoundStatus 回合状态
type RoundStatus string

const (
	StatusPending  RoundStatus = "pending"
	StatusActive   RoundStatus = "active"
	StatusFinished RoundStatus = "finished"
)

// RaceType is the kind of race a round (or a series leg) is run as.
type RaceType string

const (
	RaceRally   RaceType = "rally"
	RaceGoliath RaceType = "goliath"
	RaceCircuit RaceType = "circuit"
	RaceDrag    RaceType = "drag"
	RaceOffroad RaceType = "offroad"
	// RaceAll marks a series round made of several legs.
	RaceAll RaceType = "all"
)

// RaceTypes lists every race type in menu order.
var RaceTypes = []RaceType{RaceRally, RaceGoliath, RaceCircuit, RaceDrag, RaceOffroad, RaceAll}

// SingleRaceTypes lists the race types a random round may be drawn from.
var SingleRaceTypes = []RaceType{RaceRally, RaceGoliath, RaceCircuit, RaceDrag, RaceOffroad}

// Valid reports whether t is one of the known race types.
func (t RaceType) Valid() bool {
	for _, rt := range RaceTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// Round 回合
type Round struct {
	ID            string      `json:"id"`
	Class         string      `json:"class"`
	Value         int         `json:"value"`
	RaceType      RaceType    `json:"race_type"`
	Year          *int        `json:"year,omitempty"`
	RestrictClass bool        `json:"restrict_class"`
	Status        RoundStatus `json:"status"`
	CreatedBy     string      `json:"created_by"`
	CreatedAt     time.Time   `json:"created_at"`
	WinnerID      string      `json:"winner_id,omitempty"`
	// Extended is set once the offroad tie-break leg joins a series.
	Extended bool `json:"extended,omitempty"`
}

// IsSeries reports whether the round runs as a multi-leg series.
func (r *Round) IsSeries() bool {
	return r.RaceType == RaceAll
}

// Player 玩家
type Player struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// Name returns the display name, falling back to the username.
func (p Player) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

// CarChoice binds a player's car to a round.
type CarChoice struct {
	RoundID  string    `json:"round_id"`
	PlayerID string    `json:"player_id"`
	CarName  string    `json:"car_name"`
	ChosenAt time.Time `json:"chosen_at"`
}

// Placement is one finisher of a series leg.
type Placement struct {
	PlayerID string `json:"player_id"`
	Position int    `json:"position"`
	Points   int    `json:"points"`
}

// RaceResult is the stored outcome of one leg of a series round.
type RaceResult struct {
	RoundID    string      `json:"round_id"`
	RaceIndex  int         `json:"race_index"`
	RaceType   RaceType    `json:"race_type"`
	Placements []Placement `json:"placements"`
}

// Track is a named course players register lap times on.
type Track struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// TrackSummary is a track plus the number of lap times recorded on it.
type TrackSummary struct {
	Track
	TimeCount int `json:"time_count"`
}

// LapTime 圈速记录
type LapTime struct {
	TrackID    string    `json:"track_id"`
	PlayerID   string    `json:"player_id"`
	CarName    string    `json:"car_name"`
	LaptimeMS  int       `json:"laptime_ms"`
	IsHistoric bool      `json:"is_historic"`
	CreatedAt  time.Time `json:"created_at"`
}

// LapTimeEntry is a lap time joined with its track and player names.
type LapTimeEntry struct {
	LapTime
	TrackName   string `json:"track_name"`
	PlayerName  string `json:"player_name"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// LapTimeFilter narrows ListLapTimes. Zero values mean "any".
type LapTimeFilter struct {
	TrackName      string
	TrackContains  string
	CarNames       []string
	CarContains    string
	PlayerID       string
	IncludeHistory bool
	Limit          int
	NewestFirst    bool
}

// LeaderboardEntry 排行榜条目
type LeaderboardEntry struct {
	Player
	Wins int `json:"wins"`
}

// RoundSummary is a finished round as listed in history views.
type RoundSummary struct {
	Round
	WinnerName string `json:"winner_name,omitempty"`
	NumPlayers int    `json:"num_players"`
}

// PlayerRound is one finished round from a player's point of view.
type PlayerRound struct {
	Round
	CarName string `json:"car_name,omitempty"`
	Won     bool   `json:"won"`
}
