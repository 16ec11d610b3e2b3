// models/gorm_models.go
package models

import "time"

// GormRound 回合表
type GormRound struct {
	ID            string `gorm:"primaryKey;type:text"`
	Class         string `gorm:"not null"`
	Value         int    `gorm:"not null"`
	RaceType      string `gorm:"not null"`
	Year          *int
	Status        string `gorm:"not null;default:pending;index:idx_rounds_status_created,priority:1"`
	RestrictClass bool   `gorm:"not null;default:true"`
	CreatedBy     string
	CreatedAt     int64 `gorm:"not null;autoCreateTime:false;index:idx_rounds_status_created,priority:2"`
	WinnerID      *string
	Extended      bool `gorm:"not null;default:false"`
}

func (GormRound) TableName() string { return "rounds" }

// GormPlayer 玩家表
type GormPlayer struct {
	ID          string `gorm:"primaryKey;type:text"`
	Username    string `gorm:"not null"`
	DisplayName string `gorm:"not null"`
	CreatedAt   int64  `gorm:"not null;autoCreateTime:false"`
}

func (GormPlayer) TableName() string { return "players" }

type GormRoundPlayer struct {
	RoundID  string `gorm:"primaryKey;type:text"`
	PlayerID string `gorm:"primaryKey;type:text"`
}

func (GormRoundPlayer) TableName() string { return "round_players" }

type GormCarChoice struct {
	RoundID  string `gorm:"primaryKey;type:text"`
	PlayerID string `gorm:"primaryKey;type:text"`
	CarName  string `gorm:"not null"`
	ChosenAt int64  `gorm:"not null"`
}

func (GormCarChoice) TableName() string { return "car_choices" }

type GormRoundScore struct {
	RoundID  string `gorm:"primaryKey;type:text"`
	PlayerID string `gorm:"primaryKey;type:text"`
	Points   int    `gorm:"not null;default:0"`
}

func (GormRoundScore) TableName() string { return "round_scores" }

// GormRaceResult holds one placement row; a leg is all rows sharing (RoundID, RaceIndex).
type GormRaceResult struct {
	RoundID   string `gorm:"primaryKey;type:text"`
	RaceIndex int    `gorm:"primaryKey;autoIncrement:false"`
	PlayerID  string `gorm:"primaryKey;type:text"`
	RaceType  string `gorm:"not null"`
	Position  int    `gorm:"not null"`
	Points    int    `gorm:"not null"`
}

func (GormRaceResult) TableName() string { return "race_results" }

type GormTrack struct {
	ID          string `gorm:"primaryKey;type:text"`
	Name        string `gorm:"uniqueIndex;not null"`
	Description *string
	CreatedBy   string `gorm:"not null"`
	CreatedAt   int64  `gorm:"not null;autoCreateTime:false"`
}

func (GormTrack) TableName() string { return "races" }

type GormLapTime struct {
	RaceID     string `gorm:"primaryKey;type:text"`
	PlayerID   string `gorm:"primaryKey;type:text"`
	CarName    string `gorm:"primaryKey;type:text"`
	Laptime    int    `gorm:"not null"`
	IsHistoric bool   `gorm:"not null;default:false"`
	CreatedAt  int64  `gorm:"not null;autoCreateTime:false"`
}

func (GormLapTime) TableName() string { return "times" }

type GormCarImage struct {
	CarName     string `gorm:"primaryKey;type:text"`
	ImageURL    string `gorm:"not null"`
	ConfirmedAt int64  `gorm:"not null"`
}

func (GormCarImage) TableName() string { return "car_images" }

// ToRound converts a row into the domain record.
func (r GormRound) ToRound() Round {
	round := Round{
		ID:            r.ID,
		Class:         r.Class,
		Value:         r.Value,
		RaceType:      RaceType(r.RaceType),
		Year:          r.Year,
		RestrictClass: r.RestrictClass,
		Status:        RoundStatus(r.Status),
		CreatedBy:     r.CreatedBy,
		CreatedAt:     time.UnixMilli(r.CreatedAt),
		Extended:      r.Extended,
	}
	if r.WinnerID != nil {
		round.WinnerID = *r.WinnerID
	}
	return round
}
