// persistence/gorm.go
package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/wfunc/racebot/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(dsn string) (*GormPostgreSQL, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// 获取通用数据库对象 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &GormPostgreSQL{db: db}, nil
}

// Migrate 自动迁移表结构
func (g *GormPostgreSQL) Migrate(ctx context.Context) error {
	return g.db.WithContext(ctx).AutoMigrate(
		&models.GormRound{},
		&models.GormPlayer{},
		&models.GormRoundPlayer{},
		&models.GormCarChoice{},
		&models.GormRoundScore{},
		&models.GormRaceResult{},
		&models.GormTrack{},
		&models.GormLapTime{},
		&models.GormCarImage{},
	)
}

// Close 关闭数据库连接
func (g *GormPostgreSQL) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	return err
}

func (g *GormPostgreSQL) CreateRound(ctx context.Context, round models.Round) error {
	row := models.GormRound{
		ID:            round.ID,
		Class:         round.Class,
		Value:         round.Value,
		RaceType:      string(round.RaceType),
		Year:          round.Year,
		Status:        string(round.Status),
		RestrictClass: round.RestrictClass,
		CreatedBy:     round.CreatedBy,
		CreatedAt:     round.CreatedAt.UnixMilli(),
		Extended:      round.Extended,
	}
	if round.WinnerID != "" {
		row.WinnerID = &round.WinnerID
	}
	return g.db.WithContext(ctx).Create(&row).Error
}

func (g *GormPostgreSQL) GetRound(ctx context.Context, id string) (*models.Round, error) {
	var row models.GormRound
	if err := g.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	round := row.ToRound()
	return &round, nil
}

func (g *GormPostgreSQL) GetMostRecentRoundByStatus(ctx context.Context, statuses ...models.RoundStatus) (*models.Round, error) {
	var row models.GormRound
	names := lo.Map(statuses, func(s models.RoundStatus, _ int) string { return string(s) })
	err := g.db.WithContext(ctx).
		Where("status IN ?", names).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		return nil, notFound(err)
	}
	round := row.ToRound()
	return &round, nil
}

func (g *GormPostgreSQL) ListRoundsByStatus(ctx context.Context, status models.RoundStatus) ([]models.Round, error) {
	var rows []models.GormRound
	if err := g.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r models.GormRound, _ int) models.Round { return r.ToRound() }), nil
}

func (g *GormPostgreSQL) updateRound(ctx context.Context, id, column string, value any) error {
	result := g.db.WithContext(ctx).Model(&models.GormRound{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (g *GormPostgreSQL) SetRoundStatus(ctx context.Context, id string, status models.RoundStatus) error {
	return g.updateRound(ctx, id, "status", string(status))
}

func (g *GormPostgreSQL) SetRoundWinner(ctx context.Context, id, playerID string) error {
	return g.updateRound(ctx, id, "winner_id", playerID)
}

func (g *GormPostgreSQL) DeleteRound(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("round_id = ?", id).Delete(&models.GormRoundPlayer{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.GormRound{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

func (g *GormPostgreSQL) MarkSeriesExtended(ctx context.Context, roundID string) error {
	return g.updateRound(ctx, roundID, "extended", true)
}

func (g *GormPostgreSQL) UpsertPlayer(ctx context.Context, player models.Player) error {
	row := models.GormPlayer{
		ID:          player.ID,
		Username:    player.Username,
		DisplayName: player.DisplayName,
		CreatedAt:   time.Now().UnixMilli(),
	}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "display_name"}),
	}).Create(&row).Error
}

func (g *GormPostgreSQL) BindPlayerToRound(ctx context.Context, roundID, playerID string) error {
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.GormRoundPlayer{RoundID: roundID, PlayerID: playerID}).Error
}

func (g *GormPostgreSQL) ListPlayersForRound(ctx context.Context, roundID string) ([]models.Player, error) {
	var players []models.Player
	err := g.db.WithContext(ctx).
		Table("round_players rp").
		Select("p.id, p.username, p.display_name").
		Joins("JOIN players p ON p.id = rp.player_id").
		Where("rp.round_id = ?", roundID).
		Order("p.created_at, p.id").
		Scan(&players).Error
	return players, err
}

func (g *GormPostgreSQL) ReplaceCarChoice(ctx context.Context, choice models.CarChoice) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("round_id = ? AND player_id = ?", choice.RoundID, choice.PlayerID).
			Delete(&models.GormCarChoice{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.GormCarChoice{
			RoundID:  choice.RoundID,
			PlayerID: choice.PlayerID,
			CarName:  choice.CarName,
			ChosenAt: choice.ChosenAt.UnixMilli(),
		}).Error
	})
}

func (g *GormPostgreSQL) GetCarChoicesForRound(ctx context.Context, roundID string) (map[string]string, error) {
	var rows []models.GormCarChoice
	if err := g.db.WithContext(ctx).Where("round_id = ?", roundID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return lo.SliceToMap(rows, func(r models.GormCarChoice) (string, string) { return r.PlayerID, r.CarName }), nil
}

func (g *GormPostgreSQL) UpsertScore(ctx context.Context, roundID, playerID string, points int) error {
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "round_id"}, {Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"points"}),
	}).Create(&models.GormRoundScore{RoundID: roundID, PlayerID: playerID, Points: points}).Error
}

func (g *GormPostgreSQL) GetScores(ctx context.Context, roundID string) (map[string]int, error) {
	var rows []models.GormRoundScore
	if err := g.db.WithContext(ctx).Where("round_id = ?", roundID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return lo.SliceToMap(rows, func(r models.GormRoundScore) (string, int) { return r.PlayerID, r.Points }), nil
}

func (g *GormPostgreSQL) ReplaceRaceResult(ctx context.Context, result models.RaceResult) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("round_id = ? AND race_index = ?", result.RoundID, result.RaceIndex).
			Delete(&models.GormRaceResult{}).Error; err != nil {
			return err
		}
		if len(result.Placements) == 0 {
			return nil
		}
		rows := lo.Map(result.Placements, func(p models.Placement, _ int) models.GormRaceResult {
			return models.GormRaceResult{
				RoundID:   result.RoundID,
				RaceIndex: result.RaceIndex,
				PlayerID:  p.PlayerID,
				RaceType:  string(result.RaceType),
				Position:  p.Position,
				Points:    p.Points,
			}
		})
		return tx.Create(&rows).Error
	})
}

func (g *GormPostgreSQL) DeleteRaceResult(ctx context.Context, roundID string, raceIndex int) error {
	return g.db.WithContext(ctx).Where("round_id = ? AND race_index = ?", roundID, raceIndex).
		Delete(&models.GormRaceResult{}).Error
}

func (g *GormPostgreSQL) ListRaceResults(ctx context.Context, roundID string) ([]models.RaceResult, error) {
	var rows []models.GormRaceResult
	if err := g.db.WithContext(ctx).Where("round_id = ?", roundID).Order("race_index, position").Find(&rows).Error; err != nil {
		return nil, err
	}
	var results []models.RaceResult
	for _, r := range rows {
		if n := len(results); n == 0 || results[n-1].RaceIndex != r.RaceIndex {
			results = append(results, models.RaceResult{RoundID: roundID, RaceIndex: r.RaceIndex, RaceType: models.RaceType(r.RaceType)})
		}
		last := &results[len(results)-1]
		last.Placements = append(last.Placements, models.Placement{PlayerID: r.PlayerID, Position: r.Position, Points: r.Points})
	}
	return results, nil
}

func (g *GormPostgreSQL) CreateTrack(ctx context.Context, track models.Track) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.GormTrack{}).Where("name = ?", track.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
		row := models.GormTrack{ID: track.ID, Name: track.Name, CreatedBy: track.CreatedBy, CreatedAt: track.CreatedAt.UnixMilli()}
		if track.Description != "" {
			row.Description = &track.Description
		}
		return tx.Create(&row).Error
	})
}

func trackFromRow(row models.GormTrack) models.Track {
	return models.Track{
		ID:          row.ID,
		Name:        row.Name,
		Description: lo.FromPtr(row.Description),
		CreatedBy:   row.CreatedBy,
		CreatedAt:   time.UnixMilli(row.CreatedAt),
	}
}

func (g *GormPostgreSQL) GetTrackByName(ctx context.Context, name string) (*models.Track, error) {
	var row models.GormTrack
	if err := g.db.WithContext(ctx).First(&row, "name = ?", name).Error; err != nil {
		return nil, notFound(err)
	}
	track := trackFromRow(row)
	return &track, nil
}

func (g *GormPostgreSQL) ListTracks(ctx context.Context) ([]models.TrackSummary, error) {
	type trackRow struct {
		models.GormTrack
		TimeCount int
	}
	var rows []trackRow
	err := g.db.WithContext(ctx).
		Table("races t").
		Select("t.id, t.name, t.description, t.created_by, t.created_at, COUNT(l.race_id) AS time_count").
		Joins("LEFT JOIN times l ON l.race_id = t.id").
		Group("t.id, t.name, t.description, t.created_by, t.created_at").
		Order("t.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r trackRow, _ int) models.TrackSummary {
		return models.TrackSummary{Track: trackFromRow(r.GormTrack), TimeCount: r.TimeCount}
	}), nil
}

func (g *GormPostgreSQL) UpsertLapTime(ctx context.Context, lap models.LapTime) (bool, error) {
	var existed bool
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.GormLapTime{}).
			Where("race_id = ? AND player_id = ? AND car_name = ?", lap.TrackID, lap.PlayerID, lap.CarName).
			Count(&count).Error; err != nil {
			return err
		}
		existed = count > 0
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "race_id"}, {Name: "player_id"}, {Name: "car_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"laptime", "is_historic", "created_at"}),
		}).Create(&models.GormLapTime{
			RaceID:     lap.TrackID,
			PlayerID:   lap.PlayerID,
			CarName:    lap.CarName,
			Laptime:    lap.LaptimeMS,
			IsHistoric: lap.IsHistoric,
			CreatedAt:  lap.CreatedAt.UnixMilli(),
		}).Error
	})
	return existed, err
}

func (g *GormPostgreSQL) DeleteLapTime(ctx context.Context, trackID, playerID, carName string) (bool, error) {
	result := g.db.WithContext(ctx).
		Where("race_id = ? AND player_id = ? AND car_name = ?", trackID, playerID, carName).
		Delete(&models.GormLapTime{})
	return result.RowsAffected > 0, result.Error
}

func (g *GormPostgreSQL) ListLapTimes(ctx context.Context, filter models.LapTimeFilter) ([]models.LapTimeEntry, error) {
	type lapRow struct {
		RaceID      string
		PlayerID    string
		CarName     string
		Laptime     int
		IsHistoric  bool
		CreatedAt   int64
		TrackName   string
		Username    string
		DisplayName string
	}

	q := g.db.WithContext(ctx).
		Table("times l").
		Select("l.race_id, l.player_id, l.car_name, l.laptime, l.is_historic, l.created_at, t.name AS track_name, " +
			"COALESCE(p.username, '') AS username, COALESCE(p.display_name, '') AS display_name").
		Joins("JOIN races t ON t.id = l.race_id").
		Joins("LEFT JOIN players p ON p.id = l.player_id")
	if !filter.IncludeHistory {
		q = q.Where("l.is_historic = ?", false)
	}
	if filter.TrackName != "" {
		q = q.Where("t.name = ?", filter.TrackName)
	}
	if filter.TrackContains != "" {
		q = q.Where("t.name ILIKE ?", "%"+filter.TrackContains+"%")
	}
	if len(filter.CarNames) > 0 {
		q = q.Where("l.car_name IN ?", filter.CarNames)
	}
	if filter.CarContains != "" {
		q = q.Where("l.car_name ILIKE ?", "%"+filter.CarContains+"%")
	}
	if filter.PlayerID != "" {
		q = q.Where("l.player_id = ?", filter.PlayerID)
	}
	if filter.NewestFirst {
		q = q.Order("l.created_at DESC")
	} else {
		q = q.Order("l.laptime ASC")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []lapRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r lapRow, _ int) models.LapTimeEntry {
		return models.LapTimeEntry{
			LapTime: models.LapTime{
				TrackID:    r.RaceID,
				PlayerID:   r.PlayerID,
				CarName:    r.CarName,
				LaptimeMS:  r.Laptime,
				IsHistoric: r.IsHistoric,
				CreatedAt:  time.UnixMilli(r.CreatedAt),
			},
			TrackName:   r.TrackName,
			PlayerName:  models.Player{Username: r.Username, DisplayName: r.DisplayName}.Name(),
			Username:    r.Username,
			DisplayName: r.DisplayName,
		}
	}), nil
}

func (g *GormPostgreSQL) GetConfirmedCarImage(ctx context.Context, carName string) (string, error) {
	var row models.GormCarImage
	if err := g.db.WithContext(ctx).First(&row, "lower(car_name) = lower(?)", carName).Error; err != nil {
		return "", notFound(err)
	}
	return row.ImageURL, nil
}

func (g *GormPostgreSQL) ConfirmCarImage(ctx context.Context, carName, imageURL string, at time.Time) error {
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "car_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"image_url", "confirmed_at"}),
	}).Create(&models.GormCarImage{CarName: strings.ToLower(carName), ImageURL: imageURL, ConfirmedAt: at.UnixMilli()}).Error
}

func (g *GormPostgreSQL) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	var row models.GormPlayer
	if err := g.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &models.Player{ID: row.ID, Username: row.Username, DisplayName: row.DisplayName}, nil
}

func (g *GormPostgreSQL) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	type row struct {
		ID          string
		Username    string
		DisplayName string
		Wins        int
	}
	var rows []row
	err := g.db.WithContext(ctx).Raw(`
		SELECT p.id, p.username, p.display_name, COUNT(*) AS wins
		FROM rounds r JOIN players p ON p.id = r.winner_id
		WHERE r.status = 'finished'
		GROUP BY p.id, p.username, p.display_name
		ORDER BY wins DESC, p.id
		LIMIT ?`, limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r row, _ int) models.LeaderboardEntry {
		return models.LeaderboardEntry{
			Player: models.Player{ID: r.ID, Username: r.Username, DisplayName: r.DisplayName},
			Wins:   r.Wins,
		}
	}), nil
}

func (g *GormPostgreSQL) FinishedRounds(ctx context.Context, limit int) ([]models.RoundSummary, error) {
	type row struct {
		models.GormRound
		WinnerUsername string
		WinnerDisplay  string
		NumPlayers     int
	}
	var rows []row
	err := g.db.WithContext(ctx).Raw(`
		SELECT r.*, COALESCE(p.username, '') AS winner_username, COALESCE(p.display_name, '') AS winner_display,
			(SELECT COUNT(*) FROM round_players rp WHERE rp.round_id = r.id) AS num_players
		FROM rounds r LEFT JOIN players p ON p.id = r.winner_id
		WHERE r.status = 'finished'
		ORDER BY r.created_at DESC
		LIMIT ?`, limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r row, _ int) models.RoundSummary {
		return models.RoundSummary{
			Round:      r.ToRound(),
			WinnerName: models.Player{Username: r.WinnerUsername, DisplayName: r.WinnerDisplay}.Name(),
			NumPlayers: r.NumPlayers,
		}
	}), nil
}

func (g *GormPostgreSQL) PlayerRounds(ctx context.Context, playerID string) ([]models.PlayerRound, error) {
	type row struct {
		models.GormRound
		ChosenCar string
	}
	var rows []row
	err := g.db.WithContext(ctx).Raw(`
		SELECT r.*, COALESCE(c.car_name, '') AS chosen_car
		FROM rounds r
		JOIN round_players rp ON rp.round_id = r.id AND rp.player_id = ?
		LEFT JOIN car_choices c ON c.round_id = r.id AND c.player_id = ?
		WHERE r.status = 'finished'
		ORDER BY r.created_at DESC`, playerID, playerID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r row, _ int) models.PlayerRound {
		round := r.ToRound()
		return models.PlayerRound{Round: round, CarName: r.ChosenCar, Won: round.WinnerID == playerID}
	}), nil
}

func (g *GormPostgreSQL) CountPlayerRounds(ctx context.Context, playerID string) (int, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&models.GormRoundPlayer{}).Where("player_id = ?", playerID).Count(&count).Error
	return int(count), err
}

func (g *GormPostgreSQL) CountPlayerWins(ctx context.Context, playerID string) (int, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&models.GormRound{}).
		Where("status = ? AND winner_id = ?", string(models.StatusFinished), playerID).
		Count(&count).Error
	return int(count), err
}
