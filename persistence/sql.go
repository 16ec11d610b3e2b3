// persistence/sql.go
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL 驱动
	"github.com/wfunc/racebot/models"
	_ "modernc.org/sqlite" // SQLite 驱动
)

// SQL is a Store over database/sql. It speaks both the "postgres" (lib/pq)
// and "sqlite" (modernc) drivers; queries are written with ? placeholders
// and rebound for postgres.
type SQL struct {
	db     *sql.DB
	driver string
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(dsn string) (*SQL, error) {
	return OpenSQL("postgres", dsn)
}

// NewSQLite opens (or creates) the sqlite database at path.
func NewSQLite(path string) (*SQL, error) {
	return OpenSQL("sqlite", path)
}

// OpenSQL opens a database/sql handle for driver and checks the connection.
func OpenSQL(driver, dsn string) (*SQL, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// 设置连接池参数
	if driver == "sqlite" {
		// single writer
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	return &SQL{db: db, driver: driver}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rounds (
		id TEXT PRIMARY KEY,
		class TEXT NOT NULL,
		value INTEGER NOT NULL,
		race_type TEXT NOT NULL,
		year INTEGER,
		status TEXT NOT NULL DEFAULT 'pending',
		restrict_class INTEGER NOT NULL DEFAULT 1,
		created_by TEXT,
		created_at BIGINT NOT NULL,
		winner_id TEXT,
		extended INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rounds_status_created ON rounds(status, created_at)`,
	`CREATE TABLE IF NOT EXISTS players (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		display_name TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS round_players (
		round_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		PRIMARY KEY (round_id, player_id)
	)`,
	`CREATE TABLE IF NOT EXISTS car_choices (
		round_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		car_name TEXT NOT NULL,
		chosen_at BIGINT NOT NULL,
		PRIMARY KEY (round_id, player_id)
	)`,
	`CREATE TABLE IF NOT EXISTS round_scores (
		round_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		points INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (round_id, player_id)
	)`,
	`CREATE TABLE IF NOT EXISTS race_results (
		round_id TEXT NOT NULL,
		race_index INTEGER NOT NULL,
		player_id TEXT NOT NULL,
		race_type TEXT NOT NULL,
		position INTEGER NOT NULL,
		points INTEGER NOT NULL,
		PRIMARY KEY (round_id, race_index, player_id)
	)`,
	`CREATE TABLE IF NOT EXISTS races (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		created_by TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS times (
		race_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		car_name TEXT NOT NULL,
		laptime INTEGER NOT NULL,
		is_historic INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (race_id, player_id, car_name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_times_race_laptime ON times(race_id, laptime)`,
	`CREATE TABLE IF NOT EXISTS car_images (
		car_name TEXT PRIMARY KEY,
		image_url TEXT NOT NULL,
		confirmed_at BIGINT NOT NULL
	)`,
}

// Migrate 初始化数据库表结构
func (s *SQL) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close 关闭数据库连接
func (s *SQL) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQL) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQL) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQL) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// inTx runs fn in a transaction, rolling back on error.
func (s *SQL) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const roundColumns = `r.id, r.class, r.value, r.race_type, r.year, r.restrict_class, r.status, r.created_by, r.created_at, r.winner_id, r.extended`

type scanner interface {
	Scan(dest ...any) error
}

func scanRound(row scanner, extra ...any) (models.Round, error) {
	var (
		round     models.Round
		year      sql.NullInt64
		restrict  int
		createdBy sql.NullString
		createdAt int64
		winner    sql.NullString
		raceType  string
		status    string
		extended  int
	)
	dest := append([]any{&round.ID, &round.Class, &round.Value, &raceType, &year, &restrict, &status, &createdBy, &createdAt, &winner, &extended}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return round, ErrRecordNotFound
		}
		return round, err
	}
	round.RaceType = models.RaceType(raceType)
	round.Status = models.RoundStatus(status)
	round.RestrictClass = restrict != 0
	round.CreatedBy = createdBy.String
	round.CreatedAt = time.UnixMilli(createdAt)
	round.WinnerID = winner.String
	round.Extended = extended != 0
	if year.Valid {
		y := int(year.Int64)
		round.Year = &y
	}
	return round, nil
}

func (s *SQL) CreateRound(ctx context.Context, round models.Round) error {
	var year any
	if round.Year != nil {
		year = *round.Year
	}
	var winner any
	if round.WinnerID != "" {
		winner = round.WinnerID
	}
	_, err := s.exec(ctx, `INSERT INTO rounds (id, class, value, race_type, year, status, restrict_class, created_by, created_at, winner_id, extended)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		round.ID, round.Class, round.Value, string(round.RaceType), year, string(round.Status),
		boolInt(round.RestrictClass), round.CreatedBy, round.CreatedAt.UnixMilli(), winner, boolInt(round.Extended))
	return err
}

func (s *SQL) GetRound(ctx context.Context, id string) (*models.Round, error) {
	round, err := scanRound(s.queryRow(ctx, `SELECT `+roundColumns+` FROM rounds r WHERE r.id = ?`, id))
	if err != nil {
		return nil, err
	}
	return &round, nil
}

func (s *SQL) GetMostRecentRoundByStatus(ctx context.Context, statuses ...models.RoundStatus) (*models.Round, error) {
	if len(statuses) == 0 {
		return nil, ErrRecordNotFound
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	round, err := scanRound(s.queryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds r WHERE r.status IN (`+placeholders+`) ORDER BY r.created_at DESC LIMIT 1`,
		args...))
	if err != nil {
		return nil, err
	}
	return &round, nil
}

func (s *SQL) ListRoundsByStatus(ctx context.Context, status models.RoundStatus) ([]models.Round, error) {
	rows, err := s.query(ctx, `SELECT `+roundColumns+` FROM rounds r WHERE r.status = ? ORDER BY r.created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []models.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, round)
	}
	return rounds, rows.Err()
}

func (s *SQL) updateRound(ctx context.Context, query string, args ...any) error {
	result, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *SQL) SetRoundStatus(ctx context.Context, id string, status models.RoundStatus) error {
	return s.updateRound(ctx, `UPDATE rounds SET status = ? WHERE id = ?`, string(status), id)
}

func (s *SQL) SetRoundWinner(ctx context.Context, id, playerID string) error {
	return s.updateRound(ctx, `UPDATE rounds SET winner_id = ? WHERE id = ?`, playerID, id)
}

func (s *SQL) DeleteRound(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM round_players WHERE round_id = ?`), id); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM rounds WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

func (s *SQL) MarkSeriesExtended(ctx context.Context, roundID string) error {
	return s.updateRound(ctx, `UPDATE rounds SET extended = 1 WHERE id = ?`, roundID)
}

func (s *SQL) UpsertPlayer(ctx context.Context, player models.Player) error {
	_, err := s.exec(ctx, `INSERT INTO players (id, username, display_name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET username = excluded.username, display_name = excluded.display_name`,
		player.ID, player.Username, player.DisplayName, time.Now().UnixMilli())
	return err
}

func (s *SQL) BindPlayerToRound(ctx context.Context, roundID, playerID string) error {
	_, err := s.exec(ctx, `INSERT INTO round_players (round_id, player_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		roundID, playerID)
	return err
}

func (s *SQL) ListPlayersForRound(ctx context.Context, roundID string) ([]models.Player, error) {
	rows, err := s.query(ctx, `SELECT p.id, p.username, p.display_name FROM round_players rp
		JOIN players p ON p.id = rp.player_id WHERE rp.round_id = ? ORDER BY p.created_at, p.id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName); err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *SQL) ReplaceCarChoice(ctx context.Context, choice models.CarChoice) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM car_choices WHERE round_id = ? AND player_id = ?`),
			choice.RoundID, choice.PlayerID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO car_choices (round_id, player_id, car_name, chosen_at) VALUES (?, ?, ?, ?)`),
			choice.RoundID, choice.PlayerID, choice.CarName, choice.ChosenAt.UnixMilli())
		return err
	})
}

func (s *SQL) GetCarChoicesForRound(ctx context.Context, roundID string) (map[string]string, error) {
	rows, err := s.query(ctx, `SELECT player_id, car_name FROM car_choices WHERE round_id = ?`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	choices := make(map[string]string)
	for rows.Next() {
		var playerID, car string
		if err := rows.Scan(&playerID, &car); err != nil {
			return nil, err
		}
		choices[playerID] = car
	}
	return choices, rows.Err()
}

func (s *SQL) UpsertScore(ctx context.Context, roundID, playerID string, points int) error {
	_, err := s.exec(ctx, `INSERT INTO round_scores (round_id, player_id, points) VALUES (?, ?, ?)
		ON CONFLICT (round_id, player_id) DO UPDATE SET points = excluded.points`, roundID, playerID, points)
	return err
}

func (s *SQL) GetScores(ctx context.Context, roundID string) (map[string]int, error) {
	rows, err := s.query(ctx, `SELECT player_id, points FROM round_scores WHERE round_id = ?`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make(map[string]int)
	for rows.Next() {
		var playerID string
		var points int
		if err := rows.Scan(&playerID, &points); err != nil {
			return nil, err
		}
		scores[playerID] = points
	}
	return scores, rows.Err()
}

func (s *SQL) ReplaceRaceResult(ctx context.Context, result models.RaceResult) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM race_results WHERE round_id = ? AND race_index = ?`),
			result.RoundID, result.RaceIndex); err != nil {
			return err
		}
		insert := s.rebind(`INSERT INTO race_results (round_id, race_index, player_id, race_type, position, points) VALUES (?, ?, ?, ?, ?, ?)`)
		for _, p := range result.Placements {
			if _, err := tx.ExecContext(ctx, insert, result.RoundID, result.RaceIndex, p.PlayerID,
				string(result.RaceType), p.Position, p.Points); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQL) DeleteRaceResult(ctx context.Context, roundID string, raceIndex int) error {
	_, err := s.exec(ctx, `DELETE FROM race_results WHERE round_id = ? AND race_index = ?`, roundID, raceIndex)
	return err
}

func (s *SQL) ListRaceResults(ctx context.Context, roundID string) ([]models.RaceResult, error) {
	rows, err := s.query(ctx, `SELECT race_index, race_type, player_id, position, points FROM race_results
		WHERE round_id = ? ORDER BY race_index, position`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.RaceResult
	for rows.Next() {
		var (
			index    int
			raceType string
			p        models.Placement
		)
		if err := rows.Scan(&index, &raceType, &p.PlayerID, &p.Position, &p.Points); err != nil {
			return nil, err
		}
		if n := len(results); n == 0 || results[n-1].RaceIndex != index {
			results = append(results, models.RaceResult{RoundID: roundID, RaceIndex: index, RaceType: models.RaceType(raceType)})
		}
		last := &results[len(results)-1]
		last.Placements = append(last.Placements, p)
	}
	return results, rows.Err()
}

func (s *SQL) CreateTrack(ctx context.Context, track models.Track) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT id FROM races WHERE name = ?`), track.Name).Scan(&existing)
		if err == nil {
			return ErrDuplicate
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		var desc any
		if track.Description != "" {
			desc = track.Description
		}
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO races (id, name, description, created_by, created_at) VALUES (?, ?, ?, ?, ?)`),
			track.ID, track.Name, desc, track.CreatedBy, track.CreatedAt.UnixMilli())
		return err
	})
}

func (s *SQL) GetTrackByName(ctx context.Context, name string) (*models.Track, error) {
	var (
		track     models.Track
		desc      sql.NullString
		createdAt int64
	)
	err := s.queryRow(ctx, `SELECT id, name, description, created_by, created_at FROM races WHERE name = ?`, name).
		Scan(&track.ID, &track.Name, &desc, &track.CreatedBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	track.Description = desc.String
	track.CreatedAt = time.UnixMilli(createdAt)
	return &track, nil
}

func (s *SQL) ListTracks(ctx context.Context) ([]models.TrackSummary, error) {
	rows, err := s.query(ctx, `SELECT t.id, t.name, t.description, t.created_by, t.created_at, COUNT(l.race_id)
		FROM races t LEFT JOIN times l ON l.race_id = t.id
		GROUP BY t.id, t.name, t.description, t.created_by, t.created_at
		ORDER BY t.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []models.TrackSummary
	for rows.Next() {
		var (
			t         models.TrackSummary
			desc      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.Name, &desc, &t.CreatedBy, &createdAt, &t.TimeCount); err != nil {
			return nil, err
		}
		t.Description = desc.String
		t.CreatedAt = time.UnixMilli(createdAt)
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

func (s *SQL) UpsertLapTime(ctx context.Context, lap models.LapTime) (bool, error) {
	var existed bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM times WHERE race_id = ? AND player_id = ? AND car_name = ?`),
			lap.TrackID, lap.PlayerID, lap.CarName).Scan(&n); err != nil {
			return err
		}
		existed = n > 0
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO times (race_id, player_id, car_name, laptime, is_historic, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (race_id, player_id, car_name) DO UPDATE SET
				laptime = excluded.laptime, is_historic = excluded.is_historic, created_at = excluded.created_at`),
			lap.TrackID, lap.PlayerID, lap.CarName, lap.LaptimeMS, boolInt(lap.IsHistoric), lap.CreatedAt.UnixMilli())
		return err
	})
	return existed, err
}

func (s *SQL) DeleteLapTime(ctx context.Context, trackID, playerID, carName string) (bool, error) {
	result, err := s.exec(ctx, `DELETE FROM times WHERE race_id = ? AND player_id = ? AND car_name = ?`,
		trackID, playerID, carName)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (s *SQL) ListLapTimes(ctx context.Context, filter models.LapTimeFilter) ([]models.LapTimeEntry, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeHistory {
		where = append(where, `l.is_historic = 0`)
	}
	if filter.TrackName != "" {
		where = append(where, `t.name = ?`)
		args = append(args, filter.TrackName)
	}
	if filter.TrackContains != "" {
		where = append(where, `lower(t.name) LIKE lower(?)`)
		args = append(args, "%"+filter.TrackContains+"%")
	}
	if len(filter.CarNames) > 0 {
		where = append(where, `l.car_name IN (`+strings.TrimSuffix(strings.Repeat("?, ", len(filter.CarNames)), ", ")+`)`)
		for _, car := range filter.CarNames {
			args = append(args, car)
		}
	}
	if filter.CarContains != "" {
		where = append(where, `lower(l.car_name) LIKE lower(?)`)
		args = append(args, "%"+filter.CarContains+"%")
	}
	if filter.PlayerID != "" {
		where = append(where, `l.player_id = ?`)
		args = append(args, filter.PlayerID)
	}

	query := `SELECT l.race_id, l.player_id, l.car_name, l.laptime, l.is_historic, l.created_at,
		t.name, COALESCE(p.username, ''), COALESCE(p.display_name, '')
		FROM times l JOIN races t ON t.id = l.race_id LEFT JOIN players p ON p.id = l.player_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	if filter.NewestFirst {
		query += ` ORDER BY l.created_at DESC`
	} else {
		query += ` ORDER BY l.laptime ASC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LapTimeEntry
	for rows.Next() {
		var (
			e         models.LapTimeEntry
			historic  int
			createdAt int64
		)
		if err := rows.Scan(&e.TrackID, &e.PlayerID, &e.CarName, &e.LaptimeMS, &historic, &createdAt,
			&e.TrackName, &e.Username, &e.DisplayName); err != nil {
			return nil, err
		}
		e.IsHistoric = historic != 0
		e.CreatedAt = time.UnixMilli(createdAt)
		e.PlayerName = models.Player{Username: e.Username, DisplayName: e.DisplayName}.Name()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQL) GetConfirmedCarImage(ctx context.Context, carName string) (string, error) {
	var url string
	err := s.queryRow(ctx, `SELECT image_url FROM car_images WHERE lower(car_name) = lower(?)`, carName).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRecordNotFound
	}
	return url, err
}

func (s *SQL) ConfirmCarImage(ctx context.Context, carName, imageURL string, at time.Time) error {
	_, err := s.exec(ctx, `INSERT INTO car_images (car_name, image_url, confirmed_at) VALUES (?, ?, ?)
		ON CONFLICT (car_name) DO UPDATE SET image_url = excluded.image_url, confirmed_at = excluded.confirmed_at`,
		strings.ToLower(carName), imageURL, at.UnixMilli())
	return err
}

func (s *SQL) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	var p models.Player
	err := s.queryRow(ctx, `SELECT id, username, display_name FROM players WHERE id = ?`, id).
		Scan(&p.ID, &p.Username, &p.DisplayName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *SQL) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	rows, err := s.query(ctx, `SELECT p.id, p.username, p.display_name, COUNT(*) AS wins
		FROM rounds r JOIN players p ON p.id = r.winner_id
		WHERE r.status = 'finished'
		GROUP BY p.id, p.username, p.display_name
		ORDER BY wins DESC, p.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LeaderboardEntry
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(&e.ID, &e.Username, &e.DisplayName, &e.Wins); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQL) FinishedRounds(ctx context.Context, limit int) ([]models.RoundSummary, error) {
	rows, err := s.query(ctx, `SELECT `+roundColumns+`, COALESCE(p.username, ''), COALESCE(p.display_name, ''),
		(SELECT COUNT(*) FROM round_players rp WHERE rp.round_id = r.id)
		FROM rounds r LEFT JOIN players p ON p.id = r.winner_id
		WHERE r.status = 'finished'
		ORDER BY r.created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.RoundSummary
	for rows.Next() {
		var (
			username, display string
			count             int
		)
		round, err := scanRound(rows, &username, &display, &count)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, models.RoundSummary{
			Round:      round,
			WinnerName: models.Player{Username: username, DisplayName: display}.Name(),
			NumPlayers: count,
		})
	}
	return summaries, rows.Err()
}

func (s *SQL) PlayerRounds(ctx context.Context, playerID string) ([]models.PlayerRound, error) {
	rows, err := s.query(ctx, `SELECT `+roundColumns+`, COALESCE(c.car_name, '')
		FROM rounds r
		JOIN round_players rp ON rp.round_id = r.id AND rp.player_id = ?
		LEFT JOIN car_choices c ON c.round_id = r.id AND c.player_id = ?
		WHERE r.status = 'finished'
		ORDER BY r.created_at DESC`, playerID, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []models.PlayerRound
	for rows.Next() {
		var car string
		round, err := scanRound(rows, &car)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, models.PlayerRound{Round: round, CarName: car, Won: round.WinnerID == playerID})
	}
	return rounds, rows.Err()
}

func (s *SQL) CountPlayerRounds(ctx context.Context, playerID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM round_players WHERE player_id = ?`, playerID).Scan(&n)
	return n, err
}

func (s *SQL) CountPlayerWins(ctx context.Context, playerID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM rounds WHERE status = 'finished' AND winner_id = ?`, playerID).Scan(&n)
	return n, err
}
