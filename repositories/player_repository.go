package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/okazune/warstats/models"
)

var (
	ErrPlayerNotFound     = errors.New("player not found")
	ErrPlayerNameConflict = errors.New("player name conflict")
	ErrPlayerInvalidSort  = errors.New("unsupported player sort key")
)

// ListPlayersFilter narrows and orders roster listings. SortBy takes one of
// the keys of playerSortColumns; empty means average score.
type ListPlayersFilter struct {
	GuildID     int64
	Status      *models.PlayerStatus
	Team        *string
	ActiveOnly  bool
	MinWarCount *float64
	SortBy      string
	Limit       int
	Offset      int
}

var playerSortColumns = map[string]string{
	"average":      "average_score",
	"total":        "total_score",
	"wars":         "war_count",
	"differential": "total_differential",
	"winpct":       "win_pct",
	"stddev":       "score_stddev",
}

type PlayerRepository interface {
	Create(ctx context.Context, player *models.Player) error
	GetByID(ctx context.Context, id int) (*models.Player, error)
	GetForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Player, error)
	ListActiveByGuild(ctx context.Context, guildID int64) ([]models.Player, error)
	List(ctx context.Context, filter ListPlayersFilter) ([]models.Player, error)
	UpdateProfile(ctx context.Context, exec SQLExecutor, player *models.Player) error
	UpdateAggregates(ctx context.Context, exec SQLExecutor, player *models.Player) error
	UpdateVolatile(ctx context.Context, exec SQLExecutor, player *models.Player) error
	ClearVolatile(ctx context.Context, exec SQLExecutor, playerIDs []int) error
}

type postgresPlayerRepository struct {
	db *sql.DB
}

func NewPostgresPlayerRepository(db *sql.DB) PlayerRepository {
	return &postgresPlayerRepository{db: db}
}

func (r *postgresPlayerRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const playerColumns = `
	id, guild_id, name, nicknames, status, team, active,
	total_score, total_races, war_count, average_score, total_differential,
	score_stddev, wins, losses, ties, win_pct, highest_score, lowest_score,
	recent_form, hot_streak, clutch_factor, potential, volatile_updated_at,
	created_at, updated_at`

func (r *postgresPlayerRepository) Create(ctx context.Context, player *models.Player) error {
	query := `
		INSERT INTO players (guild_id, name, nicknames, status, team, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		player.GuildID,
		player.Name,
		player.Nicknames,
		player.Status,
		player.Team,
		player.Active,
	).Scan(&player.ID, &player.CreatedAt, &player.UpdatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" && pqErr.Constraint == "players_guild_id_name_key" {
				return ErrPlayerNameConflict
			}
		}
		return err
	}
	return nil
}

func (r *postgresPlayerRepository) GetByID(ctx context.Context, id int) (*models.Player, error) {
	query := `SELECT` + playerColumns + ` FROM players WHERE id = $1`
	return r.scanPlayerRow(r.db.QueryRowContext(ctx, query, id))
}

// GetForUpdate loads a player with a row lock held for the rest of the
// caller's transaction. Callers locking several players must do so in
// ascending id order.
func (r *postgresPlayerRepository) GetForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Player, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + playerColumns + ` FROM players WHERE id = $1 FOR UPDATE`
	return r.scanPlayerRow(executor.QueryRowContext(ctx, query, id))
}

func (r *postgresPlayerRepository) ListActiveByGuild(ctx context.Context, guildID int64) ([]models.Player, error) {
	query := `SELECT` + playerColumns + `
		FROM players
		WHERE guild_id = $1 AND active = TRUE
		ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.collectPlayers(rows)
}

func (r *postgresPlayerRepository) List(ctx context.Context, filter ListPlayersFilter) ([]models.Player, error) {
	sortColumn := playerSortColumns["average"]
	if filter.SortBy != "" {
		col, ok := playerSortColumns[filter.SortBy]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrPlayerInvalidSort, filter.SortBy)
		}
		sortColumn = col
	}

	query := `SELECT` + playerColumns + ` FROM players WHERE guild_id = $1`
	args := []interface{}{filter.GuildID}
	argID := 2

	if filter.ActiveOnly {
		query += " AND active = TRUE"
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, *filter.Status)
		argID++
	}
	if filter.Team != nil {
		query += fmt.Sprintf(" AND team = $%d", argID)
		args = append(args, *filter.Team)
		argID++
	}
	if filter.MinWarCount != nil {
		query += fmt.Sprintf(" AND war_count >= $%d", argID)
		args = append(args, *filter.MinWarCount)
		argID++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC, id ASC", sortColumn)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argID)
		args = append(args, filter.Limit)
		argID++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argID)
		args = append(args, filter.Offset)
		argID++
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.collectPlayers(rows)
}

func (r *postgresPlayerRepository) UpdateProfile(ctx context.Context, exec SQLExecutor, player *models.Player) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE players SET
			name = $1,
			nicknames = $2,
			status = $3,
			team = $4,
			active = $5,
			updated_at = NOW()
		WHERE id = $6`

	result, err := executor.ExecContext(ctx, query,
		player.Name,
		player.Nicknames,
		player.Status,
		player.Team,
		player.Active,
		player.ID,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" && pqErr.Constraint == "players_guild_id_name_key" {
				return ErrPlayerNameConflict
			}
		}
		return err
	}
	return checkAffectedRows(result, ErrPlayerNotFound)
}

// UpdateAggregates writes the incrementally maintained totals together with
// the history-derived block.
func (r *postgresPlayerRepository) UpdateAggregates(ctx context.Context, exec SQLExecutor, player *models.Player) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE players SET
			total_score = $1,
			total_races = $2,
			war_count = $3,
			average_score = $4,
			total_differential = $5,
			score_stddev = $6,
			wins = $7,
			losses = $8,
			ties = $9,
			win_pct = $10,
			highest_score = $11,
			lowest_score = $12,
			updated_at = NOW()
		WHERE id = $13`

	result, err := executor.ExecContext(ctx, query,
		player.TotalScore,
		player.TotalRaces,
		player.WarCount,
		player.AverageScore,
		player.TotalDifferential,
		player.ScoreStdDev,
		player.Wins,
		player.Losses,
		player.Ties,
		player.WinPct,
		player.HighestScore,
		player.LowestScore,
		player.ID,
	)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrPlayerNotFound)
}

func (r *postgresPlayerRepository) UpdateVolatile(ctx context.Context, exec SQLExecutor, player *models.Player) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE players SET
			recent_form = $1,
			hot_streak = $2,
			clutch_factor = $3,
			potential = $4,
			volatile_updated_at = NOW()
		WHERE id = $5
		RETURNING volatile_updated_at`

	err := executor.QueryRowContext(ctx, query,
		player.RecentForm,
		player.HotStreak,
		player.ClutchFactor,
		player.Potential,
		player.ID,
	).Scan(&player.VolatileUpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPlayerNotFound
		}
		return err
	}
	return nil
}

// ClearVolatile drops the lazily computed block for every listed player so
// the next read recomputes it.
func (r *postgresPlayerRepository) ClearVolatile(ctx context.Context, exec SQLExecutor, playerIDs []int) error {
	if len(playerIDs) == 0 {
		return nil
	}
	executor := r.getExecutor(exec)
	query := `
		UPDATE players SET
			recent_form = NULL,
			hot_streak = NULL,
			clutch_factor = NULL,
			potential = NULL,
			volatile_updated_at = NULL
		WHERE id = ANY($1)`

	_, err := executor.ExecContext(ctx, query, pq.Array(playerIDs))
	return err
}

func (r *postgresPlayerRepository) collectPlayers(rows *sql.Rows) ([]models.Player, error) {
	players := make([]models.Player, 0)
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *player)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return players, nil
}

func (r *postgresPlayerRepository) scanPlayerRow(row *sql.Row) (*models.Player, error) {
	player, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}
	return player, nil
}

func scanPlayer(scanner interface{ Scan(dest ...interface{}) error }) (*models.Player, error) {
	player := &models.Player{}
	err := scanner.Scan(
		&player.ID,
		&player.GuildID,
		&player.Name,
		&player.Nicknames,
		&player.Status,
		&player.Team,
		&player.Active,
		&player.TotalScore,
		&player.TotalRaces,
		&player.WarCount,
		&player.AverageScore,
		&player.TotalDifferential,
		&player.ScoreStdDev,
		&player.Wins,
		&player.Losses,
		&player.Ties,
		&player.WinPct,
		&player.HighestScore,
		&player.LowestScore,
		&player.RecentForm,
		&player.HotStreak,
		&player.ClutchFactor,
		&player.Potential,
		&player.VolatileUpdatedAt,
		&player.CreatedAt,
		&player.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return player, nil
}
