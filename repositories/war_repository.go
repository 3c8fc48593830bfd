package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/okazune/warstats/models"
)

var ErrWarNotFound = errors.New("war not found")

// ListWarsFilter narrows war listings. Wars come back newest first.
type ListWarsFilter struct {
	GuildID int64
	Limit   int
	Offset  int
}

type WarRepository interface {
	Create(ctx context.Context, exec SQLExecutor, war *models.War) error
	GetByID(ctx context.Context, guildID int64, id int) (*models.War, error)
	List(ctx context.Context, filter ListWarsFilter) ([]models.War, error)
	// ListByGuildAfter pages through a guild's wars in ascending id order,
	// returning up to limit wars with id greater than afterID. Used by the
	// history replay to walk the full archive in chunks.
	ListByGuildAfter(ctx context.Context, guildID int64, afterID, limit int) ([]models.War, error)
	CountByGuild(ctx context.Context, guildID int64) (int, error)
	Delete(ctx context.Context, exec SQLExecutor, guildID int64, id int) error
}

type postgresWarRepository struct {
	db *sql.DB
}

func NewPostgresWarRepository(db *sql.DB) WarRepository {
	return &postgresWarRepository{db: db}
}

func (r *postgresWarRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const warColumns = `
	id, guild_id, race_count, points_per_race, results, team_score, differential, created_at`

func (r *postgresWarRepository) Create(ctx context.Context, exec SQLExecutor, war *models.War) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO wars (guild_id, race_count, points_per_race, results, team_score, differential)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return executor.QueryRowContext(ctx, query,
		war.GuildID,
		war.RaceCount,
		war.PointsPerRace,
		war.Results,
		war.TeamScore,
		war.Differential,
	).Scan(&war.ID, &war.CreatedAt)
}

func (r *postgresWarRepository) GetByID(ctx context.Context, guildID int64, id int) (*models.War, error) {
	query := `SELECT` + warColumns + ` FROM wars WHERE id = $1 AND guild_id = $2`

	war, err := scanWar(r.db.QueryRowContext(ctx, query, id, guildID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWarNotFound
		}
		return nil, err
	}
	return war, nil
}

func (r *postgresWarRepository) List(ctx context.Context, filter ListWarsFilter) ([]models.War, error) {
	query := `SELECT` + warColumns + `
		FROM wars
		WHERE guild_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []interface{}{filter.GuildID}
	argID := 2

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

	return collectWars(rows)
}

func (r *postgresWarRepository) ListByGuildAfter(ctx context.Context, guildID int64, afterID, limit int) ([]models.War, error) {
	query := `SELECT` + warColumns + `
		FROM wars
		WHERE guild_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, guildID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectWars(rows)
}

func (r *postgresWarRepository) CountByGuild(ctx context.Context, guildID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wars WHERE guild_id = $1`, guildID).Scan(&count)
	return count, err
}

func (r *postgresWarRepository) Delete(ctx context.Context, exec SQLExecutor, guildID int64, id int) error {
	executor := r.getExecutor(exec)
	// Performance rows go with the war via ON DELETE CASCADE.
	result, err := executor.ExecContext(ctx, `DELETE FROM wars WHERE id = $1 AND guild_id = $2`, id, guildID)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrWarNotFound)
}

func collectWars(rows *sql.Rows) ([]models.War, error) {
	wars := make([]models.War, 0)
	for rows.Next() {
		war, err := scanWar(rows)
		if err != nil {
			return nil, err
		}
		wars = append(wars, *war)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return wars, nil
}

func scanWar(scanner interface{ Scan(dest ...interface{}) error }) (*models.War, error) {
	war := &models.War{}
	err := scanner.Scan(
		&war.ID,
		&war.GuildID,
		&war.RaceCount,
		&war.PointsPerRace,
		&war.Results,
		&war.TeamScore,
		&war.Differential,
		&war.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return war, nil
}
