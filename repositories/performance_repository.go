package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/okazune/warstats/models"
)

var (
	ErrPerformancePlayerInvalid = errors.New("performance player conflict or invalid")
	ErrPerformanceWarInvalid    = errors.New("performance war conflict or invalid")
)

type PerformanceRepository interface {
	// Upsert records a player's performance in a war, keyed by
	// (player_id, war_id); if the pair is already recorded the call is a
	// no-op and inserted comes back false.
	Upsert(ctx context.Context, exec SQLExecutor, perf *models.PlayerWarPerformance) (inserted bool, err error)
	ListByPlayer(ctx context.Context, exec SQLExecutor, playerID int) ([]models.PerformanceDetail, error)
	ListPlayerIDsByWar(ctx context.Context, exec SQLExecutor, warID int) ([]int, error)
	DeleteByPlayer(ctx context.Context, exec SQLExecutor, playerID int) (int64, error)
}

type postgresPerformanceRepository struct {
	db *sql.DB
}

func NewPostgresPerformanceRepository(db *sql.DB) PerformanceRepository {
	return &postgresPerformanceRepository{db: db}
}

func (r *postgresPerformanceRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresPerformanceRepository) Upsert(ctx context.Context, exec SQLExecutor, perf *models.PlayerWarPerformance) (bool, error) {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO player_war_performances (player_id, war_id, score, races_played, participation)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (player_id, war_id) DO NOTHING
		RETURNING id, created_at`

	err := executor.QueryRowContext(ctx, query,
		perf.PlayerID,
		perf.WarID,
		perf.Score,
		perf.RacesPlayed,
		perf.Participation,
	).Scan(&perf.ID, &perf.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Conflict path: the pair is already recorded.
			return false, nil
		}
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			switch pqErr.Constraint {
			case "player_war_performances_player_id_fkey":
				return false, ErrPerformancePlayerInvalid
			case "player_war_performances_war_id_fkey":
				return false, ErrPerformanceWarInvalid
			}
		}
		return false, err
	}
	return true, nil
}

// ListByPlayer returns the player's full performance history joined with the
// war fields statistics derivation needs, oldest war first.
func (r *postgresPerformanceRepository) ListByPlayer(ctx context.Context, exec SQLExecutor, playerID int) ([]models.PerformanceDetail, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT
			p.id, p.player_id, p.war_id, p.score, p.races_played, p.participation, p.created_at,
			w.race_count, w.differential, w.created_at
		FROM player_war_performances p
		JOIN wars w ON p.war_id = w.id
		WHERE p.player_id = $1
		ORDER BY w.created_at ASC, w.id ASC`

	rows, err := executor.QueryContext(ctx, query, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	details := make([]models.PerformanceDetail, 0)
	for rows.Next() {
		var d models.PerformanceDetail
		scanErr := rows.Scan(
			&d.ID,
			&d.PlayerID,
			&d.WarID,
			&d.Score,
			&d.RacesPlayed,
			&d.Participation,
			&d.CreatedAt,
			&d.RaceCount,
			&d.Differential,
			&d.WarCreatedAt,
		)
		if scanErr != nil {
			return nil, scanErr
		}
		details = append(details, d)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}

// ListPlayerIDsByWar returns the ids of every player recorded in the war,
// ascending, which is also the order callers must lock them in.
func (r *postgresPerformanceRepository) ListPlayerIDsByWar(ctx context.Context, exec SQLExecutor, warID int) ([]int, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT player_id
		FROM player_war_performances
		WHERE war_id = $1
		ORDER BY player_id ASC`

	rows, err := executor.QueryContext(ctx, query, warID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, scanErr
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *postgresPerformanceRepository) DeleteByPlayer(ctx context.Context, exec SQLExecutor, playerID int) (int64, error) {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx, `DELETE FROM player_war_performances WHERE player_id = $1`, playerID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
