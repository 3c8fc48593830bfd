package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/okazune/warstats/models"
)

var (
	ErrScanSessionNotFound      = errors.New("scan session not found")
	ErrScanSessionTokenConflict = errors.New("scan session token conflict")
	ErrScanSessionStateConflict = errors.New("scan session state conflict")
	ErrScanResultNotFound       = errors.New("scan result not found")
	ErrScanResultSessionInvalid = errors.New("scan result session conflict or invalid")
)

type ScanSessionRepository interface {
	CreateSession(ctx context.Context, exec SQLExecutor, session *models.BulkScanSession) error
	GetByToken(ctx context.Context, token string) (*models.BulkScanSession, error)
	// UpdateStatus moves a session from one status to another. The
	// transition is guarded: if the session is no longer in from, nothing
	// changes and ErrScanSessionStateConflict comes back.
	UpdateStatus(ctx context.Context, exec SQLExecutor, sessionID int, from, to models.ScanSessionStatus) error
	CreateResult(ctx context.Context, exec SQLExecutor, result *models.BulkScanResult) error
	ListResults(ctx context.Context, exec SQLExecutor, sessionID int) ([]models.BulkScanResult, error)
	GetResult(ctx context.Context, sessionID, resultID int) (*models.BulkScanResult, error)
	UpdateResultReview(ctx context.Context, exec SQLExecutor, result *models.BulkScanResult) error
	// ExpirePending flips every pending session past its deadline to
	// expired and returns how many were flipped.
	ExpirePending(ctx context.Context) (int64, error)
}

type postgresScanSessionRepository struct {
	db *sql.DB
}

func NewPostgresScanSessionRepository(db *sql.DB) ScanSessionRepository {
	return &postgresScanSessionRepository{db: db}
}

func (r *postgresScanSessionRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresScanSessionRepository) CreateSession(ctx context.Context, exec SQLExecutor, session *models.BulkScanSession) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO bulk_scan_sessions (token, guild_id, creator_id, status, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := executor.QueryRowContext(ctx, query,
		session.Token,
		session.GuildID,
		session.CreatorID,
		session.Status,
		session.ExpiresAt,
	).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" && pqErr.Constraint == "bulk_scan_sessions_token_key" {
				return ErrScanSessionTokenConflict
			}
		}
		return err
	}
	return nil
}

func (r *postgresScanSessionRepository) GetByToken(ctx context.Context, token string) (*models.BulkScanSession, error) {
	query := `
		SELECT id, token, guild_id, creator_id, status, expires_at, created_at, updated_at
		FROM bulk_scan_sessions
		WHERE token = $1`

	session := &models.BulkScanSession{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&session.ID,
		&session.Token,
		&session.GuildID,
		&session.CreatorID,
		&session.Status,
		&session.ExpiresAt,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScanSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

func (r *postgresScanSessionRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, sessionID int, from, to models.ScanSessionStatus) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE bulk_scan_sessions
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	result, err := executor.ExecContext(ctx, query, to, sessionID, from)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrScanSessionStateConflict)
}

func (r *postgresScanSessionRepository) CreateResult(ctx context.Context, exec SQLExecutor, result *models.BulkScanResult) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO bulk_scan_results
			(session_id, position, detected, corrected, review_status, race_count, image_key, warn_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := executor.QueryRowContext(ctx, query,
		result.SessionID,
		result.Position,
		result.Detected,
		result.Corrected,
		result.ReviewStatus,
		result.RaceCount,
		result.ImageKey,
		result.WarnText,
	).Scan(&result.ID, &result.CreatedAt, &result.UpdatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23503" && pqErr.Constraint == "bulk_scan_results_session_id_fkey" {
				return ErrScanResultSessionInvalid
			}
		}
		return err
	}
	return nil
}

func (r *postgresScanSessionRepository) ListResults(ctx context.Context, exec SQLExecutor, sessionID int) ([]models.BulkScanResult, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT id, session_id, position, detected, corrected, review_status, race_count, image_key, warn_text, created_at, updated_at
		FROM bulk_scan_results
		WHERE session_id = $1
		ORDER BY position ASC, id ASC`

	rows, err := executor.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]models.BulkScanResult, 0)
	for rows.Next() {
		result, scanErr := scanScanResult(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		results = append(results, *result)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *postgresScanSessionRepository) GetResult(ctx context.Context, sessionID, resultID int) (*models.BulkScanResult, error) {
	query := `
		SELECT id, session_id, position, detected, corrected, review_status, race_count, image_key, warn_text, created_at, updated_at
		FROM bulk_scan_results
		WHERE id = $1 AND session_id = $2`

	result, err := scanScanResult(r.db.QueryRowContext(ctx, query, resultID, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScanResultNotFound
		}
		return nil, err
	}
	return result, nil
}

func (r *postgresScanSessionRepository) UpdateResultReview(ctx context.Context, exec SQLExecutor, result *models.BulkScanResult) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE bulk_scan_results
		SET corrected = $1, review_status = $2, updated_at = NOW()
		WHERE id = $3 AND session_id = $4`

	res, err := executor.ExecContext(ctx, query,
		result.Corrected,
		result.ReviewStatus,
		result.ID,
		result.SessionID,
	)
	if err != nil {
		return err
	}
	return checkAffectedRows(res, ErrScanResultNotFound)
}

func (r *postgresScanSessionRepository) ExpirePending(ctx context.Context) (int64, error) {
	query := `
		UPDATE bulk_scan_sessions
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at <= NOW()`

	result, err := r.db.ExecContext(ctx, query, models.SessionExpired, models.SessionPending)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanScanResult(scanner interface{ Scan(dest ...interface{}) error }) (*models.BulkScanResult, error) {
	result := &models.BulkScanResult{}
	err := scanner.Scan(
		&result.ID,
		&result.SessionID,
		&result.Position,
		&result.Detected,
		&result.Corrected,
		&result.ReviewStatus,
		&result.RaceCount,
		&result.ImageKey,
		&result.WarnText,
		&result.CreatedAt,
		&result.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}
