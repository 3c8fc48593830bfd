package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okazune/warstats/events"
	"github.com/okazune/warstats/models"
	"github.com/okazune/warstats/repositories"
	"github.com/okazune/warstats/storage"
)

const (
	// DefaultSessionTTL is how long a review session accepts edits before it
	// expires unconfirmed.
	DefaultSessionTTL = 24 * time.Hour

	sessionTokenAttempts = 3
	confirmConcurrency   = 4
)

// ScanImage is one scanned screenshot staged into a new session: the rows the
// pipeline detected plus, optionally, the source image for the reviewer.
type ScanImage struct {
	Rows        models.ResultRowList
	RaceCount   int
	Warnings    []string
	ContentType string
	Body        io.Reader
}

type CreateSessionInput struct {
	GuildID   int64
	CreatorID string
	TTL       time.Duration
	Images    []ScanImage
}

// ReviewInput is a reviewer's verdict on one scanned image. Corrected, when
// set, replaces the detected rows at confirmation time.
type ReviewInput struct {
	Status    models.ReviewStatus
	Corrected models.ResultRowList
}

// ConfirmItem reports what happened to one approved result during
// confirmation.
type ConfirmItem struct {
	ResultID int    `json:"result_id"`
	Position int    `json:"position"`
	WarID    int    `json:"war_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ConfirmReport summarizes a confirmation: the wars that were created and the
// per-result outcomes, including failures that did not block the rest.
type ConfirmReport struct {
	SessionToken string        `json:"session_token"`
	WarIDs       []int         `json:"war_ids"`
	Items        []ConfirmItem `json:"items"`
}

type ScanSessionService interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*models.BulkScanSession, error)
	GetSession(ctx context.Context, token string) (*models.BulkScanSession, error)
	ListResults(ctx context.Context, token string) ([]models.BulkScanResult, error)
	UpdateResult(ctx context.Context, token string, resultID int, review ReviewInput) (*models.BulkScanResult, error)
	ConfirmSession(ctx context.Context, token string) (*ConfirmReport, error)
	CancelSession(ctx context.Context, token string) error
	SweepExpired(ctx context.Context) (int64, error)
}

type scanSessionService struct {
	db          *sql.DB
	sessionRepo repositories.ScanSessionRepository
	stats       StatsService
	uploader    storage.FileUploader
	hub         *events.Hub
	logger      *slog.Logger
	sessionTTL  time.Duration
}

// NewScanSessionService builds the review-session service. The uploader may
// be nil, in which case screenshots are not stored and results carry no image
// reference.
func NewScanSessionService(
	db *sql.DB,
	sessionRepo repositories.ScanSessionRepository,
	stats StatsService,
	uploader storage.FileUploader,
	hub *events.Hub,
	logger *slog.Logger,
	sessionTTL time.Duration,
) ScanSessionService {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &scanSessionService{
		db:          db,
		sessionRepo: sessionRepo,
		stats:       stats,
		uploader:    uploader,
		hub:         hub,
		logger:      logger,
		sessionTTL:  sessionTTL,
	}
}

func (s *scanSessionService) CreateSession(ctx context.Context, input CreateSessionInput) (*models.BulkScanSession, error) {
	if len(input.Images) == 0 {
		return nil, ErrScanSessionEmpty
	}

	images, err := bufferImages(input.Images)
	if err != nil {
		return nil, err
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.sessionTTL
	}

	session := &models.BulkScanSession{
		GuildID:   input.GuildID,
		CreatorID: input.CreatorID,
		Status:    models.SessionPending,
		ExpiresAt: time.Now().Add(ttl),
	}

	var createErr error
	for attempt := 0; attempt < sessionTokenAttempts; attempt++ {
		session.Token = uuid.NewString()
		createErr = s.stageSession(ctx, session, images)
		if createErr == nil {
			s.logger.Info("scan session created",
				slog.String("token", session.Token),
				slog.Int64("guild_id", session.GuildID),
				slog.Int("images", len(images)))
			return session, nil
		}
		if !errors.Is(createErr, repositories.ErrScanSessionTokenConflict) {
			return nil, createErr
		}
	}
	s.logger.Error("failed to generate a unique session token",
		slog.Int("attempts", sessionTokenAttempts),
		slog.Any("error", createErr))
	return nil, ErrScanTokenGeneration
}

// stageSession uploads the screenshots and inserts the session with its
// results in one transaction. A token conflict comes back unwrapped so the
// caller can retry with a fresh token.
func (s *scanSessionService) stageSession(ctx context.Context, session *models.BulkScanSession, images []bufferedImage) error {
	results := make([]models.BulkScanResult, 0, len(images))
	uploadedKeys := make([]string, 0, len(images))
	for i, img := range images {
		raceCount := img.RaceCount
		if raceCount <= 0 {
			raceCount = DefaultRaceCount
		}
		result := models.BulkScanResult{
			Position:     i + 1,
			Detected:     img.Rows,
			ReviewStatus: models.ReviewPending,
			RaceCount:    raceCount,
		}
		if len(img.Warnings) > 0 {
			warn := strings.Join(img.Warnings, "\n")
			result.WarnText = &warn
		}
		if s.uploader != nil && len(img.data) > 0 {
			key, upErr := s.uploadScreenshot(ctx, session.Token, result.Position, img)
			if upErr != nil {
				s.logger.Warn("failed to store scan screenshot",
					slog.String("token", session.Token),
					slog.Int("position", result.Position),
					slog.Any("error", upErr))
			} else {
				result.ImageKey = &key
				uploadedKeys = append(uploadedKeys, key)
			}
		}
		results = append(results, result)
	}

	err := runInTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		if txErr := s.sessionRepo.CreateSession(ctx, tx, session); txErr != nil {
			if errors.Is(txErr, repositories.ErrScanSessionTokenConflict) {
				return txErr
			}
			return fmt.Errorf("failed to create scan session: %w", txErr)
		}
		for i := range results {
			results[i].SessionID = session.ID
			if txErr := s.sessionRepo.CreateResult(ctx, tx, &results[i]); txErr != nil {
				return fmt.Errorf("failed to stage scan result %d: %w", results[i].Position, txErr)
			}
		}
		return nil
	})
	if err != nil {
		s.cleanupScreenshots(uploadedKeys)
		return err
	}

	session.Results = results
	s.attachImageURLs(session.Results)
	return nil
}

func (s *scanSessionService) GetSession(ctx context.Context, token string) (*models.BulkScanSession, error) {
	session, err := s.getSession(ctx, token)
	if err != nil {
		return nil, err
	}
	results, err := s.sessionRepo.ListResults(ctx, nil, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan results: %w", err)
	}
	session.Results = results
	s.attachImageURLs(session.Results)
	return session, nil
}

func (s *scanSessionService) ListResults(ctx context.Context, token string) ([]models.BulkScanResult, error) {
	session, err := s.getSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionExpired {
		return nil, ErrScanSessionExpired
	}
	results, err := s.sessionRepo.ListResults(ctx, nil, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan results: %w", err)
	}
	s.attachImageURLs(results)
	return results, nil
}

func (s *scanSessionService) UpdateResult(ctx context.Context, token string, resultID int, review ReviewInput) (*models.BulkScanResult, error) {
	session, err := s.pendingSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if !review.Status.Valid() {
		return nil, ErrScanReviewInvalid
	}

	result, err := s.sessionRepo.GetResult(ctx, session.ID, resultID)
	if err != nil {
		if errors.Is(err, repositories.ErrScanResultNotFound) {
			return nil, ErrScanResultNotFound
		}
		return nil, fmt.Errorf("failed to get scan result: %w", err)
	}

	for _, row := range review.Corrected {
		if strings.TrimSpace(row.Name) == "" || row.Score < 0 || row.Races < 0 || row.Races > result.RaceCount {
			return nil, ErrWarResultInvalid
		}
	}

	result.Corrected = review.Corrected
	result.ReviewStatus = review.Status
	if err := s.sessionRepo.UpdateResultReview(ctx, nil, result); err != nil {
		if errors.Is(err, repositories.ErrScanResultNotFound) {
			return nil, ErrScanResultNotFound
		}
		return nil, fmt.Errorf("failed to update scan result: %w", err)
	}

	s.attachImageURL(result)
	s.hub.BroadcastToRoom(events.SessionRoom(token), events.Event{
		Type:    events.TypeResultUpdated,
		Payload: result,
	})
	return result, nil
}

func (s *scanSessionService) ConfirmSession(ctx context.Context, token string) (*ConfirmReport, error) {
	session, err := s.pendingSession(ctx, token)
	if err != nil {
		return nil, err
	}
	results, err := s.sessionRepo.ListResults(ctx, nil, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan results: %w", err)
	}

	// Completing first makes a concurrent confirm lose the guarded update
	// instead of persisting every war twice.
	if err := s.sessionRepo.UpdateStatus(ctx, nil, session.ID, models.SessionPending, models.SessionCompleted); err != nil {
		if errors.Is(err, repositories.ErrScanSessionStateConflict) {
			return nil, ErrScanSessionNotPending
		}
		return nil, fmt.Errorf("failed to complete scan session: %w", err)
	}

	approved := make([]models.BulkScanResult, 0, len(results))
	for _, result := range results {
		if result.ReviewStatus == models.ReviewApproved {
			approved = append(approved, result)
		}
	}

	report := &ConfirmReport{
		SessionToken: token,
		WarIDs:       make([]int, 0, len(approved)),
		Items:        make([]ConfirmItem, len(approved)),
	}
	wars := make([]*models.War, len(approved))

	// One failed persist must not block the others; failures are collected
	// into the report instead of cancelling the group.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(confirmConcurrency)
	for i := range approved {
		result := approved[i]
		g.Go(func() error {
			item := ConfirmItem{ResultID: result.ID, Position: result.Position}
			war, persistErr := s.stats.PersistWar(gctx, session.GuildID, result.EffectiveRows(), result.RaceCount)
			if persistErr != nil {
				item.Error = persistErr.Error()
				s.logger.Error("failed to persist war from scan result",
					slog.String("token", token),
					slog.Int("result_id", result.ID),
					slog.Any("error", persistErr))
			} else {
				item.WarID = war.ID
				wars[i] = war
			}
			report.Items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	room := events.SessionRoom(token)
	for _, war := range wars {
		if war == nil {
			continue
		}
		report.WarIDs = append(report.WarIDs, war.ID)
		s.hub.BroadcastToRoom(room, events.Event{Type: events.TypeWarCreated, Payload: war})
	}
	s.hub.BroadcastToRoom(room, events.Event{Type: events.TypeSessionConfirmed, Payload: report})

	s.logger.Info("scan session confirmed",
		slog.String("token", token),
		slog.Int64("guild_id", session.GuildID),
		slog.Int("wars_created", len(report.WarIDs)),
		slog.Int("failed", len(report.Items)-len(report.WarIDs)))
	return report, nil
}

func (s *scanSessionService) CancelSession(ctx context.Context, token string) error {
	session, err := s.pendingSession(ctx, token)
	if err != nil {
		return err
	}
	if err := s.sessionRepo.UpdateStatus(ctx, nil, session.ID, models.SessionPending, models.SessionCancelled); err != nil {
		if errors.Is(err, repositories.ErrScanSessionStateConflict) {
			return ErrScanSessionNotPending
		}
		return fmt.Errorf("failed to cancel scan session: %w", err)
	}
	session.Status = models.SessionCancelled

	s.hub.BroadcastToRoom(events.SessionRoom(token), events.Event{
		Type:    events.TypeSessionCancelled,
		Payload: session,
	})
	s.logger.Info("scan session cancelled",
		slog.String("token", token),
		slog.Int64("guild_id", session.GuildID))
	return nil
}

func (s *scanSessionService) SweepExpired(ctx context.Context) (int64, error) {
	count, err := s.sessionRepo.ExpirePending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to expire scan sessions: %w", err)
	}
	if count > 0 {
		s.logger.Info("expired stale scan sessions", slog.Int64("count", count))
	}
	return count, nil
}

// getSession loads a session and materializes a lapsed deadline as the
// expired status before anyone acts on stale pending state.
func (s *scanSessionService) getSession(ctx context.Context, token string) (*models.BulkScanSession, error) {
	session, err := s.sessionRepo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repositories.ErrScanSessionNotFound) {
			return nil, ErrScanSessionNotFound
		}
		return nil, fmt.Errorf("failed to get scan session: %w", err)
	}
	if session.Status == models.SessionPending && session.ExpiredAt(time.Now()) {
		err := s.sessionRepo.UpdateStatus(ctx, nil, session.ID, models.SessionPending, models.SessionExpired)
		switch {
		case err == nil:
			session.Status = models.SessionExpired
		case errors.Is(err, repositories.ErrScanSessionStateConflict):
			// Lost the race to another transition; reload the real state.
			session, err = s.sessionRepo.GetByToken(ctx, token)
			if err != nil {
				return nil, fmt.Errorf("failed to get scan session: %w", err)
			}
		default:
			return nil, fmt.Errorf("failed to expire scan session: %w", err)
		}
	}
	return session, nil
}

// pendingSession guards mutations: only a pending, unexpired session may be
// edited, confirmed, or cancelled.
func (s *scanSessionService) pendingSession(ctx context.Context, token string) (*models.BulkScanSession, error) {
	session, err := s.getSession(ctx, token)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case models.SessionPending:
		return session, nil
	case models.SessionExpired:
		return nil, ErrScanSessionExpired
	default:
		return nil, ErrScanSessionNotPending
	}
}

type bufferedImage struct {
	Rows      models.ResultRowList
	RaceCount int
	Warnings  []string

	contentType string
	data        []byte
}

// bufferImages drains the image readers up front so a token-conflict retry
// can re-upload them.
func bufferImages(images []ScanImage) ([]bufferedImage, error) {
	buffered := make([]bufferedImage, 0, len(images))
	for i, img := range images {
		b := bufferedImage{
			Rows:        img.Rows,
			RaceCount:   img.RaceCount,
			Warnings:    img.Warnings,
			contentType: img.ContentType,
		}
		if img.Body != nil {
			data, err := io.ReadAll(img.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read scan image %d: %w", i+1, err)
			}
			b.data = data
		}
		buffered = append(buffered, b)
	}
	return buffered, nil
}

func (s *scanSessionService) uploadScreenshot(ctx context.Context, token string, position int, img bufferedImage) (string, error) {
	ext, err := GetExtensionFromContentType(img.contentType)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("scans/%s/%d%s", token, position, ext)
	if _, err := s.uploader.Upload(ctx, key, img.contentType, bytes.NewReader(img.data)); err != nil {
		return "", err
	}
	return key, nil
}

// cleanupScreenshots removes uploads left behind by a failed staging attempt.
func (s *scanSessionService) cleanupScreenshots(keys []string) {
	if s.uploader == nil {
		return
	}
	for _, key := range keys {
		if err := s.uploader.Delete(context.Background(), key); err != nil {
			s.logger.Warn("failed to delete orphaned screenshot",
				slog.String("key", key),
				slog.Any("error", err))
		}
	}
}

func (s *scanSessionService) attachImageURL(result *models.BulkScanResult) {
	if s.uploader == nil || result.ImageKey == nil {
		return
	}
	if url := s.uploader.GetPublicURL(*result.ImageKey); url != "" {
		result.ImageURL = &url
	}
}

func (s *scanSessionService) attachImageURLs(results []models.BulkScanResult) {
	for i := range results {
		s.attachImageURL(&results[i])
	}
}
