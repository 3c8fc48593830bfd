package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/okazune/warstats/models"
	"github.com/okazune/warstats/scan"
)

// ScanOutcome is everything one block of OCR text produced: result rows with
// canonical names substituted where resolution succeeded, the tokens that
// paired with nothing, and the plausibility report.
type ScanOutcome struct {
	Rows      []models.ResultRow      `json:"rows"`
	Resolved  []ResolvedRow           `json:"resolved"`
	Unmatched []string                `json:"unmatched,omitempty"`
	Report    models.ValidationReport `json:"report"`
	RaceCount int                     `json:"race_count"`
}

type ScanService interface {
	// ScanText runs OCR text through extraction, name resolution and
	// validation. Nothing is persisted; the outcome either feeds an
	// immediate persist or gets staged into a review session.
	ScanText(ctx context.Context, guildID int64, text string, raceCount int) (*ScanOutcome, error)
}

type scanService struct {
	extractor *scan.Extractor
	resolver  ResolverService
	validator ValidatorService
	logger    *slog.Logger
	raceCount int
}

func NewScanService(
	extractor *scan.Extractor,
	resolver ResolverService,
	validator ValidatorService,
	logger *slog.Logger,
	defaultRaceCount int,
) ScanService {
	if defaultRaceCount <= 0 {
		defaultRaceCount = DefaultRaceCount
	}
	return &scanService{
		extractor: extractor,
		resolver:  resolver,
		validator: validator,
		logger:    logger,
		raceCount: defaultRaceCount,
	}
}

func (s *scanService) ScanText(ctx context.Context, guildID int64, text string, raceCount int) (*ScanOutcome, error) {
	if raceCount == 0 {
		raceCount = s.raceCount
	}
	if raceCount < 0 {
		return nil, ErrWarInvalidRaceCount
	}

	extraction := s.extractor.Extract(text)

	rows := make([]models.ResultRow, 0, len(extraction.Pairs))
	for _, pair := range extraction.Pairs {
		rows = append(rows, models.ResultRow{Name: pair.Name, Score: pair.Score})
	}

	resolved, err := s.resolver.ResolveRows(ctx, guildID, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scanned rows: %w", err)
	}

	// Substitute canonical spellings so stored rows resolve by exact match
	// from here on. Unresolved rows keep the raw OCR spelling.
	for i := range resolved {
		if resolved[i].Resolved() {
			rows[i].Name = resolved[i].Player.Name
		}
	}

	report := s.validator.Validate(guildID, resolved, raceCount)
	for _, tok := range extraction.Unmatched {
		report.Warn(fmt.Sprintf("token %q could not be paired with a score", tok))
	}

	s.logger.DebugContext(ctx, "scan processed",
		slog.Int64("guild_id", guildID),
		slog.Int("rows", len(rows)),
		slog.Int("unmatched_tokens", len(extraction.Unmatched)),
		slog.Bool("valid", report.IsValid))

	return &ScanOutcome{
		Rows:      rows,
		Resolved:  resolved,
		Unmatched: extraction.Unmatched,
		Report:    report,
		RaceCount: raceCount,
	}, nil
}
