package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/okazune/warstats/models"
	"github.com/okazune/warstats/repositories"
)

const (
	// DefaultRaceCount is the length of a standard war.
	DefaultRaceCount = 12
	// DefaultPointsPerRace is the total number of points one race hands out
	// across both teams (15+12+10+9+8+7+6+5+4+3+2+1).
	DefaultPointsPerRace = 82

	// replayChunkSize bounds how many wars a single replay transaction
	// walks, so long archives commit in slices instead of one giant tx.
	replayChunkSize = 200

	// Windows for the lazily computed form metrics.
	recentFormWindow = 5
	potentialWindow  = 10
	// A war decided by no more than this many points per race counts as
	// close for the clutch metric.
	closeWarMarginPerRace = 3
)

// BackfillReport summarizes a guild-wide consistency pass over cached stats.
type BackfillReport struct {
	GuildID  int64         `json:"guild_id"`
	DryRun   bool          `json:"dry_run"`
	Players  int           `json:"players"`
	Wars     int           `json:"wars"`
	Repaired int           `json:"repaired"`
	Drifts   []PlayerDrift `json:"drifts,omitempty"`
	Took     time.Duration `json:"took"`
}

// PlayerDrift is one cached field whose value no longer matches what the
// performance history derives.
type PlayerDrift struct {
	PlayerID int    `json:"player_id"`
	Name     string `json:"name"`
	Field    string `json:"field"`
	Cached   string `json:"cached"`
	Derived  string `json:"derived"`
}

type StatsService interface {
	// PersistWar records a war and folds it into the cached statistics of
	// every resolved roster player, atomically. Rows that resolve to the
	// same player twice, or a war replayed over existing performance rows,
	// do not double-count.
	PersistWar(ctx context.Context, guildID int64, rows []models.ResultRow, raceCount int) (*models.War, error)
	// CreateWar is PersistWar under the name dashboard callers use for
	// manually entered results.
	CreateWar(ctx context.Context, guildID int64, rows []models.ResultRow, raceCount int) (*models.War, error)
	GetWar(ctx context.Context, guildID int64, warID int) (*models.War, error)
	ListWars(ctx context.Context, guildID int64, limit, offset int) ([]models.War, error)
	// DeleteWar removes a war and recomputes every player that drove in it.
	DeleteWar(ctx context.Context, guildID int64, warID int) error
	// PlayerStats resolves a display name and returns the player with the
	// full stat blocks, computing the volatile block on the spot if a
	// previous write wiped it.
	PlayerStats(ctx context.Context, guildID int64, name string) (*models.Player, error)
	Leaderboard(ctx context.Context, guildID int64, sortBy string, limit, offset int) ([]models.Player, error)
	// RecomputePlayer rebuilds one player's statistics from scratch: the
	// existing performance rows are dropped and the guild's full war
	// archive is replayed against the player's names plus extraAliases.
	RecomputePlayer(ctx context.Context, guildID int64, playerID int, extraAliases []string) error
	// MergePlayers folds the source identity into target: source's names
	// become target nicknames, source is deactivated and zeroed, and
	// target's history is replayed so past wars re-attribute.
	MergePlayers(ctx context.Context, guildID int64, sourceID, targetID int) error
	// BackfillGuild re-derives every player's cached statistics from the
	// performance history and reports fields that drifted. With dryRun the
	// drift is only reported, otherwise it is also repaired.
	BackfillGuild(ctx context.Context, guildID int64, dryRun bool) (*BackfillReport, error)
}

type statsService struct {
	db            *sql.DB
	playerRepo    repositories.PlayerRepository
	warRepo       repositories.WarRepository
	perfRepo      repositories.PerformanceRepository
	resolver      ResolverService
	validator     ValidatorService
	logger        *slog.Logger
	raceCount     int
	pointsPerRace int
}

func NewStatsService(
	db *sql.DB,
	playerRepo repositories.PlayerRepository,
	warRepo repositories.WarRepository,
	perfRepo repositories.PerformanceRepository,
	resolver ResolverService,
	validator ValidatorService,
	logger *slog.Logger,
	defaultRaceCount int,
	pointsPerRace int,
) StatsService {
	if defaultRaceCount <= 0 {
		defaultRaceCount = DefaultRaceCount
	}
	if pointsPerRace <= 0 {
		pointsPerRace = DefaultPointsPerRace
	}
	return &statsService{
		db:            db,
		playerRepo:    playerRepo,
		warRepo:       warRepo,
		perfRepo:      perfRepo,
		resolver:      resolver,
		validator:     validator,
		logger:        logger,
		raceCount:     defaultRaceCount,
		pointsPerRace: pointsPerRace,
	}
}

func (s *statsService) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return runInTx(ctx, s.db, s.logger, fn)
}

func (s *statsService) PersistWar(ctx context.Context, guildID int64, rows []models.ResultRow, raceCount int) (*models.War, error) {
	if len(rows) == 0 {
		return nil, ErrWarNoResults
	}
	if raceCount == 0 {
		raceCount = s.raceCount
	}
	if raceCount < 0 {
		return nil, ErrWarInvalidRaceCount
	}
	for _, row := range rows {
		if strings.TrimSpace(row.Name) == "" {
			return nil, fmt.Errorf("%w: row with empty name", ErrWarResultInvalid)
		}
		if row.Races < 0 || row.Races > raceCount {
			return nil, fmt.Errorf("%w: %q drove %d of %d races", ErrWarResultInvalid, row.Name, row.Races, raceCount)
		}
	}

	resolved, err := s.resolver.ResolveRows(ctx, guildID, rows)
	if err != nil {
		return nil, err
	}
	if countResolved(resolved) == 0 {
		return nil, ErrWarNoRosterMatch
	}

	report := s.validator.Validate(guildID, resolved, raceCount)
	for _, w := range report.Warnings {
		s.logger.WarnContext(ctx, "war result warning",
			slog.Int64("guild_id", guildID),
			slog.String("warning", w))
	}
	if !report.IsValid {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(report.Errors, "; "))
	}

	war := &models.War{
		GuildID:       guildID,
		RaceCount:     raceCount,
		PointsPerRace: s.pointsPerRace,
		Results:       rows,
	}
	war.TeamScore = teamScore(resolved)
	war.Differential = warDifferential(war.TeamScore, raceCount, s.pointsPerRace)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.warRepo.Create(ctx, tx, war); err != nil {
			return fmt.Errorf("failed to create war: %w", err)
		}
		return s.applyWarToPlayers(ctx, tx, war, resolved)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "war persisted",
		slog.Int64("guild_id", guildID),
		slog.Int("war_id", war.ID),
		slog.Int("team_score", war.TeamScore),
		slog.Int("differential", war.Differential),
		slog.Int("players", countResolved(resolved)))
	return war, nil
}

func (s *statsService) CreateWar(ctx context.Context, guildID int64, rows []models.ResultRow, raceCount int) (*models.War, error) {
	return s.PersistWar(ctx, guildID, rows, raceCount)
}

// applyWarToPlayers runs steps shared by persist and re-persist: lock every
// resolved player in ascending id order, upsert performance rows, fold newly
// inserted rows into the running aggregates, re-derive the stable block from
// the full history, and wipe the volatile block.
func (s *statsService) applyWarToPlayers(ctx context.Context, tx *sql.Tx, war *models.War, resolved []ResolvedRow) error {
	touched := make(map[int]*models.Player)
	for _, r := range resolved {
		if r.Resolved() {
			touched[r.Player.ID] = nil
		}
	}
	ids := sortedIntKeys(touched)

	for _, id := range ids {
		p, err := s.playerRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("failed to lock player %d: %w", id, err)
		}
		touched[id] = p
	}

	for _, r := range resolved {
		if !r.Resolved() {
			continue
		}
		p := touched[r.Player.ID]
		perf := performanceFor(war, r.Row, p.ID)
		inserted, err := s.perfRepo.Upsert(ctx, tx, perf)
		if err != nil {
			return fmt.Errorf("failed to record performance of player %d in war %d: %w", p.ID, war.ID, err)
		}
		if inserted {
			foldPerformance(p, perf, war.Differential)
		}
	}

	for _, id := range ids {
		p := touched[id]
		history, err := s.perfRepo.ListByPlayer(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("failed to load history of player %d: %w", id, err)
		}
		deriveStable(p, history)
		if err := s.playerRepo.UpdateAggregates(ctx, tx, p); err != nil {
			return fmt.Errorf("failed to update stats of player %d: %w", id, err)
		}
	}

	if err := s.playerRepo.ClearVolatile(ctx, tx, ids); err != nil {
		return fmt.Errorf("failed to clear volatile stats: %w", err)
	}
	return nil
}

func (s *statsService) GetWar(ctx context.Context, guildID int64, warID int) (*models.War, error) {
	war, err := s.warRepo.GetByID(ctx, guildID, warID)
	if err != nil {
		if errors.Is(err, repositories.ErrWarNotFound) {
			return nil, ErrWarNotFound
		}
		return nil, fmt.Errorf("failed to get war %d: %w", warID, err)
	}
	return war, nil
}

func (s *statsService) ListWars(ctx context.Context, guildID int64, limit, offset int) ([]models.War, error) {
	wars, err := s.warRepo.List(ctx, repositories.ListWarsFilter{GuildID: guildID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("failed to list wars of guild %d: %w", guildID, err)
	}
	return wars, nil
}

func (s *statsService) DeleteWar(ctx context.Context, guildID int64, warID int) error {
	if _, err := s.GetWar(ctx, guildID, warID); err != nil {
		return err
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := s.perfRepo.ListPlayerIDsByWar(ctx, tx, warID)
		if err != nil {
			return fmt.Errorf("failed to list players of war %d: %w", warID, err)
		}

		players := make([]*models.Player, 0, len(ids))
		for _, id := range ids {
			p, lockErr := s.playerRepo.GetForUpdate(ctx, tx, id)
			if lockErr != nil {
				return fmt.Errorf("failed to lock player %d: %w", id, lockErr)
			}
			players = append(players, p)
		}

		if err := s.warRepo.Delete(ctx, tx, guildID, warID); err != nil {
			if errors.Is(err, repositories.ErrWarNotFound) {
				return ErrWarNotFound
			}
			return fmt.Errorf("failed to delete war %d: %w", warID, err)
		}

		for _, p := range players {
			history, histErr := s.perfRepo.ListByPlayer(ctx, tx, p.ID)
			if histErr != nil {
				return fmt.Errorf("failed to load history of player %d: %w", p.ID, histErr)
			}
			deriveAggregates(p, history)
			deriveStable(p, history)
			if err := s.playerRepo.UpdateAggregates(ctx, tx, p); err != nil {
				return fmt.Errorf("failed to update stats of player %d: %w", p.ID, err)
			}
		}
		return s.playerRepo.ClearVolatile(ctx, tx, ids)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "war deleted",
		slog.Int64("guild_id", guildID),
		slog.Int("war_id", warID))
	return nil
}

func (s *statsService) PlayerStats(ctx context.Context, guildID int64, name string) (*models.Player, error) {
	roster, err := s.playerRepo.ListActiveByGuild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active roster for guild %d: %w", guildID, err)
	}
	match, _ := MatchPlayer(roster, name)
	if match == nil {
		return nil, ErrPlayerNotFound
	}
	if match.HasVolatileStats() {
		return match, nil
	}

	var out *models.Player
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := s.playerRepo.GetForUpdate(ctx, tx, match.ID)
		if err != nil {
			return fmt.Errorf("failed to lock player %d: %w", match.ID, err)
		}
		// A concurrent read may have filled the block while we waited for
		// the lock.
		if p.HasVolatileStats() {
			out = p
			return nil
		}
		history, err := s.perfRepo.ListByPlayer(ctx, tx, p.ID)
		if err != nil {
			return fmt.Errorf("failed to load history of player %d: %w", p.ID, err)
		}
		deriveVolatile(p, history)
		if err := s.playerRepo.UpdateVolatile(ctx, tx, p); err != nil {
			return fmt.Errorf("failed to store volatile stats of player %d: %w", p.ID, err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *statsService) Leaderboard(ctx context.Context, guildID int64, sortBy string, limit, offset int) ([]models.Player, error) {
	players, err := s.playerRepo.List(ctx, repositories.ListPlayersFilter{
		GuildID:    guildID,
		ActiveOnly: true,
		SortBy:     sortBy,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerInvalidSort) {
			return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		return nil, fmt.Errorf("failed to list leaderboard of guild %d: %w", guildID, err)
	}
	return players, nil
}

func (s *statsService) RecomputePlayer(ctx context.Context, guildID int64, playerID int, extraAliases []string) error {
	player, err := s.playerRepo.GetByID(ctx, playerID)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerNotFound) {
			return ErrPlayerNotFound
		}
		return fmt.Errorf("failed to get player %d: %w", playerID, err)
	}
	if player.GuildID != guildID {
		return ErrPlayerNotFound
	}

	// Replay matches against this player only, under every name it has ever
	// answered to, so rows of other roster members never leak in.
	candidate := *player
	candidate.Nicknames = append(append(models.StringList{}, player.Nicknames...), extraAliases...)
	candidates := []models.Player{candidate}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.playerRepo.GetForUpdate(ctx, tx, playerID); err != nil {
			return fmt.Errorf("failed to lock player %d: %w", playerID, err)
		}
		if _, err := s.perfRepo.DeleteByPlayer(ctx, tx, playerID); err != nil {
			return fmt.Errorf("failed to drop performances of player %d: %w", playerID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	replayed := 0
	afterID := 0
	for {
		wars, err := s.warRepo.ListByGuildAfter(ctx, guildID, afterID, replayChunkSize)
		if err != nil {
			return fmt.Errorf("failed to page wars of guild %d after %d: %w", guildID, afterID, err)
		}
		if len(wars) == 0 {
			break
		}
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			for i := range wars {
				war := &wars[i]
				for _, row := range war.Results {
					match, _ := MatchPlayer(candidates, row.Name)
					if match == nil {
						continue
					}
					perf := performanceFor(war, row, playerID)
					inserted, upErr := s.perfRepo.Upsert(ctx, tx, perf)
					if upErr != nil {
						return fmt.Errorf("failed to re-record war %d for player %d: %w", war.ID, playerID, upErr)
					}
					if inserted {
						replayed++
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		afterID = wars[len(wars)-1].ID
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := s.playerRepo.GetForUpdate(ctx, tx, playerID)
		if err != nil {
			return fmt.Errorf("failed to lock player %d: %w", playerID, err)
		}
		history, err := s.perfRepo.ListByPlayer(ctx, tx, p.ID)
		if err != nil {
			return fmt.Errorf("failed to load history of player %d: %w", p.ID, err)
		}
		deriveAggregates(p, history)
		deriveStable(p, history)
		if err := s.playerRepo.UpdateAggregates(ctx, tx, p); err != nil {
			return fmt.Errorf("failed to update stats of player %d: %w", p.ID, err)
		}
		return s.playerRepo.ClearVolatile(ctx, tx, []int{p.ID})
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "player recomputed",
		slog.Int64("guild_id", guildID),
		slog.Int("player_id", playerID),
		slog.Int("wars_attributed", replayed),
		slog.Int("aliases", len(candidate.Nicknames)+1))
	return nil
}

func (s *statsService) MergePlayers(ctx context.Context, guildID int64, sourceID, targetID int) error {
	if sourceID == targetID {
		return ErrPlayerSelfMerge
	}
	source, err := s.playerRepo.GetByID(ctx, sourceID)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerNotFound) {
			return ErrPlayerNotFound
		}
		return fmt.Errorf("failed to get source player %d: %w", sourceID, err)
	}
	target, err := s.playerRepo.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerNotFound) {
			return ErrPlayerNotFound
		}
		return fmt.Errorf("failed to get target player %d: %w", targetID, err)
	}
	if source.GuildID != target.GuildID {
		return ErrPlayerGuildMismatch
	}
	if source.GuildID != guildID {
		return ErrPlayerNotFound
	}
	// Inactive players never resolve, so history merged into one is stranded.
	if !target.Active {
		return ErrPlayerInactive
	}

	aliases := mergeAliases(target, source)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		first, second := sourceID, targetID
		if first > second {
			first, second = second, first
		}
		for _, id := range []int{first, second} {
			if _, err := s.playerRepo.GetForUpdate(ctx, tx, id); err != nil {
				return fmt.Errorf("failed to lock player %d: %w", id, err)
			}
		}

		target.Nicknames = aliases
		if err := s.playerRepo.UpdateProfile(ctx, tx, target); err != nil {
			return fmt.Errorf("failed to update target player %d: %w", targetID, err)
		}

		source.Active = false
		if err := s.playerRepo.UpdateProfile(ctx, tx, source); err != nil {
			return fmt.Errorf("failed to deactivate source player %d: %w", sourceID, err)
		}
		if _, err := s.perfRepo.DeleteByPlayer(ctx, tx, sourceID); err != nil {
			return fmt.Errorf("failed to drop performances of player %d: %w", sourceID, err)
		}
		deriveAggregates(source, nil)
		deriveStable(source, nil)
		if err := s.playerRepo.UpdateAggregates(ctx, tx, source); err != nil {
			return fmt.Errorf("failed to zero stats of player %d: %w", sourceID, err)
		}
		return s.playerRepo.ClearVolatile(ctx, tx, []int{sourceID})
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "players merged",
		slog.Int64("guild_id", guildID),
		slog.Int("source_id", sourceID),
		slog.Int("target_id", targetID),
		slog.String("target_name", target.Name))

	// Target now owns every alias the source answered to, so a plain replay
	// re-attributes the source's old rows.
	return s.RecomputePlayer(ctx, guildID, targetID, nil)
}

func (s *statsService) BackfillGuild(ctx context.Context, guildID int64, dryRun bool) (*BackfillReport, error) {
	started := time.Now()

	players, err := s.playerRepo.List(ctx, repositories.ListPlayersFilter{GuildID: guildID})
	if err != nil {
		return nil, fmt.Errorf("failed to list players of guild %d: %w", guildID, err)
	}
	wars, err := s.warRepo.CountByGuild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to count wars of guild %d: %w", guildID, err)
	}

	report := &BackfillReport{GuildID: guildID, DryRun: dryRun, Players: len(players), Wars: wars}

	for i := range players {
		cached := players[i]
		history, err := s.perfRepo.ListByPlayer(ctx, nil, cached.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load history of player %d: %w", cached.ID, err)
		}
		derived := cached
		deriveAggregates(&derived, history)
		deriveStable(&derived, history)

		drifts := diffStats(&cached, &derived)
		if len(drifts) == 0 {
			continue
		}
		report.Drifts = append(report.Drifts, drifts...)
		for _, d := range drifts {
			s.logger.ErrorContext(ctx, "cached statistic drifted from history",
				slog.Int64("guild_id", guildID),
				slog.Int("player_id", d.PlayerID),
				slog.String("player", d.Name),
				slog.String("field", d.Field),
				slog.String("cached", d.Cached),
				slog.String("derived", d.Derived))
		}
		if dryRun {
			continue
		}

		err = s.withTx(ctx, func(tx *sql.Tx) error {
			p, err := s.playerRepo.GetForUpdate(ctx, tx, cached.ID)
			if err != nil {
				return fmt.Errorf("failed to lock player %d: %w", cached.ID, err)
			}
			freshHistory, err := s.perfRepo.ListByPlayer(ctx, tx, p.ID)
			if err != nil {
				return fmt.Errorf("failed to load history of player %d: %w", p.ID, err)
			}
			deriveAggregates(p, freshHistory)
			deriveStable(p, freshHistory)
			if err := s.playerRepo.UpdateAggregates(ctx, tx, p); err != nil {
				return fmt.Errorf("failed to repair stats of player %d: %w", p.ID, err)
			}
			return s.playerRepo.ClearVolatile(ctx, tx, []int{p.ID})
		})
		if err != nil {
			return nil, err
		}
		report.Repaired++
	}

	report.Took = time.Since(started)
	s.logger.InfoContext(ctx, "guild backfill finished",
		slog.Int64("guild_id", guildID),
		slog.Bool("dry_run", dryRun),
		slog.Int("players", report.Players),
		slog.Int("drifts", len(report.Drifts)),
		slog.Int("repaired", report.Repaired),
		slog.Duration("took", report.Took))
	return report, nil
}

// --- derivation helpers ---

func countResolved(resolved []ResolvedRow) int {
	n := 0
	for _, r := range resolved {
		if r.Resolved() {
			n++
		}
	}
	return n
}

func teamScore(resolved []ResolvedRow) int {
	total := 0
	for _, r := range resolved {
		if r.Resolved() {
			total += r.Row.Score
		}
	}
	return total
}

// warDifferential is the team score minus the implied opponent score. The
// opponent total is whatever remains of the full point pool, which scales
// with the race count.
func warDifferential(teamScore, raceCount, pointsPerRace int) int {
	return 2*teamScore - pointsPerRace*raceCount
}

func performanceFor(war *models.War, row models.ResultRow, playerID int) *models.PlayerWarPerformance {
	races := row.Races
	if races == 0 {
		races = war.RaceCount
	}
	return &models.PlayerWarPerformance{
		PlayerID:      playerID,
		WarID:         war.ID,
		Score:         row.Score,
		RacesPlayed:   races,
		Participation: float64(races) / float64(war.RaceCount),
	}
}

// foldPerformance advances the running aggregate block by one newly recorded
// performance. A partial war counts fractionally everywhere: the war count,
// the average denominator and the differential share.
func foldPerformance(p *models.Player, perf *models.PlayerWarPerformance, warDiff int) {
	p.TotalScore += perf.Score
	p.TotalRaces += perf.RacesPlayed
	p.WarCount += perf.Participation
	p.TotalDifferential += int(math.Round(float64(warDiff) * perf.Participation))
	if p.WarCount > 0 {
		p.AverageScore = float64(p.TotalScore) / p.WarCount
	} else {
		p.AverageScore = 0
	}
}

// deriveAggregates rebuilds the running aggregate block from the full
// history. It must land on the same values foldPerformance accumulates;
// BackfillGuild reports any divergence.
func deriveAggregates(p *models.Player, history []models.PerformanceDetail) {
	p.TotalScore = 0
	p.TotalRaces = 0
	p.WarCount = 0
	p.AverageScore = 0
	p.TotalDifferential = 0
	for i := range history {
		h := &history[i]
		p.TotalScore += h.Score
		p.TotalRaces += h.RacesPlayed
		p.WarCount += h.Participation
		p.TotalDifferential += int(math.Round(float64(h.Differential) * h.Participation))
	}
	if p.WarCount > 0 {
		p.AverageScore = float64(p.TotalScore) / p.WarCount
	}
}

// deriveStable rebuilds the history-derived block: score spread, weighted
// win/loss/tie record and the extremes among fully driven wars.
func deriveStable(p *models.Player, history []models.PerformanceDetail) {
	p.ScoreStdDev = 0
	p.Wins = 0
	p.Losses = 0
	p.Ties = 0
	p.WinPct = 0
	p.HighestScore = nil
	p.LowestScore = nil
	if len(history) == 0 {
		return
	}

	mean := 0.0
	for i := range history {
		mean += float64(history[i].Score)
	}
	mean /= float64(len(history))
	variance := 0.0
	for i := range history {
		d := float64(history[i].Score) - mean
		variance += d * d
	}
	p.ScoreStdDev = math.Sqrt(variance / float64(len(history)))

	for i := range history {
		h := &history[i]
		switch {
		case h.Differential > 0:
			p.Wins += h.Participation
		case h.Differential < 0:
			p.Losses += h.Participation
		default:
			p.Ties += h.Participation
		}
		if h.FullWar() {
			if p.HighestScore == nil || h.Score > *p.HighestScore {
				p.HighestScore = intPtr(h.Score)
			}
			if p.LowestScore == nil || h.Score < *p.LowestScore {
				p.LowestScore = intPtr(h.Score)
			}
		}
	}
	if total := p.Wins + p.Losses + p.Ties; total > 0 {
		p.WinPct = p.Wins / total * 100
	}
}

// deriveVolatile fills the lazily computed form block from the history. Each
// performance is normalized to a full-war equivalent (score divided by
// participation) before comparisons, so partial wars neither inflate nor
// deflate form.
func deriveVolatile(p *models.Player, history []models.PerformanceDetail) {
	recent := make([]models.PerformanceDetail, len(history))
	copy(recent, history)
	sort.SliceStable(recent, func(i, j int) bool {
		if recent[i].WarCreatedAt.Equal(recent[j].WarCreatedAt) {
			return recent[i].WarID > recent[j].WarID
		}
		return recent[i].WarCreatedAt.After(recent[j].WarCreatedAt)
	})

	form := 0.0
	scoreSum, partSum := 0.0, 0.0
	for i := 0; i < len(recent) && i < recentFormWindow; i++ {
		scoreSum += float64(recent[i].Score)
		partSum += recent[i].Participation
	}
	if partSum > 0 {
		form = scoreSum / partSum
	}

	streak := 0
	for i := range recent {
		if normalizedScore(&recent[i]) >= p.AverageScore {
			streak++
			continue
		}
		break
	}

	clutch := 1.0
	if p.AverageScore > 0 {
		closeSum, closeCount := 0.0, 0
		for i := range recent {
			h := &recent[i]
			margin := h.Differential
			if margin < 0 {
				margin = -margin
			}
			if margin <= closeWarMarginPerRace*h.RaceCount {
				closeSum += normalizedScore(h)
				closeCount++
			}
		}
		if closeCount > 0 {
			clutch = closeSum / float64(closeCount) / p.AverageScore
		}
	}

	potential := 1.0
	if p.AverageScore > 0 {
		best := 0.0
		for i := 0; i < len(recent) && i < potentialWindow; i++ {
			if n := normalizedScore(&recent[i]); n > best {
				best = n
			}
		}
		if best/p.AverageScore > potential {
			potential = best / p.AverageScore
		}
	}

	p.RecentForm = float64Ptr(form)
	p.HotStreak = intPtr(streak)
	p.ClutchFactor = float64Ptr(clutch)
	p.Potential = float64Ptr(potential)
}

func normalizedScore(h *models.PerformanceDetail) float64 {
	if h.Participation <= 0 {
		return 0
	}
	return float64(h.Score) / h.Participation
}

func mergeAliases(target, source *models.Player) models.StringList {
	merged := append(models.StringList{}, target.Nicknames...)
	has := func(name string) bool {
		if strings.EqualFold(target.Name, name) {
			return true
		}
		for _, n := range merged {
			if strings.EqualFold(n, name) {
				return true
			}
		}
		return false
	}
	for _, alias := range source.Aliases() {
		if !has(alias) {
			merged = append(merged, alias)
		}
	}
	return merged
}

func diffStats(cached, derived *models.Player) []PlayerDrift {
	const eps = 1e-6
	var drifts []PlayerDrift
	add := func(field, c, d string) {
		drifts = append(drifts, PlayerDrift{
			PlayerID: cached.ID,
			Name:     cached.Name,
			Field:    field,
			Cached:   c,
			Derived:  d,
		})
	}
	intField := func(field string, c, d int) {
		if c != d {
			add(field, fmt.Sprintf("%d", c), fmt.Sprintf("%d", d))
		}
	}
	floatField := func(field string, c, d float64) {
		if math.Abs(c-d) > eps {
			add(field, fmt.Sprintf("%.4f", c), fmt.Sprintf("%.4f", d))
		}
	}
	optIntField := func(field string, c, d *int) {
		if (c == nil) != (d == nil) || (c != nil && *c != *d) {
			fmtOpt := func(v *int) string {
				if v == nil {
					return "none"
				}
				return fmt.Sprintf("%d", *v)
			}
			add(field, fmtOpt(c), fmtOpt(d))
		}
	}

	intField("total_score", cached.TotalScore, derived.TotalScore)
	intField("total_races", cached.TotalRaces, derived.TotalRaces)
	floatField("war_count", cached.WarCount, derived.WarCount)
	floatField("average_score", cached.AverageScore, derived.AverageScore)
	intField("total_differential", cached.TotalDifferential, derived.TotalDifferential)
	floatField("score_stddev", cached.ScoreStdDev, derived.ScoreStdDev)
	floatField("wins", cached.Wins, derived.Wins)
	floatField("losses", cached.Losses, derived.Losses)
	floatField("ties", cached.Ties, derived.Ties)
	floatField("win_pct", cached.WinPct, derived.WinPct)
	optIntField("highest_score", cached.HighestScore, derived.HighestScore)
	optIntField("lowest_score", cached.LowestScore, derived.LowestScore)
	return drifts
}

func sortedIntKeys(m map[int]*models.Player) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
