package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/okazune/warstats/models"
	"github.com/okazune/warstats/repositories"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePlayerRepo keeps players in a map and hands out copies, the way the
// real repository materializes fresh rows per query.
type fakePlayerRepo struct {
	mu      sync.Mutex
	players map[int]*models.Player
	nextID  int

	listErr error
}

func newFakePlayerRepo(players ...models.Player) *fakePlayerRepo {
	repo := &fakePlayerRepo{players: make(map[int]*models.Player), nextID: 1}
	for i := range players {
		p := players[i]
		if p.ID == 0 {
			p.ID = repo.nextID
		}
		if p.ID >= repo.nextID {
			repo.nextID = p.ID + 1
		}
		repo.players[p.ID] = &p
	}
	return repo
}

func (r *fakePlayerRepo) Create(_ context.Context, player *models.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.players {
		if existing.GuildID == player.GuildID && existing.Name == player.Name {
			return repositories.ErrPlayerNameConflict
		}
	}
	player.ID = r.nextID
	r.nextID++
	player.CreatedAt = time.Now()
	player.UpdatedAt = player.CreatedAt
	stored := *player
	r.players[player.ID] = &stored
	return nil
}

func (r *fakePlayerRepo) GetByID(_ context.Context, id int) (*models.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return nil, repositories.ErrPlayerNotFound
	}
	out := *p
	return &out, nil
}

func (r *fakePlayerRepo) GetForUpdate(ctx context.Context, _ repositories.SQLExecutor, id int) (*models.Player, error) {
	return r.GetByID(ctx, id)
}

func (r *fakePlayerRepo) ListActiveByGuild(_ context.Context, guildID int64) ([]models.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []models.Player
	for _, p := range r.players {
		if p.GuildID == guildID && p.Active {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var fakeSortKeys = map[string]bool{
	"average": true, "total": true, "wars": true,
	"differential": true, "winpct": true, "stddev": true,
}

func (r *fakePlayerRepo) List(_ context.Context, filter repositories.ListPlayersFilter) ([]models.Player, error) {
	if filter.SortBy != "" && !fakeSortKeys[filter.SortBy] {
		return nil, fmt.Errorf("%w: %q", repositories.ErrPlayerInvalidSort, filter.SortBy)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Player
	for _, p := range r.players {
		if p.GuildID != filter.GuildID {
			continue
		}
		if filter.ActiveOnly && !p.Active {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakePlayerRepo) UpdateProfile(_ context.Context, _ repositories.SQLExecutor, player *models.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.players[player.ID]
	if !ok {
		return repositories.ErrPlayerNotFound
	}
	for _, other := range r.players {
		if other.ID != player.ID && other.GuildID == player.GuildID && other.Name == player.Name {
			return repositories.ErrPlayerNameConflict
		}
	}
	stored.Name = player.Name
	stored.Nicknames = append(models.StringList{}, player.Nicknames...)
	stored.Status = player.Status
	stored.Team = player.Team
	stored.Active = player.Active
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *fakePlayerRepo) UpdateAggregates(_ context.Context, _ repositories.SQLExecutor, player *models.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.players[player.ID]
	if !ok {
		return repositories.ErrPlayerNotFound
	}
	stored.TotalScore = player.TotalScore
	stored.TotalRaces = player.TotalRaces
	stored.WarCount = player.WarCount
	stored.AverageScore = player.AverageScore
	stored.TotalDifferential = player.TotalDifferential
	stored.ScoreStdDev = player.ScoreStdDev
	stored.Wins = player.Wins
	stored.Losses = player.Losses
	stored.Ties = player.Ties
	stored.WinPct = player.WinPct
	stored.HighestScore = player.HighestScore
	stored.LowestScore = player.LowestScore
	return nil
}

func (r *fakePlayerRepo) UpdateVolatile(_ context.Context, _ repositories.SQLExecutor, player *models.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.players[player.ID]
	if !ok {
		return repositories.ErrPlayerNotFound
	}
	now := time.Now()
	stored.RecentForm = player.RecentForm
	stored.HotStreak = player.HotStreak
	stored.ClutchFactor = player.ClutchFactor
	stored.Potential = player.Potential
	stored.VolatileUpdatedAt = &now
	player.VolatileUpdatedAt = &now
	return nil
}

func (r *fakePlayerRepo) ClearVolatile(_ context.Context, _ repositories.SQLExecutor, playerIDs []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range playerIDs {
		if p, ok := r.players[id]; ok {
			p.RecentForm = nil
			p.HotStreak = nil
			p.ClutchFactor = nil
			p.Potential = nil
			p.VolatileUpdatedAt = nil
		}
	}
	return nil
}

// fakeStatsService records corrective calls and lets tests script PersistWar.
type fakeStatsService struct {
	mu         sync.Mutex
	persistWar func(ctx context.Context, guildID int64, rows []models.ResultRow, raceCount int) (*models.War, error)
	recomputed []int
	persisted  [][]models.ResultRow
}

func (s *fakeStatsService) PersistWar(ctx context.Context, guildID int64, rows []models.ResultRow, raceCount int) (*models.War, error) {
	s.mu.Lock()
	s.persisted = append(s.persisted, rows)
	fn := s.persistWar
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, guildID, rows, raceCount)
	}
	return &models.War{ID: len(s.persisted), GuildID: guildID, RaceCount: raceCount, Results: rows}, nil
}

func (s *fakeStatsService) CreateWar(ctx context.Context, guildID int64, rows []models.ResultRow, raceCount int) (*models.War, error) {
	return s.PersistWar(ctx, guildID, rows, raceCount)
}

func (s *fakeStatsService) GetWar(context.Context, int64, int) (*models.War, error) {
	return nil, ErrWarNotFound
}

func (s *fakeStatsService) ListWars(context.Context, int64, int, int) ([]models.War, error) {
	return nil, nil
}

func (s *fakeStatsService) DeleteWar(context.Context, int64, int) error { return nil }

func (s *fakeStatsService) PlayerStats(context.Context, int64, string) (*models.Player, error) {
	return nil, ErrPlayerNotFound
}

func (s *fakeStatsService) Leaderboard(context.Context, int64, string, int, int) ([]models.Player, error) {
	return nil, nil
}

func (s *fakeStatsService) RecomputePlayer(_ context.Context, _ int64, playerID int, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recomputed = append(s.recomputed, playerID)
	return nil
}

func (s *fakeStatsService) MergePlayers(context.Context, int64, int, int) error { return nil }

func (s *fakeStatsService) BackfillGuild(_ context.Context, guildID int64, dryRun bool) (*BackfillReport, error) {
	return &BackfillReport{GuildID: guildID, DryRun: dryRun}, nil
}

func (s *fakeStatsService) recomputedIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int{}, s.recomputed...)
}

func (s *fakeStatsService) persistedRows() [][]models.ResultRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]models.ResultRow{}, s.persisted...)
}

// fakeScanSessionRepo mirrors the guarded transitions of the real repository.
type fakeScanSessionRepo struct {
	mu            sync.Mutex
	sessions      map[int]*models.BulkScanSession
	results       map[int]*models.BulkScanResult
	nextSessionID int
	nextResultID  int
}

func newFakeScanSessionRepo() *fakeScanSessionRepo {
	return &fakeScanSessionRepo{
		sessions:      make(map[int]*models.BulkScanSession),
		results:       make(map[int]*models.BulkScanResult),
		nextSessionID: 1,
		nextResultID:  1,
	}
}

func (r *fakeScanSessionRepo) seedSession(session models.BulkScanSession, results ...models.BulkScanResult) *models.BulkScanSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session.ID == 0 {
		session.ID = r.nextSessionID
	}
	if session.ID >= r.nextSessionID {
		r.nextSessionID = session.ID + 1
	}
	stored := session
	r.sessions[session.ID] = &stored
	for i := range results {
		res := results[i]
		if res.ID == 0 {
			res.ID = r.nextResultID
		}
		if res.ID >= r.nextResultID {
			r.nextResultID = res.ID + 1
		}
		res.SessionID = session.ID
		if res.Position == 0 {
			res.Position = i + 1
		}
		storedRes := res
		r.results[res.ID] = &storedRes
	}
	return &stored
}

func (r *fakeScanSessionRepo) CreateSession(_ context.Context, _ repositories.SQLExecutor, session *models.BulkScanSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions {
		if existing.Token == session.Token {
			return repositories.ErrScanSessionTokenConflict
		}
	}
	session.ID = r.nextSessionID
	r.nextSessionID++
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt
	stored := *session
	stored.Results = nil
	r.sessions[session.ID] = &stored
	return nil
}

func (r *fakeScanSessionRepo) GetByToken(_ context.Context, token string) (*models.BulkScanSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Token == token {
			out := *s
			return &out, nil
		}
	}
	return nil, repositories.ErrScanSessionNotFound
}

func (r *fakeScanSessionRepo) UpdateStatus(_ context.Context, _ repositories.SQLExecutor, sessionID int, from, to models.ScanSessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Status != from {
		return repositories.ErrScanSessionStateConflict
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	return nil
}

func (r *fakeScanSessionRepo) CreateResult(_ context.Context, _ repositories.SQLExecutor, result *models.BulkScanResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[result.SessionID]; !ok {
		return repositories.ErrScanResultSessionInvalid
	}
	result.ID = r.nextResultID
	r.nextResultID++
	result.CreatedAt = time.Now()
	result.UpdatedAt = result.CreatedAt
	stored := *result
	r.results[result.ID] = &stored
	return nil
}

func (r *fakeScanSessionRepo) ListResults(_ context.Context, _ repositories.SQLExecutor, sessionID int) ([]models.BulkScanResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BulkScanResult
	for _, res := range r.results {
		if res.SessionID == sessionID {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position == out[j].Position {
			return out[i].ID < out[j].ID
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (r *fakeScanSessionRepo) GetResult(_ context.Context, sessionID, resultID int) (*models.BulkScanResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[resultID]
	if !ok || res.SessionID != sessionID {
		return nil, repositories.ErrScanResultNotFound
	}
	out := *res
	return &out, nil
}

func (r *fakeScanSessionRepo) UpdateResultReview(_ context.Context, _ repositories.SQLExecutor, result *models.BulkScanResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.results[result.ID]
	if !ok || stored.SessionID != result.SessionID {
		return repositories.ErrScanResultNotFound
	}
	stored.Corrected = append(models.ResultRowList{}, result.Corrected...)
	stored.ReviewStatus = result.ReviewStatus
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *fakeScanSessionRepo) ExpirePending(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var count int64
	for _, s := range r.sessions {
		if s.Status == models.SessionPending && now.After(s.ExpiresAt) {
			s.Status = models.SessionExpired
			count++
		}
	}
	return count, nil
}
