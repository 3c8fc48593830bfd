package statsintegrationtests

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/okazune/warstats/integration_tests/testutils"
	"github.com/okazune/warstats/models"
	"github.com/okazune/warstats/repositories"
	"github.com/okazune/warstats/services"
)

const (
	testGuildID       = int64(42)
	testRaceCount     = 12
	testPointsPerRace = 82
	testTeamSize      = 6
)

// testEnv holds the containerized database shared by every test in this
// package. TestMain owns its lifecycle.
var testEnv *testutils.TestEnvironment

// TestDeps wires the real repositories and the stats service against the
// shared test database.
type TestDeps struct {
	Ctx     context.Context
	Players repositories.PlayerRepository
	Wars    repositories.WarRepository
	Perfs   repositories.PerformanceRepository
	Stats   services.StatsService
}

// SetupStatsService truncates the stats tables and returns fresh dependencies
// backed by the shared container.
func SetupStatsService(t *testing.T) TestDeps {
	t.Helper()

	require.NoError(t, testutils.CleanStatsTables(testEnv.Ctx, testEnv.DB))

	playerRepo := repositories.NewPostgresPlayerRepository(testEnv.DB)
	warRepo := repositories.NewPostgresWarRepository(testEnv.DB)
	perfRepo := repositories.NewPostgresPerformanceRepository(testEnv.DB)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := services.NewResolverService(playerRepo)
	validator := services.NewValidatorService(testTeamSize)
	stats := services.NewStatsService(
		testEnv.DB,
		playerRepo,
		warRepo,
		perfRepo,
		resolver,
		validator,
		logger,
		testRaceCount,
		testPointsPerRace,
	)

	return TestDeps{
		Ctx:     testEnv.Ctx,
		Players: playerRepo,
		Wars:    warRepo,
		Perfs:   perfRepo,
		Stats:   stats,
	}
}

// seedPlayer creates an active roster member and returns it with the id and
// timestamps filled in.
func seedPlayer(t *testing.T, deps TestDeps, name string, nicknames ...string) *models.Player {
	t.Helper()
	player := &models.Player{
		GuildID:   testGuildID,
		Name:      name,
		Nicknames: models.StringList(nicknames),
		Status:    models.StatusMember,
		Active:    true,
	}
	require.NoError(t, deps.Players.Create(deps.Ctx, player))
	return player
}

func row(name string, score int) models.ResultRow {
	return models.ResultRow{Name: name, Score: score}
}

func partialRow(name string, score, races int) models.ResultRow {
	return models.ResultRow{Name: name, Score: score, Races: races}
}
