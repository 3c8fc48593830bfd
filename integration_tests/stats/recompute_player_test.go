package statsintegrationtests

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/okazune/warstats/models"
	"github.com/okazune/warstats/services"
)

func TestRecomputePlayerReplaysHistoryLosslessly(t *testing.T) {
	deps := SetupStatsService(t)
	cynical := seedPlayer(t, deps, "Cynical")
	seedPlayer(t, deps, "Hero")

	_, err := deps.Stats.PersistWar(deps.Ctx, testGuildID, []models.ResultRow{
		row("Cynical", 102),
		row("Hero", 95),
	}, testRaceCount)
	require.NoError(t, err)
	_, err = deps.Stats.PersistWar(deps.Ctx, testGuildID, []models.ResultRow{
		row("Cynical", 110),
		row("Hero", 80),
	}, testRaceCount)
	require.NoError(t, err)

	before, err := deps.Players.GetByID(deps.Ctx, cynical.ID)
	require.NoError(t, err)
	require.Equal(t, 212, before.TotalScore)
	require.Equal(t, 2.0, before.WarCount)
	require.NotNil(t, before.HighestScore)
	require.NotNil(t, before.LowestScore)

	require.NoError(t, deps.Stats.RecomputePlayer(deps.Ctx, testGuildID, cynical.ID, nil))

	after, err := deps.Players.GetByID(deps.Ctx, cynical.ID)
	require.NoError(t, err)
	require.Equal(t, before.TotalScore, after.TotalScore)
	require.Equal(t, before.TotalRaces, after.TotalRaces)
	require.InDelta(t, before.WarCount, after.WarCount, 1e-9)
	require.InDelta(t, before.AverageScore, after.AverageScore, 1e-9)
	require.Equal(t, before.TotalDifferential, after.TotalDifferential)
	require.InDelta(t, before.ScoreStdDev, after.ScoreStdDev, 1e-9)
	require.InDelta(t, before.Wins, after.Wins, 1e-9)
	require.InDelta(t, before.Losses, after.Losses, 1e-9)
	require.InDelta(t, before.Ties, after.Ties, 1e-9)
	require.InDelta(t, before.WinPct, after.WinPct, 1e-9)
	require.NotNil(t, after.HighestScore)
	require.Equal(t, *before.HighestScore, *after.HighestScore)
	require.NotNil(t, after.LowestScore)
	require.Equal(t, *before.LowestScore, *after.LowestScore)

	history, err := deps.Perfs.ListByPlayer(deps.Ctx, nil, cynical.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestRecomputePlayerAttributesAliasRows(t *testing.T) {
	deps := SetupStatsService(t)
	tay := seedPlayer(t, deps, "Tay")
	hero := seedPlayer(t, deps, "Hero")

	// "TayUSA" matches nobody yet, so only Hero counts here. The raw row
	// still lands in war.Results for later replays.
	war1, err := deps.Stats.PersistWar(deps.Ctx, testGuildID, []models.ResultRow{
		row("TayUSA", 96),
		row("Hero", 90),
	}, testRaceCount)
	require.NoError(t, err)
	require.Equal(t, 90, war1.TeamScore)
	require.Len(t, war1.Results, 2)

	_, err = deps.Stats.PersistWar(deps.Ctx, testGuildID, []models.ResultRow{
		row("Tay", 88),
		row("Hero", 92),
	}, testRaceCount)
	require.NoError(t, err)

	before, err := deps.Players.GetByID(deps.Ctx, tay.ID)
	require.NoError(t, err)
	require.Equal(t, 88, before.TotalScore)
	require.Equal(t, 1.0, before.WarCount)

	require.NoError(t, deps.Stats.RecomputePlayer(deps.Ctx, testGuildID, tay.ID, []string{"TayUSA"}))

	// 96 + 88: every raw row named Tay or TayUSA is now attributed.
	p, err := deps.Players.GetByID(deps.Ctx, tay.ID)
	require.NoError(t, err)
	require.Equal(t, 184, p.TotalScore)
	require.Equal(t, 2.0, p.WarCount)
	require.Equal(t, 24, p.TotalRaces)
	require.InDelta(t, 92.0, p.AverageScore, 1e-9)
	// war1 diff 2*90-984 = -804, war2 diff 2*180-984 = -624.
	require.Equal(t, -804-624, p.TotalDifferential)
	require.InDelta(t, 4.0, p.ScoreStdDev, 1e-9)
	require.Equal(t, 2.0, p.Losses)
	require.NotNil(t, p.HighestScore)
	require.Equal(t, 96, *p.HighestScore)
	require.NotNil(t, p.LowestScore)
	require.Equal(t, 88, *p.LowestScore)

	history, err := deps.Perfs.ListByPlayer(deps.Ctx, nil, tay.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Hero's rows were never touched by the replay.
	h, err := deps.Players.GetByID(deps.Ctx, hero.ID)
	require.NoError(t, err)
	require.Equal(t, 182, h.TotalScore)
	require.Equal(t, 2.0, h.WarCount)

	err = deps.Stats.RecomputePlayer(deps.Ctx, testGuildID+1, tay.ID, nil)
	require.ErrorIs(t, err, services.ErrPlayerNotFound)
}
