package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/okazune/warstats/models"
	"github.com/okazune/warstats/scan"
)

func newScanForTest(repo *fakePlayerRepo) ScanService {
	return NewScanService(scan.NewExtractor(0, 180), NewResolverService(repo), NewValidatorService(6), testLogger(), 12)
}

func TestScanTextEndToEnd(t *testing.T) {
	repo := newFakePlayerRepo(
		rosterPlayer(1, "Cynical"),
		rosterPlayer(2, "Hero"),
		rosterPlayer(3, "Stickman"),
	)
	scanner := newScanForTest(repo)

	outcome, err := scanner.ScanText(context.Background(), 42, "Cynical 102 Hero 95 Stickman 93", 0)
	require.NoError(t, err)

	require.Equal(t, []models.ResultRow{
		{Name: "Cynical", Score: 102},
		{Name: "Hero", Score: 95},
		{Name: "Stickman", Score: 93},
	}, outcome.Rows)
	require.Equal(t, 12, outcome.RaceCount, "race count falls back to the default")
	require.True(t, outcome.Report.IsValid)
	require.Empty(t, outcome.Unmatched)
	for _, r := range outcome.Resolved {
		require.True(t, r.Resolved())
	}
}

func TestScanTextSubstitutesCanonicalNames(t *testing.T) {
	repo := newFakePlayerRepo(rosterPlayer(1, "Cynical", "cyn"))
	scanner := newScanForTest(repo)

	outcome, err := scanner.ScanText(context.Background(), 42, "cyn 102", 12)
	require.NoError(t, err)
	require.Len(t, outcome.Rows, 1)
	require.Equal(t, "Cynical", outcome.Rows[0].Name, "stored rows carry the canonical spelling")
	require.Equal(t, 102, outcome.Rows[0].Score)
}

func TestScanTextKeepsRawSpellingForUnknowns(t *testing.T) {
	repo := newFakePlayerRepo(rosterPlayer(1, "Cynical"))
	scanner := newScanForTest(repo)

	outcome, err := scanner.ScanText(context.Background(), 42, "Cynical 102 Opponent 88", 12)
	require.NoError(t, err)
	require.Equal(t, "Opponent", outcome.Rows[1].Name)
	require.False(t, outcome.Resolved[1].Resolved())
	require.True(t, outcome.Report.IsValid)
}

func TestScanTextReportsOrphanTokens(t *testing.T) {
	repo := newFakePlayerRepo(rosterPlayer(1, "Cynical"))
	scanner := newScanForTest(repo)

	outcome, err := scanner.ScanText(context.Background(), 42, "Cynical 102 95", 12)
	require.NoError(t, err)
	require.Equal(t, []string{"95"}, outcome.Unmatched)

	found := false
	for _, w := range outcome.Report.Warnings {
		if w == `token "95" could not be paired with a score` {
			found = true
		}
	}
	require.True(t, found, "warnings: %v", outcome.Report.Warnings)
}

func TestScanTextGarbageInput(t *testing.T) {
	repo := newFakePlayerRepo(rosterPlayer(1, "Cynical"))
	scanner := newScanForTest(repo)

	outcome, err := scanner.ScanText(context.Background(), 42, "|| .. ;;", 12)
	require.NoError(t, err, "malformed input never errors")
	require.Empty(t, outcome.Rows)
	require.False(t, outcome.Report.IsValid)
}

func TestScanTextNegativeRaceCount(t *testing.T) {
	repo := newFakePlayerRepo(rosterPlayer(1, "Cynical"))
	scanner := newScanForTest(repo)

	_, err := scanner.ScanText(context.Background(), 42, "Cynical 102", -3)
	require.ErrorIs(t, err, ErrWarInvalidRaceCount)
}
