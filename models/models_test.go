package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStringListContains(t *testing.T) {
	list := StringList{"Cynical", "cyn"}

	require.True(t, list.Contains("cyn"))
	require.False(t, list.Contains("CYN"), "Contains is case-sensitive")
	require.True(t, list.ContainsFold("CYN"))
	require.False(t, list.ContainsFold("hero"))
}

func TestStringListScan(t *testing.T) {
	var list StringList
	require.NoError(t, list.Scan([]byte(`["cyn","legend"]`)))
	require.Equal(t, StringList{"cyn", "legend"}, list)

	require.NoError(t, list.Scan(nil))
	require.Nil(t, list)

	require.Error(t, list.Scan("not bytes"))
}

func TestStringListValue(t *testing.T) {
	v, err := StringList(nil).Value()
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(v.([]byte)), "a nil list stores as an empty array")

	v, err = StringList{"cyn"}.Value()
	require.NoError(t, err)
	require.JSONEq(t, `["cyn"]`, string(v.([]byte)))
}

func TestResultRowListScan(t *testing.T) {
	var rows ResultRowList
	require.NoError(t, rows.Scan([]byte(`[{"name":"Cynical","score":102},{"name":"Hero","score":95,"races":7}]`)))
	require.Equal(t, ResultRowList{
		{Name: "Cynical", Score: 102},
		{Name: "Hero", Score: 95, Races: 7},
	}, rows)

	require.Error(t, rows.Scan(42))
}

func TestPlayerAliases(t *testing.T) {
	p := Player{Name: "Cynical", Nicknames: StringList{"cyn", "legend"}}
	require.Equal(t, []string{"Cynical", "cyn", "legend"}, p.Aliases())

	bare := Player{Name: "Hero"}
	require.Equal(t, []string{"Hero"}, bare.Aliases())
}

func TestPlayerHasVolatileStats(t *testing.T) {
	form, clutch, potential := 94.0, 1.02, 1.17
	streak := 3

	full := Player{RecentForm: &form, HotStreak: &streak, ClutchFactor: &clutch, Potential: &potential}
	require.True(t, full.HasVolatileStats())

	partial := full
	partial.HotStreak = nil
	require.False(t, partial.HasVolatileStats(), "one missing value means the block must be recomputed")

	require.False(t, (&Player{}).HasVolatileStats())
}

func TestWarScores(t *testing.T) {
	war := War{RaceCount: 12, PointsPerRace: 82, TeamScore: 537}

	require.Equal(t, 984, war.TotalPool())
	require.Equal(t, 447, war.OpponentScore())
}

func TestScanSessionStatus(t *testing.T) {
	for _, status := range []ScanSessionStatus{SessionPending, SessionCompleted, SessionCancelled, SessionExpired} {
		require.True(t, status.Valid(), string(status))
	}
	require.False(t, ScanSessionStatus("archived").Valid())

	require.False(t, SessionPending.Terminal())
	for _, status := range []ScanSessionStatus{SessionCompleted, SessionCancelled, SessionExpired} {
		require.True(t, status.Terminal(), string(status))
	}
}

func TestReviewStatus(t *testing.T) {
	for _, status := range []ReviewStatus{ReviewPending, ReviewApproved, ReviewRejected} {
		require.True(t, status.Valid(), string(status))
	}
	require.False(t, ReviewStatus("maybe").Valid())
}

func TestSessionExpiredAt(t *testing.T) {
	deadline := time.Now()
	session := BulkScanSession{ExpiresAt: deadline}

	require.False(t, session.ExpiredAt(deadline.Add(-time.Second)))
	require.True(t, session.ExpiredAt(deadline.Add(time.Second)))
}

func TestEffectiveRows(t *testing.T) {
	detected := ResultRowList{{Name: "Cynical", Score: 102}}
	corrected := ResultRowList{{Name: "Cynical", Score: 104}}

	result := BulkScanResult{Detected: detected}
	require.Equal(t, detected, result.EffectiveRows())

	result.Corrected = corrected
	require.Equal(t, corrected, result.EffectiveRows(), "corrections take precedence")
}
