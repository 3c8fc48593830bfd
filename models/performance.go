package models

import "time"

// PlayerWarPerformance links a roster player to one war they drove in.
// The (player_id, war_id) pair is unique, which makes re-persisting the
// same war a no-op for players already recorded.
type PlayerWarPerformance struct {
	ID            int       `json:"id" db:"id"`
	PlayerID      int       `json:"player_id" db:"player_id"`
	WarID         int       `json:"war_id" db:"war_id"`
	Score         int       `json:"score" db:"score"`
	RacesPlayed   int       `json:"races_played" db:"races_played"`
	Participation float64   `json:"participation" db:"participation"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// PerformanceDetail is a performance row joined with the fields of its war
// that statistics derivation needs.
type PerformanceDetail struct {
	PlayerWarPerformance

	RaceCount    int       `json:"race_count" db:"race_count"`
	Differential int       `json:"differential" db:"differential"`
	WarCreatedAt time.Time `json:"war_created_at" db:"war_created_at"`
}

// FullWar reports whether the player drove every race of the war.
func (d *PerformanceDetail) FullWar() bool {
	return d.RacesPlayed == d.RaceCount
}
