package models

import "time"

// War is one recorded clan war: the raw result rows as scanned plus the
// team-level totals derived from the rows that resolved to roster players.
type War struct {
	ID            int           `json:"id" db:"id"`
	GuildID       int64         `json:"guild_id" db:"guild_id"`
	RaceCount     int           `json:"race_count" db:"race_count"`
	PointsPerRace int           `json:"points_per_race" db:"points_per_race"`
	Results       ResultRowList `json:"results" db:"results"`
	TeamScore     int           `json:"team_score" db:"team_score"`
	Differential  int           `json:"differential" db:"differential"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// TotalPool returns the number of points awarded across all races of the war.
func (w *War) TotalPool() int {
	return w.PointsPerRace * w.RaceCount
}

// OpponentScore returns the implied score of the opposing team.
func (w *War) OpponentScore() int {
	return w.TotalPool() - w.TeamScore
}
