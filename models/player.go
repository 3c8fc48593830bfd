package models

import "time"

// PlayerStatus represents roster membership states, matching the ENUM in the DB.
type PlayerStatus string

const (
	StatusMember PlayerStatus = "member"
	StatusTrial  PlayerStatus = "trial"
	StatusAlly   PlayerStatus = "ally"
	StatusKicked PlayerStatus = "kicked"
)

func (s PlayerStatus) Valid() bool {
	switch s {
	case StatusMember, StatusTrial, StatusAlly, StatusKicked:
		return true
	}
	return false
}

// Player is a guild roster member together with its cached statistics.
//
// The aggregate block (TotalScore through TotalDifferential) is maintained
// incrementally as wars are persisted. The derived block (ScoreStdDev through
// LowestScore) is recomputed from the full performance history on every write.
// The form block (RecentForm through Potential) is filled lazily on read and
// wiped whenever a war touching the player changes.
type Player struct {
	ID        int          `json:"id" db:"id"`
	GuildID   int64        `json:"guild_id" db:"guild_id"`
	Name      string       `json:"name" db:"name"`
	Nicknames StringList   `json:"nicknames" db:"nicknames"`
	Status    PlayerStatus `json:"status" db:"status"`
	Team      *string      `json:"team,omitempty" db:"team"`
	Active    bool         `json:"active" db:"active"`

	TotalScore        int     `json:"total_score" db:"total_score"`
	TotalRaces        int     `json:"total_races" db:"total_races"`
	WarCount          float64 `json:"war_count" db:"war_count"`
	AverageScore      float64 `json:"average_score" db:"average_score"`
	TotalDifferential int     `json:"total_differential" db:"total_differential"`

	ScoreStdDev  float64 `json:"score_stddev" db:"score_stddev"`
	Wins         float64 `json:"wins" db:"wins"`
	Losses       float64 `json:"losses" db:"losses"`
	Ties         float64 `json:"ties" db:"ties"`
	WinPct       float64 `json:"win_pct" db:"win_pct"`
	HighestScore *int    `json:"highest_score,omitempty" db:"highest_score"`
	LowestScore  *int    `json:"lowest_score,omitempty" db:"lowest_score"`

	RecentForm        *float64   `json:"recent_form,omitempty" db:"recent_form"`
	HotStreak         *int       `json:"hot_streak,omitempty" db:"hot_streak"`
	ClutchFactor      *float64   `json:"clutch_factor,omitempty" db:"clutch_factor"`
	Potential         *float64   `json:"potential,omitempty" db:"potential"`
	VolatileUpdatedAt *time.Time `json:"-" db:"volatile_updated_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Aliases returns every spelling the player can be matched by: the canonical
// name followed by the registered nicknames.
func (p *Player) Aliases() []string {
	out := make([]string, 0, len(p.Nicknames)+1)
	out = append(out, p.Name)
	out = append(out, p.Nicknames...)
	return out
}

// HasVolatileStats reports whether the lazily computed form block is present.
func (p *Player) HasVolatileStats() bool {
	return p.RecentForm != nil && p.HotStreak != nil && p.ClutchFactor != nil && p.Potential != nil
}
