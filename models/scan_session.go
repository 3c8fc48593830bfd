package models

import "time"

// ScanSessionStatus represents the lifecycle states of a bulk review session,
// matching the ENUM in the DB. Pending is the only state that accepts edits;
// the other three are terminal.
type ScanSessionStatus string

const (
	SessionPending   ScanSessionStatus = "pending"
	SessionCompleted ScanSessionStatus = "completed"
	SessionCancelled ScanSessionStatus = "cancelled"
	SessionExpired   ScanSessionStatus = "expired"
)

func (s ScanSessionStatus) Valid() bool {
	switch s {
	case SessionPending, SessionCompleted, SessionCancelled, SessionExpired:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transitions.
func (s ScanSessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled || s == SessionExpired
}

// ReviewStatus is the per-image verdict inside a review session.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewPending, ReviewApproved, ReviewRejected:
		return true
	}
	return false
}

// BulkScanSession stages the results of a multi-image scan until a human
// confirms or discards them. Nothing in a pending session touches player
// statistics.
type BulkScanSession struct {
	ID        int               `json:"id" db:"id"`
	Token     string            `json:"token" db:"token"`
	GuildID   int64             `json:"guild_id" db:"guild_id"`
	CreatorID string            `json:"creator_id" db:"creator_id"`
	Status    ScanSessionStatus `json:"status" db:"status"`
	ExpiresAt time.Time         `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`

	Results []BulkScanResult `json:"results,omitempty" db:"-"`
}

// ExpiredAt reports whether the session deadline has passed at the given time.
func (s *BulkScanSession) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// BulkScanResult is the scan of a single image within a session: the rows the
// pipeline detected, the reviewer's corrected rows if any, and the verdict.
type BulkScanResult struct {
	ID           int           `json:"id" db:"id"`
	SessionID    int           `json:"session_id" db:"session_id"`
	Position     int           `json:"position" db:"position"`
	Detected     ResultRowList `json:"detected" db:"detected"`
	Corrected    ResultRowList `json:"corrected,omitempty" db:"corrected"`
	ReviewStatus ReviewStatus  `json:"review_status" db:"review_status"`
	RaceCount    int           `json:"race_count" db:"race_count"`
	ImageKey     *string       `json:"-" db:"image_key"`
	ImageURL     *string       `json:"image_url,omitempty" db:"-"`
	WarnText     *string       `json:"warn_text,omitempty" db:"warn_text"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// EffectiveRows returns the rows confirmation should persist: the reviewer's
// corrections when present, otherwise the detected rows.
func (r *BulkScanResult) EffectiveRows() ResultRowList {
	if len(r.Corrected) > 0 {
		return r.Corrected
	}
	return r.Detected
}
