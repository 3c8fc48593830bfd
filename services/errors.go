package services

import "errors"

// Shared errors used across services and by callers mapping them to their
// own surfaces.
var (
	// Generic
	ErrNotFound         = errors.New("requested resource not found")
	ErrValidationFailed = errors.New("validation failed")

	// Roster
	ErrPlayerNotFound      = errors.New("player not found")
	ErrPlayerNameRequired  = errors.New("player name is required")
	ErrPlayerNameConflict  = errors.New("player name is already taken in this guild")
	ErrPlayerStatusInvalid = errors.New("invalid player status provided")
	ErrPlayerInactive      = errors.New("player is not active")
	ErrPlayerSelfMerge     = errors.New("cannot merge a player into itself")
	ErrPlayerGuildMismatch = errors.New("players belong to different guilds")

	// Wars and statistics
	ErrWarNotFound         = errors.New("war not found")
	ErrWarNoResults        = errors.New("war has no result rows")
	ErrWarInvalidRaceCount = errors.New("war race count must be positive")
	ErrWarResultInvalid    = errors.New("war result row is invalid")
	ErrWarNoRosterMatch    = errors.New("no result row matched an active roster player")

	// Review sessions
	ErrScanSessionNotFound   = errors.New("review session not found")
	ErrScanSessionNotPending = errors.New("review session is no longer pending")
	ErrScanSessionExpired    = errors.New("review session has expired")
	ErrScanSessionEmpty      = errors.New("review session needs at least one scanned image")
	ErrScanResultNotFound    = errors.New("scanned result not found in this session")
	ErrScanReviewInvalid     = errors.New("invalid review status provided")
	ErrScanTokenGeneration   = errors.New("failed to generate a unique session token")
)
