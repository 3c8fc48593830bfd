package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/okazune/warstats/models"
	"github.com/okazune/warstats/repositories"
)

// CreatePlayerInput carries a new roster entry.
type CreatePlayerInput struct {
	GuildID   int64
	Name      string
	Nicknames []string
	Status    models.PlayerStatus
	Team      *string
}

// RosterService manages guild rosters: canonical names, nicknames, membership
// status and the active flag. Mutations that change how raw names resolve
// trigger a history replay through the stats service so past wars re-attach
// to the right players.
type RosterService interface {
	CreatePlayer(ctx context.Context, input CreatePlayerInput) (*models.Player, []string, error)
	GetPlayer(ctx context.Context, guildID int64, playerID int) (*models.Player, error)
	ListPlayers(ctx context.Context, filter repositories.ListPlayersFilter) ([]models.Player, error)
	RenamePlayer(ctx context.Context, guildID int64, playerID int, newName string) (*models.Player, error)
	AddNickname(ctx context.Context, guildID int64, playerID int, nickname string) (*models.Player, []string, error)
	RemoveNickname(ctx context.Context, guildID int64, playerID int, nickname string) (*models.Player, error)
	SetStatus(ctx context.Context, guildID int64, playerID int, status models.PlayerStatus) (*models.Player, error)
	AssignTeam(ctx context.Context, guildID int64, playerID int, team *string) (*models.Player, error)
	Deactivate(ctx context.Context, guildID int64, playerID int) (*models.Player, error)
	Reactivate(ctx context.Context, guildID int64, playerID int) (*models.Player, error)
}

type rosterService struct {
	playerRepo repositories.PlayerRepository
	stats      StatsService
	logger     *slog.Logger
}

func NewRosterService(playerRepo repositories.PlayerRepository, stats StatsService, logger *slog.Logger) RosterService {
	return &rosterService{
		playerRepo: playerRepo,
		stats:      stats,
		logger:     logger,
	}
}

func (s *rosterService) CreatePlayer(ctx context.Context, input CreatePlayerInput) (*models.Player, []string, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, nil, ErrPlayerNameRequired
	}

	status := input.Status
	if status == "" {
		status = models.StatusMember
	}
	if !status.Valid() {
		return nil, nil, ErrPlayerStatusInvalid
	}

	nicknames := normalizeAliases(name, input.Nicknames)

	actives, err := s.playerRepo.ListActiveByGuild(ctx, input.GuildID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list guild %d players: %w", input.GuildID, err)
	}
	for i := range actives {
		if strings.EqualFold(actives[i].Name, name) {
			return nil, nil, ErrPlayerNameConflict
		}
	}
	warnings := aliasCollisions(actives, 0, append([]string{name}, nicknames...))

	player := &models.Player{
		GuildID:   input.GuildID,
		Name:      name,
		Nicknames: nicknames,
		Status:    status,
		Team:      normalizeTeam(input.Team),
		Active:    true,
	}
	if err := s.playerRepo.Create(ctx, player); err != nil {
		if errors.Is(err, repositories.ErrPlayerNameConflict) {
			return nil, nil, ErrPlayerNameConflict
		}
		return nil, nil, fmt.Errorf("failed to create player: %w", err)
	}

	s.logger.Info("player created",
		slog.Int("player_id", player.ID),
		slog.Int64("guild_id", player.GuildID),
		slog.String("name", player.Name))
	return player, warnings, nil
}

func (s *rosterService) GetPlayer(ctx context.Context, guildID int64, playerID int) (*models.Player, error) {
	return s.guildPlayer(ctx, guildID, playerID)
}

func (s *rosterService) ListPlayers(ctx context.Context, filter repositories.ListPlayersFilter) ([]models.Player, error) {
	players, err := s.playerRepo.List(ctx, filter)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerInvalidSort) {
			return nil, fmt.Errorf("%w: unknown sort key %q", ErrValidationFailed, filter.SortBy)
		}
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	return players, nil
}

// RenamePlayer changes the canonical display name. The old name stays behind
// as a nickname so historical raw rows keep resolving to the same player.
func (s *rosterService) RenamePlayer(ctx context.Context, guildID int64, playerID int, newName string) (*models.Player, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, ErrPlayerNameRequired
	}

	player, err := s.guildPlayer(ctx, guildID, playerID)
	if err != nil {
		return nil, err
	}
	if player.Name == newName {
		return player, nil
	}

	actives, err := s.playerRepo.ListActiveByGuild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list guild %d players: %w", guildID, err)
	}
	for i := range actives {
		if actives[i].ID != player.ID && strings.EqualFold(actives[i].Name, newName) {
			return nil, ErrPlayerNameConflict
		}
	}

	if !strings.EqualFold(player.Name, newName) && !player.Nicknames.ContainsFold(player.Name) {
		player.Nicknames = append(player.Nicknames, player.Name)
	}
	oldName := player.Name
	player.Name = newName
	if err := s.updateProfile(ctx, player); err != nil {
		return nil, err
	}

	s.logger.Info("player renamed",
		slog.Int("player_id", player.ID),
		slog.String("old_name", oldName),
		slog.String("new_name", player.Name))
	return player, nil
}

// AddNickname registers an alternate spelling and replays the war archive so
// rows that previously failed to resolve attach to the player.
func (s *rosterService) AddNickname(ctx context.Context, guildID int64, playerID int, nickname string) (*models.Player, []string, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, nil, ErrPlayerNameRequired
	}

	player, err := s.guildPlayer(ctx, guildID, playerID)
	if err != nil {
		return nil, nil, err
	}
	if strings.EqualFold(player.Name, nickname) || player.Nicknames.ContainsFold(nickname) {
		return player, []string{fmt.Sprintf("%q is already an alias of %q", nickname, player.Name)}, nil
	}

	actives, err := s.playerRepo.ListActiveByGuild(ctx, guildID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list guild %d players: %w", guildID, err)
	}
	warnings := aliasCollisions(actives, player.ID, []string{nickname})

	player.Nicknames = append(player.Nicknames, nickname)
	if err := s.updateProfile(ctx, player); err != nil {
		return nil, nil, err
	}

	if err := s.stats.RecomputePlayer(ctx, guildID, player.ID, nil); err != nil {
		return nil, nil, fmt.Errorf("failed to replay history after nickname change: %w", err)
	}

	s.logger.Info("nickname added",
		slog.Int("player_id", player.ID),
		slog.String("name", player.Name),
		slog.String("nickname", nickname))
	return player, warnings, nil
}

// RemoveNickname drops an alternate spelling and replays the war archive so
// rows that only matched through it detach again.
func (s *rosterService) RemoveNickname(ctx context.Context, guildID int64, playerID int, nickname string) (*models.Player, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, ErrPlayerNameRequired
	}

	player, err := s.guildPlayer(ctx, guildID, playerID)
	if err != nil {
		return nil, err
	}

	kept := make(models.StringList, 0, len(player.Nicknames))
	removed := false
	for _, n := range player.Nicknames {
		if strings.EqualFold(n, nickname) {
			removed = true
			continue
		}
		kept = append(kept, n)
	}
	if !removed {
		return nil, fmt.Errorf("%w: nickname %q", ErrNotFound, nickname)
	}

	player.Nicknames = kept
	if err := s.updateProfile(ctx, player); err != nil {
		return nil, err
	}

	if err := s.stats.RecomputePlayer(ctx, guildID, player.ID, nil); err != nil {
		return nil, fmt.Errorf("failed to replay history after nickname change: %w", err)
	}

	s.logger.Info("nickname removed",
		slog.Int("player_id", player.ID),
		slog.String("name", player.Name),
		slog.String("nickname", nickname))
	return player, nil
}

func (s *rosterService) SetStatus(ctx context.Context, guildID int64, playerID int, status models.PlayerStatus) (*models.Player, error) {
	if !status.Valid() {
		return nil, ErrPlayerStatusInvalid
	}
	player, err := s.guildPlayer(ctx, guildID, playerID)
	if err != nil {
		return nil, err
	}
	if player.Status == status {
		return player, nil
	}
	player.Status = status
	if err := s.updateProfile(ctx, player); err != nil {
		return nil, err
	}
	return player, nil
}

func (s *rosterService) AssignTeam(ctx context.Context, guildID int64, playerID int, team *string) (*models.Player, error) {
	player, err := s.guildPlayer(ctx, guildID, playerID)
	if err != nil {
		return nil, err
	}
	player.Team = normalizeTeam(team)
	if err := s.updateProfile(ctx, player); err != nil {
		return nil, err
	}
	return player, nil
}

// Deactivate soft-deletes the player. History stays attributed; the player
// just stops matching new scans and drops out of leaderboards.
func (s *rosterService) Deactivate(ctx context.Context, guildID int64, playerID int) (*models.Player, error) {
	player, err := s.guildPlayer(ctx, guildID, playerID)
	if err != nil {
		return nil, err
	}
	if !player.Active {
		return player, nil
	}
	player.Active = false
	if err := s.updateProfile(ctx, player); err != nil {
		return nil, err
	}

	s.logger.Info("player deactivated",
		slog.Int("player_id", player.ID),
		slog.String("name", player.Name))
	return player, nil
}

// Reactivate restores a soft-deleted player and replays the war archive to
// pick up wars recorded while the player was away.
func (s *rosterService) Reactivate(ctx context.Context, guildID int64, playerID int) (*models.Player, error) {
	player, err := s.guildPlayer(ctx, guildID, playerID)
	if err != nil {
		return nil, err
	}
	if player.Active {
		return player, nil
	}

	actives, err := s.playerRepo.ListActiveByGuild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list guild %d players: %w", guildID, err)
	}
	for i := range actives {
		if strings.EqualFold(actives[i].Name, player.Name) {
			return nil, ErrPlayerNameConflict
		}
	}

	player.Active = true
	if err := s.updateProfile(ctx, player); err != nil {
		return nil, err
	}

	if err := s.stats.RecomputePlayer(ctx, guildID, player.ID, nil); err != nil {
		return nil, fmt.Errorf("failed to replay history after reactivation: %w", err)
	}

	s.logger.Info("player reactivated",
		slog.Int("player_id", player.ID),
		slog.String("name", player.Name))
	return player, nil
}

func (s *rosterService) guildPlayer(ctx context.Context, guildID int64, playerID int) (*models.Player, error) {
	player, err := s.playerRepo.GetByID(ctx, playerID)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player %d: %w", playerID, err)
	}
	if player.GuildID != guildID {
		return nil, ErrPlayerNotFound
	}
	return player, nil
}

func (s *rosterService) updateProfile(ctx context.Context, player *models.Player) error {
	if err := s.playerRepo.UpdateProfile(ctx, nil, player); err != nil {
		switch {
		case errors.Is(err, repositories.ErrPlayerNotFound):
			return ErrPlayerNotFound
		case errors.Is(err, repositories.ErrPlayerNameConflict):
			return ErrPlayerNameConflict
		}
		return fmt.Errorf("failed to update player %d: %w", player.ID, err)
	}
	return nil
}

// normalizeAliases trims the given nicknames and drops empties and duplicates
// of each other or of the canonical name.
func normalizeAliases(name string, nicknames []string) models.StringList {
	out := make(models.StringList, 0, len(nicknames))
	for _, n := range nicknames {
		n = strings.TrimSpace(n)
		if n == "" || strings.EqualFold(n, name) || out.ContainsFold(n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func normalizeTeam(team *string) *string {
	if team == nil {
		return nil
	}
	t := strings.TrimSpace(*team)
	if t == "" {
		return nil
	}
	return &t
}

// aliasCollisions warns about spellings that other active players already
// answer to. Collisions are legal but make resolution ambiguous, so the
// caller should surface them.
func aliasCollisions(actives []models.Player, selfID int, spellings []string) []string {
	var warnings []string
	for _, spelling := range spellings {
		for i := range actives {
			other := &actives[i]
			if other.ID == selfID {
				continue
			}
			for _, alias := range other.Aliases() {
				if strings.EqualFold(alias, spelling) {
					warnings = append(warnings, fmt.Sprintf("%q already matches player %q (id %d)", spelling, other.Name, other.ID))
					break
				}
			}
		}
	}
	return warnings
}
