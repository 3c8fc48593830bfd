package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/okazune/warstats/models"
	"github.com/okazune/warstats/repositories"
)

// ResolvedRow couples one scanned result row with the roster player its
// display name matched, if any.
type ResolvedRow struct {
	Row      models.ResultRow `json:"row"`
	Player   *models.Player   `json:"player,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
}

// Resolved reports whether the row matched a roster player.
func (r *ResolvedRow) Resolved() bool {
	return r.Player != nil
}

type ResolverService interface {
	// Resolve matches a single display name against the guild's active
	// roster. A miss is not an error: the player comes back nil.
	Resolve(ctx context.Context, guildID int64, name string) (*models.Player, []string, error)
	// ResolveRows matches every row's display name against the guild's
	// active roster. Rows that match nothing come back with a nil Player;
	// nothing is dropped.
	ResolveRows(ctx context.Context, guildID int64, rows []models.ResultRow) ([]ResolvedRow, error)
}

type resolverService struct {
	playerRepo repositories.PlayerRepository
}

func NewResolverService(playerRepo repositories.PlayerRepository) ResolverService {
	return &resolverService{playerRepo: playerRepo}
}

func (s *resolverService) Resolve(ctx context.Context, guildID int64, name string) (*models.Player, []string, error) {
	roster, err := s.playerRepo.ListActiveByGuild(ctx, guildID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load active roster for guild %d: %w", guildID, err)
	}
	player, warnings := MatchPlayer(roster, name)
	return player, warnings, nil
}

func (s *resolverService) ResolveRows(ctx context.Context, guildID int64, rows []models.ResultRow) ([]ResolvedRow, error) {
	roster, err := s.playerRepo.ListActiveByGuild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active roster for guild %d: %w", guildID, err)
	}

	resolved := make([]ResolvedRow, 0, len(rows))
	for _, row := range rows {
		player, warnings := MatchPlayer(roster, row.Name)
		resolved = append(resolved, ResolvedRow{Row: row, Player: player, Warnings: warnings})
	}
	return resolved, nil
}

// MatchPlayer finds the player a display name refers to. Matching goes in
// three tiers and stops at the first that hits: exact canonical name,
// canonical name ignoring case, then nicknames ignoring case. If a tier
// yields several players the lowest id wins and the tie is reported in the
// returned warnings.
//
// The function is pure over its inputs so history replay can run it against
// a reduced candidate set instead of the live roster.
func MatchPlayer(players []models.Player, name string) (*models.Player, []string) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}

	tiers := []struct {
		label string
		match func(*models.Player) bool
	}{
		{"canonical name", func(p *models.Player) bool { return p.Name == name }},
		{"canonical name (case-insensitive)", func(p *models.Player) bool { return strings.EqualFold(p.Name, name) }},
		{"nickname", func(p *models.Player) bool {
			for _, nick := range p.Nicknames {
				if strings.EqualFold(nick, name) {
					return true
				}
			}
			return false
		}},
	}

	for _, tier := range tiers {
		var candidates []*models.Player
		for i := range players {
			if tier.match(&players[i]) {
				candidates = append(candidates, &players[i])
			}
		}
		if len(candidates) == 0 {
			continue
		}
		if len(candidates) == 1 {
			return candidates[0], nil
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
		warning := fmt.Sprintf("display name %q matches %d players by %s; picked %q (id %d)",
			name, len(candidates), tier.label, candidates[0].Name, candidates[0].ID)
		return candidates[0], []string{warning}
	}
	return nil, nil
}
