package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/okazune/warstats/models"
	"github.com/okazune/warstats/repositories"
)

func newRosterEnv(players ...models.Player) (*fakePlayerRepo, *fakeStatsService, RosterService) {
	repo := newFakePlayerRepo(players...)
	stats := &fakeStatsService{}
	return repo, stats, NewRosterService(repo, stats, testLogger())
}

func TestCreatePlayer(t *testing.T) {
	repo, _, roster := newRosterEnv()

	player, warnings, err := roster.CreatePlayer(context.Background(), CreatePlayerInput{
		GuildID:   42,
		Name:      " Cynical ",
		Nicknames: []string{"cyn", "CYN", "", "Cynical"},
	})
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.NotZero(t, player.ID)
	require.Equal(t, "Cynical", player.Name)
	require.Equal(t, models.StringList{"cyn"}, player.Nicknames, "empties and fold duplicates are dropped")
	require.Equal(t, models.StatusMember, player.Status, "status defaults to member")
	require.True(t, player.Active)

	stored, err := repo.GetByID(context.Background(), player.ID)
	require.NoError(t, err)
	require.Equal(t, "Cynical", stored.Name)
}

func TestCreatePlayerValidation(t *testing.T) {
	tests := []struct {
		name    string
		input   CreatePlayerInput
		wantErr error
	}{
		{
			name:    "blank name",
			input:   CreatePlayerInput{GuildID: 42, Name: "   "},
			wantErr: ErrPlayerNameRequired,
		},
		{
			name:    "unknown status",
			input:   CreatePlayerInput{GuildID: 42, Name: "Cynical", Status: "ghost"},
			wantErr: ErrPlayerStatusInvalid,
		},
		{
			name:    "canonical name taken case-insensitively",
			input:   CreatePlayerInput{GuildID: 42, Name: "HERO"},
			wantErr: ErrPlayerNameConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, roster := newRosterEnv(rosterPlayer(1, "Hero"))
			_, _, err := roster.CreatePlayer(context.Background(), tt.input)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreatePlayerWarnsOnAliasCollision(t *testing.T) {
	_, _, roster := newRosterEnv(rosterPlayer(1, "Tay", "t"))

	player, warnings, err := roster.CreatePlayer(context.Background(), CreatePlayerInput{
		GuildID:   42,
		Name:      "Tim",
		Nicknames: []string{"T"},
	})
	require.NoError(t, err, "alias collisions warn but do not block")
	require.NotZero(t, player.ID)
	require.Equal(t, []string{`"T" already matches player "Tay" (id 1)`}, warnings)
}

func TestRenamePlayerKeepsOldNameAsNickname(t *testing.T) {
	repo, stats, roster := newRosterEnv(rosterPlayer(1, "Cynical"))

	player, err := roster.RenamePlayer(context.Background(), 42, 1, "Legend")
	require.NoError(t, err)
	require.Equal(t, "Legend", player.Name)
	require.Equal(t, models.StringList{"Cynical"}, player.Nicknames, "the old spelling keeps resolving")
	require.Empty(t, stats.recomputedIDs(), "history already attributes through the kept nickname")

	stored, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Legend", stored.Name)
	require.Equal(t, models.StringList{"Cynical"}, stored.Nicknames)
}

func TestRenamePlayerCaseChangeOnly(t *testing.T) {
	_, _, roster := newRosterEnv(rosterPlayer(1, "Cynical"))

	player, err := roster.RenamePlayer(context.Background(), 42, 1, "CYNICAL")
	require.NoError(t, err)
	require.Equal(t, "CYNICAL", player.Name)
	require.Empty(t, player.Nicknames, "a case change does not leave a nickname behind")
}

func TestRenamePlayerConflict(t *testing.T) {
	_, _, roster := newRosterEnv(rosterPlayer(1, "Cynical"), rosterPlayer(2, "Hero"))

	_, err := roster.RenamePlayer(context.Background(), 42, 1, "hero")
	require.ErrorIs(t, err, ErrPlayerNameConflict)
}

func TestAddNickname(t *testing.T) {
	repo, stats, roster := newRosterEnv(rosterPlayer(1, "Cynical"))

	player, warnings, err := roster.AddNickname(context.Background(), 42, 1, "cyn")
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, models.StringList{"cyn"}, player.Nicknames)
	require.Equal(t, []int{1}, stats.recomputedIDs(), "new spellings replay the war archive")

	stored, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.StringList{"cyn"}, stored.Nicknames)
}

func TestAddNicknameAlreadyKnown(t *testing.T) {
	_, stats, roster := newRosterEnv(rosterPlayer(1, "Cynical", "cyn"))

	player, warnings, err := roster.AddNickname(context.Background(), 42, 1, "CYN")
	require.NoError(t, err)
	require.Equal(t, []string{`"CYN" is already an alias of "Cynical"`}, warnings)
	require.Equal(t, models.StringList{"cyn"}, player.Nicknames, "nothing changes")
	require.Empty(t, stats.recomputedIDs(), "no change means no replay")
}

func TestAddNicknameCollisionWarning(t *testing.T) {
	_, stats, roster := newRosterEnv(rosterPlayer(1, "Cynical"), rosterPlayer(2, "Tay", "t"))

	player, warnings, err := roster.AddNickname(context.Background(), 42, 1, "T")
	require.NoError(t, err)
	require.Equal(t, []string{`"T" already matches player "Tay" (id 2)`}, warnings)
	require.Equal(t, models.StringList{"T"}, player.Nicknames)
	require.Equal(t, []int{1}, stats.recomputedIDs())
}

func TestRemoveNickname(t *testing.T) {
	repo, stats, roster := newRosterEnv(rosterPlayer(1, "Cynical", "cyn", "legend"))

	player, err := roster.RemoveNickname(context.Background(), 42, 1, "CYN")
	require.NoError(t, err)
	require.Equal(t, models.StringList{"legend"}, player.Nicknames)
	require.Equal(t, []int{1}, stats.recomputedIDs())

	stored, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.StringList{"legend"}, stored.Nicknames)

	_, err = roster.RemoveNickname(context.Background(), 42, 1, "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorContains(t, err, `nickname "nope"`)
}

func TestSetStatus(t *testing.T) {
	_, _, roster := newRosterEnv(rosterPlayer(1, "Cynical"))

	player, err := roster.SetStatus(context.Background(), 42, 1, models.StatusKicked)
	require.NoError(t, err)
	require.Equal(t, models.StatusKicked, player.Status)
	require.True(t, player.Active, "status and the active flag are independent")

	_, err = roster.SetStatus(context.Background(), 42, 1, "ghost")
	require.ErrorIs(t, err, ErrPlayerStatusInvalid)
}

func TestAssignTeam(t *testing.T) {
	_, _, roster := newRosterEnv(rosterPlayer(1, "Cynical"))

	team := " Alpha "
	player, err := roster.AssignTeam(context.Background(), 42, 1, &team)
	require.NoError(t, err)
	require.NotNil(t, player.Team)
	require.Equal(t, "Alpha", *player.Team)

	player, err = roster.AssignTeam(context.Background(), 42, 1, nil)
	require.NoError(t, err)
	require.Nil(t, player.Team)

	blank := "   "
	player, err = roster.AssignTeam(context.Background(), 42, 1, &blank)
	require.NoError(t, err)
	require.Nil(t, player.Team, "a blank team clears the assignment")
}

func TestDeactivate(t *testing.T) {
	repo, stats, roster := newRosterEnv(rosterPlayer(1, "Cynical"))

	player, err := roster.Deactivate(context.Background(), 42, 1)
	require.NoError(t, err)
	require.False(t, player.Active)
	require.Empty(t, stats.recomputedIDs(), "a soft delete keeps history attributed")

	actives, err := repo.ListActiveByGuild(context.Background(), 42)
	require.NoError(t, err)
	require.Empty(t, actives)

	player, err = roster.Deactivate(context.Background(), 42, 1)
	require.NoError(t, err, "deactivating twice is a no-op")
	require.False(t, player.Active)
}

func TestReactivate(t *testing.T) {
	inactive := rosterPlayer(1, "Cynical")
	inactive.Active = false
	_, stats, roster := newRosterEnv(inactive)

	player, err := roster.Reactivate(context.Background(), 42, 1)
	require.NoError(t, err)
	require.True(t, player.Active)
	require.Equal(t, []int{1}, stats.recomputedIDs(), "returning players pick up wars recorded while away")
}

func TestReactivateNameTaken(t *testing.T) {
	inactive := rosterPlayer(1, "Cynical")
	inactive.Active = false
	_, _, roster := newRosterEnv(inactive, rosterPlayer(2, "CYNICAL"))

	_, err := roster.Reactivate(context.Background(), 42, 1)
	require.ErrorIs(t, err, ErrPlayerNameConflict)
}

func TestGetPlayerScopedToGuild(t *testing.T) {
	_, _, roster := newRosterEnv(rosterPlayer(1, "Cynical"))

	_, err := roster.GetPlayer(context.Background(), 99, 1)
	require.ErrorIs(t, err, ErrPlayerNotFound)

	player, err := roster.GetPlayer(context.Background(), 42, 1)
	require.NoError(t, err)
	require.Equal(t, "Cynical", player.Name)
}

func TestListPlayers(t *testing.T) {
	inactive := rosterPlayer(2, "Hero")
	inactive.Active = false
	_, _, roster := newRosterEnv(rosterPlayer(1, "Cynical"), inactive)

	players, err := roster.ListPlayers(context.Background(), repositories.ListPlayersFilter{
		GuildID:    42,
		ActiveOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, players, 1)
	require.Equal(t, "Cynical", players[0].Name)

	_, err = roster.ListPlayers(context.Background(), repositories.ListPlayersFilter{
		GuildID: 42,
		SortBy:  "elo",
	})
	require.ErrorIs(t, err, ErrValidationFailed)
	require.ErrorContains(t, err, "elo")
}
