package services

import (
	"fmt"

	"github.com/okazune/warstats/models"
)

const (
	// DefaultTeamSize is how many players one side of a standard war fields.
	DefaultTeamSize = 6
	// maxPointsPerRace is the best possible single-race finish.
	maxPointsPerRace = 15
)

type ValidatorService interface {
	// Validate runs plausibility checks over a resolved result set. Errors
	// make the set unfit for automatic persistence; warnings only annotate
	// it for the reviewer.
	Validate(guildID int64, resolved []ResolvedRow, raceCount int) models.ValidationReport
}

type validatorService struct {
	teamSize int
}

func NewValidatorService(teamSize int) ValidatorService {
	if teamSize <= 0 {
		teamSize = DefaultTeamSize
	}
	return &validatorService{teamSize: teamSize}
}

func (s *validatorService) Validate(guildID int64, resolved []ResolvedRow, raceCount int) models.ValidationReport {
	report := models.ValidationReport{IsValid: true, Warnings: []string{}, Errors: []string{}}

	if len(resolved) == 0 {
		report.Fail("no result rows detected")
		return report
	}
	if raceCount <= 0 {
		report.Fail(fmt.Sprintf("race count %d is not plausible", raceCount))
		return report
	}

	matched := 0
	seen := make(map[int]string, len(resolved))
	for _, r := range resolved {
		for _, w := range r.Warnings {
			report.Warn(w)
		}

		races := r.Row.Races
		if races == 0 {
			races = raceCount
		}
		if races < 0 || races > raceCount {
			report.Warn(fmt.Sprintf("%q played %d races in a %d-race war", r.Row.Name, races, raceCount))
		}
		if r.Row.Score < 0 {
			report.Fail(fmt.Sprintf("negative score %d for %q", r.Row.Score, r.Row.Name))
		} else if races > 0 && r.Row.Score > races*maxPointsPerRace {
			report.Warn(fmt.Sprintf("score %d for %q exceeds the %d points possible in %d races",
				r.Row.Score, r.Row.Name, races*maxPointsPerRace, races))
		}

		if !r.Resolved() {
			report.Warn(fmt.Sprintf("%q did not match any active roster player in guild %d", r.Row.Name, guildID))
			continue
		}
		matched++
		if prev, ok := seen[r.Player.ID]; ok {
			report.Warn(fmt.Sprintf("player %q matched by both %q and %q", r.Player.Name, prev, r.Row.Name))
		} else {
			seen[r.Player.ID] = r.Row.Name
		}
	}

	if matched == 0 {
		report.Fail("no row matched an active roster player")
		return report
	}
	if matched < s.teamSize {
		report.Warn(fmt.Sprintf("only %d of %d expected roster players detected", matched, s.teamSize))
	}
	if len(resolved) > 2*s.teamSize {
		report.Warn(fmt.Sprintf("table shows %d rows, more than a %dv%d war should have",
			len(resolved), s.teamSize, s.teamSize))
	}
	return report
}
