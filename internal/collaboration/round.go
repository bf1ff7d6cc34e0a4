package collaboration

// Round outcomes. An undecided round has an empty Decision.
const (
	DecisionGo            = "go"
	DecisionGoWithCaution = "go_with_caution"
	DecisionNoGo          = "no_go"
)

// Conflict names.
const (
	ConflictNone           = "no_contributions"
	ConflictGoVsCaution    = "go_vs_caution"
	ConflictBlocking       = "blocking_vs_non_block"
	ConflictHighDivergence = "high_divergence"
)

// Round is one closed collaboration round.
type Round struct {
	Number        int            `json:"round"`
	Contributions []Contribution `json:"contributions"`
	Conflicts     []string       `json:"conflicts"`
	Decision      string         `json:"decision,omitempty"`
}

// Close evaluates the contributions of one round.
func Close(number int, contributions []Contribution, minGoVotes int) Round {
	return Round{
		Number:        number,
		Contributions: contributions,
		Conflicts:     Conflicts(contributions),
		Decision:      Decide(contributions, minGoVotes),
	}
}

// Conflicts lists the disagreements among contributions.
func Conflicts(contributions []Contribution) []string {
	if len(contributions) == 0 {
		return []string{ConflictNone}
	}
	stances := make(map[Stance]bool)
	for _, c := range contributions {
		stances[c.Stance] = true
	}
	conflicts := []string{}
	if stances[StanceGo] && stances[StanceCaution] && !stances[StanceBlock] {
		conflicts = append(conflicts, ConflictGoVsCaution)
	}
	if stances[StanceBlock] && len(stances) > 1 {
		conflicts = append(conflicts, ConflictBlocking)
	}
	if len(stances) == 3 {
		conflicts = append(conflicts, ConflictHighDivergence)
	}
	return conflicts
}

// Decide returns the round outcome, or "" when another round is needed.
// Two blocks end with no_go; a single block always needs another round.
func Decide(contributions []Contribution, minGoVotes int) string {
	var goVotes, caution, blocks int
	for _, c := range contributions {
		switch c.Stance {
		case StanceGo:
			goVotes++
		case StanceCaution:
			caution++
		case StanceBlock:
			blocks++
		}
	}
	switch {
	case blocks >= 2:
		return DecisionNoGo
	case blocks > 0:
		return ""
	case goVotes >= minGoVotes && caution == 0:
		return DecisionGo
	case goVotes >= minGoVotes:
		return DecisionGoWithCaution
	}
	return ""
}

// Config shapes a collaboration.
type Config struct {
	// Agents may contribute.
	Agents []string
	// Team is the order roles are asked in each round.
	Team       []string
	MaxRounds  int
	MinGoVotes int
}

// WithDefaults fills unset fields: three rounds, two go votes and every
// allowed agent as the team.
func (c Config) WithDefaults() Config {
	if c.MaxRounds <= 0 {
		c.MaxRounds = 3
	}
	if c.MinGoVotes <= 0 {
		c.MinGoVotes = 2
	}
	if len(c.Team) == 0 {
		c.Team = c.Agents
	}
	return c
}
