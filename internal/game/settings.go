package game

// Well-known settings keys. Settings are free-form string/int pairs attached
// to a game; these are the ones the engine itself reads.
const (
	// SettingEndCondition selects the victory rule: "turn", "score", or
	// empty for referee-decided games.
	SettingEndCondition = "endcond"
	// SettingEndTurn is the turn-limit argument for the "turn" rule.
	SettingEndTurn = "endturn"
	// SettingEndScore is the score-threshold argument for the "score" rule.
	SettingEndScore = "endscore"
	// SettingEndProbability is how many consecutive turns the score
	// threshold must hold.
	SettingEndProbability = "endprobability"
	// SettingReferee names the external referee tool that decides victory
	// when no explicit rule is set.
	SettingReferee = "referee"

	// SettingHostProgram names the host program for this game.
	SettingHostProgram = "host"
	// SettingMasterProgram names the master program used at game start.
	SettingMasterProgram = "master"
	// SettingShiplist names the ship list the game runs with.
	SettingShiplist = "shiplist"

	// SettingForumID is the id of the game's discussion forum; zero means
	// no forum has been created yet.
	SettingForumID = "forum"

	// SettingCopyOf holds the id of the game this one was copied from;
	// zero means the game is not a copy.
	SettingCopyOf = "copyof"
)

// VictoryKind identifies which victory rule applies to a game.
type VictoryKind int

const (
	// VictoryNone indicates no configured victory rule.
	VictoryNone VictoryKind = iota
	// VictoryTurn ends the game after a fixed turn.
	VictoryTurn
	// VictoryScore ends the game once a score threshold holds.
	VictoryScore
	// VictoryReferee delegates the decision to an external tool.
	VictoryReferee
)

// VictoryCondition is the resolved victory rule of a game. Exactly one of
// the rule branches is populated, chosen in priority order: explicit turn
// limit, explicit score threshold, delegated referee tool.
type VictoryCondition struct {
	Kind VictoryKind

	// EndTurn is set for VictoryTurn.
	EndTurn int64
	// EndScore and HoldTurns are set for VictoryScore. The threshold must
	// hold for at least one turn even when not configured explicitly.
	EndScore  int64
	HoldTurns int64
	// Referee is set for VictoryReferee.
	Referee string
}

// ResolveVictory resolves the victory rule from a game's settings values.
func ResolveVictory(endCond string, endTurn, endScore, holdTurns int64, referee string) VictoryCondition {
	switch {
	case endCond == "turn" && endTurn > 0:
		return VictoryCondition{Kind: VictoryTurn, EndTurn: endTurn}
	case endCond == "score" && endScore > 0:
		if holdTurns < 1 {
			holdTurns = 1
		}
		return VictoryCondition{Kind: VictoryScore, EndScore: endScore, HoldTurns: holdTurns}
	case referee != "":
		return VictoryCondition{Kind: VictoryReferee, Referee: referee}
	default:
		return VictoryCondition{Kind: VictoryNone}
	}
}
