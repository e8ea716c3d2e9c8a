package bootstrap

// State is a step of the startup sequence. States only move forward;
// any failure moves to StateAborted.
type State int

const (
	StateStart State = iota
	StateResourcesPrepared
	StateConfigLoaded
	StateRulesBuilt
	StateIdentityResolved
	StateAttached
	StateRunning
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateResourcesPrepared:
		return "resources-prepared"
	case StateConfigLoaded:
		return "config-loaded"
	case StateRulesBuilt:
		return "rules-built"
	case StateIdentityResolved:
		return "identity-resolved"
	case StateAttached:
		return "attached"
	case StateRunning:
		return "running"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the sequence has ended, either running or
// aborted. No transition leaves a terminal state.
func (s State) Terminal() bool {
	return s == StateRunning || s == StateAborted
}
