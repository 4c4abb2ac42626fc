package campaigns

import (
	"fmt"
	"strings"
)

// Action is a campaign control action
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
)

var wireNames = map[Action]string{
	ActionStart:  "iniciar",
	ActionPause:  "pausar",
	ActionResume: "reanudar",
	ActionStop:   "detener",
}

// ParseAction accepts both the English name and the backend wire name
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for a, wire := range wireNames {
		if s == string(a) || s == wire {
			return a, nil
		}
	}
	return "", &ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", s)}
}

// WireName returns the backend endpoint segment for the action
func (a Action) WireName() string {
	return wireNames[a]
}

// ResultingStatus is the status a successful action leaves the campaign in
func (a Action) ResultingStatus() Status {
	switch a {
	case ActionStart, ActionResume:
		return StatusActive
	case ActionPause:
		return StatusPaused
	default:
		return StatusDraft
	}
}
