package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ComponentState is the health verdict a rule writes back onto a component.
// Values are ordered by severity.
type ComponentState int

const (
	StateNormal ComponentState = iota
	StateWarning
	StateError
	StateCritical
)

var stateNames = map[ComponentState]string{
	StateNormal:   "normal",
	StateWarning:  "warning",
	StateError:    "error",
	StateCritical: "critical",
}

func (s ComponentState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseComponentState parses a state name case-insensitively.
func ParseComponentState(name string) (ComponentState, error) {
	for state, n := range stateNames {
		if strings.EqualFold(n, name) {
			return state, nil
		}
	}
	return StateNormal, fmt.Errorf("unknown component state %q", name)
}

// Worst returns the more severe of two states.
func Worst(a, b ComponentState) ComponentState {
	if b > a {
		return b
	}
	return a
}

func (s ComponentState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ComponentState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if name == "" {
		*s = StateNormal
		return nil
	}
	parsed, err := ParseComponentState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
