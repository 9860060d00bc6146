package fsrs

import (
	"encoding"
	"encoding/json"
	"fmt"
)

// State is where a concept sits in its learning lifecycle. Grading
// moves concepts between Review and Relearning; New is the pre-grading
// stage and Learning is reserved for hosts that stage concepts by hand.
type State int

const (
	New        State = iota + 1 // Tracked but never graded.
	Learning                    // Staged for initial learning by the host.
	Review                      // In the long-term review cycle.
	Relearning                  // Lapsed, relearning.
)

// Compile-time interface checks.
var (
	_ fmt.Stringer             = State(0)
	_ json.Marshaler           = State(0)
	_ json.Unmarshaler         = (*State)(nil)
	_ encoding.TextMarshaler   = State(0)
	_ encoding.TextUnmarshaler = (*State)(nil)
)

// IsValid reports whether s is one of the four defined states.
func (s State) IsValid() bool {
	return s >= New && s <= Relearning
}

// String names the state; out-of-range values render as State(n).
func (s State) String() string {
	switch s {
	case New:
		return "New"
	case Learning:
		return "Learning"
	case Review:
		return "Review"
	case Relearning:
		return "Relearning"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func stateFromName(name string) (State, bool) {
	switch name {
	case "New":
		return New, true
	case "Learning":
		return Learning, true
	case "Review":
		return Review, true
	case "Relearning":
		return Relearning, true
	default:
		return 0, false
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("fsrs: invalid state: %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	v, ok := stateFromName(string(text))
	if !ok {
		return fmt.Errorf("fsrs: invalid state: %q", text)
	}
	*s = v
	return nil
}

// MarshalJSON encodes the state as a JSON string of its name.
func (s State) MarshalJSON() ([]byte, error) {
	text, err := s.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON decodes a JSON string holding a state name.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("fsrs: invalid state: %s", data)
	}
	return s.UnmarshalText([]byte(str))
}
