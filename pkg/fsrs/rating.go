package fsrs

import (
	"encoding"
	"encoding/json"
	"fmt"
)

// Rating grades one recall attempt on the 1-4 scale the scheduler
// consumes. Anything outside the four defined values is a contract
// violation, not a softer failure.
type Rating int

const (
	Again Rating = iota + 1 // Could not recall at all.
	Hard                    // Recalled, barely.
	Good                    // Recalled with normal effort.
	Easy                    // Instant, confident recall.
)

// Compile-time interface checks.
var (
	_ fmt.Stringer             = Rating(0)
	_ json.Marshaler           = Rating(0)
	_ json.Unmarshaler         = (*Rating)(nil)
	_ encoding.TextMarshaler   = Rating(0)
	_ encoding.TextUnmarshaler = (*Rating)(nil)
)

// IsValid reports whether r is one of the four defined ratings.
func (r Rating) IsValid() bool {
	return r >= Again && r <= Easy
}

// String names the rating; out-of-range values render as Rating(n).
func (r Rating) String() string {
	switch r {
	case Again:
		return "Again"
	case Hard:
		return "Hard"
	case Good:
		return "Good"
	case Easy:
		return "Easy"
	default:
		return fmt.Sprintf("Rating(%d)", int(r))
	}
}

func ratingFromName(name string) (Rating, bool) {
	switch name {
	case "Again":
		return Again, true
	case "Hard":
		return Hard, true
	case "Good":
		return Good, true
	case "Easy":
		return Easy, true
	default:
		return 0, false
	}
}

// MarshalText encodes the rating as its name.
func (r Rating) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRating, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a rating name.
func (r *Rating) UnmarshalText(text []byte) error {
	v, ok := ratingFromName(string(text))
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidRating, text)
	}
	*r = v
	return nil
}

// MarshalJSON encodes the rating as a JSON string of its name.
func (r Rating) MarshalJSON() ([]byte, error) {
	text, err := r.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON decodes a JSON string holding a rating name.
func (r *Rating) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRating, data)
	}
	return r.UnmarshalText([]byte(s))
}
