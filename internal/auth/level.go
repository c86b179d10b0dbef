// level.go -- Ordered authorization levels.
package auth

import "fmt"

// Level is a totally ordered authorization tier.
// Stored users carry RegularUser..Admin; Anonymous exists only at request time.
type Level int16

const (
	LevelAnonymous Level = iota
	LevelRegularUser
	LevelModerator
	LevelAdmin
)

// ParseLevel converts a stored user_role value. Only 1..3 are valid roles.
func ParseLevel(role int16) (Level, error) {
	l := Level(role)
	if l < LevelRegularUser || l > LevelAdmin {
		return LevelAnonymous, fmt.Errorf("unknown user role %d", role)
	}
	return l, nil
}

// Satisfies reports whether l is at least required.
func (l Level) Satisfies(required Level) bool {
	return l >= required
}

func (l Level) String() string {
	switch l {
	case LevelAnonymous:
		return "anonymous"
	case LevelRegularUser:
		return "regular_user"
	case LevelModerator:
		return "moderator"
	case LevelAdmin:
		return "admin"
	}
	return fmt.Sprintf("level(%d)", int16(l))
}
