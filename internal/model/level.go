package model

import "fmt"

// Level is a client-declared subscription tier. Each tier's allowed field
// set is a strict superset of the tier below it.
type Level int

const (
	LevelMinimal Level = iota
	LevelStandard
	LevelDetailed
)

var levelNames = map[Level]string{
	LevelMinimal:  "minimal",
	LevelStandard: "standard",
	LevelDetailed: "detailed",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// ParseLevel maps the wire representation to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "minimal":
		return LevelMinimal, nil
	case "standard":
		return LevelStandard, nil
	case "detailed":
		return LevelDetailed, nil
	}
	return 0, fmt.Errorf("unknown subscription level %q", s)
}
