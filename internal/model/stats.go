package model

// FieldWeight is the summed weight of all patterns for one field.
type FieldWeight struct {
	Field   FieldName `json:"field"`
	Example string    `json:"example"`
	Weight  int       `json:"weight"`
}

// EngineStats summarizes what the engine has learned so far.
type EngineStats struct {
	LevelTitle     string        `json:"level_title"`
	TopFields      []FieldWeight `json:"top_fields"`
	PatternCount   int           `json:"pattern_count"`
	CompletedCount int           `json:"completed_count"`
	Level          int           `json:"level"`
}

// MaturityLevel maps a pattern count onto a level and its title.
func MaturityLevel(patternCount int) (int, string) {
	switch {
	case patternCount < 10:
		return 1, "apprentice"
	case patternCount < 50:
		return 2, "junior"
	case patternCount < 100:
		return 3, "mid-level"
	default:
		return 4, "senior"
	}
}
