package recipe

import (
	"fmt"
	"strings"
)

// Action is what the engine does with a field.
type Action int

const (
	ActionRemove Action = iota + 1
	ActionKeep
	ActionReplace
	ActionHash
	ActionDateShift
	ActionScrubText
)

var actionNames = map[Action]string{
	ActionRemove:    "REMOVE",
	ActionKeep:      "KEEP",
	ActionReplace:   "REPLACE",
	ActionHash:      "HASH",
	ActionDateShift: "DATE_SHIFT",
	ActionScrubText: "SCRUB_TEXT",
}

// actionKeywords maps every accepted keyword to its action. The French
// keywords come from the historical recipe tables.
var actionKeywords = map[string]Action{
	"REMOVE":                ActionRemove,
	"KEEP":                  ActionKeep,
	"REPLACE":               ActionReplace,
	"REPLACE_WITH_CONSTANT": ActionReplace,
	"HASH":                  ActionHash,
	"DATE_SHIFT":            ActionDateShift,
	"SCRUB_TEXT":            ActionScrubText,

	"RETIRER":   ActionRemove,
	"CONSERVER": ActionKeep,
	"REMPLACER": ActionReplace,
	"HACHER":    ActionHash,
	"DECALER":   ActionDateShift,
	"NETTOYER":  ActionScrubText,
}

// String returns the canonical keyword.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction resolves a recipe keyword, case-insensitively.
func ParseAction(keyword string) (Action, error) {
	k := strings.ToUpper(strings.TrimSpace(keyword))
	k = strings.ReplaceAll(k, "-", "_")
	k = strings.ReplaceAll(k, " ", "_")
	if a, ok := actionKeywords[k]; ok {
		return a, nil
	}
	return 0, fmt.Errorf("unknown action keyword %q", keyword)
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
