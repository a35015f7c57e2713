package commands

import (
	"fmt"
	"strings"

	"github.com/bdobrica/kioku/internal/kioku/confirm"
)

// ParseCandidates reads "category: item" clauses separated by ';' or
// newlines, e.g. "fact: lives in Lyon; goal: run a marathon". Categories are
// fact, preference, goal and date (plurals accepted). Blank items are
// dropped.
func ParseCandidates(text string) (confirm.Candidates, error) {
	var c confirm.Candidates
	clauses := strings.FieldsFunc(text, func(r rune) bool { return r == ';' || r == '\n' })
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		name, item, ok := strings.Cut(clause, ":")
		if !ok {
			return confirm.Candidates{}, fmt.Errorf("expected \"category: item\", got %q", clause)
		}
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "s") {
		case "fact":
			c.Facts = append(c.Facts, item)
		case "preference", "pref":
			c.Preferences = append(c.Preferences, item)
		case "goal":
			c.Goals = append(c.Goals, item)
		case "date":
			c.Dates = append(c.Dates, item)
		default:
			return confirm.Candidates{}, fmt.Errorf("unknown category %q (want fact, preference, goal or date)", strings.TrimSpace(name))
		}
	}
	return c, nil
}
