package scoring

import (
	"fmt"
	"strings"

	"parking-allocator/internal/parking"
)

// LevelPreference reorders another scorer's ranking so slots on a role's
// preferred levels come first, in the configured level order. Relative
// order inside each group is kept.
type LevelPreference struct {
	Next   parking.Scorer
	Levels map[string][]string
}

func NewLevelPreference(next parking.Scorer, levels map[string][]string) *LevelPreference {
	return &LevelPreference{Next: next, Levels: levels}
}

func (p *LevelPreference) Rank(candidates []parking.Slot, v parking.Vehicle, role string) []string {
	ranked := p.Next.Rank(candidates, v, role)
	preferred := p.Levels[role]
	if len(preferred) == 0 {
		return ranked
	}

	levelOf := make(map[string]string, len(candidates))
	for _, s := range candidates {
		levelOf[s.ID] = s.Level
	}
	priority := make(map[string]int, len(preferred))
	for i, level := range preferred {
		if _, ok := priority[level]; !ok {
			priority[level] = i
		}
	}

	buckets := make([][]string, len(preferred)+1)
	for _, id := range ranked {
		i, ok := priority[levelOf[id]]
		if !ok {
			i = len(preferred)
		}
		buckets[i] = append(buckets[i], id)
	}

	out := make([]string, 0, len(ranked))
	for _, b := range buckets {
		out = append(out, b...)
	}
	return out
}

// ParseLevelPreferences reads "role=L1;L2,other=L3".
func ParseLevelPreferences(raw string) (map[string][]string, error) {
	prefs := make(map[string][]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return prefs, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		role, levels, ok := strings.Cut(strings.TrimSpace(entry), "=")
		role = strings.TrimSpace(role)
		if !ok || role == "" {
			return nil, fmt.Errorf("level preference %q: expected role=level[;level]", entry)
		}
		for _, level := range strings.Split(levels, ";") {
			if level = strings.TrimSpace(level); level != "" {
				prefs[role] = append(prefs[role], level)
			}
		}
		if len(prefs[role]) == 0 {
			return nil, fmt.Errorf("level preference %q: no levels", entry)
		}
	}
	return prefs, nil
}
