package textutil

import (
	"sort"
	"strings"
)

// NormalizeComponent returns the canonical form of a plugin component name ("Mod_Booking " -> "mod_booking").
func NormalizeComponent(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ComponentMap normalises the component keys of values and trims the values. Blank keys are
// dropped. When two keys collapse onto one component, the key that sorts first wins.
// The returned slice lists the components in ascending order.
func ComponentMap(values map[string]string) (map[string]string, []string) {
	raw := make([]string, 0, len(values))
	for key := range values {
		raw = append(raw, key)
	}
	sort.Strings(raw)

	result := make(map[string]string, len(values))
	components := make([]string, 0, len(values))
	for _, key := range raw {
		component := NormalizeComponent(key)
		if component == "" {
			continue
		}
		if _, dup := result[component]; dup {
			continue
		}
		result[component] = strings.TrimSpace(values[key])
		components = append(components, component)
	}
	sort.Strings(components)
	return result, components
}
