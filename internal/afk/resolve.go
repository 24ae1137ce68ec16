package afk

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// maxEditDistance caps fuzzy session matching; anything farther is treated
// as unknown rather than risk routing an answer to the wrong terminal.
const maxEditDistance = 3

// resolveSession maps a possibly truncated or mistyped name from callback
// data or a chat command onto one of the known session ids. Resolution
// order: exact match, unique prefix (callback-data truncation cuts tails,
// never heads), then closest Levenshtein match within [maxEditDistance].
// Returns "" when nothing matches safely.
func resolveSession(name string, known []string) string {
	if name == "" {
		return ""
	}
	for _, s := range known {
		if s == name {
			return s
		}
	}

	var prefixed []string
	for _, s := range known {
		if strings.HasPrefix(s, name) {
			prefixed = append(prefixed, s)
		}
	}
	if len(prefixed) == 1 {
		return prefixed[0]
	}

	best, bestDist := "", maxEditDistance+1
	for _, s := range known {
		if d := matchr.Levenshtein(name, s); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best
}

// resolveOption maps a possibly truncated option label from callback data
// onto one of the request's labels, same policy as resolveSession.
func resolveOption(label string, labels []string) string {
	return resolveSession(label, labels)
}
