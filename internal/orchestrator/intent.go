package orchestrator

import "strings"

var generateTriggers = []string{"generate", "make it"}

// WantsGenerate reports whether a message asks to skip the remaining
// question rounds. Matching is a case-insensitive substring test, so
// "regenerate" and "make items" match as well.
func WantsGenerate(message string) bool {
	lower := strings.ToLower(message)
	for _, trigger := range generateTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}
