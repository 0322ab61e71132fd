package main

import (
	"fmt"
	"sort"
	"strings"
)

// normalizeName folds case and separators so "Living Room" matches
// "living-room". MAC addresses keep their colons.
func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

// resolveNamedID maps a user-supplied label to an id. Labels that
// normalize to the same value but point at different ids are ambiguous.
func resolveNamedID(kind, input string, options map[string]string) (string, error) {
	needle := normalizeName(input)
	matches := make(map[string]bool)
	for label, id := range options {
		if normalizeName(label) == needle {
			matches[id] = true
		}
	}
	if len(matches) == 1 {
		for id := range matches {
			return id, nil
		}
	}

	available := make([]string, 0, len(options))
	for label := range options {
		available = append(available, label)
	}
	sort.Strings(available)
	if len(matches) > 1 {
		return "", fmt.Errorf("%s %q is ambiguous. Available: %s", kind, input, strings.Join(available, ", "))
	}
	return "", fmt.Errorf("%s %q not found. Available: %s", kind, input, strings.Join(available, ", "))
}
