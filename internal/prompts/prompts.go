// Package prompts holds the instruction templates sent to the completion
// service for each round and fills their {placeholder} slots.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// TemplateID names one of the round instruction templates.
type TemplateID string

const (
	Round1   TemplateID = "round1"
	Round2   TemplateID = "round2"
	Round3   TemplateID = "round3"
	Generate TemplateID = "generate"
)

// Placeholder names understood by the shipped templates.
const (
	UserContext     = "user_context"
	InitialContext  = "initial_context"
	Round1Questions = "round1_questions"
	Round1Answers   = "round1_answers"
	HistoryLog      = "history_log"
)

// IDs lists every template a Library must provide.
var IDs = []TemplateID{Round1, Round2, Round3, Generate}

//go:embed templates/*.txt
var builtin embed.FS

var placeholderPattern = regexp.MustCompile(`\{([a-z0-9_]+)\}`)

// Library is a set of instruction templates keyed by TemplateID.
type Library struct {
	templates map[TemplateID]string
}

// Default returns a Library populated with the built-in templates.
func Default() *Library {
	lib := &Library{templates: make(map[TemplateID]string, len(IDs))}
	for _, id := range IDs {
		data, err := builtin.ReadFile("templates/" + string(id) + ".txt")
		if err != nil {
			panic(fmt.Sprintf("prompts: missing built-in template %s: %v", id, err))
		}
		lib.templates[id] = string(data)
	}
	return lib
}

// LoadDir overrides templates with <dir>/<id>.txt files. Files that do not
// exist leave the current template in place. Returns how many were replaced.
func (l *Library) LoadDir(dir string) (int, error) {
	if _, err := os.Stat(dir); err != nil {
		return 0, fmt.Errorf("prompts directory not found: %w", err)
	}

	loaded := 0
	for _, id := range IDs {
		path := filepath.Join(dir, string(id)+".txt")
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return loaded, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return loaded, fmt.Errorf("template %s is empty", path)
		}
		l.templates[id] = string(data)
		loaded++
	}
	return loaded, nil
}

// Render fills every {name} placeholder found in values in a single pass,
// so text inserted for one placeholder is never scanned for another.
// Placeholders without a value are left verbatim. An unknown id panics.
func (l *Library) Render(id TemplateID, values map[string]string) string {
	tmpl, ok := l.templates[id]
	if !ok {
		panic(fmt.Sprintf("prompts: unknown template %q", id))
	}

	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		if v, ok := values[match[1:len(match)-1]]; ok {
			return v
		}
		return match
	})
}

// Placeholders returns the distinct placeholder names used by a template.
func (l *Library) Placeholders(id TemplateID) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(l.templates[id], -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
