// Package vision holds the vision-language engines that read a homework
// photo and answer a grading prompt.
package vision

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"homework-review/api/internal/apperr"
)

type Engine interface {
	Name() string
	Model() string
	// Complete sends one image with one text prompt and returns the model's
	// raw text answer.
	Complete(ctx context.Context, img []byte, mime, prompt string) (string, error)
}

// aliases lets clients use provider names instead of engine names.
var aliases = map[string]string{
	"doubao": "ark",
	"openai": "ark",
	"gpt":    "ark",
	"google": "gemini",
	"claude": "anthropic",
}

// Engines is the registry of configured engines.
type Engines struct {
	def string
	m   map[string]Engine
}

func NewEngines(defaultName string, engs ...Engine) *Engines {
	e := &Engines{def: defaultName, m: make(map[string]Engine, len(engs))}
	for _, eng := range engs {
		if eng != nil {
			e.m[eng.Name()] = eng
		}
	}
	return e
}

// Get returns the engine called name, or the default for an empty name.
func (e *Engines) Get(name string) (Engine, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = e.def
	}
	if a, ok := aliases[name]; ok {
		name = a
	}
	if eng, ok := e.m[name]; ok {
		return eng, nil
	}
	return nil, apperr.InvalidParams(
		fmt.Sprintf("unknown engine %q; use one of: %s", name, strings.Join(e.Names(), ", ")), nil)
}

// Names lists the registered engine names, sorted.
func (e *Engines) Names() []string {
	out := make([]string, 0, len(e.m))
	for n := range e.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Default is the name used when a request does not pick an engine.
func (e *Engines) Default() string { return e.def }
