package prompts

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/avvvet/taxline-intent/internal/script"
)

// FallbackMessage is spoken when a response key has no template. A
// validated script never produces one.
const FallbackMessage = "I'm sorry, I didn't catch that. Could you please say that again?"

// Resolver renders response keys into prompt text.
type Resolver struct {
	templates map[string]*template.Template
}

// NewResolver parses every template in the script up front so a bad
// template fails at startup rather than mid-call.
func NewResolver(s *script.Script) (*Resolver, error) {
	r := &Resolver{templates: make(map[string]*template.Template, len(s.Templates))}
	for key, text := range s.Templates {
		tmpl, err := template.New(key).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse response %q: %w", key, err)
		}
		r.templates[key] = tmpl
	}
	return r, nil
}

// Has reports whether key has a template.
func (r *Resolver) Has(key string) bool {
	_, ok := r.templates[key]
	return ok
}

// Render fills the template for key with slots (name, email, phone).
func (r *Resolver) Render(key string, slots map[string]string) string {
	tmpl, ok := r.templates[key]
	if !ok {
		return FallbackMessage
	}
	if slots == nil {
		slots = map[string]string{}
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, slots); err != nil {
		return FallbackMessage
	}
	return b.String()
}
