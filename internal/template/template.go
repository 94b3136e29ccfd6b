// Package template renders message bodies from named templates and a
// variable binding map. Rendering is pure: no I/O, no clock reads, no
// network access, so it never suspends a dispatcher worker.
package template

import (
	"strings"
	"sync"
)

// Template holds a per-transport body mapping. A transport with no
// entry falls back to the outgoing message's canonical content at
// render time; see Engine.Render.
type Template struct {
	ID       string
	Variants map[string]string // transport name -> body containing {var} placeholders
}

// Engine stores registered templates and renders them against variable
// bindings.
type Engine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func New() *Engine {
	return &Engine{templates: make(map[string]Template)}
}

// Register adds or replaces a template under its own ID.
func (e *Engine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Lookup returns the template registered under id, if any.
func (e *Engine) Lookup(id string) (Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	return t, ok
}

// HasVariant reports whether templateID is registered and defines a
// body for transport specifically (as opposed to falling back to the
// message's canonical content at render time).
func (e *Engine) HasVariant(templateID, transport string) bool {
	t, ok := e.Lookup(templateID)
	if !ok {
		return false
	}
	_, ok = t.Variants[transport]
	return ok
}

// Render resolves the body for templateID on the given transport,
// substituting vars, and falls back to fallbackContent verbatim when
// templateID is empty, unknown, or has no variant for transport.
// Placeholders with no matching binding are left as the literal
// "{name}" token, per the engine's no-surprises debugging contract.
func (e *Engine) Render(templateID, transport string, vars map[string]string, fallbackContent string) string {
	if templateID == "" {
		return fallbackContent
	}
	t, ok := e.Lookup(templateID)
	if !ok {
		return fallbackContent
	}
	body, ok := t.Variants[transport]
	if !ok {
		return fallbackContent
	}
	return substitute(body, vars)
}

// substitute replaces every {name} occurrence in body with vars[name].
// Unresolved names are left untouched, braces included.
func substitute(body string, vars map[string]string) string {
	if len(vars) == 0 {
		return body
	}
	var b strings.Builder
	b.Grow(len(body))

	for {
		open := strings.IndexByte(body, '{')
		if open == -1 {
			b.WriteString(body)
			break
		}
		close := strings.IndexByte(body[open:], '}')
		if close == -1 {
			b.WriteString(body)
			break
		}
		close += open

		b.WriteString(body[:open])
		name := body[open+1 : close]
		if val, ok := vars[name]; ok {
			b.WriteString(val)
		} else {
			b.WriteString(body[open : close+1])
		}
		body = body[close+1:]
	}
	return b.String()
}
