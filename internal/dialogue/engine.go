// Package dialogue runs the call script: a pure transition function over
// (state, intent), a loop guard that bounds conversation length, and the
// Agent that serializes turns per session and commits their effects.
package dialogue

import (
	"github.com/avvvet/taxline-intent/internal/script"
)

// Engine evaluates the transition table. It holds no mutable state.
type Engine struct {
	script *script.Script
}

func NewEngine(s *script.Script) *Engine {
	return &Engine{script: s}
}

// Transition returns the outcome for intent in state. counts are the
// session's intent counts including the current turn; they are read
// only, to evaluate rule guards.
func (e *Engine) Transition(state script.State, intent script.Intent, counts map[script.Intent]int) script.Outcome {
	r, ok := e.script.Lookup(state, intent)
	if !ok {
		// Validated scripts are total; keep the caller on the same prompt.
		return script.Outcome{Reprompt: true}
	}
	if r.Guard != nil && counts[r.Guard.Seen] > 0 {
		return r.Guard.Then
	}
	return r.Outcome
}

// Capture returns the outcome of a capture state accepting its slot value.
func (e *Engine) Capture(state script.State) script.Outcome {
	return e.Transition(state, script.AnyIntent, nil)
}
