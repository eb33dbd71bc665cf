package dialogue

import (
	"github.com/avvvet/taxline-intent/internal/script"
	"github.com/avvvet/taxline-intent/internal/session"
)

// LoopGuard counts repeated intents and consecutive silences and decides
// when a conversation must be ended.
type LoopGuard struct {
	threshold    int
	silenceLimit int
	allow        map[script.Intent]bool
}

func NewLoopGuard(cfg script.LoopGuard) *LoopGuard {
	g := &LoopGuard{
		threshold:    cfg.Threshold,
		silenceLimit: cfg.SilenceLimit,
		allow:        make(map[script.Intent]bool, len(cfg.Allow)),
	}
	for _, in := range cfg.Allow {
		g.allow[in] = true
	}
	return g
}

// Observe records a classified intent and reports whether the session
// has now repeated a non-allowed intent threshold times. Any spoken
// input resets the silence streak.
func (g *LoopGuard) Observe(st *session.ConversationState, in script.Intent) bool {
	st.SilenceCount = 0
	st.IntentCounts[in]++
	return !g.allow[in] && st.IntentCounts[in] >= g.threshold
}

// ObserveSilence records a silent turn and reports whether the silence
// limit has been reached.
func (g *LoopGuard) ObserveSilence(st *session.ConversationState) bool {
	st.SilenceCount++
	return st.SilenceCount >= g.silenceLimit
}

// Heard resets the silence streak for input that is not classified,
// such as a captured slot value.
func (g *LoopGuard) Heard(st *session.ConversationState) {
	st.SilenceCount = 0
}
