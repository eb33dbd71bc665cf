package nlu

import (
	"strings"

	"github.com/avvvet/taxline-intent/internal/script"
)

// Silence is reported for turns with nothing meaningful in them. It is
// not part of the catalog and never reaches the transition table.
const Silence script.Intent = "silence"

// Match stages, in evaluation order.
const (
	StageSilence    = "silence"
	StageExact      = "exact"
	StageNormalized = "normalized"
	StageContains   = "contains"
	StageToken      = "token"
	StageFallback   = "fallback"
)

// Match explains a classification.
type Match struct {
	Intent script.Intent
	Stage  string
	Phrase string // catalog phrase that matched, if any
}

type phrase struct {
	source string
	text   string // normalized form
	tokens []string
}

type entry struct {
	intent  script.Intent
	strict  bool
	phrases []phrase
}

// Classifier maps utterances to canonical intents. It is immutable after
// construction and safe for concurrent use.
type Classifier struct {
	normalizer *Normalizer
	entries    []entry
	exact      map[string]script.Intent
	goodbyes   []string
	fallback   script.Intent
}

// NewClassifier compiles the script's phrase catalog. Catalog order is
// preserved and decides ties.
func NewClassifier(s *script.Script) *Classifier {
	n := NewNormalizer(s.StopWords, s.KeepWords)
	c := &Classifier{
		normalizer: n,
		exact:      make(map[string]script.Intent),
		fallback:   s.Fallback,
	}
	for _, ip := range s.Intents {
		e := entry{intent: ip.Intent, strict: ip.Strict}
		for _, p := range ip.Phrases {
			u := n.Normalize(p)
			if _, taken := c.exact[u.Lower]; !taken {
				c.exact[u.Lower] = ip.Intent
			}
			e.phrases = append(e.phrases, phrase{source: p, text: u.Text, tokens: u.Tokens})
		}
		c.entries = append(c.entries, e)
	}
	for _, g := range s.Goodbyes {
		if words := n.Normalize(g).Words; len(words) > 0 {
			c.goodbyes = append(c.goodbyes, strings.Join(words, " "))
		}
	}
	return c
}

// Normalize exposes the classifier's normalizer.
func (c *Classifier) Normalize(raw string) Utterance {
	return c.normalizer.Normalize(raw)
}

// Classify returns the canonical intent for u.
func (c *Classifier) Classify(u Utterance) script.Intent {
	return c.Explain(u).Intent
}

// Explain runs the layered match: exact raw phrase, full normalized
// phrase, phrase containment, single-token overlap, then the fallback.
// Strict intents take no part in token overlap.
func (c *Classifier) Explain(u Utterance) Match {
	if u.Empty() {
		return Match{Intent: Silence, Stage: StageSilence}
	}
	if in, ok := c.exact[u.Lower]; ok {
		return Match{Intent: in, Stage: StageExact, Phrase: u.Lower}
	}
	// Only filler words left.
	if len(u.Tokens) == 0 {
		return Match{Intent: Silence, Stage: StageSilence}
	}

	for _, e := range c.entries {
		for _, p := range e.phrases {
			if p.text != "" && p.text == u.Text {
				return Match{Intent: e.intent, Stage: StageNormalized, Phrase: p.source}
			}
		}
	}

	for _, e := range c.entries {
		for _, p := range e.phrases {
			if containsPhrase(u.Text, p.text) {
				return Match{Intent: e.intent, Stage: StageContains, Phrase: p.source}
			}
		}
	}

	have := make(map[string]bool, len(u.Tokens))
	for _, t := range u.Tokens {
		have[t] = true
	}
	for _, e := range c.entries {
		if e.strict {
			continue
		}
		for _, p := range e.phrases {
			for _, t := range p.tokens {
				if have[t] {
					return Match{Intent: e.intent, Stage: StageToken, Phrase: p.source}
				}
			}
		}
	}

	return Match{Intent: c.fallback, Stage: StageFallback}
}

// IsGoodbye reports whether the caller used a closing phrase anywhere in
// the utterance. Stop-words are kept for this check.
func (c *Classifier) IsGoodbye(u Utterance) bool {
	said := strings.Join(u.Words, " ")
	for _, g := range c.goodbyes {
		if containsPhrase(said, g) {
			return true
		}
	}
	return false
}
