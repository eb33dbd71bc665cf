// Package nlu turns raw caller utterances into canonical intents using
// layered phrase matching against the script's catalog.
package nlu

import (
	"strings"

	"github.com/avvvet/taxline-intent/internal/script"
)

const edgePunctuation = `.,!?;:"()`

// Utterance is a normalized caller turn.
type Utterance struct {
	Raw    string   // as received
	Lower  string   // lowercased, quote-folded, whitespace-collapsed
	Words  []string // every word of Lower with edge punctuation trimmed
	Tokens []string // Words minus stop-words
	Text   string   // Tokens joined by single spaces
}

// Empty reports whether nothing at all was said.
func (u Utterance) Empty() bool {
	return len(u.Words) == 0
}

// Normalizer lowercases, trims and tokenizes utterances and removes a
// configurable stop-word set. Keep-words are never removed.
type Normalizer struct {
	stop map[string]bool
}

func NewNormalizer(stopWords, keepWords []string) *Normalizer {
	n := &Normalizer{stop: make(map[string]bool, len(stopWords))}
	for _, w := range stopWords {
		n.stop[script.Fold(w)] = true
	}
	for _, w := range keepWords {
		delete(n.stop, script.Fold(w))
	}
	return n
}

// Normalize never fails; whitespace-only input yields an empty Utterance.
func (n *Normalizer) Normalize(raw string) Utterance {
	fields := strings.Fields(script.Fold(raw))
	u := Utterance{
		Raw:   raw,
		Lower: strings.Join(fields, " "),
	}
	for _, f := range fields {
		w := strings.Trim(f, edgePunctuation)
		if w == "" {
			continue
		}
		u.Words = append(u.Words, w)
		if !n.stop[w] {
			u.Tokens = append(u.Tokens, w)
		}
	}
	u.Text = strings.Join(u.Tokens, " ")
	return u
}

// containsPhrase reports whether phrase occurs in text on word
// boundaries. Both arguments are single-space joined words.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
