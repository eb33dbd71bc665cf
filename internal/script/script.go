// Package script holds the declarative call script: the ordered phrase
// catalog, the dialogue states, the transition table and the response
// templates. A script is loaded once at startup and is read-only after
// validation.
package script

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// State is a named point in the qualification script.
type State string

// Intent is a canonical intent tag from the phrase catalog.
type Intent string

// Wildcards usable in the transition table.
const (
	AnyState  State  = "*"
	AnyIntent Intent = "*"
)

// ErrInvalid wraps every validation failure returned by Parse.
var ErrInvalid = errors.New("invalid script")

//go:embed scripts/*.yaml
var bundled embed.FS

// Outcome is the result of a single transition.
type Outcome struct {
	Next     State  `yaml:"next"`     // empty means stay in the current state
	Response string `yaml:"response"` // response key
	Reprompt bool   `yaml:"reprompt"` // re-issue the last prompt instead of Response
	End      bool   `yaml:"end"`
	Transfer bool   `yaml:"transfer"`
}

// Guard swaps in an alternate outcome when the caller has already
// produced the Seen intent earlier in the session.
type Guard struct {
	Seen Intent  `yaml:"seen"`
	Then Outcome `yaml:"then"`
}

// Rule is one row of the transition table.
type Rule struct {
	State   State  `yaml:"state"`
	Intent  Intent `yaml:"intent"`
	Outcome `yaml:",inline"`
	Guard   *Guard `yaml:"guard,omitempty"`
}

// IntentPhrases registers the phrases that trigger an intent. Catalog
// order is the classifier's tie-break order. A strict intent is skipped
// by single-token overlap and needs a whole phrase to match.
type IntentPhrases struct {
	Intent  Intent   `yaml:"intent"`
	Strict  bool     `yaml:"strict,omitempty"`
	Phrases []string `yaml:"phrases"`
}

// quoteFolder maps typographic quotes to ASCII so "don’t" and "don't"
// compare equal.
var quoteFolder = strings.NewReplacer(
	"’", "'",
	"‘", "'",
	"“", `"`,
	"”", `"`,
)

// Fold returns the comparison form of a phrase or utterance: NFKC,
// ASCII quotes, lower case and single spaces. Phrase uniqueness and the
// classifier's exact match both key on it.
func Fold(s string) string {
	s = cases.Lower(language.English).String(quoteFolder.Replace(norm.NFKC.String(s)))
	return strings.Join(strings.Fields(s), " ")
}

// StateDef declares a dialogue state. Capture states take the raw
// utterance as the value of the named slot instead of classifying it.
type StateDef struct {
	Name    State  `yaml:"name"`
	Capture string `yaml:"capture,omitempty"`
}

// LoopGuard bounds conversation length.
type LoopGuard struct {
	Threshold    int      `yaml:"threshold"`
	Allow        []Intent `yaml:"allow"`
	SilenceLimit int      `yaml:"silence_limit"`
}

// SystemResponses are the response keys used by turns that bypass the
// transition table.
type SystemResponses struct {
	Goodbye     string `yaml:"goodbye"`
	LoopExit    string `yaml:"loop_exit"`
	SilenceExit string `yaml:"silence_exit"`
}

// Script is a complete, validated call script.
type Script struct {
	Name            string            `yaml:"name"`
	InitialState    State             `yaml:"initial_state"`
	CompletionState State             `yaml:"completion_state"`
	Opening         string            `yaml:"opening_response"`
	Fallback        Intent            `yaml:"fallback_intent"`
	System          SystemResponses   `yaml:"system_responses"`
	StopWords       []string          `yaml:"stop_words"`
	KeepWords       []string          `yaml:"keep_words"`
	Goodbyes        []string          `yaml:"goodbye_phrases"`
	States          []StateDef        `yaml:"states"`
	Intents         []IntentPhrases   `yaml:"intents"`
	Rules           []Rule            `yaml:"transitions"`
	Templates       map[string]string `yaml:"responses"`
	LoopGuard       LoopGuard         `yaml:"loop_guard"`

	states  map[State]StateDef
	intents map[Intent]bool
	index   map[ruleKey]Rule
}

type ruleKey struct {
	state  State
	intent Intent
}

// Load reads and validates a script file.
func Load(file string) (*Script, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", file, err)
	}
	return Parse(data)
}

// Bundled returns one of the scripts compiled into the binary.
func Bundled(name string) (*Script, error) {
	data, err := bundled.ReadFile(path.Join("scripts", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("unknown script variant %q (available: %s)", name, strings.Join(Variants(), ", "))
	}
	return Parse(data)
}

// Variants lists the bundled script names.
func Variants() []string {
	entries, _ := bundled.ReadDir("scripts")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Parse decodes a YAML script and runs the full validation, including
// the totality check over every declared (state, intent) pair.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if err := s.build(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Script) build() error {
	s.states = make(map[State]StateDef, len(s.States))
	for _, st := range s.States {
		if _, dup := s.states[st.Name]; dup {
			return fmt.Errorf("%w: duplicate state %q", ErrInvalid, st.Name)
		}
		s.states[st.Name] = st
	}

	s.intents = make(map[Intent]bool, len(s.Intents))
	for _, ip := range s.Intents {
		if s.intents[ip.Intent] {
			return fmt.Errorf("%w: duplicate intent %q", ErrInvalid, ip.Intent)
		}
		s.intents[ip.Intent] = true
	}

	s.index = make(map[ruleKey]Rule, len(s.Rules))
	for _, r := range s.Rules {
		k := ruleKey{r.State, r.Intent}
		if _, dup := s.index[k]; dup {
			return fmt.Errorf("%w: duplicate transition (%s, %s)", ErrInvalid, r.State, r.Intent)
		}
		s.index[k] = r
	}
	return nil
}

// Validate checks internal references and totality. Every problem found
// is reported, not just the first.
func (s *Script) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !s.HasState(s.InitialState) {
		add("initial state %q is not declared", s.InitialState)
	}
	if s.CompletionState != "" && !s.HasState(s.CompletionState) {
		add("completion state %q is not declared", s.CompletionState)
	}
	if !s.HasIntent(s.Fallback) {
		add("fallback intent %q is not declared", s.Fallback)
	}
	for _, key := range []string{s.Opening, s.System.Goodbye, s.System.LoopExit, s.System.SilenceExit} {
		if !s.HasResponse(key) {
			add("system response %q has no template", key)
		}
	}

	seen := make(map[string]Intent)
	for _, ip := range s.Intents {
		if ip.Intent == AnyIntent {
			add("intent name %q is reserved", AnyIntent)
		}
		for _, p := range ip.Phrases {
			k := Fold(p)
			if k == "" {
				add("intent %q has an empty phrase", ip.Intent)
				continue
			}
			if owner, dup := seen[k]; dup {
				if owner != ip.Intent {
					add("phrase %q registered for both %q and %q", p, owner, ip.Intent)
				}
				continue
			}
			seen[k] = ip.Intent
		}
	}

	for _, r := range s.Rules {
		if r.State != AnyState && !s.HasState(r.State) {
			add("transition (%s, %s): unknown state", r.State, r.Intent)
		}
		if r.Intent != AnyIntent && !s.HasIntent(r.Intent) {
			add("transition (%s, %s): unknown intent", r.State, r.Intent)
		}
		errs = append(errs, s.checkOutcome(r, r.Outcome)...)
		if r.Guard != nil {
			if !s.HasIntent(r.Guard.Seen) {
				add("transition (%s, %s): guard on unknown intent %q", r.State, r.Intent, r.Guard.Seen)
			}
			errs = append(errs, s.checkOutcome(r, r.Guard.Then)...)
		}
	}

	lg := s.LoopGuard
	if lg.Threshold < 1 {
		add("loop_guard.threshold must be at least 1, got %d", lg.Threshold)
	}
	if lg.SilenceLimit < 1 {
		add("loop_guard.silence_limit must be at least 1, got %d", lg.SilenceLimit)
	}
	for _, in := range lg.Allow {
		if !s.HasIntent(in) {
			add("loop_guard.allow: unknown intent %q", in)
		}
	}

	errs = append(errs, s.checkTotality()...)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (s *Script) checkOutcome(r Rule, o Outcome) []error {
	var errs []error
	if o.Next != "" && !s.HasState(o.Next) {
		errs = append(errs, fmt.Errorf("transition (%s, %s): unknown next state %q", r.State, r.Intent, o.Next))
	}
	if o.Reprompt && o.Response != "" {
		errs = append(errs, fmt.Errorf("transition (%s, %s): reprompt and response are exclusive", r.State, r.Intent))
	}
	if !o.Reprompt && !s.HasResponse(o.Response) {
		errs = append(errs, fmt.Errorf("transition (%s, %s): response %q has no template", r.State, r.Intent, o.Response))
	}
	return errs
}

// checkTotality walks the Cartesian product of declared states and
// catalog intents. Capture states only need their own default rule.
func (s *Script) checkTotality() []error {
	var errs []error
	for _, st := range s.States {
		if st.Capture != "" {
			if _, ok := s.index[ruleKey{st.Name, AnyIntent}]; !ok {
				errs = append(errs, fmt.Errorf("capture state %q has no (%s, *) transition", st.Name, st.Name))
			}
			continue
		}
		for _, ip := range s.Intents {
			if _, ok := s.Lookup(st.Name, ip.Intent); !ok {
				errs = append(errs, fmt.Errorf("no transition for (%s, %s)", st.Name, ip.Intent))
			}
		}
	}
	return errs
}

// Lookup resolves a transition: exact match, then the global rule for
// the intent, then the state's default, then the global default.
func (s *Script) Lookup(state State, intent Intent) (Rule, bool) {
	for _, k := range []ruleKey{
		{state, intent},
		{AnyState, intent},
		{state, AnyIntent},
		{AnyState, AnyIntent},
	} {
		if r, ok := s.index[k]; ok {
			return r, true
		}
	}
	return Rule{}, false
}

// CaptureSlot reports the slot a capture state fills.
func (s *Script) CaptureSlot(state State) (string, bool) {
	def, ok := s.states[state]
	if !ok || def.Capture == "" {
		return "", false
	}
	return def.Capture, true
}

func (s *Script) HasState(st State) bool {
	_, ok := s.states[st]
	return ok
}

func (s *Script) HasIntent(in Intent) bool {
	return s.intents[in]
}

func (s *Script) HasResponse(key string) bool {
	_, ok := s.Templates[key]
	return ok
}

// Allowed reports whether the intent may repeat without tripping the
// loop guard.
func (s *Script) Allowed(in Intent) bool {
	for _, a := range s.LoopGuard.Allow {
		if a == in {
			return true
		}
	}
	return false
}

// ApplyOverrides replaces loop guard settings from deployment
// configuration. Zero values keep the script's own settings.
func (s *Script) ApplyOverrides(threshold int, allow []string, silenceLimit int) error {
	if threshold > 0 {
		s.LoopGuard.Threshold = threshold
	}
	if silenceLimit > 0 {
		s.LoopGuard.SilenceLimit = silenceLimit
	}
	if len(allow) > 0 {
		list := make([]Intent, 0, len(allow))
		for _, a := range allow {
			in := Intent(strings.TrimSpace(a))
			if !s.HasIntent(in) {
				return fmt.Errorf("%w: loop allow-list names unknown intent %q", ErrInvalid, in)
			}
			list = append(list, in)
		}
		s.LoopGuard.Allow = list
	}
	return nil
}
