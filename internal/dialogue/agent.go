package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avvvet/taxline-intent/internal/nlu"
	"github.com/avvvet/taxline-intent/internal/script"
	"github.com/avvvet/taxline-intent/internal/session"
	"go.uber.org/zap"
)

// Reasons reported with every turn result.
const (
	ReasonGoodbye      = "goodbye"
	ReasonSilence      = "silence"
	ReasonSilenceLimit = "silence_limit"
	ReasonLoopGuard    = "loop_guard"
	ReasonCapture      = "capture"
	ReasonTransition   = "transition"
	ReasonOpen         = "open"
)

// Result is what a turn produced. State is the dialogue state the next
// turn starts from; after an ended call that is the initial state.
type Result struct {
	SessionID        string
	ResponseKey      string
	End              bool
	Transfer         bool
	Intent           script.Intent
	Stage            string
	Reason           string
	PrevState        script.State
	State            script.State
	Contact          session.ContactDetails
	ContactCompleted bool
	NewSession       bool
	Turns            int
}

// turn is the decision for one utterance before it is committed.
type turn struct {
	intent  script.Intent
	stage   string
	reason  string
	outcome script.Outcome
	slot    string
	value   string
}

// Agent processes caller turns against a script. Turns for the same
// session are serialized; turns for different sessions run in parallel.
type Agent struct {
	script     *script.Script
	classifier *nlu.Classifier
	engine     *Engine
	guard      *LoopGuard
	store      session.Store
	locks      *session.Locker
	logger     *zap.Logger
}

func NewAgent(s *script.Script, store session.Store, logger *zap.Logger) *Agent {
	return &Agent{
		script:     s,
		classifier: nlu.NewClassifier(s),
		engine:     NewEngine(s),
		guard:      NewLoopGuard(s.LoopGuard),
		store:      store,
		locks:      session.NewLocker(),
		logger:     logger,
	}
}

// Open returns the prompt a caller should hear before speaking: the
// opening prompt for a new session, or the last prompt of a live one.
func (a *Agent) Open(ctx context.Context, sessionID, contactHint string) (*Result, error) {
	unlock := a.locks.Lock(sessionID)
	defer unlock()

	st, created, err := a.load(ctx, sessionID, contactHint)
	if err != nil {
		return nil, err
	}
	if err := a.store.Put(ctx, st); err != nil {
		return nil, err
	}
	return &Result{
		SessionID:   sessionID,
		ResponseKey: st.LastPromptKey,
		Reason:      ReasonOpen,
		PrevState:   st.CurrentState,
		State:       st.CurrentState,
		Contact:     st.Contact,
		NewSession:  created,
		Turns:       st.Turns,
	}, nil
}

// ProcessTurn advances sessionID by one caller utterance. An empty
// utterance is silence. contactHint, when set, pre-fills the phone slot.
func (a *Agent) ProcessTurn(ctx context.Context, sessionID, utterance, contactHint string) (*Result, error) {
	unlock := a.locks.Lock(sessionID)
	defer unlock()

	st, created, err := a.load(ctx, sessionID, contactHint)
	if err != nil {
		return nil, err
	}
	st.Turns++
	st.LastActivity = time.Now()

	t := a.decide(st, a.classifier.Normalize(utterance))

	res, err := a.commit(ctx, st, t)
	if err != nil {
		return nil, err
	}
	res.NewSession = created

	a.logger.Debug("turn processed",
		zap.String("session_id", sessionID),
		zap.String("from", string(res.PrevState)),
		zap.String("to", string(res.State)),
		zap.String("intent", string(res.Intent)),
		zap.String("stage", res.Stage),
		zap.String("reason", res.Reason),
		zap.String("response", res.ResponseKey),
		zap.Bool("end", res.End),
		zap.Bool("transfer", res.Transfer))
	if res.End {
		a.logger.Info("call ended",
			zap.String("session_id", sessionID),
			zap.String("reason", res.Reason),
			zap.String("response", res.ResponseKey),
			zap.Int("turns", res.Turns))
	} else if res.Transfer {
		a.logger.Info("transfer requested",
			zap.String("session_id", sessionID),
			zap.String("state", string(res.State)))
	}
	return res, nil
}

// Snapshot returns a copy of the stored session, or nil if none exists.
func (a *Agent) Snapshot(ctx context.Context, sessionID string) (*session.ConversationState, error) {
	unlock := a.locks.Lock(sessionID)
	defer unlock()

	st, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return st, nil
}

func (a *Agent) load(ctx context.Context, sessionID, contactHint string) (*session.ConversationState, bool, error) {
	st, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	created := false
	if st == nil {
		st = session.New(sessionID, a.script)
		created = true
	}
	if hint := strings.TrimSpace(contactHint); hint != "" && st.Contact.Phone == "" {
		st.Contact.Phone = hint
	}
	return st, created, nil
}

// decide picks the outcome for one utterance. Priority: goodbye phrase,
// silence, slot capture, loop guard, transition table. Only counters are
// touched here; everything else happens in commit.
func (a *Agent) decide(st *session.ConversationState, u nlu.Utterance) turn {
	sys := a.script.System

	if a.classifier.IsGoodbye(u) {
		return turn{
			reason:  ReasonGoodbye,
			outcome: script.Outcome{Response: sys.Goodbye, End: true},
		}
	}

	slot, capturing := a.script.CaptureSlot(st.CurrentState)

	var m nlu.Match
	if capturing {
		if u.Empty() {
			m = nlu.Match{Intent: nlu.Silence, Stage: nlu.StageSilence}
		}
	} else {
		m = a.classifier.Explain(u)
	}

	if m.Intent == nlu.Silence {
		if a.guard.ObserveSilence(st) {
			return turn{
				intent:  nlu.Silence,
				stage:   m.Stage,
				reason:  ReasonSilenceLimit,
				outcome: script.Outcome{Response: sys.SilenceExit, End: true},
			}
		}
		return turn{
			intent:  nlu.Silence,
			stage:   m.Stage,
			reason:  ReasonSilence,
			outcome: script.Outcome{Reprompt: true},
		}
	}

	if capturing {
		a.guard.Heard(st)
		return turn{
			reason:  ReasonCapture,
			outcome: a.engine.Capture(st.CurrentState),
			slot:    slot,
			value:   strings.TrimSpace(u.Raw),
		}
	}

	if a.guard.Observe(st, m.Intent) {
		return turn{
			intent:  m.Intent,
			stage:   m.Stage,
			reason:  ReasonLoopGuard,
			outcome: script.Outcome{Response: sys.LoopExit, End: true},
		}
	}

	return turn{
		intent:  m.Intent,
		stage:   m.Stage,
		reason:  ReasonTransition,
		outcome: a.engine.Transition(st.CurrentState, m.Intent, st.IntentCounts),
	}
}

// commit applies a decision to the session and persists it. Ended calls
// are removed from the store so the next turn starts fresh.
func (a *Agent) commit(ctx context.Context, st *session.ConversationState, t turn) (*Result, error) {
	if t.slot != "" {
		st.Contact.Set(t.slot, t.value)
	}

	o := t.outcome
	key := o.Response
	if o.Reprompt {
		key = st.LastPromptKey
	}

	res := &Result{
		SessionID: st.SessionID,
		Intent:    t.intent,
		Stage:     t.stage,
		Reason:    t.reason,
		PrevState: st.CurrentState,
		Transfer:  o.Transfer,
		Turns:     st.Turns,
	}

	if o.End {
		if err := a.store.Delete(ctx, st.SessionID); err != nil {
			return nil, fmt.Errorf("failed to reset session %s: %w", st.SessionID, err)
		}
		res.ResponseKey = key
		res.End = true
		res.State = a.script.InitialState
		res.Contact = st.Contact
		return res, nil
	}

	if o.Next != "" {
		st.CurrentState = o.Next
		key = a.skipFilledCaptures(st, key)
	}

	if _, ok := a.script.CaptureSlot(st.CurrentState); ok {
		st.ContactRequested = true
	}
	if st.ContactRequested && st.CurrentState == a.script.CompletionState {
		st.ContactRequested = false
		res.ContactCompleted = true
	}
	st.LastPromptKey = key

	if err := a.store.Put(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to save session %s: %w", st.SessionID, err)
	}

	res.ResponseKey = key
	res.State = st.CurrentState
	res.Contact = st.Contact
	return res, nil
}

// skipFilledCaptures walks past capture states whose slot is already
// known, for example a phone number taken from caller ID.
func (a *Agent) skipFilledCaptures(st *session.ConversationState, key string) string {
	for range a.script.States {
		slot, ok := a.script.CaptureSlot(st.CurrentState)
		if !ok || st.Contact.Get(slot) == "" {
			break
		}
		// Entering the sub-flow at all counts as a contact request.
		st.ContactRequested = true
		o := a.engine.Capture(st.CurrentState)
		if o.Next == "" {
			break
		}
		st.CurrentState = o.Next
		key = o.Response
	}
	return key
}
