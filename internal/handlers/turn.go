package handlers

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/avvvet/taxline-intent/internal/calllog"
	"github.com/avvvet/taxline-intent/internal/dialogue"
	"github.com/avvvet/taxline-intent/internal/models"
	"github.com/avvvet/taxline-intent/internal/prompts"
	"github.com/avvvet/taxline-intent/internal/session"
	"github.com/avvvet/taxline-intent/internal/transcript"
	"go.uber.org/zap"
)

// MaxUtteranceLength bounds a single caller utterance in bytes.
const MaxUtteranceLength = 2000

// TurnHandler runs turns and keeps the transcript and call log in step
// with them. The whole of a turn, transcript and call log included, is
// serialized per session.
type TurnHandler struct {
	agent    *dialogue.Agent
	resolver *prompts.Resolver
	recorder *transcript.Recorder
	calls    calllog.Sink
	locks    *session.Locker
	logger   *zap.Logger
}

func NewTurnHandler(agent *dialogue.Agent, resolver *prompts.Resolver, recorder *transcript.Recorder, calls calllog.Sink, logger *zap.Logger) *TurnHandler {
	if calls == nil {
		calls = calllog.Nop{}
	}
	return &TurnHandler{
		agent:    agent,
		resolver: resolver,
		recorder: recorder,
		calls:    calls,
		locks:    session.NewLocker(),
		logger:   logger,
	}
}

// ProcessTurn runs one caller utterance through the dialogue agent and
// renders the reply. Failures are reported inside the response.
func (h *TurnHandler) ProcessTurn(ctx context.Context, request *models.TurnRequest) (*models.TurnResponse, error) {
	if err := h.validateTurn(request); err != nil {
		return h.createErrorResponse(request.SessionID, models.ErrorInvalidRequest, err.Error()), nil
	}

	unlock := h.locks.Lock(request.SessionID)
	defer unlock()

	result, err := h.agent.ProcessTurn(ctx, request.SessionID, request.Utterance, request.CallerID)
	if err != nil {
		h.logger.Error("turn failed", zap.String("session_id", request.SessionID), zap.Error(err))
		return h.createErrorResponse(request.SessionID, models.ErrorStoreFailed, err.Error()), nil
	}

	text := h.resolver.Render(result.ResponseKey, result.Contact.Slots())
	if err := h.recorder.RecordTurn(ctx, request.SessionID, request.Utterance, text); err != nil {
		h.logger.Warn("transcript not recorded", zap.String("session_id", request.SessionID), zap.Error(err))
	}
	h.logOutcome(ctx, result)

	return &models.TurnResponse{
		SessionID:   request.SessionID,
		Status:      models.StatusOK,
		ResponseKey: result.ResponseKey,
		Text:        text,
		End:         result.End,
		Transfer:    result.Transfer,
		State:       string(result.State),
		Intent:      string(result.Intent),
	}, nil
}

// Open returns the prompt to play before the caller has said anything.
func (h *TurnHandler) Open(ctx context.Context, request *models.OpenRequest) (*models.TurnResponse, error) {
	if request.SessionID == "" {
		return h.createErrorResponse("", models.ErrorInvalidRequest, "session_id is required"), nil
	}

	unlock := h.locks.Lock(request.SessionID)
	defer unlock()

	result, err := h.agent.Open(ctx, request.SessionID, request.CallerID)
	if err != nil {
		h.logger.Error("open failed", zap.String("session_id", request.SessionID), zap.Error(err))
		return h.createErrorResponse(request.SessionID, models.ErrorStoreFailed, err.Error()), nil
	}

	text := h.resolver.Render(result.ResponseKey, result.Contact.Slots())
	if result.NewSession {
		if err := h.recorder.RecordPrompt(ctx, request.SessionID, text); err != nil {
			h.logger.Warn("transcript not recorded", zap.String("session_id", request.SessionID), zap.Error(err))
		}
	}

	return &models.TurnResponse{
		SessionID:   request.SessionID,
		Status:      models.StatusOK,
		ResponseKey: result.ResponseKey,
		Text:        text,
		State:       string(result.State),
	}, nil
}

func (h *TurnHandler) validateTurn(request *models.TurnRequest) error {
	if request.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if len(request.Utterance) > MaxUtteranceLength {
		return fmt.Errorf("utterance exceeds %d bytes", MaxUtteranceLength)
	}
	if !utf8.ValidString(request.Utterance) {
		return fmt.Errorf("utterance is not valid UTF-8")
	}
	return nil
}

// logOutcome writes ended calls, transfers and completed contact
// collections to the call log. Ended calls take their transcript with
// them.
func (h *TurnHandler) logOutcome(ctx context.Context, result *dialogue.Result) {
	var kind string
	switch {
	case result.End:
		kind = calllog.EventEnded
	case result.ContactCompleted:
		kind = calllog.EventContactCollected
	case result.Transfer:
		kind = calllog.EventTransferred
	default:
		return
	}

	var (
		lines []transcript.Entry
		err   error
	)
	if result.End {
		lines, err = h.recorder.Flush(ctx, result.SessionID)
	} else {
		lines, err = h.recorder.Entries(ctx, result.SessionID)
	}
	if err != nil {
		h.logger.Warn("transcript unavailable", zap.String("session_id", result.SessionID), zap.Error(err))
	}
	if result.End {
		h.logger.Debug("call transcript", zap.String("session_id", result.SessionID), zap.String("transcript", transcript.Format(lines)))
	}

	ev := calllog.Event{
		SessionID:   result.SessionID,
		Kind:        kind,
		Reason:      result.Reason,
		ResponseKey: result.ResponseKey,
		State:       string(result.PrevState),
		Contact:     result.Contact,
		Turns:       result.Turns,
		Transcript:  lines,
	}
	if err := h.calls.Record(ctx, ev); err != nil {
		h.logger.Error("call log write failed", zap.String("session_id", result.SessionID), zap.String("event", kind), zap.Error(err))
	}
}

func (h *TurnHandler) createErrorResponse(sessionID, errorCode, errorMessage string) *models.TurnResponse {
	return &models.TurnResponse{
		SessionID:    sessionID,
		Status:       models.StatusError,
		Text:         prompts.FallbackMessage,
		ErrorCode:    &errorCode,
		ErrorMessage: &errorMessage,
	}
}
