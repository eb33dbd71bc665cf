package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avvvet/taxline-intent/internal/config"
	"github.com/avvvet/taxline-intent/internal/handlers"
	"github.com/avvvet/taxline-intent/internal/models"
	"github.com/avvvet/taxline-intent/internal/prompts"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NATSTransport struct {
	conn    *nats.Conn
	config  *config.Config
	handler *handlers.TurnHandler
	logger  *zap.Logger
	subs    []*nats.Subscription
}

func NewNATSTransport(cfg *config.Config, handler *handlers.TurnHandler, logger *zap.Logger) (*NATSTransport, error) {
	conn, err := nats.Connect(cfg.NatsURL,
		nats.Name(cfg.ServiceName),
		nats.Timeout(cfg.NatsTimeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1), // Infinite reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS", zap.String("url", cfg.NatsURL))

	return &NATSTransport{
		conn:    conn,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}, nil
}

// Start subscribes to the turn and open subjects. Instances share the
// queue group so each request is served once.
func (nt *NATSTransport) Start() error {
	for subject, handle := range map[string]nats.MsgHandler{
		nt.config.NatsRequestSubject: nt.handleTurnRequest,
		nt.config.NatsOpenSubject:    nt.handleOpenRequest,
	} {
		sub, err := nt.conn.QueueSubscribe(subject, nt.config.NatsQueueGroup, handle)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		nt.subs = append(nt.subs, sub)
		nt.logger.Info("subscribed", zap.String("subject", subject), zap.String("queue", nt.config.NatsQueueGroup))
	}
	return nil
}

func (nt *NATSTransport) handleTurnRequest(msg *nats.Msg) {
	nt.reply(msg, nt.processTurn(msg.Data))
}

func (nt *NATSTransport) handleOpenRequest(msg *nats.Msg) {
	nt.reply(msg, nt.processOpen(msg.Data))
}

// processTurn decodes a TurnRequest and runs it. It never returns nil.
func (nt *NATSTransport) processTurn(data []byte) *models.TurnResponse {
	var request models.TurnRequest
	if err := json.Unmarshal(data, &request); err != nil {
		nt.logger.Warn("invalid turn request", zap.Error(err))
		return errorResponse(request.SessionID, models.ErrorInvalidRequest, "Invalid request format")
	}

	ctx, cancel := context.WithTimeout(context.Background(), nt.config.NatsTimeout)
	defer cancel()

	response, err := nt.handler.ProcessTurn(ctx, &request)
	if err != nil {
		nt.logger.Error("turn processing failed", zap.String("session_id", request.SessionID), zap.Error(err))
		return errorResponse(request.SessionID, models.ErrorInternal, err.Error())
	}
	return response
}

func (nt *NATSTransport) processOpen(data []byte) *models.TurnResponse {
	var request models.OpenRequest
	if err := json.Unmarshal(data, &request); err != nil {
		nt.logger.Warn("invalid open request", zap.Error(err))
		return errorResponse(request.SessionID, models.ErrorInvalidRequest, "Invalid request format")
	}

	ctx, cancel := context.WithTimeout(context.Background(), nt.config.NatsTimeout)
	defer cancel()

	response, err := nt.handler.Open(ctx, &request)
	if err != nil {
		nt.logger.Error("open processing failed", zap.String("session_id", request.SessionID), zap.Error(err))
		return errorResponse(request.SessionID, models.ErrorInternal, err.Error())
	}
	return response
}

func (nt *NATSTransport) reply(msg *nats.Msg, response *models.TurnResponse) {
	responseData, err := json.Marshal(response)
	if err != nil {
		nt.logger.Error("failed to marshal response", zap.Error(err))
		return
	}
	if err := msg.Respond(responseData); err != nil {
		nt.logger.Error("failed to send response", zap.String("session_id", response.SessionID), zap.Error(err))
		return
	}
	nt.logger.Debug("response sent",
		zap.String("session_id", response.SessionID),
		zap.String("status", response.Status),
		zap.Bool("end", response.End),
		zap.Bool("transfer", response.Transfer))
}

// Close drains subscriptions so in-flight turns finish, then closes.
func (nt *NATSTransport) Close() error {
	if nt.conn == nil {
		return nil
	}
	if err := nt.conn.Drain(); err != nil {
		nt.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	nt.logger.Info("NATS connection closed")
	return nil
}

func errorResponse(sessionID, errorCode, errorMessage string) *models.TurnResponse {
	return &models.TurnResponse{
		SessionID:    sessionID,
		Status:       models.StatusError,
		Text:         prompts.FallbackMessage,
		ErrorCode:    &errorCode,
		ErrorMessage: &errorMessage,
	}
}
