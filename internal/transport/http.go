package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avvvet/taxline-intent/internal/config"
	"github.com/avvvet/taxline-intent/internal/handlers"
	"github.com/avvvet/taxline-intent/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"
)

// processRequest is the JSON body of POST /process. Text is accepted as
// an alias for Utterance.
type processRequest struct {
	SessionID string `json:"session_id"`
	Utterance string `json:"utterance"`
	Text      string `json:"text"`
	CallerID  string `json:"caller_id"`
}

// voiceRequest holds the Twilio webhook fields we read.
type voiceRequest struct {
	CallSid      string `form:"CallSid"`
	From         string `form:"From"`
	SpeechResult string `form:"SpeechResult"`
}

// HTTPTransport serves the JSON turn API and the Twilio voice webhook.
type HTTPTransport struct {
	config  *config.Config
	handler *handlers.TurnHandler
	logger  *zap.Logger
	router  *gin.Engine
	server  *http.Server
}

func NewHTTPTransport(cfg *config.Config, handler *handlers.TurnHandler, logger *zap.Logger) *HTTPTransport {
	ht := &HTTPTransport{
		config:  cfg,
		handler: handler,
		logger:  logger,
	}

	router := gin.New()
	router.Use(gin.Recovery(), ht.requestLogger())
	router.GET("/healthz", ht.health)
	router.GET("/greeting", ht.greeting)
	router.POST("/process", ht.process)
	router.POST("/voice", ht.voice)
	ht.router = router

	ht.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ht
}

// Handler exposes the router, mainly for httptest.
func (ht *HTTPTransport) Handler() http.Handler {
	return ht.router
}

// Start serves until Close is called. It returns nil on a clean shutdown.
func (ht *HTTPTransport) Start() error {
	ht.logger.Info("HTTP listening", zap.String("addr", ht.config.HTTPAddr))
	if err := ht.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func (ht *HTTPTransport) Close(ctx context.Context) error {
	if err := ht.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	ht.logger.Info("HTTP server stopped")
	return nil
}

func (ht *HTTPTransport) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ht.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (ht *HTTPTransport) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": ht.config.ServiceName})
}

func (ht *HTTPTransport) greeting(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	response, err := ht.handler.Open(c.Request.Context(), &models.OpenRequest{
		SessionID: sessionID,
		CallerID:  c.Query("caller_id"),
	})
	ht.writeJSON(c, response, err)
}

func (ht *HTTPTransport) process(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(req.SessionID, models.ErrorInvalidRequest, "Invalid request format"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.Utterance == "" {
		req.Utterance = req.Text
	}

	response, err := ht.handler.ProcessTurn(c.Request.Context(), &models.TurnRequest{
		SessionID: req.SessionID,
		Utterance: req.Utterance,
		CallerID:  req.CallerID,
	})
	ht.writeJSON(c, response, err)
}

func (ht *HTTPTransport) writeJSON(c *gin.Context, response *models.TurnResponse, err error) {
	if err != nil {
		ht.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("", models.ErrorInternal, err.Error()))
		return
	}
	status := http.StatusOK
	if response.Status == models.StatusError && response.ErrorCode != nil && *response.ErrorCode == models.ErrorInvalidRequest {
		status = http.StatusBadRequest
	}
	c.JSON(status, response)
}

// voice handles the Twilio webhook. The first request of a call carries
// no turn marker and plays the opening prompt; every Gather posts back
// with turn=1 and the recognized speech, empty on silence.
func (ht *HTTPTransport) voice(c *gin.Context) {
	var req voiceRequest
	if err := c.ShouldBind(&req); err != nil || req.CallSid == "" {
		c.String(http.StatusBadRequest, "CallSid is required")
		return
	}

	ctx := c.Request.Context()
	var (
		response *models.TurnResponse
		err      error
	)
	if c.Query("turn") == "" {
		response, err = ht.handler.Open(ctx, &models.OpenRequest{SessionID: req.CallSid, CallerID: req.From})
	} else {
		response, err = ht.handler.ProcessTurn(ctx, &models.TurnRequest{
			SessionID: req.CallSid,
			Utterance: req.SpeechResult,
			CallerID:  req.From,
		})
	}
	if err != nil {
		ht.logger.Error("voice turn failed", zap.String("call_sid", req.CallSid), zap.Error(err))
		response = errorResponse(req.CallSid, models.ErrorInternal, err.Error())
	}

	body, err := ht.callControl(response)
	if err != nil {
		ht.logger.Error("failed to build TwiML", zap.String("call_sid", req.CallSid), zap.Error(err))
		c.String(http.StatusInternalServerError, "failed to build response")
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(body))
}

// callControl turns a response into call control. An ended call hangs up, a
// transfer dials the live agent when a number is configured, anything
// else speaks the prompt inside a speech Gather.
func (ht *HTTPTransport) callControl(response *models.TurnResponse) (string, error) {
	say := &twiml.VoiceSay{Message: response.Text}

	switch {
	case response.End:
		return twiml.Voice([]twiml.Element{say, &twiml.VoiceHangup{}})
	case response.Transfer && ht.config.TransferNumber != "":
		return twiml.Voice([]twiml.Element{say, &twiml.VoiceDial{Number: ht.config.TransferNumber}})
	}

	gather := &twiml.VoiceGather{
		Action:              ht.config.PublicBaseURL + "/voice?turn=1",
		Method:              http.MethodPost,
		Input:               "speech",
		ActionOnEmptyResult: "true",
		InnerElements:       []twiml.Element{say},
	}
	return twiml.Voice([]twiml.Element{gather})
}
