package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/avvvet/taxline-intent/internal/config"
	"github.com/avvvet/taxline-intent/internal/dialogue"
	"github.com/avvvet/taxline-intent/internal/handlers"
	"github.com/avvvet/taxline-intent/internal/models"
	"github.com/avvvet/taxline-intent/internal/prompts"
	"github.com/avvvet/taxline-intent/internal/script"
	"github.com/avvvet/taxline-intent/internal/session"
	"github.com/avvvet/taxline-intent/internal/transcript"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		ServiceName:   "taxline-intent",
		HTTPAddr:      ":0",
		PublicBaseURL: "https://calls.example.com",
		NatsTimeout:   5 * time.Second,
	}
}

func newTestTurnHandler(t *testing.T) *handlers.TurnHandler {
	t.Helper()
	s, err := script.Bundled("qualify_transfer")
	require.NoError(t, err)
	resolver, err := prompts.NewResolver(s)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	agent := dialogue.NewAgent(s, session.NewMemoryStore(100, 0, logger), logger)
	return handlers.NewTurnHandler(agent, resolver, transcript.NewRecorder(100, 0, logger), nil, logger)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) models.TurnResponse {
	t.Helper()
	var resp models.TurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func postForm(h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := NewHTTPTransport(testConfig(), newTestTurnHandler(t), zaptest.NewLogger(t)).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestProcessEndpoint(t *testing.T) {
	h := NewHTTPTransport(testConfig(), newTestTurnHandler(t), zaptest.NewLogger(t)).Handler()

	rec := postJSON(h, "/process", `{"session_id":"c1","utterance":"yes"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "c1", resp.SessionID)
	assert.True(t, resp.Transfer)
	assert.Equal(t, "tax_type", resp.State)

	// text is accepted in place of utterance.
	rec = postJSON(h, "/process", `{"session_id":"c1","text":"state"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirm_state", decode(t, rec).State)
}

func TestProcessEndpointAssignsSessionID(t *testing.T) {
	h := NewHTTPTransport(testConfig(), newTestTurnHandler(t), zaptest.NewLogger(t)).Handler()

	rec := postJSON(h, "/process", `{"utterance":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec).SessionID, 36)
}

func TestProcessEndpointRejectsBadInput(t *testing.T) {
	h := NewHTTPTransport(testConfig(), newTestTurnHandler(t), zaptest.NewLogger(t)).Handler()

	rec := postJSON(h, "/process", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	long := strings.Repeat("a", handlers.MaxUtteranceLength+1)
	rec = postJSON(h, "/process", `{"session_id":"c1","utterance":"`+long+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec)
	require.NotNil(t, resp.ErrorCode)
	assert.Equal(t, models.ErrorInvalidRequest, *resp.ErrorCode)
}

func TestGreetingEndpoint(t *testing.T) {
	h := NewHTTPTransport(testConfig(), newTestTurnHandler(t), zaptest.NewLogger(t)).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/greeting?session_id=c1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "greeting", resp.ResponseKey)
	assert.Equal(t, "greeting", resp.State)
}

func TestVoiceWebhook(t *testing.T) {
	cfg := testConfig()
	cfg.TransferNumber = "+15551230000"
	h := NewHTTPTransport(cfg, newTestTurnHandler(t), zaptest.NewLogger(t)).Handler()

	// Call starts: opening prompt inside a speech gather.
	rec := postForm(h, "/voice", url.Values{"CallSid": {"CA1"}, "From": {"+15550100"}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<Gather")
	assert.Contains(t, body, "speech")
	assert.Contains(t, body, "https://calls.example.com/voice?turn=1")
	assert.Contains(t, body, "Tax Relief Line")

	// Qualified caller is dialed through.
	rec = postForm(h, "/voice?turn=1", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"Yes."}})
	require.Equal(t, http.StatusOK, rec.Code)
	body = rec.Body.String()
	assert.Contains(t, body, "<Dial")
	assert.Contains(t, body, "+15551230000")

	// Goodbye hangs up.
	rec = postForm(h, "/voice?turn=1", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"bye"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Hangup")
}

func TestVoiceWebhookSilence(t *testing.T) {
	h := NewHTTPTransport(testConfig(), newTestTurnHandler(t), zaptest.NewLogger(t)).Handler()

	postForm(h, "/voice", url.Values{"CallSid": {"CA2"}})
	rec := postForm(h, "/voice?turn=1", url.Values{"CallSid": {"CA2"}})
	assert.Contains(t, rec.Body.String(), "<Gather")

	rec = postForm(h, "/voice?turn=1", url.Values{"CallSid": {"CA2"}})
	assert.Contains(t, rec.Body.String(), "<Hangup")
}

func TestVoiceWebhookNeedsCallSid(t *testing.T) {
	h := NewHTTPTransport(testConfig(), newTestTurnHandler(t), zaptest.NewLogger(t)).Handler()

	rec := postForm(h, "/voice", url.Values{"From": {"+15550100"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNATSMessageHandling(t *testing.T) {
	nt := &NATSTransport{
		config:  testConfig(),
		handler: newTestTurnHandler(t),
		logger:  zaptest.NewLogger(t),
	}

	resp := nt.processOpen([]byte(`{"session_id":"n1"}`))
	assert.Equal(t, models.StatusOK, resp.Status)
	assert.Equal(t, "greeting", resp.ResponseKey)

	resp = nt.processTurn([]byte(`{"session_id":"n1","utterance":"no"}`))
	assert.Equal(t, models.StatusOK, resp.Status)
	assert.Equal(t, "confirm_no", resp.State)

	resp = nt.processTurn([]byte(`garbage`))
	assert.Equal(t, models.StatusError, resp.Status)
	require.NotNil(t, resp.ErrorCode)
	assert.Equal(t, models.ErrorInvalidRequest, *resp.ErrorCode)

	assert.NoError(t, nt.Close())
}
