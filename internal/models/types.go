package models

// TurnRequest is one caller utterance, sent over NATS or HTTP.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Utterance string `json:"utterance"`
	CallerID  string `json:"caller_id,omitempty"` // pre-fills the phone slot
}

// OpenRequest asks for the prompt to play before the caller speaks.
type OpenRequest struct {
	SessionID string `json:"session_id"`
	CallerID  string `json:"caller_id,omitempty"`
}

// TurnResponse carries the prompt to speak and the call-control flags.
type TurnResponse struct {
	SessionID    string  `json:"session_id"`
	Status       string  `json:"status"` // "OK", "ERROR"
	ResponseKey  string  `json:"response_key"`
	Text         string  `json:"text"`
	End          bool    `json:"end"`
	Transfer     bool    `json:"transfer"`
	State        string  `json:"state,omitempty"`
	Intent       string  `json:"intent,omitempty"`
	ErrorCode    *string `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// Status constants
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Error codes
const (
	ErrorInvalidRequest = "INVALID_REQUEST"
	ErrorStoreFailed    = "STORE_FAILED"
	ErrorInternal       = "INTERNAL_ERROR"
)
