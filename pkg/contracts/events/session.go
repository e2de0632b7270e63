// Package events defines the JSON frames exchanged over the session push
// channel and the response envelopes shared with the REST API.
package events

import (
	"time"
)

// Inbound actions a connected client may send over the push channel
const (
	ActionValidate     = "validate"
	ActionCloseSession = "close_session"
	ActionPing         = "ping"
)

// Outbound actions written by the server
const (
	ActionConnectResponse      = "connect_response"
	ActionValidateResponse     = "validate_response"
	ActionCloseSessionResponse = "close_session_response"
	ActionSessionTerminated    = "session_terminated"
	ActionPong                 = "pong"
	ActionError                = "error"
)

// Status messages carried in SessionResult.Message
const (
	MessageConnectionEstablished = "connection established"
	MessageConnectionClosed      = "connection closed"
	MessageInvalidLicense        = "invalid license"
	MessageInvalidLicenseError   = "invalid license error"
	MessageInvalidSubscription   = "invalid subscription"
	MessageServerError           = "server error"
	MessageValid                 = "valid"
	MessageNotFound              = "not found in active users"
	MessageInternalServerError   = "internal server error"
	MessageUnknownAction         = "unknown action"
	MessageMalformedMessage      = "malformed message"
)

// ReasonSuperseded is the only displacement reason the server emits today.
const ReasonSuperseded = "session superseded"

// SessionResult is the outcome of a session-control event.
// Status and StatusCode are independent: a validation that hit an internal
// failure reports Status=true with StatusCode=500.
type SessionResult struct {
	Status     bool   `json:"status"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// ActionMessage is the envelope for every frame exchanged on the push channel.
type ActionMessage struct {
	Action string      `json:"action"`
	Data   interface{} `json:"data,omitempty"`
}

// ValidateResponse is the reply to a validate action.
type ValidateResponse struct {
	Action string        `json:"action"`
	Data   SessionResult `json:"data"`
}

// NewValidateResponse wraps a result in the validate_response envelope.
func NewValidateResponse(result SessionResult) ValidateResponse {
	return ValidateResponse{
		Action: ActionValidateResponse,
		Data:   result,
	}
}

// InboundMessage is a frame received from a client.
type InboundMessage struct {
	Action string      `json:"action"`
	Data   InboundData `json:"data"`
}

// InboundData carries the license key a client claims for itself.
type InboundData struct {
	LicenseKey string `json:"licenseKey"`
}

// SessionTerminated is pushed to a connection that has been displaced by a
// newer connection for the same license.
type SessionTerminated struct {
	Action string                `json:"action"`
	Data   SessionTerminatedData `json:"data"`
}

// SessionTerminatedData describes why a session ended.
type SessionTerminatedData struct {
	Reason       string    `json:"reason"`
	SupersededAt time.Time `json:"supersededAt"`
}

// NewSessionTerminated builds the displacement notification payload.
func NewSessionTerminated(reason string, supersededAt time.Time) SessionTerminated {
	return SessionTerminated{
		Action: ActionSessionTerminated,
		Data: SessionTerminatedData{
			Reason:       reason,
			SupersededAt: supersededAt.UTC(),
		},
	}
}
