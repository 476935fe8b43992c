// Package api provides an HTTP client for the remote drive and network
// APIs with automatic retry, bearer authentication, and error classification.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, api.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrConflict     = errors.New("api: conflict")
	ErrThrottled    = errors.New("api: throttled")
	ErrServerError  = errors.New("api: server error")
)

const (
	requestIDHeader = "X-Request-Id"

	// maxErrorMessage caps how much of an unstructured body ends up in an
	// error string.
	maxErrorMessage = 512
)

var statusSentinels = map[int]error{
	http.StatusBadRequest:      ErrBadRequest,
	http.StatusUnauthorized:    ErrUnauthorized,
	http.StatusForbidden:       ErrForbidden,
	http.StatusNotFound:        ErrNotFound,
	http.StatusConflict:        ErrConflict,
	http.StatusTooManyRequests: ErrThrottled,
}

// Error is a non-2xx response from the drive or network API.
type Error struct {
	StatusCode int
	RequestID  string
	Code       string // short error name from the body, e.g. "Not Found"
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "api: HTTP %d", e.StatusCode)

	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request-id: %s)", e.RequestID)
	}

	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// errorBody covers both remote error shapes: the drive API answers
// {"statusCode":404,"message":"...","error":"Not Found"} where message may
// be a list of validation failures, the network API answers {"error":"..."}.
type errorBody struct {
	Message json.RawMessage `json:"message"`
	Error   string          `json:"error"`
}

// newError builds an Error from a failed response and its already-read body.
func newError(resp *http.Response, body []byte) *Error {
	e := &Error{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get(requestIDHeader),
		Err:        classifyStatus(resp.StatusCode),
	}

	e.Code, e.Message = decodeErrorBody(body)

	return e
}

// decodeErrorBody extracts the error name and message. Bodies that are not
// one of the JSON shapes are returned trimmed as the message.
func decodeErrorBody(body []byte) (code, message string) {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && (parsed.Error != "" || len(parsed.Message) > 0) {
		message = decodeMessage(parsed.Message)
		if message == "" {
			return "", parsed.Error
		}

		return parsed.Error, message
	}

	message = strings.TrimSpace(string(body))
	if len(message) > maxErrorMessage {
		message = message[:maxErrorMessage] + "..."
	}

	return "", message
}

func decodeMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}

	return string(raw)
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	if sentinel, ok := statusSentinels[code]; ok {
		return sentinel
	}

	if code >= http.StatusInternalServerError {
		return ErrServerError
	}

	return nil
}

// isRetryable reports whether a response with this status may succeed when
// repeated. 501 and 505 never will.
func isRetryable(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code == http.StatusNotImplemented, code == http.StatusHTTPVersionNotSupported:
		return false
	default:
		return code >= http.StatusInternalServerError
	}
}
