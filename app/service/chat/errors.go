package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/samber/oops"
)

var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInvalidEndpoint    = errors.New("invalid endpoint")
	ErrEncoding           = errors.New("encoding failure")
	ErrTransientTransport = errors.New("transient transport failure")
	ErrTransport          = errors.New("transport failure")
	ErrProtocol           = errors.New("protocol error")
	ErrRemote             = errors.New("remote error")
	ErrBusy               = errors.New("a turn is already in flight")
	ErrCancelled          = errors.New("turn cancelled")
)

var errorCodes = map[error]string{
	ErrNotAuthenticated:   "not_authenticated",
	ErrInvalidEndpoint:    "invalid_endpoint",
	ErrEncoding:           "encoding_failure",
	ErrTransientTransport: "transient_transport",
	ErrTransport:          "transport",
	ErrProtocol:           "protocol_error",
	ErrRemote:             "remote_error",
	ErrBusy:               "busy",
	ErrCancelled:          "cancelled",
}

// RemoteError carries a server-supplied message that is shown verbatim.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrRemote, e.Status, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// NewError builds a taxonomy error of the given kind.
func NewError(kind error, format string, args ...any) error {
	return oops.
		In("chat").
		Code(errorCodes[kind]).
		Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// WrapError tags cause with the given kind, keeping both in the chain.
func WrapError(kind error, cause error) error {
	return oops.
		In("chat").
		Code(errorCodes[kind]).
		Errorf("%w: %w", kind, cause)
}

func NewRemoteError(status int, body []byte) error {
	return oops.
		In("chat").
		Code(errorCodes[ErrRemote]).
		With("status", status).
		Wrap(&RemoteError{Status: status, Message: remoteMessage(status, body)})
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientTransport)
}

func isClassified(err error) bool {
	for kind := range errorCodes {
		if errors.Is(err, kind) {
			return true
		}
	}

	return false
}

// StatusError classifies a non-200 proxy status.
func StatusError(status int, body []byte) error {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return oops.
			In("chat").
			Code(errorCodes[ErrTransientTransport]).
			With("status", status).
			Errorf("%w: proxy returned %d", ErrTransientTransport, status)
	}

	if status >= 200 && status < 300 {
		return NewError(ErrProtocol, "unexpected status %d", status)
	}

	return NewRemoteError(status, body)
}

// NetworkError classifies a failure to reach the proxy or to read its reply.
func NetworkError(ctx context.Context, err error) error {
	if isClassified(err) {
		return err
	}

	if ctx.Err() != nil {
		return WrapError(ErrCancelled, err)
	}

	if isTimeout(err) || isConnectionLoss(err) {
		return WrapError(ErrTransientTransport, err)
	}

	return WrapError(ErrTransport, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionLoss(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ENETDOWN) ||
		errors.Is(err, syscall.ENETUNREACH)
}

func remoteMessage(status int, body []byte) string {
	var decoded struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}

	if err := json.Unmarshal(body, &decoded); err == nil {
		var text string
		if json.Unmarshal(decoded.Error, &text) == nil && text != "" {
			return text
		}

		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(decoded.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}

		if decoded.Message != "" {
			return decoded.Message
		}
		if decoded.Detail != "" {
			return decoded.Detail
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}

	if text := http.StatusText(status); text != "" {
		return text
	}

	return fmt.Sprintf("status %d", status)
}

// Describe renders err as the text of an assistant error turn.
func Describe(err error) string {
	var remote *RemoteError
	switch {
	case errors.As(err, &remote):
		return remote.Message
	case errors.Is(err, ErrNotAuthenticated):
		return "Please sign in to start chatting."
	case errors.Is(err, ErrTransientTransport):
		return "The server is temporarily unavailable. Please try again in a moment."
	case errors.Is(err, ErrProtocol):
		return "Received an unexpected response from the server."
	case errors.Is(err, ErrEncoding):
		return "Could not prepare the message for sending."
	case errors.Is(err, ErrInvalidEndpoint):
		return "The chat server address is invalid."
	case errors.Is(err, ErrCancelled):
		return "The request was cancelled."
	case errors.Is(err, ErrTransport):
		return "Could not reach the chat server."
	default:
		return "Error: " + err.Error()
	}
}
