package chatapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/realtime"
)

// requestIDHeader is set on the response by the request id middleware before any handler runs.
const requestIDHeader = "X-Request-ID"

// apiError is the body of every non-2xx response. RequestID matches the server log line.
type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

var (
	errEmptyBody    = errors.New("chatapi: empty body")
	errTrailingData = errors.New("chatapi: extra data after JSON object")
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{
		Code:      code,
		Message:   msg,
		RequestID: w.Header().Get(requestIDHeader),
	}})
}

// decodeJSON reads exactly one JSON object of at most maxBytes into dst. Unknown fields are
// rejected so client typos surface as 400s.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errTrailingData
	}
	return nil
}

// writeDecodeError answers a decodeJSON failure.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large",
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, errEmptyBody):
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is required")
	default:
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
	}
}

// engineStatus maps a router or registry validation code onto an HTTP status.
func engineStatus(code string) int {
	switch code {
	case realtime.CodeUnknownMessage:
		return http.StatusNotFound
	case realtime.CodeMessageDeleted, realtime.CodeNotOnline:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// writeEngineError maps engine errors onto HTTP statuses. Storage details stay in the logs.
func (h *Handler) writeEngineError(w http.ResponseWriter, op string, err error) {
	var ve *realtime.ValidationError
	switch {
	case errors.Is(err, realtime.ErrAuthRequired), errors.Is(err, realtime.ErrAuthFailed):
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, realtime.ErrNotSender):
		writeError(w, http.StatusForbidden, "not_sender", "only the sender can change this message")
	case errors.Is(err, realtime.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "access_denied", "not a participant of this conversation")
	case errors.As(err, &ve):
		writeError(w, engineStatus(ve.Code), ve.Code, ve.Message)
	default:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "storage_error", "storage unavailable")
	}
}
