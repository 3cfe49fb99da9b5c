package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/recruitflow/internal/fault"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(code fault.Code) int {
	switch code {
	case fault.CodeValidation:
		return http.StatusBadRequest
	case fault.CodeNotFound:
		return http.StatusNotFound
	case fault.CodeIntegrity:
		return http.StatusConflict
	case fault.CodeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto the error envelope. Internal failures are
// logged and reported without their cause.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetReqID(r.Context())
	code := fault.CodeOf(err)
	body := errorBody{Code: string(code), RequestID: reqID}

	var fe *fault.Error
	if code == fault.CodeInternal || !errors.As(err, &fe) {
		s.logger.Error("request failed", "error", err, "path", r.URL.Path, "request_id", reqID)
		body.Code = string(fault.CodeInternal)
		body.Message = "internal error"
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}
	body.Message = fe.Message
	body.Details = fe.Details
	if code == fault.CodeExternal {
		s.logger.Warn("dependency failed", "error", err, "request_id", reqID)
	}
	writeJSON(w, statusFor(code), body)
}

// decodeJSON reads a JSON request body into v. An empty body leaves v
// unchanged when allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fault.Validation("invalid request body: %v", err)
	}
	if dec.More() {
		return fault.Validation("invalid request body: %v", fmt.Errorf("trailing data"))
	}
	return nil
}
