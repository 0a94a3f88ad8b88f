package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error  string            `json:"error"`
	Kind   intel.ErrorKind   `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind intel.ErrorKind) int {
	switch kind {
	case intel.KindValidation:
		return http.StatusBadRequest
	case intel.KindNotFound:
		return http.StatusNotFound
	case intel.KindConflict, intel.KindCancellation:
		return http.StatusConflict
	case intel.KindDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status for its kind. Internal errors are
// logged and their message hidden.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := intel.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind, Fields: intel.FieldsOf(err)})
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, field, msg string) {
	s.writeError(w, r, intel.Validation("request", map[string]string{field: msg}))
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &typeErr):
			return intel.Validation("request", map[string]string{typeErr.Field: fmt.Sprintf("expected %s", typeErr.Type)})
		case errors.As(err, &syntaxErr):
			return intel.Validation("request", map[string]string{"body": "invalid JSON"})
		default:
			return intel.Validation("request", map[string]string{"body": err.Error()})
		}
	}
	return nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, intel.Validation("request", map[string]string{name: "must be an integer"})
	}
	return v, true, nil
}

func queryString(r *http.Request, name string) *string {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil
	}
	return &raw
}
