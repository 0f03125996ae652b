// pkg/web/respond.go
package web

import (
	"errors"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"libraryhub/pkg/apperr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

// ErrorBody is the JSON envelope for failed requests.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	json.NewEncoder(w).Encode(v)
}

// ErrorRecorder is implemented by response writers that keep the cause of
// a 500 for logging.
type ErrorRecorder interface {
	RecordError(err error)
}

// recordError hands err to the first ErrorRecorder in w's Unwrap chain.
func recordError(w http.ResponseWriter, err error) {
	for w != nil {
		if rec, ok := w.(ErrorRecorder); ok {
			rec.RecordError(err)
			return
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return
		}
		w = u.Unwrap()
	}
}

// Error maps err to a status code and writes the error envelope.
// Unclassified errors are reported as 500 without leaking their text; the
// cause goes to the request logger instead.
func Error(w http.ResponseWriter, err error) {
	e, ok := apperr.From(err)
	if !ok {
		recordError(w, err)
		JSON(w, http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{
			Code:    "INTERNAL",
			Message: "internal server error",
		}})
		return
	}
	JSON(w, StatusFor(e.Kind), ErrorBody{Error: ErrorDetail{Code: e.Code, Message: e.Message}})
}

// StatusFor returns the HTTP status for an error kind.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON reads a JSON request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("request body is empty")
		}
		return apperr.Invalid("invalid request body: %v", err)
	}
	return nil
}
