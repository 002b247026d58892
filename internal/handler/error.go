package handler

import (
	"encoding/json"
	"net/http"

	"github.com/cadencehq/cadence/internal/domain"
)

// ErrorCodeToHTTPStatus maps a domain error code to an HTTP status code.
// Conflict maps to 400 rather than 409: state-machine guard violations
// are reported to payer UIs the same way as validation failures.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusBadRequest
	case domain.EUNAVAILABLE:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// JSON writes v as a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse writes a failure payload derived from a domain error.
// Internal error detail is never leaked; domain.ErrorMessage substitutes
// a generic message for EINTERNAL.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	JSON(w, ErrorCodeToHTTPStatus(code), map[string]any{
		"success": false,
		"error":   domain.ErrorMessage(err),
		"code":    code,
	})
}

// DecodeJSON parses the request body into dst, returning an EINVALID
// domain error on malformed input.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return domain.WrapError(err, domain.EINVALID, "handler.DecodeJSON", "Invalid request body")
	}
	return nil
}
