package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
)

// DecodeJSON decodes the request body into v. On failure it writes 413 when
// the body exceeded the limit set by chi's RequestSize middleware, 400
// otherwise, and reports false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	Error(w, http.StatusBadRequest, "invalid json")
	return false
}
