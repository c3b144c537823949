package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/clienthub/automation/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error to a JSON response, translating typed error
// codes to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var aerr *schema.AutomationError
	if !errors.As(err, &aerr) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch aerr.Code {
	case schema.ErrCodeValidation:
		status = http.StatusBadRequest
	case schema.ErrCodeNotFound:
		status = http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		status = http.StatusConflict
	}
	body := map[string]any{"error": aerr.Message, "code": aerr.Code}
	if len(aerr.Details) > 0 {
		body["details"] = aerr.Details
	}
	writeJSON(w, status, body)
}

// writeBadRequest writes a plain 400 response.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg, "code": schema.ErrCodeValidation})
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
