package api

import (
	"encoding/json"
	"net/http"
)

// Error codes carried alongside HTTP status so the client can branch
// without string-matching messages.
const (
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeCSRFMismatch     = "CSRF_MISMATCH"
	CodeDBUnavailable    = "DB_UNAVAILABLE"
	CodeBruteForce       = "BRUTE_FORCE"
	CodeSQLError         = "SQL_ERROR"
	CodeDBError          = "DB_ERROR"
	CodeConfigError      = "CONFIG_ERROR"
	CodeInternalError    = "INTERNAL_ERROR"
)

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeCodedError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// writeSQLError reports a failed statement result as a 400 with the
// engine's message.
func writeSQLError(w http.ResponseWriter, msg string) {
	writeCodedError(w, http.StatusBadRequest, CodeSQLError, msg)
}

// writeDBError reports a transport-level database failure as a 503.
func writeDBError(w http.ResponseWriter, err error) {
	writeCodedError(w, http.StatusServiceUnavailable, CodeDBError, err.Error())
}
