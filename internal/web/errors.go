package web

// errors.go renders every response in the hub's envelope.
//
// Failures are logged with the technical error and the request id, and the
// client gets the mapped user message with its support code. The status code
// depends on who can fix the problem: 400 when the request itself is wrong,
// 500 when conversion or delivery failed, 503 when the server is saturated.

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/sheetdrop/internal/core"
	"github.com/JonMunkholm/sheetdrop/internal/logging"
)

// FailureResponse is the body of every non-2xx response.
type FailureResponse struct {
	Status string     `json:"status"`
	Error  string     `json:"error"`
	Action string     `json:"action,omitempty"`
	Code   string     `json:"code,omitempty"`
	Stage  core.Stage `json:"stage,omitempty"`
	RunID  string     `json:"run_id,omitempty"`
}

// SuccessResponse is the body of a completed delivery.
type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
	Sheets  int    `json:"sheets,omitempty"`
}

// statusFor maps a pipeline failure kind to an HTTP status.
func statusFor(kind core.Kind) int {
	if kind.ClientError() {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondFailure logs err and writes message as a failure.
func respondFailure(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", attrs...)
	} else {
		logger.Warn("request rejected", attrs...)
	}

	w.Header().Set("X-Request-Id", requestID(r))
	writeJSON(w, status, FailureResponse{Status: "failure", Error: message})
}

// respondResult writes the outcome of a pipeline run.
func respondResult(w http.ResponseWriter, r *http.Request, res core.Result) {
	w.Header().Set("X-Request-Id", requestID(r))
	if res.OK {
		body := SuccessResponse{Status: "success", Message: res.Message, RunID: res.RunID}
		if res.Artifact != nil {
			body.Sheets = len(res.Artifact.Sheets)
		}
		writeJSON(w, http.StatusOK, body)
		return
	}

	// The pipeline already logged the failure with its run id.
	msg := core.MapError(res.Err)
	writeJSON(w, statusFor(res.Kind), FailureResponse{
		Status: "failure",
		Error:  msg.Message,
		Action: msg.Action,
		Code:   msg.Code,
		Stage:  res.Stage,
		RunID:  res.RunID,
	})
}

// writeJSON encodes v with the given status. Encoding errors are only
// logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// requestID returns chi's request id for correlating client reports.
func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
