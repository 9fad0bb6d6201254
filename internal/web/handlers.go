package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/sheetdrop/internal/core"
	"github.com/JonMunkholm/sheetdrop/internal/logging"
)

const (
	rateWindow = time.Minute

	// maxDeliveriesPage bounds the journal listing.
	maxDeliveriesPage = 500
)

// handleActionList describes the integration to the hub.
func (s *Server) handleActionList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newActionList(s.cfg.Action))
}

// handleActionForm returns the destination form. The body is ignored.
func (s *Server) handleActionForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newActionForm())
}

// handleActionExecute converts the attached archive and delivers it.
//
// Request problems (body, attachment, form) are answered with 400 before a
// delivery slot is taken. Port parsing and everything after it happen inside
// the pipeline so its validate stage is the single source of those errors.
func (s *Server) handleActionExecute(w http.ResponseWriter, r *http.Request) {
	req, status, msg, err := decodeExecute(r)
	if err != nil {
		respondFailure(w, r, status, msg, err)
		return
	}

	dest, missing := req.FormParams.destination()
	if missing != "" {
		respondFailure(w, r, http.StatusBadRequest,
			fmt.Sprintf("Missing form_params: '%s' is required.", missing),
			fmt.Errorf("missing form param %q", missing))
		return
	}

	logger := logging.WithFields(r.Context(),
		"host", dest.Host,
		"username", dest.Username,
		"remote_path", dest.Filename,
	)
	if req.Data != nil {
		logger.Debug("action params", "data", string(*req.Data))
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.cfg.Delivery.MaxWaitTime.Seconds())))
		respondFailure(w, r, http.StatusServiceUnavailable, core.ErrTooManyDeliveries.Error(), err)
		return
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Delivery.Timeout)
	defer cancel()

	start := time.Now()
	res := s.pipeline.Run(ctx, core.Request{
		Payload:     req.Attachment.Data,
		Destination: dest,
		Credential:  s.credential,
	})

	// The journal outlives the request; a cancelled client should not
	// lose its row.
	entry := core.NewDelivery(dest, res, time.Since(start))
	if err := s.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn("delivery journal write failed", "run_id", res.RunID, "error", err)
	}

	respondResult(w, r, res)
}

// decodeExecute parses the execute body. On failure it returns the status and
// client message to send.
func decodeExecute(r *http.Request) (*ExecuteRequest, int, string, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var req ExecuteRequest
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes.", tooLarge.Limit), err
		case errors.Is(err, io.EOF):
			return nil, http.StatusBadRequest,
				"Invalid JSON payload. Request body might be empty or not JSON.", err
		default:
			return nil, http.StatusBadRequest,
				fmt.Sprintf("Malformed JSON request: %v", err), err
		}
	}

	if req.Attachment == nil || req.Attachment.Data == "" {
		err := errors.New("attachment.data missing")
		return nil, http.StatusBadRequest,
			"Request JSON missing expected attachment data structure.", err
	}
	return &req, 0, "", nil
}

// HealthResponse reports delivery capacity.
type HealthResponse struct {
	Status     string             `json:"status"`
	Deliveries core.LimiterStatus `json:"deliveries"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Deliveries: s.limiter.Status(),
	})
}

// handleDeliveries lists recent journal entries, newest first.
func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	if limit > maxDeliveriesPage {
		limit = maxDeliveriesPage
	}

	deliveries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		respondFailure(w, r, http.StatusInternalServerError, "Could not read the delivery journal.", err)
		return
	}
	if deliveries == nil {
		deliveries = []core.Delivery{}
	}
	writeJSON(w, http.StatusOK, deliveries)
}

// parseIntParam parses a positive integer query parameter with a default.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
