package web

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/sheetdrop/internal/config"
	"github.com/JonMunkholm/sheetdrop/internal/core"
	"github.com/JonMunkholm/sheetdrop/internal/transfer"
)

const testSecret = "hub-secret"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			RequestTimeout:  time.Minute,
			ShutdownTimeout: time.Second,
		},
		Action: config.ActionConfig{
			PublicURL: "https://actions.example.com/",
			Label:     "Secure SFTP",
			Name:      "SecureSFTP",
		},
		Security: config.SecurityConfig{HubSecret: testSecret},
		Transfer: config.TransferConfig{Password: "sftp-pw"},
		Work:     config.WorkConfig{MaxPayloadBytes: 1 << 20},
		Delivery: config.DeliveryConfig{
			MaxConcurrent: 1,
			MaxWaitTime:   50 * time.Millisecond,
			Timeout:       time.Minute,
		},
	}
}

// fakeRunner records requests and answers with result.
type fakeRunner struct {
	mu       sync.Mutex
	requests []core.Request
	result   core.Result
}

func (f *fakeRunner) Run(_ context.Context, req core.Request) core.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// memJournal keeps deliveries in memory.
type memJournal struct {
	mu      sync.Mutex
	entries []core.Delivery
	err     error
}

func (j *memJournal) Record(_ context.Context, d core.Delivery) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, d)
	return nil
}

func (j *memJournal) Recent(_ context.Context, limit int) ([]core.Delivery, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return nil, j.err
	}
	if limit < len(j.entries) {
		return j.entries[:limit], nil
	}
	return j.entries, nil
}

type harness struct {
	srv     *Server
	runner  *fakeRunner
	journal *memJournal
	limiter *core.Limiter
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	h := &harness{
		runner:  &fakeRunner{result: core.Result{OK: true, RunID: "run-1", Message: core.SuccessMessage}},
		journal: &memJournal{},
		limiter: core.NewLimiter(cfg.Delivery.MaxConcurrent, cfg.Delivery.MaxWaitTime),
	}
	h.srv = NewServer(cfg, h.runner, h.limiter, h.journal)
	return h
}

func (h *harness) do(method, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", `Token token="`+testSecret+`"`)
	}
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	return rec
}

func executeBody(data string, params map[string]any) string {
	b, _ := json.Marshal(map[string]any{
		"attachment":  map[string]string{"data": data},
		"form_params": params,
	})
	return string(b)
}

func validParams() map[string]any {
	return map[string]any{
		"host":     "sftp.example.com",
		"username": "looker",
		"filename": "/in/report.xlsx",
		"port":     "22",
	}
}

func decodeFailure(t *testing.T, rec *httptest.ResponseRecorder) FailureResponse {
	t.Helper()
	var body FailureResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode failure body: %v", err)
	}
	if body.Status != "failure" {
		t.Errorf("status field = %q, want failure", body.Status)
	}
	return body
}

func TestAuth(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusBadRequest},
		{"wrong token", `Token token="nope"`, http.StatusForbidden},
		{"bare secret", testSecret, http.StatusForbidden},
		{"correct token", `Token token="` + testSecret + `"`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.srv.Router().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestActionList(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var list ActionList
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if list.Label != "Secure SFTP" || len(list.Integrations) != 1 {
		t.Fatalf("list = %+v", list)
	}
	in := list.Integrations[0]
	if in.Name != "SecureSFTP" {
		t.Errorf("name = %q", in.Name)
	}
	if in.FormURL != "https://actions.example.com/action_form" {
		t.Errorf("form_url = %q", in.FormURL)
	}
	if in.URL != "https://actions.example.com/action_execute" {
		t.Errorf("url = %q", in.URL)
	}
	if len(in.SupportedFormats) != 1 || in.SupportedFormats[0] != "csv_zip" {
		t.Errorf("formats = %v", in.SupportedFormats)
	}
	if !strings.HasPrefix(in.IconDataURI, "data:image/svg+xml;base64,") {
		t.Errorf("icon_data_uri = %.40q", in.IconDataURI)
	}
}

func TestActionList_IconOverride(t *testing.T) {
	cfg := testConfig()
	cfg.Action.IconDataURI = "data:image/png;base64,iVBORw0KGgo="

	list := newActionList(cfg.Action)
	if got := list.Integrations[0].IconDataURI; got != cfg.Action.IconDataURI {
		t.Errorf("icon_data_uri = %q, want configured value", got)
	}
}

func TestActionForm(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/action_form", `{"form_params":{}}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var fields []FormField
	if err := json.NewDecoder(rec.Body).Decode(&fields); err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, f := range fields {
		if !f.Required || f.Type != "string" {
			t.Errorf("field %+v should be a required string", f)
		}
		names = append(names, f.Name)
	}
	if got := strings.Join(names, ","); got != "filename,host,username,port" {
		t.Errorf("fields = %s", got)
	}
}

func TestExecute_Success(t *testing.T) {
	h := newHarness(t)
	h.runner.result.Artifact = &core.Artifact{Sheets: []core.SheetInfo{{Name: "a"}, {Name: "b"}}}

	rec := h.do(http.MethodPost, "/action_execute", executeBody("UEsFBgAAAAAAAAAAAAAAAAAAAAAAAA==", validParams()), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var body SuccessResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "success" || body.Message != "File processed and uploaded successfully." {
		t.Errorf("body = %+v", body)
	}
	if body.Sheets != 2 || body.RunID != "run-1" {
		t.Errorf("body = %+v", body)
	}

	if h.runner.calls() != 1 {
		t.Fatalf("runner calls = %d", h.runner.calls())
	}
	req := h.runner.requests[0]
	want := core.DestinationInput{Host: "sftp.example.com", Username: "looker", Filename: "/in/report.xlsx", Port: "22"}
	if req.Destination != want {
		t.Errorf("destination = %+v, want %+v", req.Destination, want)
	}
	if req.Credential != (transfer.Credential{Password: "sftp-pw"}) {
		t.Errorf("credential = %+v", req.Credential)
	}
	if req.Payload != "UEsFBgAAAAAAAAAAAAAAAAAAAAAAAA==" {
		t.Errorf("payload = %q", req.Payload)
	}

	if len(h.journal.entries) != 1 || !h.journal.entries[0].OK || h.journal.entries[0].Port != 22 {
		t.Errorf("journal = %+v", h.journal.entries)
	}
	if h.limiter.Active() != 0 {
		t.Error("limiter slot not released")
	}
}

func TestExecute_BadRequests(t *testing.T) {
	missingHost := validParams()
	delete(missingHost, "host")

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"empty body", "", "Invalid JSON payload"},
		{"malformed json", "{", "Malformed JSON request"},
		{"no attachment", `{"form_params":{"host":"h"}}`, "attachment data"},
		{"empty attachment", executeBody("", validParams()), "attachment data"},
		{"no form params", `{"attachment":{"data":"eA=="}}`, "'form_params' is required"},
		{"missing host", executeBody("eA==", missingHost), "'host' is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rec := h.do(http.MethodPost, "/action_execute", tt.body, true)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			body := decodeFailure(t, rec)
			if !strings.Contains(body.Error, tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", body.Error, tt.wantMsg)
			}
			if h.runner.calls() != 0 {
				t.Error("pipeline ran for a bad request")
			}
			if len(h.journal.entries) != 0 {
				t.Error("bad request journaled")
			}
		})
	}
}

func TestExecute_NumericPort(t *testing.T) {
	h := newHarness(t)
	params := validParams()
	params["port"] = 2222

	rec := h.do(http.MethodPost, "/action_execute", executeBody("eA==", params), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := h.runner.requests[0].Destination.Port; got != "2222" {
		t.Errorf("port = %q, want 2222", got)
	}
}

func TestExecute_PipelineFailures(t *testing.T) {
	tests := []struct {
		name       string
		stage      core.Stage
		kind       core.Kind
		wantStatus int
		wantCode   string
	}{
		{"invalid port", core.StageValidate, core.KindInvalidDestination, http.StatusBadRequest, "IN002"},
		{"bad base64", core.StageExtract, core.KindDecode, http.StatusBadRequest, "IN001"},
		{"no tables", core.StageLocate, core.KindNoTables, http.StatusInternalServerError, "ARC003"},
		{"auth", core.StageTransfer, core.KindAuth, http.StatusInternalServerError, "SFTP001"},
		{"connection", core.StageTransfer, core.KindConnection, http.StatusInternalServerError, "SFTP002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.runner.result = core.Result{
				Stage: tt.stage,
				Kind:  tt.kind,
				Err:   &core.Error{Stage: tt.stage, Kind: tt.kind, Err: errors.New("boom")},
				RunID: "run-2",
			}

			rec := h.do(http.MethodPost, "/action_execute", executeBody("eA==", validParams()), true)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decodeFailure(t, rec)
			if body.Code != tt.wantCode || body.Stage != tt.stage || body.RunID != "run-2" {
				t.Errorf("body = %+v", body)
			}
			if strings.Contains(body.Error, "boom") {
				t.Error("technical error leaked to the client")
			}
			if len(h.journal.entries) != 1 || h.journal.entries[0].Kind != tt.kind {
				t.Errorf("journal = %+v", h.journal.entries)
			}
		})
	}
}

func TestExecute_Saturated(t *testing.T) {
	h := newHarness(t)
	if !h.limiter.TryAcquire() {
		t.Fatal("could not take the only slot")
	}
	defer h.limiter.Release()

	rec := h.do(http.MethodPost, "/action_execute", executeBody("eA==", validParams()), true)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	decodeFailure(t, rec)
	if h.runner.calls() != 0 {
		t.Error("pipeline ran without a slot")
	}
}

func TestExecute_BodyTooLarge(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Work.MaxPayloadBytes = 64 })

	rec := h.do(http.MethodPost, "/action_execute", executeBody(strings.Repeat("A", 256), validParams()), true)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	decodeFailure(t, rec)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, ExecuteLimit: 1}
	})

	if rec := h.do(http.MethodPost, "/action_execute", executeBody("eA==", validParams()), true); rec.Code != http.StatusOK {
		t.Fatalf("first execute status = %d", rec.Code)
	}
	rec := h.do(http.MethodPost, "/action_execute", executeBody("eA==", validParams()), true)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second execute status = %d, want 429", rec.Code)
	}
	decodeFailure(t, rec)

	// The global limit has one request left; the third is rejected.
	if rec := h.do(http.MethodGet, "/healthz", "", false); rec.Code != http.StatusTooManyRequests {
		t.Errorf("healthz status = %d, want 429", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/healthz", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Deliveries.Capacity != 1 || body.Deliveries.Available != 1 {
		t.Errorf("body = %+v", body)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestMetrics(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/metrics", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sheetdrop_deliveries_in_flight") {
		t.Error("metrics output lacks sheetdrop series")
	}
}

func TestDeliveries(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.journal.entries = append(h.journal.entries, core.Delivery{ID: int64(i + 1), OK: true})
	}

	if rec := h.do(http.MethodGet, "/deliveries", "", false); rec.Code != http.StatusBadRequest {
		t.Errorf("unauthenticated status = %d, want 400", rec.Code)
	}

	rec := h.do(http.MethodGet, "/deliveries?limit=2", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []core.Delivery
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("got %d deliveries, want 2", len(got))
	}

	h.journal.err = errors.New("db down")
	rec = h.do(http.MethodGet, "/deliveries", "", true)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status with failing journal = %d, want 500", rec.Code)
	}
}

func TestDeliveries_EmptyIsArray(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/deliveries", "", true)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

// stubTransferrer lets the real pipeline run without a network.
type stubTransferrer struct{}

func (stubTransferrer) Transfer(context.Context, transfer.Destination, string, transfer.AuthPlan) transfer.Result {
	return transfer.Result{State: transfer.StateClosed, Closed: true, Bytes: 1}
}

func zipPayload(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestExecute_WithPipeline(t *testing.T) {
	cfg := testConfig()
	pipeline := core.NewPipeline(core.Extractor{Base: t.TempDir()}, stubTransferrer{}, core.KeyPolicyFallback)
	srv := NewServer(cfg, pipeline, core.NewLimiter(1, time.Second), nil)
	h := &harness{srv: srv}

	payload := zipPayload(t, map[string]string{
		"data/sales.csv": "region,amount\nnorth,1\n",
		"data/leads.csv": "name,email\n",
	})

	rec := h.do(http.MethodPost, "/action_execute", executeBody(payload, validParams()), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body SuccessResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Sheets != 2 {
		t.Errorf("sheets = %d, want 2", body.Sheets)
	}

	params := validParams()
	params["port"] = "70000"
	rec = h.do(http.MethodPost, "/action_execute", executeBody(payload, params), true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("port 70000 status = %d, want 400", rec.Code)
	}
	if body := decodeFailure(t, rec); body.Code != "IN002" || body.Stage != core.StageValidate {
		t.Errorf("body = %+v", body)
	}
}

func TestShutdownWaitsForDrain(t *testing.T) {
	h := newHarness(t)
	h.srv.server = &http.Server{}
	if !h.limiter.TryAcquire() {
		t.Fatal("could not take slot")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := h.srv.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown with a busy slot = %v, want deadline exceeded", err)
	}

	h.limiter.Release()
	if err := h.srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown after drain = %v", err)
	}
}
