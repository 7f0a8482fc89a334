package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthzHandler_AlwaysOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler := HealthzHandler()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
}

func TestReadyzHandler_AllHealthy(t *testing.T) {
	ok := func(context.Context) error { return nil }
	handler := ReadyzHandler(
		ReadinessCheck{Name: "transport", Check: ok},
		ReadinessCheck{Name: "dedupe", Check: ok},
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "" {
		t.Error("Retry-After should not be set when ready")
	}
}

func TestReadyzHandler_Unhealthy(t *testing.T) {
	handler := ReadyzHandler(
		ReadinessCheck{Name: "transport", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "dedupe", Check: func(context.Context) error { return errors.New("connection refused") }},
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "30" {
		t.Errorf("expected Retry-After 30, got %q", rec.Header().Get("Retry-After"))
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Checks["dedupe"] != "connection refused" {
		t.Errorf("expected dedupe failure in body, got %v", resp.Checks)
	}
	if _, ok := resp.Checks["transport"]; ok {
		t.Errorf("healthy check reported as failed: %v", resp.Checks)
	}
}

func TestReadyzHandler_CheckGetsDeadline(t *testing.T) {
	var hasDeadline bool
	handler := ReadyzHandler(ReadinessCheck{Name: "dedupe", Check: func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	}})

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if !hasDeadline {
		t.Error("readiness checks should run with a deadline")
	}
}
