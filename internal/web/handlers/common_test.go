package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		data       any
		wantBody   string
	}{
		{"OK with map", http.StatusOK, map[string]int{"count": 2}, `{"count":2}`},
		{"Created with array", http.StatusCreated, []string{"a", "b"}, `["a","b"]`},
		{"NoContent without data", http.StatusNoContent, nil, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.statusCode, tc.data)

			if recorder.Code != tc.statusCode {
				t.Errorf("expected status %d, got %d", tc.statusCode, recorder.Code)
			}
			if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
			}
			if got := strings.TrimSpace(recorder.Body.String()); got != tc.wantBody {
				t.Errorf("expected body %q, got %q", tc.wantBody, got)
			}
		})
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusConflict, "already running")

	if recorder.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", recorder.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body["error"] != "already running" {
		t.Errorf("expected error 'already running', got '%s'", body["error"])
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		wantID  string
	}{
		{name: "empty body", body: ""},
		{name: "object", body: `{"card_id":"c1"}`, wantID: "c1"},
		{name: "malformed", body: `{"card_id":`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var v startRequest
			err := decodeJSON(req, &v)
			if (err != nil) != tc.wantErr {
				t.Fatalf("decodeJSON error = %v, wantErr %v", err, tc.wantErr)
			}
			if v.CardID != tc.wantID {
				t.Errorf("expected card_id %q, got %q", tc.wantID, v.CardID)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("card\r\nforged line"); got != "cardforged line" {
		t.Errorf("unexpected sanitized value %q", got)
	}
}

func TestHealthCheck(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		recorder := httptest.NewRecorder()
		HealthCheck(recorder, httptest.NewRequest(method, "/api/v1/health", nil))

		if recorder.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", method, recorder.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if body["status"] != "ok" {
			t.Errorf("%s: expected status 'ok', got '%s'", method, body["status"])
		}
	}
}
