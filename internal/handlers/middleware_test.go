package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"wallbox_control/internal/models"
	"wallbox_control/internal/service"
)

func TestSharedSecretMiddleware(t *testing.T) {
	ctl := &mockControl{outcome: models.ActionOutcome{Succeeded: true}}
	r := newTestRouter(&service.Service{Control: ctl}, "s3cret")

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong token", "Bearer wrong", http.StatusUnauthorized},
		{"valid token", "Bearer s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/wallbox/status", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)
			if w.Code != tc.code {
				t.Fatalf("status=%d, want %d", w.Code, tc.code)
			}
		})
	}
}

func TestSharedSecretMiddleware_OpenWhenNoSecret(t *testing.T) {
	ctl := &mockControl{outcome: models.ActionOutcome{Succeeded: true}}
	r := newTestRouter(&service.Service{Control: ctl}, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallbox/status", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200 without configured secret", w.Code)
	}
}
