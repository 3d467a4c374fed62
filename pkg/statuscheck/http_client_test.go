package statuscheck_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nimburion/batchsync/pkg/statuscheck"
)

func TestNewHTTPClient_ValidatesURL(t *testing.T) {
	for _, raw := range []string{"", "api.example.com", "ftp://api.example.com"} {
		if _, err := statuscheck.NewHTTPClient(statuscheck.HTTPClientConfig{BaseURL: raw}); !errors.Is(err, statuscheck.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument for %q, got %v", raw, err)
		}
	}
}

func TestHTTPClient_ExportStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/2/v/contracts/C 1/tasks/task-1" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "sync@example.com" || pass != "pw" {
			t.Errorf("expected basic auth, got %q %q %v", user, pass, ok)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"state": "executing",
			"failures": [
				{"messageId": "price_too_low", "attributes": {"gtin": "400", "name": "Shoe", "referencePrice": 9.5, "minPriceBoundary": 10}}
			]
		}`))
	}))
	defer srv.Close()

	client, err := statuscheck.NewHTTPClient(statuscheck.HTTPClientConfig{
		BaseURL:  srv.URL + "/api/2/v/",
		Username: "sync@example.com",
		Password: "pw",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	status, err := client.ExportStatus(context.Background(), "C 1", "task-1")
	if err != nil {
		t.Fatalf("export status: %v", err)
	}
	if !status.Running() || len(status.Failures) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	f := status.Failures[0]
	if f.GTIN != "400" || f.MessageID != "price_too_low" || f.Name != "Shoe" {
		t.Fatalf("unexpected failure %+v", f)
	}
	if f.ReferencePrice == nil || *f.ReferencePrice != 9.5 || f.MinPrice == nil || *f.MinPrice != 10 || f.MaxPrice != nil {
		t.Fatalf("unexpected prices %+v", f)
	}
}

func TestHTTPClient_BadResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusBadGateway, body: `{}`},
		{name: "missing state", status: http.StatusOK, body: `{"failures": []}`},
		{name: "not json", status: http.StatusOK, body: `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := statuscheck.NewHTTPClient(statuscheck.HTTPClientConfig{BaseURL: srv.URL})
			if err != nil {
				t.Fatalf("new client: %v", err)
			}
			if _, err := client.ExportStatus(context.Background(), "C1", "task-1"); !errors.Is(err, statuscheck.ErrResponse) {
				t.Fatalf("expected ErrResponse, got %v", err)
			}
		})
	}
}
