package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimburion/batchsync/pkg/config"
	"github.com/nimburion/batchsync/pkg/health"
	"github.com/nimburion/batchsync/pkg/ledger"
	"github.com/nimburion/batchsync/pkg/ledger/memstore"
	"github.com/nimburion/batchsync/pkg/observability/logger"
	"github.com/nimburion/batchsync/pkg/observability/metrics"
)

type staticChecker struct {
	name   string
	status health.Status
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(context.Context) health.CheckResult {
	return health.CheckResult{Name: c.name, Status: c.status, Timestamp: time.Now()}
}

func newTestServer(t *testing.T, reader LedgerReader, checkers ...health.Checker) *ManagementServer {
	t.Helper()
	registry := health.NewRegistry()
	for _, c := range checkers {
		registry.Register(c)
	}
	cfg := config.DefaultConfig().Management
	cfg.Port = 0
	s, err := NewManagementServer(cfg, logger.Nop(), registry, metrics.NewRegistry(), reader)
	if err != nil {
		t.Fatalf("new management server: %v", err)
	}
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func seededLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, err := ledger.New(memstore.New(), logger.Nop(), ledger.Config{Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	ctx := context.Background()
	first, err := l.StartTransaction(ctx, "contract-1", ledger.TypeImport)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := l.StartTransaction(ctx, "contract-1", ledger.TypeImport); err != nil {
		t.Fatalf("start: %v", err)
	}
	detail, err := ledger.NewDetail(ledger.ByID(first), now)
	if err != nil {
		t.Fatalf("new detail: %v", err)
	}
	detail.ProductID = "p-1"
	if _, err := l.UpdateTransaction(ctx, ledger.UpdateRequest{
		ContractID: "contract-1",
		Type:       ledger.TypeImport,
		Ref:        ledger.ByID(first),
		Details:    []ledger.Detail{detail},
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	return l
}

func TestNewManagementServer_RequiresDependencies(t *testing.T) {
	if _, err := NewManagementServer(config.ManagementConfig{}, nil, health.NewRegistry(), metrics.NewRegistry(), nil); err == nil {
		t.Fatal("expected error for nil logger")
	}
	if _, err := NewManagementServer(config.ManagementConfig{}, logger.Nop(), nil, metrics.NewRegistry(), nil); err == nil {
		t.Fatal("expected error for nil health registry")
	}
	if _, err := NewManagementServer(config.ManagementConfig{}, logger.Nop(), health.NewRegistry(), nil, nil); err == nil {
		t.Fatal("expected error for nil metrics registry")
	}
}

func TestManagementServer_Health(t *testing.T) {
	s := newTestServer(t, nil, staticChecker{name: "database", status: health.StatusUnhealthy})

	rec := get(t, s.Handler(), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected a generated request id header")
	}
}

func TestManagementServer_Ready(t *testing.T) {
	tests := []struct {
		name     string
		status   health.Status
		wantCode int
	}{
		{name: "healthy", status: health.StatusHealthy, wantCode: http.StatusOK},
		{name: "degraded is still ready", status: health.StatusDegraded, wantCode: http.StatusOK},
		{name: "unhealthy", status: health.StatusUnhealthy, wantCode: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil, staticChecker{name: "database", status: tt.status})
			rec := get(t, s.Handler(), "/ready")
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			var result health.AggregatedResult
			decode(t, rec, &result)
			if result.Status != tt.status {
				t.Fatalf("expected status %s, got %s", tt.status, result.Status)
			}
		})
	}
}

func TestManagementServer_Metrics(t *testing.T) {
	s := newTestServer(t, nil)
	get(t, s.Handler(), "/health")

	rec := get(t, s.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `batchsync_management_requests_total{method="GET",route="/health",status="200"}`) {
		t.Fatalf("expected request metric for /health, got:\n%s", rec.Body.String())
	}
}

func TestManagementServer_RecoversPanics(t *testing.T) {
	s := newTestServer(t, nil)
	s.engine.GET("/boom", func(*gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body ErrorResponse
	decode(t, rec, &body)
	if body.RequestID != "req-1" || body.Error != "internal_server_error" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestManagementServer_LedgerRoutes(t *testing.T) {
	s := newTestServer(t, seededLedger(t))
	h := s.Handler()

	rec := get(t, h, "/v1/contracts/contract-1/transactions?type=import")
	if rec.Code != http.StatusOK {
		t.Fatalf("list masters: %d %s", rec.Code, rec.Body.String())
	}
	var masters []masterView
	decode(t, rec, &masters)
	if len(masters) != 2 {
		t.Fatalf("expected 2 masters, got %d", len(masters))
	}
	if masters[0].Type != "IMPORT" || masters[0].Status != "in_progress" {
		t.Fatalf("unexpected master: %+v", masters[0])
	}

	rec = get(t, h, "/v1/contracts/contract-1/transactions/latest?type=IMPORT")
	var latest masterView
	decode(t, rec, &latest)
	if rec.Code != http.StatusOK || latest.ID != 2 {
		t.Fatalf("expected latest master 2, got %d %+v", rec.Code, latest)
	}

	rec = get(t, h, "/v1/contracts/contract-1/transactions/count?type=IMPORT")
	var count countView
	decode(t, rec, &count)
	if count.Count != 2 {
		t.Fatalf("expected master count 2, got %d", count.Count)
	}

	rec = get(t, h, "/v1/contracts/contract-1/transactions/1/details?limit=10")
	var details []detailView
	decode(t, rec, &details)
	if rec.Code != http.StatusOK || len(details) != 1 || details[0].ProductID != "p-1" {
		t.Fatalf("unexpected details: %d %+v", rec.Code, details)
	}

	rec = get(t, h, "/v1/contracts/contract-1/transactions/1/details/count")
	decode(t, rec, &count)
	if count.Count != 1 {
		t.Fatalf("expected detail count 1, got %d", count.Count)
	}
}

func TestManagementServer_LedgerErrors(t *testing.T) {
	s := newTestServer(t, seededLedger(t))
	h := s.Handler()

	tests := []struct {
		name     string
		path     string
		wantCode int
	}{
		{name: "unknown type", path: "/v1/contracts/contract-1/transactions?type=sync", wantCode: http.StatusBadRequest},
		{name: "bad limit", path: "/v1/contracts/contract-1/transactions?type=IMPORT&limit=0", wantCode: http.StatusBadRequest},
		{name: "negative offset", path: "/v1/contracts/contract-1/transactions?type=IMPORT&offset=-1", wantCode: http.StatusBadRequest},
		{name: "bad transaction id", path: "/v1/contracts/contract-1/transactions/abc/details", wantCode: http.StatusBadRequest},
		{name: "no latest master", path: "/v1/contracts/contract-2/transactions/latest?type=EXPORT", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.path)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			var body ErrorResponse
			decode(t, rec, &body)
			if body.Error == "" || body.RequestID == "" {
				t.Fatalf("expected error category and request id, got %+v", body)
			}
		})
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("server did not start listening")
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		addr = "127.0.0.1" + addr[i:]
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
