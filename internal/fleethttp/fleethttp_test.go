package fleethttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlasfleet/atlas/internal/auth"
	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/fleetlog"
	"github.com/atlasfleet/atlas/internal/store"
)

const testAPIKey = "test-api-key"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "fleet.db")
	log := fleetlog.NewDefault("test")

	st, err := store.New(dbPath, 100, log)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	authn := auth.New(testAPIKey, st)

	return New(st, authn, nil, log, domain.DefaultThresholds(), 10*time.Second, time.Hour, nil, false, nil, "127.0.0.1:8768")
}

func plaintextBody(t *testing.T, report domain.Report) []byte {
	t.Helper()
	// Plaintext bypass: the report JSON goes straight over the wire, no
	// wrapper (spec §8 scenario 1).
	body, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}
	return body
}

func TestHandleReportAcceptsPlaintext(t *testing.T) {
	s := newTestServer(t)
	handler := s.Handler()

	report := domain.Report{MachineID: "mac-1", Timestamp: time.Now().UTC()}
	req := httptest.NewRequest(http.MethodPost, "/api/fleet/report", bytes.NewReader(plaintextBody(t, report)))
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.ReportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true")
	}

	if _, ok := s.Store.Machine("mac-1"); !ok {
		t.Fatalf("expected machine to be registered")
	}
}

func TestHandleReportRejectsMissingAPIKey(t *testing.T) {
	s := newTestServer(t)
	handler := s.Handler()

	report := domain.Report{MachineID: "mac-1", Timestamp: time.Now().UTC()}
	req := httptest.NewRequest(http.MethodPost, "/api/fleet/report", bytes.NewReader(plaintextBody(t, report)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleReportRejectsMissingMachineID(t *testing.T) {
	s := newTestServer(t)
	handler := s.Handler()

	report := domain.Report{Timestamp: time.Now().UTC()}
	req := httptest.NewRequest(http.MethodPost, "/api/fleet/report", bytes.NewReader(plaintextBody(t, report)))
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleReportRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	handler := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/fleet/report", bytes.NewReader([]byte("not json")))
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleReportBackpressure(t *testing.T) {
	s := newTestServer(t)
	handler := s.Handler()

	for i := 0; i < maxInFlightPerMachine; i++ {
		s.acquireSlot("mac-busy")
	}
	defer func() {
		for i := 0; i < maxInFlightPerMachine; i++ {
			s.releaseSlot("mac-busy")
		}
	}()

	report := domain.Report{MachineID: "mac-busy", Timestamp: time.Now().UTC()}
	req := httptest.NewRequest(http.MethodPost, "/api/fleet/report", bytes.NewReader(plaintextBody(t, report)))
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestMachinesRouteRequiresSession(t *testing.T) {
	s := newTestServer(t)
	handler := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/fleet/machines", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLoginThenListMachines(t *testing.T) {
	s := newTestServer(t)
	handler := s.Handler()

	if err := s.Auth.CreateUser(context.Background(), "operator", "sup3r$ecretPW!"); err != nil {
		t.Fatalf("create user: %v", err)
	}

	loginBody, _ := json.Marshal(map[string]string{"username": "operator", "password": "sup3r$ecretPW!"})
	loginReq := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(loginBody))
	loginRec := httptest.NewRecorder()
	handler.ServeHTTP(loginRec, loginReq)

	if loginRec.Code != http.StatusOK {
		t.Fatalf("expected login 200, got %d: %s", loginRec.Code, loginRec.Body.String())
	}

	var cookie *http.Cookie
	for _, c := range loginRec.Result().Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatalf("expected session cookie to be set")
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/fleet/machines", nil)
	listReq.AddCookie(cookie)
	listRec := httptest.NewRecorder()
	handler.ServeHTTP(listRec, listReq)

	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", listRec.Code, listRec.Body.String())
	}
}

func TestHandleSpeedtestAnomaliesRequiresMachineID(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/fleet/speedtest/anomalies", nil)
	rec := httptest.NewRecorder()
	s.handleSpeedtestAnomalies(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleServerResourcesReportsNoTLS(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/fleet/server-resources", nil)
	rec := httptest.NewRecorder()
	s.handleServerResources(rec, req)

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["tls_enabled"] != false {
		t.Fatalf("expected tls_enabled=false, got %v", resp["tls_enabled"])
	}
}
