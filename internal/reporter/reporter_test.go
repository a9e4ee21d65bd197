package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/fleetlog"
)

type fakeSnapshots struct {
	snaps map[string]domain.MonitorSnapshot
}

func (f *fakeSnapshots) AllSnapshots() map[string]domain.MonitorSnapshot {
	return f.snaps
}

type fakeExecutor struct {
	executed []string
}

func (f *fakeExecutor) Execute(ctx context.Context, cmd domain.Command) domain.CommandResult {
	f.executed = append(f.executed, cmd.CommandID)
	return domain.CommandResult{CommandID: cmd.CommandID, Status: "ok"}
}

func TestLRUDedup(t *testing.T) {
	l := newLRU(2)
	l.add("a")
	l.add("b")
	if !l.seen("a") || !l.seen("b") {
		t.Fatalf("expected a and b to be seen")
	}
	l.add("c") // evicts "a"
	if l.seen("a") {
		t.Fatalf("expected a to be evicted")
	}
	if !l.seen("c") {
		t.Fatalf("expected c to be seen")
	}
}

func TestTickSuccessDispatchesCommands(t *testing.T) {
	exec := &fakeExecutor{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("X-API-Key") != "secret" {
			t.Fatalf("expected api key header")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.ReportResponse{
			OK:       true,
			Commands: []domain.Command{{CommandID: "cmd-1", Type: domain.CommandSpeedtestNow}},
		})
	}))
	defer srv.Close()

	r := New("mac-01", srv.URL, "secret", nil, 10*time.Millisecond,
		&fakeSnapshots{snaps: map[string]domain.MonitorSnapshot{}}, exec, fleetlog.NewDefault("test"))

	outcome := r.tick(context.Background())
	if outcome != outcomeOK {
		t.Fatalf("expected outcomeOK, got %v", outcome)
	}
	if len(exec.executed) != 1 || exec.executed[0] != "cmd-1" {
		t.Fatalf("expected command dispatched, got %v", exec.executed)
	}

	// Dispatching the same response again must not re-execute (idempotent
	// by command_id, though in practice the server wouldn't resend a
	// delivered command — this exercises the LRU directly).
	r.handleResponse(context.Background(), mustJSON(t, domain.ReportResponse{
		Commands: []domain.Command{{CommandID: "cmd-1"}},
	}))
	if len(exec.executed) != 1 {
		t.Fatalf("expected no re-execution of already-seen command")
	}
}

func TestTickAuthFailurePauses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	r := New("mac-01", srv.URL, "wrong", nil, 10*time.Millisecond,
		&fakeSnapshots{snaps: map[string]domain.MonitorSnapshot{}}, nil, fleetlog.NewDefault("test"))

	if outcome := r.tick(context.Background()); outcome != outcomeAuthFailed {
		t.Fatalf("expected outcomeAuthFailed, got %v", outcome)
	}
}

func TestTickServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New("mac-01", srv.URL, "secret", nil, 10*time.Millisecond,
		&fakeSnapshots{snaps: map[string]domain.MonitorSnapshot{}}, nil, fleetlog.NewDefault("test"))

	if outcome := r.tick(context.Background()); outcome != outcomeRetryable {
		t.Fatalf("expected outcomeRetryable, got %v", outcome)
	}
}

func TestTickTooLargeDropsNonEssentialAndRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		var body map[string]json.RawMessage
		json.NewDecoder(req.Body).Decode(&body)
		if calls == 1 {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		json.NewEncoder(w).Encode(domain.ReportResponse{OK: true})
	}))
	defer srv.Close()

	snaps := &fakeSnapshots{snaps: map[string]domain.MonitorSnapshot{
		string(domain.MonitorSoftwareInventory): {Kind: domain.MonitorSoftwareInventory},
		string(domain.MonitorSystem):             {Kind: domain.MonitorSystem},
	}}
	r := New("mac-01", srv.URL, "secret", nil, 10*time.Millisecond, snaps, nil, fleetlog.NewDefault("test"))

	outcome := r.tick(context.Background())
	if outcome != outcomeOK {
		t.Fatalf("expected eventual outcomeOK after retry, got %v", outcome)
	}
	if calls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", calls)
	}
}

func TestQuiesceSuppressesRunLoopTicks(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		json.NewEncoder(w).Encode(domain.ReportResponse{OK: true})
	}))
	defer srv.Close()

	r := New("mac-01", srv.URL, "secret", nil, 5*time.Millisecond,
		&fakeSnapshots{snaps: map[string]domain.MonitorSnapshot{}}, nil, fleetlog.NewDefault("test"))
	r.Quiesce(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	if calls != 0 {
		t.Fatalf("expected no posts while quiesced, got %d", calls)
	}
}

func mustJSON(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(data)
}
