package fleethttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atlasfleet/atlas/internal/alerts"
	"github.com/atlasfleet/atlas/internal/domain"
)

// machineView is one entry in the machines list/detail responses, spec §4.4.
type machineView struct {
	MachineID string               `json:"machine_id"`
	Info      domain.MachineInfo   `json:"machine_info"`
	Metrics   domain.MetricReport  `json:"metrics"`
	Status    domain.Status        `json:"status"`
	LastSeen  time.Time            `json:"last_seen"`
	FirstSeen time.Time            `json:"first_seen"`
	Alerts    []domain.Alert       `json:"alerts"`
}

func (s *Server) buildView(machineID string, info domain.MachineInfo, metrics domain.MetricReport,
	monitors map[string]domain.MonitorSnapshot, firstSeen, lastSeen time.Time) machineView {

	now := time.Now().UTC()
	status := domain.DeriveStatus(lastSeen, now, s.AgentInterval)
	derived := alerts.Derive(alerts.Input{
		MachineID: machineID,
		Metrics:   metrics,
		Monitors:  monitors,
		LastSeen:  lastSeen,
	}, s.Thresholds, status, now)

	return machineView{
		MachineID: machineID,
		Info:      info,
		Metrics:   metrics,
		Status:    status,
		LastSeen:  lastSeen,
		FirstSeen: firstSeen,
		Alerts:    derived,
	}
}

// handleListMachines returns every known machine with its derived status
// and alerts, spec §4.6.
func (s *Server) handleListMachines(w http.ResponseWriter, r *http.Request) {
	all := s.Store.AllMachines()
	views := make([]machineView, 0, len(all))
	for id, entry := range all {
		views = append(views, s.buildView(id, entry.Info, entry.LatestMetrics, entry.LatestMonitors, entry.FirstSeen, entry.LastSeen))
	}
	writeJSON(w, http.StatusOK, map[string]any{"machines": views})
}

// handleGetMachine returns one machine's detail view plus its bounded
// in-memory metrics history.
func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, ok := s.Store.Machine(id)
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrMachineNotFound.Error())
		return
	}
	view := s.buildView(id, entry.Info, entry.LatestMetrics, entry.LatestMonitors, entry.FirstSeen, entry.LastSeen)
	history := entry.History.Slice()
	writeJSON(w, http.StatusOK, map[string]any{
		"machine": view,
		"history": history,
	})
}

type enqueueCommandRequest struct {
	Type domain.CommandType    `json:"type"`
	Args map[string]any        `json:"args,omitempty"`
}

// handleEnqueueCommand is the operator-facing wrapper over
// Store.EnqueueCommand (SPEC_FULL.md §12 supplemented route).
func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.Store.Machine(id); !ok {
		writeError(w, http.StatusNotFound, domain.ErrMachineNotFound.Error())
		return
	}

	var req enqueueCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	commandID, err := s.Store.EnqueueCommand(r.Context(), id, req.Type, req.Args)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not enqueue command")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"command_id": commandID})
}

// handleSummary returns the fleet-wide counts spec §4.4 asks the dashboard
// to show: total machines and a breakdown by derived status.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	all := s.Store.AllMachines()
	now := time.Now().UTC()

	counts := map[domain.Status]int{
		domain.StatusOnline:  0,
		domain.StatusWarning: 0,
		domain.StatusOffline: 0,
	}
	alertTotal := 0
	for id, entry := range all {
		status := domain.DeriveStatus(entry.LastSeen, now, s.AgentInterval)
		counts[status]++
		alertTotal += len(alerts.Derive(alerts.Input{
			MachineID: id,
			Metrics:   entry.LatestMetrics,
			Monitors:  entry.LatestMonitors,
			LastSeen:  entry.LastSeen,
		}, s.Thresholds, status, now))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_machines": len(all),
		"online":         counts[domain.StatusOnline],
		"warning":        counts[domain.StatusWarning],
		"offline":        counts[domain.StatusOffline],
		"alert_count":    alertTotal,
	})
}

// handleServerResources reports the server's own operational state
// (SPEC_FULL.md §12 supplemented route): cert expiry, bind address, TLS
// status, and process uptime.
func (s *Server) handleServerResources(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"bind_address": s.BindAddr,
		"tls_enabled":  s.Certs != nil,
		"uptime_seconds": int(time.Since(s.StartedAt).Seconds()),
	}
	if s.Certs != nil {
		resp["cert_expires_in_days"] = s.Certs.ExpiresInDays()
	}
	writeJSON(w, http.StatusOK, resp)
}
