package fleethttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/speedtest"
)

const (
	defaultSpeedtestWindowHours = 24
	recentSampleLimit           = 100
)

// windowFromQuery parses the optional "hours" query parameter shared by the
// speed-test routes, spec §4.8.
func windowFromQuery(r *http.Request) time.Duration {
	hours := defaultSpeedtestWindowHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			hours = n
		}
	}
	return time.Duration(hours) * time.Hour
}

// groupByMachine reshapes a flat result slice into the per-machine map the
// speedtest package's fleet-aggregation functions expect.
func groupByMachine(results []domain.SpeedTestResult) map[string][]domain.SpeedTestResult {
	out := make(map[string][]domain.SpeedTestResult)
	for _, r := range results {
		out[r.MachineID] = append(out[r.MachineID], r)
	}
	return out
}

func (s *Server) handleSpeedtestRecent20(w http.ResponseWriter, r *http.Request) {
	results, err := s.Store.SpeedtestsSince(r.Context(), time.Now().UTC().Add(-30*24*time.Hour))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load speedtest history")
		return
	}
	machines, fleetMean := speedtest.Recent20(groupByMachine(results))
	writeJSON(w, http.StatusOK, map[string]any{"machines": machines, "fleet_mean": fleetMean})
}

func (s *Server) handleSpeedtestSummary(w http.ResponseWriter, r *http.Request) {
	window := windowFromQuery(r)
	results, err := s.Store.SpeedtestsSince(r.Context(), time.Now().UTC().Add(-window))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load speedtest history")
		return
	}
	buckets := speedtest.Summary(results, window, time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]any{"buckets": buckets})
}

func (s *Server) handleSpeedtestComparison(w http.ResponseWriter, r *http.Request) {
	window := windowFromQuery(r)
	results, err := s.Store.SpeedtestsSince(r.Context(), time.Now().UTC().Add(-window))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load speedtest history")
		return
	}
	comparisons := speedtest.CompareToFleet(groupByMachine(results), window, time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]any{"comparisons": comparisons})
}

func (s *Server) handleSpeedtestAnomalies(w http.ResponseWriter, r *http.Request) {
	machineID := r.URL.Query().Get("machine_id")
	if machineID == "" {
		writeError(w, http.StatusBadRequest, "machine_id is required")
		return
	}
	results, err := s.Store.RecentSpeedtests(r.Context(), machineID, recentSampleLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load speedtest history")
		return
	}
	anomalies := speedtest.DetectAnomalies(machineID, results)
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": anomalies})
}
