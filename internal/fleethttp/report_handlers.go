package fleethttp

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atlasfleet/atlas/internal/cryptobox"
	"github.com/atlasfleet/atlas/internal/domain"
)

// envelopeHeader is peeked from the request body to tell a sealed envelope
// (spec §4.2) apart from a bare report (spec §8 scenario 1's literal body
// has no wrapper at all — the report JSON goes straight over the wire).
type envelopeHeader struct {
	Encrypted  bool   `json:"encrypted"`
	Version    int    `json:"version,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
}

// handleReport implements the ingestion endpoint, spec §4.6 steps 1-9: open
// (or accept as plaintext) the envelope, validate required fields, ingest,
// and return any pending commands.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	var hdr envelopeHeader
	if err := json.Unmarshal(body, &hdr); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	machineID := r.URL.Query().Get("machine_id")

	var reportJSON []byte
	switch {
	case hdr.Encrypted && len(s.EncryptionKey) > 0:
		if machineID == "" {
			writeError(w, http.StatusBadRequest, domain.ErrMachineIDEmpty.Error())
			return
		}
		plaintext, err := cryptobox.Open(s.EncryptionKey, machineID, &cryptobox.Envelope{
			Encrypted:  hdr.Encrypted,
			Version:    hdr.Version,
			Nonce:      hdr.Nonce,
			Ciphertext: hdr.Ciphertext,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, domain.ErrDecryptFailed.Error())
			return
		}
		reportJSON = plaintext

	case hdr.Encrypted && len(s.EncryptionKey) == 0:
		writeError(w, http.StatusBadRequest, domain.ErrNoEncryptionKey.Error())
		return

	case !hdr.Encrypted && s.Strict && len(s.EncryptionKey) > 0:
		// Spec invariant 3: a keyed, strict server never accepts an
		// unencrypted report.
		writeError(w, http.StatusBadRequest, domain.ErrEncryptionMixed.Error())
		return

	default:
		// Plaintext bypass: the body IS the report, not a wrapper around one
		// (spec §8 scenario 1's literal body has no "report" key).
		reportJSON = body
	}

	var report domain.Report
	if err := json.Unmarshal(reportJSON, &report); err != nil {
		writeError(w, http.StatusBadRequest, "malformed report")
		return
	}
	if report.MachineID == "" {
		writeError(w, http.StatusBadRequest, domain.ErrMachineIDEmpty.Error())
		return
	}
	if report.Timestamp.IsZero() {
		writeError(w, http.StatusBadRequest, domain.ErrTimestampMissing.Error())
		return
	}

	if !s.acquireSlot(report.MachineID) {
		writeError(w, http.StatusTooManyRequests, domain.ErrBackpressure.Error())
		return
	}
	defer s.releaseSlot(report.MachineID)

	ctx := r.Context()
	s.Store.Ingest(ctx, report)

	for _, result := range report.CommandResults {
		if err := s.Store.CompleteCommand(ctx, result.CommandID, result); err != nil {
			s.Log.WithField("command_id", result.CommandID).WithField("error", err).Warn("fleethttp: complete command failed")
		}
	}

	commands, err := s.Store.PendingCommands(ctx, report.MachineID)
	if err != nil {
		s.Log.WithField("machine_id", report.MachineID).WithField("error", err).Warn("fleethttp: load pending commands failed")
		commands = nil
	}

	writeJSON(w, http.StatusOK, domain.ReportResponse{OK: true, Commands: commands})
}

// handleCommandResult implements POST /api/fleet/commands/{id}/result, spec
// §4.6: an out-of-band ack path alongside the report body's
// command_results[] (§4.9's at-least-once delivery means either can arrive
// first; completeCommand is idempotent on an already-done command).
func (s *Server) handleCommandResult(w http.ResponseWriter, r *http.Request) {
	commandID := chi.URLParam(r, "id")

	var result domain.CommandResult
	if err := decodeJSON(r, &result); err != nil {
		writeError(w, http.StatusBadRequest, "malformed command result")
		return
	}
	result.CommandID = commandID

	if err := s.Store.CompleteCommand(r.Context(), commandID, result); err != nil {
		s.Log.WithField("command_id", commandID).WithField("error", err).Warn("fleethttp: complete command failed")
		writeError(w, http.StatusBadRequest, "could not complete command")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
