// Package store implements the fleet server's data layer: an in-memory
// machine registry guarded by an RWMutex, with write-through persistence
// to SQLite (WAL mode, single writer connection) and nightly retention
// pruning.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/fleetlog"
)

// MachineEntry is the in-memory record for one machine, spec §4.4.
type MachineEntry struct {
	Info          domain.MachineInfo
	LatestMetrics domain.MetricReport
	LatestMonitors map[string]domain.MonitorSnapshot
	History       *historyRing
	FirstSeen     time.Time
	LastSeen      time.Time
}

// Store is the in-memory registry plus its SQLite write-through backend.
type Store struct {
	mu          sync.RWMutex
	machines    map[string]*MachineEntry
	machineLock map[string]*sync.Mutex // per-machine mutex for ingestion serialization

	historySize int
	db          *sqliteStore
	log         *fleetlog.Logger
}

// New opens (or creates) the SQLite file at dbPath and returns a ready
// Store. historySize bounds the in-memory ring per machine.
func New(dbPath string, historySize int, log *fleetlog.Logger) (*Store, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{
		machines:    make(map[string]*MachineEntry),
		machineLock: make(map[string]*sync.Mutex),
		historySize: historySize,
		db:          db,
		log:         log,
	}, nil
}

// Close releases the underlying SQLite connections.
func (s *Store) Close() error {
	return s.db.Close()
}

// machineMutex returns (creating if necessary) the per-machine mutex used
// to serialize ingestion for one machine_id, per spec §5's ordering rule.
func (s *Store) machineMutex(machineID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machineLock[machineID]
	if !ok {
		m = &sync.Mutex{}
		s.machineLock[machineID] = m
	}
	return m
}

// IngestResult reports whether Ingest registered a machine it had not seen
// before.
type IngestResult struct {
	Registered bool
}

// Ingest applies one accepted report: registers the machine if unseen,
// updates last_seen/history/latest_metrics, and writes through to SQLite.
// SQLite failures are logged, not propagated — spec §4.4 "failure in
// SQLite is logged but does not fail the request."
func (s *Store) Ingest(ctx context.Context, report domain.Report) IngestResult {
	mu := s.machineMutex(report.MachineID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()

	s.mu.Lock()
	entry, registered := s.machines[report.MachineID]
	wasNew := !registered
	if !registered {
		entry = &MachineEntry{
			FirstSeen: now,
			History:   newHistoryRing(s.historySize),
		}
		s.machines[report.MachineID] = entry
	}
	entry.LastSeen = now
	entry.LatestMetrics = report.Metrics
	if report.Monitors != nil {
		entry.LatestMonitors = report.Monitors
	}
	if report.MachineInfo != nil {
		entry.Info = *report.MachineInfo
	}
	entry.History.push(report.Metrics)
	s.mu.Unlock()

	if err := s.db.writeReport(ctx, report, wasNew); err != nil {
		if s.log != nil {
			s.log.WithField("machine_id", report.MachineID).WithField("error", err).Warn("store: sqlite write-through failed")
		}
	}

	if report.SpeedTest != nil {
		if err := s.db.writeSpeedTest(ctx, *report.SpeedTest); err != nil {
			if s.log != nil {
				s.log.WithField("machine_id", report.MachineID).WithField("error", err).Warn("store: sqlite speedtest write failed")
			}
		}
	}

	return IngestResult{Registered: wasNew}
}

// Machine returns a copy of a machine's current entry.
func (s *Store) Machine(machineID string) (MachineEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.machines[machineID]
	if !ok {
		return MachineEntry{}, false
	}
	return *entry, true
}

// AllMachines returns a snapshot map of machineID to a copy of its entry.
func (s *Store) AllMachines() map[string]MachineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]MachineEntry, len(s.machines))
	for id, entry := range s.machines {
		out[id] = *entry
	}
	return out
}

// PruneRetention deletes metrics_history rows older than retentionDays.
// Intended to be invoked from a nightly cron job (internal/serversupervisor).
func (s *Store) PruneRetention(ctx context.Context, retentionDays int) (int64, error) {
	return s.db.pruneMetricsHistory(ctx, retentionDays)
}

// EnqueueCommand records a new pending command for a machine.
func (s *Store) EnqueueCommand(ctx context.Context, machineID string, cmdType domain.CommandType, args map[string]any) (string, error) {
	return s.db.enqueueCommand(ctx, machineID, cmdType, args)
}

// PendingCommands returns this machine's pending commands and marks them
// delivered, per ingestion step 8 in spec §4.6.
func (s *Store) PendingCommands(ctx context.Context, machineID string) ([]domain.Command, error) {
	return s.db.claimPendingCommands(ctx, machineID)
}

// CompleteCommand marks a command done with its result. Completing a
// command that is already done is a no-op that keeps the first result.
func (s *Store) CompleteCommand(ctx context.Context, commandID string, result domain.CommandResult) error {
	return s.db.completeCommand(ctx, commandID, result)
}

// RecentSpeedtests returns a machine's most recent N speedtest results,
// newest first.
func (s *Store) RecentSpeedtests(ctx context.Context, machineID string, limit int) ([]domain.SpeedTestResult, error) {
	return s.db.recentSpeedtests(ctx, machineID, limit)
}

// SpeedtestsSince returns every speedtest result recorded at or after
// since, across all machines.
func (s *Store) SpeedtestsSince(ctx context.Context, since time.Time) ([]domain.SpeedTestResult, error) {
	return s.db.speedtestsSince(ctx, since)
}

// CreateUser inserts a new user row with a pre-hashed password.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, passwordSalt string) error {
	return s.db.createUser(ctx, username, passwordHash, passwordSalt)
}

// User fetches one user row by username.
func (s *Store) User(ctx context.Context, username string) (UserRecord, error) {
	return s.db.user(ctx, username)
}

// TouchUserLogin updates a user's last_login timestamp.
func (s *Store) TouchUserLogin(ctx context.Context, username string) error {
	return s.db.touchUserLogin(ctx, username)
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, token, username string, expiresAt time.Time) error {
	return s.db.createSession(ctx, token, username, expiresAt)
}

// Session fetches a session row by token.
func (s *Store) Session(ctx context.Context, token string) (SessionRecord, error) {
	return s.db.session(ctx, token)
}

// DeleteSession removes a session row (logout).
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	return s.db.deleteSession(ctx, token)
}

// PruneExpiredSessions deletes sessions past their expiry. Intended to run
// every 10 minutes per spec §5.
func (s *Store) PruneExpiredSessions(ctx context.Context) (int64, error) {
	return s.db.pruneExpiredSessions(ctx)
}
