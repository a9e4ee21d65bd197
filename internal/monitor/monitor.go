// Package monitor runs the agent's fixed set of monitors: one goroutine per
// monitor, each ticking at its own interval, each writing its result into a
// shared, mutex-guarded snapshot cache that the reporter reads from on its
// own schedule. A monitor's sampler failing does not stop its ticker — the
// cached snapshot is kept, and is marked stale once degradeThreshold
// consecutive timeouts have occurred, until the next successful sample.
package monitor

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/fleetlog"
	"github.com/atlasfleet/atlas/internal/fleetmetrics"
)

// Sampler is the shape every monitor's sample function satisfies: return a
// fully-populated snapshot or a typed failure. The runtime passes its own
// context through without adding a deadline; the sensors.Sample* functions
// apply their own interval-derived timeouts.
type Sampler func(ctx context.Context) (domain.MonitorSnapshot, error)

// degradeThreshold is the number of consecutive sampler timeouts before a
// monitor is marked degraded in its last snapshot.
const degradeThreshold = 3

// slot holds the latest snapshot for one monitor plus its run bookkeeping.
type slot struct {
	mu          sync.RWMutex
	snapshot    domain.MonitorSnapshot
	hasSnapshot bool
	consecutive int32 // consecutive timeout count, atomic
}

// Runtime owns one goroutine per registered monitor and the snapshot cache
// they write into.
type Runtime struct {
	machineID string
	samplers  map[domain.MonitorKind]Sampler
	slots     map[domain.MonitorKind]*slot
	log       *fleetlog.Logger

	csvPath string
	csvMu   sync.Mutex

	quiescedUntil atomic.Int64 // unix nano; 0 or past means not quiesced

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Runtime wired to the given samplers. csvPath, if non-empty,
// is an append-only log of every sample taken, one row per monitor per
// sample — mirroring the teacher's plain-CSV health-check log.
func New(machineID string, samplers map[domain.MonitorKind]Sampler, csvPath string, log *fleetlog.Logger) *Runtime {
	slots := make(map[domain.MonitorKind]*slot, len(samplers))
	for kind := range samplers {
		slots[kind] = &slot{}
	}
	return &Runtime{
		machineID: machineID,
		samplers:  samplers,
		slots:     slots,
		log:       log,
		csvPath:   csvPath,
	}
}

// Start launches one ticker goroutine per registered monitor.
func (r *Runtime) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for _, kind := range domain.AllMonitors {
		sampler, ok := r.samplers[kind]
		if !ok {
			continue
		}
		interval, ok := domain.MonitorIntervals[kind]
		if !ok {
			continue
		}
		r.wg.Add(1)
		go r.run(ctx, kind, sampler, interval)
	}
}

// Stop cancels every monitor goroutine and waits for them to exit.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runtime) run(ctx context.Context, kind domain.MonitorKind, sample Sampler, interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sampleOnce(ctx, kind, sample)
		}
	}
}

// Quiesce pauses every monitor's sampling for d — sampleOnce becomes a
// silent no-op until the deadline passes, leaving the last snapshot as-is
// rather than marking it stale. The agent-side half of the quiesce
// command, spec §4.9.
func (r *Runtime) Quiesce(d time.Duration) {
	r.quiescedUntil.Store(time.Now().Add(d).UnixNano())
}

// sampleOnce runs one sample for a monitor. Each monitor's run loop calls
// it synchronously, so samples for one monitor never overlap; ticks that
// arrive while a slow sample is running are dropped by the ticker.
func (r *Runtime) sampleOnce(ctx context.Context, kind domain.MonitorKind, sample Sampler) {
	if until := r.quiescedUntil.Load(); until > 0 && time.Now().UnixNano() < until {
		return
	}

	slot := r.slots[kind]

	snap, err := sample(ctx)
	now := time.Now().UTC()

	if err != nil {
		r.recordFailure(kind, err)
		count := atomic.LoadInt32(&slot.consecutive)
		if sensorErr, ok := err.(*domain.SensorError); ok && sensorErr.Kind == domain.SensorFailureTimeout {
			count = atomic.AddInt32(&slot.consecutive, 1)
		}
		slot.mu.Lock()
		if slot.hasSnapshot && count >= degradeThreshold {
			slot.snapshot.Stale = true
			if slot.snapshot.StaleSince == nil {
				since := now
				slot.snapshot.StaleSince = &since
			}
		}
		slot.mu.Unlock()
		r.appendCSV(kind, now, false, err.Error())
		return
	}

	atomic.StoreInt32(&slot.consecutive, 0)
	snap.Kind = kind
	snap.SampledAt = now
	snap.Stale = false
	snap.StaleSince = nil

	slot.mu.Lock()
	slot.snapshot = snap
	slot.hasSnapshot = true
	slot.mu.Unlock()

	r.appendCSV(kind, now, true, "")
}

func (r *Runtime) recordFailure(kind domain.MonitorKind, err error) {
	failKind := "internal"
	if sensorErr, ok := err.(*domain.SensorError); ok {
		failKind = string(sensorErr.Kind)
	}
	fleetmetrics.MonitorSampleFailures.WithLabelValues(string(kind), failKind).Inc()
	if r.log != nil {
		r.log.WithField("monitor", kind).WithField("kind", failKind).Debug("monitor sample failed")
	}
}

func (r *Runtime) appendCSV(kind domain.MonitorKind, at time.Time, ok bool, errMsg string) {
	if r.csvPath == "" {
		return
	}
	r.csvMu.Lock()
	defer r.csvMu.Unlock()

	_, statErr := os.Stat(r.csvPath)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(r.csvPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if r.log != nil {
			r.log.WithField("path", r.csvPath).Warn("monitor: could not open csv log")
		}
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if writeHeader {
		w.Write([]string{"timestamp", "machine_id", "monitor", "ok", "error"})
	}
	w.Write([]string{
		at.Format(time.RFC3339),
		r.machineID,
		string(kind),
		strconv.FormatBool(ok),
		errMsg,
	})
}

// Snapshot returns the latest snapshot for kind, and whether one has ever
// been successfully captured.
func (r *Runtime) Snapshot(kind domain.MonitorKind) (domain.MonitorSnapshot, bool) {
	slot, ok := r.slots[kind]
	if !ok {
		return domain.MonitorSnapshot{}, false
	}
	slot.mu.RLock()
	defer slot.mu.RUnlock()
	return slot.snapshot, slot.hasSnapshot
}

// AllSnapshots returns every monitor's latest snapshot, keyed by monitor
// name, for assembly into a report body.
func (r *Runtime) AllSnapshots() map[string]domain.MonitorSnapshot {
	out := make(map[string]domain.MonitorSnapshot, len(r.slots))
	for kind, slot := range r.slots {
		slot.mu.RLock()
		if slot.hasSnapshot {
			out[string(kind)] = slot.snapshot
		}
		slot.mu.RUnlock()
	}
	return out
}

// SampleRecord is one row of the CSV sample log: whether a given monitor's
// sample at a given time succeeded, and its error if not.
type SampleRecord struct {
	Timestamp time.Time
	MachineID string
	Monitor   domain.MonitorKind
	OK        bool
	Error     string
}

// QueryRange reads the CSV sample log back for one monitor over [t0, t1],
// spec §4.1's query contract alongside Snapshot's get_latest. Rows for
// other monitors are skipped; malformed rows are skipped rather than
// failing the whole read, since the log is append-only and a torn final
// line can follow a crash mid-write.
func (r *Runtime) QueryRange(kind domain.MonitorKind, t0, t1 time.Time) ([]SampleRecord, error) {
	if r.csvPath == "" {
		return nil, nil
	}

	r.csvMu.Lock()
	defer r.csvMu.Unlock()

	f, err := os.Open(r.csvPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var out []SampleRecord
	first := true
	for {
		row, err := reader.Read()
		if err != nil {
			break
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == "timestamp" {
				continue
			}
		}
		if len(row) < 5 {
			continue
		}
		if domain.MonitorKind(row[2]) != kind {
			continue
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			continue
		}
		if ts.Before(t0) || ts.After(t1) {
			continue
		}
		ok, _ := strconv.ParseBool(row[3])
		out = append(out, SampleRecord{
			Timestamp: ts,
			MachineID: row[1],
			Monitor:   kind,
			OK:        ok,
			Error:     row[4],
		})
	}
	return out, nil
}
