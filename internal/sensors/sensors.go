// Package sensors wraps the OS probes each monitor samples. Every exported
// Sample* function is a stateless adapter: given the probe it wraps, it
// returns a typed snapshot or a typed *domain.SensorError — never a raw
// error, and never a panic. Real OS integration (system_profiler, ioreg,
// ifconfig, networksetup, smartctl, ...) is an out-of-scope collaborator
// per spec §1; where no such collaborator exists on the build platform,
// the sampler degrades to a safe-default snapshot or a probe_unavailable
// error, matching the "degrade silently on unsupported platforms" rule in
// spec §4.1.
package sensors

import (
	"context"
	"os/exec"
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
)

// runProbe execs an external probe binary and returns its stdout, or a typed
// SensorError: probe_unavailable if the binary isn't on PATH, timeout if ctx
// expires first, internal for any other exec failure.
func runProbe(ctx context.Context, monitor domain.MonitorKind, name string, args ...string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, &domain.SensorError{Kind: domain.SensorFailureUnavailable, Monitor: monitor, Message: name + " not found"}
	}

	cmd := exec.CommandContext(ctx, path, args...)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, &domain.SensorError{Kind: domain.SensorFailureTimeout, Monitor: monitor, Message: err.Error()}
		}
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return nil, &domain.SensorError{Kind: domain.SensorFailureInternal, Monitor: monitor, Message: string(exitErr.Stderr)}
		}
		return nil, &domain.SensorError{Kind: domain.SensorFailureInternal, Monitor: monitor, Message: err.Error()}
	}
	return out, nil
}

// withTimeout derives a context bounded by interval-1s, the sampler contract
// in spec §4.1: "Must complete within interval − 1s or the runtime cancels
// it."
func withTimeout(parent context.Context, interval time.Duration) (context.Context, context.CancelFunc) {
	budget := interval - time.Second
	if budget <= 0 {
		budget = interval
	}
	return context.WithTimeout(parent, budget)
}
