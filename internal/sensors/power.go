package sensors

import (
	"context"

	"github.com/atlasfleet/atlas/internal/domain"
)

// SamplePower reports battery charge, cycle count, health, and thermal
// state. Laptops only; desktops report probe_unavailable, which the
// monitor runtime treats as an expected, silent degrade (spec §4.1).
func SamplePower(ctx context.Context) (domain.PowerSnapshot, error) {
	ctx, cancel := withTimeout(ctx, domain.MonitorIntervals[domain.MonitorPower])
	defer cancel()

	snap, err := readPower(ctx)
	if err != nil {
		return domain.PowerSnapshot{}, &domain.SensorError{
			Kind:    domain.SensorFailureUnavailable,
			Monitor: domain.MonitorPower,
			Message: err.Error(),
		}
	}
	return snap, nil
}
