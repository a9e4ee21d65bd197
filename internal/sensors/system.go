package sensors

import (
	"context"

	"github.com/atlasfleet/atlas/internal/domain"
)

// SampleSystem returns the host's core resource metrics: CPU, memory, disk,
// network. The heavy lifting lives in the platform-specific
// readSystemMetrics implementation (system_linux.go, system_other.go).
func SampleSystem(ctx context.Context) (domain.MetricReport, error) {
	ctx, cancel := withTimeout(ctx, domain.MonitorIntervals[domain.MonitorSystem])
	defer cancel()

	report, err := readSystemMetrics(ctx)
	if err != nil {
		return domain.MetricReport{}, &domain.SensorError{
			Kind:    domain.SensorFailureInternal,
			Monitor: domain.MonitorSystem,
			Message: err.Error(),
		}
	}
	return report, nil
}
