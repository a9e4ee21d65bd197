//go:build !linux

package sensors

import (
	"context"
	"fmt"

	"github.com/atlasfleet/atlas/internal/domain"
)

// readSystemMetrics has no procfs/sysfs to read outside Linux in this build.
func readSystemMetrics(ctx context.Context) (domain.MetricReport, error) {
	return domain.MetricReport{}, fmt.Errorf("system metrics not implemented on this platform")
}

// readMemory, readOSVersion, readDisks, and readGPU back ReadMachineFacts
// (machinefacts.go); this build has no procfs/sysfs to read them from.
func readMemory() (domain.MemoryMetric, error) {
	return domain.MemoryMetric{}, fmt.Errorf("memory stats not implemented on this platform")
}

func readOSVersion() string { return "" }

func readDisks() []domain.Disk { return nil }

func readGPU() *domain.GPU { return nil }
