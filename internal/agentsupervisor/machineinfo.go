package agentsupervisor

import (
	"os"
	"runtime"

	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/sensors"
)

// collectMachineInfo gathers the one-shot hardware facts sent with the
// first report (spec §3 machine_info). It never fails — an unknown
// hostname or OS detail is left blank rather than blocking startup.
func collectMachineInfo() *domain.MachineInfo {
	hostname, _ := os.Hostname()
	facts := sensors.ReadMachineFacts()
	return &domain.MachineInfo{
		Hostname:          hostname,
		OS:                runtime.GOOS,
		OSVersion:         facts.OSVersion,
		Processor:         runtime.GOARCH,
		CPUCount:          runtime.NumCPU(),
		CPUThreads:        runtime.NumCPU(),
		TotalMemoryBytes:  facts.TotalMemoryBytes,
		Disks:             facts.Disks,
		NetworkInterfaces: facts.NetworkInterfaces,
		GPU:               facts.GPU,
	}
}
