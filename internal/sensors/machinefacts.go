package sensors

import (
	"net"

	"github.com/atlasfleet/atlas/internal/domain"
)

// MachineFacts bundles the one-shot hardware facts collected at agent boot
// (spec §3 machine_info): total memory, OS version string, disks, NICs, and
// GPU when discoverable.
type MachineFacts struct {
	TotalMemoryBytes  uint64
	OSVersion         string
	Disks             []domain.Disk
	NetworkInterfaces []domain.NetworkInterface
	GPU               *domain.GPU
}

// ReadMachineFacts gathers MachineFacts from the host. Every field is
// best-effort — a probe that fails leaves its field at the zero value
// rather than blocking agent startup, the same tolerance readSystemMetrics
// gives to temperature/battery.
func ReadMachineFacts() MachineFacts {
	facts := MachineFacts{
		OSVersion: readOSVersion(),
		Disks:     readDisks(),
		GPU:       readGPU(),
	}

	if mem, err := readMemory(); err == nil {
		facts.TotalMemoryBytes = mem.TotalBytes
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return facts
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		addrStrs := make([]string, 0, len(addrs))
		for _, a := range addrs {
			addrStrs = append(addrStrs, a.String())
		}
		facts.NetworkInterfaces = append(facts.NetworkInterfaces, domain.NetworkInterface{
			Name:       iface.Name,
			MACAddress: iface.HardwareAddr.String(),
			Addresses:  addrStrs,
		})
	}
	return facts
}
