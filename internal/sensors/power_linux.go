//go:build linux

package sensors

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/atlasfleet/atlas/internal/domain"
)

// readPower reads battery state from sysfs (/sys/class/power_supply/BAT0),
// the same node the teacher's resource sensors read for battery percent.
func readPower(ctx context.Context) (domain.PowerSnapshot, error) {
	const base = "/sys/class/power_supply/BAT0"

	capData, err := os.ReadFile(base + "/capacity")
	if err != nil {
		return domain.PowerSnapshot{}, err
	}
	percent, err := strconv.Atoi(strings.TrimSpace(string(capData)))
	if err != nil {
		return domain.PowerSnapshot{}, err
	}

	statusData, _ := os.ReadFile(base + "/status")
	charging := strings.TrimSpace(string(statusData)) == "Charging"

	cycles := readIntFile(base + "/cycle_count")

	healthPercent := 100
	fullDesign := readIntFile(base + "/charge_full_design")
	fullNow := readIntFile(base + "/charge_full")
	if fullDesign > 0 && fullNow > 0 {
		healthPercent = fullNow * 100 / fullDesign
	}

	thermal := "nominal"
	if zones, err := os.ReadDir("/sys/class/thermal"); err == nil {
		for _, z := range zones {
			tempPath := "/sys/class/thermal/" + z.Name() + "/temp"
			data, err := os.ReadFile(tempPath)
			if err != nil {
				continue
			}
			milliC, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err == nil && milliC/1000 >= 90 {
				thermal = "critical"
				break
			}
		}
	}

	return domain.PowerSnapshot{
		BatteryPercent: percent,
		Cycles:         cycles,
		HealthPercent:  healthPercent,
		Charging:       charging,
		ThermalState:   thermal,
	}, nil
}

func readIntFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return n
}
