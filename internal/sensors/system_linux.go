//go:build linux

package sensors

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
)

// topN bounds how many entries readProcesses keeps per ranking — spec §3's
// process table is a top-CPU/top-memory summary, not a full dump.
const topN = 5

// readSystemMetrics samples CPU, memory, disk, and network counters from
// /proc and syscall.Statfs, the same sysfs/procfs surface the teacher's
// resource sensors read on Linux.
func readSystemMetrics(ctx context.Context) (domain.MetricReport, error) {
	now := time.Now().UTC()

	cpu, err := readCPU()
	if err != nil {
		return domain.MetricReport{}, fmt.Errorf("read cpu: %w", err)
	}
	mem, err := readMemory()
	if err != nil {
		return domain.MetricReport{}, fmt.Errorf("read memory: %w", err)
	}
	disk, err := readDisk("/")
	if err != nil {
		return domain.MetricReport{}, fmt.Errorf("read disk: %w", err)
	}
	net, err := readNetwork()
	if err != nil {
		return domain.MetricReport{}, fmt.Errorf("read network: %w", err)
	}
	uptime, err := readUptime()
	if err != nil {
		uptime = 0
	}

	var temp *float64
	if t, err := readThermalZone0(); err == nil {
		temp = &t
	}

	var battery *domain.BatteryMetric
	if b, err := readBattery(); err == nil {
		battery = b
	}

	procs, err := readProcesses(mem.TotalBytes)
	if err != nil {
		procs = domain.ProcessesMetric{}
	}

	users, err := readUsers()
	if err != nil {
		users = nil
	}

	return domain.MetricReport{
		Timestamp:     now,
		UptimeSeconds: uptime,
		CPU:           cpu,
		Memory:        mem,
		Disk:          disk,
		Network:       net,
		Processes:     procs,
		TemperatureC:  temp,
		Battery:       battery,
		Users:         users,
	}, nil
}

func readCPU() (domain.CPUMetric, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return domain.CPUMetric{}, err
	}
	defer f.Close()

	var metric domain.CPUMetric
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "cpu") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		if fields[0] == "cpu" {
			var total, idle float64
			for i, v := range fields[1:] {
				n, _ := strconv.ParseFloat(v, 64)
				total += n
				if i == 3 { // idle column
					idle = n
				}
			}
			if total > 0 {
				metric.Percent = 100 * (1 - idle/total)
			}
			continue
		}
		metric.Count++
	}
	metric.Threads = metric.Count

	if avg, err := readLoadAvg(); err == nil {
		metric.LoadAvg = avg
	}
	return metric, scanner.Err()
}

func readLoadAvg() ([3]float64, error) {
	var out [3]float64
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return out, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return out, fmt.Errorf("unexpected /proc/loadavg format")
	}
	for i := 0; i < 3; i++ {
		out[i], _ = strconv.ParseFloat(fields[i], 64)
	}
	return out, nil
}

func readMemory() (domain.MemoryMetric, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return domain.MemoryMetric{}, err
	}
	defer f.Close()

	values := map[string]uint64{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		fields := strings.Fields(parts[1])
		if len(fields) == 0 {
			continue
		}
		n, _ := strconv.ParseUint(fields[0], 10, 64)
		values[key] = n * 1024 // kB -> bytes
	}
	if err := scanner.Err(); err != nil {
		return domain.MemoryMetric{}, err
	}

	total := values["MemTotal"]
	available := values["MemAvailable"]
	used := total - available
	var percent float64
	if total > 0 {
		percent = 100 * float64(used) / float64(total)
	}

	swapTotal := values["SwapTotal"]
	swapFree := values["SwapFree"]
	swapUsed := swapTotal - swapFree
	var swapPercent float64
	if swapTotal > 0 {
		swapPercent = 100 * float64(swapUsed) / float64(swapTotal)
	}

	return domain.MemoryMetric{
		TotalBytes:  total,
		Available:   available,
		Used:        used,
		Percent:     percent,
		SwapTotal:   swapTotal,
		SwapUsed:    swapUsed,
		SwapPercent: swapPercent,
	}, nil
}

func readDisk(path string) (domain.DiskMetric, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return domain.DiskMetric{}, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	used := total - free
	var percent float64
	if total > 0 {
		percent = 100 * float64(used) / float64(total)
	}
	return domain.DiskMetric{
		TotalBytes: total,
		UsedBytes:  used,
		FreeBytes:  free,
		Percent:    percent,
	}, nil
}

func readNetwork() (domain.NetworkMetric, error) {
	f, err := os.Open("/proc/net/dev")
	if err != nil {
		return domain.NetworkMetric{}, err
	}
	defer f.Close()

	var metric domain.NetworkMetric
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= 2 { // header lines
			continue
		}
		parts := strings.SplitN(scanner.Text(), ":", 2)
		if len(parts) != 2 {
			continue
		}
		iface := strings.TrimSpace(parts[0])
		if iface == "lo" {
			continue
		}
		fields := strings.Fields(parts[1])
		if len(fields) < 16 {
			continue
		}
		recv, _ := strconv.ParseUint(fields[0], 10, 64)
		recvPackets, _ := strconv.ParseUint(fields[1], 10, 64)
		recvErrs, _ := strconv.ParseUint(fields[2], 10, 64)
		recvDrop, _ := strconv.ParseUint(fields[3], 10, 64)
		sent, _ := strconv.ParseUint(fields[8], 10, 64)
		sentPackets, _ := strconv.ParseUint(fields[9], 10, 64)
		sentErrs, _ := strconv.ParseUint(fields[10], 10, 64)
		sentDrop, _ := strconv.ParseUint(fields[11], 10, 64)

		metric.BytesRecv += recv
		metric.PacketsRecv += recvPackets
		metric.ErrIn += recvErrs
		metric.DropIn += recvDrop
		metric.BytesSent += sent
		metric.PacketsSent += sentPackets
		metric.ErrOut += sentErrs
		metric.DropOut += sentDrop
	}
	return metric, scanner.Err()
}

func readUptime() (uint64, error) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("unexpected /proc/uptime format")
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	return uint64(seconds), nil
}

func readThermalZone0() (float64, error) {
	data, err := os.ReadFile("/sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		return 0, err
	}
	milliC, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, err
	}
	return float64(milliC) / 1000, nil
}

func readBattery() (*domain.BatteryMetric, error) {
	base := "/sys/class/power_supply/BAT0"
	capData, err := os.ReadFile(base + "/capacity")
	if err != nil {
		return nil, err
	}
	percent, err := strconv.Atoi(strings.TrimSpace(string(capData)))
	if err != nil {
		return nil, err
	}
	statusData, _ := os.ReadFile(base + "/status")
	charging := strings.TrimSpace(string(statusData)) == "Charging"
	return &domain.BatteryMetric{Percent: percent, Charging: charging}, nil
}

// clockTicksPerSec is sysconf(_SC_CLK_TCK) on effectively every Linux
// distro; without cgo there's no portable syscall for it, so we hardcode
// the near-universal value the same way the teacher hardcodes /proc
// column offsets elsewhere in this file.
const clockTicksPerSec = 100

// readProcesses walks /proc/[pid], ranking processes by approximate CPU
// share (accumulated utime+stime over the process's own lifetime) and by
// resident memory share of totalMemBytes.
func readProcesses(totalMemBytes uint64) (domain.ProcessesMetric, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return domain.ProcessesMetric{}, err
	}

	uptime, err := readUptime()
	if err != nil {
		uptime = 0
	}

	var all []domain.ProcessSample
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		sample, ok := readProcessStat(pid, uptime, totalMemBytes)
		if !ok {
			continue
		}
		all = append(all, sample)
	}

	metric := domain.ProcessesMetric{Total: len(all)}

	byCPU := append([]domain.ProcessSample(nil), all...)
	sort.Slice(byCPU, func(i, j int) bool { return byCPU[i].CPU > byCPU[j].CPU })
	if len(byCPU) > topN {
		byCPU = byCPU[:topN]
	}
	metric.TopCPU = byCPU

	byMem := append([]domain.ProcessSample(nil), all...)
	sort.Slice(byMem, func(i, j int) bool { return byMem[i].Memory > byMem[j].Memory })
	if len(byMem) > topN {
		byMem = byMem[:topN]
	}
	metric.TopMemory = byMem

	return metric, nil
}

func readProcessStat(pid int, uptimeSeconds uint64, totalMemBytes uint64) (domain.ProcessSample, bool) {
	dir := filepath.Join("/proc", strconv.Itoa(pid))

	statData, err := os.ReadFile(filepath.Join(dir, "stat"))
	if err != nil {
		return domain.ProcessSample{}, false
	}
	text := string(statData)

	// comm is parenthesized and may itself contain spaces/parens, so split
	// on the last ')' rather than fields[1].
	open := strings.IndexByte(text, '(')
	closeIdx := strings.LastIndexByte(text, ')')
	if open < 0 || closeIdx < 0 || closeIdx < open {
		return domain.ProcessSample{}, false
	}
	name := text[open+1 : closeIdx]
	rest := strings.Fields(text[closeIdx+1:])
	// rest[0] is state; utime is field 14, stime is field 15, starttime is
	// field 22 counting from field 1 (pid) — i.e. rest[11], rest[12], rest[19].
	if len(rest) < 20 {
		return domain.ProcessSample{}, false
	}
	utime, _ := strconv.ParseFloat(rest[11], 64)
	stime, _ := strconv.ParseFloat(rest[12], 64)
	startTicks, _ := strconv.ParseFloat(rest[19], 64)

	var cpuPercent float64
	lifetimeSeconds := float64(uptimeSeconds) - startTicks/clockTicksPerSec
	if lifetimeSeconds > 0 {
		cpuPercent = 100 * (utime + stime) / clockTicksPerSec / lifetimeSeconds
	}

	var rssBytes uint64
	if statm, err := os.ReadFile(filepath.Join(dir, "statm")); err == nil {
		fields := strings.Fields(string(statm))
		if len(fields) >= 2 {
			pages, _ := strconv.ParseUint(fields[1], 10, 64)
			rssBytes = pages * 4096
		}
	}
	var memPercent float64
	if totalMemBytes > 0 {
		memPercent = 100 * float64(rssBytes) / float64(totalMemBytes)
	}

	return domain.ProcessSample{
		PID:    pid,
		Name:   name,
		CPU:    cpuPercent,
		Memory: memPercent,
	}, true
}

// utmpRecord mirrors struct utmp from <utmpx.h> on 64-bit Linux: fixed
// 384-byte records, USER_PROCESS (type 7) marks an active login session.
const (
	utmpRecordSize = 384
	utmpUserProcess = 7
)

// readUsers parses /var/run/utmp for currently logged-in sessions — the
// same raw-binary-format approach this file already takes with /proc/net/dev
// and /proc/stat's fixed column layout, just against a fixed-width struct
// instead of a text table.
func readUsers() ([]domain.UserSession, error) {
	data, err := os.ReadFile("/var/run/utmp")
	if err != nil {
		return nil, err
	}

	var sessions []domain.UserSession
	for off := 0; off+utmpRecordSize <= len(data); off += utmpRecordSize {
		rec := data[off : off+utmpRecordSize]

		recType := int16(rec[0]) | int16(rec[1])<<8
		if recType != utmpUserProcess {
			continue
		}

		user := cString(rec[44:76])
		if user == "" {
			continue
		}

		sec := int32(rec[340]) | int32(rec[341])<<8 | int32(rec[342])<<16 | int32(rec[343])<<24
		sessions = append(sessions, domain.UserSession{
			Name:  user,
			Since: time.Unix(int64(sec), 0).UTC(),
		})
	}
	return sessions, nil
}

func cString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return strings.TrimSpace(string(b[:i]))
	}
	return strings.TrimSpace(string(b))
}

// readOSVersion reads the distro's PRETTY_NAME out of /etc/os-release,
// falling back to the raw kernel string from /proc/version.
func readOSVersion() string {
	if data, err := os.ReadFile("/etc/os-release"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if name, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
				return strings.Trim(strings.TrimSpace(name), `"`)
			}
		}
	}
	if data, err := os.ReadFile("/proc/version"); err == nil {
		return strings.TrimSpace(string(data))
	}
	return ""
}

// pseudoFilesystems is skipped when enumerating disks — spec §3's disks
// list is physical/removable volumes, not every kernel-synthesized mount.
var pseudoFilesystems = map[string]bool{
	"proc": true, "sysfs": true, "tmpfs": true, "devtmpfs": true,
	"devpts": true, "cgroup": true, "cgroup2": true, "overlay": true,
	"squashfs": true, "mqueue": true, "debugfs": true, "tracefs": true,
	"securityfs": true, "pstore": true, "bpf": true, "autofs": true,
	"binfmt_misc": true, "configfs": true, "fusectl": true, "hugetlbfs": true,
}

// readDisks parses /proc/mounts for real filesystems and statfs's each one
// for total capacity.
func readDisks() []domain.Disk {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil
	}
	defer f.Close()

	seen := map[string]bool{}
	var disks []domain.Disk
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		device, mountpoint, fstype := fields[0], fields[1], fields[2]
		if pseudoFilesystems[fstype] || seen[device] {
			continue
		}
		var stat syscall.Statfs_t
		if err := syscall.Statfs(mountpoint, &stat); err != nil {
			continue
		}
		seen[device] = true
		disks = append(disks, domain.Disk{
			Device:     device,
			Mountpoint: mountpoint,
			Filesystem: fstype,
			TotalBytes: stat.Blocks * uint64(stat.Bsize),
		})
	}
	return disks
}

// readGPU best-effort identifies the primary DRM device's driver and
// vendor; VRAM is left unset since it isn't exposed generically under
// /sys/class/drm across vendors.
func readGPU() *domain.GPU {
	base := "/sys/class/drm/card0/device"
	driverLink, err := os.Readlink(filepath.Join(base, "driver"))
	if err != nil {
		return nil
	}
	driver := filepath.Base(driverLink)

	vendor := ""
	if data, err := os.ReadFile(filepath.Join(base, "vendor")); err == nil {
		vendor = strings.TrimSpace(string(data))
	}

	name := driver
	if vendor != "" {
		name = vendor + ":" + driver
	}
	return &domain.GPU{Name: name, Driver: driver}
}
