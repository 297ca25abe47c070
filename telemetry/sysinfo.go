package telemetry

import (
	"bufio"
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmbench/executor"
)

// SystemInfo is a hardware summary of the run target.
type SystemInfo struct {
	CPUCores          int      `json:"cpu_cores"`
	CPUFreqMHz        float64  `json:"cpu_freq"`
	MemoryGB          float64  `json:"memory_gb"`
	MemoryAvailableGB float64  `json:"memory_available_gb"`
	NVMeDevices       []string `json:"nvme_devices"`
}

var nvmeNamespace = regexp.MustCompile(`^nvme\d+n\d+$`)

// CollectSystemInfo reads CPU, memory and NVMe namespaces from the target.
// Missing sources leave their fields zero; only a failed executor is an error.
func CollectSystemInfo(ctx context.Context, exec executor.Executor) (*SystemInfo, error) {
	info := &SystemInfo{NVMeDevices: []string{}}

	out, err := runQuiet(ctx, exec, "cat", "/proc/cpuinfo")
	if err != nil {
		return nil, err
	}
	info.CPUCores, info.CPUFreqMHz = ParseCPUInfo(out)

	if out, err = runQuiet(ctx, exec, "cat", "/proc/meminfo"); err != nil {
		return nil, err
	}
	info.MemoryGB, info.MemoryAvailableGB = ParseMemInfo(out)

	if out, err = runQuiet(ctx, exec, "ls", "-1", "/dev"); err != nil {
		return nil, err
	}
	info.NVMeDevices = ParseNVMeDevices(out)
	return info, nil
}

func runQuiet(ctx context.Context, exec executor.Executor, argv ...string) (string, error) {
	res, err := exec.Run(ctx, argv)
	if err != nil {
		return "", errors.Wrapf(err, "failed to run %s", strings.Join(argv, " "))
	}
	if res.ExitCode != 0 {
		return "", nil
	}
	return res.Stdout, nil
}

// ParseCPUInfo counts physical cores as distinct (physical id, core id) pairs,
// falling back to the processor count, and returns the first reported clock.
func ParseCPUInfo(text string) (cores int, mhz float64) {
	physical := map[string]bool{}
	processors := 0
	socket := ""
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "processor":
			processors++
			socket = ""
		case "physical id":
			socket = value
		case "core id":
			physical[socket+"/"+value] = true
		case "cpu MHz":
			if mhz == 0 {
				mhz, _ = strconv.ParseFloat(value, 64)
			}
		}
	}
	if len(physical) > 0 {
		return len(physical), mhz
	}
	return processors, mhz
}

// ParseMemInfo returns MemTotal and MemAvailable in GiB, rounded to two places.
func ParseMemInfo(text string) (total, available float64) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = kbToGB(kb)
		case "MemAvailable:":
			available = kbToGB(kb)
		}
	}
	return total, available
}

func kbToGB(kb float64) float64 {
	gb := kb / (1024 * 1024)
	return float64(int64(gb*100+0.5)) / 100
}

// ParseNVMeDevices picks NVMe namespace block devices out of a /dev listing.
// Partitions and controller character devices are skipped.
func ParseNVMeDevices(listing string) []string {
	devices := []string{}
	for _, name := range strings.Fields(listing) {
		if nvmeNamespace.MatchString(name) {
			devices = append(devices, "/dev/"+name)
		}
	}
	sort.Strings(devices)
	return devices
}
