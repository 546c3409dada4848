package device

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// sysfsNodeDir is a package var so tests can point it at a fake tree.
var sysfsNodeDir = "/sys/devices/system/node"

// CPUTopology assigns core affinities to service instances, round-robining
// across each NUMA node's online CPUs the same way the original broker's
// get_core_affinity does.
type CPUTopology struct {
	mu    sync.Mutex
	cores map[int][]int // node -> ordered CPU ids
	idx   map[int]int   // node -> next round-robin index
}

// NewCPUTopology discovers NUMA nodes and their online CPUs from sysfs. If
// no NUMA information is available (single-node hosts, containers without
// /sys/devices/system/node), every online CPU is assigned to node 0, as a
// fallback.
func NewCPUTopology() *CPUTopology {
	t := &CPUTopology{
		cores: make(map[int][]int),
		idx:   make(map[int]int),
	}

	nodes := discoverNodes()
	if len(nodes) == 0 {
		t.cores[0] = allOnlineCPUs()
		return t
	}
	for _, node := range nodes {
		cpus := nodeCPUs(node)
		if len(cpus) == 0 {
			continue
		}
		t.cores[node] = cpus
	}
	if len(t.cores) == 0 {
		t.cores[0] = allOnlineCPUs()
	}
	return t
}

// discoverNodes lists "nodeN" directories under /sys/devices/system/node.
func discoverNodes() []int {
	entries, err := os.ReadDir(sysfsNodeDir)
	if err != nil {
		return nil
	}
	var nodes []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "node") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, "node"))
		if err != nil {
			continue
		}
		nodes = append(nodes, n)
	}
	sort.Ints(nodes)
	return nodes
}

// nodeCPUs reads the cpulist-format "cpulist" file for a given NUMA node.
func nodeCPUs(node int) []int {
	data, err := os.ReadFile(filepath.Join(sysfsNodeDir, "node"+strconv.Itoa(node), "cpulist"))
	if err != nil {
		return nil
	}
	return parseCPUList(strings.TrimSpace(string(data)))
}

// parseCPUList parses a Linux cpulist string such as "0-3,8,10-11".
func parseCPUList(s string) []int {
	if s == "" {
		return nil
	}
	var cpus []int
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			loN, err1 := strconv.Atoi(lo)
			hiN, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil {
				continue
			}
			for c := loN; c <= hiN; c++ {
				cpus = append(cpus, c)
			}
		} else {
			if c, err := strconv.Atoi(part); err == nil {
				cpus = append(cpus, c)
			}
		}
	}
	return cpus
}

// allOnlineCPUs falls back to runtime.NumCPU() for hosts without NUMA sysfs.
func allOnlineCPUs() []int {
	n := runtime.NumCPU()
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}

// NextAffinity returns the next CPU id to assign on the given NUMA node,
// advancing that node's round-robin index, wrapping modulo its core count.
// Falls back to node 0 if the requested node has no known cores.
func (t *CPUTopology) NextAffinity(node int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cpus, ok := t.cores[node]
	if !ok || len(cpus) == 0 {
		cpus, ok = t.cores[0]
		node = 0
		if !ok || len(cpus) == 0 {
			return 0
		}
	}
	i := t.idx[node]
	cpu := cpus[i%len(cpus)]
	t.idx[node] = (i + 1) % len(cpus)
	return cpu
}
