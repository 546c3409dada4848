package device

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// sysfs read helpers. The broker never writes to sysfs or cgroupfs the way
// a container runtime does; it only ever reads device/vendor/numa_node
// attributes and the physfn uevent file, so this mirrors the teacher's
// cgroupfs key/value access pattern in read-only form.

// readHexAttr reads a sysfs attribute file containing a "0x..." hex value
// (as exposed for "device" and "vendor" under /sys/bus/pci/devices/<bdf>).
func readHexAttr(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex attr %s: %w", path, err)
	}
	return v, nil
}

// readIntAttr reads a sysfs attribute file containing a plain decimal
// integer (as exposed for "numa_node").
func readIntAttr(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse int attr %s: %w", path, err)
	}
	return v, nil
}

// readPCISlotName scans a physfn/uevent file line-wise for the
// "PCI_SLOT_NAME=" line, returning its BDF value.
func readPCISlotName(path string) (BDF, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BDF{}, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if name, ok := strings.CutPrefix(line, "PCI_SLOT_NAME="); ok {
			return ParseBDF(strings.TrimSpace(name))
		}
	}
	return BDF{}, fmt.Errorf("no PCI_SLOT_NAME line in %s", path)
}

// openWithLinkCheck opens a file with O_NOFOLLOW and rejects hard-linked
// targets, mirroring open_file_with_link_check: a QAT group/device file
// is never expected to carry more than one hard link.
func openWithLinkCheck(path string, flags int) (*os.File, error) {
	fd, err := unix.Open(path, flags|unix.O_NOFOLLOW, 0)
	if err != nil {
		return nil, err
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if st.Nlink > 1 {
		unix.Close(fd)
		return nil, fmt.Errorf("%s: refusing hard-linked file (nlink=%d)", path, st.Nlink)
	}
	return os.NewFile(uintptr(fd), path), nil
}

// openDirWithLinkCheck opens a directory with O_NOFOLLOW|O_DIRECTORY.
func openDirWithLinkCheck(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}
